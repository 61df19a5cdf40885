package calibration

import (
	"context"
	"sync"
)

// KindNone is the device name of a calibration without an instrument.
const KindNone = "none"

// DefaultHistoryLimit bounds the measurements kept in a record.
const DefaultHistoryLimit = 1000

// Calibration is a display calibration procedure. Callers can measure, load,
// save and apply without knowing which instrument backs it.
type Calibration interface {
	// Description is the human-readable label of the calibration.
	Description() string
	// Measure takes one reading. Variants without an instrument return (nil, nil).
	Measure(ctx context.Context) (*Measurement, error)
	// Load replaces the calibration state with the record stored at path.
	Load(path string) error
	// Save stores the calibration state at path.
	Save(path string) error
	// Apply maps a normalized value through the calibration curve.
	Apply(value float64) float64

	Curve() Curve
	SetCurve(c Curve) error
	// Record returns a copy of the current state.
	Record() Record
	// Close releases the instrument, if any.
	Close() error
}

// Base is a calibration without an instrument. Instrument variants embed it
// for state handling and persistence.
type Base struct {
	mu           sync.RWMutex
	record       Record
	// device is the kind of calibration this is. Loaded records take it over.
	device       string
	historyLimit int
}

var _ Calibration = (*Base)(nil)

// NewBase returns a calibration with the identity curve. The description is
// stored verbatim.
func NewBase(description string) *Base {
	return newBase(description, KindNone)
}

func newBase(description, device string) *Base {
	return &Base{
		record:       newRecord(description, device),
		device:       device,
		historyLimit: DefaultHistoryLimit,
	}
}

func (b *Base) Description() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record.Description
}

// Measure performs no measurement.
func (b *Base) Measure(_ context.Context) (*Measurement, error) {
	return nil, nil
}

func (b *Base) Load(path string) error {
	_, err := b.load(path)
	return err
}

// load replaces the state with the record at path and returns the device
// the record was saved by.
func (b *Base) load(path string) (string, error) {
	r, err := ReadRecord(path)
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record = *r
	b.record.Device = b.device
	b.trimHistoryLocked()
	return r.Device, nil
}

func (b *Base) Save(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := b.record.clone()
	r.UpdatedAt = timeNow()
	if err := WriteRecord(path, &r); err != nil {
		return err
	}
	b.record.UpdatedAt = r.UpdatedAt
	return nil
}

func (b *Base) Apply(value float64) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record.Curve.Apply(value)
}

func (b *Base) Curve() Curve {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record.clone().Curve
}

func (b *Base) SetCurve(c Curve) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Kind == "" {
		c.Kind = CurveIdentity
	}
	if c.Points != nil {
		c.Points = append([]Point(nil), c.Points...)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.record.Curve = c
	b.record.UpdatedAt = timeNow()
	return nil
}

func (b *Base) Record() Record {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.record.clone()
}

// SetHistoryLimit bounds the measurements kept in the record. n <= 0 means
// DefaultHistoryLimit.
func (b *Base) SetHistoryLimit(n int) {
	if n <= 0 {
		n = DefaultHistoryLimit
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyLimit = n
	b.trimHistoryLocked()
}

func (b *Base) Close() error {
	return nil
}

func (b *Base) addMeasurement(m Measurement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record.Measurements = append(b.record.Measurements, m)
	b.trimHistoryLocked()
}

func (b *Base) trimHistoryLocked() {
	if over := len(b.record.Measurements) - b.historyLimit; over > 0 {
		b.record.Measurements = append([]Measurement(nil), b.record.Measurements[over:]...)
	}
}
