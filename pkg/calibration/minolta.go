package calibration

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/transport"
)

const (
	// KindMinolta is the device name of the Minolta CS-100A calibration.
	KindMinolta = "minolta-cs100a"
	// MinoltaDescription is the default description of a Minolta calibration.
	MinoltaDescription = "Minolta CS-100A"

	measureCommand = "MES\r\n"
)

// Minolta is a calibration measured with a Minolta CS-100A luminance and
// color meter. It owns its transport from construction until Close.
type Minolta struct {
	*Base

	// exchange serializes command/response pairs on the transport.
	exchange  sync.Mutex
	transport transport.Transport
}

var _ Calibration = (*Minolta)(nil)

// Option configures a Minolta.
type Option func(*Minolta)

// WithDescription overrides the default description.
func WithDescription(description string) Option {
	return func(m *Minolta) {
		m.Base.record.Description = description
	}
}

// NewMinolta binds a calibration to the instrument behind t. The caller
// hands t over; Close releases it.
func NewMinolta(t transport.Transport, opts ...Option) *Minolta {
	m := &Minolta{
		Base:      newBase(MinoltaDescription, KindMinolta),
		transport: t,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Measure triggers a measurement and parses the reply. It writes MES before
// reading anything and waits for exactly one response line.
func (m *Minolta) Measure(ctx context.Context) (*Measurement, error) {
	m.exchange.Lock()
	defer m.exchange.Unlock()

	if m.transport == nil || !m.transport.IsOpen() {
		return nil, ErrDeviceNotReady
	}

	if err := m.transport.Write(ctx, measureCommand); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to send measure command")
	}

	line, err := m.transport.Read(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read measurement")
	}

	meas, err := ParseResponse(line)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"luminance": meas.Luminance,
		"x":         meas.ChromaX,
		"y":         meas.ChromaY,
		"raw":       meas.Raw,
	}).Debug("measurement taken")

	m.addMeasurement(*meas)
	return meas, nil
}

// Load restores a saved record. Records taken with another instrument are
// accepted, with a warning, and saved as Minolta records from then on.
func (m *Minolta) Load(path string) error {
	dev, err := m.Base.load(path)
	if err != nil {
		return err
	}
	if dev != KindMinolta {
		logrus.WithFields(logrus.Fields{
			"path":   path,
			"device": dev,
		}).Warn("calibration record was not taken with a Minolta CS-100A")
	}
	return nil
}

// Close releases the transport. Later measurements fail with ErrDeviceNotReady.
func (m *Minolta) Close() error {
	m.exchange.Lock()
	defer m.exchange.Unlock()

	if m.transport == nil {
		return nil
	}
	return m.transport.Close()
}

// Transport returns the transport the instrument is reached through.
func (m *Minolta) Transport() transport.Transport {
	return m.transport
}

// ParseResponse parses a CS-100A measurement reply of the form
// "OK00,<Y>,<x>,<y>". ERnn replies become an *InstrumentError.
func ParseResponse(line string) (*Measurement, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	status := strings.TrimSpace(fields[0])

	switch {
	case strings.HasPrefix(status, "ER"):
		return nil, &InstrumentError{Code: status, Raw: line}
	case strings.HasPrefix(status, "OK"):
	default:
		return nil, fmt.Errorf("%w: %q", ErrMalformedResponse, line)
	}

	if len(fields) != 4 {
		return nil, fmt.Errorf("%w: expected 4 fields, got %d in %q", ErrMalformedResponse, len(fields), line)
	}

	values := make([]float64, 3)
	for i, f := range fields[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %d of %q: %w", ErrMalformedResponse, i+1, line, err)
		}
		values[i] = v
	}

	return &Measurement{
		Luminance: values[0],
		ChromaX:   values[1],
		ChromaY:   values[2],
		Status:    status,
		Raw:       line,
		TakenAt:   timeNow(),
	}, nil
}
