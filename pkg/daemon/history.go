package daemon

import (
	"sync"
	"time"

	"github.com/dispcal/dispcal/pkg/calibration"
)

// MeasurementHistory records the last N measurements the daemon took.
type MeasurementHistory struct {
	MaxRecordCount int
	records        []calibration.Measurement
	mu             *sync.Mutex
}

// NewMeasurementHistory returns a new MeasurementHistory.
func NewMeasurementHistory(maxRecordCount int) *MeasurementHistory {
	return &MeasurementHistory{
		MaxRecordCount: maxRecordCount,
		records:        make([]calibration.Measurement, 0),
		mu:             &sync.Mutex{},
	}
}

// Add appends a measurement, dropping the oldest when full.
func (r *MeasurementHistory) Add(m calibration.Measurement) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	m.TakenAt = m.TakenAt.Round(0)

	r.records = append(r.records, m)
	r.trimLocked()
}

// SetMaxRecordCount changes the capacity, dropping the oldest records if needed.
func (r *MeasurementHistory) SetMaxRecordCount(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.MaxRecordCount = n
	r.trimLocked()
}

func (r *MeasurementHistory) trimLocked() {
	if r.MaxRecordCount <= 0 {
		return
	}
	if over := len(r.records) - r.MaxRecordCount; over > 0 {
		r.records = append([]calibration.Measurement(nil), r.records[over:]...)
	}
}

// Clear removes all records.
func (r *MeasurementHistory) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make([]calibration.Measurement, 0)
}

// Len is the number of records held.
func (r *MeasurementHistory) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.records)
}

// Records returns a copy of all records, oldest first.
func (r *MeasurementHistory) Records() []calibration.Measurement {
	return r.Last(0)
}

// Last returns a copy of the newest n records, oldest first. n <= 0 means all.
func (r *MeasurementHistory) Last(n int) []calibration.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := 0
	if n > 0 && n < len(r.records) {
		start = len(r.records) - n
	}
	out := make([]calibration.Measurement, len(r.records)-start)
	copy(out, r.records[start:])
	return out
}

// Since returns the records taken within the last duration, oldest first.
func (r *MeasurementHistory) Since(last time.Duration) []calibration.Measurement {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := len(r.records)
	for i > 0 && time.Since(r.records[i-1].TakenAt) <= last {
		i--
	}
	out := make([]calibration.Measurement, len(r.records)-i)
	copy(out, r.records[i:])
	return out
}

// Latest returns the newest record.
func (r *MeasurementHistory) Latest() (calibration.Measurement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.records) == 0 {
		return calibration.Measurement{}, false
	}
	return r.records[len(r.records)-1], true
}
