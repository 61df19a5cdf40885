package calibration

import (
	"context"
	"fmt"
	"math"
)

// Summary aggregates repeated readings of the same stimulus.
type Summary struct {
	Count           int           `json:"count"`
	Luminance       float64       `json:"luminance"`
	LuminanceStdDev float64       `json:"luminanceStdDev"`
	ChromaX         float64       `json:"x"`
	ChromaY         float64       `json:"y"`
	Measurements    []Measurement `json:"measurements"`
}

// MeasureN measures n times and summarizes the readings. The first error
// aborts. Readings a variant does not produce are not counted.
func MeasureN(ctx context.Context, c Calibration, n int) (*Summary, error) {
	if n <= 0 {
		return nil, fmt.Errorf("measurement count must be > 0, got %d", n)
	}

	var lum, cx, cy runningStat
	s := &Summary{}
	for i := 0; i < n; i++ {
		m, err := c.Measure(ctx)
		if err != nil {
			return nil, fmt.Errorf("measurement %d of %d: %w", i+1, n, err)
		}
		if m == nil {
			continue
		}
		lum.update(m.Luminance)
		cx.update(m.ChromaX)
		cy.update(m.ChromaY)
		s.Measurements = append(s.Measurements, *m)
	}

	s.Count = len(s.Measurements)
	s.Luminance = lum.mean
	s.LuminanceStdDev = lum.stdDev()
	s.ChromaX = cx.mean
	s.ChromaY = cy.mean
	return s, nil
}

// runningStat is Welford's running mean and variance.
type runningStat struct {
	n    int
	mean float64
	m2   float64
}

func (r *runningStat) update(x float64) {
	r.n++
	delta := x - r.mean
	r.mean += delta / float64(r.n)
	r.m2 += delta * (x - r.mean)
}

// stdDev is the sample standard deviation.
func (r *runningStat) stdDev() float64 {
	if r.n < 2 {
		return 0
	}
	return math.Sqrt(r.m2 / float64(r.n-1))
}
