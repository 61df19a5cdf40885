package calibration

import (
	"fmt"
	"math"
	"sort"
)

// CurveKind selects how a Curve maps values.
type CurveKind string

const (
	CurveIdentity CurveKind = "identity"
	CurveGamma    CurveKind = "gamma"
	CurveTable    CurveKind = "table"
)

// Point is one (input, output) pair of a lookup table.
type Point struct {
	X float64 `json:"x" yaml:"x" toml:"x"`
	Y float64 `json:"y" yaml:"y" toml:"y"`
}

// Curve is a transfer function on normalized values.
//
// Gamma curves map x to Min + (Max-Min) * x^Exponent. Table curves
// interpolate linearly between Points. Both clamp their input to [0, 1].
// The zero Curve is the identity.
type Curve struct {
	Kind     CurveKind `json:"kind" yaml:"kind" toml:"kind"`
	Min      float64   `json:"min,omitempty" yaml:"min,omitempty" toml:"min,omitempty"`
	Max      float64   `json:"max,omitempty" yaml:"max,omitempty" toml:"max,omitempty"`
	Exponent float64   `json:"exponent,omitempty" yaml:"exponent,omitempty" toml:"exponent,omitempty"`
	Points   []Point   `json:"points,omitempty" yaml:"points,omitempty" toml:"points,omitempty"`
}

// IdentityCurve returns the curve that leaves values unchanged.
func IdentityCurve() Curve {
	return Curve{Kind: CurveIdentity}
}

// GammaCurve returns min + (max-min) * x^exponent.
func GammaCurve(min, max, exponent float64) Curve {
	return Curve{Kind: CurveGamma, Min: min, Max: max, Exponent: exponent}
}

// TableCurve returns a piecewise-linear curve through points, sorted by X.
func TableCurve(points []Point) Curve {
	pts := make([]Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
	return Curve{Kind: CurveTable, Points: pts}
}

// IsIdentity reports whether the curve leaves values unchanged.
func (c Curve) IsIdentity() bool {
	return c.Kind == "" || c.Kind == CurveIdentity
}

// Validate checks that the curve can be applied.
func (c Curve) Validate() error {
	switch c.Kind {
	case "", CurveIdentity:
		return nil
	case CurveGamma:
		if !finite(c.Min, c.Max, c.Exponent) {
			return fmt.Errorf("%w: gamma parameters must be finite", ErrInvalidCurve)
		}
		if c.Exponent <= 0 {
			return fmt.Errorf("%w: exponent must be > 0, got %g", ErrInvalidCurve, c.Exponent)
		}
		if c.Min < 0 || c.Max > 1 || c.Min >= c.Max {
			return fmt.Errorf("%w: need 0 <= min < max <= 1, got min=%g max=%g", ErrInvalidCurve, c.Min, c.Max)
		}
		return nil
	case CurveTable:
		if len(c.Points) < 2 {
			return fmt.Errorf("%w: table needs at least 2 points, got %d", ErrInvalidCurve, len(c.Points))
		}
		for i, p := range c.Points {
			if !finite(p.X, p.Y) {
				return fmt.Errorf("%w: point %d is not finite", ErrInvalidCurve, i)
			}
			if p.X < 0 || p.X > 1 || p.Y < 0 || p.Y > 1 {
				return fmt.Errorf("%w: point %d (%g, %g) outside [0, 1]", ErrInvalidCurve, i, p.X, p.Y)
			}
			if i > 0 && p.X <= c.Points[i-1].X {
				return fmt.Errorf("%w: table inputs must be strictly increasing at point %d", ErrInvalidCurve, i)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidCurve, c.Kind)
	}
}

// Apply maps x through the curve. The curve must be valid.
func (c Curve) Apply(x float64) float64 {
	switch c.Kind {
	case CurveGamma:
		return c.Min + (c.Max-c.Min)*math.Pow(clamp01(x), c.Exponent)
	case CurveTable:
		x = clamp01(x)
		p1, p2 := findInterval(x, c.Points)
		return clamp01(p1.Y + (p2.Y-p1.Y)*(x-p1.X)/(p2.X-p1.X))
	default:
		return x
	}
}

// Ramp samples the curve at n evenly spaced inputs from 0 to 1, the form a
// display gamma table is loaded in.
func (c Curve) Ramp(n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{c.Apply(0)}
	}
	ramp := make([]float64, n)
	for i := range ramp {
		ramp[i] = c.Apply(float64(i) / float64(n-1))
	}
	return ramp
}

// findInterval returns the table segment containing x. Inputs outside the
// table use the first or last segment.
func findInterval(x float64, points []Point) (Point, Point) {
	if x <= points[0].X {
		return points[0], points[1]
	}
	for i := 1; i < len(points)-1; i++ {
		if x >= points[i].X && x < points[i+1].X {
			return points[i], points[i+1]
		}
	}
	return points[len(points)-2], points[len(points)-1]
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
