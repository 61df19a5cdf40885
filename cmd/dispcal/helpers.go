package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/dispcal/dispcal/pkg/calibration"
)

// annotationLocal marks commands that do not need the daemon.
const annotationLocal = "dispcal/local"

var localCommand = map[string]string{annotationLocal: "true"}

func parseFloatArg(args []string, valueName string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("invalid number of arguments")
	}

	value, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", valueName, err)
	}

	return value, nil
}

// parsePoints parses "x:y" pairs, one per argument or comma separated.
func parsePoints(args []string) ([]calibration.Point, error) {
	var points []calibration.Point
	for _, arg := range args {
		for _, pair := range strings.Split(arg, ",") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			xs, ys, ok := strings.Cut(pair, ":")
			if !ok {
				return nil, fmt.Errorf("invalid point %q: expected x:y", pair)
			}
			x, err := strconv.ParseFloat(xs, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid point %q: %v", pair, err)
			}
			y, err := strconv.ParseFloat(ys, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid point %q: %v", pair, err)
			}
			points = append(points, calibration.Point{X: x, Y: y})
		}
	}
	if len(points) < 2 {
		return nil, fmt.Errorf("a table curve needs at least 2 points, got %d", len(points))
	}
	return points, nil
}

func describeCurve(c calibration.Curve) string {
	switch c.Kind {
	case calibration.CurveGamma:
		return fmt.Sprintf("gamma %g (output %g..%g)", c.Exponent, c.Min, c.Max)
	case calibration.CurveTable:
		parts := make([]string, 0, len(c.Points))
		for _, p := range c.Points {
			parts = append(parts, fmt.Sprintf("%g:%g", p.X, p.Y))
		}
		return "table " + strings.Join(parts, ",")
	default:
		return "identity"
	}
}

func formatMeasurement(m calibration.Measurement) string {
	return fmt.Sprintf("Y=%s cd/m²  x=%.4f  y=%.4f", bold("%.2f", m.Luminance), m.ChromaX, m.ChromaY)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func bool2Text(b bool) string {
	if b {
		return color.New(color.Bold, color.FgGreen).Sprint("✔")
	}
	return color.New(color.Bold, color.FgRed).Sprint("✘")
}

func bold(format string, a ...interface{}) string {
	return color.New(color.Bold).Sprintf(format, a...)
}
