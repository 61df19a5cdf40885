package calibration

import (
	"fmt"
	"sort"

	"github.com/dispcal/dispcal/pkg/transport"
)

// Factory builds a calibration variant. An empty description selects the
// variant's default.
type Factory func(description string, t transport.Transport) (Calibration, error)

type variant struct {
	factory        Factory
	needsTransport bool
}

var variants = map[string]variant{
	KindNone: {
		factory: func(description string, _ transport.Transport) (Calibration, error) {
			return NewBase(description), nil
		},
	},
	KindMinolta: {
		needsTransport: true,
		factory: func(description string, t transport.Transport) (Calibration, error) {
			var opts []Option
			if description != "" {
				opts = append(opts, WithDescription(description))
			}
			return NewMinolta(t, opts...), nil
		},
	},
}

// New builds the calibration variant registered as kind.
func New(kind, description string, t transport.Transport) (Calibration, error) {
	v, ok := variants[kind]
	if !ok {
		return nil, fmt.Errorf("unknown calibration device %q (known: %v)", kind, Kinds())
	}
	if v.needsTransport && t == nil {
		return nil, fmt.Errorf("calibration device %q needs a transport", kind)
	}
	return v.factory(description, t)
}

// NeedsTransport reports whether kind talks to an instrument.
func NeedsTransport(kind string) bool {
	return variants[kind].needsTransport
}

// Kinds lists the registered variants.
func Kinds() []string {
	kinds := make([]string, 0, len(variants))
	for k := range variants {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
