package calibration

import (
	"errors"
	"fmt"

	"github.com/dispcal/dispcal/pkg/transport"
)

var (
	// ErrFileFormat is returned by Load when the file is absent or is not a
	// calibration record.
	ErrFileFormat = errors.New("invalid calibration file")

	// ErrIO is returned when the calibration file cannot be read or written.
	ErrIO = errors.New("calibration storage failure")

	// ErrInvalidCurve is returned for curves that cannot be applied.
	ErrInvalidCurve = errors.New("invalid calibration curve")

	// ErrMalformedResponse is returned when the instrument reply cannot be parsed.
	ErrMalformedResponse = errors.New("malformed instrument response")

	// ErrDeviceNotReady and ErrTimeout are the transport errors Measure surfaces.
	ErrDeviceNotReady = transport.ErrDeviceNotReady
	ErrTimeout        = transport.ErrTimeout
)

var instrumentErrorMessages = map[string]string{
	"ER00": "command error",
	"ER10": "measurement over range",
	"ER11": "memory value error",
	"ER19": "display range error",
	"ER20": "EEPROM error",
	"ER30": "battery exhausted",
}

// InstrumentError is an error code reported by the instrument itself.
type InstrumentError struct {
	Code string
	Raw  string
}

func (e *InstrumentError) Error() string {
	if msg, ok := instrumentErrorMessages[e.Code]; ok {
		return fmt.Sprintf("instrument error %s: %s", e.Code, msg)
	}
	return fmt.Sprintf("instrument error %s", e.Code)
}
