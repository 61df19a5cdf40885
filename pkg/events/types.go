package events

import "encoding/json"

// Event name constants
const (
	MeasurementTaken  = "measurement.taken"
	MeasurementFailed = "measurement.failed"
	CurveChanged      = "curve.changed"
	CalibrationSaved  = "calibration.saved"
	CalibrationLoaded = "calibration.loaded"
	ScheduleAction    = "schedule.action"
	ConfigReloaded    = "config.reloaded"
)

// Schedule actions carried by ScheduleActionEvent.
const (
	ActionSchedule         = "schedule"
	ActionScheduleDisable  = "disable"
	ActionScheduleSkip     = "skip"
	ActionSchedulePostpone = "postpone"
	ActionUpcoming         = "upcoming"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// MeasurementEvent is the payload for measurement.taken and measurement.failed.
type MeasurementEvent struct {
	Luminance float64 `json:"luminance,omitempty"`
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Raw       string  `json:"raw,omitempty"`
	Error     string  `json:"error,omitempty"`
	Scheduled bool    `json:"scheduled,omitempty"`
	Ts        int64   `json:"ts"`
}

// CurveChangedEvent is the payload for curve.changed.
type CurveChangedEvent struct {
	Kind string `json:"kind"`
	Ts   int64  `json:"ts"`
}

// FileEvent is the payload for calibration.saved and calibration.loaded.
type FileEvent struct {
	Path string `json:"path"`
	Ts   int64  `json:"ts"`
}

// ScheduleActionEvent is the typed payload for schedule.action.
type ScheduleActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.MeasurementEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.Luminance)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
