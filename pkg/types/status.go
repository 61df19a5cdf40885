package types

import (
	"encoding/json"
	"time"

	"github.com/dispcal/dispcal/pkg/calibration"
)

// DeviceInfo describes the calibration device the daemon drives.
// This struct is shared between the daemon and client packages.
type DeviceInfo struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Port        string `json:"port,omitempty"`
	Open        bool   `json:"open"`
}

// ScheduleStatus is the state of the drift-check schedule.
type ScheduleStatus struct {
	Cron    string    `json:"cron,omitempty"`
	NextRun time.Time `json:"nextRun,omitempty"`
	Running bool      `json:"running"`
}

// Status is the daemon overview returned by GET /status.
type Status struct {
	Version      string                   `json:"version"`
	Device       DeviceInfo               `json:"device"`
	Curve        calibration.Curve        `json:"curve"`
	DataPath     string                   `json:"dataPath"`
	Schedule     ScheduleStatus           `json:"schedule"`
	Measurements int                      `json:"measurements"`
	Latest       *calibration.Measurement `json:"latest,omitempty"`
}

// WireEvent is one daemon event as sent over the websocket stream.
type WireEvent struct {
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}
