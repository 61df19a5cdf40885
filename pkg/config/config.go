package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/transport"
)

// PortEnv overrides the configured instrument port when set.
const PortEnv = "DISPCAL_PORT"

type Config interface {
	Device() string
	Description() string
	Port() string
	SerialMode() transport.SerialMode
	ReadTimeout() time.Duration
	DataPath() string
	Cron() string
	HistorySize() int
	AllowNonRootAccess() bool

	SetDevice(string)
	SetDescription(string)
	SetPort(string)
	SetDataPath(string)
	SetCron(string)
	SetAllowNonRootAccess(bool)

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error

	LogrusFields() logrus.Fields
}
