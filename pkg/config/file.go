package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/transport"
	"github.com/dispcal/dispcal/pkg/utils/ptr"
)

var (
	defaultFileConfig = &RawFileConfig{
		Device:      ptr.To(calibration.KindMinolta),
		Description: ptr.To(""),
		Port:        ptr.To("/dev/ttyUSB0"),
		BaudRate:    ptr.To(transport.DefaultMode.BaudRate),
		DataBits:    ptr.To(transport.DefaultMode.DataBits),
		Parity:      ptr.To(transport.DefaultMode.Parity),
		StopBits:    ptr.To(transport.DefaultMode.StopBits),
		// A slow-mode CS-100A measurement takes a little over a second.
		ReadTimeoutMs:      ptr.To(int(transport.DefaultReadTimeout / time.Millisecond)),
		DataPath:           ptr.To("/var/lib/dispcal/calibration.yaml"),
		Cron:               ptr.To(""),
		HistorySize:        ptr.To(calibration.DefaultHistoryLimit),
		AllowNonRootAccess: ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the on-disk form. Unset fields take their defaults.
type RawFileConfig struct {
	Device             *string `json:"device,omitempty"`
	Description        *string `json:"description,omitempty"`
	Port               *string `json:"port,omitempty"`
	BaudRate           *int    `json:"baudRate,omitempty"`
	DataBits           *int    `json:"dataBits,omitempty"`
	Parity             *string `json:"parity,omitempty"`
	StopBits           *int    `json:"stopBits,omitempty"`
	ReadTimeoutMs      *int    `json:"readTimeoutMs,omitempty"`
	DataPath           *string `json:"dataPath,omitempty"`
	Cron               *string `json:"cron,omitempty"`
	HistorySize        *int    `json:"historySize,omitempty"`
	AllowNonRootAccess *bool   `json:"allowNonRootAccess,omitempty"`
}

func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	mode := c.SerialMode()
	rawConfig := &RawFileConfig{
		Device:             ptr.To(c.Device()),
		Description:        ptr.To(c.Description()),
		Port:               ptr.To(c.Port()),
		BaudRate:           ptr.To(mode.BaudRate),
		DataBits:           ptr.To(mode.DataBits),
		Parity:             ptr.To(mode.Parity),
		StopBits:           ptr.To(mode.StopBits),
		ReadTimeoutMs:      ptr.To(int(c.ReadTimeout() / time.Millisecond)),
		DataPath:           ptr.To(c.DataPath()),
		Cron:               ptr.To(c.Cron()),
		HistorySize:        ptr.To(c.HistorySize()),
		AllowNonRootAccess: ptr.To(c.AllowNonRootAccess()),
	}

	return rawConfig, nil
}

// valueOr returns the field picked from the loaded config, or its default.
func valueOr[T any](f *File, field func(*RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if v := field(f.c); v != nil {
		return *v
	}
	return *field(defaultFileConfig)
}

func (f *File) Device() string {
	return valueOr(f, func(c *RawFileConfig) *string { return c.Device })
}

func (f *File) Description() string {
	return valueOr(f, func(c *RawFileConfig) *string { return c.Description })
}

// Port is the instrument address. DISPCAL_PORT takes precedence over the file.
func (f *File) Port() string {
	if p := strings.TrimSpace(os.Getenv(PortEnv)); p != "" {
		return p
	}
	return valueOr(f, func(c *RawFileConfig) *string { return c.Port })
}

func (f *File) SerialMode() transport.SerialMode {
	return transport.SerialMode{
		BaudRate: valueOr(f, func(c *RawFileConfig) *int { return c.BaudRate }),
		DataBits: valueOr(f, func(c *RawFileConfig) *int { return c.DataBits }),
		Parity:   valueOr(f, func(c *RawFileConfig) *string { return c.Parity }),
		StopBits: valueOr(f, func(c *RawFileConfig) *int { return c.StopBits }),
	}
}

func (f *File) ReadTimeout() time.Duration {
	ms := valueOr(f, func(c *RawFileConfig) *int { return c.ReadTimeoutMs })
	if ms <= 0 {
		ms = *defaultFileConfig.ReadTimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

func (f *File) DataPath() string {
	return valueOr(f, func(c *RawFileConfig) *string { return c.DataPath })
}

func (f *File) Cron() string {
	return valueOr(f, func(c *RawFileConfig) *string { return c.Cron })
}

func (f *File) HistorySize() int {
	n := valueOr(f, func(c *RawFileConfig) *int { return c.HistorySize })
	if n <= 0 {
		n = *defaultFileConfig.HistorySize
	}
	return n
}

func (f *File) AllowNonRootAccess() bool {
	return valueOr(f, func(c *RawFileConfig) *bool { return c.AllowNonRootAccess })
}

func (f *File) SetDevice(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Device = &s
}

func (f *File) SetDescription(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Description = &s
}

func (f *File) SetPort(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Port = &s
}

func (f *File) SetDataPath(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DataPath = &s
}

func (f *File) SetCron(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Cron = &s
}

func (f *File) SetAllowNonRootAccess(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.c.AllowNonRootAccess = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

// Path is the file the config is loaded from.
func (f *File) Path() string {
	return f.filepath
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	mode := f.SerialMode()
	return logrus.Fields{
		"device":             f.Device(),
		"description":        f.Description(),
		"port":               f.Port(),
		"baudRate":           mode.BaudRate,
		"dataBits":           mode.DataBits,
		"parity":             mode.Parity,
		"stopBits":           mode.StopBits,
		"readTimeout":        f.ReadTimeout().String(),
		"dataPath":           f.DataPath(),
		"cron":               f.Cron(),
		"historySize":        f.HistorySize(),
		"allowNonRootAccess": f.AllowNonRootAccess(),
	}
}
