package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/config"
	"github.com/dispcal/dispcal/pkg/events"
	"github.com/dispcal/dispcal/pkg/transport"
	"github.com/dispcal/dispcal/pkg/types"
)

// transportHolder is implemented by calibrations that talk to an instrument.
type transportHolder interface {
	Transport() transport.Transport
}

type historyLimiter interface {
	SetHistoryLimit(n int)
}

// deviceKey identifies the settings a calibration is opened with. A config
// reload only reopens the device when it changes.
func deviceKey(c config.Config) string {
	return fmt.Sprintf("%s|%s|%s|%+v|%s", c.Device(), c.Description(), c.Port(), c.SerialMode(), c.ReadTimeout())
}

// openCalibration builds the configured calibration. An instrument that
// cannot be opened yet is not an error: measurements report
// ErrDeviceNotReady until it shows up.
func openCalibration(c config.Config) (calibration.Calibration, error) {
	var t transport.Transport
	if calibration.NeedsTransport(c.Device()) {
		lt := transport.New(c.Port(), transport.Options{
			Mode:        c.SerialMode(),
			ReadTimeout: c.ReadTimeout(),
		})
		if err := lt.Open(); err != nil {
			logrus.WithError(err).WithField("port", c.Port()).Warn("instrument not available, measurements will fail until it is connected")
		}
		t = lt
	}

	next, err := calibration.New(c.Device(), c.Description(), t)
	if err != nil {
		if t != nil {
			_ = t.Close()
		}
		return nil, err
	}
	if h, ok := next.(historyLimiter); ok {
		h.SetHistoryLimit(c.HistorySize())
	}
	return next, nil
}

// currentCalibration returns the calibration the daemon drives.
func currentCalibration() calibration.Calibration {
	calMu.RLock()
	defer calMu.RUnlock()
	return cal
}

// setCalibration replaces the driven calibration, carrying the curve over,
// and closes the previous one.
func setCalibration(next calibration.Calibration) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	calMu.Lock()
	prev := cal
	if prev != nil {
		if err := next.SetCurve(prev.Curve()); err != nil {
			logrus.WithError(err).Warn("failed to carry the calibration curve over")
		}
	}
	cal = next
	calMu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close previous calibration")
		}
	}
}

// openDevice builds a calibration from config. Tests replace it.
var openDevice = openCalibration

// reloadDevice reopens the device if the config changed how it is reached.
// SIGHUP and the config watcher both call it.
func reloadDevice() error {
	reloadMu.Lock()
	defer reloadMu.Unlock()

	key := deviceKey(conf)
	if key == openedKey {
		return nil
	}

	next, err := openDevice(conf)
	if err != nil {
		return err
	}
	setCalibration(next)
	openedKey = key
	logrus.WithFields(logrus.Fields{
		"device": conf.Device(),
		"port":   conf.Port(),
	}).Info("calibration device reopened")
	return nil
}

// ensureOpen retries opening a transport that was not available earlier.
// Callers hold deviceMu.
func ensureOpen(c calibration.Calibration) {
	th, ok := c.(transportHolder)
	if !ok {
		return
	}
	t := th.Transport()
	if t == nil || t.IsOpen() {
		return
	}
	if err := t.Open(); err != nil {
		logrus.WithError(err).Debug("instrument still not available")
	}
}

func deviceInfo() types.DeviceInfo {
	c := currentCalibration()
	info := types.DeviceInfo{
		Kind:        conf.Device(),
		Description: c.Description(),
		Open:        true,
	}
	if th, ok := c.(transportHolder); ok {
		info.Port = conf.Port()
		info.Open = th.Transport() != nil && th.Transport().IsOpen()
	}
	return info
}

// measure takes count readings, one device exchange at a time, and records
// them in the history.
func measure(ctx context.Context, count int, scheduled bool) (*calibration.Summary, error) {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	c := currentCalibration()
	ensureOpen(c)

	s, err := calibration.MeasureN(ctx, c, count)
	if err != nil {
		sseHub.Publish(events.MeasurementFailed, events.MeasurementEvent{
			Error:     err.Error(),
			Scheduled: scheduled,
			Ts:        time.Now().Unix(),
		})
		return nil, err
	}

	for _, m := range s.Measurements {
		history.Add(m)
		sseHub.Publish(events.MeasurementTaken, events.MeasurementEvent{
			Luminance: m.Luminance,
			X:         m.ChromaX,
			Y:         m.ChromaY,
			Raw:       m.Raw,
			Scheduled: scheduled,
			Ts:        m.TakenAt.Unix(),
		})
	}
	return s, nil
}

// deviceReady fails when the configured instrument cannot be reached.
func deviceReady(_ context.Context) error {
	deviceMu.Lock()
	defer deviceMu.Unlock()

	c := currentCalibration()
	ensureOpen(c)
	if th, ok := c.(transportHolder); ok {
		if t := th.Transport(); t == nil || !t.IsOpen() {
			return calibration.ErrDeviceNotReady
		}
	}
	return nil
}

// statusFor maps calibration and transport errors to HTTP status codes.
func statusFor(err error) int {
	var ie *calibration.InstrumentError
	switch {
	case errors.Is(err, calibration.ErrDeviceNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, calibration.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ie), errors.Is(err, calibration.ErrMalformedResponse):
		return http.StatusBadGateway
	case errors.Is(err, calibration.ErrInvalidCurve):
		return http.StatusBadRequest
	case errors.Is(err, calibration.ErrFileFormat):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
