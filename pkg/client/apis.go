package client

import (
	"net/http"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/config"
	"github.com/dispcal/dispcal/pkg/types"
)

func (c *Client) GetVersion() (string, error) {
	v, err := getJSON[string](c, http.MethodGet, "/version", nil)
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return v, nil
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	conf, err := getJSON[config.RawFileConfig](c, http.MethodGet, "/config", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}
	return &conf, nil
}

func (c *Client) GetStatus() (*types.Status, error) {
	st, err := getJSON[types.Status](c, http.MethodGet, "/status", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get status")
	}
	return &st, nil
}

func (c *Client) GetDevice() (*types.DeviceInfo, error) {
	info, err := getJSON[types.DeviceInfo](c, http.MethodGet, "/device", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get device info")
	}
	return &info, nil
}

// Measure asks the daemon to take count readings.
func (c *Client) Measure(count int) (*calibration.Summary, error) {
	s, err := getJSON[calibration.Summary](c, http.MethodPost, "/measure", count)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to measure")
	}
	return &s, nil
}

// GetMeasurements returns the newest last readings from the daemon history;
// last <= 0 returns all of them.
func (c *Client) GetMeasurements(last int) ([]calibration.Measurement, error) {
	path := "/measurements"
	if last > 0 {
		path += "?last=" + strconv.Itoa(last)
	}
	ms, err := getJSON[[]calibration.Measurement](c, http.MethodGet, path, nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get measurements")
	}
	return ms, nil
}

func (c *Client) ClearMeasurements() error {
	if _, err := c.Send(http.MethodDelete, "/measurements", ""); err != nil {
		return pkgerrors.Wrapf(err, "failed to clear measurements")
	}
	return nil
}

func (c *Client) GetCalibration() (*calibration.Record, error) {
	r, err := getJSON[calibration.Record](c, http.MethodGet, "/calibration", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration")
	}
	return &r, nil
}

func (c *Client) SetCurve(curve calibration.Curve) (*calibration.Curve, error) {
	got, err := getJSON[calibration.Curve](c, http.MethodPut, "/calibration/curve", curve)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set curve")
	}
	return &got, nil
}

// Save stores the calibration at path on the daemon host. An empty path
// selects the configured data path. The path written is returned.
func (c *Client) Save(path string) (string, error) {
	saved, err := getJSON[string](c, http.MethodPost, "/calibration/save", pathPayload(path))
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to save calibration")
	}
	return saved, nil
}

// Load restores the calibration from path on the daemon host. An empty path
// selects the configured data path.
func (c *Client) Load(path string) (*calibration.Record, error) {
	r, err := getJSON[calibration.Record](c, http.MethodPost, "/calibration/load", pathPayload(path))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to load calibration")
	}
	return &r, nil
}

func (c *Client) Apply(value float64) (float64, error) {
	v, err := getJSON[float64](c, http.MethodPost, "/apply", value)
	if err != nil {
		return 0, pkgerrors.Wrapf(err, "failed to apply calibration")
	}
	return v, nil
}

func (c *Client) GetGammaRamp(size int) ([]float64, error) {
	ramp, err := getJSON[[]float64](c, http.MethodGet, "/gamma-ramp?size="+strconv.Itoa(size), nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get gamma ramp")
	}
	return ramp, nil
}

func (c *Client) GetSchedule() (*types.ScheduleStatus, error) {
	st, err := getJSON[types.ScheduleStatus](c, http.MethodGet, "/schedule", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get schedule")
	}
	return &st, nil
}

// Schedule sets the drift-check cron expression and returns the next runs.
// An empty expression disables drift checks.
func (c *Client) Schedule(cronExpr string) ([]time.Time, error) {
	runs, err := getJSON[[]time.Time](c, http.MethodPut, "/schedule", cronExpr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set schedule")
	}
	return runs, nil
}

func (c *Client) SkipSchedule() (*types.ScheduleStatus, error) {
	st, err := getJSON[types.ScheduleStatus](c, http.MethodPost, "/schedule/skip", nil)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip drift check")
	}
	return &st, nil
}

func (c *Client) PostponeSchedule(d time.Duration) (*types.ScheduleStatus, error) {
	st, err := getJSON[types.ScheduleStatus](c, http.MethodPost, "/schedule/postpone", d.String())
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to postpone drift check")
	}
	return &st, nil
}

// pathPayload sends no body for the default path.
func pathPayload(path string) any {
	if path == "" {
		return nil
	}
	return path
}
