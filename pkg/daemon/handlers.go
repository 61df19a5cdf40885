package daemon

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/config"
	"github.com/dispcal/dispcal/pkg/events"
	"github.com/dispcal/dispcal/pkg/types"
	"github.com/dispcal/dispcal/pkg/version"
)

const (
	defaultRampSize = 256
	maxRampSize     = 65536
	maxMeasureCount = 100
)

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(conf)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func getStatus(c *gin.Context) {
	st := types.Status{
		Version:      version.Version,
		Device:       deviceInfo(),
		Curve:        currentCalibration().Curve(),
		DataPath:     conf.DataPath(),
		Schedule:     scheduleStatus(),
		Measurements: history.Len(),
	}
	if m, ok := history.Latest(); ok {
		st.Latest = &m
	}
	c.IndentedJSON(http.StatusOK, st)
}

func getDevice(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, deviceInfo())
}

func postMeasure(c *gin.Context) {
	count := 1
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&count); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
	}
	if count < 1 || count > maxMeasureCount {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("count must be between 1 and %d, got %d", maxMeasureCount, count))
		return
	}

	s, err := measure(c.Request.Context(), count, false)
	if err != nil {
		logrus.WithError(err).Error("measure failed")
		abortWithError(c, statusFor(err), err)
		return
	}

	c.IndentedJSON(http.StatusOK, s)
}

func getMeasurements(c *gin.Context) {
	if since := c.Query("since"); since != "" {
		d, err := time.ParseDuration(since)
		if err != nil || d <= 0 {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid since duration %q", since))
			return
		}
		c.IndentedJSON(http.StatusOK, history.Since(d))
		return
	}

	last := 0
	if s := c.Query("last"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid last count %q", s))
			return
		}
		last = n
	}
	c.IndentedJSON(http.StatusOK, history.Last(last))
}

func deleteMeasurements(c *gin.Context) {
	history.Clear()
	logrus.Info("measurement history cleared")
	c.IndentedJSON(http.StatusOK, "ok")
}

func getCalibration(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, currentCalibration().Record())
}

func putCurve(c *gin.Context) {
	var curve calibration.Curve
	if err := c.ShouldBindJSON(&curve); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	cur := currentCalibration()
	if err := cur.SetCurve(curve); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}

	curve = cur.Curve()
	logrus.WithField("kind", curve.Kind).Info("calibration curve set")
	sseHub.Publish(events.CurveChanged, events.CurveChangedEvent{Kind: string(curve.Kind), Ts: time.Now().Unix()})

	c.IndentedJSON(http.StatusCreated, curve)
}

// bindPath reads an optional JSON string body, defaulting to the data path.
func bindPath(c *gin.Context) (string, bool) {
	path := ""
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&path); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return "", false
		}
	}
	if path == "" {
		path = conf.DataPath()
	}
	return path, true
}

func postSave(c *gin.Context) {
	path, ok := bindPath(c)
	if !ok {
		return
	}

	if err := currentCalibration().Save(path); err != nil {
		logrus.WithError(err).WithField("path", path).Error("save failed")
		abortWithError(c, statusFor(err), err)
		return
	}

	logrus.WithField("path", path).Info("calibration saved")
	sseHub.Publish(events.CalibrationSaved, events.FileEvent{Path: path, Ts: time.Now().Unix()})
	c.IndentedJSON(http.StatusCreated, path)
}

func postLoad(c *gin.Context) {
	path, ok := bindPath(c)
	if !ok {
		return
	}

	cur := currentCalibration()
	if err := cur.Load(path); err != nil {
		logrus.WithError(err).WithField("path", path).Error("load failed")
		abortWithError(c, statusFor(err), err)
		return
	}

	logrus.WithField("path", path).Info("calibration loaded")
	sseHub.Publish(events.CalibrationLoaded, events.FileEvent{Path: path, Ts: time.Now().Unix()})
	c.IndentedJSON(http.StatusCreated, cur.Record())
}

func postApply(c *gin.Context) {
	var v float64
	if err := c.ShouldBindJSON(&v); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusOK, currentCalibration().Apply(v))
}

func getGammaRamp(c *gin.Context) {
	size := defaultRampSize
	if s := c.Query("size"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 2 || n > maxRampSize {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("size must be between 2 and %d, got %q", maxRampSize, s))
			return
		}
		size = n
	}

	c.IndentedJSON(http.StatusOK, currentCalibration().Curve().Ramp(size))
}

func getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, scheduleStatus())
}

func putSchedule(c *gin.Context) {
	var expr string
	if err := c.ShouldBindJSON(&expr); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	nextRuns, err := schedule(expr, true)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if nextRuns == nil {
		nextRuns = []time.Time{}
	}
	c.IndentedJSON(http.StatusCreated, nextRuns)
}

func postSkip(c *gin.Context) {
	if err := skipNextSchedule(); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, scheduleStatus())
}

func postPostpone(c *gin.Context) {
	var s string
	if err := c.ShouldBindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	if err := postpone(d); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, scheduleStatus())
}
