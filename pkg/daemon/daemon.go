package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/calibration"
	"github.com/dispcal/dispcal/pkg/config"
	"github.com/dispcal/dispcal/pkg/events"
)

var (
	conf     config.Config
	confPath string

	// cal is the calibration the daemon drives. calMu guards the pointer;
	// deviceMu serializes instrument exchanges and device swaps.
	cal       calibration.Calibration
	calMu     = &sync.RWMutex{}
	deviceMu  = &sync.Mutex{}

	// reloadMu serializes device reloads and guards openedKey.
	reloadMu  = &sync.Mutex{}
	openedKey string

	history   = NewMeasurementHistory(calibration.DefaultHistoryLimit)
	scheduler = NewScheduler(driftCheck, deviceReady, announceDriftCheck, reportDriftCheckError)
	sseHub    = events.NewEventHub()
)

func setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/version", getVersion)
	router.GET("/config", getConfig)
	router.GET("/status", getStatus)
	router.GET("/device", getDevice)
	router.POST("/measure", postMeasure)
	router.GET("/measurements", getMeasurements)
	router.DELETE("/measurements", deleteMeasurements)
	router.GET("/calibration", getCalibration)
	router.PUT("/calibration/curve", putCurve)
	router.POST("/calibration/save", postSave)
	router.POST("/calibration/load", postLoad)
	router.POST("/apply", postApply)
	router.GET("/gamma-ramp", getGammaRamp)
	router.GET("/schedule", getSchedule)
	router.PUT("/schedule", putSchedule)
	router.POST("/schedule/skip", postSkip)
	router.POST("/schedule/postpone", postPostpone)
	router.GET("/events", getEvents)
	router.GET("/events/ws", getEventsWS)

	return router
}

// loadDataPath restores the calibration saved at the configured data path,
// if there is one.
func loadDataPath() {
	path := conf.DataPath()
	if _, err := os.Stat(path); err != nil {
		logrus.WithField("path", path).Info("no saved calibration, starting with the identity curve")
		return
	}
	if err := currentCalibration().Load(path); err != nil {
		logrus.WithError(err).WithField("path", path).Error("failed to load saved calibration")
		return
	}
	logrus.WithField("path", path).Info("calibration loaded")
}

// reloadConfig re-reads the config file and applies what changed.
func reloadConfig() {
	if err := conf.Load(); err != nil {
		logrus.Errorf("failed to reload config: %v", err)
		return
	}
	logrus.WithFields(conf.LogrusFields()).Infof("config reloaded")

	history.SetMaxRecordCount(conf.HistorySize())
	if err := reloadDevice(); err != nil {
		logrus.WithError(err).Error("failed to reopen calibration device")
	}
	if expr := conf.Cron(); expr != scheduler.Expr() {
		if _, err := schedule(expr, false); err != nil {
			logrus.WithError(err).Error("failed to apply schedule from config")
		}
	}
	sseHub.Publish(events.ConfigReloaded, events.FileEvent{Path: confPath, Ts: time.Now().Unix()})
}

func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	router := setupRoutes()

	fileConf, err := config.NewFile(configPath)
	if err != nil {
		logrus.Fatalf("failed to parse config during startup: %v", err)
	}
	conf = fileConf
	confPath = configPath
	logrus.WithFields(conf.LogrusFields()).Infof("config loaded")

	history.SetMaxRecordCount(conf.HistorySize())

	c, err := openCalibration(conf)
	if err != nil {
		logrus.Fatalf("failed to set up calibration device: %v", err)
	}
	setCalibration(c)
	openedKey = deviceKey(conf)
	loadDataPath()

	// Receive SIGHUP to reload config
	go func() {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP)
		for range sigc {
			reloadConfig()
		}
	}()

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if err := fileConf.Watch(watchCtx, reloadConfig); err != nil {
		logrus.WithError(err).Warn("config file changes will only be picked up on SIGHUP")
	}

	if expr := conf.Cron(); expr != "" {
		if err := scheduler.Schedule(expr); err != nil {
			logrus.WithError(err).Errorf("invalid drift-check schedule %q in config", expr)
		} else {
			scheduler.Start()
			next, _ := scheduler.Status()
			logrus.WithField("nextRun", next.Format(time.DateTime)).Info("drift check scheduled")
		}
	}

	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Remove a stale socket left by an unclean exit.
	if err := os.Remove(unixSocketPath); err != nil && !os.IsNotExist(err) {
		logrus.Fatal(err)
	}

	// Create the socket to listen on:
	l, err := net.Listen("unix", unixSocketPath)
	if err != nil {
		logrus.Fatal(err)
	}

	if conf.AllowNonRootAccess() || allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", unixSocketPath)
		err = os.Chmod(unixSocketPath, 0777)
		if err != nil {
			logrus.Fatal(err)
		}
	}

	// Serve HTTP on unix socket
	go func() {
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal(err)
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	// Wait for a SIGINT or SIGTERM:
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	logrus.Info("stopping scheduler")
	scheduler.Stop()

	logrus.Info("shutting down http server")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err = srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	cancel()

	logrus.Info("closing calibration device")
	deviceMu.Lock()
	if err := currentCalibration().Close(); err != nil {
		logrus.Errorf("failed to close calibration device: %v", err)
	}
	deviceMu.Unlock()

	logrus.Info("exiting")
	return nil
}
