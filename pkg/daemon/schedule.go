package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dispcal/dispcal/pkg/events"
	"github.com/dispcal/dispcal/pkg/types"
)

// driftCheckTimeout bounds one scheduled measurement, including the wait
// for a measurement already in flight.
const driftCheckTimeout = time.Minute

// driftCheck takes one reading so luminance drift shows up in the history
// and the event stream.
func driftCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, driftCheckTimeout)
	defer cancel()

	s, err := measure(ctx, 1, true)
	if err != nil {
		return err
	}
	if s.Count == 0 {
		logrus.Debug("drift check skipped, the calibration has no instrument")
		return nil
	}
	m := s.Measurements[0]
	logrus.WithFields(logrus.Fields{
		"luminance": m.Luminance,
		"x":         m.ChromaX,
		"y":         m.ChromaY,
	}).Info("drift check measured")
	return nil
}

func announceDriftCheck(runAt time.Time) {
	sseHub.Publish(events.ScheduleAction, events.ScheduleActionEvent{
		Action:  events.ActionUpcoming,
		Message: fmt.Sprintf("Drift check at %s", runAt.Format("Jan _2 15:04")),
		Ts:      time.Now().Unix(),
	})
}

func reportDriftCheckError(err error) {
	logrus.WithError(err).Error("scheduled drift check failed")
	sseHub.Publish(events.MeasurementFailed, events.MeasurementEvent{
		Error:     err.Error(),
		Scheduled: true,
		Ts:        time.Now().Unix(),
	})
}

// schedule sets the cron expression for drift checks and returns the next
// run times. An empty expression disables them. persist writes the
// expression to the config file.
func schedule(cronExpr string, persist bool) ([]time.Time, error) {
	if cronExpr == "" {
		if scheduler.Expr() == "" && conf.Cron() == "" {
			// Already disabled
			return nil, nil
		}

		if persist {
			conf.SetCron("")
			if err := conf.Save(); err != nil {
				logrus.WithError(err).Error("failed to save config")
				return nil, fmt.Errorf("failed to save config: %w", err)
			}
		}
		scheduler.Unschedule()
		sseHub.Publish(events.ScheduleAction, events.ScheduleActionEvent{
			Action:  events.ActionScheduleDisable,
			Message: "Drift check schedule disabled",
			Ts:      time.Now().Unix(),
		})
		return nil, nil
	}

	nextRuns, err := NextRuns(cronExpr, time.Now(), 3)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}

	if persist {
		conf.SetCron(cronExpr)
		if err := conf.Save(); err != nil {
			logrus.WithError(err).Error("failed to save config")
			return nil, fmt.Errorf("failed to save config: %w", err)
		}
	}

	if err := scheduler.Schedule(cronExpr); err != nil {
		logrus.WithError(err).Error("failed to schedule drift check")
		return nil, err
	}
	scheduler.Start()

	sseHub.Publish(events.ScheduleAction, events.ScheduleActionEvent{
		Action:  events.ActionSchedule,
		Message: fmt.Sprintf("Drift check scheduled at %s", nextRuns[0].Format("Jan _2 15:04")),
		Ts:      time.Now().Unix(),
	})

	return nextRuns, nil
}

func postpone(duration time.Duration) error {
	if err := scheduler.Postpone(duration); err != nil {
		logrus.WithError(err).Error("failed to postpone drift check")
		return err
	}

	sseHub.Publish(events.ScheduleAction, events.ScheduleActionEvent{
		Action:  events.ActionSchedulePostpone,
		Message: fmt.Sprintf("Drift check postponed for %s", duration.String()),
		Ts:      time.Now().Unix(),
	})
	return nil
}

func skipNextSchedule() error {
	if err := scheduler.Skip(); err != nil {
		logrus.WithError(err).Error("failed to skip next drift check")
		return err
	}

	sseHub.Publish(events.ScheduleAction, events.ScheduleActionEvent{
		Action:  events.ActionScheduleSkip,
		Message: "Drift check skipped",
		Ts:      time.Now().Unix(),
	})
	return nil
}

func scheduleStatus() types.ScheduleStatus {
	next, running := scheduler.Status()
	st := types.ScheduleStatus{
		Cron:    scheduler.Expr(),
		Running: running,
	}
	if running {
		st.NextRun = next
	}
	return st
}
