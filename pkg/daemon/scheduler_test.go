package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopTask(context.Context) error { return nil }

func TestCronParse(t *testing.T) {
	schedule, err := cronParser.Parse("@every 10m")
	require.NoError(t, err)

	now := time.Now()
	next1 := schedule.Next(now)
	next2 := schedule.Next(next1)
	assert.True(t, next2.After(next1), "next1=%v next2=%v", next1, next2)

	_, err = cronParser.Parse("not a cron")
	assert.Error(t, err)
}

func TestNextRuns(t *testing.T) {
	from := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	runs, err := NextRuns("0 12 * * *", from, 3)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 3, 12, 0, 0, 0, time.UTC),
	}, runs)
}

func TestSchedulerScheduleStatus(t *testing.T) {
	s := NewScheduler(noopTask, nil, nil, nil)
	require.NoError(t, s.Schedule("@every 1m"))

	next, running := s.Status()
	assert.False(t, running)
	assert.False(t, next.IsZero())
	assert.Equal(t, "@every 1m", s.Expr())

	s.Unschedule()
	next, _ = s.Status()
	assert.True(t, next.IsZero())
	assert.Empty(t, s.Expr())
}

func TestSchedulerSkip(t *testing.T) {
	s := NewScheduler(noopTask, nil, nil, nil)
	assert.Error(t, s.Skip())
	require.NoError(t, s.Schedule("@every 10m"))

	orig, _ := s.Status()
	require.False(t, orig.IsZero())

	s.Start()
	defer s.Stop()

	require.NoError(t, s.Skip())
	skipped, _ := s.Status()
	assert.True(t, skipped.After(orig), "expected skip to move schedule forward, got %v <= %v", skipped, orig)
}

func TestSchedulerPostpone(t *testing.T) {
	s := NewScheduler(noopTask, nil, nil, nil)
	require.NoError(t, s.Schedule("@every 10m"))
	assert.Error(t, s.Postpone(time.Minute), "a stopped scheduler cannot postpone")

	s.Start()
	defer s.Stop()

	orig, _ := s.Status()
	assert.Error(t, s.Postpone(0))
	assert.Error(t, s.Postpone(time.Hour), "cannot postpone past the following run")

	require.NoError(t, s.Postpone(2*time.Minute))
	next, _ := s.Status()
	assert.Equal(t, orig.Add(2*time.Minute).Truncate(time.Second), next)
}

func TestSchedulerRunCycle(t *testing.T) {
	notifyCh := make(chan time.Time, 1)
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var preChecks int32

	task := func(context.Context) error {
		taskCh <- struct{}{}
		return nil
	}
	preCheck := func(context.Context) error {
		atomic.AddInt32(&preChecks, 1)
		return nil
	}

	s := NewScheduler(task, preCheck, func(at time.Time) { notifyCh <- at }, func(err error) { errCh <- err })
	require.NoError(t, s.Schedule("@every 1h"))

	forced := time.Now().Add(50 * time.Millisecond)
	s.mu.Lock()
	s.nextRun = forced
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case at := <-notifyCh:
		assert.Equal(t, forced, at)
	case <-time.After(time.Second):
		t.Fatal("did not receive before-run notification in time")
	}

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not execute in time")
	}

	assert.NotZero(t, atomic.LoadInt32(&preChecks))

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}

	next, _ := s.Status()
	assert.True(t, next.After(time.Now()), "next run must move past the one just taken")
}

func TestSchedulerPreCheckFailure(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	errCh := make(chan error, 2)
	boom := errors.New("boom")

	task := func(context.Context) error {
		taskCh <- struct{}{}
		return nil
	}
	preCheck := func(context.Context) error { return boom }

	s := NewScheduler(task, preCheck, nil, func(err error) { errCh <- err })
	require.NoError(t, s.Schedule("@every 1h"))

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("expected error callback from failed precheck")
	}

	select {
	case <-taskCh:
		t.Fatal("task should not execute when precheck fails")
	default:
	}
}

func TestSchedulerRestartAfterStop(t *testing.T) {
	taskCh := make(chan struct{}, 1)
	s := NewScheduler(func(context.Context) error {
		taskCh <- struct{}{}
		return nil
	}, nil, nil, nil)
	require.NoError(t, s.Schedule("@every 1h"))

	s.Start()
	s.Stop()
	_, running := s.Status()
	require.False(t, running)

	s.mu.Lock()
	s.nextRun = time.Now().Add(50 * time.Millisecond)
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-taskCh:
	case <-time.After(2 * time.Second):
		t.Fatal("restarted scheduler did not run the task")
	}
}

func TestSchedulerStopCancelsTask(t *testing.T) {
	started := make(chan struct{})
	canceled := make(chan struct{})
	s := NewScheduler(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}, nil, nil, nil)
	require.NoError(t, s.Schedule("@every 1h"))

	s.mu.Lock()
	s.nextRun = time.Now().Add(20 * time.Millisecond)
	s.mu.Unlock()
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not start")
	}
	s.Stop()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("task context was not canceled on stop")
	}
}
