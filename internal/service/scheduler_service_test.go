package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}, 16), release: make(chan struct{})}
}

func (r *blockingRunner) RunOnce(ctx context.Context, now time.Time) (ProcessingRun, error) {
	n := r.calls.Add(1)
	r.started <- struct{}{}
	<-r.release
	return ProcessingRun{ID: string(rune('a' + n - 1)), Status: RunCompleted, StartedAt: now, FinishedAt: now}, nil
}

type runnerFunc func(ctx context.Context, now time.Time) (ProcessingRun, error)

func (f runnerFunc) RunOnce(ctx context.Context, now time.Time) (ProcessingRun, error) {
	return f(ctx, now)
}

func newTestScheduler(r Runner, opts SchedulerOptions) *SchedulerService {
	if opts.Interval == 0 {
		opts.Interval = time.Hour
	}
	return NewSchedulerService(r, opts, zerolog.Nop())
}

func waitStarted(t *testing.T, r *blockingRunner) {
	t.Helper()
	select {
	case <-r.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("run did not start")
	}
}

func TestTriggerNowSkipsOverlap(t *testing.T) {
	r := newBlockingRunner()
	s := newTestScheduler(r, SchedulerOptions{})

	first := make(chan error, 1)
	go func() {
		_, err := s.TriggerNow(context.Background())
		first <- err
	}()
	waitStarted(t, r)
	if !s.InProgress() {
		t.Fatalf("expected a run in progress")
	}

	run, err := s.TriggerNow(context.Background())
	if !errors.Is(err, ErrOverlapSkipped) {
		t.Fatalf("expected overlap skip, got %v", err)
	}
	if run.Status != RunSkippedOverlap || run.Trigger != TriggerManual {
		t.Fatalf("unexpected skipped run: %+v", run)
	}

	close(r.release)
	if err := <-first; err != nil {
		t.Fatalf("first run: %v", err)
	}
	if got := r.calls.Load(); got != 1 {
		t.Fatalf("expected exactly one run, got %d", got)
	}
	if s.InProgress() {
		t.Fatalf("gate not released")
	}

	hist := s.History()
	if len(hist) != 2 || hist[0].Status != RunSkippedOverlap || hist[1].Status != RunCompleted {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestStopWaitsForRunInProgress(t *testing.T) {
	r := newBlockingRunner()
	s := newTestScheduler(r, SchedulerOptions{})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	go func() { _, _ = s.TriggerNow(context.Background()) }()
	waitStarted(t, r)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop(context.Background()) }()
	select {
	case err := <-stopped:
		t.Fatalf("stop returned while a run was in progress: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(r.release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("stop did not return after the run finished")
	}
	if s.Running() {
		t.Fatalf("scheduler still running")
	}
}

func TestStopHonorsContext(t *testing.T) {
	r := newBlockingRunner()
	defer close(r.release)
	s := newTestScheduler(r, SchedulerOptions{})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	go func() { _, _ = s.TriggerNow(context.Background()) }()
	waitStarted(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTimerFiresRuns(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(runnerFunc(func(ctx context.Context, now time.Time) (ProcessingRun, error) {
		calls.Add(1)
		return ProcessingRun{Status: RunCompleted}, nil
	}), SchedulerOptions{Interval: time.Second})

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if calls.Load() == 0 {
		t.Fatalf("timer never fired")
	}
	hist := s.History()
	if len(hist) == 0 || hist[0].Trigger != TriggerTimer {
		t.Fatalf("expected timer runs in history, got %+v", hist)
	}
}

func TestSetIntervalAndState(t *testing.T) {
	s := newTestScheduler(runnerFunc(func(ctx context.Context, now time.Time) (ProcessingRun, error) {
		return ProcessingRun{Status: RunCompleted}, nil
	}), SchedulerOptions{Interval: time.Minute})

	if err := s.SetInterval(500 * time.Millisecond); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected sub-second interval to be rejected, got %v", err)
	}
	st := s.State()
	if st.Running || st.NextRun != nil || st.LastRun != nil {
		t.Fatalf("unexpected idle state: %+v", st)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop(context.Background())
	if err := s.SetInterval(10 * time.Minute); err != nil {
		t.Fatalf("set interval: %v", err)
	}
	st = s.State()
	if !st.Running || st.Interval != "10m0s" {
		t.Fatalf("unexpected state after interval change: %+v", st)
	}
	if st.NextRun == nil || st.NextRun.Before(time.Now().Add(9*time.Minute)) {
		t.Fatalf("next run should follow the new interval, got %v", st.NextRun)
	}
}

func TestHistoryIsBounded(t *testing.T) {
	var n atomic.Int32
	s := newTestScheduler(runnerFunc(func(ctx context.Context, now time.Time) (ProcessingRun, error) {
		return ProcessingRun{ID: string(rune('a' + n.Add(1) - 1)), Status: RunCompleted}, nil
	}), SchedulerOptions{HistorySize: 2})

	for i := 0; i < 3; i++ {
		if _, err := s.TriggerNow(context.Background()); err != nil {
			t.Fatalf("trigger %d: %v", i, err)
		}
	}
	hist := s.History()
	if len(hist) != 2 || hist[0].ID != "b" || hist[1].ID != "c" {
		t.Fatalf("unexpected history: %+v", hist)
	}
	if st := s.State(); st.LastRun == nil || st.LastRun.ID != "c" {
		t.Fatalf("last run not reported: %+v", st.LastRun)
	}
}

func TestPanickingRunReleasesGate(t *testing.T) {
	var calls atomic.Int32
	s := newTestScheduler(runnerFunc(func(ctx context.Context, now time.Time) (ProcessingRun, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return ProcessingRun{Status: RunCompleted}, nil
	}), SchedulerOptions{})

	if _, err := s.TriggerNow(context.Background()); err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	if _, err := s.TriggerNow(context.Background()); err != nil {
		t.Fatalf("gate stuck after panic: %v", err)
	}
}

func TestManualRunSurvivesCallerCancel(t *testing.T) {
	var sawCancel atomic.Bool
	s := newTestScheduler(runnerFunc(func(ctx context.Context, now time.Time) (ProcessingRun, error) {
		sawCancel.Store(ctx.Err() != nil)
		return ProcessingRun{Status: RunCompleted}, nil
	}), SchedulerOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.TriggerNow(ctx); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if sawCancel.Load() {
		t.Fatalf("run context should not inherit the caller's cancellation")
	}
}
