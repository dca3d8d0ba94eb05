package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"planner-engine/internal/logging"
)

var (
	// ErrOverlapSkipped is returned when a run is requested while another one
	// is still in progress.
	ErrOverlapSkipped  = errors.New("run skipped: another run is in progress")
	ErrInvalidInterval = errors.New("interval must be at least 1s")
)

const (
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// Runner performs one processing pass.
type Runner interface {
	RunOnce(ctx context.Context, now time.Time) (ProcessingRun, error)
}

type SchedulerOptions struct {
	Interval    time.Duration
	Location    *time.Location
	RunTimeout  time.Duration
	HistorySize int
	Now         func() time.Time
}

// SchedulerState is a snapshot for status endpoints.
type SchedulerState struct {
	Running    bool            `json:"running"`
	InProgress bool            `json:"in_progress"`
	Interval   string          `json:"interval"`
	NextRun    *time.Time      `json:"next_run,omitempty"`
	LastRun    *ProcessingRun  `json:"last_run,omitempty"`
	History    []ProcessingRun `json:"history"`
}

// SchedulerService wraps cron and fires the runner at a fixed interval.
// Timer ticks and manual triggers share one gate, so at most one run is in
// progress at any time.
type SchedulerService struct {
	runner Runner
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	cron     *cron.Cron
	loc      *time.Location
	interval time.Duration
	timeout  time.Duration

	// gate holds a token while a run is in progress.
	gate   chan struct{}
	notify func(ProcessingRun)

	hmu         sync.Mutex
	history     []ProcessingRun
	historySize int
}

func NewSchedulerService(runner Runner, opts SchedulerOptions, log zerolog.Logger) *SchedulerService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 50
	}
	return &SchedulerService{
		runner:      runner,
		log:         logging.Component(log, "scheduler"),
		now:         opts.Now,
		loc:         opts.Location,
		interval:    opts.Interval,
		timeout:     opts.RunTimeout,
		gate:        make(chan struct{}, 1),
		historySize: opts.HistorySize,
	}
}

// Start begins firing runs every interval. Starting a running scheduler is a no-op.
func (s *SchedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}
	c, err := s.buildCron()
	if err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.log.Info().Str("interval", s.interval.String()).Msg("scheduler started")
	return nil
}

// Stop halts the timer and waits for an in-progress run to finish or ctx to
// end. A running pass is never interrupted.
func (s *SchedulerService) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		// Wait for a manual run too.
		s.gate <- struct{}{}
		<-s.gate
		close(done)
	}()
	select {
	case <-done:
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.log.Warn().Err(ctx.Err()).Msg("scheduler stop: run still in progress")
		return ctx.Err()
	}
}

// TriggerNow runs a pass immediately, sharing the overlap gate with the
// timer. It returns ErrOverlapSkipped if a run is already in progress.
// Cancelling ctx after the run started does not abort it.
func (s *SchedulerService) TriggerNow(ctx context.Context) (ProcessingRun, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, cancel := s.runContext(ctx)
	defer cancel()
	return s.runGated(ctx, TriggerManual)
}

// SetInterval changes the tick interval; a running timer is restarted.
func (s *SchedulerService) SetInterval(d time.Duration) error {
	if d < time.Second {
		return fmt.Errorf("%w: got %s", ErrInvalidInterval, d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return nil
	}
	s.interval = d
	if s.cron == nil {
		return nil
	}
	c, err := s.buildCron()
	if err != nil {
		return err
	}
	old := s.cron
	c.Start()
	s.cron = c
	old.Stop()
	s.log.Info().Str("interval", d.String()).Msg("scheduler interval changed")
	return nil
}

// OnRun registers fn to be called after every finished run, timer or manual.
func (s *SchedulerService) OnRun(fn func(ProcessingRun)) {
	s.mu.Lock()
	s.notify = fn
	s.mu.Unlock()
}

func (s *SchedulerService) SetRunTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *SchedulerService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func (s *SchedulerService) InProgress() bool { return len(s.gate) > 0 }

func (s *SchedulerService) State() SchedulerState {
	s.mu.Lock()
	st := SchedulerState{Running: s.cron != nil, Interval: s.interval.String()}
	if s.cron != nil {
		if entries := s.cron.Entries(); len(entries) > 0 && !entries[0].Next.IsZero() {
			next := entries[0].Next
			st.NextRun = &next
		}
	}
	s.mu.Unlock()

	st.InProgress = s.InProgress()
	st.History = s.History()
	if n := len(st.History); n > 0 {
		last := st.History[n-1]
		st.LastRun = &last
	}
	return st
}

// History returns finished and skipped runs, oldest first.
func (s *SchedulerService) History() []ProcessingRun {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	out := make([]ProcessingRun, len(s.history))
	copy(out, s.history)
	return out
}

// buildCron must be called with s.mu held.
func (s *SchedulerService) buildCron() (*cron.Cron, error) {
	if s.interval < time.Second {
		return nil, fmt.Errorf("%w: got %s", ErrInvalidInterval, s.interval)
	}
	// Convert to cron spec: every N seconds.
	spec := fmt.Sprintf("@every %ds", int(s.interval.Seconds()))
	c := cron.New(cron.WithLocation(s.loc), cron.WithSeconds())
	if _, err := c.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return c, nil
}

func (s *SchedulerService) tick() {
	ctx, cancel := s.runContext(context.Background())
	defer cancel()
	if _, err := s.runGated(ctx, TriggerTimer); err != nil && !errors.Is(err, ErrOverlapSkipped) {
		s.log.Error().Err(err).Msg("scheduled run failed")
	}
}

func (s *SchedulerService) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()
	if timeout > 0 {
		return context.WithTimeout(parent, timeout)
	}
	return context.WithCancel(parent)
}

func (s *SchedulerService) runGated(ctx context.Context, trigger string) (run ProcessingRun, err error) {
	select {
	case s.gate <- struct{}{}:
	default:
		now := s.now()
		run = ProcessingRun{ID: uuid.NewString(), Trigger: trigger, Status: RunSkippedOverlap, StartedAt: now, FinishedAt: now}
		s.record(run)
		s.log.Info().Str("trigger", trigger).Msg("skipped-overlap")
		return run, ErrOverlapSkipped
	}
	defer func() { <-s.gate }()
	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("trigger", trigger).Msg("run panicked")
			run = ProcessingRun{ID: uuid.NewString(), Trigger: trigger, Status: RunFailed, StartedAt: started, FinishedAt: s.now()}
			s.record(run)
			err = fmt.Errorf("run panicked: %v", r)
		}
	}()

	run, err = s.runner.RunOnce(ctx, started)
	run.Trigger = trigger
	s.record(run)

	s.mu.Lock()
	notify := s.notify
	s.mu.Unlock()
	if notify != nil {
		notify(run)
	}
	return run, err
}

func (s *SchedulerService) record(run ProcessingRun) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, run)
	if over := len(s.history) - s.historySize; over > 0 {
		s.history = append([]ProcessingRun(nil), s.history[over:]...)
	}
}
