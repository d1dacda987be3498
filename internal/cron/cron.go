// Package cron runs periodic maintenance jobs, such as registry sweeps, on
// robfig/cron schedules. A job never overlaps itself: a tick that fires while
// the previous run is still going is skipped.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/robfig/cron/v3"
)

// parser accepts standard five-field specs, an optional leading seconds field
// and descriptors such as "@hourly" or "@every 30s".
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is a named function run on Schedule. Name must be unique inside a
// Scheduler. Run receives a context that is cancelled by Stop.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Validate checks that a schedule expression parses.
func Validate(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return errors.New("empty schedule")
	}
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

type Scheduler struct {
	mu      sync.Mutex
	c       *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	names   map[string]cron.EntryID
	started bool
}

func NewScheduler() *Scheduler {
	logger := slogLogger{l: slog.Default().With("component", "cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		ctx:    ctx,
		cancel: cancel,
		names:  make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Add(j Job) error {
	if j.Name == "" {
		return errors.New("cron job requires a name")
	}
	if j.Run == nil {
		return fmt.Errorf("cron job %s has no run function", j.Name)
	}
	if err := Validate(j.Schedule); err != nil {
		return fmt.Errorf("cron job %s: %w", j.Name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.names[j.Name]; dup {
		return fmt.Errorf("cron job %s already added", j.Name)
	}
	run, ctx := j.Run, s.ctx
	id, err := s.c.AddFunc(j.Schedule, func() {
		if ctx.Err() != nil {
			return
		}
		run(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule cron job %s: %w", j.Name, err)
	}
	s.names[j.Name] = id
	slog.Info("cron job scheduled", "name", j.Name, "schedule", j.Schedule)
	return nil
}

// Start launches the scheduler in its own goroutine.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	if s.ctx.Err() != nil {
		return errors.New("scheduler stopped")
	}
	s.started = true
	s.c.Start()
	return nil
}

// Stop cancels the job context and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	started := s.started
	s.started = false
	s.mu.Unlock()
	if started {
		<-s.c.Stop().Done()
	}
}

// slogLogger adapts slog to cron.Logger.
type slogLogger struct{ l *slog.Logger }

func (s slogLogger) Info(msg string, keysAndValues ...interface{}) {
	s.l.Debug(msg, keysAndValues...)
}

func (s slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	s.l.Error(msg, append(keysAndValues, "error", err)...)
}
