package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// JobFunc is one run of a scheduled job.
type JobFunc func(ctx context.Context) error

// Scheduler runs named jobs on cron schedules. Each run takes a distributed
// lock named after the job, so only one replica runs a job at a time, and a
// run still in progress causes the next tick to be skipped.
type Scheduler struct {
	cron    *cron.Cron
	parser  cron.ScheduleParser
	locks   domain.LockManager
	lockTTL time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]cron.Job
}

// NewScheduler creates a Scheduler. parser decodes specs and locks may be nil
// for a single-process deployment.
func NewScheduler(parser cron.ScheduleParser, loc *time.Location, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	logger = logger.With(slog.String("component", "scheduler"))
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser:  parser,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger,
		ctx:     context.Background(),
		jobs:    make(map[string]cron.Job),
	}
}

// Add registers fn under name on a cron spec.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	s.schedule(name, sched, fn)
	return nil
}

// Every registers fn under name on a fixed interval.
func (s *Scheduler) Every(name string, interval time.Duration, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %s: interval must be > 0", name)
	}
	s.schedule(name, cron.Every(interval), fn)
	return nil
}

func (s *Scheduler) schedule(name string, sched cron.Schedule, fn JobFunc) {
	wrapped := s.cron.Schedule(sched, cron.FuncJob(func() { s.runLocked(name, fn) }))
	entry := s.cron.Entry(wrapped)

	s.mu.Lock()
	s.jobs[name] = entry.WrappedJob
	s.mu.Unlock()

	s.logger.Info("job scheduled", slog.String("job", name))
}

// Trigger runs a registered job now, outside its schedule, through the same
// overlap guard.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", name)
	}
	go job.Run()
	return nil
}

// Start binds job runs to ctx and starts the cron loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop stops the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	<-stopped.Done()
	s.logger.Info("scheduler stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

func (s *Scheduler) runLocked(name string, fn JobFunc) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}

	if s.locks != nil {
		unlock, err := s.locks.Acquire(ctx, "job:"+name, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "job skipped, lock held elsewhere", slog.String("job", name))
			return
		}
		if err != nil {
			s.logger.WarnContext(ctx, "job lock failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.logger.ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.InfoContext(ctx, "job finished",
		slog.String("job", name),
		slog.Duration("elapsed", time.Since(start)),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err.Error())...)
}
