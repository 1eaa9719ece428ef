package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Job names.
const (
	JobLiveOdds = "live_odds"
	JobScores   = "scores"
	JobGrading  = "grading"
	JobArchive  = "archive"
)

// Job is a scheduled unit of work. An empty Spec with a positive Interval
// runs on a fixed interval; with neither the job is disabled.
type Job struct {
	Name     string
	Spec     string
	Interval time.Duration
	// RunAtStart triggers one run as soon as the scheduler starts.
	RunAtStart bool
	Run        JobFunc
}

// Orchestrator registers the ingestion jobs with the scheduler and runs them
// until the context is cancelled.
type Orchestrator struct {
	scheduler *Scheduler
	jobs      []Job
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(scheduler *Scheduler, jobs []Job, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		scheduler: scheduler,
		jobs:      jobs,
		logger:    logger.With(slog.String("component", "orchestrator")),
	}
}

// Run schedules every enabled job and blocks until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	var startNow []string
	for _, j := range o.jobs {
		if j.Run == nil {
			continue
		}
		var err error
		switch {
		case j.Spec != "":
			err = o.scheduler.Add(j.Name, j.Spec, j.Run)
		case j.Interval > 0:
			err = o.scheduler.Every(j.Name, j.Interval, j.Run)
		default:
			o.logger.InfoContext(ctx, "job disabled", slog.String("job", j.Name))
			continue
		}
		if err != nil {
			return fmt.Errorf("orchestrator: %w", err)
		}
		if j.RunAtStart {
			startNow = append(startNow, j.Name)
		}
	}

	o.scheduler.Start(ctx)
	for _, name := range startNow {
		if err := o.scheduler.Trigger(name); err != nil {
			o.logger.WarnContext(ctx, "initial run failed to start",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	}

	<-ctx.Done()
	o.scheduler.Stop()
	o.logger.Info("orchestrator stopped cleanly")
	return nil
}
