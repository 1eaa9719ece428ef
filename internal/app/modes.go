package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/oddsledger/internal/arbitrage"
	"github.com/alanyoungcy/oddsledger/internal/config"
	"github.com/alanyoungcy/oddsledger/internal/pipeline"
	"github.com/alanyoungcy/oddsledger/internal/platform/nflverse"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsledger/internal/server"
	"github.com/alanyoungcy/oddsledger/internal/server/handler"
	"github.com/alanyoungcy/oddsledger/internal/server/ws"
	"github.com/alanyoungcy/oddsledger/internal/service"
)

// gradingLookback bounds the scheduled regrade to recently played games.
const gradingLookback = 14 * 24 * time.Hour

// services holds the domain services shared by every mode.
type services struct {
	games    *service.GameService
	odds     *service.OddsService
	ingest   *service.IngestService
	outcomes *service.OutcomeService
	// arb is nil when arbitrage scanning is disabled.
	arb *arbitrage.Detector
}

func (a *App) buildServices(deps *Dependencies) services {
	games := service.NewGameService(deps.Games, deps.SignalBus, deps.Audit, deps.Notifier, a.logger)
	odds := service.NewOddsService(deps.Odds, deps.Movements, deps.OddsCache, deps.SignalBus, deps.Audit, a.logger)
	return services{
		games:    games,
		odds:     odds,
		ingest:   service.NewIngestService(deps.References, games, odds, a.logger),
		outcomes: service.NewOutcomeService(deps.Games, deps.Odds, deps.Outcomes, a.logger),
		arb:      a.newDetector(deps, odds),
	}
}

func (a *App) newDetector(deps *Dependencies, odds *service.OddsService) *arbitrage.Detector {
	if !a.cfg.Arbitrage.Enabled {
		return nil
	}
	strategies, err := arbitrage.DefaultRegistry(a.logger).Select(a.cfg.Arbitrage.Strategies)
	if err != nil {
		a.logger.Warn("arbitrage disabled", slog.String("error", err.Error()))
		return nil
	}
	return arbitrage.NewDetector(arbitrage.DetectorConfig{
		Strategies:   strategies,
		Odds:         odds,
		Bus:          deps.SignalBus,
		Notifier:     deps.Notifier,
		MinMarginPct: a.cfg.Arbitrage.MinMarginPct,
		Cooldown:     a.cfg.Arbitrage.Cooldown.Duration,
		Logger:       a.logger,
	})
}

// startDetector runs the arbitrage detector in g when it is enabled.
func startDetector(ctx context.Context, g *errgroup.Group, svcs services) {
	if svcs.arb == nil {
		return
	}
	g.Go(func() error {
		if err := svcs.arb.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
}

func (a *App) oddsRequest() oddsapi.OddsRequest {
	return oddsapi.OddsRequest{
		Sport:      a.cfg.OddsAPI.Sport,
		Regions:    a.cfg.OddsAPI.Regions,
		Markets:    a.cfg.OddsAPI.Markets,
		Bookmakers: a.cfg.OddsAPI.Bookmakers,
	}
}

func (a *App) oddsClient() *oddsapi.Client {
	return oddsapi.NewClient(a.cfg.OddsAPI.BaseURL, a.cfg.OddsAPI.APIKey, a.cfg.OddsAPI.Timeout.Duration)
}

func (a *App) scoresService(svcs services) (*service.ScoresService, error) {
	teams, err := nflverse.LoadTeamMap(a.cfg.Scores.TeamMapPath)
	if err != nil {
		return nil, err
	}
	return service.NewScoresService(
		nflverse.NewClient(a.cfg.Scores.URL, a.cfg.OddsAPI.Timeout.Duration),
		teams,
		svcs.games,
		svcs.outcomes,
		service.ScoresConfig{
			SportKey:    a.cfg.OddsAPI.Sport,
			Seasons:     a.cfg.Scores.Seasons,
			MatchWindow: a.cfg.Scores.MatchWindow.Duration,
			DryRun:      a.cfg.Scores.DryRun,
		},
		a.logger,
	), nil
}

// ServerMode serves the read API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, a.buildServices(deps))
	return g.Wait()
}

// IngestMode runs the scheduled jobs until ctx is cancelled.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	svcs := a.buildServices(deps)
	orch, err := a.newOrchestrator(deps, svcs)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	startDetector(ctx, g, svcs)
	return g.Wait()
}

// FullMode runs the scheduled jobs and the read API side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	svcs := a.buildServices(deps)
	orch, err := a.newOrchestrator(deps, svcs)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return orch.Run(ctx)
	})
	startDetector(ctx, g, svcs)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

// BackfillMode walks the configured date range, or each configured season,
// through the historical endpoint once and returns.
func (a *App) BackfillMode(ctx context.Context, deps *Dependencies) error {
	svcs := a.buildServices(deps)
	bf := service.NewBackfillService(
		a.oddsClient(),
		svcs.ingest,
		deps.Snapshots,
		deps.BlobWriter,
		deps.RateLimiter,
		deps.Notifier,
		service.BackfillConfig{
			Request:           a.oddsRequest(),
			Delay:             a.cfg.Backfill.Delay.Duration,
			RequestsPerMinute: a.cfg.OddsAPI.RequestsPerMinute,
			DryRun:            a.cfg.Backfill.DryRun,
			ArchiveRaw:        a.cfg.S3.ArchiveRaw,
		},
		a.logger,
	)
	interval := a.cfg.Backfill.Interval.Duration

	type window struct {
		name       string
		start, end time.Time
	}
	var windows []window
	if a.cfg.Backfill.Start != "" {
		start, err := time.Parse(time.DateOnly, a.cfg.Backfill.Start)
		if err != nil {
			return fmt.Errorf("app: backfill start: %w", err)
		}
		end, err := time.Parse(time.DateOnly, a.cfg.Backfill.End)
		if err != nil {
			return fmt.Errorf("app: backfill end: %w", err)
		}
		windows = append(windows, window{name: "range", start: start, end: end})
	} else {
		seasons := a.cfg.Backfill.Seasons
		for _, sp := range service.PlanSeasons(slices.Min(seasons), slices.Max(seasons), interval) {
			if slices.Contains(seasons, sp.Season.Year) {
				windows = append(windows, window{name: sp.Season.Name, start: sp.Season.Start, end: sp.Season.End})
			}
		}
		if len(windows) == 0 {
			return fmt.Errorf("app: backfill: no known season in %v (known: %d-%d)",
				seasons, service.FirstSeason, service.LastSeason)
		}
	}

	for _, w := range windows {
		res, err := bf.Backfill(ctx, w.start, w.end, interval)
		if err != nil {
			return fmt.Errorf("app: backfill %s: %w", w.name, err)
		}
		a.logger.InfoContext(ctx, "backfill window done",
			slog.String("window", w.name),
			slog.Bool("dry_run", res.DryRun),
			slog.Int("calls", res.Plan.Calls),
			slog.Int("estimated_credits", res.Plan.EstimatedCredits),
			slog.Duration("estimated_duration", res.Plan.EstimatedDuration),
			slog.Int("steps", res.Steps),
			slog.Int("failed", res.Failed),
			slog.Int("snapshots", res.Snapshots),
			slog.Int("inserted", res.Counts.Inserted()),
			slog.Int("quota_remaining", res.Remaining),
		)
	}
	return nil
}

// ScoresMode completes stored games from the final-score feed, grades them
// and returns.
func (a *App) ScoresMode(ctx context.Context, deps *Dependencies) error {
	svcs := a.buildServices(deps)
	scores, err := a.scoresService(svcs)
	if err != nil {
		return fmt.Errorf("app: scores: %w", err)
	}

	res, err := scores.Sync(ctx)
	if err != nil {
		return fmt.Errorf("app: scores: %w", err)
	}
	for _, u := range res.Updates {
		a.logger.InfoContext(ctx, "planned score update",
			slog.String("game_id", u.GameID),
			slog.String("home_team", u.HomeTeam),
			slog.String("away_team", u.AwayTeam),
			slog.Int("home_score", u.HomeScore),
			slog.Int("away_score", u.AwayScore),
		)
	}
	a.logger.InfoContext(ctx, "scores sync done",
		slog.Bool("dry_run", res.DryRun),
		slog.Int("fetched", res.Fetched),
		slog.Int("matched", res.Matched),
		slog.Int("updated", res.Updated),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("conflicts", res.Conflicts),
		slog.Int("graded", res.Graded),
	)
	if res.DryRun {
		return nil
	}

	graded, err := svcs.outcomes.GradeCompleted(ctx, a.cfg.OddsAPI.Sport, nil)
	if err != nil {
		return fmt.Errorf("app: grade completed: %w", err)
	}
	a.logger.InfoContext(ctx, "grading done", slog.Int("outcomes", graded))
	return nil
}

// ReplayMode re-ingests archived raw responses under the configured prefix
// and returns.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	if deps.BlobReader == nil {
		return fmt.Errorf("app: replay requires s3")
	}
	svcs := a.buildServices(deps)
	res, err := service.NewReplayService(deps.BlobReader, svcs.ingest, deps.Snapshots, a.logger).
		Replay(ctx, a.cfg.Replay.Prefix)
	if err != nil {
		return fmt.Errorf("app: replay: %w", err)
	}
	if res.Failed > 0 {
		a.logger.WarnContext(ctx, "replay finished with failures", slog.Int("failed", res.Failed))
	}
	return nil
}

// CorrectMode overwrites the final score of one completed game and regrades
// its outcomes.
func (a *App) CorrectMode(ctx context.Context, deps *Dependencies) error {
	c := a.cfg.Correction
	svcs := a.buildServices(deps)
	g, err := svcs.games.CorrectScore(ctx, c.GameID, c.HomeScore, c.AwayScore)
	if err != nil {
		return fmt.Errorf("app: correct: %w", err)
	}
	graded, err := svcs.outcomes.GradeGame(ctx, g.ID)
	if err != nil {
		return fmt.Errorf("app: regrade %s: %w", g.ID, err)
	}
	a.logger.InfoContext(ctx, "score corrected",
		slog.String("game_id", g.ID),
		slog.Int("home_score", c.HomeScore),
		slog.Int("away_score", c.AwayScore),
		slog.Int("outcomes", graded),
	)
	return nil
}

// newOrchestrator builds the scheduler and the job set: live odds, scores,
// grading and, with S3, snapshot retention.
func (a *App) newOrchestrator(deps *Dependencies, svcs services) (*pipeline.Orchestrator, error) {
	loc, err := time.LoadLocation(a.cfg.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("app: schedule timezone: %w", err)
	}
	sched := pipeline.NewScheduler(config.CronParser, loc, deps.LockManager, a.cfg.Schedule.LockTTL.Duration, a.logger)

	poller := pipeline.NewOddsPoller(
		a.oddsClient(),
		svcs.ingest,
		deps.BlobWriter,
		deps.RateLimiter,
		deps.Notifier,
		pipeline.PollerConfig{
			Request:           a.oddsRequest(),
			RequestsPerMinute: a.cfg.OddsAPI.RequestsPerMinute,
			QuotaWarnBelow:    a.cfg.OddsAPI.QuotaWarnBelow,
			ArchiveRaw:        a.cfg.S3.ArchiveRaw,
		},
		a.logger,
	)

	scores, err := a.scoresService(svcs)
	if err != nil {
		return nil, fmt.Errorf("app: scores: %w", err)
	}

	jobs := []pipeline.Job{
		{
			Name:       pipeline.JobLiveOdds,
			Spec:       a.cfg.Schedule.LiveOdds,
			Interval:   a.cfg.Ingest.Interval.Duration,
			RunAtStart: true,
			Run:        poller.Run,
		},
		{
			Name: pipeline.JobScores,
			Spec: a.cfg.Schedule.Scores,
			Run: func(ctx context.Context) error {
				_, err := scores.Sync(ctx)
				return err
			},
		},
		{
			Name: pipeline.JobGrading,
			Spec: a.cfg.Schedule.Grading,
			Run: func(ctx context.Context) error {
				since := time.Now().UTC().Add(-gradingLookback)
				_, err := svcs.outcomes.GradeCompleted(ctx, a.cfg.OddsAPI.Sport, &since)
				return err
			},
		},
	}
	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Schedule.RetentionDays, a.logger)
		jobs = append(jobs, pipeline.Job{
			Name: pipeline.JobArchive,
			Spec: a.cfg.Schedule.Archive,
			Run:  archiver.Run,
		})
	} else {
		a.logger.Info("snapshot retention disabled: s3 is not enabled")
	}

	return pipeline.NewOrchestrator(sched, jobs, a.logger), nil
}

// startHTTPServer registers the read API and the websocket hub with g. Both
// stop when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		if err := hub.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, deps.Storage, deps.Status, deps.Pingers, a.logger),
		Reference: handler.NewReferenceHandler(deps.References, a.logger),
		Games:     handler.NewGameHandler(svcs.games, svcs.outcomes, a.logger),
		Odds:      handler.NewOddsHandler(svcs.games, svcs.odds, a.logger),
		Snapshots: handler.NewSnapshotHandler(deps.Snapshots, a.logger),
		Query:     handler.NewQueryHandler(deps.Query, a.cfg.Server.QueryMaxRows, a.logger),
		Audit:     handler.NewAuditHandler(deps.Audit, a.logger),
	}
	if svcs.arb != nil {
		handlers.Arbitrage = handler.NewArbitrageHandler(svcs.games, svcs.arb, a.logger)
	}
	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
