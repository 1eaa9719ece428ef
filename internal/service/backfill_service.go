package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/oddsledger/internal/blob/s3"
	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
)

const (
	// creditsPerHistoricalCall is what the provider charges per historical
	// odds request.
	creditsPerHistoricalCall = 10
	// secondsPerCall is the planning estimate for one call including
	// rate-limit pauses.
	secondsPerCall = 2
	// quotaKey is the rate limiter key shared by every upstream call.
	quotaKey = "oddsapi"
)

// FetchPlan estimates the cost of a historical range.
type FetchPlan struct {
	Start             time.Time     `json:"start"`
	End               time.Time     `json:"end"`
	Interval          time.Duration `json:"interval"`
	Calls             int           `json:"calls"`
	Days              int           `json:"days"`
	EstimatedCredits  int           `json:"estimated_credits"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// Season is one NFL season window, from preseason to the Super Bowl.
type Season struct {
	Year  int       `json:"year"`
	Name  string    `json:"name"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// FirstSeason and LastSeason bound the predefined NFL seasons.
const (
	FirstSeason = 2021
	LastSeason  = 2025
)

// Seasons returns the predefined NFL seasons: August 1 to the last day of the
// following February.
func Seasons() []Season {
	out := make([]Season, 0, LastSeason-FirstSeason+1)
	for y := FirstSeason; y <= LastSeason; y++ {
		out = append(out, SeasonFor(y))
	}
	return out
}

// SeasonFor returns the window of the season starting in year.
func SeasonFor(year int) Season {
	return Season{
		Year:  year,
		Name:  fmt.Sprintf("%d NFL Season", year),
		Start: time.Date(year, time.August, 1, 0, 0, 0, 0, time.UTC),
		// Day 0 of March is the last day of February.
		End: time.Date(year+1, time.March, 0, 0, 0, 0, 0, time.UTC),
	}
}

// Plan returns the calls needed to walk start..end by interval. Both dates
// are anchored at 12:00 UTC.
func Plan(start, end time.Time, interval time.Duration) FetchPlan {
	from, to := noonUTC(start), noonUTC(end)
	p := FetchPlan{Start: from, End: to, Interval: interval}
	if interval <= 0 || to.Before(from) {
		return p
	}
	span := to.Sub(from)
	p.Calls = int(span/interval) + 1
	p.Days = int(span.Hours() / 24)
	p.EstimatedCredits = p.Calls * creditsPerHistoricalCall
	p.EstimatedDuration = time.Duration(p.Calls) * secondsPerCall * time.Second
	return p
}

// SeasonPlan is the plan of one predefined season.
type SeasonPlan struct {
	Season Season    `json:"season"`
	Plan   FetchPlan `json:"plan"`
}

// PlanSeasons plans every predefined season with from <= year <= to.
func PlanSeasons(from, to int, interval time.Duration) []SeasonPlan {
	var out []SeasonPlan
	for _, s := range Seasons() {
		if s.Year < from || s.Year > to {
			continue
		}
		out = append(out, SeasonPlan{Season: s, Plan: Plan(s.Start, s.End, interval)})
	}
	return out
}

// Steps returns the snapshot times of a plan.
func (p FetchPlan) Steps() []time.Time {
	steps := make([]time.Time, 0, p.Calls)
	for i := range p.Calls {
		steps = append(steps, p.Start.Add(time.Duration(i)*p.Interval))
	}
	return steps
}

func noonUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, time.UTC)
}

// HistoricalFetcher fetches one historical odds snapshot.
type HistoricalFetcher interface {
	HistoricalOdds(ctx context.Context, req oddsapi.OddsRequest, at time.Time) (oddsapi.HistoricalResponse, error)
}

// BackfillConfig holds the request and pacing settings of a backfill.
type BackfillConfig struct {
	Request           oddsapi.OddsRequest
	Delay             time.Duration
	RequestsPerMinute int
	DryRun            bool
	ArchiveRaw        bool
}

// BackfillResult summarises a backfill run.
type BackfillResult struct {
	Plan      FetchPlan    `json:"plan"`
	DryRun    bool         `json:"dry_run"`
	Steps     int          `json:"steps"`
	Failed    int          `json:"failed"`
	Snapshots int          `json:"snapshots"`
	Counts    IngestCounts `json:"counts"`
	Remaining int          `json:"quota_remaining"`
}

// BackfillService walks a date range of historical snapshots into the store.
type BackfillService struct {
	fetcher   HistoricalFetcher
	ingest    *IngestService
	snapshots domain.SnapshotStore
	blobs     domain.BlobWriter
	limiter   domain.RateLimiter
	notifier  *notify.Notifier
	cfg       BackfillConfig
	logger    *slog.Logger
	sleep     func(context.Context, time.Duration) error
}

// NewBackfillService creates a BackfillService. blobs, limiter and notifier
// may be nil.
func NewBackfillService(
	fetcher HistoricalFetcher,
	ingest *IngestService,
	snapshots domain.SnapshotStore,
	blobs domain.BlobWriter,
	limiter domain.RateLimiter,
	notifier *notify.Notifier,
	cfg BackfillConfig,
	logger *slog.Logger,
) *BackfillService {
	return &BackfillService{
		fetcher:   fetcher,
		ingest:    ingest,
		snapshots: snapshots,
		blobs:     blobs,
		limiter:   limiter,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "backfill_service")),
		sleep:     sleepCtx,
	}
}

// Backfill fetches and stores every step of start..end. A failed step is
// logged and skipped. In dry-run mode only the plan is returned.
func (s *BackfillService) Backfill(ctx context.Context, start, end time.Time, interval time.Duration) (BackfillResult, error) {
	plan := Plan(start, end, interval)
	res := BackfillResult{Plan: plan, DryRun: s.cfg.DryRun, Remaining: -1}

	s.logger.InfoContext(ctx, "backfill plan",
		slog.Time("start", plan.Start),
		slog.Time("end", plan.End),
		slog.Duration("interval", interval),
		slog.Int("calls", plan.Calls),
		slog.Int("estimated_credits", plan.EstimatedCredits),
		slog.Bool("dry_run", s.cfg.DryRun),
	)
	if s.cfg.DryRun || plan.Calls == 0 {
		return res, nil
	}

	for i, at := range plan.Steps() {
		if i > 0 && s.cfg.Delay > 0 {
			if err := s.sleep(ctx, s.cfg.Delay); err != nil {
				return res, err
			}
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Steps++
		stored, counts, remaining, err := s.step(ctx, at)
		res.Counts.Add(counts)
		if remaining >= 0 {
			res.Remaining = remaining
		}
		if stored {
			res.Snapshots++
		}
		if err != nil {
			res.Failed++
			s.logger.WarnContext(ctx, "backfill step failed",
				slog.Time("at", at),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.DebugContext(ctx, "backfill step",
			slog.Time("at", at),
			slog.Int("step", i+1),
			slog.Int("of", plan.Calls),
			slog.Int("inserted", counts.Inserted()),
		)
	}

	s.logger.InfoContext(ctx, "backfill complete",
		slog.Int("steps", res.Steps),
		slog.Int("failed", res.Failed),
		slog.Int("snapshots", res.Snapshots),
		slog.Int("inserted", res.Counts.Inserted()),
		slog.Int("duplicates", res.Counts.Duplicates),
	)
	if err := s.notifier.Notify(ctx, notify.Event{
		Type:  notify.EventBackfillDone,
		Title: "Backfill complete",
		Fields: map[string]any{
			"sport":           s.cfg.Request.Sport,
			"start":           plan.Start.Format(time.DateOnly),
			"end":             plan.End.Format(time.DateOnly),
			"steps":           res.Steps,
			"failed":          res.Failed,
			"inserted":        res.Counts.Inserted(),
			"quota_remaining": res.Remaining,
		},
	}); err != nil {
		s.logger.WarnContext(ctx, "notify backfill done failed", slog.String("error", err.Error()))
	}
	return res, nil
}

// step fetches, ingests and records one historical snapshot. It reports
// whether a new api_snapshots row was written.
func (s *BackfillService) step(ctx context.Context, at time.Time) (bool, IngestCounts, int, error) {
	if s.limiter != nil && s.cfg.RequestsPerMinute > 0 {
		if err := s.limiter.Wait(ctx, quotaKey, s.cfg.RequestsPerMinute, time.Minute); err != nil {
			return false, IngestCounts{}, -1, fmt.Errorf("rate limit: %w", err)
		}
	}

	resp, err := s.fetcher.HistoricalOdds(ctx, s.cfg.Request, at)
	if err != nil {
		return false, IngestCounts{}, -1, err
	}
	snapTime := resp.Timestamp
	if snapTime.IsZero() {
		snapTime = at
	}

	counts, ingestErr := s.ingest.Ingest(ctx, resp.Events, snapTime)

	snap := domain.ApiSnapshot{
		SportKey:       s.cfg.Request.Sport,
		SnapshotTime:   snapTime,
		PreviousTime:   resp.PreviousTimestamp,
		NextTime:       resp.NextTimestamp,
		GamesCount:     counts.Games,
		TotalOddsCount: counts.Observations(),
		RawResponse:    resp.Body,
	}
	_, inserted, err := s.snapshots.Insert(ctx, snap)
	if err != nil {
		return false, counts, resp.Quota.Remaining, fmt.Errorf("insert api snapshot: %w", err)
	}
	if !inserted {
		s.logger.DebugContext(ctx, "api snapshot already recorded", slog.Time("snapshot_timestamp", snapTime))
	}

	if s.blobs != nil && s.cfg.ArchiveRaw {
		path := s3blob.RawPath("historical", s.cfg.Request.Sport, snapTime)
		if err := s.blobs.Put(ctx, path, bytes.NewReader(resp.Body), "application/json"); err != nil {
			s.logger.WarnContext(ctx, "raw archive failed",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
	}
	return inserted, counts, resp.Quota.Remaining, ingestErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
