package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	s3blob "github.com/alanyoungcy/oddsledger/internal/blob/s3"
	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsledger/internal/service"
)

// quotaKey is shared with the backfill so both paths draw on one budget.
const quotaKey = "oddsapi"

// LiveFetcher retrieves current odds from the provider.
type LiveFetcher interface {
	Odds(ctx context.Context, req oddsapi.OddsRequest) (oddsapi.OddsResponse, error)
}

// Ingester stores provider events at a snapshot time.
type Ingester interface {
	Ingest(ctx context.Context, events []oddsapi.Event, snapshotTime time.Time) (service.IngestCounts, error)
}

// PollerConfig configures the live odds poller.
type PollerConfig struct {
	Request           oddsapi.OddsRequest
	RequestsPerMinute int
	QuotaWarnBelow    int
	ArchiveRaw        bool
}

// OddsPoller fetches live odds and records them with the fetch time as the
// snapshot time.
type OddsPoller struct {
	fetcher  LiveFetcher
	ingest   Ingester
	blobs    domain.BlobWriter
	limiter  domain.RateLimiter
	notifier *notify.Notifier
	cfg      PollerConfig
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	quotaWarned bool
}

// NewOddsPoller creates an OddsPoller. blobs, limiter and notifier may be nil.
func NewOddsPoller(
	fetcher LiveFetcher,
	ingest Ingester,
	blobs domain.BlobWriter,
	limiter domain.RateLimiter,
	notifier *notify.Notifier,
	cfg PollerConfig,
	logger *slog.Logger,
) *OddsPoller {
	return &OddsPoller{
		fetcher:  fetcher,
		ingest:   ingest,
		blobs:    blobs,
		limiter:  limiter,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "odds_poller")),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run executes a single poll.
func (p *OddsPoller) Run(ctx context.Context) error {
	if p.limiter != nil && p.cfg.RequestsPerMinute > 0 {
		ok, err := p.limiter.Allow(ctx, quotaKey, p.cfg.RequestsPerMinute, time.Minute)
		if err != nil {
			p.logger.WarnContext(ctx, "rate limiter unavailable, polling anyway", slog.String("error", err.Error()))
		} else if !ok {
			return fmt.Errorf("odds poller: %w", domain.ErrRateLimited)
		}
	}

	// Raw archive keys carry whole seconds.
	fetchedAt := p.now().Truncate(time.Second)
	resp, err := p.fetcher.Odds(ctx, p.cfg.Request)
	if err != nil {
		p.alert(ctx, notify.Event{
			Type:   notify.EventIngestFailed,
			Title:  "Live odds fetch failed",
			Fields: map[string]any{"sport": p.cfg.Request.Sport, "error": err.Error()},
		})
		return fmt.Errorf("odds poller: fetch: %w", err)
	}

	p.archive(ctx, resp.Body, fetchedAt)
	p.checkQuota(ctx, resp.Quota)

	counts, err := p.ingest.Ingest(ctx, resp.Events, fetchedAt)
	if err != nil {
		p.alert(ctx, notify.Event{
			Type:  notify.EventIngestFailed,
			Title: "Live odds ingest incomplete",
			Fields: map[string]any{
				"sport":    p.cfg.Request.Sport,
				"inserted": counts.Inserted(),
				"error":    err.Error(),
			},
		})
		return fmt.Errorf("odds poller: ingest: %w", err)
	}

	p.logger.InfoContext(ctx, "live odds polled",
		slog.Int("events", len(resp.Events)),
		slog.Int("inserted", counts.Inserted()),
		slog.Int("promoted", counts.Promoted),
		slog.Int("quota_remaining", resp.Quota.Remaining),
	)
	return nil
}

func (p *OddsPoller) archive(ctx context.Context, body []byte, at time.Time) {
	if p.blobs == nil || !p.cfg.ArchiveRaw || len(body) == 0 {
		return
	}
	path := s3blob.RawPath("live", p.cfg.Request.Sport, at)
	if err := p.blobs.Put(ctx, path, bytes.NewReader(body), "application/json"); err != nil {
		p.logger.WarnContext(ctx, "raw archive failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// checkQuota alerts once when the remaining quota crosses below the
// threshold, and re-arms when it is replenished.
func (p *OddsPoller) checkQuota(ctx context.Context, q oddsapi.Quota) {
	if q.Remaining < 0 || p.cfg.QuotaWarnBelow <= 0 {
		return
	}
	p.mu.Lock()
	low := q.Remaining < p.cfg.QuotaWarnBelow
	fire := low && !p.quotaWarned
	p.quotaWarned = low
	p.mu.Unlock()

	if !fire {
		return
	}
	p.logger.WarnContext(ctx, "odds api quota low",
		slog.Int("remaining", q.Remaining),
		slog.Int("used", q.Used),
	)
	p.alert(ctx, notify.Event{
		Type:  notify.EventQuotaLow,
		Title: "Odds API quota low",
		Fields: map[string]any{
			"remaining": q.Remaining,
			"used":      q.Used,
			"threshold": p.cfg.QuotaWarnBelow,
		},
	})
}

func (p *OddsPoller) alert(ctx context.Context, ev notify.Event) {
	if err := p.notifier.Notify(ctx, ev); err != nil {
		p.logger.WarnContext(ctx, "notify failed",
			slog.String("event", ev.Type),
			slog.String("error", err.Error()),
		)
	}
}
