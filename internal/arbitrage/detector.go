package arbitrage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
)

// CurrentReader returns the latest observation of every bookmaker for a game
// and market.
type CurrentReader interface {
	Current(ctx context.Context, gameID string, market domain.Market) ([]domain.Observation, error)
}

// DetectorConfig configures the detector.
type DetectorConfig struct {
	Strategies []Strategy
	Odds       CurrentReader
	Bus        domain.SignalBus
	Notifier   *notify.Notifier
	// MinMarginPct drops opportunities with a smaller margin.
	MinMarginPct float64
	// Cooldown suppresses republishing the same opportunity.
	Cooldown time.Duration
	Logger   *slog.Logger
}

// Detector rescans a game's board whenever one of its observations is
// promoted, and publishes new opportunities on odds.arbitrage.
type Detector struct {
	strategies []Strategy
	odds       CurrentReader
	bus        domain.SignalBus
	notifier   *notify.Notifier
	minMargin  float64
	logger     *slog.Logger
	now        func() time.Time
	dedup      *Dedup
}

// NewDetector creates a detector that runs the given strategies.
func NewDetector(cfg DetectorConfig) *Detector {
	return &Detector{
		strategies: cfg.Strategies,
		odds:       cfg.Odds,
		bus:        cfg.Bus,
		notifier:   cfg.Notifier,
		minMargin:  cfg.MinMarginPct,
		logger:     cfg.Logger.With(slog.String("component", "arb_detector")),
		now:        func() time.Time { return time.Now().UTC() },
		dedup:      NewDedup(cfg.Cooldown),
	}
}

// latestEvent is the odds.latest payload published by the odds service.
type latestEvent struct {
	Event       string             `json:"event"`
	Observation domain.Observation `json:"observation"`
}

// Run subscribes to odds.latest and scans the affected board on each
// promotion. It blocks until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) error {
	ch, err := d.bus.Subscribe(ctx, domain.ChannelOddsLatest)
	if err != nil {
		return fmt.Errorf("arb detector: subscribe %s: %w", domain.ChannelOddsLatest, err)
	}
	names := make([]string, len(d.strategies))
	for i, s := range d.strategies {
		names[i] = s.Name()
	}
	d.logger.Info("arb detector started", slog.String("strategies", strings.Join(names, ",")))
	defer d.logger.Info("arb detector stopped")

	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cleanup.C:
			d.dedup.Cleanup()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := d.handleMessage(ctx, data); err != nil {
				d.logger.Warn("arb detector: handle message failed",
					slog.String("error", err.Error()),
					slog.String("payload", string(data)),
				)
			}
		}
	}
}

func (d *Detector) handleMessage(ctx context.Context, data []byte) error {
	var ev latestEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	obs := ev.Observation
	if ev.Event != "odds_latest" || obs.GameID == "" || !obs.Market.Valid() {
		return nil
	}

	opps, err := d.scanMarket(ctx, obs.GameID, obs.Market)
	if err != nil {
		return err
	}
	for _, opp := range opps {
		if d.dedup.Seen(opp.Key()) {
			continue
		}
		d.publish(ctx, opp)
	}
	return nil
}

// Scan returns the opportunities of every market of a game, largest margin
// first.
func (d *Detector) Scan(ctx context.Context, gameID string) ([]domain.ArbOpportunity, error) {
	var all []domain.ArbOpportunity
	for _, m := range domain.Markets {
		opps, err := d.scanMarket(ctx, gameID, m)
		if err != nil {
			return nil, err
		}
		all = append(all, opps...)
	}
	sortByMargin(all)
	return all, nil
}

func (d *Detector) scanMarket(ctx context.Context, gameID string, market domain.Market) ([]domain.ArbOpportunity, error) {
	var board *Board
	var out []domain.ArbOpportunity
	for _, s := range d.strategies {
		if !reads(s, market) {
			continue
		}
		if board == nil {
			quotes, err := d.odds.Current(ctx, gameID, market)
			if err != nil {
				return nil, fmt.Errorf("arb detector: current %s %s: %w", market, gameID, err)
			}
			board = &Board{GameID: gameID, Market: market, Quotes: quotes, At: d.now()}
		}
		// Arbitrage needs two bookmakers.
		if len(board.Quotes) < 2 {
			return nil, nil
		}
		opps, err := s.Detect(ctx, *board)
		if err != nil {
			return nil, fmt.Errorf("arb detector: %s detect: %w", s.Name(), err)
		}
		for _, opp := range opps {
			if opp.MarginPct >= d.minMargin {
				out = append(out, opp)
			}
		}
	}
	sortByMargin(out)
	return out, nil
}

func reads(s Strategy, m domain.Market) bool {
	for _, sm := range s.Markets() {
		if sm == m {
			return true
		}
	}
	return false
}

func (d *Detector) publish(ctx context.Context, opp domain.ArbOpportunity) {
	d.logger.InfoContext(ctx, "arbitrage detected",
		slog.String("game_id", opp.GameID),
		slog.String("market", string(opp.Market)),
		slog.String("strategy", opp.Strategy),
		slog.Float64("margin_pct", opp.MarginPct),
	)

	payload, err := json.Marshal(map[string]any{
		"event":       "arbitrage",
		"opportunity": opp,
	})
	if err == nil {
		if err := d.bus.Publish(ctx, domain.ChannelArbitrage, payload); err != nil {
			d.logger.WarnContext(ctx, "publish odds.arbitrage failed", slog.String("error", err.Error()))
		}
	}

	fields := map[string]any{
		"game_id":    opp.GameID,
		"market":     string(opp.Market),
		"margin_pct": opp.MarginPct,
	}
	for _, l := range opp.Legs {
		fields[l.Selection] = fmt.Sprintf("%s @ bookmaker %d", strconv.FormatFloat(l.Price, 'f', -1, 64), l.BookmakerID)
	}
	if err := d.notifier.Notify(ctx, notify.Event{
		Type:   notify.EventArbitrage,
		Title:  "Arbitrage detected",
		Fields: fields,
	}); err != nil {
		d.logger.WarnContext(ctx, "notify arbitrage failed", slog.String("error", err.Error()))
	}
}
