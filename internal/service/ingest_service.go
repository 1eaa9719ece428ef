package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
)

// Outcome names used by the provider that are not team names.
const (
	outcomeDraw  = "Draw"
	outcomeOver  = "Over"
	outcomeUnder = "Under"
)

// IngestCounts summarises one Ingest call. Moneylines, Spreads and Totals
// count newly inserted rows.
type IngestCounts struct {
	Games      int `json:"games"`
	Moneylines int `json:"moneylines"`
	Spreads    int `json:"spreads"`
	Totals     int `json:"totals"`
	Duplicates int `json:"duplicates"`
	Promoted   int `json:"promoted"`
	Conflicts  int `json:"conflicts"`
}

// Inserted returns the number of new observation rows.
func (c IngestCounts) Inserted() int {
	return c.Moneylines + c.Spreads + c.Totals
}

// Observations returns the number of observations submitted.
func (c IngestCounts) Observations() int {
	return c.Inserted() + c.Duplicates
}

// Add accumulates o into c.
func (c *IngestCounts) Add(o IngestCounts) {
	c.Games += o.Games
	c.Moneylines += o.Moneylines
	c.Spreads += o.Spreads
	c.Totals += o.Totals
	c.Duplicates += o.Duplicates
	c.Promoted += o.Promoted
	c.Conflicts += o.Conflicts
}

func (c *IngestCounts) record(m domain.Market, res domain.RecordResult) {
	if res.Duplicate {
		c.Duplicates++
		if res.Conflicting {
			c.Conflicts++
		}
	} else {
		switch m {
		case domain.MarketMoneyline:
			c.Moneylines++
		case domain.MarketSpread:
			c.Spreads++
		case domain.MarketTotal:
			c.Totals++
		}
	}
	if res.Promoted {
		c.Promoted++
	}
}

// IngestService turns provider events into reference rows, games and odds
// observations.
type IngestService struct {
	refs   domain.ReferenceStore
	games  *GameService
	odds   *OddsService
	logger *slog.Logger
}

// NewIngestService creates an IngestService.
func NewIngestService(refs domain.ReferenceStore, games *GameService, odds *OddsService, logger *slog.Logger) *IngestService {
	return &IngestService{
		refs:   refs,
		games:  games,
		odds:   odds,
		logger: logger.With(slog.String("component", "ingest_service")),
	}
}

// Ingest stores every event at snapshotTime, truncated to whole seconds so
// a replay from a raw archive key lands on the same observations. A failing
// event is logged and skipped; the returned error joins every failure.
func (s *IngestService) Ingest(ctx context.Context, events []oddsapi.Event, snapshotTime time.Time) (IngestCounts, error) {
	snapshotTime = snapshotTime.UTC().Truncate(time.Second)
	var (
		counts IngestCounts
		errs   []error
	)
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		c, err := s.ingestEvent(ctx, ev, snapshotTime)
		counts.Add(c)
		if err != nil {
			s.logger.WarnContext(ctx, "ingest event failed",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}

	s.logger.InfoContext(ctx, "ingested odds",
		slog.Time("snapshot_timestamp", snapshotTime),
		slog.Int("events", len(events)),
		slog.Int("games", counts.Games),
		slog.Int("inserted", counts.Inserted()),
		slog.Int("duplicates", counts.Duplicates),
		slog.Int("promoted", counts.Promoted),
		slog.Int("conflicts", counts.Conflicts),
	)
	return counts, errors.Join(errs...)
}

func (s *IngestService) ingestEvent(ctx context.Context, ev oddsapi.Event, snapshotTime time.Time) (IngestCounts, error) {
	var counts IngestCounts

	sport, err := s.refs.EnsureSport(ctx, ev.SportKey, ev.SportTitle)
	if err != nil {
		return counts, fmt.Errorf("ingest: event %s: sport: %w", ev.ID, err)
	}
	home, err := s.refs.EnsureTeam(ctx, ev.HomeTeam, sport.ID)
	if err != nil {
		return counts, fmt.Errorf("ingest: event %s: home team: %w", ev.ID, err)
	}
	away, err := s.refs.EnsureTeam(ctx, ev.AwayTeam, sport.ID)
	if err != nil {
		return counts, fmt.Errorf("ingest: event %s: away team: %w", ev.ID, err)
	}

	if _, err := s.games.Upsert(ctx, domain.GameUpsert{
		ID:           ev.ID,
		SportID:      sport.ID,
		HomeTeamID:   home.ID,
		AwayTeamID:   away.ID,
		CommenceTime: ev.CommenceTime,
		RawPayload:   ev.Raw,
	}); err != nil {
		return counts, fmt.Errorf("ingest: event %s: %w", ev.ID, err)
	}
	counts.Games++

	var errs []error
	for _, bm := range ev.Bookmakers {
		book, err := s.refs.EnsureBookmaker(ctx, bm.Key, bm.Title)
		if err != nil {
			errs = append(errs, fmt.Errorf("ingest: event %s: bookmaker %s: %w", ev.ID, bm.Key, err))
			continue
		}
		for _, mo := range bm.Markets {
			market, ok := oddsapi.MarketFor(mo.Key)
			if !ok {
				continue
			}
			obs := Observation(ev, mo, market)
			obs.BookmakerID = book.ID
			obs.SnapshotTime = snapshotTime
			if obs.LastUpdate == nil {
				obs.LastUpdate = bm.LastUpdate
			}

			res, err := s.odds.Record(ctx, obs)
			if err != nil {
				errs = append(errs, fmt.Errorf("ingest: event %s: %w", ev.ID, err))
				continue
			}
			counts.record(market, res)
		}
	}
	return counts, errors.Join(errs...)
}

// Observation maps one provider market onto an observation. Outcomes are
// matched by team name, with "Draw" for three-way moneylines and
// "Over"/"Under" for totals. Values the provider omitted stay nil.
func Observation(ev oddsapi.Event, mo oddsapi.MarketOdds, market domain.Market) domain.Observation {
	var p domain.Prices
	home, hasHome := mo.Find(ev.HomeTeam)
	away, hasAway := mo.Find(ev.AwayTeam)

	switch market {
	case domain.MarketMoneyline:
		if hasHome {
			p.HomePrice = home.Price
		}
		if hasAway {
			p.AwayPrice = away.Price
		}
		if draw, ok := mo.Find(outcomeDraw); ok {
			p.DrawPrice = draw.Price
		}
	case domain.MarketSpread:
		if hasHome {
			p.HomeSpread, p.HomePrice = home.Point, home.Price
		}
		if hasAway {
			p.AwaySpread, p.AwayPrice = away.Point, away.Price
		}
	case domain.MarketTotal:
		over, hasOver := mo.Find(outcomeOver)
		under, hasUnder := mo.Find(outcomeUnder)
		if hasOver {
			p.TotalLine, p.OverPrice = over.Point, over.Price
		}
		if hasUnder {
			p.UnderPrice = under.Price
			if p.TotalLine == nil {
				p.TotalLine = under.Point
			}
		}
	}

	raw, _ := json.Marshal(mo.Outcomes)
	return domain.Observation{
		Market:      market,
		GameID:      ev.ID,
		Prices:      p,
		LastUpdate:  mo.LastUpdate,
		RawOutcomes: raw,
	}
}
