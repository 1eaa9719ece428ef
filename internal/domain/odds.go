package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Market is a betting-odds category. Each market is stored in its own table.
type Market string

const (
	MarketMoneyline Market = "moneyline"
	MarketSpread    Market = "spread"
	MarketTotal     Market = "total"
)

// Markets lists every supported market in a stable order.
var Markets = []Market{MarketMoneyline, MarketSpread, MarketTotal}

// Valid reports whether m is a supported market.
func (m Market) Valid() bool {
	switch m {
	case MarketMoneyline, MarketSpread, MarketTotal:
		return true
	}
	return false
}

// ParseMarket converts a string into a Market.
func ParseMarket(s string) (Market, error) {
	m := Market(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown market %q", s)
	}
	return m, nil
}

// Field names used by Prices.Get and the movement projection.
const (
	FieldHomePrice  = "home_price"
	FieldAwayPrice  = "away_price"
	FieldDrawPrice  = "draw_price"
	FieldHomeSpread = "home_spread"
	FieldAwaySpread = "away_spread"
	FieldTotalLine  = "total_line"
	FieldOverPrice  = "over_price"
	FieldUnderPrice = "under_price"
)

// MarketFields returns the numeric fields meaningful for m, in column order.
func MarketFields(m Market) []string {
	switch m {
	case MarketMoneyline:
		return []string{FieldHomePrice, FieldAwayPrice, FieldDrawPrice}
	case MarketSpread:
		return []string{FieldHomeSpread, FieldHomePrice, FieldAwaySpread, FieldAwayPrice}
	case MarketTotal:
		return []string{FieldTotalLine, FieldOverPrice, FieldUnderPrice}
	}
	return nil
}

// Prices holds the numeric values of one observation. Prices are American
// odds, spreads and totals are points. A nil field was not reported upstream.
type Prices struct {
	HomePrice  *float64 `json:"home_price,omitempty"`
	AwayPrice  *float64 `json:"away_price,omitempty"`
	DrawPrice  *float64 `json:"draw_price,omitempty"`
	HomeSpread *float64 `json:"home_spread,omitempty"`
	AwaySpread *float64 `json:"away_spread,omitempty"`
	TotalLine  *float64 `json:"total_line,omitempty"`
	OverPrice  *float64 `json:"over_price,omitempty"`
	UnderPrice *float64 `json:"under_price,omitempty"`
}

// Get returns the value of the named field.
func (p Prices) Get(field string) *float64 {
	switch field {
	case FieldHomePrice:
		return p.HomePrice
	case FieldAwayPrice:
		return p.AwayPrice
	case FieldDrawPrice:
		return p.DrawPrice
	case FieldHomeSpread:
		return p.HomeSpread
	case FieldAwaySpread:
		return p.AwaySpread
	case FieldTotalLine:
		return p.TotalLine
	case FieldOverPrice:
		return p.OverPrice
	case FieldUnderPrice:
		return p.UnderPrice
	}
	return nil
}

// Equal compares the fields of market m in p and o.
func (p Prices) Equal(m Market, o Prices) bool {
	for _, f := range MarketFields(m) {
		a, b := p.Get(f), o.Get(f)
		if (a == nil) != (b == nil) {
			return false
		}
		if a != nil && *a != *b {
			return false
		}
	}
	return true
}

// Empty reports whether none of the fields of market m are set.
func (p Prices) Empty(m Market) bool {
	for _, f := range MarketFields(m) {
		if p.Get(f) != nil {
			return false
		}
	}
	return true
}

// Observation is one immutable point-in-time odds row for a game, a
// bookmaker and a market. SnapshotTime is the logical time the row
// represents; RecordedAt is when it was ingested locally.
type Observation struct {
	ID           int64           `json:"id"`
	Market       Market          `json:"market"`
	GameID       string          `json:"game_id"`
	BookmakerID  int64           `json:"bookmaker_id"`
	Prices       Prices          `json:"prices"`
	LastUpdate   *time.Time      `json:"last_update,omitempty"`
	SnapshotTime time.Time       `json:"snapshot_timestamp"`
	RecordedAt   time.Time       `json:"recorded_at"`
	IsLatest     bool            `json:"is_latest"`
	RawOutcomes  json.RawMessage `json:"raw_outcomes,omitempty"`
}

// Validate checks the fields required before an observation can be stored.
func (o Observation) Validate() error {
	switch {
	case !o.Market.Valid():
		return fmt.Errorf("%w: unknown market %q", ErrInvalidObservation, o.Market)
	case o.GameID == "":
		return fmt.Errorf("%w: missing game id", ErrInvalidObservation)
	case o.BookmakerID <= 0:
		return fmt.Errorf("%w: missing bookmaker id", ErrInvalidObservation)
	case o.SnapshotTime.IsZero():
		return fmt.Errorf("%w: missing snapshot time", ErrInvalidObservation)
	}
	return nil
}

// RecordResult describes what Record did with an observation.
type RecordResult struct {
	ID int64
	// Inserted is false when a row with the same natural key already existed.
	Inserted bool
	// Duplicate is the complement of Inserted and is still a success.
	Duplicate bool
	// Conflicting marks a duplicate whose stored prices differ from the
	// submitted ones. The stored row is kept.
	Conflicting bool
	// Promoted is true when the new row took the latest flag.
	Promoted bool
}

// SeriesFilter selects observations of one market.
type SeriesFilter struct {
	GameID      string
	BookmakerID int64
	Since       *time.Time
	Until       *time.Time
	Limit       int
}
