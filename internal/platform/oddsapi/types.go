package oddsapi

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// Upstream market keys.
const (
	MarketH2H     = "h2h"
	MarketSpreads = "spreads"
	MarketTotals  = "totals"
)

// MarketFor maps an upstream market key to the stored market.
func MarketFor(key string) (domain.Market, bool) {
	switch key {
	case MarketH2H:
		return domain.MarketMoneyline, true
	case MarketSpreads:
		return domain.MarketSpread, true
	case MarketTotals:
		return domain.MarketTotal, true
	}
	return "", false
}

// Event is one game with its bookmaker odds.
type Event struct {
	ID           string      `json:"id"`
	SportKey     string      `json:"sport_key"`
	SportTitle   string      `json:"sport_title"`
	CommenceTime time.Time   `json:"commence_time"`
	HomeTeam     string      `json:"home_team"`
	AwayTeam     string      `json:"away_team"`
	Bookmakers   []Bookmaker `json:"bookmakers"`

	// Raw is the event exactly as received.
	Raw json.RawMessage `json:"-"`
}

// Bookmaker is one bookmaker's markets for an event.
type Bookmaker struct {
	Key        string       `json:"key"`
	Title      string       `json:"title"`
	LastUpdate *time.Time   `json:"last_update"`
	Markets    []MarketOdds `json:"markets"`
}

// MarketOdds is one market of one bookmaker.
type MarketOdds struct {
	Key        string     `json:"key"`
	LastUpdate *time.Time `json:"last_update"`
	Outcomes   []Outcome  `json:"outcomes"`
}

// Outcome is one selection. Price is American odds; Point is the spread or
// total line and absent for moneylines.
type Outcome struct {
	Name  string   `json:"name"`
	Price *float64 `json:"price"`
	Point *float64 `json:"point"`
}

// Find returns the outcome named name.
func (m MarketOdds) Find(name string) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.Name == name {
			return o, true
		}
	}
	return Outcome{}, false
}

// Quota is the request budget reported in response headers. Negative values
// mean the header was missing.
type Quota struct {
	Remaining int
	Used      int
	LastCost  int
}

// OddsRequest selects what an odds call returns.
type OddsRequest struct {
	Sport      string
	Regions    []string
	Markets    []string
	Bookmakers []string
}

// OddsResponse is a live odds call result.
type OddsResponse struct {
	Events []Event
	Quota  Quota
	Body   []byte
}

// HistoricalResponse is a historical odds call result. Timestamp is the
// snapshot the provider actually served, which may precede the requested time.
type HistoricalResponse struct {
	Timestamp         time.Time
	PreviousTimestamp *time.Time
	NextTimestamp     *time.Time
	Events            []Event
	Quota             Quota
	Body              []byte
}

type historicalEnvelope struct {
	Timestamp         time.Time         `json:"timestamp"`
	PreviousTimestamp *time.Time        `json:"previous_timestamp"`
	NextTimestamp     *time.Time        `json:"next_timestamp"`
	Data              []json.RawMessage `json:"data"`
}

// Sport is an entry of the sports listing.
type Sport struct {
	Key    string `json:"key"`
	Group  string `json:"group"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}
