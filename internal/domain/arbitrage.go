package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ArbLeg is one selection of an arbitrage at the best price found for it.
type ArbLeg struct {
	Selection     string   `json:"selection"`
	BookmakerID   int64    `json:"bookmaker_id"`
	ObservationID int64    `json:"observation_id"`
	Price         float64  `json:"price"`
	Line          *float64 `json:"line,omitempty"`
	Implied       float64  `json:"implied_probability"`
}

// ArbOpportunity is a set of legs covering every result of a market whose
// implied probabilities sum below one.
type ArbOpportunity struct {
	GameID       string    `json:"game_id"`
	Market       Market    `json:"market"`
	Strategy     string    `json:"strategy"`
	Line         *float64  `json:"line,omitempty"`
	Legs         []ArbLeg  `json:"legs"`
	TotalImplied float64   `json:"total_implied"`
	MarginPct    float64   `json:"margin_pct"`
	DetectedAt   time.Time `json:"detected_at"`
}

// Key identifies the opportunity by game, market, line and the bookmaker of
// each leg. Price changes at the same bookmakers keep the key.
func (o ArbOpportunity) Key() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%s|%s", o.GameID, o.Market, o.Strategy)
	if o.Line != nil {
		b.WriteString("|" + strconv.FormatFloat(*o.Line, 'f', -1, 64))
	}
	for _, l := range o.Legs {
		fmt.Fprintf(&b, "|%s:%d", l.Selection, l.BookmakerID)
	}
	return b.String()
}
