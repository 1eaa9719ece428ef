package domain

import "time"

// OutcomeResult is the graded result of one selection.
type OutcomeResult string

const (
	ResultWin  OutcomeResult = "win"
	ResultLoss OutcomeResult = "loss"
	ResultPush OutcomeResult = "push"
)

// Selections.
const (
	SelectionHome  = "home"
	SelectionAway  = "away"
	SelectionDraw  = "draw"
	SelectionOver  = "over"
	SelectionUnder = "under"
)

// BetOutcome is the graded result of one selection against the observation
// it was graded on. Only completed games are graded.
type BetOutcome struct {
	ID            int64         `json:"id"`
	GameID        string        `json:"game_id"`
	BookmakerID   int64         `json:"bookmaker_id"`
	Market        Market        `json:"market"`
	Selection     string        `json:"selection"`
	Line          *float64      `json:"line,omitempty"`
	Price         *float64      `json:"price,omitempty"`
	Result        OutcomeResult `json:"result"`
	ObservationID int64         `json:"observation_id"`
	GradedAt      time.Time     `json:"graded_at"`
}
