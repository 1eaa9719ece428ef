package domain

import (
	"encoding/json"
	"time"
)

// GameStatus is the lifecycle state of a game.
type GameStatus string

const (
	StatusScheduled  GameStatus = "scheduled"
	StatusInProgress GameStatus = "in_progress"
	StatusCompleted  GameStatus = "completed"
)

// Rank orders statuses along the lifecycle. Unknown statuses rank below
// scheduled.
func (s GameStatus) Rank() int {
	switch s {
	case StatusScheduled:
		return 1
	case StatusInProgress:
		return 2
	case StatusCompleted:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s GameStatus) Valid() bool {
	return s.Rank() > 0
}

// CanTransition reports whether a game may move from s to next. Staying in
// the same status is allowed; moving backwards is not.
func (s GameStatus) CanTransition(next GameStatus) bool {
	return next.Valid() && next.Rank() >= s.Rank()
}

// Game is one contest, identified by the upstream event id.
type Game struct {
	ID           string          `json:"id"`
	SportID      int64           `json:"sport_id"`
	CommenceTime time.Time       `json:"commence_time"`
	HomeTeamID   int64           `json:"home_team_id"`
	AwayTeamID   int64           `json:"away_team_id"`
	HomeScore    *int            `json:"home_score,omitempty"`
	AwayScore    *int            `json:"away_score,omitempty"`
	Status       GameStatus      `json:"status"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	RawPayload   json.RawMessage `json:"raw_payload,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// SameScore reports whether the game has recorded exactly home and away.
func (g Game) SameScore(home, away int) bool {
	return g.HomeScore != nil && g.AwayScore != nil &&
		*g.HomeScore == home && *g.AwayScore == away
}

// GameUpsert carries the fields an ingestion job may supply for a game.
// Identity fields (ID, SportID, HomeTeamID, AwayTeamID) are only used on
// creation.
type GameUpsert struct {
	ID           string
	SportID      int64
	HomeTeamID   int64
	AwayTeamID   int64
	CommenceTime time.Time
	Status       GameStatus // empty means scheduled on create, unchanged on update
	HomeScore    *int
	AwayScore    *int
	RawPayload   json.RawMessage
}

// GameView is a game joined with its team names, used by score matching and
// the read API.
type GameView struct {
	Game
	SportKey     string `json:"sport_key"`
	HomeTeamName string `json:"home_team"`
	AwayTeamName string `json:"away_team"`
}

// GameFilter narrows game listings.
type GameFilter struct {
	SportKey string
	Status   GameStatus
	ListOpts
}
