package domain

import "time"

// Sport is a league or competition keyed by the upstream sport key
// (e.g. "americanfootball_nfl").
type Sport struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Team is unique per (Name, SportID).
type Team struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	SportID   int64     `json:"sport_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Bookmaker is a sportsbook keyed by the upstream bookmaker key
// (e.g. "draftkings").
type Bookmaker struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}
