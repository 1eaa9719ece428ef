package domain

import (
	"encoding/json"
	"time"
)

// ApiSnapshot records one historical-data fetch. Rows are append-only; only
// retention may clear RawResponse after archiving it.
type ApiSnapshot struct {
	ID             int64           `json:"id"`
	SportKey       string          `json:"sport_key"`
	SnapshotTime   time.Time       `json:"snapshot_timestamp"`
	PreviousTime   *time.Time      `json:"previous_timestamp,omitempty"`
	NextTime       *time.Time      `json:"next_timestamp,omitempty"`
	GamesCount     int             `json:"games_count"`
	TotalOddsCount int             `json:"total_odds_count"`
	RawResponse    json.RawMessage `json:"raw_response,omitempty"`
	ArchiveKey     string          `json:"archive_key,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}
