package domain

import "time"

// FieldDelta pairs a field's value with its predecessor in the same
// (game, bookmaker) series. Previous and Delta are nil for the first row of
// a series or when either value is missing.
type FieldDelta struct {
	Field    string   `json:"field"`
	Value    *float64 `json:"value"`
	Previous *float64 `json:"previous"`
	Delta    *float64 `json:"delta"`
}

// Movement is one observation with its period-over-period deltas.
type Movement struct {
	ObservationID    int64        `json:"observation_id"`
	Market           Market       `json:"market"`
	GameID           string       `json:"game_id"`
	BookmakerID      int64        `json:"bookmaker_id"`
	SnapshotTime     time.Time    `json:"snapshot_timestamp"`
	PreviousSnapshot *time.Time   `json:"previous_snapshot_timestamp"`
	Fields           []FieldDelta `json:"fields"`
}

// Field returns the delta entry for name, or a zero value when absent.
func (m Movement) Field(name string) FieldDelta {
	for _, f := range m.Fields {
		if f.Field == name {
			return f
		}
	}
	return FieldDelta{Field: name}
}

// MovementFilter narrows a movement query. Time bounds apply to the snapshot
// time of the current row, after deltas have been computed over the whole
// partition.
type MovementFilter struct {
	GameID      string
	BookmakerID int64
	Since       *time.Time
	Until       *time.Time
	Limit       int
}

// MovementColumn returns the name of the delta column for field in market m.
// The headline field of spreads and totals keeps its historical column name.
func MovementColumn(m Market, field string) string {
	switch {
	case m == MarketSpread && field == FieldHomeSpread:
		return "spread_movement"
	case m == MarketTotal && field == FieldTotalLine:
		return "total_movement"
	}
	return field + "_movement"
}
