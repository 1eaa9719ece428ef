// Package movement computes line movement over odds observations. It is a
// pure projection: it never touches storage.
package movement

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// Compute pairs every observation with its predecessor in the same
// (game, bookmaker) partition and returns one Movement per observation.
// Observations are ordered by (game, bookmaker, snapshot time, id), so two
// rows sharing a snapshot time are ordered by insertion sequence. All
// observations must belong to the same market; the market of the first row
// selects the fields.
func Compute(obs []domain.Observation) []domain.Movement {
	if len(obs) == 0 {
		return nil
	}

	sorted := make([]domain.Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.GameID != b.GameID {
			return a.GameID < b.GameID
		}
		if a.BookmakerID != b.BookmakerID {
			return a.BookmakerID < b.BookmakerID
		}
		if !a.SnapshotTime.Equal(b.SnapshotTime) {
			return a.SnapshotTime.Before(b.SnapshotTime)
		}
		return a.ID < b.ID
	})

	fields := domain.MarketFields(sorted[0].Market)
	out := make([]domain.Movement, 0, len(sorted))

	for i, cur := range sorted {
		var prev *domain.Observation
		if i > 0 && samePartition(sorted[i-1], cur) {
			prev = &sorted[i-1]
		}

		m := domain.Movement{
			ObservationID: cur.ID,
			Market:        cur.Market,
			GameID:        cur.GameID,
			BookmakerID:   cur.BookmakerID,
			SnapshotTime:  cur.SnapshotTime,
			Fields:        make([]domain.FieldDelta, 0, len(fields)),
		}
		if prev != nil {
			ts := prev.SnapshotTime
			m.PreviousSnapshot = &ts
		}

		for _, f := range fields {
			fd := domain.FieldDelta{Field: f, Value: cur.Prices.Get(f)}
			if prev != nil {
				fd.Previous = prev.Prices.Get(f)
				fd.Delta = Delta(fd.Previous, fd.Value)
			}
			m.Fields = append(m.Fields, fd)
		}
		out = append(out, m)
	}
	return out
}

// Filter applies the time bounds, partition and limit of f to already
// computed movements. Deltas are computed over whole partitions first so a
// time window never resets a series.
func Filter(ms []domain.Movement, f domain.MovementFilter) []domain.Movement {
	out := make([]domain.Movement, 0, len(ms))
	for _, m := range ms {
		if f.GameID != "" && m.GameID != f.GameID {
			continue
		}
		if f.BookmakerID != 0 && m.BookmakerID != f.BookmakerID {
			continue
		}
		if f.Since != nil && m.SnapshotTime.Before(*f.Since) {
			continue
		}
		if f.Until != nil && m.SnapshotTime.After(*f.Until) {
			continue
		}
		out = append(out, m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

// Delta returns cur - prev computed in decimal arithmetic, or nil when either
// side is missing.
func Delta(prev, cur *float64) *float64 {
	if prev == nil || cur == nil {
		return nil
	}
	d := decimal.NewFromFloat(*cur).Sub(decimal.NewFromFloat(*prev))
	v := d.InexactFloat64()
	return &v
}

func samePartition(a, b domain.Observation) bool {
	return a.GameID == b.GameID && a.BookmakerID == b.BookmakerID
}
