package movement

import (
	"testing"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

func f(v float64) *float64 { return &v }

func spread(id int64, game string, book int64, ts time.Time, home float64) domain.Observation {
	return domain.Observation{
		ID:           id,
		Market:       domain.MarketSpread,
		GameID:       game,
		BookmakerID:  book,
		SnapshotTime: ts,
		Prices: domain.Prices{
			HomeSpread: f(home),
			HomePrice:  f(-110),
			AwaySpread: f(-home),
			AwayPrice:  f(-110),
		},
	}
}

func TestComputeSpreadScenario(t *testing.T) {
	t1 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)

	// Input deliberately out of order.
	ms := Compute([]domain.Observation{
		spread(2, "G1", 1, t2, -3.0),
		spread(1, "G1", 1, t1, -3.5),
	})
	if len(ms) != 2 {
		t.Fatalf("got %d movements, want 2", len(ms))
	}

	first := ms[0].Field(domain.FieldHomeSpread)
	if first.Previous != nil || first.Delta != nil {
		t.Fatalf("first row should have nil previous and delta, got %+v", first)
	}
	if ms[0].PreviousSnapshot != nil {
		t.Fatalf("first row should have no previous snapshot")
	}

	second := ms[1].Field(domain.FieldHomeSpread)
	if second.Previous == nil || *second.Previous != -3.5 {
		t.Fatalf("prev_home_spread = %v, want -3.5", second.Previous)
	}
	if second.Delta == nil || *second.Delta != 0.5 {
		t.Fatalf("spread_movement = %v, want 0.5", second.Delta)
	}
	if ms[1].PreviousSnapshot == nil || !ms[1].PreviousSnapshot.Equal(t1) {
		t.Fatalf("previous snapshot = %v, want %v", ms[1].PreviousSnapshot, t1)
	}
	price := ms[1].Field(domain.FieldHomePrice)
	if price.Delta == nil || *price.Delta != 0 {
		t.Fatalf("home_price_movement = %v, want 0", price.Delta)
	}
}

func TestComputePartitionsAreIndependent(t *testing.T) {
	t0 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	ms := Compute([]domain.Observation{
		spread(1, "G1", 1, t0, -3.5),
		spread(2, "G1", 2, t0.Add(time.Hour), -4.0),
		spread(3, "G2", 1, t0.Add(2*time.Hour), 7.0),
		spread(4, "G1", 1, t0.Add(3*time.Hour), -2.5),
	})

	var firstRows int
	for _, m := range ms {
		if m.Field(domain.FieldHomeSpread).Previous == nil {
			firstRows++
		}
	}
	if firstRows != 3 {
		t.Fatalf("got %d partition heads, want 3", firstRows)
	}

	for _, m := range ms {
		if m.ObservationID == 4 {
			d := m.Field(domain.FieldHomeSpread).Delta
			if d == nil || *d != 1.0 {
				t.Fatalf("delta for G1/1 = %v, want 1.0", d)
			}
		}
	}
}

func TestComputeTieBreaksByID(t *testing.T) {
	ts := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	in := []domain.Observation{
		spread(9, "G1", 1, ts, -1.0),
		spread(3, "G1", 1, ts, -2.0),
	}
	for range 5 {
		ms := Compute(in)
		if ms[0].ObservationID != 3 || ms[1].ObservationID != 9 {
			t.Fatalf("unstable order: %d, %d", ms[0].ObservationID, ms[1].ObservationID)
		}
		d := ms[1].Field(domain.FieldHomeSpread).Delta
		if d == nil || *d != 1.0 {
			t.Fatalf("delta = %v, want 1.0", d)
		}
	}
}

func TestComputeMissingValuesYieldNilDelta(t *testing.T) {
	t0 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	a := domain.Observation{ID: 1, Market: domain.MarketMoneyline, GameID: "G1", BookmakerID: 1, SnapshotTime: t0,
		Prices: domain.Prices{HomePrice: f(-150), AwayPrice: f(130)}}
	b := domain.Observation{ID: 2, Market: domain.MarketMoneyline, GameID: "G1", BookmakerID: 1, SnapshotTime: t0.Add(time.Hour),
		Prices: domain.Prices{HomePrice: f(-165)}}

	ms := Compute([]domain.Observation{a, b})
	home := ms[1].Field(domain.FieldHomePrice)
	if home.Delta == nil || *home.Delta != -15 {
		t.Fatalf("home delta = %v, want -15", home.Delta)
	}
	away := ms[1].Field(domain.FieldAwayPrice)
	if away.Previous == nil || *away.Previous != 130 {
		t.Fatalf("away previous = %v, want 130", away.Previous)
	}
	if away.Delta != nil {
		t.Fatalf("away delta = %v, want nil", *away.Delta)
	}
	if draw := ms[1].Field(domain.FieldDrawPrice); draw.Delta != nil || draw.Previous != nil {
		t.Fatalf("draw should be empty, got %+v", draw)
	}
}

func TestFilterKeepsDeltasComputedOverWholeSeries(t *testing.T) {
	t0 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	ms := Compute([]domain.Observation{
		spread(1, "G1", 1, t0, -3.5),
		spread(2, "G1", 1, t0.Add(time.Hour), -3.0),
		spread(3, "G1", 1, t0.Add(2*time.Hour), -2.0),
	})

	since := t0.Add(30 * time.Minute)
	got := Filter(ms, domain.MovementFilter{GameID: "G1", Since: &since, Limit: 1})
	if len(got) != 1 {
		t.Fatalf("got %d rows, want 1", len(got))
	}
	if got[0].ObservationID != 2 {
		t.Fatalf("got observation %d, want 2", got[0].ObservationID)
	}
	if d := got[0].Field(domain.FieldHomeSpread).Delta; d == nil || *d != 0.5 {
		t.Fatalf("delta = %v, want 0.5", d)
	}
}

func TestDeltaIsExact(t *testing.T) {
	cases := []struct {
		prev, cur, want float64
	}{
		{-3.5, -3.0, 0.5},
		{47.5, 44.5, -3},
		{0.1, 0.3, 0.2},
		{-110, 105, 215},
	}
	for _, c := range cases {
		got := Delta(f(c.prev), f(c.cur))
		if got == nil || *got != c.want {
			t.Errorf("Delta(%v, %v) = %v, want %v", c.prev, c.cur, got, c.want)
		}
	}
	if Delta(nil, f(1)) != nil || Delta(f(1), nil) != nil {
		t.Error("Delta with a nil side should be nil")
	}
}

func TestComputeEmpty(t *testing.T) {
	if got := Compute(nil); got != nil {
		t.Fatalf("Compute(nil) = %v, want nil", got)
	}
}
