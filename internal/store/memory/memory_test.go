package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

func f(v float64) *float64 { return &v }

type fixture struct {
	db    *DB
	refs  *ReferenceStore
	games *GameStore
	odds  *OddsStore
	book  domain.Bookmaker
	sport domain.Sport
	home  domain.Team
	away  domain.Team
}

func newFixture(t *testing.T, gameIDs ...string) fixture {
	t.Helper()
	ctx := context.Background()
	db := New()
	fx := fixture{
		db:    db,
		refs:  NewReferenceStore(db),
		games: NewGameStore(db),
		odds:  NewOddsStore(db),
	}

	var err error
	if fx.sport, err = fx.refs.EnsureSport(ctx, "americanfootball_nfl", "NFL"); err != nil {
		t.Fatalf("ensure sport: %v", err)
	}
	if fx.book, err = fx.refs.EnsureBookmaker(ctx, "draftkings", "DraftKings"); err != nil {
		t.Fatalf("ensure bookmaker: %v", err)
	}
	if fx.home, err = fx.refs.EnsureTeam(ctx, "Kansas City Chiefs", fx.sport.ID); err != nil {
		t.Fatalf("ensure team: %v", err)
	}
	if fx.away, err = fx.refs.EnsureTeam(ctx, "Baltimore Ravens", fx.sport.ID); err != nil {
		t.Fatalf("ensure team: %v", err)
	}
	for _, id := range gameIDs {
		if _, err := fx.games.UpsertGame(ctx, fx.upsert(id, time.Date(2024, 9, 5, 20, 20, 0, 0, time.UTC))); err != nil {
			t.Fatalf("upsert game %s: %v", id, err)
		}
	}
	return fx
}

func (fx fixture) upsert(id string, start time.Time) domain.GameUpsert {
	return domain.GameUpsert{
		ID:           id,
		SportID:      fx.sport.ID,
		HomeTeamID:   fx.home.ID,
		AwayTeamID:   fx.away.ID,
		CommenceTime: start,
		RawPayload:   []byte(`{"id":"` + id + `"}`),
	}
}

func (fx fixture) spread(game string, ts time.Time, home float64) domain.Observation {
	return domain.Observation{
		Market:       domain.MarketSpread,
		GameID:       game,
		BookmakerID:  fx.book.ID,
		SnapshotTime: ts,
		Prices:       domain.Prices{HomeSpread: f(home), HomePrice: f(-110), AwaySpread: f(-home), AwayPrice: f(-110)},
	}
}

func latestRows(t *testing.T, fx fixture, game string) []domain.Observation {
	t.Helper()
	rows, err := fx.odds.Series(context.Background(), domain.MarketSpread, domain.SeriesFilter{GameID: game})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	var latest []domain.Observation
	for _, r := range rows {
		if r.IsLatest {
			latest = append(latest, r)
		}
	}
	return latest
}

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	ts := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	first, err := fx.odds.Record(ctx, fx.spread("G1", ts, -3.5))
	if err != nil {
		t.Fatalf("first record: %v", err)
	}
	if !first.Inserted || !first.Promoted {
		t.Fatalf("first record = %+v, want inserted and promoted", first)
	}

	second, err := fx.odds.Record(ctx, fx.spread("G1", ts, -3.5))
	if err != nil {
		t.Fatalf("second record: %v", err)
	}
	if !second.Duplicate || second.Inserted || second.Conflicting {
		t.Fatalf("second record = %+v, want plain duplicate", second)
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate should report the stored id %d, got %d", first.ID, second.ID)
	}

	n, _ := fx.odds.Count(ctx, domain.MarketSpread)
	if n != 1 {
		t.Fatalf("got %d rows, want 1", n)
	}
}

func TestRecordSameTimestampDifferentValuesIsRejected(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	ts := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	if _, err := fx.odds.Record(ctx, fx.spread("G1", ts, -3.5)); err != nil {
		t.Fatalf("record: %v", err)
	}
	res, err := fx.odds.Record(ctx, fx.spread("G1", ts, -4.0))
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	if !res.Duplicate || !res.Conflicting {
		t.Fatalf("correction result = %+v, want conflicting duplicate", res)
	}
	got, _ := fx.odds.Latest(ctx, domain.MarketSpread, "G1", fx.book.ID)
	if *got.Prices.HomeSpread != -3.5 {
		t.Fatalf("stored home spread = %v, want -3.5", *got.Prices.HomeSpread)
	}
}

func TestLatestFollowsMaxSnapshot(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	t0 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := range 5 {
		ts := t0.Add(time.Duration(i) * time.Hour)
		if _, err := fx.odds.Record(ctx, fx.spread("G1", ts, -3.0-float64(i)/2)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		latest := latestRows(t, fx, "G1")
		if len(latest) != 1 {
			t.Fatalf("after insert %d: %d latest rows, want 1", i, len(latest))
		}
		if !latest[0].SnapshotTime.Equal(ts) {
			t.Fatalf("after insert %d: latest at %v, want %v", i, latest[0].SnapshotTime, ts)
		}
	}
}

func TestScenarioForwardThenMovement(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	t1 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(6 * time.Hour)

	if _, err := fx.odds.Record(ctx, fx.spread("G1", t1, -3.5)); err != nil {
		t.Fatal(err)
	}
	r2, err := fx.odds.Record(ctx, fx.spread("G1", t2, -3.0))
	if err != nil {
		t.Fatal(err)
	}

	latest := latestRows(t, fx, "G1")
	if len(latest) != 1 || latest[0].ID != r2.ID {
		t.Fatalf("latest = %+v, want only the t2 row", latest)
	}

	ms, err := fx.odds.Movements(ctx, domain.MarketSpread, domain.MovementFilter{GameID: "G1", BookmakerID: fx.book.ID})
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	var withPrev []domain.Movement
	for _, m := range ms {
		if m.Field(domain.FieldHomeSpread).Previous != nil {
			withPrev = append(withPrev, m)
		}
	}
	if len(withPrev) != 1 {
		t.Fatalf("got %d rows with a predecessor, want 1", len(withPrev))
	}
	fd := withPrev[0].Field(domain.FieldHomeSpread)
	if *fd.Previous != -3.5 || *fd.Delta != 0.5 {
		t.Fatalf("prev=%v delta=%v, want -3.5 and +0.5", *fd.Previous, *fd.Delta)
	}
}

func TestScenarioBackfillKeepsLatest(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	t1 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(6 * time.Hour)

	r2, err := fx.odds.Record(ctx, fx.spread("G1", t2, -3.0))
	if err != nil {
		t.Fatal(err)
	}
	r1, err := fx.odds.Record(ctx, fx.spread("G1", t1, -3.5))
	if err != nil {
		t.Fatal(err)
	}
	if !r1.Inserted || r1.Promoted {
		t.Fatalf("backfill result = %+v, want inserted but not promoted", r1)
	}

	latest := latestRows(t, fx, "G1")
	if len(latest) != 1 || latest[0].ID != r2.ID {
		t.Fatalf("latest = %+v, want only the t2 row", latest)
	}
}

func TestLatestIsPerPartition(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1", "G2")
	fd, err := fx.refs.EnsureBookmaker(ctx, "fanduel", "FanDuel")
	if err != nil {
		t.Fatal(err)
	}
	ts := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	for _, o := range []domain.Observation{
		fx.spread("G1", ts, -3),
		fx.spread("G2", ts, 1),
		{Market: domain.MarketSpread, GameID: "G1", BookmakerID: fd.ID, SnapshotTime: ts.Add(-time.Hour),
			Prices: domain.Prices{HomeSpread: f(-2.5)}},
		{Market: domain.MarketMoneyline, GameID: "G1", BookmakerID: fx.book.ID, SnapshotTime: ts.Add(-2 * time.Hour),
			Prices: domain.Prices{HomePrice: f(-160), AwayPrice: f(140)}},
	} {
		res, err := fx.odds.Record(ctx, o)
		if err != nil {
			t.Fatalf("record: %v", err)
		}
		if !res.Promoted {
			t.Fatalf("first row of each partition should be promoted: %+v", o)
		}
	}

	cur, err := fx.odds.Current(ctx, "G1", domain.MarketSpread)
	if err != nil {
		t.Fatal(err)
	}
	if len(cur) != 2 {
		t.Fatalf("current spreads for G1 = %d, want one per bookmaker", len(cur))
	}
}

func TestRecordReferenceMissing(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	ts := time.Now()

	_, err := fx.odds.Record(ctx, fx.spread("nope", ts, -3))
	if !errors.Is(err, domain.ErrReferenceMissing) {
		t.Fatalf("unknown game: err = %v, want ErrReferenceMissing", err)
	}

	o := fx.spread("G1", ts, -3)
	o.BookmakerID = 999
	_, err = fx.odds.Record(ctx, o)
	if !errors.Is(err, domain.ErrReferenceMissing) {
		t.Fatalf("unknown bookmaker: err = %v, want ErrReferenceMissing", err)
	}
}

func TestRecordConcurrentWritersLeaveOneLatest(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	t0 := time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ts := t0.Add(time.Duration(i%25) * time.Minute)
			if _, err := fx.odds.Record(ctx, fx.spread("G1", ts, -3)); err != nil {
				t.Errorf("record: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, _ := fx.odds.Count(ctx, domain.MarketSpread)
	if n != 25 {
		t.Fatalf("got %d rows, want 25 distinct snapshots", n)
	}
	latest := latestRows(t, fx, "G1")
	if len(latest) != 1 || !latest[0].SnapshotTime.Equal(t0.Add(24*time.Minute)) {
		t.Fatalf("latest = %+v, want single row at max snapshot", latest)
	}
}

func TestCompleteGameIdempotentAndConflict(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")
	at := time.Date(2024, 9, 6, 0, 0, 0, 0, time.UTC)

	if _, err := fx.games.CompleteGame(ctx, "G1", 27, 20, at); err != nil {
		t.Fatalf("complete: %v", err)
	}
	g, err := fx.games.CompleteGame(ctx, "G1", 27, 20, at.Add(time.Hour))
	if err != nil {
		t.Fatalf("repeat complete: %v", err)
	}
	if !g.CompletedAt.Equal(at) {
		t.Fatalf("idempotent completion changed completed_at to %v", g.CompletedAt)
	}

	_, err = fx.games.CompleteGame(ctx, "G1", 24, 20, at)
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
	v, _ := fx.games.Get(ctx, "G1")
	if !v.SameScore(27, 20) {
		t.Fatalf("first score must stay intact, got %d-%d", *v.HomeScore, *v.AwayScore)
	}

	if _, err := fx.games.CompleteGame(ctx, "missing", 1, 0, at); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown game: err = %v, want ErrNotFound", err)
	}
}

func TestCorrectScoreOverwrites(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")

	if _, err := fx.games.CorrectScore(ctx, "G1", 1, 0); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("correcting a scheduled game: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := fx.games.CompleteGame(ctx, "G1", 27, 20, time.Now()); err != nil {
		t.Fatal(err)
	}
	g, err := fx.games.CorrectScore(ctx, "G1", 24, 20)
	if err != nil {
		t.Fatalf("correct: %v", err)
	}
	if !g.SameScore(24, 20) {
		t.Fatalf("score = %d-%d, want 24-20", *g.HomeScore, *g.AwayScore)
	}
}

func TestUpsertGameKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)
	other, _ := fx.refs.EnsureSport(ctx, "basketball_nba", "NBA")

	start := time.Date(2024, 9, 8, 17, 0, 0, 0, time.UTC)
	first, err := fx.games.UpsertGame(ctx, fx.upsert("G2", start))
	if err != nil {
		t.Fatal(err)
	}

	in := fx.upsert("G2", start.Add(3*time.Hour))
	in.SportID = other.ID
	second, err := fx.games.UpsertGame(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if !second.CommenceTime.Equal(start.Add(3 * time.Hour)) {
		t.Fatalf("start time not updated: %v", second.CommenceTime)
	}
	if second.ID != first.ID || second.SportID != first.SportID {
		t.Fatalf("identity changed: %+v -> %+v", first, second)
	}
}

func TestUpsertGameStatusIsMonotonic(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t, "G1")

	in := fx.upsert("G1", time.Now())
	in.Status = domain.StatusInProgress
	g, err := fx.games.UpsertGame(ctx, in)
	if err != nil || g.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, err = %v", g.Status, err)
	}

	in.Status = domain.StatusScheduled
	g, _ = fx.games.UpsertGame(ctx, in)
	if g.Status != domain.StatusInProgress {
		t.Fatalf("reverse transition applied: %s", g.Status)
	}

	in.Status = domain.StatusCompleted
	if _, err := fx.games.UpsertGame(ctx, in); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestUpsertGameUnknownTeam(t *testing.T) {
	fx := newFixture(t)
	in := fx.upsert("G3", time.Now())
	in.HomeTeamID = 12345
	if _, err := fx.games.UpsertGame(context.Background(), in); !errors.Is(err, domain.ErrReferenceMissing) {
		t.Fatalf("err = %v, want ErrReferenceMissing", err)
	}
}

func TestEnsureReferenceIsLookupOrCreate(t *testing.T) {
	ctx := context.Background()
	fx := newFixture(t)

	again, err := fx.refs.EnsureBookmaker(ctx, "draftkings", "")
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != fx.book.ID || again.Title != "DraftKings" {
		t.Fatalf("got %+v, want existing bookmaker", again)
	}

	renamed, _ := fx.refs.EnsureBookmaker(ctx, "draftkings", "DraftKings Sportsbook")
	if renamed.ID != fx.book.ID || renamed.Title != "DraftKings Sportsbook" {
		t.Fatalf("title correction failed: %+v", renamed)
	}

	// A title equal to the key is still a correction.
	keyed, _ := fx.refs.EnsureBookmaker(ctx, "draftkings", "draftkings")
	if keyed.Title != "draftkings" {
		t.Fatalf("title = %q, want draftkings", keyed.Title)
	}

	team, _ := fx.refs.EnsureTeam(ctx, "Kansas City Chiefs", fx.sport.ID)
	if team.ID != fx.home.ID {
		t.Fatalf("team lookup created a duplicate: %d vs %d", team.ID, fx.home.ID)
	}
}

func TestSnapshotInsertIsAppendOnly(t *testing.T) {
	ctx := context.Background()
	db := New()
	s := NewSnapshotStore(db)
	ts := time.Date(2024, 1, 15, 18, 0, 0, 0, time.UTC)

	snap, created, err := s.Insert(ctx, domain.ApiSnapshot{SportKey: "americanfootball_nfl", SnapshotTime: ts, GamesCount: 3})
	if err != nil || !created {
		t.Fatalf("insert: created=%v err=%v", created, err)
	}
	again, created, err := s.Insert(ctx, domain.ApiSnapshot{SportKey: "americanfootball_nfl", SnapshotTime: ts, GamesCount: 9})
	if err != nil || created {
		t.Fatalf("second insert: created=%v err=%v", created, err)
	}
	if again.ID != snap.ID || again.GamesCount != 3 {
		t.Fatalf("existing row should be returned unchanged, got %+v", again)
	}
}
