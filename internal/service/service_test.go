package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
	"github.com/alanyoungcy/oddsledger/internal/platform/nflverse"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsledger/internal/store/memory"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

type fakeBus struct {
	mu   sync.Mutex
	msgs map[string][][]byte
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.msgs == nil {
		b.msgs = map[string][][]byte{}
	}
	b.msgs[channel] = append(b.msgs[channel], payload)
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs[channel])
}

type fakeCache struct {
	mu       sync.Mutex
	set      []domain.Observation
	rows     map[string]map[int64]domain.Observation
	complete map[string]bool
	fills    int
}

func cacheKey(gameID string, m domain.Market) string { return gameID + "|" + string(m) }

func (c *fakeCache) put(obs domain.Observation) {
	if c.rows == nil {
		c.rows = map[string]map[int64]domain.Observation{}
	}
	k := cacheKey(obs.GameID, obs.Market)
	if c.rows[k] == nil {
		c.rows[k] = map[int64]domain.Observation{}
	}
	if cur, ok := c.rows[k][obs.BookmakerID]; ok && !cur.SnapshotTime.Before(obs.SnapshotTime) {
		return
	}
	c.rows[k][obs.BookmakerID] = obs
}

func (c *fakeCache) SetCurrent(_ context.Context, obs domain.Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = append(c.set, obs)
	c.put(obs)
	return nil
}

func (c *fakeCache) FillCurrent(_ context.Context, gameID string, m domain.Market, obs []domain.Observation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fills++
	for _, o := range obs {
		c.put(o)
	}
	if c.complete == nil {
		c.complete = map[string]bool{}
	}
	c.complete[cacheKey(gameID, m)] = true
	return nil
}

func (c *fakeCache) GetCurrent(_ context.Context, gameID string, m domain.Market) ([]domain.Observation, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := cacheKey(gameID, m)
	if !c.complete[k] {
		return nil, false, nil
	}
	var out []domain.Observation
	for _, o := range c.rows[k] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookmakerID < out[j].BookmakerID })
	return out, true, nil
}

// flush drops everything, as a Redis restart would.
func (c *fakeCache) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows, c.complete = nil, nil
}

type recordSender struct {
	mu     sync.Mutex
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordSender) Name() string { return "record" }

type harness struct {
	db       *memory.DB
	refs     *memory.ReferenceStore
	gameSt   *memory.GameStore
	oddsSt   *memory.OddsStore
	snaps    *memory.SnapshotStore
	outSt    *memory.OutcomeStore
	audit    *memory.AuditStore
	bus      *fakeBus
	cache    *fakeCache
	sender   *recordSender
	games    *GameService
	odds     *OddsService
	ingest   *IngestService
	outcomes *OutcomeService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := memory.New()
	h := &harness{
		db:     db,
		refs:   memory.NewReferenceStore(db),
		gameSt: memory.NewGameStore(db),
		oddsSt: memory.NewOddsStore(db),
		snaps:  memory.NewSnapshotStore(db),
		outSt:  memory.NewOutcomeStore(db),
		audit:  memory.NewAuditStore(db),
		bus:    &fakeBus{},
		cache:  &fakeCache{},
		sender: &recordSender{},
	}
	log := discardLogger()
	notifier := notify.NewNotifier([]notify.Sender{h.sender}, nil, log)
	h.games = NewGameService(h.gameSt, h.bus, h.audit, notifier, log)
	h.odds = NewOddsService(h.oddsSt, h.oddsSt, h.cache, h.bus, h.audit, log)
	h.ingest = NewIngestService(h.refs, h.games, h.odds, log)
	h.outcomes = NewOutcomeService(h.gameSt, h.oddsSt, h.outSt, log)
	return h
}

func (h *harness) auditEvents(t *testing.T) []string {
	t.Helper()
	entries, err := h.audit.List(context.Background(), domain.AuditFilter{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Event)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

var kickoff = time.Date(2024, 9, 6, 0, 20, 0, 0, time.UTC)

func sampleEvent(homePrice float64) oddsapi.Event {
	raw, _ := json.Marshal(map[string]string{"id": "ev1"})
	return oddsapi.Event{
		ID:           "ev1",
		SportKey:     "americanfootball_nfl",
		SportTitle:   "NFL",
		CommenceTime: kickoff,
		HomeTeam:     "Kansas City Chiefs",
		AwayTeam:     "Baltimore Ravens",
		Raw:          raw,
		Bookmakers: []oddsapi.Bookmaker{{
			Key:   "draftkings",
			Title: "DraftKings",
			Markets: []oddsapi.MarketOdds{
				{Key: "h2h", Outcomes: []oddsapi.Outcome{
					{Name: "Kansas City Chiefs", Price: fp(homePrice)},
					{Name: "Baltimore Ravens", Price: fp(130)},
				}},
				{Key: "spreads", Outcomes: []oddsapi.Outcome{
					{Name: "Kansas City Chiefs", Price: fp(-110), Point: fp(-3.5)},
					{Name: "Baltimore Ravens", Price: fp(-110), Point: fp(3.5)},
				}},
				{Key: "totals", Outcomes: []oddsapi.Outcome{
					{Name: "Over", Price: fp(-105), Point: fp(46.5)},
					{Name: "Under", Price: fp(-115), Point: fp(46.5)},
				}},
				{Key: "player_props"},
			},
		}},
	}
}

func TestIngestCountsAndIdempotency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ts := time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC)

	counts, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-150)}, ts)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	want := IngestCounts{Games: 1, Moneylines: 1, Spreads: 1, Totals: 1, Promoted: 3}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}
	if h.bus.count(domain.ChannelOddsLatest) != 3 || len(h.cache.set) != 3 {
		t.Fatalf("side effects: published %d, cached %d", h.bus.count(domain.ChannelOddsLatest), len(h.cache.set))
	}

	counts, err = h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-150)}, ts)
	if err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	if counts.Inserted() != 0 || counts.Duplicates != 3 || counts.Promoted != 0 || counts.Conflicts != 0 {
		t.Fatalf("re-ingest counts = %+v", counts)
	}
	n, _ := h.oddsSt.Count(ctx, domain.MarketSpread)
	if n != 1 {
		t.Fatalf("spread rows = %d", n)
	}
}

func TestIngestCorrectionIsRejectedAndAudited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ts := time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC)

	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-150)}, ts); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	counts, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-160)}, ts)
	if err != nil {
		t.Fatalf("ingest correction: %v", err)
	}
	if counts.Conflicts != 1 || counts.Duplicates != 3 {
		t.Fatalf("counts = %+v", counts)
	}
	if !contains(h.auditEvents(t), "observation_correction_rejected") {
		t.Fatal("correction was not audited")
	}

	game, _ := h.gameSt.Get(ctx, "ev1")
	current, _ := h.oddsSt.Current(ctx, game.ID, domain.MarketMoneyline)
	if len(current) != 1 || *current[0].Prices.HomePrice != -150 {
		t.Fatalf("stored price changed: %+v", current)
	}
}

func twoBookEvent(homePrice float64) oddsapi.Event {
	ev := sampleEvent(homePrice)
	ev.Bookmakers = append(ev.Bookmakers, oddsapi.Bookmaker{
		Key:   "fanduel",
		Title: "FanDuel",
		Markets: []oddsapi.MarketOdds{{Key: "h2h", Outcomes: []oddsapi.Outcome{
			{Name: "Kansas City Chiefs", Price: fp(-140)},
			{Name: "Baltimore Ravens", Price: fp(120)},
		}}},
	})
	return ev
}

func TestCurrentIgnoresPartialCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	t0 := time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC)

	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{twoBookEvent(-150)}, t0); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	h.cache.flush()

	// One promotion after the flush leaves a single bookmaker in the cache.
	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-155)}, t0.Add(time.Hour)); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	cur, err := h.odds.Current(ctx, "ev1", domain.MarketMoneyline)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if len(cur) != 2 {
		t.Fatalf("current rows = %d, want 2", len(cur))
	}
	if h.cache.fills != 1 {
		t.Fatalf("fills = %d, want 1", h.cache.fills)
	}

	// Filled: later reads and promotions are served from the cache.
	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-160)}, t0.Add(2*time.Hour)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	cur, err = h.odds.Current(ctx, "ev1", domain.MarketMoneyline)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if h.cache.fills != 1 || len(cur) != 2 {
		t.Fatalf("fills = %d, rows = %d", h.cache.fills, len(cur))
	}
	var prices []float64
	for _, o := range cur {
		prices = append(prices, *o.Prices.HomePrice)
	}
	sort.Float64s(prices)
	if prices[0] != -160 || prices[1] != -140 {
		t.Fatalf("home prices = %v", prices)
	}
}

func TestObservationMapping(t *testing.T) {
	ev := sampleEvent(-150)
	mk := ev.Bookmakers[0].Markets

	spread := Observation(ev, mk[1], domain.MarketSpread)
	if *spread.Prices.HomeSpread != -3.5 || *spread.Prices.AwaySpread != 3.5 || *spread.Prices.HomePrice != -110 {
		t.Fatalf("spread = %+v", spread.Prices)
	}

	total := Observation(ev, mk[2], domain.MarketTotal)
	if *total.Prices.TotalLine != 46.5 || *total.Prices.OverPrice != -105 || *total.Prices.UnderPrice != -115 {
		t.Fatalf("total = %+v", total.Prices)
	}

	threeWay := oddsapi.MarketOdds{Key: "h2h", Outcomes: []oddsapi.Outcome{
		{Name: "Kansas City Chiefs", Price: fp(200)},
		{Name: "Draw", Price: fp(250)},
	}}
	ml := Observation(ev, threeWay, domain.MarketMoneyline)
	if ml.Prices.AwayPrice != nil || *ml.Prices.DrawPrice != 250 {
		t.Fatalf("moneyline = %+v", ml.Prices)
	}
	if len(ml.RawOutcomes) == 0 {
		t.Fatal("raw outcomes not kept")
	}
}

func (h *harness) seedCompleted(t *testing.T, home, away int) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-150)}, kickoff.Add(-time.Hour)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := h.games.Complete(ctx, "ev1", home, away, kickoff.Add(4*time.Hour)); err != nil {
		t.Fatalf("complete: %v", err)
	}
}

func TestGameServiceConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCompleted(t, 27, 20)

	if _, err := h.games.Complete(ctx, "ev1", 27, 20, time.Now()); err != nil {
		t.Fatalf("repeat completion: %v", err)
	}
	_, err := h.games.Complete(ctx, "ev1", 24, 20, time.Now())
	if !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}

	g, _ := h.gameSt.Get(ctx, "ev1")
	if !g.SameScore(27, 20) {
		t.Fatalf("score overwritten: %v-%v", *g.HomeScore, *g.AwayScore)
	}
	if !contains(h.auditEvents(t), "game_state_conflict") {
		t.Fatal("conflict not audited")
	}
	if len(h.sender.titles) != 1 || h.bus.count(domain.ChannelGameConflict) != 1 {
		t.Fatalf("notified %d, published %d", len(h.sender.titles), h.bus.count(domain.ChannelGameConflict))
	}
	if h.bus.count(domain.ChannelGameCompleted) != 1 {
		t.Fatalf("completed events = %d, want 1", h.bus.count(domain.ChannelGameCompleted))
	}

	// Repeating the same conflict does not report it again.
	if _, err := h.games.Complete(ctx, "ev1", 24, 20, time.Now()); !errors.Is(err, domain.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
	if len(h.sender.titles) != 1 || countEvents(h.auditEvents(t), "game_state_conflict") != 1 {
		t.Fatalf("notified %d, audit %v", len(h.sender.titles), h.auditEvents(t))
	}
}

func TestGradeGame(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedCompleted(t, 27, 20)

	n, err := h.outcomes.GradeGame(ctx, "ev1")
	if err != nil {
		t.Fatalf("grade: %v", err)
	}
	if n != 6 {
		t.Fatalf("outcomes = %d, want 6", n)
	}
	out, _ := h.outcomes.ListByGame(ctx, "ev1")
	results := map[string]domain.OutcomeResult{}
	for _, o := range out {
		results[string(o.Market)+":"+o.Selection] = o.Result
	}
	want := map[string]domain.OutcomeResult{
		"moneyline:home": domain.ResultWin,
		"moneyline:away": domain.ResultLoss,
		"spread:home":    domain.ResultWin,
		"spread:away":    domain.ResultLoss,
		"total:over":     domain.ResultWin,
		"total:under":    domain.ResultLoss,
	}
	for k, v := range want {
		if results[k] != v {
			t.Errorf("%s = %q, want %q", k, results[k], v)
		}
	}

	// Regrading after a score correction replaces the earlier results.
	if _, err := h.games.CorrectScore(ctx, "ev1", 20, 20); err != nil {
		t.Fatalf("correct: %v", err)
	}
	if _, err := h.outcomes.GradeGame(ctx, "ev1"); err != nil {
		t.Fatalf("regrade: %v", err)
	}
	out, _ = h.outcomes.ListByGame(ctx, "ev1")
	if len(out) != 6 {
		t.Fatalf("outcomes after regrade = %d", len(out))
	}
	for _, o := range out {
		if o.Market == domain.MarketMoneyline && o.Result != domain.ResultPush {
			t.Errorf("tied moneyline %s = %q, want push", o.Selection, o.Result)
		}
	}
}

func TestGradeGameRequiresCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-150)}, kickoff); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := h.outcomes.GradeGame(ctx, "ev1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
}

func TestPlan(t *testing.T) {
	start := time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)

	p := Plan(start, end, 24*time.Hour)
	if p.Calls != 212 || p.Days != 211 || p.EstimatedCredits != 2120 {
		t.Fatalf("plan = %+v", p)
	}
	if p.EstimatedDuration != 424*time.Second {
		t.Fatalf("duration = %v", p.EstimatedDuration)
	}
	steps := p.Steps()
	if len(steps) != 212 || steps[0].Hour() != 12 || !steps[211].Equal(time.Date(2025, 2, 28, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("steps = %v .. %v", steps[0], steps[len(steps)-1])
	}

	half := Plan(start, start.AddDate(0, 0, 1), 12*time.Hour)
	if half.Calls != 3 {
		t.Fatalf("12h plan calls = %d", half.Calls)
	}
	if empty := Plan(end, start, time.Hour); empty.Calls != 0 {
		t.Fatalf("reversed plan calls = %d", empty.Calls)
	}
}

func TestSeasons(t *testing.T) {
	seasons := Seasons()
	if len(seasons) != 5 || seasons[0].Year != 2021 || seasons[4].Year != 2025 {
		t.Fatalf("seasons = %+v", seasons)
	}
	leap := SeasonFor(2023)
	if !leap.End.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("2023 season end = %v", leap.End)
	}
	plans := PlanSeasons(2023, 2024, 24*time.Hour)
	if len(plans) != 2 || plans[1].Plan.Calls != 212 {
		t.Fatalf("plans = %+v", plans)
	}
}

type fakeFetcher struct {
	calls []time.Time
	fail  map[int]bool
}

func (f *fakeFetcher) HistoricalOdds(_ context.Context, _ oddsapi.OddsRequest, at time.Time) (oddsapi.HistoricalResponse, error) {
	f.calls = append(f.calls, at)
	if f.fail[len(f.calls)] {
		return oddsapi.HistoricalResponse{}, errors.New("upstream 500")
	}
	return oddsapi.HistoricalResponse{
		Timestamp: at.Add(-5 * time.Minute),
		Events:    []oddsapi.Event{sampleEvent(-150 - float64(len(f.calls)))},
		Quota:     oddsapi.Quota{Remaining: 1000 - len(f.calls)},
		Body:      []byte(`{"data":[]}`),
	}, nil
}

func newBackfill(h *harness, f HistoricalFetcher, dryRun bool) *BackfillService {
	svc := NewBackfillService(f, h.ingest, h.snaps, nil, nil, nil, BackfillConfig{
		Request: oddsapi.OddsRequest{Sport: "americanfootball_nfl"},
		DryRun:  dryRun,
	}, discardLogger())
	svc.sleep = func(context.Context, time.Duration) error { return nil }
	return svc
}

func TestBackfill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	f := &fakeFetcher{fail: map[int]bool{2: true}}
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	res, err := newBackfill(h, f, false).Backfill(ctx, start, start.AddDate(0, 0, 2), 24*time.Hour)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if res.Steps != 3 || res.Failed != 1 || res.Snapshots != 2 || res.Remaining != 997 {
		t.Fatalf("result = %+v", res)
	}
	if !f.calls[0].Equal(time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("first step = %v", f.calls[0])
	}

	snaps, _ := h.snaps.List(ctx, "americanfootball_nfl", domain.ListOpts{})
	if len(snaps) != 2 {
		t.Fatalf("snapshots = %d", len(snaps))
	}
	for _, s := range snaps {
		if s.GamesCount != 1 || s.TotalOddsCount != 3 {
			t.Errorf("snapshot counts = %d games, %d odds", s.GamesCount, s.TotalOddsCount)
		}
	}

	// The latest flag follows the greatest snapshot time: the third step.
	current, _ := h.oddsSt.Current(ctx, "ev1", domain.MarketMoneyline)
	if len(current) != 1 || *current[0].Prices.HomePrice != -153 {
		t.Fatalf("current = %+v", current)
	}
}

func TestBackfillDryRun(t *testing.T) {
	h := newHarness(t)
	f := &fakeFetcher{}
	start := time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC)

	res, err := newBackfill(h, f, true).Backfill(context.Background(), start, start.AddDate(0, 0, 9), 24*time.Hour)
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if !res.DryRun || res.Plan.Calls != 10 || res.Steps != 0 || len(f.calls) != 0 {
		t.Fatalf("dry run = %+v, calls %d", res, len(f.calls))
	}
}

type fakeScores struct {
	games []nflverse.Game
}

func (f *fakeScores) Games(context.Context, []int) ([]nflverse.Game, error) {
	return f.games, nil
}

func TestScoresSync(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.ingest.Ingest(ctx, []oddsapi.Event{sampleEvent(-150)}, kickoff.Add(-time.Hour)); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	teams, err := nflverse.LoadTeamMap("")
	if err != nil {
		t.Fatal(err)
	}

	feed := &fakeScores{games: []nflverse.Game{
		// Thursday night game: the feed's local date is the day before the
		// UTC kickoff date.
		{ID: "2024_01_BAL_KC", GameDay: time.Date(2024, 9, 5, 0, 0, 0, 0, time.UTC),
			HomeTeam: "KC", AwayTeam: "BAL", HomeScore: ip(27), AwayScore: ip(20)},
		{ID: "2024_01_GB_PHI", GameDay: time.Date(2024, 9, 6, 0, 0, 0, 0, time.UTC),
			HomeTeam: "PHI", AwayTeam: "GB", HomeScore: ip(34), AwayScore: ip(29)},
		{ID: "2024_18_KC_DEN", GameDay: time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC),
			HomeTeam: "DEN", AwayTeam: "KC"},
	}}
	cfg := ScoresConfig{SportKey: "americanfootball_nfl", MatchWindow: 24 * time.Hour}

	dry := cfg
	dry.DryRun = true
	res, err := NewScoresService(feed, teams, h.games, h.outcomes, dry, discardLogger()).Sync(ctx)
	if err != nil {
		t.Fatalf("dry sync: %v", err)
	}
	if res.Matched != 1 || res.Updated != 0 || len(res.Updates) != 1 {
		t.Fatalf("dry result = %+v", res)
	}
	if g, _ := h.gameSt.Get(ctx, "ev1"); g.Status == domain.StatusCompleted {
		t.Fatal("dry run completed the game")
	}

	svc := NewScoresService(feed, teams, h.games, h.outcomes, cfg, discardLogger())
	res, err = svc.Sync(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if res.Fetched != 3 || res.Matched != 1 || res.Updated != 1 || res.Graded != 6 {
		t.Fatalf("result = %+v", res)
	}

	res, _ = svc.Sync(ctx)
	if res.Unchanged != 1 || res.Updated != 0 {
		t.Fatalf("repeat result = %+v", res)
	}

	feed.games[0].HomeScore = ip(30)
	res, err = svc.Sync(ctx)
	if err != nil {
		t.Fatalf("conflict sync: %v", err)
	}
	if res.Conflicts != 1 || res.Updated != 0 {
		t.Fatalf("conflict result = %+v", res)
	}
	if g, _ := h.gameSt.Get(ctx, "ev1"); !g.SameScore(27, 20) {
		t.Fatal("conflicting score overwrote the stored one")
	}

	// A known conflict is counted on every run but reported once, also by a
	// fresh service reading the same audit log.
	res, _ = svc.Sync(ctx)
	if res.Conflicts != 1 {
		t.Fatalf("repeat conflict result = %+v", res)
	}
	restarted := NewGameService(h.gameSt, h.bus, h.audit, notify.NewNotifier([]notify.Sender{h.sender}, nil, discardLogger()), discardLogger())
	res, _ = NewScoresService(feed, teams, restarted, h.outcomes, cfg, discardLogger()).Sync(ctx)
	if res.Conflicts != 1 {
		t.Fatalf("restarted conflict result = %+v", res)
	}
	if n := countEvents(h.auditEvents(t), "game_state_conflict"); n != 1 {
		t.Fatalf("conflict audit rows = %d, want 1", n)
	}
	if len(h.sender.titles) != 1 || h.bus.count(domain.ChannelGameConflict) != 1 {
		t.Fatalf("notified %d, published %d", len(h.sender.titles), h.bus.count(domain.ChannelGameConflict))
	}

	// A different reported score is a new conflict.
	feed.games[0].HomeScore = ip(31)
	_, _ = svc.Sync(ctx)
	if len(h.sender.titles) != 2 {
		t.Fatalf("notified %d, want 2", len(h.sender.titles))
	}
}

func countEvents(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}
