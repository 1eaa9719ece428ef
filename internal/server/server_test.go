package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/oddsledger/internal/arbitrage"
	"github.com/alanyoungcy/oddsledger/internal/cache/local"
	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsledger/internal/server/handler"
	"github.com/alanyoungcy/oddsledger/internal/server/ws"
	"github.com/alanyoungcy/oddsledger/internal/service"
	"github.com/alanyoungcy/oddsledger/internal/store/memory"
)

func fp(v float64) *float64 { return &v }

type fakeLimiter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.calls == nil {
		l.calls = map[string]int{}
	}
	l.calls[key]++
	return l.calls[key] <= limit, nil
}

func (l *fakeLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

type fakeRunner struct {
	err error
}

func (f fakeRunner) Query(_ context.Context, sql string, maxRows int) (domain.QueryResult, error) {
	if f.err != nil {
		return domain.QueryResult{}, f.err
	}
	return domain.QueryResult{Columns: []string{"n"}, Rows: [][]any{{1}}, Truncated: maxRows < 1}, nil
}

type env struct {
	srv    *Server
	db     *memory.DB
	bus    *local.SignalBus
	hub    *ws.Hub
	games  *service.GameService
	grader *service.OutcomeService
	snaps  *memory.SnapshotStore
	audit  *memory.AuditStore
}

type envOpts struct {
	cfg     Config
	runner  domain.QueryRunner
	limiter domain.RateLimiter
}

func newEnv(t *testing.T, o envOpts) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	db := memory.New()
	refs := memory.NewReferenceStore(db)
	gameSt := memory.NewGameStore(db)
	oddsSt := memory.NewOddsStore(db)
	outSt := memory.NewOutcomeStore(db)
	audit := memory.NewAuditStore(db)
	snaps := memory.NewSnapshotStore(db)
	bus := local.NewSignalBus()

	games := service.NewGameService(gameSt, bus, audit, nil, log)
	odds := service.NewOddsService(oddsSt, oddsSt, nil, bus, audit, log)
	ingest := service.NewIngestService(refs, games, odds, log)
	outcomes := service.NewOutcomeService(gameSt, oddsSt, outSt, log)

	ev := oddsapi.Event{
		ID:           "ev1",
		SportKey:     "americanfootball_nfl",
		SportTitle:   "NFL",
		CommenceTime: time.Date(2024, 9, 6, 0, 20, 0, 0, time.UTC),
		HomeTeam:     "Kansas City Chiefs",
		AwayTeam:     "Baltimore Ravens",
		Bookmakers: []oddsapi.Bookmaker{{
			Key:   "fanduel",
			Title: "FanDuel",
			Markets: []oddsapi.MarketOdds{
				{Key: "h2h", Outcomes: []oddsapi.Outcome{
					{Name: "Kansas City Chiefs", Price: fp(-150)},
					{Name: "Baltimore Ravens", Price: fp(130)},
				}},
			},
		}},
	}
	ctx := context.Background()
	for i, price := range []float64{-150, -165} {
		ev.Bookmakers[0].Markets[0].Outcomes[0].Price = fp(price)
		ts := time.Date(2024, 9, 5, 12+i, 0, 0, 0, time.UTC)
		if _, err := ingest.Ingest(ctx, []oddsapi.Event{ev}, ts); err != nil {
			t.Fatalf("seed ingest: %v", err)
		}
	}

	detector := arbitrage.NewDetector(arbitrage.DetectorConfig{
		Strategies: []arbitrage.Strategy{arbitrage.NewTwoWay(log)},
		Odds:       odds,
		Bus:        bus,
		Logger:     log,
	})
	hub := ws.NewHub(bus, log, ws.Config{Mode: "server"})
	h := Handlers{
		Health:    handler.NewHealthHandler(log),
		Status:    handler.NewStatusHandler("server", "memory", db, nil, log),
		Reference: handler.NewReferenceHandler(refs, log),
		Games:     handler.NewGameHandler(games, outcomes, log),
		Odds:      handler.NewOddsHandler(games, odds, log),
		Snapshots: handler.NewSnapshotHandler(snaps, log),
		Query:     handler.NewQueryHandler(o.runner, 100, log),
		Audit:     handler.NewAuditHandler(audit, log),
		Arbitrage: handler.NewArbitrageHandler(games, detector, log),
	}
	return &env{
		srv:    NewServer(o.cfg, h, hub, o.limiter, log),
		db:     db,
		bus:    bus,
		hub:    hub,
		games:  games,
		grader: outcomes,
		snaps:  snaps,
		audit:  audit,
	}
}

func (e *env) do(t *testing.T, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestRoutes(t *testing.T) {
	e := newEnv(t, envOpts{})

	tests := []struct {
		target string
		status int
		key    string
	}{
		{"/api/health", http.StatusOK, "status"},
		{"/api/status", http.StatusOK, "tables"},
		{"/api/sports", http.StatusOK, "sports"},
		{"/api/bookmakers", http.StatusOK, "bookmakers"},
		{"/api/games", http.StatusOK, "games"},
		{"/api/games/ev1", http.StatusOK, "home_team"},
		{"/api/games/ev1/odds", http.StatusOK, "odds"},
		{"/api/games/ev1/outcomes", http.StatusOK, "outcomes"},
		{"/api/movements/h2h?game=ev1", http.StatusOK, "movements"},
		{"/api/snapshots", http.StatusOK, "snapshots"},
		{"/api/games/ev1/arbitrage", http.StatusOK, "opportunities"},
		{"/api/audit?event=observation_correction_rejected", http.StatusOK, "entries"},
		{"/api/audit?limit=-1", http.StatusBadRequest, "error"},
		{"/api/games/missing/arbitrage", http.StatusNotFound, "error"},
		{"/api/games/missing", http.StatusNotFound, "error"},
		{"/api/games/missing/odds", http.StatusNotFound, "error"},
		{"/api/movements/props", http.StatusBadRequest, "error"},
		{"/api/games?status=postponed", http.StatusBadRequest, "error"},
		{"/api/games?limit=abc", http.StatusBadRequest, "error"},
		{"/api/games?since=yesterday", http.StatusBadRequest, "error"},
		{"/api/games/ev1/odds?market=props", http.StatusBadRequest, "error"},
	}
	for _, tt := range tests {
		rec := e.do(t, http.MethodGet, tt.target, "", nil)
		if rec.Code != tt.status {
			t.Errorf("GET %s = %d, want %d (%s)", tt.target, rec.Code, tt.status, rec.Body.String())
			continue
		}
		if _, ok := decode(t, rec)[tt.key]; !ok {
			t.Errorf("GET %s: missing %q in %s", tt.target, tt.key, rec.Body.String())
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Errorf("GET %s: missing request id", tt.target)
		}
	}
}

func TestCurrentOddsAndMovements(t *testing.T) {
	e := newEnv(t, envOpts{})

	rec := e.do(t, http.MethodGet, "/api/games/ev1/odds?market=moneyline", "", nil)
	var cur struct {
		Odds map[string][]domain.Observation `json:"odds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cur); err != nil {
		t.Fatalf("decode: %v", err)
	}
	ml := cur.Odds["moneyline"]
	if len(ml) != 1 || !ml[0].IsLatest || *ml[0].Prices.HomePrice != -165 {
		t.Fatalf("current moneyline = %+v", ml)
	}

	rec = e.do(t, http.MethodGet, "/api/movements/moneyline?game=ev1", "", nil)
	var mv struct {
		Movements []domain.Movement `json:"movements"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &mv); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(mv.Movements) != 2 {
		t.Fatalf("movements = %d, want 2", len(mv.Movements))
	}
}

func TestOutcomesAfterGrading(t *testing.T) {
	e := newEnv(t, envOpts{})
	ctx := context.Background()
	if _, err := e.games.Complete(ctx, "ev1", 27, 20, time.Date(2024, 9, 6, 4, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.grader.GradeGame(ctx, "ev1"); err != nil {
		t.Fatalf("grade: %v", err)
	}

	rec := e.do(t, http.MethodGet, "/api/games/ev1/outcomes", "", nil)
	var body struct {
		Outcomes []domain.BetOutcome `json:"outcomes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(body.Outcomes))
	}
}

func TestSnapshotsOmitRawResponse(t *testing.T) {
	e := newEnv(t, envOpts{})
	_, _, err := e.snaps.Insert(context.Background(), domain.ApiSnapshot{
		SportKey:     "americanfootball_nfl",
		SnapshotTime: time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC),
		RawResponse:  json.RawMessage(`{"data":[]}`),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec := e.do(t, http.MethodGet, "/api/snapshots?sport=americanfootball_nfl", "", nil)
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), "raw_response") {
		t.Fatalf("snapshots = %d %s", rec.Code, rec.Body.String())
	}
}

func TestQuery(t *testing.T) {
	e := newEnv(t, envOpts{})
	rec := e.do(t, http.MethodPost, "/api/query", `{"sql":"SELECT 1"}`, nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("memory query = %d, want 501", rec.Code)
	}

	e = newEnv(t, envOpts{runner: fakeRunner{}})
	if rec := e.do(t, http.MethodPost, "/api/query", `{"sql":"SELECT 1"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("query = %d %s", rec.Code, rec.Body.String())
	}
	if rec := e.do(t, http.MethodPost, "/api/query", `{"sql":"  "}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty sql = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodPost, "/api/query", `not json`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/query", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET query = %d, want 405", rec.Code)
	}

	e = newEnv(t, envOpts{runner: fakeRunner{err: errors.Join(domain.ErrReadOnly, errors.New("DELETE"))}})
	if rec := e.do(t, http.MethodPost, "/api/query", `{"sql":"DELETE FROM games"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("write query = %d, want 400", rec.Code)
	}
	e = newEnv(t, envOpts{runner: fakeRunner{err: errors.New("syntax error at or near")}})
	if rec := e.do(t, http.MethodPost, "/api/query", `{"sql":"SELEC"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("syntax error = %d, want 400", rec.Code)
	}
}

func TestAuditFilter(t *testing.T) {
	e := newEnv(t, envOpts{})
	ctx := context.Background()
	_ = e.audit.Log(ctx, "score_conflict", map[string]any{"game_id": "ev1"})
	_ = e.audit.Log(ctx, "snapshots_archived", map[string]any{"count": 3})

	rec := e.do(t, http.MethodGet, "/api/audit?event=score_conflict,unknown", "", nil)
	var out struct {
		Entries []domain.AuditEntry `json:"entries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Event != "score_conflict" || out.Entries[0].Detail["game_id"] != "ev1" {
		t.Fatalf("entries = %+v", out.Entries)
	}

	rec = e.do(t, http.MethodGet, "/api/audit?limit=1", "", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Entries) != 1 || out.Entries[0].Event != "snapshots_archived" {
		t.Fatalf("newest entry = %+v", out.Entries)
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t, envOpts{cfg: Config{APIKey: "secret"}})

	if rec := e.do(t, http.MethodGet, "/api/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("health without key = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/games", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("games without key = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/games", "", map[string]string{"X-API-Key": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Fatalf("games with wrong key = %d", rec.Code)
	}
	if rec := e.do(t, http.MethodGet, "/api/games", "", map[string]string{"Authorization": "Bearer secret"}); rec.Code != http.StatusOK {
		t.Fatalf("games with bearer = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	e := newEnv(t, envOpts{cfg: Config{RateLimitPerMinute: 2}, limiter: &fakeLimiter{}})
	hdr := map[string]string{"X-Forwarded-For": "203.0.113.9"}
	for i := range 2 {
		if rec := e.do(t, http.MethodGet, "/api/sports", "", hdr); rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
	rec := e.do(t, http.MethodGet, "/api/sports", "", hdr)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("third request = %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := e.do(t, http.MethodGet, "/api/sports", "", map[string]string{"X-Forwarded-For": "198.51.100.1"}); rec.Code != http.StatusOK {
		t.Fatalf("other client = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	e := newEnv(t, envOpts{cfg: Config{CORSOrigins: []string{"https://dash.example"}}})
	rec := e.do(t, http.MethodOptions, "/api/games", "", map[string]string{"Origin": "https://dash.example"})
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "https://dash.example" {
		t.Fatalf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestWebSocketReceivesBusEvents(t *testing.T) {
	e := newEnv(t, envOpts{cfg: Config{APIKey: "secret"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = e.hub.Run(ctx) }()

	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(url, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err=%v resp=%v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Type string `json:"type"`
		Data struct {
			Mode     string   `json:"mode"`
			Channels []string `json:"channels"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	if hello.Type != "hello" || hello.Data.Mode != "server" || len(hello.Data.Channels) != len(ws.Channels) {
		t.Fatalf("hello = %+v", hello)
	}

	if err := conn.WriteJSON(map[string]any{"action": "unsubscribe", "channels": []string{domain.ChannelOddsLatest}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	// The unsubscribe is applied asynchronously; give the read pump a moment.
	time.Sleep(50 * time.Millisecond)

	if _, err := e.games.Complete(ctx, "ev1", 27, 20, time.Date(2024, 9, 6, 4, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	_ = e.bus.Publish(ctx, domain.ChannelOddsLatest, []byte(`{"ignored":true}`))

	var ev struct {
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "event" || ev.Channel != domain.ChannelGameCompleted || !strings.Contains(string(ev.Data), "ev1") {
		t.Fatalf("event = %+v %s", ev, ev.Data)
	}
}
