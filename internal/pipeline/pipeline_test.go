package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"

	s3blob "github.com/alanyoungcy/oddsledger/internal/blob/s3"
	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/notify"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
	"github.com/alanyoungcy/oddsledger/internal/service"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type fakeLocks struct {
	mu     sync.Mutex
	held   bool
	keys   []string
	freed  int
	failAs error
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	if l.failAs != nil {
		return nil, l.failAs
	}
	return func() {
		l.mu.Lock()
		l.freed++
		l.mu.Unlock()
	}, nil
}

func TestSchedulerTriggerTakesLock(t *testing.T) {
	locks := &fakeLocks{}
	s := NewScheduler(testParser, time.UTC, locks, time.Minute, discardLogger())

	ran := make(chan struct{}, 1)
	if err := s.Add("scores", "0 0 8 * * *", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Stop()
	}()

	if err := s.Trigger("scores"); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	// The unlock runs after the job returns.
	deadline := time.Now().Add(time.Second)
	for {
		locks.mu.Lock()
		freed, keys := locks.freed, append([]string(nil), locks.keys...)
		locks.mu.Unlock()
		if freed == 1 {
			if len(keys) != 1 || keys[0] != "job:scores" {
				t.Fatalf("lock keys = %v", keys)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("lock was not released")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSchedulerSkipsWhenLockHeld(t *testing.T) {
	locks := &fakeLocks{failAs: domain.ErrLockHeld}
	s := NewScheduler(testParser, time.UTC, locks, time.Minute, discardLogger())

	ran := make(chan struct{}, 1)
	if err := s.Every("live_odds", time.Hour, func(context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("every: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	defer func() {
		cancel()
		s.Stop()
	}()

	_ = s.Trigger("live_odds")
	select {
	case <-ran:
		t.Fatal("job ran while the lock was held elsewhere")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSchedulerRejectsBadSpecs(t *testing.T) {
	s := NewScheduler(testParser, nil, nil, 0, discardLogger())
	noop := func(context.Context) error { return nil }
	if err := s.Add("bad", "not a cron spec", noop); err == nil {
		t.Error("expected error for bad spec")
	}
	if err := s.Every("bad", 0, noop); err == nil {
		t.Error("expected error for zero interval")
	}
	if err := s.Trigger("missing"); err == nil {
		t.Error("expected error for unknown job")
	}
}

type fakeFetcher struct {
	calls int
	quota oddsapi.Quota
	err   error
}

func (f *fakeFetcher) Odds(context.Context, oddsapi.OddsRequest) (oddsapi.OddsResponse, error) {
	f.calls++
	if f.err != nil {
		return oddsapi.OddsResponse{}, f.err
	}
	return oddsapi.OddsResponse{
		Events: []oddsapi.Event{{ID: "ev1"}},
		Quota:  f.quota,
		Body:   []byte(`[{"id":"ev1"}]`),
	}, nil
}

type fakeIngester struct {
	times []time.Time
}

func (f *fakeIngester) Ingest(_ context.Context, events []oddsapi.Event, ts time.Time) (service.IngestCounts, error) {
	f.times = append(f.times, ts)
	return service.IngestCounts{Games: len(events), Moneylines: 1, Promoted: 1}, nil
}

type fakeBlobs struct {
	paths []string
}

func (b *fakeBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if _, err := io.ReadAll(data); err != nil {
		return err
	}
	b.paths = append(b.paths, path)
	return nil
}

func (b *fakeBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

type fakeLimiter struct {
	allow bool
}

func (l fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

func (l fakeLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

type recordSender struct {
	titles []string
}

func (r *recordSender) Send(_ context.Context, title, _ string) error {
	r.titles = append(r.titles, title)
	return nil
}

func (r *recordSender) Name() string { return "record" }

func TestOddsPoller(t *testing.T) {
	fetcher := &fakeFetcher{quota: oddsapi.Quota{Remaining: 100, Used: 400}}
	ingest := &fakeIngester{}
	blobs := &fakeBlobs{}
	sender := &recordSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, []string{notify.EventQuotaLow}, discardLogger())

	p := NewOddsPoller(fetcher, ingest, blobs, fakeLimiter{allow: true}, notifier, PollerConfig{
		Request:           oddsapi.OddsRequest{Sport: "americanfootball_nfl"},
		RequestsPerMinute: 10,
		QuotaWarnBelow:    500,
		ArchiveRaw:        true,
	}, discardLogger())
	fixed := time.Date(2024, 9, 5, 18, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	for range 2 {
		if err := p.Run(context.Background()); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if len(ingest.times) != 2 || !ingest.times[0].Equal(fixed) {
		t.Fatalf("ingest times = %v", ingest.times)
	}
	if len(blobs.paths) != 2 || blobs.paths[0] != "raw/live/americanfootball_nfl/2024/09/05/20240905T180000Z.json" {
		t.Fatalf("archive paths = %v", blobs.paths)
	}
	if len(sender.titles) != 1 {
		t.Fatalf("quota alerts = %d, want 1", len(sender.titles))
	}

	// Replenished quota re-arms the alert.
	fetcher.quota.Remaining = 10000
	_ = p.Run(context.Background())
	fetcher.quota.Remaining = 10
	_ = p.Run(context.Background())
	if len(sender.titles) != 2 {
		t.Fatalf("quota alerts = %d, want 2", len(sender.titles))
	}
}

func TestOddsPollerStampsWholeSeconds(t *testing.T) {
	ingest := &fakeIngester{}
	blobs := &fakeBlobs{}
	p := NewOddsPoller(&fakeFetcher{}, ingest, blobs, nil, nil, PollerConfig{
		Request:    oddsapi.OddsRequest{Sport: "americanfootball_nfl"},
		ArchiveRaw: true,
	}, discardLogger())
	p.now = func() time.Time { return time.Date(2024, 9, 5, 12, 0, 0, 345_000_000, time.UTC) }

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := time.Date(2024, 9, 5, 12, 0, 0, 0, time.UTC)
	if len(ingest.times) != 1 || !ingest.times[0].Equal(want) {
		t.Fatalf("ingest times = %v", ingest.times)
	}
	_, _, ts, ok := s3blob.ParseRawPath(blobs.paths[0])
	if !ok || !ts.Equal(ingest.times[0]) {
		t.Fatalf("archive key %q parses to %v, ingested at %v", blobs.paths[0], ts, ingest.times[0])
	}
}

func TestOddsPollerRateLimited(t *testing.T) {
	fetcher := &fakeFetcher{}
	p := NewOddsPoller(fetcher, &fakeIngester{}, nil, fakeLimiter{allow: false}, nil, PollerConfig{
		RequestsPerMinute: 1,
	}, discardLogger())

	err := p.Run(context.Background())
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
	if fetcher.calls != 0 {
		t.Fatal("fetched despite the rate limit")
	}
}

func TestOddsPollerFetchFailureAlerts(t *testing.T) {
	sender := &recordSender{}
	notifier := notify.NewNotifier([]notify.Sender{sender}, nil, discardLogger())
	p := NewOddsPoller(&fakeFetcher{err: errors.New("boom")}, &fakeIngester{}, nil, nil, notifier, PollerConfig{}, discardLogger())

	if err := p.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
	if len(sender.titles) != 1 {
		t.Fatalf("alerts = %d", len(sender.titles))
	}
}

type fakeArchiver struct {
	cutoff time.Time
}

func (a *fakeArchiver) ArchiveSnapshots(_ context.Context, before time.Time) (int64, error) {
	a.cutoff = before
	return 3, nil
}

func TestArchiverCutoff(t *testing.T) {
	fa := &fakeArchiver{}
	a := NewArchiver(fa, 90, discardLogger())
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !fa.cutoff.Equal(now.AddDate(0, 0, -90)) {
		t.Fatalf("cutoff = %v", fa.cutoff)
	}
}
