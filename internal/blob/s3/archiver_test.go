package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/store/memory"
)

type fakeWriter struct {
	objects map[string][]byte
	err     error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	b, _ := io.ReadAll(data)
	w.objects[path] = b
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

func seedSnapshots(t *testing.T, store *memory.SnapshotStore, n int) {
	t.Helper()
	base := time.Date(2023, 9, 10, 12, 0, 0, 0, time.UTC)
	for i := range n {
		_, _, err := store.Insert(context.Background(), domain.ApiSnapshot{
			SportKey:     "americanfootball_nfl",
			SnapshotTime: base.Add(time.Duration(i) * 24 * time.Hour),
			GamesCount:   16,
			RawResponse:  json.RawMessage(`{"data":[]}`),
		})
		if err != nil {
			t.Fatalf("insert snapshot: %v", err)
		}
	}
}

func TestArchiveSnapshots(t *testing.T) {
	db := memory.New()
	snaps := memory.NewSnapshotStore(db)
	audit := memory.NewAuditStore(db)
	seedSnapshots(t, snaps, 3)

	w := &fakeWriter{objects: map[string][]byte{}}
	a := NewArchiver(w, snaps, audit)

	n, err := a.ArchiveSnapshots(context.Background(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if n != 3 {
		t.Fatalf("archived = %d, want 3", n)
	}
	if len(w.objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(w.objects))
	}

	var key string
	for k, body := range w.objects {
		key = k
		lines := 0
		sc := bufio.NewScanner(bytes.NewReader(body))
		for sc.Scan() {
			var s domain.ApiSnapshot
			if err := json.Unmarshal(sc.Bytes(), &s); err != nil {
				t.Fatalf("line %d: %v", lines, err)
			}
			if len(s.RawResponse) == 0 {
				t.Fatalf("archived row lost its raw response")
			}
			lines++
		}
		if lines != 3 {
			t.Fatalf("lines = %d, want 3", lines)
		}
	}
	if !strings.HasPrefix(key, "archive/api_snapshots/") || !strings.HasSuffix(key, ".jsonl") {
		t.Fatalf("unexpected key %q", key)
	}

	rows, err := snaps.List(context.Background(), "", domain.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, s := range rows {
		if s.ArchiveKey != key || s.RawResponse != nil {
			t.Fatalf("row %d not marked archived: %+v", s.ID, s)
		}
	}

	again, err := a.ArchiveSnapshots(context.Background(), time.Now().Add(time.Hour))
	if err != nil || again != 0 {
		t.Fatalf("second run = %d, %v; want 0, nil", again, err)
	}
}

func TestArchiveSnapshotsUploadFailureKeepsRows(t *testing.T) {
	db := memory.New()
	snaps := memory.NewSnapshotStore(db)
	seedSnapshots(t, snaps, 2)

	w := &fakeWriter{objects: map[string][]byte{}, err: errors.New("bucket unavailable")}
	a := NewArchiver(w, snaps, nil)

	if _, err := a.ArchiveSnapshots(context.Background(), time.Now().Add(time.Hour)); err == nil {
		t.Fatal("expected upload error")
	}
	rows, _ := snaps.List(context.Background(), "", domain.ListOpts{})
	for _, s := range rows {
		if s.ArchiveKey != "" || len(s.RawResponse) == 0 {
			t.Fatalf("row %d changed despite failed upload", s.ID)
		}
	}
}

func TestRawPath(t *testing.T) {
	ts := time.Date(2024, 9, 5, 18, 30, 0, 0, time.UTC)
	got := RawPath("live", "americanfootball_nfl", ts)
	want := "raw/live/americanfootball_nfl/2024/09/05/20240905T183000Z.json"
	if got != want {
		t.Fatalf("RawPath = %q, want %q", got, want)
	}

	source, sport, back, ok := ParseRawPath(got)
	if !ok || source != "live" || sport != "americanfootball_nfl" || !back.Equal(ts) {
		t.Fatalf("ParseRawPath = %q %q %v %v", source, sport, back, ok)
	}
	for _, bad := range []string{
		"archive/api_snapshots/2024-09-05/x.jsonl",
		"raw/live/americanfootball_nfl/2024/09/05/latest.json",
		"raw/live/americanfootball_nfl/2024/09/05/20240905T183000Z.csv",
	} {
		if _, _, _, ok := ParseRawPath(bad); ok {
			t.Errorf("ParseRawPath(%q) ok", bad)
		}
	}
}

func TestNormaliseEndpoint(t *testing.T) {
	cases := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"localhost:9000", false, "http://localhost:9000"},
		{"s3.example.com", true, "https://s3.example.com"},
		{"https://s3.example.com", false, "https://s3.example.com"},
	}
	for _, tc := range cases {
		if got := normaliseEndpoint(tc.in, tc.ssl); got != tc.want {
			t.Errorf("normaliseEndpoint(%q, %v) = %q, want %q", tc.in, tc.ssl, got, tc.want)
		}
	}
}
