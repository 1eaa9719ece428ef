package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	s3blob "github.com/alanyoungcy/oddsledger/internal/blob/s3"
	"github.com/alanyoungcy/oddsledger/internal/domain"
	"github.com/alanyoungcy/oddsledger/internal/platform/oddsapi"
)

// ReplayResult summarises a replay run.
type ReplayResult struct {
	Objects   int          `json:"objects"`
	Replayed  int          `json:"replayed"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Snapshots int          `json:"snapshots"`
	Counts    IngestCounts `json:"counts"`
}

// ReplayService re-ingests raw provider responses archived in object
// storage. Ingestion is idempotent, so objects already applied only add
// duplicates.
type ReplayService struct {
	blobs     domain.BlobReader
	ingest    *IngestService
	snapshots domain.SnapshotStore
	logger    *slog.Logger
}

// NewReplayService creates a ReplayService. snapshots may be nil, in which
// case historical objects do not restore their api snapshot rows.
func NewReplayService(blobs domain.BlobReader, ingest *IngestService, snapshots domain.SnapshotStore, logger *slog.Logger) *ReplayService {
	return &ReplayService{
		blobs:     blobs,
		ingest:    ingest,
		snapshots: snapshots,
		logger:    logger.With(slog.String("component", "replay_service")),
	}
}

// Replay ingests every raw object under prefix in key order. Objects whose
// key does not parse are skipped; objects that fail are logged and counted.
func (s *ReplayService) Replay(ctx context.Context, prefix string) (ReplayResult, error) {
	infos, err := s.blobs.List(ctx, prefix)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay: list %s: %w", prefix, err)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Path < infos[j].Path })

	res := ReplayResult{Objects: len(infos)}
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		source, sport, ts, ok := s3blob.ParseRawPath(info.Path)
		if !ok {
			res.Skipped++
			continue
		}

		counts, inserted, err := s.replayObject(ctx, info.Path, source, sport, ts)
		res.Counts.Add(counts)
		if err != nil {
			res.Failed++
			s.logger.WarnContext(ctx, "replay object failed",
				slog.String("path", info.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		res.Replayed++
		if inserted {
			res.Snapshots++
		}
	}

	s.logger.InfoContext(ctx, "replay finished",
		slog.String("prefix", prefix),
		slog.Int("objects", res.Objects),
		slog.Int("replayed", res.Replayed),
		slog.Int("failed", res.Failed),
		slog.Int("inserted", res.Counts.Inserted()),
		slog.Int("duplicates", res.Counts.Duplicates),
	)
	return res, nil
}

func (s *ReplayService) replayObject(ctx context.Context, path, source, sport string, ts time.Time) (IngestCounts, bool, error) {
	rc, err := s.blobs.Get(ctx, path)
	if err != nil {
		return IngestCounts{}, false, err
	}
	body, err := io.ReadAll(rc)
	_ = rc.Close()
	if err != nil {
		return IngestCounts{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	if source != "historical" {
		events, err := oddsapi.DecodeOdds(body)
		if err != nil {
			return IngestCounts{}, false, err
		}
		counts, err := s.ingest.Ingest(ctx, events, ts)
		return counts, false, err
	}

	resp, err := oddsapi.DecodeHistorical(body)
	if err != nil {
		return IngestCounts{}, false, err
	}
	snapTime := resp.Timestamp
	if snapTime.IsZero() {
		snapTime = ts
	}
	counts, ingestErr := s.ingest.Ingest(ctx, resp.Events, snapTime)
	if s.snapshots == nil {
		return counts, false, ingestErr
	}
	_, inserted, err := s.snapshots.Insert(ctx, domain.ApiSnapshot{
		SportKey:       sport,
		SnapshotTime:   snapTime,
		PreviousTime:   resp.PreviousTimestamp,
		NextTime:       resp.NextTimestamp,
		GamesCount:     counts.Games,
		TotalOddsCount: counts.Observations(),
		RawResponse:    body,
	})
	if err != nil {
		return counts, false, fmt.Errorf("insert api snapshot: %w", err)
	}
	return counts, inserted, ingestErr
}
