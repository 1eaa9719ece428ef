package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

const (
	archiveBatchSize = 500
	// Batches above this size go through the multipart uploader.
	multipartThreshold = 16 * 1024 * 1024
)

// SnapshotArchiver implements domain.Archiver for api_snapshots. Each batch
// is written as one JSONL object, and only after the upload succeeds are the
// rows' raw responses cleared. Odds rows are never touched.
type SnapshotArchiver struct {
	writer    domain.BlobWriter
	snapshots domain.SnapshotStore
	audit     domain.AuditStore
	now       func() time.Time
}

// NewArchiver creates a SnapshotArchiver.
func NewArchiver(writer domain.BlobWriter, snapshots domain.SnapshotStore, audit domain.AuditStore) *SnapshotArchiver {
	return &SnapshotArchiver{
		writer:    writer,
		snapshots: snapshots,
		audit:     audit,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ArchiveSnapshots archives every unarchived snapshot created before the
// cutoff and returns how many rows were archived.
func (a *SnapshotArchiver) ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		batch, err := a.snapshots.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: list snapshots before %s: %w", before.Format(time.RFC3339), err)
		}
		if len(batch) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(batch)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal snapshots: %w", err)
		}

		path := archivePath("api_snapshots", a.now())
		if len(buf) > multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return total, fmt.Errorf("s3blob: upload %s: %w", path, err)
		}

		ids := make([]int64, len(batch))
		for i, s := range batch {
			ids[i] = s.ID
		}
		if err := a.snapshots.MarkArchived(ctx, ids, path); err != nil {
			return total, fmt.Errorf("s3blob: mark archived %s: %w", path, err)
		}
		total += int64(len(batch))

		if a.audit != nil {
			_ = a.audit.Log(ctx, "snapshots_archived", map[string]any{
				"path":   path,
				"count":  len(batch),
				"before": before.Format(time.RFC3339),
			})
		}
		if len(batch) < archiveBatchSize {
			return total, nil
		}
	}
}

// archivePath builds archive/<kind>/<yyyy-mm-dd>/<uuid>.jsonl.
func archivePath(kind string, day time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, day.Format("2006-01-02"), uuid.NewString())
}

// RawPath builds the key a raw upstream response is archived under:
// raw/<source>/<sport>/<yyyy>/<mm>/<dd>/<timestamp>.json. The timestamp
// keeps whole seconds only.
func RawPath(source, sport string, ts time.Time) string {
	ts = ts.UTC()
	return fmt.Sprintf("raw/%s/%s/%s/%s.json", source, sport, ts.Format("2006/01/02"), ts.Format("20060102T150405Z"))
}

// ParseRawPath splits a key built by RawPath back into its parts.
func ParseRawPath(path string) (source, sport string, ts time.Time, ok bool) {
	parts := strings.Split(path, "/")
	if len(parts) != 7 || parts[0] != "raw" {
		return "", "", time.Time{}, false
	}
	name, found := strings.CutSuffix(parts[6], ".json")
	if !found {
		return "", "", time.Time{}, false
	}
	ts, err := time.Parse("20060102T150405Z", name)
	if err != nil {
		return "", "", time.Time{}, false
	}
	return parts[1], parts[2], ts.UTC(), true
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*SnapshotArchiver)(nil)
