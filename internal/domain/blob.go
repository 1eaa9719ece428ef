package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one object in the archive bucket: a raw upstream
// response under raw/ or a retention batch under archive/.
type BlobInfo struct {
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// BlobWriter uploads raw responses and retention batches.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart is used for batches too large for a single request.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads archived objects back, for replay.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	// List returns every object under prefix.
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// Archiver moves the raw responses of api_snapshots rows older than a cutoff
// to object storage. Odds rows are never archived.
type Archiver interface {
	ArchiveSnapshots(ctx context.Context, before time.Time) (int64, error)
}
