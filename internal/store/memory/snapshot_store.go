package memory

import (
	"context"
	"sort"
	"time"

	"github.com/alanyoungcy/oddsledger/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore.
type SnapshotStore struct {
	db *DB
}

// NewSnapshotStore creates a SnapshotStore over db.
func NewSnapshotStore(db *DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

// Insert appends snap unless (sport, snapshot time) was already recorded; the
// boolean reports whether a row was written.
func (s *SnapshotStore) Insert(_ context.Context, snap domain.ApiSnapshot) (domain.ApiSnapshot, bool, error) {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	for _, existing := range s.db.snapshots {
		if existing.SportKey == snap.SportKey && existing.SnapshotTime.Equal(snap.SnapshotTime) {
			return existing, false, nil
		}
	}
	snap.ID = s.db.id()
	snap.SnapshotTime = snap.SnapshotTime.UTC()
	snap.RawResponse = cloneRaw(snap.RawResponse)
	snap.CreatedAt = s.db.now()
	s.db.snapshots = append(s.db.snapshots, snap)
	return snap, true, nil
}

func (s *SnapshotStore) List(_ context.Context, sportKey string, opts domain.ListOpts) ([]domain.ApiSnapshot, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.ApiSnapshot
	for _, snap := range s.db.snapshots {
		if sportKey != "" && snap.SportKey != sportKey {
			continue
		}
		if opts.Since != nil && snap.SnapshotTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && snap.SnapshotTime.After(*opts.Until) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotTime.After(out[j].SnapshotTime) })
	return page(out, opts), nil
}

// ListBefore returns unarchived snapshots created before the cutoff, oldest
// first.
func (s *SnapshotStore) ListBefore(_ context.Context, before time.Time, limit int) ([]domain.ApiSnapshot, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()

	var out []domain.ApiSnapshot
	for _, snap := range s.db.snapshots {
		if snap.ArchiveKey == "" && snap.CreatedAt.Before(before) {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkArchived clears the raw response of the given rows and records where
// it was archived.
func (s *SnapshotStore) MarkArchived(_ context.Context, ids []int64, archiveKey string) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for i := range s.db.snapshots {
		if set[s.db.snapshots[i].ID] {
			s.db.snapshots[i].RawResponse = nil
			s.db.snapshots[i].ArchiveKey = archiveKey
		}
	}
	return nil
}
