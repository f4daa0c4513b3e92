package memory

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/store"
)

// Writes counts mutations so callers can assert idempotency.
type Writes struct {
	Inserts int
	Updates int
	Commits int
}

// TaskStore provides an in-memory store.TaskRepository for development/testing.
type TaskStore struct {
	mu      sync.RWMutex
	records []crawler.Record
	nextID  int64
	writes  Writes
	// FailReconcileChildren makes the second half of ReconcileListed fail.
	FailReconcileChildren bool
}

// NewTaskStore constructs a TaskStore seeded with recs.
func NewTaskStore(recs ...crawler.Record) *TaskStore {
	s := &TaskStore{}
	for _, r := range recs {
		if r.ID == 0 {
			s.nextID++
			r.ID = s.nextID
		} else if r.ID > s.nextID {
			s.nextID = r.ID
		}
		s.records = append(s.records, r)
	}
	return s
}

// Writes returns the mutation counters.
func (s *TaskStore) Writes() Writes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Records returns a copy of every stored row.
func (s *TaskStore) Records() []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.records)
}

// Pending returns rows matching filter.
func (s *TaskStore) Pending(_ context.Context, filter store.TaskFilter) ([]crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Record
	for _, r := range s.records {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	if filter.NewestFirst {
		slices.SortStableFunc(out, func(a, b crawler.Record) int {
			return b.PublishTime.Compare(a.PublishTime)
		})
	}
	return out, nil
}

// FindListed returns the top-level row for (detailURL, region).
func (s *TaskStore) FindListed(_ context.Context, detailURL, region string) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if !r.IsAttachment() && r.DetailURL == detailURL && r.Region == region {
			return r, nil
		}
	}
	return crawler.Record{}, store.ErrNotFound
}

// FindAttachment returns the attachment row for (parentID, attachmentURL).
func (s *TaskStore) FindAttachment(_ context.Context, parentID int64, attachmentURL string) (crawler.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.records {
		if r.ParentID != nil && *r.ParentID == parentID && r.AttachmentURL == attachmentURL {
			return r, nil
		}
	}
	return crawler.Record{}, store.ErrNotFound
}

// Insert stores rec and returns its id.
func (s *TaskStore) Insert(_ context.Context, rec crawler.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(rec), nil
}

func (s *TaskStore) insertLocked(rec crawler.Record) int64 {
	s.nextID++
	rec.ID = s.nextID
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = time.Now()
	}
	s.records = append(s.records, rec)
	s.writes.Inserts++
	return rec.ID
}

// InsertBatch stores several rows.
func (s *TaskStore) InsertBatch(_ context.Context, recs []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		s.insertLocked(rec)
	}
	return nil
}

// ReconcileListed applies both halves of the reconciliation or neither.
func (s *TaskStore) ReconcileListed(_ context.Context, id int64, change crawler.ListedChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	if s.FailReconcileChildren {
		return errors.New("attachment update failed")
	}
	r := &s.records[idx]
	r.Title = change.Title
	r.PublishTime = change.PublishTime
	r.Number = change.Number
	r.Type = change.Type
	r.Done = false
	s.writes.Updates++
	for i := range s.records {
		child := &s.records[i]
		if child.ParentID != nil && *child.ParentID == id {
			child.PublishTime = change.PublishTime
			child.Number = change.Number
			child.Type = change.Type
		}
	}
	s.writes.Updates++
	s.writes.Commits++
	return nil
}

// RenameAttachments updates titles and resets the done flag.
func (s *TaskStore) RenameAttachments(_ context.Context, changes []crawler.TitleChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range changes {
		if idx := s.indexLocked(c.ID); idx >= 0 {
			s.records[idx].Title = c.Title
			s.records[idx].Done = false
			s.writes.Updates++
		}
	}
	return nil
}

// CompleteArtifact records the artifact and marks the row done.
func (s *TaskStore) CompleteArtifact(_ context.Context, id int64, artifact crawler.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return store.ErrNotFound
	}
	r := &s.records[idx]
	r.ArtifactPath = artifact.Path
	r.ArtifactMD5 = artifact.MD5
	r.ArtifactKind = artifact.Kind
	r.Done = true
	s.writes.Updates++
	return nil
}

// Close is a no-op.
func (s *TaskStore) Close() error { return nil }

func (s *TaskStore) indexLocked(id int64) int {
	for i, r := range s.records {
		if r.ID == id {
			return i
		}
	}
	return -1
}

// StatusStore records crawl outcomes by status id.
type StatusStore struct {
	mu       sync.Mutex
	outcomes map[int64]crawler.Outcome
}

// NewStatusStore constructs an empty StatusStore.
func NewStatusStore() *StatusStore {
	return &StatusStore{outcomes: make(map[int64]crawler.Outcome)}
}

// UpdateCrawlStatus stores outcome under statusID.
func (s *StatusStore) UpdateCrawlStatus(_ context.Context, statusID int64, outcome crawler.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[statusID] = outcome
	return nil
}

// Outcome returns the last outcome written for statusID.
func (s *StatusStore) Outcome(statusID int64) (crawler.Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[statusID]
	return o, ok
}

// Close is a no-op.
func (s *StatusStore) Close() error { return nil }
