package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ParentFilter selects top-level rows, attachment rows, or both.
type ParentFilter int

// Parent filter values.
const (
	AnyParent ParentFilter = iota
	TopLevelOnly
	AttachmentsOnly
)

// TaskFilter is the structured predicate used to load pending work.
type TaskFilter struct {
	Parent            ParentFilter
	PendingOnly       bool
	ExcludeDeleted    bool
	RequireDetailURL  bool
	RequireAttachment bool
	PublishedFrom     time.Time
	PublishedTo       time.Time
	NewestFirst       bool
}

// DetailTasks is the detail stage predicate: announcements with a detail URL
// published inside the window.
func DetailTasks(w crawler.Window) TaskFilter {
	return TaskFilter{
		Parent:           TopLevelOnly,
		ExcludeDeleted:   true,
		RequireDetailURL: true,
		PublishedFrom:    w.Start,
		PublishedTo:      w.End,
		NewestFirst:      true,
	}
}

// AttachmentTasks is the attachment stage predicate: unfinished attachment
// rows with a source URL published inside the window.
func AttachmentTasks(w crawler.Window) TaskFilter {
	return TaskFilter{
		Parent:            AttachmentsOnly,
		PendingOnly:       true,
		ExcludeDeleted:    true,
		RequireAttachment: true,
		PublishedFrom:     w.Start,
		PublishedTo:       w.End,
		NewestFirst:       true,
	}
}

// Matches evaluates the filter in memory.
func (f TaskFilter) Matches(r crawler.Record) bool {
	switch f.Parent {
	case TopLevelOnly:
		if r.IsAttachment() {
			return false
		}
	case AttachmentsOnly:
		if !r.IsAttachment() {
			return false
		}
	}
	if f.PendingOnly && r.Done {
		return false
	}
	if f.ExcludeDeleted && r.Deleted {
		return false
	}
	if f.RequireDetailURL && r.DetailURL == "" {
		return false
	}
	if f.RequireAttachment && r.AttachmentURL == "" {
		return false
	}
	if !f.PublishedFrom.IsZero() && r.PublishTime.Before(f.PublishedFrom) {
		return false
	}
	if !f.PublishedTo.IsZero() && r.PublishTime.After(f.PublishedTo) {
		return false
	}
	return true
}

// TaskRepository persists announcement and attachment rows.
type TaskRepository interface {
	// Pending returns rows matching filter.
	Pending(ctx context.Context, filter TaskFilter) ([]crawler.Record, error)
	// FindListed looks up a top-level row by detail URL and region, or returns ErrNotFound.
	FindListed(ctx context.Context, detailURL, region string) (crawler.Record, error)
	// Insert stores a new row and returns its id.
	Insert(ctx context.Context, rec crawler.Record) (int64, error)
	// ReconcileListed rewrites a listed row and its attachments in one transaction.
	ReconcileListed(ctx context.Context, id int64, change crawler.ListedChange) error
	// FindAttachment looks up an attachment row by parent and URL, or returns ErrNotFound.
	FindAttachment(ctx context.Context, parentID int64, attachmentURL string) (crawler.Record, error)
	// InsertBatch stores several rows at once.
	InsertBatch(ctx context.Context, recs []crawler.Record) error
	// RenameAttachments updates titles and resets the done flag.
	RenameAttachments(ctx context.Context, changes []crawler.TitleChange) error
	// CompleteArtifact records the uploaded artifact and marks the row done.
	CompleteArtifact(ctx context.Context, id int64, artifact crawler.Artifact) error
	Close() error
}

// StatusRepository writes crawl outcomes into the monitor table.
type StatusRepository interface {
	UpdateCrawlStatus(ctx context.Context, statusID int64, outcome crawler.Outcome) error
	Close() error
}
