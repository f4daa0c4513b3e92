package crawler

import (
	"strings"
	"time"
)

// StageName identifies one of the three crawl stages.
type StageName string

// Known stages, run in this order by the scheduler.
const (
	StageList       StageName = "list"
	StageDetail     StageName = "detail"
	StageAttachment StageName = "attachment"
)

// Stages lists every stage in run order.
var Stages = []StageName{StageList, StageDetail, StageAttachment}

// ParseStage maps a CLI token onto a StageName.
func ParseStage(raw string) (StageName, bool) {
	s := StageName(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Stages {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// Record is one row of the task table. Top-level announcements have no
// ParentID; attachments point at their announcement through ParentID.
type Record struct {
	ID            int64
	ParentID      *int64
	Region        string
	RegionCode    string
	Title         string
	DetailURL     string
	PublishTime   time.Time
	Type          string
	Number        string
	AttachmentURL string
	ArtifactPath  string
	ArtifactMD5   string
	ArtifactKind  string
	Done          bool
	Deleted       bool
	TextID        string
	InsertedAt    time.Time
}

// IsAttachment reports whether the record hangs off a parent announcement.
func (r Record) IsAttachment() bool {
	return r.ParentID != nil
}

// Artifact describes an uploaded file that completes a record.
type Artifact struct {
	Path string
	MD5  string
	Kind string
}

// ListedChange carries the list-page fields that are reconciled against an
// existing row.
type ListedChange struct {
	Title       string
	PublishTime time.Time
	Number      string
	Type        string
}

// Differs reports whether the change carries different values than rec.
func (c ListedChange) Differs(rec Record) bool {
	return c.Title != rec.Title ||
		!c.PublishTime.Equal(rec.PublishTime) ||
		c.Number != rec.Number ||
		c.Type != rec.Type
}

// TitleChange renames an attachment row and marks it for reprocessing.
type TitleChange struct {
	ID    int64
	Title string
}

// Target is one configured list source (a regional bureau).
type Target struct {
	Name      string         `mapstructure:"precinct"`
	Code      string         `mapstructure:"precinct_code"`
	ListURL   string         `mapstructure:"list_page_base_url"`
	StatusID  int64          `mapstructure:"crawler_status_id"`
	Condition map[string]any `mapstructure:"condition"`
}

// Window is the publish-time range a run operates on. Today is midnight of the
// run day and is used for the new-today counter.
type Window struct {
	Start     time.Time
	End       time.Time
	Today     time.Time
	FullCrawl bool
}

// Contains reports whether t falls inside [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// OutcomeState is the monitor state column value.
type OutcomeState int

// Outcome states understood by the monitoring backends.
const (
	OutcomeFailed    OutcomeState = 0
	OutcomeSucceeded OutcomeState = 1
)

// Outcome summarizes one target of a list run for the monitoring sinks.
type Outcome struct {
	Target    string
	Code      string
	StatusID  int64
	Condition map[string]any
	State     OutcomeState
	Total     *int
	Increment int
	ErrorText string
	LogTime   time.Time
}
