package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var recordColumns = []string{
	"id",
	"pid",
	"COALESCE(precinct, '')",
	"COALESCE(precinct_code, '')",
	"COALESCE(title, '')",
	"COALESCE(detail_url, '')",
	"publish_time",
	"COALESCE(number, '')",
	"COALESCE(type, '')",
	"COALESCE(attachment_url, '')",
	"COALESCE(obs_path, '')",
	"COALESCE(file_md5, '')",
	"COALESCE(file_type, '')",
	"flag",
	"is_delete",
	"COALESCE(text_id, '')",
	"COALESCE(insert_time, publish_time)",
}

// TaskStore implements store.TaskRepository on the announcement table.
type TaskStore struct {
	db      querier
	table   string
	release func() error
	now     func() time.Time
}

// NewTaskStore builds a TaskStore on an open connection. Closing the store
// closes conn.
func NewTaskStore(conn *Conn, table string) (*TaskStore, error) {
	if conn == nil || conn.Pool == nil {
		return nil, fmt.Errorf("connection is required")
	}
	s, err := NewTaskStoreWithPool(conn.Pool, table)
	if err != nil {
		return nil, err
	}
	s.release = conn.Close
	return s, nil
}

// NewTaskStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTaskStoreWithPool(pool querier, table string) (*TaskStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TaskStore{db: pool, table: table, now: time.Now}, nil
}

// Close releases the underlying connection.
func (s *TaskStore) Close() error {
	if s == nil || s.release == nil {
		return nil
	}
	return s.release()
}

// Pending loads the rows selected by filter.
func (s *TaskStore) Pending(ctx context.Context, filter store.TaskFilter) ([]crawler.Record, error) {
	q := psql.Select(recordColumns...).From(s.table).Where(filterPredicate(filter))
	if filter.NewestFirst {
		q = q.OrderBy("publish_time DESC")
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending query: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var out []crawler.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return out, nil
}

func filterPredicate(f store.TaskFilter) sq.And {
	pred := sq.And{}
	switch f.Parent {
	case store.TopLevelOnly:
		pred = append(pred, sq.Eq{"pid": nil})
	case store.AttachmentsOnly:
		pred = append(pred, sq.NotEq{"pid": nil})
	}
	if f.PendingOnly {
		pred = append(pred, sq.Eq{"flag": 0})
	}
	if f.ExcludeDeleted {
		pred = append(pred, sq.Eq{"is_delete": 0})
	}
	if f.RequireDetailURL {
		pred = append(pred, sq.NotEq{"detail_url": nil}, sq.NotEq{"detail_url": ""})
	}
	if f.RequireAttachment {
		pred = append(pred, sq.NotEq{"attachment_url": nil}, sq.NotEq{"attachment_url": ""})
	}
	if !f.PublishedFrom.IsZero() {
		pred = append(pred, sq.GtOrEq{"publish_time": f.PublishedFrom})
	}
	if !f.PublishedTo.IsZero() {
		pred = append(pred, sq.LtOrEq{"publish_time": f.PublishedTo})
	}
	return pred
}

// FindListed returns the top-level row for (detailURL, region).
func (s *TaskStore) FindListed(ctx context.Context, detailURL, region string) (crawler.Record, error) {
	return s.findOne(ctx, sq.Eq{"detail_url": detailURL, "precinct": region, "pid": nil})
}

// FindAttachment returns the attachment row for (parentID, attachmentURL).
func (s *TaskStore) FindAttachment(ctx context.Context, parentID int64, attachmentURL string) (crawler.Record, error) {
	return s.findOne(ctx, sq.Eq{"pid": parentID, "attachment_url": attachmentURL})
}

func (s *TaskStore) findOne(ctx context.Context, where sq.Eq) (crawler.Record, error) {
	query, args, err := psql.Select(recordColumns...).From(s.table).Where(where).Limit(1).ToSql()
	if err != nil {
		return crawler.Record{}, fmt.Errorf("build lookup: %w", err)
	}
	rec, err := scanRecord(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Record{}, store.ErrNotFound
		}
		return crawler.Record{}, err
	}
	return rec, nil
}

// Insert stores rec and returns the generated id.
func (s *TaskStore) Insert(ctx context.Context, rec crawler.Record) (int64, error) {
	query, args, err := psql.Insert(s.table).SetMap(s.insertValues(rec)).Suffix("RETURNING id").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build insert: %w", err)
	}
	var id int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert record: %w", err)
	}
	return id, nil
}

// InsertBatch stores recs with a single multi-row INSERT.
func (s *TaskStore) InsertBatch(ctx context.Context, recs []crawler.Record) error {
	if len(recs) == 0 {
		return nil
	}
	q := psql.Insert(s.table).Columns(insertColumns...)
	for _, rec := range recs {
		values := s.insertValues(rec)
		row := make([]any, len(insertColumns))
		for i, col := range insertColumns {
			row[i] = values[col]
		}
		q = q.Values(row...)
	}
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build batch insert: %w", err)
	}
	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("batch insert %d records: %w", len(recs), err)
	}
	return nil
}

// insertColumns is sorted to match SetMap ordering.
var insertColumns = []string{
	"attachment_url",
	"detail_url",
	"flag",
	"insert_time",
	"is_delete",
	"number",
	"pid",
	"precinct",
	"precinct_code",
	"publish_time",
	"text_id",
	"title",
	"type",
}

func (s *TaskStore) insertValues(rec crawler.Record) map[string]any {
	inserted := rec.InsertedAt
	if inserted.IsZero() {
		inserted = s.now()
	}
	return map[string]any{
		"attachment_url": rec.AttachmentURL,
		"detail_url":     rec.DetailURL,
		"flag":           boolFlag(rec.Done),
		"insert_time":    inserted,
		"is_delete":      boolFlag(rec.Deleted),
		"number":         rec.Number,
		"pid":            rec.ParentID,
		"precinct":       rec.Region,
		"precinct_code":  rec.RegionCode,
		"publish_time":   rec.PublishTime,
		"text_id":        rec.TextID,
		"title":          rec.Title,
		"type":           rec.Type,
	}
}

// ReconcileListed rewrites a listed row (resetting its done flag) and pushes
// number, publish time and type down to its attachments, atomically.
func (s *TaskStore) ReconcileListed(ctx context.Context, id int64, change crawler.ListedChange) error {
	parent, parentArgs, err := psql.Update(s.table).SetMap(map[string]any{
		"title":        change.Title,
		"publish_time": change.PublishTime,
		"number":       change.Number,
		"type":         change.Type,
		"flag":         0,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build parent update: %w", err)
	}
	children, childArgs, err := psql.Update(s.table).SetMap(map[string]any{
		"publish_time": change.PublishTime,
		"number":       change.Number,
		"type":         change.Type,
	}).Where(sq.Eq{"pid": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build child update: %w", err)
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, parent, parentArgs...); err != nil {
			return fmt.Errorf("update record %d: %w", id, err)
		}
		if _, err := tx.Exec(ctx, children, childArgs...); err != nil {
			return fmt.Errorf("update attachments of %d: %w", id, err)
		}
		return nil
	})
}

// RenameAttachments sets new titles and clears the done flag in one statement.
func (s *TaskStore) RenameAttachments(ctx context.Context, changes []crawler.TitleChange) error {
	if len(changes) == 0 {
		return nil
	}
	var b strings.Builder
	args := make([]any, 0, len(changes)*2)
	fmt.Fprintf(&b, "UPDATE %s AS t SET title = v.title, flag = 0 FROM (VALUES ", s.table)
	for i, c := range changes {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "($%d::bigint, $%d::text)", i*2+1, i*2+2)
		args = append(args, c.ID, c.Title)
	}
	b.WriteString(") AS v(id, title) WHERE t.id = v.id")
	if _, err := s.db.Exec(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("rename %d attachments: %w", len(changes), err)
	}
	return nil
}

// CompleteArtifact records the uploaded artifact on row id and marks it done.
func (s *TaskStore) CompleteArtifact(ctx context.Context, id int64, artifact crawler.Artifact) error {
	query, args, err := psql.Update(s.table).SetMap(map[string]any{
		"obs_path":  artifact.Path,
		"file_md5":  artifact.MD5,
		"file_type": artifact.Kind,
		"flag":      1,
	}).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build artifact update: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete record %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *TaskStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (crawler.Record, error) {
	var (
		rec     crawler.Record
		flag    int
		deleted int
	)
	err := row.Scan(
		&rec.ID,
		&rec.ParentID,
		&rec.Region,
		&rec.RegionCode,
		&rec.Title,
		&rec.DetailURL,
		&rec.PublishTime,
		&rec.Number,
		&rec.Type,
		&rec.AttachmentURL,
		&rec.ArtifactPath,
		&rec.ArtifactMD5,
		&rec.ArtifactKind,
		&flag,
		&deleted,
		&rec.TextID,
		&rec.InsertedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Record{}, err
		}
		return crawler.Record{}, fmt.Errorf("scan record: %w", err)
	}
	rec.Done = flag == 1
	rec.Deleted = deleted != 0
	return rec, nil
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
