package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/store"
)

const table = "csrc_announcements"

var selectColumns = []string{
	"id", "pid", "precinct", "precinct_code", "title", "detail_url", "publish_time", "number", "type",
	"attachment_url", "obs_path", "file_md5", "file_type", "flag", "is_delete", "text_id", "insert_time",
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *TaskStore) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewTaskStoreWithPool(mock, table)
	require.NoError(t, err)
	return mock, s
}

func int64Ptr(v int64) *int64 { return &v }

func TestNewTaskStoreRejectsBadTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewTaskStoreWithPool(mock, "announcements; drop table x")
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewTaskStoreWithPool(nil, table)
	require.Error(t, err)
}

func TestPendingBuildsDetailPredicate(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	window := crawler.Window{
		Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	published := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(selectColumns).
		AddRow(int64(11), (*int64)(nil), "北京", "BJ", "行政处罚决定书", "http://www.csrc.gov.cn/beijing/c1/c2/content.shtml",
			published, "〔2024〕1号", "行政处罚", "", "", "", "", 1, 0, "1658", published)

	mock.ExpectQuery(`SELECT .+ FROM csrc_announcements WHERE .*pid IS NULL.*is_delete = \$1.*detail_url IS NOT NULL.*detail_url <> \$2.*publish_time >= \$3.*publish_time <= \$4.* ORDER BY publish_time DESC`).
		WithArgs(0, "", window.Start, window.End).
		WillReturnRows(rows)

	recs, err := s.Pending(context.Background(), store.DetailTasks(window))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, int64(11), recs[0].ID)
	require.Nil(t, recs[0].ParentID)
	require.True(t, recs[0].Done)
	require.False(t, recs[0].Deleted)
	require.Equal(t, "行政处罚", recs[0].Type)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingBuildsAttachmentPredicate(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	window := crawler.Window{
		Start: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
	mock.ExpectQuery(`SELECT .+ FROM csrc_announcements WHERE .*pid IS NOT NULL.*flag = \$1.*is_delete = \$2.*attachment_url IS NOT NULL.*attachment_url <> \$3`).
		WithArgs(0, 0, "", window.Start, window.End).
		WillReturnRows(pgxmock.NewRows(selectColumns))

	recs, err := s.Pending(context.Background(), store.AttachmentTasks(window))
	require.NoError(t, err)
	require.Empty(t, recs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindListedNotFound(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectQuery(`SELECT .+ FROM csrc_announcements WHERE detail_url = \$1 AND pid IS NULL AND precinct = \$2 LIMIT 1`).
		WithArgs("http://a/1.shtml", "北京").
		WillReturnRows(pgxmock.NewRows(selectColumns))

	_, err := s.FindListed(context.Background(), "http://a/1.shtml", "北京")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAttachmentReturnsRow(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	published := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM csrc_announcements WHERE attachment_url = \$1 AND pid = \$2 LIMIT 1`).
		WithArgs("http://a/files/x.pdf", int64(11)).
		WillReturnRows(pgxmock.NewRows(selectColumns).AddRow(
			int64(12), int64Ptr(11), "北京", "BJ", "附件", "http://a/1.shtml", published, "", "", "http://a/files/x.pdf",
			"", "", "", 0, 0, "1659", published))

	rec, err := s.FindAttachment(context.Background(), 11, "http://a/files/x.pdf")
	require.NoError(t, err)
	require.True(t, rec.IsAttachment())
	require.Equal(t, int64(11), *rec.ParentID)
	require.False(t, rec.Done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertReturnsID(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	published := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	inserted := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	rec := crawler.Record{
		Region: "北京", RegionCode: "BJ", Title: "t", DetailURL: "http://a/1.shtml",
		PublishTime: published, Number: "n", Type: "行政处罚", TextID: "1658", InsertedAt: inserted,
	}
	mock.ExpectQuery(`INSERT INTO csrc_announcements .* RETURNING id`).
		WithArgs("", "http://a/1.shtml", 0, inserted, 0, "n", (*int64)(nil), "北京", "BJ", published, "1658", "t", "行政处罚").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(99)))

	id, err := s.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.Equal(t, int64(99), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertBatchSingleStatement(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	now := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	pid := int64Ptr(11)
	recs := []crawler.Record{
		{ParentID: pid, Title: "a", AttachmentURL: "http://a/files/a.pdf", PublishTime: now, TextID: "1"},
		{ParentID: pid, Title: "b", AttachmentURL: "http://a/files/b.pdf", PublishTime: now, TextID: "2"},
	}
	mock.ExpectExec(`INSERT INTO csrc_announcements \(attachment_url,detail_url,flag,insert_time,is_delete,number,pid,precinct,precinct_code,publish_time,text_id,title,type\) VALUES \(.+\),\(.+\)`).
		WithArgs(
			"http://a/files/a.pdf", "", 0, now, 0, "", pid, "", "", now, "1", "a", "",
			"http://a/files/b.pdf", "", 0, now, 0, "", pid, "", "", now, "2", "b", "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))

	require.NoError(t, s.InsertBatch(context.Background(), recs))
	require.NoError(t, s.InsertBatch(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileListedCommitsBothUpdates(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	published := time.Date(2024, 3, 2, 8, 0, 0, 0, time.UTC)
	change := crawler.ListedChange{Title: "new title", PublishTime: published, Number: "n", Type: "行政处罚"}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE csrc_announcements SET flag = $1, number = $2, publish_time = $3, title = $4, type = $5 WHERE id = $6")).
		WithArgs(0, "n", published, "new title", "行政处罚", int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE csrc_announcements SET number = $1, publish_time = $2, type = $3 WHERE pid = $4")).
		WithArgs("n", published, "行政处罚", int64(5)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	require.NoError(t, s.ReconcileListed(context.Background(), 5, change))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileListedRollsBack(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	change := crawler.ListedChange{Title: "new title"}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE csrc_announcements SET flag").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE csrc_announcements SET number").
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	err := s.ReconcileListed(context.Background(), 5, change)
	require.ErrorContains(t, err, "deadlock detected")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRenameAttachmentsSingleStatement(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta(
		"UPDATE csrc_announcements AS t SET title = v.title, flag = 0 FROM (VALUES ($1::bigint, $2::text), ($3::bigint, $4::text)) AS v(id, title) WHERE t.id = v.id")).
		WithArgs(int64(3), "决定书", int64(4), "附件2").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	err := s.RenameAttachments(context.Background(), []crawler.TitleChange{{ID: 3, Title: "决定书"}, {ID: 4, Title: "附件2"}})
	require.NoError(t, err)
	require.NoError(t, s.RenameAttachments(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteArtifact(t *testing.T) {
	t.Parallel()

	mock, s := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE csrc_announcements SET file_md5 = $1, file_type = $2, flag = $3, obs_path = $4 WHERE id = $5")).
		WithArgs("abc", "PDF", 1, "http://bucket.obs/BJ/x.pdf", int64(7)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE csrc_announcements SET file_md5").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	art := crawler.Artifact{Path: "http://bucket.obs/BJ/x.pdf", MD5: "abc", Kind: "PDF"}
	require.NoError(t, s.CompleteArtifact(context.Background(), 7, art))
	require.ErrorIs(t, s.CompleteArtifact(context.Background(), 8, art), store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
