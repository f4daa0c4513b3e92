package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

func TestFilterMatches(t *testing.T) {
	t.Parallel()

	window := crawler.Window{
		Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
	in := window.Start.Add(time.Hour)
	pid := int64(7)

	top := crawler.Record{DetailURL: "http://a", PublishTime: in}
	att := crawler.Record{ParentID: &pid, AttachmentURL: "http://a/x.pdf", PublishTime: in}

	detail := DetailTasks(window)
	require.True(t, detail.Matches(top))
	require.False(t, detail.Matches(att))

	done := top
	done.Done = true
	require.True(t, detail.Matches(done), "detail stage re-visits finished rows")

	deleted := top
	deleted.Deleted = true
	require.False(t, detail.Matches(deleted))

	old := top
	old.PublishTime = window.Start.Add(-time.Second)
	require.False(t, detail.Matches(old))

	attachments := AttachmentTasks(window)
	require.True(t, attachments.Matches(att))
	require.False(t, attachments.Matches(top))

	finished := att
	finished.Done = true
	require.False(t, attachments.Matches(finished))

	noURL := att
	noURL.AttachmentURL = ""
	require.False(t, attachments.Matches(noURL))
}
