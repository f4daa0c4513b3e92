package pipeline

import (
	"time"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// epoch is the window start used by a full crawl.
var epoch = time.Date(1970, time.January, 1, 0, 0, 0, 0, time.UTC)

// NewWindow resolves the publish-time window of a run: the last days days up
// to now, expressed as wall-clock time in loc. A full crawl starts at 1970.
func NewWindow(now time.Time, days int, fullCrawl bool, loc *time.Location) crawler.Window {
	end := crawler.WallClock(now, loc)
	start := end.AddDate(0, 0, -days)
	if fullCrawl {
		start = epoch
	}
	return crawler.Window{
		Start:     start,
		End:       end,
		Today:     time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC),
		FullCrawl: fullCrawl,
	}
}
