// Package stage implements the list, detail and attachment stages on top of
// the pipeline engine. Site specific parsing is injected through the
// ListSite, DetailProcessor and AttachmentProcessor interfaces.
package stage

import (
	"context"

	collyfetcher "github.com/JakeFAU/regcrawl/internal/fetcher/colly"
	"github.com/JakeFAU/regcrawl/internal/metrics"
)

// Fetcher is the retrieval surface the stages need. pipeline.Session
// satisfies it.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (collyfetcher.Response, error)
	Do(ctx context.Context, req collyfetcher.Request) (collyfetcher.Response, error)
	Download(ctx context.Context, rawURL, dst string) error
}

func observeItem(stage string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ObserveStageItem(stage, result)
}
