package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/store"
)

// StoreSink writes outcomes to the monitor table row named by the target's
// crawler_status_id.
type StoreSink struct {
	repo   store.StatusRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.StatusRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Record updates the monitor row. Targets without a status id are skipped.
func (s *StoreSink) Record(ctx context.Context, outcome crawler.Outcome) error {
	if s == nil || s.repo == nil || outcome.StatusID == 0 {
		return nil
	}
	if err := s.repo.UpdateCrawlStatus(ctx, outcome.StatusID, outcome); err != nil {
		return fmt.Errorf("update crawl status %d: %w", outcome.StatusID, err)
	}
	s.logger.Info("monitor row updated", zap.Int64("status_id", outcome.StatusID), zap.String("target", outcome.Target))
	return nil
}
