package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Source supplies the pending work of a stage and processes one item.
type Source[T any] interface {
	Pending(ctx context.Context) ([]T, error)
	Process(ctx context.Context, item T) error
}

// Summary counts what a Drain call did.
type Summary struct {
	Total     int
	Succeeded int
	Failed    int
}

// Drain loads the pending items and processes them in order. A failing or
// panicking item is logged and skipped. Only a failed Pending query or a
// cancelled context stops the loop.
func Drain[T any](ctx context.Context, src Source[T], logger *zap.Logger) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	items, err := src.Pending(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("load pending work: %w", err)
	}
	summary := Summary{Total: len(items)}
	logger.Info("pending work loaded", zap.Int("items", len(items)))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("drain interrupted: %w", err)
		}
		if err := processSafely(ctx, src, item); err != nil {
			summary.Failed++
			logger.Error("item failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		summary.Succeeded++
	}
	return summary, nil
}

func processSafely[T any](ctx context.Context, src Source[T], item T) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return src.Process(ctx, item)
}
