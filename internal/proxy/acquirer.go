package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// LeaseFetcher returns one fresh lease.
type LeaseFetcher interface {
	Fetch(ctx context.Context) (Lease, error)
}

// Acquirer obtains a lease from the vendor with bounded retries and records it
// in the on-disk cache.
type Acquirer struct {
	vendor     LeaseFetcher
	cache      *Cache
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// AcquirerOption customizes an Acquirer.
type AcquirerOption func(*Acquirer)

// WithBackOff replaces the retry schedule.
func WithBackOff(factory func() backoff.BackOff) AcquirerOption {
	return func(a *Acquirer) {
		a.newBackOff = factory
	}
}

// NewAcquirer wires the vendor and cache together.
func NewAcquirer(vendor LeaseFetcher, cache *Cache, logger *zap.Logger, opts ...AcquirerOption) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Acquirer{
		vendor:     vendor,
		cache:      cache,
		newBackOff: defaultAcquireBackOff,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// defaultAcquireBackOff allows three attempts with 2-4s between them.
func defaultAcquireBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 3 * time.Second
	b.RandomizationFactor = 1.0 / 3
	b.Multiplier = 1
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 2)
}

// Acquire fetches a lease, retrying vendor failures, and persists it.
func (a *Acquirer) Acquire(ctx context.Context) (Lease, error) {
	attempt := 0
	lease, err := backoff.RetryNotifyWithData(func() (Lease, error) {
		attempt++
		return a.vendor.Fetch(ctx)
	}, backoff.WithContext(a.newBackOff(), ctx), func(err error, wait time.Duration) {
		a.logger.Warn("proxy acquisition failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
	if err != nil {
		return Lease{}, fmt.Errorf("acquire proxy lease: %w", err)
	}
	if a.cache != nil {
		if err := a.cache.Save(lease); err != nil {
			return Lease{}, err
		}
	}
	a.logger.Info("proxy lease acquired", zap.String("proxy", lease.String()))
	return lease, nil
}
