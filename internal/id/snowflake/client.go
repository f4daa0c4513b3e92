// Package snowflake fetches text identifiers from the shared id service.
package snowflake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrNoID is returned when the service answers with a false status.
var ErrNoID = errors.New("snowflake service returned no id")

type response struct {
	Status         bool        `json:"Status"`
	AnnouncementID json.Number `json:"AnnouncementId"`
}

// Client implements crawler.IDGenerator against the id service.
type Client struct {
	endpoint   string
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithBackOff replaces the retry schedule.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(cl *Client) {
		cl.newBackOff = factory
	}
}

// New builds a client for endpoint.
func New(endpoint string, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		newBackOff: defaultBackOff,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// five attempts, 1-3s apart
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.RandomizationFactor = 0.5
	b.Multiplier = 1
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, 4)
}

// NewID asks the service for the next id.
func (c *Client) NewID(ctx context.Context) (string, error) {
	id, err := backoff.RetryNotifyWithData(func() (string, error) {
		return c.fetch(ctx)
	}, backoff.WithContext(c.newBackOff(), ctx), func(err error, wait time.Duration) {
		c.logger.Warn("snowflake id request failed, retrying", zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		return "", fmt.Errorf("snowflake id: %w", err)
	}
	return id, nil
}

func (c *Client) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best effort
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	if !out.Status || out.AnnouncementID == "" {
		return "", ErrNoID
	}
	return out.AnnouncementID.String(), nil
}
