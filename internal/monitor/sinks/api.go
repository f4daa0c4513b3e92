package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// Action is the operation code understood by the monitoring API.
type Action string

// Monitoring API operations. List runs only issue ActionUpdate.
const (
	ActionCreate Action = "C"
	ActionUpdate Action = "U"
	ActionRead   Action = "R"
	ActionDelete Action = "D"
)

const (
	apiConnectTimeout = 11 * time.Second
	apiReadTimeout    = 31 * time.Second
)

// CrawlerStatus is the status block of an update request.
type CrawlerStatus struct {
	Total     *int    `json:"total"`
	Existence any     `json:"existence"`
	Increment int     `json:"increment"`
	State     int     `json:"state"`
	ErrorInfo *string `json:"errorInfo"`
	LogTime   string  `json:"logTime"`
}

type apiRequest struct {
	Type          Action         `json:"type"`
	Condition     map[string]any `json:"condition"`
	CrawlerStatus CrawlerStatus  `json:"crawlerStatus"`
}

// APISink reports outcomes to the remote monitoring API.
type APISink struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// APIOption customizes an APISink.
type APIOption func(*APISink)

// WithAPIHTTPClient replaces the HTTP client.
func WithAPIHTTPClient(c *http.Client) APIOption {
	return func(s *APISink) {
		if c != nil {
			s.client = c
		}
	}
}

// NewAPISink builds an APISink posting to endpoint.
func NewAPISink(endpoint string, logger *zap.Logger, opts ...APIOption) *APISink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &APISink{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: apiConnectTimeout + apiReadTimeout,
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: apiConnectTimeout}).DialContext,
				ResponseHeaderTimeout: apiReadTimeout,
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StatusFromOutcome maps an outcome onto the API's status block.
func StatusFromOutcome(o crawler.Outcome) CrawlerStatus {
	status := CrawlerStatus{
		Total:     o.Total,
		Increment: o.Increment,
		State:     int(o.State),
		LogTime:   o.LogTime.Format(crawler.TimeLayout),
	}
	if o.ErrorText != "" {
		msg := o.ErrorText
		status.ErrorInfo = &msg
	}
	return status
}

// Record posts an update for the target. Targets without a condition are
// skipped.
func (s *APISink) Record(ctx context.Context, o crawler.Outcome) error {
	if len(o.Condition) == 0 {
		return nil
	}
	body, err := json.Marshal(apiRequest{
		Type:          ActionUpdate,
		Condition:     o.Condition,
		CrawlerStatus: StatusFromOutcome(o),
	})
	if err != nil {
		return fmt.Errorf("marshal monitor request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build monitor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post monitor update: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			s.logger.Debug("close monitor response", zap.Error(cerr))
		}
	}()
	reply, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read monitor response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("monitor api returned %d: %s", resp.StatusCode, reply)
	}
	s.logger.Info("monitor api updated", zap.String("target", o.Target), zap.ByteString("reply", reply))
	return nil
}
