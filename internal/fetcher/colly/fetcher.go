// Package collyfetcher implements the proxy-aware HTTP retrieval unit on top of gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"mime"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/metrics"
	"github.com/JakeFAU/regcrawl/internal/policy/ratelimit"
	"github.com/JakeFAU/regcrawl/internal/proxy"
)

// ErrRetriesExhausted is returned once every attempt allowed by the retry
// budget has failed. Callers log it and move on to the next item.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Config controls retry, timeout and proxy behavior.
type Config struct {
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	RetryNumber        int
	RetryDelay         time.Duration
	UseProxy           bool
	BanMarker          string
	MinDownloadBytes   int
	MaxBodySize        int
	UserAgents         []string
	InsecureSkipVerify bool
	// RequestsPerSecond caps requests per host; zero means unlimited.
	RequestsPerSecond float64
	RequestBurst      int
}

// DefaultConfig mirrors the production settings of the source site crawl.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     31 * time.Second,
		ReadTimeout:        183 * time.Second,
		RetryNumber:        3,
		RetryDelay:         time.Second,
		BanMarker:          "Auth Failed",
		MinDownloadBytes:   1024,
		MaxBodySize:        512 << 20,
		UserAgents:         defaultUserAgents,
		InsecureSkipVerify: true,
	}
}

// LeaseSource hands out a fresh proxy lease when the current one is gone.
type LeaseSource interface {
	Acquire(ctx context.Context) (proxy.Lease, error)
}

// Request describes a single logical retrieval.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Form    url.Values
	Headers http.Header
	Timeout time.Duration
}

// Response is the undecoded result of a successful retrieval.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Charset returns the charset declared in the Content-Type header, if any.
func (r Response) Charset() string {
	if r.Headers == nil {
		return ""
	}
	_, params, err := mime.ParseMediaType(r.Headers.Get("Content-Type"))
	if err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(params["charset"]))
}

// Fetcher executes requests with the retry and lease rotation policy.
type Fetcher struct {
	cfg           Config
	leases        LeaseSource
	baseCollector *colly.Collector
	limiter       *ratelimit.Limiter
	logger        *zap.Logger
	sleep         func(context.Context, time.Duration) error

	mu           sync.Mutex
	transport    *http.Transport
	transportKey string
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. leases may be nil when cfg.UseProxy is false.
func New(cfg Config, leases LeaseSource, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = defaultUserAgents
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	c.MaxBodySize = cfg.MaxBodySize
	return &Fetcher{
		cfg:           cfg,
		leases:        leases,
		baseCollector: c,
		limiter:       ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RequestsPerSecond, DefaultBurst: cfg.RequestBurst}),
		logger:        logger,
		sleep:         sleepContext,
	}
}

// Do performs req, returning the first 200 response that is not a ban page.
// The returned State reflects any lease dropped or acquired on the way.
func (f *Fetcher) Do(ctx context.Context, req Request, state proxy.State) (Response, proxy.State, error) {
	attempts := f.cfg.RetryNumber + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Response{}, state, fmt.Errorf("fetch canceled: %w", err)
		}
		var ok bool
		if state, ok = f.ensureLease(ctx, state); !ok {
			metrics.ObserveFetchAttempt("no_proxy")
			continue
		}
		resp, err := f.visit(ctx, req, state, true)
		switch {
		case err != nil:
			state = f.handleTransportError(state, req.URL, attempt, err)
		case resp.StatusCode != http.StatusOK:
			metrics.ObserveFetchAttempt("status")
			f.logger.Warn("unexpected status",
				zap.String("url", req.URL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
			)
			if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
				return Response{}, state, fmt.Errorf("fetch canceled: %w", err)
			}
		case f.banned(resp.Body):
			metrics.ObserveFetchAttempt("banned")
			f.logger.Warn("proxy banned by origin, dropping lease",
				zap.String("url", req.URL),
				zap.Int("attempt", attempt),
			)
			state = state.Drop()
		default:
			metrics.ObserveFetchAttempt("ok")
			return resp, state, nil
		}
	}
	f.logger.Error("giving up on request", zap.String("url", req.URL), zap.Int("attempts", attempts))
	return Response{}, state, fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, req.URL, attempts)
}

// Download saves rawURL to dst. Redirects are not followed and payloads
// smaller than MinDownloadBytes are treated as corrupt; nothing is written
// until a response passes both checks.
func (f *Fetcher) Download(ctx context.Context, rawURL, dst string, state proxy.State) (proxy.State, error) {
	req := Request{Method: http.MethodGet, URL: rawURL}
	attempts := f.cfg.RetryNumber + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return state, fmt.Errorf("download canceled: %w", err)
		}
		var ok bool
		if state, ok = f.ensureLease(ctx, state); !ok {
			metrics.ObserveFetchAttempt("no_proxy")
			continue
		}
		resp, err := f.visit(ctx, req, state, false)
		if err != nil {
			state = f.handleTransportError(state, rawURL, attempt, err)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			metrics.ObserveFetchAttempt("status")
			if f.banned(resp.Body) {
				state = state.Drop()
			}
			f.logger.Warn("unexpected download status",
				zap.String("url", rawURL),
				zap.Int("status", resp.StatusCode),
				zap.Int("attempt", attempt),
			)
			if err := f.sleep(ctx, f.cfg.RetryDelay); err != nil {
				return state, fmt.Errorf("download canceled: %w", err)
			}
			continue
		}
		if len(resp.Body) < f.cfg.MinDownloadBytes {
			metrics.ObserveFetchAttempt("corrupt")
			if f.banned(resp.Body) {
				state = state.Drop()
			}
			f.logger.Warn("download too small, treating as corrupt",
				zap.String("url", rawURL),
				zap.Int("bytes", len(resp.Body)),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err := writeFile(dst, resp.Body); err != nil {
			return state, err
		}
		metrics.ObserveFetchAttempt("ok")
		return state, nil
	}
	f.logger.Error("giving up on download", zap.String("url", rawURL), zap.Int("attempts", attempts))
	return state, fmt.Errorf("%w: %s after %d attempts", ErrRetriesExhausted, rawURL, attempts)
}

func (f *Fetcher) ensureLease(ctx context.Context, state proxy.State) (proxy.State, bool) {
	if !f.cfg.UseProxy || state.Held() {
		return state, true
	}
	if f.leases == nil {
		f.logger.Error("proxy mode enabled without a lease source")
		return state, false
	}
	lease, err := f.leases.Acquire(ctx)
	if err != nil {
		f.logger.Warn("no proxy lease available, skipping attempt", zap.Error(err))
		return state, false
	}
	return proxy.NewState(lease), true
}

func (f *Fetcher) handleTransportError(state proxy.State, rawURL string, attempt int, err error) proxy.State {
	metrics.ObserveFetchAttempt("error")
	dropped := isProxyOrTimeout(err)
	f.logger.Warn("request failed",
		zap.String("url", rawURL),
		zap.Int("attempt", attempt),
		zap.Bool("lease_dropped", dropped && state.Held()),
		zap.Error(err),
	)
	if dropped {
		return state.Drop()
	}
	return state
}

func (f *Fetcher) banned(body []byte) bool {
	return f.cfg.BanMarker != "" && bytes.Contains(body, []byte(f.cfg.BanMarker))
}

func (f *Fetcher) visit(ctx context.Context, req Request, state proxy.State, followRedirects bool) (Response, error) {
	method, target, body, headers, err := f.prepare(req)
	if err != nil {
		return Response{}, err
	}
	if err := f.limiter.Wait(ctx, target); err != nil {
		return Response{}, err
	}

	var (
		result   Response
		fetchErr error
	)
	collector := f.buildCollector(ctx, req, state, followRedirects)
	f.configureCollectorHooks(collector, &result, &fetchErr)

	if err := collector.Request(method, target, body, nil, headers); err != nil {
		return Response{}, fmt.Errorf("colly request failed: %w", err)
	}
	if fetchErr != nil {
		return Response{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, req Request, state proxy.State, followRedirects bool) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = f.cfg.ConnectTimeout + f.cfg.ReadTimeout
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(&rawBodyTransport{base: f.transportFor(state)})
	if followRedirects {
		collector.SetRedirectHandler(limitRedirects)
	} else {
		collector.SetRedirectHandler(refuseRedirects)
	}
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *Response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		if original := headers.Get(originalContentTypeHeader); original != "" {
			headers.Set("Content-Type", original)
			headers.Del(originalContentTypeHeader)
		}
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) prepare(req Request) (string, string, io.Reader, http.Header, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("parse url %q: %w", req.URL, err)
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for key, values := range req.Query {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	headers := http.Header{}
	for key, values := range req.Headers {
		for _, v := range values {
			headers.Add(key, v)
		}
	}
	if headers.Get("User-Agent") == "" {
		headers.Set("User-Agent", f.pickUserAgent())
	}
	var body io.Reader
	if req.Form != nil {
		body = strings.NewReader(req.Form.Encode())
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	return method, target.String(), body, headers, nil
}

func (f *Fetcher) pickUserAgent() string {
	return f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))] // #nosec G404 -- not security sensitive
}

// transportFor reuses one transport per proxy endpoint and releases idle
// connections of the previous endpoint when the lease changes.
func (f *Fetcher) transportFor(state proxy.State) *http.Transport {
	key := ""
	lease, held := state.Lease()
	if held {
		key = lease.Addr()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transport != nil && f.transportKey == key {
		return f.transport
	}
	if f.transport != nil {
		f.transport.CloseIdleConnections()
	}
	t := newHTTPTransport(f.cfg)
	if held {
		t.Proxy = http.ProxyURL(lease.URL())
	}
	f.transport = t
	f.transportKey = key
	return t
}

func newHTTPTransport(cfg Config) *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- regional bureau sites serve broken chains
		},
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	return nil
}

func refuseRedirects(*http.Request, []*http.Request) error {
	return http.ErrUseLastResponse
}

func isProxyOrTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && (opErr.Op == "proxyconnect" || opErr.Op == "dial") {
		return true
	}
	return strings.Contains(err.Error(), "proxyconnect")
}

func writeFile(dst string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
