package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Vendor error codes returned in the response envelope.
const (
	codeOK              = 0
	codeRateLimited     = 111
	codeNotWhitelisted  = 113
	codeBalanceDepleted = 114
	codeQuotaExhausted  = 116
)

// Sentinel errors for the vendor codes callers may want to distinguish.
var (
	ErrRateLimited      = errors.New("proxy vendor: requests too frequent")
	ErrNotWhitelisted   = errors.New("proxy vendor: caller ip not whitelisted")
	ErrBalanceExhausted = errors.New("proxy vendor: account balance exhausted")
	ErrQuotaExhausted   = errors.New("proxy vendor: daily quota exhausted")
	ErrNoLease          = errors.New("proxy vendor: response carried no lease")
)

// Vendor fetches a single fresh lease from the proxy provider.
type Vendor struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewVendor builds a vendor client for endpoint. A nil client uses a 10s timeout.
func NewVendor(endpoint string, client *http.Client, logger *zap.Logger) *Vendor {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Vendor{endpoint: endpoint, client: client, logger: logger}
}

type vendorResponse struct {
	Code int     `json:"code"`
	Msg  string  `json:"msg"`
	Data []Lease `json:"data"`
}

// Fetch requests one lease. Vendor error codes map onto the sentinel errors.
func (v *Vendor) Fetch(ctx context.Context) (Lease, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint, nil)
	if err != nil {
		return Lease{}, fmt.Errorf("build vendor request: %w", err)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return Lease{}, fmt.Errorf("call proxy vendor: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Lease{}, fmt.Errorf("read vendor response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Lease{}, fmt.Errorf("proxy vendor returned status %d", resp.StatusCode)
	}

	var payload vendorResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Lease{}, fmt.Errorf("decode vendor response: %w", err)
	}
	switch payload.Code {
	case codeOK:
	case codeRateLimited:
		v.logger.Warn("proxy vendor rate limited the request")
		return Lease{}, ErrRateLimited
	case codeNotWhitelisted:
		v.logger.Error("proxy vendor rejected caller ip; add it to the whitelist")
		return Lease{}, ErrNotWhitelisted
	case codeBalanceDepleted:
		v.logger.Error("proxy vendor account balance exhausted")
		return Lease{}, ErrBalanceExhausted
	case codeQuotaExhausted:
		v.logger.Error("proxy vendor daily quota exhausted")
		return Lease{}, ErrQuotaExhausted
	default:
		return Lease{}, fmt.Errorf("proxy vendor code %d: %s", payload.Code, payload.Msg)
	}
	if len(payload.Data) == 0 {
		return Lease{}, ErrNoLease
	}
	lease := payload.Data[0]
	if !lease.Valid() {
		return Lease{}, fmt.Errorf("%w: %+v", ErrInvalidLease, lease)
	}
	return lease, nil
}
