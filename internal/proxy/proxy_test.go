package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func TestLeaseValid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		lease Lease
		want  bool
	}{
		{Lease{IP: "10.1.2.3", Port: 8080}, true},
		{Lease{IP: "10.1.2.3", Port: 0}, false},
		{Lease{IP: "10.1.2.3", Port: 70000}, false},
		{Lease{IP: "::1", Port: 8080}, false},
		{Lease{IP: "not-an-ip", Port: 8080}, false},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, tt.lease.Valid(), "%+v", tt.lease)
	}
	require.Equal(t, "http://10.1.2.3:8080", Lease{IP: "10.1.2.3", Port: 8080}.URL().String())
}

func TestStateDrop(t *testing.T) {
	t.Parallel()

	s := NewState(Lease{IP: "10.1.2.3", Port: 8080})
	require.True(t, s.Held())
	dropped := s.Drop()
	require.False(t, dropped.Held())
	require.True(t, s.Held(), "drop must not mutate the original value")

	require.False(t, NewState(Lease{IP: "bogus"}).Held())
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	cache := NewCache(filepath.Join(t.TempDir(), "nested", "proxy.json"))
	want := Lease{IP: "192.168.0.9", Port: 3128}
	require.NoError(t, cache.Save(want))

	got, err := cache.Load()
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.True(t, cache.Seed().Held())
}

func TestCacheRejectsInvalidContent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "proxy.json")
	cache := NewCache(path)
	require.ErrorIs(t, cache.Save(Lease{IP: "nope", Port: 1}), ErrInvalidLease)

	require.NoError(t, os.WriteFile(path, []byte(`{"ip":"999.1.1.1","port":80}`), 0o600))
	_, err := cache.Load()
	require.ErrorIs(t, err, ErrInvalidLease)
	require.False(t, cache.Seed().Held())
}

func TestCacheMissingFile(t *testing.T) {
	t.Parallel()

	_, err := NewCache(filepath.Join(t.TempDir(), "absent.json")).Load()
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestVendorFetch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    Lease
		wantErr error
	}{
		{name: "ok", body: `{"code":0,"data":[{"ip":"1.2.3.4","port":5678}]}`, want: Lease{IP: "1.2.3.4", Port: 5678}},
		{name: "rate limited", body: `{"code":111,"msg":"slow down"}`, wantErr: ErrRateLimited},
		{name: "whitelist", body: `{"code":113}`, wantErr: ErrNotWhitelisted},
		{name: "balance", body: `{"code":114}`, wantErr: ErrBalanceExhausted},
		{name: "quota", body: `{"code":116}`, wantErr: ErrQuotaExhausted},
		{name: "empty", body: `{"code":0,"data":[]}`, wantErr: ErrNoLease},
		{name: "invalid", body: `{"code":0,"data":[{"ip":"x","port":1}]}`, wantErr: ErrInvalidLease},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			lease, err := NewVendor(srv.URL, srv.Client(), nil).Fetch(context.Background())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, lease)
		})
	}
}

func TestAcquirerRetriesThenCaches(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{
		errs:  []error{ErrRateLimited, ErrRateLimited},
		lease: Lease{IP: "5.6.7.8", Port: 9000},
	}
	cache := NewCache(filepath.Join(t.TempDir(), "proxy.json"))
	acq := NewAcquirer(fetcher, cache, nil, WithBackOff(zeroBackOff(2)))

	lease, err := acq.Acquire(context.Background())
	require.NoError(t, err)
	require.Equal(t, fetcher.lease, lease)
	require.Equal(t, int32(3), fetcher.calls.Load())

	cached, err := cache.Load()
	require.NoError(t, err)
	require.Equal(t, lease, cached)
}

func TestAcquirerGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{ErrQuotaExhausted, ErrQuotaExhausted, ErrQuotaExhausted, ErrQuotaExhausted}}
	acq := NewAcquirer(fetcher, nil, nil, WithBackOff(zeroBackOff(2)))

	_, err := acq.Acquire(context.Background())
	require.ErrorIs(t, err, ErrQuotaExhausted)
	require.Equal(t, int32(3), fetcher.calls.Load())
}

func zeroBackOff(retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries)
	}
}

type scriptedFetcher struct {
	calls atomic.Int32
	errs  []error
	lease Lease
}

func (f *scriptedFetcher) Fetch(context.Context) (Lease, error) {
	n := int(f.calls.Add(1)) - 1
	if n < len(f.errs) {
		return Lease{}, f.errs[n]
	}
	if !f.lease.Valid() {
		return Lease{}, errors.New("no lease scripted")
	}
	return f.lease, nil
}
