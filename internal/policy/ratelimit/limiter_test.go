package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitSpacesRequestsPerHost(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 10, DefaultBurst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "http://www.csrc.gov.cn/a"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "http://www.csrc.gov.cn/b"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	// a different host has its own bucket
	start = time.Now()
	require.NoError(t, l.Wait(ctx, "http://static.csrc.gov.cn/c"))
	require.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestWaitUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for range 100 {
		require.NoError(t, l.Wait(context.Background(), "http://example.com"))
	}
	require.Less(t, time.Since(start), 50*time.Millisecond)

	var nilLimiter *Limiter
	require.NoError(t, nilLimiter.Wait(context.Background(), "http://example.com"))
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.1, DefaultBurst: 1})
	require.NoError(t, l.Wait(context.Background(), "http://example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "http://example.com"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, "www.csrc.gov.cn", hostOf("http://www.csrc.gov.cn:8080/x?y=1"))
	require.Equal(t, unknownHost, hostOf("::bad"))
	require.Equal(t, unknownHost, hostOf("/relative"))
}
