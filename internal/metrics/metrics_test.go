package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://www.csrc.gov.cn/beijing/", "www.csrc.gov.cn"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	if fetchAttemptsTotal == nil || recordActionsTotal == nil || stageDurationSeconds == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveHelpers(t *testing.T) {
	before := testutil.ToFloat64(recordActionsCounter("inserted"))
	ObserveRecordAction("inserted")
	if got := testutil.ToFloat64(recordActionsCounter("inserted")); got != before+1 {
		t.Fatalf("expected inserted counter to grow by 1, got %f -> %f", before, got)
	}

	ObserveFetchAttempt("ok")
	ObserveListPage("Beijing", "ok")
	ObserveStageItem("detail", "ok")
	ObserveTargetOutcome("succeeded")
	ObserveStageDuration("list", 3*time.Second)
	if val := testutil.CollectAndCount(stageDurationSeconds); val <= 0 {
		t.Errorf("expected stage duration to be observed, got %d", val)
	}
}

func TestPush(t *testing.T) {
	Init()
	var pushed atomic.Int32
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut && r.URL.Path == "/metrics/job/regcrawl/stage/list" {
			pushed.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	if err := Push(context.Background(), gateway.URL, "regcrawl", map[string]string{"stage": "list"}); err != nil {
		t.Fatalf("Push() error = %v", err)
	}
	if pushed.Load() != 1 {
		t.Fatalf("expected one push, got %d", pushed.Load())
	}
}

func recordActionsCounter(action string) prometheus.Counter {
	Init()
	return recordActionsTotal.WithLabelValues(action)
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
