package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/regcrawl/internal/crawler"
	"github.com/JakeFAU/regcrawl/internal/storage/memory"
)

func sampleOutcome() crawler.Outcome {
	total := 120
	return crawler.Outcome{
		Target:    "Beijing",
		Code:      "BJ",
		StatusID:  42,
		Condition: map[string]any{"blockName": "北京辖区"},
		State:     crawler.OutcomeSucceeded,
		Total:     &total,
		Increment: 3,
		LogTime:   time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestStoreSink(t *testing.T) {
	t.Parallel()

	repo := memory.NewStatusStore()
	sink := NewStoreSink(repo, nil)

	require.NoError(t, sink.Record(context.Background(), sampleOutcome()))
	got, ok := repo.Outcome(42)
	require.True(t, ok)
	require.Equal(t, 3, got.Increment)

	noID := sampleOutcome()
	noID.StatusID = 0
	require.NoError(t, sink.Record(context.Background(), noID))
	_, ok = repo.Outcome(0)
	require.False(t, ok)
}

type failingStatusRepo struct{}

func (failingStatusRepo) UpdateCrawlStatus(context.Context, int64, crawler.Outcome) error {
	return errors.New("connection refused")
}

func (failingStatusRepo) Close() error { return nil }

func TestStoreSinkWrapsError(t *testing.T) {
	t.Parallel()

	err := NewStoreSink(failingStatusRepo{}, nil).Record(context.Background(), sampleOutcome())
	require.ErrorContains(t, err, "update crawl status 42")
}

func TestAPISinkPostsUpdate(t *testing.T) {
	t.Parallel()

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &got))
		_, _ = w.Write([]byte(`{"code":200}`))
	}))
	defer srv.Close()

	sink := NewAPISink(srv.URL, nil, WithAPIHTTPClient(srv.Client()))
	require.NoError(t, sink.Record(context.Background(), sampleOutcome()))

	require.Equal(t, "U", got["type"])
	require.Equal(t, "北京辖区", got["condition"].(map[string]any)["blockName"])
	status := got["crawlerStatus"].(map[string]any)
	require.InDelta(t, 120, status["total"], 0)
	require.Nil(t, status["existence"])
	require.Nil(t, status["errorInfo"])
	require.InDelta(t, 3, status["increment"], 0)
	require.InDelta(t, 1, status["state"], 0)
	require.Equal(t, "2024-03-01 09:30:00", status["logTime"])
}

func TestAPISinkSkipsWithoutCondition(t *testing.T) {
	t.Parallel()

	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	o := sampleOutcome()
	o.Condition = nil
	require.NoError(t, NewAPISink(srv.URL, nil).Record(context.Background(), o))
	require.False(t, called)
}

func TestAPISinkServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewAPISink(srv.URL, nil).Record(context.Background(), sampleOutcome())
	require.ErrorContains(t, err, "500")
}

func TestStatusFromOutcomeFailure(t *testing.T) {
	t.Parallel()

	o := sampleOutcome()
	o.State = crawler.OutcomeFailed
	o.ErrorText = "page 2 failed"
	status := StatusFromOutcome(o)
	require.Equal(t, 0, status.State)
	require.NotNil(t, status.ErrorInfo)
	require.Equal(t, "page 2 failed", *status.ErrorInfo)
}

func TestFileSink(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "status")
	sink := NewFileSink(dir)
	require.NoError(t, sink.Record(context.Background(), sampleOutcome()))

	data, err := os.ReadFile(filepath.Join(dir, "BJ.txt")) // #nosec G304 -- test temp dir
	require.NoError(t, err)
	var status CrawlerStatus
	require.NoError(t, json.Unmarshal(data, &status))
	require.Equal(t, 3, status.Increment)

	noCode := sampleOutcome()
	noCode.Code = ""
	require.NoError(t, sink.Record(context.Background(), noCode))
}

func TestMetricsAndLogSinks(t *testing.T) {
	t.Parallel()

	require.NoError(t, NewMetricsSink().Record(context.Background(), sampleOutcome()))
	require.NoError(t, NewLogSink(nil).Record(context.Background(), sampleOutcome()))
}

func TestPubSubSinkPublishes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	defer srv.Close() //nolint:errcheck

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close() //nolint:errcheck

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer client.Close() //nolint:errcheck

	_, err = client.CreateTopic(ctx, "outcomes")
	require.NoError(t, err)

	_, err = newPubSubSink(ctx, client, "missing", nil)
	require.Error(t, err)

	sink, err := newPubSubSink(ctx, client, "outcomes", nil)
	require.NoError(t, err)
	require.NoError(t, sink.Record(ctx, sampleOutcome()))
	require.NoError(t, sink.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got OutcomeMessage
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "BJ", got.Code)
	require.Equal(t, "1", msgs[0].Attributes["state"])
}
