package main

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sweeney/ari-calllog/internal/ari"
	"github.com/sweeney/ari-calllog/internal/calllog"
	"github.com/sweeney/ari-calllog/internal/config"
	"github.com/sweeney/ari-calllog/internal/directory"
	"github.com/sweeney/ari-calllog/internal/metrics"
)

func fixturesDir() string {
	return filepath.Join("..", "..", "testdata", "fixtures")
}

func readFrames(t *testing.T, fixture string) [][]byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(fixturesDir(), fixture))
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	var frames [][]byte
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := bytes.TrimSpace(sc.Bytes()); len(line) > 0 {
			frames = append(frames, append([]byte(nil), line...))
		}
	}
	return frames
}

// serveFixture plays a capture to every websocket client, then closes.
func serveFixture(t *testing.T, fixture string) *httptest.Server {
	t.Helper()
	frames := readFrames(t, fixture)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for _, f := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, f); err != nil {
				return
			}
		}
		ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(eventsURL string) *config.Config {
	cfg := config.Default()
	cfg.ARI.EventsURL = eventsURL + "/ari/events"
	cfg.ARI.Username = "asterisk"
	cfg.ARI.Password = "secret"
	cfg.Finalizer.ShutdownGrace = 5 * time.Second
	return cfg
}

// runPipeline plays fixture through a fully wired engine and returns once
// the feed has closed and the finalizer has drained.
func runPipeline(t *testing.T, fixture string, sink calllog.Sink, dir directory.Checker) *metrics.Metrics {
	t.Helper()
	srv := serveFixture(t, fixture)
	stats := metrics.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The first disconnect ends the run.
	stopOnSleep := func(context.Context, time.Duration) bool {
		cancel()
		return false
	}

	eng, err := newEngine(testConfig(srv.URL), sink, dir, zap.NewNop(), stats, ari.WithSleeper(stopOnSleep))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- eng.run(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	return stats
}

func TestPipelineLiveSession(t *testing.T) {
	sink := calllog.NewMockSink()
	stats := runPipeline(t, "live-session.jsonl", sink, nil)

	recs := sink.Records()
	require.Len(t, recs, 2)

	byID := map[string]calllog.Record{}
	for _, r := range recs {
		byID[r.ExternalCorrelationID] = r
	}

	answered := byID["1772460001.601"]
	assert.Equal(t, "1001", answered.OriginatingEndpoint)
	assert.Equal(t, "1002", answered.TerminatingEndpoint)
	assert.Equal(t, calllog.StatusAnswered, answered.Status)
	assert.Equal(t, int64(64), answered.DurationSeconds)

	cancelled := byID["1772460002.701"]
	assert.Equal(t, "1003", cancelled.OriginatingEndpoint)
	assert.Equal(t, "1004", cancelled.TerminatingEndpoint)
	assert.Equal(t, calllog.StatusCancelled, cancelled.Status)

	assert.Equal(t, 1.0, testutil.ToFloat64(stats.EventsDropped.WithLabelValues(metrics.ReasonMalformed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.EventsDropped.WithLabelValues(metrics.ReasonUnknownType)))
	assert.Equal(t, 2.0, testutil.ToFloat64(stats.RecordsSubmitted))
	assert.Equal(t, 0.0, testutil.ToFloat64(stats.TrackedCalls))
}

func TestPipelineAllFixtures(t *testing.T) {
	tests := []struct {
		fixture string
		from    string
		to      string
		status  calllog.Status
	}{
		{"answered-internal.jsonl", "1001", "1002", calllog.StatusAnswered},
		{"unanswered-noanswer.jsonl", "1003", "1004", calllog.StatusNoAnswer},
		{"busy.jsonl", "1001", "+442079460000", calllog.StatusBusy},
		{"huntgroup.jsonl", "+15550001234", "1003", calllog.StatusAnswered},
	}
	for _, tt := range tests {
		t.Run(tt.fixture, func(t *testing.T) {
			sink := calllog.NewMockSink()
			runPipeline(t, tt.fixture, sink, nil)

			recs := sink.Records()
			require.Len(t, recs, 1)
			assert.Equal(t, tt.from, recs[0].OriginatingEndpoint)
			assert.Equal(t, tt.to, recs[0].TerminatingEndpoint)
			assert.Equal(t, tt.status, recs[0].Status)
		})
	}
}

func TestPipelineUnresolvedProducesNothing(t *testing.T) {
	sink := calllog.NewMockSink()
	stats := runPipeline(t, "unresolved.jsonl", sink, nil)

	assert.Empty(t, sink.Records())
	assert.Equal(t, 1.0, testutil.ToFloat64(stats.TrackedCalls))
}

func TestPipelineDirectoryFiltersUnknownEndpoints(t *testing.T) {
	sink := calllog.NewMockSink()
	runPipeline(t, "live-session.jsonl", sink, directory.NewStatic([]string{"1001", "1002"}))

	recs := sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "1772460001.601", recs[0].ExternalCorrelationID)
}

func TestPipelineStoreIsIdempotentAcrossReplays(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "calls.db")
	store, err := calllog.Open("sqlite", dsn)
	require.NoError(t, err)
	defer store.Close()

	// A restart replays the same capture into a fresh tracker.
	runPipeline(t, "answered-internal.jsonl", store, nil)
	runPipeline(t, "answered-internal.jsonl", store, nil)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entry, err := store.Find(context.Background(), "1772442900.101")
	require.NoError(t, err)
	assert.Equal(t, "1001", entry.OriginatingEndpoint)
	assert.Equal(t, "1002", entry.TerminatingEndpoint)
	assert.Equal(t, string(calllog.StatusAnswered), entry.Status)
	assert.Equal(t, int64(96), entry.DurationSeconds)
}

func TestPipelineFansOutToAllSinks(t *testing.T) {
	a, b := calllog.NewMockSink(), calllog.NewMockSink()
	runPipeline(t, "busy.jsonl", calllog.Multi{a, b}, nil)

	assert.Len(t, a.Records(), 1)
	assert.Len(t, b.Records(), 1)
}

func TestOpenSinksRequiresOne(t *testing.T) {
	cfg := config.Default()
	_, err := openSinks(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenSinksDatabase(t *testing.T) {
	cfg := config.Default()
	cfg.CallLog.DSN = filepath.Join(t.TempDir(), "calls.db")
	sink, err := openSinks(cfg, zap.NewNop())
	require.NoError(t, err)
	defer sink.Close()
	assert.Len(t, sink.(calllog.Multi), 1)
}

func TestOpenDirectory(t *testing.T) {
	cfg := config.Default()
	dir, closeDir := openDirectory(context.Background(), cfg, zap.NewNop())
	closeDir()
	assert.Nil(t, dir)

	cfg.Directory.Endpoints = []string{"1001"}
	dir, closeDir = openDirectory(context.Background(), cfg, zap.NewNop())
	defer closeDir()
	require.NotNil(t, dir)
	assert.True(t, dir.Exists("1001"))
	assert.False(t, dir.Exists("1002"))
}
