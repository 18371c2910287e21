package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"gembalance/internal/keypool"
	"gembalance/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type recordingSink struct {
	mu   sync.Mutex
	recs []store.ErrorRecord
}

func (s *recordingSink) RecordError(_ context.Context, rec store.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return nil
}

func (s *recordingSink) records() []store.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ErrorRecord(nil), s.recs...)
}

func newTestEngine(t *testing.T, upstreamURL string, keys []string) (*Engine, *keypool.Provider, *recordingSink) {
	t.Helper()
	provider := keypool.NewProvider(func(ctx context.Context) ([]string, int, error) {
		return keys, 3, nil
	})
	settings := func(ctx context.Context) (store.Settings, error) {
		s := store.Settings{UpstreamBaseURL: upstreamURL}
		return s.Normalize(), nil
	}
	sink := &recordingSink{}
	return NewEngine(provider, settings, sink), provider, sink
}

func doForward(e *Engine, req *http.Request, prefix string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	e.Forward(c, prefix)
	return w
}

func TestForwardSuccessRelay(t *testing.T) {
	var gotAuth, gotGoogKey, gotAPIKey, gotQuery, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotGoogKey = r.Header.Get("x-goog-api-key")
		gotAPIKey = r.Header.Get("x-api-key")
		gotQuery = r.URL.RawQuery
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{}}]}`))
	}))
	defer srv.Close()

	e, provider, sink := newTestEngine(t, srv.URL, []string{"pooled-key"})

	req := httptest.NewRequest(http.MethodPost,
		"/v1beta/models/gemini-2.0-flash:generateContent?key=caller-key&alt=json",
		strings.NewReader(`{"contents":[]}`))
	req.Header.Set("Authorization", "Bearer caller-key")
	w := doForward(e, req, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "candidates")

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Empty(t, gotAuth, "caller credential must not reach the upstream")
	assert.Empty(t, gotAPIKey)
	assert.Equal(t, "pooled-key", gotGoogKey)
	assert.NotContains(t, gotQuery, "key=", "caller key query param stripped")
	assert.Contains(t, gotQuery, "alt=json")

	pool, err := provider.Get(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pool.Snapshot()[0].FailureCount)
	assert.Empty(t, sink.records())
}

func TestForwardSuccessDoesNotRepairCounters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	e, provider, _ := newTestEngine(t, srv.URL, []string{"k1"})
	pool, err := provider.Get(context.Background())
	require.NoError(t, err)
	pool.ReportFailure("k1")

	w := doForward(e, httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil), "")
	require.Equal(t, http.StatusOK, w.Code)

	// Counter repair happens only through the health sweep.
	assert.Equal(t, 1, pool.Snapshot()[0].FailureCount)
}

func TestForwardRoundRobinAcrossRequests(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("x-goog-api-key"))
		mu.Unlock()
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t, srv.URL, []string{"k1", "k2"})
	for i := 0; i < 4; i++ {
		w := doForward(e, httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil), "")
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, []string{"k1", "k2", "k1", "k2"}, seen)
}

func TestForwardUpstreamErrorRelayedUnchanged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	}))
	defer srv.Close()

	e, provider, sink := newTestEngine(t, srv.URL, []string{"k1"})
	w := doForward(e, httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil), "")

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RESOURCE_EXHAUSTED", gjson.Get(w.Body.String(), "error.status").String(),
		"upstream error body passes through unmodified")

	pool, err := provider.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Snapshot()[0].FailureCount)

	recs := sink.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "upstream_error", recs[0].Kind)
	assert.Equal(t, "Resource has been exhausted", recs[0].Message)
	assert.NotContains(t, recs[0].APIKey, "k1", "audit stores masked keys only")
}

func TestForwardTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	e, provider, sink := newTestEngine(t, srv.URL, []string{"k1"})
	w := doForward(e, httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil), "")

	require.Equal(t, http.StatusBadGateway, w.Code)
	body := w.Body.String()
	assert.Equal(t, "server_error", gjson.Get(body, "error.type").String())
	assert.NotContains(t, body, srv.URL, "internal addresses never leak to clients")
	assert.NotContains(t, body, "refused")

	pool, err := provider.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.Snapshot()[0].FailureCount)
	require.Len(t, sink.records(), 1)
}

func TestForwardNoKeysConfigured(t *testing.T) {
	e, _, _ := newTestEngine(t, "http://127.0.0.1:1", nil)
	w := doForward(e, httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil), "")

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "no_keys_available", gjson.Get(w.Body.String(), "error.code").String())
}

func TestForwardAllKeysFailing(t *testing.T) {
	e, provider, _ := newTestEngine(t, "http://127.0.0.1:1", []string{"k1"})
	pool, err := provider.Get(context.Background())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		pool.ReportFailure("k1")
	}

	w := doForward(e, httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil), "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "all_keys_failing", gjson.Get(w.Body.String(), "error.code").String())

	// Rejection is a pool state, not another failure.
	assert.Equal(t, 3, pool.Snapshot()[0].FailureCount)
}

func TestForwardRoutePrefixStripped(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t, srv.URL, []string{"k1"})
	req := httptest.NewRequest(http.MethodPost, "/gemini/v1beta/models/m:generateContent", nil)
	w := doForward(e, req, "/gemini")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/v1beta/models/m:generateContent", gotPath)
}

func TestForwardClientCancelRecordsNoFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	e, provider, sink := newTestEngine(t, srv.URL, []string{"k1"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/m:generateContent", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		doForward(e, req, "")
	}()
	cancel()
	<-done

	pool, err := provider.Get(context.Background())
	require.NoError(t, err)
	assert.Zero(t, pool.Snapshot()[0].FailureCount, "client cancellation is not a key failure")
	assert.Empty(t, sink.records())
}

type flushCountingWriter struct {
	http.ResponseWriter
	flushes int
}

func (f *flushCountingWriter) Flush() { f.flushes++ }

func TestForwardStreamsChunksWithFlush(t *testing.T) {
	chunks := []string{
		`data: {"candidates":[{"content":{"parts":[{"text":"Hel"}]}}]}` + "\n\n",
		`data: {"candidates":[{"content":{"parts":[{"text":"lo"}]}}]}` + "\n\n",
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range chunks {
			w.Write([]byte(chunk))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	e, _, _ := newTestEngine(t, srv.URL, []string{"k1"})

	rr := httptest.NewRecorder()
	fw := &flushCountingWriter{ResponseWriter: rr}
	c, _ := gin.CreateTestContext(fw)
	c.Request = httptest.NewRequest(http.MethodPost,
		"/v1beta/models/m:streamGenerateContent?alt=sse", nil)
	e.Forward(c, "")

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/event-stream", rr.Header().Get("Content-Type"))
	assert.Equal(t, chunks[0]+chunks[1], rr.Body.String())
	assert.GreaterOrEqual(t, fw.flushes, 1, "relay flushes as chunks arrive")
}
