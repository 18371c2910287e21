package healthcheck

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gembalance/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func settingsFor(baseURL string) SettingsFunc {
	return func(ctx context.Context) (store.Settings, error) {
		s := store.Settings{UpstreamBaseURL: baseURL, HealthCheckModel: "gemini-2.0-flash"}
		return s.Normalize(), nil
	}
}

func TestCheckHealthyKey(t *testing.T) {
	var gotPath, gotKey string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"candidates":[]}`))
	}))
	defer srv.Close()

	c := New(settingsFor(srv.URL), 5*time.Second)
	require.True(t, c.Check(context.Background(), "test-key"))

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "hi", gjson.GetBytes(gotBody, "contents.0.parts.0.text").String())
	assert.Equal(t, int64(1), gjson.GetBytes(gotBody, "generationConfig.maxOutputTokens").Int())
}

func TestCheckRejectedKey(t *testing.T) {
	for _, status := range []int{400, 401, 403, 429, 500, 503} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":{"message":"API key not valid"}}`))
		}))

		c := New(settingsFor(srv.URL), 5*time.Second)
		require.False(t, c.Check(context.Background(), "bad-key"), "status %d", status)
		srv.Close()
	}
}

func TestCheckTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	c := New(settingsFor(srv.URL), 2*time.Second)
	require.False(t, c.Check(context.Background(), "any"))
}

func TestCheckSettingsFailure(t *testing.T) {
	c := New(func(ctx context.Context) (store.Settings, error) {
		return store.Settings{}, context.DeadlineExceeded
	}, time.Second)
	require.False(t, c.Check(context.Background(), "any"))
}

func TestCheckReReadsSettings(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer second.Close()

	current := first.URL
	c := New(func(ctx context.Context) (store.Settings, error) {
		s := store.Settings{UpstreamBaseURL: current}
		return s.Normalize(), nil
	}, 5*time.Second)

	require.False(t, c.Check(context.Background(), "k"))
	current = second.URL
	require.True(t, c.Check(context.Background(), "k"), "base URL change applies on next probe")
}
