package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Timeout: 0}, nil)
	require.Error(t, err)

	_, err = New(Config{Timeout: time.Second, ProxyURL: "://bad"}, nil)
	require.Error(t, err)
}

func TestSendAppliesParamsAndHeaders(t *testing.T) {
	t.Parallel()

	var gotQuery, gotUA, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("page")
		gotUA = r.Header.Get("User-Agent")
		gotHeader = r.Header.Get("X-Api-Key")
		_, _ = w.Write([]byte(`{"items":[]}`))
	}))
	defer server.Close()

	c := testClient(t, Config{Timeout: 5 * time.Second, UserAgent: "adaptive-crawler/1.0"})
	resp, err := c.Send(context.Background(), Request{
		URL:     server.URL,
		Params:  map[string]string{"page": "3"},
		Headers: http.Header{"X-Api-Key": []string{"secret"}},
	})

	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []byte(`{"items":[]}`), resp.Body)
	require.Positive(t, resp.Latency)
	require.Equal(t, "3", gotQuery)
	require.Equal(t, "adaptive-crawler/1.0", gotUA)
	require.Equal(t, "secret", gotHeader)
}

func TestSendDoesNotFollowRedirects(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusMovedPermanently)
	}))
	defer server.Close()

	c := testClient(t, Config{Timeout: 5 * time.Second})
	resp, err := c.Send(context.Background(), Request{URL: server.URL})

	require.NoError(t, err)
	require.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
}

func TestSendReturnsStatusWithoutInterpretation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := testClient(t, Config{Timeout: 5 * time.Second})
	resp, err := c.Send(context.Background(), Request{URL: server.URL})

	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSendTransportErrorIsAnError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	c := testClient(t, Config{Timeout: time.Second})
	_, err := c.Send(context.Background(), Request{URL: server.URL})
	require.Error(t, err)
}

func TestSendLimitsBodySize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 1024))
	}))
	defer server.Close()

	c := testClient(t, Config{Timeout: 5 * time.Second, MaxBody: 100})
	resp, err := c.Send(context.Background(), Request{URL: server.URL})

	require.NoError(t, err)
	require.Len(t, resp.Body, 100)
}
