package clientutil_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.curlew.xyz/recommand/clientutil"
)

func TestRetryServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := clientutil.Wrap(nil, clientutil.WithRetry(3, 1*time.Millisecond))
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryExhausted(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "oops", http.StatusBadGateway)
	}))
	defer server.Close()

	client := clientutil.Wrap(nil, clientutil.WithRetry(3, 1*time.Millisecond))
	//nolint:bodyclose
	_, err := client.Get(server.URL)
	require.Error(t, err)

	var statusErr clientutil.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.Code)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryClientErrorPassesThrough(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no", http.StatusNotFound)
	}))
	defer server.Close()

	client := clientutil.Wrap(nil, clientutil.WithRetry(3, 1*time.Millisecond))
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRetryReplaysBody(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if calls.Add(1) < 2 {
			http.Error(w, "oops", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := clientutil.Wrap(nil, clientutil.WithRetry(3, 1*time.Millisecond))
	resp, err := client.Post(server.URL, "text/plain", strings.NewReader("hello"))
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, []string{"hello", "hello"}, bodies)
}

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var order []string
	mw := func(name string) clientutil.Middleware {
		return func(next http.RoundTripper) http.RoundTripper {
			return clientutil.RoundTripFunc(func(r *http.Request) (*http.Response, error) {
				order = append(order, name)
				return next.RoundTrip(r)
			})
		}
	}

	base := clientutil.RoundTripFunc(func(r *http.Request) (*http.Response, error) {
		order = append(order, "base")
		return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody}, nil
	})

	chained := clientutil.Chain(mw("a"), mw("b"), mw("c"))(base)
	req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
	resp, err := chained.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"a", "b", "c", "base"}, order)
}

func TestUserAgent(t *testing.T) {
	t.Parallel()

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := clientutil.Wrap(nil, clientutil.WithUserAgent("recommand/test"))
	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "recommand/test", got)
}
