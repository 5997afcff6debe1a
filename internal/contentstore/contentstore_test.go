package contentstore

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFieldsIntAndWith(t *testing.T) {
	var decoded Fields
	require.NoError(t, json.Unmarshal([]byte(`{"order":{"en-US":3,"de-DE":2.5},"title":{"en-US":"x"}}`), &decoded))

	n, ok := decoded.Int("order", "en-US")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = decoded.Int("order", "de-DE")
	assert.False(t, ok, "non-integral value")
	_, ok = decoded.Int("title", "en-US")
	assert.False(t, ok, "string value")
	_, ok = decoded.Int("missing", "en-US")
	assert.False(t, ok)

	next := decoded.With("order", "en-US", 0)
	n, _ = next.Int("order", "en-US")
	assert.Equal(t, 0, n)
	n, _ = decoded.Int("order", "en-US")
	assert.Equal(t, 3, n, "With must not touch the receiver")
	assert.Equal(t, "x", next["title"]["en-US"])

	created := Fields(nil).With("order", "en-US", 4)
	n, ok = created.Int("order", "en-US")
	assert.True(t, ok)
	assert.Equal(t, 4, n)
}

func TestValidateID(t *testing.T) {
	for _, id := range []string{"5KsDBWseXY6QegucYAoacS", "a-b_c.d"} {
		require.NoError(t, ValidateID(id), id)
	}

	cases := map[string]string{
		"empty":   "",
		"long":    strings.Repeat("a", 65),
		"slash":   "../etc",
		"space":   "news item",
		"unicode": "é",
	}
	for name, id := range cases {
		var verr ValidationError
		require.ErrorAs(t, ValidateID(id), &verr, name)
		assert.Equal(t, "id", verr.Field, name)
	}
}

func TestOpErrorWrapping(t *testing.T) {
	assert.Nil(t, FetchError("a", nil))

	err := UpdateError("a", ErrVersionConflict)
	assert.True(t, IsOp(err, OpUpdate))
	assert.False(t, IsOp(err, OpPublish))
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, "update entry a: entry version mismatch", err.Error())

	assert.Same(t, err, UpdateError("a", err), "no double wrap")

	var oe *OpError
	require.ErrorAs(t, PublishError("b", err), &oe)
	assert.Equal(t, OpPublish, oe.Op)
}

func fastRetry() RetryConfig {
	r := DefaultRetryConfig()
	r.InitialDelay = time.Millisecond
	r.MaxDelay = 5 * time.Millisecond
	return r
}

func TestRetryableClientRetriesOn429(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("X-Contentful-RateLimit-Reset", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewRetryableHTTPClient(time.Second, nil, fastRetry())
	req, err := http.NewRequest(http.MethodPut, srv.URL, strings.NewReader(`{"fields":{}}`))
	require.NoError(t, err)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{`{"fields":{}}`, `{"fields":{}}`}, bodies, "body resent on retry")
}

func TestRetryableClientCapsServerHint(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "3600")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewRetryableHTTPClient(time.Second, nil, fastRetry())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	start := time.Now()
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Less(t, time.Since(start), 2*time.Second, "hint clamped to MaxDelay")
}

func TestRetryableClientGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewRetryableHTTPClient(time.Second, nil, fastRetry())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.EqualValues(t, 4, atomic.LoadInt32(&calls))
}

func TestRetryableClientNoRetryOnConflict(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewRetryableHTTPClient(time.Second, nil, fastRetry())
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	resp, err := c.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestRetryAfterHeader(t *testing.T) {
	h := http.Header{}
	_, ok := retryAfter(h)
	assert.False(t, ok)
	h.Set("Retry-After", "2")
	d, ok := retryAfter(h)
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
	h.Set("X-Contentful-RateLimit-Reset", "1")
	d, _ = retryAfter(h)
	assert.Equal(t, time.Second, d)
}

func TestCalculateDelayCapped(t *testing.T) {
	c := NewRetryableHTTPClient(time.Second, nil, DefaultRetryConfig())
	for attempt := 0; attempt < 10; attempt++ {
		d := c.calculateDelay(attempt)
		assert.LessOrEqual(t, d, 10*time.Second)
		assert.Greater(t, d, time.Duration(0))
	}
}

func TestRateLimiterSpacing(t *testing.T) {
	rl := NewRateLimiter(50, 1)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx))
	}
	assert.GreaterOrEqual(t, time.Since(start), 35*time.Millisecond)

	var nilLimiter *RateLimiter
	assert.NoError(t, nilLimiter.Wait(ctx))
	assert.NoError(t, NewRateLimiter(0, 0).Wait(ctx))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	slow := NewRateLimiter(0.001, 1)
	require.NoError(t, slow.Wait(ctx))
	assert.ErrorIs(t, slow.Wait(cancelled), context.Canceled)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("contentful")
	require.Error(t, err)
	assert.Empty(t, r.Names())
}
