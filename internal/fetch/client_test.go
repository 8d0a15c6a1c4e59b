package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/stretchr/testify/require"

	"github.com/juiceswap/lds-bridge/pkg/logging"
)

// countingServer answers with the status returned by fn and counts hits.
type countingServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newServer(t *testing.T, fn func(n int32, w http.ResponseWriter)) *countingServer {
	t.Helper()
	s := &countingServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(s.hits.Add(1), w)
	}))
	t.Cleanup(s.Close)
	return s
}

func okJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func unavailable(w http.ResponseWriter) {
	w.WriteHeader(http.StatusServiceUnavailable)
}

func newTestClient(t *testing.T, cfg Config, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(cfg, opts...)
	require.NoError(t, err)
	return c
}

type okResp struct {
	OK bool `json:"ok"`
}

func TestFailoverWithinOneRequest(t *testing.T) {
	primary := newServer(t, func(n int32, w http.ResponseWriter) { unavailable(w) })
	fallback := newServer(t, func(n int32, w http.ResponseWriter) { okJSON(w) })

	c := newTestClient(t, Config{
		URL:         primary.URL,
		FallbackURL: fallback.URL,
		RetryDelay:  -1,
	})

	var out okResp
	err := c.Get(context.Background(), "/status", &out)
	require.NoError(t, err)
	require.True(t, out.OK)
	require.EqualValues(t, 1, primary.hits.Load())
	require.EqualValues(t, 1, fallback.hits.Load())
	require.True(t, c.UsingFallback())
}

func TestRetryBound(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		srv := newServer(t, func(n int32, w http.ResponseWriter) { unavailable(w) })

		c := newTestClient(t, Config{URL: srv.URL, MaxRetries: n, RetryDelay: -1})

		err := c.Get(context.Background(), "/", nil)
		require.ErrorIs(t, err, ErrRetriesExhausted)

		var httpErr *HTTPError
		require.ErrorAs(t, err, &httpErr)
		require.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
		require.LessOrEqual(t, int(srv.hits.Load()), n)
		require.EqualValues(t, n, srv.hits.Load())
	}
}

func TestNonRetryableStatus(t *testing.T) {
	primary := newServer(t, func(n int32, w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid pair"}`))
	})
	fallback := newServer(t, func(n int32, w http.ResponseWriter) { okJSON(w) })

	c := newTestClient(t, Config{URL: primary.URL, FallbackURL: fallback.URL, RetryDelay: -1})

	err := c.Get(context.Background(), "/", nil)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Status)
	require.Contains(t, string(httpErr.Body), "invalid pair")
	require.False(t, errors.Is(err, ErrRetriesExhausted))
	require.EqualValues(t, 1, primary.hits.Load())
	require.Zero(t, fallback.hits.Load())
	require.False(t, c.UsingFallback())
}

func TestNetworkErrorSwitchesToFallback(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	fallback := newServer(t, func(n int32, w http.ResponseWriter) { okJSON(w) })
	c := newTestClient(t, Config{URL: deadURL, FallbackURL: fallback.URL, RetryDelay: -1})

	var out okResp
	require.NoError(t, c.Get(context.Background(), "/", &out))
	require.True(t, out.OK)
	require.True(t, c.UsingFallback())
}

func TestFallbackCooldownRoundTrip(t *testing.T) {
	const cooldown = 10 * time.Minute
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	testClock := clock.NewTestClock(start)

	primary := newServer(t, func(n int32, w http.ResponseWriter) {
		if n == 1 {
			unavailable(w)
			return
		}
		okJSON(w)
	})
	fallback := newServer(t, func(n int32, w http.ResponseWriter) { okJSON(w) })

	c := newTestClient(t, Config{
		URL:              primary.URL,
		FallbackURL:      fallback.URL,
		RetryDelay:       -1,
		FallbackCooldown: cooldown,
	}, WithClock(testClock))

	ctx := context.Background()

	// The 503 switches at start; the retry lands on the fallback.
	require.NoError(t, c.Get(ctx, "/", nil))
	require.EqualValues(t, 1, primary.hits.Load())
	require.EqualValues(t, 1, fallback.hits.Load())

	testClock.SetTime(start.Add(cooldown / 2))
	require.NoError(t, c.Get(ctx, "/", nil))

	testClock.SetTime(start.Add(cooldown))
	require.NoError(t, c.Get(ctx, "/", nil))
	require.EqualValues(t, 1, primary.hits.Load())
	require.EqualValues(t, 3, fallback.hits.Load())

	testClock.SetTime(start.Add(cooldown + time.Nanosecond))
	require.NoError(t, c.Get(ctx, "/", nil))
	require.EqualValues(t, 2, primary.hits.Load())
	require.EqualValues(t, 3, fallback.hits.Load())
	require.False(t, c.UsingFallback())
}

func TestRetryDelayUsesClock(t *testing.T) {
	tickSignal := make(chan time.Duration, 1)
	testClock := clock.NewTestClockWithTickSignal(time.Unix(0, 0), tickSignal)

	srv := newServer(t, func(n int32, w http.ResponseWriter) {
		if n == 1 {
			unavailable(w)
			return
		}
		okJSON(w)
	})
	c := newTestClient(t, Config{URL: srv.URL, RetryDelay: time.Second}, WithClock(testClock))

	errc := make(chan error, 1)
	go func() {
		errc <- c.Get(context.Background(), "/", nil)
	}()

	select {
	case d := <-tickSignal:
		require.Equal(t, time.Second, d)
	case <-time.After(5 * time.Second):
		t.Fatal("retry delay was never scheduled")
	}
	require.EqualValues(t, 1, srv.hits.Load())

	testClock.SetTime(time.Unix(1, 0))
	require.NoError(t, <-errc)
	require.EqualValues(t, 2, srv.hits.Load())
}

func TestPerAttemptTimeout(t *testing.T) {
	srv := newServer(t, func(n int32, w http.ResponseWriter) {
		if n == 1 {
			time.Sleep(200 * time.Millisecond)
		}
		okJSON(w)
	})
	c := newTestClient(t, Config{URL: srv.URL, Timeout: 20 * time.Millisecond, RetryDelay: -1})

	var out okResp
	require.NoError(t, c.Get(context.Background(), "/", &out))
	require.True(t, out.OK)
	require.EqualValues(t, 2, srv.hits.Load())
}

func TestCancelledContextStopsRetrying(t *testing.T) {
	srv := newServer(t, func(n int32, w http.ResponseWriter) { unavailable(w) })
	c := newTestClient(t, Config{URL: srv.URL, MaxRetries: 5, RetryDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for srv.hits.Load() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	err := c.Get(ctx, "/", nil)
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 1, srv.hits.Load())
}

func TestPostEncodesJSON(t *testing.T) {
	var got []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got, _ = io.ReadAll(r.Body)
		okJSON(w)
	}))
	defer srv.Close()

	c := newTestClient(t, Config{URL: srv.URL + "/"})
	require.NoError(t, c.Post(context.Background(), "/x", map[string]string{"hex": "00"}, nil))
	require.JSONEq(t, `{"hex":"00"}`, string(got))
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	require.ErrorIs(t, err, ErrNoURL)

	c, err := New(Config{URL: "http://x"})
	require.NoError(t, err)
	cfg := c.Config()
	require.Equal(t, DefaultTimeout, cfg.Timeout)
	require.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	require.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	require.Equal(t, DefaultFallbackCooldown, cfg.FallbackCooldown)
}
