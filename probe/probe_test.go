package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readyAfter answers 503 for the first n requests and 200 afterwards.
func readyAfter(n int32) (*httptest.Server, *atomic.Int32) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= n {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	return srv, &calls
}

func newTestProber(slept *time.Duration, opts ...Option) *Prober {
	p := New(append([]Option{WithLogger(log.NewLogger(log.DiscardHandler()))}, opts...)...)
	p.sleep = func(ctx context.Context, d time.Duration) error {
		*slept += d
		return nil
	}
	return p
}

func TestWaitUntilReady(t *testing.T) {
	tests := []struct {
		name       string
		failFirst  int32
		wantWaited time.Duration
		wantCalls  int32
		wantErr    bool
	}{
		{name: "ready immediately", failFirst: 0, wantWaited: 0, wantCalls: 1},
		{name: "ready after a few seconds", failFirst: 3, wantWaited: 3 * time.Second, wantCalls: 4},
		{name: "ready exactly at the deadline", failFirst: 30, wantWaited: 30 * time.Second, wantCalls: 31},
		{name: "never ready", failFirst: 1 << 20, wantWaited: 30 * time.Second, wantCalls: 31, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, calls := readyAfter(tt.failFirst)
			defer srv.Close()

			var slept time.Duration
			p := newTestProber(&slept, WithStartupTimeout(30*time.Second), WithInterval(time.Second))
			waited, err := p.WaitUntilReady(context.Background(), srv.URL+"/")

			assert.Equal(t, tt.wantWaited, waited)
			assert.Equal(t, tt.wantCalls, calls.Load())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsStartupFailure(err))
				var sf *StartupFailure
				require.ErrorAs(t, err, &sf)
				assert.Equal(t, 30*time.Second, sf.Waited)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantWaited, slept)
		})
	}
}

func TestWaitUntilReady_ConnectionRefusedIsRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL + "/"
	srv.Close()

	var slept time.Duration
	p := newTestProber(&slept, WithStartupTimeout(3*time.Second))
	_, err := p.WaitUntilReady(context.Background(), url)
	require.Error(t, err)
	var sf *StartupFailure
	require.ErrorAs(t, err, &sf)
	assert.NotNil(t, sf.LastErr)
	assert.Equal(t, 3*time.Second, slept)
}

func TestWaitUntilReady_BasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "ci" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept time.Duration
	p := newTestProber(&slept, WithBasicAuth("ci", "secret"))
	_, err := p.WaitUntilReady(context.Background(), srv.URL+"/")
	require.NoError(t, err)
}

func TestWaitUntilReady_Cancelled(t *testing.T) {
	srv, _ := readyAfter(1 << 20)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := New(WithLogger(log.NewLogger(log.DiscardHandler())), WithInterval(10*time.Millisecond))
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := p.WaitUntilReady(ctx, srv.URL+"/")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsStartupFailure(err))
}

func TestWaitUntilReady_HungServerIsBoundedByDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	p := New(
		WithLogger(log.NewLogger(log.DiscardHandler())),
		WithClient(&http.Client{}),
		WithInterval(100*time.Millisecond),
		WithStartupTimeout(time.Second),
	)
	start := time.Now()
	_, err := p.WaitUntilReady(context.Background(), srv.URL+"/")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, IsStartupFailure(err))
	assert.Less(t, elapsed, 2*time.Second)
}

func TestAttemptTimeout(t *testing.T) {
	tests := []struct {
		name      string
		request   time.Duration
		interval  time.Duration
		remaining time.Duration
		want      time.Duration
	}{
		{name: "request timeout when plenty remains", request: 5 * time.Second, interval: time.Second, remaining: 20 * time.Second, want: 5 * time.Second},
		{name: "capped by remaining time", request: 5 * time.Second, interval: time.Second, remaining: 3 * time.Second, want: 3 * time.Second},
		{name: "never below one interval", request: 5 * time.Second, interval: time.Second, remaining: -2 * time.Second, want: time.Second},
		{name: "unset request timeout", interval: time.Second, remaining: time.Minute, want: DefaultRequestTimeout},
		{name: "no interval and nothing remaining", request: 2 * time.Second, remaining: -time.Second, want: 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(WithRequestTimeout(tt.request), WithInterval(tt.interval))
			assert.Equal(t, tt.want, p.attemptTimeout(tt.remaining))
		})
	}
}
