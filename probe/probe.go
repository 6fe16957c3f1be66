// Package probe waits for the FitNesse server to accept connections.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultInterval       = time.Second
	DefaultStartupTimeout = 30 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

// StartupFailure means the server never answered 200 within the deadline.
type StartupFailure struct {
	URL     string
	Waited  time.Duration
	LastErr error
}

func (e *StartupFailure) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("server at %s not ready after %s: %v", e.URL, e.Waited, e.LastErr)
	}
	return fmt.Sprintf("server at %s not ready after %s", e.URL, e.Waited)
}

func (e *StartupFailure) Unwrap() error {
	return e.LastErr
}

// IsStartupFailure checks if the error is or wraps a StartupFailure
func IsStartupFailure(err error) bool {
	var sf *StartupFailure
	return err != nil && errors.As(err, &sf)
}

// Prober polls a URL until it answers 200.
type Prober struct {
	client         *http.Client
	interval       time.Duration
	deadline       time.Duration
	requestTimeout time.Duration
	username       string
	password       string
	log            log.Logger
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
}

type Option func(*Prober)

func WithInterval(d time.Duration) Option {
	return func(p *Prober) { p.interval = d }
}

func WithStartupTimeout(d time.Duration) Option {
	return func(p *Prober) { p.deadline = d }
}

// WithRequestTimeout bounds a single readiness request. It is independent
// of any timeout configured on the client.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Prober) { p.requestTimeout = d }
}

func WithClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

func WithBasicAuth(username, password string) Option {
	return func(p *Prober) {
		p.username = username
		p.password = password
	}
}

func WithLogger(l log.Logger) Option {
	return func(p *Prober) { p.log = l }
}

func New(opts ...Option) *Prober {
	p := &Prober{
		client:         &http.Client{},
		interval:       DefaultInterval,
		deadline:       DefaultStartupTimeout,
		requestTimeout: DefaultRequestTimeout,
		log:            log.Root(),
		sleep:          sleepContext,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

// WaitUntilReady polls url once per interval. Waited time is counted in
// whole intervals, and an attempt is made when the waited time equals the
// deadline, so a 200 arriving exactly at the deadline still counts.
//
// Slow attempts also count: polling stops once the wall time spent reaches
// the deadline, and no attempt outlives the time left before it by more
// than one interval.
func (p *Prober) WaitUntilReady(ctx context.Context, url string) (time.Duration, error) {
	p.log.Info("Waiting for server to start", "url", url, "timeout", p.deadline)
	start := p.now()
	var lastErr error
	for waited := time.Duration(0); ; waited += p.interval {
		status, err := p.check(ctx, url, p.attemptTimeout(p.deadline-p.now().Sub(start)))
		if err == nil && status == http.StatusOK {
			p.log.Info(fmt.Sprintf("Waited %dms for server to start", waited.Milliseconds()))
			return waited, nil
		}
		if err != nil {
			lastErr = err
			p.log.Debug("Connection Status: not reachable", "url", url, "err", err)
		} else {
			lastErr = fmt.Errorf("unexpected status %d", status)
			p.log.Debug(fmt.Sprintf("Connection Status: %d", status), "url", url)
		}
		if waited >= p.deadline || p.interval <= 0 || p.now().Sub(start) >= p.deadline {
			return waited, &StartupFailure{URL: url, Waited: waited, LastErr: lastErr}
		}
		if err := p.sleep(ctx, p.interval); err != nil {
			return waited, err
		}
	}
}

// attemptTimeout is the request timeout capped by what is left of the
// deadline, but never below one interval.
func (p *Prober) attemptTimeout(remaining time.Duration) time.Duration {
	timeout := p.requestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	remaining = max(remaining, p.interval)
	if remaining > 0 {
		timeout = min(timeout, remaining)
	}
	return timeout
}

func (p *Prober) check(ctx context.Context, url string, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	if p.username != "" {
		req.SetBasicAuth(p.username, p.password)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}
