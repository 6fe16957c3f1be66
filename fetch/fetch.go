// Package fetch retrieves FitNesse results over HTTP under a stall watchdog.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gofrs/flock"
	"github.com/schollz/progressbar/v3"

	"github.com/ethereum-optimism/infra/op-fitnesse/watchdog"
)

const (
	ChunkSize = 4096
	// ProgressStep is how many bytes separate two progress lines.
	ProgressStep = 1024
	// StopTimeout bounds the best-effort stop request.
	StopTimeout = 10 * time.Second
)

// TransferStall is returned when no chunk arrived within the stall timeout.
type TransferStall struct {
	URL      string
	Received int64
	Err      *watchdog.TimeoutError
}

func (e *TransferStall) Error() string {
	return fmt.Sprintf("transfer from %s stalled after %d bytes: %v", e.URL, e.Received, e.Err)
}

func (e *TransferStall) Unwrap() error {
	return e.Err
}

// IsTransferStall checks if the error is or wraps a TransferStall
func IsTransferStall(err error) bool {
	var stall *TransferStall
	return err != nil && errors.As(err, &stall)
}

// StatusError is returned when the server answers with a non-200 status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Result describes a completed transfer.
type Result struct {
	Path     string
	Received int64
	// Partial is set when the connection ended before the body was complete.
	// The bytes received are still in Path.
	Partial bool
	TestID  string
	Elapsed time.Duration
}

// Fetcher downloads results. It is not safe for concurrent use.
type Fetcher struct {
	client   *http.Client
	username string
	password string
	log      log.Logger
	// onProgress runs after every received chunk.
	onProgress func()
	progress   io.Writer

	testID atomic.Value
}

type Option func(*Fetcher)

func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

func WithBasicAuth(username, password string) Option {
	return func(f *Fetcher) {
		f.username = username
		f.password = password
	}
}

func WithLogger(l log.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// WithProgressCallback registers fn to run on every watchdog reset.
func WithProgressCallback(fn func()) Option {
	return func(f *Fetcher) { f.onProgress = fn }
}

// WithProgressBar renders a byte progress bar on w.
func WithProgressBar(w io.Writer) Option {
	return func(f *Fetcher) { f.progress = w }
}

func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{},
		log:    log.Root(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// TestID returns the test id announced by the last results response.
func (f *Fetcher) TestID() string {
	id, _ := f.testID.Load().(string)
	return id
}

// Fetch streams url into dest. Any existing file at dest is removed first.
// The transfer fails with a *TransferStall only when the gap between two
// chunks reaches stallTimeout; total transfer time is unbounded.
func (f *Fetcher) Fetch(ctx context.Context, url, dest string, stallTimeout time.Duration) (*Result, error) {
	if err := os.Remove(dest); err == nil {
		f.log.Info("Deleted stale results", "file", dest)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to delete stale results: %w", err)
	}

	lock := flock.New(dest + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock results file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("results file %s is in use by another run", dest)
	}
	defer func() {
		_ = lock.Unlock()
		_ = os.Remove(lock.Path())
	}()

	var received atomic.Int64
	var partial atomic.Bool
	start := time.Now()
	wd := watchdog.New(stallTimeout, f.onProgress)

	f.log.Info("Fetching results", "url", url, "file", dest, "stall_timeout", stallTimeout)
	err = wd.Run(ctx, func(ctx context.Context) error {
		return f.transfer(ctx, url, dest, wd, &received, &partial)
	})
	if err != nil {
		var timeout *watchdog.TimeoutError
		if errors.As(err, &timeout) {
			return nil, &TransferStall{URL: url, Received: received.Load(), Err: timeout}
		}
		return nil, err
	}

	res := &Result{
		Path:     dest,
		Received: received.Load(),
		Partial:  partial.Load(),
		TestID:   f.TestID(),
		Elapsed:  time.Since(start),
	}
	f.log.Info("Fetched results", "bytes", res.Received, "partial", res.Partial, "elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (f *Fetcher) transfer(ctx context.Context, url, dest string, wd *watchdog.Watchdog, received *atomic.Int64, partial *atomic.Bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("results request failed: %w", err)
	}
	defer resp.Body.Close()
	wd.Reset()

	if id := resp.Header.Get(TestIDHeader); id != "" {
		f.testID.Store(id)
		f.log.Debug("Server assigned test id", "id", id)
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer out.Close()

	var bar *progressbar.ProgressBar
	if f.progress != nil {
		bar = progressbar.NewOptions64(resp.ContentLength,
			progressbar.OptionSetWriter(f.progress),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetDescription("fetching results"),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
	}

	buf := make([]byte, ChunkSize)
	nextProgress := int64(ProgressStep)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return fmt.Errorf("failed to write results file: %w", err)
			}
			total := received.Add(int64(n))
			wd.Reset()
			if bar != nil {
				_ = bar.Add(n)
			}
			for total >= nextProgress {
				f.log.Debug(fmt.Sprintf("%dk...", nextProgress/ProgressStep))
				nextProgress += ProgressStep
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			partial.Store(true)
			f.log.Warn("Results transfer ended early, keeping what was received", "bytes", received.Load(), "err", readErr)
			return nil
		}
	}
}

// StopTest asks the server to stop the given test run. Every failure,
// panics included, is logged and dropped.
func (f *Fetcher) StopTest(ctx context.Context, url string) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Warn("Stop test request panicked", "recovered", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, StopTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		f.log.Warn("Failed to build stop test request", "url", url, "err", err)
		return
	}
	if f.username != "" {
		req.SetBasicAuth(f.username, f.password)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("Stop test request failed", "url", url, "err", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	f.log.Info("Requested test stop", "url", url, "status", resp.StatusCode)
}
