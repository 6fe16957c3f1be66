// Package runner drives one FitNesse run from server launch to parsed results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-fitnesse/fetch"
	"github.com/ethereum-optimism/infra/op-fitnesse/launcher"
	"github.com/ethereum-optimism/infra/op-fitnesse/metrics"
	"github.com/ethereum-optimism/infra/op-fitnesse/probe"
	"github.com/ethereum-optimism/infra/op-fitnesse/reporting"
	"github.com/ethereum-optimism/infra/op-fitnesse/results"
)

// Status is the outcome of a run.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusUnstable Status = "UNSTABLE"
	StatusFailure  Status = "FAILURE"
)

// Phases of a run, in execution order.
const (
	PhaseIdle     = "idle"
	PhaseLaunch   = "launch"
	PhaseProbe    = "probe"
	PhaseFetch    = "fetch"
	PhaseConvert  = "convert"
	PhaseParse    = "parse"
	PhaseTeardown = "teardown"
)

const (
	RunDirPrefix   = "fitnesse-run-"
	PagesDir       = "pages"
	ServerLogFile  = "server.log"
	SummaryLogFile = "summary.log"
)

var errServerExited = errors.New("server process exited before accepting connections")

// RunFailure is a run aborted in a given phase.
type RunFailure struct {
	Phase string
	Err   error
}

func (e *RunFailure) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Phase, e.Err)
}

func (e *RunFailure) Unwrap() error {
	return e.Err
}

// Config is everything a run needs. Relative paths resolve against the
// working directory passed to Execute.
type Config struct {
	StartServer bool
	Target      fetch.Target
	Username    string
	Password    string

	InterpreterSelector string
	InterpreterOpts     string
	Archive             string
	ContentRoot         string
	ExtraFlags          string
	ServerWorkDir       string

	// HTTPTimeout bounds the wait for the results response headers.
	HTTPTimeout time.Duration
	// TestTimeout is the longest allowed gap between result chunks.
	TestTimeout    time.Duration
	StartupTimeout time.Duration

	ResultsOut string
	JUnitOut   string
	// ResultsIn is the file or glob parsed after the fetch. Defaults to ResultsOut.
	ResultsIn string
	ResultDir string
}

// Outcome describes a finished run. It is returned for failed runs too.
type Outcome struct {
	RunID   string
	Dir     string
	Status  Status
	Root    *results.Node
	Fetch   *fetch.Result
	Err     error
	Phases  map[string]time.Duration
	Elapsed time.Duration

	page string
}

// Runner executes runs one at a time.
type Runner struct {
	log           log.Logger
	tracer        trace.Tracer
	client        *http.Client
	probeInterval time.Duration
	progressBar   io.Writer

	phase atomic.Value
}

type Option func(*Runner)

func WithLogger(l log.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithHTTPClient replaces the client used for probing, fetching and stopping.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Runner) { r.client = c }
}

func WithProbeInterval(d time.Duration) Option {
	return func(r *Runner) { r.probeInterval = d }
}

// WithProgressBar renders fetch progress on w.
func WithProgressBar(w io.Writer) Option {
	return func(r *Runner) { r.progressBar = w }
}

func New(opts ...Option) *Runner {
	r := &Runner{
		log:           log.Root(),
		tracer:        otel.Tracer("fitnesse runner"),
		probeInterval: probe.DefaultInterval,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.phase.Store(PhaseIdle)
	return r
}

// Phase reports the phase of the current run.
func (r *Runner) Phase() string {
	p, _ := r.phase.Load().(string)
	return p
}

func (r *Runner) setPhase(p string) {
	r.phase.Store(p)
}

func resolve(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// httpClient returns the configured client, or one whose response header
// timeout is the run's HTTP timeout.
func (r *Runner) httpClient(cfg Config) *http.Client {
	if r.client != nil {
		return r.client
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.HTTPTimeout
	return &http.Client{Transport: transport}
}

// Execute runs the configured page and returns the parsed results. The
// server, if launched, is always torn down before Execute returns. The
// returned error is non-nil exactly when the outcome status is FAILURE.
func (r *Runner) Execute(ctx context.Context, cfg Config, workDir string, env map[string]string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{
		RunID:  uuid.New().String(),
		Phases: make(map[string]time.Duration),
		page:   cfg.Target.Page,
	}
	defer r.setPhase(PhaseIdle)

	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("run %s", cfg.Target.Page))
	defer span.End()
	span.SetAttributes(attribute.String("run_id", out.RunID), attribute.Bool("start_server", cfg.StartServer))

	lgr := r.log.New("run_id", out.RunID, "page", cfg.Target.Page)
	err := r.execute(ctx, cfg, workDir, env, out, lgr)

	out.Elapsed = time.Since(start)
	switch {
	case err != nil:
		out.Status = StatusFailure
		out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lgr.Error("Run failed", "err", err, "elapsed", out.Elapsed)
	case out.Root.FailCount() > 0:
		out.Status = StatusUnstable
	default:
		out.Status = StatusSuccess
	}
	span.SetAttributes(attribute.String("status", string(out.Status)))
	metrics.RecordRun(cfg.Target.Page, string(out.Status))
	return out, err
}

func (r *Runner) execute(ctx context.Context, cfg Config, workDir string, env map[string]string, out *Outcome, lgr log.Logger) (err error) {
	out.Dir = filepath.Join(resolve(workDir, cfg.ResultDir), RunDirPrefix+out.RunID)
	pagesDir := filepath.Join(out.Dir, PagesDir)
	if err := os.MkdirAll(pagesDir, 0755); err != nil {
		return &RunFailure{Phase: PhaseLaunch, Err: fmt.Errorf("failed to create run directory: %w", err)}
	}
	lgr.Info("Starting run", "dir", out.Dir, "url", cfg.Target.CommandURL())

	client := r.httpClient(cfg)
	var (
		fetcher *fetch.Fetcher
		proc    *launcher.Process
	)
	// The stop request must reach the server before it is torn down.
	defer func() {
		if err != nil && fetcher != nil {
			if id := fetcher.TestID(); id != "" {
				fetcher.StopTest(context.WithoutCancel(ctx), cfg.Target.StopURL(id))
			} else {
				lgr.Debug("No test id received, not stopping test")
			}
		}
		if proc != nil {
			_ = r.phaseSpan(ctx, PhaseTeardown, out, func(context.Context) error {
				proc.Teardown()
				return nil
			})
		}
	}()

	var console *launcher.Console
	if cfg.StartServer {
		proc, err = r.launch(ctx, cfg, workDir, env, out, lgr)
		if err != nil {
			return err
		}
		console = proc.Console()

		err = r.phaseSpan(ctx, PhaseProbe, out, func(ctx context.Context) error {
			return r.waitForServer(ctx, cfg, client, proc, lgr)
		})
		console.Flush()
		if err != nil {
			if probe.IsStartupFailure(err) {
				metrics.RecordStartupFailure(cfg.Target.Page)
			}
			return &RunFailure{Phase: PhaseProbe, Err: err}
		}
	}

	resultsPath := resolve(workDir, cfg.ResultsOut)
	junitPath := resolve(workDir, cfg.JUnitOut)
	if junitPath != "" {
		lgr.Info("Attempt to delete stale JUnit results", "file", junitPath)
		if err := os.Remove(junitPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			lgr.Warn("Failed to delete stale JUnit results", "file", junitPath, "err", err)
		}
	}

	fetchOpts := []fetch.Option{
		fetch.WithClient(client),
		fetch.WithLogger(lgr),
		fetch.WithBasicAuth(cfg.Username, cfg.Password),
	}
	if console != nil {
		fetchOpts = append(fetchOpts, fetch.WithProgressCallback(console.Flush))
	}
	if r.progressBar != nil {
		fetchOpts = append(fetchOpts, fetch.WithProgressBar(r.progressBar))
	}
	fetcher = fetch.New(fetchOpts...)

	err = r.phaseSpan(ctx, PhaseFetch, out, func(ctx context.Context) error {
		res, err := fetcher.Fetch(ctx, cfg.Target.CommandURL(), resultsPath, cfg.TestTimeout)
		if err != nil {
			if fetch.IsTransferStall(err) {
				metrics.RecordStall(cfg.Target.Page)
			}
			return err
		}
		out.Fetch = res
		metrics.RecordFetch(cfg.Target.Page, res.Received)
		if res.Partial {
			lgr.Warn("Results transfer ended early, parsing what was received", "bytes", res.Received)
		}
		return nil
	})
	if err != nil {
		return &RunFailure{Phase: PhaseFetch, Err: err}
	}

	if junitPath != "" {
		_ = r.phaseSpan(ctx, PhaseConvert, out, func(context.Context) error {
			lgr.Info("Attempt to convert results to JUnit", "from", resultsPath, "to", junitPath)
			if err := reporting.ConvertJUnit(resultsPath, junitPath); err != nil {
				lgr.Error("Failed to convert results to JUnit", "err", err)
				metrics.RecordErrorDetails(PhaseConvert, err)
			}
			return nil
		})
	}

	err = r.phaseSpan(ctx, PhaseParse, out, func(ctx context.Context) error {
		pattern := cfg.ResultsIn
		if pattern == "" {
			pattern = resultsPath
		}
		root, err := results.Collect(workDir, pattern, results.Options{ContentDir: pagesDir, Logger: lgr})
		if err != nil {
			return err
		}
		if root == nil {
			return fmt.Errorf("no results matched %q", pattern)
		}
		out.Root = root
		return nil
	})
	if err != nil {
		return &RunFailure{Phase: PhaseParse, Err: err}
	}

	r.recordResults(cfg, out)
	r.writeSummary(cfg, out, lgr)
	return nil
}

func (r *Runner) launch(ctx context.Context, cfg Config, workDir string, env map[string]string, out *Outcome, lgr log.Logger) (*launcher.Process, error) {
	var proc *launcher.Process
	err := r.phaseSpan(ctx, PhaseLaunch, out, func(ctx context.Context) error {
		l := launcher.New(launcher.Config{
			InterpreterSelector: cfg.InterpreterSelector,
			InterpreterOpts:     cfg.InterpreterOpts,
			Archive:             cfg.Archive,
			ContentRoot:         cfg.ContentRoot,
			Port:                cfg.Target.Port,
			ExtraFlags:          cfg.ExtraFlags,
			ServerWorkDir:       cfg.ServerWorkDir,
			WorkDir:             workDir,
			Env:                 env,
			OutputFile:          filepath.Join(out.Dir, ServerLogFile),
			Log:                 lgr,
		})
		// The process outlives the phase span, so it must not inherit its context.
		p, err := l.Start(context.WithoutCancel(ctx))
		if err != nil {
			return err
		}
		proc = p
		return nil
	})
	if err != nil {
		return nil, &RunFailure{Phase: PhaseLaunch, Err: err}
	}
	return proc, nil
}

// waitForServer probes the server until it is ready. Probing stops early
// if the process exits.
func (r *Runner) waitForServer(ctx context.Context, cfg Config, client *http.Client, proc *launcher.Process, lgr log.Logger) error {
	if proc.Exited() {
		return errServerExited
	}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	go func() {
		select {
		case <-proc.Done():
			cancel(errServerExited)
		case <-ctx.Done():
		}
	}()

	opts := []probe.Option{
		probe.WithClient(client),
		probe.WithLogger(lgr),
		probe.WithInterval(r.probeInterval),
		probe.WithBasicAuth(cfg.Username, cfg.Password),
	}
	if cfg.StartupTimeout > 0 {
		opts = append(opts, probe.WithStartupTimeout(cfg.StartupTimeout))
	}
	_, err := probe.New(opts...).WaitUntilReady(ctx, cfg.Target.BaseURL())
	if err != nil && errors.Is(context.Cause(ctx), errServerExited) {
		return errServerExited
	}
	return err
}

// phaseSpan runs fn as a named phase: traced, timed and visible through Phase.
func (r *Runner) phaseSpan(ctx context.Context, phase string, out *Outcome, fn func(context.Context) error) error {
	r.setPhase(phase)
	ctx, span := r.tracer.Start(ctx, phase)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	out.Phases[phase] = d
	metrics.RecordPhase(out.page, phase, d)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordErrorDetails(phase, err)
	}
	return err
}

func (r *Runner) recordResults(cfg Config, out *Outcome) {
	var passed, failed, skipped int
	out.Root.Walk(func(n *results.Node, _ int) {
		if n.Kind() != results.KindDetail {
			return
		}
		switch n.State() {
		case results.StatePassed:
			passed++
		case results.StateFailed:
			failed++
		case results.StateSkipped:
			skipped++
		}
	})
	root := out.Root
	metrics.RecordResults(cfg.Target.Page, passed, failed, skipped,
		root.PassCount(), root.WrongCount(), root.SkipCount(), root.ExceptionCount())
}

func (r *Runner) writeSummary(cfg Config, out *Outcome, lgr log.Logger) {
	var elapsed time.Duration
	for _, d := range out.Phases {
		elapsed += d
	}
	info := reporting.RunInfo{
		RunID:   out.RunID,
		Target:  cfg.Target.Page,
		Status:  string(statusOf(out.Root)),
		Elapsed: elapsed,
	}
	text, err := reporting.TextFormatter{}.Format(out.Root, info)
	if err != nil {
		lgr.Warn("Failed to format summary", "err", err)
		return
	}
	path := filepath.Join(out.Dir, SummaryLogFile)
	if err := reporting.NewFileWriter(path).Write(text); err != nil {
		lgr.Warn("Failed to write summary", "file", path, "err", err)
		return
	}
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		lgr.Debug(line)
	}
}

func statusOf(root *results.Node) Status {
	if root.FailCount() > 0 {
		return StatusUnstable
	}
	return StatusSuccess
}

// Parse collects results written by an earlier run or an external server
// without contacting it. pattern is a file or glob relative to workDir;
// page contents go under contentDir when it is set.
func (r *Runner) Parse(workDir, pattern, contentDir string) (*Outcome, error) {
	start := time.Now()
	out := &Outcome{
		RunID:  uuid.New().String(),
		Phases: make(map[string]time.Duration),
		page:   pattern,
	}
	defer r.setPhase(PhaseIdle)
	err := r.phaseSpan(context.Background(), PhaseParse, out, func(context.Context) error {
		root, err := results.Collect(workDir, pattern, results.Options{ContentDir: contentDir, Logger: r.log})
		if err != nil {
			return err
		}
		if root == nil {
			return fmt.Errorf("no results matched %q", pattern)
		}
		out.Root = root
		return nil
	})
	out.Elapsed = time.Since(start)
	if err != nil {
		out.Status = StatusFailure
		out.Err = &RunFailure{Phase: PhaseParse, Err: err}
		return out, out.Err
	}
	out.Status = statusOf(out.Root)
	return out, nil
}
