// Package fitnesse runs FitNesse acceptance tests as a one-shot job or a
// periodic service.
package fitnesse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-fitnesse/exitcodes"
	"github.com/ethereum-optimism/infra/op-fitnesse/reporting"
	"github.com/ethereum-optimism/infra/op-fitnesse/runner"
	"github.com/ethereum-optimism/infra/op-fitnesse/service"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// fitnesse implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &fitnesse{}

// Executor performs a single run.
type Executor interface {
	Execute(ctx context.Context, cfg runner.Config, workDir string, env map[string]string) (*runner.Outcome, error)
	Phase() string
}

// fitnesse runs the configured page once or on an interval.
type fitnesse struct {
	ctx     context.Context
	config  *Config
	version string
	runner  Executor
	service *service.Service
	outcome *runner.Outcome
	out     io.Writer

	running atomic.Bool
	done    chan struct{}
	wg      sync.WaitGroup

	shutdownCallback func(error) // Callback to signal application shutdown
}

func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*fitnesse, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	config.Log.Debug("Creating fitnesse runner with config", "config", config)

	opts := []runner.Option{runner.WithLogger(config.Log)}
	if config.ProgressBar && isatty.IsTerminal(os.Stderr.Fd()) {
		opts = append(opts, runner.WithProgressBar(os.Stderr))
	}
	r := runner.New(opts...)

	f := &fitnesse{
		ctx:              ctx,
		config:           config,
		version:          version,
		runner:           r,
		out:              os.Stdout,
		done:             make(chan struct{}),
		shutdownCallback: shutdownCallback,
	}
	if config.Serve {
		f.service = service.New(config.Service, config.Log, r.Phase)
	}
	return f, nil
}

// Start runs the configured page immediately and, in continuous mode,
// again every RunInterval.
// Start implements the cliapp.Lifecycle interface.
func (f *fitnesse) Start(ctx context.Context) error {
	// Set up panic recovery to ensure we exit with code 2 for runtime errors
	defer func() {
		if r := recover(); r != nil {
			f.config.Log.Error("Runtime error occurred", "error", r)
			os.Exit(exitcodes.RuntimeErr)
		}
	}()

	f.ctx = ctx
	f.done = make(chan struct{})
	f.running.Store(true)

	if f.service != nil {
		f.service.Start(ctx)
	}

	if f.config.RunOnce {
		f.config.Log.Info("Starting op-fitnesse in run-once mode", "version", f.version)
	} else {
		f.config.Log.Info("Starting op-fitnesse in continuous mode", "version", f.version, "interval", f.config.RunInterval)
	}

	err := f.runOnce(ctx)

	if f.config.RunOnce {
		if err != nil {
			f.config.Log.Error("Run failed", "error", err)
			return cli.Exit(err.Error(), exitcodes.RuntimeErr)
		}
		if f.outcome.Status == runner.StatusUnstable {
			f.config.Log.Warn("Run completed with failures, returning exit code 1")
			return NewTestFailureError(f.outcome.Root.Counts())
		}
		f.config.Log.Info("Run completed, exiting (run-once mode)")
		go func() {
			f.shutdownCallback(nil)
		}()
		return nil
	}
	if err != nil {
		f.config.Log.Error("Error running tests", "error", err)
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.config.Log.Debug("Starting periodic runner goroutine", "interval", f.config.RunInterval)

		for {
			select {
			case <-time.After(f.config.RunInterval):
				if !f.running.Load() {
					f.config.Log.Debug("Service stopped, exiting periodic runner")
					return
				}
				f.config.Log.Info("Running periodic tests")
				if err := f.runOnce(ctx); err != nil {
					f.config.Log.Error("Error running periodic tests", "error", err)
				}

			case <-f.done:
				f.config.Log.Debug("Done signal received, stopping periodic runner")
				return

			case <-ctx.Done():
				f.config.Log.Debug("Context canceled, stopping periodic runner")
				f.running.Store(false)
				return
			}
		}
	}()
	f.config.Log.Debug("op-fitnesse started successfully")
	return nil
}

// runOnce executes one run and prints its results. Only a failed run is an
// error; an unstable run is reported through the outcome.
func (f *fitnesse) runOnce(ctx context.Context) error {
	outcome, err := f.runner.Execute(ctx, f.config.Run, f.config.WorkDir, f.config.Env)
	f.outcome = outcome
	if outcome.Root != nil {
		f.printResultsTable(outcome)
	}
	f.printStatus(outcome)
	if err != nil {
		return NewRuntimeError(err)
	}
	f.config.Log.Info("Run completed", "run_id", outcome.RunID, "status", outcome.Status, "dir", outcome.Dir)
	return nil
}

func (f *fitnesse) printResultsTable(outcome *runner.Outcome) {
	table, err := reporting.TableFormatter{}.Format(outcome.Root, f.runInfo(outcome))
	if err != nil {
		f.config.Log.Warn("Failed to render results table", "err", err)
		return
	}
	fmt.Fprint(f.out, table)
}

func (f *fitnesse) runInfo(outcome *runner.Outcome) reporting.RunInfo {
	return reporting.RunInfo{
		RunID:   outcome.RunID,
		Target:  f.config.Run.Target.Page,
		Status:  string(outcome.Status),
		Elapsed: outcome.Elapsed,
	}
}

// printStatus prints a one-line coloured verdict.
func (f *fitnesse) printStatus(outcome *runner.Outcome) {
	var c *color.Color
	switch outcome.Status {
	case runner.StatusSuccess:
		c = color.New(color.FgGreen, color.Bold)
	case runner.StatusUnstable:
		c = color.New(color.FgYellow, color.Bold)
	default:
		c = color.New(color.FgRed, color.Bold)
	}
	line := fmt.Sprintf("%s %s in %s", outcome.Status, f.config.Run.Target.Page, outcome.Elapsed.Round(time.Millisecond))
	if outcome.Err != nil {
		line += ": " + outcome.Err.Error()
	}
	_, _ = c.Fprintln(f.out, line)
}

// Stop stops the op-fitnesse service.
// Stop implements the cliapp.Lifecycle interface.
func (f *fitnesse) Stop(ctx context.Context) error {
	f.config.Log.Info("Stopping op-fitnesse")

	if !f.running.Load() {
		f.config.Log.Debug("Service already stopped, nothing to do")
		return nil
	}
	f.running.Store(false)

	f.config.Log.Debug("Sending done signal to goroutines")
	close(f.done)

	if f.service != nil {
		f.service.Shutdown()
	}

	f.config.Log.Info("op-fitnesse stopped successfully")
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (f *fitnesse) Stopped() bool {
	return !f.running.Load()
}

// WaitForShutdown blocks until all goroutines have terminated.
func (f *fitnesse) WaitForShutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		f.config.Log.Warn("Timed out waiting for goroutines to terminate", "error", ctx.Err())
		return ctx.Err()
	}
}
