package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	fitnesse "github.com/ethereum-optimism/infra/op-fitnesse"
	"github.com/ethereum-optimism/infra/op-fitnesse/exitcodes"
	"github.com/ethereum-optimism/infra/op-fitnesse/flags"
	"github.com/ethereum-optimism/infra/op-fitnesse/reporting"
	"github.com/ethereum-optimism/infra/op-fitnesse/results"
	"github.com/ethereum-optimism/infra/op-fitnesse/runner"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-fitnesse"
	app.Usage = "FitNesse acceptance test runner"
	app.Description = "op-fitnesse starts a FitNesse server, runs a page or suite and reports the results"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:      "parse",
			Usage:     "Parse FitNesse XML results without running anything",
			ArgsUsage: "[results file or glob]",
			Action:    parse,
		},
	}
	app.ExitErrHandler = exitErrHandler

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func exitErrHandler(c *cli.Context, err error) {
	var exitErr cli.ExitCoder
	if errors.As(err, &exitErr) {
		cli.HandleExitCoder(exitErr)
	} else if err != nil {
		cli.HandleExitCoder(cli.Exit(err.Error(), exitCode(err)))
	}
}

// exitCode maps typed errors to their exit code. Untyped errors count as
// test failures.
func exitCode(err error) int {
	if err == nil {
		return exitcodes.Success
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return exitcodes.TestFailure
}

func setupLogger(ctx *cli.Context) log.Logger {
	logCfg := oplog.ReadCLIConfig(ctx)
	l := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(l.Handler())
	oplog.SetupDefaults()
	return l
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	log := setupLogger(ctx)

	cfg, err := fitnesse.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, fitnesse.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	svc, err := fitnesse.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, fitnesse.NewRuntimeError(fmt.Errorf("failed to create fitnesse runner: %w", err))
	}
	return svc, nil
}

// parse is the standalone entry point for reports produced by a server
// that is already running or has already finished.
func parse(ctx *cli.Context) error {
	log := setupLogger(ctx)

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return fitnesse.NewRuntimeError(err)
	}
	pattern := ctx.Args().First()
	if pattern == "" {
		pattern = ctx.String(flags.ResultsIn.Name)
	}
	if pattern == "" {
		pattern = ctx.String(flags.ResultsOut.Name)
	}

	outcome, err := runner.New(runner.WithLogger(log)).Parse(workDir, pattern, "")
	if err != nil {
		return fitnesse.NewRuntimeError(err)
	}
	table, err := reporting.TableFormatter{}.Format(outcome.Root, reporting.RunInfo{
		RunID:   outcome.RunID,
		Target:  pattern,
		Status:  string(outcome.Status),
		Elapsed: outcome.Root.Duration(),
	})
	if err != nil {
		return fitnesse.NewRuntimeError(err)
	}
	fmt.Print(table)

	// JUnit conversion needs a single raw report.
	if junitOut := ctx.String(flags.JUnitOut.Name); junitOut != "" && outcome.Root.Kind() == results.KindSummary {
		if err := reporting.ConvertJUnit(abs(workDir, pattern), abs(workDir, junitOut)); err != nil {
			log.Error("Failed to convert results to JUnit", "err", err)
		}
	}
	if outcome.Status == runner.StatusUnstable {
		return fitnesse.NewTestFailureError(outcome.Root.Counts())
	}
	return nil
}

func abs(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}
