package fitnesse

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-fitnesse/fetch"
	"github.com/ethereum-optimism/infra/op-fitnesse/flags"
	"github.com/ethereum-optimism/infra/op-fitnesse/launcher"
	"github.com/ethereum-optimism/infra/op-fitnesse/runner"
	"github.com/ethereum-optimism/infra/op-fitnesse/service"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const (
	// HostNameEnv names the node running the job; it is used as the server
	// host when the server is started locally.
	HostNameEnv = "HOST_NAME"
	DefaultHost = "localhost"
)

// Config holds the application configuration
type Config struct {
	Run         runner.Config
	WorkDir     string            // Directory relative paths resolve against
	Env         map[string]string // Environment of the run, including the env file
	RunInterval time.Duration     // Interval between runs
	RunOnce     bool              // Indicates if the service should exit after one run
	ProgressBar bool              // Render a progress bar while fetching
	Serve       bool              // Serve healthz and metrics while running
	Service     service.Config
	Log         log.Logger
}

// NewConfig creates a new Config from cli context. Explicitly set flags win
// over the job file, which wins over flag defaults.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	workDir, err := filepath.Abs(ctx.String(flags.WorkDir.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for working directory '%s': %w", ctx.String(flags.WorkDir.Name), err)
	}

	job := &JobFile{}
	if path := ctx.String(flags.JobFile.Name); path != "" {
		job, err = LoadJobFile(resolvePath(workDir, path))
		if err != nil {
			return nil, err
		}
	}

	env, err := loadEnv(os.Environ(), resolvePath(workDir, ctx.String(flags.EnvFile.Name)))
	if err != nil {
		return nil, err
	}
	expand := func(s string) string {
		return os.Expand(s, func(k string) string { return env[k] })
	}
	str := func(f *cli.StringFlag, fromJob *string) string {
		return expand(option(ctx, f.Name, fromJob, ctx.String))
	}

	startServer := option(ctx, flags.StartServer.Name, job.StartServer, ctx.Bool)
	host := str(flags.Host, job.Host)
	if startServer {
		host = DefaultHost
		if name := env[HostNameEnv]; name != "" {
			host = name
		}
	}
	if host == "" {
		return nil, errors.New("host is required when the server is not started by the run")
	}

	port := option(ctx, flags.Port.Name, job.Port, ctx.Int)
	if port <= 0 {
		return nil, fmt.Errorf("port must be positive, got %d", port)
	}

	targetPage := str(flags.TargetPage, job.TargetPage)
	if targetPage == "" {
		return nil, errors.New("target page is required")
	}

	httpTimeout, err := millis("http timeout", option(ctx, flags.HTTPTimeout.Name, job.HTTPTimeout, ctx.Int64))
	if err != nil {
		return nil, err
	}
	testTimeout, err := millis("test timeout", option(ctx, flags.TestTimeout.Name, job.TestTimeout, ctx.Int64))
	if err != nil {
		return nil, err
	}

	junitOut := str(flags.JUnitOut, job.JUnitOut)
	if junitOut != "" && !strings.HasSuffix(junitOut, ".xml") {
		log.Warn("Ignoring JUnit output path without .xml extension", "path", junitOut)
		junitOut = ""
	}

	serverFlags := str(flags.ServerFlags, job.ServerFlags)
	if err := launcher.CheckExtraFlags(launcher.SplitOptions(serverFlags)); err != nil {
		return nil, err
	}

	runInterval := ctx.Duration(flags.RunInterval.Name)

	metricsCfg := opmetrics.ReadCLIConfig(ctx)
	if err := metricsCfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid metrics config: %w", err)
	}

	return &Config{
		Run: runner.Config{
			StartServer: startServer,
			Target: fetch.Target{
				Host:  host,
				Port:  port,
				TLS:   option(ctx, flags.TLS.Name, job.TLS, ctx.Bool),
				Page:  targetPage,
				Suite: option(ctx, flags.Suite.Name, job.Suite, ctx.Bool),
			},
			Username:            str(flags.Username, job.Username),
			Password:            str(flags.Password, job.Password),
			InterpreterSelector: str(flags.Interpreter, job.Interpreter),
			InterpreterOpts:     str(flags.InterpreterOpts, job.InterpreterOpts),
			Archive:             str(flags.Archive, job.Archive),
			ContentRoot:         str(flags.ContentRoot, job.ContentRoot),
			ExtraFlags:          serverFlags,
			ServerWorkDir:       str(flags.ServerWorkDir, job.ServerWorkDir),
			HTTPTimeout:         httpTimeout,
			TestTimeout:         testTimeout,
			StartupTimeout:      ctx.Duration(flags.StartupTimeout.Name),
			ResultsOut:          str(flags.ResultsOut, job.ResultsOut),
			JUnitOut:            junitOut,
			ResultsIn:           str(flags.ResultsIn, job.ResultsIn),
			ResultDir:           expand(ctx.String(flags.ResultDir.Name)),
		},
		WorkDir:     workDir,
		Env:         env,
		RunInterval: runInterval,
		RunOnce:     runInterval == 0,
		ProgressBar: ctx.Bool(flags.ProgressBar.Name),
		Serve:       metricsCfg.Enabled,
		Service: service.Config{
			MetricsEnabled: metricsCfg.Enabled,
			MetricsAddr:    metricsCfg.ListenAddr,
			MetricsPort:    metricsCfg.ListenPort,
		},
		Log: log,
	}, nil
}

// option returns the flag value when it was set explicitly, else the job
// file value when present, else the flag default.
func option[T any](ctx *cli.Context, name string, fromJob *T, get func(string) T) T {
	if ctx.IsSet(name) || fromJob == nil {
		return get(name)
	}
	return *fromJob
}

func millis(name string, ms int64) (time.Duration, error) {
	if ms < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %dms", name, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func resolvePath(workDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}

// loadEnv turns environ into a map and overlays envFile without touching
// the process environment.
func loadEnv(environ []string, envFile string) (map[string]string, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	if envFile == "" {
		return env, nil
	}
	overlay, err := godotenv.Read(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read env file '%s': %w", envFile, err)
	}
	for k, v := range overlay {
		env[k] = v
	}
	return env, nil
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}

// LogValue keeps the password out of logs.
func (c *Config) LogValue() slog.Value {
	r := c.Run
	return slog.GroupValue(
		slog.String("workdir", c.WorkDir),
		slog.Bool("start_server", r.StartServer),
		slog.String("url", r.Target.CommandURL()),
		slog.String("username", r.Username),
		slog.String("password", redact(r.Password)),
		slog.String("archive", r.Archive),
		slog.String("content_root", r.ContentRoot),
		slog.String("server_flags", r.ExtraFlags),
		slog.Duration("http_timeout", r.HTTPTimeout),
		slog.Duration("test_timeout", r.TestTimeout),
		slog.String("results_out", r.ResultsOut),
		slog.String("junit_out", r.JUnitOut),
		slog.String("result_dir", r.ResultDir),
		slog.Duration("run_interval", c.RunInterval),
	)
}

func (c *Config) String() string {
	return c.LogValue().String()
}
