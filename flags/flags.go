package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_FITNESSE"

var (
	TargetPage = &cli.StringFlag{
		Name:    "target-page",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET_PAGE"),
		Usage:   "Page or suite to run, optionally with a query (eg. 'FrontPage.SuiteAcceptance&suiteFilter=smoke')",
	}
	Suite = &cli.BoolFlag{
		Name:    "suite",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SUITE"),
		Usage:   "Run the target page as a suite instead of a single test",
	}
	StartServer = &cli.BoolFlag{
		Name:    "start-server",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "START_SERVER"),
		Usage:   "Launch the FitNesse server for the run and tear it down afterwards",
	}
	Host = &cli.StringFlag{
		Name:    "host",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HOST"),
		Usage:   "Host of an already-running server. Ignored with --start-server",
	}
	Port = &cli.IntFlag{
		Name:    "port",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PORT"),
		Usage:   "Server port",
	}
	Username = &cli.StringFlag{
		Name:    "username",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "USERNAME"),
		Usage:   "Basic auth user passed to the server",
	}
	Password = &cli.StringFlag{
		Name:    "password",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PASSWORD"),
		Usage:   "Basic auth password passed to the server",
	}
	TLS = &cli.BoolFlag{
		Name:    "tls",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TLS"),
		Usage:   "Talk to the server over https",
	}
	Interpreter = &cli.StringFlag{
		Name:    "interpreter",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INTERPRETER"),
		Usage:   "Path to the java binary. Defaults to $JAVA_HOME/bin/java, then java on PATH",
	}
	InterpreterOpts = &cli.StringFlag{
		Name:    "interpreter-opts",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "INTERPRETER_OPTS"),
		Usage:   "Space separated JVM options (eg. '-Xmx512m -Dfoo=bar')",
	}
	Archive = &cli.StringFlag{
		Name:    "archive",
		Value:   "fitnesse.jar",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARCHIVE"),
		Usage:   "Path to fitnesse.jar",
	}
	ContentRoot = &cli.StringFlag{
		Name:    "content-root",
		Value:   "FitNesseRoot",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "CONTENT_ROOT"),
		Usage:   "Path to the FitNesseRoot directory",
	}
	ServerFlags = &cli.StringFlag{
		Name:    "server-flags",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVER_FLAGS"),
		Usage:   "Extra server flags of the form '-<letter> <value>' (eg. '-e 0 -o')",
	}
	ServerWorkDir = &cli.StringFlag{
		Name:    "server-workdir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "SERVER_WORKDIR"),
		Usage:   "Working directory of the launched server. Defaults to the archive's directory",
	}
	HTTPTimeout = &cli.Int64Flag{
		Name:    "http-timeout",
		Value:   60000,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HTTP_TIMEOUT"),
		Usage:   "Longest wait for the server to answer the results request, in milliseconds",
	}
	TestTimeout = &cli.Int64Flag{
		Name:    "test-timeout",
		Value:   60000,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_TIMEOUT"),
		Usage:   "Longest allowed gap between received result chunks, in milliseconds",
	}
	StartupTimeout = &cli.DurationFlag{
		Name:    "startup-timeout",
		Value:   30 * time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STARTUP_TIMEOUT"),
		Usage:   "How long to wait for the server to accept connections",
	}
	ResultsOut = &cli.StringFlag{
		Name:    "results-out",
		Value:   "fitnesse-results.xml",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_OUT"),
		Usage:   "Where to write the raw XML results",
	}
	JUnitOut = &cli.StringFlag{
		Name:    "junit-out",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JUNIT_OUT"),
		Usage:   "Optional JUnit XML output path (must end in .xml)",
	}
	ResultsIn = &cli.StringFlag{
		Name:    "results-in",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_IN"),
		Usage:   "Results file or glob to parse. Defaults to --results-out",
	}
	ResultDir = &cli.StringFlag{
		Name:    "result-dir",
		Value:   "fitnesse-runs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULT_DIR"),
		Usage:   "Directory under which each run gets its own fitnesse-run-<id> directory",
	}
	EnvFile = &cli.StringFlag{
		Name:    "env-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ENV_FILE"),
		Usage:   "Dotenv file overlaid on the process environment for the run",
	}
	JobFile = &cli.StringFlag{
		Name:    "job-file",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "JOB_FILE"),
		Usage:   "YAML or TOML file holding the job options",
	}
	WorkDir = &cli.StringFlag{
		Name:    "workdir",
		Value:   ".",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "WORKDIR"),
		Usage:   "Working directory relative paths are resolved against",
	}
	RunInterval = &cli.DurationFlag{
		Name:    "run-interval",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RUN_INTERVAL"),
		Usage:   "Interval between runs (e.g. '1h', '30m'). Set to 0 or omit for run-once mode.",
	}
	ProgressBar = &cli.BoolFlag{
		Name:    "progress-bar",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "PROGRESS_BAR"),
		Usage:   "Show a progress bar while fetching results when stderr is a terminal",
	}
)

var requiredFlags = []cli.Flag{}

var optionalFlags = []cli.Flag{
	TargetPage,
	Suite,
	StartServer,
	Host,
	Port,
	Username,
	Password,
	TLS,
	Interpreter,
	InterpreterOpts,
	Archive,
	ContentRoot,
	ServerFlags,
	ServerWorkDir,
	HTTPTimeout,
	TestTimeout,
	StartupTimeout,
	ResultsOut,
	JUnitOut,
	ResultsIn,
	ResultDir,
	EnvFile,
	JobFile,
	WorkDir,
	RunInterval,
	ProgressBar,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

// CheckRequired verifies flag-level requirements. The target page may come
// from a job file, so it is only required when no job file is given.
func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	if !ctx.IsSet(TargetPage.Name) && !ctx.IsSet(JobFile.Name) {
		return fmt.Errorf("flag %s is required unless --%s is set", TargetPage.Name, JobFile.Name)
	}
	return nil
}
