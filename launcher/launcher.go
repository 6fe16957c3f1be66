// Package launcher starts and stops the FitNesse server process.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"
	"github.com/ethereum/go-ethereum/log"
)

const (
	DefaultTeardownPolls        = 4
	DefaultTeardownPollInterval = time.Second
)

// Config describes the server to launch. Relative paths are resolved
// against WorkDir.
type Config struct {
	InterpreterSelector string
	InterpreterOpts     string
	Archive             string
	ContentRoot         string
	Port                int
	ExtraFlags          string
	// ServerWorkDir is the process working directory. Defaults to the
	// directory holding the archive.
	ServerWorkDir string

	WorkDir string
	Env     map[string]string
	// OutputFile, if set, receives a raw copy of the server output.
	OutputFile string
	Log        log.Logger
}

// Launcher builds and starts server processes.
type Launcher struct {
	cfg          Config
	cmdBuilder   func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())
	polls        int
	pollInterval time.Duration
}

func New(cfg Config) *Launcher {
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	return &Launcher{
		cfg:          cfg,
		cmdBuilder:   commandContext,
		polls:        DefaultTeardownPolls,
		pollInterval: DefaultTeardownPollInterval,
	}
}

func commandContext(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	return exec.CommandContext(ctx, name, arg...), func() {}
}

func (l *Launcher) abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(l.cfg.WorkDir, path)
}

// Spec resolves the configuration into a command line specification.
func (l *Launcher) Spec() (Spec, error) {
	interpreter := ResolveInterpreter(l.cfg.InterpreterSelector, l.cfg.Env, l.cfg.Log)
	extra := SplitOptions(l.cfg.ExtraFlags)
	if err := CheckExtraFlags(extra); err != nil {
		return Spec{}, err
	}
	return Spec{
		Interpreter:     interpreter,
		InterpreterOpts: strings.Fields(l.cfg.InterpreterOpts),
		Archive:         l.abs(l.cfg.Archive),
		ContentRoot:     l.abs(l.cfg.ContentRoot),
		Port:            l.cfg.Port,
		ExtraFlags:      extra,
	}, nil
}

func (l *Launcher) serverWorkDir(spec Spec) string {
	if l.cfg.ServerWorkDir != "" {
		return l.abs(l.cfg.ServerWorkDir)
	}
	return filepath.Dir(spec.Archive)
}

// Start launches the server. The process lives until Teardown is called
// or ctx is cancelled.
func (l *Launcher) Start(ctx context.Context) (*Process, error) {
	spec, err := l.Spec()
	if err != nil {
		return nil, err
	}
	args := spec.Args()

	var mirror io.WriteCloser
	if l.cfg.OutputFile != "" {
		f, err := os.Create(l.cfg.OutputFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create server output file: %w", err)
		}
		mirror = f
	}
	console := NewConsole(l.cfg.Log, mirror, 0)

	cmd, cleanup := l.cmdBuilder(ctx, args[0], args[1:]...)
	cmd.Dir = l.serverWorkDir(spec)
	cmd.Env = envList(l.cfg.Env)
	cmd.Stdout = console
	cmd.Stderr = console

	l.cfg.Log.Info("Starting server", "cmd", shellescape.QuoteCommand(args), "dir", cmd.Dir)
	if err := cmd.Start(); err != nil {
		cleanup()
		if mirror != nil {
			_ = mirror.Close()
		}
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	p := &Process{
		cmd:          cmd,
		console:      console,
		mirror:       mirror,
		cleanup:      cleanup,
		log:          l.cfg.Log,
		done:         make(chan struct{}),
		polls:        l.polls,
		pollInterval: l.pollInterval,
	}
	go p.wait()
	return p, nil
}

func envList(env map[string]string) []string {
	if env == nil {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// Process is a running server.
type Process struct {
	cmd          *exec.Cmd
	console      *Console
	mirror       io.Closer
	cleanup      func()
	log          log.Logger
	polls        int
	pollInterval time.Duration

	done    chan struct{}
	waitErr error
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.done)
}

func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

func (p *Process) Console() *Console {
	return p.console
}

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Teardown kills the process and waits a bounded time for it to exit.
// Failures are logged, never returned.
func (p *Process) Teardown() {
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		p.log.Warn("Failed to kill server process", "pid", p.Pid(), "err", err)
	}
	defer p.cleanup()
	defer p.closeMirror()

	for i := 0; i < p.polls; i++ {
		select {
		case <-p.done:
			p.console.FlushAll()
			p.log.Info("Server process exited", "pid", p.Pid(), "state", p.cmd.ProcessState.String())
			return
		case <-time.After(p.pollInterval):
			p.log.Debug("Waiting for server process to exit", "pid", p.Pid(), "poll", i+1)
		}
	}
	p.console.FlushAll()
	p.log.Warn("Server process did not exit", "pid", p.Pid(), "waited", time.Duration(p.polls)*p.pollInterval)
}

func (p *Process) closeMirror() {
	if p.mirror == nil {
		return
	}
	if err := p.mirror.Close(); err != nil {
		p.log.Warn("Failed to close server output file", "err", err)
	}
}
