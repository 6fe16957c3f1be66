package launcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitOptions(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single pair", in: "-e 0", want: []string{"-e", "0"}},
		{name: "flag without value", in: "-v", want: []string{"-v"}},
		{name: "mixed", in: "-v -e 0 -l logs", want: []string{"-v", "-e", "0", "-l", "logs"}},
		{name: "no space after flag", in: "-e0", want: []string{"-e", "0"}},
		{name: "surrounding quotes", in: `"-o -e 7"`, want: []string{"-o", "-e", "7"}},
		{name: "extra whitespace", in: "  -e   5   ", want: []string{"-e", "5"}},
		{name: "uppercase flags are not options", in: "-X foo", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitOptions(tt.in))
		})
	}
}

func TestCheckExtraFlags(t *testing.T) {
	require.NoError(t, CheckExtraFlags([]string{"-e", "0", "-v"}))
	for _, reserved := range []string{"-d", "-r", "-p"} {
		require.Error(t, CheckExtraFlags([]string{"-v", reserved, "x"}), reserved)
	}
}

func fakeHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "java"), nil, 0o755))
	return home
}

func TestResolveInterpreter(t *testing.T) {
	selected := fakeHome(t)
	envHome := fakeHome(t)
	empty := t.TempDir()

	tests := []struct {
		name     string
		selector string
		env      map[string]string
		want     string
	}{
		{name: "explicit selection", selector: selected, env: map[string]string{InterpreterHomeEnv: envHome}, want: filepath.Join(selected, "bin", "java")},
		{name: "selection without binary falls back to environment", selector: empty, env: map[string]string{InterpreterHomeEnv: envHome}, want: filepath.Join(envHome, "bin", "java")},
		{name: "selection without binary falls back to path", selector: empty, want: "java"},
		{name: "environment home", env: map[string]string{InterpreterHomeEnv: envHome}, want: filepath.Join(envHome, "bin", "java")},
		{name: "environment home without binary", env: map[string]string{InterpreterHomeEnv: empty}, want: "java"},
		{name: "path lookup", env: map[string]string{}, want: "java"},
		{name: "nil environment", want: "java"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveInterpreter(tt.selector, tt.env, log.NewLogger(log.DiscardHandler())))
		})
	}
}

func TestSpecArgs(t *testing.T) {
	spec := Spec{
		Interpreter:     "/jdk/bin/java",
		InterpreterOpts: []string{"-Xmx512m", "-Dfoo=bar"},
		Archive:         "/work/fitnesse.jar",
		ContentRoot:     "/work/wiki/FitNesseRoot",
		Port:            8089,
		ExtraFlags:      []string{"-e", "0"},
	}
	assert.Equal(t, []string{
		"/jdk/bin/java", "-Xmx512m", "-Dfoo=bar",
		"-jar", "/work/fitnesse.jar",
		"-d", "/work/wiki",
		"-r", "FitNesseRoot",
		"-p", "8089",
		"-e", "0",
	}, spec.Args())
}

func TestLauncherSpec_ResolvesRelativePaths(t *testing.T) {
	jdk := fakeHome(t)
	l := New(Config{
		Archive:         "lib/fitnesse.jar",
		ContentRoot:     "FitNesseRoot",
		Port:            9090,
		InterpreterOpts: "-Xms64m",
		ExtraFlags:      "-v",
		WorkDir:         "/ci/workspace",
		Env:             map[string]string{InterpreterHomeEnv: jdk},
	})
	spec, err := l.Spec()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(jdk, "bin", "java"), spec.Interpreter)
	assert.Equal(t, "/ci/workspace/lib/fitnesse.jar", spec.Archive)
	assert.Equal(t, "/ci/workspace/FitNesseRoot", spec.ContentRoot)
	assert.Equal(t, []string{"-Xms64m"}, spec.InterpreterOpts)
	assert.Equal(t, "/ci/workspace/lib", l.serverWorkDir(spec))

	l.cfg.ServerWorkDir = "run"
	assert.Equal(t, "/ci/workspace/run", l.serverWorkDir(spec))

	l.cfg.ExtraFlags = "-p 1234"
	_, err = l.Spec()
	require.Error(t, err)
}
