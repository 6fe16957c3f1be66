package launcher

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJDK writes a bin/java script that prints its arguments and then
// sleeps until killed.
func fakeJDK(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	script := "#!/bin/sh\necho \"started $*\"\necho \"warming up\" 1>&2\nexec sleep 30\n"
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "java"), []byte(script), 0o755))
	return home
}

func TestStartAndTeardown(t *testing.T) {
	work := t.TempDir()
	outFile := filepath.Join(work, "server.log")
	l := New(Config{
		InterpreterSelector: fakeJDK(t),
		Archive:             "fitnesse.jar",
		ContentRoot:         "FitNesseRoot",
		Port:                8123,
		ExtraFlags:          "-e 0",
		WorkDir:             work,
		Env:                 map[string]string{"PATH": os.Getenv("PATH")},
		OutputFile:          outFile,
		Log:                 log.NewLogger(log.DiscardHandler()),
	})
	l.pollInterval = 100 * time.Millisecond

	p, err := l.Start(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(string(p.Console().Bytes()), "warming up")
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(p.Console().Bytes()), "started -jar "+filepath.Join(work, "fitnesse.jar")+" -d "+work+" -r FitNesseRoot -p 8123 -e 0")
	assert.False(t, p.Exited())

	p.Teardown()
	assert.True(t, p.Exited())

	mirrored, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(mirrored), "warming up")
}

func TestTeardown_AlreadyExited(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "java"), []byte("#!/bin/sh\nexit 3\n"), 0o755))

	l := New(Config{
		InterpreterSelector: home,
		Archive:             "fitnesse.jar",
		ContentRoot:         "FitNesseRoot",
		Port:                8124,
		WorkDir:             t.TempDir(),
		Log:                 log.NewLogger(log.DiscardHandler()),
	})
	l.pollInterval = 50 * time.Millisecond

	p, err := l.Start(context.Background())
	require.NoError(t, err)
	<-p.Done()

	// Must not panic or block past its poll budget.
	start := time.Now()
	p.Teardown()
	assert.Less(t, time.Since(start), time.Second)
}

func TestStart_InterpreterNotExecutable(t *testing.T) {
	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, "bin", "java"), []byte("not a program"), 0o644))

	l := New(Config{
		InterpreterSelector: home,
		Archive:             "fitnesse.jar",
		WorkDir:             t.TempDir(),
		Log:                 log.NewLogger(log.DiscardHandler()),
	})
	_, err := l.Start(context.Background())
	require.Error(t, err)
}

func TestTeardown_ClosesOutputWhenProcessLingers(t *testing.T) {
	work := t.TempDir()
	l := New(Config{
		InterpreterSelector: fakeJDK(t),
		Archive:             "fitnesse.jar",
		ContentRoot:         "FitNesseRoot",
		Port:                8125,
		WorkDir:             work,
		Env:                 map[string]string{"PATH": os.Getenv("PATH")},
		OutputFile:          filepath.Join(work, "server.log"),
		Log:                 log.NewLogger(log.DiscardHandler()),
	})
	l.polls = 0

	p, err := l.Start(context.Background())
	require.NoError(t, err)
	p.Teardown()
	<-p.Done()

	f, ok := p.mirror.(*os.File)
	require.True(t, ok)
	_, err = f.Write([]byte("late output"))
	assert.ErrorIs(t, err, os.ErrClosed)
}

func TestConsole_IncrementalFlush(t *testing.T) {
	var logged bytes.Buffer
	var mirror bytes.Buffer
	c := NewConsole(log.NewLogger(log.NewTerminalHandler(&logged, false)), &mirror, 0)

	_, _ = c.Write([]byte("first line\nsecond "))
	c.Flush()
	assert.Contains(t, logged.String(), "first line")
	assert.NotContains(t, logged.String(), "second")

	_, _ = c.Write([]byte("half\n\x1b[31mred\x1b[0m\n"))
	c.Flush()
	assert.Contains(t, logged.String(), "second half")
	assert.Contains(t, logged.String(), "red")
	assert.NotContains(t, logged.String(), "\x1b[31m")
	assert.Equal(t, 1, strings.Count(logged.String(), "first line"))

	_, _ = c.Write([]byte("tail"))
	c.FlushAll()
	assert.Contains(t, logged.String(), "tail")

	assert.Equal(t, "first line\nsecond half\n\x1b[31mred\x1b[0m\ntail", mirror.String())
}

func TestConsole_KeepsTail(t *testing.T) {
	c := NewConsole(nil, nil, 8)
	_, _ = c.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", string(c.Bytes()))
	assert.Equal(t, int64(10), c.TotalBytes())
	assert.True(t, c.Truncated())
}
