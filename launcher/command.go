package launcher

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
)

const (
	// DefaultInterpreter is looked up on PATH when nothing better is known.
	DefaultInterpreter = "java"
	// InterpreterHomeEnv names the environment variable holding a JDK home.
	InterpreterHomeEnv = "JAVA_HOME"
)

// ResolveInterpreter picks the interpreter binary: the selected home
// directory, then the home from the environment, then the bare name on
// PATH. A home without the binary is skipped with a warning.
func ResolveInterpreter(selector string, env map[string]string, lgr log.Logger) string {
	if selector != "" {
		if bin, ok := interpreterIn(selector); ok {
			return bin
		}
		lgr.Warn("Selected interpreter home has no interpreter, falling back", "home", selector)
	}
	if home := env[InterpreterHomeEnv]; home != "" {
		if bin, ok := interpreterIn(home); ok {
			return bin
		}
		lgr.Warn("Interpreter home from environment has no interpreter, falling back", "env", InterpreterHomeEnv, "home", home)
	}
	return DefaultInterpreter
}

func interpreterIn(home string) (string, bool) {
	bin := filepath.Join(home, "bin", DefaultInterpreter)
	info, err := os.Stat(bin)
	return bin, err == nil && !info.IsDir()
}

// optionPattern matches "-x value" pairs in a free-form option string.
// Values cannot contain '-'.
var optionPattern = regexp.MustCompile(`-[a-z]\s?[^-]*`)

// SplitOptions turns "-x value -y other" into ["-x", "value", "-y", "other"].
// A flag without a value contributes only the flag. One pair of surrounding
// double quotes is removed first.
func SplitOptions(s string) []string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	var out []string
	for _, m := range optionPattern.FindAllString(s, -1) {
		out = append(out, strings.TrimSpace(m[:2]))
		if v := strings.TrimSpace(m[2:]); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// reservedFlags are set from the structured configuration and must not be
// repeated in the extra flags.
var reservedFlags = []string{"-d", "-r", "-p"}

// CheckExtraFlags rejects extra flags that redefine a structured option.
func CheckExtraFlags(extra []string) error {
	for _, f := range extra {
		for _, r := range reservedFlags {
			if f == r {
				return fmt.Errorf("extra server flags must not set %s", r)
			}
		}
	}
	return nil
}

// Spec is everything needed to build the server command line.
type Spec struct {
	Interpreter     string
	InterpreterOpts []string
	// Archive and ContentRoot are absolute paths.
	Archive     string
	ContentRoot string
	Port        int
	ExtraFlags  []string
}

// Args returns the full command line, interpreter first.
func (s Spec) Args() []string {
	args := []string{s.Interpreter}
	args = append(args, s.InterpreterOpts...)
	args = append(args,
		"-jar", s.Archive,
		"-d", filepath.Dir(s.ContentRoot),
		"-r", filepath.Base(s.ContentRoot),
		"-p", strconv.Itoa(s.Port),
	)
	return append(args, s.ExtraFlags...)
}
