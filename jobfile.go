package fitnesse

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// JobFile holds job options read from a YAML or TOML file. Unset fields
// leave the flag value in place.
type JobFile struct {
	StartServer     *bool   `yaml:"start_server" toml:"start_server"`
	Host            *string `yaml:"host" toml:"host"`
	Port            *int    `yaml:"port" toml:"port"`
	Username        *string `yaml:"username" toml:"username"`
	Password        *string `yaml:"password" toml:"password"`
	TLS             *bool   `yaml:"use_tls" toml:"use_tls"`
	Interpreter     *string `yaml:"interpreter" toml:"interpreter"`
	InterpreterOpts *string `yaml:"interpreter_opts" toml:"interpreter_opts"`
	Archive         *string `yaml:"archive_path" toml:"archive_path"`
	ContentRoot     *string `yaml:"content_root_path" toml:"content_root_path"`
	TargetPage      *string `yaml:"target_page" toml:"target_page"`
	Suite           *bool   `yaml:"is_suite" toml:"is_suite"`
	HTTPTimeout     *int64  `yaml:"http_timeout_ms" toml:"http_timeout_ms"`
	TestTimeout     *int64  `yaml:"test_timeout_ms" toml:"test_timeout_ms"`
	ResultsOut      *string `yaml:"raw_output_path" toml:"raw_output_path"`
	JUnitOut        *string `yaml:"converted_output_path" toml:"converted_output_path"`
	ServerFlags     *string `yaml:"extra_server_flags" toml:"extra_server_flags"`
	ServerWorkDir   *string `yaml:"server_workdir" toml:"server_workdir"`
	ResultsIn       *string `yaml:"results_in" toml:"results_in"`
}

// LoadJobFile reads a job file. The format follows the extension: .toml
// for TOML, anything else is read as YAML. Unknown keys are rejected.
func LoadJobFile(path string) (*JobFile, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "error reading job file")
	}

	job := &JobFile{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(contents), job)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing job file %s", path)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, errors.Errorf("job file %s has unknown key %q", path, undecoded[0].String())
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(contents))
		dec.KnownFields(true)
		if err := dec.Decode(job); err != nil && !errors.Is(err, io.EOF) {
			return nil, errors.Wrapf(err, "error parsing job file %s", path)
		}
	}
	return job, nil
}
