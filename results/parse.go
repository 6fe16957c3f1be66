package results

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ethereum/go-ethereum/log"
)

// Options configures Parse and friends.
type Options struct {
	// SummaryName overrides the page identifier of the report summary.
	SummaryName string
	// ContentDir receives inline page bodies; see FoldOptions.
	ContentDir string
	Logger     log.Logger
}

func (o Options) logger() log.Logger {
	if o.Logger == nil {
		return log.Root()
	}
	return o.Logger
}

// Parse runs a raw FitNesse report through both stages and returns its tree.
func Parse(r io.Reader, opts Options) (*Node, error) {
	source := opts.SummaryName
	if source == "" {
		source = DefaultSummaryName
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(Normalize(r, pw, opts.logger()))
	}()

	rep, err := Fold(pr, FoldOptions{
		SummaryName: opts.SummaryName,
		ContentDir:  opts.ContentDir,
		Logger:      opts.logger(),
	})
	// Unblocks the normalizer if folding stopped early.
	pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return nil, &MalformedReport{Source: source, Err: err}
	}
	return NewTree(rep), nil
}

// ParseBytes parses a report held in memory.
func ParseBytes(raw []byte, opts Options) (*Node, error) {
	return Parse(bytes.NewReader(raw), opts)
}

// ParseFile parses a report file. The summary is named after the file
// unless Options.SummaryName is set.
func ParseFile(path string, opts Options) (*Node, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer f.Close()
	if opts.SummaryName == "" {
		opts.SummaryName = filepath.Base(path)
	}
	opts.logger().Info("Parsing results", "file", path)
	return Parse(f, opts)
}

// Collect parses every report matching pattern, resolved against workDir.
// An existing file is parsed directly; otherwise pattern is treated as a
// glob. Several matches are unioned under a compound node. No match yields
// a nil node and no error.
func Collect(workDir, pattern string, opts Options) (*Node, error) {
	path := pattern
	if !filepath.IsAbs(path) {
		path = filepath.Join(workDir, pattern)
	}
	if fi, err := os.Stat(path); err == nil && !fi.IsDir() {
		return ParseFile(path, opts)
	}

	matches, err := filepath.Glob(path)
	if err != nil {
		return nil, fmt.Errorf("invalid results pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)
	opts.logger().Info("Collected result files", "pattern", pattern, "count", len(matches))

	var nodes []*Node
	for _, m := range matches {
		fileOpts := opts
		if fileOpts.SummaryName == "" {
			fileOpts.SummaryName = filepath.Base(m)
		}
		if len(matches) > 1 && fileOpts.ContentDir != "" {
			fileOpts.ContentDir = filepath.Join(opts.ContentDir, sanitizeName(filepath.Base(m)))
		}
		node, err := ParseFile(m, fileOpts)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	switch len(nodes) {
	case 0:
		return nil, nil
	case 1:
		return nodes[0], nil
	default:
		return Compound(nodes...), nil
	}
}
