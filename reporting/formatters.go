package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-fitnesse/results"
	"github.com/ethereum-optimism/infra/op-fitnesse/ui"
)

// RunInfo identifies the run a report belongs to.
type RunInfo struct {
	RunID   string
	Target  string
	Status  string
	Elapsed time.Duration
}

// ReportFormatter renders a result tree.
type ReportFormatter interface {
	Format(root *results.Node, info RunInfo) (string, error)
}

// FileWriter writes reports to a file
type FileWriter struct {
	path string
}

func NewFileWriter(path string) *FileWriter {
	return &FileWriter{path: path}
}

func (w *FileWriter) Write(content string) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	return os.WriteFile(w.path, []byte(content), 0o644)
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return d.Truncate(time.Millisecond).String()
}

func statusText(s results.State) string {
	switch s {
	case results.StatePassed:
		return "PASS"
	case results.StateFailed:
		return "FAIL"
	case results.StateSkipped:
		return "SKIP"
	default:
		return "UNKNOWN"
	}
}

// TextFormatter renders the tree as indented plain text.
type TextFormatter struct {
	// Width of the header box.
	Width int
}

func (f TextFormatter) Format(root *results.Node, info RunInfo) (string, error) {
	width := f.Width
	if width <= 0 {
		width = 72
	}
	var b strings.Builder
	b.WriteString(ui.BoxHeader("FitNesse results: "+info.Target, width))
	b.WriteString(ui.BoxLine("Run ID: "+info.RunID, width))
	b.WriteString(ui.BoxLine("Status: "+info.Status, width))
	b.WriteString(ui.BoxLine("Elapsed: "+formatDuration(info.Elapsed), width))
	b.WriteString(ui.BoxFooter(width))
	if root == nil {
		b.WriteString("No results.\n")
		return b.String(), nil
	}

	var ancestorsLast []bool
	var walk func(n *results.Node, depth int, isLast bool)
	walk = func(n *results.Node, depth int, isLast bool) {
		c := n.Counts()
		fmt.Fprintf(&b, "%s[%s] %s (%d right, %d wrong, %d ignored, %d exceptions, %s)\n",
			ui.TreePrefix(depth, isLast, ancestorsLast), statusText(n.State()), n.Name(),
			c.Right, c.Wrong, c.Ignored, c.Exceptions, formatDuration(n.Duration()))
		if depth > 0 {
			ancestorsLast = append(ancestorsLast, isLast)
		}
		children := n.Children()
		for i, child := range children {
			walk(child, depth+1, i == len(children)-1)
		}
		if depth > 0 {
			ancestorsLast = ancestorsLast[:len(ancestorsLast)-1]
		}
	}
	walk(root, 0, true)
	return b.String(), nil
}

// TableFormatter renders the tree as a go-pretty table.
type TableFormatter struct{}

func (TableFormatter) Format(root *results.Node, info RunInfo) (string, error) {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("FitNesse Results (%s)", formatDuration(info.Elapsed)))
	t.AppendHeader(table.Row{"Type", "Page", "Duration", "Right", "Wrong", "Ignored", "Exceptions", "Status"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "Page", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Right", Align: text.AlignRight},
		{Name: "Wrong", Align: text.AlignRight},
		{Name: "Ignored", Align: text.AlignRight},
		{Name: "Exceptions", Align: text.AlignRight},
	})

	if root != nil {
		root.Walk(func(n *results.Node, depth int) {
			c := n.Counts()
			name := n.Name()
			if depth > 0 {
				name = strings.Repeat("  ", depth-1) + ui.TreeBranch + name
			}
			t.AppendRow(table.Row{
				kindLabel(n.Kind()),
				name,
				formatDuration(n.Duration()),
				c.Right,
				c.Wrong,
				c.Ignored,
				c.Exceptions,
				colorState(n.State()),
			})
		})
		c := root.Counts()
		t.AppendFooter(table.Row{"TOTAL", "", formatDuration(root.Duration()), c.Right, c.Wrong, c.Ignored, c.Exceptions, info.Status})
	}
	t.SetStyle(table.StyleLight)
	return t.Render(), nil
}

func kindLabel(k results.Kind) string {
	switch k {
	case results.KindCompound:
		return "Run"
	case results.KindSummary:
		return "Report"
	default:
		return "Page"
	}
}

func colorState(s results.State) string {
	switch s {
	case results.StatePassed:
		return text.Colors{text.FgGreen}.Sprint(statusText(s))
	case results.StateFailed:
		return text.Colors{text.FgRed}.Sprint(statusText(s))
	default:
		return text.Colors{text.FgYellow}.Sprint(statusText(s))
	}
}
