package results

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/ethereum/go-ethereum/log"
)

// DefaultSummaryName names the summary of a report with no better name.
const DefaultSummaryName = "Summary"

const (
	elemSummary = "summary"
	elemDetail  = "detail"
)

// FoldOptions controls how the canonical stream is folded.
type FoldOptions struct {
	// SummaryName is the page identifier given to the report summary.
	SummaryName string
	// ContentDir receives one file per page with inline HTML content.
	// Content is dropped when empty.
	ContentDir string
	Logger     log.Logger
}

// Report is the folded form of one canonical report.
type Report struct {
	Version string
	Root    string

	summary *Counts
	details *treemap.Map // page -> Counts
}

// Summary returns the effective report summary. A suite wrapping exactly one
// test reports all-zero totals of its own, so in that case the single
// detail stands in for the summary.
func (r *Report) Summary() Counts {
	if r.summary.IsZero() && r.details.Size() == 1 {
		_, v := r.details.Min()
		return v.(Counts)
	}
	return *r.summary
}

// Details returns the per-page counts ordered by page identifier.
func (r *Report) Details() []Counts {
	out := make([]Counts, 0, r.details.Size())
	it := r.details.Iterator()
	for it.Next() {
		out = append(out, it.Value().(Counts))
	}
	return out
}

// Detail looks up the counts of one page.
func (r *Report) Detail(page string) (Counts, bool) {
	v, ok := r.details.Get(page)
	if !ok {
		return Counts{}, false
	}
	return v.(Counts), true
}

// Fold reads a canonical report and collects its summary and details. A
// detail whose page was already seen replaces the earlier one.
func Fold(r io.Reader, opts FoldOptions) (*Report, error) {
	if opts.Logger == nil {
		opts.Logger = log.Root()
	}
	if opts.SummaryName == "" {
		opts.SummaryName = DefaultSummaryName
	}
	rep := &Report{details: treemap.NewWithStringComparator()}
	files := &contentFiles{opts: opts, byPage: make(map[string]string)}

	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read canonical report: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "fitnesse-report":
			rep.Version = attr(start, "version")
			rep.Root = attr(start, "root")
		case elemSummary, elemDetail:
			c, err := foldEntry(start, opts, files)
			if err != nil {
				return nil, err
			}
			if start.Name.Local == elemSummary {
				if rep.summary != nil {
					return nil, errors.New("report has more than one summary")
				}
				rep.summary = &c
				continue
			}
			rep.details.Put(c.Page, c)
		}
	}
	if rep.summary == nil {
		return nil, errors.New("report has no summary")
	}
	return rep, nil
}

func foldEntry(start xml.StartElement, opts FoldOptions, files *contentFiles) (Counts, error) {
	var c Counts
	isSummary := start.Name.Local == elemSummary
	if isSummary {
		c.Page = opts.SummaryName
	} else {
		c.Page = attr(start, "page")
		if c.Page == "" {
			c.Page = attr(start, "name")
		}
		if c.Page == "" {
			return c, errors.New("detail has neither page nor name")
		}
		c.Date = resultsDateOf(attr(start, "approxResultDate"))
	}

	var err error
	if c.Right, err = counter(start, "right"); err != nil {
		return c, err
	}
	if c.Wrong, err = counter(start, "wrong"); err != nil {
		return c, err
	}
	if c.Ignored, err = counter(start, "ignored"); err != nil {
		return c, err
	}
	if c.Exceptions, err = counter(start, "exceptions"); err != nil {
		return c, err
	}
	if d := attr(start, "duration"); d != "" {
		if c.DurationMillis, err = strconv.ParseInt(d, 10, 64); err != nil {
			return c, fmt.Errorf("page %q: invalid duration %q", c.Page, d)
		}
	}
	if err := c.Validate(); err != nil {
		return c, err
	}

	if content, ok := lookupAttr(start, "content"); ok {
		c.ContentFile = files.write(c.Page, content)
	} else if !isSummary {
		opts.Logger.Debug("Could not find content for page", "page", c.Page)
	}
	return c, nil
}

// resultsDateOf strips query noise following the timestamp.
func resultsDateOf(approx string) string {
	if i := strings.IndexByte(approx, '&'); i >= 0 {
		return approx[:i]
	}
	return approx
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func sanitizeName(name string) string {
	name = unsafeFileChars.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// contentFiles hands out one file per page. Pages whose names sanitize to
// the same file get numbered suffixes; a page seen again reuses its file.
type contentFiles struct {
	opts   FoldOptions
	byPage map[string]string
}

func contentFileName(page string, n int) string {
	if n <= 1 {
		return sanitizeName(page) + ".html"
	}
	return fmt.Sprintf("%s-%d.html", sanitizeName(page), n)
}

func (f *contentFiles) write(page, content string) string {
	if f.opts.ContentDir == "" {
		return ""
	}
	lgr := f.opts.Logger
	if path, ok := f.byPage[page]; ok {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			lgr.Error("Error writing page content", "file", path, "err", err)
			return ""
		}
		return path
	}
	if err := os.MkdirAll(f.opts.ContentDir, 0o755); err != nil {
		lgr.Error("Error creating content directory", "dir", f.opts.ContentDir, "err", err)
		return ""
	}
	for n := 1; ; n++ {
		path := filepath.Join(f.opts.ContentDir, contentFileName(page, n))
		out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			lgr.Error("Error writing page content", "file", path, "err", err)
			return ""
		}
		_, err = out.WriteString(content)
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			lgr.Error("Error writing page content", "file", path, "err", err)
			return ""
		}
		if n > 1 {
			lgr.Debug("Page content file name taken, using suffix", "page", page, "file", path)
		}
		f.byPage[page] = path
		lgr.Debug("Wrote page content", "page", page, "file", path)
		return path
	}
}

func counter(start xml.StartElement, name string) (int, error) {
	v, ok := lookupAttr(start, name)
	if !ok {
		return 0, fmt.Errorf("<%s> is missing %q", start.Name.Local, name)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("<%s> has invalid %s %q", start.Name.Local, name, v)
	}
	return n, nil
}

func attr(start xml.StartElement, name string) string {
	v, _ := lookupAttr(start, name)
	return v
}

func lookupAttr(start xml.StartElement, name string) (string, bool) {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}
