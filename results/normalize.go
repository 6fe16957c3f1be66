package results

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/mod/semver"
)

// DurationSchemaVersion is the first FitNesse release whose XML output
// carries run times for every page.
const DurationSchemaVersion = "v20121220"

// RawReport is the XML document FitNesse returns for ?suite&format=xml.
type RawReport struct {
	XMLName      xml.Name    `xml:"testResults"`
	Version      string      `xml:"FitNesseVersion"`
	RootPath     string      `xml:"rootPath"`
	Results      []RawResult `xml:"result"`
	FinalCounts  *RawCounts  `xml:"finalCounts"`
	TotalRunTime string      `xml:"totalRunTimeInMillis"`
}

// RawCounts holds counters as text, exactly as reported.
type RawCounts struct {
	Right      string `xml:"right"`
	Wrong      string `xml:"wrong"`
	Ignores    string `xml:"ignores"`
	Exceptions string `xml:"exceptions"`
}

// RawResult is one exercised page.
type RawResult struct {
	Counts           RawCounts `xml:"counts"`
	RunTime          string    `xml:"runTimeInMillis"`
	Content          *string   `xml:"content"`
	RelativePageName string    `xml:"relativePageName"`
	PageHistoryLink  string    `xml:"pageHistoryLink"`
}

// canonicalReport is the intermediate form consumed by Fold. Counters stay
// textual so that Fold alone decides what a valid number is.
type canonicalReport struct {
	XMLName xml.Name         `xml:"fitnesse-report"`
	Version string           `xml:"version,attr,omitempty"`
	Root    string           `xml:"root,attr,omitempty"`
	Summary canonicalEntry   `xml:"summary"`
	Details []canonicalEntry `xml:"detail"`
}

type canonicalEntry struct {
	Page             string  `xml:"page,attr,omitempty"`
	Name             string  `xml:"name,attr,omitempty"`
	ApproxResultDate string  `xml:"approxResultDate,attr,omitempty"`
	Right            string  `xml:"right,attr"`
	Wrong            string  `xml:"wrong,attr"`
	Ignored          string  `xml:"ignored,attr"`
	Exceptions       string  `xml:"exceptions,attr"`
	Duration         string  `xml:"duration,attr,omitempty"`
	Content          *string `xml:"content,attr"`
}

// Normalize maps a raw FitNesse report onto the canonical
// <fitnesse-report><summary/><detail/>...</fitnesse-report> form.
func Normalize(r io.Reader, w io.Writer, lgr log.Logger) error {
	if lgr == nil {
		lgr = log.Root()
	}
	raw, err := DecodeRaw(r)
	if err != nil {
		return err
	}
	checkSchemaVersion(raw.Version, lgr)

	out := canonicalReport{
		Version: raw.Version,
		Root:    raw.RootPath,
		Summary: canonicalEntry{
			Right:      strings.TrimSpace(raw.FinalCounts.Right),
			Wrong:      strings.TrimSpace(raw.FinalCounts.Wrong),
			Ignored:    strings.TrimSpace(raw.FinalCounts.Ignores),
			Exceptions: strings.TrimSpace(raw.FinalCounts.Exceptions),
			Duration:   strings.TrimSpace(raw.TotalRunTime),
		},
		Details: make([]canonicalEntry, 0, len(raw.Results)),
	}
	for _, res := range raw.Results {
		out.Details = append(out.Details, canonicalEntry{
			Page:             strings.TrimSpace(res.RelativePageName),
			Name:             historyPageName(res.PageHistoryLink),
			ApproxResultDate: historyResultDate(res.PageHistoryLink),
			Right:            strings.TrimSpace(res.Counts.Right),
			Wrong:            strings.TrimSpace(res.Counts.Wrong),
			Ignored:          strings.TrimSpace(res.Counts.Ignores),
			Exceptions:       strings.TrimSpace(res.Counts.Exceptions),
			Duration:         strings.TrimSpace(res.RunTime),
			Content:          res.Content,
		})
	}

	enc := xml.NewEncoder(w)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode canonical report: %w", err)
	}
	return enc.Close()
}

// DecodeRaw reads a raw FitNesse report. Byte order marks and declared
// character sets are handled.
func DecodeRaw(r io.Reader) (*RawReport, error) {
	dec := xml.NewDecoder(deBOM(r))
	dec.CharsetReader = charsetReader

	var raw RawReport
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode raw report: %w", err)
	}
	if raw.FinalCounts == nil {
		return nil, fmt.Errorf("raw report has no finalCounts")
	}
	return &raw, nil
}

// historyPageName returns the page part of a page history link,
// e.g. "WikiName.SuiteBlah.TestBlah" for "WikiName.SuiteBlah.TestBlah?pageHistory&...".
func historyPageName(link string) string {
	link = strings.TrimSpace(link)
	if i := strings.IndexByte(link, '?'); i >= 0 {
		return link[:i]
	}
	return link
}

// historyResultDate returns everything after "resultDate=". Trailing query
// parameters are left for Fold to strip.
func historyResultDate(link string) string {
	const key = "resultDate="
	i := strings.Index(link, key)
	if i < 0 {
		return ""
	}
	return strings.TrimSpace(link[i+len(key):])
}

func checkSchemaVersion(version string, lgr log.Logger) {
	version = strings.TrimSpace(version)
	if version == "" {
		lgr.Debug("Report carries no FitNesse version")
		return
	}
	v := "v" + strings.TrimPrefix(version, "v")
	if !semver.IsValid(v) {
		lgr.Debug("Unrecognised FitNesse version", "version", version)
		return
	}
	if semver.Compare(v, DurationSchemaVersion) < 0 {
		lgr.Info("FitNesse version predates per-page durations, durations default to 0", "version", version)
	}
}
