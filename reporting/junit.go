package reporting

import (
	"encoding/xml"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-fitnesse/results"
)

// JUnitSuiteName is the suite name used for every converted report.
const JUnitSuiteName = "AcceptanceTests"

// JUnitSuite is a single <testsuite> document.
type JUnitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Failures int         `xml:"failures,attr"`
	Disabled int         `xml:"disabled,attr"`
	Errors   int         `xml:"errors,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []JUnitCase `xml:"testcase"`
}

type JUnitCase struct {
	Classname string        `xml:"classname,attr"`
	Name      string        `xml:"name,attr"`
	Time      string        `xml:"time,attr"`
	Error     *JUnitMessage `xml:"error,omitempty"`
	Failure   *JUnitMessage `xml:"failure,omitempty"`
}

type JUnitMessage struct {
	Message string `xml:"message,attr"`
}

type rawCounts struct {
	right, wrong, ignores, exceptions int
}

func parseRawCounts(c results.RawCounts) (rawCounts, error) {
	var out rawCounts
	fields := []struct {
		name string
		val  string
		dst  *int
	}{
		{"right", c.Right, &out.right},
		{"wrong", c.Wrong, &out.wrong},
		{"ignores", c.Ignores, &out.ignores},
		{"exceptions", c.Exceptions, &out.exceptions},
	}
	for _, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f.val))
		if err != nil {
			return out, fmt.Errorf("invalid %s count %q", f.name, f.val)
		}
		*f.dst = n
	}
	return out, nil
}

func seconds(millis string) string {
	ms, err := strconv.ParseInt(strings.TrimSpace(millis), 10, 64)
	if err != nil {
		ms = 0
	}
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// ToJUnit maps a raw FitNesse report onto a JUnit test suite, one test case
// per exercised page.
func ToJUnit(raw *results.RawReport) (*JUnitSuite, error) {
	final, err := parseRawCounts(*raw.FinalCounts)
	if err != nil {
		return nil, err
	}
	suite := &JUnitSuite{
		Name:     JUnitSuiteName,
		Tests:    final.right + final.wrong + final.ignores + final.exceptions,
		Failures: final.wrong,
		Disabled: final.ignores,
		Errors:   final.exceptions,
		Time:     seconds(raw.TotalRunTime),
	}
	for _, res := range raw.Results {
		c, err := parseRawCounts(res.Counts)
		if err != nil {
			return nil, fmt.Errorf("page %q: %w", res.RelativePageName, err)
		}
		tc := JUnitCase{
			Classname: raw.RootPath,
			Name:      res.RelativePageName,
			Time:      seconds(res.RunTime),
		}
		switch {
		case c.exceptions > 0:
			msg := fmt.Sprintf("%d exceptions thrown", c.exceptions)
			if c.wrong > 0 {
				msg += fmt.Sprintf(" and %d assertions failed", c.wrong)
			}
			tc.Error = &JUnitMessage{Message: msg}
		case c.wrong > 0:
			tc.Failure = &JUnitMessage{Message: fmt.Sprintf("%d assertions failed", c.wrong)}
		}
		suite.Cases = append(suite.Cases, tc)
	}
	return suite, nil
}

// ConvertJUnit reads the raw report at rawPath and writes its JUnit form to
// outPath.
func ConvertJUnit(rawPath, outPath string) error {
	in, err := os.Open(rawPath)
	if err != nil {
		return fmt.Errorf("failed to open raw results: %w", err)
	}
	defer in.Close()

	raw, err := results.DecodeRaw(in)
	if err != nil {
		return err
	}
	suite, err := ToJUnit(raw)
	if err != nil {
		return err
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create junit report: %w", err)
	}
	defer out.Close()

	if _, err := out.WriteString(xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(out)
	enc.Indent("", "  ")
	if err := enc.Encode(suite); err != nil {
		return fmt.Errorf("failed to write junit report: %w", err)
	}
	return enc.Close()
}
