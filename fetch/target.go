package fetch

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// TestIDHeader carries the id of the test run started by a results request.
const TestIDHeader = "X-FitNesse-Test-Id"

// Target addresses a page on a FitNesse server.
type Target struct {
	Host  string
	Port  int
	TLS   bool
	Page  string
	Suite bool
}

func (t Target) scheme() string {
	if t.TLS {
		return "https"
	}
	return "http"
}

// BaseURL is the server root, used for readiness checks.
func (t Target) BaseURL() string {
	return fmt.Sprintf("%s://%s/", t.scheme(), net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
}

// PagePath is the page with any query removed.
func (t Target) PagePath() string {
	page := t.Page
	if i := strings.IndexAny(page, "?&"); i >= 0 {
		page = page[:i]
	}
	return "/" + strings.TrimPrefix(page, "/")
}

// CommandPath is the request path that runs the page and returns XML.
//
// A page that already carries its own "?" query is used as is. Otherwise
// the first "&" separates the page from extra query parameters and the run
// command (suite or test) is inserted between them.
func (t Target) CommandPath() string {
	page := strings.TrimPrefix(t.Page, "/")
	if strings.Contains(page, "?") {
		return "/" + page + "&format=xml&includehtml"
	}
	command := "test"
	if t.Suite {
		command = "suite"
	}
	rest := ""
	if i := strings.IndexByte(page, '&'); i >= 0 {
		page, rest = page[:i], page[i:]
	}
	return "/" + page + "?" + command + rest + "&format=xml&includehtml"
}

func (t Target) hostURL() string {
	return fmt.Sprintf("%s://%s", t.scheme(), net.JoinHostPort(t.Host, strconv.Itoa(t.Port)))
}

// CommandURL is the absolute results request URL.
func (t Target) CommandURL() string {
	return t.hostURL() + t.CommandPath()
}

// StopURL asks the server to stop the test run with the given id.
func (t Target) StopURL(testID string) string {
	return t.hostURL() + t.PagePath() + "?stoptest&id=" + url.QueryEscape(testID)
}
