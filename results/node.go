package results

import (
	"errors"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// CompoundName is the page identifier of a node that unions several reports.
const CompoundName = "All Results"

// Kind tags what a Node stands for.
type Kind int

const (
	// KindDetail is a single exercised page.
	KindDetail Kind = iota
	// KindSummary is the top of one report.
	KindSummary
	// KindCompound unions the summaries of several reports.
	KindCompound
)

func (k Kind) String() string {
	switch k {
	case KindDetail:
		return "detail"
	case KindSummary:
		return "summary"
	case KindCompound:
		return "compound"
	default:
		return "unknown"
	}
}

// Node is one element of the result tree. A node's counters cover its whole
// subtree, so aggregates are read from the node itself.
type Node struct {
	kind     Kind
	counts   Counts
	children []*Node
	// parent is a lookup aid only; the parent owns the child, not the reverse.
	parent *Node

	viewsOnce sync.Once
	failed    []*Node
	passed    []*Node
	skipped   []*Node
}

func newNode(kind Kind, c Counts) *Node {
	return &Node{kind: kind, counts: c}
}

// NewTree builds the node for a folded report with one child per detail.
func NewTree(rep *Report) *Node {
	root := newNode(KindSummary, rep.Summary())
	details := rep.Details()
	children := make([]*Node, 0, len(details))
	for _, d := range details {
		children = append(children, newNode(KindDetail, d))
	}
	root.attach(children)
	return root
}

// Compound unions report nodes under a synthetic node whose counters are the
// field-wise sum of its children. Its date is the first non-empty child date.
func Compound(children ...*Node) *Node {
	c := Counts{Page: CompoundName}
	for _, child := range children {
		c = c.Add(child.counts)
		if c.Date == "" {
			c.Date = child.counts.Date
		}
	}
	root := newNode(KindCompound, c)
	root.attach(children)
	return root
}

func (n *Node) attach(children []*Node) {
	for _, child := range children {
		child.parent = n
	}
	n.children = append(n.children, children...)
	sort.SliceStable(n.children, func(i, j int) bool {
		return n.children[i].Name() < n.children[j].Name()
	})
}

func (n *Node) Kind() Kind { return n.kind }
func (n *Node) Counts() Counts { return n.counts }
func (n *Node) Name() string { return n.counts.Page }
func (n *Node) Date() string { return n.counts.Date }
func (n *Node) Parent() *Node { return n.parent }
func (n *Node) HasChildren() bool { return len(n.children) > 0 }

// Children returns the children ordered by name, case-sensitively.
func (n *Node) Children() []*Node {
	return n.children
}

func (n *Node) State() State { return Classify(n.counts) }

func (n *Node) IsFailed() bool { return n.State() == StateFailed }
func (n *Node) IsPassed() bool { return n.State() == StatePassed }
func (n *Node) IsSkipped() bool { return n.State() == StateSkipped }

func (n *Node) FailCount() int { return n.counts.FailCount() }
func (n *Node) WrongCount() int { return n.counts.Wrong }
func (n *Node) PassCount() int { return n.counts.Right }
func (n *Node) SkipCount() int { return n.counts.Ignored }
func (n *Node) ExceptionCount() int { return n.counts.Exceptions }
func (n *Node) TotalCount() int { return n.counts.Total() }

func (n *Node) computeViews() {
	n.viewsOnce.Do(func() {
		for _, child := range n.children {
			switch child.State() {
			case StateFailed:
				n.failed = append(n.failed, child)
			case StatePassed:
				n.passed = append(n.passed, child)
			case StateSkipped:
				n.skipped = append(n.skipped, child)
			}
		}
	})
}

// FailedChildren returns the failed children. The view is computed once.
func (n *Node) FailedChildren() []*Node {
	n.computeViews()
	return n.failed
}

func (n *Node) PassedChildren() []*Node {
	n.computeViews()
	return n.passed
}

func (n *Node) SkippedChildren() []*Node {
	n.computeViews()
	return n.skipped
}

// Duration is the reported duration when the source has one, otherwise the
// gap between the earliest and latest child result dates. Children without
// a parseable date are ignored.
func (n *Node) Duration() time.Duration {
	if n.counts.DurationMillis > 0 {
		return time.Duration(n.counts.DurationMillis) * time.Millisecond
	}
	var earliest, latest time.Time
	for _, child := range n.children {
		t, err := child.counts.Time()
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
		if latest.IsZero() || t.After(latest) {
			latest = t
		}
	}
	return latest.Sub(earliest)
}

// Path joins the names from the root down to this node.
func (n *Node) Path() string {
	var names []string
	for cur := n; cur != nil; cur = cur.parent {
		names = append(names, cur.Name())
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return strings.Join(names, "/")
}

// ChildByName returns the direct child with the given name.
func (n *Node) ChildByName(name string) *Node {
	for _, child := range n.children {
		if child.Name() == name {
			return child
		}
	}
	return nil
}

// FindCorrespondingResult returns the node itself or a direct child whose
// name equals id. It is used to line up the same page across runs.
func (n *Node) FindCorrespondingResult(id string) *Node {
	if n.Name() == id {
		return n
	}
	return n.ChildByName(id)
}

// Walk visits the subtree depth-first, parents before children.
func (n *Node) Walk(fn func(node *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(*Node, int), depth int) {
	fn(n, depth)
	for _, child := range n.children {
		child.walk(fn, depth+1)
	}
}

// HasHTMLContent reports whether a page body was persisted for this node.
func (n *Node) HasHTMLContent() bool {
	return n.counts.ContentFile != ""
}

// HTMLContent reads the persisted page body.
func (n *Node) HTMLContent() (string, error) {
	if !n.HasHTMLContent() {
		return "", errors.New("no content for page " + n.Name())
	}
	b, err := os.ReadFile(n.counts.ContentFile)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
