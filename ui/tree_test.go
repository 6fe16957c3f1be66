package ui

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestTreePrefix(t *testing.T) {
	tests := []struct {
		name          string
		depth         int
		isLast        bool
		ancestorsLast []bool
		want          string
	}{
		{name: "root", depth: 0, want: ""},
		{name: "first level", depth: 1, want: TreeBranch},
		{name: "first level last", depth: 1, isLast: true, want: TreeLastBranch},
		{name: "second level under open parent", depth: 2, ancestorsLast: []bool{false}, want: TreeContinue + TreeBranch},
		{name: "second level under last parent", depth: 2, isLast: true, ancestorsLast: []bool{true}, want: TreeIndent + TreeLastBranch},
		{name: "missing ancestor info", depth: 3, ancestorsLast: []bool{true}, want: TreeIndent + TreeContinue + TreeBranch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TreePrefix(tt.depth, tt.isLast, tt.ancestorsLast))
		})
	}
}

func TestBox(t *testing.T) {
	header := BoxHeader("FitNesse run", 20)
	lines := strings.Split(strings.TrimSuffix(header, "\n"), "\n")
	assert.Len(t, lines, 3)
	for _, l := range lines {
		assert.Equal(t, 20, utf8.RuneCountInString(l))
	}

	line := BoxLine("a rather long line that will not fit", 20)
	assert.Equal(t, 20, utf8.RuneCountInString(strings.TrimSuffix(line, "\n")))
	assert.Contains(t, line, "...")

	assert.Equal(t, 20, utf8.RuneCountInString(strings.TrimSuffix(BoxFooter(20), "\n")))
	// The header grows to fit a long title.
	assert.Contains(t, BoxHeader("a title longer than the width", 10), "a title longer than the width")
}
