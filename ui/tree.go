// Package ui holds the box-drawing helpers used for plain-text result trees.
package ui

import (
	"strings"
	"unicode/utf8"
)

const (
	TreeBranch     = "├── "
	TreeLastBranch = "└── "
	TreeContinue   = "│   "
	TreeIndent     = "    "

	BoxTopLeft     = "┌"
	BoxTopRight    = "┐"
	BoxBottomLeft  = "└"
	BoxBottomRight = "┘"
	BoxVertical    = "│"
	BoxHorizontal  = "─"
	BoxTeeRight    = "├"
	BoxTeeLeft     = "┤"
)

// TreePrefix builds the connector drawn before a node.
// ancestorsLast[i] tells whether the ancestor at depth i+1 was the last of
// its siblings; the root (depth 0) gets no prefix.
func TreePrefix(depth int, isLast bool, ancestorsLast []bool) string {
	if depth == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < depth-1; i++ {
		if i < len(ancestorsLast) && ancestorsLast[i] {
			b.WriteString(TreeIndent)
		} else {
			b.WriteString(TreeContinue)
		}
	}
	if isLast {
		b.WriteString(TreeLastBranch)
	} else {
		b.WriteString(TreeBranch)
	}
	return b.String()
}

// BoxHeader draws the top of a box with a title line.
func BoxHeader(title string, width int) string {
	titleLen := utf8.RuneCountInString(title)
	width = max(width, titleLen+4)
	padding := width - 4 - titleLen

	return BoxTopLeft + strings.Repeat(BoxHorizontal, width-2) + BoxTopRight + "\n" +
		BoxVertical + " " + title + strings.Repeat(" ", padding+1) + BoxVertical + "\n" +
		BoxTeeRight + strings.Repeat(BoxHorizontal, width-2) + BoxTeeLeft + "\n"
}

// BoxLine draws one content line, truncating with "..." when too long.
func BoxLine(content string, width int) string {
	maxLen := width - 4
	if utf8.RuneCountInString(content) > maxLen {
		runes := []rune(content)
		content = string(runes[:max(0, maxLen-3)]) + "..."
	}
	padding := max(0, maxLen-utf8.RuneCountInString(content))
	return BoxVertical + " " + content + strings.Repeat(" ", padding+1) + BoxVertical + "\n"
}

func BoxFooter(width int) string {
	return BoxBottomLeft + strings.Repeat(BoxHorizontal, max(0, width-2)) + BoxBottomRight + "\n"
}
