package markdown

import (
	"regexp"
	"strings"
)

// headingPattern recognizes ATX headings only.
var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

type lineSpan struct {
	start, end int // end excludes the line's trailing '\n'
}

func splitLineSpans(text string) []lineSpan {
	var spans []lineSpan
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			spans = append(spans, lineSpan{start, i})
			start = i + 1
		}
	}
	if start <= len(text) {
		spans = append(spans, lineSpan{start, len(text)})
	}
	return spans
}

func (s lineSpan) contentStart(textLen int) int {
	if s.end < textLen {
		return s.end + 1
	}
	return textLen
}

// ParseHeadings builds the heading tree of a normalized document. Only ATX
// headings on lines whose start offset is not inside a fenced region are
// recognized. A new heading of level L pops the stack while the top's
// level >= L (closing popped nodes' range at the new heading's start),
// attaches as a child of the new stack top, and is pushed. After the last
// line, remaining stack nodes close at text length.
func ParseHeadings(docURI, text string, fences *FenceDetector) *HeadingTree {
	root := &HeadingNode{
		NodeID:       NodeID(docURI, ""),
		DocURI:       docURI,
		Level:        0,
		HeadingPath:  "",
		StartChar:    0,
		ContentStart: 0,
	}
	byID := map[string]*HeadingNode{root.NodeID: root}
	stack := []*HeadingNode{root}
	var ordered []*HeadingNode

	for _, span := range splitLineSpans(text) {
		if fences.Contains(span.start) {
			continue
		}
		line := text[span.start:span.end]
		m := headingPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}

		level := len(m[1])
		title := strings.TrimSpace(m[2])

		for len(stack) > 1 && stack[len(stack)-1].Level >= level {
			top := stack[len(stack)-1]
			top.EndChar = span.start
			stack = stack[:len(stack)-1]
		}

		parent := stack[len(stack)-1]
		headingPath := title
		if parent.HeadingPath != "" {
			headingPath = parent.HeadingPath + pathSeparator + title
		}

		node := &HeadingNode{
			NodeID:       NodeID(docURI, headingPath),
			DocURI:       docURI,
			Level:        level,
			Title:        title,
			HeadingPath:  headingPath,
			StartChar:    span.start,
			ContentStart: span.contentStart(len(text)),
			Parent:       parent,
		}
		parent.Children = append(parent.Children, node)
		byID[node.NodeID] = node
		ordered = append(ordered, node)
		stack = append(stack, node)
	}

	for _, n := range stack {
		n.EndChar = len(text)
	}

	return &HeadingTree{Root: root, ByID: byID, nodes: ordered}
}
