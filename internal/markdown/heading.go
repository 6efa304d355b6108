package markdown

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// pathSeparator joins ancestor titles into a headingPath. The core treats
// headingPath purely as a display string; identity is always via nodeId.
const pathSeparator = " → "

// HeadingNode is one node of a document's heading tree. The root node
// (Level 0) is virtual and represents content before the first heading.
type HeadingNode struct {
	NodeID       string
	DocURI       string
	Level        int
	Title        string
	HeadingPath  string
	StartChar    int // start of the heading line itself (0 for the virtual root)
	ContentStart int // start of this node's own content, after the heading line
	EndChar      int // end of this node's subtree content range
	Parent       *HeadingNode
	Children     []*HeadingNode
}

// OwnContentRange returns the [start, end) range of text belonging to this
// node directly, excluding any descendant subtrees.
func (n *HeadingNode) OwnContentRange() (start, end int) {
	start = n.ContentStart
	if len(n.Children) > 0 {
		end = n.Children[0].StartChar
	} else {
		end = n.EndChar
	}
	return start, end
}

// HeadingTree is the parsed heading hierarchy of one normalized document.
type HeadingTree struct {
	Root  *HeadingNode
	ByID  map[string]*HeadingNode
	nodes []*HeadingNode // pre-order, excluding the virtual root
}

// Nodes returns all real (non-virtual-root) heading nodes in document order.
func (t *HeadingTree) Nodes() []*HeadingNode {
	return t.nodes
}

// NodeID computes the deterministic node identity: truncatedHash(docUri ⊕
// headingPath). Duplicate sibling titles collide on headingPath by design;
// nodeId is the sole identity carrier, distinguishing such siblings by this
// hash only if the upstream caller assigns distinct disambiguating paths
// (this function adds no disambiguation of its own).
func NodeID(docURI, headingPath string) string {
	return truncatedHash(docURI, headingPath)
}

// LeafID computes the deterministic chunk identity: truncatedHash(docUri ⊕
// startChar ⊕ endChar).
func LeafID(docURI string, startChar, endChar int) string {
	return truncatedHash(docURI, fmt.Sprintf("%d:%d", startChar, endChar))
}

func truncatedHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte{0}) // separator so "a","bc" != "ab","c"
		h.Write([]byte(p))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
