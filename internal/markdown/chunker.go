package markdown

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// tokensPerChar is the approximation used to bootstrap chunking before a
// real tokenizer is available: 4 chars ≈ 1 token.
const tokensPerChar = 4

// Config parameterizes Chunker (token units).
type Config struct {
	TargetMin     int
	TargetMax     int
	HardMax       int
	MinPreferred  int
	OverlapTokens int
}

// DefaultConfig returns the chunker defaults from the engine configuration.
func DefaultConfig() Config {
	return Config{
		TargetMin:     600,
		TargetMax:     1000,
		HardMax:       1200,
		MinPreferred:  200,
		OverlapTokens: 100,
	}
}

// Leaf is a contiguous character span within a single heading node's own
// content (before its first child).
type Leaf struct {
	LeafID      string
	DocURI      string
	NodeID      string
	HeadingPath string
	ShardID     uint32
	StartChar   int
	EndChar     int
	TextHash    string
	TokenCount  int
}

type atom struct {
	start, end int
	fenced     bool
}

var blankLineSplit = regexp.MustCompile(`\n[ \t]*\n[ \t\n]*`)

func estimateTokens(charCount int) int {
	return charCount / tokensPerChar
}

// ChunkNode cuts one heading node's own content into bounded, fence-safe
// leaves. Inputs→outputs are a pure function of (node, text, fences,
// shardID, cfg): byte-identical across runs.
func ChunkNode(node *HeadingNode, text string, fences *FenceDetector, shardID uint32, cfg Config) []*Leaf {
	start, end := node.OwnContentRange()
	if start >= end || strings.TrimSpace(text[start:end]) == "" {
		return nil
	}

	atoms := buildAtoms(text, fences, start, end)
	if len(atoms) == 0 {
		return nil
	}

	groups := groupAtoms(atoms, cfg.TargetMax)

	leaves := make([]*Leaf, 0, len(groups))
	prevEnd := -1
	for gi, g := range groups {
		chunkStart := atoms[g[0]].start
		chunkEnd := atoms[g[1]-1].end

		if gi > 0 {
			chunkStart = computeOverlapStart(text, fences, chunkStart, prevEnd, cfg.OverlapTokens)
			if chunkStart < atoms[0].start {
				chunkStart = atoms[0].start
			}
		}

		leaves = append(leaves, finalizeLeaf(node, text, shardID, chunkStart, chunkEnd))
		prevEnd = chunkEnd
	}

	return mergeSmallTail(leaves, node, text, shardID, cfg)
}

// buildAtoms partitions [start,end) into atoms: entire fenced regions
// (never split, treated as one atom even if over hardMax) and paragraphs
// separated by blank lines.
func buildAtoms(text string, fences *FenceDetector, start, end int) []atom {
	var atoms []atom
	cursor := start

	for _, region := range fences.Regions() {
		rs, re := region.Start, region.End
		if re <= start || rs >= end {
			continue
		}
		if rs < start {
			rs = start
		}
		if re > end {
			re = end
		}
		if rs > cursor {
			atoms = append(atoms, paragraphAtoms(text, cursor, rs)...)
		}
		atoms = append(atoms, atom{start: rs, end: re, fenced: true})
		cursor = re
	}

	if cursor < end {
		atoms = append(atoms, paragraphAtoms(text, cursor, end)...)
	}

	return atoms
}

func paragraphAtoms(text string, s, e int) []atom {
	seg := text[s:e]
	var atoms []atom
	cursor := 0

	for _, loc := range blankLineSplit.FindAllStringIndex(seg, -1) {
		piece := seg[cursor:loc[0]]
		if ts, te, ok := trimmedOffsets(piece, cursor); ok {
			atoms = append(atoms, atom{start: s + ts, end: s + te})
		}
		cursor = loc[1]
	}

	piece := seg[cursor:]
	if ts, te, ok := trimmedOffsets(piece, cursor); ok {
		atoms = append(atoms, atom{start: s + ts, end: s + te})
	}

	return atoms
}

func trimmedOffsets(piece string, base int) (start, end int, ok bool) {
	if strings.TrimSpace(piece) == "" {
		return 0, 0, false
	}
	lead := len(piece) - len(strings.TrimLeft(piece, " \t\n"))
	trail := len(piece) - len(strings.TrimRight(piece, " \t\n"))
	return base + lead, base + len(piece) - trail, true
}

// groupAtoms greedily accumulates atoms until adding one would push the
// running token estimate above targetMax, then starts a new group.
func groupAtoms(atoms []atom, targetMax int) [][2]int {
	var groups [][2]int
	groupStart := 0
	tokenSum := estimateTokens(atoms[0].end - atoms[0].start)

	for i := 1; i < len(atoms); i++ {
		atomTokens := estimateTokens(atoms[i].end - atoms[i].start)
		if tokenSum+atomTokens > targetMax {
			groups = append(groups, [2]int{groupStart, i})
			groupStart = i
			tokenSum = atomTokens
			continue
		}
		tokenSum += atomTokens
	}
	groups = append(groups, [2]int{groupStart, len(atoms)})

	return groups
}

// computeOverlapStart seeds a new chunk with an overlap region backward
// from the end of the previous chunk, aligned to the nearest prior
// paragraph boundary, falling back to a word boundary, then an exact
// token cut. Overlap never starts inside a fenced atom; a candidate that
// lands inside one snaps forward to the fence's end.
func computeOverlapStart(text string, fences *FenceDetector, naturalStart, prevEnd, overlapTokens int) int {
	if overlapTokens <= 0 || prevEnd < 0 {
		return naturalStart
	}

	candidate := naturalStart - overlapTokens*tokensPerChar
	if candidate < 0 {
		candidate = 0
	}
	if candidate >= naturalStart {
		return naturalStart
	}

	for _, r := range fences.Regions() {
		if r.Start <= candidate && candidate < r.End {
			candidate = r.End
			break
		}
	}
	if candidate >= naturalStart {
		return naturalStart
	}

	if snapped, ok := snapToParagraphBoundary(text, candidate, naturalStart); ok {
		return snapped
	}
	if snapped, ok := snapToWordBoundary(text, candidate, naturalStart); ok {
		return snapped
	}
	return candidate
}

func snapToParagraphBoundary(text string, candidate, limit int) (int, bool) {
	if candidate >= limit {
		return 0, false
	}
	loc := blankLineSplit.FindStringIndex(text[candidate:limit])
	if loc == nil {
		return 0, false
	}
	return candidate + loc[1], true
}

func snapToWordBoundary(text string, candidate, limit int) (int, bool) {
	for i := candidate; i < limit; i++ {
		switch text[i] {
		case ' ', '\t', '\n':
			return i + 1, true
		}
	}
	return 0, false
}

// mergeSmallTail merges the final leaf into its predecessor when the tail
// falls below minPreferred and the merge would not exceed hardMax.
func mergeSmallTail(leaves []*Leaf, node *HeadingNode, text string, shardID uint32, cfg Config) []*Leaf {
	if len(leaves) < 2 {
		return leaves
	}

	last := leaves[len(leaves)-1]
	prev := leaves[len(leaves)-2]
	if last.TokenCount >= cfg.MinPreferred {
		return leaves
	}

	mergedTokens := estimateTokens(last.EndChar - prev.StartChar)
	if mergedTokens > cfg.HardMax {
		return leaves
	}

	merged := finalizeLeaf(node, text, shardID, prev.StartChar, last.EndChar)
	out := make([]*Leaf, len(leaves)-1)
	copy(out, leaves[:len(leaves)-2])
	out[len(out)-1] = merged
	return out
}

func finalizeLeaf(node *HeadingNode, text string, shardID uint32, start, end int) *Leaf {
	slice := text[start:end]
	hash := sha256.Sum256([]byte(slice))
	return &Leaf{
		LeafID:      LeafID(node.DocURI, start, end),
		DocURI:      node.DocURI,
		NodeID:      node.NodeID,
		HeadingPath: node.HeadingPath,
		ShardID:     shardID,
		StartChar:   start,
		EndChar:     end,
		TextHash:    hex.EncodeToString(hash[:]),
		TokenCount:  estimateTokens(end - start),
	}
}
