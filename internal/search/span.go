package search

import "sort"

// DefaultGapThreshold is the default character gap within which two spans
// in the same document are merged (0 = pure overlap/adjacency only).
const DefaultGapThreshold = 0

// SpanCandidate is one scored leaf span prior to merging.
type SpanCandidate struct {
	LeafID    string
	DocURI    string
	StartChar int
	EndChar   int
	Score     float64
}

// MergedSpan is the result of merging overlapping/adjacent spans within a
// document: the union of their ranges, the max of their scores, and the
// union of the contributing leafIds (in merge order).
type MergedSpan struct {
	DocURI    string
	StartChar int
	EndChar   int
	Score     float64
	LeafIDs   []string
}

// SpanMerger groups candidates by document, sorts by start offset, and
// merges runs whose gap does not exceed GapThreshold.
type SpanMerger struct {
	GapThreshold int
}

// NewSpanMerger returns a SpanMerger using the given gap threshold.
func NewSpanMerger(gapThreshold int) *SpanMerger {
	return &SpanMerger{GapThreshold: gapThreshold}
}

// Merge groups candidates by DocURI, sorts each group by StartChar, and
// merges adjacent/overlapping spans within GapThreshold. The returned
// spans are sorted by Score descending across all documents.
func (m *SpanMerger) Merge(candidates []SpanCandidate) []MergedSpan {
	byDoc := make(map[string][]SpanCandidate)
	for _, c := range candidates {
		byDoc[c.DocURI] = append(byDoc[c.DocURI], c)
	}

	var out []MergedSpan
	for docURI, group := range byDoc {
		sort.Slice(group, func(i, j int) bool {
			return group[i].StartChar < group[j].StartChar
		})

		var current *MergedSpan
		for _, c := range group {
			if current != nil && c.StartChar <= current.EndChar+m.GapThreshold {
				if c.EndChar > current.EndChar {
					current.EndChar = c.EndChar
				}
				if c.Score > current.Score {
					current.Score = c.Score
				}
				current.LeafIDs = append(current.LeafIDs, c.LeafID)
				continue
			}

			if current != nil {
				out = append(out, *current)
			}
			current = &MergedSpan{
				DocURI:    docURI,
				StartChar: c.StartChar,
				EndChar:   c.EndChar,
				Score:     c.Score,
				LeafIDs:   []string{c.LeafID},
			}
		}
		if current != nil {
			out = append(out, *current)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}
