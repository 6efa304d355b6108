package search

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Aman-CERP/msrl/internal/markdown"
)

// DefaultMaxExcerptChars is the default excerpt length cap.
const DefaultMaxExcerptChars = 2000

// Excerpt is the text slice returned for a merged span, plus whether it
// was truncated. Callers preserve the original start/end offsets even
// when truncated is true.
type Excerpt struct {
	Text      string
	Truncated bool
}

// ExcerptExtractor reads source files (cached by docUri) and slices out
// the requested character range, truncating long excerpts at the latest
// space boundary within [0.5*max, max].
type ExcerptExtractor struct {
	MaxExcerptChars int

	mu    sync.Mutex
	cache map[string]string
}

// NewExcerptExtractor returns an ExcerptExtractor with the given max
// excerpt length (DefaultMaxExcerptChars if maxExcerptChars <= 0).
func NewExcerptExtractor(maxExcerptChars int) *ExcerptExtractor {
	if maxExcerptChars <= 0 {
		maxExcerptChars = DefaultMaxExcerptChars
	}
	return &ExcerptExtractor{
		MaxExcerptChars: maxExcerptChars,
		cache:           make(map[string]string),
	}
}

func (e *ExcerptExtractor) readFile(path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if text, ok := e.cache[path]; ok {
		return text, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	text := markdown.Normalize(data)
	e.cache[path] = text
	return text, nil
}

// Invalidate drops a cached file's contents, forcing the next Extract to
// re-read it from disk.
func (e *ExcerptExtractor) Invalidate(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cache, path)
}

// Extract reads path (cached across calls, normalized with
// markdown.Normalize so offsets match the indexed text), slices the byte
// range [startChar, endChar), and truncates to MaxExcerptChars at the
// latest space position within [0.5*max, max] if the slice exceeds the cap.
func (e *ExcerptExtractor) Extract(path string, startChar, endChar int) (Excerpt, error) {
	text, err := e.readFile(path)
	if err != nil {
		return Excerpt{}, err
	}

	if startChar < 0 {
		startChar = 0
	}
	if endChar > len(text) {
		endChar = len(text)
	}
	if startChar > endChar {
		startChar = endChar
	}

	slice := text[startChar:endChar]
	if len(slice) <= e.MaxExcerptChars {
		return Excerpt{Text: slice, Truncated: false}, nil
	}

	max := e.MaxExcerptChars
	min := max / 2
	cut := strings.LastIndex(slice[:max], " ")
	if cut < min {
		cut = max
	}

	return Excerpt{Text: slice[:cut], Truncated: true}, nil
}
