package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// programmingStopWords contains common prose/programming filler words to
// filter out before hashing, so the static vector is driven by content
// words rather than boilerplate.
var programmingStopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "is": true, "it": true, "this": true, "that": true,
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true, "null": true,
}

// Weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// tokenRegex matches alphanumeric sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// StaticEmbedder generates deterministic, hash-based 1024-dimensional
// embeddings without any model file, network call, or GPU. It trades
// semantic quality for a fully offline, reproducible baseline that
// satisfies the Embedder contract exactly, including L2 normalization.
type StaticEmbedder struct {
	mu     sync.RWMutex
	closed bool
}

// NewStaticEmbedder creates a static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{}
}

// Embed generates the embedding for a single text and its approximate
// token count (the static embedder never loads a real tokenizer).
func (e *StaticEmbedder) Embed(ctx context.Context, text string) (Vector, int, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, 0, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	truncated := truncateToSequenceLength(text)
	trimmed := strings.TrimSpace(truncated)
	if trimmed == "" {
		return make(Vector, Dimensions), 0, nil
	}

	vector := e.generateVector(trimmed)
	return normalizeVector(vector), approximateTokenCount(trimmed), nil
}

// truncateToSequenceLength truncates text so its approximate token count
// does not exceed MaxSequenceLength.
func truncateToSequenceLength(text string) string {
	maxChars := MaxSequenceLength * 4
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars]
}

// generateVector creates a hash-based vector from text: tokens hashed
// into buckets at tokenWeight, character n-grams at ngramWeight.
func (e *StaticEmbedder) generateVector(text string) []float32 {
	vector := make([]float32, Dimensions)

	tokens := tokenize(text)
	tokens = filterStopWords(tokens)
	for _, token := range tokens {
		index := hashToIndex(token, Dimensions)
		vector[index] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	ngrams := extractNgrams(normalized, ngramSize)
	for _, ngram := range ngrams {
		index := hashToIndex(ngram, Dimensions)
		vector[index] += ngramWeight
	}

	return vector
}

// EmbedBatch embeds texts in groups of batchSize, producing results
// numerically equal to sequential Embed calls (the static embedder has no
// cross-text batching optimization to diverge from that).
func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([]Vector, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return []Vector{}, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	results := make([]Vector, len(texts))
	for i, text := range texts {
		vec, _, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = vec
	}
	return results, nil
}

// CountTokens returns the approximation ⌈len/4⌉ (no tokenizer is loaded).
func (e *StaticEmbedder) CountTokens(text string) int {
	return approximateTokenCount(truncateToSequenceLength(text))
}

// ModelName identifies this embedder in snapshot manifests.
func (e *StaticEmbedder) ModelName() string {
	return "static-1024"
}

// Close marks the embedder closed.
func (e *StaticEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// tokenize splits text into lowercase tokens, splitting camelCase and
// snake_case identifiers.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			lower := strings.ToLower(t)
			if lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

func splitCodeToken(token string) []string {
	var result []string
	if strings.Contains(token, "_") {
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamelCase(part)...)
			}
		}
		return result
	}
	return splitCamelCase(token)
}

func splitCamelCase(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !programmingStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

func extractNgrams(text string, n int) []string {
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
