package embed

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Embed_ReturnsDimensions(t *testing.T) {
	e := NewStaticEmbedder()
	vec, _, err := e.Embed(context.Background(), "hello world")
	require.NoError(t, err)
	assert.Len(t, vec, Dimensions)
}

func TestStaticEmbedder_Embed_IsL2Normalized(t *testing.T) {
	e := NewStaticEmbedder()
	vec, _, err := e.Embed(context.Background(), "the quick brown fox jumps over the lazy dog")
	require.NoError(t, err)

	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSquares)
	assert.InDelta(t, 1.0, norm, 1e-6)
}

func TestStaticEmbedder_Embed_EmptyTextReturnsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()
	vec, tokens, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, 0, tokens)
	for _, v := range vec {
		assert.Equal(t, float32(0), v)
	}
}

func TestStaticEmbedder_Embed_DeterministicAcrossCalls(t *testing.T) {
	e := NewStaticEmbedder()
	a, _, err := e.Embed(context.Background(), "deterministic text")
	require.NoError(t, err)
	b, _, err := e.Embed(context.Background(), "deterministic text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestStaticEmbedder_EmbedBatch_MatchesSequentialEmbed(t *testing.T) {
	e := NewStaticEmbedder()
	texts := []string{"first chunk", "second chunk", "third chunk"}

	batch, err := e.EmbedBatch(context.Background(), texts, 2)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, _, err := e.Embed(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestStaticEmbedder_CountTokens_ApproximatesLengthOverFour(t *testing.T) {
	e := NewStaticEmbedder()
	text := "12345678" // 8 chars
	assert.Equal(t, 2, e.CountTokens(text))
}

func TestStaticEmbedder_CountTokens_TruncatesAtMaxSequenceLength(t *testing.T) {
	e := NewStaticEmbedder()
	long := make([]byte, (MaxSequenceLength+500)*4)
	for i := range long {
		long[i] = 'a'
	}

	tokens := e.CountTokens(string(long))
	assert.LessOrEqual(t, tokens, MaxSequenceLength)
}

func TestStaticEmbedder_Close_MarksClosed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, _, err := e.Embed(context.Background(), "text")
	assert.Error(t, err)
}

func TestSplitCamelCase_HandlesAcronyms(t *testing.T) {
	assert.Equal(t, []string{"HTTP", "Server"}, splitCamelCase("HTTPServer"))
	assert.Equal(t, []string{"get", "User", "ID"}, splitCamelCase("getUserID"))
}
