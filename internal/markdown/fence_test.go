package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFences_SimpleFence(t *testing.T) {
	text := "intro\n```go\ncode here\n```\noutro\n"

	d := DetectFences(text)

	require.Len(t, d.Regions(), 1)
	region := d.Regions()[0]
	assert.Equal(t, "go", region.Lang)
	assert.Equal(t, "```go\ncode here\n```", text[region.Start:region.End])
}

func TestDetectFences_UnclosedExtendsToEOF(t *testing.T) {
	text := "before\n```\nno closing fence\nmore text\n"

	d := DetectFences(text)

	require.Len(t, d.Regions(), 1)
	assert.Equal(t, len(text), d.Regions()[0].End)
}

func TestDetectFences_ClosingRequiresEqualOrGreaterLength(t *testing.T) {
	text := "````\ncode\n```\nstill inside\n````\nafter\n"

	d := DetectFences(text)

	require.Len(t, d.Regions(), 1)
	want := "````\ncode\n```\nstill inside\n````"
	assert.Equal(t, want, text[d.Regions()[0].Start:d.Regions()[0].End])
}

func TestDetectFences_TildeFence(t *testing.T) {
	text := "~~~python\nprint(1)\n~~~\n"

	d := DetectFences(text)

	require.Len(t, d.Regions(), 1)
	assert.Equal(t, "python", d.Regions()[0].Lang)
}

func TestDetectFences_Contains(t *testing.T) {
	text := "a\n```\nfenced\n```\nb\n"
	d := DetectFences(text)

	fenceStart := len("a\n")
	assert.True(t, d.Contains(fenceStart))
	assert.False(t, d.Contains(0))
}

func TestDetectFences_IndentedCodeBlockIsNotAFence(t *testing.T) {
	text := "    ```\n    not a fence, too indented\n"

	d := DetectFences(text)

	assert.Empty(t, d.Regions())
}
