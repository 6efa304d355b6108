package shard

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShardID_DeterministicForSameURI(t *testing.T) {
	a := ShardID("vault/notes/project.md")
	b := ShardID("vault/notes/project.md")
	assert.Equal(t, a, b)
}

func TestShardID_WithinRange(t *testing.T) {
	for _, uri := range []string{"a.md", "vault/b.md", "x/y/z.md", ""} {
		id := ShardID(uri)
		assert.Less(t, id, uint32(Count))
	}
}

func TestShardID_KnownVector(t *testing.T) {
	// FNV-1a 32-bit of "vault/a.md" is 0x0b83fe6e and of "vault/b.md" is
	// 0x7a18fc31, computed independently; mod 128 that is 110 and 49.
	assert.Equal(t, uint32(110), ShardID("vault/a.md"))
	assert.Equal(t, uint32(49), ShardID("vault/b.md"))
	assert.Equal(t, ShardID("vault/a.md"), ShardID("vault/a.md"))
	assert.NotEqual(t, ShardID("vault/a.md"), ShardID("vault/b.md"))
}
