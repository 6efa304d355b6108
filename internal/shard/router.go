// Package shard assigns documents to shards deterministically so that
// sharding decisions are reproducible across platforms and rebuilds.
package shard

import "hash/fnv"

// Count is the fixed number of shards for v1. All leaves from the same
// document share the same shard.
const Count = 128

// ShardID computes shardId(docUri) = FNV1a32(utf8(docUri)) mod Count. The
// result is bit-identical across platforms: hash/fnv implements the
// algorithm over raw bytes with no locale- or platform-dependent behavior.
func ShardID(docURI string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(docURI))
	return h.Sum32() % Count
}
