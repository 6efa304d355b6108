package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMSRLError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := Wrap(KindIOError, originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, originalErr, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, originalErr))
}

func TestMSRLError_Error_ReturnsFormattedMessage(t *testing.T) {
	err := New(KindNotFound, "notes/a.md not found")
	assert.Equal(t, "[NOT_FOUND] notes/a.md not found", err.Error())
}

func TestMSRLError_Is_MatchesByKind(t *testing.T) {
	err1 := New(KindNotFound, "a")
	err2 := New(KindNotFound, "b")
	assert.True(t, errors.Is(err1, err2))

	err3 := New(KindIOError, "c")
	assert.False(t, errors.Is(err1, err3))
}

func TestMSRLError_WithDetail_AddsContext(t *testing.T) {
	err := New(KindInvalidArgument, "bad topK").
		WithDetail("field", "topK").
		WithDetail("value", "0")

	assert.Equal(t, "topK", err.Details["field"])
	assert.Equal(t, "0", err.Details["value"])
}

func TestInvalidArgument_PopulatesStandardFields(t *testing.T) {
	err := InvalidArgument("topK", "-1", "must be in [1, maxTopK]")

	assert.Equal(t, KindInvalidArgument, err.Kind)
	assert.Equal(t, "topK", err.Details["field"])
	assert.Equal(t, "-1", err.Details["value"])
}

func TestIndexBusy_CarriesBuildStartTime(t *testing.T) {
	err := IndexBusy("2026-08-03T10:00:00Z")
	assert.Equal(t, "2026-08-03T10:00:00Z", err.Details["currentBuildStartedAt"])
}

func TestIndexCorrupt_CarriesSnapshotDetails(t *testing.T) {
	err := IndexCorrupt("snap-1", "manifest hash mismatch", []string{"shards/shard_003.ann"})

	assert.Equal(t, "snap-1", err.Details["snapshotId"])
	assert.Contains(t, err.Details["missingFiles"], "shard_003.ann")
}

func TestGetKind_UnwrapsChain(t *testing.T) {
	base := New(KindNotIndexed, "no snapshot")
	wrapped := fmt.Errorf("outer: %w", base)

	assert.Equal(t, KindNotIndexed, GetKind(base))
	assert.Equal(t, KindNotIndexed, GetKind(wrapped))
	assert.Equal(t, "", GetKind(errors.New("plain")))
	assert.Equal(t, "", GetKind(nil))
}

func TestInternal_WrapsUnexpectedError(t *testing.T) {
	cause := errors.New("boom")
	err := Internal(cause)

	assert.Equal(t, KindInternal, err.Kind)
	assert.Equal(t, cause, err.Cause)
}
