package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ref(hash string, at time.Time) ImageRef {
	return ImageRef{Key: "sha256/" + hash, ContentHash: hash, SizeBytes: 1, CapturedAt: at}
}

func hashes(refs []ImageRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.ContentHash)
	}
	return out
}

func TestMergeImages_DedupByHash(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	existing := []ImageRef{ref("a", now), ref("b", now)}
	incoming := []ImageRef{ref("b", now.Add(time.Hour)), ref("c", now.Add(time.Hour)), ref("c", now)}

	merged, added := MergeImages(existing, incoming, 0)

	assert.Equal(t, []string{"a", "b", "c"}, hashes(merged))
	assert.Equal(t, []string{"c"}, hashes(added))
	// existing ref is kept untouched
	assert.Equal(t, now, merged[1].CapturedAt)
}

func TestMergeImages_Idempotent(t *testing.T) {
	now := time.Now().UTC()
	existing := []ImageRef{ref("a", now)}

	merged, added := MergeImages(existing, existing, 10)

	assert.Equal(t, existing, merged)
	assert.Empty(t, added)
}

func TestMergeImages_EvictsOldestBeyondCap(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := []ImageRef{ref("old", base), ref("mid", base.Add(2*time.Hour)), ref("tie", base.Add(time.Hour))}
	incoming := []ImageRef{ref("new", base.Add(3*time.Hour)), ref("older", base.Add(-time.Hour))}

	merged, added := MergeImages(existing, incoming, 3)

	require.Len(t, merged, 3)
	assert.Equal(t, []string{"mid", "tie", "new"}, hashes(merged))
	assert.Equal(t, []string{"new"}, hashes(added))
}

func TestMergeImages_UnionIsOrderIndependent(t *testing.T) {
	now := time.Now().UTC()
	var a, b []ImageRef
	for i := 0; i < 5; i++ {
		a = append(a, ref(fmt.Sprintf("a%d", i), now))
		b = append(b, ref(fmt.Sprintf("b%d", i), now))
	}
	b = append(b, a[0])

	ab, _ := MergeImages(nil, a, 0)
	ab, _ = MergeImages(ab, b, 0)
	ba, _ := MergeImages(nil, b, 0)
	ba, _ = MergeImages(ba, a, 0)

	assert.ElementsMatch(t, hashes(ab), hashes(ba))
	assert.Len(t, ab, 10)
}

func TestCursorState_Pending(t *testing.T) {
	state := &CursorState{SubscriptionID: "sub"}
	state.UpsertPending(PendingEntry{Entry: FeedEntry{PropertyID: "1"}, Attempts: 1})
	state.UpsertPending(PendingEntry{Entry: FeedEntry{PropertyID: "2"}, Attempts: 1})
	state.UpsertPending(PendingEntry{Entry: FeedEntry{PropertyID: "1"}, Attempts: 2})

	require.Len(t, state.Pending, 2)
	assert.Equal(t, 2, state.Pending[0].Attempts)

	clone := state.Clone()
	state.RemovePending("1")
	assert.Len(t, state.Pending, 1)
	assert.Len(t, clone.Pending, 2)
}
