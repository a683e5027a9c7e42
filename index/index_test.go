package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PixelPlusUI-SnowCone/external-icing/internal/codec"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/vfs"
)

func mustOpen(t *testing.T, dir vfs.Dir, mergeThreshold int) *Index {
	t.Helper()
	idx, err := Open(dir, codec.JSON{}, nil, nil, mergeThreshold)
	require.NoError(t, err)
	return idx
}

func drain(it *Iterator) []Hit {
	var out []Hit
	for {
		h, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, h)
	}
}

func TestEditAndGetIterator(t *testing.T) {
	idx := mustOpen(t, vfs.NewMemDir(), 1<<20)

	e := idx.Edit(5, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))
	require.NoError(t, e.AddHit("world", 0))

	it := idx.GetIterator("hello", 0, MatchExact)
	hits := drain(it)
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(5), hits[0].DocID)
}

func TestEditor_DedupesWithinDocSection(t *testing.T) {
	idx := mustOpen(t, vfs.NewMemDir(), 1<<20)
	e := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))
	require.NoError(t, e.AddHit("hello", 0))

	it := idx.GetIterator("hello", 0, MatchExact)
	assert.Len(t, drain(it), 1)
}

func TestGetIterator_SectionMask(t *testing.T) {
	idx := mustOpen(t, vfs.NewMemDir(), 1<<20)
	e1 := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e1.AddHit("hello", 0))
	e2 := idx.Edit(2, 1, MatchExact)
	require.NoError(t, e2.AddHit("hello", 0))

	hits := drain(idx.GetIterator("hello", 1<<0, MatchExact))
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(1), hits[0].DocID)
}

func TestGetIterator_Prefix(t *testing.T) {
	idx := mustOpen(t, vfs.NewMemDir(), 1<<20)
	e := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))
	require.NoError(t, e.AddHit("help", 0))
	require.NoError(t, e.AddHit("world", 0))

	hits := drain(idx.GetIterator("hel", 0, MatchPrefix))
	assert.Len(t, hits, 2)
}

func TestMerge_DrainsLiteIntoMain(t *testing.T) {
	dir := vfs.NewMemDir()
	idx := mustOpen(t, dir, 1<<20)
	e := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))

	require.NoError(t, idx.Merge(nil))
	assert.Equal(t, 0, idx.lite.NumHits())

	hits := drain(idx.GetIterator("hello", 0, MatchExact))
	require.Len(t, hits, 1)
	assert.Equal(t, uint32(1), hits[0].DocID)
}

func TestMergeTriggeredByThreshold(t *testing.T) {
	idx := mustOpen(t, vfs.NewMemDir(), 1) // merge after the very first hit
	e := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))
	assert.Equal(t, 0, idx.lite.NumHits())
}

func TestReopen_RestoresLexiconAndMain(t *testing.T) {
	dir := vfs.NewMemDir()
	idx := mustOpen(t, dir, 1<<20)
	e := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))
	require.NoError(t, idx.Merge(nil))

	reopened := mustOpen(t, dir, 1<<20)
	hits := drain(reopened.GetIterator("hello", 0, MatchExact))
	require.Len(t, hits, 1)
	assert.Equal(t, int64(1), reopened.LastAddedDocumentID())
}

func TestDeleteDoc_RemovesFromLiteTier(t *testing.T) {
	idx := mustOpen(t, vfs.NewMemDir(), 1<<20)
	e := idx.Edit(1, 0, MatchExact)
	require.NoError(t, e.AddHit("hello", 0))

	idx.DeleteDoc(1)
	hits := drain(idx.GetIterator("hello", 0, MatchExact))
	assert.Empty(t, hits)
}
