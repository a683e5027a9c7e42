package lite

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsertAndHits(t *testing.T) {
	idx := New()
	idx.Insert(1, Hit{DocID: 5, SectionID: 0})
	idx.Insert(1, Hit{DocID: 7, SectionID: 1})
	idx.Insert(1, Hit{DocID: 7, SectionID: 0})

	hits := idx.Hits(1)
	require := assert.New(t)
	require.Len(hits, 3)
	// newest document-id first, then ascending section-id
	require.Equal(uint32(7), hits[0].DocID)
	require.Equal(uint8(0), hits[0].SectionID)
	require.Equal(uint32(7), hits[1].DocID)
	require.Equal(uint8(1), hits[1].SectionID)
	require.Equal(uint32(5), hits[2].DocID)
}

func TestBytesWritten(t *testing.T) {
	idx := New()
	assert.Equal(t, 0, idx.BytesWritten())
	idx.Insert(1, Hit{DocID: 1})
	assert.Equal(t, bytesPerHit, idx.BytesWritten())
	idx.Insert(2, Hit{DocID: 1})
	assert.Equal(t, 2*bytesPerHit, idx.BytesWritten())
}

func TestDeleteDoc(t *testing.T) {
	idx := New()
	idx.Insert(1, Hit{DocID: 5})
	idx.Insert(2, Hit{DocID: 5})
	idx.Insert(2, Hit{DocID: 6})

	idx.DeleteDoc(5)
	assert.Empty(t, idx.Hits(1))
	hits := idx.Hits(2)
	assert.Len(t, hits, 1)
	assert.Equal(t, uint32(6), hits[0].DocID)
}

func TestReset(t *testing.T) {
	idx := New()
	idx.Insert(1, Hit{DocID: 1})
	idx.Reset()
	assert.Equal(t, 0, idx.BytesWritten())
	assert.Equal(t, 0, idx.NumHits())
}

func TestAllHits(t *testing.T) {
	idx := New()
	idx.Insert(1, Hit{DocID: 1})
	idx.Insert(2, Hit{DocID: 2})
	all := idx.AllHits()
	assert.Len(t, all, 2)
}
