// Package lite is the in-memory, mutable tier of the index: an
// append-only hit buffer keyed by term-id, bounded by a byte budget the
// facade watches to decide when to merge into the main tier. Term-ids are
// assigned by the index facade, which owns the lexicon.
//
// Deletion scans the buffer for documents recorded in a doc-id bitset,
// and reads return sorted copies of the buffered hits; each hit carries a
// section-id and score alongside the document-id.
package lite

import (
	"sort"

	"github.com/PixelPlusUI-SnowCone/external-icing/internal/bitset"
)

// Hit is one (document, section, score) occurrence of a term.
type Hit struct {
	DocID     uint32
	SectionID uint8
	Score     int32
}

// bytesPerHit is the approximate main-tier varint encoding cost used to
// track buffer.bytes_written against options.index_merge_size;
// it doesn't need to be exact, only monotonic with the buffer's real size.
const bytesPerHit = 6

// Index is the lite tier for one index_dir.
type Index struct {
	hits         map[uint32][]Hit
	docs         *bitset.Sparse
	bytesWritten int
}

// New creates an empty lite index.
func New() *Index {
	return &Index{hits: make(map[uint32][]Hit), docs: bitset.NewSparse(0)}
}

// BytesWritten reports the buffer's approximate size, compared against
// options.index_merge_size by the facade.
func (idx *Index) BytesWritten() int { return idx.bytesWritten }

// NumHits reports the total number of buffered hits, for tests and stats.
func (idx *Index) NumHits() int {
	n := 0
	for _, hits := range idx.hits {
		n += len(hits)
	}
	return n
}

// Insert appends a hit under termID, returning the number of bytes it
// added to BytesWritten.
func (idx *Index) Insert(termID uint32, hit Hit) int {
	idx.hits[termID] = append(idx.hits[termID], hit)
	idx.docs.Add(hit.DocID)
	idx.bytesWritten += bytesPerHit
	return bytesPerHit
}

// Hits returns the buffered hits for termID, sorted newest-document-first
// then ascending section-id (the posting-list ordering), or nil if
// termID has no buffered hits.
func (idx *Index) Hits(termID uint32) []Hit {
	hits := idx.hits[termID]
	if len(hits) == 0 {
		return nil
	}
	out := make([]Hit, len(hits))
	copy(out, hits)
	sort.Slice(out, func(i, j int) bool {
		if out[i].DocID != out[j].DocID {
			return out[i].DocID > out[j].DocID
		}
		return out[i].SectionID < out[j].SectionID
	})
	return out
}

// AllHits returns every buffered term-id's hits, used by the facade to
// drain the lite index into the main tier during a merge.
func (idx *Index) AllHits() map[uint32][]Hit {
	out := make(map[uint32][]Hit, len(idx.hits))
	for termID := range idx.hits {
		out[termID] = idx.Hits(termID)
	}
	return out
}

// DeleteDoc removes every hit belonging to docID, used when a document is
// deleted before its hits ever reach the main tier.
func (idx *Index) DeleteDoc(docID uint32) {
	if !idx.docs.Contains(docID) {
		return
	}
	for termID, hits := range idx.hits {
		n := 0
		for _, h := range hits {
			if h.DocID != docID {
				hits[n] = h
				n++
			}
		}
		idx.hits[termID] = hits[:n]
	}
	idx.docs.Remove(docID)
}

// Reset clears the buffer after a successful merge into the main tier.
func (idx *Index) Reset() {
	idx.hits = make(map[uint32][]Hit)
	idx.docs = bitset.NewSparse(0)
	idx.bytesWritten = 0
}
