// Package maintier is the immutable, on-disk tier of the index: a
// persistent lexicon mapping term-id to a posting list, and an arena of
// variable-byte, delta-compressed posting lists.
//
// The encoding delta-compresses doc-id gaps per posting list through the
// internal/varint codec; a single term's postings are small enough to
// live in one contiguous byte run per term-id, so there is no need for
// block-allocator machinery on top.
package maintier

import (
	"sort"

	"github.com/PixelPlusUI-SnowCone/external-icing/index/lite"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/varint"
)

// postingEntry is one decoded hit, reusing the lite tier's Hit shape so
// callers don't need two hit types.
type postingEntry = lite.Hit

// Index is an immutable snapshot of the main tier.
type Index struct {
	// postings holds, per term-id, the variable-byte+delta encoded posting
	// list, newest-document-first.
	postings map[uint32][]byte
	// numDocs is the number of distinct documents every posting list was
	// built against, used for stats only.
	numDocs int
}

// Empty returns an empty main index.
func Empty() *Index {
	return &Index{postings: make(map[uint32][]byte)}
}

// Hits decodes and returns the posting list for termID, newest-document
// first, ascending section-id within a document.
func (idx *Index) Hits(termID uint32) []lite.Hit {
	data := idx.postings[termID]
	if len(data) == 0 {
		return nil
	}
	return decode(data)
}

// HasTerm reports whether termID has any postings in this tier.
func (idx *Index) HasTerm(termID uint32) bool {
	_, ok := idx.postings[termID]
	return ok
}

// NumDocs reports how many documents contributed to this snapshot.
func (idx *Index) NumDocs() int { return idx.numDocs }

// Build rebuilds a main index from scratch, merging the previous main
// index's postings (if any) with a set of freshly drained lite-index hits
// and a tombstone set of document-ids to drop, per the Merge()
// ("drains the lite index into a new main index").
func Build(prev *Index, liteHits map[uint32][]lite.Hit, deletedDocs map[uint32]bool) *Index {
	merged := make(map[uint32][]lite.Hit)

	if prev != nil {
		for termID, data := range prev.postings {
			hits := decode(data)
			merged[termID] = append(merged[termID], filterDeleted(hits, deletedDocs)...)
		}
	}
	for termID, hits := range liteHits {
		merged[termID] = append(merged[termID], filterDeleted(hits, deletedDocs)...)
	}

	out := &Index{postings: make(map[uint32][]byte, len(merged))}
	seenDocs := make(map[uint32]bool)
	for termID, hits := range merged {
		sort.Slice(hits, func(i, j int) bool {
			if hits[i].DocID != hits[j].DocID {
				return hits[i].DocID > hits[j].DocID
			}
			return hits[i].SectionID < hits[j].SectionID
		})
		out.postings[termID] = encode(hits)
		for _, h := range hits {
			seenDocs[h.DocID] = true
		}
	}
	out.numDocs = len(seenDocs)
	return out
}

func filterDeleted(hits []lite.Hit, deleted map[uint32]bool) []lite.Hit {
	if len(deleted) == 0 {
		return hits
	}
	out := make([]lite.Hit, 0, len(hits))
	for _, h := range hits {
		if !deleted[h.DocID] {
			out = append(out, h)
		}
	}
	return out
}

// encode delta-compresses a newest-document-first hit slice: each entry is
// (docIDGap, sectionID, zigzag(score)) as successive uvarints, where
// docIDGap is the (non-negative) difference from the previous entry's
// document-id.
func encode(hits []lite.Hit) []byte {
	buf := make([]byte, 0, len(hits)*varint.MaxUint32Len*3)
	tmp := make([]byte, varint.MaxUint32Len)
	put := func(x uint32) {
		n := varint.PutUvarint32(tmp, x)
		buf = append(buf, tmp[:n]...)
	}

	var prevDocID uint32
	first := true
	for _, h := range hits {
		var gap uint32
		if first {
			gap = h.DocID
			first = false
		} else {
			gap = prevDocID - h.DocID
		}
		prevDocID = h.DocID
		put(gap)
		put(uint32(h.SectionID))
		put(zigzagEncode(h.Score))
	}
	return buf
}

func decode(data []byte) []lite.Hit {
	var hits []lite.Hit
	var docID uint32
	first := true
	for len(data) > 0 {
		gap, n := varint.Uvarint32(data)
		data = data[n:]
		sectionID, n := varint.Uvarint32(data)
		data = data[n:]
		score, n := varint.Uvarint32(data)
		data = data[n:]

		if first {
			docID = gap
			first = false
		} else {
			docID -= gap
		}
		hits = append(hits, lite.Hit{DocID: docID, SectionID: uint8(sectionID), Score: zigzagDecode(score)})
	}
	return hits
}

func zigzagEncode(v int32) uint32 {
	return uint32((v << 1) ^ (v >> 31))
}

func zigzagDecode(v uint32) int32 {
	return int32(v>>1) ^ -int32(v&1)
}
