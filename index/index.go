// Package index is the index facade: it owns the lite and
// main tiers, a shared term-id codec so both tiers address the same term
// with the same id, and the editor/iterator surface the document store
// and query pipeline drive.
//
// The commit/merge shape is a mutex-guarded struct that applies edits
// directly, since there is only ever one writer, but still stages a
// merge privately and publishes its manifest atomically on success.
package index

import (
	"encoding/json"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PixelPlusUI-SnowCone/external-icing/index/lite"
	"github.com/PixelPlusUI-SnowCone/external-icing/index/maintier"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/codec"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/vfs"
	"github.com/PixelPlusUI-SnowCone/external-icing/metrics"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

const (
	lexiconFilename = "term_lexicon"
	mainFilename    = "main_index"
	headerFilename  = "index_header"
)

// MatchType selects how GetIterator and the editor interpret a term
// string.
type MatchType int

const (
	MatchExact MatchType = iota
	MatchPrefix
)

// Hit is a (document, section, score) occurrence returned by an iterator,
// re-exported from the lite tier since both tiers and the facade share one
// shape.
type Hit = lite.Hit

type persistedHeader struct {
	Checksum           uint32 `json:"checksum"`
	LastAddedDocumentID int64  `json:"last_added_document_id"`
}

// Index is the index facade for one index_dir.
type Index struct {
	mu sync.Mutex

	dir     vfs.Dir
	codec   codec.Codec
	log     logrus.FieldLogger
	metrics *metrics.Metrics

	mergeThresholdBytes int

	termToID map[string]uint32
	idToTerm []string

	lite *lite.Index
	main *maintier.Index

	lastAddedDocumentID int64 // -1 means none yet
}

// Open loads an index rooted at dir, creating an empty one if none exists.
// mergeThresholdBytes is options.index_merge_size.
func Open(dir vfs.Dir, c codec.Codec, m *metrics.Metrics, log logrus.FieldLogger, mergeThresholdBytes int) (*Index, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	idx := &Index{
		dir:                 dir,
		codec:               c,
		log:                 log,
		metrics:             m,
		mergeThresholdBytes: mergeThresholdBytes,
		termToID:            make(map[string]uint32),
		lite:                lite.New(),
		main:                maintier.Empty(),
		lastAddedDocumentID: -1,
	}

	lexiconData, err := vfs.ReadFile(dir, lexiconFilename)
	if err != nil {
		if vfs.IsNotExist(err) {
			return idx, nil
		}
		return nil, status.Wrap(status.Internal, err, "reading term_lexicon")
	}
	var terms []string
	if err := json.Unmarshal(lexiconData, &terms); err != nil {
		return nil, status.Wrap(status.Internal, err, "decoding term_lexicon")
	}
	idx.idToTerm = terms
	for id, term := range terms {
		idx.termToID[term] = uint32(id)
	}

	mainData, err := vfs.ReadFile(dir, mainFilename)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "reading main_index")
	}
	var persistedMain map[uint32][]lite.Hit
	if err := c.Unmarshal(mainData, &persistedMain); err != nil {
		return nil, status.Wrap(status.Internal, err, "decoding main_index")
	}
	idx.main = maintier.Build(nil, persistedMain, nil)

	headerData, err := vfs.ReadFile(dir, headerFilename)
	if err == nil {
		var header persistedHeader
		if c.Unmarshal(headerData, &header) == nil {
			idx.lastAddedDocumentID = header.LastAddedDocumentID
		}
	}

	return idx, nil
}

// LastAddedDocumentID returns the highest document-id ever indexed, or -1
// if none, used by the engine controller's cross-validation against the
// document store.
func (idx *Index) LastAddedDocumentID() int64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.lastAddedDocumentID
}

func (idx *Index) internTerm(term string) uint32 {
	if id, ok := idx.termToID[term]; ok {
		return id
	}
	id := uint32(len(idx.idToTerm))
	idx.idToTerm = append(idx.idToTerm, term)
	idx.termToID[term] = id
	return id
}

func (idx *Index) termsWithPrefix(prefix string) []uint32 {
	var ids []uint32
	for term, id := range idx.termToID {
		if strings.HasPrefix(term, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Editor accumulates hits for one (document, section) pair.
type Editor struct {
	idx       *Index
	docID     uint32
	sectionID uint8
	matchType MatchType
	seen      map[uint32]bool
}

// Edit starts an editor for (documentID, sectionID). matchType records how
// the caller intends terms in this section to be looked up at query time;
// it does not change how hits are stored.
func (idx *Index) Edit(documentID uint32, sectionID uint8, matchType MatchType) *Editor {
	return &Editor{idx: idx, docID: documentID, sectionID: sectionID, matchType: matchType, seen: make(map[uint32]bool)}
}

// AddHit records one term occurrence, deduplicating repeated terms within
// the same (document, section) (the editor invariant). term should
// already be truncated to max_token_length by the caller; indexing
// quietly accepts whatever it's given.
func (e *Editor) AddHit(term string, score int32) error {
	e.idx.mu.Lock()
	defer e.idx.mu.Unlock()

	termID := e.idx.internTerm(term)
	if e.seen[termID] {
		return nil
	}
	e.seen[termID] = true

	e.idx.lite.Insert(termID, lite.Hit{DocID: e.docID, SectionID: e.sectionID, Score: score})

	if int64(e.docID) > e.idx.lastAddedDocumentID {
		e.idx.lastAddedDocumentID = int64(e.docID)
	}

	if e.idx.metrics != nil {
		e.idx.metrics.LiteIndexBytes.Set(float64(e.idx.lite.BytesWritten()))
	}

	if e.idx.lite.BytesWritten() >= e.idx.mergeThresholdBytes {
		if err := e.idx.merge(nil); err != nil {
			return err
		}
	}

	return nil
}

// DeleteDoc removes documentID's hits from the lite tier; hits already
// folded into the main tier stay there until a Merge whose deletedDocs
// names documentID, or a rebuild of the index, drops them.
func (idx *Index) DeleteDoc(documentID uint32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.lite.DeleteDoc(documentID)
}

// Iterator yields hits in descending document-id order.
type Iterator struct {
	hits []Hit
	pos  int
}

// Next advances the iterator, returning false when exhausted.
func (it *Iterator) Next() (Hit, bool) {
	if it.pos >= len(it.hits) {
		return Hit{}, false
	}
	h := it.hits[it.pos]
	it.pos++
	return h, true
}

// GetIterator looks up term exactly or by prefix depending on matchType,
// merges main-tier and lite-tier hits, and keeps only hits whose
// section-id bit is set in sectionMask; a zero sectionMask keeps every hit.
func (idx *Index) GetIterator(term string, sectionMask uint16, matchType MatchType) *Iterator {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var termIDs []uint32
	if matchType == MatchPrefix {
		termIDs = idx.termsWithPrefix(term)
	} else if id, ok := idx.termToID[term]; ok {
		termIDs = []uint32{id}
	}

	var all []Hit
	for _, id := range termIDs {
		all = append(all, idx.main.Hits(id)...)
		all = append(all, idx.lite.Hits(id)...)
	}

	filtered := make([]Hit, 0, len(all))
	for _, h := range all {
		if sectionMask == 0 || sectionMask&(1<<h.SectionID) != 0 {
			filtered = append(filtered, h)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].DocID != filtered[j].DocID {
			return filtered[i].DocID > filtered[j].DocID
		}
		return filtered[i].SectionID < filtered[j].SectionID
	})

	return &Iterator{hits: filtered}
}

// Merge drains the lite tier into a freshly built main tier and publishes
// it, per the Merge(). deletedDocs, if non-nil, additionally drops
// any postings for those document-ids from the rebuilt main tier — used by
// the engine controller when a schema change requires dropping documents.
func (idx *Index) Merge(deletedDocs map[uint32]bool) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.merge(deletedDocs)
}

func (idx *Index) merge(deletedDocs map[uint32]bool) error {
	liteHits := idx.lite.AllHits()
	idx.main = maintier.Build(idx.main, liteHits, deletedDocs)
	idx.lite.Reset()

	if err := idx.persist(); err != nil {
		return err
	}

	if idx.metrics != nil {
		idx.metrics.MergesTotal.Inc()
		idx.metrics.LiteIndexBytes.Set(0)
	}

	idx.log.WithField("num_docs", idx.main.NumDocs()).Info("merged lite index into main index")

	return nil
}

func (idx *Index) persist() error {
	lexiconData, err := json.Marshal(idx.idToTerm)
	if err != nil {
		return status.Wrap(status.Internal, err, "encoding term_lexicon")
	}
	if err := vfs.WriteFile(idx.dir, lexiconFilename, func(w io.Writer) error {
		_, err := w.Write(lexiconData)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing term_lexicon")
	}

	mainSnapshot := make(map[uint32][]lite.Hit, len(idx.idToTerm))
	for id := range idx.idToTerm {
		if hits := idx.main.Hits(uint32(id)); len(hits) > 0 {
			mainSnapshot[uint32(id)] = hits
		}
	}
	mainData, err := idx.codec.Marshal(mainSnapshot)
	if err != nil {
		return status.Wrap(status.Internal, err, "encoding main_index")
	}
	if err := vfs.WriteFile(idx.dir, mainFilename, func(w io.Writer) error {
		_, err := w.Write(mainData)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing main_index")
	}

	header := persistedHeader{Checksum: idx.checksum(), LastAddedDocumentID: idx.lastAddedDocumentID}
	headerData, err := idx.codec.Marshal(header)
	if err != nil {
		return status.Wrap(status.Internal, err, "encoding index_header")
	}
	if err := vfs.WriteFile(idx.dir, headerFilename, func(w io.Writer) error {
		_, err := w.Write(headerData)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing index_header")
	}

	return nil
}

// Checksum returns a checksum of the index's current on-disk state, used
// by the engine controller's header cross-validation.
func (idx *Index) Checksum() uint32 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.checksum()
}

func (idx *Index) checksum() uint32 {
	h := crc32.NewIEEE()
	for _, term := range idx.idToTerm {
		io.WriteString(h, term)
		io.WriteString(h, "\x00")
	}
	return h.Sum32()
}
