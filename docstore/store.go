// Package docstore implements the document log and its derived lookup
// structures.
//
// vfs.Dir has no true append primitive, only an atomic whole-file replace
// via safefile, so the log is rewritten in full on every mutation through
// an atomic rename rather than appended to in place. To let a corrupt tail
// (e.g. a crash mid-rewrite, or bytes flipped after the fact) be detected
// and dropped without losing everything in front of it, the log is not one
// JSON blob: it is a sequence of independently length-prefixed,
// checksummed record frames, decoded one at a time until the first frame
// that doesn't check out.
package docstore

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PixelPlusUI-SnowCone/external-icing/internal/clock"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/codec"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/vfs"
	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

const logFilename = "document_log"

// TypeLookup is the narrow view of the schema store the document store
// needs to validate puts.
type TypeLookup interface {
	GetSchemaType(name string) (*schemastore.TypeConfig, error)
}

type persistedRecord struct {
	Doc     *Document `json:"doc"`
	Deleted bool      `json:"deleted"`
}

// RecoveryOutcome reports what Open had to do to bring the log back up, so
// the engine controller can fold it into its own stats record.
type RecoveryOutcome struct {
	// Cause is "NONE" if the log opened cleanly, "DATA_LOSS" if a corrupt
	// tail had to be dropped.
	Cause string
	// Status is "NO_DATA_LOSS", "PARTIAL_LOSS" (at least one record
	// survived the corrupt tail), or "COMPLETE_LOSS" (none did).
	Status string
}

const (
	CauseNone     = "NONE"
	CauseDataLoss = "DATA_LOSS"
)

const (
	NoDataLoss   = "NO_DATA_LOSS"
	PartialLoss  = "PARTIAL_LOSS"
	CompleteLoss = "COMPLETE_LOSS"
)

// Store is the document store.
type Store struct {
	mu sync.Mutex

	dir    vfs.Dir
	codec  codec.Codec
	clock  clock.Clock
	schema TypeLookup
	log    logrus.FieldLogger

	records    []record                  // dense by document-id
	keyToDocID map[string]uint32         // "namespace\x00uri" -> document-id
	usage      map[uint32]*usageCounters // document-id -> counters
	namespaces map[string]int            // namespace -> count of observable docs
}

func key(namespace, uri string) string { return namespace + "\x00" + uri }

// Open loads a document store rooted at dir, creating an empty one if none
// exists yet. schema may be nil only if the caller never intends to call
// Put (e.g. read-only inspection tools).
func Open(dir vfs.Dir, c codec.Codec, clk clock.Clock, schema TypeLookup, log logrus.FieldLogger) (*Store, RecoveryOutcome, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{
		dir:        dir,
		codec:      c,
		clock:      clk,
		schema:     schema,
		log:        log,
		keyToDocID: make(map[string]uint32),
		usage:      make(map[uint32]*usageCounters),
		namespaces: make(map[string]int),
	}

	data, err := vfs.ReadFile(dir, logFilename)
	if err != nil {
		if vfs.IsNotExist(err) {
			return s, RecoveryOutcome{Cause: CauseNone, Status: NoDataLoss}, nil
		}
		return nil, RecoveryOutcome{}, status.Wrap(status.Internal, err, "reading document_log")
	}

	records, clean := decodeFrames(data, c)
	outcome := RecoveryOutcome{Cause: CauseNone, Status: NoDataLoss}
	if !clean {
		outcome.Cause = CauseDataLoss
		if len(records) > 0 {
			outcome.Status = PartialLoss
		} else {
			outcome.Status = CompleteLoss
		}
		s.log.Warnf("document log tail corrupt, recovered %d record(s)", len(records))
	}

	s.rebuildFrom(records)

	return s, outcome, nil
}

// decodeFrames decodes as many [4-byte length | payload | 4-byte CRC32]
// frames as it can from the front of data, stopping at the first frame
// that is truncated, fails its checksum, or fails to unmarshal. It reports
// false for clean whenever anything beyond the decoded records remains
// undecoded, whether that's a genuinely corrupt frame or just a few
// trailing garbage bytes too short to be a frame at all.
func decodeFrames(data []byte, c codec.Codec) (records []persistedRecord, clean bool) {
	offset := 0
	for offset+4 <= len(data) {
		length := binary.BigEndian.Uint32(data[offset : offset+4])
		start := offset + 4
		end := start + int(length)
		if end+4 > len(data) {
			return records, false
		}
		payload := data[start:end]
		wantCRC := binary.BigEndian.Uint32(data[end : end+4])
		if crc32.ChecksumIEEE(payload) != wantCRC {
			return records, false
		}
		var rec persistedRecord
		if err := c.Unmarshal(payload, &rec); err != nil {
			return records, false
		}
		records = append(records, rec)
		offset = end + 4
	}
	return records, offset == len(data)
}

// encodeFrame appends one [length | payload | CRC32] frame to buf.
func encodeFrame(buf []byte, payload []byte) []byte {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	buf = append(buf, header[:]...)
	buf = append(buf, payload...)
	var crc [4]byte
	binary.BigEndian.PutUint32(crc[:], crc32.ChecksumIEEE(payload))
	return append(buf, crc[:]...)
}

func (s *Store) rebuildFrom(records []persistedRecord) {
	s.records = make([]record, len(records))
	for docID, r := range records {
		s.records[docID] = record{doc: r.Doc, deleted: r.Deleted}
		if !r.Deleted {
			s.keyToDocID[key(r.Doc.Namespace, r.Doc.URI)] = uint32(docID)
		}
	}
	s.recomputeNamespaceCounts()
}

func (s *Store) recomputeNamespaceCounts() {
	s.namespaces = make(map[string]int)
	for docID := range s.records {
		if s.observable(uint32(docID)) {
			s.namespaces[s.records[docID].doc.Namespace]++
		}
	}
}

func (s *Store) observable(docID uint32) bool {
	r := s.records[docID]
	if r.deleted {
		return false
	}
	if r.doc.TTLMs <= 0 {
		return true
	}
	return s.clock.NowMs() < r.doc.CreationTimestampMs+r.doc.TTLMs
}

func checksum(records []persistedRecord) uint32 {
	h := crc32.NewIEEE()
	for _, r := range records {
		if r.Deleted {
			io.WriteString(h, "D")
		} else {
			io.WriteString(h, "L")
		}
		if r.Doc != nil {
			io.WriteString(h, r.Doc.Namespace)
			io.WriteString(h, "\x00")
			io.WriteString(h, r.Doc.URI)
		}
	}
	return h.Sum32()
}

// Put appends a new document to the log, validating it against the
// currently installed schema.
func (s *Store) Put(doc *Document) (uint32, error) {
	if doc.Namespace == "" || doc.URI == "" {
		return 0, status.New(status.InvalidArgument, "namespace and uri must not be empty")
	}
	if s.schema == nil {
		return 0, status.New(status.FailedPrecondition, "no schema is set")
	}
	typeConfig, err := s.schema.GetSchemaType(doc.SchemaType)
	if err != nil {
		return 0, err
	}
	if err := validateRequiredProperties(typeConfig, doc); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) > MaxDocumentID {
		return 0, status.New(status.OutOfSpace, "document store is at capacity")
	}

	stored := doc.Clone()
	payload, err := s.codec.Marshal(persistedRecord{Doc: stored})
	if err != nil {
		return 0, status.Wrap(status.Internal, err, "encoding document")
	}
	if len(payload) >= MaxDocumentSizeBytes {
		return 0, status.New(status.OutOfSpace, "document exceeds maximum supported size")
	}

	k := key(doc.Namespace, doc.URI)
	if prevID, ok := s.keyToDocID[k]; ok {
		s.tombstone(prevID)
	}

	docID := uint32(len(s.records))
	s.records = append(s.records, record{doc: stored})
	s.keyToDocID[k] = docID
	if s.observable(docID) {
		s.namespaces[doc.Namespace]++
	}

	if err := s.persist(); err != nil {
		return 0, err
	}

	return docID, nil
}

func validateRequiredProperties(t *schemastore.TypeConfig, doc *Document) error {
	for _, p := range t.Properties {
		if p.Cardinality != schemastore.CardinalityRequired {
			continue
		}
		v, ok := doc.Properties[p.Name]
		if !ok || v.empty() {
			return status.Newf(status.InvalidArgument, "missing required property %q", p.Name)
		}
	}
	return nil
}

func (s *Store) tombstone(docID uint32) {
	if s.observable(docID) {
		s.namespaces[s.records[docID].doc.Namespace]--
	}
	s.records[docID].deleted = true
}

// Get fetches one document by namespace and URI.
func (s *Store) Get(namespace, uri string) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, ok := s.keyToDocID[key(namespace, uri)]
	if !ok || !s.observable(docID) {
		return nil, status.Newf(status.NotFound, "document %s/%s not found", namespace, uri)
	}
	return s.records[docID].doc.Clone(), nil
}

// Delete tombstones one document by namespace and URI.
func (s *Store) Delete(namespace, uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docID, ok := s.keyToDocID[key(namespace, uri)]
	if !ok || !s.observable(docID) {
		return status.Newf(status.NotFound, "document %s/%s not found", namespace, uri)
	}
	s.tombstone(docID)
	return s.persist()
}

// DeleteByNamespace tombstones every document in a namespace.
func (s *Store) DeleteByNamespace(namespace string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.deleteWhere(func(docID uint32) bool {
		return s.records[docID].doc.Namespace == namespace
	})
	if n == 0 {
		return 0, status.Newf(status.NotFound, "no documents in namespace %q", namespace)
	}
	return n, s.persist()
}

// DeleteBySchemaType tombstones every document of a schema type.
func (s *Store) DeleteBySchemaType(schemaType string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.deleteWhere(func(docID uint32) bool {
		return s.records[docID].doc.SchemaType == schemaType
	})
	if n == 0 {
		return 0, status.Newf(status.NotFound, "no documents of type %q", schemaType)
	}
	return n, s.persist()
}

func (s *Store) deleteWhere(match func(docID uint32) bool) int {
	n := 0
	for docID := range s.records {
		id := uint32(docID)
		if s.observable(id) && match(id) {
			s.tombstone(id)
			n++
		}
	}
	return n
}

// ReportUsage records a usage event against a document.
func (s *Store) ReportUsage(r UsageReport) error {
	if !r.Type.valid() {
		return status.Newf(status.InvalidArgument, "invalid usage type %d", r.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docID, ok := s.keyToDocID[key(r.Namespace, r.URI)]
	if !ok || !s.observable(docID) {
		return status.Newf(status.NotFound, "document %s/%s not found", r.Namespace, r.URI)
	}

	c := s.usage[docID]
	if c == nil {
		c = &usageCounters{}
		s.usage[docID] = c
	}
	slot := int(r.Type) - 1
	c.counts[slot]++
	if r.TimestampMs > c.lastUsedMs[slot] {
		c.lastUsedMs[slot] = r.TimestampMs
	}
	return nil
}

// UsageCount returns the report count for (namespace, uri) under usageType.
func (s *Store) UsageCount(namespace, uri string, usageType UsageType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID, ok := s.keyToDocID[key(namespace, uri)]
	if !ok {
		return 0, status.Newf(status.NotFound, "document %s/%s not found", namespace, uri)
	}
	c := s.usage[docID]
	if c == nil {
		return 0, nil
	}
	return c.counts[usageType-1], nil
}

// UsageLastUsedMs returns the last-used timestamp for (namespace, uri)
// under usageType.
func (s *Store) UsageLastUsedMs(namespace, uri string, usageType UsageType) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID, ok := s.keyToDocID[key(namespace, uri)]
	if !ok {
		return 0, status.Newf(status.NotFound, "document %s/%s not found", namespace, uri)
	}
	c := s.usage[docID]
	if c == nil {
		return 0, nil
	}
	return c.lastUsedMs[usageType-1], nil
}

// GetAllNamespaces lists every namespace with at least one observable document.
func (s *Store) GetAllNamespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.namespaces))
	for ns, count := range s.namespaces {
		if count > 0 {
			out = append(out, ns)
		}
	}
	return out
}

// DocID resolves the current document-id for (namespace, uri), used by the
// index editor to tag hits by document-id.
func (s *Store) DocID(namespace, uri string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID, ok := s.keyToDocID[key(namespace, uri)]
	if !ok || !s.observable(docID) {
		return 0, status.Newf(status.NotFound, "document %s/%s not found", namespace, uri)
	}
	return docID, nil
}

// AllObservableDocIDs returns every currently observable document-id, in
// descending order (newest first), used by the query pipeline to satisfy
// an empty query, which matches every document.
func (s *Store) AllObservableDocIDs() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []uint32
	for docID := range s.records {
		if s.observable(uint32(docID)) {
			ids = append(ids, uint32(docID))
		}
	}
	for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
		ids[i], ids[j] = ids[j], ids[i]
	}
	return ids
}

// LastDocumentID returns the highest document-id ever assigned (including
// tombstoned ones), or -1 if the store is empty, used by the engine
// controller's cross-validation against the index's last-added document-id.
func (s *Store) LastDocumentID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.records)) - 1
}

// DocumentByID returns the document at docID if it is currently observable,
// used by the query pipeline to materialize results.
func (s *Store) DocumentByID(docID uint32) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(docID) >= len(s.records) || !s.observable(docID) {
		return nil, status.Newf(status.NotFound, "document-id %d not found", docID)
	}
	return s.records[docID].doc.Clone(), nil
}

// Checksum returns a checksum of the store's current on-disk state, used by
// the engine controller's header cross-validation.
func (s *Store) Checksum() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return checksum(s.toPersisted())
}

func (s *Store) toPersisted() []persistedRecord {
	out := make([]persistedRecord, len(s.records))
	for i, r := range s.records {
		out[i] = persistedRecord{Doc: r.doc, Deleted: r.deleted}
	}
	return out
}

func (s *Store) persist() error {
	var data []byte
	for _, r := range s.toPersisted() {
		payload, err := s.codec.Marshal(r)
		if err != nil {
			return status.Wrap(status.Internal, err, "encoding document_log record")
		}
		data = encodeFrame(data, payload)
	}
	if err := vfs.WriteFile(s.dir, logFilename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing document_log")
	}
	return nil
}

// OptimizeInfo reports how much space Optimize would reclaim.
type OptimizeInfo struct {
	TotalDocumentCount      int
	OptimizableDocumentCount int
}

// GetOptimizeInfo reports how much space Optimize would reclaim right now.
func (s *Store) GetOptimizeInfo() OptimizeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := OptimizeInfo{TotalDocumentCount: len(s.records)}
	for docID := range s.records {
		if !s.observable(uint32(docID)) {
			info.OptimizableDocumentCount++
		}
	}
	return info
}

// Optimize writes a fresh log omitting tombstoned and expired documents,
// renumbering document-ids in order of retention, and rebuilds all
// derived maps. The new state is published by rewriting document_log in
// one atomic file replace; no scratch directory is used and no directory
// swap takes place.
//
// docIDRemap receives old->new document-id pairs in ascending old order so
// callers (the index) can renumber their own document-id-keyed structures
// in lockstep; it is called once per retained document, in assignment
// order, before the new log is written.
func (s *Store) Optimize(docIDRemap func(oldID, newID uint32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var retained []record
	for docID := range s.records {
		if s.observable(uint32(docID)) {
			newID := uint32(len(retained))
			if docIDRemap != nil {
				docIDRemap(uint32(docID), newID)
			}
			retained = append(retained, record{doc: s.records[docID].doc})
		}
	}

	newUsage := make(map[uint32]*usageCounters, len(s.usage))
	newKeyToDocID := make(map[string]uint32, len(retained))
	for newID, r := range retained {
		newKeyToDocID[key(r.doc.Namespace, r.doc.URI)] = uint32(newID)
	}
	// usage counters follow their document identity, not their old id; we
	// recovered that mapping above via newKeyToDocID.
	for oldID, c := range s.usage {
		if int(oldID) >= len(s.records) {
			continue
		}
		oldDoc := s.records[oldID]
		if oldDoc.deleted {
			continue
		}
		if newID, ok := newKeyToDocID[key(oldDoc.doc.Namespace, oldDoc.doc.URI)]; ok {
			newUsage[newID] = c
		}
	}

	s.records = retained
	s.keyToDocID = newKeyToDocID
	s.usage = newUsage
	s.recomputeNamespaceCounts()

	return s.persist()
}
