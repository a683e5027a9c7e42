// Package engine is the top-level controller: it owns the
// schema store, document store, and index, exposes the full public
// operation surface, and enforces the UNINITIALIZED/READY state machine.
//
// Initialize opens the child stores in a fixed order, cross-validates what
// they report against each other, and every mutating call afterward is
// serialized behind one mutex, since there is exactly one writer.
package engine

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PixelPlusUI-SnowCone/external-icing/config"
	"github.com/PixelPlusUI-SnowCone/external-icing/docstore"
	"github.com/PixelPlusUI-SnowCone/external-icing/index"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/clock"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/codec"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/tokenizer"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/vfs"
	"github.com/PixelPlusUI-SnowCone/external-icing/metrics"
	"github.com/PixelPlusUI-SnowCone/external-icing/query"
	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

// State is the engine's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Ready
)

const (
	headerFilename  = "icing_search_engine_header"
	headerMagic     = 0x6963696e // "icin"
	schemaDirName   = "schema_dir"
	documentDirName = "document_dir"
	indexDirName    = "index_dir"
)

type header struct {
	Magic    uint32 `json:"magic"`
	Checksum uint32 `json:"checksum"`
}

// InitializeStats reports what Initialize had to do to recover or rebuild
// each child store.
type InitializeStats struct {
	SchemaStoreRecoveryCause   string
	DocumentStoreRecoveryCause string
	DocumentStoreDataStatus    string
	IndexRestorationCause      string
}

// OptimizeInfo is re-exported from docstore since Optimize's one
// meaningful dimension today is document-store reclaimability.
type OptimizeInfo = docstore.OptimizeInfo

// Engine is the top-level controller for one base_dir.
type Engine struct {
	mu sync.Mutex

	opts    *config.EngineOptions
	baseDir vfs.Dir
	codec   codec.Codec
	clock   clock.Clock
	tok     tokenizer.Tokenizer
	metrics *metrics.Metrics
	log     logrus.FieldLogger

	state State

	schema   *schemastore.Store
	docs     *docstore.Store
	idx      *index.Index
	pipeline *query.Pipeline

	nextPageTokens map[uint64]*query.Cursor
}

// Deps are the injectable collaborators the requires instead of
// process-global singletons.
type Deps struct {
	Clock     clock.Clock
	Tokenizer tokenizer.Tokenizer
	Codec     codec.Codec
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger
}

// New creates an engine in the UNINITIALIZED state. Call Initialize before
// any other operation.
func New(opts *config.EngineOptions, deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokenizer.Simple{}
	}
	if deps.Codec == nil {
		deps.Codec = codec.JSON{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Log == nil {
		deps.Log = logrus.StandardLogger()
	}

	return &Engine{
		opts:           opts,
		codec:          deps.Codec,
		clock:          deps.Clock,
		tok:            deps.Tokenizer,
		metrics:        deps.Metrics,
		log:            deps.Log,
		nextPageTokens: make(map[uint64]*query.Cursor),
	}
}

func (e *Engine) requireReady() error {
	if e.state != Ready {
		return status.New(status.FailedPrecondition, "engine is not initialized")
	}
	return nil
}

// Initialize opens the base directory and brings the engine to the Ready state, recovering or rebuilding whatever child stores need it.
func (e *Engine) Initialize() (*InitializeStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initializeLocked()
}

// initializeLocked is Initialize's body, factored out so Reset can
// reinitialize an already-locked engine without recursively locking e.mu.
func (e *Engine) initializeLocked() (*InitializeStats, error) {
	if err := e.opts.Validate(); err != nil {
		return nil, err
	}

	baseDir, err := vfs.OpenDir(e.opts.BaseDir, true)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "opening base directory")
	}
	e.baseDir = baseDir

	stats := &InitializeStats{}

	headerData, err := vfs.ReadFile(baseDir, headerFilename)
	rebuildHeader := false
	if err != nil || !validHeader(headerData) {
		rebuildHeader = true
	}

	schemaDir, err := vfs.OpenDir(e.opts.BaseDir+"/"+schemaDirName, true)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "opening schema_dir")
	}
	schemaStore, err := schemastore.Open(schemaDir, e.codec, e.log)
	if err != nil {
		stats.SchemaStoreRecoveryCause = "IO_ERROR"
		schemaStore, _ = schemastore.Open(vfs.NewMemDir(), e.codec, e.log)
	}
	e.schema = schemaStore

	docDir, err := vfs.OpenDir(e.opts.BaseDir+"/"+documentDirName, true)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "opening document_dir")
	}
	docStore, outcome, err := docstore.Open(docDir, e.codec, e.clock, e.schema, e.log)
	if err != nil {
		stats.DocumentStoreRecoveryCause = "IO_ERROR"
		stats.DocumentStoreDataStatus = docstore.CompleteLoss
		docStore, _, _ = docstore.Open(vfs.NewMemDir(), e.codec, e.clock, e.schema, e.log)
	} else {
		stats.DocumentStoreRecoveryCause = outcome.Cause
		stats.DocumentStoreDataStatus = outcome.Status
	}
	e.docs = docStore

	idxDir, err := vfs.OpenDir(e.opts.BaseDir+"/"+indexDirName, true)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "opening index_dir")
	}
	idx, err := index.Open(idxDir, e.codec, e.metrics, e.log, e.opts.IndexMergeSize)
	if err != nil {
		stats.IndexRestorationCause = "REBUILD"
		idx, _ = index.Open(vfs.NewMemDir(), e.codec, e.metrics, e.log, e.opts.IndexMergeSize)
	}
	e.idx = idx

	// Cross-check the index's high-water mark against the document
	// store: if the index lags behind the last document-id the store ever
	// assigned, it is missing tokens for documents the store already has,
	// so rebuild it from the log. We don't have a persisted "schema
	// revision the index was built against" concept at this layer, so the
	// document-id check is the cross-validation surface we actually
	// enforce.
	if idx.LastAddedDocumentID() < docStore.LastDocumentID() {
		stats.IndexRestorationCause = "INCONSISTENT_WITH_GROUND_TRUTH"
		rebuildHeader = true
	}

	if rebuildHeader {
		if err := e.rebuildIndexFromLog(); err != nil {
			return nil, err
		}
		if err := e.writeHeader(); err != nil {
			return nil, err
		}
	}

	e.pipeline = query.New(e.idx, e.docs, e.schema, e.tok, e.opts.MaxTokenLength)

	e.state = Ready
	e.clearNextPageTokens()

	return stats, nil
}

func validHeader(data []byte) bool {
	if data == nil {
		return false
	}
	var h header
	if json.Unmarshal(data, &h) != nil {
		return false
	}
	return h.Magic == headerMagic
}

// rebuildIndexFromLog re-emits tokens for every observable document, in
// document-id order, into a fresh index.
func (e *Engine) rebuildIndexFromLog() error {
	idxDir, err := vfs.OpenDir(e.opts.BaseDir+"/"+indexDirName, true)
	if err != nil {
		return status.Wrap(status.Internal, err, "opening index_dir")
	}
	if err := idxDir.DeleteRecursively(); err != nil {
		return status.Wrap(status.Internal, err, "clearing index_dir")
	}
	idxDir, err = vfs.OpenDir(e.opts.BaseDir+"/"+indexDirName, true)
	if err != nil {
		return status.Wrap(status.Internal, err, "reopening index_dir")
	}

	idx, err := index.Open(idxDir, e.codec, e.metrics, e.log, e.opts.IndexMergeSize)
	if err != nil {
		return status.Wrap(status.Internal, err, "creating fresh index")
	}

	for _, docID := range e.docs.AllObservableDocIDs() {
		doc, err := e.docs.DocumentByID(docID)
		if err != nil {
			continue
		}
		if err := e.indexDocument(idx, docID, doc); err != nil {
			return err
		}
	}

	e.idx = idx
	e.pipeline = query.New(e.idx, e.docs, e.schema, e.tok, e.opts.MaxTokenLength)
	return nil
}

// indexDocument tokenizes every indexed STRING property of doc and feeds
// the resulting terms into idx via the section editor.
func (e *Engine) indexDocument(idx *index.Index, docID uint32, doc *docstore.Document) error {
	sections, err := e.schema.SectionsOf(doc.SchemaType)
	if err != nil {
		return nil // schema type no longer exists; leave the document unindexed
	}

	for _, section := range sections {
		value, ok := doc.Properties[section.PropertyName]
		if !ok {
			continue
		}
		matchType := index.MatchExact
		if section.Indexing.TermMatchType == schemastore.TermMatchPrefix {
			matchType = index.MatchPrefix
		}
		editor := idx.Edit(docID, section.SectionID, matchType)
		tokensEmitted := 0
		for _, s := range value.Strings {
			for _, tok := range e.tok.Tokenize(s) {
				if e.opts.MaxTokensPerDoc > 0 && tokensEmitted >= e.opts.MaxTokensPerDoc {
					break
				}
				text := tok.Text
				if e.opts.MaxTokenLength > 0 && len(text) > e.opts.MaxTokenLength {
					text = text[:e.opts.MaxTokenLength]
				}
				if err := editor.AddHit(text, int32(doc.Score)); err != nil {
					return err
				}
				tokensEmitted++
			}
		}
	}
	return nil
}

func (e *Engine) writeHeader() error {
	h := header{Magic: headerMagic, Checksum: e.checksum()}
	data, err := json.Marshal(h)
	if err != nil {
		return status.Wrap(status.Internal, err, "encoding header")
	}
	if err := vfs.WriteFile(e.baseDir, headerFilename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing header")
	}
	return nil
}

// checksum is the CRC32-over-child-checksums the header stores.
func (e *Engine) checksum() uint32 {
	h := crc32.NewIEEE()
	var buf [4]byte
	put := func(v uint32) {
		buf[0], buf[1], buf[2], buf[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		h.Write(buf[:])
	}
	put(e.schema.Checksum())
	put(e.docs.Checksum())
	put(e.idx.Checksum())
	return h.Sum32()
}

// SetSchema validates and applies a new schema. When the schema store
// reports IndexRestorationRequired the index is rebuilt from the document
// log, so a section-id reassignment can't leave stale postings under reused
// ids; otherwise, if documents of deleted types were removed, their hits
// are dropped by an index merge.
func (e *Engine) SetSchema(schema *schemastore.Schema, ignoreErrorsAndDeleteDocuments bool) (*schemastore.SetSchemaResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, err
	}

	result, err := e.schema.SetSchema(schema, ignoreErrorsAndDeleteDocuments)
	if err != nil {
		return result, err
	}

	var deleted map[uint32]bool
	if len(result.DeletedSchemaTypes) > 0 {
		deleted = make(map[uint32]bool)
		for _, typeName := range result.DeletedSchemaTypes {
			for _, id := range e.docs.AllObservableDocIDs() {
				doc, err := e.docs.DocumentByID(id)
				if err == nil && doc.SchemaType == typeName {
					deleted[id] = true
				}
			}
			if _, err := e.docs.DeleteBySchemaType(typeName); err != nil && !status.Is(err, status.NotFound) {
				return result, err
			}
		}
	}

	if result.IndexRestorationRequired {
		if err := e.rebuildIndexFromLog(); err != nil {
			return result, err
		}
	} else if deleted != nil {
		if err := e.idx.Merge(deleted); err != nil {
			return result, err
		}
	}

	e.clearNextPageTokens()

	return result, e.writeHeader()
}

// GetSchema returns the currently active schema.
func (e *Engine) GetSchema() (*schemastore.Schema, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.schema.GetSchema()
}

// GetSchemaType returns one type config from the currently active schema.
func (e *Engine) GetSchemaType(name string) (*schemastore.TypeConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.schema.GetSchemaType(name)
}

// Put stores the document, then feeds its indexed STRING properties into
// the index under the same document-id.
func (e *Engine) Put(doc *docstore.Document) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return err
	}

	docID, err := e.docs.Put(doc)
	if err != nil {
		if e.metrics != nil {
			e.metrics.PutsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	if err := e.indexDocument(e.idx, docID, doc); err != nil {
		return err
	}

	if e.metrics != nil {
		e.metrics.PutsTotal.WithLabelValues("success").Inc()
	}

	e.clearNextPageTokens()
	return nil
}

// Get fetches one document by namespace and URI.
func (e *Engine) Get(namespace, uri string) (*docstore.Document, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.docs.Get(namespace, uri)
}

// Delete removes one document by namespace and URI.
func (e *Engine) Delete(namespace, uri string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return err
	}
	docID, err := e.docs.DocID(namespace, uri)
	if err != nil {
		return err
	}
	if err := e.docs.Delete(namespace, uri); err != nil {
		return err
	}
	e.idx.DeleteDoc(docID)
	if e.metrics != nil {
		e.metrics.DeletesTotal.WithLabelValues("single").Inc()
	}
	e.clearNextPageTokens()
	return nil
}

// DeleteByNamespace removes every document in a namespace.
func (e *Engine) DeleteByNamespace(namespace string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return 0, err
	}
	docIDs := e.docIDsInNamespace(namespace)
	n, err := e.docs.DeleteByNamespace(namespace)
	if err != nil {
		return 0, err
	}
	for _, id := range docIDs {
		e.idx.DeleteDoc(id)
	}
	if e.metrics != nil {
		e.metrics.DeletesTotal.WithLabelValues("namespace").Inc()
	}
	e.clearNextPageTokens()
	return n, nil
}

func (e *Engine) docIDsInNamespace(namespace string) []uint32 {
	var ids []uint32
	for _, id := range e.docs.AllObservableDocIDs() {
		doc, err := e.docs.DocumentByID(id)
		if err == nil && doc.Namespace == namespace {
			ids = append(ids, id)
		}
	}
	return ids
}

// DeleteBySchemaType removes every document of a schema type.
func (e *Engine) DeleteBySchemaType(schemaType string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return 0, err
	}
	var docIDs []uint32
	for _, id := range e.docs.AllObservableDocIDs() {
		doc, err := e.docs.DocumentByID(id)
		if err == nil && doc.SchemaType == schemaType {
			docIDs = append(docIDs, id)
		}
	}
	n, err := e.docs.DeleteBySchemaType(schemaType)
	if err != nil {
		return 0, err
	}
	for _, id := range docIDs {
		e.idx.DeleteDoc(id)
	}
	if e.metrics != nil {
		e.metrics.DeletesTotal.WithLabelValues("schema_type").Inc()
	}
	e.clearNextPageTokens()
	return n, nil
}

// DeleteByQuery deletes every document matching a query: run the search, then
// delete everything it matched. There is no dedicated query-to-postings
// shortcut at the index layer, so this reuses the same Search path a
// regular query takes and walks every page.
func (e *Engine) DeleteByQuery(search query.SearchSpec) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return 0, err
	}

	n := 0
	results, cursor, err := e.pipeline.Search(search, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 1 << 20})
	if err != nil {
		return 0, err
	}
	for {
		for _, r := range results {
			docID, err := e.docs.DocID(r.Document.Namespace, r.Document.URI)
			if err == nil {
				e.idx.DeleteDoc(docID)
			}
			if err := e.docs.Delete(r.Document.Namespace, r.Document.URI); err == nil {
				n++
			}
		}
		if cursor == nil {
			break
		}
		results, cursor, err = e.pipeline.GetNextPage(cursor)
		if err != nil {
			return n, err
		}
	}

	if e.metrics != nil && n > 0 {
		e.metrics.DeletesTotal.WithLabelValues("query").Add(float64(n))
	}

	e.clearNextPageTokens()
	return n, nil
}

// ReportUsage records a usage event, feeding later usage-based scoring.
func (e *Engine) ReportUsage(r docstore.UsageReport) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return err
	}
	return e.docs.ReportUsage(r)
}

// GetAllNamespaces lists every namespace with at least one live document.
func (e *Engine) GetAllNamespaces() ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	return e.docs.GetAllNamespaces(), nil
}

// GetOptimizeInfo reports how much space Optimize would reclaim right now.
func (e *Engine) GetOptimizeInfo() (OptimizeInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return OptimizeInfo{}, err
	}
	return e.docs.GetOptimizeInfo(), nil
}

// Optimize compacts the document log,
// renumber surviving document-ids, and rebuild the index from the
// compacted log so stale document-ids never linger in postings.
func (e *Engine) Optimize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return err
	}

	if err := e.docs.Optimize(nil); err != nil {
		return err
	}
	if err := e.rebuildIndexFromLog(); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.OptimizesTotal.WithLabelValues("success").Inc()
	}

	e.clearNextPageTokens()
	return e.writeHeader()
}

// PersistToDisk flushes the index's in-memory lite tier into its durable
// main tier and refreshes the top-level header. The schema store and the
// document log are rewritten by every mutating call; usage counters
// recorded by ReportUsage are kept in memory only and are not written to
// disk.
func (e *Engine) PersistToDisk() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return err
	}
	if err := e.idx.Merge(nil); err != nil {
		return err
	}
	return e.writeHeader()
}

// Reset wipes everything under base_dir and
// return to an empty, still-READY engine.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return err
	}

	if err := e.baseDir.DeleteRecursively(); err != nil {
		return status.Wrap(status.Internal, err, "resetting base directory")
	}

	e.state = Uninitialized
	_, err := e.initializeLocked()
	return err
}

// Search runs a query and returns its first page, stashing the returned cursor under
// a fresh opaque token so GetNextPage can resume it later.
func (e *Engine) Search(search query.SearchSpec, scoring query.ScoringSpec, result query.ResultSpec) ([]query.Result, uint64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, 0, false, err
	}
	if e.metrics != nil {
		e.metrics.SearchesTotal.Inc()
	}

	start := e.clock.NowMs()
	results, cursor, err := e.pipeline.Search(search, scoring, result)
	if e.metrics != nil {
		e.metrics.SearchLatency.Observe(float64(e.clock.NowMs()-start) / 1000)
	}
	if err != nil {
		return nil, 0, false, err
	}
	if cursor == nil {
		return results, 0, false, nil
	}
	return results, e.storeCursor(cursor), true, nil
}

// GetNextPage returns the next page of a prior Search, resolving token through
// the process-lifetime next-page-token table.
func (e *Engine) GetNextPage(token uint64) ([]query.Result, uint64, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireReady(); err != nil {
		return nil, 0, false, err
	}

	cursor, ok := e.nextPageTokens[token]
	if !ok {
		// An unknown or already-invalidated token (including every token
		// issued before the most recent Optimize, which clears the whole
		// table) is not an error: it resolves to an empty final page.
		return []query.Result{}, 0, false, nil
	}
	delete(e.nextPageTokens, token)

	results, next, err := e.pipeline.GetNextPage(cursor)
	if err != nil {
		return nil, 0, false, err
	}
	if next == nil {
		return results, 0, false, nil
	}
	return results, e.storeCursor(next), true, nil
}

// InvalidateNextPageToken discards a page token before it is used, freeing the cursor it holds.
func (e *Engine) InvalidateNextPageToken(token uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.nextPageTokens, token)
}

// storeCursor mints an opaque token from a random UUID rather than a
// sequential counter, so a token leaked to one caller can't be guessed by
// incrementing another (the next-page-token table is opaque by
// design).
func (e *Engine) storeCursor(cursor *query.Cursor) uint64 {
	for {
		id := uuid.New()
		token := binary.BigEndian.Uint64(id[:8])
		if _, taken := e.nextPageTokens[token]; !taken {
			e.nextPageTokens[token] = cursor
			return token
		}
	}
}

// clearNextPageTokens drops every outstanding page cursor (required after
// any mutation, since a cursor holds stale document references) and
// refreshes the observable-document-count gauge, since every mutating call
// that reaches here changed it.
func (e *Engine) clearNextPageTokens() {
	e.nextPageTokens = make(map[uint64]*query.Cursor)
	if e.metrics != nil {
		e.metrics.DocumentCount.Set(float64(len(e.docs.AllObservableDocIDs())))
	}
}
