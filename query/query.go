// Package query implements the query pipeline: parse terms
// out of a query string, build per-term posting iterators, AND-merge and
// filter them, score and page the results, and compute snippets.
//
// The AND-merge folds several per-term hit sets into one intersected
// document-id set, the same shape as merging sorted block readers into a
// single stream, except the candidate sets are small enough to hold in
// memory and get intersected rather than unioned.
package query

import (
	"sort"
	"strings"

	"github.com/PixelPlusUI-SnowCone/external-icing/docstore"
	"github.com/PixelPlusUI-SnowCone/external-icing/index"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/tokenizer"
	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

// ScoringType selects the ranking function.
type ScoringType int

const (
	ScoringNone ScoringType = iota
	ScoringDocumentScore
	ScoringCreationTimestamp
	ScoringUsageType1Count
	ScoringUsageType2Count
	ScoringUsageType3Count
	ScoringUsageType1LastUsedTimestamp
	ScoringUsageType2LastUsedTimestamp
	ScoringUsageType3LastUsedTimestamp
)

// Order controls ascending vs. descending scoring.
type Order int

const (
	OrderDesc Order = iota
	OrderAsc
)

// SearchSpec is the query input: the query string plus optional namespace
// and schema-type restrictions.
type SearchSpec struct {
	Query         string
	Namespaces    []string // empty means no namespace filter
	SchemaTypes   []string // empty means no schema-type filter
	MaxTermLength int

	// TermMatchType selects exact or prefix lookup for every term in Query.
	// The zero value (schemastore.TermMatchUnknown) is treated as exact,
	// matching a caller that never sets it.
	TermMatchType schemastore.TermMatchType
}

// ScoringSpec selects the ranking function and sort order.
type ScoringSpec struct {
	Type  ScoringType
	Order Order
}

// ResultSpec controls paging and snippeting.
type ResultSpec struct {
	NumPerPage            int
	NumToSnippet          int
	NumMatchesPerProperty int
	MaxWindowBytes        int
}

// Snippet is one matched window within a property's string value.
type Snippet struct {
	Property string
	Text     string
	Start    int
	End      int
}

// Result is one ranked, possibly snippeted document.
type Result struct {
	Document *docstore.Document
	Score    float64
	Snippets []Snippet
}

// term is one parsed query token, optionally restricted to a property
// ("property:term" syntax).
type term struct {
	text     string
	property string // empty means unrestricted
}

func parseQuery(query string, tok tokenizer.Tokenizer) []term {
	var terms []term
	for _, field := range strings.Fields(query) {
		property := ""
		text := field
		if i := strings.IndexByte(field, ':'); i > 0 {
			property, text = field[:i], field[i+1:]
		}
		for _, tkn := range tok.Tokenize(text) {
			terms = append(terms, term{text: tkn.Text, property: property})
		}
	}
	return terms
}

// UsageLookup is the narrow document-store view the scorer needs for
// usage-based ranking.
type UsageLookup interface {
	UsageCount(namespace, uri string, usageType docstore.UsageType) (int64, error)
	UsageLastUsedMs(namespace, uri string, usageType docstore.UsageType) (int64, error)
}

// Documents is the narrow document-store view the pipeline needs to
// materialize and filter candidates.
type Documents interface {
	DocumentByID(docID uint32) (*docstore.Document, error)
	AllObservableDocIDs() []uint32
	UsageLookup
}

// Sections is the narrow schema-store view needed to resolve a property
// name to a section-id for a given schema type, and to enumerate a type's
// indexed string properties for unrestricted terms and for snippeting.
type Sections interface {
	SectionsOf(typeName string) ([]schemastore.SectionInfo, error)
}

// Index is the narrow index-facade view the pipeline needs.
type Index interface {
	GetIterator(term string, sectionMask uint16, matchType index.MatchType) *index.Iterator
}

// Pipeline runs search queries against one engine instance's stores.
type Pipeline struct {
	index      Index
	documents  Documents
	sections   Sections
	tokenizer  tokenizer.Tokenizer
	maxTokenLength int
}

// New creates a query pipeline over the given stores.
func New(idx Index, documents Documents, sections Sections, tok tokenizer.Tokenizer, maxTokenLength int) *Pipeline {
	return &Pipeline{index: idx, documents: documents, sections: sections, tokenizer: tok, maxTokenLength: maxTokenLength}
}

// Cursor is the paginator state stashed behind a next-page token.
type Cursor struct {
	ranked []rankedCandidate
	spec   ResultSpec
	terms  []term
}

type rankedCandidate struct {
	doc   *docstore.Document
	score float64
}

// Search parses the query, builds per-term iterators, composes, scores,
// and pages the result. It returns the first page and a Cursor for
// GetNextPage, which is nil if every result fit on the first page.
func (p *Pipeline) Search(search SearchSpec, scoring ScoringSpec, result ResultSpec) ([]Result, *Cursor, error) {
	if result.NumPerPage < 0 {
		return nil, nil, status.New(status.InvalidArgument, "num_per_page must not be negative")
	}

	terms := parseQuery(search.Query, p.tokenizer)
	for i := range terms {
		if p.maxTokenLength > 0 && len(terms[i].text) > p.maxTokenLength {
			terms[i].text = terms[i].text[:p.maxTokenLength]
		}
	}

	matchType := index.MatchExact
	if search.TermMatchType == schemastore.TermMatchPrefix {
		matchType = index.MatchPrefix
	}

	docIDs, sectionHits, err := p.composeCandidates(terms, matchType)
	if err != nil {
		return nil, nil, err
	}

	candidates := p.filterCandidates(docIDs, sectionHits, terms, search)

	ranked := p.score(candidates, scoring)

	return p.paginate(ranked, result, terms)
}

// composeCandidates AND-merges one posting iterator per term, looked up
// under matchType (exact or prefix). sectionHits[i]
// records, for each document any term-i hit touched, which section-ids it
// matched in — used afterward to validate a term's "property:" restriction
// once each document's schema type (and therefore its section-id
// assignment) is known.
func (p *Pipeline) composeCandidates(terms []term, matchType index.MatchType) ([]uint32, []map[uint32]map[uint8]bool, error) {
	if len(terms) == 0 {
		// An empty query matches every document.
		return p.documents.AllObservableDocIDs(), nil, nil
	}

	docSets := make([]map[uint32]bool, len(terms))
	sectionHits := make([]map[uint32]map[uint8]bool, len(terms))

	for i, t := range terms {
		it := p.index.GetIterator(t.text, 0, matchType)
		set := make(map[uint32]bool)
		hits := make(map[uint32]map[uint8]bool)
		for {
			h, ok := it.Next()
			if !ok {
				break
			}
			set[h.DocID] = true
			if hits[h.DocID] == nil {
				hits[h.DocID] = make(map[uint8]bool)
			}
			hits[h.DocID][h.SectionID] = true
		}
		docSets[i] = set
		sectionHits[i] = hits
	}

	result := docSets[0]
	for _, set := range docSets[1:] {
		next := make(map[uint32]bool)
		for docID := range result {
			if set[docID] {
				next[docID] = true
			}
		}
		result = next
	}

	ids := make([]uint32, 0, len(result))
	for docID := range result {
		ids = append(ids, docID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	return ids, sectionHits, nil
}

// filterCandidates resolves each surviving document, applies namespace and
// schema-type filters, and rejects documents that don't
// actually satisfy a term's "property:" restriction in their own schema
// type's section-id assignment.
func (p *Pipeline) filterCandidates(docIDs []uint32, sectionHits []map[uint32]map[uint8]bool, terms []term, search SearchSpec) []*docstore.Document {
	namespaces := toSet(search.Namespaces)
	types := toSet(search.SchemaTypes)

	var out []*docstore.Document
	for _, docID := range docIDs {
		doc, err := p.documents.DocumentByID(docID)
		if err != nil {
			continue // tombstoned or expired since indexing; skip silently
		}
		if len(namespaces) > 0 && !namespaces[doc.Namespace] {
			continue
		}
		if len(types) > 0 && !types[doc.SchemaType] {
			continue
		}
		if !p.satisfiesRestrictions(doc, docID, terms, sectionHits) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func (p *Pipeline) satisfiesRestrictions(doc *docstore.Document, docID uint32, terms []term, sectionHits []map[uint32]map[uint8]bool) bool {
	var sections []schemastore.SectionInfo
	loaded := false

	for i, t := range terms {
		if t.property == "" {
			continue
		}
		if !loaded {
			var err error
			sections, err = p.sections.SectionsOf(doc.SchemaType)
			if err != nil {
				return false
			}
			loaded = true
		}
		var sectionID uint8
		found := false
		for _, s := range sections {
			if s.PropertyName == t.property {
				sectionID, found = s.SectionID, true
				break
			}
		}
		if !found {
			return false
		}
		if !sectionHits[i][docID][sectionID] {
			return false
		}
	}
	return true
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func (p *Pipeline) score(docs []*docstore.Document, scoring ScoringSpec) []rankedCandidate {
	out := make([]rankedCandidate, len(docs))
	for i, doc := range docs {
		out[i] = rankedCandidate{doc: doc, score: p.scoreOne(doc, scoring.Type)}
	}

	if scoring.Type == ScoringNone {
		return out // preserve reverse-insertion (descending document-id) order
	}

	asc := scoring.Order == OrderAsc
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			if asc {
				return out[i].score < out[j].score
			}
			return out[i].score > out[j].score
		}
		// tie-break: the stable sort keeps the candidates' incoming descending
		// document-id order, so the higher document-id (newer insertion)
		// comes first, regardless of order
		return false
	})
	return out
}

func (p *Pipeline) scoreOne(doc *docstore.Document, scoring ScoringType) float64 {
	switch scoring {
	case ScoringDocumentScore:
		return float64(doc.Score)
	case ScoringCreationTimestamp:
		return float64(doc.CreationTimestampMs)
	case ScoringUsageType1Count, ScoringUsageType2Count, ScoringUsageType3Count:
		usageType := usageTypeFor(scoring)
		count, _ := p.documents.UsageCount(doc.Namespace, doc.URI, usageType)
		return float64(count)
	case ScoringUsageType1LastUsedTimestamp, ScoringUsageType2LastUsedTimestamp, ScoringUsageType3LastUsedTimestamp:
		usageType := usageTypeFor(scoring)
		ts, _ := p.documents.UsageLastUsedMs(doc.Namespace, doc.URI, usageType)
		return float64(ts)
	default:
		return 0
	}
}

func usageTypeFor(scoring ScoringType) docstore.UsageType {
	switch scoring {
	case ScoringUsageType1Count, ScoringUsageType1LastUsedTimestamp:
		return docstore.UsageType1
	case ScoringUsageType2Count, ScoringUsageType2LastUsedTimestamp:
		return docstore.UsageType2
	default:
		return docstore.UsageType3
	}
}

func (p *Pipeline) paginate(ranked []rankedCandidate, spec ResultSpec, terms []term) ([]Result, *Cursor, error) {
	page, rest := splitPage(ranked, spec.NumPerPage)

	results := p.materialize(page, spec, terms)

	if len(rest) == 0 {
		return results, nil, nil
	}
	return results, &Cursor{ranked: rest, spec: spec, terms: terms}, nil
}

func splitPage(ranked []rankedCandidate, n int) (page, rest []rankedCandidate) {
	if n >= len(ranked) {
		return ranked, nil
	}
	return ranked[:n], ranked[n:]
}

func (p *Pipeline) materialize(page []rankedCandidate, spec ResultSpec, terms []term) []Result {
	out := make([]Result, len(page))
	for i, c := range page {
		r := Result{Document: c.doc, Score: c.score}
		if i < spec.NumToSnippet {
			r.Snippets = p.snippets(c.doc, spec, terms)
		}
		out[i] = r
	}
	return out
}

// snippets returns up to num_matches_per_property matches per indexed
// string property, each a window of at most max_window_bytes bytes
// centered on a token that actually matched one of terms (or, for an
// unrestricted empty query, any token), rounded to token boundaries.
func (p *Pipeline) snippets(doc *docstore.Document, spec ResultSpec, terms []term) []Snippet {
	if spec.MaxWindowBytes <= 0 || spec.NumMatchesPerProperty <= 0 {
		return nil
	}

	wanted := make(map[string]bool, len(terms))
	for _, t := range terms {
		wanted[t.text] = true
	}

	var out []Snippet
	for property, value := range doc.Properties {
		if len(value.Strings) == 0 {
			continue
		}
		matched := 0
		for _, s := range value.Strings {
			if matched >= spec.NumMatchesPerProperty {
				break
			}
			tokens := p.tokenizer.Tokenize(s)
			for _, tok := range tokens {
				if matched >= spec.NumMatchesPerProperty {
					break
				}
				if len(wanted) > 0 && !wanted[tok.Text] {
					continue
				}
				start, end := window(tokens, tok, spec.MaxWindowBytes)
				out = append(out, Snippet{Property: property, Text: s[start:end], Start: start, End: end})
				matched++
			}
		}
	}
	return out
}

// window computes a byte range of at most maxBytes centered on tok and
// rounded inward to token boundaries: it starts at the first of tokens that
// begins inside the centered range and ends at the last that ends inside
// it. The range always covers tok itself, so a token longer than maxBytes
// yields exactly that token.
func window(tokens []tokenizer.Token, tok tokenizer.Token, maxBytes int) (int, int) {
	center := (tok.StartByte + tok.EndByte) / 2
	half := maxBytes / 2
	lo, hi := center-half, center+half
	start, end := tok.StartByte, tok.EndByte
	for _, t := range tokens {
		if t.StartByte >= lo && t.StartByte < start {
			start = t.StartByte
		}
		if t.EndByte <= hi && t.EndByte > end {
			end = t.EndByte
		}
	}
	return start, end
}

// GetNextPage pops from the cursor and returns the next page plus a new
// cursor if more remains.
func (p *Pipeline) GetNextPage(cursor *Cursor) ([]Result, *Cursor, error) {
	if cursor == nil {
		return nil, nil, nil
	}
	page, rest := splitPage(cursor.ranked, cursor.spec.NumPerPage)
	results := p.materialize(page, cursor.spec, cursor.terms)
	if len(rest) == 0 {
		return results, nil, nil
	}
	return results, &Cursor{ranked: rest, spec: cursor.spec, terms: cursor.terms}, nil
}
