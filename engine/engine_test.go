package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PixelPlusUI-SnowCone/external-icing/config"
	"github.com/PixelPlusUI-SnowCone/external-icing/docstore"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/clock"
	"github.com/PixelPlusUI-SnowCone/external-icing/query"
	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

func emailSchema() *schemastore.Schema {
	return &schemastore.Schema{Types: []schemastore.TypeConfig{
		{
			Name: "Email",
			Properties: []schemastore.PropertyConfig{
				{
					Name: "subject", DataType: schemastore.DataTypeString, Cardinality: schemastore.CardinalityRequired,
					StringIndexing: &schemastore.StringIndexingConfig{TermMatchType: schemastore.TermMatchExactOnly, TokenizerKind: "plain"},
				},
				{
					Name: "body", DataType: schemastore.DataTypeString, Cardinality: schemastore.CardinalityOptional,
					StringIndexing: &schemastore.StringIndexingConfig{TermMatchType: schemastore.TermMatchExactOnly, TokenizerKind: "plain"},
				},
			},
		},
	}}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	opts := config.Default(filepath.Join(t.TempDir(), "icing"))
	e := New(opts, Deps{Clock: clock.NewFake(1000)})
	_, err := e.Initialize()
	require.NoError(t, err)
	return e
}

func emailDoc(namespace, uri, subject, body string) *docstore.Document {
	return &docstore.Document{
		Namespace:  namespace,
		URI:        uri,
		SchemaType: "Email",
		Properties: map[string]docstore.PropertyValue{
			"subject": {Strings: []string{subject}},
			"body":    {Strings: []string{body}},
		},
	}
}

func TestInitialize_EmptyThenReopen(t *testing.T) {
	baseDir := filepath.Join(t.TempDir(), "icing")
	opts := config.Default(baseDir)

	e1 := New(opts, Deps{})
	_, err := e1.Initialize()
	require.NoError(t, err)

	_, err = e1.SetSchema(emailSchema(), false)
	require.NoError(t, err)
	require.NoError(t, e1.Put(emailDoc("ns", "uri1", "hello world", "body text")))
	require.NoError(t, e1.PersistToDisk())

	e2 := New(opts, Deps{})
	_, err = e2.Initialize()
	require.NoError(t, err)

	doc, err := e2.Get("ns", "uri1")
	require.NoError(t, err)
	assert.Equal(t, "hello world", doc.Properties["subject"].Strings[0])
}

func TestPutAndSearch(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello world", "something")))
	require.NoError(t, e.Put(emailDoc("ns", "uri2", "goodbye", "hello again")))

	results, token, hasMore, err := e.Search(query.SearchSpec{Query: "hello"}, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 10})
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Zero(t, token)
	require.Len(t, results, 2)
}

func TestSearch_PropertyRestriction(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello world", "something")))
	require.NoError(t, e.Put(emailDoc("ns", "uri2", "goodbye", "hello again")))

	results, _, _, err := e.Search(query.SearchSpec{Query: "subject:hello"}, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "uri1", results[0].Document.URI)
}

func TestDelete_RemovesFromSearch(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello world", "something")))
	require.NoError(t, e.Delete("ns", "uri1"))

	_, err = e.Get("ns", "uri1")
	assert.True(t, status.Is(err, status.NotFound))

	results, _, _, err := e.Search(query.SearchSpec{Query: "hello"}, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_Pagination(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put(emailDoc("ns", "uri"+string(rune('0'+i)), "message", "")))
	}

	results, token, hasMore, err := e.Search(query.SearchSpec{Query: "message"}, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, hasMore)

	results2, token2, hasMore2, err := e.GetNextPage(token)
	require.NoError(t, err)
	require.Len(t, results2, 2)
	require.True(t, hasMore2)

	results3, _, hasMore3, err := e.GetNextPage(token2)
	require.NoError(t, err)
	require.Len(t, results3, 1)
	assert.False(t, hasMore3)
}

func TestGetNextPage_UnknownTokenReturnsEmpty(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	results, _, hasMore, err := e.GetNextPage(12345)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, hasMore)
}

func TestOptimize_InvalidatesOutstandingNextPageTokens(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, e.Put(emailDoc("ns", "uri"+string(rune('0'+i)), "message", "")))
	}

	_, token, hasMore, err := e.Search(query.SearchSpec{Query: "message"}, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 2})
	require.NoError(t, err)
	require.True(t, hasMore)

	require.NoError(t, e.Optimize())

	results, _, hasMore, err := e.GetNextPage(token)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, hasMore)
}

func TestDeleteByQuery(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello world", "")))
	require.NoError(t, e.Put(emailDoc("ns", "uri2", "goodbye", "")))

	n, err := e.DeleteByQuery(query.SearchSpec{Query: "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = e.Get("ns", "uri1")
	assert.True(t, status.Is(err, status.NotFound))
	_, err = e.Get("ns", "uri2")
	assert.NoError(t, err)
}

func TestSetSchema_IncompatibleChangeRejectedWithoutFlag(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)
	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello", "body")))

	breaking := emailSchema()
	breaking.Types[0].Properties = breaking.Types[0].Properties[:1] // drop "body"

	_, err = e.SetSchema(breaking, false)
	assert.True(t, status.Is(err, status.FailedPrecondition))
}

func TestOptimize_RenumbersAndKeepsSearchable(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello world", "")))
	require.NoError(t, e.Put(emailDoc("ns", "uri2", "goodbye", "")))
	require.NoError(t, e.Delete("ns", "uri1"))

	require.NoError(t, e.Optimize())

	results, _, _, err := e.Search(query.SearchSpec{Query: "goodbye"}, query.ScoringSpec{}, query.ResultSpec{NumPerPage: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "uri2", results[0].Document.URI)
}

func TestReset_ReturnsToEmpty(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)
	require.NoError(t, e.Put(emailDoc("ns", "uri1", "hello", "")))

	require.NoError(t, e.Reset())

	_, err = e.Get("ns", "uri1")
	assert.True(t, status.Is(err, status.NotFound))

	_, err = e.GetSchema()
	assert.True(t, status.Is(err, status.FailedPrecondition))
}

func TestOperationsBeforeInitialize(t *testing.T) {
	opts := config.Default(filepath.Join(t.TempDir(), "icing"))
	e := New(opts, Deps{})

	err := e.Put(emailDoc("ns", "uri1", "hello", ""))
	assert.True(t, status.Is(err, status.FailedPrecondition))
}

func TestReportUsage_AffectsScoring(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.SetSchema(emailSchema(), false)
	require.NoError(t, err)

	require.NoError(t, e.Put(emailDoc("ns", "a", "hello", "")))
	require.NoError(t, e.Put(emailDoc("ns", "b", "hello", "")))

	require.NoError(t, e.ReportUsage(docstore.UsageReport{Namespace: "ns", URI: "a", Type: docstore.UsageType1, TimestampMs: 5}))

	results, _, _, err := e.Search(
		query.SearchSpec{Query: "hello"},
		query.ScoringSpec{Type: query.ScoringUsageType1Count, Order: query.OrderDesc},
		query.ResultSpec{NumPerPage: 10},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].Document.URI)
}
