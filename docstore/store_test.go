package docstore

import (
	"io"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PixelPlusUI-SnowCone/external-icing/internal/clock"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/codec"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/vfs"
	"github.com/PixelPlusUI-SnowCone/external-icing/schemastore"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

type fakeSchema struct {
	types map[string]*schemastore.TypeConfig
}

func newFakeSchema() *fakeSchema {
	return &fakeSchema{types: map[string]*schemastore.TypeConfig{
		"Email": {
			Name: "Email",
			Properties: []schemastore.PropertyConfig{
				{Name: "subject", DataType: schemastore.DataTypeString, Cardinality: schemastore.CardinalityRequired},
				{Name: "body", DataType: schemastore.DataTypeString, Cardinality: schemastore.CardinalityOptional},
			},
		},
	}}
}

func (f *fakeSchema) GetSchemaType(name string) (*schemastore.TypeConfig, error) {
	t, ok := f.types[name]
	if !ok {
		return nil, &notFoundErr{name}
	}
	return t, nil
}

type notFoundErr struct{ name string }

func (e *notFoundErr) Error() string { return "not found: " + e.name }

func mustOpenStore(t *testing.T, dir vfs.Dir, clk clock.Clock) *Store {
	t.Helper()
	s, _, err := Open(dir, codec.JSON{}, clk, newFakeSchema(), logrus.New())
	require.NoError(t, err)
	return s
}

func emailDoc(namespace, uri string) *Document {
	return &Document{
		Namespace:  namespace,
		URI:        uri,
		SchemaType: "Email",
		Properties: map[string]PropertyValue{
			"subject": {Strings: []string{"hello"}},
		},
	}
}

func TestPutGet_RoundTrip(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))

	_, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)

	got, err := s.Get("ns", "uri1")
	require.NoError(t, err)
	assert.Equal(t, "uri1", got.URI)
}

func TestPut_MissingRequiredProperty(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))

	doc := &Document{Namespace: "ns", URI: "uri1", SchemaType: "Email"}
	_, err := s.Put(doc)
	assert.Error(t, err)
}

func TestPut_ReplacesSameIdentity(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))

	id1, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)
	id2, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	got, err := s.Get("ns", "uri1")
	require.NoError(t, err)
	assert.Equal(t, "uri1", got.URI)

	namespaces := s.GetAllNamespaces()
	assert.Equal(t, []string{"ns"}, namespaces)
}

func TestDelete(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))
	_, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)

	require.NoError(t, s.Delete("ns", "uri1"))
	_, err = s.Get("ns", "uri1")
	assert.Error(t, err)

	err = s.Delete("ns", "uri1")
	assert.Error(t, err)
}

func TestTTLExpiry(t *testing.T) {
	dir := vfs.NewMemDir()
	clk := clock.NewFake(100)
	s := mustOpenStore(t, dir, clk)

	doc := emailDoc("ns", "uri1")
	doc.CreationTimestampMs = 100
	doc.TTLMs = 500
	_, err := s.Put(doc)
	require.NoError(t, err)

	_, err = s.Get("ns", "uri1")
	require.NoError(t, err)

	clk.Set(600)
	_, err = s.Get("ns", "uri1")
	assert.Error(t, err)
}

func TestDeleteByNamespace(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))
	_, err := s.Put(emailDoc("a", "1"))
	require.NoError(t, err)
	_, err = s.Put(emailDoc("a", "2"))
	require.NoError(t, err)
	_, err = s.Put(emailDoc("b", "1"))
	require.NoError(t, err)

	n, err := s.DeleteByNamespace("a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	namespaces := s.GetAllNamespaces()
	assert.Equal(t, []string{"b"}, namespaces)

	_, err = s.DeleteByNamespace("a")
	assert.Error(t, err)
}

func TestDeleteBySchemaType(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))
	_, err := s.Put(emailDoc("a", "1"))
	require.NoError(t, err)

	n, err := s.DeleteBySchemaType("Email")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReportUsage_MonotonicTimestamp(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))
	_, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)

	require.NoError(t, s.ReportUsage(UsageReport{Namespace: "ns", URI: "uri1", Type: UsageType1, TimestampMs: 500}))
	require.NoError(t, s.ReportUsage(UsageReport{Namespace: "ns", URI: "uri1", Type: UsageType1, TimestampMs: 100}))

	count, err := s.UsageCount("ns", "uri1", UsageType1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	lastUsed, err := s.UsageLastUsedMs("ns", "uri1", UsageType1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), lastUsed)
}

func TestOptimize_RenumbersAndDropsTombstones(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))
	_, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)
	_, err = s.Put(emailDoc("ns", "uri2"))
	require.NoError(t, err)
	require.NoError(t, s.Delete("ns", "uri1"))

	remap := map[uint32]uint32{}
	err = s.Optimize(func(oldID, newID uint32) { remap[oldID] = newID })
	require.NoError(t, err)

	info := s.GetOptimizeInfo()
	assert.Equal(t, 1, info.TotalDocumentCount)
	assert.Equal(t, 0, info.OptimizableDocumentCount)

	docID, err := s.DocID("ns", "uri2")
	require.NoError(t, err)
	assert.Equal(t, uint32(0), docID)
}

func TestPut_OversizedDocumentFailsWithOutOfSpace(t *testing.T) {
	dir := vfs.NewMemDir()
	s := mustOpenStore(t, dir, clock.NewFake(1000))

	doc := emailDoc("ns", "uri1")
	doc.Properties["body"] = PropertyValue{Strings: []string{strings.Repeat("x", MaxDocumentSizeBytes)}}

	_, err := s.Put(doc)
	require.Error(t, err)
	assert.True(t, status.Is(err, status.OutOfSpace))
}

func TestReopen_CorruptTailTruncatesToLastGoodRecord(t *testing.T) {
	dir := vfs.NewMemDir()
	clk := clock.NewFake(1000)
	s := mustOpenStore(t, dir, clk)
	_, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)
	_, err = s.Put(emailDoc("ns", "uri2"))
	require.NoError(t, err)

	data, err := vfs.ReadFile(dir, logFilename)
	require.NoError(t, err)
	data = append(data, 0xff)
	require.NoError(t, vfs.WriteFile(dir, logFilename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}))

	reopened, outcome, err := Open(dir, codec.JSON{}, clk, newFakeSchema(), logrus.New())
	require.NoError(t, err)
	assert.Equal(t, CauseDataLoss, outcome.Cause)
	assert.Equal(t, PartialLoss, outcome.Status)

	got, err := reopened.Get("ns", "uri1")
	require.NoError(t, err)
	assert.Equal(t, "uri1", got.URI)
	got, err = reopened.Get("ns", "uri2")
	require.NoError(t, err)
	assert.Equal(t, "uri2", got.URI)
}

func TestReopen_RebuildsFromLog(t *testing.T) {
	dir := vfs.NewMemDir()
	clk := clock.NewFake(1000)
	s := mustOpenStore(t, dir, clk)
	_, err := s.Put(emailDoc("ns", "uri1"))
	require.NoError(t, err)

	reopened := mustOpenStore(t, dir, clk)
	got, err := reopened.Get("ns", "uri1")
	require.NoError(t, err)
	assert.Equal(t, "uri1", got.URI)
}
