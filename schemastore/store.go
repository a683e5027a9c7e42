// Package schemastore implements the persisted schema and the derived
// type-id/section-id assignment the index relies on.
package schemastore

import (
	"fmt"
	"hash/crc32"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/PixelPlusUI-SnowCone/external-icing/internal/codec"
	"github.com/PixelPlusUI-SnowCone/external-icing/internal/vfs"
	"github.com/PixelPlusUI-SnowCone/external-icing/status"
)

const (
	schemaFilename       = "schema.pb"
	headerFilename        = "schema_store_header"
	// MaxSections caps the number of indexed string properties per type,
	// since section-ids are packed into a small fixed-width field.
	MaxSections = 16
)

// SectionInfo is one entry of SectionsOf's result.
type SectionInfo struct {
	SectionID     uint8
	PropertyName  string
	Indexing      StringIndexingConfig
}

// SetSchemaResult reports the outcome of a SetSchema call.
type SetSchemaResult struct {
	Success                  bool
	IncompatibleSchemaTypes  []string
	DeletedSchemaTypes       []string
	IndexRestorationRequired bool
}

type persistedHeader struct {
	Checksum uint32 `json:"checksum"`
}

// Store is the schema store.
type Store struct {
	dir   vfs.Dir
	codec codec.Codec
	log   logrus.FieldLogger

	schema   *Schema
	typeIDs  map[string]int32
	sections map[string][]SectionInfo
}

// Open loads a schema store rooted at dir, creating an empty one if none
// exists yet.
func Open(dir vfs.Dir, c codec.Codec, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Store{dir: dir, codec: c, log: log}

	data, err := vfs.ReadFile(dir, schemaFilename)
	if err != nil {
		if vfs.IsNotExist(err) {
			return s, nil
		}
		return nil, status.Wrap(status.Internal, err, "reading schema.pb")
	}

	var schema Schema
	if err := c.Unmarshal(data, &schema); err != nil {
		return nil, status.Wrap(status.Internal, err, "decoding schema.pb")
	}

	headerData, err := vfs.ReadFile(dir, headerFilename)
	if err != nil {
		return nil, status.Wrap(status.Internal, err, "reading schema_store_header")
	}
	var header persistedHeader
	if err := c.Unmarshal(headerData, &header); err != nil {
		return nil, status.Wrap(status.Internal, err, "decoding schema_store_header")
	}

	sections := assignSections(&schema)
	if checksum(&schema, sections) != header.Checksum {
		return nil, status.New(status.Internal, "schema store header checksum mismatch")
	}

	s.schema = &schema
	s.typeIDs = assignTypeIDs(&schema)
	s.sections = sections

	return s, nil
}

// Checksum returns the store's current persisted checksum, used by the
// engine controller to cross-validate against the top-level header.
func (s *Store) Checksum() uint32 {
	if s.schema == nil {
		return 0
	}
	return checksum(s.schema, s.sections)
}

// SetSchema validates and installs a new schema, reassigning type-ids and
// section-ids as needed.
func (s *Store) SetSchema(newSchema *Schema, ignoreErrorsAndDeleteDocuments bool) (*SetSchemaResult, error) {
	if err := validateStructure(newSchema); err != nil {
		return nil, err
	}

	result := &SetSchemaResult{}

	if s.schema != nil {
		result.IncompatibleSchemaTypes, result.DeletedSchemaTypes = diffSchemas(s.schema, newSchema)
		if (len(result.IncompatibleSchemaTypes) > 0 || len(result.DeletedSchemaTypes) > 0) && !ignoreErrorsAndDeleteDocuments {
			return result, status.New(status.FailedPrecondition, "incompatible schema change rejected")
		}
	}

	newSections := assignSections(newSchema)
	if s.schema != nil {
		result.IndexRestorationRequired = sectionsChanged(s.schema, s.sections, newSchema, newSections)
	} else {
		result.IndexRestorationRequired = len(newSections) > 0
	}

	if err := s.persist(newSchema, newSections); err != nil {
		return nil, err
	}

	s.schema = newSchema.Clone()
	s.typeIDs = assignTypeIDs(newSchema)
	s.sections = newSections
	result.Success = true

	s.log.WithFields(logrus.Fields{
		"types":                  len(newSchema.Types),
		"incompatible_types":     len(result.IncompatibleSchemaTypes),
		"deleted_types":          len(result.DeletedSchemaTypes),
		"index_restore_required": result.IndexRestorationRequired,
	}).Info("schema updated")

	return result, nil
}

func (s *Store) persist(schema *Schema, sections map[string][]SectionInfo) error {
	data, err := s.codec.Marshal(schema)
	if err != nil {
		return status.Wrap(status.Internal, err, "encoding schema")
	}
	if err := vfs.WriteFile(s.dir, schemaFilename, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing schema.pb")
	}

	header := persistedHeader{Checksum: checksum(schema, sections)}
	headerData, err := s.codec.Marshal(header)
	if err != nil {
		return status.Wrap(status.Internal, err, "encoding schema_store_header")
	}
	if err := vfs.WriteFile(s.dir, headerFilename, func(w io.Writer) error {
		_, err := w.Write(headerData)
		return err
	}); err != nil {
		return status.Wrap(status.Internal, err, "writing schema_store_header")
	}

	return nil
}

// GetSchema returns the currently installed schema.
func (s *Store) GetSchema() (*Schema, error) {
	if s.schema == nil {
		return nil, status.New(status.FailedPrecondition, "no schema has been set")
	}
	return s.schema.Clone(), nil
}

// GetSchemaType returns one type config from the currently installed schema.
func (s *Store) GetSchemaType(name string) (*TypeConfig, error) {
	if s.schema == nil {
		return nil, status.New(status.FailedPrecondition, "no schema has been set")
	}
	t := s.schema.typeConfig(name)
	if t == nil {
		return nil, status.Newf(status.NotFound, "unknown schema type %q", name)
	}
	out := *t
	out.Properties = append([]PropertyConfig(nil), t.Properties...)
	return &out, nil
}

// TypeID returns the dense type-id assigned to name.
func (s *Store) TypeID(name string) (int32, error) {
	id, ok := s.typeIDs[name]
	if !ok {
		return 0, status.Newf(status.NotFound, "unknown schema type %q", name)
	}
	return id, nil
}

// SectionsOf looks up a type's indexed string sections by type name (the
// type-id is a 1:1 dense alias of the name within one schema generation).
func (s *Store) SectionsOf(typeName string) ([]SectionInfo, error) {
	if _, ok := s.typeIDs[typeName]; !ok {
		return nil, status.Newf(status.NotFound, "unknown schema type %q", typeName)
	}
	return append([]SectionInfo(nil), s.sections[typeName]...), nil
}

func assignTypeIDs(schema *Schema) map[string]int32 {
	ids := make(map[string]int32, len(schema.Types))
	for i, t := range schema.Types {
		ids[t.Name] = int32(i)
	}
	return ids
}

func assignSections(schema *Schema) map[string][]SectionInfo {
	out := make(map[string][]SectionInfo, len(schema.Types))
	for _, t := range schema.Types {
		indexed := t.indexedStringProperties()
		if len(indexed) > MaxSections {
			indexed = indexed[:MaxSections]
		}
		infos := make([]SectionInfo, len(indexed))
		for i, p := range indexed {
			infos[i] = SectionInfo{SectionID: uint8(i), PropertyName: p.Name, Indexing: *p.StringIndexing}
		}
		out[t.Name] = infos
	}
	return out
}

func sectionsChanged(oldSchema *Schema, oldSections map[string][]SectionInfo, newSchema *Schema, newSections map[string][]SectionInfo) bool {
	for _, t := range oldSchema.Types {
		if newSchema.typeConfig(t.Name) == nil {
			continue // type deletion is handled separately; no index to restore for a gone type
		}
		if !sameSections(oldSections[t.Name], newSections[t.Name]) {
			return true
		}
	}
	for _, t := range newSchema.Types {
		if oldSchema.typeConfig(t.Name) == nil && len(newSections[t.Name]) > 0 {
			return true
		}
	}
	return false
}

func sameSections(a, b []SectionInfo) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checksum(schema *Schema, sections map[string][]SectionInfo) uint32 {
	h := crc32.NewIEEE()
	for _, t := range schema.Types {
		fmt.Fprintf(h, "type:%s\n", t.Name)
		for _, info := range sections[t.Name] {
			fmt.Fprintf(h, "  section:%d:%s:%d\n", info.SectionID, info.PropertyName, info.Indexing.TermMatchType)
		}
	}
	return h.Sum32()
}

// diffSchemas compares old against new and returns the names of types that
// became incompatible (property removed, type changed, OPTIONAL->REQUIRED
// promotion, or a new REQUIRED property added) and the names of types
// removed outright.
func diffSchemas(old, new *Schema) (incompatible, deleted []string) {
	for _, oldType := range old.Types {
		newType := new.typeConfig(oldType.Name)
		if newType == nil {
			deleted = append(deleted, oldType.Name)
			continue
		}
		if typeIsIncompatible(&oldType, newType) {
			incompatible = append(incompatible, oldType.Name)
		}
	}
	sort.Strings(incompatible)
	sort.Strings(deleted)
	return
}

func typeIsIncompatible(oldType, newType *TypeConfig) bool {
	for _, oldProp := range oldType.Properties {
		newProp := newType.property(oldProp.Name)
		if newProp == nil {
			return true // property removed
		}
		if newProp.DataType != oldProp.DataType {
			return true // type change
		}
		if oldProp.Cardinality == CardinalityOptional && newProp.Cardinality == CardinalityRequired {
			return true // OPTIONAL -> REQUIRED promotion
		}
		if oldProp.Cardinality == CardinalityRepeated && newProp.Cardinality != CardinalityRepeated {
			return true
		}
	}
	for _, newProp := range newType.Properties {
		if oldType.property(newProp.Name) == nil && newProp.Cardinality == CardinalityRequired {
			return true // new required property: existing documents can't satisfy it
		}
	}
	return false
}

// validateStructure enforces the structural invariants: non-empty,
// unique type names, unique property names per type, and an acyclic
// DOCUMENT reference graph among nested-indexed references.
func validateStructure(schema *Schema) error {
	seenTypes := make(map[string]bool, len(schema.Types))
	for _, t := range schema.Types {
		if t.Name == "" {
			return status.New(status.InvalidArgument, "type name must not be empty")
		}
		if seenTypes[t.Name] {
			return status.Newf(status.InvalidArgument, "duplicate type name %q", t.Name)
		}
		seenTypes[t.Name] = true

		seenProps := make(map[string]bool, len(t.Properties))
		for _, p := range t.Properties {
			if seenProps[p.Name] {
				return status.Newf(status.InvalidArgument, "duplicate property name %q in type %q", p.Name, t.Name)
			}
			seenProps[p.Name] = true
		}
	}

	if err := detectNestedIndexingCycle(schema); err != nil {
		return err
	}

	return nil
}

// detectNestedIndexingCycle runs a DFS over the DOCUMENT-reference graph
// restricted to edges with IndexNestedProperties=true, modeling the
// schema as a node-and-edge graph so a cycle of nested-indexed references
// can be detected directly.
func detectNestedIndexingCycle(schema *Schema) error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(schema.Types))

	edgesFrom := func(typeName string) []string {
		t := schema.typeConfig(typeName)
		if t == nil {
			return nil
		}
		var out []string
		for _, p := range t.Properties {
			if p.DataType == DataTypeDocument && p.DocumentIndexing != nil && p.DocumentIndexing.IndexNestedProperties {
				out = append(out, p.DocumentIndexing.ReferencedType)
			}
		}
		return out
	}

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case gray:
			return status.Newf(status.InvalidArgument, "cyclic nested DOCUMENT reference involving type %q", name)
		case black:
			return nil
		}
		color[name] = gray
		for _, next := range edgesFrom(name) {
			if err := visit(next); err != nil {
				return err
			}
		}
		color[name] = black
		return nil
	}

	for _, t := range schema.Types {
		if err := visit(t.Name); err != nil {
			return err
		}
	}
	return nil
}
