package schemastore

import "sort"

// DataType is a property's value type.
type DataType int

const (
	DataTypeUnknown DataType = iota
	DataTypeString
	DataTypeInt64
	DataTypeDouble
	DataTypeBoolean
	DataTypeBytes
	DataTypeDocument
)

// Cardinality is a property's repetition rule.
type Cardinality int

const (
	CardinalityUnknown Cardinality = iota
	CardinalityRequired
	CardinalityOptional
	CardinalityRepeated
)

// TermMatchType controls how an indexed string property participates in
// term lookups.
type TermMatchType int

const (
	// TermMatchUnknown means the property is not indexed at all.
	TermMatchUnknown TermMatchType = iota
	TermMatchExactOnly
	TermMatchPrefix
)

// StringIndexingConfig configures a STRING property for indexing.
type StringIndexingConfig struct {
	TermMatchType TermMatchType
	TokenizerKind string
}

// Indexed reports whether this config actually causes the property to be
// indexed (TermMatchUnknown means unindexed).
func (c StringIndexingConfig) Indexed() bool {
	return c.TermMatchType != TermMatchUnknown
}

// DocumentIndexingConfig configures a DOCUMENT property's nested-type
// reference.
type DocumentIndexingConfig struct {
	ReferencedType         string
	IndexNestedProperties  bool
}

// PropertyConfig describes one property of a type.
type PropertyConfig struct {
	Name        string
	DataType    DataType
	Cardinality Cardinality

	// StringIndexing is non-nil only for DataTypeString properties.
	StringIndexing *StringIndexingConfig

	// DocumentIndexing is non-nil only for DataTypeDocument properties.
	DocumentIndexing *DocumentIndexingConfig
}

// TypeConfig describes one document type (a "schema type").
type TypeConfig struct {
	Name       string
	Properties []PropertyConfig
}

func (t *TypeConfig) property(name string) *PropertyConfig {
	for i := range t.Properties {
		if t.Properties[i].Name == name {
			return &t.Properties[i]
		}
	}
	return nil
}

// Schema is the full mapping from type name to property configs.
type Schema struct {
	Types []TypeConfig
}

func (s *Schema) typeConfig(name string) *TypeConfig {
	for i := range s.Types {
		if s.Types[i].Name == name {
			return &s.Types[i]
		}
	}
	return nil
}

// Clone makes a deep-enough copy for SetSchema to diff safely against the
// persisted schema without aliasing slices.
func (s *Schema) Clone() *Schema {
	out := &Schema{Types: make([]TypeConfig, len(s.Types))}
	for i, t := range s.Types {
		out.Types[i] = TypeConfig{Name: t.Name, Properties: make([]PropertyConfig, len(t.Properties))}
		copy(out.Types[i].Properties, t.Properties)
	}
	return out
}

// indexedStringProperties returns the type's STRING properties that are
// actually indexed, in stable (alphabetical) name order — the order
// section-ids are assigned in.
func (t *TypeConfig) indexedStringProperties() []PropertyConfig {
	var props []PropertyConfig
	for _, p := range t.Properties {
		if p.DataType == DataTypeString && p.StringIndexing != nil && p.StringIndexing.Indexed() {
			props = append(props, p)
		}
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	return props
}
