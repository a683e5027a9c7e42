// Package codec is the serialization contract for schema and document
// payloads, kept as a swappable collaborator so the schema and document
// stores never hardcode a wire format. JSON is the reference
// implementation.
package codec

import "encoding/json"

// Codec marshals and unmarshals arbitrary payloads to and from bytes.
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSON is the default Codec.
type JSON struct{}

func (JSON) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
