package codec

import (
	"bytes"
	"encoding/json"
)

// JSON is a Codec over encoding/json. The zero value is ready to use.
//
// Decode uses UseNumber so numbers inside opaque payloads (map[string]any,
// []any) come back as json.Number instead of float64 and re-encode to the
// exact bytes they were read from. json.RawMessage fields are compacted and
// HTML-escaped on Encode; use Msgpack or CBOR when their bytes must survive.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	err := dec.Decode(&v)
	return v, err
}
