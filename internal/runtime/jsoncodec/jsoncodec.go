// Package jsoncodec is the JSON codec for envelopes on the wire, archive rows
// and the status API.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

// api keeps encoding/json semantics but sorts map keys, so archived
// metadata columns are byte-stable for the same headers.
var api = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// Encode writes v followed by a newline, one JSON line per call.
func Encode(w io.Writer, v any) error {
	return api.NewEncoder(w).Encode(v)
}

// Decode reads a single value from r. The decoder buffers ahead, so use
// NewDecoder to read a stream of values such as a JSON lines file.
func Decode(r io.Reader, v any) error {
	return NewDecoder(r).Decode(v)
}

// NewDecoder returns a decoder for consecutive values read from r.
func NewDecoder(r io.Reader) sonic.Decoder {
	return api.NewDecoder(r)
}
