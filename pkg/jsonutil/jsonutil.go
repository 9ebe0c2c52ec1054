// Package jsonutil wraps github.com/go-json-experiment/json behind the
// familiar encoding/json surface. Used on the hot paths: anomaly JSONL
// appends, baseline snapshots, and weight-store persistence.
package jsonutil

import (
	"io"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Unmarshal parses the JSON-encoded data and stores the result in v.
func Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent returns the indented JSON encoding of v. The prefix
// argument exists for encoding/json signature compatibility and is ignored;
// go-json-experiment expresses indentation through jsontext options.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return json.Marshal(v, jsontext.WithIndent(indent))
}

// Valid reports whether data is a valid JSON encoding.
func Valid(data []byte) bool {
	return jsontext.Value(data).IsValid()
}

// Encoder is a streaming encoder with encoding/json.Encoder semantics:
// each Encode call writes one JSON value followed by a newline.
type Encoder struct {
	w      io.Writer
	indent string
}

// NewEncoder creates a streaming encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// NewStreamEncoder creates an encoder that writes to w. It is an alias for
// NewEncoder kept for encoding/json.Encoder-style call sites.
func NewStreamEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes the JSON encoding of v to the stream.
func (e *Encoder) Encode(v any) error {
	var err error
	if e.indent != "" {
		err = json.MarshalWrite(e.w, v, jsontext.WithIndent(e.indent))
	} else {
		err = json.MarshalWrite(e.w, v)
	}
	if err != nil {
		return err
	}
	_, err = e.w.Write([]byte{'\n'})
	return err
}

// SetIndent instructs the encoder to format each subsequent encoded value
// with the given indentation. The prefix argument exists for encoding/json
// signature compatibility and is ignored.
func (e *Encoder) SetIndent(prefix, indent string) {
	e.indent = indent
}

// Decoder is a streaming decoder with encoding/json.Decoder semantics.
type Decoder struct {
	r io.Reader
}

// NewStreamDecoder creates a decoder that reads from r.
func NewStreamDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode reads the next JSON-encoded value from the stream and stores it in v.
func (d *Decoder) Decode(v any) error {
	return json.UnmarshalRead(d.r, v)
}
