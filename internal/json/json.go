// Package json is the JSON codec used across odata-batch. It is backed by
// bytedance/sonic and keeps the encoding/json function shapes so call sites
// read like the standard library.
package json

import (
	"bytes"
	stdjson "encoding/json"
	"sync"

	"github.com/bytedance/sonic"
)

// api sorts map keys for deterministic bodies and leaves HTML characters
// alone, since entity-store payloads are never embedded in HTML.
var api = sonic.Config{
	SortMapKeys:      true,
	EscapeHTML:       false,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
}.Froze()

// numberAPI decodes numbers into Number so large integers and decimals survive untouched.
var numberAPI = sonic.Config{
	SortMapKeys:    true,
	CopyString:     true,
	ValidateString: true,
	UseNumber:      true,
}.Froze()

var bufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 512))
	},
}

func getBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

func putBuffer(buf *bytes.Buffer) {
	buf.Reset()
	bufferPool.Put(buf)
}

type (
	RawMessage = stdjson.RawMessage
	Number     = stdjson.Number
)

// Marshal returns the JSON encoding of v.
func Marshal(v any) ([]byte, error) {
	return api.Marshal(v)
}

// MarshalString returns the JSON encoding of v as a string.
func MarshalString(v any) (string, error) {
	return api.MarshalToString(v)
}

// Quote returns s as a JSON string literal, including the surrounding quotes.
func Quote(s string) string {
	out, err := api.MarshalToString(s)
	if err != nil {
		// Only invalid UTF-8 fails here; fall back to the standard encoder which replaces it.
		b, _ := stdjson.Marshal(s)
		return string(b)
	}
	return out
}

// Unmarshal parses data into v.
func Unmarshal(data []byte, v any) error {
	return api.Unmarshal(data, v)
}

// UnmarshalNumber parses data into v, decoding untyped numbers as Number.
func UnmarshalNumber(data []byte, v any) error {
	return numberAPI.Unmarshal(data, v)
}

// Compact appends to dst the JSON-encoded src with insignificant space characters elided.
func Compact(dst *[]byte, src []byte) error {
	buf := getBuffer()
	defer putBuffer(buf)
	if err := stdjson.Compact(buf, src); err != nil {
		return err
	}
	*dst = append(*dst, buf.Bytes()...)
	return nil
}
