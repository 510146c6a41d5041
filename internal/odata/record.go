package odata

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/nghyane/odata-batch/internal/json"
	"github.com/tailscale/hujson"
	"github.com/tidwall/gjson"
)

// Field is one named value of a Record.
type Field struct {
	Name  string
	Value any
}

// Record is a flat entity row. The slice order is the order fields are written.
type Record []Field

// Get returns the value of the named field.
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set replaces the named field in place, or appends it.
func (r Record) Set(name string, value any) Record {
	for i := range r {
		if r[i].Name == name {
			r[i].Value = value
			return r
		}
	}
	return append(r, Field{Name: name, Value: value})
}

// Without returns a copy of r with the named fields removed, order kept.
func (r Record) Without(names ...string) Record {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := make(Record, 0, len(r))
	for _, f := range r {
		if _, ok := drop[f.Name]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// RecordFromMap builds a Record from m with keys in lexical order, since Go maps
// have no iteration order of their own.
func RecordFromMap(m map[string]any) Record {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	r := make(Record, 0, len(keys))
	for _, k := range keys {
		r = append(r, Field{Name: k, Value: m[k]})
	}
	return r
}

// ParseRecords decodes a JSON (or JSONC) array of objects into Records,
// keeping each object's key order as written. An OData collection body
// ({"value": [...]}) is accepted too.
func ParseRecords(data []byte) ([]Record, error) {
	std, err := hujson.Standardize(bytes.Clone(data))
	if err != nil {
		return nil, fmt.Errorf("odata: parse records: %w", err)
	}
	if !gjson.ValidBytes(std) {
		return nil, fmt.Errorf("odata: parse records: invalid JSON")
	}

	root := gjson.ParseBytes(std)
	if root.IsObject() && root.Get("value").IsArray() {
		root = root.Get("value")
	}
	if !root.IsArray() {
		return nil, fmt.Errorf("odata: parse records: expected a JSON array, got %s", root.Type)
	}

	var (
		records []Record
		errRow  error
	)
	root.ForEach(func(idx, row gjson.Result) bool {
		if !row.IsObject() {
			errRow = fmt.Errorf("odata: parse records: element %d is %s, not an object", idx.Int(), row.Type)
			return false
		}
		rec, err := recordFromResult(row)
		if err != nil {
			errRow = fmt.Errorf("odata: parse records: element %d: %w", idx.Int(), err)
			return false
		}
		records = append(records, rec)
		return true
	})
	if errRow != nil {
		return nil, errRow
	}
	return records, nil
}

// ParseRecord decodes a single JSON object into a Record, keeping key order.
func ParseRecord(data []byte) (Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("odata: parse record: invalid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("odata: parse record: expected a JSON object, got %s", root.Type)
	}
	rec, err := recordFromResult(root)
	if err != nil {
		return nil, fmt.Errorf("odata: parse record: %w", err)
	}
	return rec, nil
}

// MarshalJSON writes r as a JSON object with fields in slice order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(json.Quote(f.Name))
		buf.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("odata: marshal field %q: %w", f.Name, err)
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func recordFromResult(obj gjson.Result) (Record, error) {
	var (
		rec Record
		err error
	)
	obj.ForEach(func(key, value gjson.Result) bool {
		var v any
		v, err = valueFromResult(value)
		if err != nil {
			return false
		}
		rec = append(rec, Field{Name: key.String(), Value: v})
		return true
	})
	return rec, err
}

func valueFromResult(r gjson.Result) (any, error) {
	switch r.Type {
	case gjson.Null:
		return nil, nil
	case gjson.True:
		return true, nil
	case gjson.False:
		return false, nil
	case gjson.Number:
		return json.Number(r.Raw), nil
	case gjson.String:
		return r.String(), nil
	default:
		var v any
		if err := json.UnmarshalNumber([]byte(r.Raw), &v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
