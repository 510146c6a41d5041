package odata

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nghyane/odata-batch/internal/json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	// FormattedValueSuffix marks the display companion of a raw field.
	FormattedValueSuffix = "@OData.Community.Display.V1.FormattedValue"

	// ETagKey is the per-row concurrency token, never surfaced to callers.
	ETagKey = "@odata.etag"
)

var isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

// IsISODate reports whether s looks like an ISO-8601 date or date-time.
func IsISODate(s string) bool {
	return isoDatePattern.MatchString(s)
}

// Normalize collapses raw/formatted field pairs of one entity row into single
// display values. The formatted text replaces the raw value unless the raw value
// is an ISO date string or a boolean, which are more useful as-is. The etag and
// every formatted companion key are dropped. rec is not modified.
func Normalize(rec map[string]any) map[string]any {
	out := make(map[string]any, len(rec))
	for k, v := range rec {
		if k == ETagKey || strings.HasSuffix(k, FormattedValueSuffix) {
			continue
		}
		out[k] = v
	}
	for k, formatted := range rec {
		base, ok := strings.CutSuffix(k, FormattedValueSuffix)
		if !ok {
			continue
		}
		if raw, exists := rec[base]; exists && keepRaw(raw) {
			continue
		}
		out[base] = formatted
	}
	return out
}

func keepRaw(raw any) bool {
	switch v := raw.(type) {
	case bool:
		return true
	case time.Time:
		return true
	case string:
		return IsISODate(v)
	default:
		return false
	}
}

// NormalizeJSON applies the Normalize rule to a raw response body without a
// full decode. body may be a single entity object or an OData collection
// ({"value": [...]}); collection-level annotations are kept.
func NormalizeJSON(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("odata: normalize: invalid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("odata: normalize: expected a JSON object, got %s", root.Type)
	}

	rows := root.Get("value")
	if !rows.IsArray() {
		return normalizeObject(root), nil
	}

	var arr bytes.Buffer
	arr.WriteByte('[')
	i := 0
	rows.ForEach(func(_, row gjson.Result) bool {
		if i > 0 {
			arr.WriteByte(',')
		}
		if row.IsObject() {
			arr.Write(normalizeObject(row))
		} else {
			arr.WriteString(row.Raw)
		}
		i++
		return true
	})
	arr.WriteByte(']')

	out, err := sjson.SetRawBytes(body, "value", arr.Bytes())
	if err != nil {
		return nil, fmt.Errorf("odata: normalize: %w", err)
	}
	return out, nil
}

// normalizeObject rewrites one object, keeping key order as received.
func normalizeObject(obj gjson.Result) []byte {
	raw := make(map[string]gjson.Result)
	formatted := make(map[string]gjson.Result)
	var order []string
	obj.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		switch {
		case k == ETagKey:
		case strings.HasSuffix(k, FormattedValueSuffix):
			base := strings.TrimSuffix(k, FormattedValueSuffix)
			formatted[base] = value
			if _, seen := raw[base]; !seen {
				raw[base] = gjson.Result{}
				order = append(order, base)
			}
		default:
			if _, seen := raw[k]; !seen {
				order = append(order, k)
			}
			raw[k] = value
		}
		return true
	})

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range order {
		v := raw[k]
		if f, ok := formatted[k]; ok && !keepRawResult(v) {
			v = f
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(json.Quote(k))
		buf.WriteByte(':')
		buf.WriteString(v.Raw)
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

func keepRawResult(v gjson.Result) bool {
	switch v.Type {
	case gjson.True, gjson.False:
		return true
	case gjson.String:
		return IsISODate(v.Str)
	default:
		return false
	}
}
