package odata

import (
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/nghyane/odata-batch/internal/json"
)

// MinDateTime is the earliest instant the store's datetime columns accept.
var MinDateTime = time.Date(1753, time.January, 1, 0, 0, 0, 0, time.UTC)

const isoMillis = "2006-01-02T15:04:05.000Z"

// Format renders v as the JSON value text used in hand-assembled batch bodies.
// An empty result means the field must be omitted.
//
//	nil          -> ""
//	string       -> "x"
//	bool         -> "true" / "false" (quoted text, not a JSON boolean)
//	numbers      -> 42
//	time.Time    -> "2024-01-01T00:00:00.000Z", clamped to MinDateTime
//	maps/structs -> JSON text, encoded again as one string literal
func Format(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return json.Quote(x)
	case bool:
		if x {
			return `"true"`
		}
		return `"false"`
	case json.Number:
		return x.String()
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x, 64)
	case time.Time:
		return formatTime(x)
	case *time.Time:
		if x == nil {
			return ""
		}
		return formatTime(*x)
	case json.RawMessage:
		if len(x) == 0 {
			return ""
		}
		var compact []byte
		if err := json.Compact(&compact, x); err != nil {
			return ""
		}
		return json.Quote(string(compact))
	}
	return formatReflect(reflect.ValueOf(v))
}

func formatReflect(rv reflect.Value) string {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return ""
		}
		return Format(rv.Elem().Interface())
	case reflect.String:
		return json.Quote(rv.String())
	case reflect.Bool:
		return Format(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Float32:
		return formatFloat(rv.Float(), 32)
	case reflect.Float64:
		return formatFloat(rv.Float(), 64)
	case reflect.Map, reflect.Slice:
		if rv.IsNil() {
			return ""
		}
		return formatObject(rv.Interface())
	case reflect.Struct, reflect.Array:
		return formatObject(rv.Interface())
	default:
		return ""
	}
}

// formatObject double-encodes v: the body is assembled as text, so a nested
// object travels as one escaped string literal.
func formatObject(v any) string {
	inner, err := json.MarshalString(v)
	if err != nil {
		return ""
	}
	return json.Quote(inner)
}

func formatFloat(f float64, bits int) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return ""
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

func formatTime(t time.Time) string {
	return `"` + ClampTime(t).Format(isoMillis) + `"`
}

// ClampTime returns t in UTC, raised to MinDateTime when earlier.
func ClampTime(t time.Time) time.Time {
	t = t.UTC()
	if t.Before(MinDateTime) {
		return MinDateTime
	}
	return t
}
