package transport

import (
	"fmt"
	"mime"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nghyane/odata-batch/internal/json"
	"github.com/tidwall/gjson"
)

// Violation describes one failed schema rule.
type Violation struct {
	Path    string
	Value   any
	Message string
}

// Schema checks a decoded response value.
type Schema interface {
	Check(v any) bool
	Errors(v any) []Violation
}

// ValidationError reports a response that decoded but failed its schema. It is
// never retried: the same payload would fail again.
type ValidationError struct {
	Violation
	Method string
	URL    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("transport: %s %s: response failed validation at %q (value %v): %s",
		e.Method, e.URL, e.Path, e.Value, e.Message)
}

// StructSchema validates structs with go-playground/validator `validate` tags.
// Violation paths use json field names.
type StructSchema struct {
	validate *validator.Validate
}

// NewStructSchema returns a StructSchema with json tag names enabled.
func NewStructSchema() *StructSchema {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return &StructSchema{validate: v}
}

func (s *StructSchema) Check(v any) bool {
	return s.validate.Struct(v) == nil
}

func (s *StructSchema) Errors(v any) []Violation {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []Violation{{Value: v, Message: err.Error()}}
	}
	out := make([]Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := "failed on the '" + fe.Tag() + "' rule"
		if fe.Param() != "" {
			msg = "failed on the '" + fe.Tag() + "=" + fe.Param() + "' rule"
		}
		out = append(out, Violation{
			Path:    trimRootNamespace(fe.Namespace()),
			Value:   fe.Value(),
			Message: msg,
		})
	}
	return out
}

func trimRootNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func isJSONContent(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(mediaType)
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

// decodeBody turns a buffered success body into T. []byte, string and
// json.RawMessage targets receive the body unchanged; `any` receives JSON
// values (numbers as json.Number) or text.
func decodeBody[T any](body []byte, contentType string) (T, error) {
	var out T
	switch p := any(&out).(type) {
	case *[]byte:
		*p = body
	case *string:
		*p = string(body)
	case *json.RawMessage:
		*p = json.RawMessage(body)
	case *any:
		if len(body) == 0 {
			return out, nil
		}
		if !isJSONContent(contentType) && !gjson.ValidBytes(body) {
			*p = string(body)
			return out, nil
		}
		var v any
		if err := json.UnmarshalNumber(body, &v); err != nil {
			return out, fmt.Errorf("transport: decode json response: %w", err)
		}
		*p = v
	default:
		if len(body) == 0 {
			return out, nil
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return out, fmt.Errorf("transport: decode json response into %T: %w", out, err)
		}
	}
	return out, nil
}

// errorDetail extracts the OData error message from a failure body.
func errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if gjson.ValidBytes(body) {
		if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
			return msg.String()
		}
	}
	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512] + "..."
	}
	return text
}
