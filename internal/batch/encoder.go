package batch

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nghyane/odata-batch/internal/json"
	"github.com/nghyane/odata-batch/internal/odata"
	"github.com/nghyane/odata-batch/internal/transport"
)

const (
	crlf      = "\r\n"
	isoMillis = "2006-01-02T15:04:05.000Z"
)

// flushPath is the read-only request closing every batch. The store only
// guarantees earlier writes are visible in the batch response when a read
// follows them.
const flushPath = "systemusers?$top=1&$select=islicensed"

// ErrMissingKey is returned when a record lacks a key field needed for its target URL.
var ErrMissingKey = errors.New("batch: record is missing a key field")

// Part is one embedded sub-request.
type Part struct {
	Method string
	URL    string
	Body   odata.Record
}

// Encoder renders records into sub-requests and sub-requests into a
// multipart/mixed body. It performs no I/O.
type Encoder struct {
	baseURL     string
	newBoundary func() string
}

// NewEncoder returns an Encoder building absolute sub-request URLs under baseURL.
func NewEncoder(baseURL string) *Encoder {
	return &Encoder{baseURL: baseURL, newBoundary: NewBoundary}
}

// NewBoundary returns a fresh "batch_<uuid>" boundary token.
func NewBoundary() string {
	return "batch_" + uuid.NewString()
}

// Boundary returns a fresh boundary token from the encoder's generator.
func (e *Encoder) Boundary() string {
	return e.newBoundary()
}

// ContentType is the outer Content-Type for a body using boundary.
func ContentType(boundary string) string {
	return `multipart/mixed; boundary="` + boundary + `"`
}

// InsertParts renders one POST per record.
func (e *Encoder) InsertParts(collection string, records []odata.Record) []Part {
	target := transport.JoinURL(e.baseURL, collection)
	parts := make([]Part, len(records))
	for i, rec := range records {
		parts[i] = Part{Method: http.MethodPost, URL: target, Body: rec}
	}
	return parts
}

// UpsertParts renders one PATCH per record addressed by its alternate key,
// e.g. accounts(accountnumber='A-1',region=3). Key fields are left out of the body.
func (e *Encoder) UpsertParts(collection string, keys []string, records []odata.Record) ([]Part, error) {
	if len(keys) == 0 {
		return nil, errors.New("batch: upsert requires at least one key field")
	}
	parts := make([]Part, len(records))
	for i, rec := range records {
		pairs := make([]string, len(keys))
		for j, key := range keys {
			v, ok := rec.Get(key)
			if !ok || v == nil {
				return nil, fmt.Errorf("batch: record %d: %w %q", i, ErrMissingKey, key)
			}
			literal, err := keyLiteral(v)
			if err != nil {
				return nil, fmt.Errorf("batch: record %d: key %q: %w", i, key, err)
			}
			pairs[j] = key + "=" + literal
		}
		parts[i] = Part{
			Method: http.MethodPatch,
			URL:    transport.JoinURL(e.baseURL, collection+"("+strings.Join(pairs, ",")+")"),
			Body:   rec.Without(keys...),
		}
	}
	return parts, nil
}

// UpdateParts renders one PATCH per record addressed by its primary key value,
// e.g. accounts(00000000-0000-0000-0000-000000000001).
func (e *Encoder) UpdateParts(collection, primaryKey string, records []odata.Record) ([]Part, error) {
	if primaryKey == "" {
		return nil, errors.New("batch: update requires a primary key field")
	}
	parts := make([]Part, len(records))
	for i, rec := range records {
		v, ok := rec.Get(primaryKey)
		if !ok || v == nil {
			return nil, fmt.Errorf("batch: record %d: %w %q", i, ErrMissingKey, primaryKey)
		}
		id, err := primaryKeyValue(v)
		if err != nil {
			return nil, fmt.Errorf("batch: record %d: key %q: %w", i, primaryKey, err)
		}
		parts[i] = Part{
			Method: http.MethodPatch,
			URL:    transport.JoinURL(e.baseURL, collection+"("+id+")"),
			Body:   rec.Without(primaryKey),
		}
	}
	return parts, nil
}

// Encode writes parts and the trailing flush request as one multipart body
// delimited by boundary. Every line ends in CRLF.
func (e *Encoder) Encode(boundary string, parts []Part) []byte {
	delimiter := "--" + boundary
	var b bytes.Buffer
	b.Grow(256 * (len(parts) + 1))

	for _, p := range parts {
		b.WriteString(delimiter + crlf)
		writePartHeader(&b, p.Method, p.URL)
		b.WriteString("Content-Type: application/json; type=entry" + crlf)
		b.WriteString(crlf)
		b.WriteString(EncodeBody(p.Body))
		b.WriteString(crlf)
	}

	b.WriteString(delimiter + crlf)
	writePartHeader(&b, http.MethodGet, transport.JoinURL(e.baseURL, flushPath))
	b.WriteString("Accept: application/json" + crlf)
	b.WriteString(crlf)
	b.WriteString(delimiter + "--" + crlf)
	return b.Bytes()
}

func writePartHeader(b *bytes.Buffer, method, target string) {
	b.WriteString("Content-Type: application/http" + crlf)
	b.WriteString("Content-Transfer-Encoding: binary" + crlf)
	b.WriteString(crlf)
	b.WriteString(method + " " + target + " HTTP/1.1" + crlf)
}

// EncodeBody renders rec as a JSON object with one formatted field per line,
// in record order. Fields whose formatted value is empty are omitted.
func EncodeBody(rec odata.Record) string {
	lines := make([]string, 0, len(rec))
	for _, f := range rec {
		value := odata.Format(f.Value)
		if value == "" {
			continue
		}
		lines = append(lines, json.Quote(f.Name)+": "+value)
	}
	if len(lines) == 0 {
		return "{}"
	}
	return "{" + crlf + strings.Join(lines, ","+crlf) + crlf + "}"
}

// keyLiteral renders an alternate-key value as an OData URL literal. Strings
// are single-quoted with embedded quotes doubled.
func keyLiteral(v any) (string, error) {
	switch k := v.(type) {
	case json.Number, time.Time, bool:
		return scalarLiteral(v)
	case string:
		return quoteKey(k), nil
	case fmt.Stringer:
		return quoteKey(k.String()), nil
	}
	return scalarLiteral(v)
}

// primaryKeyValue renders a primary key as it appears between the parentheses.
// Primary keys are GUIDs or numbers and are never quoted.
func primaryKeyValue(v any) (string, error) {
	switch k := v.(type) {
	case json.Number, time.Time, bool:
		return scalarLiteral(v)
	case string:
		if k == "" {
			return "", ErrMissingKey
		}
		return escapeKey(k), nil
	case fmt.Stringer:
		return escapeKey(k.String()), nil
	}
	return scalarLiteral(v)
}

// scalarLiteral handles numbers, booleans and dates, which appear unquoted.
func scalarLiteral(v any) (string, error) {
	s := odata.Format(v)
	if s == "" {
		return "", fmt.Errorf("unsupported key value %v", v)
	}
	if !strings.HasPrefix(s, `"`) {
		return s, nil
	}
	if t, ok := v.(time.Time); ok {
		return odata.ClampTime(t).Format(isoMillis), nil
	}
	if b, ok := v.(bool); ok {
		return strconv.FormatBool(b), nil
	}
	return "", fmt.Errorf("unsupported key type %T", v)
}

func quoteKey(s string) string {
	return "'" + escapeKey(strings.ReplaceAll(s, "'", "''")) + "'"
}

// escapeKey path-escapes a key but keeps single quotes readable.
func escapeKey(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), "%27", "'")
}
