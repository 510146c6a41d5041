package transport

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/nghyane/odata-batch/internal/json"
)

// Request describes one logical HTTP exchange.
type Request struct {
	Method string

	// Path is joined with the configured base URL. With OverrideBaseURL set
	// and a direct document link (see IsDocumentURL), it is used verbatim.
	Path string

	Query   map[string]string
	Headers map[string]string

	// Body is JSON-encoded unless RawBody or Upload is set, in which case it
	// must be a string or []byte.
	Body any

	// Stream returns the response body as a pull-based Stream instead of decoding it.
	Stream bool

	// RawBody sends Body byte-for-byte (pre-encoded multipart batches, token forms).
	RawBody bool

	// Upload wraps Body in a single-field multipart form named Filename.
	Upload   bool
	Filename string

	OverrideBaseURL bool
}

var documentExtensions = map[string]struct{}{
	".pdf": {}, ".xls": {}, ".xlsx": {}, ".jpg": {}, ".jpeg": {}, ".png": {},
	".doc": {}, ".docx": {}, ".ppt": {}, ".pptx": {},
}

// IsDocumentURL reports whether target is an absolute link to a document file,
// such as a pre-signed download URL, judged by its extension.
func IsDocumentURL(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	_, ok := documentExtensions[strings.ToLower(path.Ext(u.Path))]
	return ok
}

// JoinURL joins base and p with exactly one slash between them.
func JoinURL(base, p string) string {
	if p == "" {
		return base
	}
	if base == "" {
		return p
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) resolveURL(req *Request) string {
	target := JoinURL(c.cfg.BaseURL, req.Path)
	if req.OverrideBaseURL && IsDocumentURL(req.Path) {
		target = req.Path
	}

	query := make(map[string]string, len(req.Query)+len(c.cfg.Query))
	for k, v := range req.Query {
		query[k] = v
	}
	for k, v := range c.cfg.Query {
		query[k] = v
	}
	if len(query) == 0 {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + encodeQuery(query)
}

// encodeQuery sorts keys and keeps OData system options ($top, $filter, ...)
// readable. Spaces are encoded as %20; the store does not accept '+'.
func encodeQuery(query map[string]string) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(strings.ReplaceAll(queryEscape(k), "%24", "$"))
		b.WriteByte('=')
		b.WriteString(queryEscape(query[k]))
	}
	return b.String()
}

func queryEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// encodedBody is a request body that can be replayed for every attempt.
type encodedBody struct {
	data        []byte
	contentType string
	// stripNegotiation drops caller Content-Type and Accept headers so the
	// multipart boundary computed here is the one sent.
	stripNegotiation bool
}

func (b *encodedBody) reader() io.Reader {
	if b == nil || b.data == nil {
		return nil
	}
	return bytes.NewReader(b.data)
}

func buildBody(req *Request) (*encodedBody, error) {
	if req.Body == nil {
		return nil, nil
	}
	switch {
	case req.RawBody:
		data, err := rawBytes(req.Body)
		if err != nil {
			return nil, err
		}
		return &encodedBody{data: data}, nil
	case req.Upload:
		data, err := rawBytes(req.Body)
		if err != nil {
			return nil, err
		}
		return buildUpload(data, req.Filename)
	default:
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: encode json body: %w", err)
		}
		return &encodedBody{data: data, contentType: "application/json"}, nil
	}
}

func rawBytes(body any) ([]byte, error) {
	switch b := body.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("transport: read body: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("transport: raw body must be string, []byte or io.Reader, got %T", body)
	}
}

func buildUpload(data []byte, filename string) (*encodedBody, error) {
	if filename == "" {
		filename = "file"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("transport: create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("transport: write form file: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("transport: close multipart form: %w", err)
	}
	return &encodedBody{
		data:             buf.Bytes(),
		contentType:      w.FormDataContentType(),
		stripNegotiation: true,
	}, nil
}
