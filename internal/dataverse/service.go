// Package dataverse ties the transport client, the batch writer and the read
// normalizer together for one entity store.
package dataverse

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/nghyane/odata-batch/internal/batch"
	"github.com/nghyane/odata-batch/internal/json"
	"github.com/nghyane/odata-batch/internal/logging"
	"github.com/nghyane/odata-batch/internal/odata"
	"github.com/nghyane/odata-batch/internal/transport"
)

// IncludeFormattedValues asks the store to send formatted companions with every row.
const IncludeFormattedValues = `odata.include-annotations="OData.Community.Display.V1.FormattedValue"`

// DefaultMaxPages bounds List when no limit is configured.
const DefaultMaxPages = 1000

// pageLinks holds the paging annotations of a collection response.
type pageLinks struct {
	NextLink string `json:"@odata.nextLink"`
}

// Service reads and writes entity collections.
type Service struct {
	client   *transport.Client
	writer   *batch.Writer
	log      logging.Logger
	pageSize int
	maxPages int

	writerOpts []batch.WriterOption
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger for the service and its batch writer. The
// transport logs through transport.Config.Logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) {
		s.log = logging.OrNop(l)
	}
}

// WithPageSize asks the store for at most n rows per page.
func WithPageSize(n int) Option {
	return func(s *Service) {
		s.pageSize = n
	}
}

// WithMaxPages stops List after n pages.
func WithMaxPages(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPages = n
		}
	}
}

// WithWriterOptions passes options to the batch writer.
func WithWriterOptions(opts ...batch.WriterOption) Option {
	return func(s *Service) {
		s.writerOpts = append(s.writerOpts, opts...)
	}
}

// New builds a Service with its own transport client.
func New(cfg transport.Config, opts ...Option) (*Service, error) {
	client, err := transport.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, opts...), nil
}

// NewWithClient builds a Service on an existing client.
func NewWithClient(client *transport.Client, opts ...Option) *Service {
	s := &Service{
		client:   client,
		log:      logging.Nop(),
		maxPages: DefaultMaxPages,
	}
	for _, opt := range opts {
		opt(s)
	}
	writerOpts := append([]batch.WriterOption{batch.WithLogger(s.log)}, s.writerOpts...)
	s.writer = batch.NewWriter(client, writerOpts...)
	return s
}

// Client returns the underlying transport client.
func (s *Service) Client() *transport.Client {
	return s.client
}

// Writer returns the batch writer used for bulk writes.
func (s *Service) Writer() *batch.Writer {
	return s.writer
}

// Insert creates records in collection.
func (s *Service) Insert(ctx context.Context, collection string, records []odata.Record) ([]*batch.Response, error) {
	return s.writer.BulkInsert(ctx, collection, records)
}

// Upsert creates or updates records addressed by their alternate keys.
func (s *Service) Upsert(ctx context.Context, collection string, keys []string, records []odata.Record) ([]*batch.Response, error) {
	return s.writer.BulkUpsert(ctx, collection, keys, records)
}

// Update updates records addressed by their primary key.
func (s *Service) Update(ctx context.Context, collection, primaryKey string, records []odata.Record) ([]*batch.Response, error) {
	return s.writer.BulkUpdate(ctx, collection, primaryKey, records)
}

// List reads every row of collection matching query, following
// @odata.nextLink. Rows are normalized so formatted values replace codes.
func (s *Service) List(ctx context.Context, collection string, query map[string]string) ([]odata.Record, error) {
	req := &transport.Request{Method: http.MethodGet, Path: collection, Query: query, Headers: s.readHeaders()}

	var rows []odata.Record
	for page := 1; ; page++ {
		body, err := s.read(ctx, req)
		if err != nil {
			return rows, err
		}
		pageRows, err := odata.ParseRecords(body)
		if err != nil {
			return rows, fmt.Errorf("dataverse: list %s page %d: %w", collection, page, err)
		}
		rows = append(rows, pageRows...)
		s.log.Debug("page read", logging.Fields{"collection": collection, "page": page, "rows": len(pageRows)})

		var links pageLinks
		if err := json.Unmarshal(body, &links); err != nil {
			return rows, fmt.Errorf("dataverse: list %s page %d: %w", collection, page, err)
		}
		next := links.NextLink
		if next == "" {
			return rows, nil
		}
		if page >= s.maxPages {
			s.log.Warn("page limit reached", logging.Fields{"collection": collection, "pages": page})
			return rows, nil
		}
		req, err = s.nextRequest(next)
		if err != nil {
			return rows, err
		}
	}
}

// Get reads one row by primary key.
func (s *Service) Get(ctx context.Context, collection, id string, query map[string]string) (odata.Record, error) {
	body, err := s.read(ctx, &transport.Request{
		Method:  http.MethodGet,
		Path:    collection + "(" + url.PathEscape(id) + ")",
		Query:   query,
		Headers: s.readHeaders(),
	})
	if err != nil {
		return nil, err
	}
	return odata.ParseRecord(body)
}

// read fetches req and returns the normalized body.
func (s *Service) read(ctx context.Context, req *transport.Request) ([]byte, error) {
	raw, err := transport.Expect(transport.Send[json.RawMessage](ctx, s.client, req, nil))
	if err != nil {
		return nil, fmt.Errorf("dataverse: read %s: %w", req.Path, err)
	}
	body, err := odata.NormalizeJSON(raw)
	if err != nil {
		return nil, fmt.Errorf("dataverse: read %s: %w", req.Path, err)
	}
	return body, nil
}

func (s *Service) readHeaders() map[string]string {
	prefer := IncludeFormattedValues
	if s.pageSize > 0 {
		prefer += ",odata.maxpagesize=" + strconv.Itoa(s.pageSize)
	}
	return map[string]string{
		"Accept":           "application/json",
		"Prefer":           prefer,
		"OData-MaxVersion": "4.0",
		"OData-Version":    "4.0",
	}
}

// nextRequest turns an absolute nextLink under the client's base URL into a
// relative request so configured query parameters are merged once.
func (s *Service) nextRequest(next string) (*transport.Request, error) {
	base := strings.TrimRight(s.client.BaseURL(), "/") + "/"
	if !strings.HasPrefix(next, base) {
		return nil, fmt.Errorf("dataverse: nextLink %q is outside %q", next, base)
	}
	path, rawQuery, _ := strings.Cut(strings.TrimPrefix(next, base), "?")
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("dataverse: parse nextLink: %w", err)
	}
	query := make(map[string]string, len(values))
	for k := range values {
		query[k] = values.Get(k)
	}
	return &transport.Request{Method: http.MethodGet, Path: path, Query: query, Headers: s.readHeaders()}, nil
}
