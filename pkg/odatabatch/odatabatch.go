// Package odatabatch provides the public API for embedding odata-batch as a library.
// It wraps the internal packages with a stable, minimal API surface.
package odatabatch

import (
	"context"

	"github.com/nghyane/odata-batch/internal/auth"
	"github.com/nghyane/odata-batch/internal/batch"
	"github.com/nghyane/odata-batch/internal/config"
	"github.com/nghyane/odata-batch/internal/dataverse"
	"github.com/nghyane/odata-batch/internal/logging"
	"github.com/nghyane/odata-batch/internal/odata"
	"github.com/nghyane/odata-batch/internal/transport"
)

// ClientConfig configures the transport client.
type ClientConfig = transport.Config

// Client is the retrying, token-caching HTTP client.
type Client = transport.Client

// Request describes one HTTP exchange.
type Request = transport.Request

// Outcome is the result of one exchange.
type Outcome[T any] = transport.Outcome[T]

// HTTPError is a terminal non-2xx or network failure.
type HTTPError = transport.HTTPError

// ValidationError is a response that failed its schema.
type ValidationError = transport.ValidationError

// Schema validates decoded responses.
type Schema = transport.Schema

// AuthHeaderFunc supplies the Authorization header value.
type AuthHeaderFunc = transport.AuthHeaderFunc

// AuthOptions selects an Authorization header provider.
type AuthOptions = auth.Options

// Record is an ordered entity row.
type Record = odata.Record

// Field is one named value of a Record.
type Field = odata.Field

// Writer sends records in sequential $batch chunks.
type Writer = batch.Writer

// BatchResponse is the raw response of one $batch chunk.
type BatchResponse = batch.Response

// PartResponse is one embedded response of a $batch response.
type PartResponse = batch.PartResponse

// Service combines bulk writes and normalized reads.
type Service = dataverse.Service

// Config is the CLI/file configuration.
type Config = config.Config

// Logger receives structured diagnostics.
type Logger = logging.Logger

// Fields are structured log fields.
type Fields = logging.Fields

// WriterOption customises a Writer.
type WriterOption = batch.WriterOption

// ServiceOption customises a Service.
type ServiceOption = dataverse.Option

// ErrNoRecords is returned by bulk writes called without records.
var ErrNoRecords = batch.ErrNoRecords

// Writer options.
var (
	WithChunkSize    = batch.WithChunkSize
	WithBoundaryFunc = batch.WithBoundaryFunc
	WithWriterLogger = batch.WithLogger
)

// Service options. WithLogger also applies to the service's writer.
var (
	WithLogger        = dataverse.WithLogger
	WithPageSize      = dataverse.WithPageSize
	WithMaxPages      = dataverse.WithMaxPages
	WithWriterOptions = dataverse.WithWriterOptions
)

// NewClient creates a transport client.
func NewClient(cfg ClientConfig) (*Client, error) {
	return transport.NewClient(cfg)
}

// Send issues req through c and decodes the body into T.
func Send[T any](ctx context.Context, c *Client, req *Request, schema Schema) (*Outcome[T], error) {
	return transport.Send[T](ctx, c, req, schema)
}

// Expect returns the outcome's data or its failure as an error.
func Expect[T any](o *Outcome[T], err error) (T, error) {
	return transport.Expect(o, err)
}

// NewStructSchema validates structs by their `validate` tags.
func NewStructSchema() *transport.StructSchema {
	return transport.NewStructSchema()
}

// NewAuthHeader builds an Authorization header provider.
func NewAuthHeader(opts AuthOptions) (AuthHeaderFunc, error) {
	return auth.New(opts)
}

// NewWriter creates a batch writer over c.
func NewWriter(c *Client, opts ...WriterOption) *Writer {
	return batch.NewWriter(c, opts...)
}

// NewService creates a Service with its own client.
func NewService(cfg ClientConfig, opts ...ServiceOption) (*Service, error) {
	return dataverse.New(cfg, opts...)
}

// ParseRecords decodes a JSON or JSONC array of objects, keeping field order.
func ParseRecords(data []byte) ([]Record, error) {
	return odata.ParseRecords(data)
}

// Normalize collapses raw/formatted field pairs of one decoded row.
func Normalize(row map[string]any) map[string]any {
	return odata.Normalize(row)
}

// ParseBatchResponse splits a raw $batch response into its parts.
func ParseBatchResponse(contentType string, body []byte) ([]PartResponse, error) {
	return batch.ParseResponse(contentType, body)
}

// LoadConfig loads configuration from the specified path.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}
