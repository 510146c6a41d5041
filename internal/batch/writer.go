package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nghyane/odata-batch/internal/logging"
	"github.com/nghyane/odata-batch/internal/odata"
	"github.com/nghyane/odata-batch/internal/transport"
)

// ErrNoRecords is returned by the bulk operations when called without records.
var ErrNoRecords = errors.New("batch: no records to write")

// Response is the raw outcome of one $batch call. Data holds the multipart
// response body.
type Response = transport.Outcome[[]byte]

// Writer sends records to one store in sequential $batch chunks.
type Writer struct {
	client    *transport.Client
	encoder   *Encoder
	chunkSize int
	log       logging.Logger
}

// WriterOption customises a Writer.
type WriterOption func(*Writer)

// WithChunkSize caps records per $batch call. Values outside 1..odata.MaxBatchSize are ignored.
func WithChunkSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 && n <= odata.MaxBatchSize {
			w.chunkSize = n
		}
	}
}

// WithLogger sets the logger for per-chunk diagnostics.
func WithLogger(l logging.Logger) WriterOption {
	return func(w *Writer) {
		w.log = logging.OrNop(l)
	}
}

// WithBoundaryFunc replaces the boundary generator. Each call must return a new token.
func WithBoundaryFunc(fn func() string) WriterOption {
	return func(w *Writer) {
		if fn != nil {
			w.encoder.newBoundary = fn
		}
	}
}

// NewWriter returns a Writer sending through client. Sub-request URLs are built
// from the client's base URL.
func NewWriter(client *transport.Client, opts ...WriterOption) *Writer {
	w := &Writer{
		client:    client,
		encoder:   NewEncoder(client.BaseURL()),
		chunkSize: odata.MaxBatchSize,
		log:       logging.Nop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Encoder returns the encoder used to render chunks.
func (w *Writer) Encoder() *Encoder {
	return w.encoder
}

// ChunkSize is the number of records sent per $batch call.
func (w *Writer) ChunkSize() int {
	return w.chunkSize
}

// BulkInsert creates every record in collection.
func (w *Writer) BulkInsert(ctx context.Context, collection string, records []odata.Record) ([]*Response, error) {
	if err := checkInput(collection, records); err != nil {
		return nil, err
	}
	return w.send(ctx, collection, "insert", w.encoder.InsertParts(collection, records))
}

// BulkUpsert creates or updates every record, addressing each by the values of
// its alternate-key fields.
func (w *Writer) BulkUpsert(ctx context.Context, collection string, keys []string, records []odata.Record) ([]*Response, error) {
	if err := checkInput(collection, records); err != nil {
		return nil, err
	}
	parts, err := w.encoder.UpsertParts(collection, keys, records)
	if err != nil {
		return nil, err
	}
	return w.send(ctx, collection, "upsert", parts)
}

// BulkUpdate updates every record, addressing each by its primary key.
func (w *Writer) BulkUpdate(ctx context.Context, collection, primaryKey string, records []odata.Record) ([]*Response, error) {
	if err := checkInput(collection, records); err != nil {
		return nil, err
	}
	parts, err := w.encoder.UpdateParts(collection, primaryKey, records)
	if err != nil {
		return nil, err
	}
	return w.send(ctx, collection, "update", parts)
}

func checkInput(collection string, records []odata.Record) error {
	if len(records) == 0 {
		return ErrNoRecords
	}
	if collection == "" {
		return errors.New("batch: collection is required")
	}
	return nil
}

// send posts parts chunk by chunk. The first failed chunk stops the run; the
// responses of the chunks before it are returned with the error.
func (w *Writer) send(ctx context.Context, collection, op string, parts []Part) ([]*Response, error) {
	chunks := odata.Chunk(parts, w.chunkSize)
	responses := make([]*Response, 0, len(chunks))

	for i, chunk := range chunks {
		fields := logging.Fields{
			"collection": collection,
			"operation":  op,
			"chunk":      fmt.Sprintf("%d/%d", i+1, len(chunks)),
			"records":    len(chunk),
		}
		boundary := w.encoder.Boundary()
		start := time.Now()

		resp, err := transport.Send[[]byte](ctx, w.client, &transport.Request{
			Method:  http.MethodPost,
			Path:    "$batch",
			Body:    w.encoder.Encode(boundary, chunk),
			RawBody: true,
			Headers: map[string]string{
				"Content-Type":  ContentType(boundary),
				"Accept":        "application/json",
				"OData-Version": "4.0",
			},
		}, nil)
		if err == nil {
			err = resp.Err()
		}
		fields["elapsed"] = time.Since(start).Round(time.Millisecond).String()
		if err != nil {
			fields["error"] = err.Error()
			w.log.Error("batch chunk failed", fields)
			return responses, fmt.Errorf("batch: %s %s chunk %d of %d: %w", op, collection, i+1, len(chunks), err)
		}

		fields["status"] = resp.Status
		w.log.Info("batch chunk sent", fields)
		responses = append(responses, resp)
	}
	return responses, nil
}
