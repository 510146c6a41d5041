// Package cmd contains the odata-batch subcommands. Each Do function takes a
// ready service and writes human-readable results to out.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nghyane/odata-batch/internal/batch"
	"github.com/nghyane/odata-batch/internal/dataverse"
	log "github.com/nghyane/odata-batch/internal/logging"
	"github.com/nghyane/odata-batch/internal/odata"
)

// Write operations.
const (
	OpInsert = "insert"
	OpUpsert = "upsert"
	OpUpdate = "update"
)

// WriteOptions describes one bulk write.
type WriteOptions struct {
	Operation  string
	Collection string

	// File is a JSON or JSONC array of records; "-" reads stdin.
	File string

	Keys       []string
	PrimaryKey string

	// DryRun prints the first chunk body instead of sending anything.
	DryRun bool

	// CheckParts parses every chunk response and fails when a part failed.
	CheckParts bool
}

// ReadRecords loads records from path, or from stdin when path is "-".
func ReadRecords(path string, stdin io.Reader) ([]odata.Record, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return odata.ParseRecords(data)
}

// DoWrite runs a bulk insert, upsert or update.
func DoWrite(ctx context.Context, svc *dataverse.Service, opts WriteOptions, stdin io.Reader, out io.Writer) error {
	if strings.TrimSpace(opts.Collection) == "" {
		return errors.New("--collection is required")
	}
	if opts.File == "" {
		return errors.New("--file is required")
	}
	records, err := ReadRecords(opts.File, stdin)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"operation":  opts.Operation,
		"collection": opts.Collection,
		"records":    len(records),
	}).Info("starting bulk write")

	if opts.DryRun {
		return dryRun(svc, opts, records, out)
	}

	var responses []*batch.Response
	switch opts.Operation {
	case OpInsert:
		responses, err = svc.Insert(ctx, opts.Collection, records)
	case OpUpsert:
		responses, err = svc.Upsert(ctx, opts.Collection, opts.Keys, records)
	case OpUpdate:
		responses, err = svc.Update(ctx, opts.Collection, opts.PrimaryKey, records)
	default:
		return fmt.Errorf("unknown operation %q", opts.Operation)
	}
	for i, resp := range responses {
		fmt.Fprintf(out, "chunk %d: %d %s\n", i+1, resp.Status, resp.StatusText)
	}
	if err != nil {
		return err
	}
	if opts.CheckParts {
		return checkParts(responses, out)
	}
	return nil
}

// dryRun renders the first chunk exactly as the service's writer would send it.
func dryRun(svc *dataverse.Service, opts WriteOptions, records []odata.Record, out io.Writer) error {
	w := svc.Writer()
	enc := w.Encoder()
	var (
		parts []batch.Part
		err   error
	)
	switch opts.Operation {
	case OpInsert:
		parts = enc.InsertParts(opts.Collection, records)
	case OpUpsert:
		parts, err = enc.UpsertParts(opts.Collection, opts.Keys, records)
	case OpUpdate:
		parts, err = enc.UpdateParts(opts.Collection, opts.PrimaryKey, records)
	default:
		return fmt.Errorf("unknown operation %q", opts.Operation)
	}
	if err != nil {
		return err
	}
	chunks := odata.Chunk(parts, w.ChunkSize())
	if len(chunks) == 0 {
		return batch.ErrNoRecords
	}
	boundary := enc.Boundary()
	fmt.Fprintf(out, "POST %s\nContent-Type: %s\n\n", strings.TrimRight(svc.Client().BaseURL(), "/")+"/$batch", batch.ContentType(boundary))
	_, err = out.Write(enc.Encode(boundary, chunks[0]))
	if len(chunks) > 1 {
		fmt.Fprintf(out, "\n(%d more chunks not shown)\n", len(chunks)-1)
	}
	return err
}

func checkParts(responses []*batch.Response, out io.Writer) error {
	failed := 0
	for i, resp := range responses {
		parts, err := batch.ParseOutcome(resp)
		if err != nil {
			return fmt.Errorf("chunk %d: %w", i+1, err)
		}
		for _, p := range batch.Failed(parts) {
			failed++
			fmt.Fprintf(out, "chunk %d: part failed: %d %s %s\n", i+1, p.Status, p.StatusText, p.Message())
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d batch parts failed", failed)
	}
	return nil
}
