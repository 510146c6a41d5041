package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nghyane/odata-batch/internal/dataverse"
	"github.com/nghyane/odata-batch/internal/json"
)

// DoList prints every row of collection as one JSON object per line.
func DoList(ctx context.Context, svc *dataverse.Service, collection string, query map[string]string, out io.Writer) error {
	if collection == "" {
		return errors.New("--collection is required")
	}
	rows, err := svc.List(ctx, collection, query)
	for _, row := range rows {
		line, errMarshal := json.Marshal(row)
		if errMarshal != nil {
			return errMarshal
		}
		fmt.Fprintf(out, "%s\n", line)
	}
	return err
}

// DoGet prints one row.
func DoGet(ctx context.Context, svc *dataverse.Service, collection, id string, query map[string]string, out io.Writer) error {
	if collection == "" || id == "" {
		return errors.New("--collection and --id are required")
	}
	row, err := svc.Get(ctx, collection, id, query)
	if err != nil {
		return err
	}
	line, err := json.Marshal(row)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "%s\n", line)
	return err
}
