package batch

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// PartResponse is one embedded response from a $batch response body.
type PartResponse struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte

	// ContentID echoes the Content-ID of the sub-request, when one was sent.
	ContentID string
}

// OK reports a 2xx status.
func (p PartResponse) OK() bool {
	return p.Status >= 200 && p.Status <= 299
}

// Message returns the OData error message of a failed part, or "".
func (p PartResponse) Message() string {
	if p.OK() || len(p.Body) == 0 {
		return ""
	}
	return gjson.GetBytes(p.Body, "error.message").String()
}

// ParseResponse splits a raw $batch response into its embedded responses, in
// order. Change sets are flattened. The writer never calls this; checking the
// per-part results is left to the caller.
func ParseResponse(contentType string, body []byte) ([]PartResponse, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("batch: parse response content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return nil, fmt.Errorf("batch: response is %q, not multipart", mediaType)
	}
	return readParts(bytes.NewReader(body), params["boundary"])
}

// ParseOutcome is ParseResponse over a completed chunk response.
func ParseOutcome(resp *Response) ([]PartResponse, error) {
	if resp == nil || resp.Response == nil {
		return nil, errors.New("batch: no response")
	}
	return ParseResponse(resp.Response.Header.Get("Content-Type"), resp.Data)
}

// Failed returns the parts with a non-2xx status.
func Failed(parts []PartResponse) []PartResponse {
	var out []PartResponse
	for _, p := range parts {
		if !p.OK() {
			out = append(out, p)
		}
	}
	return out
}

func readParts(r io.Reader, boundary string) ([]PartResponse, error) {
	mr := multipart.NewReader(r, boundary)
	var out []PartResponse
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("batch: read part: %w", err)
		}

		mediaType, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("batch: part content type: %w", err)
		}
		switch {
		case strings.HasPrefix(mediaType, "multipart/"):
			nested, err := readParts(part, params["boundary"])
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		case mediaType == "application/http":
			pr, err := readEmbedded(part)
			if err != nil {
				return nil, err
			}
			pr.ContentID = part.Header.Get("Content-ID")
			out = append(out, pr)
		default:
			return nil, fmt.Errorf("batch: unexpected part type %q", mediaType)
		}
	}
}

func readEmbedded(r io.Reader) (PartResponse, error) {
	resp, err := http.ReadResponse(bufio.NewReader(r), nil)
	if err != nil {
		return PartResponse{}, fmt.Errorf("batch: read embedded response: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return PartResponse{}, fmt.Errorf("batch: read embedded body: %w", err)
	}
	return PartResponse{
		Status:     resp.StatusCode,
		StatusText: strings.TrimSpace(strings.TrimPrefix(resp.Status, fmt.Sprint(resp.StatusCode))),
		Header:     resp.Header,
		Body:       bytes.TrimRight(body, "\r\n"),
	}, nil
}
