package transport

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// Outcome is the result of one logical exchange. When OK is false only
// Status, StatusText and Response (if any) are meaningful.
type Outcome[T any] struct {
	OK         bool
	Status     int
	StatusText string

	// Response is the raw response. On failure its body has already been
	// read into memory and can be read again.
	Response *http.Response

	// Data holds the decoded body; it is the zero value for 204 responses
	// and streamed calls.
	Data T

	// Stream is set when the request asked for a streamed body. The caller
	// must drain or Close it.
	Stream *Stream

	method string
	url    string
	body   []byte
	cause  error
}

// Err maps a failed outcome to an *HTTPError. It returns nil on success.
func (o *Outcome[T]) Err() error {
	if o == nil || o.OK {
		return nil
	}
	return &HTTPError{
		Method:     o.method,
		URL:        o.url,
		Status:     o.Status,
		StatusText: o.StatusText,
		Body:       o.body,
		Err:        o.cause,
	}
}

// Expect converts an Outcome into exception-style control flow: it returns
// the decoded data, or the first of err and the outcome's failure.
func Expect[T any](o *Outcome[T], err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if o == nil {
		return zero, errors.New("transport: nil outcome")
	}
	if failure := o.Err(); failure != nil {
		return zero, failure
	}
	return o.Data, nil
}

func successOutcome[T any](resp *http.Response, method, url string) *Outcome[T] {
	return &Outcome[T]{
		OK:         true,
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Response:   resp,
		method:     method,
		url:        url,
	}
}

func failureOutcome[T any](resp *http.Response, body []byte, method, url string, cause error) *Outcome[T] {
	o := &Outcome[T]{
		Response: resp,
		method:   method,
		url:      url,
		body:     body,
		cause:    cause,
	}
	if resp != nil {
		o.Status = resp.StatusCode
		o.StatusText = statusText(resp)
	}
	// A body that could not be decoded fails even a 2xx status.
	if cause != nil {
		o.StatusText = cause.Error()
	}
	return o
}

func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

// maxErrorBody bounds how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// HTTPError is a terminal transport failure: a non-2xx response after retries,
// or a network error (Status 0).
type HTTPError struct {
	Method     string
	URL        string
	Status     int
	StatusText string
	Body       []byte
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("transport: %s %s: %v", e.Method, e.URL, e.Err)
	}
	msg := fmt.Sprintf("transport: %s %s: %d %s", e.Method, e.URL, e.Status, e.StatusText)
	if detail := errorDetail(e.Body); detail != "" {
		msg += ": " + detail
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status, or 0 for network failures.
func (e *HTTPError) StatusCode() int {
	return e.Status
}

// IsStatus reports whether err is an *HTTPError with the given status.
func IsStatus(err error, status int) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}
