package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nghyane/odata-batch/internal/logging"
)

// Client issues requests against one service: it joins URLs, attaches the
// cached Authorization header, retries configured statuses and decodes
// responses. A Client is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	tokens *tokenCache
	retry  retryPolicy
	log    logging.Logger
}

// NewClient validates cfg, applies defaults and returns a ready Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("transport: base url is required")
	}
	cfg = cfg.withDefaults()

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		var err error
		httpClient, err = newHTTPClient(cfg.ProxyURL)
		if err != nil {
			return nil, err
		}
	}

	return &Client{
		cfg:    cfg,
		http:   httpClient,
		tokens: newTokenCache(cfg.AuthHeader),
		retry:  newRetryPolicy(cfg),
		log:    cfg.Logger,
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

// Send issues req and decodes the body as JSON (or text) into an any value.
func (c *Client) Send(ctx context.Context, req *Request) (*Outcome[any], error) {
	return Send[any](ctx, c, req, nil)
}

func (c *Client) Get(ctx context.Context, req *Request) (*Outcome[any], error) {
	return c.Send(ctx, withMethod(req, http.MethodGet))
}

func (c *Client) Post(ctx context.Context, req *Request) (*Outcome[any], error) {
	return c.Send(ctx, withMethod(req, http.MethodPost))
}

func (c *Client) Put(ctx context.Context, req *Request) (*Outcome[any], error) {
	return c.Send(ctx, withMethod(req, http.MethodPut))
}

func (c *Client) Patch(ctx context.Context, req *Request) (*Outcome[any], error) {
	return c.Send(ctx, withMethod(req, http.MethodPatch))
}

func (c *Client) Delete(ctx context.Context, req *Request) (*Outcome[any], error) {
	return c.Send(ctx, withMethod(req, http.MethodDelete))
}

func withMethod(req *Request, method string) *Request {
	if req == nil {
		return &Request{Method: method}
	}
	clone := *req
	clone.Method = method
	return &clone
}

// Send performs one logical exchange and decodes a successful body into T.
//
// Transport failures (terminal non-2xx responses, network errors) come back as
// an Outcome with OK=false and a nil error. The error return is reserved for
// problems retrying cannot fix: an unbuildable request, an undecodable body,
// or a *ValidationError when schema is non-nil and rejects the value.
func Send[T any](ctx context.Context, c *Client, req *Request, schema Schema) (*Outcome[T], error) {
	if req == nil {
		return nil, errors.New("transport: nil request")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.resolveURL(req)
	body, err := buildBody(req)
	if err != nil {
		return nil, err
	}

	fields := logging.Fields{
		"method":         method,
		"url":            logging.MaskURL(target),
		"correlation_id": c.correlationID(req),
	}
	start := time.Now()

	resp, err := c.do(ctx, method, target, req, body, fields)
	if err != nil {
		if isBuildError(err) {
			return nil, err
		}
		fields["error"] = err.Error()
		c.log.Error("request failed", fields)
		return failureOutcome[T](nil, nil, method, target, err), nil
	}
	fields["status"] = resp.StatusCode
	fields["elapsed"] = time.Since(start).Round(time.Millisecond).String()

	if err := decodeResponseBody(resp); err != nil {
		resp.Body = http.NoBody
		c.log.Error("response decoding failed", withError(fields, err))
		return failureOutcome[T](resp, nil, method, target, err), nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errBody := bufferBody(resp)
		c.log.Error("request failed", fields)
		return failureOutcome[T](resp, errBody, method, target, nil), nil
	}

	out := successOutcome[T](resp, method, target)
	if resp.StatusCode == http.StatusNoContent {
		_ = resp.Body.Close()
		c.log.Debug("request completed", fields)
		return out, nil
	}
	if req.Stream {
		out.Stream = newStream(resp.Body, DefaultStreamChunkSize)
		c.log.Debug("streaming response", fields)
		return out, nil
	}

	data, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		err = fmt.Errorf("transport: read response: %w", err)
		resp.Body = http.NoBody
		c.log.Error("response decoding failed", withError(fields, err))
		return failureOutcome[T](resp, nil, method, target, err), nil
	}
	resp.Body = io.NopCloser(bytes.NewReader(data))

	value, err := decodeBody[T](data, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if schema != nil && !schema.Check(value) {
		verr := &ValidationError{Method: method, URL: target}
		if violations := schema.Errors(value); len(violations) > 0 {
			verr.Violation = violations[0]
		} else {
			verr.Message = "schema check failed"
		}
		fields["path"] = verr.Path
		c.log.Error("response failed validation", fields)
		return nil, verr
	}
	out.Data = value
	c.log.Debug("request completed", fields)
	return out, nil
}

// buildError marks failures that happen before anything is sent.
type buildError struct{ err error }

func (e *buildError) Error() string { return e.err.Error() }
func (e *buildError) Unwrap() error { return e.err }

func isBuildError(err error) bool {
	var be *buildError
	return errors.As(err, &be)
}

// do runs the attempt loop. It returns the final response, whose status may
// still be a failure, or the last network error.
func (c *Client) do(ctx context.Context, method, target string, req *Request, body *encodedBody, fields logging.Fields) (*http.Response, error) {
	for attempt := 1; ; attempt++ {
		httpReq, err := http.NewRequestWithContext(ctx, method, target, body.reader())
		if err != nil {
			return nil, &buildError{fmt.Errorf("transport: create request: %w", err)}
		}
		c.applyHeaders(httpReq, req, body)

		authorization, err := c.tokens.get(ctx)
		if err != nil {
			return nil, err
		}
		if authorization != "" {
			httpReq.Header.Set("Authorization", authorization)
		}

		sendFields := withAttempt(fields, attempt)
		sendFields["headers"] = logging.MaskHeaders(httpReq.Header)
		c.log.Debug("sending request", sendFields)
		resp, err := c.http.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil || c.retry.exhausted(attempt) {
				return nil, err
			}
			c.log.Warn("request error, retrying", withError(withAttempt(fields, attempt), err))
			if werr := c.retry.wait(ctx); werr != nil {
				return nil, werr
			}
			continue
		}

		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.invalidate(authorization)
		}
		if !c.retry.retryableStatus(resp.StatusCode) || c.retry.exhausted(attempt) {
			return resp, nil
		}

		discardBody(resp)
		retryFields := withAttempt(fields, attempt)
		retryFields["status"] = resp.StatusCode
		c.log.Warn("retryable status, retrying", retryFields)
		if werr := c.retry.wait(ctx); werr != nil {
			return nil, werr
		}
	}
}

func (c *Client) applyHeaders(httpReq *http.Request, req *Request, body *encodedBody) {
	h := httpReq.Header
	h.Set("User-Agent", c.cfg.UserAgent)
	h.Set("Accept-Encoding", acceptEncoding)
	for k, v := range c.cfg.Headers {
		h.Set(k, v)
	}
	for k, v := range req.Headers {
		h.Set(k, v)
	}
	if body == nil {
		return
	}
	if body.stripNegotiation {
		h.Del("Accept")
		h.Set("Content-Type", body.contentType)
		return
	}
	if body.contentType != "" && h.Get("Content-Type") == "" {
		h.Set("Content-Type", body.contentType)
	}
}

// correlationID returns the caller-provided id or a fresh one. It only ties
// log lines together.
func (c *Client) correlationID(req *Request) string {
	for k, v := range req.Headers {
		if strings.EqualFold(k, c.cfg.CorrelationHeader) && v != "" {
			return v
		}
	}
	for k, v := range c.cfg.Headers {
		if strings.EqualFold(k, c.cfg.CorrelationHeader) && v != "" {
			return v
		}
	}
	return uuid.NewString()
}

func withAttempt(fields logging.Fields, attempt int) logging.Fields {
	out := make(logging.Fields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["attempt"] = attempt
	return out
}

func withError(fields logging.Fields, err error) logging.Fields {
	fields["error"] = err.Error()
	return fields
}

// discardBody drains a bounded amount so the connection can be reused.
func discardBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
}

// bufferBody reads a failed response into memory and makes it re-readable.
func bufferBody(resp *http.Response) []byte {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(data))
	return data
}
