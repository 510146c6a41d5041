package transport

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/nghyane/odata-batch/internal/json"
)

func newTestClient(t *testing.T, srv *httptest.Server, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		BaseURL:    srv.URL + "/api/data/v9.2",
		RetryDelay: time.Millisecond,
		HTTPClient: srv.Client(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

// countingAuth returns "Bearer token-N" where N counts provider calls.
func countingAuth(calls *atomic.Int32) AuthHeaderFunc {
	return func(context.Context) (string, error) {
		n := calls.Add(1)
		return "Bearer token-" + strconv.Itoa(int(n)), nil
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Error("expected error for empty base url")
	}
}

func TestSendDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/data/v9.2/WhoAmI" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Default") != "yes" || r.Header.Get("X-Request") != "1" {
			t.Errorf("headers not merged: %v", r.Header)
		}
		w.Header().Set("Content-Type", "application/json; odata.metadata=minimal")
		_, _ = w.Write([]byte(`{"UserId":"u-1","BusinessUnitId":"b-1"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Headers = map[string]string{"X-Default": "yes"}
	})
	out, err := c.Get(context.Background(), &Request{Path: "WhoAmI", Headers: map[string]string{"X-Request": "1"}})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !out.OK || out.Status != http.StatusOK {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	want := map[string]any{"UserId": "u-1", "BusinessUnitId": "b-1"}
	if diff := cmp.Diff(want, out.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestAuthHeaderCachedUntil401(t *testing.T) {
	var calls atomic.Int32
	var seen []string
	reject := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.URL.Path == "/api/data/v9.2/expired" && reject {
			reject = false
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.AuthHeader = countingAuth(&calls)
		cfg.Retries = 1
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.Get(ctx, &Request{Path: "ok"}); err != nil {
			t.Fatalf("Get failed: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected token to be fetched once, got %d", calls.Load())
	}

	out, err := c.Get(ctx, &Request{Path: "expired"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.OK || out.Status != http.StatusUnauthorized {
		t.Fatalf("expected 401 failure outcome, got %+v", out)
	}

	if _, err := c.Get(ctx, &Request{Path: "ok"}); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected token to be re-fetched after 401, got %d fetches", calls.Load())
	}
	want := []string{"Bearer token-1", "Bearer token-1", "Bearer token-1", "Bearer token-2"}
	if diff := cmp.Diff(want, seen); diff != "" {
		t.Errorf("authorization headers (-want +got):\n%s", diff)
	}
}

func TestRetryRecoversFrom401(t *testing.T) {
	var calls atomic.Int32
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-3" {
			t.Errorf("third attempt should carry a freshly fetched token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.AuthHeader = countingAuth(&calls)
		cfg.Retries = 3
		cfg.RetryStatusCodes = []int{http.StatusUnauthorized}
	})

	data, err := Expect(c.Get(context.Background(), &Request{Path: "accounts"}))
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", hits.Load())
	}
	if m, ok := data.(map[string]any); !ok || m["ok"] != true {
		t.Errorf("unexpected data %v", data)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"code":"0x80072560","message":"The user is not a member of the organization."}}`))
	}))
	defer srv.Close()

	var calls atomic.Int32
	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.AuthHeader = countingAuth(&calls)
		cfg.Retries = 3
		cfg.RetryStatusCodes = []int{http.StatusUnauthorized}
	})

	out, err := c.Get(context.Background(), &Request{Path: "accounts"})
	if err != nil {
		t.Fatalf("transport failures should not be returned as errors: %v", err)
	}
	if out.OK {
		t.Fatal("expected failure outcome")
	}
	if hits.Load() != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", hits.Load())
	}
	if calls.Load() != 3 {
		t.Errorf("expected a token fetch per attempt, got %d", calls.Load())
	}

	failure := out.Err()
	if !IsStatus(failure, http.StatusUnauthorized) {
		t.Fatalf("expected 401 HTTPError, got %v", failure)
	}
	var httpErr *HTTPError
	if !errors.As(failure, &httpErr) || httpErr.StatusText != "Unauthorized" {
		t.Errorf("unexpected error %#v", failure)
	}
	if body, _ := io.ReadAll(out.Response.Body); !bytes.Contains(body, []byte("0x80072560")) {
		t.Errorf("failed response body should stay readable, got %q", body)
	}
}

func TestNonRetryableStatusIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	out, err := c.Post(context.Background(), &Request{Path: "accounts", Body: map[string]any{"name": 1}})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if out.OK || out.Status != http.StatusBadRequest || hits.Load() != 1 {
		t.Errorf("expected a single 400 attempt, got status %d after %d hits", out.Status, hits.Load())
	}
}

func TestNetworkFailureOutcome(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(t, srv, func(cfg *Config) { cfg.Retries = 2 })
	srv.Close()

	out, err := c.Get(context.Background(), &Request{Path: "accounts"})
	if err != nil {
		t.Fatalf("network failures should surface as outcomes: %v", err)
	}
	if out.OK || out.Status != 0 || out.StatusText == "" {
		t.Errorf("unexpected outcome %+v", out)
	}
	if _, err := Expect(out, nil); err == nil {
		t.Error("Expect should map the failure to an error")
	}
}

func TestNoContentIgnoresSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	out, err := Send[whoAmI](context.Background(), c, &Request{Method: http.MethodPatch, Path: "accounts(1)", Body: map[string]any{}}, NewStructSchema())
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !out.OK || out.Status != http.StatusNoContent || out.Data != (whoAmI{}) {
		t.Errorf("unexpected outcome %+v", out)
	}
}

type whoAmI struct {
	UserID         string `json:"UserId" validate:"required"`
	BusinessUnitID string `json:"BusinessUnitId" validate:"required,uuid"`
}

func TestSchemaValidation(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"UserId":"u-1","BusinessUnitId":"not-a-uuid"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := Send[whoAmI](context.Background(), c, &Request{Path: "WhoAmI"}, NewStructSchema())

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if verr.Path != "BusinessUnitId" || verr.Value != "not-a-uuid" {
		t.Errorf("unexpected violation %+v", verr.Violation)
	}
	if hits.Load() != 1 {
		t.Errorf("validation failures must not be retried, got %d attempts", hits.Load())
	}
}

func TestSchemaValidationSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"UserId":"u-1","BusinessUnitId":"6f9619ff-8b86-d011-b42d-00c04fc964ff"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	who, err := Expect(Send[whoAmI](context.Background(), c, &Request{Path: "WhoAmI"}, NewStructSchema()))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if who.UserID != "u-1" {
		t.Errorf("unexpected value %+v", who)
	}
}

func TestStreamResponse(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789"), 10_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	out, err := c.Get(context.Background(), &Request{Path: "annotations(1)/documentbody/$value", Stream: true})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.Stream == nil || out.Data != nil {
		t.Fatalf("expected stream without decoded data, got %+v", out)
	}

	var got []byte
	for {
		chunk, err := out.Stream.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		if len(chunk) > DefaultStreamChunkSize {
			t.Errorf("chunk larger than configured size: %d", len(chunk))
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("stream content mismatch: got %d bytes, want %d", len(got), len(payload))
	}
	if _, err := out.Stream.Next(); err != io.EOF {
		t.Errorf("exhausted stream should keep returning io.EOF, got %v", err)
	}
}

func TestUploadStripsNegotiationHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "" {
			t.Errorf("Accept should be stripped, got %q", r.Header.Get("Accept"))
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile failed: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		if header.Filename != "logo.png" || string(content) != "PNG" {
			t.Errorf("unexpected upload %s %q", header.Filename, content)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	out, err := c.Put(context.Background(), &Request{
		Path:     "accounts(1)/entityimage",
		Body:     []byte("PNG"),
		Upload:   true,
		Filename: "logo.png",
		Headers:  map[string]string{"Content-Type": "application/json", "Accept": "application/json"},
	})
	if err != nil || !out.OK {
		t.Fatalf("upload failed: %v %+v", err, out)
	}
}

func TestRawBodySentVerbatim(t *testing.T) {
	const body = "--batch_1\r\nContent-Type: application/http\r\n\r\n--batch_1--\r\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ := io.ReadAll(r.Body)
		if string(got) != body {
			t.Errorf("body altered: %q", got)
		}
		if ct := r.Header.Get("Content-Type"); ct != `multipart/mixed; boundary="batch_1"` {
			t.Errorf("unexpected content type %q", ct)
		}
		w.Header().Set("Content-Type", "multipart/mixed; boundary=batchresponse_1")
		_, _ = w.Write([]byte("--batchresponse_1--\r\n"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	out, err := Send[[]byte](context.Background(), c, &Request{
		Method:  http.MethodPost,
		Path:    "$batch",
		Body:    body,
		RawBody: true,
		Headers: map[string]string{"Content-Type": `multipart/mixed; boundary="batch_1"`},
	}, nil)
	if err != nil || !out.OK {
		t.Fatalf("Send failed: %v %+v", err, out)
	}
	if string(out.Data) != "--batchresponse_1--\r\n" {
		t.Errorf("unexpected raw data %q", out.Data)
	}
}

func TestCompressedResponses(t *testing.T) {
	payload := []byte(`{"value":[{"name":"Contoso"}]}`)

	var gz bytes.Buffer
	gw := gzip.NewWriter(&gz)
	_, _ = gw.Write(payload)
	_ = gw.Close()

	enc, _ := zstd.NewWriter(nil)
	zs := enc.EncodeAll(payload, nil)
	_ = enc.Close()

	var zl bytes.Buffer
	zw := zlib.NewWriter(&zl)
	_, _ = zw.Write(payload)
	_ = zw.Close()

	var fl bytes.Buffer
	fw, _ := flate.NewWriter(&fl, flate.DefaultCompression)
	_, _ = fw.Write(payload)
	_ = fw.Close()

	tests := []struct {
		name     string
		encoding string
		body     []byte
	}{
		{"gzip", "gzip", gz.Bytes()},
		{"zstd", "zstd", zs},
		{"deflate zlib", "deflate", zl.Bytes()},
		{"deflate raw", "deflate", fl.Bytes()},
	}
	for _, tt := range tests {
		encoding, body := tt.encoding, tt.body
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Content-Encoding", encoding)
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv, nil)
			raw, err := Expect(Send[json.RawMessage](context.Background(), c, &Request{Path: "accounts"}, nil))
			if err != nil {
				t.Fatalf("Send failed: %v", err)
			}
			if !bytes.Equal(raw, payload) {
				t.Errorf("decompressed body mismatch: %s", raw)
			}
		})
	}
}

func TestCorruptBodyReportsCause(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Encoding", "gzip")
		_, _ = w.Write([]byte("not gzip at all"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	out, err := Send[string](context.Background(), c, &Request{Path: "accounts"}, nil)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if out.OK {
		t.Fatal("expected a failed outcome for an undecodable body")
	}
	if out.Status != http.StatusOK || out.StatusText == "OK" {
		t.Errorf("status text should carry the decoding error, got %d %q", out.Status, out.StatusText)
	}
	var httpErr *HTTPError
	if !errors.As(out.Err(), &httpErr) || httpErr.Err == nil {
		t.Errorf("expected HTTPError with a cause, got %v", out.Err())
	}
}

func TestIsZlibHeader(t *testing.T) {
	tests := []struct {
		in   []byte
		want bool
	}{
		{[]byte{0x78, 0x9c}, true},
		{[]byte{0x78, 0x01}, true},
		{[]byte{0x78, 0xda}, true},
		{[]byte{0x78, 0x00}, false},
		{[]byte{0x4b, 0x4c}, false},
		{[]byte{0x78}, false},
	}
	for _, tt := range tests {
		if got := isZlibHeader(tt.in); got != tt.want {
			t.Errorf("isZlibHeader(%x) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestContextCancelStopsRetryWait(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, func(cfg *Config) {
		cfg.Retries = 5
		cfg.RetryDelay = time.Hour
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := c.Get(ctx, &Request{Path: "accounts"})
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.OK || !errors.Is(out.Err(), context.DeadlineExceeded) {
		t.Errorf("expected deadline failure, got %v", out.Err())
	}
}

func TestUnknownEncodingLeftAlone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Accept-Encoding"); got != acceptEncoding {
			t.Errorf("Accept-Encoding = %q", got)
		}
		w.Header().Set("Content-Encoding", "identity")
		_, _ = w.Write([]byte("plain"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	text, err := Expect(Send[string](context.Background(), c, &Request{Path: "x"}, nil))
	if err != nil || text != "plain" {
		t.Errorf("got %q, %v", text, err)
	}
}
