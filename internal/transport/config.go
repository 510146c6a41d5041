package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/nghyane/odata-batch/internal/logging"
)

const (
	// DefaultRetries is the total attempt budget when Config.Retries is unset.
	DefaultRetries = 3

	// DefaultRetryDelay is the fixed wait between attempts.
	DefaultRetryDelay = time.Second

	// DefaultUserAgent is sent unless a User-Agent header is configured.
	DefaultUserAgent = "odata-batch/1.0"

	// DefaultCorrelationHeader names the header a caller can set to choose the log correlation id.
	DefaultCorrelationHeader = "x-ms-client-request-id"
)

// DefaultRetryStatusCodes are the statuses retried when Config.RetryStatusCodes is empty.
var DefaultRetryStatusCodes = []int{
	http.StatusUnauthorized,
	http.StatusRequestTimeout,
	http.StatusConflict,
	http.StatusTooEarly,
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// AuthHeaderFunc returns the complete Authorization header value, e.g. "Bearer <token>".
// The client treats the value as opaque.
type AuthHeaderFunc func(ctx context.Context) (string, error)

// Config configures a Client. It is copied by NewClient and never read again.
type Config struct {
	// BaseURL is joined with every request path.
	BaseURL string

	// Headers are sent with every request; request headers override them.
	Headers map[string]string

	// Query parameters are added to every request and win over request query
	// parameters with the same key.
	Query map[string]string

	// AuthHeader, when set, supplies the Authorization header. The value is
	// cached until a 401 response is observed.
	AuthHeader AuthHeaderFunc

	// Retries is the total number of attempts per call (default: 3).
	Retries int

	// RetryStatusCodes lists the statuses that trigger another attempt
	// (default: DefaultRetryStatusCodes).
	RetryStatusCodes []int

	// RetryDelay is the fixed wait between attempts (default: 1s).
	RetryDelay time.Duration

	// Logger receives request diagnostics. Nil disables logging.
	Logger logging.Logger

	// HTTPClient overrides the underlying client (tests, custom TLS).
	HTTPClient *http.Client

	// ProxyURL routes requests through an http, https or socks5 proxy.
	ProxyURL string

	// CorrelationHeader names the request header whose value is used as the
	// log correlation id (default: x-ms-client-request-id).
	CorrelationHeader string

	// UserAgent overrides DefaultUserAgent.
	UserAgent string
}

func (c Config) withDefaults() Config {
	if c.Retries <= 0 {
		c.Retries = DefaultRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if len(c.RetryStatusCodes) == 0 {
		c.RetryStatusCodes = DefaultRetryStatusCodes
	}
	if c.CorrelationHeader == "" {
		c.CorrelationHeader = DefaultCorrelationHeader
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	c.Logger = logging.OrNop(c.Logger)
	c.Headers = cloneMap(c.Headers)
	c.Query = cloneMap(c.Query)
	c.RetryStatusCodes = append([]int(nil), c.RetryStatusCodes...)
	return c
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
