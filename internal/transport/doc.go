// Package transport is the typed HTTP client used to talk to the entity store.
//
// Structure:
//
//	config.go      - client configuration and defaults
//	client.go      - Client, Send and the per-method helpers
//	request.go     - request descriptor, URL and body construction
//	outcome.go     - success/failure result and error mapping
//	auth.go        - lazily fetched, invalidate-on-401 Authorization cache
//	retry.go       - fixed-delay retry policy keyed on status codes
//	decode.go      - response decoding and schema validation
//	stream.go      - pull-based reader over a streamed response body
//	compression.go - Content-Encoding decoding (gzip, deflate, br, zstd)
//	http.go        - shared http.Transport, HTTP/2 and proxy setup
package transport
