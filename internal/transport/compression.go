package transport

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding is advertised on every request; responses are decoded here
// rather than by net/http so br and zstd work too.
const acceptEncoding = "gzip, deflate, br, zstd"

var (
	gzipPool   = sync.Pool{New: func() any { return new(gzip.Reader) }}
	brotliPool = sync.Pool{New: func() any { return new(brotli.Reader) }}
	zstdPool   = sync.Pool{New: func() any {
		d, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return d
	}}
)

// pooledReader decodes body and hands its decoder back on Close.
type pooledReader struct {
	io.Reader
	body    io.ReadCloser
	release func()
}

func (p *pooledReader) Close() error {
	if p.release != nil {
		p.release()
		p.release = nil
	}
	return p.body.Close()
}

// decodeResponseBody replaces resp.Body with a decoder for its
// Content-Encoding and clears the encoding headers. Unknown encodings are left
// as they are.
func decodeResponseBody(resp *http.Response) error {
	encoding := strings.TrimSpace(resp.Header.Get("Content-Encoding"))
	if encoding == "" || resp.Body == nil || resp.Body == http.NoBody {
		return nil
	}
	decoded, err := newDecoder(resp.Body, encoding)
	if err != nil {
		_ = resp.Body.Close()
		return err
	}
	if decoded == nil {
		return nil
	}
	resp.Body = decoded
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// newDecoder returns nil when contentEncoding names nothing it can decode.
func newDecoder(body io.ReadCloser, contentEncoding string) (io.ReadCloser, error) {
	for _, token := range strings.Split(contentEncoding, ",") {
		switch strings.ToLower(strings.TrimSpace(token)) {
		case "gzip", "x-gzip":
			gr := gzipPool.Get().(*gzip.Reader)
			if err := gr.Reset(body); err != nil {
				gzipPool.Put(gr)
				return nil, fmt.Errorf("transport: gzip response: %w", err)
			}
			return &pooledReader{Reader: gr, body: body, release: func() {
				_ = gr.Close()
				gzipPool.Put(gr)
			}}, nil
		case "deflate":
			return newDeflateReader(body)
		case "br":
			br := brotliPool.Get().(*brotli.Reader)
			if err := br.Reset(body); err != nil {
				brotliPool.Put(br)
				return nil, fmt.Errorf("transport: brotli response: %w", err)
			}
			return &pooledReader{Reader: br, body: body, release: func() { brotliPool.Put(br) }}, nil
		case "zstd":
			zr := zstdPool.Get().(*zstd.Decoder)
			if err := zr.Reset(body); err != nil {
				zstdPool.Put(zr)
				return nil, fmt.Errorf("transport: zstd response: %w", err)
			}
			return &pooledReader{Reader: zr, body: body, release: func() {
				_ = zr.Reset(nil)
				zstdPool.Put(zr)
			}}, nil
		}
	}
	return nil, nil
}

// newDeflateReader decodes HTTP deflate, which is zlib-wrapped. Some servers
// send raw DEFLATE instead, so the zlib header is checked first.
func newDeflateReader(body io.ReadCloser) (io.ReadCloser, error) {
	buffered := bufio.NewReader(body)
	header, _ := buffered.Peek(2)
	if len(header) == 0 {
		return &pooledReader{Reader: buffered, body: body}, nil
	}
	if !isZlibHeader(header) {
		fr := flate.NewReader(buffered)
		return &pooledReader{Reader: fr, body: body, release: func() { _ = fr.Close() }}, nil
	}
	zr, err := zlib.NewReader(buffered)
	if err != nil {
		return nil, fmt.Errorf("transport: deflate response: %w", err)
	}
	return &pooledReader{Reader: zr, body: body, release: func() { _ = zr.Close() }}, nil
}

// isZlibHeader checks the RFC 1950 CMF/FLG pair: method 8 and a header
// checksum divisible by 31.
func isZlibHeader(h []byte) bool {
	if len(h) < 2 {
		return false
	}
	return h[0]&0x0f == 8 && (uint16(h[0])<<8|uint16(h[1]))%31 == 0
}
