package transport

import (
	"errors"
	"io"
)

// DefaultStreamChunkSize is the largest chunk returned by Stream.Next.
const DefaultStreamChunkSize = 32 << 10

// Stream is a pull-based view of a response body: each Next call reads the
// next chunk from the network, so the producer never runs ahead of the
// consumer. The body is closed when the end is reached or on error.
type Stream struct {
	body io.ReadCloser
	buf  []byte
	done bool
	err  error
}

func newStream(body io.ReadCloser, chunkSize int) *Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunkSize
	}
	return &Stream{body: body, buf: make([]byte, chunkSize)}
}

// Next returns the next chunk. It returns io.EOF once the body is exhausted.
// The returned slice is owned by the caller.
func (s *Stream) Next() ([]byte, error) {
	for !s.done {
		n, err := s.body.Read(s.buf)
		if err != nil {
			s.finish(err)
		}
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, s.buf[:n])
			return chunk, nil
		}
	}
	return nil, s.err
}

// Read implements io.Reader over the same underlying body.
func (s *Stream) Read(p []byte) (int, error) {
	if s.done {
		return 0, s.err
	}
	n, err := s.body.Read(p)
	if err != nil {
		s.finish(err)
		return n, s.err
	}
	return n, nil
}

// Close releases the body. Subsequent reads return io.EOF or the earlier error.
func (s *Stream) Close() error {
	if s.done {
		return nil
	}
	s.finish(io.EOF)
	return nil
}

func (s *Stream) finish(err error) {
	s.done = true
	if errors.Is(err, io.EOF) {
		s.err = io.EOF
	} else {
		s.err = err
	}
	_ = s.body.Close()
}
