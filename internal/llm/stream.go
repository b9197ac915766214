package llm

import (
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrStreamClosed is returned by Recv after Close.
var ErrStreamClosed = errors.New("llm: stream closed")

// Stream is a forward-only sequence of fragments backed by a live response body.
// The body is released when the stream ends, fails, or is closed; callers that
// stop early must call Close.
type Stream struct {
	body    io.Closer
	decoder *ChunkDecoder

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps a newline-delimited JSON body. A nil logger uses slog.Default().
func NewStream(body io.ReadCloser, logger *slog.Logger) *Stream {
	return &Stream{body: body, decoder: NewChunkDecoder(body, logger)}
}

// Recv returns the next fragment, or io.EOF when the server has finished.
func (s *Stream) Recv() (string, error) {
	if s.closed.Load() {
		return "", ErrStreamClosed
	}

	fragment, err := s.decoder.Next()
	if err != nil {
		s.Close()
		return "", err
	}
	return fragment, nil
}

// Close releases the underlying connection. It is safe to call more than once
// and from a goroutine other than the reader.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// Fragments returns an iterator over the remaining fragments. The stream is
// closed when the iteration ends, including when the loop body breaks early.
// A read error is yielded once as the final element.
func (s *Stream) Fragments() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		defer s.Close()
		for {
			fragment, err := s.Recv()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield("", err)
				}
				return
			}
			if !yield(fragment, nil) {
				return
			}
		}
	}
}

// Collect drains the stream and returns the concatenated text.
func (s *Stream) Collect() (string, error) {
	var b strings.Builder
	for fragment, err := range s.Fragments() {
		if err != nil {
			return b.String(), err
		}
		b.WriteString(fragment)
	}
	return b.String(), nil
}
