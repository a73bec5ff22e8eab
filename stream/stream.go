// Package stream provides the body stream abstraction used by requests and
// responses.
//
// A Stream is a lazy, single-consumer sequence of byte chunks. Next returns
// chunks in order and io.EOF once the producer has finished; an empty chunk
// is a valid chunk and never signals the end.
//
// Three sources are provided:
//
//	stream.FromString("hello")     // exactly one chunk, then EOF
//	stream.FromBytes(buf)          // exactly one chunk, then EOF
//	r, w := stream.NewPipe(1)      // push source fed by w, read through r
//
// A pipe applies backpressure: PipeWriter.Write waits until fewer than
// highWaterMark chunks are queued. Every blocking call takes a context.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"

	"github.com/wippyai/fetch-bridge/errors"
)

// Stream is a lazy sequence of body chunks.
type Stream interface {
	// Next returns the next chunk, or io.EOF when the stream has ended.
	Next(ctx context.Context) ([]byte, error)
}

// Canceler is implemented by streams whose producer can be told the
// consumer has gone away.
type Canceler interface {
	Cancel(cause error)
}

type onceStream struct {
	chunk []byte
	done  bool
}

// FromString returns a stream yielding s as a single chunk.
func FromString(s string) Stream {
	return &onceStream{chunk: []byte(s)}
}

// FromBytes returns a stream yielding a copy of b as a single chunk.
func FromBytes(b []byte) Stream {
	return &onceStream{chunk: append([]byte(nil), b...)}
}

func (s *onceStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	chunk := s.chunk
	s.chunk = nil
	return chunk, nil
}

func (s *onceStream) Cancel(error) {
	s.done = true
	s.chunk = nil
}

type readerStream struct {
	r         io.Reader
	chunkSize int
	err       error
}

// FromReader returns a stream reading r in chunks of at most chunkSize
// bytes. Every chunk is a fresh buffer. r is closed on EOF, error or Cancel
// when it implements io.Closer.
func FromReader(r io.Reader, chunkSize int) Stream {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &readerStream{r: r, chunkSize: chunkSize}
}

// DefaultChunkSize is the chunk size used by FromReader when none is given.
const DefaultChunkSize = 32 * 1024

func (s *readerStream) Next(ctx context.Context) ([]byte, error) {
	for {
		if s.err != nil {
			return nil, s.err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		buf := make([]byte, s.chunkSize)
		n, err := s.r.Read(buf)
		if err != nil {
			s.finish(err)
		}
		if n > 0 {
			return buf[:n], nil
		}
		if err == nil {
			continue
		}
	}
}

func (s *readerStream) finish(err error) {
	s.err = err
	if c, ok := s.r.(io.Closer); ok {
		_ = c.Close()
	}
}

func (s *readerStream) Cancel(cause error) {
	if s.err == nil {
		s.finish(errors.StreamCanceled(cause))
	}
}

// Chunks adapts s to a range-over-func iterator. Iteration stops after the
// first error; io.EOF ends iteration without being yielded.
func Chunks(ctx context.Context, s Stream) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		for {
			chunk, err := s.Next(ctx)
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// ReadAll drains s into a single buffer.
func ReadAll(ctx context.Context, s Stream) ([]byte, error) {
	var out []byte
	for chunk, err := range Chunks(ctx, s) {
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// Text drains s and decodes it as UTF-8, replacing invalid sequences with
// U+FFFD.
func Text(ctx context.Context, s Stream) (string, error) {
	b, err := ReadAll(ctx, s)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

// JSON drains s and decodes the text into v.
func JSON(ctx context.Context, s Stream, v any) error {
	b, err := ReadAll(ctx, s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.ParseFailed("json body", err)
	}
	return nil
}

// Cancel tells the producer of s that nothing more will be read, if s
// supports it.
func Cancel(s Stream, cause error) {
	if c, ok := s.(Canceler); ok {
		c.Cancel(cause)
	}
}
