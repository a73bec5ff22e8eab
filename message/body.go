package message

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync/atomic"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/stream"
)

// BodyKind identifies how a message body is held.
type BodyKind uint8

const (
	BodyNone BodyKind = iota
	BodyLiteral
	BodyStream
	BodyForm
)

func (k BodyKind) String() string {
	switch k {
	case BodyNone:
		return "none"
	case BodyLiteral:
		return "literal"
	case BodyStream:
		return "stream"
	case BodyForm:
		return "form"
	default:
		return "unknown"
	}
}

// Readable is the body-reading capability shared by Request and Response.
// Every reader is single-shot: a second read fails with errors.ErrBodyUsed.
type Readable interface {
	Bytes(ctx context.Context) ([]byte, error)
	Text(ctx context.Context) (string, error)
	JSON(ctx context.Context, v any) error
	BodyUsed() bool
}

var (
	_ Readable = (*Request)(nil)
	_ Readable = (*Response)(nil)
)

// body holds at most one of a literal string, a stream or form data.
type body struct {
	stream  stream.Stream
	form    *FormData
	literal string
	kind    BodyKind
	used    atomic.Bool
}

// newBody classifies a body initializer. allowForm is false for responses.
func newBody(v any, allowForm bool) (*body, error) {
	switch b := v.(type) {
	case nil:
		return &body{kind: BodyNone}, nil
	case string:
		return &body{kind: BodyLiteral, literal: b}, nil
	case []byte:
		return &body{kind: BodyStream, stream: stream.FromBytes(b)}, nil
	case stream.Stream:
		return &body{kind: BodyStream, stream: b}, nil
	case *FormData:
		if allowForm && b != nil {
			return &body{kind: BodyForm, form: b}, nil
		}
	case io.Reader:
		return &body{kind: BodyStream, stream: stream.FromReader(b, 0)}, nil
	}
	return nil, errors.InvalidBody(v)
}

// BodyKind reports how the body is held.
func (b *body) BodyKind() BodyKind {
	return b.kind
}

// Literal returns the literal string body, if that is what the message holds.
func (b *body) Literal() (string, bool) {
	return b.literal, b.kind == BodyLiteral
}

// TakeStream hands the stream body to a single consumer and marks the body
// used. It returns nil for non-stream bodies.
func (b *body) TakeStream() (stream.Stream, error) {
	if b.kind != BodyStream {
		return nil, nil
	}
	if !b.used.CompareAndSwap(false, true) {
		return nil, errors.BodyUsed()
	}
	return b.stream, nil
}

// Form returns the form body, or nil when the body is not form data.
func (b *body) Form() *FormData {
	return b.form
}

// BodyUsed reports whether a reader has already consumed the body.
func (b *body) BodyUsed() bool {
	return b.used.Load()
}

// Bytes reads the whole body. An absent body reads as empty.
func (b *body) Bytes(ctx context.Context) ([]byte, error) {
	if !b.used.CompareAndSwap(false, true) {
		return nil, errors.BodyUsed()
	}
	switch b.kind {
	case BodyLiteral:
		return []byte(b.literal), nil
	case BodyStream:
		return stream.ReadAll(ctx, b.stream)
	case BodyForm:
		return nil, errors.Unsupported(errors.PhaseEncode, "form body must be multipart-encoded before reading")
	default:
		return []byte{}, nil
	}
}

// Text reads the whole body as UTF-8.
func (b *body) Text(ctx context.Context) (string, error) {
	data, err := b.Bytes(ctx)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// JSON reads the whole body and decodes it into v.
func (b *body) JSON(ctx context.Context, v any) error {
	data, err := b.Bytes(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.ParseFailed("json body", err)
	}
	return nil
}

// Cancel releases a stream body that will not be read.
func (b *body) Cancel(cause error) {
	if b.kind == BodyStream && b.used.CompareAndSwap(false, true) {
		stream.Cancel(b.stream, cause)
	}
}
