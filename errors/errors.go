package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the bridge the error occurred
type Phase string

const (
	PhaseConstruct Phase = "construct" // building headers, messages, form data
	PhaseHandler   Phase = "handler"   // user handler execution
	PhaseProtocol  Phase = "protocol"  // handler result classification
	PhaseTransport Phase = "transport" // host-reported fetch failures
	PhaseStream    Phase = "stream"    // body stream reads and writes
	PhaseDispatch  Phase = "dispatch"  // host callback routing
	PhaseRoute     Phase = "route"     // route pattern compilation
	PhaseEncode    Phase = "encode"    // multipart and JSON encoding
	PhaseDecode    Phase = "decode"    // body parsing
)

// Kind categorizes the error
type Kind string

const (
	KindInvalidHeaderName   Kind = "invalid_header_name"
	KindInvalidHeaderValue  Kind = "invalid_header_value"
	KindInvalidHeaders      Kind = "invalid_headers"
	KindInvalidBody         Kind = "invalid_body"
	KindInvalidURL          Kind = "invalid_url"
	KindUnsupportedProtocol Kind = "unsupported_protocol"
	KindUnsupported         Kind = "unsupported"
	KindBodyUsed            Kind = "body_used"
	KindInvalidResponse     Kind = "invalid_response"
	KindInvalidResponseType Kind = "invalid_response_type"
	KindNotSerializable     Kind = "not_serializable"
	KindHandlerFailed       Kind = "handler_failed"
	KindFetchFailed         Kind = "fetch_failed"
	KindNotFound            Kind = "not_found"
	KindDuplicate           Kind = "duplicate"
	KindClosed              Kind = "closed"
	KindCanceled            Kind = "canceled"
	KindParse               Kind = "parse"
	KindInvalidInput        Kind = "invalid_input"
)

// Error is the structured error type used throughout the bridge
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Sentinel targets for errors.Is checks. Only Phase and Kind are compared.
var (
	ErrInvalidHeaderName   = &Error{Phase: PhaseConstruct, Kind: KindInvalidHeaderName}
	ErrInvalidHeaderValue  = &Error{Phase: PhaseConstruct, Kind: KindInvalidHeaderValue}
	ErrInvalidHeaders      = &Error{Phase: PhaseConstruct, Kind: KindInvalidHeaders}
	ErrUnsupportedProtocol = &Error{Phase: PhaseConstruct, Kind: KindUnsupportedProtocol}
	ErrBodyUsed            = &Error{Phase: PhaseStream, Kind: KindBodyUsed}
	ErrStreamClosed        = &Error{Phase: PhaseStream, Kind: KindClosed}
	ErrStreamCanceled      = &Error{Phase: PhaseStream, Kind: KindCanceled}
	ErrFetchFailed         = &Error{Phase: PhaseTransport, Kind: KindFetchFailed}
)

// Convenience constructors for common error patterns

// InvalidHeaderName creates a header name validation error
func InvalidHeaderName(name string) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindInvalidHeaderName,
		Value:  name,
		Detail: fmt.Sprintf("invalid header name %q", name),
	}
}

// InvalidHeaderValue creates a header value validation error
func InvalidHeaderValue(name, value string) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindInvalidHeaderValue,
		Path:   []string{name},
		Value:  value,
		Detail: fmt.Sprintf("invalid header value %q", value),
	}
}

// InvalidHeaders creates an error for a malformed headers initializer
func InvalidHeaders(detail string) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindInvalidHeaders,
		Detail: detail,
	}
}

// UnsupportedProtocol creates an error for a non-http(s) fetch target
func UnsupportedProtocol(scheme string) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindUnsupportedProtocol,
		Value:  scheme,
		Detail: fmt.Sprintf("unsupported protocol %q", scheme+":"),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidBody creates an error for a body value of unsupported type
func InvalidBody(v any) *Error {
	return &Error{
		Phase:  PhaseConstruct,
		Kind:   KindInvalidBody,
		GoType: fmt.Sprintf("%T", v),
		Detail: "body must be a string, []byte, stream or form data",
	}
}

// BodyUsed creates an error for a second read of a single-consumer body
func BodyUsed() *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindBodyUsed,
		Detail: "body stream already consumed",
	}
}

// StreamClosed creates an error for a write after close
func StreamClosed() *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindClosed,
		Detail: "write to closed stream",
	}
}

// StreamCanceled creates an error for a write after the reader went away
func StreamCanceled(cause error) *Error {
	return &Error{
		Phase:  PhaseStream,
		Kind:   KindCanceled,
		Detail: "stream reader canceled",
		Cause:  cause,
	}
}

// ExchangeNotFound creates an error for a callback naming an unknown exchange
func ExchangeNotFound(direction string, id uint64) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNotFound,
		Path:   []string{direction},
		Value:  id,
		Detail: fmt.Sprintf("no exchange with id %d", id),
	}
}

// DuplicateExchange creates an error for reuse of a live exchange id
func DuplicateExchange(direction string, id uint64) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindDuplicate,
		Path:   []string{direction},
		Value:  id,
		Detail: fmt.Sprintf("exchange id %d already in flight", id),
	}
}

// FetchFailed wraps a host-reported transport error
func FetchFailed(id uint64, cause error) *Error {
	return &Error{
		Phase:  PhaseTransport,
		Kind:   KindFetchFailed,
		Value:  id,
		Detail: fmt.Sprintf("fetch %d failed", id),
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// ParseFailed creates a parsing error
func ParseFailed(what string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindParse,
		Detail: fmt.Sprintf("parse %s", what),
		Cause:  cause,
	}
}
