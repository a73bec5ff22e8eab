package bridge

import (
	"context"
	"net/url"

	"github.com/wippyai/fetch-bridge/exchange"
	"github.com/wippyai/fetch-bridge/headers"
	"github.com/wippyai/fetch-bridge/message"
	"github.com/wippyai/fetch-bridge/route"
)

// Host is the native side of the bridge. The bridge calls it to deliver
// responses for inbound exchanges and to issue outbound fetches; the host
// calls back through the Bridge.Dispatch* methods.
//
// For one exchange ID the bridge makes its calls in protocol order and
// never concurrently, except for Aborter.Abort.
type Host interface {
	// StartResponse sends the response head. Chunks follow through
	// WriteResponseChunk and the body ends with EndResponse.
	StartResponse(ctx context.Context, id uint64, head ResponseHead) error

	// SendResponse sends a complete response with a literal body. No
	// further calls follow for id.
	SendResponse(ctx context.Context, id uint64, head ResponseHead, body string) error

	// WriteResponseChunk sends one body chunk. Chunks may be empty.
	WriteResponseChunk(ctx context.Context, id uint64, chunk []byte) error

	// EndResponse marks the end of a streamed response body.
	EndResponse(ctx context.Context, id uint64) error

	// IssueFetch starts an outbound request. For ModeStream, body chunks
	// follow through SendFetchChunk and end with EndFetchBody.
	IssueFetch(ctx context.Context, head FetchHead) error

	// SendFetchChunk sends one outbound request body chunk.
	SendFetchChunk(ctx context.Context, id uint64, chunk []byte) error

	// EndFetchBody marks the end of an outbound request body.
	EndFetchBody(ctx context.Context, id uint64) error
}

// Aborter is implemented by hosts that can tear down an exchange early.
// The bridge calls it when a fetch is canceled by its caller, when a
// response consumer drops the body, and when streaming a response fails
// after its head was sent.
type Aborter interface {
	Abort(ctx context.Context, dir exchange.Direction, id uint64, cause error)
}

// ResponseHead is the status line and headers of a response.
type ResponseHead struct {
	Headers    *headers.Headers
	StatusText string
	Status     int
}

// FetchMode selects how an outbound request body travels to the host.
type FetchMode string

const (
	ModeString FetchMode = "string" // body in FetchHead.Body
	ModeStream FetchMode = "stream" // body chunks follow IssueFetch
	ModeNone   FetchMode = "none"   // no body
)

// FetchHead describes an outbound request.
type FetchHead struct {
	URL      *url.URL
	Headers  *headers.Headers
	RawURL   string
	Scheme   string
	Hostname string
	Port     string // defaults to the scheme's well-known port
	Target   string // path plus query string
	Method   string // upper-cased
	Mode     FetchMode
	Body     string // ModeString only
	ID       uint64
}

// FetchMeta is the response head the host reports for a fetch.
type FetchMeta struct {
	// Headers accepts anything headers.New accepts.
	Headers    any
	StatusText string
	// Body is the complete response body when Buffered is set.
	Body     []byte
	Status   int
	Buffered bool
}

// Handler serves inbound requests.
type Handler interface {
	ServeExchange(ctx context.Context, req *message.Request, rc *route.Context) (any, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *message.Request, rc *route.Context) (any, error)

func (f HandlerFunc) ServeExchange(ctx context.Context, req *message.Request, rc *route.Context) (any, error) {
	return f(ctx, req, rc)
}

// Routed is implemented by handlers that carry their own route pattern.
type Routed interface {
	Pattern() *route.Pattern
}

type routedHandler struct {
	Handler
	pattern *route.Pattern
}

func (h routedHandler) Pattern() *route.Pattern { return h.pattern }

// WithRoute binds h to a route pattern used for Context.Params.
func WithRoute(pattern string, h Handler) (Handler, error) {
	p, err := route.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return routedHandler{Handler: h, pattern: p}, nil
}
