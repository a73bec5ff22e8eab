package message

import (
	"net/http"

	"github.com/wippyai/fetch-bridge/headers"
)

// ResponseInit carries the optional parts of a Response.
type ResponseInit struct {
	Headers    any
	StatusText string
	Status     int
}

// Response is an immutable response envelope. It holds at most one of a
// stream body and a literal body.
type Response struct {
	*body
	headers    *headers.Headers
	statusText string
	status     int
}

// NewResponse builds a response. Body accepts nil, string, []byte,
// io.Reader or stream.Stream. Status defaults to 200 and StatusText to
// "OK" whatever the status.
func NewResponse(body any, init *ResponseInit) (*Response, error) {
	if init == nil {
		init = &ResponseInit{}
	}
	h, err := headersFrom(init.Headers)
	if err != nil {
		return nil, err
	}
	b, err := newBody(body, false)
	if err != nil {
		return nil, err
	}
	status := init.Status
	if status == 0 {
		status = http.StatusOK
	}
	statusText := init.StatusText
	if statusText == "" {
		statusText = "OK"
	}
	return &Response{
		body:       b,
		headers:    h,
		status:     status,
		statusText: statusText,
	}, nil
}

// Status returns the status code.
func (r *Response) Status() int { return r.status }

// StatusText returns the reason phrase.
func (r *Response) StatusText() string { return r.statusText }

// Headers returns the response header table.
func (r *Response) Headers() *headers.Headers { return r.headers }

// OK reports whether the status is in the 2xx range.
func (r *Response) OK() bool { return r.status >= 200 && r.status < 300 }
