package message

import (
	"github.com/wippyai/fetch-bridge/headers"
)

// RequestInit carries the optional parts of a Request.
//
// Headers accepts anything headers.New accepts; a *headers.Headers is used
// as is, not copied. Body accepts nil, string, []byte, io.Reader,
// stream.Stream or *FormData.
type RequestInit struct {
	Headers any
	Body    any
	Method  string
}

// Request is an immutable request envelope.
type Request struct {
	*body
	headers *headers.Headers
	url     string
	method  string
}

// NewRequest builds a request for url. A nil init yields a GET without body.
func NewRequest(url string, init *RequestInit) (*Request, error) {
	if init == nil {
		init = &RequestInit{}
	}
	h, err := headersFrom(init.Headers)
	if err != nil {
		return nil, err
	}
	b, err := newBody(init.Body, true)
	if err != nil {
		return nil, err
	}
	method := init.Method
	if method == "" {
		method = "GET"
	}
	return &Request{
		body:    b,
		headers: h,
		url:     url,
		method:  method,
	}, nil
}

// URL returns the request URL as given.
func (r *Request) URL() string { return r.url }

// Method returns the request method; "GET" when none was given.
func (r *Request) Method() string { return r.method }

// Headers returns the request header table.
func (r *Request) Headers() *headers.Headers { return r.headers }

func headersFrom(init any) (*headers.Headers, error) {
	if h, ok := init.(*headers.Headers); ok && h != nil {
		return h, nil
	}
	return headers.New(init)
}

// NewRequestFrom derives a request from req, overriding the parts init sets.
// When init carries no body the new request shares req's body, so only one
// of them can consume it.
func NewRequestFrom(req *Request, init *RequestInit) (*Request, error) {
	if init == nil {
		return req, nil
	}
	out := &Request{
		body:    req.body,
		headers: req.headers,
		url:     req.url,
		method:  req.method,
	}
	if init.Method != "" {
		out.method = init.Method
	}
	if init.Headers != nil {
		h, err := headersFrom(init.Headers)
		if err != nil {
			return nil, err
		}
		out.headers = h
	}
	if init.Body != nil {
		b, err := newBody(init.Body, true)
		if err != nil {
			return nil, err
		}
		out.body = b
	}
	return out, nil
}
