package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/message"
	"github.com/wippyai/fetch-bridge/multipart"
	"github.com/wippyai/fetch-bridge/route"
)

// describe answers with a JSON summary of the request.
func describe(ctx context.Context, req *message.Request, rc *route.Context) (any, error) {
	out := map[string]any{
		"method":  req.Method(),
		"url":     req.URL(),
		"query":   rc.Query(),
		"headers": req.Headers().Entries(),
	}
	if params := rc.Params(); len(params) > 0 {
		out["params"] = params
	}
	if wild := rc.Wildcards(); len(wild) > 0 {
		out["wildcards"] = wild
	}

	if strings.HasPrefix(req.Headers().Value("content-type"), "multipart/form-data") {
		fd, err := multipart.ReadForm(ctx, req)
		if err != nil {
			return nil, err
		}
		form := make(map[string][]string)
		for name, value := range fd.All() {
			form[name] = append(form[name], value)
		}
		out["form"] = form
		return out, nil
	}

	body, err := req.Text(ctx)
	if err != nil {
		return nil, err
	}
	out["bodyLength"] = len(body)
	return out, nil
}

// proxy forwards every request to a fixed upstream through Bridge.Fetch
// and streams the upstream response back.
type proxy struct {
	bridge *bridge.Bridge
	base   *url.URL
}

func newProxy(b *bridge.Bridge, upstream string) (*proxy, error) {
	base, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("upstream: unsupported scheme %q", base.Scheme)
	}
	return &proxy{bridge: b, base: base}, nil
}

func (p *proxy) target(rawURL string) (string, error) {
	in, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	out := *p.base
	out.Path = strings.TrimSuffix(p.base.Path, "/") + in.Path
	out.RawPath = ""
	out.RawQuery = in.RawQuery
	return out.String(), nil
}

func (p *proxy) ServeExchange(ctx context.Context, req *message.Request, _ *route.Context) (any, error) {
	target, err := p.target(req.URL())
	if err != nil {
		return nil, err
	}

	hdr := req.Headers().Clone()
	for _, name := range []string{"host", "connection", "transfer-encoding"} {
		_ = hdr.Delete(name)
	}

	init := &message.RequestInit{Method: req.Method(), Headers: hdr}
	if req.Headers().Has("content-length") || req.Headers().Has("transfer-encoding") {
		body, err := req.TakeStream()
		if err != nil {
			return nil, err
		}
		if body != nil {
			init.Body = body
		}
	}
	return p.bridge.Fetch(ctx, target, init)
}
