package bridge

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/exchange"
	"github.com/wippyai/fetch-bridge/headers"
	"github.com/wippyai/fetch-bridge/message"
	"github.com/wippyai/fetch-bridge/multipart"
	"github.com/wippyai/fetch-bridge/stream"
)

type fetchResult struct {
	resp *message.Response
	err  error
}

// outbound is the record payload of a fetch in flight.
type outbound struct {
	head         chan fetchResult
	writer       *stream.PipeWriter
	cause        error
	stopWatch    func() bool
	cancelUpload context.CancelFunc
	mu           sync.Mutex
	headSent     bool
}

// deliverLocked hands the single head result to the waiting Fetch.
func (o *outbound) deliverLocked(res fetchResult) bool {
	if o.headSent {
		return false
	}
	o.headSent = true
	o.head <- res
	return true
}

func (o *outbound) fail(cause error) {
	o.mu.Lock()
	if o.cause == nil {
		o.cause = cause
	}
	o.mu.Unlock()
}

func (o *outbound) responseWriter() *stream.PipeWriter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.writer
}

func (o *outbound) Drop() {
	o.mu.Lock()
	cause := o.cause
	if cause == nil {
		cause = errors.StreamClosed()
	}
	o.deliverLocked(fetchResult{err: cause})
	w, stop := o.writer, o.stopWatch
	o.mu.Unlock()

	if stop != nil {
		stop()
	}
	if w != nil {
		w.Abort(cause)
	}
	o.cancelUpload()
}

// Fetch issues an outbound request through the host and returns once the
// response head arrives. input is a URL string, *url.URL or
// *message.Request; init overrides parts of it.
//
// ctx covers the whole exchange: cancelling it before the response body
// has been read aborts the fetch.
func (b *Bridge) Fetch(ctx context.Context, input any, init *message.RequestInit) (*message.Response, error) {
	req, err := toRequest(input, init)
	if err != nil {
		return nil, err
	}
	head, err := fetchHead(req)
	if err != nil {
		return nil, err
	}

	var upload stream.Stream
	switch req.BodyKind() {
	case message.BodyLiteral:
		data, err := req.Bytes(ctx)
		if err != nil {
			return nil, err
		}
		head.Mode, head.Body = ModeString, string(data)
	case message.BodyForm:
		enc, err := multipart.Encode(req.Form())
		if err != nil {
			return nil, err
		}
		if err := req.Headers().Set("Content-Type", enc.ContentType); err != nil {
			return nil, err
		}
		head.Mode, head.Body = ModeString, enc.Body
	case message.BodyStream:
		if upload, err = req.TakeStream(); err != nil {
			return nil, err
		}
		head.Mode = ModeStream
	default:
		head.Mode = ModeNone
	}
	head.Headers = req.Headers()
	head.ID = b.table.NextID()

	uploadCtx, cancelUpload := context.WithCancel(ctx)
	out := &outbound{
		head:         make(chan fetchResult, 1),
		cancelUpload: cancelUpload,
	}
	rec, err := b.table.Insert(exchange.Outbound, head.ID, exchange.Requested, head.Method+" "+head.RawURL, out)
	if err != nil {
		cancelUpload()
		if upload != nil {
			stream.Cancel(upload, err)
		}
		return nil, err
	}
	out.mu.Lock()
	out.stopWatch = context.AfterFunc(ctx, func() {
		b.cancelFetch(rec, context.Cause(ctx))
	})
	out.mu.Unlock()

	if err := b.host.IssueFetch(ctx, head); err != nil {
		if upload != nil {
			stream.Cancel(upload, err)
		}
		ferr := errors.FetchFailed(head.ID, err)
		b.failFetch(rec, ferr)
		return nil, ferr
	}
	b.table.TransitionFrom(rec, exchange.Requested, exchange.HeadersAwaited)

	if upload != nil {
		b.wg.Add(1)
		go b.pumpUpload(uploadCtx, rec, upload)
	}

	select {
	case res := <-out.head:
		return res.resp, res.err
	case <-ctx.Done():
		b.cancelFetch(rec, context.Cause(ctx))
		return nil, ctx.Err()
	}
}

// DispatchFetchHead delivers the response head of fetch id and resolves
// the pending Fetch. With meta.Buffered the body travels in the head and
// the exchange closes immediately.
func (b *Bridge) DispatchFetchHead(ctx context.Context, id uint64, meta FetchMeta) error {
	rec, err := b.table.Lookup(exchange.Outbound, id)
	if err != nil {
		return err
	}
	out := rec.Value().(*outbound)

	hdr, err := headers.New(meta.Headers)
	if err != nil {
		b.failFetch(rec, err)
		return err
	}
	init := &message.ResponseInit{
		Status:     meta.Status,
		StatusText: meta.StatusText,
		Headers:    hdr,
	}

	if meta.Buffered {
		resp, err := message.NewResponse(string(meta.Body), init)
		if err != nil {
			b.failFetch(rec, err)
			return err
		}
		b.table.Transition(rec, exchange.BufferedResponse)
		out.mu.Lock()
		ok := out.deliverLocked(fetchResult{resp: resp})
		out.mu.Unlock()
		if !ok {
			return duplicateHead(id)
		}
		b.table.Transition(rec, exchange.Closed)
		b.table.Remove(rec)
		return nil
	}

	r, w := stream.NewPipe(b.hwm)
	resp, err := message.NewResponse(r, init)
	if err != nil {
		b.failFetch(rec, err)
		return err
	}
	b.table.Transition(rec, exchange.StreamingResponse)
	out.mu.Lock()
	ok := !out.headSent
	if ok {
		out.writer = w
		out.deliverLocked(fetchResult{resp: resp})
	}
	out.mu.Unlock()
	if !ok {
		return duplicateHead(id)
	}
	return nil
}

// DispatchFetchChunk delivers one response body chunk of fetch id. It
// blocks while the consumer has not read earlier chunks. If the consumer
// has dropped the body the fetch is aborted.
func (b *Bridge) DispatchFetchChunk(ctx context.Context, id uint64, chunk []byte) error {
	rec, err := b.table.Lookup(exchange.Outbound, id)
	if err != nil {
		return err
	}
	w := rec.Value().(*outbound).responseWriter()
	if w == nil {
		return errors.InvalidInput(errors.PhaseDispatch, fmt.Sprintf("fetch %d: body chunk before response head", id))
	}
	if err := w.Write(ctx, chunk); err != nil {
		if stderrors.Is(err, errors.ErrStreamCanceled) {
			b.cancelFetch(rec, err)
		}
		b.logger.Debug("response body chunk dropped",
			append(recordFields(rec), zap.Int("size", len(chunk)), zap.Error(err))...)
		return err
	}
	return nil
}

// DispatchFetchEnd closes the response body of fetch id.
func (b *Bridge) DispatchFetchEnd(ctx context.Context, id uint64) error {
	rec, err := b.table.Lookup(exchange.Outbound, id)
	if err != nil {
		return err
	}
	w := rec.Value().(*outbound).responseWriter()
	if w == nil {
		return errors.InvalidInput(errors.PhaseDispatch, fmt.Sprintf("fetch %d: body end before response head", id))
	}
	err = w.Close()
	b.table.Transition(rec, exchange.Closed)
	b.table.Remove(rec)
	return err
}

// DispatchFetchError reports a transport failure for fetch id. A pending
// Fetch is rejected; a response body being read fails with the error.
func (b *Bridge) DispatchFetchError(ctx context.Context, id uint64, cause error) error {
	rec, err := b.table.Lookup(exchange.Outbound, id)
	if err != nil {
		return err
	}
	b.failFetch(rec, errors.FetchFailed(id, cause))
	return nil
}

func (b *Bridge) failFetch(rec *exchange.Record, err error) {
	rec.Value().(*outbound).fail(err)
	b.table.Transition(rec, exchange.Errored)
	if b.table.Remove(rec) {
		b.logger.Warn("fetch rejected", append(recordFields(rec), zap.Error(err))...)
	}
}

// cancelFetch drops a fetch from the caller's side and tells the host.
func (b *Bridge) cancelFetch(rec *exchange.Record, cause error) {
	rec.Value().(*outbound).fail(errors.StreamCanceled(cause))
	b.table.Transition(rec, exchange.Errored)
	if b.table.Remove(rec) {
		b.logger.Debug("fetch canceled", append(recordFields(rec), zap.Error(cause))...)
		b.abortHost(exchange.Outbound, rec.ID(), cause)
	}
}

// pumpUpload forwards the request body of a stream-mode fetch.
func (b *Bridge) pumpUpload(ctx context.Context, rec *exchange.Record, s stream.Stream) {
	defer b.wg.Done()
	id := rec.ID()

	var err error
	for chunk, cerr := range stream.Chunks(ctx, s) {
		if err = cerr; err == nil {
			err = b.host.SendFetchChunk(ctx, id, chunk)
		}
		if err != nil {
			break
		}
	}
	if err == nil {
		err = b.host.EndFetchBody(ctx, id)
	}
	if err == nil {
		return
	}

	stream.Cancel(s, err)
	if rec.Removed() {
		return
	}
	b.failFetch(rec, errors.FetchFailed(id, err))
	b.abortHost(exchange.Outbound, id, err)
}

func toRequest(input any, init *message.RequestInit) (*message.Request, error) {
	switch in := input.(type) {
	case string:
		return message.NewRequest(in, init)
	case *url.URL:
		if in != nil {
			return message.NewRequest(in.String(), init)
		}
	case *message.Request:
		if in != nil {
			return message.NewRequestFrom(in, init)
		}
	}
	return nil, errors.New(errors.PhaseConstruct, errors.KindInvalidInput).
		GoType(fmt.Sprintf("%T", input)).
		Detail("fetch input must be a URL or a request").
		Build()
}

// fetchHead validates the request URL and fills the wire description.
func fetchHead(req *message.Request) (FetchHead, error) {
	raw := req.URL()
	u, err := url.Parse(raw)
	if err != nil {
		return FetchHead{}, errors.New(errors.PhaseConstruct, errors.KindInvalidURL).
			Value(raw).
			Cause(err).
			Detail("invalid fetch url").
			Build()
	}
	var defaultPort string
	switch u.Scheme {
	case "http":
		defaultPort = "80"
	case "https":
		defaultPort = "443"
	default:
		return FetchHead{}, errors.UnsupportedProtocol(u.Scheme)
	}
	if u.Hostname() == "" {
		return FetchHead{}, errors.New(errors.PhaseConstruct, errors.KindInvalidURL).
			Value(raw).
			Detail("fetch url has no host").
			Build()
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}

	return FetchHead{
		URL:      u,
		RawURL:   raw,
		Scheme:   u.Scheme,
		Hostname: u.Hostname(),
		Port:     port,
		Target:   target,
		Method:   strings.ToUpper(req.Method()),
	}, nil
}

func duplicateHead(id uint64) error {
	return errors.InvalidInput(errors.PhaseDispatch, fmt.Sprintf("fetch %d: response head already delivered", id))
}
