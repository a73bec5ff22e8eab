package bridge

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/exchange"
	"github.com/wippyai/fetch-bridge/headers"
	"github.com/wippyai/fetch-bridge/message"
	"github.com/wippyai/fetch-bridge/resolve"
	"github.com/wippyai/fetch-bridge/route"
	"github.com/wippyai/fetch-bridge/stream"
)

// inbound is the record payload of a request being served. The body
// writer lives here and nowhere else.
type inbound struct {
	writer *stream.PipeWriter
	cancel context.CancelFunc
}

func (in *inbound) Drop() {
	in.writer.Abort(errors.StreamClosed())
	in.cancel()
}

// DispatchIncomingHead starts serving request id with h. The handler runs
// on its own goroutine under ctx, so ctx must cover the whole exchange;
// cancelling it cancels the handler. A nil h is served as a handler
// failure.
func (b *Bridge) DispatchIncomingHead(ctx context.Context, id uint64, h Handler, method, rawURL string, hdrs any) error {
	hdr, err := headers.New(hdrs)
	if err != nil {
		return err
	}
	r, w := stream.NewPipe(b.hwm)
	req, err := message.NewRequest(rawURL, &message.RequestInit{
		Method:  method,
		Headers: hdr,
		Body:    r,
	})
	if err != nil {
		return err
	}

	pattern := b.route
	if rt, ok := h.(Routed); ok && rt.Pattern() != nil {
		pattern = rt.Pattern()
	}
	rc := route.NewContext(rawURL, pattern)

	hctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)
	in := &inbound{
		writer: w,
		cancel: func() {
			stop()
			cancel()
		},
	}

	rec, err := b.table.Insert(exchange.Inbound, id, exchange.HeadPending, req.Method()+" "+rawURL, in)
	if err != nil {
		in.cancel()
		return err
	}
	if expectsBody(hdr) {
		b.table.Transition(rec, exchange.BodyStreaming)
	} else {
		b.table.Transition(rec, exchange.HeadOnly)
	}

	b.wg.Add(1)
	go b.serve(hctx, rec, h, req, rc)
	return nil
}

// DispatchIncomingBody delivers one request body chunk. It blocks while
// the handler has not consumed earlier chunks. The bridge takes ownership
// of chunk.
func (b *Bridge) DispatchIncomingBody(ctx context.Context, id uint64, chunk []byte) error {
	rec, err := b.table.Lookup(exchange.Inbound, id)
	if err != nil {
		b.logger.Debug("request body chunk for unknown exchange dropped",
			zap.Uint64("exchange_id", id),
			zap.Int("size", len(chunk)))
		return err
	}
	if err := rec.Value().(*inbound).writer.Write(ctx, chunk); err != nil {
		b.logger.Debug("request body chunk dropped",
			append(recordFields(rec), zap.Int("size", len(chunk)), zap.Error(err))...)
		return err
	}
	return nil
}

// DispatchIncomingEnd marks the end of the request body.
func (b *Bridge) DispatchIncomingEnd(ctx context.Context, id uint64) error {
	rec, err := b.table.Lookup(exchange.Inbound, id)
	if err != nil {
		return err
	}
	return rec.Value().(*inbound).writer.Close()
}

func (b *Bridge) serve(ctx context.Context, rec *exchange.Record, h Handler, req *message.Request, rc *route.Context) {
	defer b.wg.Done()
	defer b.table.Remove(rec)

	b.table.Transition(rec, exchange.HandlerRunning)
	logger := b.logger.With(
		zap.Uint64("exchange_id", rec.ID()),
		zap.Stringer("direction", rec.Direction()))

	var fn resolve.HandlerFunc
	if h != nil {
		fn = func(ctx context.Context) (any, error) {
			return h.ServeExchange(ctx, req, rc)
		}
	}
	resp, _ := resolve.Invoke(ctx, logger, fn)

	if err := b.respond(ctx, rec, resp, logger); err != nil {
		b.table.Transition(rec, exchange.Errored)
		logger.Warn("response delivery failed", zap.Stringer("state", rec.State()), zap.Error(err))
	}
}

// respond delivers resp: literal and absent bodies in one SendResponse,
// stream bodies as StartResponse, chunks, EndResponse.
func (b *Bridge) respond(ctx context.Context, rec *exchange.Record, resp *message.Response, logger *zap.Logger) error {
	id := rec.ID()

	var s stream.Stream
	if resp.BodyKind() == message.BodyStream {
		var err error
		if s, err = resp.TakeStream(); err != nil {
			logger.Error("handler returned a response whose body was already read", zap.Error(err))
			resp = resolve.InternalError()
		}
	}

	head := ResponseHead{
		Status:     resp.Status(),
		StatusText: resp.StatusText(),
		Headers:    resp.Headers(),
	}

	b.table.Transition(rec, exchange.ResponseStarted)
	if s == nil {
		body, _ := resp.Literal()
		if err := b.host.SendResponse(ctx, id, head, body); err != nil {
			return err
		}
		b.table.Transition(rec, exchange.ResponseComplete)
		return nil
	}

	if err := b.host.StartResponse(ctx, id, head); err != nil {
		stream.Cancel(s, err)
		return err
	}
	b.table.Transition(rec, exchange.ResponseStreaming)
	for chunk, err := range stream.Chunks(ctx, s) {
		if err == nil {
			err = b.host.WriteResponseChunk(ctx, id, chunk)
		}
		if err != nil {
			stream.Cancel(s, err)
			b.abortHost(exchange.Inbound, id, err)
			return err
		}
	}
	if err := b.host.EndResponse(ctx, id); err != nil {
		return err
	}
	b.table.Transition(rec, exchange.ResponseComplete)
	return nil
}

// expectsBody reports whether the request head announces a body.
func expectsBody(h *headers.Headers) bool {
	if h.Has("transfer-encoding") {
		return true
	}
	cl, ok := h.Get("content-length")
	return ok && cl != "0"
}
