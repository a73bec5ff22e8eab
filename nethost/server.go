package nethost

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/exchange"
)

// responseSlot guards the ResponseWriter of one inbound exchange. Writes
// after the ServeHTTP call returned are refused.
type responseSlot struct {
	w       http.ResponseWriter
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	aborted bool
}

func (s *responseSlot) finish() {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *responseSlot) abort() {
	s.mu.Lock()
	s.aborted = true
	s.finish()
	s.mu.Unlock()
}

func (s *responseSlot) copyHeaders(head bridge.ResponseHead) {
	hdr := s.w.Header()
	if head.Headers == nil {
		return
	}
	for name, value := range head.Headers.All() {
		hdr.Set(name, value)
	}
}

// Handler returns an http.Handler serving every request with handler
// through the bridge.
func (h *Host) Handler(handler bridge.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.serveHTTP(w, r, handler)
	})
}

func (h *Host) serveHTTP(w http.ResponseWriter, r *http.Request, handler bridge.Handler) {
	id := h.nextID.Add(1)
	slot := &responseSlot{w: w, done: make(chan struct{})}

	h.mu.Lock()
	h.inbound[id] = slot
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.inbound, id)
		h.mu.Unlock()
		slot.mu.Lock()
		slot.finish()
		slot.mu.Unlock()
	}()

	ctx := r.Context()
	if err := h.disp.DispatchIncomingHead(ctx, id, handler, r.Method, requestURL(r), requestHeader(r)); err != nil {
		h.logger.Debug("request rejected", zap.Uint64("exchange_id", id), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	h.pumpRequestBody(ctx, id, r.Body)

	select {
	case <-slot.done:
	case <-ctx.Done():
	}

	slot.mu.Lock()
	aborted := slot.aborted
	slot.mu.Unlock()
	if aborted {
		panic(http.ErrAbortHandler)
	}
}

// pumpRequestBody feeds the request body into the bridge chunk by chunk.
// It stops early once the bridge no longer wants the body.
func (h *Host) pumpRequestBody(ctx context.Context, id uint64, body io.Reader) {
	buf := make([]byte, h.cfg.ChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if derr := h.disp.DispatchIncomingBody(ctx, id, bytes.Clone(buf[:n])); derr != nil {
				return
			}
		}
		if err == io.EOF {
			_ = h.disp.DispatchIncomingEnd(ctx, id)
			return
		}
		if err != nil {
			h.logger.Debug("request body read failed", zap.Uint64("exchange_id", id), zap.Error(err))
			return
		}
	}
}

// requestHeader restores the fields net/http lifts out of r.Header.
func requestHeader(r *http.Request) http.Header {
	hdr := r.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	if r.Host != "" && hdr.Get("Host") == "" {
		hdr.Set("Host", r.Host)
	}
	if len(r.TransferEncoding) > 0 {
		hdr.Set("Transfer-Encoding", strings.Join(r.TransferEncoding, ", "))
	}
	return hdr
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (h *Host) responseSlot(id uint64) *responseSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inbound[id]
}

// withSlot runs fn with the live slot for id locked.
func (h *Host) withSlot(id uint64, fn func(s *responseSlot) error) error {
	slot := h.responseSlot(id)
	if slot == nil {
		return notFound(exchange.Inbound, id)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if slot.closed {
		return errors.StreamClosed()
	}
	return fn(slot)
}

// StartResponse writes the status line and headers.
func (h *Host) StartResponse(_ context.Context, id uint64, head bridge.ResponseHead) error {
	return h.withSlot(id, func(s *responseSlot) error {
		s.copyHeaders(head)
		s.w.WriteHeader(head.Status)
		return nil
	})
}

// SendResponse writes a complete response.
func (h *Host) SendResponse(_ context.Context, id uint64, head bridge.ResponseHead, body string) error {
	return h.withSlot(id, func(s *responseSlot) error {
		s.copyHeaders(head)
		s.w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		s.w.WriteHeader(head.Status)
		_, err := io.WriteString(s.w, body)
		s.finish()
		return err
	})
}

// WriteResponseChunk writes and flushes one body chunk.
func (h *Host) WriteResponseChunk(_ context.Context, id uint64, chunk []byte) error {
	return h.withSlot(id, func(s *responseSlot) error {
		if _, err := s.w.Write(chunk); err != nil {
			return err
		}
		if f, ok := s.w.(http.Flusher); ok {
			f.Flush()
		}
		return nil
	})
}

// EndResponse completes a streamed response.
func (h *Host) EndResponse(_ context.Context, id uint64) error {
	return h.withSlot(id, func(s *responseSlot) error {
		s.finish()
		return nil
	})
}
