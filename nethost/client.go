package nethost

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/exchange"
)

// fetchSlot is the host-side state of one outbound fetch.
type fetchSlot struct {
	upload *io.PipeWriter
	cancel context.CancelFunc
	once   sync.Once
}

func (s *fetchSlot) abort(cause error) {
	s.once.Do(func() {
		if s.upload != nil {
			_ = s.upload.CloseWithError(cause)
		}
		s.cancel()
	})
}

// IssueFetch starts the HTTP request on its own goroutine. The response
// is reported back through the dispatcher.
func (h *Host) IssueFetch(_ context.Context, head bridge.FetchHead) error {
	var body io.Reader
	var upload *io.PipeWriter
	switch head.Mode {
	case bridge.ModeString:
		body = strings.NewReader(head.Body)
	case bridge.ModeStream:
		var pr *io.PipeReader
		pr, upload = io.Pipe()
		body = pr
	}

	ctx, cancel := context.WithCancel(h.ctx)
	req, err := http.NewRequestWithContext(ctx, head.Method, head.URL.String(), body)
	if err != nil {
		cancel()
		return err
	}
	if head.Headers != nil {
		for name, value := range head.Headers.All() {
			if name == "host" {
				req.Host = value
				continue
			}
			req.Header.Add(name, value)
		}
	}

	slot := &fetchSlot{upload: upload, cancel: cancel}
	h.mu.Lock()
	h.outbound[head.ID] = slot
	h.mu.Unlock()

	h.group.Go(func() error {
		defer func() {
			h.mu.Lock()
			delete(h.outbound, head.ID)
			h.mu.Unlock()
			cancel()
		}()
		h.runFetch(ctx, head.ID, req)
		return nil
	})
	return nil
}

func (h *Host) runFetch(ctx context.Context, id uint64, req *http.Request) {
	logger := h.logger.With(zap.Uint64("exchange_id", id), zap.String("url", req.URL.String()))

	resp, err := h.client.Do(req)
	if err != nil {
		logger.Debug("fetch failed", zap.Error(err))
		_ = h.disp.DispatchFetchError(ctx, id, err)
		return
	}
	defer resp.Body.Close()

	meta := bridge.FetchMeta{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Headers:    resp.Header,
	}

	if resp.ContentLength >= 0 && resp.ContentLength <= h.cfg.BufferLimit {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			_ = h.disp.DispatchFetchError(ctx, id, err)
			return
		}
		meta.Body, meta.Buffered = data, true
		if err := h.disp.DispatchFetchHead(ctx, id, meta); err != nil {
			logger.Debug("fetch head rejected", zap.Error(err))
		}
		return
	}

	if err := h.disp.DispatchFetchHead(ctx, id, meta); err != nil {
		logger.Debug("fetch head rejected", zap.Error(err))
		return
	}

	buf := make([]byte, h.cfg.ChunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if derr := h.disp.DispatchFetchChunk(ctx, id, bytes.Clone(buf[:n])); derr != nil {
				logger.Debug("fetch body abandoned", zap.Error(derr))
				return
			}
		}
		if err == io.EOF {
			_ = h.disp.DispatchFetchEnd(ctx, id)
			return
		}
		if err != nil {
			_ = h.disp.DispatchFetchError(ctx, id, err)
			return
		}
	}
}

// SendFetchChunk writes one chunk of a streamed request body. It blocks
// until the transport has consumed it.
func (h *Host) SendFetchChunk(_ context.Context, id uint64, chunk []byte) error {
	slot := h.fetchSlot(id)
	if slot == nil || slot.upload == nil {
		return notFound(exchange.Outbound, id)
	}
	_, err := slot.upload.Write(chunk)
	return err
}

// EndFetchBody finishes a streamed request body.
func (h *Host) EndFetchBody(_ context.Context, id uint64) error {
	slot := h.fetchSlot(id)
	if slot == nil || slot.upload == nil {
		return notFound(exchange.Outbound, id)
	}
	return slot.upload.Close()
}

func (h *Host) fetchSlot(id uint64) *fetchSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outbound[id]
}

// statusText strips the code from "200 OK".
func statusText(resp *http.Response) string {
	if _, text, ok := strings.Cut(resp.Status, " "); ok {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
