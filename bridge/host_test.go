package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/wippyai/fetch-bridge/exchange"
)

// hostCall is one call the bridge made into fakeHost.
type hostCall struct {
	head  ResponseHead
	fetch FetchHead
	cause error
	op    string
	body  string
	chunk []byte
	id    uint64
	dir   exchange.Direction
}

// fakeHost records every call. onIssue, when set, runs synchronously inside
// IssueFetch so tests can play the host side of a fetch.
type fakeHost struct {
	onIssue  func(head FetchHead)
	issueErr error
	fetches  chan FetchHead
	uploads  chan uint64
	calls    []hostCall
	mu       sync.Mutex
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		fetches: make(chan FetchHead, 16),
		uploads: make(chan uint64, 16),
	}
}

func (h *fakeHost) record(c hostCall) {
	h.mu.Lock()
	h.calls = append(h.calls, c)
	h.mu.Unlock()
}

func (h *fakeHost) callsFor(dir exchange.Direction, id uint64) []hostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []hostCall
	for _, c := range h.calls {
		if c.id == id && c.dir == dir {
			out = append(out, c)
		}
	}
	return out
}

func (h *fakeHost) ops(dir exchange.Direction, id uint64) string {
	var ops []string
	for _, c := range h.callsFor(dir, id) {
		ops = append(ops, c.op)
	}
	return strings.Join(ops, ",")
}

func (h *fakeHost) StartResponse(_ context.Context, id uint64, head ResponseHead) error {
	h.record(hostCall{op: "start", dir: exchange.Inbound, id: id, head: head})
	return nil
}

func (h *fakeHost) SendResponse(_ context.Context, id uint64, head ResponseHead, body string) error {
	h.record(hostCall{op: "send", dir: exchange.Inbound, id: id, head: head, body: body})
	return nil
}

func (h *fakeHost) WriteResponseChunk(_ context.Context, id uint64, chunk []byte) error {
	h.record(hostCall{op: "chunk", dir: exchange.Inbound, id: id, chunk: append([]byte(nil), chunk...)})
	return nil
}

func (h *fakeHost) EndResponse(_ context.Context, id uint64) error {
	h.record(hostCall{op: "end", dir: exchange.Inbound, id: id})
	return nil
}

func (h *fakeHost) IssueFetch(_ context.Context, head FetchHead) error {
	h.record(hostCall{op: "issue", dir: exchange.Outbound, id: head.ID, fetch: head})
	if h.issueErr != nil {
		return h.issueErr
	}
	h.fetches <- head
	if h.onIssue != nil {
		h.onIssue(head)
	}
	return nil
}

func (h *fakeHost) SendFetchChunk(_ context.Context, id uint64, chunk []byte) error {
	h.record(hostCall{op: "upload", dir: exchange.Outbound, id: id, chunk: append([]byte(nil), chunk...)})
	return nil
}

func (h *fakeHost) EndFetchBody(_ context.Context, id uint64) error {
	h.record(hostCall{op: "upload-end", dir: exchange.Outbound, id: id})
	h.uploads <- id
	return nil
}

func (h *fakeHost) Abort(_ context.Context, dir exchange.Direction, id uint64, cause error) {
	h.record(hostCall{op: "abort", dir: dir, id: id, cause: cause})
}
