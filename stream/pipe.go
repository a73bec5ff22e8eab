package stream

import (
	"context"
	"io"
	"sync"

	"github.com/wippyai/fetch-bridge/errors"
)

// DefaultHighWaterMark is the number of queued chunks at which a pipe
// writer stops being ready.
const DefaultHighWaterMark = 1

// pipe is the shared state of a push-source stream. changed is closed and
// replaced on every state transition so waiters on either side wake up.
type pipe struct {
	changed  chan struct{}
	err      error
	canceled error
	queue    [][]byte
	hwm      int
	mu       sync.Mutex
	closed   bool
}

// PipeReader is the consuming end of a push-source stream.
type PipeReader struct {
	p *pipe
}

// PipeWriter is the producing end of a push-source stream. It is handed
// only to the code that created the pipe.
type PipeWriter struct {
	p *pipe
}

// NewPipe creates a push-source stream. highWaterMark values below 1 use
// DefaultHighWaterMark.
func NewPipe(highWaterMark int) (*PipeReader, *PipeWriter) {
	if highWaterMark < 1 {
		highWaterMark = DefaultHighWaterMark
	}
	p := &pipe{
		changed: make(chan struct{}),
		hwm:     highWaterMark,
	}
	return &PipeReader{p: p}, &PipeWriter{p: p}
}

// broadcast must be called with mu held.
func (p *pipe) broadcast() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// Next returns queued chunks in arrival order, io.EOF after Close once the
// queue is drained, or the abort error.
func (r *PipeReader) Next(ctx context.Context) ([]byte, error) {
	p := r.p
	for {
		p.mu.Lock()
		switch {
		case p.canceled != nil:
			err := p.canceled
			p.mu.Unlock()
			return nil, err
		case p.err != nil:
			err := p.err
			p.mu.Unlock()
			return nil, err
		case len(p.queue) > 0:
			chunk := p.queue[0]
			p.queue[0] = nil
			p.queue = p.queue[1:]
			p.broadcast()
			p.mu.Unlock()
			return chunk, nil
		case p.closed:
			p.mu.Unlock()
			return nil, io.EOF
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Cancel drops the consumer side. Queued chunks are discarded and later
// writes fail with a canceled error.
func (r *PipeReader) Cancel(cause error) {
	p := r.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.canceled != nil {
		return
	}
	p.canceled = errors.StreamCanceled(cause)
	p.queue = nil
	p.broadcast()
}

// Buffered returns the number of queued chunks.
func (r *PipeReader) Buffered() int {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return len(r.p.queue)
}

// Ready blocks until the queue is below the high-water mark.
func (w *PipeWriter) Ready(ctx context.Context) error {
	p := w.p
	for {
		p.mu.Lock()
		if err := p.writableLocked(); err != nil {
			p.mu.Unlock()
			return err
		}
		if len(p.queue) < p.hwm {
			p.mu.Unlock()
			return nil
		}
		wait := p.changed
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wait:
		}
	}
}

// Write waits for readiness and enqueues chunk. The pipe takes ownership
// of chunk.
func (w *PipeWriter) Write(ctx context.Context, chunk []byte) error {
	if err := w.Ready(ctx); err != nil {
		return err
	}
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.writableLocked(); err != nil {
		return err
	}
	if chunk == nil {
		chunk = []byte{}
	}
	p.queue = append(p.queue, chunk)
	p.broadcast()
	return nil
}

// Close ends the stream after the queued chunks. Closing twice, or after
// Abort, returns a closed error.
func (w *PipeWriter) Close() error {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.canceled != nil {
		return p.canceled
	}
	if p.closed || p.err != nil {
		return errors.StreamClosed()
	}
	p.closed = true
	p.broadcast()
	return nil
}

// Abort fails the stream with err. Queued chunks are discarded. Abort is a
// no-op once the stream is closed or already aborted.
func (w *PipeWriter) Abort(err error) {
	p := w.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.err != nil {
		return
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	p.err = err
	p.queue = nil
	p.broadcast()
}

// Canceled reports whether the reader has gone away.
func (w *PipeWriter) Canceled() bool {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.p.canceled != nil
}

func (p *pipe) writableLocked() error {
	if p.canceled != nil {
		return p.canceled
	}
	if p.closed || p.err != nil {
		return errors.StreamClosed()
	}
	return nil
}
