// Package nethost implements the native side of the bridge over net/http.
//
// Inbound requests arrive through the http.Handler returned by
// Host.Handler and are dispatched into the bridge; outbound fetches are
// performed with an http.Client on their own goroutines.
//
//	host := nethost.New(nethost.Config{Logger: logger})
//	b, _ := bridge.New(host, bridge.Config{Logger: logger})
//	host.Attach(b)
//	http.ListenAndServe(":8080", host.Handler(handler))
package nethost

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/exchange"
)

const (
	DefaultChunkSize    = 32 * 1024
	DefaultFetchTimeout = 30 * time.Second
)

// Dispatcher is the bridge surface the host calls back into. *bridge.Bridge
// implements it.
type Dispatcher interface {
	DispatchIncomingHead(ctx context.Context, id uint64, h bridge.Handler, method, rawURL string, hdrs any) error
	DispatchIncomingBody(ctx context.Context, id uint64, chunk []byte) error
	DispatchIncomingEnd(ctx context.Context, id uint64) error
	DispatchFetchHead(ctx context.Context, id uint64, meta bridge.FetchMeta) error
	DispatchFetchChunk(ctx context.Context, id uint64, chunk []byte) error
	DispatchFetchEnd(ctx context.Context, id uint64) error
	DispatchFetchError(ctx context.Context, id uint64, cause error) error
}

var (
	_ bridge.Host    = (*Host)(nil)
	_ bridge.Aborter = (*Host)(nil)
	_ Dispatcher     = (*bridge.Bridge)(nil)
)

// Config configures a Host.
type Config struct {
	// Client performs outbound fetches. Defaults to a client with
	// FetchTimeout.
	Client *http.Client

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// FetchTimeout bounds each outbound fetch including its body.
	// Defaults to DefaultFetchTimeout. Ignored when Client is set.
	FetchTimeout time.Duration

	// ChunkSize is the read size for request and response bodies.
	ChunkSize int

	// BufferLimit is the largest Content-Length delivered to the bridge
	// in one piece instead of as a stream.
	BufferLimit int64
}

// Host implements bridge.Host on top of net/http.
type Host struct {
	disp     Dispatcher
	client   *http.Client
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	inbound  map[uint64]*responseSlot
	outbound map[uint64]*fetchSlot
	group    errgroup.Group
	nextID   atomic.Uint64
	cfg      Config
	mu       sync.Mutex
}

// New creates a host. Attach must be called before use.
func New(cfg Config) *Host {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		cfg:      cfg,
		client:   client,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		inbound:  make(map[uint64]*responseSlot),
		outbound: make(map[uint64]*fetchSlot),
	}
}

// Attach connects the host to the bridge it serves.
func (h *Host) Attach(d Dispatcher) {
	h.disp = d
}

// Close cancels in-flight fetches and waits for their goroutines.
func (h *Host) Close() error {
	h.cancel()
	return h.group.Wait()
}

// Abort tears down an exchange the bridge gave up on.
func (h *Host) Abort(_ context.Context, dir exchange.Direction, id uint64, cause error) {
	h.logger.Debug("aborting exchange",
		zap.Uint64("exchange_id", id),
		zap.Stringer("direction", dir),
		zap.Error(cause))

	switch dir {
	case exchange.Inbound:
		if slot := h.responseSlot(id); slot != nil {
			slot.abort()
		}
	case exchange.Outbound:
		if slot := h.fetchSlot(id); slot != nil {
			slot.abort(cause)
		}
	}
}

func notFound(dir exchange.Direction, id uint64) error {
	return errors.ExchangeNotFound(dir.String(), id)
}
