package bridge

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/exchange"
	"github.com/wippyai/fetch-bridge/route"
	"github.com/wippyai/fetch-bridge/stream"
)

// Config configures a Bridge.
type Config struct {
	// Logger receives handler failures, fetch rejections and dropped
	// chunks. Defaults to a no-op logger.
	Logger *zap.Logger

	// Route is the default route pattern for handlers that do not
	// implement Routed. Empty means no params are extracted.
	Route string

	// HighWaterMark is the number of body chunks buffered per exchange
	// before the producer waits. Defaults to stream.DefaultHighWaterMark.
	HighWaterMark int
}

// Bridge multiplexes inbound and outbound exchanges over a Host.
type Bridge struct {
	host   Host
	table  *exchange.Table
	logger *zap.Logger
	route  *route.Pattern
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	hwm    int
}

// New creates a bridge bound to host.
func New(host Host, cfg Config) (*Bridge, error) {
	if host == nil {
		return nil, errors.InvalidInput(errors.PhaseConstruct, "host is required")
	}
	b := &Bridge{
		host:   host,
		table:  exchange.NewTable(),
		logger: cfg.Logger,
		hwm:    cfg.HighWaterMark,
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.hwm <= 0 {
		b.hwm = stream.DefaultHighWaterMark
	}
	if cfg.Route != "" {
		p, err := route.Compile(cfg.Route)
		if err != nil {
			return nil, err
		}
		b.route = p
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	return b, nil
}

// Table exposes the live exchange table, mainly for observers.
func (b *Bridge) Table() *exchange.Table {
	return b.table
}

// Logger returns the bridge logger.
func (b *Bridge) Logger() *zap.Logger {
	return b.logger
}

// Wait blocks until every running handler has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

// Close cancels running handlers, drops every live exchange and waits
// for the bridge goroutines to finish.
func (b *Bridge) Close() error {
	b.cancel()
	err := b.table.Close()
	b.wg.Wait()
	return err
}

func (b *Bridge) abortHost(dir exchange.Direction, id uint64, cause error) {
	a, ok := b.host.(Aborter)
	if !ok {
		return
	}
	a.Abort(context.WithoutCancel(b.ctx), dir, id, cause)
}

func recordFields(rec *exchange.Record) []zap.Field {
	return []zap.Field{
		zap.Uint64("exchange_id", rec.ID()),
		zap.Stringer("direction", rec.Direction()),
		zap.Stringer("state", rec.State()),
	}
}
