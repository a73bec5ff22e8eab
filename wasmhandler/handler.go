// Package wasmhandler serves exchanges with a WebAssembly guest running on
// wazero.
//
// The guest exports its linear memory as "memory" and two functions:
//
//	alloc(size i32) i32          reserve size bytes, return the offset
//	handle(ptr i32, len i32) i64 handle a request envelope
//
// The host writes a JSON request envelope into memory obtained from
// alloc and calls handle. The result packs the response envelope
// location as ptr<<32 | len.
//
// Request envelope:
//
//	{"method":"POST","url":"http://host/p","headers":[["k","v"]],"body":"..."}
//
// Response envelope (missing status means 200):
//
//	{"status":200,"statusText":"OK","headers":[["k","v"]],"body":"..."}
package wasmhandler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/message"
	"github.com/wippyai/fetch-bridge/route"
)

const (
	exportMemory = "memory"
	exportAlloc  = "alloc"
	exportHandle = "handle"
)

// Config configures a Handler.
type Config struct {
	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// MemoryLimitPages caps guest memory in 64KB pages. 0 keeps the
	// wazero default.
	MemoryLimitPages uint32
}

// Handler runs one guest instance. Calls into the guest are serialized.
// A call canceled through its context closes the instance; the next call
// starts a fresh one from the compiled module.
type Handler struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	guest    *guest
	logger   *zap.Logger
	mu       sync.Mutex
}

// guest is one live instance and its exports.
type guest struct {
	module api.Module
	memory api.Memory
	alloc  api.Function
	handle api.Function
}

var _ bridge.Handler = (*Handler)(nil)

type requestEnvelope struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Headers [][2]string `json:"headers"`
	Body    string      `json:"body"`
}

type responseEnvelope struct {
	StatusText string      `json:"statusText"`
	Headers    [][2]string `json:"headers"`
	Body       string      `json:"body"`
	Status     int         `json:"status"`
}

// New compiles and instantiates the guest in wasmBytes.
func New(ctx context.Context, wasmBytes []byte, cfg Config) (*Handler, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("compile guest: %w", err)
	}

	h := &Handler{
		runtime:  rt,
		compiled: compiled,
		logger:   logger,
	}
	if h.guest, err = h.instantiate(ctx); err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	return h, nil
}

func (h *Handler) instantiate(ctx context.Context) (*guest, error) {
	mod, err := h.runtime.InstantiateModule(context.WithoutCancel(ctx), h.compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		return nil, fmt.Errorf("instantiate guest: %w", err)
	}
	g := &guest{
		module: mod,
		memory: mod.ExportedMemory(exportMemory),
		alloc:  mod.ExportedFunction(exportAlloc),
		handle: mod.ExportedFunction(exportHandle),
	}
	var missing []string
	if g.memory == nil {
		missing = append(missing, exportMemory)
	}
	if g.alloc == nil {
		missing = append(missing, exportAlloc)
	}
	if g.handle == nil {
		missing = append(missing, exportHandle)
	}
	if len(missing) > 0 {
		_ = mod.Close(ctx)
		return nil, errors.New(errors.PhaseConstruct, errors.KindUnsupported).
			Detail("guest is missing exports %v", missing).
			Build()
	}
	return g, nil
}

// Close releases the guest.
func (h *Handler) Close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// ServeExchange reads the whole request body, passes the request to the
// guest and turns its answer into a Response.
func (h *Handler) ServeExchange(ctx context.Context, req *message.Request, _ *route.Context) (any, error) {
	body, err := req.Text(ctx)
	if err != nil {
		return nil, err
	}
	in, err := json.Marshal(requestEnvelope{
		Method:  req.Method(),
		URL:     req.URL(),
		Headers: req.Headers().Entries(),
		Body:    body,
	})
	if err != nil {
		return nil, err
	}

	out, err := h.call(ctx, in)
	if err != nil {
		return nil, err
	}

	var env responseEnvelope
	if err := json.Unmarshal(out, &env); err != nil {
		return nil, errors.ParseFailed("guest response", err)
	}
	return message.NewResponse(env.Body, &message.ResponseInit{
		Status:     env.Status,
		StatusText: env.StatusText,
		Headers:    env.Headers,
	})
}

func (h *Handler) call(ctx context.Context, in []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.guest != nil && h.guest.module.IsClosed() {
		h.guest = nil
	}
	if h.guest == nil {
		g, err := h.instantiate(ctx)
		if err != nil {
			return nil, err
		}
		h.guest = g
	}

	out, err := h.guest.call(ctx, in)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) {
			h.logger.Debug("guest instance closed, replacing on next call",
				zap.Uint32("exit_code", exit.ExitCode()),
				zap.Error(err))
			_ = h.guest.module.Close(context.WithoutCancel(ctx))
			h.guest = nil
		}
		return nil, err
	}
	h.logger.Debug("guest call",
		zap.Int("request_size", len(in)),
		zap.Int("response_size", len(out)))
	return out, nil
}

func (g *guest) call(ctx context.Context, in []byte) ([]byte, error) {
	res, err := g.alloc.Call(ctx, api.EncodeU32(uint32(len(in))))
	if err != nil {
		return nil, fmt.Errorf("guest alloc: %w", err)
	}
	ptr := api.DecodeU32(res[0])
	if !g.memory.Write(ptr, in) {
		return nil, fmt.Errorf("guest alloc returned out of range offset %d", ptr)
	}

	res, err = g.handle.Call(ctx, api.EncodeU32(ptr), api.EncodeU32(uint32(len(in))))
	if err != nil {
		return nil, fmt.Errorf("guest handle: %w", err)
	}
	outPtr, outLen := uint32(res[0]>>32), uint32(res[0])
	view, ok := g.memory.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("guest result out of range: %d+%d", outPtr, outLen)
	}
	return append([]byte(nil), view...), nil
}
