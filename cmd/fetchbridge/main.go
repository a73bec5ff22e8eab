package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/wippyai/fetch-bridge/bridge"
	"github.com/wippyai/fetch-bridge/nethost"
	"github.com/wippyai/fetch-bridge/wasmhandler"
)

type options struct {
	addr         string
	route        string
	wasmFile     string
	upstream     string
	logLevel     string
	fetchTimeout time.Duration
	memoryPages  uint
	interactive  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.addr, "addr", ":8080", "Listen address")
	flag.StringVar(&opts.route, "route", "", "Route pattern for handler context (e.g. /users/:id)")
	flag.StringVar(&opts.wasmFile, "wasm", "", "Serve requests with a wasm guest")
	flag.StringVar(&opts.upstream, "upstream", "", "Proxy requests to this base URL")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.DurationVar(&opts.fetchTimeout, "fetch-timeout", nethost.DefaultFetchTimeout, "Timeout for outbound fetches")
	flag.UintVar(&opts.memoryPages, "memory-pages", 0, "Guest memory limit in 64KB pages")
	flag.BoolVar(&opts.interactive, "i", false, "Interactive mode with live exchange monitor")
	flag.Parse()

	if opts.wasmFile != "" && opts.upstream != "" {
		fmt.Fprintln(os.Stderr, "Usage: fetchbridge [-addr :8080] [-route pattern] [-wasm file.wasm | -upstream URL] [-i]")
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mon *monitor
	sink := zapcore.AddSync(os.Stderr)
	if opts.interactive {
		mon = newMonitor(opts.addr)
		sink = zapcore.AddSync(mon.logWriter())
	}
	logger, err := newLogger(opts.logLevel, sink, !opts.interactive && term.IsTerminal(int(os.Stderr.Fd())))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	host := nethost.New(nethost.Config{
		Logger:       logger.Named("host"),
		FetchTimeout: opts.fetchTimeout,
	})
	b, err := bridge.New(host, bridge.Config{
		Logger: logger.Named("bridge"),
		Route:  opts.route,
	})
	if err != nil {
		return err
	}
	host.Attach(b)

	handler, closeHandler, err := buildHandler(ctx, opts, b, logger)
	if err != nil {
		_ = b.Close()
		return err
	}
	defer closeHandler()

	srv := &http.Server{
		Addr:              opts.addr,
		Handler:           host.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", opts.addr), zap.String("route", opts.route))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		err := srv.Shutdown(shutdownCtx)
		_ = b.Close()
		_ = host.Close()
		return err
	})
	if mon != nil {
		mon.attach(b)
		g.Go(func() error {
			defer cancel()
			return mon.run(gctx)
		})
	}
	return g.Wait()
}

func newLogger(level string, sink zapcore.WriteSyncer, console bool) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if console {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, sink, lvl)), nil
}

func buildHandler(ctx context.Context, opts options, b *bridge.Bridge, logger *zap.Logger) (bridge.Handler, func(), error) {
	switch {
	case opts.wasmFile != "":
		data, err := os.ReadFile(opts.wasmFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read file: %w", err)
		}
		h, err := wasmhandler.New(ctx, data, wasmhandler.Config{
			Logger:           logger.Named("wasm"),
			MemoryLimitPages: uint32(opts.memoryPages),
		})
		if err != nil {
			return nil, nil, err
		}
		return h, func() { _ = h.Close(context.Background()) }, nil
	case opts.upstream != "":
		p, err := newProxy(b, opts.upstream)
		if err != nil {
			return nil, nil, err
		}
		return p, func() {}, nil
	default:
		return bridge.HandlerFunc(describe), func() {}, nil
	}
}
