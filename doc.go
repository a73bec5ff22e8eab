// Package fetchbridge multiplexes concurrent HTTP exchanges between a
// request handler and a host that owns the sockets.
//
// Handlers see a Fetch-style message model: Request, Response, Headers and
// FormData, plus an outbound Fetch. The host is reached only through
// callbacks keyed by integer exchange IDs, and every exchange body is an
// ordered, backpressured byte stream.
//
// # Architecture Overview
//
//	fetchbridge/
//	├── errors/          Structured error types (phase + kind)
//	├── headers/         Ordered, validated header table
//	├── stream/          Pull streams and the backpressured pipe
//	├── message/         Request, Response and FormData
//	├── multipart/       multipart/form-data encoding and decoding
//	├── resolve/         Handler result classification, failure to 500
//	├── route/           Route patterns and lazy per-request context
//	├── exchange/        ID-keyed exchange table with lifecycle events
//	├── bridge/          The multiplexer: dispatch entry points and Fetch
//	├── nethost/         net/http implementation of the host side
//	├── wasmhandler/     WebAssembly guest as a request handler (wazero)
//	└── cmd/fetchbridge  Server CLI with a live exchange monitor
//
// # Quick Start
//
//	host := nethost.New(nethost.Config{Logger: logger})
//	b, err := bridge.New(host, bridge.Config{Logger: logger, Route: "/users/:id"})
//	if err != nil {
//	    return err
//	}
//	host.Attach(b)
//
//	h := bridge.HandlerFunc(func(ctx context.Context, req *message.Request, rc *route.Context) (any, error) {
//	    return map[string]any{"id": rc.Param("id")}, nil
//	})
//	http.ListenAndServe(":8080", host.Handler(h))
//
// # Handler Results
//
// A handler returns a *message.Response, a string (text/plain), bytes
// (application/octet-stream, streamed) or a JSON-serializable value
// (application/json). Anything else, an error, or a panic becomes a 500
// with an empty body and is logged once.
package fetchbridge
