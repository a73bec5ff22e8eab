package resolve

import (
	"context"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/message"
)

// HandlerFunc produces a handler result for Resolve.
type HandlerFunc func(ctx context.Context) (any, error)

// Invoke runs fn and resolves its result. Any failure, including a panic
// or an unresolvable result, is logged once with a stack trace and
// replaced by a 500 response with an empty body. The returned response is
// never nil; the error reports the failure that was converted.
func Invoke(ctx context.Context, logger *zap.Logger, fn HandlerFunc) (*message.Response, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	resp, stack, err := run(ctx, fn)
	if err == nil {
		return resp, nil
	}

	stackField := zap.Stack("stack")
	if stack != nil {
		stackField = zap.ByteString("stack", stack)
	}
	logger.Error("request handler failed", zap.Error(err), stackField)
	return InternalError(), err
}

// InternalError returns the fixed failure response: status 500, empty body.
func InternalError() *message.Response {
	resp, _ := message.NewResponse("", &message.ResponseInit{Status: http.StatusInternalServerError})
	return resp
}

// run returns the panic stack alongside the error when fn panicked.
func run(ctx context.Context, fn HandlerFunc) (resp *message.Response, stack []byte, err error) {
	if fn == nil {
		return nil, nil, errors.InvalidInput(errors.PhaseHandler, "no valid handler provided")
	}
	defer func() {
		if r := recover(); r != nil {
			stack = debug.Stack()
			cause, _ := r.(error)
			err = errors.New(errors.PhaseHandler, errors.KindHandlerFailed).
				Value(r).
				Cause(cause).
				Detail("panic: %v", r).
				Build()
			resp = nil
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		return nil, nil, errors.Wrap(errors.PhaseHandler, errors.KindHandlerFailed, err, "handler returned an error")
	}
	resp, err = Resolve(v)
	return resp, nil, err
}
