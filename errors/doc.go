// Package errors provides structured error types for the fetch bridge.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the offending value, a path (header name, exchange direction)
// and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseConstruct, errors.KindInvalidHeaderValue).
//		Path("content-type").
//		Value(v).
//		Detail("control character in value").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidHeaderName("bad name")
//	err := errors.FetchFailed(id, cause)
//
// Matching compares Phase and Kind only, so the exported Err* values work as
// errors.Is targets:
//
//	if errors.Is(err, errors.ErrBodyUsed) { ... }
package errors
