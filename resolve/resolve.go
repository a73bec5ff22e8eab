// Package resolve turns a handler's return value into a Response.
//
// Resolve applies a fixed decision order:
//
//  1. *message.Response is returned unchanged.
//  2. string becomes a text/plain literal body.
//  3. nil is an invalid response.
//  4. byte-buffer-like values become an application/octet-stream body.
//  5. maps, slices, arrays and json.Marshaler values that are plain data
//     are JSON encoded with application/json; any other composite value
//     is not serializable.
//  6. everything else is an invalid response type.
//
// Invoke wraps handler execution so that errors and panics become a fixed
// 500 response with an empty body.
package resolve

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/message"
	"github.com/wippyai/fetch-bridge/stream"
)

const (
	ContentTypeText   = "text/plain"
	ContentTypeBinary = "application/octet-stream"
	ContentTypeJSON   = "application/json"
)

// Byter is satisfied by buffer types such as *bytes.Buffer.
type Byter interface {
	Bytes() []byte
}

var (
	marshalerType = reflect.TypeFor[json.Marshaler]()
	byteType      = reflect.TypeFor[byte]()
)

// Resolve classifies v and builds the matching Response.
func Resolve(v any) (*message.Response, error) {
	switch r := v.(type) {
	case *message.Response:
		if r == nil {
			return nil, invalidResponse("nil *Response")
		}
		return r, nil
	case string:
		return message.NewResponse(r, &message.ResponseInit{
			Headers: map[string]string{"Content-Type": ContentTypeText},
		})
	case nil:
		return nil, invalidResponse("handler returned nil")
	}

	if data, ok := asBytes(v); ok {
		return message.NewResponse(stream.FromBytes(data), &message.ResponseInit{
			Headers: map[string]string{"Content-Type": ContentTypeBinary},
		})
	}

	rv := reflect.ValueOf(v)
	if !isObject(rv) {
		return nil, errors.New(errors.PhaseProtocol, errors.KindInvalidResponseType).
			GoType(fmt.Sprintf("%T", v)).
			Detail("invalid response type %T", v).
			Build()
	}
	if !IsPlain(v) {
		return nil, notSerializable(v, nil)
	}

	body, err := encodeJSON(v)
	if err != nil {
		return nil, notSerializable(v, err)
	}
	return message.NewResponse(body, &message.ResponseInit{
		Headers: map[string]string{"Content-Type": ContentTypeJSON},
	})
}

// IsPlain reports whether v is recursively composed of nil, booleans,
// numbers, strings, json.Marshaler values, string-keyed maps, slices and
// arrays, without cycles.
func IsPlain(v any) bool {
	return isPlain(reflect.ValueOf(v), make(map[uintptr]bool))
}

func isPlain(v reflect.Value, seen map[uintptr]bool) bool {
	if !v.IsValid() {
		return true
	}
	if v.Type().Implements(marshalerType) {
		return true
	}

	switch v.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true

	case reflect.Interface:
		if v.IsNil() {
			return true
		}
		return isPlain(v.Elem(), seen)

	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return false
		}
		if v.IsNil() {
			return true
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return false
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		iter := v.MapRange()
		for iter.Next() {
			if !isPlain(iter.Value(), seen) {
				return false
			}
		}
		return true

	case reflect.Slice:
		if v.IsNil() || v.Len() == 0 {
			return true
		}
		if v.Type().Elem() == byteType {
			return true
		}
		ptr := v.Pointer()
		if seen[ptr] {
			return false
		}
		seen[ptr] = true
		defer delete(seen, ptr)
		return elementsPlain(v, seen)

	case reflect.Array:
		return elementsPlain(v, seen)
	}
	return false
}

func elementsPlain(v reflect.Value, seen map[uintptr]bool) bool {
	for i := range v.Len() {
		if !isPlain(v.Index(i), seen) {
			return false
		}
	}
	return true
}

// isObject reports whether v takes the composite branch of the decision
// order rather than being an invalid response type.
func isObject(v reflect.Value) bool {
	if v.Type().Implements(marshalerType) {
		return true
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return true
	}
	return false
}

func asBytes(v any) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case *bytes.Buffer:
		if b == nil {
			return nil, false
		}
		return b.Bytes(), true
	case json.Marshaler:
		// json.RawMessage and similar are data, not buffers.
		return nil, false
	case Byter:
		return b.Bytes(), true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem() == byteType {
		out := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(out), rv)
		return out, true
	}
	return nil, false
}

func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func invalidResponse(detail string) *errors.Error {
	return errors.New(errors.PhaseProtocol, errors.KindInvalidResponse).
		Detail("%s", detail).
		Build()
}

func notSerializable(v any, cause error) *errors.Error {
	return errors.New(errors.PhaseProtocol, errors.KindNotSerializable).
		GoType(fmt.Sprintf("%T", v)).
		Cause(cause).
		Detail("response object must be plain data").
		Build()
}
