// Package headers implements the validated, case-insensitive header table
// shared by requests and responses.
//
// Names are lower-cased on every operation and must be RFC 7230 tokens.
// Values may contain HTAB and the byte ranges 0x20-0x7E and 0x80-0xFF;
// anything else is rejected when it is stored, never silently dropped.
// Repeated Append calls join values with ", " in call order.
package headers

import (
	"fmt"
	"iter"
	"net/http"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"

	"github.com/wippyai/fetch-bridge/errors"
)

// Headers is an ordered mapping of lower-cased header names to values.
// The zero value is an empty table ready to use.
type Headers struct {
	values map[string]string
	names  []string
}

// New builds a table from an initializer.
//
// Accepted initializers: nil, *Headers (copied), [][2]string, [][]string
// where every inner slice has two elements, map[string]string,
// map[string][]string and http.Header. Map initializers are applied in
// sorted key order.
func New(init any) (*Headers, error) {
	h := &Headers{}
	switch v := init.(type) {
	case nil:
	case *Headers:
		if v != nil {
			for _, name := range v.names {
				h.store(name, v.values[name])
			}
		}
	case [][2]string:
		for _, pair := range v {
			if err := h.Append(pair[0], pair[1]); err != nil {
				return nil, err
			}
		}
	case [][]string:
		for _, pair := range v {
			if len(pair) != 2 {
				return nil, errors.InvalidHeaders("header pair must have exactly two elements")
			}
			if err := h.Append(pair[0], pair[1]); err != nil {
				return nil, err
			}
		}
	case map[string]string:
		for _, name := range sortedKeys(v) {
			if err := h.Append(name, v[name]); err != nil {
				return nil, err
			}
		}
	case http.Header:
		if err := h.appendMulti(v); err != nil {
			return nil, err
		}
	case map[string][]string:
		if err := h.appendMulti(v); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New(errors.PhaseConstruct, errors.KindInvalidHeaders).
			GoType(fmt.Sprintf("%T", init)).
			Detail("unsupported headers initializer").
			Build()
	}
	return h, nil
}

// MustNew is like New but panics on error. Intended for literals in tests
// and package-level tables.
func MustNew(init any) *Headers {
	h, err := New(init)
	if err != nil {
		panic(err)
	}
	return h
}

func (h *Headers) appendMulti(m map[string][]string) error {
	for _, name := range sortedKeys(m) {
		for _, value := range m[name] {
			if err := h.Append(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Set replaces any existing value for name.
func (h *Headers) Set(name, value string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := validateValue(name, value); err != nil {
		return err
	}
	h.store(name, value)
	return nil
}

// Append adds value to name, joining with ", " when name is already present.
func (h *Headers) Append(name, value string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if err := validateValue(name, value); err != nil {
		return err
	}
	if prev, ok := h.values[name]; ok {
		h.values[name] = prev + ", " + value
		return nil
	}
	h.store(name, value)
	return nil
}

// Get returns the value for name. A malformed name cannot be stored, so it
// is reported as absent rather than as an error; Set, Append and Delete
// still reject it.
func (h *Headers) Get(name string) (string, bool) {
	if h == nil {
		return "", false
	}
	name, err := normalizeName(name)
	if err != nil {
		return "", false
	}
	v, ok := h.values[name]
	return v, ok
}

// Value returns the value for name or "" when absent.
func (h *Headers) Value(name string) string {
	v, _ := h.Get(name)
	return v
}

// Has reports whether name is present. Malformed names are never present.
func (h *Headers) Has(name string) bool {
	_, ok := h.Get(name)
	return ok
}

// Delete removes name. Deleting an absent name is a no-op.
func (h *Headers) Delete(name string) error {
	name, err := normalizeName(name)
	if err != nil {
		return err
	}
	if _, ok := h.values[name]; !ok {
		return nil
	}
	delete(h.values, name)
	h.names = slices.DeleteFunc(h.names, func(n string) bool { return n == name })
	return nil
}

// Len returns the number of distinct names.
func (h *Headers) Len() int {
	if h == nil {
		return 0
	}
	return len(h.names)
}

// All iterates (name, value) pairs in insertion order.
func (h *Headers) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		if h == nil {
			return
		}
		for _, name := range h.names {
			if !yield(name, h.values[name]) {
				return
			}
		}
	}
}

// Keys iterates names in insertion order.
func (h *Headers) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for name := range h.All() {
			if !yield(name) {
				return
			}
		}
	}
}

// Values iterates values in insertion order.
func (h *Headers) Values() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, value := range h.All() {
			if !yield(value) {
				return
			}
		}
	}
}

// Entries returns a snapshot of all pairs in insertion order.
func (h *Headers) Entries() [][2]string {
	out := make([][2]string, 0, h.Len())
	for name, value := range h.All() {
		out = append(out, [2]string{name, value})
	}
	return out
}

// Clone returns an independent copy.
func (h *Headers) Clone() *Headers {
	c, _ := New(h)
	return c
}

// HTTPHeader converts the table to an http.Header with canonical keys.
func (h *Headers) HTTPHeader() http.Header {
	out := make(http.Header, h.Len())
	for name, value := range h.All() {
		out.Add(name, value)
	}
	return out
}

// String renders the table as "name: value" lines.
func (h *Headers) String() string {
	var b strings.Builder
	for name, value := range h.All() {
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\n")
	}
	return b.String()
}

func (h *Headers) store(name, value string) {
	if h.values == nil {
		h.values = make(map[string]string)
	}
	if _, ok := h.values[name]; !ok {
		h.names = append(h.names, name)
	}
	h.values[name] = value
}

func normalizeName(name string) (string, error) {
	if !httpguts.ValidHeaderFieldName(name) {
		return "", errors.InvalidHeaderName(name)
	}
	return strings.ToLower(name), nil
}

// validateValue accepts HTAB, 0x20-0x7E and 0x80-0xFF code points. Bytes
// that are not valid UTF-8 are taken as obs-text octets.
func validateValue(name, value string) error {
	for i := 0; i < len(value); {
		r, size := utf8.DecodeRuneInString(value[i:])
		if r == utf8.RuneError && size == 1 {
			r = rune(value[i])
		}
		i += size
		switch {
		case r == '\t':
		case r >= 0x20 && r <= 0x7e:
		case r >= 0x80 && r <= 0xff:
		default:
			return errors.InvalidHeaderValue(name, value)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
