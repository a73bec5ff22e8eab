package message

import (
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/wippyai/fetch-bridge/errors"
)

// FormEntry is one form field. Filename is set only for file parts decoded
// from an inbound multipart body; such entries cannot be encoded again.
type FormEntry struct {
	Name     string
	Value    string
	Filename string
}

// IsFile reports whether the entry came from a file part.
func (e FormEntry) IsFile() bool { return e.Filename != "" }

// FormData is an ordered list of form fields. Duplicate names are kept in
// insertion order.
type FormData struct {
	entries []FormEntry
}

// NewFormData returns an empty form.
func NewFormData() *FormData {
	return &FormData{}
}

// FormDataFrom builds a form from entries, preserving their order.
func FormDataFrom(entries []FormEntry) *FormData {
	return &FormData{entries: slices.Clone(entries)}
}

// Append adds a field.
func (f *FormData) Append(name, value string) {
	f.entries = append(f.entries, FormEntry{Name: name, Value: value})
}

// AppendFile always fails: file fields are not supported.
func (f *FormData) AppendFile(name string, _ []byte, filename string) error {
	return errors.New(errors.PhaseConstruct, errors.KindUnsupported).
		Path(name).
		Value(filename).
		Detail("file fields are not supported").
		Build()
}

// Set removes every field called name and appends one with value.
func (f *FormData) Set(name, value string) {
	f.Delete(name)
	f.Append(name, value)
}

// Delete removes every field called name.
func (f *FormData) Delete(name string) {
	f.entries = slices.DeleteFunc(f.entries, func(e FormEntry) bool { return e.Name == name })
}

// Get returns the first value for name.
func (f *FormData) Get(name string) (string, bool) {
	for _, e := range f.entries {
		if e.Name == name {
			return e.Value, true
		}
	}
	return "", false
}

// GetAll returns every value for name in insertion order.
func (f *FormData) GetAll(name string) []string {
	var out []string
	for _, e := range f.entries {
		if e.Name == name {
			out = append(out, e.Value)
		}
	}
	return out
}

// Has reports whether any field is called name.
func (f *FormData) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Len returns the number of fields.
func (f *FormData) Len() int { return len(f.entries) }

// All iterates (name, value) pairs in insertion order.
func (f *FormData) All() iter.Seq2[string, string] {
	return func(yield func(string, string) bool) {
		for _, e := range f.entries {
			if !yield(e.Name, e.Value) {
				return
			}
		}
	}
}

// Keys iterates field names in insertion order.
func (f *FormData) Keys() iter.Seq[string] {
	return func(yield func(string) bool) {
		for name := range f.All() {
			if !yield(name) {
				return
			}
		}
	}
}

// Values iterates field values in insertion order.
func (f *FormData) Values() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, value := range f.All() {
			if !yield(value) {
				return
			}
		}
	}
}

// Entries returns a snapshot of the fields.
func (f *FormData) Entries() []FormEntry {
	return slices.Clone(f.entries)
}

// ForEach calls fn for every field in order.
func (f *FormData) ForEach(fn func(name, value string)) {
	for _, e := range f.entries {
		fn(e.Name, e.Value)
	}
}

// String renders the form as FormData { a="1", b="2" }.
func (f *FormData) String() string {
	pairs := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		pairs = append(pairs, e.Name+"="+strconv.Quote(e.Value))
	}
	return "FormData { " + strings.Join(pairs, ", ") + " }"
}
