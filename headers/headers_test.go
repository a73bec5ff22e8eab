package headers

import (
	"errors"
	"net/http"
	"testing"

	bferrors "github.com/wippyai/fetch-bridge/errors"
)

func TestHeaders_AppendJoins(t *testing.T) {
	h := &Headers{}
	for _, v := range []string{"a", "b", "c"} {
		if err := h.Append("X-Multi", v); err != nil {
			t.Fatalf("append %q: %v", v, err)
		}
	}
	got, ok := h.Get("x-multi")
	if !ok {
		t.Fatal("expected x-multi to be present")
	}
	if got != "a, b, c" {
		t.Errorf("Get = %q, want %q", got, "a, b, c")
	}
}

func TestHeaders_SetAfterAppendDiscards(t *testing.T) {
	h := &Headers{}
	_ = h.Append("Accept", "text/html")
	_ = h.Append("accept", "application/json")
	if err := h.Set("ACCEPT", "*/*"); err != nil {
		t.Fatal(err)
	}
	if got := h.Value("accept"); got != "*/*" {
		t.Errorf("Value = %q, want */*", got)
	}
	if h.Len() != 1 {
		t.Errorf("Len = %d, want 1", h.Len())
	}
}

func TestHeaders_CaseInsensitive(t *testing.T) {
	h := &Headers{}
	_ = h.Set("Content-Type", "text/plain")
	_ = h.Set("CONTENT-TYPE", "application/json")

	if h.Len() != 1 {
		t.Fatalf("names should collapse, got %d entries", h.Len())
	}
	entries := h.Entries()
	if entries[0][0] != "content-type" || entries[0][1] != "application/json" {
		t.Errorf("entries = %v", entries)
	}
	if !h.Has("Content-type") {
		t.Error("Has should ignore case")
	}
}

func TestHeaders_Delete(t *testing.T) {
	h := MustNew([][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}})
	if err := h.Delete("B"); err != nil {
		t.Fatal(err)
	}
	if h.Has("b") {
		t.Error("b should be deleted")
	}
	if err := h.Delete("missing"); err != nil {
		t.Errorf("deleting absent name: %v", err)
	}

	var names []string
	for name := range h.Keys() {
		names = append(names, name)
	}
	if len(names) != 2 || names[0] != "a" || names[1] != "c" {
		t.Errorf("keys = %v, want [a c]", names)
	}
}

func TestHeaders_InvalidName(t *testing.T) {
	tests := []string{"", "bad name", "x:y", "ümlaut", "tab\tname", "new\nline"}
	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			h := &Headers{}
			err := h.Set(name, "v")
			if !errors.Is(err, bferrors.ErrInvalidHeaderName) {
				t.Errorf("Set(%q) err = %v, want invalid header name", name, err)
			}
			if h.Len() != 0 {
				t.Error("invalid name must not be stored")
			}
			if _, ok := h.Get(name); ok || h.Has(name) {
				t.Errorf("Get/Has(%q) reported a malformed name as present", name)
			}
			if err := h.Delete(name); !errors.Is(err, bferrors.ErrInvalidHeaderName) {
				t.Errorf("Delete(%q) err = %v, want invalid header name", name, err)
			}
		})
	}
}

func TestHeaders_ValidNames(t *testing.T) {
	for _, name := range []string{"x-ok", "A!#$%&'*+.^_`|~9", "ETag"} {
		h := &Headers{}
		if err := h.Append(name, "v"); err != nil {
			t.Errorf("Append(%q): %v", name, err)
		}
	}
}

func TestHeaders_InvalidValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"plain", "hello world", true},
		{"tab", "a\tb", true},
		{"latin1", "café", true},
		{"obs-text byte", "a\xffb", true},
		{"nul", "a\x00b", false},
		{"newline", "a\nb", false},
		{"carriage return", "a\rb", false},
		{"del", "a\x7fb", false},
		{"beyond latin1", "snow ☃", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Headers{}
			err := h.Set("x-value", tt.value)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, bferrors.ErrInvalidHeaderValue) {
				t.Errorf("err = %v, want invalid header value", err)
			}
		})
	}
}

func TestNew_Initializers(t *testing.T) {
	src := MustNew([][2]string{{"X-A", "1"}})

	tests := []struct {
		name string
		init any
		want [][2]string
	}{
		{"nil", nil, [][2]string{}},
		{"headers", src, [][2]string{{"x-a", "1"}}},
		{"pairs", [][2]string{{"B", "2"}, {"a", "1"}, {"b", "3"}}, [][2]string{{"b", "2, 3"}, {"a", "1"}}},
		{"slices", [][]string{{"k", "v"}}, [][2]string{{"k", "v"}}},
		{"map", map[string]string{"z": "26", "a": "1"}, [][2]string{{"a", "1"}, {"z", "26"}}},
		{"http.Header", http.Header{"Accept": {"a", "b"}}, [][2]string{{"accept", "a, b"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := New(tt.init)
			if err != nil {
				t.Fatal(err)
			}
			got := h.Entries()
			if len(got) != len(tt.want) {
				t.Fatalf("entries = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("entry %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestNew_CopiesHeaders(t *testing.T) {
	src := MustNew(map[string]string{"a": "1"})
	cp, err := New(src)
	if err != nil {
		t.Fatal(err)
	}
	_ = cp.Set("a", "2")
	if src.Value("a") != "1" {
		t.Error("copy must not alias the source table")
	}
}

func TestNew_Rejects(t *testing.T) {
	tests := []struct {
		name string
		init any
		want error
	}{
		{"short pair", [][]string{{"only-name"}}, bferrors.ErrInvalidHeaders},
		{"long pair", [][]string{{"a", "b", "c"}}, bferrors.ErrInvalidHeaders},
		{"bad name", map[string]string{"bad name": "v"}, bferrors.ErrInvalidHeaderName},
		{"bad value", [][2]string{{"a", "\x01"}}, bferrors.ErrInvalidHeaderValue},
		{"unsupported", 42, bferrors.ErrInvalidHeaders},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.init)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestHeaders_HTTPHeader(t *testing.T) {
	h := MustNew([][2]string{{"content-type", "text/plain"}, {"x-id", "7"}})
	hh := h.HTTPHeader()
	if hh.Get("Content-Type") != "text/plain" || hh.Get("X-Id") != "7" {
		t.Errorf("HTTPHeader = %v", hh)
	}
}
