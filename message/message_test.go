package message

import (
	"context"
	"errors"
	"strings"
	"testing"

	bferrors "github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/headers"
	"github.com/wippyai/fetch-bridge/stream"
)

func TestNewRequest_Defaults(t *testing.T) {
	req, err := NewRequest("http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}
	if req.Method() != "GET" {
		t.Errorf("method = %q, want GET", req.Method())
	}
	if req.BodyKind() != BodyNone {
		t.Errorf("body kind = %v, want none", req.BodyKind())
	}
	if req.Headers().Len() != 0 {
		t.Errorf("headers = %v", req.Headers())
	}
	text, err := req.Text(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if text != "" {
		t.Errorf("text = %q", text)
	}
}

func TestNewRequest_SharesHeaders(t *testing.T) {
	h := headers.MustNew(nil)
	req, err := NewRequest("http://example.com/", &RequestInit{Headers: h})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Set("X-Later", "1"); err != nil {
		t.Fatal(err)
	}
	if !req.Headers().Has("x-later") {
		t.Error("request should see headers added after construction")
	}
}

func TestNewRequest_InvalidHeaders(t *testing.T) {
	_, err := NewRequest("http://example.com/", &RequestInit{
		Headers: map[string]string{"bad name": "x"},
	})
	if !errors.Is(err, bferrors.ErrInvalidHeaderName) {
		t.Errorf("err = %v, want invalid header name", err)
	}
}

func TestNewRequest_InvalidBody(t *testing.T) {
	_, err := NewRequest("http://example.com/", &RequestInit{Body: 42})
	if err == nil {
		t.Fatal("expected error for int body")
	}
	var be *bferrors.Error
	if !errors.As(err, &be) || be.Kind != bferrors.KindInvalidBody {
		t.Errorf("err = %v", err)
	}
}

func TestBody_Kinds(t *testing.T) {
	tests := []struct {
		name string
		body any
		want BodyKind
	}{
		{"nil", nil, BodyNone},
		{"string", "hi", BodyLiteral},
		{"bytes", []byte("hi"), BodyStream},
		{"stream", stream.FromString("hi"), BodyStream},
		{"reader", strings.NewReader("hi"), BodyStream},
		{"form", NewFormData(), BodyForm},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := NewRequest("http://x/", &RequestInit{Body: tt.body})
			if err != nil {
				t.Fatal(err)
			}
			if req.BodyKind() != tt.want {
				t.Errorf("kind = %v, want %v", req.BodyKind(), tt.want)
			}
		})
	}
}

func TestBody_SingleShot(t *testing.T) {
	ctx := context.Background()
	req, err := NewRequest("http://x/", &RequestInit{Body: stream.FromString("payload")})
	if err != nil {
		t.Fatal(err)
	}
	if req.BodyUsed() {
		t.Fatal("fresh body reported used")
	}
	got, err := req.Text(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != "payload" {
		t.Errorf("text = %q", got)
	}
	if !req.BodyUsed() {
		t.Error("body should be used after Text")
	}
	if _, err := req.Bytes(ctx); !errors.Is(err, bferrors.ErrBodyUsed) {
		t.Errorf("second read err = %v, want body used", err)
	}
	if _, err := req.TakeStream(); !errors.Is(err, bferrors.ErrBodyUsed) {
		t.Errorf("TakeStream after read err = %v", err)
	}
}

func TestBody_JSON(t *testing.T) {
	resp, err := NewResponse(`{"x":1}`, nil)
	if err != nil {
		t.Fatal(err)
	}
	var v map[string]int
	if err := resp.JSON(context.Background(), &v); err != nil {
		t.Fatal(err)
	}
	if v["x"] != 1 {
		t.Errorf("v = %v", v)
	}

	bad, _ := NewResponse("{", nil)
	if err := bad.JSON(context.Background(), &v); err == nil {
		t.Error("expected parse error")
	}
}

func TestNewResponse_Defaults(t *testing.T) {
	resp, err := NewResponse(nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Status() != 200 || resp.StatusText() != "OK" || !resp.OK() {
		t.Errorf("status = %d %q ok=%v", resp.Status(), resp.StatusText(), resp.OK())
	}

	nf, err := NewResponse("gone", &ResponseInit{Status: 404})
	if err != nil {
		t.Fatal(err)
	}
	if nf.StatusText() != "OK" || nf.OK() {
		t.Errorf("404 response = %q ok=%v", nf.StatusText(), nf.OK())
	}
	lit, ok := nf.Literal()
	if !ok || lit != "gone" {
		t.Errorf("literal = %q, %v", lit, ok)
	}

	tests := []struct {
		init *ResponseInit
		want string
	}{
		{&ResponseInit{Status: 500}, "OK"},
		{&ResponseInit{Status: 201}, "OK"},
		{&ResponseInit{Status: 404, StatusText: "Gone Fishing"}, "Gone Fishing"},
	}
	for _, tt := range tests {
		resp, err := NewResponse(nil, tt.init)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusText() != tt.want {
			t.Errorf("status %d text = %q, want %q", tt.init.Status, resp.StatusText(), tt.want)
		}
	}
}

func TestNewResponse_RejectsForm(t *testing.T) {
	if _, err := NewResponse(NewFormData(), nil); err == nil {
		t.Error("response must not accept a FormData body")
	}
}

func TestFormData_Order(t *testing.T) {
	fd := NewFormData()
	fd.Append("a", "1")
	fd.Append("b", "2")
	fd.Append("a", "3")

	if got := fd.GetAll("a"); len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Errorf("GetAll(a) = %v", got)
	}
	if v, _ := fd.Get("a"); v != "1" {
		t.Errorf("Get(a) = %q", v)
	}

	fd.Set("a", "9")
	var names []string
	for name := range fd.Keys() {
		names = append(names, name)
	}
	if strings.Join(names, ",") != "b,a" {
		t.Errorf("keys after Set = %v", names)
	}
	if fd.String() != `FormData { b="2", a="9" }` {
		t.Errorf("String() = %s", fd.String())
	}

	fd.Delete("b")
	if fd.Has("b") || fd.Len() != 1 {
		t.Errorf("after Delete: %s", fd)
	}
}

func TestFormData_AppendFileFails(t *testing.T) {
	fd := NewFormData()
	err := fd.AppendFile("upload", []byte("x"), "x.txt")
	var be *bferrors.Error
	if !errors.As(err, &be) || be.Kind != bferrors.KindUnsupported {
		t.Errorf("err = %v, want unsupported", err)
	}
	if fd.Len() != 0 {
		t.Error("failed AppendFile must not add an entry")
	}
}

func TestFormData_ForEach(t *testing.T) {
	fd := FormDataFrom([]FormEntry{{Name: "x", Value: "1"}, {Name: "y", Value: "2"}})
	var parts []string
	fd.ForEach(func(name, value string) {
		parts = append(parts, name+"="+value)
	})
	if strings.Join(parts, "&") != "x=1&y=2" {
		t.Errorf("parts = %v", parts)
	}
	var values []string
	for v := range fd.Values() {
		values = append(values, v)
	}
	if strings.Join(values, ",") != "1,2" {
		t.Errorf("values = %v", values)
	}
}

func TestNewRequestFrom(t *testing.T) {
	base, err := NewRequest("http://x/a", &RequestInit{
		Method:  "POST",
		Headers: map[string]string{"X-A": "1"},
		Body:    "payload",
	})
	if err != nil {
		t.Fatal(err)
	}

	same, err := NewRequestFrom(base, nil)
	if err != nil || same != base {
		t.Fatalf("nil init should return the request itself, err = %v", err)
	}

	derived, err := NewRequestFrom(base, &RequestInit{Method: "PUT"})
	if err != nil {
		t.Fatal(err)
	}
	if derived.Method() != "PUT" || derived.URL() != "http://x/a" || !derived.Headers().Has("x-a") {
		t.Errorf("derived = %s %s %v", derived.Method(), derived.URL(), derived.Headers())
	}
	if _, err := derived.Text(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !base.BodyUsed() {
		t.Error("derived request should share the body of its source")
	}
}
