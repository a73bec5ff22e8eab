package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	bferrors "github.com/wippyai/fetch-bridge/errors"
	"github.com/wippyai/fetch-bridge/exchange"
	"github.com/wippyai/fetch-bridge/message"
)

func TestFetch_ConcurrentExchangesStayIsolated(t *testing.T) {
	ctx := context.Background()
	b, host := newTestBridge(t, Config{})

	type result struct {
		body string
		err  error
	}
	results := make(map[string]chan result)
	for _, name := range []string{"a", "b"} {
		ch := make(chan result, 1)
		results[name] = ch
		go func() {
			resp, err := b.Fetch(ctx, "http://"+name+".test/", nil)
			if err != nil {
				ch <- result{err: err}
				return
			}
			body, err := resp.Text(ctx)
			ch <- result{body: body, err: err}
		}()
	}

	ids := make(map[string]uint64)
	for range 2 {
		select {
		case head := <-host.fetches:
			ids[head.Hostname[:1]] = head.ID
		case <-time.After(time.Second):
			t.Fatal("fetches were not issued")
		}
	}
	if ids["a"] == ids["b"] || ids["a"] == 0 || ids["b"] == 0 {
		t.Fatalf("ids = %v", ids)
	}
	if min(ids["a"], ids["b"]) != 1 || max(ids["a"], ids["b"]) != 2 {
		t.Errorf("ids = %v, want 1 and 2", ids)
	}

	for _, name := range []string{"a", "b"} {
		if err := b.DispatchFetchHead(ctx, ids[name], FetchMeta{Status: 200}); err != nil {
			t.Fatal(err)
		}
	}
	steps := []struct {
		name  string
		chunk string
	}{
		{"a", "a1"}, {"b", "b1"}, {"b", "b2"}, {"a", "a2"}, {"a", "a3"}, {"b", "b3"},
	}
	for _, s := range steps {
		if err := b.DispatchFetchChunk(ctx, ids[s.name], []byte(s.chunk)); err != nil {
			t.Fatal(err)
		}
	}
	for _, name := range []string{"b", "a"} {
		if err := b.DispatchFetchEnd(ctx, ids[name]); err != nil {
			t.Fatal(err)
		}
	}

	for name, want := range map[string]string{"a": "a1a2a3", "b": "b1b2b3"} {
		select {
		case r := <-results[name]:
			if r.err != nil {
				t.Fatalf("%s: %v", name, r.err)
			}
			if r.body != want {
				t.Errorf("%s body = %q, want %q", name, r.body, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: fetch did not complete", name)
		}
	}
	if b.Table().Len() != 0 {
		t.Errorf("table len = %d", b.Table().Len())
	}
}

func TestFetch_UnsupportedProtocol(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	for _, raw := range []string{"ftp://example.com/", "file:///etc/passwd", "no-scheme"} {
		_, err := b.Fetch(context.Background(), raw, nil)
		if !errors.Is(err, bferrors.ErrUnsupportedProtocol) {
			t.Errorf("%s: err = %v", raw, err)
		}
	}
	if ops := host.ops(exchange.Outbound, 1); ops != "" {
		t.Errorf("host saw calls: %s", ops)
	}
	if id := b.Table().NextID(); id != 1 {
		t.Errorf("rejected fetches consumed ids, next = %d", id)
	}
}

func TestFetch_StringModeHead(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchHead(context.Background(), head.ID, FetchMeta{
			Status:   201,
			Headers:  map[string]string{"X-Reply": "yes"},
			Body:     []byte("created"),
			Buffered: true,
		})
	}

	resp, err := b.Fetch(context.Background(), "http://example.com/p?q=1", &message.RequestInit{
		Method: "post",
		Body:   "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	head := <-host.fetches
	if head.Mode != ModeString || head.Body != "hi" {
		t.Errorf("mode = %s body = %q", head.Mode, head.Body)
	}
	if head.Method != "POST" || head.Port != "80" || head.Target != "/p?q=1" || head.Hostname != "example.com" {
		t.Errorf("head = %s %s:%s %s", head.Method, head.Hostname, head.Port, head.Target)
	}
	if resp.Status() != 201 || resp.Headers().Value("x-reply") != "yes" {
		t.Errorf("resp = %d %v", resp.Status(), resp.Headers())
	}
	body, err := resp.Text(context.Background())
	if err != nil || body != "created" {
		t.Errorf("body = %q, %v", body, err)
	}
	if b.Table().Len() != 0 {
		t.Error("buffered response should close the exchange")
	}
}

func TestFetch_DefaultPorts(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchHead(context.Background(), head.ID, FetchMeta{Buffered: true})
	}
	tests := map[string]string{
		"http://x.test/":      "80",
		"https://x.test/":     "443",
		"http://x.test:8080/": "8080",
	}
	for raw, port := range tests {
		if _, err := b.Fetch(context.Background(), raw, nil); err != nil {
			t.Fatal(err)
		}
		head := <-host.fetches
		if head.Port != port || head.Mode != ModeNone || head.Method != "GET" {
			t.Errorf("%s: port %s mode %s method %s", raw, head.Port, head.Mode, head.Method)
		}
	}
}

func TestFetch_FormDataSentAsString(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchHead(context.Background(), head.ID, FetchMeta{Status: 204, Buffered: true})
	}
	fd := message.NewFormData()
	fd.Append("a", "1")

	if _, err := b.Fetch(context.Background(), "http://example.com/form", &message.RequestInit{
		Method: "POST",
		Body:   fd,
	}); err != nil {
		t.Fatal(err)
	}
	head := <-host.fetches
	if head.Mode != ModeString {
		t.Fatalf("mode = %s", head.Mode)
	}
	ct := head.Headers.Value("content-type")
	if !strings.HasPrefix(ct, "multipart/form-data; boundary=--------------FetchBridgeFormBoundary") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(head.Body, "Content-Disposition: form-data; name=\"a\"\r\n\r\n1\r\n") {
		t.Errorf("body = %q", head.Body)
	}
}

func TestFetch_StreamModeUpload(t *testing.T) {
	ctx := context.Background()
	b, host := newTestBridge(t, Config{})

	done := make(chan error, 1)
	go func() {
		resp, err := b.Fetch(ctx, "http://example.com/upload", &message.RequestInit{
			Method: "PUT",
			Body:   strings.NewReader("payload"),
		})
		if err == nil {
			_, err = resp.Bytes(ctx)
		}
		done <- err
	}()

	head := <-host.fetches
	if head.Mode != ModeStream {
		t.Fatalf("mode = %s", head.Mode)
	}
	select {
	case <-host.uploads:
	case <-time.After(time.Second):
		t.Fatal("upload did not finish")
	}

	var uploaded strings.Builder
	for _, c := range host.callsFor(exchange.Outbound, head.ID) {
		if c.op == "upload" {
			uploaded.Write(c.chunk)
		}
	}
	if uploaded.String() != "payload" {
		t.Errorf("uploaded = %q", uploaded.String())
	}
	if ops := host.ops(exchange.Outbound, head.ID); !strings.HasSuffix(ops, "upload,upload-end") {
		t.Errorf("ops = %s", ops)
	}

	if err := b.DispatchFetchHead(ctx, head.ID, FetchMeta{Status: 200}); err != nil {
		t.Fatal(err)
	}
	if err := b.DispatchFetchEnd(ctx, head.ID); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestFetch_ErrorBeforeHeadRejects(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	b, host := newTestBridge(t, Config{Logger: zap.New(core)})
	refused := errors.New("connection refused")
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchError(context.Background(), head.ID, refused)
	}

	_, err := b.Fetch(context.Background(), "http://example.com/", nil)
	if !errors.Is(err, bferrors.ErrFetchFailed) || !errors.Is(err, refused) {
		t.Errorf("err = %v", err)
	}
	if logs.FilterMessage("fetch rejected").Len() != 1 {
		t.Errorf("rejection logs = %d", logs.FilterMessage("fetch rejected").Len())
	}
	if b.Table().Len() != 0 {
		t.Error("failed fetch left an exchange behind")
	}
}

func TestFetch_ErrorAfterHeadFailsBody(t *testing.T) {
	ctx := context.Background()
	b, host := newTestBridge(t, Config{HighWaterMark: 4})
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchHead(ctx, head.ID, FetchMeta{Status: 200})
	}

	resp, err := b.Fetch(ctx, "http://example.com/", nil)
	if err != nil {
		t.Fatal(err)
	}
	id := (<-host.fetches).ID
	if err := b.DispatchFetchChunk(ctx, id, []byte("partial")); err != nil {
		t.Fatal(err)
	}
	if err := b.DispatchFetchError(ctx, id, errors.New("reset")); err != nil {
		t.Fatal(err)
	}
	if _, err := resp.Text(ctx); !errors.Is(err, bferrors.ErrFetchFailed) {
		t.Errorf("Text err = %v", err)
	}
}

func TestFetch_IssueError(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	host.issueErr = errors.New("host down")

	_, err := b.Fetch(context.Background(), "http://example.com/", nil)
	if !errors.Is(err, bferrors.ErrFetchFailed) {
		t.Errorf("err = %v", err)
	}
	if b.Table().Len() != 0 {
		t.Error("exchange left behind")
	}
}

func TestFetch_ContextCancelAborts(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := b.Fetch(ctx, "http://example.com/slow", nil)
		done <- err
	}()
	id := (<-host.fetches).ID
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Fetch ignored cancellation")
	}

	waitFor(t, func() bool { return strings.Contains(host.ops(exchange.Outbound, id), "abort") })
	if ops := host.ops(exchange.Outbound, id); ops != "issue,abort" {
		t.Errorf("ops = %s", ops)
	}
	if err := b.DispatchFetchHead(context.Background(), id, FetchMeta{Status: 200}); err == nil {
		t.Error("late head for a canceled fetch should be rejected")
	}
}

func TestFetch_DroppedBodyAborts(t *testing.T) {
	ctx := context.Background()
	b, host := newTestBridge(t, Config{})
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchHead(ctx, head.ID, FetchMeta{Status: 200})
	}

	resp, err := b.Fetch(ctx, "http://example.com/big", nil)
	if err != nil {
		t.Fatal(err)
	}
	id := (<-host.fetches).ID
	resp.Cancel(nil)

	if err := b.DispatchFetchChunk(ctx, id, []byte("ignored")); !errors.Is(err, bferrors.ErrStreamCanceled) {
		t.Errorf("chunk err = %v", err)
	}
	if ops := host.ops(exchange.Outbound, id); ops != "issue,abort" {
		t.Errorf("ops = %s", ops)
	}
	if b.Table().Len() != 0 {
		t.Error("dropped fetch left an exchange behind")
	}
}

func TestFetch_RequestInput(t *testing.T) {
	b, host := newTestBridge(t, Config{})
	host.onIssue = func(head FetchHead) {
		_ = b.DispatchFetchHead(context.Background(), head.ID, FetchMeta{Buffered: true})
	}
	req, err := message.NewRequest("https://example.com/r", &message.RequestInit{
		Method:  "delete",
		Headers: map[string]string{"Authorization": "token"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Fetch(context.Background(), req, nil); err != nil {
		t.Fatal(err)
	}
	head := <-host.fetches
	if head.Method != "DELETE" || head.Headers.Value("authorization") != "token" || head.RawURL != "https://example.com/r" {
		t.Errorf("head = %+v", head)
	}

	if _, err := b.Fetch(context.Background(), 42, nil); err == nil {
		t.Error("non-URL input should be rejected")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
