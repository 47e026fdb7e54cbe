package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// drain collects the frames buffered on ch without blocking.
func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func waitFrame(t *testing.T, ch chan []byte) string {
	t.Helper()
	select {
	case msg := <-ch:
		return string(msg)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for frame")
		return ""
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishFrame(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "run.started", Data: map[string]string{"input": "a.wxapkg"}})
	b.Publish(Event{Type: "run.started", Data: map[string]string{"input": "b.wxapkg"}})

	first := waitFrame(t, ch)
	if !strings.HasPrefix(first, "id: 1\nevent: run.started\n") {
		t.Errorf("first frame = %q", first)
	}
	if !strings.Contains(first, `"input":"a.wxapkg"`) {
		t.Errorf("missing data in %q", first)
	}
	if second := waitFrame(t, ch); !strings.HasPrefix(second, "id: 2\n") {
		t.Errorf("second frame = %q", second)
	}
}

func TestPublishRunEvent_CatalogThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishRunEvent(RunStarted, RunEvent{Input: "a.wxapkg", Output: "/out/a"})
	b.PublishRunEvent(RunFinished, RunEvent{Input: "a.wxapkg", Output: "/out/a", Success: true})
	b.PublishRunEvent(RunFailed, RunEvent{Input: "b.wxapkg", Output: "/out/b"})
	b.PublishRunEvent("bogus", RunEvent{Input: "c.wxapkg"})

	time.Sleep(50 * time.Millisecond)
	var runs, catalog int
	for _, s := range drain(ch) {
		if strings.Contains(s, "event: "+TypeCatalogUpdated) {
			catalog++
		} else {
			runs++
		}
	}
	if runs != 3 {
		t.Errorf("run events = %d, want 3", runs)
	}
	if catalog != 1 {
		t.Errorf("catalog events = %d, want 1 (throttled)", catalog)
	}
}

func TestSubscribeReceivesActiveRuns(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	b.PublishRunEvent(RunStarted, RunEvent{Input: "b.wxapkg", Output: "/out/b"})
	b.PublishRunEvent(RunStarted, RunEvent{Input: "a.wxapkg", Output: "/out/a"})
	b.PublishRunEvent(RunFinished, RunEvent{Input: "b.wxapkg", Output: "/out/b", Success: true})

	time.Sleep(50 * time.Millisecond)
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	s := waitFrame(t, ch)
	if !strings.Contains(s, "event: "+TypeActive) {
		t.Fatalf("first frame = %q", s)
	}
	if !strings.Contains(s, `"output":"/out/a"`) || strings.Contains(s, "/out/b") {
		t.Errorf("active runs = %q", s)
	}

	b.PublishRunEvent(RunFailed, RunEvent{Input: "a.wxapkg", Output: "/out/a"})
	time.Sleep(50 * time.Millisecond)
	late := b.Subscribe()
	defer b.Unsubscribe(late)
	time.Sleep(50 * time.Millisecond)
	if got := drain(late); len(got) != 0 {
		t.Errorf("idle broker sent %q to a new client", got)
	}
}

// syncRecorder guards the recorder body shared between the handler and the test.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithKeepAlive(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishRunEvent(RunFinished, RunEvent{Input: "x.wxapkg"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	if !strings.Contains(body, "event: run.finished") {
		t.Errorf("handler output missing event: %q", body)
	}
	if !strings.Contains(body, ": ping\n\n") {
		t.Errorf("handler output missing keepalive: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < clientBuffer+6; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
	time.Sleep(50 * time.Millisecond)
	if got := len(drain(ch)); got != clientBuffer {
		t.Errorf("buffered = %d, want %d", got, clientBuffer)
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// No-ops once closed.
	b.Publish(Event{Type: "run.finished", Data: nil})
	b.PublishRunEvent(RunFinished, RunEvent{Input: "x.wxapkg"})
	if ch := b.Subscribe(); ch == nil {
		t.Fatal("nil channel after close")
	}
}
