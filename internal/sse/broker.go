// Package sse streams decompilation run events to HTTP clients.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"sync/atomic"
	"time"
)

// Event is one server-sent event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// RunEvent is the payload of run.* events.
type RunEvent struct {
	RunID   string `json:"run_id,omitempty"`
	Input   string `json:"input"`
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
	Issues  int    `json:"issues"`
	Modules int    `json:"modules"`
}

// Run event kinds accepted by PublishRunEvent.
const (
	RunStarted  = "started"
	RunFinished = "finished"
	RunFailed   = "failed"
)

// Event types written to the stream besides run.<kind>.
const (
	TypeActive         = "runs.active"
	TypeCatalogUpdated = "catalog.updated"
)

const clientBuffer = 64

type runEventReq struct {
	kind string
	ev   RunEvent
}

// Broker fans run events out to SSE clients.
//
// One loop goroutine owns the client set, the runs in flight and the
// catalog throttle timestamp. Public methods talk to it over channels.
type Broker struct {
	catalogMin time.Duration
	keepAlive  time.Duration
	seq        atomic.Uint64

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	runEventCh    chan runEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithKeepAlive sets the interval of comment pings on idle streams.
// Zero disables them.
func WithKeepAlive(d time.Duration) BrokerOption {
	return func(b *Broker) { b.keepAlive = d }
}

// NewBroker starts a broker. Finished and failed runs emit at most one
// catalog.updated per catalogThrottle.
func NewBroker(catalogThrottle time.Duration, opts ...BrokerOption) *Broker {
	if catalogThrottle <= 0 {
		catalogThrottle = 2 * time.Second
	}

	b := &Broker{
		catalogMin:    catalogThrottle,
		keepAlive:     15 * time.Second,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		runEventCh:    make(chan runEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// frame renders an event in wire format. Ids increase per broker.
func (b *Broker) frame(event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", b.seq.Add(1), event.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	// Started runs keyed by output path; a run's output is unique while it runs.
	active := make(map[string]RunEvent)
	var lastCatalog time.Time

	send := func(ch chan []byte, event Event) {
		raw, err := b.frame(event)
		if err != nil {
			return
		}
		select {
		case ch <- raw:
		default:
			// Slow client; drop rather than stall the loop.
		}
	}
	broadcast := func(event Event) {
		raw, err := b.frame(event)
		if err != nil {
			return
		}
		for ch := range clients {
			select {
			case ch <- raw:
			default:
			}
		}
	}
	snapshot := func() []RunEvent {
		runs := make([]RunEvent, 0, len(active))
		for _, ev := range active {
			runs = append(runs, ev)
		}
		slices.SortFunc(runs, func(a, b RunEvent) int {
			switch {
			case a.Output < b.Output:
				return -1
			case a.Output > b.Output:
				return 1
			}
			return 0
		})
		return runs
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}
			if len(active) > 0 {
				send(ch, Event{Type: TypeActive, Data: snapshot()})
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.runEventCh:
			key := req.ev.Output
			if key == "" {
				key = req.ev.Input
			}
			switch req.kind {
			case RunStarted:
				active[key] = req.ev
				broadcast(Event{Type: "run." + req.kind, Data: req.ev})
				continue
			case RunFinished, RunFailed:
				delete(active, key)
				broadcast(Event{Type: "run." + req.kind, Data: req.ev})
			default:
				continue
			}

			now := time.Now()
			if now.Sub(lastCatalog) >= b.catalogMin {
				lastCatalog = now
				broadcast(Event{Type: TypeCatalogUpdated, Data: map[string]string{}})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe registers a client. A client that joins while runs are in
// flight first receives a runs.active event listing them.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts an arbitrary event.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishRunEvent publishes a run.<kind> event and tracks the run as in
// flight until it finishes or fails. Unknown kinds are ignored.
func (b *Broker) PublishRunEvent(kind string, ev RunEvent) {
	if b.closed.Load() {
		return
	}
	select {
	case b.runEventCh <- runEventReq{kind: kind, ev: ev}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	var ping <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		ping = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
