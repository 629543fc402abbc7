package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mhylle/multi-agent-coding-system/internal/domain/message"
	"github.com/mhylle/multi-agent-coding-system/internal/domain/task"
)

// startRouter starts r and stops it when the test ends.
func startRouter(t *testing.T, r *Router) {
	t.Helper()
	r.Start(context.Background())
	t.Cleanup(r.Stop)
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// gate is a handler that blocks on the first message until released, so
// tests can stack up a recipient's queue while it is busy.
type gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu       sync.Mutex
	received []message.Message
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) handle(_ context.Context, msg message.Message) (any, error) {
	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if first {
		<-g.release
	}
	g.mu.Lock()
	g.received = append(g.received, msg)
	g.mu.Unlock()
	return nil, nil
}

func (g *gate) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.received)
}

func (g *gate) ids() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.received))
	for i, m := range g.received {
		out[i] = m.ID
	}
	return out
}

func msgTo(recipient string, p task.Priority) message.Message {
	m := message.New(message.TypeStatusUpdate, "tester", recipient, map[string]any{"n": 1})
	m.Priority = p
	return m
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	if err := r.Register("", func(context.Context, message.Message) (any, error) { return nil, nil }); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("empty id: got %v", err)
	}
	if err := r.Register("a", nil); !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("nil handler: got %v", err)
	}
}

func TestSendRejectedWhenStopped(t *testing.T) {
	r := New()
	g := newGate()
	if err := r.Register("a", g.handle); err != nil {
		t.Fatal(err)
	}
	if r.Send(msgTo("a", task.PriorityMedium)) {
		t.Fatal("send must fail before Start")
	}
	if st := r.Statistics(); st.MessagesSent != 0 || len(st.QueueSizes) != 0 {
		t.Errorf("stopped router mutated state: %+v", st)
	}
}

func TestSendUnknownRecipient(t *testing.T) {
	r := New()
	startRouter(t, r)
	if r.Send(msgTo("nobody", task.PriorityMedium)) {
		t.Fatal("send to unknown recipient must fail")
	}
}

func TestBackpressure(t *testing.T) {
	const capacity = 3
	r := New(WithMaxQueueSize(capacity))
	g := newGate()
	if err := r.Register("slow", g.handle); err != nil {
		t.Fatal(err)
	}
	startRouter(t, r)

	if !r.Send(msgTo("slow", task.PriorityMedium)) {
		t.Fatal("first send failed")
	}
	<-g.entered

	for i := 0; i < capacity; i++ {
		if !r.Send(msgTo("slow", task.PriorityLow)) {
			t.Fatalf("send %d within capacity failed", i)
		}
	}
	for i := 0; i < 2; i++ {
		if r.Send(msgTo("slow", task.PriorityCritical)) {
			t.Fatal("send beyond capacity succeeded")
		}
	}

	st := r.Statistics()
	if st.QueueSizes["slow"] != capacity {
		t.Errorf("queue depth = %d, want %d", st.QueueSizes["slow"], capacity)
	}
	if st.MessagesSent != capacity+1 {
		t.Errorf("messages sent = %d, want %d", st.MessagesSent, capacity+1)
	}
	if st.HistorySize != capacity+1 {
		t.Errorf("history size = %d, want %d", st.HistorySize, capacity+1)
	}

	close(g.release)
	waitFor(t, "queue drain", func() bool { return g.count() == capacity+1 })
}

func TestStrictPriorityOrder(t *testing.T) {
	r := New()
	g := newGate()
	if err := r.Register("worker", g.handle); err != nil {
		t.Fatal(err)
	}
	startRouter(t, r)

	blocker := msgTo("worker", task.PriorityMedium)
	r.Send(blocker)
	<-g.entered

	low := msgTo("worker", task.PriorityLow)
	medium := msgTo("worker", task.PriorityMedium)
	high := msgTo("worker", task.PriorityHigh)
	critical := msgTo("worker", task.PriorityCritical)
	for _, m := range []message.Message{low, medium, high, critical} {
		if !r.Send(m) {
			t.Fatalf("send %s failed", m.Priority)
		}
	}
	close(g.release)

	waitFor(t, "all deliveries", func() bool { return g.count() == 5 })
	want := []string{blocker.ID, critical.ID, high.ID, medium.ID, low.ID}
	got := g.ids()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("delivery order = %v, want %v", got, want)
		}
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	r := New()
	g := newGate()
	if err := r.Register("worker", g.handle); err != nil {
		t.Fatal(err)
	}
	startRouter(t, r)

	r.Send(msgTo("worker", task.PriorityHigh))
	<-g.entered
	var sent []string
	for i := 0; i < 5; i++ {
		m := msgTo("worker", task.PriorityHigh)
		sent = append(sent, m.ID)
		r.Send(m)
	}
	close(g.release)

	waitFor(t, "deliveries", func() bool { return g.count() == 6 })
	got := g.ids()[1:]
	for i := range sent {
		if got[i] != sent[i] {
			t.Fatalf("order = %v, want %v", got, sent)
		}
	}
}

func TestSendRequestWrapsPlainResult(t *testing.T) {
	r := New()
	if err := r.Register("echo", func(_ context.Context, msg message.Message) (any, error) {
		return map[string]any{"echo": msg.Content["n"]}, nil
	}); err != nil {
		t.Fatal(err)
	}
	startRouter(t, r)

	req := msgTo("echo", task.PriorityHigh)
	resp, err := r.SendRequest(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if resp.Type != message.TypeTaskResponse {
		t.Errorf("type = %s, want task_response", resp.Type)
	}
	if resp.CorrelationID != req.ID {
		t.Errorf("correlation id = %s, want %s", resp.CorrelationID, req.ID)
	}
	if resp.Sender != "echo" || resp.Recipient != "tester" {
		t.Errorf("addressing = %s -> %s", resp.Sender, resp.Recipient)
	}
	payload, ok := resp.Content["response"].(map[string]any)
	if !ok || payload["echo"] != 1 {
		t.Errorf("content = %v", resp.Content)
	}
	if n := r.Statistics().PendingResponses; n != 0 {
		t.Errorf("pending = %d after reply", n)
	}
}

func TestSendRequestNilResultHasEmptyContent(t *testing.T) {
	r := New()
	_ = r.Register("sink", func(context.Context, message.Message) (any, error) { return nil, nil })
	startRouter(t, r)

	resp, err := r.SendRequest(context.Background(), msgTo("sink", task.PriorityLow), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Content) != 0 {
		t.Errorf("expected empty content, got %v", resp.Content)
	}
}

func TestSendRequestMessageResultUsedAsIs(t *testing.T) {
	r := New()
	_ = r.Register("svc", func(_ context.Context, msg message.Message) (any, error) {
		out := message.NewStatusUpdate("svc", msg.Sender, "done", "t1", nil)
		out.CorrelationID = msg.ID
		return out, nil
	})
	startRouter(t, r)

	resp, err := r.SendRequest(context.Background(), msgTo("svc", task.PriorityMedium), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Type != message.TypeStatusUpdate || resp.Content["status"] != "done" {
		t.Errorf("unexpected reply: %+v", resp)
	}
}

func TestSendRequestTimeoutLeavesNoPendingEntry(t *testing.T) {
	r := New()
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	_ = r.Register("silent", func(context.Context, message.Message) (any, error) {
		<-release
		return nil, nil
	})
	startRouter(t, r)

	start := time.Now()
	resp, err := r.SendRequest(context.Background(), msgTo("silent", task.PriorityMedium), 50*time.Millisecond)
	if !errors.Is(err, ErrRequestTimeout) {
		t.Fatalf("expected ErrRequestTimeout, got %v", err)
	}
	if resp != nil {
		t.Errorf("expected nil response, got %+v", resp)
	}
	if time.Since(start) > time.Second {
		t.Error("timeout took far longer than requested")
	}
	if n := r.Statistics().PendingResponses; n != 0 {
		t.Errorf("pending responses = %d, want 0", n)
	}
}

func TestSendRequestNotQueued(t *testing.T) {
	r := New()
	startRouter(t, r)

	resp, err := r.SendRequest(context.Background(), msgTo("ghost", task.PriorityMedium), time.Second)
	if !errors.Is(err, ErrNotQueued) || resp != nil {
		t.Fatalf("expected ErrNotQueued, got %v / %v", resp, err)
	}
	if n := r.Statistics().PendingResponses; n != 0 {
		t.Errorf("pending responses = %d, want 0", n)
	}
}

func TestHandlerErrorPropagates(t *testing.T) {
	errBoom := errors.New("boom")
	r := New()
	_ = r.Register("faulty", func(context.Context, message.Message) (any, error) { return nil, errBoom })
	startRouter(t, r)

	req := msgTo("faulty", task.PriorityMedium)
	_, err := r.SendRequest(context.Background(), req, time.Second)
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected handler error, got %v", err)
	}

	st := r.Statistics()
	if st.MessagesFailed != 1 || st.MessagesDelivered != 0 {
		t.Errorf("stats = %+v", st)
	}
	hist := r.History("faulty", 0)
	if len(hist) != 1 || hist[0].Status != StatusFailed || hist[0].Error != "boom" {
		t.Errorf("history = %+v", hist)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	r := New()
	_ = r.Register("panicky", func(context.Context, message.Message) (any, error) { panic("oops") })
	startRouter(t, r)

	_, err := r.SendRequest(context.Background(), msgTo("panicky", task.PriorityMedium), time.Second)
	if err == nil {
		t.Fatal("expected error from panicking handler")
	}
	if !r.Running() {
		t.Error("router stopped after handler panic")
	}
}

func TestStopCancelsPendingRequests(t *testing.T) {
	r := New()
	_ = r.Register("later", func(context.Context, message.Message) (any, error) { return nil, ErrReplyLater })
	r.Start(context.Background())

	errc := make(chan error, 1)
	go func() {
		_, err := r.SendRequest(context.Background(), msgTo("later", task.PriorityMedium), 5*time.Second)
		errc <- err
	}()
	waitFor(t, "delivery", func() bool { return r.Statistics().MessagesDelivered == 1 })

	r.Stop()

	select {
	case err := <-errc:
		if !errors.Is(err, ErrRequestCancelled) {
			t.Fatalf("expected ErrRequestCancelled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending request not released by Stop")
	}
	if r.Running() {
		t.Error("router still running after Stop")
	}
	if r.Send(msgTo("later", task.PriorityMedium)) {
		t.Error("send succeeded after Stop")
	}
}

func TestStopIsIdempotentAndRestartable(t *testing.T) {
	r := New()
	g := newGate()
	close(g.release)
	_ = r.Register("a", g.handle)

	r.Stop()
	r.Start(context.Background())
	r.Stop()
	r.Stop()

	r.Start(context.Background())
	defer r.Stop()
	if !r.Send(msgTo("a", task.PriorityMedium)) {
		t.Fatal("send after restart failed")
	}
	waitFor(t, "delivery after restart", func() bool { return g.count() == 1 })
}

func TestParentContextCancelStopsRouter(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	cancel()
	waitFor(t, "router stop", func() bool { return !r.Running() })
}

func TestSendRequestContextCancel(t *testing.T) {
	r := New()
	_ = r.Register("later", func(context.Context, message.Message) (any, error) { return nil, ErrReplyLater })
	startRouter(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := r.SendRequest(ctx, msgTo("later", task.PriorityMedium), 5*time.Second)
	if !errors.Is(err, ErrRequestCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancelled + deadline exceeded, got %v", err)
	}
	if n := r.Statistics().PendingResponses; n != 0 {
		t.Errorf("pending = %d", n)
	}
}

func TestCorrelatedReplyCompletesRequest(t *testing.T) {
	r := New()
	got := make(chan message.Message, 1)
	_ = r.Register("async", func(_ context.Context, msg message.Message) (any, error) {
		got <- msg
		return nil, ErrReplyLater
	})
	startRouter(t, r)

	result := make(chan *message.Message, 1)
	go func() {
		resp, err := r.SendRequest(context.Background(), msgTo("async", task.PriorityMedium), 2*time.Second)
		if err != nil {
			t.Errorf("SendRequest: %v", err)
		}
		result <- resp
	}()

	req := <-got
	if !req.RequiresResponse {
		t.Error("request must carry RequiresResponse")
	}
	reply := message.New(message.TypeTaskResponse, "async", req.Sender, map[string]any{"late": true})
	reply.CorrelationID = req.ID
	if !r.Send(reply) {
		t.Fatal("correlated reply rejected")
	}

	select {
	case resp := <-result:
		if resp == nil || resp.ID != reply.ID || resp.Content["late"] != true {
			t.Errorf("unexpected reply %+v", resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("correlated reply did not complete the request")
	}
}

func TestBroadcast(t *testing.T) {
	r := New()
	var mu sync.Mutex
	got := map[string]message.Message{}
	record := func(id string) Handler {
		return func(_ context.Context, msg message.Message) (any, error) {
			msg.Content["touched"] = id
			mu.Lock()
			got[id] = msg
			mu.Unlock()
			return nil, nil
		}
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = r.Register(id, record(id))
	}
	startRouter(t, r)

	orig := message.New(message.TypeWorkflowControl, "a", "", map[string]any{"command": "pause"})
	n := r.Broadcast(orig, "d")
	if n != 2 {
		t.Fatalf("broadcast count = %d, want 2", n)
	}
	waitFor(t, "broadcast delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if _, ok := got["a"]; ok {
		t.Error("sender received its own broadcast")
	}
	if _, ok := got["d"]; ok {
		t.Error("excluded recipient received broadcast")
	}
	b, c := got["b"], got["c"]
	if b.ID == c.ID || b.ID == orig.ID {
		t.Error("broadcast copies must have fresh ids")
	}
	if b.Recipient != "b" || c.Recipient != "c" {
		t.Errorf("recipients = %s, %s", b.Recipient, c.Recipient)
	}
	if b.Content["touched"] != "b" || c.Content["touched"] != "c" {
		t.Error("broadcast copies share content")
	}
	if _, ok := orig.Content["touched"]; ok {
		t.Error("original content mutated")
	}
}

func TestUnregisterDropsQueue(t *testing.T) {
	r := New()
	g := newGate()
	_ = r.Register("w", g.handle)
	startRouter(t, r)

	r.Send(msgTo("w", task.PriorityMedium))
	<-g.entered
	r.Send(msgTo("w", task.PriorityMedium))
	r.Send(msgTo("w", task.PriorityMedium))

	r.Unregister("w")
	if _, ok := r.Statistics().QueueSizes["w"]; ok {
		t.Error("queue survived unregister")
	}
	if r.Send(msgTo("w", task.PriorityMedium)) {
		t.Error("send to unregistered recipient succeeded")
	}
	close(g.release)
	waitFor(t, "in-flight delivery", func() bool { return g.count() == 1 })
}

func TestHealthCheck(t *testing.T) {
	r := New(WithMaxQueueSize(5), WithPendingWarnThreshold(1))
	h := r.HealthCheck()
	if h.Healthy || h.Status != "stopped" {
		t.Errorf("stopped router reported healthy: %+v", h)
	}

	g := newGate()
	_ = r.Register("busy", g.handle)
	_ = r.Register("later", func(context.Context, message.Message) (any, error) { return nil, ErrReplyLater })
	startRouter(t, r)

	if h := r.HealthCheck(); !h.Healthy || len(h.Issues) != 0 {
		t.Fatalf("idle router unhealthy: %+v", h)
	}

	r.Send(msgTo("busy", task.PriorityMedium))
	<-g.entered
	for i := 0; i < 5; i++ {
		r.Send(msgTo("busy", task.PriorityMedium))
	}
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = r.SendRequest(context.Background(), msgTo("later", task.PriorityMedium), 500*time.Millisecond)
		}()
	}
	waitFor(t, "pending requests", func() bool {
		st := r.Statistics()
		return st.PendingResponses == 2 && st.QueueSizes["later"] == 2
	})

	h = r.HealthCheck()
	if h.Healthy {
		t.Error("expected unhealthy router")
	}
	if len(h.Issues) != 2 {
		t.Errorf("expected queue and pending issues, got %v", h.Issues)
	}
	// Delivery is serial and parked in busy's handler, so both requests
	// are still queued for "later".
	if h.TotalQueueSize != 7 {
		t.Errorf("total queue size = %d, want 7", h.TotalQueueSize)
	}
	close(g.release)
}

func TestObserverEvents(t *testing.T) {
	var mu sync.Mutex
	kinds := map[EventKind]int{}
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		kinds[e.Kind]++
		mu.Unlock()
	})

	r := New(WithObserver(obs))
	_ = r.Register("ok", func(context.Context, message.Message) (any, error) { return nil, nil })
	_ = r.Register("bad", func(context.Context, message.Message) (any, error) { return nil, errors.New("x") })
	startRouter(t, r)

	r.Send(msgTo("ok", task.PriorityMedium))
	r.Send(msgTo("bad", task.PriorityMedium))
	r.Send(msgTo("nobody", task.PriorityMedium))

	waitFor(t, "events", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return kinds[EventDelivered] == 1 && kinds[EventFailed] == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if kinds[EventQueued] != 2 || kinds[EventRejected] != 1 {
		t.Errorf("events = %v", kinds)
	}
}

func TestAverageDeliveryTime(t *testing.T) {
	var c counters
	c.delivered = 1
	c.observe(100 * time.Millisecond)
	if c.avgDelivery != 100*time.Millisecond {
		t.Fatalf("first sample should seed the average, got %v", c.avgDelivery)
	}
	c.delivered = 2
	c.observe(200 * time.Millisecond)
	if c.avgDelivery != 110*time.Millisecond {
		t.Errorf("ema = %v, want 110ms", c.avgDelivery)
	}
}

func TestHistoryRing(t *testing.T) {
	h := newHistory(3)
	for i, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		sender := "x"
		if i%2 == 0 {
			sender = "y"
		}
		h.add(Entry{MessageID: id, Sender: sender, Recipient: "z", Status: StatusQueued})
	}
	if h.count() != 3 {
		t.Fatalf("count = %d, want 3", h.count())
	}

	all := h.list("", 10)
	if len(all) != 3 || all[0].MessageID != "m3" || all[2].MessageID != "m5" {
		t.Errorf("list = %+v", all)
	}

	h.update("m4", func(e *Entry) { e.Status = StatusDelivered })
	h.update("m1", func(e *Entry) { e.Status = StatusDelivered })
	if got := h.list("", 10)[1]; got.Status != StatusDelivered {
		t.Errorf("m4 status = %s", got.Status)
	}

	ys := h.list("y", 10)
	if len(ys) != 2 || ys[0].MessageID != "m3" || ys[1].MessageID != "m5" {
		t.Errorf("filtered = %+v", ys)
	}
	last := h.list("", 1)
	if len(last) != 1 || last[0].MessageID != "m5" {
		t.Errorf("limited = %+v", last)
	}
}
