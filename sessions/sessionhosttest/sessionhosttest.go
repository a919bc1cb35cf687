// Package sessionhosttest is a conformance suite for sessions.StreamHost
// implementations.
package sessionhosttest

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/NEARWEEK/MCP/internal/jsonrpc"
	"github.com/NEARWEEK/MCP/sessions"
	"github.com/google/uuid"
)

// HostFactory creates a new StreamHost instance for testing.
type HostFactory func(t *testing.T) sessions.StreamHost

// RunStreamHostTests runs the complete StreamHost test suite against the provided factory.
func RunStreamHostTests(t *testing.T, factory HostFactory) {
	t.Run("Messaging_PublishAndSubscribeFuture", func(t *testing.T) { testPublishAndSubscribeFuture(t, factory) })
	t.Run("Messaging_ResumeFromLastEventID", func(t *testing.T) { testResumeFromLastEventID(t, factory) })
	t.Run("Messaging_IsolationBetweenSessions", func(t *testing.T) { testSessionIsolation(t, factory) })
	t.Run("Messaging_OrderingPreserved", func(t *testing.T) { testOrderingPreserved(t, factory) })
	t.Run("Messaging_SubscriptionContextCancellation", func(t *testing.T) { testSubscriptionContextCancellation(t, factory) })
	t.Run("Messaging_HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerErrorStopsSubscription(t, factory) })
	t.Run("Messaging_ResumeFromUnknownEventID", func(t *testing.T) { testResumeFromUnknownEventID(t, factory) })
	t.Run("Lifecycle_CleanupEndsSubscription", func(t *testing.T) { testCleanupEndsSubscription(t, factory) })
	t.Run("Lifecycle_PublishRequiresOpenSession", func(t *testing.T) { testPublishRequiresOpenSession(t, factory) })
}

// openSession opens a session with a unique ID so suites can share a
// durable backend.
func openSession(t *testing.T, h sessions.StreamHost, prefix string) string {
	t.Helper()
	id := prefix + "-" + uuid.NewString()
	if err := h.Open(context.Background(), id); err != nil {
		t.Fatalf("open %s: %v", id, err)
	}
	return id
}

func notification(t *testing.T, method string) []byte {
	t.Helper()
	b, err := jsonrpc.NewNotification(method, map[string]any{"n": method})
	if err != nil {
		t.Fatalf("NewNotification: %v", err)
	}
	return b
}

type delivery struct {
	id   string
	data []byte
}

type recorder struct {
	mu   sync.Mutex
	got  []delivery
	want int
	full chan struct{}
}

func newRecorder(want int) *recorder { return &recorder{want: want, full: make(chan struct{})} }

func (r *recorder) handle(ctx context.Context, id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, delivery{id: id, data: append([]byte(nil), data...)})
	if len(r.got) == r.want {
		close(r.full)
	}
	return nil
}

func (r *recorder) snapshot() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.got...)
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.full:
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out: received %d of %d messages", len(r.snapshot()), r.want)
	}
}

func methodOf(t *testing.T, data []byte) string {
	t.Helper()
	var req jsonrpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return req.Method
}

func testPublishAndSubscribeFuture(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sid := openSession(t, h, "future")

	if _, err := h.Publish(ctx, sid, notification(t, "test/before")); err != nil {
		t.Fatalf("publish before: %v", err)
	}

	rec := newRecorder(1)
	done := make(chan error, 1)
	go func() { done <- h.Subscribe(ctx, sid, "", rec.handle) }()
	time.Sleep(100 * time.Millisecond)

	evID, err := h.Publish(ctx, sid, notification(t, "test/after"))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if evID == "" {
		t.Fatalf("expected non-empty event id")
	}
	rec.wait(t)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("subscribe returned: %v", err)
	}

	got := rec.snapshot()
	if len(got) != 1 || got[0].id != evID || methodOf(t, got[0].data) != "test/after" {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func testResumeFromLastEventID(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sid := openSession(t, h, "resume")

	ev1, err := h.Publish(ctx, sid, notification(t, "test/m1"))
	if err != nil {
		t.Fatalf("publish 1: %v", err)
	}
	ev2, err := h.Publish(ctx, sid, notification(t, "test/m2"))
	if err != nil {
		t.Fatalf("publish 2: %v", err)
	}

	rec := newRecorder(1)
	done := make(chan error, 1)
	go func() { done <- h.Subscribe(ctx, sid, ev1, rec.handle) }()
	rec.wait(t)
	cancel()
	<-done

	got := rec.snapshot()
	if got[0].id != ev2 || methodOf(t, got[0].data) != "test/m2" {
		t.Fatalf("expected replay of %s, got %+v", ev2, got)
	}
}

func testSessionIsolation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s1, s2 := openSession(t, h, "iso-a"), openSession(t, h, "iso-b")

	r1, r2 := newRecorder(1), newRecorder(1)
	d1, d2 := make(chan error, 1), make(chan error, 1)
	go func() { d1 <- h.Subscribe(ctx, s1, "", r1.handle) }()
	go func() { d2 <- h.Subscribe(ctx, s2, "", r2.handle) }()
	time.Sleep(100 * time.Millisecond)

	if _, err := h.Publish(ctx, s1, notification(t, "test/a")); err != nil {
		t.Fatalf("publish s1: %v", err)
	}
	if _, err := h.Publish(ctx, s2, notification(t, "test/b")); err != nil {
		t.Fatalf("publish s2: %v", err)
	}
	r1.wait(t)
	r2.wait(t)
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-d1
	<-d2

	g1, g2 := r1.snapshot(), r2.snapshot()
	if len(g1) != 1 || methodOf(t, g1[0].data) != "test/a" {
		t.Fatalf("s1 got %+v", g1)
	}
	if len(g2) != 1 || methodOf(t, g2[0].data) != "test/b" {
		t.Fatalf("s2 got %+v", g2)
	}
}

func testOrderingPreserved(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sid := openSession(t, h, "order")

	const n = 20
	rec := newRecorder(n)
	done := make(chan error, 1)
	go func() { done <- h.Subscribe(ctx, sid, "", rec.handle) }()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < n; i++ {
		if _, err := h.Publish(ctx, sid, notification(t, "test/"+strconv.Itoa(i))); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	rec.wait(t)
	cancel()
	<-done

	for i, d := range rec.snapshot() {
		if m := methodOf(t, d.data); m != "test/"+strconv.Itoa(i) {
			t.Fatalf("ordering mismatch at %d: %s", i, m)
		}
	}
}

func testSubscriptionContextCancellation(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	sid := openSession(t, h, "cancel")
	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sid, "", func(ctx context.Context, id string, msg []byte) error { return nil })
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected deadline exceeded, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe timeout")
	}
}

func testHandlerErrorStopsSubscription(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sid := openSession(t, h, "handler-err")
	expectedErr := errors.New("handler error")

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sid, "", func(ctx context.Context, id string, msg []byte) error { return expectedErr })
	}()
	time.Sleep(100 * time.Millisecond)
	if _, err := h.Publish(ctx, sid, notification(t, "test/m")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, expectedErr) {
			t.Fatalf("expected handler error, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscribe timeout")
	}
}

func testResumeFromUnknownEventID(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sid := openSession(t, h, "unknown")
	if _, err := h.Publish(ctx, sid, notification(t, "test/m")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	err := h.Subscribe(ctx, sid, "999999999-0", func(ctx context.Context, id string, msg []byte) error { return nil })
	if !errors.Is(err, sessions.ErrUnknownEventID) {
		t.Fatalf("expected ErrUnknownEventID, got %v", err)
	}
}

func testCleanupEndsSubscription(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sid := openSession(t, h, "cleanup")

	done := make(chan error, 1)
	go func() {
		done <- h.Subscribe(ctx, sid, "", func(ctx context.Context, id string, msg []byte) error { return nil })
	}()
	time.Sleep(100 * time.Millisecond)
	if err := h.Cleanup(ctx, sid); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after cleanup, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("subscription did not end after cleanup")
	}
}

func testPublishRequiresOpenSession(t *testing.T, factory HostFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.Publish(ctx, "never-opened-"+uuid.NewString(), notification(t, "test/m")); !errors.Is(err, sessions.ErrUnknownSession) {
		t.Fatalf("publish to unopened session = %v, want ErrUnknownSession", err)
	}

	sid := openSession(t, h, "closed")
	if _, err := h.Publish(ctx, sid, notification(t, "test/m")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Cleanup(ctx, sid); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := h.Publish(ctx, sid, notification(t, "test/late")); !errors.Is(err, sessions.ErrUnknownSession) {
		t.Fatalf("publish after cleanup = %v, want ErrUnknownSession", err)
	}
}
