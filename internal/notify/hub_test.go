package notify

import (
	"testing"
	"time"

	"wagate/internal/domain"
)

func recvEvent(t *testing.T, sub *Subscription) domain.Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestPublish_ReachesSubscriber(t *testing.T) {
	h := NewHub(Config{})
	sub := h.Subscribe("tenant-a")
	defer sub.Close()

	h.Publish("tenant-a", domain.Event{
		Type:      domain.EventStatusChanged,
		SessionID: "s1",
		Payload:   map[string]any{"status": "CONNECTED"},
	})

	ev := recvEvent(t, sub)
	if ev.Type != domain.EventStatusChanged || ev.SessionID != "s1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("timestamp should be stamped on publish")
	}
	if ev.TenantID != "tenant-a" {
		t.Fatalf("tenant id should be filled in, got %q", ev.TenantID)
	}
}

func TestPublish_TenantIsolation(t *testing.T) {
	h := NewHub(Config{})
	subA := h.Subscribe("tenant-a")
	defer subA.Close()
	subB := h.Subscribe("tenant-b")
	defer subB.Close()

	h.Publish("tenant-a", domain.Event{Type: domain.EventQRIssued, SessionID: "s1"})

	recvEvent(t, subA)
	select {
	case ev := <-subB.Events():
		t.Fatalf("tenant-b should not receive tenant-a events, got %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublish_MultipleSubscribersEachReceive(t *testing.T) {
	h := NewHub(Config{})
	sub1 := h.Subscribe("tenant-a")
	defer sub1.Close()
	sub2 := h.Subscribe("tenant-a")
	defer sub2.Close()

	h.Publish("tenant-a", domain.Event{Type: domain.EventMessageReceived, SessionID: "s1"})

	if ev := recvEvent(t, sub1); ev.SessionID != "s1" {
		t.Fatalf("sub1: unexpected event %+v", ev)
	}
	if ev := recvEvent(t, sub2); ev.SessionID != "s1" {
		t.Fatalf("sub2: unexpected event %+v", ev)
	}
}

func TestPublish_NoSubscribersIsNoop(t *testing.T) {
	h := NewHub(Config{})
	// Must not block or panic.
	h.Publish("nobody", domain.Event{Type: domain.EventStatusChanged})
}

func TestPublish_FullBufferDropsNotBlocks(t *testing.T) {
	h := NewHub(Config{BufferSize: 2})
	sub := h.Subscribe("tenant-a")
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			h.Publish("tenant-a", domain.Event{Type: domain.EventStatusChanged, SessionID: "s1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}
}

func TestClose_Idempotent(t *testing.T) {
	h := NewHub(Config{})
	sub := h.Subscribe("tenant-a")

	sub.Close()
	sub.Close() // must not panic

	if _, ok := <-sub.Events(); ok {
		t.Fatal("channel should be closed")
	}
	if n := h.SubscriberCount("tenant-a"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestClose_PrunesEmptyTenantEntry(t *testing.T) {
	h := NewHub(Config{})
	sub1 := h.Subscribe("tenant-a")
	sub2 := h.Subscribe("tenant-a")

	sub1.Close()
	h.mu.RLock()
	_, ok := h.tenants["tenant-a"]
	h.mu.RUnlock()
	if !ok {
		t.Fatal("tenant entry should survive while a subscription is live")
	}

	sub2.Close()
	h.mu.RLock()
	_, ok = h.tenants["tenant-a"]
	h.mu.RUnlock()
	if ok {
		t.Fatal("tenant entry should be pruned when the last subscription closes")
	}

	// A fresh subscribe after pruning still receives events.
	sub3 := h.Subscribe("tenant-a")
	defer sub3.Close()
	h.Publish("tenant-a", domain.Event{Type: domain.EventStatusChanged, SessionID: "s1"})
	if ev := recvEvent(t, sub3); ev.SessionID != "s1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestSubscriberCount(t *testing.T) {
	h := NewHub(Config{})
	if n := h.SubscriberCount("tenant-a"); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	sub1 := h.Subscribe("tenant-a")
	sub2 := h.Subscribe("tenant-a")
	if n := h.SubscriberCount("tenant-a"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	sub1.Close()
	sub2.Close()
	if n := h.SubscriberCount("tenant-a"); n != 0 {
		t.Fatalf("expected 0 after close, got %d", n)
	}
}
