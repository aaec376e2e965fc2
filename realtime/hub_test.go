package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestBroadcastSkipsSenderAndPreservesOrder(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Close()

	var alice, bob recorder
	aliceChannel, err := hub.Join("room", func(event string, payload []byte) { alice.add(event + ":" + string(payload)) })
	if err != nil {
		t.Fatalf("alice Join failed: %v", err)
	}
	if _, err := hub.Join("room", func(event string, payload []byte) { bob.add(event + ":" + string(payload)) }); err != nil {
		t.Fatalf("bob Join failed: %v", err)
	}

	for _, n := range []string{"1", "2", "3"} {
		if err := aliceChannel.Send(context.Background(), "typing", []byte(n)); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}

	waitForCondition(t, time.Second, func() bool { return len(bob.snapshot()) == 3 })
	got := bob.snapshot()
	if got[0] != "typing:1" || got[1] != "typing:2" || got[2] != "typing:3" {
		t.Fatalf("unexpected delivery order %v", got)
	}
	if len(alice.snapshot()) != 0 {
		t.Fatalf("sender received its own broadcast: %v", alice.snapshot())
	}
}

func TestUnsubscribeRemovesChannelMember(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Close()

	channel, err := hub.Join("room", func(string, []byte) {})
	if err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if hub.Subscribers("room") != 1 {
		t.Fatalf("expected one subscriber")
	}

	channel.Unsubscribe()
	channel.Unsubscribe()

	if hub.Subscribers("room") != 0 {
		t.Fatalf("expected no subscribers after unsubscribe, got %d", hub.Subscribers("room"))
	}
	if err := channel.Send(context.Background(), "typing", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed sending after unsubscribe, got %v", err)
	}
}

func TestWatchFiltersByColumn(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Close()

	var got recorder
	sub, err := hub.Watch(Filter{Table: "messages", Column: "receiver_id", Value: "bob"}, func(change Change) {
		got.add(change.Record.(string))
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	hub.Publish(Change{Table: "messages", Columns: map[string]string{"receiver_id": "carol"}, Record: "to-carol"})
	hub.Publish(Change{Table: "other", Columns: map[string]string{"receiver_id": "bob"}, Record: "other-table"})
	hub.Publish(Change{Table: "messages", Columns: map[string]string{"receiver_id": "bob"}, Record: "to-bob"})

	waitForCondition(t, time.Second, func() bool { return len(got.snapshot()) == 1 })
	if got.snapshot()[0] != "to-bob" {
		t.Fatalf("unexpected change %v", got.snapshot())
	}

	sub.Unsubscribe()
	if hub.Watchers() != 0 {
		t.Fatalf("expected no watchers after unsubscribe")
	}
}

func TestHandlerPanicDoesNotStopDelivery(t *testing.T) {
	hub := NewHub(Options{})
	defer hub.Close()

	var got recorder
	if _, err := hub.Watch(Filter{Table: "messages"}, func(change Change) {
		if change.Record == "boom" {
			panic("boom")
		}
		got.add(change.Record.(string))
	}); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	hub.Publish(Change{Table: "messages", Record: "boom"})
	hub.Publish(Change{Table: "messages", Record: "after"})

	waitForCondition(t, time.Second, func() bool { return len(got.snapshot()) == 1 })
}

func TestClosedHubRejectsSubscriptions(t *testing.T) {
	hub := NewHub(Options{})
	hub.Close()

	if _, err := hub.Join("room", func(string, []byte) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Join, got %v", err)
	}
	if _, err := hub.Watch(Filter{Table: "messages"}, func(Change) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed from Watch, got %v", err)
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout %s", timeout)
}
