package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"e2echat/backend"
	"e2echat/cache"
	"e2echat/crypto"
	"e2echat/realtime"
	"e2echat/storage"
)

func newTestBackend(t *testing.T) *backend.Local {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	local, err := backend.NewLocal(backend.Options{Store: store})
	if err != nil {
		t.Fatalf("create backend: %v", err)
	}
	t.Cleanup(func() {
		local.Close()
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return local
}

func newTestClient(t *testing.T, b Backend, userID string) *Client {
	t.Helper()
	return newCachedTestClient(t, b, userID, cache.New())
}

func newCachedTestClient(t *testing.T, b Backend, userID string, c *cache.Cache) *Client {
	t.Helper()

	client, err := NewClient(Options{UserID: userID, Backend: b, Cache: c})
	if err != nil {
		t.Fatalf("NewClient(%s) failed: %v", userID, err)
	}
	t.Cleanup(client.Close)
	return client
}

func openSession(t *testing.T, client *Client, id ConversationID) *Session {
	t.Helper()

	s, err := client.Open(context.Background(), id, SessionOptions{})
	if err != nil {
		t.Fatalf("open %s as %s: %v", id, client.UserID(), err)
	}
	return s
}

func mustKey(t *testing.T, a, b string, group bool) crypto.Key {
	t.Helper()
	key, err := crypto.DeriveKey(a, b, group)
	if err != nil {
		t.Fatalf("derive key: %v", err)
	}
	return key
}

// seedDirect stores count encrypted messages between a and b, alternating
// senders, with increasing timestamps. Bodies are "message 000" and up.
func seedDirect(t *testing.T, store *storage.Store, a, b string, count int) {
	t.Helper()

	key := mustKey(t, a, b, false)
	base := time.Now().Add(-time.Hour).UnixMilli()
	for i := 0; i < count; i++ {
		sender, receiver := a, b
		if i%2 == 1 {
			sender, receiver = b, a
		}
		content, err := crypto.Encrypt(fmt.Sprintf("message %03d", i), key)
		if err != nil {
			t.Fatalf("encrypt seed %d: %v", i, err)
		}
		if _, err := store.InsertMessage(context.Background(), storage.Message{
			SenderID:   sender,
			ReceiverID: receiver,
			Content:    content,
			CreatedAt:  base + int64(i),
		}); err != nil {
			t.Fatalf("insert seed %d: %v", i, err)
		}
	}
}

// flakyBackend fails selected calls and can hold the next ListMessages or
// WatchInserts call until released.
type flakyBackend struct {
	*backend.Local

	mu           sync.Mutex
	insertErr    error
	countErr     error
	listGate     chan struct{}
	listStarted  chan struct{}
	watchGate    chan struct{}
	watchStarted chan struct{}
}

func (f *flakyBackend) failInserts(err error) {
	f.mu.Lock()
	f.insertErr = err
	f.mu.Unlock()
}

func (f *flakyBackend) failCounts(err error) {
	f.mu.Lock()
	f.countErr = err
	f.mu.Unlock()
}

// holdLists makes the next ListMessages call block until the returned func runs.
func (f *flakyBackend) holdLists() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listGate = make(chan struct{})
	f.listStarted = make(chan struct{}, 1)
	gate := f.listGate
	return f.listStarted, func() { close(gate) }
}

// holdWatches makes the next WatchInserts call block after subscribing until
// the returned func runs.
func (f *flakyBackend) holdWatches() (started <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchGate = make(chan struct{})
	f.watchStarted = make(chan struct{}, 1)
	gate := f.watchGate
	return f.watchStarted, func() { close(gate) }
}

func (f *flakyBackend) InsertMessage(ctx context.Context, message storage.Message) (*storage.Message, error) {
	f.mu.Lock()
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.Local.InsertMessage(ctx, message)
}

func (f *flakyBackend) CountMessages(ctx context.Context, filter storage.ConversationFilter) (int, error) {
	f.mu.Lock()
	err := f.countErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return f.Local.CountMessages(ctx, filter)
}

func (f *flakyBackend) ListMessages(ctx context.Context, filter storage.ConversationFilter, limit, offset int) ([]storage.Message, error) {
	f.mu.Lock()
	gate, started := f.listGate, f.listStarted
	f.listGate, f.listStarted = nil, nil
	f.mu.Unlock()
	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return f.Local.ListMessages(ctx, filter, limit, offset)
}

func (f *flakyBackend) WatchInserts(column, value string, handler func(storage.Message)) (*realtime.Subscription, error) {
	f.mu.Lock()
	gate, started := f.watchGate, f.watchStarted
	f.watchGate, f.watchStarted = nil, nil
	f.mu.Unlock()

	sub, err := f.Local.WatchInserts(column, value, handler)
	if gate != nil {
		started <- struct{}{}
		<-gate
	}
	return sub, err
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

func bodies(snapshot Snapshot) []string {
	out := make([]string, len(snapshot.Messages))
	for i, message := range snapshot.Messages {
		out[i] = message.Body
	}
	return out
}

func countBody(snapshot Snapshot, body string) int {
	n := 0
	for _, message := range snapshot.Messages {
		if message.Body == body {
			n++
		}
	}
	return n
}
