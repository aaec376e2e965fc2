package storage

import (
	"context"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustInsert(t *testing.T, store *Store, message Message) *Message {
	t.Helper()

	stored, err := store.InsertMessage(context.Background(), message)
	if err != nil {
		t.Fatalf("insert message from %q: %v", message.SenderID, err)
	}
	return stored
}
