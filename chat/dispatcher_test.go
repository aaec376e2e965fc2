package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"e2echat/models"
	"e2echat/realtime"
	"e2echat/storage"
)

func TestRealtimeInsertIsAddedOnce(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()

	alice := newTestClient(t, local, "alice")
	aliceSession := openSession(t, alice, Direct("bob"))
	bob := newTestClient(t, local, "bob")
	bobSession := openSession(t, bob, Direct("alice"))

	sent, err := bobSession.SendMessage(ctx, "ping", "")
	if err != nil {
		t.Fatalf("bob send failed: %v", err)
	}
	waitForCondition(t, 2*time.Second, func() bool {
		return countBody(aliceSession.Snapshot(), "ping") == 1
	})

	row, err := local.GetMessage(ctx, sent.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	local.Hub().Publish(realtime.Change{
		Table:   storage.MessagesTable,
		Type:    realtime.ChangeInsert,
		Columns: map[string]string{storage.ColumnReceiverID: "alice"},
		Record:  *row,
	})

	time.Sleep(100 * time.Millisecond)
	if got := countBody(aliceSession.Snapshot(), "ping"); got != 1 {
		t.Fatalf("expected duplicate insert to be ignored, got %d copies", got)
	}
	if got := countBody(bobSession.Snapshot(), "ping"); got != 1 {
		t.Fatalf("expected sender to hold one copy, got %d", got)
	}
}

func TestGroupEchoOfOwnSendIsReconciled(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()
	for _, user := range []string{"alice", "bob"} {
		if err := local.Store().AddGroupMember(ctx, "g1", user); err != nil {
			t.Fatalf("add %s: %v", user, err)
		}
	}

	alice := newTestClient(t, local, "alice")
	aliceSession := openSession(t, alice, Group("g1"))
	bob := newTestClient(t, local, "bob")
	bobSession := openSession(t, bob, Group("g1"))

	for _, text := range []string{"one", "two", "three"} {
		if _, err := aliceSession.SendMessage(ctx, text, ""); err != nil {
			t.Fatalf("send %q failed: %v", text, err)
		}
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return len(bobSession.Snapshot().Messages) == 3
	})
	time.Sleep(100 * time.Millisecond)

	for _, s := range []*Session{aliceSession, bobSession} {
		snapshot := s.Snapshot()
		got := bodies(snapshot)
		if len(got) != 3 || got[0] != "one" || got[2] != "three" {
			t.Fatalf("unexpected group messages %v", got)
		}
		for _, message := range snapshot.Messages {
			if message.Pending() {
				t.Fatalf("pending entry left behind: %+v", message)
			}
		}
	}
}

func TestReactionsFromTwoUsersAccumulate(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()

	alice := newTestClient(t, local, "alice")
	aliceSession := openSession(t, alice, Direct("bob"))
	sent, err := aliceSession.SendMessage(ctx, "react to me", "")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	bob := newTestClient(t, local, "bob")
	bobSession := openSession(t, bob, Direct("alice"))

	if _, err := aliceSession.ReactToMessage(ctx, sent.ID, "🔥"); err != nil {
		t.Fatalf("alice react failed: %v", err)
	}
	reactions, err := bobSession.ReactToMessage(ctx, sent.ID, "🔥")
	if err != nil {
		t.Fatalf("bob react failed: %v", err)
	}
	if reactions["🔥"] != 2 {
		t.Fatalf("expected 2 reactions, got %v", reactions)
	}

	row, err := local.GetMessage(ctx, sent.ID)
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if row.Reactions["🔥"] != 2 {
		t.Fatalf("expected stored count 2, got %v", row.Reactions)
	}
	waitForCondition(t, 2*time.Second, func() bool {
		messages := aliceSession.Snapshot().Messages
		return len(messages) == 1 && messages[0].Reactions["🔥"] == 2
	})
}

func TestEditAndDeleteReachPeer(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()

	alice := newTestClient(t, local, "alice")
	aliceSession := openSession(t, alice, Direct("bob"))
	bob := newTestClient(t, local, "bob")
	bobSession := openSession(t, bob, Direct("alice"))

	sent, err := aliceSession.SendMessage(ctx, "teh typo", "")
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	waitForCondition(t, 2*time.Second, func() bool {
		return countBody(bobSession.Snapshot(), "teh typo") == 1
	})

	edited, err := aliceSession.EditMessage(ctx, sent.ID, "the typo")
	if err != nil {
		t.Fatalf("EditMessage failed: %v", err)
	}
	if !edited.IsEdited || edited.EditedAt == 0 {
		t.Fatalf("expected edited flags, got %+v", edited)
	}
	waitForCondition(t, 2*time.Second, func() bool {
		messages := bobSession.Snapshot().Messages
		return len(messages) == 1 && messages[0].Body == "the typo" && messages[0].IsEdited
	})

	if err := aliceSession.DeleteMessage(ctx, sent.ID); err != nil {
		t.Fatalf("DeleteMessage failed: %v", err)
	}
	if len(aliceSession.Snapshot().Messages) != 0 {
		t.Fatalf("expected message removed locally")
	}
	waitForCondition(t, 2*time.Second, func() bool {
		return len(bobSession.Snapshot().Messages) == 0
	})
	if _, err := local.GetMessage(ctx, sent.ID); err == nil {
		t.Fatalf("expected row to be deleted")
	}
}

func TestTypingIndicator(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()

	alice := newTestClient(t, local, "alice")
	aliceSession := openSession(t, alice, Direct("bob"))
	bob := newTestClient(t, local, "bob")
	bobSession := openSession(t, bob, Direct("alice"))

	if err := aliceSession.SetTyping(ctx, true); err != nil {
		t.Fatalf("SetTyping failed: %v", err)
	}
	waitForCondition(t, 2*time.Second, func() bool {
		typing := bobSession.Snapshot().Typing
		return len(typing) == 1 && typing[0] == "alice"
	})
	if len(aliceSession.Snapshot().Typing) != 0 {
		t.Fatalf("sender must not see its own typing state")
	}

	if err := aliceSession.SetTyping(ctx, false); err != nil {
		t.Fatalf("SetTyping failed: %v", err)
	}
	waitForCondition(t, 2*time.Second, func() bool {
		return len(bobSession.Snapshot().Typing) == 0
	})
}

func TestClosedSessionStopsReceiving(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()

	alice := newTestClient(t, local, "alice")
	aliceSession := openSession(t, alice, Direct("bob"))
	if !aliceSession.Live() {
		t.Fatalf("expected live session")
	}
	aliceSession.Close()
	aliceSession.Close()

	if local.Hub().Watchers() != 0 || local.Hub().Subscribers(Direct("bob").channelName("alice")) != 0 {
		t.Fatalf("expected subscriptions to be released")
	}
	if alice.Active(Direct("bob")) != nil {
		t.Fatalf("expected no active session")
	}

	if _, err := local.InsertMessage(ctx, storage.Message{SenderID: "bob", ReceiverID: "alice", Content: "while away"}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if len(aliceSession.Snapshot().Messages) != 0 {
		t.Fatalf("closed session must not merge new rows")
	}
}

func TestReopenReplacesActiveSession(t *testing.T) {
	local := newTestBackend(t)

	alice := newTestClient(t, local, "alice")
	first := openSession(t, alice, Direct("bob"))
	second := openSession(t, alice, Direct("bob"))

	if first.Live() {
		t.Fatalf("expected the first session to be closed")
	}
	if alice.Active(Direct("bob")) != second {
		t.Fatalf("expected the second session to be active")
	}
	if local.Hub().Watchers() != 1 {
		t.Fatalf("expected one insert watcher, got %d", local.Hub().Watchers())
	}
}

func TestMalformedBroadcastIsIgnored(t *testing.T) {
	local := newTestBackend(t)
	ctx := context.Background()

	alice := newTestClient(t, local, "alice")
	s := openSession(t, alice, Direct("bob"))
	if _, err := s.SendMessage(ctx, "stable", ""); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	intruder, err := local.JoinChannel(Direct("bob").channelName("alice"), func(string, []byte) {})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	defer intruder.Unsubscribe()

	for _, event := range []struct{ name, payload string }{
		{EventDelete, `not json`},
		{EventStatus, `{"ids":["x"],"status":"bogus"}`},
		{"unknown", `{}`},
		{EventTyping, `{"user_id":"bob","typing":true}`},
	} {
		if err := intruder.Send(ctx, event.name, []byte(event.payload)); err != nil {
			t.Fatalf("send %s: %v", event.name, err)
		}
	}

	waitForCondition(t, 2*time.Second, func() bool {
		return len(s.Snapshot().Typing) == 1
	})
	messages := s.Snapshot().Messages
	if len(messages) != 1 || messages[0].Body != "stable" || messages[0].Status != models.StatusSent {
		t.Fatalf("unexpected messages after malformed events: %+v", messages)
	}
}

func TestCloseDuringOpenReleasesSubscriptions(t *testing.T) {
	flaky := &flakyBackend{Local: newTestBackend(t)}
	alice := newTestClient(t, flaky, "alice")
	id := Direct("bob")

	started, release := flaky.holdWatches()
	done := make(chan error, 1)
	go func() {
		_, err := alice.Open(context.Background(), id, SessionOptions{})
		done <- err
	}()
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("open never reached the insert feed")
	}

	s := alice.Active(id)
	if s == nil {
		t.Fatalf("expected an active session while subscribing")
	}
	s.Close()
	release()

	if err := <-done; !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed from Open, got %v", err)
	}
	if s.Live() {
		t.Fatalf("closed session must not hold subscriptions")
	}
	hub := flaky.Hub()
	if hub.Watchers() != 0 || hub.Subscribers(id.channelName("alice")) != 0 {
		t.Fatalf("subscriptions leaked: watchers=%d subscribers=%d", hub.Watchers(), hub.Subscribers(id.channelName("alice")))
	}
	if phase := s.Snapshot().Phase; phase != PhaseIdle {
		t.Fatalf("expected idle phase after aborted open, got %s", phase)
	}
}
