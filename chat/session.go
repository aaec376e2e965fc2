package chat

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"e2echat/crypto"
	"e2echat/realtime"
)

// realtimeTimeout bounds store calls made from realtime handlers.
const realtimeTimeout = 10 * time.Second

// SessionOptions configures an open conversation.
type SessionOptions struct {
	// OnChange receives a snapshot after every state change. It may be called
	// from realtime delivery goroutines and must not block for long.
	OnChange func(Snapshot)
}

// Session is one open conversation. It is safe for concurrent use.
type Session struct {
	client *Client
	id     ConversationID
	tl     *timeline
	log    zerolog.Logger

	mu      sync.Mutex
	closed  bool
	channel *realtime.Channel
	feed    *realtime.Subscription
}

// ID returns the conversation id.
func (s *Session) ID() ConversationID {
	return s.id
}

// Key returns the conversation key.
func (s *Session) Key() crypto.Key {
	return s.tl.key
}

// Snapshot returns a copy of the current conversation state.
func (s *Session) Snapshot() Snapshot {
	return s.tl.snapshot()
}

// Live reports whether both the broadcast channel and the insert feed are
// subscribed. A session that failed to subscribe still works from the row store.
func (s *Session) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel != nil && s.feed != nil
}

// Close unsubscribes from realtime events. The conversation state stays cached.
// Close is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	channel, feed := s.channel, s.feed
	s.channel, s.feed = nil, nil
	s.mu.Unlock()

	if channel != nil {
		channel.Unsubscribe()
	}
	if feed != nil {
		feed.Unsubscribe()
	}
	s.tl.unlisten(s)
	s.client.release(s)
	s.log.Debug().Msg("Conversation closed")
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) subscribe() {
	self := s.client.userID

	channel, err := s.client.backend.JoinChannel(s.id.channelName(self), s.handleBroadcast)
	if err != nil {
		s.log.Warn().Err(err).Msg("Broadcast channel unavailable, continuing without live events")
	}
	column, value := s.id.feed(self)
	feed, err := s.client.backend.WatchInserts(column, value, s.handleInsert)
	if err != nil {
		s.log.Warn().Err(err).Msg("Insert feed unavailable, continuing without live messages")
	}

	s.mu.Lock()
	if !s.closed {
		s.channel, s.feed = channel, feed
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	// Closed while subscribing: Close saw no handles to release.
	if channel != nil {
		channel.Unsubscribe()
	}
	if feed != nil {
		feed.Unsubscribe()
	}
}

// broadcast is best effort: the row store is authoritative and peers catch up
// on their next load.
func (s *Session) broadcast(ctx context.Context, event string, payload any) {
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	if channel == nil {
		s.log.Debug().Str("event", event).Msg("Skipping broadcast without channel")
		return
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("Failed to encode broadcast")
		return
	}
	if err := channel.Send(ctx, event, raw); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("Failed to send broadcast")
	}
}
