package chat

import (
	"context"
	"encoding/json"

	"e2echat/crypto"
	"e2echat/models"
	"e2echat/storage"
)

// handleInsert merges a row from the insert feed.
func (s *Session) handleInsert(row storage.Message) {
	self := s.client.userID
	if s.isClosed() || !s.id.owns(self, row) {
		return
	}

	added := s.tl.receive(decodeRow(row, s.tl.key))
	if !added {
		s.log.Debug().Str("message_id", row.ID).Msg("Ignoring duplicate insert")
		return
	}
	if !s.id.IsGroup() && row.SenderID == s.id.Peer {
		ctx, cancel := context.WithTimeout(context.Background(), realtimeTimeout)
		defer cancel()
		s.markRead(ctx)
	}
}

// handleBroadcast applies an event from another participant.
func (s *Session) handleBroadcast(event string, payload []byte) {
	if s.isClosed() {
		return
	}

	switch event {
	case EventTyping:
		var p typingPayload
		if s.decode(event, payload, &p) && p.UserID != "" && p.UserID != s.client.userID {
			s.tl.setTyping(p.UserID, p.Typing)
		}
	case EventStatus:
		var p statusPayload
		if !s.decode(event, payload, &p) {
			return
		}
		if _, err := models.ParseStatus(string(p.Status)); err != nil {
			s.log.Warn().Err(err).Msg("Ignoring status event")
			return
		}
		s.tl.setStatus(p.IDs, p.Status)
	case EventReact:
		var p reactionPayload
		if s.decode(event, payload, &p) {
			s.tl.setReactions(p.ID, p.Reactions)
		}
	case EventEdit:
		var p editPayload
		if s.decode(event, payload, &p) {
			s.tl.applyEdit(p.ID, p.Message, crypto.Open(p.Message, s.tl.key), p.EditedAt)
		}
	case EventDelete:
		var p deletePayload
		if s.decode(event, payload, &p) {
			s.tl.remove(p.ID)
		}
	default:
		s.log.Debug().Str("event", event).Msg("Ignoring unknown broadcast event")
	}
}

func (s *Session) decode(event string, payload []byte, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("Dropping malformed broadcast")
		return false
	}
	return true
}
