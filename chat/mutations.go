package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"e2echat/crypto"
	"e2echat/models"
)

// ErrEmptyReaction indicates a reaction without an emoji.
var ErrEmptyReaction = errors.New("chat: reaction emoji is required")

// EditMessage replaces the text of a stored message with a new envelope.
func (s *Session) EditMessage(ctx context.Context, id, text string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if err := s.checkMutable(id); err != nil {
		return models.Message{}, err
	}

	content, err := crypto.Encrypt(text, s.tl.key)
	if err != nil {
		return models.Message{}, err
	}
	editedAt := time.Now().UnixMilli()
	stored, err := s.client.backend.UpdateMessageContent(ctx, id, content, editedAt)
	if err != nil {
		return models.Message{}, remoteError("edit message", err)
	}

	message := confirmedRow(*stored, text)
	s.tl.replace(message)
	s.broadcast(ctx, EventEdit, editPayload{ID: id, Message: content, EditedAt: editedAt})
	return message, nil
}

// DeleteMessage removes a stored message for everyone.
func (s *Session) DeleteMessage(ctx context.Context, id string) error {
	if err := s.checkMutable(id); err != nil {
		return err
	}
	if err := s.client.backend.DeleteMessage(ctx, id); err != nil {
		return remoteError("delete message", err)
	}
	s.tl.remove(id)
	s.broadcast(ctx, EventDelete, deletePayload{ID: id})
	return nil
}

// ReactToMessage adds one emoji reaction to a message and returns the new counts.
// The store increments atomically so concurrent reactors accumulate.
func (s *Session) ReactToMessage(ctx context.Context, id, emoji string) (models.Reactions, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, ErrEmptyReaction
	}
	if err := s.checkMutable(id); err != nil {
		return nil, err
	}

	stored, err := s.client.backend.IncrementReaction(ctx, id, emoji)
	if err != nil {
		return nil, remoteError("react to message", err)
	}

	reactions := models.Reactions(stored.Reactions).Clone()
	s.tl.setReactions(id, reactions)
	s.broadcast(ctx, EventReact, reactionPayload{ID: id, Reactions: reactions})
	return reactions, nil
}

// SetTyping tells the other participants whether the user is typing.
func (s *Session) SetTyping(ctx context.Context, typing bool) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	s.broadcast(ctx, EventTyping, typingPayload{UserID: s.client.userID, Typing: typing})
	return nil
}

func (s *Session) checkMutable(id string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	if strings.HasPrefix(id, tempPrefix) {
		return ErrMessagePending
	}
	return nil
}
