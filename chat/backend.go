package chat

import (
	"context"

	"e2echat/realtime"
	"e2echat/storage"
)

// RowStore is the remote message table.
type RowStore interface {
	CountMessages(ctx context.Context, filter storage.ConversationFilter) (int, error)
	ListMessages(ctx context.Context, filter storage.ConversationFilter, limit, offset int) ([]storage.Message, error)
	InsertMessage(ctx context.Context, message storage.Message) (*storage.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt int64) (*storage.Message, error)
	IncrementReaction(ctx context.Context, id, emoji string) (*storage.Message, error)
	MarkRead(ctx context.Context, senderID, receiverID string) ([]string, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Realtime carries broadcast channels and the row insert feed.
type Realtime interface {
	JoinChannel(name string, handler realtime.Handler) (*realtime.Channel, error)
	WatchInserts(column, value string, handler func(storage.Message)) (*realtime.Subscription, error)
}

// Membership answers group membership point queries.
type Membership interface {
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
}

// Backend is everything a Client needs from the hosted backend.
type Backend interface {
	RowStore
	Realtime
	Membership
}
