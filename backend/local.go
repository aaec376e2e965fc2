// Package backend provides a local stand-in for the hosted chat backend: the
// SQLite row store plus an in-process realtime hub that publishes every inserted
// message row on the change feed.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"e2echat/realtime"
	"e2echat/storage"
)

// Local implements the row store, realtime and membership capabilities in process.
type Local struct {
	store *storage.Store
	hub   *realtime.Hub
	log   zerolog.Logger
}

// Options configures a Local backend.
type Options struct {
	Store  *storage.Store
	Hub    *realtime.Hub
	Logger *zerolog.Logger
}

// NewLocal wires a store and hub together. A nil Hub gets a private one.
func NewLocal(options Options) (*Local, error) {
	if options.Store == nil {
		return nil, errors.New("store is required")
	}
	log := zerolog.Nop()
	if options.Logger != nil {
		log = options.Logger.With().Str("component", "backend").Logger()
	}
	hub := options.Hub
	if hub == nil {
		hub = realtime.NewHub(realtime.Options{Logger: options.Logger})
	}
	return &Local{store: options.Store, hub: hub, log: log}, nil
}

// Hub exposes the realtime hub.
func (l *Local) Hub() *realtime.Hub {
	return l.hub
}

// Store exposes the row store.
func (l *Local) Store() *storage.Store {
	return l.store
}

// CountMessages implements the exact count query.
func (l *Local) CountMessages(ctx context.Context, filter storage.ConversationFilter) (int, error) {
	return l.store.CountMessages(ctx, filter)
}

// ListMessages implements range pagination ordered by created_at.
func (l *Local) ListMessages(ctx context.Context, filter storage.ConversationFilter, limit, offset int) ([]storage.Message, error) {
	return l.store.ListMessages(ctx, filter, limit, offset)
}

// GetMessage fetches one row.
func (l *Local) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	return l.store.GetMessage(ctx, id)
}

// InsertMessage stores the row and publishes it on the change feed.
func (l *Local) InsertMessage(ctx context.Context, message storage.Message) (*storage.Message, error) {
	stored, err := l.store.InsertMessage(ctx, message)
	if err != nil {
		return nil, err
	}

	l.hub.Publish(realtime.Change{
		Table: storage.MessagesTable,
		Type:  realtime.ChangeInsert,
		Columns: map[string]string{
			storage.ColumnSenderID:   stored.SenderID,
			storage.ColumnReceiverID: stored.ReceiverID,
			storage.ColumnGroupID:    stored.GroupID,
		},
		Record: *stored,
	})
	return stored, nil
}

// UpdateMessageContent re-writes an edited message body.
func (l *Local) UpdateMessageContent(ctx context.Context, id, content string, editedAt int64) (*storage.Message, error) {
	return l.store.UpdateMessageContent(ctx, id, content, editedAt)
}

// IncrementReaction atomically adds one reaction.
func (l *Local) IncrementReaction(ctx context.Context, id, emoji string) (*storage.Message, error) {
	return l.store.IncrementReaction(ctx, id, emoji)
}

// MarkRead marks a direction of a conversation as read.
func (l *Local) MarkRead(ctx context.Context, senderID, receiverID string) ([]string, error) {
	return l.store.MarkRead(ctx, senderID, receiverID)
}

// DeleteMessage removes a row.
func (l *Local) DeleteMessage(ctx context.Context, id string) error {
	return l.store.DeleteMessage(ctx, id)
}

// IsGroupMember implements the membership point query.
func (l *Local) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	return l.store.IsGroupMember(ctx, groupID, userID)
}

// JoinChannel subscribes to a named broadcast channel.
func (l *Local) JoinChannel(name string, handler realtime.Handler) (*realtime.Channel, error) {
	return l.hub.Join(name, handler)
}

// WatchInserts subscribes to inserted message rows whose column equals value.
func (l *Local) WatchInserts(column, value string, handler func(storage.Message)) (*realtime.Subscription, error) {
	switch column {
	case storage.ColumnSenderID, storage.ColumnReceiverID, storage.ColumnGroupID:
	default:
		return nil, fmt.Errorf("unsupported feed column %q", column)
	}

	return l.hub.Watch(realtime.Filter{Table: storage.MessagesTable, Column: column, Value: value}, func(change realtime.Change) {
		row, ok := change.Record.(storage.Message)
		if !ok {
			l.log.Warn().Str("table", change.Table).Msg("Dropping change with unexpected record type")
			return
		}
		handler(row)
	})
}

// Close closes the hub. The store is owned by the caller.
func (l *Local) Close() {
	l.hub.Close()
}
