package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidFilter indicates a conversation filter names neither a pair nor a group.
	ErrInvalidFilter = errors.New("storage: invalid conversation filter")
)

const (
	// StatusSent is the status of a freshly inserted row.
	StatusSent = "sent"
	// StatusDelivered marks a row received by the other side.
	StatusDelivered = "delivered"
	// StatusRead marks a row seen by the other side.
	StatusRead = "read"
)

// MessagesTable is the table holding message rows, also used as the change
// feed table name.
const MessagesTable = "messages"

// Message columns that change feeds can filter on.
const (
	ColumnSenderID   = "sender_id"
	ColumnReceiverID = "receiver_id"
	ColumnGroupID    = "group_id"
)

// Message is the SQLite representation of a chat message row.
//
// Content holds the serialized envelope for encrypted messages or plain text for
// system rows. Exactly one of ReceiverID and GroupID is non-empty.
type Message struct {
	ID         string
	ClientRef  string
	SenderID   string
	ReceiverID string
	GroupID    string
	Content    string
	Status     string
	CreatedAt  int64
	ReplyToID  string
	Reactions  map[string]int
	IsEdited   bool
	EditedAt   *int64
	FileName   string
	FileType   string
	FileSize   int64
}

// ConversationFilter selects the rows of one conversation: either the direct pair
// (UserA, UserB) in both directions, or GroupID.
type ConversationFilter struct {
	UserA   string
	UserB   string
	GroupID string
}

// Group returns a filter for a group conversation.
func Group(groupID string) ConversationFilter {
	return ConversationFilter{GroupID: groupID}
}

// Direct returns a filter for the direct conversation between a and b.
func Direct(a, b string) ConversationFilter {
	return ConversationFilter{UserA: a, UserB: b}
}

func (f ConversationFilter) validate() error {
	if f.GroupID != "" {
		if f.UserA != "" || f.UserB != "" {
			return ErrInvalidFilter
		}
		return nil
	}
	if f.UserA == "" || f.UserB == "" {
		return ErrInvalidFilter
	}
	return nil
}

func (f ConversationFilter) where() (string, []any) {
	if f.GroupID != "" {
		return "group_id = ?", []any{f.GroupID}
	}
	return "((sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?))",
		[]any{f.UserA, f.UserB, f.UserB, f.UserA}
}

func validateStatus(status string) error {
	switch status {
	case StatusSent, StatusDelivered, StatusRead:
		return nil
	default:
		return fmt.Errorf("invalid message status %q", status)
	}
}

func encodeReactions(reactions map[string]int) (string, error) {
	if len(reactions) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(reactions)
	if err != nil {
		return "", fmt.Errorf("encode reactions: %w", err)
	}
	return string(raw), nil
}

func decodeReactions(raw string) (map[string]int, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var reactions map[string]int
	if err := json.Unmarshal([]byte(raw), &reactions); err != nil {
		return nil, fmt.Errorf("decode reactions: %w", err)
	}
	return reactions, nil
}

func nullIfEmpty(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func nullInt64(ptr *int64) sql.NullInt64 {
	if ptr == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *ptr, Valid: true}
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
