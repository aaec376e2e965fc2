package chat

import "e2echat/models"

// Broadcast event names on a conversation channel.
const (
	EventTyping = "typing"
	EventStatus = "message_status"
	EventReact  = "reaction"
	EventEdit   = "message_edited"
	EventDelete = "message_deleted"
)

type typingPayload struct {
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

type statusPayload struct {
	UserID string        `json:"user_id"`
	IDs    []string      `json:"ids"`
	Status models.Status `json:"status"`
}

type reactionPayload struct {
	ID        string           `json:"id"`
	Reactions models.Reactions `json:"reactions"`
}

// editPayload carries the new envelope, never plaintext.
type editPayload struct {
	ID       string `json:"id"`
	Message  string `json:"message"`
	EditedAt int64  `json:"edited_at"`
}

type deletePayload struct {
	ID string `json:"id"`
}
