package models

import "fmt"

// Status is the delivery state of a message.
type Status string

const (
	// StatusSending marks a local optimistic entry that has no server row yet.
	StatusSending Status = "sending"
	// StatusSent marks a message confirmed by the row store.
	StatusSent Status = "sent"
	// StatusDelivered marks a message the recipient's client has received.
	StatusDelivered Status = "delivered"
	// StatusRead marks a message the recipient has seen.
	StatusRead Status = "read"
)

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(raw); status {
	case StatusSending, StatusSent, StatusDelivered, StatusRead:
		return status, nil
	default:
		return "", fmt.Errorf("invalid message status %q", raw)
	}
}

// Reactions counts reactions per emoji.
type Reactions map[string]int

// Clone returns an independent copy (nil stays nil).
func (r Reactions) Clone() Reactions {
	if r == nil {
		return nil
	}
	out := make(Reactions, len(r))
	for emoji, count := range r {
		out[emoji] = count
	}
	return out
}

// Message is a chat message after decryption.
//
// Exactly one of ReceiverID and GroupID is set. Body only ever lives in memory;
// Ciphertext is what the row store holds.
type Message struct {
	ID         string `json:"id"`
	ClientRef  string `json:"client_ref,omitempty"`
	SenderID   string `json:"sender_id"`
	ReceiverID string `json:"receiver_id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`

	Body          string      `json:"body"`
	Ciphertext    string      `json:"-"`
	Kind          Kind        `json:"kind"`
	Attachment    *Attachment `json:"attachment,omitempty"`
	DecryptFailed bool        `json:"decrypt_failed,omitempty"`

	Status    Status    `json:"status"`
	CreatedAt int64     `json:"created_at"`
	ReplyToID string    `json:"reply_to_id,omitempty"`
	Reactions Reactions `json:"reactions,omitempty"`
	IsEdited  bool      `json:"is_edited,omitempty"`
	EditedAt  int64     `json:"edited_at,omitempty"`
}

// IsGroup reports whether the message belongs to a group conversation.
func (m Message) IsGroup() bool {
	return m.GroupID != ""
}

// Pending reports whether the message is still an optimistic local entry.
func (m Message) Pending() bool {
	return m.Status == StatusSending
}

// SetBody sets the plaintext body and re-derives the kind and attachment from it.
// Attachment metadata that the body convention does not carry is preserved.
func (m *Message) SetBody(body string) {
	previous := m.Attachment
	m.Body = body
	m.Kind, m.Attachment = ParseBody(body)
	if m.Attachment != nil && previous != nil {
		m.Attachment.Name = previous.Name
		m.Attachment.MimeType = previous.MimeType
		m.Attachment.Size = previous.Size
	}
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	out := m
	out.Reactions = m.Reactions.Clone()
	if m.Attachment != nil {
		attachment := *m.Attachment
		out.Attachment = &attachment
	}
	return out
}
