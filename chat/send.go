package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"e2echat/crypto"
	"e2echat/models"
)

// tempPrefix marks ids of optimistic entries that have no server row.
const tempPrefix = "temp-"

type outgoing struct {
	body       string
	replyToID  string
	attachment *models.Attachment
}

// SendMessage encrypts text and inserts it. The message is shown immediately with
// status "sending" and replaced by the stored row on success; on failure it is
// removed again and the error is returned.
func (s *Session) SendMessage(ctx context.Context, text, replyToID string) (models.Message, error) {
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if s.isClosed() {
		return models.Message{}, ErrSessionClosed
	}
	return s.client.send(ctx, s.tl, outgoing{body: text, replyToID: replyToID})
}

// SendAttachment sends a voice, image or file message. The attachment URI goes
// into the encrypted body; name, type and size are stored with the row.
func (s *Session) SendAttachment(ctx context.Context, attachment models.Attachment, replyToID string) (models.Message, error) {
	if attachment.URI == "" {
		return models.Message{}, fmt.Errorf("%w: attachment uri is empty", ErrEmptyMessage)
	}
	if s.isClosed() {
		return models.Message{}, ErrSessionClosed
	}
	return s.client.send(ctx, s.tl, outgoing{
		body:       models.FormatBody(attachment),
		replyToID:  replyToID,
		attachment: &attachment,
	})
}

// ForwardMessage sends text to each target conversation.
func (s *Session) ForwardMessage(ctx context.Context, text string, targets []ConversationID) ([]models.Message, error) {
	return s.client.ForwardMessage(ctx, text, targets)
}

func (c *Client) send(ctx context.Context, tl *timeline, draft outgoing) (models.Message, error) {
	id := tl.id
	tempID := tempPrefix + uuid.NewString()
	log := c.log.With().Str("conversation", id.String()).Str("temp_id", tempID).Logger()

	optimistic := models.Message{
		ID:         tempID,
		ClientRef:  tempID,
		SenderID:   c.userID,
		ReceiverID: id.Peer,
		GroupID:    id.Group,
		Status:     models.StatusSending,
		CreatedAt:  time.Now().UnixMilli(),
		ReplyToID:  draft.replyToID,
	}
	if draft.attachment != nil {
		attachment := *draft.attachment
		optimistic.Attachment = &attachment
	}
	optimistic.SetBody(draft.body)
	shown := tl.addPending(optimistic)

	fail := func(err error) (models.Message, error) {
		if shown {
			tl.remove(tempID)
		}
		log.Warn().Err(err).Msg("Send failed")
		return models.Message{}, err
	}

	if id.IsGroup() {
		member, err := c.backend.IsGroupMember(ctx, id.Group, c.userID)
		if err != nil {
			return fail(remoteError("check group membership", err))
		}
		if !member {
			return fail(ErrAccessDenied)
		}
	}

	content, err := crypto.Encrypt(draft.body, tl.key)
	if err != nil {
		return fail(fmt.Errorf("encrypt message: %w", err))
	}

	row := id.newRow(c.userID)
	row.ClientRef = tempID
	row.Content = content
	row.ReplyToID = draft.replyToID
	if draft.attachment != nil {
		row.FileName = draft.attachment.Name
		row.FileType = draft.attachment.MimeType
		row.FileSize = draft.attachment.Size
	}

	stored, err := c.backend.InsertMessage(ctx, row)
	if err != nil {
		return fail(remoteError("insert message", err))
	}

	message := confirmedRow(*stored, draft.body)
	tl.confirm(tempID, message)
	log.Debug().Str("message_id", message.ID).Msg("Message sent")
	return message, nil
}
