package chat

import (
	"context"

	"e2echat/crypto"
	"e2echat/models"
	"e2echat/storage"
)

// Reload refetches the newest page and reconciles it with the current state.
func (s *Session) Reload(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.fetchLatest(ctx, s.tl.beginLoad())
}

// fetchLatest completes the load started with beginLoad as generation.
func (s *Session) fetchLatest(ctx context.Context, generation uint64) error {
	filter := s.id.filter(s.client.userID)
	pageSize := s.client.pageSize

	total, err := s.client.backend.CountMessages(ctx, filter)
	if err != nil {
		s.tl.abortLoad(generation)
		return remoteError("count messages", err)
	}

	offset := max(0, total-pageSize)
	var rows []storage.Message
	if total > 0 {
		rows, err = s.client.backend.ListMessages(ctx, filter, pageSize, offset)
		if err != nil {
			s.tl.abortLoad(generation)
			return remoteError("list messages", err)
		}
	}

	s.tl.finishLoad(generation, decodeRows(rows, s.tl.key), offset)
	s.log.Debug().Int("total", total).Int("offset", offset).Int("loaded", len(rows)).Msg("Loaded newest page")

	s.markRead(ctx)
	return nil
}

// LoadOlderMessages fetches the page before the loaded window and returns the
// number of messages added. It returns 0 without error when a page is already
// loading or the window already starts at the oldest message.
func (s *Session) LoadOlderMessages(ctx context.Context) (int, error) {
	if s.isClosed() {
		return 0, ErrSessionClosed
	}

	req, ok, err := s.tl.beginPage()
	if err != nil || !ok {
		return 0, err
	}

	newOffset := max(0, req.offset-s.client.pageSize)
	rows, err := s.client.backend.ListMessages(ctx, s.id.filter(s.client.userID), req.offset-newOffset, newOffset)
	if err != nil {
		s.tl.endPage(req, nil, req.offset, false)
		return 0, remoteError("list older messages", err)
	}

	added := s.tl.endPage(req, decodeRows(rows, s.tl.key), newOffset, true)
	s.log.Debug().Int("offset", newOffset).Int("added", added).Msg("Loaded older page")
	return added, nil
}

// markRead marks the peer's messages to us as read and tells the peer. Groups
// have no read receipts.
func (s *Session) markRead(ctx context.Context) {
	if s.id.IsGroup() {
		return
	}
	self := s.client.userID

	ids, err := s.client.backend.MarkRead(ctx, s.id.Peer, self)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to mark messages read")
		return
	}
	if len(ids) == 0 {
		return
	}
	s.tl.setStatus(ids, models.StatusRead)
	s.broadcast(ctx, EventStatus, statusPayload{UserID: self, IDs: ids, Status: models.StatusRead})
}

func decodeRows(rows []storage.Message, key crypto.Key) []models.Message {
	messages := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, decodeRow(row, key))
	}
	return messages
}

// decodeRow decrypts a stored row. Rows that are not envelopes are system messages.
func decodeRow(row storage.Message, key crypto.Key) models.Message {
	message := baseMessage(row)
	result := crypto.Open(row.Content, key)
	message.SetBody(result.Text())
	message.DecryptFailed = result.Failed()
	if result.Kind == crypto.ResultPassthrough {
		message.Kind = models.KindSystem
		message.Attachment = nil
	}
	return message
}

// confirmedRow builds the message for a row whose plaintext is already known.
func confirmedRow(row storage.Message, body string) models.Message {
	message := baseMessage(row)
	message.SetBody(body)
	return message
}

func baseMessage(row storage.Message) models.Message {
	status, err := models.ParseStatus(row.Status)
	if err != nil {
		status = models.StatusSent
	}
	message := models.Message{
		ID:         row.ID,
		ClientRef:  row.ClientRef,
		SenderID:   row.SenderID,
		ReceiverID: row.ReceiverID,
		GroupID:    row.GroupID,
		Ciphertext: row.Content,
		Status:     status,
		CreatedAt:  row.CreatedAt,
		ReplyToID:  row.ReplyToID,
		Reactions:  models.Reactions(row.Reactions).Clone(),
		IsEdited:   row.IsEdited,
	}
	if row.EditedAt != nil {
		message.EditedAt = *row.EditedAt
	}
	if row.FileName != "" || row.FileType != "" || row.FileSize > 0 {
		message.Attachment = &models.Attachment{Name: row.FileName, MimeType: row.FileType, Size: row.FileSize}
	}
	return message
}
