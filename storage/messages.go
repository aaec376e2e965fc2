package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const messageColumns = `
			id,
			client_ref,
			sender_id,
			receiver_id,
			group_id,
			message,
			status,
			created_at,
			reply_to_id,
			reactions,
			is_edited,
			edited_at,
			file_name,
			file_type,
			file_size`

// InsertMessage inserts a new message row and returns it as stored.
//
// Like the hosted table defaults, an empty ID gets a fresh UUID, a zero CreatedAt
// gets the current time and an empty Status becomes "sent".
func (s *Store) InsertMessage(ctx context.Context, message Message) (*Message, error) {
	if message.SenderID == "" {
		return nil, errors.New("sender_id is required")
	}
	if (message.ReceiverID == "") == (message.GroupID == "") {
		return nil, errors.New("exactly one of receiver_id and group_id is required")
	}
	if message.Content == "" {
		return nil, errors.New("message is required")
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.Status == "" {
		message.Status = StatusSent
	}
	if err := validateStatus(message.Status); err != nil {
		return nil, err
	}
	if message.CreatedAt == 0 {
		message.CreatedAt = nowUnixMilli()
	}
	reactions, err := encodeReactions(message.Reactions)
	if err != nil {
		return nil, err
	}

	isEdited := 0
	if message.IsEdited {
		isEdited = 1
	}
	fileSize := sql.NullInt64{}
	if message.FileSize > 0 {
		fileSize = sql.NullInt64{Int64: message.FileSize, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (`+messageColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		message.ID,
		nullIfEmpty(message.ClientRef),
		message.SenderID,
		nullIfEmpty(message.ReceiverID),
		nullIfEmpty(message.GroupID),
		message.Content,
		message.Status,
		message.CreatedAt,
		nullIfEmpty(message.ReplyToID),
		reactions,
		isEdited,
		nullInt64(message.EditedAt),
		nullIfEmpty(message.FileName),
		nullIfEmpty(message.FileType),
		fileSize,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message %q: %w", message.ID, err)
	}

	return &message, nil
}

// CountMessages returns the exact number of rows in a conversation.
func (s *Store) CountMessages(ctx context.Context, filter ConversationFilter) (int, error) {
	if err := filter.validate(); err != nil {
		return 0, err
	}

	where, args := filter.where()
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM messages WHERE `+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// ListMessages returns one page of a conversation ordered by created_at ascending.
func (s *Store) ListMessages(ctx context.Context, filter ConversationFilter, limit, offset int) ([]Message, error) {
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	where, args := filter.where()
	args = append(args, limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE `+where+`
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// GetMessage fetches one message by ID.
func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	return getMessage(ctx, s.db, id)
}

// UpdateMessageContent replaces the stored message body and flags the row as edited.
func (s *Store) UpdateMessageContent(ctx context.Context, id, content string, editedAt int64) (*Message, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if content == "" {
		return nil, errors.New("message is required")
	}
	if editedAt == 0 {
		editedAt = nowUnixMilli()
	}

	var updated *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE messages
			SET message = ?, is_edited = 1, edited_at = ?
			WHERE id = ?`,
			content,
			editedAt,
			id,
		)
		if err := requireRowAffected(res, err, "update message "+id); err != nil {
			return err
		}
		updated, err = getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// IncrementReaction adds one to the count of emoji on a message in a single
// statement, so concurrent reactors never overwrite each other.
func (s *Store) IncrementReaction(ctx context.Context, id, emoji string) (*Message, error) {
	if id == "" {
		return nil, errors.New("id is required")
	}
	if emoji == "" || strings.ContainsAny(emoji, "\"\\") {
		return nil, fmt.Errorf("invalid reaction %q", emoji)
	}
	path := `$."` + emoji + `"`

	var updated *Message
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE messages
SET reactions = json_set(reactions, ?, COALESCE(json_extract(reactions, ?), 0) + 1)
WHERE id = ?`, path, path, id)
		if err := requireRowAffected(res, err, "increment reaction "+id); err != nil {
			return err
		}
		updated, err = getMessage(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// MarkRead marks every unread message from senderID to receiverID as read and
// returns the IDs that changed.
func (s *Store) MarkRead(ctx context.Context, senderID, receiverID string) ([]string, error) {
	if senderID == "" || receiverID == "" {
		return nil, errors.New("sender_id and receiver_id are required")
	}

	var ids []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id FROM messages
			WHERE sender_id = ? AND receiver_id = ? AND status <> ?
			ORDER BY created_at ASC`,
			senderID,
			receiverID,
			StatusRead,
		)
		if err != nil {
			return fmt.Errorf("select unread messages: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("scan unread message id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return fmt.Errorf("iterate unread messages: %w", err)
		}
		rows.Close()

		if len(ids) == 0 {
			return nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
		args := make([]any, 0, len(ids)+1)
		args = append(args, StatusRead)
		for _, id := range ids {
			args = append(args, id)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE messages SET status = ? WHERE id IN (`+placeholders+`)`, args...); err != nil {
			return fmt.Errorf("mark messages read: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteMessage removes a message row.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("id is required")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	return requireRowAffected(res, err, "delete message "+id)
}

type scanner interface {
	Scan(dest ...any) error
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getMessage(ctx context.Context, q queryer, id string) (*Message, error) {
	row := q.QueryRowContext(ctx, `SELECT`+messageColumns+` FROM messages WHERE id = ?`, id)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", id, err)
	}
	return message, nil
}

func requireRowAffected(res sql.Result, err error, op string) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for %s: %w", op, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message    Message
		clientRef  sql.NullString
		receiverID sql.NullString
		groupID    sql.NullString
		replyToID  sql.NullString
		reactions  string
		isEdited   int
		editedAt   sql.NullInt64
		fileName   sql.NullString
		fileType   sql.NullString
		fileSize   sql.NullInt64
	)

	if err := row.Scan(
		&message.ID,
		&clientRef,
		&message.SenderID,
		&receiverID,
		&groupID,
		&message.Content,
		&message.Status,
		&message.CreatedAt,
		&replyToID,
		&reactions,
		&isEdited,
		&editedAt,
		&fileName,
		&fileType,
		&fileSize,
	); err != nil {
		return nil, err
	}

	decoded, err := decodeReactions(reactions)
	if err != nil {
		return nil, err
	}

	message.ClientRef = clientRef.String
	message.ReceiverID = receiverID.String
	message.GroupID = groupID.String
	message.ReplyToID = replyToID.String
	message.Reactions = decoded
	message.IsEdited = isEdited == 1
	message.EditedAt = int64Ptr(editedAt)
	message.FileName = fileName.String
	message.FileType = fileType.String
	message.FileSize = fileSize.Int64

	return &message, nil
}
