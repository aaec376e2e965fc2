package storage

import (
	"context"
	"errors"
	"fmt"
)

// AddGroupMember records an active membership. Re-adding an existing member is a no-op.
func (s *Store) AddGroupMember(ctx context.Context, groupID, userID string) error {
	if groupID == "" || userID == "" {
		return errors.New("group_id and user_id are required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (group_id, user_id, joined_at)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id, user_id) DO NOTHING`,
		groupID,
		userID,
		nowUnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("add member %q to group %q: %w", userID, groupID, err)
	}
	return nil
}

// RemoveGroupMember deletes a membership row.
func (s *Store) RemoveGroupMember(ctx context.Context, groupID, userID string) error {
	if groupID == "" || userID == "" {
		return errors.New("group_id and user_id are required")
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM group_members WHERE group_id = ? AND user_id = ?`,
		groupID,
		userID,
	)
	return requireRowAffected(res, err, fmt.Sprintf("remove member %q from group %q", userID, groupID))
}

// IsGroupMember reports whether userID currently has a membership row in groupID.
func (s *Store) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if groupID == "" || userID == "" {
		return false, errors.New("group_id and user_id are required")
	}

	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)`,
		groupID,
		userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check membership of %q in group %q: %w", userID, groupID, err)
	}
	return exists == 1, nil
}

// ListGroupMembers returns member IDs ordered by join time.
func (s *Store) ListGroupMembers(ctx context.Context, groupID string) ([]string, error) {
	if groupID == "" {
		return nil, errors.New("group_id is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? ORDER BY joined_at ASC, user_id ASC`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members of group %q: %w", groupID, err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan group member row: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group member rows: %w", err)
	}
	return members, nil
}
