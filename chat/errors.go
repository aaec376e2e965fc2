package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied indicates the user is not a member of the target group.
	ErrAccessDenied = errors.New("chat: access denied")
	// ErrNotReady indicates the conversation has not finished its initial load.
	ErrNotReady = errors.New("chat: conversation not ready")
	// ErrSessionClosed indicates the session was closed.
	ErrSessionClosed = errors.New("chat: session closed")
	// ErrEmptyMessage indicates a send or edit without text.
	ErrEmptyMessage = errors.New("chat: message text is required")
	// ErrMessagePending indicates an operation on a message that has no server row yet.
	ErrMessagePending = errors.New("chat: message is still sending")
	// ErrInvalidConversation indicates a conversation id with neither or both of peer and group.
	ErrInvalidConversation = errors.New("chat: invalid conversation id")
)

// RemoteStoreError wraps a failure reported by the row store or membership query.
type RemoteStoreError struct {
	Op  string
	Err error
}

func (e *RemoteStoreError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *RemoteStoreError) Unwrap() error {
	return e.Err
}

func remoteError(op string, err error) error {
	return &RemoteStoreError{Op: op, Err: err}
}
