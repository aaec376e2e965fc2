package chat

import (
	"fmt"
	"strings"

	"e2echat/crypto"
	"e2echat/storage"
)

const (
	directPrefix = "dm:"
	groupPrefix  = "group:"
)

// ConversationID names a conversation from the local user's point of view:
// either a direct chat with Peer or the group Group.
type ConversationID struct {
	Peer  string
	Group string
}

// Direct returns the id of the direct chat with peer.
func Direct(peer string) ConversationID {
	return ConversationID{Peer: peer}
}

// Group returns the id of a group chat.
func Group(groupID string) ConversationID {
	return ConversationID{Group: groupID}
}

// ParseConversationID parses the "dm:<peer>" and "group:<id>" forms returned by String.
func ParseConversationID(raw string) (ConversationID, error) {
	var id ConversationID
	switch {
	case strings.HasPrefix(raw, directPrefix):
		id = Direct(strings.TrimPrefix(raw, directPrefix))
	case strings.HasPrefix(raw, groupPrefix):
		id = Group(strings.TrimPrefix(raw, groupPrefix))
	default:
		return ConversationID{}, fmt.Errorf("%w: %q", ErrInvalidConversation, raw)
	}
	if err := id.validate(); err != nil {
		return ConversationID{}, err
	}
	return id, nil
}

func (c ConversationID) String() string {
	if c.IsGroup() {
		return groupPrefix + c.Group
	}
	return directPrefix + c.Peer
}

// IsGroup reports whether c names a group chat.
func (c ConversationID) IsGroup() bool {
	return c.Group != ""
}

func (c ConversationID) validate() error {
	if (c.Peer == "") == (c.Group == "") {
		return ErrInvalidConversation
	}
	return nil
}

func (c ConversationID) deriveKey(self string) (crypto.Key, error) {
	if c.IsGroup() {
		return crypto.DeriveKey(c.Group, "", true)
	}
	return crypto.DeriveKey(self, c.Peer, false)
}

func (c ConversationID) filter(self string) storage.ConversationFilter {
	if c.IsGroup() {
		return storage.Group(c.Group)
	}
	return storage.Direct(self, c.Peer)
}

// cacheKey scopes the cached state of c to the local user self.
func (c ConversationID) cacheKey(self string) string {
	return self + "/" + c.String()
}

// channelName is the same for both participants of a direct chat.
func (c ConversationID) channelName(self string) string {
	if c.IsGroup() {
		return "group_" + c.Group
	}
	a, b := self, c.Peer
	if b < a {
		a, b = b, a
	}
	return "chat_" + a + "_" + b
}

// feed returns the change feed filter that covers incoming rows.
func (c ConversationID) feed(self string) (column, value string) {
	if c.IsGroup() {
		return storage.ColumnGroupID, c.Group
	}
	return storage.ColumnReceiverID, self
}

func (c ConversationID) owns(self string, row storage.Message) bool {
	if c.IsGroup() {
		return row.GroupID == c.Group
	}
	if row.GroupID != "" {
		return false
	}
	return (row.SenderID == c.Peer && row.ReceiverID == self) ||
		(row.SenderID == self && row.ReceiverID == c.Peer)
}

func (c ConversationID) newRow(self string) storage.Message {
	row := storage.Message{SenderID: self}
	if c.IsGroup() {
		row.GroupID = c.Group
	} else {
		row.ReceiverID = c.Peer
	}
	return row
}
