package models

import "time"

// MessageOrigin tells end-user messages apart from system placeholders.
type MessageOrigin string

const (
	OriginUser   MessageOrigin = "USER"
	OriginSystem MessageOrigin = "SYSTEM"
)

// Reaction is a single emoji reaction on a message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the cached row of a message. Content stays ciphertext.
type Message struct {
	Scope

	ID             string
	ConversationID string
	UserID         string
	Content        string
	Type           string
	Origin         MessageOrigin
	// RootID is the thread root. A root never has a root of its own.
	RootID    *string
	Important bool
	Reactions []Reaction
	CreatedAt time.Time
	UpdatedAt time.Time
	// DeletedAt is the tombstone; deleted rows are kept.
	DeletedAt *time.Time
}

// Deleted reports whether the message carries a tombstone.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// DecryptedMessage is a message whose content was decrypted for display.
type DecryptedMessage struct {
	Message
	Text string
}
