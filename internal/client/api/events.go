package api

import "time"

// Live event payloads. Message, Conversation and Member events carry the
// full entity; the remaining ones are described below.

// BatchDeleteEvent tombstones several messages of one conversation.
type BatchDeleteEvent struct {
	ConversationID string    `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	DeletedAt      time.Time `json:"deletedAt"`
}

// ImportantEvent pins or unpins a message.
type ImportantEvent struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}
