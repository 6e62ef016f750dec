package api

import "time"

// Conversation is the remote representation of a conversation.
type Conversation struct {
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	Image         string     `json:"image"`
	BannerImage   string     `json:"bannerImage"`
	OwnerID       string     `json:"ownerId"`
	Members       []string   `json:"members"`
	MutedBy       []string   `json:"mutedBy"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Member is a membership record carrying the conversation key wrapped for
// the member's personal public key.
type Member struct {
	ID                              string    `json:"id"`
	ConversationID                  string    `json:"conversationId"`
	UserID                          string    `json:"userId"`
	Role                            string    `json:"role"`
	ConversationKind                string    `json:"conversationKind"`
	EncryptedConversationKey        string    `json:"encryptedConversationKey"`
	EncryptedConversationIV         string    `json:"encryptedConversationIV"`
	ConversationPublicKey           string    `json:"conversationPublicKey"`
	EncryptedConversationPrivateKey string    `json:"encryptedConversationPrivateKey"`
	CreatedAt                       time.Time `json:"createdAt"`
}

type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// Message is the remote representation of a message. MessageRoot is the
// root of a thread reply and may itself carry a root, which the cache
// flattens to one level.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"conversationId"`
	UserID         string     `json:"userId"`
	Content        string     `json:"content"`
	Type           string     `json:"type"`
	Origin         string     `json:"origin"`
	MessageRootID  *string    `json:"messageRootId"`
	MessageRoot    *Message   `json:"messageRoot"`
	Reactions      []Reaction `json:"reactions"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt"`
}

// Page is a token-paginated list. A nil or empty NextToken ends the list.
type Page[T any] struct {
	Items     []T     `json:"items"`
	NextToken *string `json:"nextToken"`
}

// BatchResult is a batch lookup answer. Keys the service did not get to are
// returned in UnprocessedKeys and must be requested again.
type BatchResult[T any] struct {
	Items           []T      `json:"items"`
	UnprocessedKeys []string `json:"unprocessedKeys"`
}
