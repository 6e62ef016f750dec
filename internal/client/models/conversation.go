package models

import "time"

// ConversationKind selects the kind of key material a conversation uses.
type ConversationKind string

const (
	ConversationOneToOne ConversationKind = "ONE_TO_ONE"
	ConversationGroup    ConversationKind = "GROUP"
	// ConversationPublic conversations use an asymmetric pair instead of a
	// symmetric key.
	ConversationPublic ConversationKind = "PUBLIC"
)

// Asymmetric reports whether the kind is keyed by an RSA pair.
func (k ConversationKind) Asymmetric() bool {
	return k == ConversationPublic
}

// Conversation is the cached row of a conversation.
type Conversation struct {
	Scope

	ID             string
	Kind           ConversationKind
	Name           string
	Description    string
	ImageURL       string
	BannerImageURL string
	OwnerID        string
	Members        []string
	MutedBy        []string
	LastMessageAt  *time.Time
	Archived       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MemberRole is the role of a user inside a conversation.
type MemberRole string

const (
	RoleUser          MemberRole = "USER"
	RoleAdministrator MemberRole = "ADMINISTRATOR"
)

// ConversationMember binds a user to a conversation together with the
// conversation key material wrapped for that user's personal public key.
type ConversationMember struct {
	ID             string
	ConversationID string
	UserID         string
	Role           MemberRole
	Kind           ConversationKind

	// Symmetric conversations: wrapped AES key and IV.
	EncryptedConversationKey string
	EncryptedConversationIV  string

	// Asymmetric conversations: plain public PEM and wrapped private PEM.
	ConversationPublicKey           string
	EncryptedConversationPrivateKey string

	CreatedAt time.Time
}

// ActivityState is the client-side lifecycle of a conversation in the index.
type ActivityState string

const (
	StateActive   ActivityState = "ACTIVE"
	StateCanceled ActivityState = "CANCELED"
)

// IndexEntry records which conversations currently have live subscriptions.
type IndexEntry struct {
	ConversationID string
	Conversation   Conversation
	State          ActivityState
}
