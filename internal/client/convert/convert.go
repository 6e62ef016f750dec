// Package convert maps remote records to cache rows. Bulk sync and live
// subscription handlers both go through these functions, so the same remote
// fact always produces the same row.
package convert

import (
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
)

// Conversation converts a remote conversation. archived tells whether the
// conversation is in the user's archived set.
func Conversation(scope models.Scope, c api.Conversation, archived bool) models.Conversation {
	return models.Conversation{
		Scope:          scope,
		ID:             c.ID,
		Kind:           models.ConversationKind(c.Kind),
		Name:           c.Name,
		Description:    c.Description,
		ImageURL:       c.Image,
		BannerImageURL: c.BannerImage,
		OwnerID:        c.OwnerID,
		Members:        nilIfEmpty(c.Members),
		MutedBy:        nilIfEmpty(c.MutedBy),
		LastMessageAt:  utcPtr(c.LastMessageAt),
		Archived:       archived,
		CreatedAt:      utc(c.CreatedAt),
		UpdatedAt:      utc(c.UpdatedAt),
	}
}

// Conversations converts a batch, tagging members of archivedIDs.
func Conversations(scope models.Scope, cs []api.Conversation, archivedIDs []string) []models.Conversation {
	archived := Set(archivedIDs)
	out := make([]models.Conversation, 0, len(cs))
	for _, c := range cs {
		_, isArchived := archived[c.ID]
		out = append(out, Conversation(scope, c, isArchived))
	}
	return out
}

func Member(m api.Member) models.ConversationMember {
	return models.ConversationMember{
		ID:                              m.ID,
		ConversationID:                  m.ConversationID,
		UserID:                          m.UserID,
		Role:                            models.MemberRole(m.Role),
		Kind:                            models.ConversationKind(m.ConversationKind),
		EncryptedConversationKey:        m.EncryptedConversationKey,
		EncryptedConversationIV:         m.EncryptedConversationIV,
		ConversationPublicKey:           m.ConversationPublicKey,
		EncryptedConversationPrivateKey: m.EncryptedConversationPrivateKey,
		CreatedAt:                       utc(m.CreatedAt),
	}
}

// Message converts a remote message. Threads are flattened: a reply to a
// reply is attached to the top-level root.
func Message(scope models.Scope, m api.Message, important bool) models.Message {
	origin := models.MessageOrigin(m.Origin)
	if origin == "" {
		origin = models.OriginUser
	}

	var reactions []models.Reaction
	for _, r := range m.Reactions {
		reactions = append(reactions, models.Reaction{UserID: r.UserID, Emoji: r.Emoji})
	}

	return models.Message{
		Scope:          scope,
		ID:             m.ID,
		ConversationID: m.ConversationID,
		UserID:         m.UserID,
		Content:        m.Content,
		Type:           m.Type,
		Origin:         origin,
		RootID:         rootID(m),
		Important:      important,
		Reactions:      reactions,
		CreatedAt:      utc(m.CreatedAt),
		UpdatedAt:      utc(m.UpdatedAt),
		DeletedAt:      utcPtr(m.DeletedAt),
	}
}

// Messages converts a page of messages, marking those in importantIDs.
func Messages(scope models.Scope, ms []api.Message, importantIDs []string) []models.Message {
	important := Set(importantIDs)
	out := make([]models.Message, 0, len(ms))
	for _, m := range ms {
		_, isImportant := important[m.ID]
		out = append(out, Message(scope, m, isImportant))
	}
	return out
}

func rootID(m api.Message) *string {
	if root := m.MessageRoot; root != nil {
		if root.MessageRoot != nil && root.MessageRoot.ID != "" {
			id := root.MessageRoot.ID
			return &id
		}
		if root.MessageRootID != nil && *root.MessageRootID != "" {
			id := *root.MessageRootID
			return &id
		}
		if root.ID != "" {
			id := root.ID
			return &id
		}
	}
	if m.MessageRootID != nil && *m.MessageRootID != "" {
		id := *m.MessageRootID
		return &id
	}
	return nil
}

// Set builds a lookup set from ids.
func Set(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.UnixMilli(t.UnixMilli()).UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

func nilIfEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
