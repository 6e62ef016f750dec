package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/convert"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
)

type applyFunc func(ctx context.Context, conversationID string, raw json.RawMessage) error

func (m *Manager) appliers() map[models.EventType]applyFunc {
	return map[models.EventType]applyFunc{
		models.EventMessageSent:         m.applyMessage,
		models.EventMessageEdited:       m.applyMessage,
		models.EventMessageReacted:      m.applyMessage,
		models.EventMessageUnreacted:    m.applyMessage,
		models.EventMessageDeleted:      m.applyMessageDeleted,
		models.EventMessageBatchDeleted: m.applyBatchDelete,
		models.EventMessagePinned:       m.applyImportant(true),
		models.EventMessageUnpinned:     m.applyImportant(false),
		models.EventSettingsUpdated:     m.applyConversation,
		models.EventConversationMuted:   m.applyConversation,
		models.EventConversationUnmuted: m.applyConversation,
		models.EventMemberEjected:       m.applyMemberRemoved,
		models.EventMemberLeft:          m.applyMemberRemoved,
		models.EventMemberAdded:         m.applyMemberAdded,
	}
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

func (m *Manager) applyMessage(ctx context.Context, conversationID string, raw json.RawMessage) error {
	msg, err := decode[api.Message](raw)
	if err != nil {
		return err
	}
	return m.upsertMessage(ctx, conversationID, msg)
}

func (m *Manager) applyMessageDeleted(ctx context.Context, conversationID string, raw json.RawMessage) error {
	msg, err := decode[api.Message](raw)
	if err != nil {
		return err
	}
	if msg.DeletedAt == nil {
		at := msg.UpdatedAt
		if at.IsZero() {
			at = time.Now()
		}
		msg.DeletedAt = &at
	}
	return m.upsertMessage(ctx, conversationID, msg)
}

// upsertMessage stores msg, keeping the importance flag of the cached row:
// message events do not carry it.
func (m *Manager) upsertMessage(ctx context.Context, conversationID string, msg api.Message) error {
	if msg.ID == "" {
		return errors.New("message event without id")
	}
	if msg.ConversationID == "" {
		msg.ConversationID = conversationID
	}

	scope := m.sess.Scope()
	important := false
	existing, err := m.repos.Messages.Get(ctx, scope, msg.ID)
	switch {
	case err == nil:
		important = existing.Important
	case !errors.Is(err, common.ErrorNotFound):
		return err
	}

	return m.repos.Messages.UpsertMany(ctx, []models.Message{convert.Message(scope, msg, important)})
}

func (m *Manager) applyBatchDelete(ctx context.Context, conversationID string, raw json.RawMessage) error {
	ev, err := decode[api.BatchDeleteEvent](raw)
	if err != nil {
		return err
	}
	if ev.ConversationID == "" {
		ev.ConversationID = conversationID
	}
	at := ev.DeletedAt
	if at.IsZero() {
		at = time.Now()
	}
	return m.repos.Messages.Tombstone(ctx, m.sess.Scope(), ev.ConversationID, ev.MessageIDs, at)
}

func (m *Manager) applyImportant(important bool) applyFunc {
	return func(ctx context.Context, conversationID string, raw json.RawMessage) error {
		ev, err := decode[api.ImportantEvent](raw)
		if err != nil {
			return err
		}

		msg, err := m.repos.Messages.Get(ctx, m.sess.Scope(), ev.MessageID)
		if errors.Is(err, common.ErrorNotFound) {
			// The next cycle brings the message with its flag.
			m.log.Debug(ctx, "importance change for unknown message", "message_id", ev.MessageID)
			return nil
		}
		if err != nil {
			return err
		}

		msg.Important = important
		return m.repos.Messages.UpsertMany(ctx, []models.Message{*msg})
	}
}

func (m *Manager) applyConversation(ctx context.Context, conversationID string, raw json.RawMessage) error {
	c, err := decode[api.Conversation](raw)
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = conversationID
	}

	conv, err := m.storeConversation(ctx, c)
	if err != nil {
		return err
	}
	m.refreshSnapshot(conv)
	return nil
}

func (m *Manager) applyMemberRemoved(ctx context.Context, conversationID string, raw json.RawMessage) error {
	member, err := decode[api.Member](raw)
	if err != nil {
		return err
	}
	if member.ConversationID == "" {
		member.ConversationID = conversationID
	}

	if member.UserID == m.sess.Scope().AccountID {
		m.Detach(ctx, member.ConversationID)
		m.vault.Remove(member.ConversationID)
		m.log.Info(ctx, "removed from conversation", "conversation_id", member.ConversationID)
		return nil
	}

	scope := m.sess.Scope()
	conv, err := m.repos.Conversations.Get(ctx, scope, member.ConversationID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	conv.Members = slices.DeleteFunc(conv.Members, func(id string) bool { return id == member.UserID })
	if len(conv.Members) == 0 {
		conv.Members = nil
	}
	if err := m.repos.Conversations.UpsertMany(ctx, []models.Conversation{*conv}); err != nil {
		return err
	}
	m.refreshSnapshot(*conv)
	return nil
}

// applyMemberAdded handles the account-wide stream: the user joined a
// conversation. The key comes with the membership record; the streams are
// (re)attached.
func (m *Manager) applyMemberAdded(ctx context.Context, _ string, raw json.RawMessage) error {
	member, err := decode[api.Member](raw)
	if err != nil {
		return err
	}
	if member.ConversationID == "" {
		return errors.New("member event without conversation")
	}
	if member.UserID != "" && member.UserID != m.sess.Scope().AccountID {
		return nil
	}

	if _, err := m.keys.AddMemberKey(ctx, convert.Member(member)); err != nil {
		return fmt.Errorf("conversation key: %w", err)
	}

	cs, err := m.fetch.BatchGetConversations(ctx, []string{member.ConversationID})
	if err != nil {
		return err
	}
	if len(cs) == 0 {
		return fmt.Errorf("conversation %s not found", member.ConversationID)
	}

	conv, err := m.storeConversation(ctx, cs[0])
	if err != nil {
		return err
	}
	return m.Attach(ctx, conv)
}

// storeConversation upserts c, keeping the archived flag of the cached row.
func (m *Manager) storeConversation(ctx context.Context, c api.Conversation) (models.Conversation, error) {
	scope := m.sess.Scope()

	archived := false
	existing, err := m.repos.Conversations.Get(ctx, scope, c.ID)
	switch {
	case err == nil:
		archived = existing.Archived
	case !errors.Is(err, common.ErrorNotFound):
		return models.Conversation{}, err
	}

	conv := convert.Conversation(scope, c, archived)
	if err := m.repos.Conversations.UpsertMany(ctx, []models.Conversation{conv}); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (m *Manager) refreshSnapshot(conv models.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.index[conv.ID]; ok {
		e.Conversation = conv
	}
}
