package models

// EventType names a live-update stream.
type EventType string

const (
	EventMessageSent         EventType = "onSendMessage"
	EventMessageEdited       EventType = "onUpdateMessage"
	EventMessageDeleted      EventType = "onDeleteMessage"
	EventMessageBatchDeleted EventType = "onBatchDeleteMessages"
	EventMessageReacted      EventType = "onAddReaction"
	EventMessageUnreacted    EventType = "onRemoveReaction"
	EventMessagePinned       EventType = "onAddImportant"
	EventMessageUnpinned     EventType = "onRemoveImportant"
	EventSettingsUpdated     EventType = "onUpdateConversationSettings"
	EventConversationMuted   EventType = "onMuteConversation"
	EventConversationUnmuted EventType = "onUnmuteConversation"
	EventMemberEjected       EventType = "onEjectMember"
	EventMemberLeft          EventType = "onLeaveConversation"

	// EventMemberAdded is subscribed once per account, not per conversation.
	EventMemberAdded EventType = "onAddMember"
)

// TrackedEventTypes is the fixed set of per-conversation streams.
var TrackedEventTypes = []EventType{
	EventMessageSent,
	EventMessageEdited,
	EventMessageDeleted,
	EventMessageBatchDeleted,
	EventMessageReacted,
	EventMessageUnreacted,
	EventMessagePinned,
	EventMessageUnpinned,
	EventSettingsUpdated,
	EventConversationMuted,
	EventConversationUnmuted,
	EventMemberEjected,
	EventMemberLeft,
}

// SubscriptionHandle is one open live-update stream of a conversation.
type SubscriptionHandle struct {
	EventType      EventType
	ConversationID string
	CorrelationID  string
	Unsubscribe    func() error
}
