package api

import (
	"context"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/client"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
)

// Remote operation names.
const (
	OpListConversationIDs         = "listConversationIds"
	OpBatchGetConversations       = "batchGetConversations"
	OpListArchivedConversationIDs = "listArchivedConversationIds"
	OpListMembersByUser           = "listConversationMembersByUser"
	OpListMessages                = "listMessagesByConversation"
	OpListImportantMessageIDs     = "listImportantMessageIds"
	OpRegisterPublicKey           = "registerPublicKey"
)

// API is the typed view of the conversation service.
type API struct {
	exec      client.Executor
	tokens    session.TokenSource
	batchSize int
}

func New(exec client.Executor, tokens session.TokenSource) *API {
	return &API{exec: exec, tokens: tokens, batchSize: DefaultBatchSize}
}

func (a *API) query(ctx context.Context, op string, vars map[string]any, out any) error {
	return client.DoWithAuthRetry(ctx, a.tokens, func(ctx context.Context) error {
		return a.exec.Query(ctx, op, vars, out)
	})
}

func (a *API) mutate(ctx context.Context, op string, vars map[string]any, out any) error {
	return client.DoWithAuthRetry(ctx, a.tokens, func(ctx context.Context) error {
		return a.exec.Mutate(ctx, op, vars, out)
	})
}

func withToken(vars map[string]any, token *string) map[string]any {
	if token != nil {
		vars["nextToken"] = *token
	}
	return vars
}

// ListConversationIDs returns the ids of every conversation the user has a
// membership of the given state in, across all pages.
func (a *API) ListConversationIDs(ctx context.Context, state models.ActivityState) ([]string, error) {
	return CollectPages(ctx, func(ctx context.Context, token *string) (Page[string], error) {
		var page Page[string]
		err := a.query(ctx, OpListConversationIDs, withToken(map[string]any{"status": string(state)}, token), &page)
		return page, err
	})
}

// BatchGetConversations resolves ids into conversations, following the
// unprocessed-keys continuation.
func (a *API) BatchGetConversations(ctx context.Context, ids []string) ([]Conversation, error) {
	return ResolveBatches(ctx, ids, a.batchSize, DefaultMaxBatchAttempts,
		func(c Conversation) string { return c.ID },
		func(ctx context.Context, keys []string) (BatchResult[Conversation], error) {
			var res BatchResult[Conversation]
			err := a.query(ctx, OpBatchGetConversations, map[string]any{"ids": keys}, &res)
			return res, err
		})
}

// ListArchivedConversationIDs returns the conversations the user archived.
func (a *API) ListArchivedConversationIDs(ctx context.Context) ([]string, error) {
	return CollectPages(ctx, func(ctx context.Context, token *string) (Page[string], error) {
		var page Page[string]
		err := a.query(ctx, OpListArchivedConversationIDs, withToken(map[string]any{}, token), &page)
		return page, err
	})
}

// ListMembersByUser returns the membership records of the current user.
func (a *API) ListMembersByUser(ctx context.Context) ([]Member, error) {
	return CollectPages(ctx, func(ctx context.Context, token *string) (Page[Member], error) {
		var page Page[Member]
		err := a.query(ctx, OpListMembersByUser, withToken(map[string]any{}, token), &page)
		return page, err
	})
}

// ListMessagesSince returns the messages of a conversation created after
// since, or all of them when since is nil.
func (a *API) ListMessagesSince(ctx context.Context, conversationID string, since *time.Time) ([]Message, error) {
	return CollectPages(ctx, func(ctx context.Context, token *string) (Page[Message], error) {
		vars := map[string]any{"conversationId": conversationID}
		if since != nil {
			vars["since"] = since.UTC().Format(time.RFC3339Nano)
		}

		var page Page[Message]
		err := a.query(ctx, OpListMessages, withToken(vars, token), &page)
		return page, err
	})
}

// ListImportantMessageIDs returns the ids of the pinned messages of a
// conversation.
func (a *API) ListImportantMessageIDs(ctx context.Context, conversationID string) ([]string, error) {
	return CollectPages(ctx, func(ctx context.Context, token *string) (Page[string], error) {
		var page Page[string]
		err := a.query(ctx, OpListImportantMessageIDs, withToken(map[string]any{"conversationId": conversationID}, token), &page)
		return page, err
	})
}

// RegisterPublicKey publishes the personal public key (PEM) of the user.
func (a *API) RegisterPublicKey(ctx context.Context, publicKeyPEM string) error {
	return a.mutate(ctx, OpRegisterPublicKey, map[string]any{"publicKey": publicKeyPEM}, nil)
}
