package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/client"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	Mutation bool
	Op       string
	Vars     map[string]any
}

// fakeExecutor answers each call with the next scripted JSON result for
// the operation.
type fakeExecutor struct {
	calls   []call
	results map[string][]string
	errs    map[string][]error
}

func (f *fakeExecutor) next(op string, out any) error {
	if errs := f.errs[op]; len(errs) > 0 {
		f.errs[op] = errs[1:]
		if errs[0] != nil {
			return errs[0]
		}
	}
	res := f.results[op]
	if len(res) == 0 {
		return nil
	}
	f.results[op] = res[1:]
	if out == nil {
		return nil
	}
	return json.Unmarshal([]byte(res[0]), out)
}

func (f *fakeExecutor) Query(ctx context.Context, op string, vars map[string]any, out any) error {
	f.calls = append(f.calls, call{Op: op, Vars: vars})
	return f.next(op, out)
}

func (f *fakeExecutor) Mutate(ctx context.Context, op string, vars map[string]any, out any) error {
	f.calls = append(f.calls, call{Mutation: true, Op: op, Vars: vars})
	return f.next(op, out)
}

func TestListConversationIDs_PassesStatusAndTokens(t *testing.T) {
	exec := &fakeExecutor{results: map[string][]string{
		OpListConversationIDs: {
			`{"items":["c1","c2"],"nextToken":"t1"}`,
			`{"items":["c3"]}`,
		},
	}}
	a := New(exec, session.StaticTokenSource("tok"))

	ids, err := a.ListConversationIDs(context.Background(), models.StateCanceled)
	require.NoError(t, err)
	assert.Equal(t, []string{"c1", "c2", "c3"}, ids)

	require.Len(t, exec.calls, 2)
	assert.Equal(t, map[string]any{"status": "CANCELED"}, exec.calls[0].Vars)
	assert.Equal(t, map[string]any{"status": "CANCELED", "nextToken": "t1"}, exec.calls[1].Vars)
}

func TestBatchGetConversations_FollowsUnprocessedKeys(t *testing.T) {
	exec := &fakeExecutor{results: map[string][]string{
		OpBatchGetConversations: {
			`{"items":[{"id":"c1","kind":"GROUP","lastMessageAt":"2024-01-02T03:04:05Z"}],"unprocessedKeys":["c2"]}`,
			`{"items":[{"id":"c2","kind":"ONE_TO_ONE"}]}`,
		},
	}}
	a := New(exec, nil)

	convs, err := a.BatchGetConversations(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "c1", convs[0].ID)
	require.NotNil(t, convs[0].LastMessageAt)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), convs[0].LastMessageAt.UTC())
	assert.Nil(t, convs[1].LastMessageAt)

	assert.Equal(t, []string{"c2"}, exec.calls[1].Vars["ids"])
}

func TestListMessagesSince_FormatsSince(t *testing.T) {
	exec := &fakeExecutor{results: map[string][]string{
		OpListMessages: {`{"items":[{"id":"m1","conversationId":"c1","messageRoot":{"id":"r1","messageRoot":{"id":"r0"}}}]}`},
	}}
	a := New(exec, nil)
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	msgs, err := a.ListMessagesSince(context.Background(), "c1", &since)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "r0", msgs[0].MessageRoot.MessageRoot.ID)
	assert.Equal(t, "2024-05-01T00:00:00Z", exec.calls[0].Vars["since"])

	_, err = a.ListMessagesSince(context.Background(), "c1", nil)
	require.NoError(t, err)
	_, ok := exec.calls[1].Vars["since"]
	assert.False(t, ok)
}

type refreshCounter struct{ n int }

func (r *refreshCounter) Token(context.Context) (string, error)   { return "t", nil }
func (r *refreshCounter) Refresh(context.Context) (string, error) { r.n++; return "t2", nil }

func TestRegisterPublicKey_RetriesOnceAfterUnauthorized(t *testing.T) {
	exec := &fakeExecutor{errs: map[string][]error{
		OpRegisterPublicKey: {&client.TransportError{Kind: client.KindUnauthorized, Retryable: true, Err: errors.New("expired")}, nil},
	}}
	tokens := &refreshCounter{}
	a := New(exec, tokens)

	require.NoError(t, a.RegisterPublicKey(context.Background(), "PEM"))
	require.Len(t, exec.calls, 2)
	assert.True(t, exec.calls[1].Mutation)
	assert.Equal(t, "PEM", exec.calls[1].Vars["publicKey"])
	assert.Equal(t, 1, tokens.n)
}

func TestListMembersAndImportant(t *testing.T) {
	exec := &fakeExecutor{results: map[string][]string{
		OpListMembersByUser:           {`{"items":[{"conversationId":"c1","encryptedConversationKey":"k"}]}`},
		OpListImportantMessageIDs:     {`{"items":["m1"],"nextToken":null}`},
		OpListArchivedConversationIDs: {`{"items":["c9"]}`},
	}}
	a := New(exec, nil)
	ctx := context.Background()

	members, err := a.ListMembersByUser(ctx)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "k", members[0].EncryptedConversationKey)

	imp, err := a.ListImportantMessageIDs(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, imp)

	arch, err := a.ListArchivedConversationIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"c9"}, arch)
}
