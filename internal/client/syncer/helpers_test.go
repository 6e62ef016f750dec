package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/cachetest"
	"github.com/dmitrijs2005/chatkeeper/internal/client/client"
	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/client/store"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/stretchr/testify/require"
)

var (
	scope = models.Scope{AccountID: "user-1", OrganizationID: "org-1"}
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeSub struct {
	op      string
	vars    map[string]any
	onEvent func(json.RawMessage)
}

// fakeLive records open streams and lets tests push events into them.
type fakeLive struct {
	mu     sync.Mutex
	seq    int
	subs   map[string]*fakeSub
	hooks  []func(context.Context)
	failOp string
	// lost marks a link whose reconnect gave up; Connect rebuilds it.
	lost     bool
	connects int
}

func newFakeLive() *fakeLive {
	return &fakeLive{subs: map[string]*fakeSub{}}
}

func (f *fakeLive) Subscribe(_ context.Context, op string, vars map[string]any, onEvent func(json.RawMessage)) (*client.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if op == f.failOp {
		return nil, &client.TransportError{Kind: client.KindNetwork, Op: op, Retryable: true, Err: fmt.Errorf("link is down")}
	}
	f.seq++
	id := fmt.Sprintf("sub-%d", f.seq)
	f.subs[id] = &fakeSub{op: op, vars: vars, onEvent: onEvent}

	return client.NewSubscription(id, op, func() error {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
		return nil
	}), nil
}

func (f *fakeLive) OnReset(hook func(context.Context)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks = append(f.hooks, hook)
}

func (f *fakeLive) Connect(ctx context.Context, force bool) error {
	f.mu.Lock()
	f.connects++
	rebuilt := f.lost || force
	f.lost = false
	if rebuilt {
		f.subs = map[string]*fakeSub{}
	}
	hooks := append([]func(context.Context){}, f.hooks...)
	f.mu.Unlock()

	if rebuilt {
		for _, h := range hooks {
			h(ctx)
		}
	}
	return nil
}

// lose drops every stream without running the hooks.
func (f *fakeLive) lose() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = map[string]*fakeSub{}
	f.lost = true
}

func (f *fakeLive) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// reset drops every stream, like a rebuilt link, and runs the hooks.
func (f *fakeLive) reset(ctx context.Context) {
	f.mu.Lock()
	f.subs = map[string]*fakeSub{}
	hooks := append([]func(context.Context){}, f.hooks...)
	f.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}

// emit delivers payload to every stream of op, filtered by conversation
// when conversationID is set. It returns the number of deliveries.
func (f *fakeLive) emit(t *testing.T, op models.EventType, conversationID string, payload any) int {
	t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return f.emitRaw(op, conversationID, raw)
}

func (f *fakeLive) emitRaw(op models.EventType, conversationID string, raw json.RawMessage) int {
	f.mu.Lock()
	var targets []func(json.RawMessage)
	for _, s := range f.subs {
		if s.op != string(op) {
			continue
		}
		if conversationID != "" && s.vars["conversationId"] != conversationID {
			continue
		}
		targets = append(targets, s.onEvent)
	}
	f.mu.Unlock()

	for _, fn := range targets {
		fn(raw)
	}
	return len(targets)
}

type fakeRemote struct {
	mu sync.Mutex

	active    []string
	canceled  []string
	archived  []string
	convs     map[string]api.Conversation
	messages  map[string][]api.Message
	important map[string][]string

	batchErr     error
	messageCalls map[string]int
	since        map[string]*time.Time
	// onListActive runs before the active ids are listed, outside the lock.
	onListActive func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		convs:        map[string]api.Conversation{},
		messages:     map[string][]api.Message{},
		important:    map[string][]string{},
		messageCalls: map[string]int{},
		since:        map[string]*time.Time{},
	}
}

func (f *fakeRemote) addConversation(id string, lastMessageAt *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.convs[id] = api.Conversation{
		ID:            id,
		Kind:          string(models.ConversationGroup),
		Name:          "conversation " + id,
		OwnerID:       scope.AccountID,
		Members:       []string{scope.AccountID, "user-2"},
		LastMessageAt: lastMessageAt,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

func (f *fakeRemote) ListConversationIDs(_ context.Context, state models.ActivityState) ([]string, error) {
	if state == models.StateActive && f.onListActive != nil {
		f.onListActive()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if state == models.StateActive {
		return append([]string(nil), f.active...), nil
	}
	return append([]string(nil), f.canceled...), nil
}

func (f *fakeRemote) BatchGetConversations(_ context.Context, ids []string) ([]api.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	var out []api.Conversation
	for _, id := range ids {
		if c, ok := f.convs[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeRemote) ListArchivedConversationIDs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.archived, nil
}

func (f *fakeRemote) ListMessagesSince(_ context.Context, conversationID string, since *time.Time) ([]api.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messageCalls[conversationID]++
	f.since[conversationID] = since

	var out []api.Message
	for _, m := range f.messages[conversationID] {
		if since == nil || m.CreatedAt.After(*since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeRemote) ListImportantMessageIDs(_ context.Context, conversationID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.important[conversationID], nil
}

func (f *fakeRemote) calls(conversationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messageCalls[conversationID]
}

type fakeKeys struct {
	mu       sync.Mutex
	err      error
	recovers int
	added    []models.ConversationMember
}

func (f *fakeKeys) Recover(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovers++
	return 0, f.err
}

func (f *fakeKeys) AddMemberKey(_ context.Context, m models.ConversationMember) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.added = append(f.added, m)
	return true, nil
}

type fixture struct {
	store   *store.Store
	live    *fakeLive
	remote  *fakeRemote
	keys    *fakeKeys
	vault   *keyvault.Vault
	sess    *session.Session
	manager *Manager
	events  *eventLog
	orch    *Orchestrator
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) add(e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) types() []EventType {
	var out []EventType
	for _, e := range l.all() {
		out = append(out, e.Type)
	}
	return out
}

func newFixture(t *testing.T, opts ...OrchestratorOption) *fixture {
	t.Helper()

	f := &fixture{
		store:  store.New(cachetest.Open(t)),
		live:   newFakeLive(),
		remote: newFakeRemote(),
		keys:   &fakeKeys{},
		vault:  keyvault.New(),
		sess:   session.New(scope, session.StaticTokenSource("token")),
		events: &eventLog{},
	}
	f.manager = NewManager(f.live, f.store.Repositories, f.keys, f.remote, f.vault, f.sess, logging.Nop())
	opts = append([]OrchestratorOption{WithEventHandler(f.events.add)}, opts...)
	f.orch = NewOrchestrator(f.store, f.remote, f.keys, f.manager, f.sess, logging.Nop(), opts...)
	return f
}

func ptr[T any](v T) *T {
	return &v
}

func remoteMessage(id, conversationID string, createdAt time.Time) api.Message {
	return api.Message{
		ID:             id,
		ConversationID: conversationID,
		UserID:         "user-2",
		Content:        "ciphertext-" + id,
		Type:           "TEXT",
		Origin:         string(models.OriginUser),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}
