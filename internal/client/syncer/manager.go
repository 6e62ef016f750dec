package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/client"
	"github.com/dmitrijs2005/chatkeeper/internal/client/keyvault"
	"github.com/dmitrijs2005/chatkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/client/store"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
)

// Live is the realtime side of the transport.
type Live interface {
	Subscribe(ctx context.Context, op string, vars map[string]any, onEvent func(json.RawMessage)) (*client.Subscription, error)
	OnReset(hook func(ctx context.Context))
	// Connect brings the link up if it is down. Rebuilding a link that was
	// lost runs the reset hooks.
	Connect(ctx context.Context, force bool) error
}

// MemberKeys unwraps the conversation key carried by a membership record.
type MemberKeys interface {
	AddMemberKey(ctx context.Context, member models.ConversationMember) (bool, error)
}

// ConversationFetcher resolves conversation ids.
type ConversationFetcher interface {
	BatchGetConversations(ctx context.Context, ids []string) ([]api.Conversation, error)
}

// Manager owns the conversation index and the live subscriptions. For every
// ACTIVE index entry it holds exactly one handle per tracked event type,
// and none for any other entry.
type Manager struct {
	live    Live
	repos   *store.Repositories
	keys    MemberKeys
	fetch   ConversationFetcher
	vault   *keyvault.Vault
	sess    *session.Session
	log     logging.Logger
	metrics *metrics.Metrics
	apply   map[models.EventType]applyFunc

	startOnce sync.Once

	mu      sync.Mutex
	life    context.Context
	index   map[string]*models.IndexEntry
	handles map[string][]models.SubscriptionHandle
	global  *models.SubscriptionHandle
	// gen counts attach and detach operations; changed holds the gen of the
	// last one per conversation.
	gen     uint64
	changed map[string]uint64
}

type ManagerOption func(*Manager)

func WithManagerMetrics(m *metrics.Metrics) ManagerOption {
	return func(mg *Manager) { mg.metrics = m }
}

func NewManager(live Live, repos *store.Repositories, keys MemberKeys, fetch ConversationFetcher,
	vault *keyvault.Vault, sess *session.Session, log logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		live:    live,
		repos:   repos,
		keys:    keys,
		fetch:   fetch,
		vault:   vault,
		sess:    sess,
		log:     log.With("component", "subscriptions"),
		life:    context.Background(),
		index:   make(map[string]*models.IndexEntry),
		handles: make(map[string][]models.SubscriptionHandle),
		changed: make(map[string]uint64),
	}
	m.apply = m.appliers()
	for _, o := range opts {
		o(m)
	}
	return m
}

// Start opens the account-wide "member added" stream and hooks the
// manager into link resets. Live handlers run with ctx.
func (m *Manager) Start(ctx context.Context) error {
	var err error
	m.startOnce.Do(func() {
		m.mu.Lock()
		m.life = ctx
		m.mu.Unlock()

		m.live.OnReset(m.ResubscribeAll)
		err = m.openGlobal(ctx)
	})
	return err
}

// Attach opens every tracked stream of conv and marks it ACTIVE. An already
// active conversation is detached first, so its handle set is replaced and
// never duplicated. On failure no handle of conv is left open.
func (m *Manager) Attach(ctx context.Context, conv models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.attachLocked(ctx, conv)
}

// Detach closes every stream of conversationID and marks it CANCELED.
// Unsubscribe failures are logged, never returned.
func (m *Manager) Detach(ctx context.Context, conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.detachLocked(ctx, conversationID)
}

// Mark returns the current change generation. A cycle takes it before
// listing conversations and hands it to Seed or Reconcile.
func (m *Manager) Mark() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Seed builds the index on the first cycle: active conversations are
// attached, canceled ones are recorded without streams. Conversations the
// live path attached or detached after mark keep their state.
func (m *Manager) Seed(ctx context.Context, mark uint64, active, canceled []models.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for _, c := range canceled {
		if m.changedSince(c.ID, mark) {
			continue
		}
		m.detachLocked(ctx, c.ID)
		m.index[c.ID] = &models.IndexEntry{ConversationID: c.ID, Conversation: c, State: models.StateCanceled}
	}
	for _, c := range active {
		if m.changedSince(c.ID, mark) {
			continue
		}
		if err := m.attachLocked(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reconcile diffs active against the index: conversations newly present
// are attached, active ones no longer present are detached. Snapshots of
// conversations that stay active are refreshed. Conversations changed by
// the live path after mark are left alone, since active predates them.
//
// A realtime link that gave up reconnecting is brought back first, which
// reopens the streams of every active conversation.
func (m *Manager) Reconcile(ctx context.Context, mark uint64, active []models.Conversation) (attached, detached int, err error) {
	if cerr := m.live.Connect(ctx, false); cerr != nil {
		m.log.Warn(ctx, "realtime link is down", "error", cerr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	present := make(map[string]struct{}, len(active))
	var errs []error
	for _, c := range active {
		present[c.ID] = struct{}{}
		if m.changedSince(c.ID, mark) {
			continue
		}
		if e, ok := m.index[c.ID]; ok && e.State == models.StateActive {
			e.Conversation = c
			continue
		}
		if aerr := m.attachLocked(ctx, c); aerr != nil {
			errs = append(errs, aerr)
			continue
		}
		attached++
	}

	for id, e := range m.index {
		if _, ok := present[id]; ok || e.State != models.StateActive || m.changedSince(id, mark) {
			continue
		}
		m.detachLocked(ctx, id)
		detached++
	}

	return attached, detached, errors.Join(errs...)
}

func (m *Manager) changedSince(conversationID string, mark uint64) bool {
	return m.changed[conversationID] > mark
}

func (m *Manager) touchLocked(conversationID string) {
	m.gen++
	m.changed[conversationID] = m.gen
}

// ResubscribeAll reopens every stream after the realtime link was rebuilt.
// Stale handles are released first; for streams of the old link that is a
// no-op.
func (m *Manager) ResubscribeAll(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global != nil {
		_ = m.global.Unsubscribe()
		m.global = nil
	}
	if err := m.openGlobalLocked(ctx); err != nil {
		m.log.Error(ctx, "could not reopen member stream", "error", err)
	}

	for id, e := range m.index {
		if e.State != models.StateActive {
			continue
		}
		for _, h := range m.handles[id] {
			_ = h.Unsubscribe()
		}
		delete(m.handles, id)

		handles, err := m.open(ctx, id)
		if err != nil {
			m.log.Error(ctx, "could not resubscribe conversation", "conversation_id", id, "error", err)
			e.State = models.StateCanceled
			continue
		}
		m.handles[id] = handles
	}
	m.metrics.SetActiveSubscriptions(m.countLocked())
	m.log.Info(ctx, "subscriptions restored", "handles", m.countLocked())
}

// Close drops every stream, including the member stream.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id := range m.handles {
		m.detachLocked(ctx, id)
	}
	if m.global != nil {
		if err := m.global.Unsubscribe(); err != nil {
			m.log.Warn(ctx, "unsubscribe failed", "event", m.global.EventType, "error", err)
		}
		m.global = nil
	}
}

// Index returns a snapshot of the conversation index sorted by id.
func (m *Manager) Index() []models.IndexEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.IndexEntry, 0, len(m.index))
	for _, e := range m.index {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}

// Entry returns the index entry of conversationID.
func (m *Manager) Entry(conversationID string) (models.IndexEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.index[conversationID]
	if !ok {
		return models.IndexEntry{}, false
	}
	return *e, true
}

// Handles returns the live handles of conversationID.
func (m *Manager) Handles(conversationID string) []models.SubscriptionHandle {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]models.SubscriptionHandle(nil), m.handles[conversationID]...)
}

// HandleCount returns the number of per-conversation handles.
func (m *Manager) HandleCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.countLocked()
}

func (m *Manager) countLocked() int {
	n := 0
	for _, hs := range m.handles {
		n += len(hs)
	}
	return n
}

func (m *Manager) attachLocked(ctx context.Context, conv models.Conversation) error {
	if e, ok := m.index[conv.ID]; ok && e.State == models.StateActive {
		m.detachLocked(ctx, conv.ID)
	}

	handles, err := m.open(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("attach %s: %w", conv.ID, err)
	}

	m.handles[conv.ID] = handles
	m.index[conv.ID] = &models.IndexEntry{ConversationID: conv.ID, Conversation: conv, State: models.StateActive}
	m.touchLocked(conv.ID)
	m.metrics.SetActiveSubscriptions(m.countLocked())
	m.log.Debug(ctx, "conversation attached", "conversation_id", conv.ID)
	return nil
}

func (m *Manager) detachLocked(ctx context.Context, conversationID string) {
	for _, h := range m.handles[conversationID] {
		if err := h.Unsubscribe(); err != nil {
			m.log.Warn(ctx, "unsubscribe failed", "conversation_id", conversationID, "event", h.EventType, "error", err)
		}
	}
	delete(m.handles, conversationID)

	if e, ok := m.index[conversationID]; ok {
		e.State = models.StateCanceled
	}
	m.touchLocked(conversationID)
	m.metrics.SetActiveSubscriptions(m.countLocked())
}

// open subscribes every tracked event type of one conversation. It is all
// or nothing.
func (m *Manager) open(ctx context.Context, conversationID string) ([]models.SubscriptionHandle, error) {
	handles := make([]models.SubscriptionHandle, 0, len(models.TrackedEventTypes))
	for _, et := range models.TrackedEventTypes {
		sub, err := m.live.Subscribe(ctx, string(et), map[string]any{"conversationId": conversationID},
			m.handler(et, conversationID))
		if err != nil {
			for _, h := range handles {
				_ = h.Unsubscribe()
			}
			return nil, fmt.Errorf("subscribe %s: %w", et, err)
		}
		handles = append(handles, models.SubscriptionHandle{
			EventType:      et,
			ConversationID: conversationID,
			CorrelationID:  sub.ID,
			Unsubscribe:    sub.Unsubscribe,
		})
	}
	return handles, nil
}

func (m *Manager) openGlobal(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.openGlobalLocked(ctx)
}

func (m *Manager) openGlobalLocked(ctx context.Context) error {
	vars := map[string]any{"userId": m.sess.Scope().AccountID}
	sub, err := m.live.Subscribe(ctx, string(models.EventMemberAdded), vars, m.handler(models.EventMemberAdded, ""))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", models.EventMemberAdded, err)
	}
	m.global = &models.SubscriptionHandle{
		EventType:     models.EventMemberAdded,
		CorrelationID: sub.ID,
		Unsubscribe:   sub.Unsubscribe,
	}
	return nil
}

// handler wraps the applier of et so that no failure or panic escapes to
// the realtime link.
func (m *Manager) handler(et models.EventType, conversationID string) func(json.RawMessage) {
	return func(raw json.RawMessage) {
		m.mu.Lock()
		ctx := m.life
		m.mu.Unlock()

		err := m.safeApply(ctx, et, conversationID, raw)
		m.metrics.RecordLiveEvent(string(et), err)
		if err != nil {
			m.log.Warn(ctx, "live event not applied", "event", et, "conversation_id", conversationID, "error", err)
		}
	}
}

func (m *Manager) safeApply(ctx context.Context, et models.EventType, conversationID string, raw json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panicked: %v", p)
		}
	}()

	apply, ok := m.apply[et]
	if !ok {
		return fmt.Errorf("no handler for %s", et)
	}
	return apply(ctx, conversationID, raw)
}
