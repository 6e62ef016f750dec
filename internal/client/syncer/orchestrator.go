package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/chatkeeper/internal/client/api"
	"github.com/dmitrijs2005/chatkeeper/internal/client/convert"
	"github.com/dmitrijs2005/chatkeeper/internal/client/metrics"
	"github.com/dmitrijs2005/chatkeeper/internal/client/models"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/client/store"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
)

// DefaultInterval is the delay between two cycles.
const DefaultInterval = 60 * time.Second

// State of the orchestrator.
type State string

const (
	StateIdle      State = "IDLE"
	StateSyncing   State = "SYNCING"
	StateSynced    State = "SYNCED"
	StateSyncError State = "SYNC_ERROR"
)

type EventType string

const (
	EventInitialSyncComplete EventType = "initial-sync-complete"
	EventSyncProgressed      EventType = "sync-progressed"
	EventSyncError           EventType = "sync-error"
)

// Event is emitted at the end of every cycle. Cycle is the number of
// successful cycles so far.
type Event struct {
	Type  EventType
	Cycle int
	Err   error
}

// Remote is the part of the conversation service a cycle reads.
type Remote interface {
	ListConversationIDs(ctx context.Context, state models.ActivityState) ([]string, error)
	BatchGetConversations(ctx context.Context, ids []string) ([]api.Conversation, error)
	ListArchivedConversationIDs(ctx context.Context) ([]string, error)
	ListMessagesSince(ctx context.Context, conversationID string, since *time.Time) ([]api.Message, error)
	ListImportantMessageIDs(ctx context.Context, conversationID string) ([]string, error)
}

// KeyRecoverer rebuilds every conversation key.
type KeyRecoverer interface {
	Recover(ctx context.Context) (int, error)
}

// Subscriptions is what a cycle needs from the subscription manager.
type Subscriptions interface {
	Mark() uint64
	Seed(ctx context.Context, mark uint64, active, canceled []models.Conversation) error
	Reconcile(ctx context.Context, mark uint64, active []models.Conversation) (attached, detached int, err error)
}

type OrchestratorOption func(*Orchestrator)

func WithInterval(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) { o.interval = d }
}

// WithEventHandler sets the receiver of cycle events. It is called
// synchronously from the cycle.
func WithEventHandler(h func(Event)) OrchestratorOption {
	return func(o *Orchestrator) { o.onEvent = h }
}

func WithMetrics(m *metrics.Metrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs the reconciliation cycle:
//
//  1. list active and canceled conversation ids
//  2. resolve them into conversations
//  3. upsert the conversations, tagged with the archived set
//  4. recover every conversation key
//  5. fetch the messages newer than the cached ones
//  6. seed the index on the first cycle, diff it on later ones
//  7. report progress
//
// A failing step aborts the cycle before the index is touched.
type Orchestrator struct {
	store   *store.Store
	remote  Remote
	keys    KeyRecoverer
	subs    Subscriptions
	sess    *session.Session
	log     logging.Logger
	metrics *metrics.Metrics

	interval time.Duration
	onEvent  func(Event)

	// cycleMu keeps cycles from overlapping.
	cycleMu sync.Mutex

	mu      sync.Mutex
	state   State
	counter int
}

// NewOrchestrator wires a cycle. A nil st means storage is disabled; every
// cycle then fails with common.ErrPrecondition.
func NewOrchestrator(st *store.Store, remote Remote, keys KeyRecoverer, subs Subscriptions,
	sess *session.Session, log logging.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    st,
		remote:   remote,
		keys:     keys,
		subs:     subs,
		sess:     sess,
		log:      log.With("component", "sync"),
		interval: DefaultInterval,
		onEvent:  func(Event) {},
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Cycles returns the number of successful cycles.
func (o *Orchestrator) Cycles() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counter
}

// Run executes cycles until ctx is done, waiting the interval after each
// one whatever its outcome.
func (o *Orchestrator) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		_ = o.RunCycle(ctx)
		timer.Reset(o.interval)
	}
}

// RunCycle executes one cycle. Its outcome is also reported as an event.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	if err := o.preconditions(); err != nil {
		o.finish(ctx, err, 0)
		return err
	}

	o.setState(StateSyncing)
	start := time.Now()
	err := o.cycle(ctx)
	o.finish(ctx, err, time.Since(start))
	return err
}

func (o *Orchestrator) preconditions() error {
	if o.store == nil {
		return fmt.Errorf("%w: local storage is disabled", common.ErrPrecondition)
	}
	if !o.sess.Authenticated() {
		return fmt.Errorf("%w: no authenticated account", common.ErrPrecondition)
	}
	return nil
}

func (o *Orchestrator) finish(ctx context.Context, err error, took time.Duration) {
	o.metrics.RecordSyncCycle(err, took)

	o.mu.Lock()
	if err != nil {
		o.state = StateSyncError
	} else {
		o.state = StateSynced
		o.counter++
	}
	counter := o.counter
	o.mu.Unlock()

	if err != nil {
		o.log.Error(ctx, "sync cycle failed", "error", err)
		o.onEvent(Event{Type: EventSyncError, Cycle: counter, Err: err})
		return
	}
	o.log.Debug(ctx, "sync cycle complete", "cycle", counter, "took", took)
	o.onEvent(Event{Type: EventSyncProgressed, Cycle: counter})
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state = s
}

func (o *Orchestrator) cycle(ctx context.Context) error {
	mark := o.subs.Mark()

	activeIDs, canceledIDs, err := o.listIDs(ctx)
	if err != nil {
		return err
	}

	active, canceled, err := o.resolve(ctx, activeIDs, canceledIDs)
	if err != nil {
		return err
	}

	n, err := o.keys.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover keys: %w", err)
	}
	o.metrics.SetRecoveredKeys(n)

	for _, c := range append(append([]models.Conversation(nil), active...), canceled...) {
		if err := o.recoverMessages(ctx, c); err != nil {
			return err
		}
	}

	if o.Cycles() == 0 {
		if err := o.subs.Seed(ctx, mark, active, canceled); err != nil {
			return fmt.Errorf("seed index: %w", err)
		}
		o.onEvent(Event{Type: EventInitialSyncComplete})
		return nil
	}

	attached, detached, err := o.subs.Reconcile(ctx, mark, active)
	if attached > 0 || detached > 0 {
		o.log.Info(ctx, "subscriptions reconciled", "attached", attached, "detached", detached)
	}
	if err != nil {
		return fmt.Errorf("reconcile index: %w", err)
	}
	return nil
}

// listIDs returns both membership classes. An id in both counts as active.
func (o *Orchestrator) listIDs(ctx context.Context) (active, canceled []string, err error) {
	active, err = o.remote.ListConversationIDs(ctx, models.StateActive)
	if err != nil {
		return nil, nil, fmt.Errorf("list active conversations: %w", err)
	}
	canceled, err = o.remote.ListConversationIDs(ctx, models.StateCanceled)
	if err != nil {
		return nil, nil, fmt.Errorf("list canceled conversations: %w", err)
	}

	active = api.Dedup(active)
	isActive := convert.Set(active)
	var rest []string
	for _, id := range api.Dedup(canceled) {
		if _, ok := isActive[id]; !ok {
			rest = append(rest, id)
		}
	}
	return active, rest, nil
}

// resolve fetches and stores the conversations in one transaction and
// splits them back into the two classes.
func (o *Orchestrator) resolve(ctx context.Context, activeIDs, canceledIDs []string) (active, canceled []models.Conversation, err error) {
	all := append(append([]string(nil), activeIDs...), canceledIDs...)
	remote, err := o.remote.BatchGetConversations(ctx, all)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve conversations: %w", err)
	}
	archived, err := o.remote.ListArchivedConversationIDs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list archived conversations: %w", err)
	}

	convs := convert.Conversations(o.sess.Scope(), remote, archived)
	err = o.store.WithTx(ctx, func(ctx context.Context, repos *store.Repositories) error {
		return repos.Conversations.UpsertMany(ctx, convs)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("store conversations: %w", err)
	}

	isActive := convert.Set(activeIDs)
	for _, c := range convs {
		if _, ok := isActive[c.ID]; ok {
			active = append(active, c)
		} else {
			canceled = append(canceled, c)
		}
	}
	return active, canceled, nil
}

// recoverMessages fetches what the cache misses of conv. The baseline is
// the newest cached user message; system placeholders do not count.
func (o *Orchestrator) recoverMessages(ctx context.Context, conv models.Conversation) error {
	if conv.LastMessageAt == nil {
		return nil
	}

	var since *time.Time
	latest, err := o.store.Messages.LatestUserMessage(ctx, conv.Scope, conv.ID)
	switch {
	case err == nil:
		if !conv.LastMessageAt.After(latest.CreatedAt) {
			return nil
		}
		since = &latest.CreatedAt
	case errors.Is(err, common.ErrorNotFound):
	default:
		return fmt.Errorf("latest message of %s: %w", conv.ID, err)
	}

	msgs, err := o.remote.ListMessagesSince(ctx, conv.ID, since)
	if err != nil {
		return fmt.Errorf("list messages of %s: %w", conv.ID, err)
	}
	if len(msgs) == 0 {
		return nil
	}
	important, err := o.remote.ListImportantMessageIDs(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("list important messages of %s: %w", conv.ID, err)
	}

	rows := convert.Messages(conv.Scope, msgs, important)
	err = o.store.WithTx(ctx, func(ctx context.Context, repos *store.Repositories) error {
		return repos.Messages.UpsertMany(ctx, rows)
	})
	if err != nil {
		return fmt.Errorf("store messages of %s: %w", conv.ID, err)
	}
	o.log.Debug(ctx, "messages recovered", "conversation_id", conv.ID, "count", len(rows))
	return nil
}
