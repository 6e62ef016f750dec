package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dmitrijs2005/chatkeeper/internal/client/session"
	"github.com/dmitrijs2005/chatkeeper/internal/common"
	"github.com/dmitrijs2005/chatkeeper/internal/logging"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// ErrClosed is returned by operations on a closed Realtime.
var ErrClosed = errors.New("realtime link closed")

// Realtime link message types.
const (
	msgConnectionInit  = "connection_init"
	msgConnectionAck   = "connection_ack"
	msgConnectionError = "connection_error"
	msgStart           = "start"
	msgStop            = "stop"
	msgData            = "data"
	msgError           = "error"
	msgComplete        = "complete"
	msgKeepAlive       = "ka"
)

type message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	defaultAckTimeout   = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Subscription is one live stream. ID is the correlation id shared with
// the server.
type Subscription struct {
	ID string
	Op string

	cancel func() error
}

// NewSubscription wraps a cancel function as a Subscription.
func NewSubscription(id, op string, cancel func() error) *Subscription {
	return &Subscription{ID: id, Op: op, cancel: cancel}
}

// Unsubscribe stops the stream. Repeated calls are no-ops.
func (s *Subscription) Unsubscribe() error {
	if s == nil || s.cancel == nil {
		return nil
	}
	return s.cancel()
}

type liveSub struct {
	op      string
	onEvent func(json.RawMessage)
}

// Realtime owns the websocket link carrying live subscriptions.
type Realtime struct {
	url        string
	sess       *session.Session
	log        logging.Logger
	newBackoff func() retry.Backoff
	ackTimeout time.Duration

	life       context.Context
	cancelLife context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	stopRead   context.CancelFunc
	subs       map[string]*liveSub
	resetHooks []func(ctx context.Context)
	closed     bool
	// lost is set when the silent reset gave up; the next successful dial
	// counts as a rebuild and runs the reset hooks.
	lost bool
}

type RealtimeOption func(*Realtime)

// WithReconnectBackoff sets the backoff used by the silent reset.
func WithReconnectBackoff(f func() retry.Backoff) RealtimeOption {
	return func(r *Realtime) { r.newBackoff = f }
}

func WithRealtimeLogger(l logging.Logger) RealtimeOption {
	return func(r *Realtime) { r.log = l }
}

func WithAckTimeout(d time.Duration) RealtimeOption {
	return func(r *Realtime) { r.ackTimeout = d }
}

// DefaultReconnectBackoff is exponential from 500ms, capped at 30s per wait
// and 5 minutes in total.
func DefaultReconnectBackoff() retry.Backoff {
	b := retry.NewExponential(500 * time.Millisecond)
	b = retry.WithCappedDuration(30*time.Second, b)
	return retry.WithMaxDuration(5*time.Minute, b)
}

func NewRealtime(url string, sess *session.Session, opts ...RealtimeOption) *Realtime {
	life, cancel := context.WithCancel(context.Background())
	r := &Realtime{
		url:        url,
		sess:       sess,
		log:        logging.Nop(),
		newBackoff: DefaultReconnectBackoff,
		ackTimeout: defaultAckTimeout,
		life:       life,
		cancelLife: cancel,
		subs:       make(map[string]*liveSub),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("component", "realtime")
	return r
}

// OnReset registers a hook run after the link was rebuilt, either by a
// forced reconnect or by the silent reset. Subscriptions registered before
// the rebuild are gone at that point and must be opened again.
func (r *Realtime) OnReset(hook func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resetHooks = append(r.resetHooks, hook)
}

// Connect establishes the link. Without force it is a no-op on a live link;
// with force the link is torn down and rebuilt. Reset hooks run whenever an
// earlier link is replaced, including one the silent reset gave up on.
func (r *Realtime) Connect(ctx context.Context, force bool) error {
	rebuilt, err := r.connect(ctx, force)
	if rebuilt {
		r.runResetHooks(ctx)
	}
	return err
}

// connect dials under the lock and reports whether the new link replaced
// an earlier one.
func (r *Realtime) connect(ctx context.Context, force bool) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrClosed
	}
	if r.conn != nil && !force {
		return false, nil
	}
	hadLink := r.conn != nil || r.lost
	r.teardownLocked()
	if err := r.dialLocked(ctx); err != nil {
		return false, err
	}
	r.lost = false
	return hadLink, nil
}

// Reconnect tears the link down and connects again.
func (r *Realtime) Reconnect(ctx context.Context) error {
	return r.Connect(ctx, true)
}

// Subscribe opens a stream for op, connecting first if needed. onEvent runs
// on the link's read goroutine; a panic in it is logged and swallowed.
func (r *Realtime) Subscribe(ctx context.Context, op string, vars map[string]any, onEvent func(json.RawMessage)) (*Subscription, error) {
	rebuilt, err := r.connect(ctx, false)
	if err != nil {
		return nil, err
	}
	if rebuilt {
		// Hooks may subscribe again; the caller can hold locks they need.
		go r.runResetHooks(r.life)
	}

	payload, err := json.Marshal(map[string]any{"operation": op, "variables": vars})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", op, err)
	}

	id := uuid.NewString()

	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return nil, &TransportError{Kind: KindNetwork, Op: op, Retryable: true, Err: errors.New("link is down")}
	}
	r.subs[id] = &liveSub{op: op, onEvent: onEvent}
	r.mu.Unlock()

	if err := wsjson.Write(ctx, conn, message{Type: msgStart, ID: id, Payload: payload}); err != nil {
		r.forget(id)
		return nil, &TransportError{Kind: KindNetwork, Op: op, Retryable: true, Err: err}
	}

	return NewSubscription(id, op, func() error { return r.stop(id, op) }), nil
}

// Active returns the number of open streams.
func (r *Realtime) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.subs)
}

// Close tears the link down for good.
func (r *Realtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true
	r.teardownLocked()
	r.cancelLife()
	return nil
}

func (r *Realtime) stop(id, op string) error {
	r.mu.Lock()
	_, ok := r.subs[id]
	delete(r.subs, id)
	conn := r.conn
	r.mu.Unlock()

	if !ok || conn == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(r.life, defaultWriteTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, message{Type: msgStop, ID: id}); err != nil {
		return &TransportError{Kind: KindNetwork, Op: op, Retryable: true, Err: err}
	}
	return nil
}

func (r *Realtime) forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subs, id)
}

func (r *Realtime) dialLocked(ctx context.Context) error {
	token, err := r.sess.Token(ctx)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set(common.AccessTokenHeaderName, token)

	conn, resp, err := websocket.Dial(ctx, r.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return &TransportError{Kind: KindUnauthorized, Op: "connect", Retryable: true, Err: err}
		}
		return &TransportError{Kind: KindNetwork, Op: "connect", Retryable: true, Err: err}
	}

	if err := r.handshake(ctx, conn, token); err != nil {
		_ = conn.CloseNow()
		return err
	}

	readCtx, stopRead := context.WithCancel(r.life)
	r.conn = conn
	r.stopRead = stopRead
	go r.readLoop(readCtx, conn)

	r.log.Debug(ctx, "realtime link established")
	return nil
}

func (r *Realtime) handshake(ctx context.Context, conn *websocket.Conn, token string) error {
	init, _ := json.Marshal(map[string]string{common.AccessTokenHeaderName: token})
	if err := wsjson.Write(ctx, conn, message{Type: msgConnectionInit, Payload: init}); err != nil {
		return &TransportError{Kind: KindNetwork, Op: "connect", Retryable: true, Err: err}
	}

	ackCtx, cancel := context.WithTimeout(ctx, r.ackTimeout)
	defer cancel()

	for {
		var msg message
		if err := wsjson.Read(ackCtx, conn, &msg); err != nil {
			return &TransportError{Kind: KindNetwork, Op: "connect", Retryable: true, Err: err}
		}
		switch msg.Type {
		case msgConnectionAck:
			return nil
		case msgKeepAlive:
			continue
		case msgConnectionError:
			return &TransportError{Kind: KindUnauthorized, Op: "connect", Retryable: true, Err: fmt.Errorf("connection rejected: %s", msg.Payload)}
		default:
			return &TransportError{Kind: KindRemote, Op: "connect", Err: fmt.Errorf("unexpected %q before ack", msg.Type)}
		}
	}
}

// teardownLocked drops the current link. Open streams die with it.
func (r *Realtime) teardownLocked() {
	if r.conn == nil {
		return
	}
	r.stopRead()
	_ = r.conn.CloseNow()
	r.conn = nil
	r.stopRead = nil
	r.subs = make(map[string]*liveSub)
}

func (r *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var msg message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn(r.life, "realtime link dropped", "error", err)
			r.silentReset(conn)
			return
		}
		r.dispatch(ctx, msg)
	}
}

func (r *Realtime) dispatch(ctx context.Context, msg message) {
	switch msg.Type {
	case msgData:
		r.mu.Lock()
		sub := r.subs[msg.ID]
		r.mu.Unlock()
		if sub == nil {
			r.log.Debug(ctx, "event for unknown subscription", "id", msg.ID)
			return
		}
		r.deliver(ctx, msg.ID, sub, msg.Payload)
	case msgError:
		r.log.Warn(ctx, "subscription error", "id", msg.ID, "payload", string(msg.Payload))
	case msgComplete:
		r.forget(msg.ID)
	case msgKeepAlive:
	default:
		r.log.Debug(ctx, "unexpected realtime message", "type", msg.Type)
	}
}

func (r *Realtime) deliver(ctx context.Context, id string, sub *liveSub, payload json.RawMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error(ctx, "subscription handler panicked", "id", id, "op", sub.op, "panic", p)
		}
	}()
	sub.onEvent(payload)
}

// silentReset rebuilds a dropped link with backoff and runs the reset
// hooks. Callers holding subscriptions are not notified of the drop itself.
func (r *Realtime) silentReset(stale *websocket.Conn) {
	r.mu.Lock()
	if r.closed || r.conn != stale {
		r.mu.Unlock()
		return
	}
	r.teardownLocked()
	r.mu.Unlock()

	refreshed := false
	err := retry.Do(r.life, r.newBackoff(), func(ctx context.Context) error {
		err := r.Connect(ctx, false)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrClosed), errors.Is(err, common.ErrPrecondition):
			return err
		case IsUnauthorized(err) && !refreshed && r.sess.Tokens() != nil:
			refreshed = true
			if _, rerr := r.sess.Tokens().Refresh(ctx); rerr != nil {
				return rerr
			}
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		r.mu.Lock()
		recovered := r.conn != nil
		r.lost = !recovered
		r.mu.Unlock()
		if !recovered {
			r.log.Error(r.life, "realtime link could not be rebuilt", "error", err)
			return
		}
	}

	r.log.Info(r.life, "realtime link rebuilt")
	r.runResetHooks(r.life)
}

func (r *Realtime) runResetHooks(ctx context.Context) {
	r.mu.Lock()
	hooks := append([]func(context.Context){}, r.resetHooks...)
	r.mu.Unlock()

	for _, h := range hooks {
		h(ctx)
	}
}
