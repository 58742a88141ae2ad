// Package dispatcher fans committed change events out to live subscribers.
// Delivery is at-most-once and nothing is persisted.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/recruit-workflow/internal/domain/event"
)

// Broadcaster publishes change events to subscribers chosen by filter
type Broadcaster interface {
	// Subscribe registers a session. An empty sessionID gets a generated one; an existing
	// sessionID has its previous subscription ended with ErrReplaced.
	Subscribe(sessionID string, filter Filter) (*Subscription, error)

	// Unsubscribe ends a session's subscription. Unknown ids are ignored.
	Unsubscribe(sessionID string)

	// Release ends sub only if it is still the session's current subscription,
	// leaving a replacement untouched
	Release(sub *Subscription)

	// Publish queues an event for delivery and never waits on subscribers
	Publish(ctx context.Context, evt *event.ChangeEvent) error

	// SubscriberCount returns the number of live subscriptions
	SubscriberCount() int

	// Start launches the delivery loop
	Start(ctx context.Context) error

	// Stop ends every subscription and the delivery loop
	Stop() error

	// Name identifies the broadcaster as a worker
	Name() string
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Defaults
const (
	DefaultSendTimeout      = 250 * time.Millisecond
	DefaultSubscriberBuffer = 16
	DefaultInboxSize        = 1024
)

// broadcaster is the concrete implementation of Broadcaster
type broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	logger        Logger

	sendTimeout time.Duration
	buffer      int

	inbox   chan *event.ChangeEvent
	quit    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Option configures the broadcaster
type Option func(*broadcaster)

// WithLogger sets a logger for the broadcaster
func WithLogger(logger Logger) Option {
	return func(b *broadcaster) {
		b.logger = logger
	}
}

// WithSendTimeout bounds how long one subscriber may hold up a delivery
func WithSendTimeout(d time.Duration) Option {
	return func(b *broadcaster) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithSubscriberBuffer sets the per-subscription channel capacity
func WithSubscriberBuffer(n int) Option {
	return func(b *broadcaster) {
		if n >= 0 {
			b.buffer = n
		}
	}
}

// WithInboxSize sets how many published events may wait for the delivery loop
func WithInboxSize(n int) Option {
	return func(b *broadcaster) {
		if n > 0 {
			b.inbox = make(chan *event.ChangeEvent, n)
		}
	}
}

// NewBroadcaster creates a broadcaster. Call Start before expecting deliveries.
func NewBroadcaster(opts ...Option) Broadcaster {
	b := &broadcaster{
		subscriptions: make(map[string]*Subscription),
		sendTimeout:   DefaultSendTimeout,
		buffer:        DefaultSubscriberBuffer,
		inbox:         make(chan *event.ChangeEvent, DefaultInboxSize),
		quit:          make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *broadcaster) Name() string {
	return "broadcaster"
}

// Subscribe registers a session with a filter
func (b *broadcaster) Subscribe(sessionID string, filter Filter) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	sub := newSubscription(sessionID, filter, b.buffer)

	b.mu.Lock()
	previous := b.subscriptions[sessionID]
	b.subscriptions[sessionID] = sub
	count := len(b.subscriptions)
	b.mu.Unlock()

	if previous != nil {
		previous.close(ErrReplaced)
	}

	b.info("Subscriber registered",
		"session_id", sessionID,
		"subscribers", count,
	)

	return sub, nil
}

// Unsubscribe removes a session
func (b *broadcaster) Unsubscribe(sessionID string) {
	b.remove(sessionID, nil, nil)
}

// Release removes sub unless it was already replaced or dropped
func (b *broadcaster) Release(sub *Subscription) {
	if sub == nil {
		return
	}
	b.remove(sub.ID, sub, nil)
}

// remove ends the session's subscription. When expected is set, only that exact
// subscription is removed so a replacement is left alone.
func (b *broadcaster) remove(sessionID string, expected *Subscription, reason error) {
	b.mu.Lock()
	sub, ok := b.subscriptions[sessionID]
	if !ok || (expected != nil && sub != expected) {
		b.mu.Unlock()
		return
	}
	delete(b.subscriptions, sessionID)
	count := len(b.subscriptions)
	b.mu.Unlock()

	sub.close(reason)

	b.info("Subscriber removed",
		"session_id", sessionID,
		"subscribers", count,
		"reason", CloseReason(reason),
	)
}

// SubscriberCount returns the number of live subscriptions
func (b *broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Publish hands an event to the delivery loop without blocking. A full inbox drops the event.
func (b *broadcaster) Publish(ctx context.Context, evt *event.ChangeEvent) error {
	if evt == nil {
		return fmt.Errorf("event cannot be nil")
	}
	if b.closed.Load() {
		return ErrClosed
	}

	select {
	case b.inbox <- evt:
		return nil
	default:
		b.dropped.Add(1)
		b.logError("Delivery failure, inbox full",
			"event_id", evt.ID,
			"application_id", evt.ApplicationID,
		)
		return fmt.Errorf("broadcast inbox full, event %s dropped", evt.ID)
	}
}

// Start launches the delivery loop. It returns immediately.
func (b *broadcaster) Start(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if !b.started.CompareAndSwap(false, true) {
		return fmt.Errorf("broadcaster already started")
	}

	b.wg.Add(1)
	go b.run(ctx)

	b.info("Broadcaster started", "send_timeout", b.sendTimeout.String())
	return nil
}

// Stop ends the delivery loop and closes every subscription
func (b *broadcaster) Stop() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}

	close(b.quit)
	b.wg.Wait()

	b.mu.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[string]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close(ErrClosed)
	}

	b.info("Broadcaster stopped",
		"delivered", b.delivered.Load(),
		"dropped", b.dropped.Load(),
	)
	return nil
}

// run delivers events one at a time so each subscriber sees them in publish order
func (b *broadcaster) run(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.quit:
			return
		case evt := <-b.inbox:
			b.fanOut(evt)
		}
	}
}

// fanOut offers evt to every matching subscriber. Subscribers with a full buffer are
// waited on in parallel, each for at most sendTimeout, and dropped if they stay full.
func (b *broadcaster) fanOut(evt *event.ChangeEvent) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		if b.safeMatch(sub, evt) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	var pending []*Subscription
	for _, sub := range targets {
		if sub.offer(evt) {
			b.delivered.Add(1)
			continue
		}
		pending = append(pending, sub)
	}
	if len(pending) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, sub := range pending {
		wg.Add(1)
		go func(s *Subscription) {
			defer wg.Done()
			if s.deliver(evt, b.sendTimeout) {
				b.delivered.Add(1)
				return
			}
			b.dropped.Add(1)
			b.logError("Delivery failure, dropping slow subscriber",
				"session_id", s.ID,
				"event_id", evt.ID,
				"application_id", evt.ApplicationID,
			)
			b.remove(s.ID, s, ErrSlowSubscriber)
		}(sub)
	}
	wg.Wait()
}

// safeMatch runs a filter with panic recovery
func (b *broadcaster) safeMatch(sub *Subscription, evt *event.ChangeEvent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			b.logError("Filter panic recovered",
				"session_id", sub.ID,
				"event_id", evt.ID,
				"panic", r,
			)
		}
	}()
	return sub.matches(evt)
}

func (b *broadcaster) info(msg string, keysAndValues ...interface{}) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *broadcaster) logError(msg string, keysAndValues ...interface{}) {
	if b.logger != nil {
		b.logger.Error(msg, keysAndValues...)
	}
}
