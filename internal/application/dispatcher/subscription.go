package dispatcher

import (
	"errors"
	"sync"
	"time"

	"github.com/garyjia/recruit-workflow/internal/domain/event"
)

var (
	// ErrSlowSubscriber ends a subscription whose consumer did not keep up
	ErrSlowSubscriber = errors.New("subscriber too slow")
	// ErrReplaced ends a subscription superseded by a newer one with the same session id
	ErrReplaced = errors.New("subscription replaced")
	// ErrClosed is returned once the broadcaster has stopped
	ErrClosed = errors.New("broadcaster closed")
)

// CloseReason names why a subscription ended, for clients
func CloseReason(err error) string {
	switch {
	case err == nil:
		return "unsubscribed"
	case errors.Is(err, ErrSlowSubscriber):
		return "slow_subscriber"
	case errors.Is(err, ErrReplaced):
		return "replaced"
	case errors.Is(err, ErrClosed):
		return "shutdown"
	default:
		return err.Error()
	}
}

// Subscription is one session's live feed. Events is closed when the subscription ends;
// Err then reports why (nil after a plain Unsubscribe).
type Subscription struct {
	ID        string
	CreatedAt time.Time

	filter Filter
	events chan *event.ChangeEvent
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	closed bool
	err    error
}

func newSubscription(id string, filter Filter, buffer int) *Subscription {
	if filter == nil {
		filter = All()
	}
	return &Subscription{
		ID:        id,
		CreatedAt: time.Now(),
		filter:    filter,
		events:    make(chan *event.ChangeEvent, buffer),
		done:      make(chan struct{}),
	}
}

// Events returns the delivery channel
func (s *Subscription) Events() <-chan *event.ChangeEvent {
	return s.events
}

// Done is closed when the subscription ends
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the subscription ended
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) matches(evt *event.ChangeEvent) bool {
	return s.filter(evt)
}

// offer attempts a send without waiting
func (s *Subscription) offer(evt *event.ChangeEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- evt:
		return true
	default:
		return false
	}
}

// deliver waits up to timeout for buffer space. Closing the subscription aborts the wait.
func (s *Subscription) deliver(evt *event.ChangeEvent, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	select {
	case s.events <- evt:
		return true
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// close ends the subscription once. done is closed before taking mu so a pending deliver returns.
func (s *Subscription) close(reason error) {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		s.err = reason
		close(s.events)
	})
}
