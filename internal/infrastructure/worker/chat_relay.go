package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/dispatcher"
	"github.com/garyjia/recruit-workflow/internal/application/port"
	"github.com/garyjia/recruit-workflow/internal/domain/event"
)

const chatRelaySession = "chat-relay"

// Subscriber is the part of the broadcaster the relay consumes
type Subscriber interface {
	Subscribe(sessionID string, filter dispatcher.Filter) (*dispatcher.Subscription, error)
	Unsubscribe(sessionID string)
}

// ChatRelay posts one chat line per change event. It is an ordinary broadcaster subscriber,
// so a slow chat API only costs the relay its own events.
type ChatRelay struct {
	subscriber Subscriber
	messenger  port.ChatMessenger
	chatID     string
	retry      *RetryStrategy
	logger     *zap.Logger

	sendTimeout time.Duration

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	sent   atomic.Int64
	failed atomic.Int64

	errMu   sync.RWMutex
	lastErr error
}

// NewChatRelay creates a relay posting to chatID
func NewChatRelay(subscriber Subscriber, messenger port.ChatMessenger, chatID string, logger *zap.Logger) *ChatRelay {
	return &ChatRelay{
		subscriber:  subscriber,
		messenger:   messenger,
		chatID:      chatID,
		retry:       NewRetryStrategy(),
		logger:      logger,
		sendTimeout: 10 * time.Second,
	}
}

// WithRetryStrategy replaces the default retry policy
func (r *ChatRelay) WithRetryStrategy(s *RetryStrategy) *ChatRelay {
	r.retry = s
	return r
}

// Name returns the worker name for identification
func (r *ChatRelay) Name() string {
	return "ChatRelay"
}

// Start subscribes to every change event and begins relaying
func (r *ChatRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("chat relay is already running")
	}
	if r.chatID == "" {
		return fmt.Errorf("chat relay needs a chat id")
	}

	sub, err := r.subscriber.Subscribe(chatRelaySession, dispatcher.All())
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.isRunning = true

	go r.loop(runCtx, sub)

	r.logger.Info("ChatRelay started", zap.String("chat_id", r.chatID))
	return nil
}

// Stop unsubscribes and waits for the relay loop to exit
func (r *ChatRelay) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	cancel, done := r.cancel, r.done
	r.mu.Unlock()

	cancel()
	r.subscriber.Unsubscribe(chatRelaySession)
	<-done

	r.logger.Info("ChatRelay stopped",
		zap.Int64("sent", r.sent.Load()),
		zap.Int64("failed", r.failed.Load()))
	return nil
}

// Healthy returns the last delivery error, if the most recent send failed
func (r *ChatRelay) Healthy() error {
	r.errMu.RLock()
	defer r.errMu.RUnlock()
	return r.lastErr
}

func (r *ChatRelay) loop(ctx context.Context, sub *dispatcher.Subscription) {
	defer close(r.done)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if ok {
				r.relay(ctx, evt)
				continue
			}
			if !errors.Is(sub.Err(), dispatcher.ErrSlowSubscriber) || ctx.Err() != nil {
				return
			}
			// Dropped for falling behind; events in between are lost
			r.logger.Warn("ChatRelay was dropped as a slow subscriber, resubscribing")
			next, err := r.subscriber.Subscribe(chatRelaySession, dispatcher.All())
			if err != nil {
				r.logger.Error("ChatRelay failed to resubscribe", zap.Error(err))
				return
			}
			sub = next
		}
	}
}

func (r *ChatRelay) relay(ctx context.Context, evt *event.ChangeEvent) {
	text := FormatChangeEvent(evt)

	err := r.retry.Do(ctx, func(ctx context.Context) error {
		sendCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
		return r.messenger.SendText(sendCtx, r.chatID, text)
	})
	if err != nil {
		r.failed.Add(1)
		r.setLastErr(err)
		r.logger.Error("Failed to relay change event",
			zap.String("event_id", evt.ID),
			zap.String("application_id", evt.ApplicationID),
			zap.Error(err))
		return
	}

	r.sent.Add(1)
	r.setLastErr(nil)
}

func (r *ChatRelay) setLastErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.lastErr = err
}

// FormatChangeEvent renders the chat line for an event
func FormatChangeEvent(evt *event.ChangeEvent) string {
	return fmt.Sprintf("Application %s: %s -> %s (%s by %s) at %s",
		evt.ApplicationID,
		evt.OldStatus,
		evt.NewStatus,
		evt.Action,
		evt.ActorRole,
		evt.Timestamp.UTC().Format(time.RFC3339))
}
