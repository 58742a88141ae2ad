// Package websocket streams change events to browser clients over WebSocket.
// Each connection is one broadcaster subscription.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/dispatcher"
	"github.com/garyjia/recruit-workflow/internal/domain/event"
)

// Subscriber is the part of the broadcaster a connection needs
type Subscriber interface {
	Subscribe(sessionID string, filter dispatcher.Filter) (*dispatcher.Subscription, error)
	Release(sub *dispatcher.Subscription)
}

// Config holds connection settings
type Config struct {
	// AllowedOrigins lists accepted Origin hosts; empty accepts any origin
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

// Frame is one server-to-client message
type Frame struct {
	Type      string             `json:"type"`
	SessionID string             `json:"session_id,omitempty"`
	Event     *event.ChangeEvent `json:"event,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

// Adapter upgrades HTTP requests and pumps subscription events to the socket
type Adapter struct {
	subscriber Subscriber
	upgrader   websocket.Upgrader
	config     Config
	logger     *zap.Logger
}

// NewAdapter creates a WebSocket adapter on top of the broadcaster
func NewAdapter(subscriber Subscriber, cfg Config, logger *zap.Logger) *Adapter {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}

	a := &Adapter{
		subscriber: subscriber,
		config:     cfg,
		logger:     logger,
	}
	a.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
	return a
}

func (a *Adapter) checkOrigin(r *http.Request) bool {
	if len(a.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(a.config.AllowedOrigins, u.Host) || slices.Contains(a.config.AllowedOrigins, origin)
}

// Serve upgrades the request and streams events matching filter until the client
// goes away, the subscription ends or ctx is cancelled. The upgrade error, if any,
// has already been written to the client.
func (a *Adapter) Serve(ctx context.Context, w http.ResponseWriter, r *http.Request, sessionID string, filter dispatcher.Filter) error {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("websocket upgrade: %w", err)
	}
	defer conn.Close()

	sub, err := a.subscriber.Subscribe(sessionID, filter)
	if err != nil {
		_ = a.closeWith(conn, websocket.CloseTryAgainLater, err.Error())
		return err
	}
	defer a.subscriber.Release(sub)

	a.logger.Info("WebSocket client connected",
		zap.String("session_id", sub.ID),
		zap.String("remote", r.RemoteAddr))

	if err := a.write(conn, Frame{Type: "subscribed", SessionID: sub.ID}); err != nil {
		return err
	}

	readDone := a.drainReads(conn)

	ping := time.NewTicker(a.config.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = a.write(conn, Frame{Type: "closed", Reason: "shutdown"})
			_ = a.closeWith(conn, websocket.CloseGoingAway, "shutdown")
			return nil

		case <-readDone:
			a.logger.Info("WebSocket client disconnected", zap.String("session_id", sub.ID))
			return nil

		case evt, open := <-sub.Events():
			if !open {
				reason := dispatcher.CloseReason(sub.Err())
				_ = a.write(conn, Frame{Type: "closed", Reason: reason})
				_ = a.closeWith(conn, websocket.CloseNormalClosure, reason)
				return nil
			}
			if err := a.write(conn, Frame{Type: evt.Type.String(), Event: evt}); err != nil {
				return err
			}

		case <-ping.C:
			deadline := time.Now().Add(a.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("websocket ping: %w", err)
			}
		}
	}
}

// drainReads consumes client frames so control messages are processed, and
// signals when the connection is gone. Clients have nothing to send.
func (a *Adapter) drainReads(conn *websocket.Conn) <-chan struct{} {
	done := make(chan struct{})
	conn.SetReadLimit(512)
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()
	return done
}

func (a *Adapter) write(conn *websocket.Conn, frame Frame) error {
	if err := conn.SetWriteDeadline(time.Now().Add(a.config.WriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (a *Adapter) closeWith(conn *websocket.Conn, code int, text string) error {
	msg := websocket.FormatCloseMessage(code, text)
	return conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(a.config.WriteTimeout))
}
