// Package http exposes the workflow engine, audit trail and update stream over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/recruit-workflow/internal/application/dispatcher"
	"github.com/garyjia/recruit-workflow/internal/application/service"
	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
	"github.com/garyjia/recruit-workflow/internal/interfaces/websocket"
	"github.com/garyjia/recruit-workflow/pkg/utils"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host        string
	Port        int
	ReadTimeout time.Duration
	// RequestTimeout bounds every non-streaming request
	RequestTimeout time.Duration
	// Heartbeat is the keep-alive interval on event streams
	Heartbeat      time.Duration
	AllowedOrigins []string
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "0.0.0.0",
		Port:           8080,
		ReadTimeout:    30 * time.Second,
		RequestTimeout: 30 * time.Second,
		Heartbeat:      25 * time.Second,
	}
}

// Deps bundles what the server needs from the application layer
type Deps struct {
	Engine        workflow.WorkflowEngine
	Trail         service.AuditTrailService
	Exporter      HistoryExporter
	Broadcaster   dispatcher.Broadcaster
	Authenticator *Authenticator
	Health        HealthFunc
	Logger        *zap.Logger
}

// Server is the HTTP server adapter
type Server struct {
	config      ServerConfig
	httpServer  *http.Server
	router      *gin.Engine
	handlers    *Handlers
	broadcaster dispatcher.Broadcaster
	auth        *Authenticator
	ws          *websocket.Adapter
	logger      Logger

	// streams is cancelled on Stop so event streams end before Shutdown waits on them
	streams     context.Context
	stopStreams context.CancelFunc

	mu   sync.Mutex
	addr string
}

// NewServer creates a new HTTP server with the given dependencies
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.Heartbeat <= 0 {
		config.Heartbeat = DefaultServerConfig().Heartbeat
	}

	zl := deps.Logger
	if zl == nil {
		zl = zap.NewNop()
	}

	router := gin.New()
	logger := newKVLogger(zl)
	streams, stopStreams := context.WithCancel(context.Background())

	server := &Server{
		config:      config,
		router:      router,
		handlers:    NewHandlers(deps.Engine, deps.Trail, deps.Exporter, deps.Health, logger),
		broadcaster: deps.Broadcaster,
		auth:        deps.Authenticator,
		ws: websocket.NewAdapter(deps.Broadcaster, websocket.Config{
			AllowedOrigins: config.AllowedOrigins,
			PingInterval:   config.Heartbeat,
		}, zl.Named("websocket")),
		logger:      logger,
		streams:     streams,
		stopStreams: stopStreams,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

const requestIDHeader = "X-Request-ID"

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery(), s.accessLog())
}

// accessLog tags each request with an ID, echoed in X-Request-ID, and logs it
// once it completes. Server errors are logged at error level; health probes are not logged.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)

		start := time.Now()
		c.Next()

		if c.FullPath() == "/health" {
			return
		}
		kv := []interface{}{
			"request_id", id,
			"method", c.Request.Method,
			"route", c.FullPath(),
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error("HTTP request failed", kv...)
			return
		}
		s.logger.Info("HTTP request", kv...)
	}
}

// requestTimeout puts a deadline on the request context
func requestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	h := s.handlers

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api", s.auth.RequireAuth())

	// Long-lived streams carry no request deadline
	api.GET("/events", s.StreamEvents)
	api.GET("/ws", s.ServeWebSocket)

	rest := api.Group("", requestTimeout(s.config.RequestTimeout))
	{
		rest.GET("/catalog", h.GetCatalog)

		rest.POST("/applications", h.RegisterApplication)
		rest.GET("/applications", h.ListApplications)
		rest.GET("/applications/:id", h.GetApplication)
		rest.POST("/applications/:id/transitions", h.ApplyTransition)
		rest.GET("/applications/:id/history", h.GetHistory)
		rest.GET("/applications/:id/history.xlsx", h.ExportHistory)
		rest.GET("/applications/:id/history/verify",
			RequireRole(domainwf.RoleHR, domainwf.RoleAdmin), h.VerifyHistory)
	}
}

// ServeWebSocket handles GET /api/ws
func (s *Server) ServeWebSocket(c *gin.Context) {
	filter, ok := s.handlers.eventFilter(c)
	if !ok {
		return
	}
	if err := s.ws.Serve(s.streams, c.Writer, c.Request, sessionID(c), filter); err != nil {
		s.logger.Info("WebSocket session ended", "reason", err.Error())
	}
}

// Start listens on the configured address and serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.Address(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then drains open streams and shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	s.logger.Info("HTTP server listening", "address", s.addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		s.logger.Error("HTTP server failed", "error", err)
		return err
	}
}

// Stop ends every open event stream, then shuts the server down within 10 seconds.
func (s *Server) Stop() error {
	s.stopStreams()

	s.mu.Lock()
	srv, addr := s.httpServer, s.addr
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped", "address", addr)
	return nil
}

// Router returns the underlying gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the configured listen address
func (s *Server) Address() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// ListenAddr returns the bound address once Serve has started, e.g. with port 0 resolved
func (s *Server) ListenAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func newKVLogger(logger *zap.Logger) Logger {
	return utils.NewKVLogger(logger.Named("http"))
}
