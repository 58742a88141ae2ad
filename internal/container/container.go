package container

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
	"github.com/garyjia/recruit-workflow/internal/application/workflow"
	domainwf "github.com/garyjia/recruit-workflow/internal/domain/workflow"
	"github.com/garyjia/recruit-workflow/internal/infrastructure/worker"
	"github.com/garyjia/recruit-workflow/pkg/telemetry"
)

// Container owns every long-lived component of the service. Start opens them in
// dependency order and registers a closer for each; Close runs the closers in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	store     *StoreBundle
	messenger port.ChatMessenger

	catalog     *domainwf.Catalog
	broadcaster dispatcher.Broadcaster
	workflow    workflow.WorkflowEngine
	services    *ServiceBundle
	workers     *worker.Manager

	closers []closer

	mu     sync.Mutex
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

type closer struct {
	name string
	fn   func() error
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates cfg. Nothing is opened until Start.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger}, nil
}

// Start brings the service up: tracing, store, catalog and engine, read services,
// then workers. On failure everything opened so far is released and the
// container cannot be started again.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"tracing", c.startTracing},
		{"store", c.startStore},
		{"workflow", c.startWorkflow},
		{"services", c.startServices},
		{"workers", c.startWorkers},
	}

	for _, step := range steps {
		if err := step.run(runCtx); err != nil {
			c.logger.Error("Container start failed", zap.String("step", step.name), zap.Error(err))
			_ = c.release()
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		c.logger.Debug("Container step done", zap.String("step", step.name))
	}

	c.ready.Store(true)
	c.logger.Info("Container started",
		zap.String("driver", c.config.Database.Driver),
		zap.Int("workers", c.workers.Count()))
	return nil
}

func (c *Container) onClose(name string, fn func() error) {
	c.closers = append(c.closers, closer{name: name, fn: fn})
}

func (c *Container) startTracing(ctx context.Context) error {
	shutdown, err := telemetry.Setup(ctx, c.config.Telemetry.OTLPEndpoint, c.config.Telemetry.ServiceName)
	if err != nil {
		// The service runs without spans rather than refusing to start.
		c.logger.Error("Tracing disabled", zap.Error(err))
		return nil
	}
	c.onClose("tracing", func() error {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(flushCtx)
	})
	return nil
}

func (c *Container) startStore(context.Context) error {
	store, err := ProvideStore(&c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.store = store
	if store.DB != nil {
		c.onClose("database", store.DB.Close)
	}
	return nil
}

func (c *Container) startWorkflow(context.Context) error {
	catalog, err := ProvideCatalog(&c.config.Workflow, c.logger)
	if err != nil {
		return err
	}
	c.catalog = catalog
	c.broadcaster = ProvideBroadcaster(&c.config.Broadcast, c.logger)

	engine, err := ProvideWorkflowEngine(&WorkflowDeps{
		Store:       c.store,
		Catalog:     catalog,
		Broadcaster: c.broadcaster,
		Config:      &c.config.Workflow,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}
	c.workflow = engine
	return nil
}

func (c *Container) startServices(context.Context) error {
	c.services = ProvideServices(c.store, c.catalog, c.logger)
	c.messenger = ProvideChatMessenger(&c.config.Lark, c.logger)
	return nil
}

func (c *Container) startWorkers(ctx context.Context) error {
	workers, err := ProvideWorkers(&WorkerDeps{
		Broadcaster: c.broadcaster,
		Messenger:   c.messenger,
		LarkCfg:     &c.config.Lark,
		Logger:      c.logger,
	})
	if err != nil {
		return err
	}
	if err := workers.StartAll(ctx); err != nil {
		return err
	}
	c.workers = workers
	// The broadcaster closes every subscription when it stops.
	c.onClose("workers", workers.StopAll)
	return nil
}

// release runs the registered closers newest first and cancels the run context.
func (c *Container) release() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		cl := c.closers[i]
		if err := cl.fn(); err != nil {
			c.logger.Error("Failed to close component", zap.String("component", cl.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", cl.name, err))
		}
	}
	c.closers = nil
	if c.cancel != nil {
		c.cancel()
	}

	c.closed.Store(true)
	c.ready.Store(false)
	return errors.Join(errs...)
}

// Close shuts the container down. It fails when called twice.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	if err := c.release(); err != nil {
		return fmt.Errorf("container closed with errors: %w", err)
	}
	c.logger.Info("Container closed")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, message string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: message}
		if !healthy {
			status.Overall = false
		}
	}

	switch {
	case c.store == nil:
		set("database", false, "not initialized")
	case c.store.DB == nil:
		set("database", true, "in-memory")
	default:
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := c.store.DB.PingContext(ctx)
		cancel()
		if err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, c.store.DB.Path())
		}
	}

	if c.broadcaster != nil {
		set("broadcaster", true, fmt.Sprintf("subscribers: %d", c.broadcaster.SubscriberCount()))
	} else {
		set("broadcaster", false, "not initialized")
	}

	if c.workers == nil || !c.workers.IsRunning() {
		set("workers", false, "not running")
		return status
	}
	for name, state := range c.workers.Health() {
		healthy := state == worker.StateRunning
		if !healthy && !c.workers.IsRequired(name) {
			// An optional worker degrades its own component only.
			status.Components["worker:"+name] = ComponentHealth{Healthy: false, Message: state}
			continue
		}
		set("worker:"+name, healthy, state)
	}
	return status
}

// Getters for accessing container components

// Catalog returns the status catalog.
func (c *Container) Catalog() *domainwf.Catalog {
	return c.catalog
}

// Broadcaster returns the update broadcaster.
func (c *Container) Broadcaster() dispatcher.Broadcaster {
	return c.broadcaster
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.workflow
}

// Services returns the audit trail services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
