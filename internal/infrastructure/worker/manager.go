package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background component with an explicit lifecycle
type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// HealthChecker is implemented by workers that can report degraded operation
type HealthChecker interface {
	Healthy() error
}

// Worker states reported by Health
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

type slot struct {
	worker   Worker
	required bool
	started  bool
	startErr error
}

// Manager starts workers in registration order and stops them in reverse.
// A required worker that fails to start aborts StartAll; an optional one is
// reported by Health and otherwise ignored.
type Manager struct {
	logger *zap.Logger

	mu      sync.RWMutex
	slots   []*slot
	running bool
	cancel  context.CancelFunc
}

// NewManager creates an empty manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Require registers a worker the process cannot run without
func (m *Manager) Require(w Worker) { m.add(w, true) }

// Register registers an optional worker
func (m *Manager) Register(w Worker) { m.add(w, false) }

func (m *Manager) add(w Worker, required bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = append(m.slots, &slot{worker: w, required: required})
	m.logger.Info("Worker registered", zap.String("worker_name", w.Name()), zap.Bool("required", required))
}

// StartAll starts every worker. When a required worker fails, the ones already
// started are stopped again and the error is returned. Optional failures are
// logged and surface through Health.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("workers already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	for _, s := range m.slots {
		s.startErr = s.worker.Start(runCtx)
		if s.startErr == nil {
			s.started = true
			m.logger.Info("Worker started", zap.String("worker_name", s.worker.Name()))
			continue
		}

		m.logger.Error("Failed to start worker",
			zap.String("worker_name", s.worker.Name()),
			zap.Bool("required", s.required),
			zap.Error(s.startErr))
		if s.required {
			_ = m.stopStarted()
			cancel()
			return fmt.Errorf("%s: %w", s.worker.Name(), s.startErr)
		}
	}

	m.cancel = cancel
	m.running = true
	return nil
}

// StopAll stops the started workers in reverse order, then cancels their context
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false

	err := m.stopStarted()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if err != nil {
		return err
	}
	m.logger.Info("All workers stopped")
	return nil
}

func (m *Manager) stopStarted() error {
	var errs []error
	for i := len(m.slots) - 1; i >= 0; i-- {
		s := m.slots[i]
		if !s.started {
			continue
		}
		s.started = false

		if err := s.worker.Stop(); err != nil {
			m.logger.Error("Failed to stop worker", zap.String("worker_name", s.worker.Name()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", s.worker.Name(), err))
			continue
		}
		m.logger.Info("Worker stopped", zap.String("worker_name", s.worker.Name()))
	}
	return errors.Join(errs...)
}

// Health reports each worker by name: StateRunning, StateStopped, "start failed: ..."
// or the error from the worker's own health check.
func (m *Manager) Health() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]string, len(m.slots))
	for _, s := range m.slots {
		name := s.worker.Name()
		switch {
		case s.started:
			out[name] = StateRunning
			if hc, ok := s.worker.(HealthChecker); ok {
				if err := hc.Healthy(); err != nil {
					out[name] = err.Error()
				}
			}
		case s.startErr != nil:
			out[name] = "start failed: " + s.startErr.Error()
		default:
			out[name] = StateStopped
		}
	}
	return out
}

// IsRequired reports whether the named worker was registered with Require
func (m *Manager) IsRequired(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.slots {
		if s.worker.Name() == name {
			return s.required
		}
	}
	return false
}

// Count returns the number of registered workers
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// IsRunning reports whether StartAll succeeded and StopAll has not run since
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
