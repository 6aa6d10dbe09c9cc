// Package lifecycle provides dependency-ordered start/stop management for the
// engine's managers and supporting resources.
package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Resource represents any component that needs lifecycle management.
type Resource interface {
	// Name returns a unique identifier for the resource.
	Name() string
	// Start initializes the resource.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the resource.
	Stop(ctx context.Context) error
	// Health returns the current health status.
	Health() error
}

// stopTimeout bounds the shutdown of a single resource.
const stopTimeout = 30 * time.Second

// Manager provides centralized lifecycle management for all resources.
type Manager struct {
	mu           sync.Mutex
	resources    map[string]Resource
	dependencies map[string][]string
	order        []string // registration order, used to break ties deterministically
	started      bool
	log          *zap.Logger
}

// NewManager creates a new lifecycle manager.
func NewManager(log *zap.Logger) *Manager {
	return &Manager{
		resources:    make(map[string]Resource),
		dependencies: make(map[string][]string),
		log:          log,
	}
}

// Register adds a resource to the manager with optional dependencies, named
// by the resources they were registered as.
func (m *Manager) Register(resource Resource, dependencies ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := resource.Name()
	if _, exists := m.resources[name]; exists {
		return fmt.Errorf("resource %s already registered", name)
	}
	m.resources[name] = resource
	m.dependencies[name] = dependencies
	m.order = append(m.order, name)
	return nil
}

// Start launches all resources in dependency order. If a resource fails to
// start, the resources already started are stopped again in reverse order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.resolveOrder()
	if err != nil {
		return err
	}

	for i, name := range order {
		resource := m.resources[name]
		m.log.Info("starting resource", zap.String("resource", name))
		if err := resource.Start(ctx); err != nil {
			m.log.Error("failed to start resource", zap.String("resource", name), zap.Error(err))
			m.stopResources(ctx, order[:i])
			return fmt.Errorf("failed to start resource %s: %w", name, err)
		}
	}
	m.started = true
	return nil
}

// Stop gracefully shuts down all resources in reverse dependency order.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := m.resolveOrder()
	if err != nil {
		return err
	}
	m.stopResources(ctx, order)
	m.started = false
	return nil
}

// Health reports the first unhealthy resource, or nil when all are healthy.
func (m *Manager) Health() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range m.order {
		if err := m.resources[name].Health(); err != nil {
			return fmt.Errorf("resource %s unhealthy: %w", name, err)
		}
	}
	return nil
}

// Started reports whether Start completed successfully.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Manager) stopResources(ctx context.Context, order []string) {
	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		m.log.Info("stopping resource", zap.String("resource", name))

		stopCtx, cancel := context.WithTimeout(ctx, stopTimeout)
		if err := m.resources[name].Stop(stopCtx); err != nil {
			m.log.Error("failed to stop resource", zap.String("resource", name), zap.Error(err))
		}
		cancel()
	}
}

// resolveOrder topologically sorts resources so dependencies start first.
func (m *Manager) resolveOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(m.order))
	order := make([]string, 0, len(m.order))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle involving resource %s", name)
		}
		state[name] = visiting
		for _, dep := range m.dependencies[name] {
			if _, ok := m.resources[dep]; !ok {
				return fmt.Errorf("resource %s depends on unregistered resource %s", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range m.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
