package lifecycle

import "context"

// ServiceAdapter wraps plain start/stop/health funcs into a Resource.
type ServiceAdapter struct {
	name       string
	startFunc  func(ctx context.Context) error
	stopFunc   func(ctx context.Context) error
	healthFunc func() error
}

// NewServiceAdapter creates a new service adapter with no-op hooks.
func NewServiceAdapter(name string) *ServiceAdapter {
	return &ServiceAdapter{
		name:       name,
		startFunc:  func(context.Context) error { return nil },
		stopFunc:   func(context.Context) error { return nil },
		healthFunc: func() error { return nil },
	}
}

// WithStart sets the start function.
func (s *ServiceAdapter) WithStart(fn func(ctx context.Context) error) *ServiceAdapter {
	s.startFunc = fn
	return s
}

// WithStop sets the stop function.
func (s *ServiceAdapter) WithStop(fn func(ctx context.Context) error) *ServiceAdapter {
	s.stopFunc = fn
	return s
}

// WithHealth sets the health check function.
func (s *ServiceAdapter) WithHealth(fn func() error) *ServiceAdapter {
	s.healthFunc = fn
	return s
}

func (s *ServiceAdapter) Name() string { return s.name }

func (s *ServiceAdapter) Start(ctx context.Context) error { return s.startFunc(ctx) }

func (s *ServiceAdapter) Stop(ctx context.Context) error { return s.stopFunc(ctx) }

func (s *ServiceAdapter) Health() error { return s.healthFunc() }
