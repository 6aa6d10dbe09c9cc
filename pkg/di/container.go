// Package di provides the dependency injection container the manager
// registry uses as its composition root.
package di

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

var (
	// ErrInterfaceMustBePointer is returned when a non-pointer interface is registered.
	ErrInterfaceMustBePointer = errors.New("interface must be a pointer type")
	// ErrMockDoesNotImplement is returned when a mock does not implement the interface.
	ErrMockDoesNotImplement = errors.New("mock does not implement interface")
	// ErrTargetMustBePointer is returned when a non-pointer target is passed to Resolve.
	ErrTargetMustBePointer = errors.New("target must be a pointer")
	// ErrNoFactoryRegistered is returned when no factory is registered for a type.
	ErrNoFactoryRegistered = errors.New("no factory registered")
	// ErrFactoryFailed is returned when the factory fails to create an instance.
	ErrFactoryFailed = errors.New("factory failed to create instance")
)

// Factory is a function that creates an instance of a service.
type Factory func(*Container) (interface{}, error)

// Container manages dependency injection. Instances are created lazily on
// first Resolve and cached for subsequent lookups.
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	mocks     map[reflect.Type]interface{}
	factories map[reflect.Type]Factory
}

// New creates a new DI container.
func New() *Container {
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		mocks:     make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]Factory),
	}
}

// Register registers a service factory keyed by the interface type.
// Call as c.Register((*SomeInterface)(nil), factory).
func (c *Container) Register(iface interface{}, factory Factory) error {
	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Ptr {
		return ErrInterfaceMustBePointer
	}
	key := t
	if elem := t.Elem(); elem.Kind() == reflect.Interface {
		key = elem
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[key] = factory
	return nil
}

// RegisterMock registers a mock implementation for testing. The mock bypasses
// the factory for its interface on every Resolve.
func (c *Container) RegisterMock(iface, mock interface{}) error {
	t := reflect.TypeOf(iface)
	if t == nil || t.Kind() != reflect.Ptr {
		return ErrInterfaceMustBePointer
	}
	elem := t.Elem()
	if elem.Kind() != reflect.Interface || !reflect.TypeOf(mock).Implements(elem) {
		return ErrMockDoesNotImplement
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mocks[elem] = mock
	return nil
}

// Resolve resolves a service instance into target, which must be a pointer to
// the interface (or pointer type) the factory was registered under.
func (c *Container) Resolve(target interface{}) error {
	targetType := reflect.TypeOf(target)
	if targetType == nil || targetType.Kind() != reflect.Ptr {
		return ErrTargetMustBePointer
	}
	elemType := targetType.Elem()

	c.mu.RLock()
	if mock, ok := c.mocks[elemType]; ok {
		c.mu.RUnlock()
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(mock))
		return nil
	}
	if service, ok := c.services[elemType]; ok {
		c.mu.RUnlock()
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(service))
		return nil
	}
	factory, ok := c.factories[elemType]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w for type %v", ErrNoFactoryRegistered, elemType)
	}

	// Create the instance outside the lock; factories may resolve their own
	// dependencies through the container.
	instance, err := factory(c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFactoryFailed, err)
	}

	c.mu.Lock()
	c.services[elemType] = instance
	c.mu.Unlock()

	reflect.ValueOf(target).Elem().Set(reflect.ValueOf(instance))
	return nil
}

// Reset clears all registered services, mocks and factories.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[reflect.Type]interface{})
	c.mocks = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]Factory)
}
