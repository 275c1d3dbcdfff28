package di

import (
	"fmt"
	"reflect"
	"sync"

	errs "github.com/gmliao/landnet/pkg/errors"
)

// Factory is a function that creates an instance of a service.
type Factory func(*Container) (interface{}, error)

// Container manages dependency injection for the server bootstrap. Services
// are keyed by their interface (or pointer) type and constructed lazily.
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

// Register registers a service factory.
func (c *Container) Register(iface interface{}, factory Factory) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := reflect.TypeOf(iface)
	if t.Kind() != reflect.Ptr {
		return errs.ErrInterfaceMustBePointer
	}
	elem := t.Elem()
	var key reflect.Type
	if elem.Kind() == reflect.Interface {
		key = elem
	} else {
		// pointer to concrete type
		key = t
	}
	c.factories[key] = factory
	return nil
}

// RegisterMock registers a mock implementation for testing.
func (c *Container) RegisterMock(iface, mock interface{}) error {
	t := reflect.TypeOf(iface)
	if t.Kind() != reflect.Ptr {
		return errs.ErrInterfaceMustBePointer
	}
	elem := t.Elem()
	if elem.Kind() != reflect.Interface || !reflect.TypeOf(mock).Implements(elem) {
		return errs.ErrMockDoesNotImplement
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.mocks[elem] = mock
	return nil
}

// Resolve resolves a service instance into target, constructing it on first use.
func (c *Container) Resolve(target interface{}) error {
	targetType := reflect.TypeOf(target)
	if targetType.Kind() != reflect.Ptr {
		return errs.ErrTargetMustBePointer
	}

	elemType := targetType.Elem()

	c.mu.RLock()
	if mock, ok := c.mocks[elemType]; ok {
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(mock))
		c.mu.RUnlock()
		return nil
	}

	if service, ok := c.services[elemType]; ok {
		reflect.ValueOf(target).Elem().Set(reflect.ValueOf(service))
		c.mu.RUnlock()
		return nil
	}

	factory, ok := c.factories[elemType]
	if !ok {
		c.mu.RUnlock()
		return fmt.Errorf("%w for type %v", errs.ErrNoFactoryRegistered, elemType)
	}
	c.mu.RUnlock()

	// Create instance outside of lock
	instance, err := factory(c)
	if err != nil {
		return fmt.Errorf("%w: %w", errs.ErrFactoryFailed, err)
	}

	c.mu.Lock()
	c.services[elemType] = instance
	c.mu.Unlock()

	reflect.ValueOf(target).Elem().Set(reflect.ValueOf(instance))
	return nil
}

// Reset clears all registered services and mocks.
func (c *Container) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services = make(map[reflect.Type]interface{})
	c.mocks = make(map[reflect.Type]interface{})
}
