package di

import (
	"errors"
	"sync"
	"testing"
)

// Example interfaces and implementations for testing
type Sink interface {
	Write(msg string)
}

type Dispatcher interface {
	Dispatch(msg string) string
}

type memorySink struct {
	messages []string
}

func (s *memorySink) Write(msg string) {
	s.messages = append(s.messages, msg)
}

type realDispatcher struct {
	sink Sink
}

func (d *realDispatcher) Dispatch(msg string) string {
	d.sink.Write(msg)
	return "dispatched:" + msg
}

type mockDispatcher struct {
	ReturnValue string
}

func (m *mockDispatcher) Dispatch(string) string {
	return m.ReturnValue
}

func TestContainer_Basic(t *testing.T) {
	c := New()

	err := c.Register((*Sink)(nil), func(c *Container) (interface{}, error) {
		return &memorySink{messages: make([]string, 0)}, nil
	})
	if err != nil {
		t.Fatalf("Failed to register sink: %v", err)
	}

	err = c.Register((*Dispatcher)(nil), func(c *Container) (interface{}, error) {
		var sink Sink
		if err := c.Resolve(&sink); err != nil {
			return nil, err
		}
		return &realDispatcher{sink: sink}, nil
	})
	if err != nil {
		t.Fatalf("Failed to register dispatcher: %v", err)
	}

	var d Dispatcher
	if err := c.Resolve(&d); err != nil {
		t.Fatalf("Failed to resolve dispatcher: %v", err)
	}
	if got := d.Dispatch("hello"); got != "dispatched:hello" {
		t.Errorf("unexpected dispatch result: %q", got)
	}

	// Second resolve returns the cached instance.
	var d2 Dispatcher
	if err := c.Resolve(&d2); err != nil {
		t.Fatalf("Failed to resolve dispatcher twice: %v", err)
	}
	if d != d2 {
		t.Error("expected cached instance on second resolve")
	}
}

func TestContainer_Mock(t *testing.T) {
	c := New()

	if err := c.RegisterMock((*Dispatcher)(nil), &mockDispatcher{ReturnValue: "mocked"}); err != nil {
		t.Fatalf("Failed to register mock: %v", err)
	}

	var d Dispatcher
	if err := c.Resolve(&d); err != nil {
		t.Fatalf("Failed to resolve mock: %v", err)
	}
	if got := d.Dispatch("anything"); got != "mocked" {
		t.Errorf("expected mock result, got %q", got)
	}
}

func TestContainer_Errors(t *testing.T) {
	c := New()

	if err := c.Register(struct{}{}, nil); !errors.Is(err, ErrInterfaceMustBePointer) {
		t.Errorf("expected ErrInterfaceMustBePointer, got %v", err)
	}
	if err := c.RegisterMock((*Dispatcher)(nil), &memorySink{}); !errors.Is(err, ErrMockDoesNotImplement) {
		t.Errorf("expected ErrMockDoesNotImplement, got %v", err)
	}
	if err := c.Resolve(struct{}{}); !errors.Is(err, ErrTargetMustBePointer) {
		t.Errorf("expected ErrTargetMustBePointer, got %v", err)
	}
	var d Dispatcher
	if err := c.Resolve(&d); !errors.Is(err, ErrNoFactoryRegistered) {
		t.Errorf("expected ErrNoFactoryRegistered, got %v", err)
	}

	wantErr := errors.New("boom")
	if err := c.Register((*Sink)(nil), func(*Container) (interface{}, error) {
		return nil, wantErr
	}); err != nil {
		t.Fatalf("Failed to register failing factory: %v", err)
	}
	var s Sink
	if err := c.Resolve(&s); !errors.Is(err, ErrFactoryFailed) {
		t.Errorf("expected ErrFactoryFailed, got %v", err)
	}
}

func TestContainer_ConcurrentResolve(t *testing.T) {
	c := New()
	if err := c.Register((*Sink)(nil), func(*Container) (interface{}, error) {
		return &memorySink{}, nil
	}); err != nil {
		t.Fatalf("Failed to register sink: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var s Sink
			if err := c.Resolve(&s); err != nil {
				t.Errorf("concurrent resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()
}
