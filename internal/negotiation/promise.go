package negotiation

import (
	"context"
	"sync"
)

// A value that is set once and awaited by any number of readers.
type promise[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
}

func newPromise[T any]() *promise[T] {
	return &promise[T]{done: make(chan struct{})}
}

// Set the value. Returns false if the value was already set, in which case v is discarded.
func (p *promise[T]) set(v T) bool {
	set := false
	p.once.Do(func() {
		p.value = v
		close(p.done)
		set = true
	})
	return set
}

// Block until the value is set or ctx is done.
func (p *promise[T]) wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.value, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (p *promise[T]) peek() (T, bool) {
	select {
	case <-p.done:
		return p.value, true
	default:
		var zero T
		return zero, false
	}
}
