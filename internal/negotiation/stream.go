package negotiation

import "sync"

// An unbounded FIFO feeding a single reader.
//
// push never blocks, so engine callbacks may publish into a stream from any goroutine.
// A dispatch goroutine hands values to the reader in push order.
// Once closed, undelivered values are discarded and the output channel is closed.
type stream[T any] struct {
	mu      sync.Mutex
	pending []T
	closed  bool

	wake chan struct{}
	done chan struct{}
	out  chan T
}

func newStream[T any]() *stream[T] {
	s := &stream[T]{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		out:  make(chan T),
	}
	go s.dispatch()
	return s
}

// Queue a value for the reader. Returns false if the stream is closed.
func (s *stream[T]) push(v T) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, v)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *stream[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.done)
}

func (s *stream[T]) channel() <-chan T {
	return s.out
}

func (s *stream[T]) dispatch() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if len(s.pending) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.done:
			}
			continue
		}
		v := s.pending[0]
		var zero T
		s.pending[0] = zero
		s.pending = s.pending[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.done:
			return
		}
	}
}
