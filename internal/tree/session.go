package tree

import (
	"context"
	"sync"
)

// Session owns a Model and applies every read and mutation on one goroutine,
// in arrival order. Search refreshes and user edits share the queue, so they
// never interleave inside a single operation.
type Session struct {
	ops       chan op
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type op struct {
	fn  func(*Model) error
	res chan error
}

// NewSession starts the writer goroutine for m. Call Close to stop it.
func NewSession(m *Model) *Session {
	s := &Session{
		ops:  make(chan op),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(m)
	return s
}

func (s *Session) run(m *Model) {
	defer close(s.done)
	for {
		select {
		case o := <-s.ops:
			o.res <- o.fn(m)
		case <-s.quit:
			return
		}
	}
}

// Do runs fn on the writer goroutine and returns its error. fn must not keep
// references to the model after it returns.
func (s *Session) Do(ctx context.Context, fn func(*Model) error) error {
	o := op{fn: fn, res: make(chan error, 1)}
	select {
	case s.ops <- o:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-o.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// View runs a read-only fn on the writer goroutine.
func (s *Session) View(ctx context.Context, fn func(*Model)) error {
	return s.Do(ctx, func(m *Model) error {
		fn(m)
		return nil
	})
}

// Close stops the writer goroutine. Pending calls return ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.quit) })
	<-s.done
}
