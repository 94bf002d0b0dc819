package tree

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abramin/upstream/internal/model"
)

func TestSessionSerializesWriters(t *testing.T) {
	s := NewSession(New(Options{}))
	defer s.Close()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Do(ctx, func(m *Model) error {
				if !m.AddCallTree(decl(fmt.Sprintf("M%d", i), i)) {
					return ErrDuplicateTree
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n int
	require.NoError(t, s.View(ctx, func(m *Model) { n = m.Len() }))
	assert.Equal(t, writers, n)
}

func TestSessionReturnsOperationError(t *testing.T) {
	s := NewSession(New(Options{}))
	defer s.Close()

	err := s.Do(context.Background(), func(m *Model) error {
		return m.RemoveNode("missing")
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSessionClosed(t *testing.T) {
	s := NewSession(New(Options{}))
	s.Close()
	s.Close()

	err := s.Do(context.Background(), func(*Model) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSessionCancelledContext(t *testing.T) {
	s := NewSession(New(Options{}))
	defer s.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = s.Do(context.Background(), func(*Model) error {
			close(started)
			<-block
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Do(ctx, func(m *Model) error {
		m.AddCallTree(model.NewDeclaration("Late", "", model.SourcePosition{}))
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	close(block)
}
