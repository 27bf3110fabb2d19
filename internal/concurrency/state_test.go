package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStateContainer(t *testing.T) {
	s := &StateContainer[int]{}

	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Watch(ctx)

	assert.Equal(t, 0, s.Get())

	s.Update(func(i int) int { return 123 })
	<-ch

	s.Update(func(i int) int { return i + 1 })
	<-ch

	assert.Equal(t, 124, s.Get())

	cancel()
	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("watcher was not closed")
	}
}

func TestStateContainerCoalesces(t *testing.T) {
	s := &StateContainer[string]{}
	ch := s.Watch(context.Background())

	s.Update(func(string) string { return "a" })
	s.Update(func(string) string { return "b" })

	<-ch
	select {
	case <-ch:
		t.Fatal("expected a single pending notification")
	default:
	}
	assert.Equal(t, "b", s.Get())
}
