package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/unkn0wn-root/examcache"
)

type countHooks struct {
	examcache.NopHooks
	mu    sync.Mutex
	n     int
	block chan struct{}
}

func (c *countHooks) SelfHeal(string, string) {
	if c.block != nil {
		<-c.block
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countHooks) StoreError(string, string, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countHooks) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestDeliversAndDrainsOnClose(t *testing.T) {
	inner := &countHooks{}
	h := New(inner, 2, 16)
	for i := 0; i < 10; i++ {
		h.StoreError("get", "k", errors.New("x"))
	}
	h.Close()
	if got := inner.count(); got != 10 {
		t.Fatalf("delivered %d events, want 10", got)
	}
	h.StoreError("get", "k", nil) // after close: dropped, no panic
	if h.Dropped() != 1 {
		t.Fatalf("dropped = %d", h.Dropped())
	}
	h.Close()
}

func TestDropsWhenQueueFull(t *testing.T) {
	inner := &countHooks{block: make(chan struct{})}
	h := New(inner, 1, 1)

	// one event parked in the worker, one in the queue, the rest dropped
	for i := 0; i < 5; i++ {
		h.SelfHeal("k", "corrupt")
	}
	close(inner.block)
	h.Close()

	if h.Dropped() == 0 {
		t.Fatalf("expected drops with a full queue")
	}
	if got := uint64(inner.count()) + h.Dropped(); got != 5 {
		t.Fatalf("delivered+dropped = %d, want 5", got)
	}
}
