// usage:
//
//	raw := loghooks.New(logger, loghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	users, _ := examcache.New[model.User](examcache.Options[model.User]{
//	    Namespace: "user:profile",
//	    Store:     store,
//	    Loader:    repo,
//	    Hooks:     hooks, // or `raw` if you don't want async
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/examcache"
)

// Hooks forwards events to inner on a bounded queue. Events are dropped, not
// blocked on, when the queue is full.
type Hooks struct {
	inner   examcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	closed  atomic.Bool
	dropped atomic.Uint64
}

var _ examcache.Hooks = (*Hooks)(nil)

func New(inner examcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events raised after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	if h.closed.Load() {
		h.dropped.Add(1)
		return
	}
	defer func() {
		// send on a queue closed between the check and the send
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(k, r string)                  { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) InvalidateOutage(id string, err error) { h.try(func() { h.inner.InvalidateOutage(id, err) }) }
func (h *Hooks) Compensated(res, reason string)        { h.try(func() { h.inner.Compensated(res, reason) }) }
func (h *Hooks) LockContended(res, subj string)        { h.try(func() { h.inner.LockContended(res, subj) }) }
func (h *Hooks) StoreError(op, k string, err error) {
	h.try(func() { h.inner.StoreError(op, k, err) })
}
