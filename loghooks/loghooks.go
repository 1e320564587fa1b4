// Package loghooks reports cache and claim events through an examcache.Logger
// with sampling for the noisy ones and redacted keys.
package loghooks

import (
	"sync/atomic"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/internal/keys"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery   uint64
	StoreErrorEvery uint64
	ContentionEvery uint64
	// Optional key redactor. Defaults to a 64-bit xxhash digest.
	Redact func(string) string
}

type Hooks struct {
	l    examcache.Logger
	opts Options

	selfHealCtr   atomic.Uint64
	storeErrCtr   atomic.Uint64
	contentionCtr atomic.Uint64
}

var _ examcache.Hooks = (*Hooks)(nil)

func New(l examcache.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	return keys.Short(k)
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("examcache.self_heal", examcache.Fields{
		"key":    h.redact(storageKey),
		"reason": reason,
	})
}

func (h *Hooks) StoreError(op, storageKey string, err error) {
	if h.l == nil || !sample(h.opts.StoreErrorEvery, &h.storeErrCtr) {
		return
	}
	h.l.Warn("examcache.store_error", examcache.Fields{
		"op":  op,
		"key": h.redact(storageKey),
		"err": err,
	})
}

func (h *Hooks) InvalidateOutage(id string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("examcache.invalidate_outage", examcache.Fields{
		"id":  h.redact(id),
		"err": err,
	})
}

func (h *Hooks) Compensated(resourceID, reason string) {
	if h.l == nil {
		return
	}
	h.l.Info("examcache.claim_compensated", examcache.Fields{
		"resource": resourceID,
		"reason":   reason,
	})
}

func (h *Hooks) LockContended(resourceID, subjectID string) {
	if h.l == nil || !sample(h.opts.ContentionEvery, &h.contentionCtr) {
		return
	}
	h.l.Warn("examcache.lock_contended", examcache.Fields{
		"resource": resourceID,
		"subject":  h.redact(subjectID),
	})
}
