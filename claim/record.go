package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/codec"
	"github.com/unkn0wn-root/examcache/internal/wire"
)

type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomePending
	OutcomeSuccess
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	reasonExhausted  = "exhausted"
	reasonIneligible = "ineligible"
)

// record is the idempotency record stored under claim:<resource>:req:<id>.
// Terminal records (success, failed) are never rewritten.
type record struct {
	RequestID  string  `msgpack:"rid"`
	ResourceID string  `msgpack:"res"`
	SubjectID  string  `msgpack:"sub"`
	Outcome    Outcome `msgpack:"o"`
	Token      string  `msgpack:"tok,omitempty"`
	Reason     string  `msgpack:"why,omitempty"`
	At         int64   `msgpack:"at"` // unix millis
}

func (r record) terminal() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomeFailed
}

var recordCodec codec.Codec[record] = codec.Msgpack[record]{}

func encodeRecord(r record) ([]byte, error) {
	b, err := recordCodec.Encode(r)
	if err != nil {
		return nil, err
	}
	return wire.EncodeRecord(b), nil
}

func decodeRecord(b []byte) (record, error) {
	payload, err := wire.DecodeRecord(b)
	if err != nil {
		return record{}, err
	}
	r, err := recordCodec.Decode(payload)
	if err != nil {
		return record{}, err
	}
	if r.Outcome == OutcomeUnknown || r.RequestID == "" {
		return record{}, wire.ErrCorrupt
	}
	return r, nil
}

// Failure is a terminal failure recorded for a request id. Replays of
// the same request id return an equal Failure.
type Failure struct {
	RequestID string
	Reason    string
	Replayed  bool
}

func (e *Failure) Error() string {
	return fmt.Sprintf("claim %q failed: %s", e.RequestID, e.Reason)
}

func (e *Failure) Unwrap() error {
	switch e.Reason {
	case reasonExhausted:
		return examcache.ErrExhausted
	case reasonIneligible:
		return examcache.ErrIneligible
	default:
		return nil
	}
}

// loadRecord reads and decodes the record at rk. Read errors and corrupt
// records are logged and reported as absent: the re-check under lock against
// the relational store decides the outcome instead.
func (c *Coordinator) loadRecord(ctx context.Context, rk string) (record, bool) {
	b, ok, err := c.kv.Get(ctx, rk)
	if err != nil {
		c.hooks.StoreError("get", rk, err)
		c.log.Warn("idempotency record read failed", examcache.Fields{"key": rk, "err": err})
		return record{}, false
	}
	if !ok {
		return record{}, false
	}
	r, err := decodeRecord(b)
	if err != nil {
		_ = c.kv.Del(ctx, rk)
		c.hooks.SelfHeal(rk, "corrupt")
		return record{}, false
	}
	return r, true
}

// replayed consults the local near-cache for a terminal record.
func (c *Coordinator) replayed(ctx context.Context, rk string) (record, bool) {
	if c.replay == nil {
		return record{}, false
	}
	b, ok, err := c.replay.Get(ctx, rk)
	if err != nil || !ok {
		return record{}, false
	}
	r, err := decodeRecord(b)
	if err != nil || r.Outcome != OutcomeSuccess {
		_ = c.replay.Del(ctx, rk)
		return record{}, false
	}
	return r, true
}

func (c *Coordinator) writeRecord(ctx context.Context, rk string, r record) error {
	r.At = c.now().UnixMilli()
	b, err := encodeRecord(r)
	if err != nil {
		return err
	}
	ttl := c.lockLease
	switch r.Outcome {
	case OutcomeSuccess:
		ttl = c.recordTTL
	case OutcomeFailed:
		ttl = c.failedTTL
	}
	if err := c.kv.Set(ctx, rk, b, ttl); err != nil {
		c.hooks.StoreError("set", rk, err)
		return err
	}
	if r.Outcome == OutcomeSuccess && c.replay != nil {
		if ok, err := c.replay.Set(ctx, rk, b, int64(len(b)), c.recordTTL); err != nil || !ok {
			c.log.Debug("replay cache rejected record", examcache.Fields{"key": rk, "err": err})
		}
	}
	return nil
}

// dropPending removes this attempt's pending record so a retry is not
// mistaken for an in-flight duplicate.
func (c *Coordinator) dropPending(ctx context.Context, rk string) {
	if err := c.kv.Del(ctx, rk); err != nil && !errors.Is(err, context.Canceled) {
		c.hooks.StoreError("del", rk, err)
	}
}
