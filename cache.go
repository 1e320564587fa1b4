package examcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	c "github.com/unkn0wn-root/examcache/codec"
	"github.com/unkn0wn-root/examcache/internal/keys"
	"github.com/unkn0wn-root/examcache/internal/wire"
	"github.com/unkn0wn-root/examcache/kv"
)

const (
	defaultTTL          = 24 * time.Hour
	defaultNegativeTTL  = 60 * time.Second
	defaultGenRetention = 30 * 24 * time.Hour

	// markerField is always present in a hash entry so an entity whose
	// optional fields are all absent is still a hit.
	markerField   = "_v"
	markerVersion = "1"
)

var nullValue = []byte("1")

type cache[V any] struct {
	ns       string
	kv       kv.Store
	loader   Loader[V]
	codec    c.Codec[V]
	fields   FieldMapper[V]
	enc      Encoding
	ttl      time.Duration
	negTTL   time.Duration
	genTTL   time.Duration
	useIndex bool
	log      Logger
	hooks    Hooks
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Namespace == "" {
		return nil, fmt.Errorf("examcache: namespace is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("examcache: store is required")
	}
	if opts.Loader == nil {
		return nil, fmt.Errorf("examcache: loader is required")
	}
	switch opts.Encoding {
	case EncodingBlob:
	case EncodingHash:
		if opts.Fields == nil {
			return nil, fmt.Errorf("examcache: field mapper is required for hash encoding")
		}
	default:
		return nil, fmt.Errorf("examcache: unsupported %s", opts.Encoding)
	}

	opts = opts.withDefaults()
	return &cache[V]{
		ns:       opts.Namespace,
		kv:       opts.Store,
		loader:   opts.Loader,
		codec:    opts.Codec,
		fields:   opts.Fields,
		enc:      opts.Encoding,
		ttl:      opts.TTL,
		negTTL:   opts.NegativeTTL,
		genTTL:   opts.GenRetention,
		useIndex: !opts.DisableIndex,
		log:      opts.Logger,
		hooks:    opts.Hooks,
	}, nil
}

func (cc *cache[V]) Encoding() Encoding { return cc.enc }

// Get snapshots the id's write generation before anything that can lead to
// a cache write. Every write a read makes is fenced by that snapshot, so a
// value loaded before an Invalidate or MarkDeleted is served but never stored.
func (cc *cache[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V

	nk := keys.Null(cc.ns, id)
	neg, err := cc.kv.Exists(ctx, nk)
	switch {
	case err != nil:
		cc.storeErr("exists", nk, err)
	case neg:
		return zero, false, nil
	}

	gen, fenced := cc.snapshot(ctx, id)

	if cc.useIndex {
		ik := keys.Index(cc.ns)
		known, err := cc.kv.SIsMember(ctx, ik, id)
		switch {
		case err != nil:
			// best effort: an unreadable index never decides a read
			cc.storeErr("sismember", ik, err)
		case !known:
			if fenced {
				cc.markNull(ctx, id, gen)
			}
			return zero, false, nil
		}
	}

	if v, ok := cc.readPositive(ctx, id); ok {
		return v, true, nil
	}

	v, err := cc.loader.LoadByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		if fenced {
			cc.markNull(ctx, id, gen)
		}
		return zero, false, nil
	}
	if err != nil {
		return zero, false, fmt.Errorf("examcache: load %s %q: %w", cc.ns, id, err)
	}

	if fenced {
		cc.backfill(ctx, id, v, gen)
	}
	return v, true, nil
}

func (cc *cache[V]) readPositive(ctx context.Context, id string) (V, bool) {
	if cc.enc == EncodingHash {
		return cc.readHash(ctx, id)
	}
	return cc.readBlob(ctx, id)
}

func (cc *cache[V]) readBlob(ctx context.Context, id string) (V, bool) {
	var zero V
	k := keys.Blob(cc.ns, id)
	raw, ok, err := cc.kv.Get(ctx, k)
	if err != nil {
		cc.storeErr("get", k, err)
		return zero, false
	}
	if !ok {
		return zero, false
	}
	payload, err := wire.DecodeEntry(raw)
	if err != nil {
		cc.selfHeal(ctx, k, "corrupt")
		return zero, false
	}
	v, err := cc.codec.Decode(payload)
	if err != nil {
		cc.selfHeal(ctx, k, "value_decode")
		return zero, false
	}
	return v, true
}

func (cc *cache[V]) readHash(ctx context.Context, id string) (V, bool) {
	var zero V
	k := keys.Hash(cc.ns, id)
	m, err := cc.kv.HGetAll(ctx, k)
	if err != nil {
		cc.storeErr("hgetall", k, err)
		return zero, false
	}
	if len(m) == 0 {
		return zero, false
	}
	if m[markerField] != markerVersion {
		cc.selfHeal(ctx, k, "corrupt")
		return zero, false
	}
	delete(m, markerField)
	v, err := cc.fields.FromFields(m)
	if err != nil {
		cc.selfHeal(ctx, k, "fields_decode")
		return zero, false
	}
	return v, true
}

// positive builds the unfenced write of v under the configured encoding.
func (cc *cache[V]) positive(id string, v V) (kv.GuardedWrite, error) {
	w := kv.GuardedWrite{TTL: cc.ttl}
	if cc.enc == EncodingHash {
		fields, err := cc.fields.ToFields(v)
		if err != nil {
			return w, fmt.Errorf("examcache: map fields %q: %w", id, err)
		}
		if _, clash := fields[markerField]; clash {
			return w, fmt.Errorf("examcache: field %q is reserved", markerField)
		}
		fields[markerField] = markerVersion
		w.Key, w.Fields = keys.Hash(cc.ns, id), fields
		return w, nil
	}

	payload, err := cc.codec.Encode(v)
	if err != nil {
		return w, fmt.Errorf("examcache: encode %q: %w", id, err)
	}
	w.Key, w.Value = keys.Blob(cc.ns, id), wire.EncodeEntry(payload)
	return w, nil
}

func (cc *cache[V]) Put(ctx context.Context, id string, v V) error {
	w, err := cc.positive(id, v)
	if err != nil {
		return err
	}
	gen, err := cc.bump(ctx, id)
	if err != nil {
		return fmt.Errorf("examcache: bump generation %q: %w", id, err)
	}

	// the negative entry goes in the same step, so a reader never sees both
	w.GenKey, w.Gen = keys.Gen(cc.ns, id), gen
	w.Clear = []string{keys.Null(cc.ns, id)}
	ok, err := cc.kv.WriteIfGen(ctx, w)
	if err != nil {
		cc.storeErr("writeifgen", w.Key, err)
		return err
	}
	if !ok {
		cc.log.Debug("put superseded by a newer write", cc.entry(id, nil))
	}
	return nil
}

func (cc *cache[V]) Invalidate(ctx context.Context, id string) error {
	ie := &InvalidateError{ID: id}
	if _, err := cc.bump(ctx, id); err != nil {
		ie.GenErr = err
	}
	if err := cc.kv.Del(ctx, keys.Entity(cc.ns, id)...); err != nil {
		ie.DelErr = err
	}
	if ie.empty() {
		cc.log.Debug("invalidated", cc.entry(id, nil))
		return nil
	}
	cc.hooks.InvalidateOutage(id, ie)
	cc.log.Error("invalidate failed", cc.entry(id, ie))
	return ie
}

func (cc *cache[V]) MarkCreated(ctx context.Context, id string, v V) error {
	var errs []error
	if cc.useIndex {
		ik := keys.Index(cc.ns)
		if err := cc.kv.SAdd(ctx, ik, id); err != nil {
			cc.storeErr("sadd", ik, err)
			errs = append(errs, err)
		}
	}
	if err := cc.Put(ctx, id, v); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (cc *cache[V]) MarkDeleted(ctx context.Context, id string) error {
	ie := &InvalidateError{ID: id}
	blob, hash, nk := keys.Blob(cc.ns, id), keys.Hash(cc.ns, id), keys.Null(cc.ns, id)

	gen, err := cc.bump(ctx, id)
	if err != nil {
		// unfenced, but the deletion still lands
		ie.GenErr = err
		if err := cc.kv.Del(ctx, blob, hash); err != nil {
			ie.DelErr = err
		}
		if err := cc.kv.Set(ctx, nk, nullValue, cc.negTTL); err != nil {
			ie.NullErr = err
		}
	} else {
		ok, err := cc.kv.WriteIfGen(ctx, kv.GuardedWrite{
			GenKey: keys.Gen(cc.ns, id),
			Gen:    gen,
			Clear:  []string{blob, hash},
			Key:    nk,
			Value:  nullValue,
			TTL:    cc.negTTL,
		})
		switch {
		case err != nil:
			ie.DelErr, ie.NullErr = err, err
		case !ok:
			cc.log.Debug("delete superseded by a newer write", cc.entry(id, nil))
		}
	}

	if cc.useIndex {
		if err := cc.kv.SRem(ctx, keys.Index(cc.ns), id); err != nil {
			ie.IndexErr = err
		}
	}
	if ie.empty() {
		return nil
	}
	cc.hooks.InvalidateOutage(id, ie)
	cc.log.Error("mark deleted failed", cc.entry(id, ie))
	return ie
}

func (cc *cache[V]) Warm(ctx context.Context, ids ...string) error {
	if !cc.useIndex || len(ids) == 0 {
		return nil
	}
	return cc.kv.SAdd(ctx, keys.Index(cc.ns), ids...)
}

// snapshot reads the write generation; a missing counter is generation 0.
// fenced is false when the counter is unreadable and the read must not write.
func (cc *cache[V]) snapshot(ctx context.Context, id string) (gen int64, fenced bool) {
	gk := keys.Gen(cc.ns, id)
	raw, ok, err := cc.kv.Get(ctx, gk)
	if err != nil {
		cc.storeErr("get", gk, err)
		return 0, false
	}
	if !ok {
		return 0, true
	}
	gen, err = strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		cc.log.Warn("malformed generation, skipping backfill", Fields{"ns": cc.ns, "key": gk})
		return 0, false
	}
	return gen, true
}

func (cc *cache[V]) bump(ctx context.Context, id string) (int64, error) {
	gk := keys.Gen(cc.ns, id)
	gen, err := cc.kv.Bump(ctx, gk, cc.genTTL)
	if err != nil {
		cc.storeErr("bump", gk, err)
		return 0, err
	}
	return gen, nil
}

// backfill stores a loaded value unless a writer moved the generation since
// the snapshot. Best effort.
func (cc *cache[V]) backfill(ctx context.Context, id string, v V, gen int64) {
	w, err := cc.positive(id, v)
	if err != nil {
		cc.log.Warn("backfill failed", cc.entry(id, err))
		return
	}
	w.GenKey, w.Gen = keys.Gen(cc.ns, id), gen
	w.Clear = []string{keys.Null(cc.ns, id)}
	ok, err := cc.kv.WriteIfGen(ctx, w)
	switch {
	case err != nil:
		cc.storeErr("writeifgen", w.Key, err)
		return
	case !ok:
		cc.log.Debug("backfill skipped, entry changed during load", cc.entry(id, nil))
		return
	}
	if cc.useIndex {
		ik := keys.Index(cc.ns)
		if err := cc.kv.SAdd(ctx, ik, id); err != nil {
			cc.storeErr("sadd", ik, err)
		}
	}
}

// markNull swaps positive entries for a negative one, fenced like backfill.
func (cc *cache[V]) markNull(ctx context.Context, id string, gen int64) {
	nk := keys.Null(cc.ns, id)
	ok, err := cc.kv.WriteIfGen(ctx, kv.GuardedWrite{
		GenKey: keys.Gen(cc.ns, id),
		Gen:    gen,
		Clear:  []string{keys.Blob(cc.ns, id), keys.Hash(cc.ns, id)},
		Key:    nk,
		Value:  nullValue,
		TTL:    cc.negTTL,
	})
	switch {
	case err != nil:
		cc.storeErr("writeifgen", nk, err)
	case !ok:
		cc.log.Debug("negative entry skipped, entry changed during read", cc.entry(id, nil))
	}
}

func (cc *cache[V]) selfHeal(ctx context.Context, storageKey, reason string) {
	_ = cc.kv.Del(ctx, storageKey)
	cc.hooks.SelfHeal(storageKey, reason)
	cc.log.Debug("self-healed entry", Fields{"key": storageKey, "reason": reason})
}

func (cc *cache[V]) storeErr(op, storageKey string, err error) {
	cc.hooks.StoreError(op, storageKey, err)
	cc.log.Warn("kv "+op+" failed, continuing without cache", Fields{"ns": cc.ns, "key": storageKey, "err": err})
}
