package examcache

import (
	"context"
	"fmt"
	"time"

	c "github.com/unkn0wn-root/examcache/codec"
	"github.com/unkn0wn-root/examcache/kv"
)

//go:generate mockgen -source=api.go -destination=internal/mocks/loader_mock.go -package=mocks -exclude_interfaces=FieldMapper,EntityCache

// Loader reads the source of truth. It returns ErrNotFound (possibly wrapped)
// when the entity does not exist; any other error is surfaced to the caller.
type Loader[V any] interface {
	LoadByID(ctx context.Context, id string) (V, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc[V any] func(ctx context.Context, id string) (V, error)

func (f LoaderFunc[V]) LoadByID(ctx context.Context, id string) (V, error) { return f(ctx, id) }

// FieldMapper converts V to and from a flat field map for the hash encoding.
// Absent optional fields must be omitted by ToFields, and FromFields must
// leave them absent.
type FieldMapper[V any] interface {
	ToFields(V) (map[string]string, error)
	FromFields(map[string]string) (V, error)
}

// Encoding selects the physical layout of positive entries.
type Encoding uint8

const (
	EncodingBlob Encoding = iota // one framed value encoded by Codec
	EncodingHash                 // one store hash produced by FieldMapper
)

func (e Encoding) String() string {
	switch e {
	case EncodingBlob:
		return "blob"
	case EncodingHash:
		return "hash"
	default:
		return fmt.Sprintf("encoding(%d)", uint8(e))
	}
}

// ParseEncoding accepts "blob" (or "") and "hash".
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "blob":
		return EncodingBlob, nil
	case "hash":
		return EncodingHash, nil
	default:
		return 0, fmt.Errorf("examcache: unknown encoding %q", s)
	}
}

// EntityCache is a read-through cache for one entity type with an existence
// index and negative entries.
type EntityCache[V any] interface {
	// Get returns (v, true, nil) when the entity exists and (zero, false, nil)
	// when it does not. Store failures fall back to the Loader; only Loader
	// errors are returned.
	Get(ctx context.Context, id string) (v V, ok bool, err error)

	// Put bumps the id's write generation, then clears any negative entry
	// and writes the positive one in a single step. A concurrent writer with
	// a newer generation wins.
	Put(ctx context.Context, id string, v V) error
	// Invalidate bumps the write generation and drops the positive (both
	// encodings) and negative entries, so a read that loaded before it can
	// not backfill afterwards. Failures are reported as *InvalidateError.
	Invalidate(ctx context.Context, id string) error

	// MarkCreated records a newly created entity: index add, then Put.
	MarkCreated(ctx context.Context, id string, v V) error
	// MarkDeleted records a (soft) deletion: generation bump, positive
	// entries swapped for a negative entry, then index remove.
	MarkDeleted(ctx context.Context, id string) error
	// Warm adds ids to the existence index without touching entries.
	Warm(ctx context.Context, ids ...string) error

	Encoding() Encoding
}

// Options tune an EntityCache.
// Namespace, Store and Loader are required; others have sensible defaults.
type Options[V any] struct {
	// Required
	Namespace string // key prefix, e.g. "user:profile"
	Store     kv.Store
	Loader    Loader[V]

	Encoding Encoding       // default EncodingBlob
	Codec    c.Codec[V]     // blob encoding; nil => JSON
	Fields   FieldMapper[V] // required for EncodingHash

	TTL          time.Duration // positive entries; 0 => 24h
	NegativeTTL  time.Duration // negative entries; 0 => 60s
	GenRetention time.Duration // per-id write generations; 0 => 30 days
	DisableIndex bool          // skip the existence index on reads and writes

	Logger Logger // if nil, NopLogger is used
	Hooks  Hooks  // if nil, NopHooks is used
}

func New[V any](opts Options[V]) (EntityCache[V], error) {
	return newCache[V](opts)
}
