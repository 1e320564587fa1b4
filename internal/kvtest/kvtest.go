// Package kvtest provides kv.Store fixtures for tests: a miniredis-backed
// store and a wrapper that fails selected operations.
package kvtest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/examcache/kv"
	kvredis "github.com/unkn0wn-root/examcache/kv/redis"
)

var ErrInjected = errors.New("kvtest: injected failure")

// NewStore starts an in-process redis and returns a store bound to it.
func NewStore(t testing.TB) (*kvredis.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s, err := kvredis.New(kvredis.Config{Client: client, CloseClient: true})
	if err != nil {
		t.Fatalf("kvtest: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

// Faulty forwards to Inner except for operations named in Fail, which return
// ErrInjected. Calls counts every forwarded or failed call by operation name.
type Faulty struct {
	Inner kv.Store

	mu    sync.Mutex
	fail  map[string]bool
	calls map[string]*atomic.Int64
}

var _ kv.Store = (*Faulty)(nil)

func NewFaulty(inner kv.Store, ops ...string) *Faulty {
	f := &Faulty{Inner: inner, fail: map[string]bool{}, calls: map[string]*atomic.Int64{}}
	f.Fail(ops...)
	return f
}

func (f *Faulty) Fail(ops ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, op := range ops {
		f.fail[op] = true
	}
}

func (f *Faulty) Heal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = map[string]bool{}
}

func (f *Faulty) Calls(op string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.calls[op]; ok {
		return c.Load()
	}
	return 0
}

func (f *Faulty) hit(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[op]
	if !ok {
		c = &atomic.Int64{}
		f.calls[op] = c
	}
	c.Add(1)
	if f.fail[op] {
		return ErrInjected
	}
	return nil
}

func (f *Faulty) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := f.hit("Get"); err != nil {
		return nil, false, err
	}
	return f.Inner.Get(ctx, key)
}

func (f *Faulty) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.hit("Set"); err != nil {
		return err
	}
	return f.Inner.Set(ctx, key, value, ttl)
}

func (f *Faulty) Del(ctx context.Context, keys ...string) error {
	if err := f.hit("Del"); err != nil {
		return err
	}
	return f.Inner.Del(ctx, keys...)
}

func (f *Faulty) Exists(ctx context.Context, key string) (bool, error) {
	if err := f.hit("Exists"); err != nil {
		return false, err
	}
	return f.Inner.Exists(ctx, key)
}

func (f *Faulty) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := f.hit("SetNX"); err != nil {
		return false, err
	}
	return f.Inner.SetNX(ctx, key, value, ttl)
}

func (f *Faulty) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	if err := f.hit("CompareAndDelete"); err != nil {
		return false, err
	}
	return f.Inner.CompareAndDelete(ctx, key, value)
}

func (f *Faulty) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := f.hit("IncrBy"); err != nil {
		return 0, err
	}
	return f.Inner.IncrBy(ctx, key, delta)
}

func (f *Faulty) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := f.hit("DecrBy"); err != nil {
		return 0, err
	}
	return f.Inner.DecrBy(ctx, key, delta)
}

func (f *Faulty) SAdd(ctx context.Context, set string, members ...string) error {
	if err := f.hit("SAdd"); err != nil {
		return err
	}
	return f.Inner.SAdd(ctx, set, members...)
}

func (f *Faulty) SRem(ctx context.Context, set string, members ...string) error {
	if err := f.hit("SRem"); err != nil {
		return err
	}
	return f.Inner.SRem(ctx, set, members...)
}

func (f *Faulty) SIsMember(ctx context.Context, set, member string) (bool, error) {
	if err := f.hit("SIsMember"); err != nil {
		return false, err
	}
	return f.Inner.SIsMember(ctx, set, member)
}

func (f *Faulty) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if err := f.hit("HSet"); err != nil {
		return err
	}
	return f.Inner.HSet(ctx, key, fields, ttl)
}

func (f *Faulty) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if err := f.hit("HGetAll"); err != nil {
		return nil, err
	}
	return f.Inner.HGetAll(ctx, key)
}

func (f *Faulty) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if err := f.hit("Bump"); err != nil {
		return 0, err
	}
	return f.Inner.Bump(ctx, key, ttl)
}

func (f *Faulty) WriteIfGen(ctx context.Context, w kv.GuardedWrite) (bool, error) {
	if err := f.hit("WriteIfGen"); err != nil {
		return false, err
	}
	return f.Inner.WriteIfGen(ctx, w)
}

func (f *Faulty) Ping(ctx context.Context) error {
	if err := f.hit("Ping"); err != nil {
		return err
	}
	return f.Inner.Ping(ctx)
}

func (f *Faulty) Close() error { return f.Inner.Close() }
