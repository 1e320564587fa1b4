package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/examcache/kv"
)

var ErrNilClient = errors.New("redis kv: nil client")

// compareAndDelete releases a key only while it still holds the caller's token.
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// writeIfGen applies a write only while KEYS[1] holds ARGV[1]. KEYS[2] is the
// target and KEYS[3:] are cleared first. ARGV[3] selects a string ("s") or
// hash ("h") write; hash pairs start at ARGV[5].
var writeIfGen = goredis.NewScript(`
local cur = redis.call("GET", KEYS[1]) or "0"
if cur ~= ARGV[1] then
  return 0
end
for i = 3, #KEYS do
  redis.call("DEL", KEYS[i])
end
redis.call("DEL", KEYS[2])
if ARGV[3] == "h" then
  redis.call("HSET", KEYS[2], unpack(ARGV, 5))
else
  redis.call("SET", KEYS[2], ARGV[4])
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`)

type Store struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ kv.Store = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Store{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

// ClientOptions describe a connection owned by the caller of Dial.
type ClientOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TLS      *tls.Config
}

// Dial opens a client and pings it within a short timeout. The returned
// Store owns the client and closes it on Close.
func Dial(ctx context.Context, o ClientOptions) (*Store, error) {
	if o.Addr == "" {
		return nil, errors.New("redis kv: addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:      o.Addr,
		Password:  o.Password,
		DB:        o.DB,
		PoolSize:  o.PoolSize,
		TLSConfig: o.TLS,
	})
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis kv: ping %s: %w", o.Addr, err)
	}
	return New(Config{Client: client, CloseClient: true})
}

func ttlOrNone(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0 // no expiry
	}
	return ttl
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttlOrNone(ttl)).Err()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.rdb.Del(ctx, keys...).Err()
}

func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, value, ttlOrNone(ttl)).Result()
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, value []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, s.rdb, []string{key}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.rdb.IncrBy(ctx, key, delta).Result()
}

func (s *Store) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.rdb.DecrBy(ctx, key, delta).Result()
}

func members(m []string) []any {
	out := make([]any, len(m))
	for i, v := range m {
		out[i] = v
	}
	return out
}

func (s *Store) SAdd(ctx context.Context, set string, m ...string) error {
	if len(m) == 0 {
		return nil
	}
	return s.rdb.SAdd(ctx, set, members(m)...).Err()
}

func (s *Store) SRem(ctx context.Context, set string, m ...string) error {
	if len(m) == 0 {
		return nil
	}
	return s.rdb.SRem(ctx, set, members(m)...).Err()
}

func (s *Store) SIsMember(ctx context.Context, set, member string) (bool, error) {
	return s.rdb.SIsMember(ctx, set, member).Result()
}

// HSet replaces the hash at key with fields. DEL, HSET and EXPIRE run in one
// MULTI so readers never observe a hash without its TTL or with stale fields
// left over from a previous version.
func (s *Store) HSet(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	if len(fields) == 0 {
		return errors.New("redis kv: HSet with no fields")
	}
	values := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		values = append(values, k, v)
	}
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, values...)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	return err
}

func (s *Store) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.rdb.HGetAll(ctx, key).Result()
}

// Bump runs INCR and EXPIRE in one MULTI so a generation never outlives its
// retention without being refreshed.
func (s *Store) Bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		if ttl > 0 {
			p.Expire(ctx, key, ttl)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (s *Store) WriteIfGen(ctx context.Context, w kv.GuardedWrite) (bool, error) {
	keys := make([]string, 0, 2+len(w.Clear))
	keys = append(keys, w.GenKey, w.Key)
	keys = append(keys, w.Clear...)

	args := []any{strconv.FormatInt(w.Gen, 10), ttlOrNone(w.TTL).Milliseconds()}
	if w.Fields != nil {
		if len(w.Fields) == 0 {
			return false, errors.New("redis kv: WriteIfGen with no fields")
		}
		args = append(args, "h", "")
		for k, v := range w.Fields {
			args = append(args, k, v)
		}
	} else {
		args = append(args, "s", w.Value)
	}

	n, err := writeIfGen.Run(ctx, s.rdb, keys, args...).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the underlying redis client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Store) Close() error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
