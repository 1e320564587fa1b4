package examcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	c "github.com/unkn0wn-root/examcache/codec"
	"github.com/unkn0wn-root/examcache/internal/keys"
	"github.com/unkn0wn-root/examcache/internal/kvtest"
	"github.com/unkn0wn-root/examcache/internal/mocks"
	"github.com/unkn0wn-root/examcache/internal/wire"
	"github.com/unkn0wn-root/examcache/kv"
)

type user struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Phone *string `json:"phone,omitempty"`
}

type userFields struct{}

func (userFields) ToFields(u user) (map[string]string, error) {
	m := map[string]string{"id": u.ID, "name": u.Name}
	if u.Phone != nil {
		m["phone"] = *u.Phone
	}
	return m, nil
}

func (userFields) FromFields(m map[string]string) (user, error) {
	u := user{ID: m["id"], Name: m["name"]}
	if p, ok := m["phone"]; ok {
		u.Phone = &p
	}
	if u.ID == "" {
		return user{}, errors.New("missing id")
	}
	return u, nil
}

// memLoader is the relational store stand-in. It counts every load.
type memLoader struct {
	mu    sync.Mutex
	rows  map[string]user
	calls int
	err   error
}

func newMemLoader(rows ...user) *memLoader {
	l := &memLoader{rows: map[string]user{}}
	for _, r := range rows {
		l.rows[r.ID] = r
	}
	return l
}

func (l *memLoader) LoadByID(_ context.Context, id string) (user, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return user{}, l.err
	}
	u, ok := l.rows[id]
	if !ok {
		return user{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (l *memLoader) set(u user) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows[u.ID] = u
}

func (l *memLoader) remove(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.rows, id)
}

func (l *memLoader) loads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// gatedLoader parks its first load after reading the row, until release is
// closed. loaded is closed once the row has been read.
type gatedLoader struct {
	*memLoader
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedLoader(rows ...user) *gatedLoader {
	return &gatedLoader{
		memLoader: newMemLoader(rows...),
		loaded:    make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (g *gatedLoader) LoadByID(ctx context.Context, id string) (user, error) {
	u, err := g.memLoader.LoadByID(ctx, id)
	g.once.Do(func() {
		close(g.loaded)
		<-g.release
	})
	return u, err
}

type getResult struct {
	u   user
	ok  bool
	err error
}

// getAsync starts a Get that blocks inside the loader and waits until the
// loader has read its row.
func getAsync(ctx context.Context, cc EntityCache[user], g *gatedLoader, id string) <-chan getResult {
	out := make(chan getResult, 1)
	go func() {
		u, ok, err := cc.Get(ctx, id)
		out <- getResult{u, ok, err}
	}()
	<-g.loaded
	return out
}

type recHooks struct {
	NopHooks
	mu        sync.Mutex
	selfHeals []string
	storeErrs []string
	outages   int
}

func (h *recHooks) SelfHeal(k, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.selfHeals = append(h.selfHeals, reason)
}

func (h *recHooks) StoreError(op, k string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.storeErrs = append(h.storeErrs, op)
}

func (h *recHooks) InvalidateOutage(string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outages++
}

func newTestCache(t *testing.T, store kv.Store, l Loader[user], optsOpt func(*Options[user])) EntityCache[user] {
	t.Helper()
	opts := Options[user]{
		Namespace: "user",
		Store:     store,
		Loader:    l,
		Codec:     c.JSON[user]{},
		Fields:    userFields{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[user](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func encodings() []Encoding { return []Encoding{EncodingBlob, EncodingHash} }

func withEncoding(e Encoding) func(*Options[user]) {
	return func(o *Options[user]) { o.Encoding = e }
}

func TestNewValidatesOptions(t *testing.T) {
	store, _ := kvtest.NewStore(t)
	l := newMemLoader()
	cases := map[string]Options[user]{
		"namespace": {Store: store, Loader: l},
		"store":     {Namespace: "u", Loader: l},
		"loader":    {Namespace: "u", Store: store},
		"fields":    {Namespace: "u", Store: store, Loader: l, Encoding: EncodingHash},
		"encoding":  {Namespace: "u", Store: store, Loader: l, Encoding: Encoding(9)},
	}
	for name, opts := range cases {
		if _, err := New[user](opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestOptionDefaults(t *testing.T) {
	store, mr := kvtest.NewStore(t)
	cc, err := newCache[user](Options[user]{Namespace: "user", Store: store, Loader: newMemLoader(), TTL: -time.Second})
	if err != nil {
		t.Fatalf("newCache: %v", err)
	}
	if cc.ttl != defaultTTL || cc.negTTL != defaultNegativeTTL || cc.genTTL != defaultGenRetention {
		t.Fatalf("ttls = %v %v %v", cc.ttl, cc.negTTL, cc.genTTL)
	}
	if _, ok := cc.log.(NopLogger); !ok {
		t.Fatalf("logger = %T", cc.log)
	}
	if _, ok := cc.codec.(c.JSON[user]); !ok {
		t.Fatalf("codec = %T", cc.codec)
	}

	if err := cc.Put(context.Background(), "1", user{ID: "1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if ttl := mr.TTL(keys.Gen("user", "1")); ttl != defaultGenRetention {
		t.Fatalf("generation retention = %v", ttl)
	}
}

// An id that was never created is answered from the index and then from the
// negative entry; the loader is never consulted.
func TestNeverCreatedIsNegativeCached(t *testing.T) {
	for _, enc := range encodings() {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			store, mr := kvtest.NewStore(t)
			l := newMemLoader()
			cc := newTestCache(t, store, l, withEncoding(enc))

			for i := 0; i < 3; i++ {
				if _, ok, err := cc.Get(ctx, "ghost"); err != nil || ok {
					t.Fatalf("Get ghost: ok=%v err=%v", ok, err)
				}
			}
			if n := l.loads(); n != 0 {
				t.Fatalf("loader hit %d times for unknown id", n)
			}
			if !mr.Exists(keys.Null("user", "ghost")) {
				t.Fatalf("negative entry not written")
			}
			if ttl := mr.TTL(keys.Null("user", "ghost")); ttl != defaultNegativeTTL {
				t.Fatalf("negative TTL = %v", ttl)
			}
		})
	}
}

func TestNotFoundInDBIsNegativeCachedWithoutIndex(t *testing.T) {
	ctx := context.Background()
	store, _ := kvtest.NewStore(t)
	l := newMemLoader()
	cc := newTestCache(t, store, l, func(o *Options[user]) { o.DisableIndex = true })

	for i := 0; i < 3; i++ {
		if _, ok, err := cc.Get(ctx, "ghost"); err != nil || ok {
			t.Fatalf("Get ghost: ok=%v err=%v", ok, err)
		}
	}
	if n := l.loads(); n != 1 {
		t.Fatalf("expected exactly one load within the negative window, got %d", n)
	}
}

func TestGetLoadsOnceAndBackfills(t *testing.T) {
	for _, enc := range encodings() {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			store, mr := kvtest.NewStore(t)
			want := user{ID: "1", Name: "Ada"}
			l := newMemLoader(want)
			cc := newTestCache(t, store, l, withEncoding(enc))

			if err := cc.Warm(ctx, "1"); err != nil {
				t.Fatalf("Warm: %v", err)
			}
			for i := 0; i < 3; i++ {
				got, ok, err := cc.Get(ctx, "1")
				if err != nil || !ok || got.Name != want.Name || got.Phone != nil {
					t.Fatalf("Get: ok=%v err=%v got=%+v", ok, err, got)
				}
			}
			if n := l.loads(); n != 1 {
				t.Fatalf("loader hit %d times, want 1", n)
			}

			k := keys.Blob("user", "1")
			if enc == EncodingHash {
				k = keys.Hash("user", "1")
			}
			if ttl := mr.TTL(k); ttl != defaultTTL {
				t.Fatalf("positive TTL = %v", ttl)
			}
		})
	}
}

func TestCreateUpdateDeleteLifecycle(t *testing.T) {
	for _, enc := range encodings() {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			store, _ := kvtest.NewStore(t)
			l := newMemLoader()
			cc := newTestCache(t, store, l, withEncoding(enc))

			// Reader saw the id before it existed.
			if _, ok, _ := cc.Get(ctx, "7"); ok {
				t.Fatalf("expected miss before create")
			}

			v1 := user{ID: "7", Name: "Grace"}
			l.set(v1)
			if err := cc.MarkCreated(ctx, "7", v1); err != nil {
				t.Fatalf("MarkCreated: %v", err)
			}
			if got, ok, err := cc.Get(ctx, "7"); err != nil || !ok || got.Name != "Grace" {
				t.Fatalf("Get after create: ok=%v err=%v got=%+v", ok, err, got)
			}
			if n := l.loads(); n != 0 {
				t.Fatalf("create should have populated the cache, loads=%d", n)
			}

			v2 := user{ID: "7", Name: "Grace Hopper"}
			l.set(v2)
			if err := cc.Invalidate(ctx, "7"); err != nil {
				t.Fatalf("Invalidate: %v", err)
			}
			if got, ok, err := cc.Get(ctx, "7"); err != nil || !ok || got.Name != v2.Name {
				t.Fatalf("Get after invalidate returned stale data: %+v ok=%v err=%v", got, ok, err)
			}

			delete(l.rows, "7")
			if err := cc.MarkDeleted(ctx, "7"); err != nil {
				t.Fatalf("MarkDeleted: %v", err)
			}
			before := l.loads()
			if _, ok, err := cc.Get(ctx, "7"); err != nil || ok {
				t.Fatalf("Get after delete: ok=%v err=%v", ok, err)
			}
			if l.loads() != before {
				t.Fatalf("deleted id should be answered by the negative entry")
			}
		})
	}
}

func TestPutClearsNegativeEntry(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	cc := newTestCache(t, store, newMemLoader(), nil)

	if _, ok, _ := cc.Get(ctx, "9"); ok {
		t.Fatalf("expected miss")
	}
	if err := cc.Put(ctx, "9", user{ID: "9", Name: "x"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if mr.Exists(keys.Null("user", "9")) {
		t.Fatalf("negative entry survived Put")
	}
}

func TestPutSkipsPositiveWhenGenerationBumpFails(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	faulty := kvtest.NewFaulty(store)
	cc := newTestCache(t, faulty, newMemLoader(), nil)

	if _, ok, _ := cc.Get(ctx, "1"); ok {
		t.Fatalf("expected miss")
	}
	faulty.Fail("Bump")
	if err := cc.Put(ctx, "1", user{ID: "1"}); err == nil {
		t.Fatalf("expected error")
	}
	if mr.Exists(keys.Blob("user", "1")) {
		t.Fatalf("positive entry written without a generation")
	}
	if !mr.Exists(keys.Null("user", "1")) {
		t.Fatalf("negative entry cleared by a failed put")
	}
}

// A read that loaded the row before a delete must not store it afterwards.
func TestBackfillLosesToConcurrentDelete(t *testing.T) {
	for _, enc := range encodings() {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			store, mr := kvtest.NewStore(t)
			l := newGatedLoader(user{ID: "u1", Name: "alice"})
			cc := newTestCache(t, store, l, withEncoding(enc))
			_ = cc.Warm(ctx, "u1")

			pending := getAsync(ctx, cc, l, "u1")
			l.remove("u1")
			if err := cc.MarkDeleted(ctx, "u1"); err != nil {
				t.Fatalf("MarkDeleted: %v", err)
			}
			close(l.release)
			if r := <-pending; r.err != nil || !r.ok || r.u.Name != "alice" {
				t.Fatalf("in-flight Get: %+v", r)
			}

			if _, ok, err := cc.Get(ctx, "u1"); err != nil || ok {
				t.Fatalf("deleted row served after a racing backfill: ok=%v err=%v", ok, err)
			}
			if mr.Exists(keys.Blob("user", "u1")) || mr.Exists(keys.Hash("user", "u1")) {
				t.Fatalf("stale positive entry stored")
			}
			if !mr.Exists(keys.Null("user", "u1")) {
				t.Fatalf("negative entry cleared by a stale backfill")
			}

			// a later write still lands
			l.set(user{ID: "u1", Name: "alice again"})
			if err := cc.MarkCreated(ctx, "u1", user{ID: "u1", Name: "alice again"}); err != nil {
				t.Fatalf("MarkCreated: %v", err)
			}
			if got, ok, _ := cc.Get(ctx, "u1"); !ok || got.Name != "alice again" {
				t.Fatalf("Get after re-create: ok=%v got=%+v", ok, got)
			}
		})
	}
}

func TestBackfillLosesToConcurrentInvalidate(t *testing.T) {
	ctx := context.Background()
	store, _ := kvtest.NewStore(t)
	l := newGatedLoader(user{ID: "u1", Name: "v1"})
	cc := newTestCache(t, store, l, nil)
	_ = cc.Warm(ctx, "u1")

	pending := getAsync(ctx, cc, l, "u1")
	l.set(user{ID: "u1", Name: "v2"})
	if err := cc.Invalidate(ctx, "u1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	close(l.release)
	<-pending

	got, ok, err := cc.Get(ctx, "u1")
	if err != nil || !ok || got.Name != "v2" {
		t.Fatalf("stale value cached over an update: ok=%v err=%v got=%+v", ok, err, got)
	}
	if n := l.loads(); n != 2 {
		t.Fatalf("loads = %d, want a reload after the skipped backfill", n)
	}
}

// A miss that raced a create must not leave a negative entry behind.
func TestNegativeEntryLosesToConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	l := newGatedLoader()
	cc := newTestCache(t, store, l, func(o *Options[user]) { o.DisableIndex = true })

	pending := getAsync(ctx, cc, l, "n1")
	created := user{ID: "n1", Name: "new"}
	l.set(created)
	if err := cc.MarkCreated(ctx, "n1", created); err != nil {
		t.Fatalf("MarkCreated: %v", err)
	}
	close(l.release)
	if r := <-pending; r.err != nil || r.ok {
		t.Fatalf("in-flight Get: %+v", r)
	}

	if mr.Exists(keys.Null("user", "n1")) {
		t.Fatalf("negative entry written over a newer create")
	}
	if got, ok, _ := cc.Get(ctx, "n1"); !ok || got.Name != "new" {
		t.Fatalf("Get after create: ok=%v got=%+v", ok, got)
	}
	if n := l.loads(); n != 1 {
		t.Fatalf("created entry should be served from cache, loads=%d", n)
	}
}

func TestUnreadableGenerationSkipsWrites(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	cc := newTestCache(t, store, newMemLoader(user{ID: "1", Name: "a"}), func(o *Options[user]) { o.DisableIndex = true })

	if err := mr.Set(keys.Gen("user", "1"), "garbage"); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := cc.Get(ctx, "1"); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if mr.Exists(keys.Blob("user", "1")) {
		t.Fatalf("backfill must not run without a readable generation")
	}
}

func TestHashEncodingOptionalFields(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	phone := "555-0100"
	l := newMemLoader(user{ID: "1", Name: "a"}, user{ID: "2", Name: "b", Phone: &phone}, user{ID: "3"})
	cc := newTestCache(t, store, l, withEncoding(EncodingHash))
	_ = cc.Warm(ctx, "1", "2", "3")

	for _, id := range []string{"1", "2", "3"} {
		if _, _, err := cc.Get(ctx, id); err != nil {
			t.Fatalf("prime %s: %v", id, err)
		}
	}
	if n := l.loads(); n != 3 {
		t.Fatalf("loads = %d", n)
	}

	if mr.HGet(keys.Hash("user", "1"), "phone") != "" {
		t.Fatalf("absent field was written to the hash")
	}

	got, ok, _ := cc.Get(ctx, "1")
	if !ok || got.Phone != nil {
		t.Fatalf("absent field came back present: %+v", got)
	}
	got, ok, _ = cc.Get(ctx, "2")
	if !ok || got.Phone == nil || *got.Phone != phone {
		t.Fatalf("present field lost: %+v", got)
	}
	// name empty, phone absent: the marker keeps it a hit
	if _, ok, _ := cc.Get(ctx, "3"); !ok {
		t.Fatalf("sparse entity should still be a hit")
	}
	if n := l.loads(); n != 3 {
		t.Fatalf("hash reads should be cache hits, loads = %d", n)
	}
}

func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	hooks := &recHooks{}
	l := newMemLoader(user{ID: "bad", Name: "B"})
	cc := newTestCache(t, store, l, func(o *Options[user]) { o.Hooks = hooks; o.DisableIndex = true })

	k := keys.Blob("user", "bad")
	if err := mr.Set(k, "not-wire-format"); err != nil {
		t.Fatalf("inject: %v", err)
	}
	got, ok, err := cc.Get(ctx, "bad")
	if err != nil || !ok || got.Name != "B" {
		t.Fatalf("Get on corrupt should fall back to loader: ok=%v err=%v", ok, err)
	}

	// valid frame, undecodable payload
	if err := store.Set(ctx, k, wire.EncodeEntry([]byte("{")), time.Minute); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if _, ok, _ := cc.Get(ctx, "bad"); !ok {
		t.Fatalf("expected reload")
	}

	// hash without marker
	hk := keys.Hash("user", "bad")
	mr.HSet(hk, "id", "bad")
	hc := newTestCache(t, store, l, func(o *Options[user]) {
		o.Hooks = hooks
		o.DisableIndex = true
		o.Encoding = EncodingHash
	})
	if _, ok, _ := hc.Get(ctx, "bad"); !ok {
		t.Fatalf("expected reload")
	}

	want := []string{"corrupt", "value_decode", "corrupt"}
	if fmt.Sprint(hooks.selfHeals) != fmt.Sprint(want) {
		t.Fatalf("self-heals = %v, want %v", hooks.selfHeals, want)
	}
	if n := l.loads(); n != 3 {
		t.Fatalf("loads = %d", n)
	}
}

// Every store call failing must degrade to the loader, never to an error.
func TestStoreOutageFallsBackToLoader(t *testing.T) {
	for _, enc := range encodings() {
		t.Run(enc.String(), func(t *testing.T) {
			ctx := context.Background()
			store, _ := kvtest.NewStore(t)
			faulty := kvtest.NewFaulty(store, "Get", "Set", "Del", "Exists", "SAdd", "SIsMember", "HSet", "HGetAll", "Bump", "WriteIfGen")
			hooks := &recHooks{}
			l := newMemLoader(user{ID: "1", Name: "Ada"})
			cc := newTestCache(t, faulty, l, func(o *Options[user]) { o.Hooks = hooks; o.Encoding = enc })

			got, ok, err := cc.Get(ctx, "1")
			if err != nil || !ok || got.Name != "Ada" {
				t.Fatalf("Get during outage: ok=%v err=%v got=%+v", ok, err, got)
			}
			if _, ok, err := cc.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("Get missing during outage: ok=%v err=%v", ok, err)
			}
			if len(hooks.storeErrs) == 0 {
				t.Fatalf("store errors were not reported")
			}

			var ie *InvalidateError
			if err := cc.Invalidate(ctx, "1"); !errors.As(err, &ie) || !errors.Is(err, kvtest.ErrInjected) {
				t.Fatalf("Invalidate error = %v", err)
			}
			if ie.GenErr == nil || ie.DelErr == nil {
				t.Fatalf("Invalidate error = %v", ie)
			}
			if err := cc.MarkDeleted(ctx, "1"); !errors.As(err, &ie) || ie.GenErr == nil || ie.DelErr == nil || ie.NullErr == nil {
				t.Fatalf("MarkDeleted error = %v", err)
			}
			if hooks.outages != 2 {
				t.Fatalf("outages = %d", hooks.outages)
			}
		})
	}
}

// An unreadable index is skipped; the read continues to the positive entry.
func TestIndexFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store, _ := kvtest.NewStore(t)
	faulty := kvtest.NewFaulty(store, "SIsMember")
	l := newMemLoader(user{ID: "1", Name: "Ada"})
	cc := newTestCache(t, faulty, l, nil)

	if _, ok, err := cc.Get(ctx, "1"); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if _, ok, err := cc.Get(ctx, "1"); err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if n := l.loads(); n != 1 {
		t.Fatalf("second read should hit the positive entry, loads=%d", n)
	}
}

func TestLoaderErrorIsSurfaced(t *testing.T) {
	ctx := context.Background()
	store, mr := kvtest.NewStore(t)
	boom := errors.New("db down")
	l := newMemLoader()
	l.err = boom
	cc := newTestCache(t, store, l, func(o *Options[user]) { o.DisableIndex = true })

	if _, _, err := cc.Get(ctx, "1"); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if mr.Exists(keys.Null("user", "1")) {
		t.Fatalf("a failed load must not be negative-cached")
	}
}

func TestLoaderMockCalledOncePerMiss(t *testing.T) {
	ctrl := gomock.NewController(t)
	loader := mocks.NewMockLoader[user](ctrl)
	loader.EXPECT().LoadByID(gomock.Any(), "42").Return(user{ID: "42", Name: "m"}, nil).Times(1)

	store, _ := kvtest.NewStore(t)
	cc := newTestCache(t, store, loader, func(o *Options[user]) { o.DisableIndex = true })
	for i := 0; i < 2; i++ {
		if _, ok, err := cc.Get(context.Background(), "42"); err != nil || !ok {
			t.Fatalf("Get: ok=%v err=%v", ok, err)
		}
	}
}

// Opaque payloads (question options/answers) must round-trip byte-for-byte.
// Opaque JSON must come back byte for byte, spacing and markup included.
func TestOpaquePayloadRoundTrip(t *testing.T) {
	type question struct {
		ID      string          `json:"id"`
		Options json.RawMessage `json:"options,omitempty"`
		Answer  json.RawMessage `json:"answer,omitempty"`
	}
	raw := json.RawMessage(`{"A": "<b>x</b>", "B": [1, 2.50, {"deep": 9007199254740993}]}`)

	for name, codec := range map[string]c.Codec[question]{
		"msgpack": c.Msgpack[question]{},
		"cbor":    c.MustCBOR[question](false),
	} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store, _ := kvtest.NewStore(t)
			src := question{ID: "q", Options: raw}
			cc, err := New[question](Options[question]{
				Namespace:    "question",
				Store:        store,
				Loader:       LoaderFunc[question](func(context.Context, string) (question, error) { return src, nil }),
				Codec:        codec,
				DisableIndex: true,
			})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, _, _ = cc.Get(ctx, "q")
			got, ok, err := cc.Get(ctx, "q")
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if string(got.Options) != string(raw) {
				t.Fatalf("options changed: %s", got.Options)
			}
			if got.Answer != nil {
				t.Fatalf("absent answer came back as %q", got.Answer)
			}
		})
	}
}

func TestJSONCodecKeepsNumericPrecision(t *testing.T) {
	type doc struct {
		Meta map[string]any `json:"meta"`
	}
	ctx := context.Background()
	store, _ := kvtest.NewStore(t)
	src := doc{Meta: map[string]any{"weight": json.Number("12345678901234567")}}
	cc, err := New[doc](Options[doc]{
		Namespace:    "doc",
		Store:        store,
		Loader:       LoaderFunc[doc](func(context.Context, string) (doc, error) { return src, nil }),
		DisableIndex: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, _, _ = cc.Get(ctx, "d")
	got, ok, err := cc.Get(ctx, "d")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Meta["weight"] != json.Number("12345678901234567") {
		t.Fatalf("numeric field lost precision: %#v", got.Meta["weight"])
	}
}

func TestParseEncoding(t *testing.T) {
	for in, want := range map[string]Encoding{"": EncodingBlob, "blob": EncodingBlob, "hash": EncodingHash} {
		got, err := ParseEncoding(in)
		if err != nil || got != want {
			t.Fatalf("ParseEncoding(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseEncoding("xml"); err == nil {
		t.Fatalf("expected error")
	}
}
