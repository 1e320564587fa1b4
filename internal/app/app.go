// Package app wires configuration into the running components: stores,
// caches, the claim coordinator and the exam paginator.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdslog "log/slog"
	"time"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/claim"
	"github.com/unkn0wn-root/examcache/codec"
	async "github.com/unkn0wn-root/examcache/hooks/async"
	"github.com/unkn0wn-root/examcache/internal/catalog"
	"github.com/unkn0wn-root/examcache/internal/config"
	"github.com/unkn0wn-root/examcache/internal/profile"
	"github.com/unkn0wn-root/examcache/keyset"
	"github.com/unkn0wn-root/examcache/kv"
	kvredis "github.com/unkn0wn-root/examcache/kv/redis"
	logruslog "github.com/unkn0wn-root/examcache/log/logrus"
	sloglog "github.com/unkn0wn-root/examcache/log/slog"
	zaplog "github.com/unkn0wn-root/examcache/log/zap"
	"github.com/unkn0wn-root/examcache/loghooks"
	"github.com/unkn0wn-root/examcache/model"
	"github.com/unkn0wn-root/examcache/provider"
	"github.com/unkn0wn-root/examcache/provider/bigcache"
	"github.com/unkn0wn-root/examcache/provider/ristretto"
	"github.com/unkn0wn-root/examcache/store/postgres"
)

type App struct {
	Config config.Config
	Log    examcache.Logger
	KV     kv.Store
	DB     postgres.DB

	UserRepo     *postgres.Users
	Users        *profile.Service
	QuestionRepo *postgres.Questions
	Questions    examcache.EntityCache[model.Question]
	Catalog      *catalog.Service
	ExamRepo     *postgres.Exams
	Exams        *keyset.Paginator[model.Exam, model.ExamFilter]
	Grants       *postgres.Grants
	Claims       *claim.Coordinator

	closers []func(context.Context) error
}

// NewLogger builds the configured logging backend writing to w. The returned
// func flushes buffered output.
func NewLogger(cfg config.Log, w io.Writer) (examcache.Logger, func() error, error) {
	switch cfg.Backend {
	case "", "zap":
		l, z, err := zaplog.New(cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		return l, z.Sync, nil
	case "logrus":
		l, err := logruslog.New(w, cfg.Level)
		if err != nil {
			return nil, nil, err
		}
		return l, func() error { return nil }, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, nil, err
		}
		return sloglog.NewJSON(w, lvl), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("app: unknown log backend %q", cfg.Backend)
	}
}

// Open dials Redis and Postgres and builds the App on top of them.
func Open(ctx context.Context, cfg config.Config, log examcache.Logger) (*App, error) {
	store, err := kvredis.Dial(ctx, kvredis.ClientOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, err
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:            cfg.Postgres.DSN,
		MaxConns:       cfg.Postgres.MaxConns,
		ConnectRetries: cfg.Postgres.ConnectRetries,
		RetryDelay:     cfg.Postgres.RetryDelay,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a, err := Build(ctx, cfg, log, store, pool)
	if err != nil {
		pool.Close()
		_ = store.Close()
		return nil, err
	}
	a.closers = append(a.closers,
		func(context.Context) error { pool.Close(); return nil },
		func(context.Context) error { return store.Close() },
	)
	return a, nil
}

// Build assembles components over already-open stores. Stores are not
// closed by App.Close.
func Build(ctx context.Context, cfg config.Config, log examcache.Logger, store kv.Store, db postgres.DB) (*App, error) {
	log = examcache.OrNop(log)
	a := &App{Config: cfg, Log: log, KV: store, DB: db}

	hooks := async.New(loghooks.New(log, loghooks.Options{
		StoreErrorEvery: 10,
		SelfHealEvery:   1,
		ContentionEvery: 10,
	}), 1, 1024)
	a.closers = append(a.closers, func(context.Context) error { hooks.Close(); return nil })

	a.UserRepo = postgres.NewUsers(db)
	users, err := newUserCache(cfg.Cache, store, a.UserRepo, log, hooks)
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	a.Users = profile.NewService(a.UserRepo, users, log)

	a.QuestionRepo = postgres.NewQuestions(db)
	qc, err := codec.ByName[model.Question](cfg.Cache.QuestionCodec)
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	a.Questions, err = examcache.New(examcache.Options[model.Question]{
		Namespace:    "question",
		Store:        store,
		Loader:       a.QuestionRepo,
		Codec:        codec.Limit[model.Question]{Inner: qc, MaxDecode: 1 << 20},
		TTL:          cfg.Cache.TTL,
		NegativeTTL:  cfg.Cache.NegativeTTL,
		DisableIndex: cfg.Cache.DisableIndex,
		Logger:       log,
		Hooks:        hooks,
	})
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	a.Catalog = catalog.NewService(a.QuestionRepo, a.Questions, log)

	a.ExamRepo = postgres.NewExams(db)
	a.Exams, err = keyset.NewPaginator(keyset.Options[model.Exam, model.ExamFilter]{
		Querier: a.ExamRepo,
		Cursor:  postgres.ExamPosition,
		Scope:   func(f model.ExamFilter) string { return f.Creator },
		Name:    "exams",
		Default: cfg.Pagination.DefaultLimit,
		Max:     cfg.Pagination.MaxLimit,
	})
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}

	replay, err := newReplay(ctx, cfg.Claim)
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	if replay != nil {
		a.closers = append(a.closers, replay.Close)
	}

	a.Grants = postgres.NewGrants(db)
	a.Claims, err = claim.New(claim.Options{
		Store:          store,
		Grants:         a.Grants,
		Replay:         replay,
		Eligible:       a.activeSubject,
		LockLease:      cfg.Claim.LockLease,
		LockAttempts:   cfg.Claim.LockAttempts,
		LockRetryDelay: cfg.Claim.LockRetryDelay,
		RecordTTL:      cfg.Claim.RecordTTL,
		FailedTTL:      cfg.Claim.FailedTTL,
		Logger:         log,
		Hooks:          hooks,
	})
	if err != nil {
		return nil, a.closeWith(ctx, err)
	}
	return a, nil
}

func newUserCache(cfg config.Cache, store kv.Store, repo *postgres.Users, log examcache.Logger, hooks examcache.Hooks) (examcache.EntityCache[model.User], error) {
	enc, err := examcache.ParseEncoding(cfg.UserEncoding)
	if err != nil {
		return nil, err
	}
	c, err := codec.ByName[model.User](cfg.Codec)
	if err != nil {
		return nil, err
	}
	return examcache.New(examcache.Options[model.User]{
		Namespace:    "user",
		Store:        store,
		Loader:       repo,
		Encoding:     enc,
		Codec:        c,
		Fields:       model.UserFields{},
		TTL:          cfg.TTL,
		NegativeTTL:  cfg.NegativeTTL,
		DisableIndex: cfg.DisableIndex,
		Logger:       log,
		Hooks:        hooks,
	})
}

func newReplay(ctx context.Context, cfg config.Claim) (provider.Provider, error) {
	maxBytes := int64(cfg.ReplayMaxMB) << 20
	switch cfg.Replay {
	case "", "none":
		return nil, nil
	case "ristretto":
		return ristretto.New(ristretto.Config{MaxCost: maxBytes})
	case "bigcache":
		// bigcache gives every entry the same lifetime; keep it within RecordTTL
		return bigcache.New(ctx, bigcache.Config{
			LifeWindow:         min(cfg.RecordTTL, time.Hour),
			HardMaxCacheSizeMB: cfg.ReplayMaxMB,
		})
	default:
		return nil, fmt.Errorf("app: unknown replay cache %q", cfg.Replay)
	}
}

// activeSubject admits only live, active users to claims.
func (a *App) activeSubject(ctx context.Context, _ model.Resource, subjectID string) (bool, error) {
	u, err := a.Users.Get(ctx, subjectID)
	if errors.Is(err, examcache.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return u.Active(), nil
}

func (a *App) closeWith(ctx context.Context, cause error) error {
	return errors.Join(cause, a.Close(ctx))
}

// Close releases everything Open or Build acquired, in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
