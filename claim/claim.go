// Package claim grants each subject at most one unit of a resource, exactly
// once per request id, without overselling bounded stock.
//
// A Claim runs: record check, per-subject lock, record re-check, eligibility,
// existing grant lookup, atomic stock admission, relational persist and
// finalization. Admission is reversed on every failure after the decrement,
// so the counter never drops below the number of committed grants.
package claim

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/internal/keys"
	"github.com/unkn0wn-root/examcache/kv"
	"github.com/unkn0wn-root/examcache/model"
	"github.com/unkn0wn-root/examcache/provider"
)

const (
	defaultLockLease      = 10 * time.Second
	defaultLockAttempts   = 3
	defaultLockRetryDelay = 25 * time.Millisecond
	defaultRecordTTL      = 24 * time.Hour
	defaultFailedTTL      = 60 * time.Second

	releaseTimeout = 2 * time.Second
)

// GrantStore is the relational side of a claim.
type GrantStore interface {
	// LoadResource returns examcache.ErrNotFound for an unknown id.
	LoadResource(ctx context.Context, id string) (model.Resource, error)
	// FindGrant returns examcache.ErrNotFound when subject holds no grant.
	FindGrant(ctx context.Context, resourceID, subjectID string) (model.Grant, error)
	// PersistGrant inserts g and, for bounded resources, decrements the
	// persisted stock in the same transaction. It returns
	// examcache.ErrConflict on a uniqueness violation and
	// examcache.ErrStockDepleted when no stock is left.
	PersistGrant(ctx context.Context, g model.Grant, bounded bool) (model.Grant, error)
	// AdjustStock adds delta to the persisted stock and returns the new value.
	AdjustStock(ctx context.Context, resourceID string, delta int64) (int64, error)
}

// EligibilityFunc decides whether subject may claim resource.
type EligibilityFunc func(ctx context.Context, resource model.Resource, subjectID string) (bool, error)

type Options struct {
	Store  kv.Store   // required
	Grants GrantStore // required

	// Replay caches terminal success records in process. Optional.
	Replay   provider.Provider
	Eligible EligibilityFunc

	LockLease      time.Duration // default 10s; also the pending record TTL
	LockAttempts   int           // default 3
	LockRetryDelay time.Duration // default 25ms
	RecordTTL      time.Duration // success records; default 24h
	FailedTTL      time.Duration // failed records; default 60s

	Logger examcache.Logger
	Hooks  examcache.Hooks
	Tracer trace.Tracer
	Now    func() time.Time
}

type Request struct {
	RequestID  string `validate:"required,max=128"`
	ResourceID string `validate:"required,max=128"`
	SubjectID  string `validate:"required,max=128"`
}

type Result struct {
	Token      string
	GrantID    string
	ResourceID string
	SubjectID  string
	Outcome    Outcome
	// Replayed is set when the result came from a stored record.
	Replayed bool
	// Converged is set when the subject already held a grant.
	Converged bool
}

type Coordinator struct {
	kv       kv.Store
	grants   GrantStore
	replay   provider.Provider
	eligible EligibilityFunc
	validate *validator.Validate

	lockLease      time.Duration
	lockAttempts   int
	lockRetryDelay time.Duration
	recordTTL      time.Duration
	failedTTL      time.Duration

	log    examcache.Logger
	hooks  examcache.Hooks
	tracer trace.Tracer
	now    func() time.Time
}

func New(opts Options) (*Coordinator, error) {
	if opts.Store == nil {
		return nil, errors.New("claim: store is required")
	}
	if opts.Grants == nil {
		return nil, errors.New("claim: grant store is required")
	}
	c := &Coordinator{
		kv:             opts.Store,
		grants:         opts.Grants,
		replay:         opts.Replay,
		eligible:       opts.Eligible,
		validate:       validator.New(),
		lockLease:      opts.LockLease,
		lockAttempts:   opts.LockAttempts,
		lockRetryDelay: opts.LockRetryDelay,
		recordTTL:      opts.RecordTTL,
		failedTTL:      opts.FailedTTL,
		log:            examcache.OrNop(opts.Logger),
		hooks:          opts.Hooks,
		tracer:         opts.Tracer,
		now:            opts.Now,
	}
	if c.lockLease <= 0 {
		c.lockLease = defaultLockLease
	}
	if c.lockAttempts <= 0 {
		c.lockAttempts = defaultLockAttempts
	}
	if c.lockRetryDelay <= 0 {
		c.lockRetryDelay = defaultLockRetryDelay
	}
	if c.recordTTL <= 0 {
		c.recordTTL = defaultRecordTTL
	}
	if c.failedTTL <= 0 {
		c.failedTTL = defaultFailedTTL
	}
	if c.hooks == nil {
		c.hooks = examcache.NopHooks{}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer("github.com/unkn0wn-root/examcache/claim")
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Claim grants req.SubjectID one unit of req.ResourceID. Repeating a request
// id returns the original outcome: the same token on success, an equal
// *Failure on a terminal failure.
func (c *Coordinator) Claim(ctx context.Context, req Request) (res Result, err error) {
	if err := c.validate.Struct(req); err != nil {
		return Result{}, fmt.Errorf("claim: invalid request: %w", err)
	}

	ctx, span := c.tracer.Start(ctx, "claim.Claim", trace.WithAttributes(
		attribute.String("claim.resource_id", req.ResourceID),
		attribute.String("claim.request_id", req.RequestID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.String("claim.outcome", res.Outcome.String()),
				attribute.Bool("claim.replayed", res.Replayed),
			)
		}
		span.End()
	}()

	rk := keys.ClaimRecord(req.ResourceID, req.RequestID)
	if rec, ok := c.replayed(ctx, rk); ok {
		return fromRecord(req, rec)
	}
	if rec, ok := c.loadRecord(ctx, rk); ok && rec.terminal() {
		return fromRecord(req, rec)
	}

	lk := keys.ClaimLock(req.ResourceID, req.SubjectID)
	owner := []byte(uuid.NewString())
	for attempt := 1; ; attempt++ {
		ok, err := c.kv.SetNX(ctx, lk, owner, c.lockLease)
		if err != nil {
			c.hooks.StoreError("setnx", lk, err)
			return Result{}, fmt.Errorf("claim: acquire lock: %w: %w", examcache.ErrStoreUnavailable, err)
		}
		if ok {
			break
		}
		// the holder may be finishing this same request id
		if rec, ok := c.loadRecord(ctx, rk); ok && rec.terminal() {
			return fromRecord(req, rec)
		}
		if attempt >= c.lockAttempts {
			c.hooks.LockContended(req.ResourceID, req.SubjectID)
			return Result{}, fmt.Errorf("claim: subject %q on %q: %w", req.SubjectID, req.ResourceID, examcache.ErrContention)
		}
		if err := sleepCtx(ctx, c.lockRetryDelay); err != nil {
			return Result{}, err
		}
	}
	defer c.release(ctx, lk, owner)

	return c.claimLocked(ctx, req, rk)
}

func (c *Coordinator) claimLocked(ctx context.Context, req Request, rk string) (Result, error) {
	if rec, ok := c.loadRecord(ctx, rk); ok && rec.terminal() {
		return fromRecord(req, rec)
	}

	// read under the lock so eligibility and seeding see current stock
	resource, err := c.grants.LoadResource(ctx, req.ResourceID)
	if err != nil {
		return Result{}, fmt.Errorf("claim: load resource %q: %w", req.ResourceID, err)
	}

	pending := record{
		RequestID:  req.RequestID,
		ResourceID: req.ResourceID,
		SubjectID:  req.SubjectID,
		Outcome:    OutcomePending,
	}
	if err := c.writeRecord(ctx, rk, pending); err != nil {
		c.log.Warn("pending record write failed", examcache.Fields{"key": rk, "err": err})
	}

	if c.eligible != nil {
		ok, err := c.eligible(ctx, resource, req.SubjectID)
		if err != nil {
			c.dropPending(ctx, rk)
			return Result{}, fmt.Errorf("claim: eligibility: %w", err)
		}
		if !ok {
			return c.fail(ctx, req, rk, reasonIneligible)
		}
	}

	existing, err := c.grants.FindGrant(ctx, resource.ID, req.SubjectID)
	switch {
	case err == nil:
		return c.succeed(ctx, req, rk, existing, true)
	case !errors.Is(err, examcache.ErrNotFound):
		c.dropPending(ctx, rk)
		return Result{}, fmt.Errorf("claim: find grant: %w", err)
	}

	if resource.Bounded {
		admitted, err := c.admit(ctx, resource)
		if err != nil {
			c.dropPending(ctx, rk)
			return Result{}, err
		}
		if !admitted {
			return c.fail(ctx, req, rk, reasonExhausted)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		if resource.Bounded {
			c.compensate(ctx, resource.ID, "persist_failed")
		}
		c.dropPending(ctx, rk)
		return Result{}, fmt.Errorf("claim: grant id: %w", err)
	}
	g := model.Grant{
		ID:         id.String(),
		ResourceID: resource.ID,
		SubjectID:  req.SubjectID,
		RequestID:  req.RequestID,
		CreatedAt:  c.now().UTC(),
	}

	saved, err := c.grants.PersistGrant(ctx, g, resource.Bounded)
	switch {
	case err == nil:
		return c.succeed(ctx, req, rk, saved, false)

	case errors.Is(err, examcache.ErrConflict):
		if resource.Bounded {
			c.compensate(ctx, resource.ID, "conflict")
		}
		existing, ferr := c.grants.FindGrant(ctx, resource.ID, req.SubjectID)
		if ferr == nil {
			return c.succeed(ctx, req, rk, existing, true)
		}
		c.dropPending(ctx, rk)
		if errors.Is(ferr, examcache.ErrNotFound) {
			// the request id belongs to another subject's grant
			return Result{}, fmt.Errorf("claim: request %q: %w", req.RequestID, examcache.ErrRequestMismatch)
		}
		return Result{}, fmt.Errorf("claim: find grant after conflict: %w: %w", examcache.ErrPersistence, ferr)

	case errors.Is(err, examcache.ErrStockDepleted):
		// the counter ran ahead of persisted stock; reseed on next claim
		c.resetCounter(ctx, resource.ID)
		c.hooks.Compensated(resource.ID, "depleted")
		return c.fail(ctx, req, rk, reasonExhausted)

	default:
		if resource.Bounded {
			c.compensate(ctx, resource.ID, "persist_failed")
		}
		c.dropPending(ctx, rk)
		return Result{}, fmt.Errorf("claim: persist grant: %w: %w", examcache.ErrPersistence, err)
	}
}

// admit seeds the counter from persisted stock when absent and takes one unit.
// When the counter is spent but persisted stock is not, the counter lagged a
// replenish or a lost compensation; it is reseeded once from a fresh read.
// A false result means nothing was left and the counter has been restored.
func (c *Coordinator) admit(ctx context.Context, resource model.Resource) (bool, error) {
	sk := keys.ClaimStock(resource.ID)
	left, err := c.take(ctx, sk, resource.Remaining)
	if err != nil {
		return false, err
	}
	if left >= 0 {
		return true, nil
	}
	c.compensate(ctx, resource.ID, "exhausted")

	fresh, err := c.grants.LoadResource(ctx, resource.ID)
	if err != nil {
		return false, fmt.Errorf("claim: reload resource %q: %w", resource.ID, err)
	}
	if fresh.Remaining <= 0 {
		return false, nil
	}
	if err := c.kv.Del(ctx, sk); err != nil {
		c.hooks.StoreError("del", sk, err)
		return false, fmt.Errorf("claim: reseed stock: %w: %w", examcache.ErrStoreUnavailable, err)
	}
	c.log.Info("stock counter reseeded", examcache.Fields{"resource": resource.ID, "remaining": fresh.Remaining})
	left, err = c.take(ctx, sk, fresh.Remaining)
	if err != nil {
		return false, err
	}
	if left >= 0 {
		return true, nil
	}
	c.compensate(ctx, resource.ID, "exhausted")
	return false, nil
}

// take seeds sk with remaining when absent and decrements it.
func (c *Coordinator) take(ctx context.Context, sk string, remaining int64) (int64, error) {
	seed := []byte(strconv.FormatInt(max(remaining, 0), 10))
	if _, err := c.kv.SetNX(ctx, sk, seed, 0); err != nil {
		c.hooks.StoreError("setnx", sk, err)
		return 0, fmt.Errorf("claim: seed stock: %w: %w", examcache.ErrStoreUnavailable, err)
	}
	left, err := c.kv.DecrBy(ctx, sk, 1)
	if err != nil {
		c.hooks.StoreError("decrby", sk, err)
		return 0, fmt.Errorf("claim: admit: %w: %w", examcache.ErrStoreUnavailable, err)
	}
	return left, nil
}

func (c *Coordinator) compensate(ctx context.Context, resourceID, reason string) {
	sk := keys.ClaimStock(resourceID)
	if _, err := c.kv.IncrBy(context.WithoutCancel(ctx), sk, 1); err != nil {
		// a lost increment is repaired by the reseed on exhaustion or by Resync
		c.hooks.StoreError("incrby", sk, err)
		c.log.Error("stock compensation failed", examcache.Fields{"resource": resourceID, "reason": reason, "err": err})
		return
	}
	c.hooks.Compensated(resourceID, reason)
}

func (c *Coordinator) resetCounter(ctx context.Context, resourceID string) {
	sk := keys.ClaimStock(resourceID)
	if err := c.kv.Del(context.WithoutCancel(ctx), sk); err != nil {
		c.hooks.StoreError("del", sk, err)
		c.log.Error("stock counter reset failed", examcache.Fields{"resource": resourceID, "err": err})
	}
}

func (c *Coordinator) succeed(ctx context.Context, req Request, rk string, g model.Grant, converged bool) (Result, error) {
	rec := record{
		RequestID:  req.RequestID,
		ResourceID: req.ResourceID,
		SubjectID:  req.SubjectID,
		Outcome:    OutcomeSuccess,
		Token:      g.ID,
	}
	if err := c.writeRecord(ctx, rk, rec); err != nil {
		// the grant is committed; a retry converges through FindGrant
		c.log.Warn("success record write failed", examcache.Fields{"key": rk, "err": err})
	}
	return Result{
		Token:      g.ID,
		GrantID:    g.ID,
		ResourceID: req.ResourceID,
		SubjectID:  req.SubjectID,
		Outcome:    OutcomeSuccess,
		Converged:  converged,
	}, nil
}

func (c *Coordinator) fail(ctx context.Context, req Request, rk, reason string) (Result, error) {
	rec := record{
		RequestID:  req.RequestID,
		ResourceID: req.ResourceID,
		SubjectID:  req.SubjectID,
		Outcome:    OutcomeFailed,
		Reason:     reason,
	}
	if err := c.writeRecord(ctx, rk, rec); err != nil {
		c.log.Warn("failed record write failed", examcache.Fields{"key": rk, "err": err})
	}
	return Result{}, &Failure{RequestID: req.RequestID, Reason: reason}
}

func (c *Coordinator) release(ctx context.Context, lk string, owner []byte) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := c.kv.CompareAndDelete(ctx, lk, owner); err != nil {
		// the lease expires on its own
		c.hooks.StoreError("cad", lk, err)
		c.log.Warn("lock release failed", examcache.Fields{"key": lk, "err": err})
	}
}

func fromRecord(req Request, rec record) (Result, error) {
	if rec.SubjectID != req.SubjectID || rec.ResourceID != req.ResourceID {
		return Result{}, fmt.Errorf("claim: request %q: %w", req.RequestID, examcache.ErrRequestMismatch)
	}
	if rec.Outcome == OutcomeFailed {
		return Result{}, &Failure{RequestID: req.RequestID, Reason: rec.Reason, Replayed: true}
	}
	return Result{
		Token:      rec.Token,
		GrantID:    rec.Token,
		ResourceID: rec.ResourceID,
		SubjectID:  rec.SubjectID,
		Outcome:    OutcomeSuccess,
		Replayed:   true,
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
