package claim

import (
	"context"
	"fmt"
	"strconv"

	"github.com/unkn0wn-root/examcache"
	"github.com/unkn0wn-root/examcache/internal/keys"
)

// Replenish adds delta units to a bounded resource. The persisted stock moves
// first, then the counter is dropped so the next claim reseeds it from the
// new persisted value. Adjusting a live counter in place would race a claim
// that is seeding it from an older read.
func (c *Coordinator) Replenish(ctx context.Context, resourceID string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("claim: replenish %q: delta must be positive", resourceID)
	}
	remaining, err := c.grants.AdjustStock(ctx, resourceID, delta)
	if err != nil {
		return 0, fmt.Errorf("claim: replenish %q: %w", resourceID, err)
	}
	if err := c.dropCounter(ctx, resourceID); err != nil {
		return remaining, fmt.Errorf("claim: replenish %q: %w", resourceID, err)
	}
	c.log.Info("stock replenished", examcache.Fields{"resource": resourceID, "delta": delta, "remaining": remaining})
	return remaining, nil
}

// Resync drops the counter so the next claim reseeds it from persisted stock.
// Use after an outage that may have lost compensations.
func (c *Coordinator) Resync(ctx context.Context, resourceID string) error {
	if err := c.dropCounter(ctx, resourceID); err != nil {
		return fmt.Errorf("claim: resync %q: %w", resourceID, err)
	}
	return nil
}

func (c *Coordinator) dropCounter(ctx context.Context, resourceID string) error {
	sk := keys.ClaimStock(resourceID)
	if err := c.kv.Del(ctx, sk); err != nil {
		c.hooks.StoreError("del", sk, err)
		return fmt.Errorf("%w: %w", examcache.ErrStoreUnavailable, err)
	}
	return nil
}

// Stock reports the admission counter. seeded is false until the first
// claim on a bounded resource.
func (c *Coordinator) Stock(ctx context.Context, resourceID string) (n int64, seeded bool, err error) {
	b, ok, err := c.kv.Get(ctx, keys.ClaimStock(resourceID))
	if err != nil {
		return 0, false, fmt.Errorf("claim: stock %q: %w: %w", resourceID, examcache.ErrStoreUnavailable, err)
	}
	if !ok {
		return 0, false, nil
	}
	n, err = strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("claim: stock %q: malformed counter %q", resourceID, b)
	}
	return n, true, nil
}
