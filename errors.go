package examcache

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound: the entity or resource does not exist in the relational store.
	ErrNotFound = errors.New("examcache: not found")
	// ErrConflict: a uniqueness constraint rejected a relational write.
	ErrConflict = errors.New("examcache: conflict")

	// ErrExhausted: no stock was left at admission time. Terminal for the request.
	ErrExhausted = errors.New("examcache: resource exhausted")
	// ErrContention: the per-subject lock could not be acquired. Retry with backoff.
	ErrContention = errors.New("examcache: too many concurrent attempts, retry later")
	// ErrStoreUnavailable: a key-value store step without a safe fallback failed.
	ErrStoreUnavailable = errors.New("examcache: key-value store unavailable")
	// ErrPersistence: the relational write failed after admission. Retryable.
	ErrPersistence = errors.New("examcache: persistence failed")
	// ErrIneligible: the subject may not claim the resource.
	ErrIneligible = errors.New("examcache: subject not eligible")
	// ErrStockDepleted is returned by grant stores when the guarded stock update
	// matched no row.
	ErrStockDepleted = errors.New("examcache: persisted stock depleted")
	// ErrRequestMismatch: a request id was reused for another subject or resource.
	ErrRequestMismatch = errors.New("examcache: request id reused with different parameters")

	// ErrInvalidCursor: a pagination cursor failed to decode or verify.
	ErrInvalidCursor = errors.New("examcache: invalid cursor")
)

// InvalidateError reports which parts of an invalidation failed. Callers
// usually log it; the cached copy expires with its TTL regardless.
type InvalidateError struct {
	ID       string
	GenErr   error // bumping the write generation; in-flight backfills are not fenced
	DelErr   error // deleting cached representations
	IndexErr error // removing the id from the existence index
	NullErr  error // writing the negative entry
}

func (e *InvalidateError) Error() string {
	var parts []string
	if e.GenErr != nil {
		parts = append(parts, fmt.Sprintf("generation bump failed: %v", e.GenErr))
	}
	if e.DelErr != nil {
		parts = append(parts, fmt.Sprintf("delete failed: %v", e.DelErr))
	}
	if e.IndexErr != nil {
		parts = append(parts, fmt.Sprintf("index remove failed: %v", e.IndexErr))
	}
	if e.NullErr != nil {
		parts = append(parts, fmt.Sprintf("negative entry write failed: %v", e.NullErr))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("invalidate %q: unknown error", e.ID)
	}
	return fmt.Sprintf("invalidate %q: %s", e.ID, strings.Join(parts, "; "))
}

func (e *InvalidateError) Unwrap() []error {
	errs := make([]error, 0, 4)
	for _, err := range []error{e.GenErr, e.DelErr, e.IndexErr, e.NullErr} {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (e *InvalidateError) empty() bool {
	return e.GenErr == nil && e.DelErr == nil && e.IndexErr == nil && e.NullErr == nil
}
