package examcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache and the claim coordinator call them on hot paths.
type Hooks interface {
	// An entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode", "fields_decode"}
	SelfHeal(storageKey, reason string)

	// A key-value call failed and the caller continued without it.
	StoreError(op, storageKey string, err error)

	// Invalidate could not clear every representation of an id.
	InvalidateOutage(id string, err error)

	// Admission state was rolled back.
	// reason ∈ {"exhausted", "persist_failed", "conflict", "depleted"}
	Compensated(resourceID, reason string)

	// Every lock attempt for a subject found the lock held.
	LockContended(resourceID, subjectID string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)          {}
func (NopHooks) StoreError(string, string, error) {}
func (NopHooks) InvalidateOutage(string, error)   {}
func (NopHooks) Compensated(string, string)       {}
func (NopHooks) LockContended(string, string)     {}
