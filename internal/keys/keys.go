// Package keys owns the store key layout shared by the entity cache and the
// claim coordinator. Keys are versioned so a layout change never reads
// entries written by an older release.
package keys

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const version = "v1"

func join(parts ...string) string { return strings.Join(parts, ":") }

// Blob is the positive entry key for the single-blob encoding.
func Blob(ns, id string) string { return join(ns, id, "blob", version) }

// Hash is the positive entry key for the field-mapped encoding.
func Hash(ns, id string) string { return join(ns, id, "hash", version) }

// Null is the negative (tombstone) entry key.
func Null(ns, id string) string { return join(ns, id, "null", version) }

// Gen is the per-id write generation. It outlives the entries it fences and
// is never part of Entity.
func Gen(ns, id string) string { return join(ns, id, "gen", version) }

// Index is the existence set for a namespace.
func Index(ns string) string { return join(ns, "ids", version) }

// Entity returns every per-id key of a namespace; Invalidate deletes all of them.
func Entity(ns, id string) []string {
	return []string{Blob(ns, id), Hash(ns, id), Null(ns, id)}
}

func ClaimRecord(resourceID, requestID string) string {
	return join("claim", resourceID, "req", requestID)
}

func ClaimLock(resourceID, subjectID string) string {
	return join("claim", resourceID, "lock", subjectID)
}

func ClaimStock(resourceID string) string {
	return join("claim", resourceID, "stock")
}

// Fingerprint is a stable 64-bit digest over parts. Parts are length-prefixed
// so ("ab","c") and ("a","bc") never collide.
func Fingerprint(parts ...string) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.WriteString(strconv.Itoa(len(p)))
		_, _ = d.WriteString(":")
		_, _ = d.WriteString(p)
	}
	return d.Sum64()
}

// Short renders a fingerprint of s as 16 hex chars, used to redact keys in logs.
func Short(s string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(s))
}
