// Package examcache is the caching and coordination core of the exam backend.
// It sits between request handlers and two independently failing stores: a
// relational database (source of truth) and a shared key-value store.
//
// Components:
//   - EntityCache[V]: read-through cache for one entity type with an
//     existence index, negative entries and invalidate-on-write.
//   - claim.Coordinator: applies "claim one unit of a scarce resource" at most
//     once per request id and never lets stock go negative.
//   - keyset.Paginator: stable (sort_key DESC, id DESC) listings behind
//     opaque, tamper-evident cursors.
//
// Keys (see internal/keys):
//
//	<ns>:<id>:blob:v1   - positive entry, blob encoding
//	<ns>:<id>:hash:v1   - positive entry, field-mapped encoding
//	<ns>:<id>:null:v1   - negative entry
//	<ns>:ids:v1         - existence index
//
// Read path:
//
//	negative? -> not found
//	index says unknown? -> write negative, not found
//	positive? -> hit
//	load from DB -> negative on not found, else backfill positive + index
//
// Key-value failures never fail a read; the cache steps aside and the Loader
// answers.
package examcache
