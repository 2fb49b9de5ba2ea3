// Package authcore is an embeddable authentication and session security
// core: JWT access tokens, rotating opaque refresh tokens with reuse
// detection over token families, sliding-window rate limiting, account
// lockout, CSRF double-submit validation, password reset tokens, and a
// queryable audit log. Redis backs every store.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// and value types (TokenPair, SessionInfo, SecurityReport, etc.). All
// internal coordination — flow orchestration, rate limiting, lockout
// bookkeeping, audit dispatch — lives under internal/ and is never
// exported.
//
// # What this package must NOT do
//
//   - Expose Redis clients, internal stores, or token encoding details in
//     its public API.
//   - Persist any secret in recoverable form: refresh and reset tokens are
//     stored as SHA-256 digests only.
//   - Perform I/O outside of Engine methods (construction via Builder is
//     allocation-only until Build).
//
// # Security contract
//
// ValidateAccess is the hot path: a pure signature check with no store
// round-trip. Rotation, reuse detection, and family revocation execute as
// single atomic store operations, so concurrent duplicate rotations resolve
// to exactly one winner. Rate-limit and lockout checks fail closed when the
// backing store is unreachable.
package authcore
