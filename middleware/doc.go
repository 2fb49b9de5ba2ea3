// Package middleware exposes HTTP adapters over the authcore engine: a
// bearer/cookie access-token guard and a CSRF double-submit check for
// mutating requests.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does NOT
// implement authentication logic itself — all decisions are delegated to
// the engine.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly (delegates to the engine).
//   - Access Redis (the engine handles I/O).
//   - Make authorization decisions beyond pass/reject.
package middleware
