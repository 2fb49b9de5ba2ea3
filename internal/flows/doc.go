// Package flows contains the pure orchestration logic for the engine's
// credential and token operations. Each flow takes its collaborators as a
// Deps struct of plain functions, so the decision logic can be exercised in
// tests without Redis or a user backend, and reports a typed FailureKind
// the caller maps onto its public error surface.
package flows
