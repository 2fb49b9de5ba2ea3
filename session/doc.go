// Package session models token families and implements the Redis-backed
// store whose Lua compare-and-rotate script guarantees exactly one winner
// for concurrent rotations of the same refresh token, with reuse detection
// and whole-family revocation as the breach response.
package session
