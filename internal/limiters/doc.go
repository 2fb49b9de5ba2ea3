// Package limiters wraps persistent brute-force defenses that live on the
// user row rather than in Redis: failed-attempt counting and timed account
// lockout.
package limiters
