// Package stores holds Redis-backed persistence for opaque single-use
// credentials, currently the password-reset token store.
package stores
