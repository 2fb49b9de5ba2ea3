// Package audit provides the append-only security event log: the event
// model, pluggable sinks, an asynchronous dispatcher, and a Redis-backed
// queryable store for investigative queries and retention cleanup.
package audit
