// Package rate implements the sliding-window attempt counter used for
// brute-force throttling. One Lua round trip per check keeps the read,
// window rollover, and increment atomic under concurrent callers.
package rate
