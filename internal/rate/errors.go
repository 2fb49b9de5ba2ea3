package rate

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLimited is the sentinel matched by [LimitedError].
	ErrLimited = errors.New("rate limited")
	// ErrBackendUnavailable indicates the limiter backend is unreachable.
	ErrBackendUnavailable = errors.New("rate limiter backend unavailable")
)

// LimitedError reports an exceeded attempt budget together with the time
// until the window resets.
type LimitedError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitedError) Is(target error) bool {
	return target == ErrLimited
}
