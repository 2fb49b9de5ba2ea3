package flows

import (
	"context"

	"github.com/vaultharden/authcore/internal/limiters"
)

// LoginFailureKind classifies login flow failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureRateLimited
	LoginFailureLocked
	LoginFailureInvalidCredentials
	LoginFailureBackend
	LoginFailureIssue
)

// LoginUserRecord is the slice of the host user row the login flow needs.
// PasswordHash may be empty for provider-only identities; those never
// authenticate with a password but still burn full verification time.
type LoginUserRecord struct {
	UserID       string
	PasswordHash string
}

// LoginResult carries either the issued tokens or failure metadata.
type LoginResult struct {
	Failure LoginFailureKind
	Err     error
	UserID  string
	Lock    limiters.Status
	Issued  *TokenIssue
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	// CheckRate is called once per throttle dimension, in order. Any
	// dimension failing rejects the whole login before credentials are
	// touched.
	CheckRate func(ctx context.Context, dimension, identifier string) error
	// ResetIdentifierRate forgives the per-identifier bucket after a
	// successful login. The IP bucket is deliberately left alone.
	ResetIdentifierRate func(ctx context.Context, identifier string) error

	CheckLockout  func(ctx context.Context, userID string) (limiters.Status, error)
	RecordFailure func(ctx context.Context, userID string) (limiters.Status, error)
	ResetLockout  func(ctx context.Context, userID string) error

	GetUserByIdentifier func(ctx context.Context, identifier string) (LoginUserRecord, bool, error)
	VerifyPassword      func(password, hash string) (bool, error)

	Issue func(ctx context.Context, userID string, rememberMe bool) (*TokenIssue, error)

	ClientIP func(context.Context) string

	ThrottleDimensions func(identifier, ip string) [][2]string
}

// RunLogin executes the credential flow in the mandated order: throttles
// first, lockout before any password work, verification against a dummy
// hash when the account is missing, and failure accounting on every wrong
// password. The caller maps failures to user-safe errors.
func RunLogin(ctx context.Context, identifier, password string, rememberMe bool, deps LoginDeps) LoginResult {
	ip := ""
	if deps.ClientIP != nil {
		ip = deps.ClientIP(ctx)
	}

	for _, dim := range deps.ThrottleDimensions(identifier, ip) {
		if dim[1] == "" {
			continue
		}
		if err := deps.CheckRate(ctx, dim[0], dim[1]); err != nil {
			return LoginResult{Failure: LoginFailureRateLimited, Err: err}
		}
	}

	user, found, err := deps.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		return LoginResult{Failure: LoginFailureBackend, Err: err}
	}

	if found {
		lock, err := deps.CheckLockout(ctx, user.UserID)
		if err != nil {
			return LoginResult{Failure: LoginFailureBackend, Err: err, UserID: user.UserID}
		}
		if lock.Locked {
			return LoginResult{Failure: LoginFailureLocked, UserID: user.UserID, Lock: lock}
		}
	}

	// Verification always runs, against the dummy hash when there is no
	// account or no password, so timing does not separate the cases.
	ok, err := deps.VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return LoginResult{Failure: LoginFailureBackend, Err: err, UserID: user.UserID}
	}

	if !ok || !found {
		result := LoginResult{Failure: LoginFailureInvalidCredentials, UserID: user.UserID}
		if found {
			lock, err := deps.RecordFailure(ctx, user.UserID)
			if err != nil {
				return LoginResult{Failure: LoginFailureBackend, Err: err, UserID: user.UserID}
			}
			result.Lock = lock
			if lock.Locked {
				result.Failure = LoginFailureLocked
			}
		}
		return result
	}

	if err := deps.ResetLockout(ctx, user.UserID); err != nil {
		return LoginResult{Failure: LoginFailureBackend, Err: err, UserID: user.UserID}
	}
	if deps.ResetIdentifierRate != nil {
		if err := deps.ResetIdentifierRate(ctx, identifier); err != nil {
			return LoginResult{Failure: LoginFailureBackend, Err: err, UserID: user.UserID}
		}
	}

	issued, err := deps.Issue(ctx, user.UserID, rememberMe)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, UserID: user.UserID}
	}

	return LoginResult{Failure: LoginFailureNone, UserID: user.UserID, Issued: issued}
}
