package authcore

import (
	"errors"
	"net/http"
	"time"
)

// Config is the full engine configuration. Zero values are filled from
// [DefaultConfig] by the builder; Validate runs at build time.
type Config struct {
	JWT           JWTConfig
	Session       SessionConfig
	Password      PasswordConfig
	RateLimit     RateLimitConfig
	Lockout       LockoutConfig
	PasswordReset PasswordResetConfig
	CSRF          CSRFConfig
	Cookies       CookieConfig
	Audit         AuditConfig
	Maintenance   MaintenanceConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the access token codec.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig configures refresh sessions and rotation behavior.
type SessionConfig struct {
	RedisPrefix string
	// RefreshTTL is the default refresh horizon; RememberMeTTL replaces it
	// when a login sets rememberMe.
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
	// GraceWindow tolerates one duplicate rotation per session, masking
	// client retry races. Outside it, reuse revokes the whole family.
	GraceWindow time.Duration
	// MaxRotations bounds how long one login can live through perpetual
	// rotation. Zero disables the ceiling.
	MaxRotations int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig configures the sliding-window attempt counters. Login is
// throttled independently per identifier and per source IP; any dimension
// failing rejects the whole attempt.
type RateLimitConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	EnableRefreshThrottle    bool

	MaxLoginAttempts int
	LoginWindow      time.Duration

	MaxLoginPerIP int
	IPWindow      time.Duration

	MaxRefreshAttempts int
	RefreshWindow      time.Duration

	MaxResetRequests int
	ResetWindow      time.Duration
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig configures the per-account failed-login lockout.
type LockoutConfig struct {
	Threshold int
	Duration  time.Duration
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig configures reset token issuance.
type PasswordResetConfig struct {
	Enabled  bool
	TokenTTL time.Duration
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig configures the double-submit guard. The cookie is readable by
// client-side code on purpose; that is what lets it be echoed back in the
// header.
type CSRFConfig struct {
	CookieName string
	HeaderName string
	TTL        time.Duration
}

/*
====================================
COOKIE CONFIG
====================================
*/

// CookieConfig configures how tokens ride on the transport. Access and
// refresh cookies are HTTP-only; the refresh cookie is scoped to the
// refresh path so it never travels on ordinary requests.
type CookieConfig struct {
	AccessName  string
	RefreshName string
	RefreshPath string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig configures the audit pipeline. Events always go to the
// Redis-backed query store; an extra sink supplied to the builder is teed
// in behind the async dispatcher.
type AuditConfig struct {
	BufferSize int
	DropIfFull bool
	Retention  time.Duration
}

/*
====================================
MAINTENANCE CONFIG
====================================
*/

// MaintenanceConfig configures the background sweeps. All sweeps are
// idempotent and only delete rows that are already logically dead.
type MaintenanceConfig struct {
	Enabled              bool
	SessionSweepInterval time.Duration
	RateSweepInterval    time.Duration
	ResetSweepInterval   time.Duration
	AuditSweepInterval   time.Duration
}

// DefaultConfig returns the hardened defaults. Only signing key material
// must be supplied on top of it.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix:   "as",
			RefreshTTL:    7 * 24 * time.Hour,
			RememberMeTTL: 90 * 24 * time.Hour,
			GraceWindow:   5 * time.Second,
			MaxRotations:  300,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		RateLimit: RateLimitConfig{
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			EnableRefreshThrottle:    true,
			MaxLoginAttempts:         5,
			LoginWindow:              15 * time.Minute,
			MaxLoginPerIP:            20,
			IPWindow:                 15 * time.Minute,
			MaxRefreshAttempts:       20,
			RefreshWindow:            time.Minute,
			MaxResetRequests:         3,
			ResetWindow:              time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Duration:  5 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:  true,
			TokenTTL: time.Hour,
		},
		CSRF: CSRFConfig{
			CookieName: "csrf_token",
			HeaderName: "x-csrf-token",
			TTL:        2 * time.Hour,
		},
		Cookies: CookieConfig{
			AccessName:  "access_token",
			RefreshName: "refresh_token",
			RefreshPath: "/auth/refresh",
			Secure:      true,
			SameSite:    http.SameSiteStrictMode,
		},
		Audit: AuditConfig{
			BufferSize: 1024,
			DropIfFull: true,
			Retention:  90 * 24 * time.Hour,
		},
		Maintenance: MaintenanceConfig{
			Enabled:              false,
			SessionSweepInterval: time.Hour,
			RateSweepInterval:    time.Hour,
			ResetSweepInterval:   time.Hour,
			AuditSweepInterval:   24 * time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot run safely.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("JWT PrivateKey required")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RememberMeTTL < c.Session.RefreshTTL {
		return errors.New("Session RememberMeTTL must be >= RefreshTTL")
	}
	if c.Session.GraceWindow < 0 {
		return errors.New("Session GraceWindow must be >= 0")
	}
	if c.Session.GraceWindow > time.Minute {
		return errors.New("Session GraceWindow must be <= 1m")
	}
	if c.Session.MaxRotations < 0 {
		return errors.New("Session MaxRotations must be >= 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Rate limits
	if c.RateLimit.EnableIdentifierThrottle {
		if c.RateLimit.MaxLoginAttempts <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit identifier throttle requires MaxLoginAttempts and LoginWindow > 0")
		}
	}
	if c.RateLimit.EnableIPThrottle {
		if c.RateLimit.MaxLoginPerIP <= 0 || c.RateLimit.IPWindow <= 0 {
			return errors.New("RateLimit IP throttle requires MaxLoginPerIP and IPWindow > 0")
		}
	}
	if c.RateLimit.EnableRefreshThrottle {
		if c.RateLimit.MaxRefreshAttempts <= 0 || c.RateLimit.RefreshWindow <= 0 {
			return errors.New("RateLimit refresh throttle requires MaxRefreshAttempts and RefreshWindow > 0")
		}
	}

	// Lockout
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout Threshold must be > 0")
	}
	if c.Lockout.Duration <= 0 {
		return errors.New("Lockout Duration must be > 0")
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TokenTTL <= 0 {
			return errors.New("PasswordReset TokenTTL must be > 0")
		}
		if c.RateLimit.MaxResetRequests <= 0 || c.RateLimit.ResetWindow <= 0 {
			return errors.New("PasswordReset requires MaxResetRequests and ResetWindow > 0")
		}
	}

	// CSRF
	if c.CSRF.CookieName == "" || c.CSRF.HeaderName == "" {
		return errors.New("CSRF CookieName and HeaderName required")
	}
	if c.CSRF.TTL <= 0 {
		return errors.New("CSRF TTL must be > 0")
	}

	// Cookies
	if c.Cookies.AccessName == "" || c.Cookies.RefreshName == "" {
		return errors.New("Cookie AccessName and RefreshName required")
	}
	if c.Cookies.RefreshPath == "" {
		return errors.New("Cookie RefreshPath required")
	}

	// Audit
	if c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.Retention <= 0 {
		return errors.New("Audit Retention must be > 0")
	}

	// Maintenance
	if c.Maintenance.Enabled {
		if c.Maintenance.SessionSweepInterval <= 0 ||
			c.Maintenance.RateSweepInterval <= 0 ||
			c.Maintenance.ResetSweepInterval <= 0 ||
			c.Maintenance.AuditSweepInterval <= 0 {
			return errors.New("Maintenance sweep intervals must be > 0")
		}
	}

	return nil
}
