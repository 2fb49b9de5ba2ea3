package authcore

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	internalaudit "github.com/vaultharden/authcore/internal/audit"
	"github.com/vaultharden/authcore/internal/limiters"
	"github.com/vaultharden/authcore/internal/rate"
	"github.com/vaultharden/authcore/internal/stores"
	"github.com/vaultharden/authcore/jwt"
	"github.com/vaultharden/authcore/password"
	"github.com/vaultharden/authcore/session"
)

// Builder assembles an [Engine]. A builder is single-use.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	mailer       Mailer
	auditSink    AuditSink
	clock        func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the builder's configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, rate limits, reset
// tokens, and the audit store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the host user store integration.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithMailer sets the outbound delivery hook for password reset tokens.
// Required when password reset is enabled.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink tees an extra sink into the audit pipeline alongside the
// built-in queryable store.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// Build validates the configuration, wires every component, and returns a
// ready engine. When maintenance is enabled the background scheduler is
// started; [Engine.Close] stops it.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PasswordReset.Enabled && b.mailer == nil {
		return nil, errors.New("password reset requires a mailer")
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}

	engine := &Engine{
		config:       cfg,
		redis:        b.redis,
		userProvider: b.userProvider,
		mailer:       b.mailer,
		now:          now,
	}

	engine.sessionStore = session.NewStore(b.redis, cfg.Session.RedisPrefix)
	engine.rateLimiter = rate.New(b.redis)
	engine.lockout = limiters.NewLockoutTracker(b.userProvider, limiters.LockoutConfig{
		Threshold: cfg.Lockout.Threshold,
		Duration:  cfg.Lockout.Duration,
	}, now)
	engine.resetStore = stores.NewPasswordResetStore(b.redis, now)

	engine.auditStore = internalaudit.NewStore(b.redis, now)
	var sink internalaudit.Sink = engine.auditStore
	if b.auditSink != nil {
		sink = internalaudit.NewTeeSink(engine.auditStore, b.auditSink)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    true,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sink)

	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	if cfg.Maintenance.Enabled {
		engine.scheduler = newScheduler(engine, cfg.Maintenance, cfg.Audit.Retention)
		engine.scheduler.Start()
	}

	b.built = true

	return engine, nil
}
