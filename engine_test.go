package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// mockUserProvider is an in-memory host user store with the lockout
// columns an integration would keep on the user row.
type mockUserProvider struct {
	mu           sync.Mutex
	users        map[string]UserRecord
	byIdentifier map[string]string

	failedAttempts map[string]int
	lockedUntil    map[string]time.Time

	lookupErr error
	updateErr error
	now       func() time.Time

	getByIdentifierCalls int
	updatePasswordCalls  int
	registerFailureCalls int
	clearLockoutCalls    int
}

func newMockUserProvider(now func() time.Time) *mockUserProvider {
	if now == nil {
		now = time.Now
	}
	return &mockUserProvider{
		users:          map[string]UserRecord{},
		byIdentifier:   map[string]string{},
		failedAttempts: map[string]int{},
		lockedUntil:    map[string]time.Time{},
		now:            now,
	}
}

func (m *mockUserProvider) addUser(userID, identifier, passwordHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userID] = UserRecord{UserID: userID, Identifier: identifier, PasswordHash: passwordHash}
	m.byIdentifier[identifier] = userID
}

func (m *mockUserProvider) GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getByIdentifierCalls++

	if m.lookupErr != nil {
		return UserRecord{}, false, m.lookupErr
	}
	userID, ok := m.byIdentifier[identifier]
	if !ok {
		return UserRecord{}, false, nil
	}
	return m.users[userID], true, nil
}

func (m *mockUserProvider) GetUserByID(ctx context.Context, userID string) (UserRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.users[userID]
	return user, ok, nil
}

func (m *mockUserProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updatePasswordCalls++

	if m.updateErr != nil {
		return m.updateErr
	}
	user, ok := m.users[userID]
	if !ok {
		return errors.New("not found")
	}
	user.PasswordHash = newHash
	m.users[userID] = user
	return nil
}

func (m *mockUserProvider) LockoutState(ctx context.Context, userID string) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failedAttempts[userID], m.lockedUntil[userID], nil
}

func (m *mockUserProvider) RegisterFailedAttempt(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerFailureCalls++

	m.failedAttempts[userID]++
	count := m.failedAttempts[userID]
	if count >= threshold {
		m.lockedUntil[userID] = m.now().Add(lockFor)
	}
	return count, m.lockedUntil[userID], nil
}

func (m *mockUserProvider) ClearLockout(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLockoutCalls++

	delete(m.failedAttempts, userID)
	delete(m.lockedUntil, userID)
	return nil
}

// mockMailer records reset deliveries.
type mockMailer struct {
	mu      sync.Mutex
	sendErr error
	sent    []sentReset
}

type sentReset struct {
	userID     string
	identifier string
	token      string
	expiresAt  time.Time
}

func (m *mockMailer) SendPasswordReset(ctx context.Context, userID, identifier, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, sentReset{userID: userID, identifier: identifier, token: token, expiresAt: expiresAt})
	return nil
}

func (m *mockMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func (m *mockMailer) last() sentReset {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

// fakeClock is a mutable time source shared by engine and provider.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.JWT.AccessTTL = 5 * time.Minute
	cfg.Session.RefreshTTL = time.Hour
	cfg.Session.RememberMeTTL = 24 * time.Hour
	cfg.Session.GraceWindow = 5 * time.Second
	cfg.Session.MaxRotations = 50
	// small parameters keep hashing fast in tests
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.RateLimit.MaxLoginAttempts = 5
	cfg.RateLimit.LoginWindow = time.Minute
	cfg.RateLimit.MaxLoginPerIP = 20
	cfg.RateLimit.IPWindow = time.Minute
	cfg.RateLimit.MaxRefreshAttempts = 100
	cfg.RateLimit.RefreshWindow = time.Minute
	cfg.RateLimit.MaxResetRequests = 5
	cfg.RateLimit.ResetWindow = time.Minute
	return cfg
}

type testEnv struct {
	engine *Engine
	rdb    *redis.Client
	mr     *miniredis.Miniredis
	up     *mockUserProvider
	mailer *mockMailer
	clock  *fakeClock
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	clock := newFakeClock()
	up := newMockUserProvider(clock.Now)
	mailer := &mockMailer{}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserProvider(up).
		WithMailer(mailer).
		WithClock(clock.Now).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		mr.Close()
	})

	return &testEnv{engine: engine, rdb: rdb, mr: mr, up: up, mailer: mailer, clock: clock}
}

func (env *testEnv) addUser(t *testing.T, userID, identifier, plainPassword string) {
	t.Helper()

	hash, err := env.engine.passwordHash.Hash(plainPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	env.up.addUser(userID, identifier, hash)
}

func TestBuilderRequiresDependencies(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without redis")
	}

	mr, rdb := newTestRedis(t)
	defer mr.Close()

	if _, err := New().WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected error without user provider")
	}

	cfg := testConfig()
	cfg.PasswordReset.Enabled = true
	if _, err := New().WithConfig(cfg).WithRedis(rdb).WithUserProvider(newMockUserProvider(nil)).Build(); err == nil {
		t.Fatal("expected error when reset enabled without mailer")
	}

	builder := New().WithConfig(testConfig()).WithRedis(rdb).WithUserProvider(newMockUserProvider(nil)).WithMailer(&mockMailer{})
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := builder.Build(); err == nil {
		t.Fatal("expected error on builder reuse")
	}
}

func TestEnginePing(t *testing.T) {
	env := newTestEnv(t, testConfig())

	if _, err := env.engine.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	env.mr.Close()
	if _, err := env.engine.Ping(context.Background()); !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}
