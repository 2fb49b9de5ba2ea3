package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	authcore "github.com/vaultharden/authcore"
	"github.com/vaultharden/authcore/password"
)

// stubProvider is the minimal user store the middleware tests need.
type stubProvider struct {
	mu           sync.Mutex
	users        map[string]authcore.UserRecord
	byIdentifier map[string]string

	failedAttempts map[string]int
	lockedUntil    map[string]time.Time
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		users:          map[string]authcore.UserRecord{},
		byIdentifier:   map[string]string{},
		failedAttempts: map[string]int{},
		lockedUntil:    map[string]time.Time{},
	}
}

func (p *stubProvider) add(userID, identifier, hash string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = authcore.UserRecord{UserID: userID, Identifier: identifier, PasswordHash: hash}
	p.byIdentifier[identifier] = userID
}

func (p *stubProvider) GetUserByIdentifier(ctx context.Context, identifier string) (authcore.UserRecord, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	userID, ok := p.byIdentifier[identifier]
	if !ok {
		return authcore.UserRecord{}, false, nil
	}
	return p.users[userID], true, nil
}

func (p *stubProvider) GetUserByID(ctx context.Context, userID string) (authcore.UserRecord, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	user, ok := p.users[userID]
	return user, ok, nil
}

func (p *stubProvider) UpdatePasswordHash(ctx context.Context, userID, newHash string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	user := p.users[userID]
	user.PasswordHash = newHash
	p.users[userID] = user
	return nil
}

func (p *stubProvider) LockoutState(ctx context.Context, userID string) (int, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failedAttempts[userID], p.lockedUntil[userID], nil
}

func (p *stubProvider) RegisterFailedAttempt(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failedAttempts[userID]++
	if p.failedAttempts[userID] >= threshold {
		p.lockedUntil[userID] = time.Now().Add(lockFor)
	}
	return p.failedAttempts[userID], p.lockedUntil[userID], nil
}

func (p *stubProvider) ClearLockout(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failedAttempts, userID)
	delete(p.lockedUntil, userID)
	return nil
}

func newTestEngine(t *testing.T) (*authcore.Engine, *stubProvider) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := authcore.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.PasswordReset.Enabled = false
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1

	provider := newStubProvider()
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(client).
		WithUserProvider(provider).
		Build()
	if err != nil {
		mr.Close()
		t.Fatalf("Build failed: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		mr.Close()
	})
	return engine, provider
}

func seedUser(t *testing.T, provider *stubProvider, userID, identifier, plainPassword string) {
	t.Helper()

	hasher, err := password.NewArgon2(password.Config{
		Memory:      8192,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	hash, err := hasher.Hash(plainPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	provider.add(userID, identifier, hash)
}

func mustLogin(t *testing.T, engine *authcore.Engine) authcore.TokenPair {
	t.Helper()

	pair, err := engine.Login(context.Background(), "alice@example.com", "password-12345", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return pair
}

func okHandler(hit *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestGuardAcceptsBearerToken(t *testing.T) {
	engine, provider := newTestEngine(t)
	seedUser(t, provider, "u1", "alice@example.com", "password-12345")
	pair := mustLogin(t, engine)

	var hit bool
	var gotIdentity authcore.AccessIdentity
	handler := Guard(engine)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity, _ = IdentityFromContext(r.Context())
		hit = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !hit {
		t.Fatalf("handler not reached: status %d", rec.Code)
	}
	if gotIdentity.UserID != "u1" || gotIdentity.SessionID != pair.SessionID {
		t.Fatalf("unexpected identity: %+v", gotIdentity)
	}
}

func TestGuardFallsBackToAccessCookie(t *testing.T) {
	engine, provider := newTestEngine(t)
	seedUser(t, provider, "u1", "alice@example.com", "password-12345")
	pair := mustLogin(t, engine)

	var hit bool
	handler := Guard(engine)(okHandler(&hit))

	seed := httptest.NewRecorder()
	engine.SetAuthCookies(authcore.NewHTTPTransport(seed, httptest.NewRequest(http.MethodGet, "/", nil)), pair)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	for _, c := range seed.Result().Cookies() {
		if c.Path == "/" {
			req.AddCookie(c)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if !hit {
		t.Fatalf("handler not reached: status %d", rec.Code)
	}
}

func TestGuardRejectsMissingAndGarbageTokens(t *testing.T) {
	engine, _ := newTestEngine(t)

	var hit bool
	handler := Guard(engine)(okHandler(&hit))

	for _, header := range []string{"", "Bearer ", "Bearer garbage", "Basic Zm9v"} {
		req := httptest.NewRequest(http.MethodGet, "/protected", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status %d, want 401", header, rec.Code)
		}
	}
	if hit {
		t.Fatal("handler reached without credentials")
	}
}

func TestIdentityFromContextMissing(t *testing.T) {
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Fatal("expected no identity on empty context")
	}
}
