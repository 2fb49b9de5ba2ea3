package authcore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vaultharden/authcore/internal"
)

func loginPair(t *testing.T, env *testEnv) TokenPair {
	t.Helper()

	env.addUser(t, "u1", "alice@example.com", "correct-password-123")
	pair, err := env.engine.Login(context.Background(), "alice@example.com", "correct-password-123", false)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return pair
}

func TestRefreshRotationChain(t *testing.T) {
	env := newTestEnv(t, testConfig())
	pair := loginPair(t, env)

	ctx := context.Background()
	current := pair
	for i := 0; i < 5; i++ {
		next, err := env.engine.Refresh(ctx, current.RefreshToken)
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i+1, err)
		}
		if next.RefreshToken == current.RefreshToken {
			t.Fatal("expected a new refresh token")
		}
		if next.FamilyID != pair.FamilyID {
			t.Fatalf("family changed across rotation: %s -> %s", pair.FamilyID, next.FamilyID)
		}
		if next.SessionID == current.SessionID {
			t.Fatal("expected a new session id")
		}
		if next.UserID != "u1" {
			t.Fatalf("unexpected user %q", next.UserID)
		}
		current = next
	}

	sessions, err := env.engine.SessionsForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("SessionsForUser failed: %v", err)
	}
	live := 0
	maxRotation := 0
	for _, s := range sessions {
		if !s.Revoked {
			live++
		}
		if s.RotationCount > maxRotation {
			maxRotation = s.RotationCount
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live session, got %d", live)
	}
	if maxRotation != 5 {
		t.Fatalf("expected rotation count 5, got %d", maxRotation)
	}
}

func TestRefreshReuseRevokesWholeFamily(t *testing.T) {
	cfg := testConfig()
	cfg.Session.GraceWindow = 0
	env := newTestEnv(t, cfg)
	pair := loginPair(t, env)

	ctx := context.Background()
	second, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("first rotation failed: %v", err)
	}
	third, err := env.engine.Refresh(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("second rotation failed: %v", err)
	}

	// replaying the original token is reuse of an invalidated credential
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused, got %v", err)
	}

	// the previously valid head of the family is dead too
	if _, err := env.engine.Refresh(ctx, third.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected sibling rejection after family revocation, got %v", err)
	}
}

func TestRefreshGraceWindowToleratesOneDuplicate(t *testing.T) {
	env := newTestEnv(t, testConfig()) // 5s grace
	pair := loginPair(t, env)

	ctx := context.Background()
	first, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("rotation failed: %v", err)
	}

	// a duplicate inside the grace window gets the same successor pair
	replay, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("grace replay failed: %v", err)
	}
	if replay.RefreshToken != first.RefreshToken || replay.AccessToken != first.AccessToken {
		t.Fatal("expected the replay to return the original successor pair")
	}
	if replay.SessionID != first.SessionID {
		t.Fatalf("expected successor session %s, got %s", first.SessionID, replay.SessionID)
	}

	// one duplicate is the bound; a second one is breach-level reuse
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected ErrTokenReused on second duplicate, got %v", err)
	}

	// and the family is gone with it
	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected family revocation, got %v", err)
	}
}

func TestRefreshConcurrentDuplicateResolvesInGrace(t *testing.T) {
	env := newTestEnv(t, testConfig())
	pair := loginPair(t, env)

	var wg sync.WaitGroup
	results := make([]TokenPair, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.engine.Refresh(context.Background(), pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("concurrent refresh %d failed: %v", i, err)
		}
	}
	if results[0].RefreshToken != results[1].RefreshToken {
		t.Fatal("expected both callers to resolve to the same successor token")
	}

	// the shared successor keeps working
	if _, err := env.engine.Refresh(context.Background(), results[0].RefreshToken); err != nil {
		t.Fatalf("successor rotation failed: %v", err)
	}
}

func TestRefreshConcurrencySingleWinnerOutsideGrace(t *testing.T) {
	cfg := testConfig()
	cfg.Session.GraceWindow = 0
	env := newTestEnv(t, cfg)
	pair := loginPair(t, env)

	const n = 16
	var wg sync.WaitGroup
	wg.Add(n)

	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := env.engine.Refresh(context.Background(), pair.RefreshToken)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	success := 0
	reuse := 0
	for err := range results {
		switch {
		case err == nil:
			success++
		case errors.Is(err, ErrTokenReused):
			reuse++
		default:
			t.Fatalf("unexpected refresh error: %v", err)
		}
	}

	if success != 1 {
		t.Fatalf("expected exactly one winning rotation, got %d", success)
	}
	if reuse != n-1 {
		t.Fatalf("expected %d reuse rejections, got %d", n-1, reuse)
	}
}

func TestRefreshRotationCeilingForcesRelogin(t *testing.T) {
	cfg := testConfig()
	cfg.Session.MaxRotations = 3
	cfg.Session.GraceWindow = 0
	env := newTestEnv(t, cfg)
	pair := loginPair(t, env)

	ctx := context.Background()
	current := pair
	for i := 0; i < 3; i++ {
		next, err := env.engine.Refresh(ctx, current.RefreshToken)
		if err != nil {
			t.Fatalf("rotation %d failed: %v", i+1, err)
		}
		current = next
	}

	if _, err := env.engine.Refresh(ctx, current.RefreshToken); !errors.Is(err, ErrRotationCeiling) {
		t.Fatalf("expected ErrRotationCeiling, got %v", err)
	}

	// ceiling revokes the family; nothing in it rotates anymore
	if _, err := env.engine.Refresh(ctx, current.RefreshToken); !errors.Is(err, ErrTokenReused) {
		t.Fatalf("expected family revocation after ceiling, got %v", err)
	}
}

func TestRefreshExpiredHorizon(t *testing.T) {
	cfg := testConfig()
	cfg.Session.RefreshTTL = time.Hour
	cfg.Session.RememberMeTTL = time.Hour
	env := newTestEnv(t, cfg)
	pair := loginPair(t, env)

	env.clock.Advance(2 * time.Hour)
	if _, err := env.engine.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRefreshMalformedAndForgedTokens(t *testing.T) {
	env := newTestEnv(t, testConfig())
	pair := loginPair(t, env)

	ctx := context.Background()
	if _, err := env.engine.Refresh(ctx, "not-a-refresh-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for garbage, got %v", err)
	}

	// correct session id, wrong secret: rejected without touching the family
	wrongSecret, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	forged, err := internal.EncodeRefreshToken(pair.SessionID, wrongSecret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, forged); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for forged secret, got %v", err)
	}

	// the legitimate token still rotates
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("legitimate rotation failed after forgery attempt: %v", err)
	}
}

func TestRefreshForgedSecretAgainstRotatedSession(t *testing.T) {
	cfg := testConfig()
	cfg.Session.GraceWindow = 0
	env := newTestEnv(t, cfg)
	pair := loginPair(t, env)

	ctx := context.Background()
	next, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// stale session ids are not secret (old access tokens carry them);
	// a guessed secret against a consumed row is invalid, not reuse
	wrongSecret, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	forged, err := internal.EncodeRefreshToken(pair.SessionID, wrongSecret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}
	_, refreshErr := env.engine.Refresh(ctx, forged)
	if !errors.Is(refreshErr, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for forged secret on rotated session, got %v", refreshErr)
	}
	if errors.Is(refreshErr, ErrTokenReused) {
		t.Fatal("forged secret must not read as reuse")
	}

	// the family survives: the live successor still rotates
	if _, err := env.engine.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("successor rotation failed after forgery attempt: %v", err)
	}
}

func TestRefreshThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.MaxRefreshAttempts = 2
	cfg.RateLimit.RefreshWindow = time.Minute
	env := newTestEnv(t, cfg)
	pair := loginPair(t, env)

	ctx := context.Background()
	// two attempts against one session id fit the budget
	forgedSecret, _ := internal.NewRefreshSecret()
	forged, err := internal.EncodeRefreshToken(pair.SessionID, forgedSecret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := env.engine.Refresh(ctx, forged); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("expected ErrTokenInvalid, got %v", err)
		}
	}

	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestRefreshUnknownSession(t *testing.T) {
	env := newTestEnv(t, testConfig())
	loginPair(t, env)

	sid, err := internal.NewSessionID()
	if err != nil {
		t.Fatalf("NewSessionID failed: %v", err)
	}
	secret, err := internal.NewRefreshSecret()
	if err != nil {
		t.Fatalf("NewRefreshSecret failed: %v", err)
	}
	token, err := internal.EncodeRefreshToken(sid.String(), secret)
	if err != nil {
		t.Fatalf("EncodeRefreshToken failed: %v", err)
	}

	if _, err := env.engine.Refresh(context.Background(), token); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid for unknown session, got %v", err)
	}
}
