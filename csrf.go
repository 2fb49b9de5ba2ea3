package authcore

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/vaultharden/authcore/internal"
	internalaudit "github.com/vaultharden/authcore/internal/audit"
)

// IssueCSRFToken generates a fresh double-submit token and sets it as a
// readable cookie on the transport. The token is unrelated to the
// authentication cookies; its only job is to prove the caller can read
// cookies for this origin.
func (e *Engine) IssueCSRFToken(t TransportContext) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}

	token, err := internal.NewCSRFToken()
	if err != nil {
		return "", err
	}

	if t != nil {
		t.SetCookie(&http.Cookie{
			Name:     e.config.CSRF.CookieName,
			Value:    token,
			Path:     "/",
			Domain:   e.config.Cookies.Domain,
			MaxAge:   int(e.config.CSRF.TTL.Seconds()),
			HttpOnly: false,
			Secure:   e.config.Cookies.Secure,
			SameSite: e.config.Cookies.SameSite,
		})
	}
	return token, nil
}

// ValidateCSRF compares the header token against the cookie token in
// constant time. Either side missing, or any mismatch, rejects with
// [ErrCSRFRejected]. Token values are never logged; the audit entry only
// records which sides were present.
func (e *Engine) ValidateCSRF(ctx context.Context, t TransportContext) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if t == nil {
		return ErrCSRFRejected
	}

	cookieToken, hasCookie := t.Cookie(e.config.CSRF.CookieName)
	headerToken := t.Header(e.config.CSRF.HeaderName)
	hasHeader := headerToken != ""

	if !hasCookie || !hasHeader || !csrfEqual(headerToken, cookieToken) {
		e.emitAudit(ctx, internalaudit.EventCSRFRejected, "", "", false, "csrf_rejected", map[string]string{
			"cookie_present": boolMeta(hasCookie),
			"header_present": boolMeta(hasHeader),
		})
		return ErrCSRFRejected
	}
	return nil
}

// csrfEqual is a constant-time comparison. Length is not secret, so a size
// mismatch may return early.
func csrfEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func boolMeta(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
