package authcore

import (
	"net/http"
	"sync"
	"time"
)

// TransportContext abstracts the cookie and header surface of one request/
// response exchange. The engine never touches a framework request object;
// anything that can read cookies and headers and set cookies can carry
// tokens. [HTTPTransport] adapts net/http; [MemTransport] backs tests.
type TransportContext interface {
	Cookie(name string) (string, bool)
	Header(name string) string
	SetCookie(cookie *http.Cookie)
}

// HTTPTransport adapts a net/http request/response pair.
type HTTPTransport struct {
	Request *http.Request
	Writer  http.ResponseWriter
}

// NewHTTPTransport wraps one request/response exchange.
func NewHTTPTransport(w http.ResponseWriter, r *http.Request) *HTTPTransport {
	return &HTTPTransport{Request: r, Writer: w}
}

func (t *HTTPTransport) Cookie(name string) (string, bool) {
	c, err := t.Request.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (t *HTTPTransport) Header(name string) string {
	return t.Request.Header.Get(name)
}

func (t *HTTPTransport) SetCookie(cookie *http.Cookie) {
	http.SetCookie(t.Writer, cookie)
}

// MemTransport is an in-memory [TransportContext] for tests and non-HTTP
// callers. Set cookies become visible to subsequent Cookie calls, the way
// a browser would echo them on the next request.
type MemTransport struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
	headers map[string]string
}

// NewMemTransport returns an empty in-memory transport.
func NewMemTransport() *MemTransport {
	return &MemTransport{
		cookies: make(map[string]*http.Cookie),
		headers: make(map[string]string),
	}
}

func (t *MemTransport) Cookie(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.cookies[name]
	if !ok || c.MaxAge < 0 {
		return "", false
	}
	return c.Value, true
}

func (t *MemTransport) Header(name string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.headers[name]
}

func (t *MemTransport) SetCookie(cookie *http.Cookie) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cookies[cookie.Name] = cookie
}

// SetHeader stages a request header for the next engine call.
func (t *MemTransport) SetHeader(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.headers[name] = value
}

// SetAuthCookies writes the access, refresh, and CSRF cookies for an issued
// pair. Access and refresh are HTTP-only; the refresh cookie rides only on
// the refresh path. The CSRF cookie stays readable so client code can echo
// it in the header.
func (e *Engine) SetAuthCookies(t TransportContext, pair TokenPair) {
	if e == nil || t == nil {
		return
	}
	cookies := e.config.Cookies
	now := e.now()

	t.SetCookie(&http.Cookie{
		Name:     cookies.AccessName,
		Value:    pair.AccessToken,
		Path:     "/",
		Domain:   cookies.Domain,
		MaxAge:   cookieTTL(now, pair.AccessExpiresAt),
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: cookies.SameSite,
	})
	t.SetCookie(&http.Cookie{
		Name:     cookies.RefreshName,
		Value:    pair.RefreshToken,
		Path:     cookies.RefreshPath,
		Domain:   cookies.Domain,
		MaxAge:   cookieTTL(now, pair.RefreshExpiresAt),
		HttpOnly: true,
		Secure:   cookies.Secure,
		SameSite: cookies.SameSite,
	})
	t.SetCookie(&http.Cookie{
		Name:     e.config.CSRF.CookieName,
		Value:    pair.CSRFToken,
		Path:     "/",
		Domain:   cookies.Domain,
		MaxAge:   int(e.config.CSRF.TTL.Seconds()),
		HttpOnly: false,
		Secure:   cookies.Secure,
		SameSite: cookies.SameSite,
	})
}

// ClearAuthCookies expires all three cookies, for logout.
func (e *Engine) ClearAuthCookies(t TransportContext) {
	if e == nil || t == nil {
		return
	}
	cookies := e.config.Cookies

	for _, c := range []*http.Cookie{
		{Name: cookies.AccessName, Path: "/"},
		{Name: cookies.RefreshName, Path: cookies.RefreshPath},
		{Name: e.config.CSRF.CookieName, Path: "/"},
	} {
		c.Value = ""
		c.Domain = cookies.Domain
		c.MaxAge = -1
		c.Secure = cookies.Secure
		c.SameSite = cookies.SameSite
		c.HttpOnly = c.Name != e.config.CSRF.CookieName
		t.SetCookie(c)
	}
}

// AccessTokenFrom reads the access token off the transport.
func (e *Engine) AccessTokenFrom(t TransportContext) (string, bool) {
	if e == nil || t == nil {
		return "", false
	}
	return t.Cookie(e.config.Cookies.AccessName)
}

// RefreshTokenFrom reads the refresh token off the transport.
func (e *Engine) RefreshTokenFrom(t TransportContext) (string, bool) {
	if e == nil || t == nil {
		return "", false
	}
	return t.Cookie(e.config.Cookies.RefreshName)
}

func cookieTTL(now, expiresAt time.Time) int {
	ttl := int(expiresAt.Sub(now).Seconds())
	if ttl < 1 {
		ttl = 1
	}
	return ttl
}
