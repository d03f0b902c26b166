package web

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Operator sessions are short-lived HS256 tokens carried either in a
// cookie or an Authorization header. There is a single role; the token
// only proves the API key was presented at login.

const sessionCookieName = "admin_session"

var (
	errNoToken  = errors.New("no session token")
	errBadToken = errors.New("invalid session token")
)

type AuthManager struct {
	secret       []byte
	cookieDomain string
	secureCookie bool
	ttl          time.Duration
}

func NewAuthManager(secret string, secure bool, domain string, ttl time.Duration) *AuthManager {
	return &AuthManager{
		secret:       []byte(secret),
		cookieDomain: domain,
		secureCookie: secure,
		ttl:          ttl,
	}
}

type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Mint signs a fresh session and sets it as the session cookie.
func (a *AuthManager) Mint(w http.ResponseWriter) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", err
	}
	http.SetCookie(w, a.sessionCookie(signed, int(a.ttl.Seconds())))
	return signed, nil
}

// Clear expires the session cookie.
func (a *AuthManager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, a.sessionCookie("", -1))
}

func (a *AuthManager) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   a.cookieDomain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   a.secureCookie,
		SameSite: http.SameSiteStrictMode,
	}
}

// ParseFromRequest accepts the token from an Authorization bearer header
// or from the session cookie, in that order.
func (a *AuthManager) ParseFromRequest(r *http.Request) (*AdminClaims, error) {
	if hdr := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(hdr), "bearer ") {
		return a.verify(strings.TrimSpace(hdr[7:]))
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return a.verify(c.Value)
	}
	return nil, errNoToken
}

func (a *AuthManager) verify(tok string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	parsed, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, errBadToken
	}
	return claims, nil
}
