// Package session carries the verified identity handed over by the external
// OAuth collaborator. The identity travels in an HS256-signed cookie so the
// WebSocket gateway and the HTTP API can trust it without a session store.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Tyrowin/hearth/internal/logging"
)

// ErrNoSession is returned when the request carries no session cookie.
var ErrNoSession = errors.New("no session")

// ErrInvalidSession is returned for tampered, expired or malformed tokens.
var ErrInvalidSession = errors.New("invalid session")

// Identity is the provider result: a stable provider user ID and the name
// the provider knows the user by.
type Identity struct {
	ProviderID string `json:"id"`
	Username   string `json:"username"`
}

// Claims is the token payload.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Manager issues and verifies session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
	cookie string
	secure bool
}

// NewManager returns a Manager. An empty secret is replaced by a random one,
// which invalidates every session on restart.
func NewManager(secret string, ttl time.Duration, cookie string) *Manager {
	key := []byte(secret)
	if secret == "" {
		key = randomSecret()
		logging.Warn().Msg("SESSION_SECRET not set; using an ephemeral session key")
	}
	if cookie == "" {
		cookie = "hearth_session"
	}
	return &Manager{secret: key, ttl: ttl, cookie: cookie}
}

// WithSecureCookie marks issued cookies Secure.
func (m *Manager) WithSecureCookie(secure bool) *Manager {
	m.secure = secure
	return m
}

// CookieName returns the name of the session cookie.
func (m *Manager) CookieName() string {
	return m.cookie
}

// Issue signs a token for id.
func (m *Manager) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		Username: id.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ProviderID,
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the identity it carries.
func (m *Manager) Verify(token string) (*Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidSession
	}
	return &Identity{ProviderID: claims.Subject, Username: claims.Username}, nil
}

// FromRequest returns the identity in r's session cookie.
func (m *Manager) FromRequest(r *http.Request) (*Identity, error) {
	c, err := r.Cookie(m.cookie)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	return m.Verify(c.Value)
}

// SetCookie issues a token for id and attaches it to w.
func (m *Manager) SetCookie(w http.ResponseWriter, id Identity) error {
	token, err := m.Issue(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func randomSecret() []byte {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(err)
	}
	return []byte(hex.EncodeToString(buf))
}
