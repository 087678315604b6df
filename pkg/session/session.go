// Package session reads the signed session cookie issued by the FinCash
// authentication service and exposes the caller's identity to handlers.
//
// Sessions are HS256 JWTs. The token is looked up in the session cookie
// first and in an "Authorization: Bearer" header second, so API clients and
// browsers share the same middleware.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrMissingSecret = errors.New("session: signing secret is required")
	ErrNoSession     = errors.New("session: no session")
	ErrInvalid       = errors.New("session: invalid or expired session")
	ErrForbidden     = errors.New("session: insufficient role")
)

// Role is the caller's authorization level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type Config struct {
	Secret string        `env:"SESSION_SECRET,required"`
	Cookie string        `env:"SESSION_COOKIE" envDefault:"session"`
	Issuer string        `env:"SESSION_ISSUER" envDefault:"fincash"`
	TTL    time.Duration `env:"SESSION_TTL" envDefault:"24h"`
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Name   string
	Role   Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  Role   `json:"role,omitempty"`
}

// Manager issues and validates session tokens.
type Manager struct {
	cfg    Config
	key    []byte
	parser *jwt.Parser
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, ErrMissingSecret
	}
	if cfg.Cookie == "" {
		cfg.Cookie = "session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Manager{cfg: cfg, key: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Issue signs a session token for id. The authentication service owns
// login; Issue exists for it and for tests.
func (m *Manager) Issue(id Identity) (string, error) {
	now := time.Now()
	role := id.Role
	if role == "" {
		role = RoleUser
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID.String(),
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.cfg.TTL)),
		},
		Email: id.Email,
		Name:  id.Name,
		Role:  role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.key)
}

// Parse validates token and returns its identity.
func (m *Manager) Parse(token string) (Identity, error) {
	var c claims
	if _, err := m.parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) { return m.key, nil }); err != nil {
		return Identity{}, errors.Join(ErrInvalid, err)
	}
	userID, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, errors.Join(ErrInvalid, fmt.Errorf("subject: %w", err))
	}
	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserID: userID, Email: c.Email, Name: c.Name, Role: role}, nil
}

// Middleware resolves the session, if any, into the request context.
// Requests without a valid session pass through anonymously; use Require
// to reject them.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := m.token(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		id, err := m.Parse(token)
		if err != nil {
			next.ServeHTTP(w, r.WithContext(withError(r.Context(), err)))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	})
}

func (m *Manager) token(r *http.Request) string {
	if c, err := r.Cookie(m.cfg.Cookie); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

// Require rejects requests without an identity of at least role. deny
// renders the rejection; it receives ErrNoSession, ErrInvalid or
// ErrForbidden.
func Require(role Role, deny func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := FromContext(r.Context())
			if !ok {
				err := ErrNoSession
				if cause := errorFromContext(r.Context()); cause != nil {
					err = cause
				}
				deny(w, r, err)
				return
			}
			if role == RoleAdmin && !id.IsAdmin() {
				deny(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type (
	identityKey struct{}
	errorKey    struct{}
)

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

func withError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, errorKey{}, err)
}

func errorFromContext(ctx context.Context) error {
	err, _ := ctx.Value(errorKey{}).(error)
	return err
}
