package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is how long issued tokens stay valid.
const DefaultTTL = 2 * time.Hour

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrMissingUser  = errors.New("token carries no user id")
)

// RoleService marks tokens held by internal callers such as the payment
// gateway callback.
const RoleService = "service"

// Claims identifies the calling user.
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// GenerateToken issues a token for userID.
func (i *Issuer) GenerateToken(userID string) (string, error) {
	return i.generate(userID, "")
}

// GenerateServiceToken issues a token carrying RoleService for an internal
// caller.
func (i *Issuer) GenerateServiceToken(name string) (string, error) {
	return i.generate(name, RoleService)
}

func (i *Issuer) generate(userID, role string) (string, error) {
	now := i.now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// ParseToken verifies the signature and expiry and returns the claims.
func (i *Issuer) ParseToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.UserID == "" {
		return nil, ErrMissingUser
	}
	return claims, nil
}

// Authenticate resolves the user of an HTTP request from the Authorization
// header or, for browsers opening a WebSocket, the token query parameter.
func (i *Issuer) Authenticate(r *http.Request) (string, error) {
	raw := bearer(r.Header.Get("Authorization"))
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	if raw == "" {
		return "", ErrMissingToken
	}
	claims, err := i.ParseToken(raw)
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

func bearer(header string) string {
	const prefix = "bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

type (
	userKey struct{}
	roleKey struct{}
)

// WithUserID stores the authenticated user on the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserIDFrom returns the authenticated user stored by WithUserID.
func UserIDFrom(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}

// WithRole stores the caller's role on the context.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, roleKey{}, role)
}

// IsService reports whether the authenticated caller holds RoleService.
func IsService(ctx context.Context) bool {
	role, _ := ctx.Value(roleKey{}).(string)
	return role == RoleService
}
