package auth

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"

	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/repo"
)

// ErrInvalidToken is returned by Tokens.Parse for any token that fails
// signature, method, issuer, expiry or subject checks.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims issued for a user. Subject carries the user ID.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 access tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens builds a Tokens signer. secret must be non-empty (enforced by config).
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL is the lifetime of issued tokens.
func (t *Tokens) TTL() time.Duration { return t.ttl }

// Issue signs an access token for u.
func (t *Tokens) Issue(u *domain.User) (string, error) {
	now := t.now()
	claims := Claims{
		Username: u.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(u.ID), 10),
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Parse verifies tokenStr and returns its claims and the subject user ID.
func (t *Tokens) Parse(tokenStr string) (*Claims, uint, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !token.Valid {
		return nil, 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, 0, ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return nil, 0, ErrInvalidToken
	}
	return claims, uint(id), nil
}

// JWTAuthenticator resolves "Authorization: Bearer <jwt>" headers and
// confirms the subject still exists.
type JWTAuthenticator struct {
	tokens *Tokens
	db     *gorm.DB
}

// NewJWTAuthenticator wires a token verifier to the user table.
func NewJWTAuthenticator(tokens *Tokens, db *gorm.DB) *JWTAuthenticator {
	return &JWTAuthenticator{tokens: tokens, db: db}
}

// Resolve implements Authenticator.
func (a *JWTAuthenticator) Resolve(r *http.Request) (Identity, bool) {
	raw := bearerToken(r.Header.Get("Authorization"))
	if raw == "" {
		return Identity{}, false
	}
	_, uid, err := a.tokens.Parse(raw)
	if err != nil {
		return Identity{}, false
	}
	u, err := repo.GetUser(r.Context(), a.db, uid)
	if err != nil {
		return Identity{}, false
	}
	return Identity{UserID: u.ID, Username: u.Username}, true
}

// bearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively.
func bearerToken(h string) string {
	scheme, tok, ok := strings.Cut(strings.TrimSpace(h), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
