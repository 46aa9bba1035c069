// Package services – UserService
//
// This file implements account registration, password login and profile
// lookup. Passwords are stored as bcrypt hashes; login returns a signed
// bearer token that the JWT authenticator later resolves to an Identity.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/tbourn/go-genreq-backend/internal/auth"
	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TokenIssuer signs access tokens for authenticated users.
type TokenIssuer interface {
	Issue(u *domain.User) (string, error)
	TTL() time.Duration
}

// Token is the result of a successful login.
type Token struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
}

// UserService manages accounts.
type UserService struct {
	DB     *gorm.DB
	Tokens TokenIssuer

	// Password length bounds in bytes (bcrypt caps input at 72).
	MinPasswordLen int
	MaxPasswordLen int
}

// NewUserService constructs a UserService with default password bounds.
func NewUserService(db *gorm.DB, tokens TokenIssuer) *UserService {
	return &UserService{
		DB:             db,
		Tokens:         tokens,
		MinPasswordLen: 8,
		MaxPasswordLen: 72,
	}
}

// usernameRE allows 3–64 letters, digits, dot, dash and underscore.
var usernameRE = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

// Register creates a new account.
//
// Errors: ErrInvalidInput (wrapped) for malformed fields, ErrUserExists when
// the username or email is taken.
func (s *UserService) Register(ctx context.Context, username, email, password string) (*domain.User, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Register")
	defer span.End()

	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if !usernameRE.MatchString(username) {
		return nil, fmt.Errorf("%w: username must be 3-64 characters of letters, digits, '.', '-' or '_'", ErrInvalidInput)
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email || utf8.RuneCountInString(email) > 255 {
		return nil, fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	if len(password) < s.MinPasswordLen || (s.MaxPasswordLen > 0 && len(password) > s.MaxPasswordLen) {
		return nil, fmt.Errorf("%w: password must be %d-%d bytes", ErrInvalidInput, s.MinPasswordLen, s.MaxPasswordLen)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u, err := repo.CreateUser(ctx, s.DB, username, email, hash)
	if err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return nil, ErrUserExists
		}
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("user.id", int64(u.ID)))
	return u, nil
}

// Login checks username/password and issues an access token.
// Unknown users and wrong passwords both yield ErrInvalidCredentials.
func (s *UserService) Login(ctx context.Context, username, password string) (*Token, error) {
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Login")
	defer span.End()

	u, err := repo.GetUserByUsername(ctx, s.DB, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	tok, err := s.Tokens.Issue(u)
	if err != nil {
		return nil, err
	}
	return &Token{AccessToken: tok, TokenType: "bearer", ExpiresIn: s.Tokens.TTL()}, nil
}

// Me returns the caller's account.
func (s *UserService) Me(ctx context.Context, caller *auth.Identity) (*domain.User, error) {
	if caller == nil || caller.UserID == 0 {
		return nil, ErrUnauthorized
	}
	tr := otel.Tracer("services/UserService")
	ctx, span := tr.Start(ctx, "Me",
		trace.WithAttributes(attribute.Int64("user.id", int64(caller.UserID))),
	)
	defer span.End()

	u, err := repo.GetUser(ctx, s.DB, caller.UserID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return u, nil
}
