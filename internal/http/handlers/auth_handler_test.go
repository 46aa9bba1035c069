package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-genreq-backend/internal/auth"
	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/services"
)

func newUserSvc(t *testing.T) (*services.UserService, *auth.Tokens) {
	t.Helper()
	db := newHandlerDB(t)
	tokens := auth.NewTokens("test-secret", "test", time.Hour)
	return services.NewUserService(db, tokens), tokens
}

func TestRegister_TokenAndMe(t *testing.T) {
	svc, tokens := newUserSvc(t)
	r := newRouter(nil, &stubReqSvc{}, svc)

	// Register → 201.
	w := doJSON(t, r, http.MethodPost, "/auth/register", map[string]string{
		"username": "alice", "email": "Alice@Example.com", "password": "correct-horse",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", w.Code, w.Body.String())
	}
	var u UserResponse
	_ = json.Unmarshal(w.Body.Bytes(), &u)
	if u.ID == 0 || u.Username != "alice" || u.Email != "alice@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("password material leaked: %s", w.Body.String())
	}

	// Same username again → 409.
	w = doJSON(t, r, http.MethodPost, "/auth/register", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "correct-horse",
	}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: %d", w.Code)
	}
	if er := decodeErr(t, w); er.Code != ErrCodeConflict {
		t.Fatalf("unexpected body: %+v", er)
	}

	// Token via JSON.
	w = doJSON(t, r, http.MethodPost, "/auth/token", map[string]string{"username": "alice", "password": "correct-horse"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("token: %d %s", w.Code, w.Body.String())
	}
	var tok TokenResponse
	_ = json.Unmarshal(w.Body.Bytes(), &tok)
	if tok.TokenType != "bearer" || tok.ExpiresIn != 3600 || tok.AccessToken == "" {
		t.Fatalf("unexpected token: %+v", tok)
	}
	if _, uid, err := tokens.Parse(tok.AccessToken); err != nil || uid != u.ID {
		t.Fatalf("issued token does not parse to the user: uid=%d err=%v", uid, err)
	}

	// Token via form encoding.
	form := url.Values{"username": {"alice"}, "password": {"correct-horse"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("form token: %d %s", w.Code, w.Body.String())
	}

	// Wrong password → 401 with WWW-Authenticate.
	w = doJSON(t, r, http.MethodPost, "/auth/token", map[string]string{"username": "alice", "password": "nope-nope"}, nil)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("bad login: %d %v", w.Code, w.Header())
	}
	if er := decodeErr(t, w); er.Code != ErrCodeInvalidLogin {
		t.Fatalf("unexpected body: %+v", er)
	}

	// Me as the registered user.
	rm := newRouter(&auth.Identity{UserID: u.ID, Username: "alice"}, &stubReqSvc{}, svc)
	w = doJSON(t, rm, http.MethodGet, "/users/me", nil, nil)
	var me UserResponse
	_ = json.Unmarshal(w.Body.Bytes(), &me)
	if w.Code != http.StatusOK || me.ID != u.ID || me.Username != "alice" {
		t.Fatalf("me: %d %s", w.Code, w.Body.String())
	}

	// Me anonymous → 401.
	w = doJSON(t, r, http.MethodGet, "/users/me", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous me: %d", w.Code)
	}
}

func TestRegister_BadInput(t *testing.T) {
	svc, _ := newUserSvc(t)
	r := newRouter(nil, &stubReqSvc{}, svc)

	cases := []map[string]string{
		{"username": "alice", "email": "alice@example.com"},                        // missing password
		{"username": "a", "email": "alice@example.com", "password": "long-enough"}, // username too short
		{"username": "alice", "email": "not-an-email", "password": "long-enough"},  // bad email
		{"username": "alice", "email": "alice@example.com", "password": "short"},   // short password
	}
	for _, body := range cases {
		w := doJSON(t, r, http.MethodPost, "/auth/register", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%v: status=%d", body, w.Code)
		}
		if er := decodeErr(t, w); er.Code != ErrCodeBadRequest {
			t.Fatalf("%v: unexpected body: %+v", body, er)
		}
	}
}

func TestToken_MissingFields(t *testing.T) {
	svc, _ := newUserSvc(t)
	r := newRouter(nil, &stubReqSvc{}, svc)
	w := doJSON(t, r, http.MethodPost, "/auth/token", map[string]string{"username": "alice"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
}

// stubUserSvc lets tests force storage errors.
type stubUserSvc struct{ err error }

func (s stubUserSvc) Register(context.Context, string, string, string) (*domain.User, error) {
	return nil, s.err
}

func (s stubUserSvc) Login(context.Context, string, string) (*services.Token, error) {
	return nil, s.err
}

func (s stubUserSvc) Me(context.Context, *auth.Identity) (*domain.User, error) {
	return nil, s.err
}

func TestAuthHandlers_InternalErrors(t *testing.T) {
	r := newRouter(&auth.Identity{UserID: 1}, &stubReqSvc{}, stubUserSvc{err: errors.New("db gone")})

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/auth/register", map[string]string{"username": "alice", "email": "a@example.com", "password": "long-enough"}},
		{http.MethodPost, "/auth/token", map[string]string{"username": "alice", "password": "long-enough"}},
		{http.MethodGet, "/users/me", nil},
	} {
		w := doJSON(t, r, tc.method, tc.path, tc.body, nil)
		if w.Code != http.StatusInternalServerError {
			t.Fatalf("%s %s: status=%d", tc.method, tc.path, w.Code)
		}
		if er := decodeErr(t, w); er.Code != ErrCodeInternal || er.Detail != "internal server error" {
			t.Fatalf("%s %s: unexpected body: %+v", tc.method, tc.path, er)
		}
	}
}
