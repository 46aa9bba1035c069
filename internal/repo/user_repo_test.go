package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-genreq-backend/internal/domain"
)

func TestCreateUser_SuccessAndDuplicate(t *testing.T) {
	db := newTestDB(t, &domain.User{})

	u, err := CreateUser(context.Background(), db, "alice", "alice@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if u.ID == 0 || u.Username != "alice" || u.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", u)
	}

	if _, err := CreateUser(context.Background(), db, "alice", "x@example.com", "h"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for username, got %v", err)
	}
	if _, err := CreateUser(context.Background(), db, "other", "alice@example.com", "h"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for email, got %v", err)
	}
}

func TestCreateUser_Error_NoTable(t *testing.T) {
	db := newTestDB(t)
	_, err := CreateUser(context.Background(), db, "a", "a@example.com", "h")
	if err == nil || errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected non-duplicate error when table is missing, got %v", err)
	}
}

func TestGetUser_AndByUsername(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	id := seedUser(t, db, "bob")

	u, err := GetUser(context.Background(), db, id)
	if err != nil || u.Username != "bob" {
		t.Fatalf("GetUser = (%+v, %v)", u, err)
	}
	u, err = GetUserByUsername(context.Background(), db, "bob")
	if err != nil || u.ID != id {
		t.Fatalf("GetUserByUsername = (%+v, %v)", u, err)
	}

	if _, err := GetUser(context.Background(), db, 999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := GetUserByUsername(context.Background(), db, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	cases := map[string]bool{
		"UNIQUE constraint failed: users.username":                 true,
		"constraint failed: UNIQUE constraint failed (2067)":       true,
		`ERROR: duplicate key value violates unique constraint "x"`: true,
		"no such table: users":                                     false,
	}
	for msg, want := range cases {
		if got := isUniqueViolation(errors.New(msg)); got != want {
			t.Fatalf("isUniqueViolation(%q) = %v; want %v", msg, got, want)
		}
	}
}
