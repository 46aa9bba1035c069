// Package domain defines the persistence models for users and generation
// requests. These types are mapped with GORM and form the core data layer
// of the backend.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// RequestStatus is the lifecycle state of a generation Request.
type RequestStatus string

const (
	// StatusPending is the initial state, set when the request is accepted.
	StatusPending RequestStatus = "pending"
	// StatusSuccess marks a request whose generation call returned text.
	StatusSuccess RequestStatus = "success"
	// StatusFailed marks a request whose generation call errored.
	StatusFailed RequestStatus = "failed"
)

// Valid reports whether s is one of the three lifecycle states.
func (s RequestStatus) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is a final state (success or failed).
func (s RequestStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Parameters holds numeric generation options (e.g. temperature, max_tokens).
type Parameters map[string]float64

// User is an account that owns generation requests. Users are created by the
// registration flow; the request core only reads the identifier.
//
// Fields:
//   - ID: auto-increment integer primary key.
//   - Username / Email: unique, indexed.
//   - PasswordHash: bcrypt hash; never serialized.
//
// Requests reference their owner by UserID; the association is declared on
// Request only so the cascade rule lives in one place.
type User struct {
	ID           uint      `json:"id"         gorm:"primaryKey;autoIncrement"`
	Username     string    `json:"username"   gorm:"type:varchar(64);not null;uniqueIndex:ux_users_username"`
	Email        string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Request is one persisted generation attempt.
//
// Fields:
//   - ID: auto-increment integer assigned at insert time; immutable.
//   - Model / Prompt: required inputs, immutable after creation.
//   - Parameters: JSON-encoded numeric options; empty map when omitted.
//   - Response: nil until generation succeeds; set exactly once.
//   - Status: pending → success | failed.
//   - Error: upstream failure message for failed requests (never returned by the API).
//   - UserID: owning user (FK, indexed); never reassigned.
type Request struct {
	ID         uint                           `json:"id"                 gorm:"primaryKey;autoIncrement"`
	Model      string                         `json:"model"              gorm:"type:varchar(128);not null"`
	Prompt     string                         `json:"prompt"             gorm:"type:text;not null"`
	Parameters datatypes.JSONType[Parameters] `json:"parameters"`
	Response   *string                        `json:"response,omitempty" gorm:"type:text"`
	Status     RequestStatus                  `json:"status"             gorm:"type:varchar(16);not null;default:'pending';index;check:status IN ('pending','success','failed')"`
	Error      *string                        `json:"-"                  gorm:"type:text"`
	UserID     uint                           `json:"user_id"            gorm:"not null;index:idx_user_requests,priority:1"`
	CreatedAt  time.Time                      `json:"created_at"         gorm:"index:idx_user_requests,priority:2"`
	UpdatedAt  time.Time                      `json:"updated_at"`

	// User is the owner. Requests are cascade-deleted if the user is removed.
	User User `json:"-" gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Request.
func (Request) TableName() string { return "requests" }

// Params returns the request parameters, never nil.
func (r *Request) Params() Parameters {
	p := r.Parameters.Data()
	if p == nil {
		return Parameters{}
	}
	return p
}

// Result returns the response text, or "" while the request has none.
func (r *Request) Result() string {
	if r.Response == nil {
		return ""
	}
	return *r.Response
}
