// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Request
// model: the generation record created pending and finalized exactly once.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a request is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Functions:
//
//   - CreateRequest(ctx, db, userID, model, prompt, params) -> *domain.Request, error
//     Inserts a pending Request and returns it with the assigned ID.
//
//   - UpdateRequest(ctx, db, id, text, status) -> error
//     Moves a pending request to success (text = response) or failed
//     (text = upstream error). ErrNotFound for unknown or finalized ids.
//
//   - GetRequest(ctx, db, id) -> *domain.Request, error
//     Fetches a single request by ID, or ErrNotFound if missing.
//
//   - CountUserRequests / ListUserRequestsPage
//     Paginated listing of one user's requests, newest first.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-genreq-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// CreateRequest inserts a new pending Request owned by userID. A nil params
// map is stored as an empty JSON object.
//
// On success, it returns the persisted Request with its ID populated.
func CreateRequest(ctx context.Context, db *gorm.DB, userID uint, model, prompt string, params domain.Parameters) (*domain.Request, error) {
	if params == nil {
		params = domain.Parameters{}
	}
	now := time.Now().UTC()
	r := &domain.Request{
		Model:      model,
		Prompt:     prompt,
		Parameters: datatypes.NewJSONType(params),
		Status:     domain.StatusPending,
		UserID:     userID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// ErrInvalidStatus is returned by UpdateRequest for a non-terminal status.
var ErrInvalidStatus = errors.New("status must be success or failed")

// UpdateRequest finalizes a pending request. For status=success, text is
// stored as the response; for status=failed, text is stored as the error and
// the response stays NULL. Rows already in a terminal state are left
// untouched and ErrNotFound is returned, so a record is finalized at most once.
func UpdateRequest(ctx context.Context, db *gorm.DB, id uint, text string, status domain.RequestStatus) error {
	switch status {
	case domain.StatusSuccess:
		return finalize(ctx, db, id, map[string]any{"response": text, "status": status})
	case domain.StatusFailed:
		return finalize(ctx, db, id, map[string]any{"error": text, "status": status})
	default:
		return ErrInvalidStatus
	}
}

func finalize(ctx context.Context, db *gorm.DB, id uint, cols map[string]any) error {
	cols["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Request{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetRequest fetches a single request by ID. If the record does not exist,
// it returns ErrNotFound. On other DB errors, the raw error is returned.
func GetRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error) {
	var r domain.Request
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CountUserRequests returns the total number of requests owned by userID.
func CountUserRequests(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Request{}).
		Scopes(ownedBy(userID)).
		Count(&total).Error
	return total, err
}

// ListUserRequestsPage returns a page of userID's requests ordered newest
// first (created_at DESC, id DESC). Use CountUserRequests for the total.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListUserRequestsPage(ctx context.Context, db *gorm.DB, userID uint, offset, limit int) ([]domain.Request, error) {
	var out []domain.Request
	err := db.WithContext(ctx).
		Scopes(ownedBy(userID)).
		Order("created_at desc, id desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ownedBy restricts a query to rows belonging to userID.
func ownedBy(userID uint) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB { return q.Where("user_id = ?", userID) }
}
