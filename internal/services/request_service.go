// Package services – RequestService
//
// This file implements RequestService, the lifecycle controller for generation
// requests. Submit checks the caller, validates input, persists a pending
// record, performs one outbound generation call and finalizes the record as
// success or failed. Fetch returns a record's current status and result.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include user and request identifiers. Generation failures are logged at warn.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-genreq-backend/internal/auth"
	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/unicode/norm"
)

// Generator performs one text-generation call.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, params domain.Parameters) (string, error)
}

// RequestRepo defines the repository contract required by RequestService.
type RequestRepo interface {
	// CreateRequest inserts a pending request owned by userID.
	CreateRequest(ctx context.Context, db *gorm.DB, userID uint, model, prompt string, params domain.Parameters) (*domain.Request, error)

	// UpdateRequest finalizes a pending request as success or failed.
	UpdateRequest(ctx context.Context, db *gorm.DB, id uint, text string, status domain.RequestStatus) error

	// GetRequest fetches a request by ID.
	GetRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error)

	// CountUserRequests returns the total number of requests for pagination.
	CountUserRequests(ctx context.Context, db *gorm.DB, userID uint) (int64, error)

	// ListUserRequestsPage returns a page of the user's requests, newest first.
	ListUserRequestsPage(ctx context.Context, db *gorm.DB, userID uint, offset, limit int) ([]domain.Request, error)

	// RequestsStats returns count and latest update time for ETag generation.
	RequestsStats(ctx context.Context, db *gorm.DB, userID uint) (int64, *time.Time, error)

	// GetIdempotency returns an unexpired idempotency record for (userID, key).
	GetIdempotency(ctx context.Context, db *gorm.DB, userID uint, key string, now time.Time) (*domain.Idempotency, error)

	// CreateIdempotency stores (userID, key) → requestID for ttl.
	CreateIdempotency(ctx context.Context, db *gorm.DB, userID uint, key string, requestID uint, status int, ttl time.Duration) (*domain.Idempotency, error)
}

// SubmitInput is a generation submission.
type SubmitInput struct {
	Model      string
	Prompt     string
	Parameters domain.Parameters

	// IdempotencyKey optionally deduplicates retried submissions per user.
	IdempotencyKey string
}

// RequestResult is the client-facing view of a request.
type RequestResult struct {
	RequestID uint
	Status    domain.RequestStatus
	Result    string

	// Replayed is true when Submit returned a stored result for a reused
	// idempotency key instead of calling the generator.
	Replayed bool
}

// RequestService coordinates persistence and the generation call.
type RequestService struct {
	DB   *gorm.DB
	Repo RequestRepo
	Gen  Generator

	// EnforceOwnership makes Fetch report ErrRequestNotFound for records
	// owned by another user.
	EnforceOwnership bool

	// Optional guards
	MaxModelRunes  int
	MaxPromptRunes int

	// IdempotencyTTL is how long a successful submission can be replayed.
	IdempotencyTTL time.Duration
}

// NewRequestService constructs a RequestService with default guards.
func NewRequestService(db *gorm.DB, r RequestRepo, gen Generator) *RequestService {
	return &RequestService{
		DB:             db,
		Repo:           r,
		Gen:            gen,
		MaxModelRunes:  128,
		MaxPromptRunes: 32000,
		IdempotencyTTL: 24 * time.Hour,
	}
}

// Submit runs the create path: identity, validation, pending insert,
// generation, finalize.
//
// Errors:
//   - ErrUnauthorized when caller is nil (no storage write happens)
//   - ErrInvalidInput (wrapped with detail) on bad model/prompt/parameters (no write)
//   - ErrGeneration (wrapping the upstream cause) when the call fails; the
//     record is then stored as failed
//   - any other error is a persistence failure
func (s *RequestService) Submit(ctx context.Context, caller *auth.Identity, in SubmitInput) (*RequestResult, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Submit")
	defer span.End()

	if caller == nil || caller.UserID == 0 {
		return nil, ErrUnauthorized
	}
	span.SetAttributes(attribute.Int64("user.id", int64(caller.UserID)))

	model, prompt, params, err := s.validate(in)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("gen.model", model))

	// Replay a previous successful submission for the same key.
	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if res, ok := s.replay(ctx, caller.UserID, key); ok {
			span.SetAttributes(attribute.Bool("idempotency.replayed", true))
			return res, nil
		}
	}

	rec, err := s.Repo.CreateRequest(ctx, s.DB, caller.UserID, model, prompt, params)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int64("request.id", int64(rec.ID)))

	text, genErr := s.Gen.Generate(ctx, model, prompt, params)

	// The record is finalized even if the client has gone away.
	finCtx := context.WithoutCancel(ctx)

	if genErr != nil {
		span.RecordError(genErr)
		span.SetStatus(codes.Error, "generation failed")
		log.Ctx(ctx).Warn().
			Err(genErr).
			Uint("request_id", rec.ID).
			Str("model", model).
			Msg("generation failed")
		if err := s.Repo.UpdateRequest(finCtx, s.DB, rec.ID, genErr.Error(), domain.StatusFailed); err != nil {
			log.Ctx(ctx).Error().Err(err).Uint("request_id", rec.ID).Msg("mark request failed")
		}
		return nil, fmt.Errorf("%w: %w", ErrGeneration, genErr)
	}

	if err := s.Repo.UpdateRequest(finCtx, s.DB, rec.ID, text, domain.StatusSuccess); err != nil {
		span.RecordError(err)
		return nil, err
	}

	if key != "" {
		// Best effort: a lost race on the same key only skips the record.
		if _, err := s.Repo.CreateIdempotency(finCtx, s.DB, caller.UserID, key, rec.ID, http.StatusCreated, s.ttl()); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Ctx(ctx).Warn().Err(err).Uint("request_id", rec.ID).Msg("store idempotency key")
		}
	}

	return &RequestResult{RequestID: rec.ID, Status: domain.StatusSuccess, Result: text}, nil
}

// Fetch runs the read path. It returns the record's current status and its
// response text ("" while pending or after a failure).
func (s *RequestService) Fetch(ctx context.Context, caller *auth.Identity, id uint) (*RequestResult, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "Fetch",
		trace.WithAttributes(attribute.Int64("request.id", int64(id))),
	)
	defer span.End()

	if caller == nil || caller.UserID == 0 {
		return nil, ErrUnauthorized
	}

	rec, err := s.Repo.GetRequest(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrRequestNotFound
		}
		span.RecordError(err)
		return nil, err
	}
	if s.EnforceOwnership && rec.UserID != caller.UserID {
		return nil, ErrRequestNotFound
	}
	return &RequestResult{RequestID: rec.ID, Status: rec.Status, Result: rec.Result()}, nil
}

// ListPage returns a page of the caller's own requests (newest first) and the
// total count. It applies defaults for invalid page/pageSize.
func (s *RequestService) ListPage(ctx context.Context, caller *auth.Identity, page, pageSize int) ([]domain.Request, int64, error) {
	tr := otel.Tracer("services/RequestService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if caller == nil || caller.UserID == 0 {
		return nil, 0, ErrUnauthorized
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := s.Repo.CountUserRequests(ctx, s.DB, caller.UserID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Request{}, 0, nil
	}

	items, err := s.Repo.ListUserRequestsPage(ctx, s.DB, caller.UserID, offset, pageSize)
	return items, total, err
}

// Version returns a short fingerprint of the caller's request list, suitable
// for a weak ETag. It changes whenever a request is added or finalized.
func (s *RequestService) Version(ctx context.Context, caller *auth.Identity) (string, error) {
	if caller == nil || caller.UserID == 0 {
		return "", ErrUnauthorized
	}
	count, maxTS, err := s.Repo.RequestsStats(ctx, s.DB, caller.UserID)
	if err != nil {
		return "", err
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf("requests:%d:%d:%d", caller.UserID, count, ts), nil
}

func (s *RequestService) replay(ctx context.Context, userID uint, key string) (*RequestResult, bool) {
	idem, err := s.Repo.GetIdempotency(ctx, s.DB, userID, key, time.Now().UTC())
	if err != nil || idem == nil {
		return nil, false
	}
	rec, err := s.Repo.GetRequest(ctx, s.DB, idem.RequestID)
	if err != nil || rec.Status != domain.StatusSuccess {
		return nil, false
	}
	return &RequestResult{RequestID: rec.ID, Status: rec.Status, Result: rec.Result(), Replayed: true}, true
}

func (s *RequestService) ttl() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return 24 * time.Hour
}

// validate normalizes (NFC) and checks a submission. Model is trimmed; the
// prompt keeps its inner formatting but must contain non-space text.
func (s *RequestService) validate(in SubmitInput) (model, prompt string, params domain.Parameters, err error) {
	model = strings.TrimSpace(norm.NFC.String(in.Model))
	if model == "" {
		return "", "", nil, fmt.Errorf("%w: model must not be empty", ErrInvalidInput)
	}
	if s.MaxModelRunes > 0 && utf8.RuneCountInString(model) > s.MaxModelRunes {
		return "", "", nil, fmt.Errorf("%w: model must be at most %d characters", ErrInvalidInput, s.MaxModelRunes)
	}

	prompt = norm.NFC.String(in.Prompt)
	if strings.TrimSpace(prompt) == "" {
		return "", "", nil, fmt.Errorf("%w: prompt must not be empty", ErrInvalidInput)
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return "", "", nil, fmt.Errorf("%w: prompt must be at most %d characters", ErrInvalidInput, s.MaxPromptRunes)
	}

	params = make(domain.Parameters, len(in.Parameters))
	for k, v := range in.Parameters {
		name := strings.TrimSpace(k)
		if name == "" {
			return "", "", nil, fmt.Errorf("%w: parameter names must not be empty", ErrInvalidInput)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", "", nil, fmt.Errorf("%w: parameter %q must be a finite number", ErrInvalidInput, name)
		}
		params[name] = v
	}
	return model, prompt, params, nil
}
