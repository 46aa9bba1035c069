// Generation request HTTP handlers.
//
// This file exposes REST endpoints for generation requests:
//   - POST /request                (submit a prompt, wait for the generated text)
//   - GET  /request/{request_id}   (status and result of one request)
//   - GET  /requests               (the caller's requests, paginated, ETag support)
//
// Handlers are transport-thin: they bind input, call application services,
// and translate results and service errors into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-genreq-backend/internal/auth"
	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/generation"
	"github.com/tbourn/go-genreq-backend/internal/http/middleware"
	"github.com/tbourn/go-genreq-backend/internal/services"
	"github.com/tbourn/go-genreq-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// RequestService defines the generation request operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type RequestService interface {
	// Submit stores a request, runs generation, and returns the outcome.
	Submit(ctx context.Context, caller *auth.Identity, in services.SubmitInput) (*services.RequestResult, error)
	// Fetch returns the current status and result of one request.
	Fetch(ctx context.Context, caller *auth.Identity, id uint) (*services.RequestResult, error)
	// ListPage returns a page of the caller's requests and the total count.
	ListPage(ctx context.Context, caller *auth.Identity, page, pageSize int) ([]domain.Request, int64, error)
	// Version fingerprints the caller's request list for conditional GETs.
	Version(ctx context.Context, caller *auth.Identity) (string, error)
}

// UserService defines account operations consumed by HTTP handlers.
type UserService interface {
	// Register creates an account.
	Register(ctx context.Context, username, email, password string) (*domain.User, error)
	// Login verifies credentials and issues a bearer token.
	Login(ctx context.Context, username, password string) (*services.Token, error)
	// Me returns the account of the caller.
	Me(ctx context.Context, caller *auth.Identity) (*domain.User, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for generation requests and accounts.
type Handlers struct {
	reqSvc  RequestService
	userSvc UserService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(reqSvc RequestService, userSvc UserService) *Handlers {
	return &Handlers{reqSvc: reqSvc, userSvc: userSvc}
}

// identity returns the caller resolved by the Authenticate middleware, or nil.
func identity(c *gin.Context) *auth.Identity {
	return middleware.IdentityFrom(c)
}

//
// DTOs
//

// SubmitPayload is the JSON payload for POST /request.
type SubmitPayload struct {
	// Model names the generation model.
	Model string `json:"model" example:"gpt-3.5-turbo"`
	// Prompt is the input text. It must not be blank.
	Prompt string `json:"prompt" example:"Write a haiku about the sea."`
	// Parameters are optional numeric generation options.
	Parameters map[string]float64 `json:"parameters,omitempty" swaggertype:"object,number" example:"temperature:0.7,max_tokens:64"`
}

// RequestResponse is the outcome of a submission or a fetch.
type RequestResponse struct {
	// Status is pending, success or failed.
	Status string `json:"status" example:"success"`
	// Result is the generated text ("" until the request succeeded).
	Result string `json:"result" example:"Waves fold into foam..."`
	// RequestID identifies the stored request.
	RequestID uint `json:"request_id" example:"1"`
}

// RequestItem is one entry of a request listing.
type RequestItem struct {
	RequestID  uint               `json:"request_id" example:"1"`
	Model      string             `json:"model" example:"gpt-3.5-turbo"`
	Prompt     string             `json:"prompt" example:"Write a haiku about the sea."`
	Parameters map[string]float64 `json:"parameters" swaggertype:"object,number"`
	Status     string             `json:"status" example:"success"`
	Result     string             `json:"result"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListRequestsResponse wraps a page of requests and pagination information.
type ListRequestsResponse struct {
	Requests   []RequestItem `json:"requests"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// generationDetail is the client-facing text of a failed generation call:
// the upstream API message when one was returned, a fixed phrase otherwise.
func generationDetail(err error) string {
	var apiErr *generation.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return services.ErrGeneration.Error()
}

// failRequest maps request-service errors onto the error envelope.
func failRequest(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, detailUnauthorized)
	case errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrGeneration):
		fail(c, http.StatusBadRequest, ErrCodeGenerationFailed, generationDetail(err))
	case errors.Is(err, services.ErrRequestNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, detailNotFound)
	default:
		internalError(c, err)
	}
}

func toResponse(r *services.RequestResult) RequestResponse {
	return RequestResponse{
		Status:    string(r.Status),
		Result:    r.Result,
		RequestID: r.RequestID,
	}
}

//
// Handlers
//

// SubmitRequest godoc
// @ID          submitRequest
// @Summary     Submit a generation request
// @Description Stores the request, calls the text-generation API, and returns the generated text.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Requests
// @Accept      json
// @Produce     json
// @Security    BearerAuth
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SubmitPayload  true  "Generation request"
//
// @Success     201  {object}  handlers.RequestResponse  "Generated"
// @Header      201  {string}  Idempotency-Replayed      "true when served from a stored result"
// @Failure     400  {object}  handlers.ErrorResponse    "Invalid input or generation failure"
// @Failure     401  {object}  handlers.ErrorResponse    "Authentication required"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /request [post]
func (h *Handlers) SubmitRequest(c *gin.Context) {
	caller := identity(c)
	if caller == nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, detailUnauthorized)
		return
	}

	var req SubmitPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body: expected model, prompt and numeric parameters")
		return
	}

	key, _ := middleware.GetIdempotencyKey(c)
	res, err := h.reqSvc.Submit(c.Request.Context(), caller, services.SubmitInput{
		Model:          req.Model,
		Prompt:         req.Prompt,
		Parameters:     req.Parameters,
		IdempotencyKey: key,
	})
	if err != nil {
		failRequest(c, err)
		return
	}

	middleware.SetRecordID(c, res.RequestID)
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusCreated, toResponse(res))
}

// GetRequest godoc
// @ID          getRequest
// @Summary     Get a generation request
// @Description Returns the status and result of a stored request.
// @Tags        Requests
// @Produce     json
// @Security    BearerAuth
//
// @Param       request_id  path  int  true  "Request ID"  minimum(1)
//
// @Success     200  {object} handlers.RequestResponse
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     404  {object} handlers.ErrorResponse "Request not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /request/{request_id} [get]
func (h *Handlers) GetRequest(c *gin.Context) {
	caller := identity(c)
	if caller == nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, detailUnauthorized)
		return
	}

	// A malformed identifier cannot name a stored request.
	id, valid := utils.ParseID(c.Param("request_id"))
	if !valid {
		fail(c, http.StatusNotFound, ErrCodeNotFound, detailNotFound)
		return
	}

	res, err := h.reqSvc.Fetch(c.Request.Context(), caller, id)
	if err != nil {
		failRequest(c, err)
		return
	}
	middleware.SetRecordID(c, res.RequestID)
	ok(c, http.StatusOK, toResponse(res))
}

// ListRequests godoc
// @ID          listRequests
// @Summary     List my requests (paginated)
// @Description Returns a page of the caller's requests, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Requests
// @Produce     json
// @Security    BearerAuth
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListRequestsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /requests [get]
func (h *Handlers) ListRequests(c *gin.Context) {
	ctx := c.Request.Context()
	caller := identity(c)
	if caller == nil {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, detailUnauthorized)
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort). The page window is part of the tag.
	if v, err := h.reqSvc.Version(ctx, caller); err == nil {
		etag := fmt.Sprintf(`W/"%s:p%d:s%d"`, v, page, pageSize)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, total, err := h.reqSvc.ListPage(ctx, caller, page, pageSize)
	if err != nil {
		failRequest(c, err)
		return
	}

	out := make([]RequestItem, 0, len(items))
	for i := range items {
		r := &items[i]
		out = append(out, RequestItem{
			RequestID:  r.ID,
			Model:      r.Model,
			Prompt:     r.Prompt,
			Parameters: r.Params(),
			Status:     string(r.Status),
			Result:     r.Result(),
			CreatedAt:  r.CreatedAt,
			UpdatedAt:  r.UpdatedAt,
		})
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListRequestsResponse{
		Requests: out,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}
