// Account HTTP handlers.
//
// This file exposes the endpoints that create accounts and hand out the
// bearer tokens the request endpoints require:
//   - POST /auth/register  (create an account)
//   - POST /auth/token     (exchange username/password for a bearer token)
//   - GET  /users/me       (the authenticated account)
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/services"
)

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	Username string `json:"username" binding:"required" example:"alice"`
	Email    string `json:"email"    binding:"required" example:"alice@example.com"`
	Password string `json:"password" binding:"required" example:"correct-horse-battery"`
}

// TokenRequest carries login credentials, as JSON or as an
// application/x-www-form-urlencoded body.
type TokenRequest struct {
	Username string `json:"username" form:"username" binding:"required" example:"alice"`
	Password string `json:"password" form:"password" binding:"required" example:"correct-horse-battery"`
}

// TokenResponse is an issued bearer token.
type TokenResponse struct {
	AccessToken string `json:"access_token" example:"eyJhbGciOiJIUzI1NiIs..."`
	TokenType   string `json:"token_type" example:"bearer"`
	// ExpiresIn is the token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in" example:"86400"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        uint      `json:"id" example:"1"`
	Username  string    `json:"username" example:"alice"`
	Email     string    `json:"email" example:"alice@example.com"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{ID: u.ID, Username: u.Username, Email: u.Email, CreatedAt: u.CreatedAt}
}

// Register godoc
// @ID          register
// @Summary     Create an account
// @Tags        Auth
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.RegisterRequest  true  "Account details"
//
// @Success     201  {object} handlers.UserResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     409  {object} handlers.ErrorResponse "Username or email taken"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username, email and password are required")
		return
	}

	u, err := h.userSvc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidInput):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		case errors.Is(err, services.ErrUserExists):
			fail(c, http.StatusConflict, ErrCodeConflict, "username or email already registered")
		default:
			internalError(c, err)
		}
		return
	}
	ok(c, http.StatusCreated, toUserResponse(u))
}

// Token godoc
// @ID          issueToken
// @Summary     Obtain a bearer token
// @Description Accepts JSON or form-encoded credentials.
// @Tags        Auth
// @Accept      json
// @Accept      x-www-form-urlencoded
// @Produce     json
//
// @Param       body  body  handlers.TokenRequest  true  "Credentials"
//
// @Success     200  {object} handlers.TokenResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     401  {object} handlers.ErrorResponse "Invalid credentials"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /auth/token [post]
func (h *Handlers) Token(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBind(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "username and password are required")
		return
	}

	tok, err := h.userSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.Header("WWW-Authenticate", "Bearer")
			fail(c, http.StatusUnauthorized, ErrCodeInvalidLogin, "Incorrect username or password")
			return
		}
		internalError(c, err)
		return
	}
	ok(c, http.StatusOK, TokenResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(tok.ExpiresIn / time.Second),
	})
}

// Me godoc
// @ID          me
// @Summary     Current account
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
//
// @Success     200  {object} handlers.UserResponse
// @Failure     401  {object} handlers.ErrorResponse "Authentication required"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /users/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.userSvc.Me(c.Request.Context(), identity(c))
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			c.Header("WWW-Authenticate", "Bearer")
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, detailUnauthorized)
			return
		}
		internalError(c, err)
		return
	}
	ok(c, http.StatusOK, toUserResponse(u))
}
