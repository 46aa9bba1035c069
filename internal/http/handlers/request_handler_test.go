package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-genreq-backend/internal/auth"
	"github.com/tbourn/go-genreq-backend/internal/domain"
	"github.com/tbourn/go-genreq-backend/internal/generation"
	"github.com/tbourn/go-genreq-backend/internal/http/middleware"
	"github.com/tbourn/go-genreq-backend/internal/repo"
	"github.com/tbourn/go-genreq-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	if err := db.AutoMigrate(&domain.User{}, &domain.Request{}, &domain.Idempotency{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testRequestRepo implements services.RequestRepo with the repo package (like router.go).
type testRequestRepo struct{}

func (testRequestRepo) CreateRequest(ctx context.Context, db *gorm.DB, userID uint, model, prompt string, params domain.Parameters) (*domain.Request, error) {
	return repo.CreateRequest(ctx, db, userID, model, prompt, params)
}

func (testRequestRepo) UpdateRequest(ctx context.Context, db *gorm.DB, id uint, text string, status domain.RequestStatus) error {
	return repo.UpdateRequest(ctx, db, id, text, status)
}

func (testRequestRepo) GetRequest(ctx context.Context, db *gorm.DB, id uint) (*domain.Request, error) {
	return repo.GetRequest(ctx, db, id)
}

func (testRequestRepo) CountUserRequests(ctx context.Context, db *gorm.DB, userID uint) (int64, error) {
	return repo.CountUserRequests(ctx, db, userID)
}

func (testRequestRepo) ListUserRequestsPage(ctx context.Context, db *gorm.DB, userID uint, offset, limit int) ([]domain.Request, error) {
	return repo.ListUserRequestsPage(ctx, db, userID, offset, limit)
}

func (testRequestRepo) RequestsStats(ctx context.Context, db *gorm.DB, userID uint) (int64, *time.Time, error) {
	return repo.RequestsStats(ctx, db, userID)
}

func (testRequestRepo) GetIdempotency(ctx context.Context, db *gorm.DB, userID uint, key string, now time.Time) (*domain.Idempotency, error) {
	return repo.GetIdempotency(ctx, db, userID, key, now)
}

func (testRequestRepo) CreateIdempotency(ctx context.Context, db *gorm.DB, userID uint, key string, requestID uint, status int, ttl time.Duration) (*domain.Idempotency, error) {
	return repo.CreateIdempotency(ctx, db, userID, key, requestID, status, ttl)
}

// ---------- stubs ----------

type stubAuthn struct{ id *auth.Identity }

func (s stubAuthn) Resolve(*http.Request) (auth.Identity, bool) {
	if s.id == nil {
		return auth.Identity{}, false
	}
	return *s.id, true
}

type genFunc func(ctx context.Context, model, prompt string, params domain.Parameters) (string, error)

func (f genFunc) Generate(ctx context.Context, model, prompt string, params domain.Parameters) (string, error) {
	return f(ctx, model, prompt, params)
}

// stubReqSvc is a flexible RequestService; nil funcs fall back to benign defaults.
type stubReqSvc struct {
	submit   func(context.Context, *auth.Identity, services.SubmitInput) (*services.RequestResult, error)
	fetch    func(context.Context, *auth.Identity, uint) (*services.RequestResult, error)
	listPage func(context.Context, *auth.Identity, int, int) ([]domain.Request, int64, error)
	version  func(context.Context, *auth.Identity) (string, error)

	submitCalls int
}

func (s *stubReqSvc) Submit(ctx context.Context, c *auth.Identity, in services.SubmitInput) (*services.RequestResult, error) {
	s.submitCalls++
	if s.submit != nil {
		return s.submit(ctx, c, in)
	}
	return &services.RequestResult{RequestID: 1, Status: domain.StatusSuccess, Result: "ok"}, nil
}

func (s *stubReqSvc) Fetch(ctx context.Context, c *auth.Identity, id uint) (*services.RequestResult, error) {
	if s.fetch != nil {
		return s.fetch(ctx, c, id)
	}
	return &services.RequestResult{RequestID: id, Status: domain.StatusPending}, nil
}

func (s *stubReqSvc) ListPage(ctx context.Context, c *auth.Identity, page, pageSize int) ([]domain.Request, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, c, page, pageSize)
	}
	return []domain.Request{}, 0, nil
}

func (s *stubReqSvc) Version(ctx context.Context, c *auth.Identity) (string, error) {
	if s.version != nil {
		return s.version(ctx, c)
	}
	return "requests:1:0:0", nil
}

var alice = &auth.Identity{UserID: 1, Username: "alice"}

// newRouter wires the handlers the way RegisterRoutes does, with caller as
// the resolved identity (nil = anonymous).
func newRouter(caller *auth.Identity, reqSvc RequestService, userSvc UserService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Authenticate(stubAuthn{id: caller}))
	h := New(reqSvc, userSvc)
	r.POST("/request", middleware.IdempotencyValidator(middleware.IdempotencyOptions{}), h.SubmitRequest)
	r.GET("/request/:request_id", h.GetRequest)
	r.GET("/requests", h.ListRequests)
	r.POST("/auth/register", h.Register)
	r.POST("/auth/token", h.Token)
	r.GET("/users/me", h.Me)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeErr(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("error body: %v (%s)", err, w.Body.String())
	}
	return er
}

// ---------- helpers ----------

func TestClampPagination(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query    string
		page, ps int
	}{
		{"", 1, 20},
		{"page=3&page_size=5", 3, 5},
		{"page=0&page_size=0", 1, 1},
		{"page=-2&page_size=1000", 1, 100},
		{"page=x&page_size=y", 1, 20},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/requests?"+tc.query, nil)
		p, ps := clampPagination(c)
		if p != tc.page || ps != tc.ps {
			t.Fatalf("%q: got (%d,%d) want (%d,%d)", tc.query, p, ps, tc.page, tc.ps)
		}
	}
}

func TestGenerationDetail(t *testing.T) {
	apiErr := &generation.APIError{Status: 401, Type: "invalid_request_error", Message: "Incorrect API key provided"}
	wrapped := fmt.Errorf("%w: %w", services.ErrGeneration, fmt.Errorf("%w: %w", generation.ErrGenerationFailed, apiErr))
	if got := generationDetail(wrapped); got != "Incorrect API key provided" {
		t.Fatalf("detail = %q", got)
	}
	plain := fmt.Errorf("%w: %w", services.ErrGeneration, context.DeadlineExceeded)
	if got := generationDetail(plain); got != "text generation failed" {
		t.Fatalf("detail = %q", got)
	}
}

// ---------- SubmitRequest ----------

func TestSubmitRequest_Success(t *testing.T) {
	var got services.SubmitInput
	var gotCaller *auth.Identity
	svc := &stubReqSvc{submit: func(_ context.Context, c *auth.Identity, in services.SubmitInput) (*services.RequestResult, error) {
		got, gotCaller = in, c
		return &services.RequestResult{RequestID: 7, Status: domain.StatusSuccess, Result: "Once upon a time"}, nil
	}}
	r := newRouter(alice, svc, nil)

	w := doJSON(t, r, http.MethodPost, "/request", map[string]any{
		"model":      "gpt-3.5-turbo",
		"prompt":     "Write a story.",
		"parameters": map[string]any{"temperature": 0.7, "max_tokens": 50},
	}, map[string]string{"Idempotency-Key": "key-1"})

	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var resp RequestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Status != "success" || resp.Result != "Once upon a time" || resp.RequestID != 7 {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if gotCaller == nil || gotCaller.UserID != 1 {
		t.Fatalf("caller not passed: %+v", gotCaller)
	}
	if got.Model != "gpt-3.5-turbo" || got.Prompt != "Write a story." || got.IdempotencyKey != "key-1" {
		t.Fatalf("input not passed: %+v", got)
	}
	if got.Parameters["temperature"] != 0.7 || got.Parameters["max_tokens"] != 50 {
		t.Fatalf("parameters not passed: %+v", got.Parameters)
	}
	if w.Header().Get(middleware.HeaderIdempotencyReplayed) != "" {
		t.Fatalf("fresh submission must not be marked replayed")
	}
}

func TestSubmitRequest_Anonymous_401BeforeValidation(t *testing.T) {
	svc := &stubReqSvc{}
	r := newRouter(nil, svc, nil)

	for _, body := range []any{
		map[string]any{"model": "m", "prompt": "p"},
		`{"model": 42`, // malformed JSON still yields 401 first
	} {
		w := doJSON(t, r, http.MethodPost, "/request", body, nil)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
		}
		er := decodeErr(t, w)
		if er.Code != ErrCodeUnauthorized || er.Detail != "Authentication required" || er.RequestID == "" {
			t.Fatalf("unexpected body: %+v", er)
		}
	}
	if svc.submitCalls != 0 {
		t.Fatalf("service must not be called for anonymous callers")
	}
}

func TestSubmitRequest_BadBody(t *testing.T) {
	svc := &stubReqSvc{}
	r := newRouter(alice, svc, nil)

	for _, body := range []string{
		`{"model":"m","prompt":"p","parameters":{"temperature":"hot"}}`,
		`{"model":"m","prompt":`,
		`[1,2,3]`,
	} {
		w := doJSON(t, r, http.MethodPost, "/request", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d", body, w.Code)
		}
		if er := decodeErr(t, w); er.Code != ErrCodeBadRequest {
			t.Fatalf("%s: unexpected body: %+v", body, er)
		}
	}
	if svc.submitCalls != 0 {
		t.Fatalf("service must not be called for malformed bodies")
	}
}

func TestSubmitRequest_InvalidIdempotencyKey(t *testing.T) {
	svc := &stubReqSvc{}
	r := newRouter(alice, svc, nil)
	w := doJSON(t, r, http.MethodPost, "/request", map[string]any{"model": "m", "prompt": "p"},
		map[string]string{"Idempotency-Key": "not valid!"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", w.Code)
	}
	if svc.submitCalls != 0 {
		t.Fatalf("service must not be called")
	}
}

func TestSubmitRequest_ServiceErrors(t *testing.T) {
	apiErr := &generation.APIError{Status: 401, Message: "Incorrect API key provided"}
	cases := []struct {
		name   string
		err    error
		status int
		code   string
		detail string
	}{
		{"invalid input", fmt.Errorf("%w: prompt must not be empty", services.ErrInvalidInput), 400, ErrCodeBadRequest, "invalid input: prompt must not be empty"},
		{"unauthorized", services.ErrUnauthorized, 401, ErrCodeUnauthorized, "Authentication required"},
		{"generation api", fmt.Errorf("%w: %w", services.ErrGeneration, apiErr), 400, ErrCodeGenerationFailed, "Incorrect API key provided"},
		{"generation other", fmt.Errorf("%w: %w", services.ErrGeneration, errors.New("dial tcp: refused")), 400, ErrCodeGenerationFailed, "text generation failed"},
		{"persistence", errors.New("database is locked"), 500, ErrCodeInternal, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubReqSvc{submit: func(context.Context, *auth.Identity, services.SubmitInput) (*services.RequestResult, error) {
				return nil, tc.err
			}}
			r := newRouter(alice, svc, nil)
			w := doJSON(t, r, http.MethodPost, "/request", map[string]any{"model": "m", "prompt": "p"}, nil)
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			er := decodeErr(t, w)
			if er.Code != tc.code || er.Detail != tc.detail {
				t.Fatalf("unexpected body: %+v", er)
			}
		})
	}
}

func TestSubmitRequest_ReplayedHeader(t *testing.T) {
	svc := &stubReqSvc{submit: func(context.Context, *auth.Identity, services.SubmitInput) (*services.RequestResult, error) {
		return &services.RequestResult{RequestID: 3, Status: domain.StatusSuccess, Result: "again", Replayed: true}, nil
	}}
	r := newRouter(alice, svc, nil)
	w := doJSON(t, r, http.MethodPost, "/request", map[string]any{"model": "m", "prompt": "p"},
		map[string]string{"Idempotency-Key": "k"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d", w.Code)
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header")
	}
}

// ---------- GetRequest ----------

func TestGetRequest(t *testing.T) {
	svc := &stubReqSvc{fetch: func(_ context.Context, _ *auth.Identity, id uint) (*services.RequestResult, error) {
		switch id {
		case 5:
			return &services.RequestResult{RequestID: 5, Status: domain.StatusSuccess, Result: "text"}, nil
		case 6:
			return &services.RequestResult{RequestID: 6, Status: domain.StatusFailed}, nil
		case 500:
			return nil, errors.New("boom")
		}
		return nil, services.ErrRequestNotFound
	}}
	r := newRouter(alice, svc, nil)

	w := doJSON(t, r, http.MethodGet, "/request/5", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp RequestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != "success" || resp.Result != "text" || resp.RequestID != 5 {
		t.Fatalf("unexpected body: %+v", resp)
	}

	w = doJSON(t, r, http.MethodGet, "/request/6", nil, nil)
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Status != "failed" || resp.Result != "" {
		t.Fatalf("failed record: status=%d body=%+v", w.Code, resp)
	}

	for _, path := range []string{"/request/99", "/request/abc", "/request/0", "/request/-1"} {
		w = doJSON(t, r, http.MethodGet, path, nil, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s: status=%d", path, w.Code)
		}
		if er := decodeErr(t, w); er.Code != ErrCodeNotFound || er.Detail != "Request not found" {
			t.Fatalf("%s: unexpected body: %+v", path, er)
		}
	}

	w = doJSON(t, r, http.MethodGet, "/request/500", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestGetRequest_Anonymous(t *testing.T) {
	r := newRouter(nil, &stubReqSvc{}, nil)
	w := doJSON(t, r, http.MethodGet, "/request/1", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
}

// ---------- ListRequests ----------

func TestListRequests_PaginationAndETag(t *testing.T) {
	now := time.Now().UTC()
	text := "done"
	var gotPage, gotSize int
	svc := &stubReqSvc{
		listPage: func(_ context.Context, _ *auth.Identity, page, pageSize int) ([]domain.Request, int64, error) {
			gotPage, gotSize = page, pageSize
			return []domain.Request{{ID: 2, Model: "m", Prompt: "p", Status: domain.StatusSuccess, Response: &text, CreatedAt: now, UpdatedAt: now}}, 3, nil
		},
		version: func(context.Context, *auth.Identity) (string, error) { return "requests:1:3:42", nil },
	}
	r := newRouter(alice, svc, nil)

	w := doJSON(t, r, http.MethodGet, "/requests?page=2&page_size=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if gotPage != 2 || gotSize != 1 {
		t.Fatalf("page=%d pageSize=%d", gotPage, gotSize)
	}
	etag := w.Header().Get("ETag")
	if etag != `W/"requests:1:3:42:p2:s1"` {
		t.Fatalf("ETag = %q", etag)
	}
	var resp ListRequestsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(resp.Requests) != 1 || resp.Requests[0].RequestID != 2 || resp.Requests[0].Result != "done" {
		t.Fatalf("unexpected items: %+v", resp.Requests)
	}
	if resp.Requests[0].Parameters == nil {
		t.Fatalf("parameters must serialize as an object")
	}
	p := resp.Pagination
	if p.Page != 2 || p.PageSize != 1 || p.Total != 3 || p.TotalPages != 3 || !p.HasNext {
		t.Fatalf("unexpected pagination: %+v", p)
	}

	// Conditional GET with the same ETag → 304, empty body.
	w = doJSON(t, r, http.MethodGet, "/requests?page=2&page_size=1", nil, map[string]string{"If-None-Match": etag})
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("expected 304 with empty body, got %d %q", w.Code, w.Body.String())
	}

	// Another page does not match the tag.
	w = doJSON(t, r, http.MethodGet, "/requests?page=1&page_size=1", nil, map[string]string{"If-None-Match": etag})
	if w.Code == http.StatusNotModified {
		t.Fatalf("different page must not be 304")
	}
}

func TestListRequests_VersionErrorStillLists(t *testing.T) {
	svc := &stubReqSvc{version: func(context.Context, *auth.Identity) (string, error) { return "", errors.New("stats") }}
	r := newRouter(alice, svc, nil)
	w := doJSON(t, r, http.MethodGet, "/requests", nil, map[string]string{"If-None-Match": `W/""`})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if w.Header().Get("ETag") != "" {
		t.Fatalf("no ETag expected when version fails")
	}
	if !strings.Contains(w.Body.String(), `"requests":[]`) {
		t.Fatalf("expected empty list, got %s", w.Body.String())
	}
}

func TestListRequests_Errors(t *testing.T) {
	r := newRouter(nil, &stubReqSvc{}, nil)
	if w := doJSON(t, r, http.MethodGet, "/requests", nil, nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status=%d", w.Code)
	}

	svc := &stubReqSvc{listPage: func(context.Context, *auth.Identity, int, int) ([]domain.Request, int64, error) {
		return nil, 0, errors.New("db down")
	}}
	r = newRouter(alice, svc, nil)
	w := doJSON(t, r, http.MethodGet, "/requests", nil, nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db down") {
		t.Fatalf("storage error leaked: %s", w.Body.String())
	}
}

// ---------- end to end with sqlite ----------

func TestRequestFlow_SQLite(t *testing.T) {
	db := newHandlerDB(t)
	u := &domain.User{Username: "alice", Email: "alice@example.com", PasswordHash: "x"}
	if err := db.Create(u).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	caller := &auth.Identity{UserID: u.ID, Username: u.Username}

	calls := 0
	gen := genFunc(func(_ context.Context, model, prompt string, params domain.Parameters) (string, error) {
		calls++
		if prompt == "fail" {
			return "", fmt.Errorf("%w: %w", generation.ErrGenerationFailed, &generation.APIError{Status: 429, Message: "Rate limit reached"})
		}
		return fmt.Sprintf("%s says: %s (t=%v)", model, prompt, params["temperature"]), nil
	})
	svc := services.NewRequestService(db, testRequestRepo{}, gen)
	r := newRouter(caller, svc, nil)

	// Submit → 201 success.
	w := doJSON(t, r, http.MethodPost, "/request", map[string]any{
		"model": "gpt", "prompt": "hi", "parameters": map[string]any{"temperature": 0.5},
	}, map[string]string{"Idempotency-Key": "flow-1"})
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	var created RequestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)
	if created.Status != "success" || created.Result != "gpt says: hi (t=0.5)" || created.RequestID == 0 {
		t.Fatalf("unexpected submit body: %+v", created)
	}

	// Retry with the same key → replayed, generator not called again.
	w = doJSON(t, r, http.MethodPost, "/request", map[string]any{"model": "gpt", "prompt": "hi"},
		map[string]string{"Idempotency-Key": "flow-1"})
	var replay RequestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &replay)
	if w.Code != http.StatusCreated || w.Header().Get("Idempotency-Replayed") != "true" || replay.RequestID != created.RequestID {
		t.Fatalf("replay: %d %s", w.Code, w.Body.String())
	}
	if calls != 1 {
		t.Fatalf("generator calls = %d; want 1", calls)
	}

	// Fetch → same result.
	w = doJSON(t, r, http.MethodGet, fmt.Sprintf("/request/%d", created.RequestID), nil, nil)
	var fetched RequestResponse
	_ = json.Unmarshal(w.Body.Bytes(), &fetched)
	if w.Code != http.StatusOK || fetched != created {
		t.Fatalf("fetch: %d %+v", w.Code, fetched)
	}

	// Failing generation → 400 with upstream detail, stored as failed.
	w = doJSON(t, r, http.MethodPost, "/request", map[string]any{"model": "gpt", "prompt": "fail"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("failing submit: %d", w.Code)
	}
	if er := decodeErr(t, w); er.Code != ErrCodeGenerationFailed || er.Detail != "Rate limit reached" {
		t.Fatalf("unexpected error body: %+v", er)
	}
	var failed domain.Request
	if err := db.Where("prompt = ?", "fail").First(&failed).Error; err != nil {
		t.Fatalf("failed record: %v", err)
	}
	if failed.Status != domain.StatusFailed || failed.Response != nil || failed.Error == nil {
		t.Fatalf("unexpected failed record: %+v", failed)
	}

	// Validation failure → 400, nothing stored.
	var before int64
	db.Model(&domain.Request{}).Count(&before)
	w = doJSON(t, r, http.MethodPost, "/request", map[string]any{"model": "gpt", "prompt": "   "}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("blank prompt: %d", w.Code)
	}
	var after int64
	db.Model(&domain.Request{}).Count(&after)
	if after != before {
		t.Fatalf("validation failure wrote a record")
	}

	// Listing shows both stored requests, newest first.
	w = doJSON(t, r, http.MethodGet, "/requests", nil, nil)
	var list ListRequestsResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if w.Code != http.StatusOK || list.Pagination.Total != 2 || len(list.Requests) != 2 {
		t.Fatalf("list: %d %s", w.Code, w.Body.String())
	}
	if list.Requests[0].Status != "failed" || list.Requests[1].RequestID != created.RequestID {
		t.Fatalf("unexpected order: %+v", list.Requests)
	}

	// Unknown id → 404.
	w = doJSON(t, r, http.MethodGet, "/request/999999", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown id: %d", w.Code)
	}
}
