// Package generation is the outbound client for an OpenAI-compatible
// text-completion API. A Client performs exactly one HTTP call per Generate:
// no retries, no streaming, no caching. The API key is handed in by the
// caller at construction time and never read from the environment here.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/tbourn/go-genreq-backend/internal/domain"
)

// ErrGenerationFailed wraps every failure of the remote call: transport
// errors, non-2xx statuses, undecodable bodies and empty results.
var ErrGenerationFailed = errors.New("generation failed")

// APIError is a non-2xx answer from the generation API.
type APIError struct {
	Status  int    // HTTP status code
	Type    string // upstream error type, when present
	Message string // upstream message, or the HTTP status text
}

func (e *APIError) Error() string {
	return fmt.Sprintf("generation api http %d: %s", e.Status, e.Message)
}

// maxErrorBody bounds how much of an error body is kept in APIError.Message.
const maxErrorBody = 512

// maxResponseBody caps how much of any upstream response is read.
const maxResponseBody = 8 << 20

// Client calls POST {baseURL}/completions with a bearer API key.
type Client struct {
	baseURL string
	apiKey  string

	httpClient *http.Client
}

// NewClient builds a Client. timeout bounds each outbound call; a
// non-positive value falls back to 60s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type completionChoice struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

type completionResp struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Choices []completionChoice `json:"choices"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate sends model and prompt plus every parameter as a top-level option
// of the completion call and returns the first choice's text with surrounding
// whitespace removed. Parameters named "model" or "prompt" are ignored.
//
// Every error returned satisfies errors.Is(err, ErrGenerationFailed).
func (c *Client) Generate(ctx context.Context, model, prompt string, params domain.Parameters) (string, error) {
	ctx, span := otel.Tracer("generation").Start(ctx, "Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("gen.model", model),
		attribute.Int("gen.prompt_len", len(prompt)),
		attribute.Int("gen.params", len(params)),
	)

	start := time.Now()
	text, echoed, err := c.complete(ctx, model, prompt, params)
	observe(echoed, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	return text, nil
}

// complete returns the first choice's text and the model the upstream says
// served it.
func (c *Client) complete(ctx context.Context, model, prompt string, params domain.Parameters) (string, string, error) {
	body := make(map[string]any, len(params)+2)
	for k, v := range params {
		body[k] = v
	}
	body["model"] = model
	body["prompt"] = prompt

	var out completionResp
	if err := c.doJSON(ctx, http.MethodPost, c.baseURL+"/completions", body, &out); err != nil {
		return "", "", err
	}
	if len(out.Choices) == 0 {
		return "", "", errors.New("response contained no choices")
	}
	return strings.TrimSpace(out.Choices[0].Text), out.Model, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, in any, out any) error {
	if c.apiKey == "" {
		return errors.New("generation api key is empty")
	}
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	r, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(b))
	if err != nil {
		return err
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(r)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if len(raw) > maxResponseBody {
		return fmt.Errorf("response body exceeds %d bytes", maxResponseBody)
	}
	if resp.StatusCode >= 400 {
		return newAPIError(resp, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func newAPIError(resp *http.Response, raw []byte) *APIError {
	apiErr := &APIError{Status: resp.StatusCode}

	var body apiErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		apiErr.Message = body.Error.Message
		apiErr.Type = body.Error.Type
		return apiErr
	}

	msg := strings.TrimSpace(string(raw))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		msg = resp.Status
	}
	apiErr.Message = msg
	return apiErr
}
