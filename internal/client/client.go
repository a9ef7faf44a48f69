// Package client talks to the proctoring server's student API. Client
// implements session.Backend; StreamObserver implements
// session.StatusObserver over the WebSocket stream.
package client

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

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/session"
)

const apiPrefix = "/api/v1"

// APIError is an error envelope returned by the server.
type APIError struct {
	Status  int
	Code    response.ErrCode
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

// Client is a student session against one server.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

var _ session.Backend = (*Client)(nil)

// New creates a client for the server at baseURL (scheme and host, no path).
// A nil hc uses a client with a 30 second timeout.
func New(baseURL, token string, hc *http.Client, log zerolog.Logger) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    hc,
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// Login exchanges student credentials for a token and keeps it.
func (c *Client) Login(ctx context.Context, nisn, password string) (*model.Student, error) {
	var out struct {
		Token   string        `json:"token"`
		Student model.Student `json:"student"`
	}
	req := model.StudentLoginRequest{NISN: nisn, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/student/login", req, &out); err != nil {
		return nil, err
	}
	c.token = out.Token
	return &out.Student, nil
}

// Logout ends the server session bound to the token.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/student/logout", nil, nil)
}

// Lobby lists the exams open to the student's class.
func (c *Client) Lobby(ctx context.Context) ([]model.Exam, error) {
	var out struct {
		Exams []model.Exam `json:"exams"`
	}
	if err := c.do(ctx, http.MethodGet, "/student/lobby", nil, &out); err != nil {
		return nil, err
	}
	return out.Exams, nil
}

func (c *Client) Start(ctx context.Context, examID uuid.UUID) (*model.StartResult, error) {
	var out model.StartResult
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/start"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) State(ctx context.Context, examID uuid.UUID) (*model.AttemptState, error) {
	var out model.AttemptState
	if err := c.do(ctx, http.MethodGet, examPath(examID, "/state"), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SaveAnswer(ctx context.Context, examID uuid.UUID, answer model.Answer) error {
	return c.do(ctx, http.MethodPut, examPath(examID, "/answers"), answer, nil)
}

func (c *Client) Submit(ctx context.Context, examID uuid.UUID, req model.SubmitRequest) (*model.SubmitResult, error) {
	var out model.SubmitResult
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/submit"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LogViolation(ctx context.Context, examID uuid.UUID, report model.ViolationReport) (*model.ViolationOutcome, error) {
	var out model.ViolationOutcome
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/violations"), report, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RequestUnlock(ctx context.Context, examID uuid.UUID, reason string) (*model.UnlockRequest, error) {
	var out model.UnlockRequest
	req := model.CreateUnlockRequest{Reason: reason}
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/unlock-requests"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RunCode(ctx context.Context, examID uuid.UUID, req model.RunRequest) (*model.ExecutionResult, error) {
	var out model.ExecutionResult
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/run"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RunTests(ctx context.Context, examID uuid.UUID, req model.TestRunRequest) (*model.TestRunResult, error) {
	var out model.TestRunResult
	if err := c.do(ctx, http.MethodPost, examPath(examID, "/run-tests"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func examPath(examID uuid.UUID, suffix string) string {
	return "/student/exams/" + examID.String() + suffix
}

// do sends one request and decodes the envelope's data into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "br")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "br" {
		reader = brotli.NewReader(resp.Body)
	}

	var env envelope
	if err := json.NewDecoder(reader).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Code: response.ErrInternal}
		}
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("API call")

	if resp.StatusCode >= 400 || env.Error != nil {
		return translate(resp.StatusCode, env.Error)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s %s data: %w", method, path, err)
	}
	return nil
}

// translate maps error envelopes onto the errors the session controller
// understands. Everything else stays an *APIError.
func translate(status int, body *response.ErrorBody) error {
	apiErr := &APIError{Status: status, Code: response.ErrInternal}
	if body != nil {
		apiErr.Code, apiErr.Message, apiErr.Fields = body.Code, body.Message, body.Fields
	}

	switch apiErr.Code {
	case response.ErrAttemptLocked:
		return &session.AttemptStateError{Status: model.AttemptStatusLocked}
	case response.ErrAttemptSubmitted:
		return &session.AttemptStateError{Status: model.AttemptStatusSubmitted}
	case response.ErrNotEligible:
		return fmt.Errorf("%w: %w", session.ErrNotEligible, apiErr)
	case response.ErrUnlockPending:
		return fmt.Errorf("%w: %w", session.ErrUnlockPending, apiErr)
	}
	return apiErr
}

// IsUnauthorized reports whether err means the token is missing, expired
// or superseded by a login elsewhere.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}
