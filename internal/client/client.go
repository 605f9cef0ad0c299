// Package client talks to the exam API on behalf of the runner.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-oral/internal/model"
)

var ErrUnauthenticated = errors.New("not logged in")

// APIError is a non-2xx answer decoded from the response envelope.
type APIError struct {
	Status  int
	Code    string
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

type Config struct {
	BaseURL string // e.g. http://localhost:8080/api/v1
	Timeout time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

func New(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "api_client").Logger(),
	}
}

// SetToken installs a bearer token obtained elsewhere.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (*model.Student, error) {
	var out model.StudentLoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/auth/student/login",
		model.StudentLoginRequest{Email: email, Password: password}, &out, false)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	c.SetToken(out.Token)
	return &out.Student, nil
}

// ListSections fetches the flat section list of a test.
func (c *Client) ListSections(ctx context.Context, testID uuid.UUID) ([]model.Section, error) {
	var out struct {
		Sections []model.Section `json:"sections"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/student/tests/"+testID.String()+"/sections", nil, &out, true); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	return out.Sections, nil
}

// ListQuestions fetches the questions of one section.
func (c *Client) ListQuestions(ctx context.Context, sectionID uuid.UUID) ([]model.Question, error) {
	var out struct {
		Questions []model.Question `json:"questions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/student/sections/"+sectionID.String()+"/questions", nil, &out, true); err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	return out.Questions, nil
}

// CreateSubmission opens an attempt for a purchase.
func (c *Client) CreateSubmission(ctx context.Context, testID, purchaseID uuid.UUID) (*model.Submission, error) {
	var out struct {
		Submission model.Submission `json:"submission"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/student/tests/"+testID.String()+"/submissions",
		model.CreateSubmissionRequest{PurchaseID: purchaseID}, &out, true)
	if err != nil {
		return nil, fmt.Errorf("create submission: %w", err)
	}
	return &out.Submission, nil
}

// UploadAudio stores one recording and returns the URL the server assigned.
func (c *Client) UploadAudio(ctx context.Context, filename, mimeType string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/student/media/audio", &body, true)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		URL string `json:"url"`
	}
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	return out.URL, nil
}

// AppendAnswer attaches an uploaded file to a question of the submission.
func (c *Client) AppendAnswer(ctx context.Context, submissionID, questionID uuid.UUID, audioRef string) error {
	err := c.doJSON(ctx, http.MethodPost, "/student/submissions/"+submissionID.String()+"/answers",
		model.AppendAnswerRequest{QuestionID: questionID, AudioURL: audioRef}, nil, true)
	if err != nil {
		return fmt.Errorf("append answer: %w", err)
	}
	return nil
}

// Complete marks the submission submitted. The server treats a repeat call
// as success.
func (c *Client) Complete(ctx context.Context, submissionID uuid.UUID) error {
	if err := c.doJSON(ctx, http.MethodPost, "/student/submissions/"+submissionID.String()+"/complete", nil, nil, true); err != nil {
		return fmt.Errorf("complete submission: %w", err)
	}
	return nil
}

// ─── Transport ──────────────────────────────────────────────────────

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, auth bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body, auth)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if auth {
		c.mu.RLock()
		token := c.token
		c.mu.RUnlock()
		if token == "" {
			return nil, ErrUnauthenticated
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	c.log.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", res.StatusCode).
		Dur("latency", time.Since(start)).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Msg("API call")

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil && !errors.Is(err, io.EOF) {
		if res.StatusCode/100 != 2 {
			return &APIError{Status: res.StatusCode}
		}
		return fmt.Errorf("decode response: %w", err)
	}

	if res.StatusCode/100 != 2 || env.Error != nil {
		apiErr := &APIError{Status: res.StatusCode}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Fields = env.Error.Fields
		}
		return apiErr
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
