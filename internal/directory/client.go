// Package directory is the record access client for the remote user
// directory. It turns "list all users" and "delete a user by email" into
// HTTP calls and hands back typed records or an apperror.ErrTransport.
//
// The client is stateless between calls: no retries, no caching, no
// request coalescing. Concurrency control belongs to the caller.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/sakif/user-admin/internal/apperror"
	"github.com/sakif/user-admin/internal/model"
)

const (
	usersPath       = "/users"
	requestIDHeader = "X-Request-Id"

	opListUsers  = "list users"
	opDeleteUser = "delete user"
)

// Client talks to the directory service rooted at a base URL.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New constructs a Client pointing at base, e.g. "http://localhost:8080".
// A scheme-less base is treated as http.
//
// The default HTTP client has no timeout; bound calls through their context.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return nil, fmt.Errorf("directory base url is required")
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid directory base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid directory base url %q: missing host", base)
	}

	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{},
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// BaseURL returns the normalised base address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListUsers fetches every account in server order.
//
// Only 200 OK with a JSON array counts as success. A record without an email,
// or two records sharing one, makes the whole payload malformed: the email is
// the row key and the delete target, so an ambiguous list cannot be shown.
func (c *Client) ListUsers(ctx context.Context) ([]model.UserRecord, error) {
	resp, err := c.do(ctx, http.MethodGet, usersPath, nil)
	if err != nil {
		return nil, apperror.Transport(opListUsers, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperror.Transport(opListUsers, statusError(resp))
	}

	var records []model.UserRecord
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&records); err != nil {
		return nil, apperror.Transport(opListUsers, fmt.Errorf("decode response: %w", err))
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, apperror.Transport(opListUsers, fmt.Errorf("decode response: trailing data after array"))
	}
	if records == nil {
		// "null" decodes without error but is not an array.
		return nil, apperror.Transport(opListUsers, fmt.Errorf("decode response: expected a JSON array"))
	}
	if err := checkKeys(records); err != nil {
		return nil, apperror.Transport(opListUsers, err)
	}

	c.logger.Debug("users listed", slog.Int("count", len(records)))
	return records, nil
}

// DeleteUser asks the directory to remove the account with email.
// Any 2xx is success. Deleting an email that is already gone fails like any
// other non-2xx answer.
func (c *Client) DeleteUser(ctx context.Context, email string) error {
	body := map[string]string{"email": email}

	resp, err := c.do(ctx, http.MethodDelete, usersPath, body)
	if err != nil {
		return apperror.Transport(opDeleteUser, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperror.Transport(opDeleteUser, statusError(resp))
	}
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("user deleted", slog.String("email", email))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(requestIDHeader, reqID)

	c.logger.Debug("directory request",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", reqID),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	return resp, nil
}

// statusError describes an unexpected status, including the server's error
// message when the body carries one.
func statusError(resp *http.Response) error {
	if msg := extractError(resp.Body); msg != "" {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, msg)
	}
	return fmt.Errorf("unexpected status %d", resp.StatusCode)
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil || len(data) == 0 {
		return ""
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	if payload.Message != "" {
		return strings.TrimSpace(payload.Message)
	}
	return strings.TrimSpace(payload.Error)
}

func checkKeys(records []model.UserRecord) error {
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.Email == "" {
			return fmt.Errorf("record %d has no email", i)
		}
		if _, dup := seen[r.Email]; dup {
			return fmt.Errorf("duplicate email %q", r.Email)
		}
		seen[r.Email] = struct{}{}
	}
	return nil
}
