package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vovakirdan/chatsync-sdk/chatsync/model"
)

// TokenSource supplies the bearer credential for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Client provides REST API access to the chat backend.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a new REST API client.
// baseURL should be the base URL of the API, e.g., "http://localhost:8080/api".
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  StaticToken(""),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetHTTPClient allows setting a custom HTTP client.
func (c *Client) SetHTTPClient(client *http.Client) {
	if client != nil {
		c.httpClient = client
	}
}

// SetToken sets a fixed bearer token for requests.
func (c *Client) SetToken(token string) {
	c.tokens = StaticToken(token)
}

// SetTokenSource sets the credential supplier consulted on every request.
func (c *Client) SetTokenSource(ts TokenSource) {
	if ts != nil {
		c.tokens = ts
	}
}

// Message endpoints

// GetMessages returns the current snapshot of a room. The server already
// omits messages the caller deleted for themselves.
func (c *Client) GetMessages(ctx context.Context, roomID string) ([]model.Message, error) {
	var resp MessagesResponse
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(roomID), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// SendMessage creates a message and returns the server copy.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*model.Message, error) {
	var resp model.Message
	if err := c.do(ctx, http.MethodPost, "/messages/send", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteMessage hides a message for the caller only.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	var resp DeleteResponse
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(messageID), nil, &resp)
}

// React toggles the caller's emoji on a message and returns the updated copy.
func (c *Client) React(ctx context.Context, messageID, emoji string) (*model.Message, error) {
	var resp model.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/react", ReactRequest{Emoji: emoji}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reply creates a message threaded under parentID.
func (c *Client) Reply(ctx context.Context, parentID string, req ReplyRequest) (*model.Message, error) {
	var resp model.Message
	if err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(parentID)+"/reply", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateStatus marks a message delivered or read.
func (c *Client) UpdateStatus(ctx context.Context, messageID string, status model.DeliveryState) (*model.Message, error) {
	if status != model.StateDelivered && status != model.StateRead {
		return nil, fmt.Errorf("update status: unsupported status %q", status)
	}
	var resp model.Message
	if err := c.do(ctx, http.MethodPut, "/messages/"+url.PathEscape(messageID)+"/status", StatusRequest{Status: status}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// User endpoints

// GetUser resolves one user profile.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	var resp User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListUsers returns every known user. Both a bare array and a
// {"users": [...]} object are accepted.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/users", nil, &raw); err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var users []User
		if err := json.Unmarshal(trimmed, &users); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		return users, nil
	}
	var wrapped UsersResponse
	if err := json.Unmarshal(trimmed, &wrapped); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return wrapped.Users, nil
}

// Helper methods

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	var bodyReader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("credential: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Body: string(data)}
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil {
			apiErr.Message = errResp.Error
			if apiErr.Message == "" {
				apiErr.Message = errResp.Message
			}
		}
		return apiErr
	}

	if dest != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
