// Package client is a typed Go client for the admin-auth endpoint. It holds
// the session token in memory for the life of the Client, the way the
// browser app keeps it for the life of a tab.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jmcleod/cmdbook/api"
	"github.com/jmcleod/cmdbook/auth"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 10 * time.Second

// ErrTransport is returned when the server could not be reached or its reply
// could not be read.
var ErrTransport = errors.New("admin-auth transport failure")

// ErrNoSession is returned by session-bound calls made before any login.
var ErrNoSession = errors.New("not logged in")

// Error is a failure reported by the server. errors.Is matches it against
// the auth sentinel named by Code.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("admin-auth: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("admin-auth: %s (%s)", e.Message, e.Code)
}

func (e *Error) Is(target error) bool {
	sentinel := auth.Kind(e.Code).Sentinel()
	return sentinel != nil && target == sentinel
}

// Client calls POST /admin-auth on a cmdbook server.
type Client struct {
	baseURL    string
	httpClient *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithToken starts the client with an existing session token.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the held session token, or "" when logged out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ExpiresAt returns the absolute expiry of the held session as reported by
// the server. It is zero when unknown.
func (c *Client) ExpiresAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiresAt
}

func (c *Client) setSession(resp api.SessionResponse) {
	c.mu.Lock()
	c.token = resp.SessionToken
	c.expiresAt = resp.ExpiresAt
	c.mu.Unlock()
}

func (c *Client) clearSession() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

// Status reports whether the admin still has to be set up.
func (c *Client) Status(ctx context.Context) (bool, error) {
	var resp api.StatusResponse
	if err := c.do(ctx, api.ActionCheckStatus, api.CheckStatusRequest{}, &resp); err != nil {
		return false, err
	}
	return resp.IsFirstTimeSetup, nil
}

// Setup creates the admin password and keeps the returned session.
func (c *Client) Setup(ctx context.Context, password string) error {
	return c.session(ctx, api.ActionSetup, api.SetupRequest{Password: password})
}

// Login authenticates with the admin password.
func (c *Client) Login(ctx context.Context, password string) error {
	return c.session(ctx, api.ActionLogin, api.LoginRequest{Password: password})
}

// LoginWithFile authenticates with the contents of an auth file.
func (c *Client) LoginWithFile(ctx context.Context, fileContent string) error {
	return c.session(ctx, api.ActionLoginWithFile, api.LoginWithFileRequest{FileContent: fileContent})
}

// ChangePassword rotates the admin password. The server revokes every
// session, so the client switches to the fresh one it returns.
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	token, err := c.requireToken()
	if err != nil {
		return err
	}
	return c.session(ctx, api.ActionChangePassword, api.ChangePasswordRequest{
		SessionToken:    token,
		CurrentPassword: current,
		NewPassword:     next,
	})
}

// GenerateAuthFile returns an auth file for the current password.
func (c *Client) GenerateAuthFile(ctx context.Context, current string) (string, error) {
	return c.generate(ctx, api.ActionGenerateAuthFile, current)
}

// GenerateResetKey returns a reset key for the current password.
func (c *Client) GenerateResetKey(ctx context.Context, current string) (string, error) {
	return c.generate(ctx, api.ActionGenerateResetKey, current)
}

func (c *Client) generate(ctx context.Context, action api.Action, current string) (string, error) {
	token, err := c.requireToken()
	if err != nil {
		return "", err
	}
	var resp api.KeyResponse
	err = c.do(ctx, action, api.GenerateFileRequest{SessionToken: token, CurrentPassword: current}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Key, nil
}

// ResetPasswordWithKey sets a new password using a reset key and keeps the
// returned session.
func (c *Client) ResetPasswordWithKey(ctx context.Context, fileContent, next string) error {
	return c.session(ctx, api.ActionResetPasswordWithKey, api.ResetPasswordRequest{
		FileContent: fileContent,
		NewPassword: next,
	})
}

// ValidateSession asks the server whether the held token is still live. An
// invalid token is dropped.
func (c *Client) ValidateSession(ctx context.Context) (api.ValidateResponse, error) {
	var resp api.ValidateResponse
	if err := c.do(ctx, api.ActionValidateSession, api.SessionRequest{SessionToken: c.Token()}, &resp); err != nil {
		return resp, err
	}
	if !resp.Valid {
		c.clearSession()
	}
	return resp, nil
}

// Logout revokes the held session. The local token is discarded even when
// the server cannot be reached.
func (c *Client) Logout(ctx context.Context) error {
	token := c.Token()
	c.clearSession()
	if token == "" {
		return nil
	}
	var resp api.SuccessResponse
	return c.do(ctx, api.ActionLogout, api.SessionRequest{SessionToken: token}, &resp)
}

func (c *Client) requireToken() (string, error) {
	token := c.Token()
	if token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

func (c *Client) session(ctx context.Context, action api.Action, req any) error {
	var resp api.SessionResponse
	if err := c.do(ctx, action, req, &resp); err != nil {
		return err
	}
	if resp.SessionToken == "" {
		return fmt.Errorf("%w: %s returned no session token", ErrTransport, action)
	}
	c.setSession(resp)
	return nil
}

// do posts {action, ...req} and decodes a 200 reply into out.
func (c *Client) do(ctx context.Context, action api.Action, req any, out any) error {
	body, err := encodeAction(action, req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin-auth", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: invalid response: %w", ErrTransport, err)
	}
	return nil
}

// encodeAction merges the action name into the request's JSON object.
func encodeAction(action api.Action, req any) ([]byte, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	name, err := json.Marshal(action)
	if err != nil {
		return nil, err
	}
	fields["action"] = name
	return json.Marshal(fields)
}

func decodeError(resp *http.Response) error {
	var errResp api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return fmt.Errorf("%w: server returned status %d", ErrTransport, resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Code: errResp.Code, Message: errResp.Error}
}
