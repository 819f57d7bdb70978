// Package api is a small client for the menu API used by the admin shell.
package api

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

	"github.com/atinyakov/qrmenu/internal/models"
)

const adminSecretHeader = "x-admin-secret"

// Error is a non-2xx answer of the API.
type Error struct {
	Status int
	Kind   string
	// Step names the write that failed for approve-failed and migrate-failed.
	Step string
}

func (e *Error) Error() string {
	if e.Step != "" {
		return fmt.Sprintf("api error %d: %s (step %s)", e.Status, e.Kind, e.Step)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Kind)
}

// Client talks to one server on behalf of one tenant.
type Client struct {
	BaseURL     string
	Tenant      string
	AdminSecret string
	HTTP        *http.Client
}

// New returns a client with a 15 second request timeout.
func New(baseURL, tenant, adminSecret string) *Client {
	return &Client{
		BaseURL:     strings.TrimRight(baseURL, "/"),
		Tenant:      tenant,
		AdminSecret: adminSecret,
		HTTP:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Users is the answer of GET /api/users.
type Users struct {
	Tenant    string   `json:"tenant"`
	Allowed   []string `json:"allowed"`
	Pending   []string `json:"pending"`
	Passwords []string `json:"passwords"`
}

// Change is the answer of the admin user operations.
type Change struct {
	Tenant   string `json:"tenant"`
	Username string `json:"username"`
	Changed  bool   `json:"changed"`
}

// Migration is the answer of POST /api/users-migrate.
type Migration struct {
	Migrated  bool `json:"migrated"`
	Passwords int  `json:"passwords"`
	Pending   int  `json:"pending"`
}

type userBody struct {
	Tenant   string `json:"tenant"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// ListUsers returns the tenant's approved and pending users.
func (c *Client) ListUsers(ctx context.Context) (*Users, error) {
	var out Users
	q := url.Values{"tenant": {c.Tenant}}
	if err := c.do(ctx, http.MethodGet, "/api/users?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Approve grants a pending user access.
func (c *Client) Approve(ctx context.Context, username string) (*Change, error) {
	return c.change(ctx, "/api/users-approve", username)
}

// Reject drops a pending registration.
func (c *Client) Reject(ctx context.Context, username string) (*Change, error) {
	return c.change(ctx, "/api/users-reject", username)
}

// Delete removes an approved user.
func (c *Client) Delete(ctx context.Context, username string) (*Change, error) {
	return c.change(ctx, "/api/users-delete", username)
}

func (c *Client) change(ctx context.Context, path, username string) (*Change, error) {
	var out Change
	if err := c.do(ctx, http.MethodPost, path, userBody{Tenant: c.Tenant, Username: username}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetPassword resets a user's password.
func (c *Client) SetPassword(ctx context.Context, username, password string) error {
	body := userBody{Tenant: c.Tenant, Username: username, Password: password}
	return c.do(ctx, http.MethodPost, "/api/users-set-password", body, nil)
}

// Migrate converts a legacy users document.
func (c *Client) Migrate(ctx context.Context) (*Migration, error) {
	var out Migration
	if err := c.do(ctx, http.MethodPost, "/api/users-migrate", userBody{Tenant: c.Tenant}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetMenu downloads the tenant's menu.
func (c *Client) GetMenu(ctx context.Context) ([]models.MenuItem, error) {
	var items []models.MenuItem
	q := url.Values{"tenant": {c.Tenant}}
	if err := c.do(ctx, http.MethodGet, "/api/menu?"+q.Encode(), nil, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// SaveMenu replaces the tenant's menu and returns the stored path.
func (c *Client) SaveMenu(ctx context.Context, items []models.MenuItem) (string, error) {
	var out struct {
		Path string `json:"path"`
	}
	body := struct {
		Tenant string            `json:"tenant"`
		Items  []models.MenuItem `json:"items"`
	}{Tenant: c.Tenant, Items: items}
	if err := c.do(ctx, http.MethodPost, "/api/save-menu", body, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminSecret != "" {
		req.Header.Set(adminSecretHeader, c.AdminSecret)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var payload struct {
		Error   string `json:"error"`
		Details struct {
			Step string `json:"step"`
		} `json:"details"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err := json.Unmarshal(data, &payload); err != nil || payload.Error == "" {
		payload.Error = http.StatusText(resp.StatusCode)
	}
	return &Error{Status: resp.StatusCode, Kind: payload.Error, Step: payload.Details.Step}
}

// IsKind reports whether err is an API error of the given kind.
func IsKind(err error, kind string) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
