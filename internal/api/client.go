// Package api is the JSON-over-HTTP client for the reminder backend. It
// serves as the credential issuer and both reminder backends.
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

	"github.com/dukerupert/dosekeeper/internal/model"
)

const (
	linkedPath     = "/medicine-reminders"
	standalonePath = "/custom-reminders"
)

// Config holds backend connection settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to the reminder backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// StatusError is a non-2xx response. It unwraps to the matching taxonomy
// error.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.Code)
}

func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound || e.Code == http.StatusGone:
		return model.ErrNotFound
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return model.ErrSessionExpired
	case e.Code == http.StatusBadRequest || e.Code == http.StatusUnprocessableEntity:
		return model.ErrValidation
	case e.Code == http.StatusTooManyRequests || e.Code >= 500:
		return model.ErrNetwork
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s %s: %w", method, path, errors.Join(model.ErrNetwork, ctx.Err()))
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w: %v", method, path, model.ErrMalformed, err)
	}
	return nil
}

type tokenResponse struct {
	Token string `json:"token"`
}

// Login exchanges an identity for a token.
func (c *Client) Login(ctx context.Context, id model.Identity) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    id.Email,
		"password": id.Password,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("login: %w: empty token", model.ErrMalformed)
	}
	return resp.Token, nil
}

// Refresh exchanges a token for a fresh one.
func (c *Client) Refresh(ctx context.Context, token string) (string, error) {
	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/auth/refresh", token, nil, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fmt.Errorf("refresh: %w: empty token", model.ErrMalformed)
	}
	return resp.Token, nil
}

func (c *Client) ListMedicines(ctx context.Context, token string) ([]model.Medicine, error) {
	var meds []model.Medicine
	if err := c.do(ctx, http.MethodGet, "/medicines", token, nil, &meds); err != nil {
		return nil, err
	}
	return meds, nil
}

type toggleRequest struct {
	IsActive bool `json:"is_active"`
}

type recordRequest struct {
	At time.Time `json:"at"`
}

func itemPath(base, id string) string {
	return base + "/" + url.PathEscape(id)
}

func (c *Client) list(ctx context.Context, base, token string) ([]model.Reminder, error) {
	var rs []model.Reminder
	if err := c.do(ctx, http.MethodGet, base, token, nil, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

func (c *Client) create(ctx context.Context, base, token string, r model.Reminder) (model.Reminder, error) {
	var out model.Reminder
	err := c.do(ctx, http.MethodPost, base, token, r, &out)
	return out, err
}

func (c *Client) update(ctx context.Context, base, token string, r model.Reminder) (model.Reminder, error) {
	var out model.Reminder
	err := c.do(ctx, http.MethodPut, itemPath(base, r.ID), token, r, &out)
	return out, err
}

func (c *Client) remove(ctx context.Context, base, token, id string) error {
	return c.do(ctx, http.MethodDelete, itemPath(base, id), token, nil, nil)
}

func (c *Client) toggle(ctx context.Context, base, token, id string, active bool) (model.Reminder, error) {
	var out model.Reminder
	err := c.do(ctx, http.MethodPost, itemPath(base, id)+"/toggle", token, toggleRequest{IsActive: active}, &out)
	return out, err
}

func (c *Client) record(ctx context.Context, base, token, id string, action model.Action, at time.Time) (model.Reminder, error) {
	var out model.Reminder
	err := c.do(ctx, http.MethodPost, itemPath(base, id)+"/"+string(action), token, recordRequest{At: at.UTC()}, &out)
	return out, err
}

func (c *Client) ListLinked(ctx context.Context, token string) ([]model.Reminder, error) {
	return c.list(ctx, linkedPath, token)
}

func (c *Client) CreateLinked(ctx context.Context, token string, r model.Reminder) (model.Reminder, error) {
	return c.create(ctx, linkedPath, token, r)
}

func (c *Client) UpdateLinked(ctx context.Context, token string, r model.Reminder) (model.Reminder, error) {
	return c.update(ctx, linkedPath, token, r)
}

func (c *Client) DeleteLinked(ctx context.Context, token string, id string) error {
	return c.remove(ctx, linkedPath, token, id)
}

func (c *Client) ToggleLinked(ctx context.Context, token string, id string, active bool) (model.Reminder, error) {
	return c.toggle(ctx, linkedPath, token, id, active)
}

func (c *Client) RecordLinked(ctx context.Context, token string, id string, action model.Action, at time.Time) (model.Reminder, error) {
	return c.record(ctx, linkedPath, token, id, action, at)
}

func (c *Client) ListStandalone(ctx context.Context) ([]model.Reminder, error) {
	return c.list(ctx, standalonePath, "")
}

func (c *Client) CreateStandalone(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	return c.create(ctx, standalonePath, "", r)
}

func (c *Client) UpdateStandalone(ctx context.Context, r model.Reminder) (model.Reminder, error) {
	return c.update(ctx, standalonePath, "", r)
}

func (c *Client) DeleteStandalone(ctx context.Context, id string) error {
	return c.remove(ctx, standalonePath, "", id)
}

func (c *Client) ToggleStandalone(ctx context.Context, id string, active bool) (model.Reminder, error) {
	return c.toggle(ctx, standalonePath, "", id, active)
}

func (c *Client) RecordStandalone(ctx context.Context, id string, action model.Action, at time.Time) (model.Reminder, error) {
	return c.record(ctx, standalonePath, "", id, action, at)
}
