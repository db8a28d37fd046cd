// Package backend is a client for the support platform's REST API: login,
// token refresh, logout and the alert listing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deskwatch/deskwatch/internal/logging"
	"github.com/deskwatch/deskwatch/internal/realtime"
)

// ErrUnauthorized is returned when the API keeps rejecting the session after a refresh.
var ErrUnauthorized = errors.New("backend: unauthorized")

// ErrNoSession is returned by authorized calls made before Login.
var ErrNoSession = errors.New("backend: not logged in")

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// APIError is a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend: status %d", e.Status)
	}
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Body)
}

// Tokens is the credential pair returned by login and refresh.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// AlertRecord is one alert as listed by the API.
type AlertRecord struct {
	ID           int64                  `json:"id"`
	Content      string                 `json:"content"`
	GuestID      GuestID                `json:"guest_id"`
	Notification *realtime.AlertDisplay `json:"notification"`
	CreatedAt    time.Time              `json:"created_at"`
	Read         bool                   `json:"read"`
}

// Alert converts the record into the realtime payload shape.
func (r AlertRecord) Alert() realtime.Alert {
	return realtime.Alert{Content: r.Content, GuestID: string(r.GuestID), Notification: r.Notification}
}

// GuestID accepts the guest reference as a JSON string or number.
type GuestID string

func (g *GuestID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*g = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*g = GuestID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("guest_id: %w", err)
	}
	*g = GuestID(n.String())
	return nil
}

// AlertPage is one page of GET /alerts. NextPage is zero on the last page.
type AlertPage struct {
	Alerts   []AlertRecord `json:"alerts"`
	NextPage int           `json:"next_page"`
}

// Client talks to the API on behalf of one session. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu        sync.Mutex
	tokens    Tokens
	onRefresh func(Tokens)
}

// NewClient returns a client rooted at baseURL. A nil hc uses a client with a 15s timeout.
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

// OnRefresh registers fn to receive tokens after every successful refresh,
// including the ones triggered by a 401.
func (c *Client) OnRefresh(fn func(Tokens)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRefresh = fn
}

// Tokens returns the current credential pair.
func (c *Client) Tokens() Tokens {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// AccessToken returns the current access token, or "" before Login.
func (c *Client) AccessToken() string { return c.Tokens().AccessToken }

func (c *Client) setTokens(t Tokens) {
	c.mu.Lock()
	c.tokens = t
	c.mu.Unlock()
}

// Login exchanges credentials for tokens and stores them.
func (c *Client) Login(ctx context.Context, username, password string) (Tokens, error) {
	body := map[string]string{"username": username, "password": password}
	var t Tokens
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, "", &t); err != nil {
		return Tokens{}, fmt.Errorf("login: %w", err)
	}
	if t.AccessToken == "" {
		return Tokens{}, errors.New("login: response carried no access token")
	}
	c.setTokens(t)
	return t, nil
}

// Refresh trades the refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context) (Tokens, error) {
	cur := c.Tokens()
	if cur.RefreshToken == "" {
		return Tokens{}, ErrNoSession
	}
	var t Tokens
	err := c.do(ctx, http.MethodPost, "/auth/refresh", map[string]string{"refresh_token": cur.RefreshToken}, "", &t)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
			return Tokens{}, ErrUnauthorized
		}
		return Tokens{}, fmt.Errorf("refresh: %w", err)
	}
	if t.AccessToken == "" {
		return Tokens{}, errors.New("refresh: response carried no access token")
	}
	if t.RefreshToken == "" {
		t.RefreshToken = cur.RefreshToken
	}
	c.setTokens(t)

	c.mu.Lock()
	fn := c.onRefresh
	c.mu.Unlock()
	if fn != nil {
		fn(t)
	}
	return t, nil
}

// Logout invalidates the session server side and forgets the tokens locally.
// The local tokens are dropped even when the request fails.
func (c *Client) Logout(ctx context.Context) error {
	access := c.AccessToken()
	c.setTokens(Tokens{})
	if access == "" {
		return nil
	}
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, access, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// ListAlerts fetches one page of alerts. Pages start at 1.
func (c *Client) ListAlerts(ctx context.Context, page int) (AlertPage, error) {
	if page < 1 {
		page = 1
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	var out AlertPage
	if err := c.authorized(ctx, http.MethodGet, "/alerts?"+q.Encode(), nil, &out); err != nil {
		return AlertPage{}, fmt.Errorf("list alerts: %w", err)
	}
	return out, nil
}

// authorized sends a bearer request. A 401 triggers one refresh and one retry.
func (c *Client) authorized(ctx context.Context, method, path string, body, out any) error {
	access := c.AccessToken()
	if access == "" {
		return ErrNoSession
	}
	err := c.do(ctx, method, path, body, access, out)
	if !isUnauthorized(err) {
		return err
	}
	logging.Get().Debug().Str("path", path).Msg("access token rejected; refreshing")
	t, rerr := c.Refresh(ctx)
	if rerr != nil {
		if errors.Is(rerr, ErrUnauthorized) {
			return ErrUnauthorized
		}
		return rerr
	}
	err = c.do(ctx, method, path, body, t.AccessToken, out)
	if isUnauthorized(err) {
		return ErrUnauthorized
	}
	return err
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path string, body any, bearer string, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
