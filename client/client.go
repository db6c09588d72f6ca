// Package client is a Go consumer of the Academia API. It keeps the access
// token in memory only, carries the refresh cookie in a jar, and transparently
// refreshes-and-retries a request once when the access token expires.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrSessionExpired is returned when the access token is rejected and the
	// refresh token can no longer be rotated. The caller must log in again.
	ErrSessionExpired = errors.New("session expired, log in again")
)

type (
	Client struct {
		baseURL *url.URL
		http    *http.Client

		mu    sync.RWMutex
		token string

		// collapses concurrent refresh attempts into a single rotation so a
		// burst of 401s burns only one refresh token.
		refreshFlight singleflight.Group
	}

	Option func(*Client)

	// APIError carries a non-2xx response body.
	APIError struct {
		StatusCode int
		Body       string
	}

	User struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		Email    string   `json:"email"`
		Roles    []string `json:"roles"`
		IsActive bool     `json:"is_active"`
	}

	Session struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
		User      User      `json:"user"`
	}
)

func (err *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", err.StatusCode, err.Body)
}

// WithHTTPClient swaps the underlying http.Client; its Jar is replaced so the
// refresh cookie is still tracked.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing base URL")
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, errors.Wrap(err, "creating cookie jar")
		}
		c.http.Jar = jar
	}
	return c, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func isAuthPath(path string) bool {
	return strings.HasPrefix(path, "/v1/auth/")
}

// Do sends the request with the bearer token attached. A 401 on a non-auth
// route triggers a single shared refresh, then the request is replayed once
// with the new token. The request body must be rewindable (GetBody set), which
// is the case for all bodies built by this package.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if tok := c.getToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || isAuthPath(req.URL.Path) {
		return resp, nil
	}
	_ = resp.Body.Close()

	if err = c.refresh(req.Context()); err != nil {
		return nil, err
	}

	retry := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, errors.Wrap(err, "rewinding request body")
		}
		retry.Body = body
	}
	retry.Header.Set("Authorization", "Bearer "+c.getToken())
	return c.http.Do(retry)
}

// refresh rotates the refresh token. Concurrent callers share one flight; a
// failure clears the session so callers fall back to the login screen.
func (c *Client) refresh(ctx context.Context) error {
	_, err, _ := c.refreshFlight.Do("refresh", func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/auth/refresh"), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			c.setToken("")
			return nil, ErrSessionExpired
		}
		var sess Session
		if err = json.NewDecoder(resp.Body).Decode(&sess); err != nil {
			return nil, errors.Wrap(err, "decoding refresh response")
		}
		c.setToken(sess.Token)
		return nil, nil
	})
	return err
}

// Login authenticates and primes the client with the returned session.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var sess Session
	creds := map[string]string{"email": email, "password": password}
	if err := c.PostJSON(ctx, "/v1/auth/login", creds, &sess); err != nil {
		return Session{}, err
	}
	c.setToken(sess.Token)
	return sess, nil
}

// Logout revokes the refresh token server-side. Local state is cleared even
// when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	err := c.PostJSON(ctx, "/v1/auth/logout", nil, nil)
	c.setToken("")
	if jar, jarErr := cookiejar.New(nil); jarErr == nil {
		c.http.Jar = jar
	}
	return err
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (User, error) {
	var usr User
	if err := c.GetJSON(ctx, "/v1/me", &usr); err != nil {
		return User{}, err
	}
	return usr, nil
}

// JSON helpers

func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.doJSON(ctx, http.MethodPost, path, in, out)
}

func (c *Client) PatchJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.doJSON(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) DeleteJSON(ctx context.Context, path string, out interface{}) error {
	return c.doJSON(ctx, http.MethodDelete, path, nil, out)
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding response body")
}
