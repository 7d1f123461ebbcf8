// Package client is the typed Go client of the PolyChat HTTP service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	"PolyChat/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultAuthTimeout is how long a caller waits for sign-in or sign-up.
const DefaultAuthTimeout = 10 * time.Second

type Client struct {
	baseURL     string
	http        *http.Client
	authTimeout time.Duration
	log         *zap.Logger

	auth singleflight.Group

	mu    sync.RWMutex
	token string
	user  *models.User
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithAuthTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.authTimeout = d
		}
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		http:        &http.Client{},
		authTimeout: DefaultAuthTimeout,
		log:         logger.Named("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the current access token, or "" when signed out.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// User returns the signed-in user, or nil.
func (c *Client) User() *models.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user
}

func (c *Client) setSession(token string, user *models.User) {
	c.mu.Lock()
	c.token, c.user = token, user
	c.mu.Unlock()
}

type errorBody struct {
	Msg  string `json:"msg"`
	Code string `json:"code"`
}

// decodeError turns a non-2xx response into a coded error.
func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Msg == "" {
		body.Msg = strings.TrimSpace(string(raw))
		if body.Msg == "" {
			body.Msg = http.StatusText(resp.StatusCode)
		}
	}
	return apperr.FromStatus(resp.StatusCode, apperr.Code(body.Code), body.Msg)
}

func (c *Client) newRequest(ctx context.Context, method, path string, in any) (*http.Request, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, apperr.Validationf("encode request: %v", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	return req, nil
}

// do sends req and decodes a 2xx JSON body into out (when non-nil).
func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.StoreErr("request failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.StoreErr("malformed response", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	req, err := c.newRequest(ctx, method, path, in)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) requireSession() error {
	if c.Token() == "" {
		return apperr.New(apperr.AuthRequired, "authentication required", nil)
	}
	return nil
}

func pathf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}
