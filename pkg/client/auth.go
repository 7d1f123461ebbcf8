package client

import (
	"context"
	"net/http"
	"time"

	"PolyChat/models"
	"PolyChat/pkg/apperr"
	utils "PolyChat/pkg/utills"

	"go.uber.org/zap"
)

const authFlightKey = "auth"

// Session is the outcome of a successful sign-in.
type Session struct {
	AccessToken string       `json:"access_token"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

// SignIn authenticates and stores the session on the client.
//
// At most one authentication request is in flight per client: concurrent
// SignIn and SignUp calls join the outstanding one and share its result.
// Each caller waits at most the auth timeout and then gets a TIMEOUT error;
// the request itself keeps running and still stores its session if it
// succeeds.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, apperr.Validationf("Email and password are required")
	}
	return c.authFlight(ctx, func(fctx context.Context) (*Session, error) {
		return c.login(fctx, email, password)
	})
}

// SignUp registers and then signs in.
func (c *Client) SignUp(ctx context.Context, email, password, confirm string) (*Session, error) {
	email = utils.NormalizeEmail(email)
	if err := utils.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := utils.ValidatePassword(password, &confirm); err != nil {
		return nil, err
	}
	return c.authFlight(ctx, func(fctx context.Context) (*Session, error) {
		body := map[string]string{"email": email, "password": password, "confirm_password": confirm}
		if err := c.call(fctx, http.MethodPost, "/register", body, nil); err != nil {
			return nil, err
		}
		return c.login(fctx, email, password)
	})
}

func (c *Client) authFlight(ctx context.Context, fn func(context.Context) (*Session, error)) (*Session, error) {
	ch := c.auth.DoChan(authFlightKey, func() (any, error) {
		// detached so one impatient caller cannot cancel the shared attempt
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
		defer cancel()
		return fn(fctx)
	})

	timer := time.NewTimer(c.authTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Session), nil
	case <-timer.C:
		c.log.Warn("authentication exceeded wait budget", zap.Duration("timeout", c.authTimeout))
		return nil, apperr.New(apperr.Timeout, "Authentication timed out", nil)
	case <-ctx.Done():
		return nil, apperr.New(apperr.Timeout, "Authentication cancelled", ctx.Err())
	}
}

func (c *Client) login(ctx context.Context, email, password string) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/login", map[string]string{"email": email, "password": password})
	if err != nil {
		return nil, err
	}
	// never send a stale token along with credentials
	req.Header.Del("Authorization")
	var s Session
	if err := c.do(req, &s); err != nil {
		if apperr.Is(err, apperr.AuthRequired) {
			return nil, apperr.New(apperr.AuthFailed, apperr.ReasonOf(err), nil)
		}
		return nil, err
	}
	c.setSession(s.AccessToken, s.User)
	return &s, nil
}

// SignOut revokes the token server-side and clears the local session. The
// local session is cleared even when the server call fails.
func (c *Client) SignOut(ctx context.Context) error {
	if c.Token() == "" {
		return nil
	}
	err := c.call(ctx, http.MethodPost, "/logout", nil, nil)
	c.setSession("", nil)
	return err
}

func (c *Client) Profile(ctx context.Context) (*models.User, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var u models.User
	if err := c.call(ctx, http.MethodGet, "/profile", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *Client) UpdateProfile(ctx context.Context, email, password string) (*models.User, error) {
	if err := c.requireSession(); err != nil {
		return nil, err
	}
	var out struct {
		User *models.User `json:"user"`
	}
	if err := c.call(ctx, http.MethodPut, "/profile", map[string]string{"email": email, "password": password}, &out); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = out.User
	c.mu.Unlock()
	return out.User, nil
}
