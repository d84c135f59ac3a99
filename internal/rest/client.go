// Package rest is the plain request/response collaborator: login and room
// configuration fetches against the service's REST endpoints. Server-side
// 5xx responses are retried with linear backoff, the same policy the
// session applies to transient connect failures, implemented independently
// at this boundary.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/roomwire/roomwire/internal/logging"
)

var (
	ErrBaseURLRequired = errors.New("rest: base url required")
	ErrServerError     = errors.New("rest: server error")
	ErrBadStatus       = errors.New("rest: unexpected status")
)

// APIError is the service's in-body error object.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rest: api error %d: %s", e.Code, e.Message)
}

const sessionCookie = "session"

type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryBase   time.Duration
	MaxAttempts int
}

func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// RoomConfig is the service-side room description returned by
// getRoomConfig.
type RoomConfig struct {
	Name             string `json:"name"`
	MOTD             string `json:"motd"`
	MaxMessageLength int    `json:"max_message"`
	MaxNickLength    int    `json:"max_nick"`
	FileTTLHours     int    `json:"file_ttl"`
	MaxFiles         int    `json:"max_files"`
	Disabled         bool   `json:"disabled"`
	Adult            bool   `json:"adult"`
	Owner            string `json:"owner"`
}

// Account is the result of a successful login.
type Account struct {
	Nick    string `json:"nick"`
	Session string `json:"session"`
}

type Client struct {
	cfg  Config
	http *fasthttp.Client
	log  zerolog.Logger

	mu      sync.Mutex
	session string
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	return &Client{
		cfg:  cfg,
		http: &fasthttp.Client{},
		log:  logging.Component("rest"),
	}, nil
}

// RoomConfig fetches the configuration for one room.
func (c *Client) RoomConfig(ctx context.Context, room string) (RoomConfig, error) {
	var out RoomConfig
	err := c.getJSON(ctx, "/rest/getRoomConfig", url.Values{"room": {room}}, &out)
	return out, err
}

// Login authenticates an account and retains the returned session cookie
// for subsequent calls.
func (c *Client) Login(ctx context.Context, name, password string) (Account, error) {
	var out Account
	err := c.getJSON(ctx, "/rest/login", url.Values{"name": {name}, "password": {password}}, &out)
	if err != nil {
		return Account{}, err
	}
	if out.Session != "" {
		c.mu.Lock()
		c.session = out.Session
		c.mu.Unlock()
	}
	return out, nil
}

// Session returns the retained session cookie, if any.
func (c *Client) Session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// getJSON performs one idempotent GET with the shared 5xx retry policy and
// decodes the JSON body into out. An in-body error object fails the call
// without retry.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	uri := c.cfg.BaseURL + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}

	for attempt := 1; ; attempt++ {
		status, body, err := c.do(uri)
		if err != nil {
			return fmt.Errorf("rest: %s: %w", path, err)
		}
		if status >= 500 && status <= 599 {
			if attempt >= c.cfg.MaxAttempts {
				return fmt.Errorf("%w: status %d after %d attempts", ErrServerError, status, attempt)
			}
			delay := time.Duration(attempt) * c.cfg.RetryBase
			c.log.Warn().
				Str("path", path).
				Int("status", status).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("server error, retrying")
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
			continue
		}
		if status != fasthttp.StatusOK {
			return fmt.Errorf("%w: %d", ErrBadStatus, status)
		}

		var probe struct {
			Error *APIError `json:"error"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return fmt.Errorf("rest: %s: decode: %w", path, err)
		}
		if probe.Error != nil {
			return probe.Error
		}
		return json.Unmarshal(body, out)
	}
}

func (c *Client) do(uri string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	if s := c.Session(); s != "" {
		req.Header.SetCookie(sessionCookie, s)
	}
	if err := c.http.DoTimeout(req, resp, c.cfg.Timeout); err != nil {
		return 0, nil, err
	}

	c.captureSessionCookie(resp)
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return resp.StatusCode(), body, nil
}

func (c *Client) captureSessionCookie(resp *fasthttp.Response) {
	ck := fasthttp.AcquireCookie()
	defer fasthttp.ReleaseCookie(ck)
	ck.SetKey(sessionCookie)
	if resp.Header.Cookie(ck) && len(ck.Value()) > 0 {
		c.mu.Lock()
		c.session = string(ck.Value())
		c.mu.Unlock()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
