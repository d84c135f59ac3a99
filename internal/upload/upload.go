// Package upload acquires upload authorizations and streams file content
// to the storage node named by the authorization. Key acquisition honors
// the service's flood control: a 429 error body carries the wait in
// milliseconds and the client sleeps it out before retrying.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"

	"github.com/roomwire/roomwire/internal/logging"
	"github.com/roomwire/roomwire/internal/observability"
)

var (
	ErrBaseURLRequired = errors.New("upload: base url required")
	ErrNameRequired    = errors.New("upload: file name required")
	ErrKeyRequired     = errors.New("upload: authorization required")
	ErrBadStatus       = errors.New("upload: unexpected status")
)

// APIError is a non-recoverable service error during key acquisition.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upload: api error %d: %s", e.Code, e.Message)
}

type Config struct {
	BaseURL    string
	KeyTimeout time.Duration
	// SendTimeout bounds the whole body transfer, not a single read.
	SendTimeout time.Duration
	// OnBlocked is invoked once per flood-control delay, before sleeping.
	OnBlocked func(wait time.Duration)
}

func (c Config) WithDefaults() Config {
	if c.KeyTimeout <= 0 {
		c.KeyTimeout = 10 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Minute
	}
	return c
}

// Key is an upload authorization: the signed key, the storage node that
// must receive the content, and the file id it will be stored under.
type Key struct {
	Key    string `json:"key"`
	Server string `json:"server"`
	FileID string `json:"file_id"`
}

// Result describes one completed transfer.
type Result struct {
	FileID   string
	Size     int64
	Checksum string
}

type Client struct {
	cfg  Config
	http *fasthttp.Client
	log  zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	cfg = cfg.WithDefaults()
	if cfg.BaseURL == "" {
		return nil, ErrBaseURLRequired
	}
	return &Client{
		cfg:  cfg,
		http: &fasthttp.Client{},
		log:  logging.Component("upload"),
	}, nil
}

// AcquireKey requests an upload authorization for name in room, sleeping
// out flood-control delays until the service grants one or fails the
// request for good. Cancel ctx to stop waiting.
func (c *Client) AcquireKey(ctx context.Context, room, name string) (Key, error) {
	if name == "" {
		return Key{}, ErrNameRequired
	}
	uri := c.cfg.BaseURL + "/rest/getUploadKey?" + url.Values{
		"room": {room},
		"name": {name},
	}.Encode()

	for {
		body, err := c.get(uri)
		if err != nil {
			return Key{}, err
		}

		var reply struct {
			Key
			Error *struct {
				APIError
				Info struct {
					Timeout int64 `json:"timeout"`
				} `json:"info"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &reply); err != nil {
			return Key{}, fmt.Errorf("upload: decode key reply: %w", err)
		}

		if reply.Error == nil {
			if reply.Key.Key == "" || reply.Key.Server == "" {
				return Key{}, fmt.Errorf("upload: incomplete authorization in reply")
			}
			return reply.Key.withScheme(), nil
		}
		if reply.Error.Code != fasthttp.StatusTooManyRequests || reply.Error.Info.Timeout <= 0 {
			e := reply.Error.APIError
			return Key{}, &e
		}

		wait := time.Duration(reply.Error.Info.Timeout) * time.Millisecond
		observability.UploadBlocked()
		c.log.Info().Str("room", room).Dur("wait", wait).Msg("flood control, waiting")
		if c.cfg.OnBlocked != nil {
			c.cfg.OnBlocked(wait)
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return Key{}, err
		}
	}
}

// withScheme normalizes the storage node address so callers can hand it
// straight to the transfer; the service historically returns a bare host.
func (k Key) withScheme() Key {
	if !strings.Contains(k.Server, "://") {
		k.Server = "https://" + k.Server
	}
	return k
}

// Send streams content to the storage node from the authorization as one
// multipart POST, hashing the body as it passes through. Size and SHA-256
// checksum in the result cover exactly the bytes sent.
func (c *Client) Send(ctx context.Context, room string, key Key, name string, content io.Reader) (Result, error) {
	if key.Key == "" || key.Server == "" {
		return Result{}, ErrKeyRequired
	}
	if name == "" {
		return Result{}, ErrNameRequired
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	hash := sha256.New()
	counted := &countingReader{r: io.TeeReader(content, hash)}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, counted)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	uri := key.Server + "/upload?" + url.Values{
		"room": {room},
		"key":  {key.Key},
	}.Encode()

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(mw.FormDataContentType())
	req.Header.Set("X-Transfer-Id", uuid.NewString())
	req.SetBodyStream(pr, -1)

	if err := c.http.DoTimeout(req, resp, c.cfg.SendTimeout); err != nil {
		return Result{}, fmt.Errorf("upload: send: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return Result{}, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode())
	}

	res := Result{
		FileID:   key.FileID,
		Size:     counted.n,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
	}
	c.log.Info().
		Str("file_id", res.FileID).
		Int64("size", res.Size).
		Msg("upload complete")
	return res, nil
}

// Upload is the common path: acquire an authorization, then send.
func (c *Client) Upload(ctx context.Context, room, name string, content io.Reader) (Result, error) {
	key, err := c.AcquireKey(ctx, room, name)
	if err != nil {
		return Result{}, err
	}
	return c.Send(ctx, room, key, name, content)
}

func (c *Client) get(uri string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodGet)
	if err := c.http.DoTimeout(req, resp, c.cfg.KeyTimeout); err != nil {
		return nil, fmt.Errorf("upload: key request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode())
	}
	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, nil
}

type countingReader struct {
	mu sync.Mutex
	r  io.Reader
	n  int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.mu.Lock()
	c.n += int64(n)
	c.mu.Unlock()
	return n, err
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
