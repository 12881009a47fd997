// Package api is the HTTP client for the feed backend. Every request goes
// through one Client, which attaches the bearer token read from the session
// store at send time and turns a 401 into a forced logout.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"feedline/internal/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// TokenSource is the part of the session store the client needs.
type TokenSource interface {
	TokenAndGeneration() (string, uint64)
	ExpireIfCurrent(ctx context.Context, gen uint64) bool
}

// Options configures a Client.
type Options struct {
	BaseURL  string
	AuthPath string // defaults to /auth/token
	Timeout  time.Duration

	// HTTPClient overrides the transport; tests only.
	HTTPClient *http.Client

	// OnUnauthorized runs once per expired session, after logout.
	OnUnauthorized func()
}

// Client is safe for concurrent use.
type Client struct {
	base           *url.URL
	authPath       string
	http           *http.Client
	tokens         TokenSource
	onUnauthorized func()

	group singleflight.Group
}

// HeaderRequestID carries a per-request correlation id.
const HeaderRequestID = "X-Request-ID"

const maxErrorBody = 64 << 10

// New builds a client for opts.BaseURL.
func New(tokens TokenSource, opts Options) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("api: token source required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("api: invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api: base URL must be http(s), got %q", opts.BaseURL)
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	authPath := opts.AuthPath
	if authPath == "" {
		authPath = "/auth/token"
	}
	onUnauthorized := opts.OnUnauthorized
	if onUnauthorized == nil {
		onUnauthorized = func() {}
	}

	return &Client{
		base:           base,
		authPath:       authPath,
		http:           hc,
		tokens:         tokens,
		onUnauthorized: onUnauthorized,
	}, nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) resolve(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Do sends a JSON request and decodes a JSON response into out (if non-nil).
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, body, contentType, out)
}

// PostForm sends an application/x-www-form-urlencoded body.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values, out interface{}) error {
	return c.send(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()),
		"application/x-www-form-urlencoded", out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path, query), body)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	gen := c.authorize(req)
	reqID := req.Header.Get(HeaderRequestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		logging.APIWarn("%s %s [%s] failed: %v", method, path, reqID, err)
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()
	logging.APIDebug("%s %s [%s] -> %d in %v", method, path, reqID, resp.StatusCode, time.Since(start))

	return c.handleResponse(ctx, resp, gen, out)
}

// authorize attaches the current token and a request id. The token is read
// from the store on every call, never cached or taken from the caller.
func (c *Client) authorize(req *http.Request) uint64 {
	token, gen := c.tokens.TokenAndGeneration()
	req.Header.Del("Authorization")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set(HeaderRequestID, uuid.NewString())
	return gen
}

func (c *Client) handleResponse(ctx context.Context, resp *http.Response, gen uint64, out interface{}) error {
	if resp.StatusCode == http.StatusUnauthorized {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		// Use a context that survives the caller's cancellation so the
		// logout always completes.
		if c.tokens.ExpireIfCurrent(context.WithoutCancel(ctx), gen) {
			logging.API("401 received, session expired; redirecting to sign-in")
			c.onUnauthorized()
		}
		return ErrUnauthorized
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(data), Body: data}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// errorMessage extracts {"message": ...} or {"error": ...} from a body.
func errorMessage(data []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(data, &payload) == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
