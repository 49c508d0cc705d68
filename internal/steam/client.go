// Package steam talks to the Steam store endpoints used for removing free
// licenses.
package steam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/Dicklesworthstone/licrm/internal/drain"
)

const (
	// DefaultEndpoint is the Steam store origin.
	DefaultEndpoint = "https://store.steampowered.com"

	removePath   = "/account/removelicense"
	licensesPath = "/account/licenses/"

	// DefaultMinRequestSpacing paces requests independently of the loop's own delays.
	DefaultMinRequestSpacing = time.Second

	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 30 * time.Second

	maxBodyBytes = 1 << 20
)

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("steam returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("steam returned HTTP %d: %s", e.StatusCode, e.Body)
}

// Is matches drain.ErrHTTPStatus so the loop can classify it.
func (e *StatusError) Is(target error) bool {
	return target == drain.ErrHTTPStatus
}

// PayloadError reports a response body that is not the expected JSON object.
type PayloadError struct {
	Body string
	Err  error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("decode removal response %q: %v", e.Body, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// Is matches drain.ErrMalformedPayload.
func (e *PayloadError) Is(target error) bool {
	return target == drain.ErrMalformedPayload
}

// Config configures a Client.
type Config struct {
	// Endpoint overrides DefaultEndpoint, mainly for tests.
	Endpoint string
	// LoginSecure is the steamLoginSecure cookie. Without it Steam treats
	// requests as anonymous.
	LoginSecure string
	// MinRequestSpacing is the minimum gap between requests. Zero uses the
	// default; a negative value disables pacing.
	MinRequestSpacing time.Duration
	// Timeout bounds a single request. Zero uses DefaultTimeout.
	Timeout time.Duration
	// HTTPClient replaces the default client.
	HTTPClient *http.Client
	// UserAgent is sent on every request when set.
	UserAgent string
}

// Client submits license removals. It is safe for concurrent use.
type Client struct {
	endpoint    string
	loginSecure string
	userAgent   string
	http        *http.Client
	limiter     *rate.Limiter
}

// NewClient builds a client from cfg.
func NewClient(cfg Config) *Client {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		hc = &http.Client{
			Transport: tunedTransport(),
			Timeout:   timeout,
		}
	}

	spacing := cfg.MinRequestSpacing
	if spacing == 0 {
		spacing = DefaultMinRequestSpacing
	}
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}

	return &Client{
		endpoint:    endpoint,
		loginSecure: cfg.LoginSecure,
		userAgent:   cfg.UserAgent,
		http:        hc,
		limiter:     rate.NewLimiter(limit, 1),
	}
}

func tunedTransport() *http.Transport {
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// SubmitRemoval asks Steam to remove the license with the given package id.
// cred is the session id, sent both as a form field and as a cookie.
func (c *Client) SubmitRemoval(ctx context.Context, id string, cred drain.Credential) (drain.Response, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("sessionid", string(cred)); err != nil {
		return drain.Response{}, fmt.Errorf("build form: %w", err)
	}
	if err := mw.WriteField("packageid", id); err != nil {
		return drain.Response{}, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return drain.Response{}, fmt.Errorf("build form: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, removePath, &body, string(cred))
	if err != nil {
		return drain.Response{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	payload, err := c.do(req)
	if err != nil {
		return drain.Response{}, err
	}

	var resp drain.Response
	if err := decodeRemoval(payload, &resp); err != nil {
		return drain.Response{}, err
	}
	slog.Debug("removal response", "id", id, "success", resp.Success)
	return resp, nil
}

// FetchLicensesPage returns the account licenses page. The caller closes it.
func (c *Client) FetchLicensesPage(ctx context.Context, cred drain.Credential) (io.ReadCloser, error) {
	req, err := c.newRequest(ctx, http.MethodGet, licensesPath, nil, string(cred))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	payload, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, sessionID string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if sessionID != "" {
		req.AddCookie(&http.Cookie{Name: "sessionid", Value: sessionID})
	}
	if c.loginSecure != "" {
		req.AddCookie(&http.Cookie{Name: "steamLoginSecure", Value: c.loginSecure})
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("wait for request slot: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet(payload)}
	}
	return payload, nil
}

func decodeRemoval(payload []byte, out *drain.Response) error {
	var raw struct {
		Success *int `json:"success"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return &PayloadError{Body: snippet(payload), Err: err}
	}
	if raw.Success == nil {
		return &PayloadError{Body: snippet(payload), Err: errors.New(`missing "success" field`)}
	}
	out.Success = *raw.Success
	return nil
}

func snippet(b []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		s = s[:limit] + "..."
	}
	return s
}
