// Package amocrm provides bearer-token authenticated read access to the amoCRM REST API.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	leadPath    = "/api/v4/leads/%d"
	userPath    = "/api/v4/users/%d"
	contactPath = "/api/v4/contacts/%d"
	tokenPath   = "/oauth2/access_token"

	maxErrorBody = 4096
)

// Client defines the CRM read operations used by the ingestor.
type Client interface {
	GetLead(ctx context.Context, id int64) (json.RawMessage, error)
	GetUser(ctx context.Context, id int64) (json.RawMessage, error)
	GetContact(ctx context.Context, id int64) (json.RawMessage, error)
	// Start creates the shared connection pool. Calling it is optional;
	// the first request creates the pool otherwise.
	Start()
	// Close releases the connection pool.
	Close()
}

// Credentials identify the integration for token refresh.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	RefreshToken string
}

// Option configures the client.
type Option func(*httpClient)

// WithCredentials enables 401-triggered token refresh.
func WithCredentials(creds Credentials) Option {
	return func(c *httpClient) {
		c.creds = creds
		c.refreshToken = creds.RefreshToken
	}
}

// WithLongLivedToken marks the access token as non-expiring. A 401 is then
// surfaced immediately without a refresh attempt.
func WithLongLivedToken() Option {
	return func(c *httpClient) {
		c.longLived = true
	}
}

// WithRateLimit sets a per-second rate limit for CRM API calls.
// A burst equal to the integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTransport overrides the connection pool, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *httpClient) {
		c.roundTripper = rt
	}
}

type httpClient struct {
	baseURL   string
	creds     Credentials
	longLived bool
	limiter   *rate.Limiter
	timeout   time.Duration

	// mu guards the token pair and its version. refreshMu serializes
	// refreshes so that only one POST to the token endpoint is in flight.
	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	version      uint64
	refreshMu    sync.Mutex

	startOnce    sync.Once
	roundTripper http.RoundTripper
	transport    *http.Transport
	http         *http.Client
}

// NewClient creates an amoCRM API client for the account at baseURL.
func NewClient(baseURL, accessToken string, opts ...Option) Client {
	return newHTTPClient(baseURL, accessToken, opts...)
}

func newHTTPClient(baseURL, accessToken string, opts ...Option) *httpClient {
	c := &httpClient{
		baseURL:     baseURL,
		accessToken: accessToken,
		timeout:     30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) Start() {
	c.startOnce.Do(func() {
		rt := c.roundTripper
		if rt == nil {
			c.transport = &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			}
			rt = c.transport
		}
		c.http = &http.Client{Timeout: c.timeout, Transport: rt}
		zap.L().Info("amocrm: http session created", zap.String("base_url", c.baseURL))
	})
}

func (c *httpClient) Close() {
	if c.transport != nil {
		c.transport.CloseIdleConnections()
		zap.L().Info("amocrm: http session closed")
	}
}

func (c *httpClient) GetLead(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, fmt.Sprintf(leadPath, id), url.Values{"with": {"contacts"}}, nil)
}

func (c *httpClient) GetUser(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, fmt.Sprintf(userPath, id), nil, nil)
}

func (c *httpClient) GetContact(ctx context.Context, id int64) (json.RawMessage, error) {
	return c.request(ctx, http.MethodGet, fmt.Sprintf(contactPath, id), nil, nil)
}

// currentToken returns the access token together with its version.
func (c *httpClient) currentToken() (string, uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.version
}

// request performs an authenticated call. A 401 on an expiring token
// triggers exactly one refresh followed by exactly one retry.
func (c *httpClient) request(ctx context.Context, method, path string, params url.Values, body any) (json.RawMessage, error) {
	token, version := c.currentToken()
	status, data, err := c.send(ctx, method, path, params, body, token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		if c.longLived {
			return nil, &AuthError{StatusCode: status, Reason: "long-lived token rejected"}
		}
		zap.L().Warn("amocrm: token expired, refreshing", zap.String("path", path))
		if err := c.refresh(ctx, version); err != nil {
			return nil, err
		}

		token, _ = c.currentToken()
		status, data, err = c.send(ctx, method, path, params, body, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized {
			return nil, &AuthError{StatusCode: status, Reason: "unauthorized after token refresh"}
		}
	}

	if status < 200 || status >= 300 {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: status, Body: truncate(data)}
	}

	// amoCRM answers 204 with an empty body when the entity has nothing to return.
	if len(bytes.TrimSpace(data)) == 0 {
		return json.RawMessage("{}"), nil
	}
	if !json.Valid(data) {
		return nil, &HTTPError{Method: method, Path: path, StatusCode: status, Body: "invalid json: " + truncate(data)}
	}
	return json.RawMessage(data), nil
}

// send issues one HTTP call and returns the status and body. Only network
// level failures are returned as errors.
func (c *httpClient) send(ctx context.Context, method, path string, params url.Values, body any, token string) (int, []byte, error) {
	c.Start()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, eris.Wrap(err, "amocrm: rate limit")
		}
	}

	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, eris.Wrap(err, "amocrm: marshal request")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, eris.Wrap(err, "amocrm: create request")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "lead-relay/1.0")

	zap.L().Debug("amocrm: sending request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Any("params", params),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &TransportError{Method: method, Path: path, Err: err}
	}

	zap.L().Info("amocrm: response",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)
	return resp.StatusCode, data, nil
}

type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	GrantType    string `json:"grant_type"`
	RefreshToken string `json:"refresh_token"`
	RedirectURI  string `json:"redirect_uri"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// refresh exchanges the refresh token for a new token pair. seen is the
// token version the caller was rejected with; if another request already
// refreshed past it, the POST is skipped and the caller retries with the
// current token.
func (c *httpClient) refresh(ctx context.Context, seen uint64) error {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	c.mu.RLock()
	current, refreshToken := c.version, c.refreshToken
	c.mu.RUnlock()
	if current != seen {
		zap.L().Debug("amocrm: token already refreshed by a concurrent request")
		return nil
	}

	status, data, err := c.send(ctx, http.MethodPost, tokenPath, nil, tokenRequest{
		ClientID:     c.creds.ClientID,
		ClientSecret: c.creds.ClientSecret,
		GrantType:    "refresh_token",
		RefreshToken: refreshToken,
		RedirectURI:  c.creds.RedirectURI,
	}, "")
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		zap.L().Error("amocrm: token refresh rejected", zap.Int("status", status))
		return &AuthError{StatusCode: status, Reason: "token refresh failed: " + truncate(data)}
	}

	var tokens tokenResponse
	if err := json.Unmarshal(data, &tokens); err != nil {
		return &AuthError{StatusCode: status, Reason: "token refresh: decode response: " + err.Error()}
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return &AuthError{StatusCode: status, Reason: "token refresh: response missing tokens"}
	}

	c.mu.Lock()
	c.accessToken = tokens.AccessToken
	c.refreshToken = tokens.RefreshToken
	c.version++
	c.mu.Unlock()

	zap.L().Info("amocrm: token refreshed")
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
