// Package telegram provides a minimal Telegram Bot API client.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://api.telegram.org"

// ParseModeHTML selects Telegram's HTML message formatting.
const ParseModeHTML = "HTML"

// Client sends messages through the Bot API.
type Client interface {
	SendMessage(ctx context.Context, msg Message) (*SentMessage, error)
	GetMe(ctx context.Context) (*User, error)
}

// Message is a sendMessage request. ChatID is a numeric id or an
// @channel username.
type Message struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

// SentMessage is the message object returned by sendMessage.
type SentMessage struct {
	MessageID int64 `json:"message_id"`
	Date      int64 `json:"date"`
	Chat      Chat  `json:"chat"`
}

// Chat identifies the chat a message was delivered to.
type Chat struct {
	ID    int64  `json:"id"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

// User is the bot identity returned by getMe.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// APIError is a Bot API response with ok=false.
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed with status %d: %s", e.Method, e.StatusCode, e.Description)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
}

// NewClient creates a Bot API client for the given bot token.
func NewClient(token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type envelope struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (c *httpClient) SendMessage(ctx context.Context, msg Message) (*SentMessage, error) {
	if msg.ChatID == "" {
		return nil, eris.New("telegram: chat id is required")
	}
	if msg.Text == "" {
		return nil, eris.New("telegram: message text is required")
	}

	var out SentMessage
	if err := c.call(ctx, "sendMessage", msg, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) GetMe(ctx context.Context) (*User, error) {
	var out User
	if err := c.call(ctx, "getMe", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *httpClient) call(ctx context.Context, method string, payload, out any) error {
	var body io.Reader
	httpMethod := http.MethodGet
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return eris.Wrapf(err, "telegram: marshal %s request", method)
		}
		body = bytes.NewReader(data)
		httpMethod = http.MethodPost
	}

	url := fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
	req, err := http.NewRequestWithContext(ctx, httpMethod, url, body)
	if err != nil {
		return eris.Wrapf(err, "telegram: create %s request", method)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// The request URL carries the bot token; keep it out of the error.
		return eris.Errorf("telegram: send %s request: %s", method, redact(err.Error(), c.token))
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrapf(err, "telegram: read %s response", method)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &APIError{Method: method, StatusCode: resp.StatusCode, Description: string(respBody)}
		}
		return eris.Wrapf(err, "telegram: unmarshal %s response", method)
	}
	if !env.OK || resp.StatusCode != http.StatusOK {
		return &APIError{Method: method, StatusCode: resp.StatusCode, ErrorCode: env.ErrorCode, Description: env.Description}
	}

	if err := json.Unmarshal(env.Result, out); err != nil {
		return eris.Wrapf(err, "telegram: unmarshal %s result", method)
	}
	return nil
}

func redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "<redacted>")
}
