// Package restapi is a client for the router's JSON REST API.
package restapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	rtlog "github.com/rutlab/routertest/pkg/log"
)

// ErrNotAuthenticated is returned by calls made before Login.
var ErrNotAuthenticated = errors.New("not authenticated, call Login first")

// DefaultTimeout bounds a single request.
const DefaultTimeout = 30 * time.Second

// StatusError is a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed: %d - %s", e.Code, strings.TrimSpace(e.Body))
}

// BaseURL returns the API root of the router at ip.
func BaseURL(ip string) string {
	return "https://" + ip + "/api"
}

// Config configures a Client.
type Config struct {
	// BaseURL is the API root, e.g. https://192.168.1.1/api.
	BaseURL string

	Username string
	Password string

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// Envelope is the common response wrapper.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Errors  json.RawMessage `json:"errors,omitempty"`
}

// Decode unmarshals the data member into out. Empty data is not an error.
func (e *Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, out)
}

// Client talks to the router API with a bearer token.
type Client struct {
	cfg        Config
	http       *http.Client
	transcript rtlog.Logger
	logger     *slog.Logger
	sessionID  string

	token string
	mu    sync.RWMutex
}

// New returns a Client. Certificate verification is disabled because routers
// serve self-signed certificates.
func New(cfg Config, transcript rtlog.Logger, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // self-signed router certificates
			},
		},
		transcript: rtlog.OrNoop(transcript),
		logger:     logger.With(slog.String("component", "api"), slog.String("url", cfg.BaseURL)),
		sessionID:  uuid.NewString(),
	}
}

// SessionID identifies this client in transcripts.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Authenticated reports whether Login succeeded.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != ""
}

// Login posts the credentials and keeps the returned token.
func (c *Client) Login(ctx context.Context) error {
	payload := map[string]string{"username": c.cfg.Username, "password": c.cfg.Password}
	var out struct {
		Token string `json:"token"`
	}
	body, err := c.send(ctx, http.MethodPost, "login", "", payload)
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if err := decodeData(body, &out); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}
	if out.Token == "" {
		return errors.New("authentication succeeded but no token was received")
	}
	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	c.transcript.Log(rtlog.NewStateEvent(c.sessionID, rtlog.ChannelAPI, c.cfg.BaseURL, "anonymous", "authenticated", ""))
	return nil
}

// Logout ends the session. The token is dropped even when the request fails.
func (c *Client) Logout(ctx context.Context) error {
	token := c.bearer()
	if token == "" {
		return nil
	}
	_, err := c.send(ctx, http.MethodPost, "logout", token, nil)
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	c.transcript.Log(rtlog.NewStateEvent(c.sessionID, rtlog.ChannelAPI, c.cfg.BaseURL, "authenticated", "anonymous", ""))
	return err
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Do sends an authenticated request and decodes the full response into out
// when out is non-nil.
func (c *Client) Do(ctx context.Context, method, endpoint string, body, out any) error {
	token := c.bearer()
	if token == "" {
		return ErrNotAuthenticated
	}
	data, err := c.send(ctx, method, endpoint, token, body)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, endpoint, err)
	}
	return nil
}

// GetConfig reads endpoint and decodes its data member into out.
func (c *Client) GetConfig(ctx context.Context, endpoint string, out any) error {
	var env Envelope
	if err := c.Do(ctx, http.MethodGet, endpoint, nil, &env); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

// SetConfig PUTs v wrapped as {"data": v} and returns the response envelope.
func (c *Client) SetConfig(ctx context.Context, endpoint string, v any) (*Envelope, error) {
	var env Envelope
	if err := c.Do(ctx, http.MethodPut, endpoint, map[string]any{"data": v}, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// RestartService asks the router to restart a service.
func (c *Client) RestartService(ctx context.Context, name string) error {
	return c.Do(ctx, http.MethodPost, "services/"+name+"/restart", nil, nil)
}

func (c *Client) url(endpoint string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) send(ctx context.Context, method, endpoint, token string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.record(method, endpoint, "", nil, start, err)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	code := resp.StatusCode
	if err == nil && (code < 200 || code >= 300) {
		err = &StatusError{Code: code, Body: string(data)}
	}
	c.record(method, endpoint, string(data), &code, start, err)
	if err != nil {
		c.logger.Debug("request failed", slog.String("method", method), slog.String("endpoint", endpoint), slog.Any("error", err))
		return data, err
	}
	return data, nil
}

func (c *Client) record(method, endpoint, body string, status *int, start time.Time, err error) {
	c.transcript.Log(rtlog.NewCommandEvent(c.sessionID, rtlog.ChannelAPI, c.cfg.BaseURL,
		method+" "+endpoint, body, status, time.Since(start), err))
}

func decodeData(body []byte, out any) error {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}
