// Package fireboard provides a client for the Fireboard cloud REST API.
package fireboard

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/resident-x/fireboard2mqtt/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBaseURL is the root of the Fireboard cloud API.
const DefaultBaseURL = "https://fireboard.io/api/"

const maxBodySize = 8 << 20

// Config holds the settings needed to talk to the API.
type Config struct {
	BaseURL   string
	Email     string
	Password  string
	Timeout   time.Duration
	UserAgent string
}

// Client implements domain.DeviceSource against the Fireboard cloud API.
// It logs in lazily and logs in again after the API rejects its token.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	email      string
	password   string
	userAgent  string
	logger     zerolog.Logger

	mutex sync.Mutex
	token string
}

var _ domain.DeviceSource = (*Client)(nil)

// NewClient creates a new Fireboard API client.
func NewClient(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewClientWithHTTPClient(cfg, &http.Client{Timeout: timeout})
}

// NewClientWithHTTPClient creates a new client using the given HTTP client (for testing).
func NewClientWithHTTPClient(cfg Config, httpClient *http.Client) (*Client, error) {
	raw := cfg.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}

	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid fireboard base URL %q: %w", raw, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid fireboard base URL %q: scheme must be http or https", raw)
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		email:      cfg.Email,
		password:   cfg.Password,
		userAgent:  cfg.UserAgent,
		logger:     log.With().Str("component", "fireboard").Logger(),
	}, nil
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Key string `json:"key"`
}

// Login exchanges the account credentials for an API token.
func (c *Client) Login(ctx context.Context) error {
	const op = "login"

	body, err := json.Marshal(loginRequest{Username: c.email, Password: c.password})
	if err != nil {
		return fmt.Errorf("failed to encode login request: %w", err)
	}

	status, data, err := c.do(ctx, op, http.MethodPost, "rest-auth/login/", "", bytes.NewReader(body))
	if err != nil {
		return err
	}
	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		return &TransportError{Op: op, StatusCode: status, Err: ErrAuth}
	}
	if err := checkStatus(op, status); err != nil {
		return err
	}

	var resp loginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return &DecodeError{Op: op, Err: err}
	}
	if resp.Key == "" {
		return &DecodeError{Op: op, Err: errors.New("response carries no token")}
	}

	c.mutex.Lock()
	c.token = resp.Key
	c.mutex.Unlock()

	c.logger.Info().Msg("Authenticated with Fireboard cloud API")
	return nil
}

// ListDevices returns every device on the account.
func (c *Client) ListDevices(ctx context.Context) ([]domain.Device, error) {
	const op = "list devices"

	data, err := c.get(ctx, op, "v1/devices.json")
	if err != nil {
		return nil, err
	}

	var devices []domain.Device
	if err := json.Unmarshal(data, &devices); err != nil {
		c.logger.Debug().Str("body", snippet(data)).Msg("Unparseable device list")
		return nil, &DecodeError{Op: op, Err: err}
	}

	c.logger.Debug().Int("count", len(devices)).Msg("Fetched devices")
	return devices, nil
}

// GetDriveLog returns the realtime drive log of a device. An empty object
// from the API means the device has no drive log and yields nil, nil.
func (c *Client) GetDriveLog(ctx context.Context, deviceUUID string) (*domain.DriveLog, error) {
	const op = "get drive log"

	data, err := c.get(ctx, op, "v1/devices/"+url.PathEscape(deviceUUID)+"/drivelog.json")
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{Op: op, Err: err}
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var driveLog domain.DriveLog
	if err := json.Unmarshal(data, &driveLog); err != nil {
		return nil, &DecodeError{Op: op, Err: err}
	}
	return &driveLog, nil
}

// get performs an authenticated GET, logging in first when there is no token.
func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	status, data, err := c.do(ctx, op, http.MethodGet, path, token, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		c.clearToken(token)
	}
	if err := checkStatus(op, status); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mutex.Lock()
	token := c.token
	c.mutex.Unlock()
	if token != "" {
		return token, nil
	}

	if err := c.Login(ctx); err != nil {
		return "", err
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.token, nil
}

// clearToken drops a rejected token so the next call logs in again.
func (c *Client) clearToken(rejected string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.token == rejected {
		c.token = ""
		c.logger.Warn().Msg("Fireboard API rejected the session token, will log in again")
	}
}

// do sends one request and reads the whole response body.
func (c *Client) do(ctx context.Context, op, method, path, token string, body io.Reader) (int, []byte, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return 0, nil, fmt.Errorf("invalid %s path %q: %w", op, path, err)
	}
	endpoint := c.baseURL.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Closing response body in defer, error not critical
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Msg("Fireboard API response")

	return resp.StatusCode, data, nil
}

func checkStatus(op string, status int) error {
	if status < 200 || status > 299 {
		return &TransportError{Op: op, StatusCode: status, Err: errors.New(http.StatusText(status))}
	}
	return nil
}

func snippet(data []byte) string {
	const limit = 512
	if len(data) > limit {
		return string(data[:limit]) + "..."
	}
	return string(data)
}
