package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = 1000 * time.Millisecond

	maxErrorBodyBytes = 64 << 10
)

// Config holds the settings of a [Client].
type Config struct {
	BaseURL    string
	ClientID   string
	SystemKey  string
	HTTPClient *http.Client

	// MaxRetries is the number of retries after the first attempt. Negative
	// values disable retries; zero selects the default of 3.
	MaxRetries int
	// RetryDelay is the base of the linear backoff; attempt n waits n*RetryDelay.
	RetryDelay time.Duration

	Logger *zap.Logger
	// OnRetry, when set, is invoked before each backoff sleep.
	OnRetry func(attempt int, err error)
}

// Auth selects the Authorization header of a call.
type Auth struct {
	token     string
	systemKey bool
}

var (
	// NoAuth sends no Authorization header.
	NoAuth = Auth{}
	// UseSystemKey authenticates with the configured system key.
	UseSystemKey = Auth{systemKey: true}
)

// Bearer authenticates with a caller-supplied token. An empty token is NoAuth.
func Bearer(token string) Auth {
	return Auth{token: token}
}

// Client issues JSON calls to the identity service and retries transient failures.
//
// Client is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New returns a Client with defaults applied to cfg.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &Client{
		cfg:    cfg,
		http:   cfg.HTTPClient,
		logger: cfg.Logger,
	}
}

// MaxRetries returns the effective retry budget.
func (c *Client) MaxRetries() int {
	return c.cfg.MaxRetries
}

// HasSystemKey reports whether privileged calls can be authenticated.
func (c *Client) HasSystemKey() bool {
	return c.cfg.SystemKey != ""
}

// Get performs a GET request and decodes the response into out when non-nil.
func (c *Client) Get(ctx context.Context, endpoint string, auth Auth, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, auth, out)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, endpoint string, body any, auth Auth, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, body, auth, out)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, endpoint string, body any, auth Auth, out any) error {
	return c.do(ctx, http.MethodPut, endpoint, body, auth, out)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, endpoint string, auth Auth, out any) error {
	return c.do(ctx, http.MethodDelete, endpoint, nil, auth, out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, auth Auth, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return newError(CodeInvalidInput, "failed to marshal request body", "", "", 0)
		}
	}

	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, method, endpoint, payload, auth, out)
		if err == nil {
			return nil
		}

		var te *Error
		if !errors.As(err, &te) {
			return err
		}
		if !te.Retryable() || attempt >= c.cfg.MaxRetries || ctx.Err() != nil {
			return finalError(ctx, te)
		}

		delay := c.cfg.RetryDelay * time.Duration(attempt+1)
		c.logger.Debug("identity call failed, retrying",
			zap.String("method", method),
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.String("code", string(te.Code)),
		)
		if c.cfg.OnRetry != nil {
			c.cfg.OnRetry(attempt+1, te)
		}
		if err := sleep(ctx, delay); err != nil {
			return NewNetworkError("request canceled during retry backoff", err)
		}
	}
}

// finalError surfaces network failures under the generic network message once
// the retry budget is spent.
func finalError(ctx context.Context, te *Error) error {
	if te.Code != CodeNetwork {
		return te
	}
	if err := ctx.Err(); err != nil {
		return NewNetworkError("request canceled", err)
	}
	return NewNetworkError(ErrNetwork.Message, te.cause)
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, payload []byte, auth Auth, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+endpoint, reader)
	if err != nil {
		return newError(CodeInvalidInput, fmt.Sprintf("failed to create request: %v", err), "", "", 0)
	}
	c.setHeaders(req, method, auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return NewNetworkError(fmt.Sprintf("request failed: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		var data map[string]any
		if err := json.Unmarshal(raw, &data); err != nil || data == nil {
			data = map[string]any{}
		}
		return FromResponse(resp.StatusCode, data, resp.Header.Get("X-Request-ID"))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewNetworkError(fmt.Sprintf("failed to read response: %v", err), err)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return newError(CodeServer, "invalid response payload from identity service", "", resp.Header.Get("X-Request-ID"), resp.StatusCode)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request, method string, auth Auth) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Client-ID", c.cfg.ClientID)

	switch {
	case auth.token != "":
		req.Header.Set("Authorization", "Bearer "+auth.token)
	case auth.systemKey && c.cfg.SystemKey != "":
		req.Header.Set("Authorization", "Bearer "+c.cfg.SystemKey)
	}

	if (method == http.MethodGet || method == http.MethodDelete) && c.cfg.SystemKey != "" {
		req.Header.Set("X-System-Key", c.cfg.SystemKey)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
