package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"clucko/internal/authflow"
	"clucko/internal/domain"
)

// Client talks to a passwordless identity service over HTTP.
type Client struct {
	BaseURL    string
	AppID      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *log.Logger

	mu    sync.Mutex
	token string
}

var _ authflow.IdentityProvider = (*Client)(nil)

// New creates a client with sane defaults.
func New(baseURL, appID string) *Client {
	return &Client{
		BaseURL: baseURL,
		AppID:   appID,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses. Error returns the service's message.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("identity error: status=%d body=%s", e.StatusCode, e.Body)
}

type authenticateResponse struct {
	Token     string `json:"token"`
	Subject   string `json:"subject"`
	ExpiresAt string `json:"expires_at"`
}

// SendCode asks the service to email a one-time code.
func (c *Client) SendCode(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "passwordless/init", "", map[string]any{"email": email}, nil)
}

// Verify exchanges email and code for a session token.
func (c *Client) Verify(ctx context.Context, email, code string) (domain.SessionToken, error) {
	var resp authenticateResponse
	body := map[string]any{"email": email, "code": code}
	if err := c.do(ctx, http.MethodPost, "passwordless/authenticate", "", body, &resp); err != nil {
		return domain.SessionToken{}, err
	}
	if resp.Token == "" {
		return domain.SessionToken{}, fmt.Errorf("identity service returned no token")
	}
	tok := ParseToken(resp.Token)
	if tok.Subject == "" {
		tok.Subject = resp.Subject
	}
	if tok.ExpiresAt.IsZero() && resp.ExpiresAt != "" {
		if ts, err := time.Parse(time.RFC3339, resp.ExpiresAt); err == nil {
			tok.ExpiresAt = ts
		}
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return tok, nil
}

// Logout revokes the session obtained by the last Verify.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := c.token
	c.token = ""
	c.mu.Unlock()
	if token == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "sessions/logout", token, nil, nil)
}

// ParseToken reads subject and expiry from a JWT without verifying it. Opaque
// tokens yield only the raw value.
func ParseToken(raw string) domain.SessionToken {
	tok := domain.SessionToken{Raw: raw}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return tok
	}
	tok.Subject = claims.Subject
	if claims.ExpiresAt != nil {
		tok.ExpiresAt = claims.ExpiresAt.Time.UTC()
	}
	return tok
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func (c *Client) do(ctx context.Context, method, endpoint, bearer string, body any, out any) error {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: c.Timeout}
	}
	url := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if c.AppID != "" {
		req.Header.Set("X-App-Id", c.AppID)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b), Message: errorMessage(b)}
		c.logger().Printf("identity: %s %s -> %d (request %s)", method, endpoint, resp.StatusCode, reqID)
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// errorMessage extracts a human message from common error bodies, including
// the {"error":{"code":...,"message":...}} envelope used by the gateway.
func errorMessage(body []byte) string {
	var parsed struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Detail  string          `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if len(parsed.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(parsed.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(parsed.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Message
}
