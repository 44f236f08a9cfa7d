package cluckosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Clucko gateway client.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. Mission creation waits for the
// transaction to be mined, so the timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 5 * time.Minute,
	}
}

// Session mirrors the gateway's login session.
type Session struct {
	Status        string `json:"status"`
	Step          string `json:"step"`
	Email         string `json:"email,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Authenticated bool   `json:"authenticated"`
	Subject       string `json:"subject,omitempty"`
	ExpiresAt     string `json:"expires_at,omitempty"`
	CodeLength    int    `json:"code_length"`
}

// Mission is an on-chain mission. Amounts are base-10 strings.
type Mission struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetContract string `json:"target_contract"`
	RewardAmount   string `json:"reward_amount"`
	RewardToken    string `json:"reward_token"`
	IsActive       bool   `json:"is_active"`
}

type Missions struct {
	Items   []Mission `json:"items"`
	Loading bool      `json:"loading"`
	Error   string    `json:"error,omitempty"`
}

// CreateMissionRequest carries raw form input; the gateway validates it.
type CreateMissionRequest struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	TargetContract string `json:"target_contract"`
	RewardAmount   string `json:"reward_amount"`
	RewardToken    string `json:"reward_token,omitempty"`
}

type Transaction struct {
	Status    string `json:"status"`
	Hash      string `json:"hash,omitempty"`
	Error     string `json:"error,omitempty"`
	Settled   bool   `json:"settled"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Event represents a journal entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// EventQuery filters an event listing. Zero values are omitted.
type EventQuery struct {
	Type       string
	EntityKind string
	EntityID   string
	Limit      int
	Cursor     string
}

// APIError wraps non-2xx responses. Code and Message come from the gateway's
// error envelope when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Field returns the offending form field of a validation error.
func (e *APIError) Field() string {
	if f, ok := e.Details["field"].(string); ok {
		return f
	}
	return ""
}

// Health pings the gateway.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// Session returns the current login session.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, "session", nil, &resp)
	return resp, err
}

// RequestCode asks for a one-time code to be sent to email.
func (c *Client) RequestCode(ctx context.Context, email string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/code", map[string]any{"email": email}, &resp)
	return resp, err
}

// VerifyCode submits the one-time code.
func (c *Client) VerifyCode(ctx context.Context, code string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/verify", map[string]any{"code": code}, &resp)
	return resp, err
}

// Back returns from code entry to email entry.
func (c *Client) Back(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/back", nil, &resp)
	return resp, err
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, "auth/logout", nil, &resp)
	return resp, err
}

// Missions returns the cached mission list, reading the chain first when
// refresh is set.
func (c *Client) Missions(ctx context.Context, refresh bool) (Missions, error) {
	endpoint := "missions"
	if refresh {
		endpoint += "?refresh=true"
	}
	var resp Missions
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// MissionFee returns the createMission fee in wei.
func (c *Client) MissionFee(ctx context.Context) (string, error) {
	var resp struct {
		Fee string `json:"fee"`
	}
	err := c.do(ctx, http.MethodGet, "missions/fee", nil, &resp)
	return resp.Fee, err
}

// CreateMission submits a mission and blocks until the transaction settles.
func (c *Client) CreateMission(ctx context.Context, req CreateMissionRequest) (Transaction, error) {
	var resp Transaction
	err := c.do(ctx, http.MethodPost, "missions", req, &resp)
	return resp, err
}

// Transaction returns the state of the latest mission write.
func (c *Client) Transaction(ctx context.Context) (Transaction, error) {
	var resp Transaction
	err := c.do(ctx, http.MethodGet, "transaction", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, EventQuery{Limit: limit})
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, q EventQuery) (PaginatedEvents, error) {
	params := url.Values{}
	if q.Type != "" {
		params.Set("type", q.Type)
	}
	if q.EntityKind != "" {
		params.Set("entity_kind", q.EntityKind)
	}
	if q.EntityID != "" {
		params.Set("entity_id", q.EntityID)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "events"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Event fetches one journal event by id.
func (c *Client) Event(ctx context.Context, id int64) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodGet, "events/"+strconv.FormatInt(id, 10), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
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
	req.Header.Set("Content-Type", "application/json")
	if c.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return newAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
