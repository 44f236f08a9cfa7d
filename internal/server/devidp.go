package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
)

const (
	defaultDevCodeTTL   = 15 * time.Minute
	defaultDevTokenTTL  = time.Hour
	defaultDevCodeLen   = 6
	maxDevCodeAttempts  = 5
	devSubjectNamespace = "clucko.dev-identity"
)

var (
	errCodeNotIssued   = errors.New("no code requested for this email")
	errCodeExpired     = errors.New("code expired")
	errCodeInvalid     = errors.New("invalid code")
	errTooManyAttempts = errors.New("too many attempts; request a new code")
	errTokenRevoked    = errors.New("session already logged out")
	errTokenInvalid    = errors.New("invalid session token")
)

// DevIdentity is an in-memory passwordless provider for local development.
// Codes are written to the log instead of being emailed.
type DevIdentity struct {
	Secret     []byte
	CodeLength int
	CodeTTL    time.Duration
	TokenTTL   time.Duration
	Now        func() time.Time
	Logger     *log.Logger

	// Sent receives every issued code when set. Tests use it in place of an inbox.
	Sent func(email, code string)

	mu      sync.Mutex
	codes   map[string]*devCode
	revoked map[string]time.Time
}

type devCode struct {
	code     string
	expires  time.Time
	attempts int
}

// NewDevIdentity creates a provider with a random signing secret.
func NewDevIdentity(codeLength int, logger *log.Logger) *DevIdentity {
	secret := make([]byte, 32)
	_, _ = rand.Read(secret)
	return &DevIdentity{Secret: secret, CodeLength: codeLength, Logger: logger}
}

func (d *DevIdentity) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *DevIdentity) logger() *log.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Default()
}

func (d *DevIdentity) codeLength() int {
	if d.CodeLength > 0 {
		return d.CodeLength
	}
	return defaultDevCodeLen
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Init issues a fresh code for email, replacing any outstanding one.
func (d *DevIdentity) Init(email string) error {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return errors.New("a valid email is required")
	}
	code, err := randomDigits(d.codeLength())
	if err != nil {
		return err
	}
	ttl := d.CodeTTL
	if ttl <= 0 {
		ttl = defaultDevCodeTTL
	}
	d.mu.Lock()
	if d.codes == nil {
		d.codes = map[string]*devCode{}
	}
	d.codes[email] = &devCode{code: code, expires: d.now().Add(ttl)}
	d.mu.Unlock()
	d.logger().Printf("dev-identity: code for %s is %s (valid %s)", email, code, ttl)
	if d.Sent != nil {
		d.Sent(email, code)
	}
	return nil
}

// Authenticate checks code for email and mints a session token.
func (d *DevIdentity) Authenticate(email, code string) (DevAuthenticateResponse, error) {
	email = normalizeEmail(email)
	now := d.now()
	d.mu.Lock()
	entry, ok := d.codes[email]
	switch {
	case !ok:
		d.mu.Unlock()
		return DevAuthenticateResponse{}, errCodeNotIssued
	case now.After(entry.expires):
		delete(d.codes, email)
		d.mu.Unlock()
		return DevAuthenticateResponse{}, errCodeExpired
	case entry.attempts >= maxDevCodeAttempts:
		delete(d.codes, email)
		d.mu.Unlock()
		return DevAuthenticateResponse{}, errTooManyAttempts
	}
	if subtle.ConstantTimeCompare([]byte(strings.ToUpper(code)), []byte(entry.code)) != 1 {
		entry.attempts++
		d.mu.Unlock()
		return DevAuthenticateResponse{}, errCodeInvalid
	}
	delete(d.codes, email)
	d.mu.Unlock()

	subject := uuid.NewSHA1(uuid.NameSpaceURL, []byte(devSubjectNamespace+"/"+email)).String()
	ttl := d.TokenTTL
	if ttl <= 0 {
		ttl = defaultDevTokenTTL
	}
	token, exp, err := signDevToken(d.Secret, subject, email, now, ttl)
	if err != nil {
		return DevAuthenticateResponse{}, err
	}
	return DevAuthenticateResponse{Token: token, Subject: subject, ExpiresAt: exp.Format(time.RFC3339)}, nil
}

// Logout revokes the token's id until it would have expired anyway.
func (d *DevIdentity) Logout(token string) error {
	claims, err := authenticateJWT(token, d.Secret, d.now())
	if err != nil {
		return fmt.Errorf("%w: %v", errTokenInvalid, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revoked == nil {
		d.revoked = map[string]time.Time{}
	}
	if _, done := d.revoked[claims.ID]; done {
		return errTokenRevoked
	}
	for id, exp := range d.revoked {
		if d.now().After(exp) {
			delete(d.revoked, id)
		}
	}
	d.revoked[claims.ID] = claims.ExpiresAt.Time
	return nil
}

func randomDigits(n int) (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < n; i++ {
		v, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + v.Int64()))
	}
	return b.String(), nil
}

func devIdentityError(err error) huma.StatusError {
	switch {
	case errors.Is(err, errCodeNotIssued), errors.Is(err, errCodeExpired),
		errors.Is(err, errCodeInvalid), errors.Is(err, errTooManyAttempts):
		return newAPIError(http.StatusUnauthorized, "verification_failed", err.Error(), nil)
	case errors.Is(err, errTokenRevoked), errors.Is(err, errTokenInvalid):
		return newAPIError(http.StatusUnauthorized, "invalid_credentials", err.Error(), nil)
	default:
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
}

func registerDevIdentity(api huma.API, d *DevIdentity) {
	if d == nil {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-identity-init",
		Method:      http.MethodPost,
		Path:        "/dev-identity/passwordless/init",
		Summary:     "DEV ONLY: issue a one-time code (logged, not emailed)",
		Tags:        []string{"dev-identity"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DevInitRequest `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		if err := d.Init(input.Body.Email); err != nil {
			return nil, devIdentityError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "sent"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dev-identity-authenticate",
		Method:      http.MethodPost,
		Path:        "/dev-identity/passwordless/authenticate",
		Summary:     "DEV ONLY: exchange a one-time code for a session token",
		Tags:        []string{"dev-identity"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body DevAuthenticateRequest `json:"body"`
	}) (*struct {
		Body DevAuthenticateResponse `json:"body"`
	}, error) {
		res, err := d.Authenticate(input.Body.Email, input.Body.Code)
		if err != nil {
			return nil, devIdentityError(err)
		}
		return &struct {
			Body DevAuthenticateResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "dev-identity-logout",
		Method:      http.MethodPost,
		Path:        "/dev-identity/sessions/logout",
		Summary:     "DEV ONLY: revoke a session token",
		Tags:        []string{"dev-identity"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Authorization string `header:"Authorization"`
	}) (*struct{}, error) {
		token, ok := bearerToken(input.Authorization)
		if !ok {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "bearer token required", nil)
		}
		if err := d.Logout(token); err != nil {
			return nil, devIdentityError(err)
		}
		return &struct{}{}, nil
	})
}
