package authflow

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"

	"clucko/internal/domain"
)

const DefaultCodeLength = 6

// IdentityProvider issues and verifies one-time codes tied to an email.
type IdentityProvider interface {
	SendCode(ctx context.Context, email string) error
	Verify(ctx context.Context, email, code string) (domain.SessionToken, error)
	Logout(ctx context.Context) error
}

// Recorder receives flow events for the activity journal.
type Recorder interface {
	Record(ctx context.Context, evtType, entityKind, entityID string, payload map[string]any) error
}

type Config struct {
	Provider   IdentityProvider
	CodeLength int
	Journal    Recorder
	Logger     *log.Logger
}

// Controller drives the email -> one-time code -> session login flow. It owns
// the Session; only its methods mutate it.
type Controller struct {
	provider   IdentityProvider
	codeLength int
	journal    Recorder
	log        *log.Logger

	// ops serializes intents so collaborator calls never interleave.
	ops sync.Mutex

	mu     sync.Mutex
	step   domain.SessionStatus
	email  string
	errMsg string
	token  *domain.SessionToken
}

func New(cfg Config) *Controller {
	n := cfg.CodeLength
	if n <= 0 {
		n = DefaultCodeLength
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Controller{
		provider:   cfg.Provider,
		codeLength: n,
		journal:    cfg.Journal,
		log:        logger,
		step:       domain.SessionAnonymous,
	}
}

func (c *Controller) CodeLength() int { return c.codeLength }

// Session returns a snapshot of the current session.
func (c *Controller) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() domain.Session {
	s := domain.Session{
		Status:       c.step,
		Step:         c.step,
		Email:        c.email,
		ErrorMessage: c.errMsg,
	}
	if c.errMsg != "" {
		s.Status = domain.SessionError
	}
	if c.token != nil {
		tok := *c.token
		s.Token = &tok
	}
	return s
}

func (c *Controller) currentStep() domain.SessionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}

// RequestCode asks the provider to send a one-time code to email.
func (c *Controller) RequestCode(ctx context.Context, email string) (domain.Session, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return c.Session(), domain.ValidationError{Field: "email", Message: "required"}
	}
	c.ops.Lock()
	defer c.ops.Unlock()
	if step := c.currentStep(); step != domain.SessionAnonymous {
		return c.Session(), domain.StateError{Op: "request code", From: step}
	}

	if err := c.provider.SendCode(ctx, email); err != nil {
		perr := domain.ProviderError{Op: "send code", Err: err}
		c.mu.Lock()
		c.errMsg = perr.Error()
		s := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Printf("authflow: send code failed: %v", err)
		c.record(ctx, "auth.code_request_failed", email, map[string]any{"error": perr.Error()})
		return s, perr
	}

	c.mu.Lock()
	c.step = domain.SessionCodeRequested
	c.email = email
	c.errMsg = ""
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.record(ctx, "auth.code_requested", email, nil)
	return s, nil
}

// SubmitCode verifies code for the email a code was requested for. A rejected
// code leaves the flow on the code step so the user can try again.
func (c *Controller) SubmitCode(ctx context.Context, code string) (domain.Session, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.mu.Lock()
	step, email := c.step, c.email
	c.mu.Unlock()
	if step != domain.SessionCodeRequested {
		return c.Session(), domain.StateError{Op: "submit code", From: step}
	}
	if err := c.validateCode(code); err != nil {
		return c.Session(), err
	}

	token, err := c.provider.Verify(ctx, email, code)
	if err != nil {
		perr := domain.ProviderError{Op: "verify", Err: err}
		c.mu.Lock()
		c.errMsg = perr.Error()
		s := c.snapshotLocked()
		c.mu.Unlock()
		c.log.Printf("authflow: verify failed for %s: %v", email, err)
		c.record(ctx, "auth.verify_failed", email, map[string]any{"error": perr.Error()})
		return s, perr
	}

	c.mu.Lock()
	c.step = domain.SessionAuthenticated
	c.errMsg = ""
	c.token = &token
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.record(ctx, "auth.authenticated", email, map[string]any{"subject": token.Subject})
	return s, nil
}

func (c *Controller) validateCode(code string) error {
	if len(code) != c.codeLength {
		return domain.ValidationError{Field: "code", Message: "must be " + strconv.Itoa(c.codeLength) + " characters"}
	}
	for _, r := range code {
		if !isAlnum(r) {
			return domain.ValidationError{Field: "code", Message: "must be alphanumeric"}
		}
	}
	return nil
}

// Back abandons the code step and returns to email entry.
func (c *Controller) Back(ctx context.Context) (domain.Session, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.mu.Lock()
	if c.step != domain.SessionCodeRequested {
		step := c.step
		s := c.snapshotLocked()
		c.mu.Unlock()
		return s, domain.StateError{Op: "back", From: step}
	}
	email := c.email
	c.step = domain.SessionAnonymous
	c.email = ""
	c.errMsg = ""
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.record(ctx, "auth.back", email, nil)
	return s, nil
}

// Logout ends an authenticated session. Logging out an anonymous session is a
// no-op.
func (c *Controller) Logout(ctx context.Context) (domain.Session, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	c.mu.Lock()
	step, email := c.step, c.email
	c.mu.Unlock()
	switch step {
	case domain.SessionAnonymous:
		return c.Session(), nil
	case domain.SessionAuthenticated:
	default:
		return c.Session(), domain.StateError{Op: "logout", From: step}
	}

	if err := c.provider.Logout(ctx); err != nil {
		c.log.Printf("authflow: provider logout failed: %v", err)
	}
	c.mu.Lock()
	c.step = domain.SessionAnonymous
	c.email = ""
	c.errMsg = ""
	c.token = nil
	s := c.snapshotLocked()
	c.mu.Unlock()
	c.record(ctx, "auth.logout", email, nil)
	return s, nil
}

func (c *Controller) record(ctx context.Context, evtType, email string, payload map[string]any) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, evtType, "session", email, payload); err != nil {
		c.log.Printf("authflow: journal %s: %v", evtType, err)
	}
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
