package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type SessionStatus string

const (
	SessionAnonymous     SessionStatus = "anonymous"
	SessionCodeRequested SessionStatus = "code_requested"
	SessionAuthenticated SessionStatus = "authenticated"
	SessionError         SessionStatus = "error"
)

// SessionToken is the credential returned by the identity provider after a
// successful code verification.
type SessionToken struct {
	Raw       string    `json:"-"`
	Subject   string    `json:"subject,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Session is the client's view of the user's identity. Status reports
// SessionError while an error message is set; Step keeps the login step the
// error was raised on so the flow can continue from there.
type Session struct {
	Status       SessionStatus `json:"status" enum:"anonymous,code_requested,authenticated,error"`
	Step         SessionStatus `json:"step" enum:"anonymous,code_requested,authenticated"`
	Email        string        `json:"email,omitempty"`
	ErrorMessage string        `json:"error,omitempty"`
	Token        *SessionToken `json:"token,omitempty"`
}

func (s Session) Authenticated() bool {
	return s.Step == SessionAuthenticated
}

// Mission is an immutable snapshot of an on-chain mission record.
type Mission struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Description    string         `json:"description"`
	TargetContract common.Address `json:"target_contract"`
	RewardAmount   *big.Int       `json:"reward_amount"`
	RewardToken    common.Address `json:"reward_token"`
	IsActive       bool           `json:"is_active"`
}

// CreateMissionInput is the validated argument set of the createMission call.
type CreateMissionInput struct {
	Name           string
	Description    string
	TargetContract common.Address
	RewardAmount   *big.Int
	RewardToken    common.Address
}

type TxStatus string

const (
	TxIdle      TxStatus = "idle"
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxFailed    TxStatus = "failed"
)

// TransactionRecord tracks the single in-flight mission write of a ledger client.
type TransactionRecord struct {
	Status    TxStatus  `json:"status" enum:"idle,pending,confirmed,failed"`
	Hash      string    `json:"hash,omitempty"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Terminal reports whether the write has settled as confirmed or failed.
func (r TransactionRecord) Terminal() bool {
	return r.Status == TxConfirmed || r.Status == TxFailed
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
