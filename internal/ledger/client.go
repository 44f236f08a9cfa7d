package ledger

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"clucko/internal/domain"
)

const (
	MethodGetMissions   = "getMissions"
	MethodCreateMission = "createMission"
	MethodMissionFee    = "missionFee"
)

// Call identifies a contract function invocation.
type Call struct {
	Contract common.Address
	ABI      *abi.ABI
	Method   string
	Args     []any
}

// ChainClient executes contract reads and writes against one network.
type ChainClient interface {
	// Read performs a read-only call and returns the decoded outputs.
	Read(ctx context.Context, call Call) ([]any, error)
	// Write submits a transaction carrying value and returns its hash.
	Write(ctx context.Context, call Call, value *big.Int) (string, error)
	// WaitConfirmed blocks until the transaction is mined. It returns an
	// error when the transaction reverted or could not be tracked.
	WaitConfirmed(ctx context.Context, hash string) error
}

// Recorder receives ledger events for the activity journal.
type Recorder interface {
	Record(ctx context.Context, evtType, entityKind, entityID string, payload map[string]any) error
}

type Config struct {
	Chain    ChainClient
	Contract common.Address
	ABI      *abi.ABI
	Journal  Recorder
	Logger   *log.Logger
	Now      func() time.Time
}

// FetchResult is the observable state of the mission cache.
type FetchResult struct {
	Missions []domain.Mission `json:"missions"`
	Loading  bool             `json:"loading"`
	Error    string           `json:"error,omitempty"`
}

// Client keeps a read cache of on-chain missions and coordinates a single
// in-flight createMission write. The cache only ever holds what getMissions
// returned.
type Client struct {
	chain    ChainClient
	contract common.Address
	abi      *abi.ABI
	journal  Recorder
	log      *log.Logger
	now      func() time.Time

	mu        sync.Mutex
	missions  []domain.Mission
	fetchErr  string
	issued    uint64
	completed uint64
	tx        domain.TransactionRecord
}

func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		chain:    cfg.Chain,
		contract: cfg.Contract,
		abi:      cfg.ABI,
		journal:  cfg.Journal,
		log:      logger,
		now:      now,
		tx:       domain.TransactionRecord{Status: domain.TxIdle},
	}
}

func (c *Client) call(method string, args ...any) Call {
	return Call{Contract: c.contract, ABI: c.abi, Method: method, Args: args}
}

// Snapshot returns the cached missions and fetch state.
func (c *Client) Snapshot() FetchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Client) snapshotLocked() FetchResult {
	out := make([]domain.Mission, len(c.missions))
	for i, m := range c.missions {
		if m.RewardAmount != nil {
			m.RewardAmount = new(big.Int).Set(m.RewardAmount)
		}
		out[i] = m
	}
	return FetchResult{
		Missions: out,
		Loading:  c.completed < c.issued,
		Error:    c.fetchErr,
	}
}

// Transaction returns the current write record.
func (c *Client) Transaction() domain.TransactionRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx
}

// FetchMissions reads getMissions and replaces the cache. Concurrent fetches
// are allowed; a result is applied only when it belongs to the most recently
// issued fetch.
func (c *Client) FetchMissions(ctx context.Context) FetchResult {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	missions, err := c.readMissions(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if seq != c.issued {
		// superseded; a later fetch owns the cache
		return c.snapshotLocked()
	}
	c.completed = seq
	if err != nil {
		c.fetchErr = err.Error()
		c.log.Printf("ledger: fetch missions: %v", err)
		return c.snapshotLocked()
	}
	c.missions = missions
	c.fetchErr = ""
	return c.snapshotLocked()
}

func (c *Client) readMissions(ctx context.Context) ([]domain.Mission, error) {
	out, err := c.chain.Read(ctx, c.call(MethodGetMissions))
	if err != nil {
		return nil, domain.ChainError{Op: MethodGetMissions, Err: err}
	}
	missions, err := decodeMissions(out)
	if err != nil {
		return nil, domain.ChainError{Op: MethodGetMissions, Err: err}
	}
	return missions, nil
}

// MissionFee reads the payment required by createMission. A contract that
// returns nothing is treated as a zero fee.
func (c *Client) MissionFee(ctx context.Context) (*big.Int, error) {
	out, err := c.chain.Read(ctx, c.call(MethodMissionFee))
	if err != nil {
		return nil, domain.ChainError{Op: MethodMissionFee, Err: err}
	}
	if len(out) == 0 || out[0] == nil {
		return new(big.Int), nil
	}
	fee, ok := out[0].(*big.Int)
	if !ok {
		return nil, domain.ChainError{Op: MethodMissionFee, Err: fmt.Errorf("unexpected fee type %T", out[0])}
	}
	if fee == nil {
		return new(big.Int), nil
	}
	return fee, nil
}

// CreateMission submits a createMission transaction paying the current fee
// and waits for it to be mined. A confirmed write triggers exactly one
// FetchMissions; the created mission only appears through that refetch.
func (c *Client) CreateMission(ctx context.Context, in domain.CreateMissionInput) (domain.TransactionRecord, error) {
	if err := validateInput(in); err != nil {
		return c.Transaction(), err
	}

	c.mu.Lock()
	if c.tx.Status == domain.TxPending {
		busy := domain.BusyError{Hash: c.tx.Hash}
		tx := c.tx
		c.mu.Unlock()
		return tx, busy
	}
	c.tx = domain.TransactionRecord{Status: domain.TxPending, UpdatedAt: c.now().UTC()}
	c.mu.Unlock()
	c.record(ctx, "transaction.pending", "", map[string]any{"name": in.Name})

	fee, err := c.MissionFee(ctx)
	if err != nil {
		return c.fail(ctx, "", err)
	}
	hash, err := c.chain.Write(ctx, c.call(MethodCreateMission,
		in.Name, in.Description, in.TargetContract, in.RewardAmount, in.RewardToken,
	), fee)
	if err != nil {
		return c.fail(ctx, "", domain.ChainError{Op: MethodCreateMission, Err: err})
	}

	c.mu.Lock()
	c.tx.Hash = hash
	c.tx.UpdatedAt = c.now().UTC()
	c.mu.Unlock()
	c.record(ctx, "transaction.submitted", hash, map[string]any{"fee": fee.String()})

	if err := c.chain.WaitConfirmed(ctx, hash); err != nil {
		return c.fail(ctx, hash, domain.ChainError{Op: "confirm", Err: err})
	}

	c.mu.Lock()
	c.tx.Status = domain.TxConfirmed
	c.tx.UpdatedAt = c.now().UTC()
	tx := c.tx
	c.mu.Unlock()
	c.record(ctx, "transaction.confirmed", hash, nil)

	c.FetchMissions(ctx)
	return tx, nil
}

func (c *Client) fail(ctx context.Context, hash string, err error) (domain.TransactionRecord, error) {
	c.mu.Lock()
	c.tx.Status = domain.TxFailed
	c.tx.Hash = hash
	c.tx.Error = err.Error()
	c.tx.UpdatedAt = c.now().UTC()
	tx := c.tx
	c.mu.Unlock()
	c.log.Printf("ledger: create mission failed: %v", err)
	c.record(ctx, "transaction.failed", hash, map[string]any{"error": err.Error()})
	return tx, err
}

func (c *Client) record(ctx context.Context, evtType, hash string, payload map[string]any) {
	if c.journal == nil {
		return
	}
	if err := c.journal.Record(ctx, evtType, "transaction", hash, payload); err != nil {
		c.log.Printf("ledger: journal %s: %v", evtType, err)
	}
}

func validateInput(in domain.CreateMissionInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.ValidationError{Field: "name", Message: "required"}
	}
	if strings.TrimSpace(in.Description) == "" {
		return domain.ValidationError{Field: "description", Message: "required"}
	}
	if in.TargetContract == (common.Address{}) {
		return domain.ValidationError{Field: "target_contract", Message: "required"}
	}
	if in.RewardToken == (common.Address{}) {
		return domain.ValidationError{Field: "reward_token", Message: "required"}
	}
	return domain.CheckAmount("reward_amount", in.RewardAmount)
}
