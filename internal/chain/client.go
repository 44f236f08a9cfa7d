package chain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"clucko/internal/ledger"
)

const defaultPollInterval = 2 * time.Second

var (
	ErrNoSender = errors.New("no sender account configured")
	ErrReverted = errors.New("transaction reverted")
)

type Config struct {
	RPCURL string
	// From is an account unlocked on the node; transactions are signed there.
	From         common.Address
	PollInterval time.Duration
	Logger       *log.Logger
}

// Client implements ledger.ChainClient over Ethereum JSON-RPC.
type Client struct {
	rpc  *rpc.Client
	eth  *ethclient.Client
	from common.Address
	poll time.Duration
	log  *log.Logger
}

var _ ledger.ChainClient = (*Client)(nil)

// Dial connects to the node at cfg.RPCURL. HTTP endpoints are not contacted
// until the first call.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	rc, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{rpc: rc, eth: ethclient.NewClient(rc), from: cfg.From, poll: poll, log: logger}, nil
}

func (c *Client) Close() {
	c.rpc.Close()
}

// ChainID returns the network id reported by the node.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

func (c *Client) Read(ctx context.Context, call ledger.Call) ([]any, error) {
	if call.ABI == nil {
		return nil, fmt.Errorf("%s: no abi", call.Method)
	}
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", call.Method, err)
	}
	to := call.Contract
	msg := ethereum.CallMsg{To: &to, Data: data}
	if c.from != (common.Address{}) {
		msg.From = c.from
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return call.ABI.Unpack(call.Method, out)
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Data  hexutil.Bytes  `json:"data"`
	Value *hexutil.Big   `json:"value,omitempty"`
}

// Write submits the call with eth_sendTransaction, leaving signing to the node.
func (c *Client) Write(ctx context.Context, call ledger.Call, value *big.Int) (string, error) {
	if c.from == (common.Address{}) {
		return "", ErrNoSender
	}
	if call.ABI == nil {
		return "", fmt.Errorf("%s: no abi", call.Method)
	}
	data, err := call.ABI.Pack(call.Method, call.Args...)
	if err != nil {
		return "", fmt.Errorf("pack %s: %w", call.Method, err)
	}
	args := sendTxArgs{From: c.from, To: call.Contract, Data: data}
	if value != nil && value.Sign() > 0 {
		args.Value = (*hexutil.Big)(value)
	}
	var hash common.Hash
	if err := c.rpc.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return "", err
	}
	c.log.Printf("chain: submitted %s tx %s", call.Method, hash.Hex())
	return hash.Hex(), nil
}

// WaitConfirmed polls for the receipt of hash until it is mined or ctx ends.
func (c *Client) WaitConfirmed(ctx context.Context, hash string) error {
	h := common.HexToHash(hash)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, h)
		switch {
		case err == nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return ErrReverted
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
