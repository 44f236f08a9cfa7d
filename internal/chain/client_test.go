package chain_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"clucko/internal/chain"
	"clucko/internal/domain"
	"clucko/internal/ledger"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type fakeNode struct {
	t   *testing.T
	abi *abi.ABI

	mu          sync.Mutex
	missions    []ledger.MissionTuple
	fee         *big.Int
	sent        []map[string]string
	pendingPoll int
	receiptOK   bool
	polls       int
}

var txHash = "0x" + strings.Repeat("ab", 32)

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	result, rpcErr := n.handle(req)
	resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
	if rpcErr != "" {
		resp["error"] = map[string]any{"code": -32000, "message": rpcErr}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (n *fakeNode) handle(req rpcRequest) (any, string) {
	switch req.Method {
	case "eth_chainId":
		return hexutil.EncodeBig(big.NewInt(534351)), ""
	case "eth_call":
		var arg map[string]string
		if err := json.Unmarshal(req.Params[0], &arg); err != nil {
			return nil, err.Error()
		}
		input := arg["input"]
		if input == "" {
			input = arg["data"]
		}
		data, err := hexutil.Decode(input)
		if err != nil || len(data) < 4 {
			return nil, "bad input"
		}
		method, err := n.abi.MethodById(data[:4])
		if err != nil {
			return nil, err.Error()
		}
		var out []byte
		switch method.Name {
		case "missionFee":
			if n.fee == nil {
				return "0x", ""
			}
			out, err = method.Outputs.Pack(n.fee)
		case "getMissions":
			out, err = method.Outputs.Pack(n.missions)
		default:
			return nil, "unexpected call " + method.Name
		}
		if err != nil {
			n.t.Errorf("pack %s: %v", method.Name, err)
			return nil, err.Error()
		}
		return hexutil.Encode(out), ""
	case "eth_sendTransaction":
		var arg map[string]string
		if err := json.Unmarshal(req.Params[0], &arg); err != nil {
			return nil, err.Error()
		}
		if n.fee != nil && arg["value"] != hexutil.EncodeBig(n.fee) {
			return nil, "insufficient funds"
		}
		n.sent = append(n.sent, arg)
		return txHash, ""
	case "eth_getTransactionReceipt":
		n.polls++
		if n.polls <= n.pendingPoll {
			return nil, ""
		}
		status := "0x0"
		if n.receiptOK {
			status = "0x1"
		}
		return map[string]any{
			"type":              "0x2",
			"status":            status,
			"cumulativeGasUsed": "0x5208",
			"gasUsed":           "0x5208",
			"effectiveGasPrice": "0x1",
			"logsBloom":         "0x" + strings.Repeat("00", 256),
			"logs":              []any{},
			"transactionHash":   txHash,
			"transactionIndex":  "0x0",
			"blockHash":         "0x" + strings.Repeat("11", 32),
			"blockNumber":       "0x10",
			"contractAddress":   nil,
		}, ""
	}
	return nil, "method not found: " + req.Method
}

func newNode(t *testing.T) (*fakeNode, *chain.Client, *abi.ABI) {
	t.Helper()
	parsed, err := chain.MissionManagerABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	node := &fakeNode{t: t, abi: parsed, receiptOK: true}
	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	client, err := chain.Dial(context.Background(), chain.Config{
		RPCURL:       srv.URL,
		From:         common.HexToAddress("0x5300000000000000000000000000000000000004"),
		PollInterval: 5 * time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)
	return node, client, parsed
}

var manager = common.HexToAddress("0x0c02D20932fcf43cd9bEcE511093255E0535dA1b")

func createInput() domain.CreateMissionInput {
	return domain.CreateMissionInput{
		Name:           "Bridge",
		Description:    "Bridge funds",
		TargetContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		RewardAmount:   big.NewInt(500),
		RewardToken:    common.HexToAddress("0x7562d6bc9782F71f7219D44349e26245AAE91852"),
	}
}

func TestReadMissionsThroughLedger(t *testing.T) {
	node, client, parsed := newNode(t)
	node.missions = []ledger.MissionTuple{{
		ID:             big.NewInt(7),
		Name:           "Bridge",
		Description:    "Bridge funds",
		TargetContract: common.HexToAddress("0x1111111111111111111111111111111111111111"),
		RewardAmount:   big.NewInt(500),
		RewardToken:    common.HexToAddress("0x7562d6bc9782F71f7219D44349e26245AAE91852"),
		IsActive:       true,
	}}
	lc := ledger.New(ledger.Config{Chain: client, Contract: manager, ABI: parsed, Logger: log.New(io.Discard, "", 0)})
	res := lc.FetchMissions(context.Background())
	if res.Error != "" {
		t.Fatalf("fetch: %s", res.Error)
	}
	if len(res.Missions) != 1 {
		t.Fatalf("expected one mission, got %d", len(res.Missions))
	}
	m := res.Missions[0]
	if m.ID != "7" || m.Name != "Bridge" || m.RewardAmount.Int64() != 500 || !m.IsActive {
		t.Fatalf("unexpected mission %+v", m)
	}
}

func TestMissionFeeEmptyOutputIsZero(t *testing.T) {
	_, client, parsed := newNode(t)
	lc := ledger.New(ledger.Config{Chain: client, Contract: manager, ABI: parsed, Logger: log.New(io.Discard, "", 0)})
	fee, err := lc.MissionFee(context.Background())
	if err != nil {
		t.Fatalf("fee: %v", err)
	}
	if fee.Sign() != 0 {
		t.Fatalf("expected zero, got %s", fee)
	}
}

func TestWriteAndConfirm(t *testing.T) {
	node, client, parsed := newNode(t)
	node.fee = big.NewInt(1000)
	node.pendingPoll = 2
	lc := ledger.New(ledger.Config{Chain: client, Contract: manager, ABI: parsed, Logger: log.New(io.Discard, "", 0)})
	tx, err := lc.CreateMission(context.Background(), createInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if tx.Hash != common.HexToHash(txHash).Hex() || tx.Status != domain.TxConfirmed {
		t.Fatalf("unexpected record %+v", tx)
	}
	node.mu.Lock()
	defer node.mu.Unlock()
	if len(node.sent) != 1 {
		t.Fatalf("expected one transaction, got %d", len(node.sent))
	}
	sent := node.sent[0]
	if !strings.EqualFold(sent["to"], manager.Hex()) {
		t.Fatalf("unexpected to %s", sent["to"])
	}
	data, _ := hexutil.Decode(sent["data"])
	if !bytes.Equal(data[:4], parsed.Methods["createMission"].ID) {
		t.Fatalf("unexpected selector %x", data[:4])
	}
	if node.polls < 3 {
		t.Fatalf("expected receipt polling, got %d polls", node.polls)
	}
}

func TestWriteReverted(t *testing.T) {
	node, client, parsed := newNode(t)
	node.receiptOK = false
	err := client.WaitConfirmed(context.Background(), txHash)
	if !errors.Is(err, chain.ErrReverted) {
		t.Fatalf("expected revert, got %v", err)
	}
	if _, err := client.Write(context.Background(), ledger.Call{Contract: manager, ABI: parsed, Method: "createMission",
		Args: []any{"a", "b", manager, big.NewInt(1), manager}}, nil); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWriteRejectedByNode(t *testing.T) {
	node, client, parsed := newNode(t)
	node.fee = big.NewInt(5)
	_, err := client.Write(context.Background(), ledger.Call{Contract: manager, ABI: parsed, Method: "createMission",
		Args: []any{"a", "b", manager, big.NewInt(1), manager}}, big.NewInt(1))
	if err == nil || err.Error() != "insufficient funds" {
		t.Fatalf("expected node message verbatim, got %v", err)
	}
}

func TestWriteWithoutSender(t *testing.T) {
	parsed, _ := chain.MissionManagerABI()
	client, err := chain.Dial(context.Background(), chain.Config{RPCURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	_, err = client.Write(context.Background(), ledger.Call{Contract: manager, ABI: parsed, Method: "createMission"}, nil)
	if !errors.Is(err, chain.ErrNoSender) {
		t.Fatalf("expected no sender error, got %v", err)
	}
}

func TestWaitConfirmedHonorsContext(t *testing.T) {
	node, client, _ := newNode(t)
	node.pendingPoll = 1 << 30
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := client.WaitConfirmed(ctx, txHash); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
}

func TestChainID(t *testing.T) {
	_, client, _ := newNode(t)
	id, err := client.ChainID(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id.Int64() != 534351 {
		t.Fatalf("unexpected chain id %s", id)
	}
}

func TestLoadABI(t *testing.T) {
	if _, err := chain.LoadABI(""); err != nil {
		t.Fatalf("embedded: %v", err)
	}
	dir := t.TempDir()
	path := dir + "/partial.json"
	doc := `[{"type":"function","name":"missionFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := chain.LoadABI(path); err == nil || !strings.Contains(err.Error(), "getMissions") {
		t.Fatalf("expected missing method error, got %v", err)
	}
}
