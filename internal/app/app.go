package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"clucko/internal/authflow"
	"clucko/internal/chain"
	"clucko/internal/config"
	"clucko/internal/db"
	"clucko/internal/events"
	"clucko/internal/identity"
	"clucko/internal/ledger"
	"clucko/internal/migrate"
	"clucko/internal/repo"
)

// Overrides replace config values from flags or environment. Empty fields keep
// the file value.
type Overrides struct {
	RPCURL      string
	IdentityURL string
	From        string
}

// ResolveConfig loads clucko.yml from workspace, falling back to the built-in
// defaults when the file does not exist, and applies overrides.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if v := strings.TrimSpace(o.RPCURL); v != "" {
		cfg.Network.RPCURL = v
	}
	if v := strings.TrimSpace(o.IdentityURL); v != "" {
		cfg.Identity.BaseURL = v
	}
	if v := strings.TrimSpace(o.From); v != "" {
		cfg.Wallet.From = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App holds the controllers and their collaborators for one process.
type App struct {
	Config   *config.Config
	Auth     *authflow.Controller
	Ledger   *ledger.Client
	Chain    *chain.Client
	Identity *identity.Client

	// Journal and Events are nil when the activity journal is disabled.
	Journal *events.Writer
	Events  *repo.Repo
	DB      *sql.DB
}

// Build wires the controllers described by cfg. The chain endpoint is dialed
// but, for HTTP URLs, not contacted until the first call.
func Build(ctx context.Context, workspace string, cfg *config.Config, logger *log.Logger) (*App, error) {
	if logger == nil {
		logger = log.Default()
	}
	contractABI, err := chain.LoadABI(cfg.Contracts.ABIFile)
	if err != nil {
		return nil, err
	}
	var from common.Address
	if cfg.Wallet.From != "" {
		from = common.HexToAddress(cfg.Wallet.From)
	}
	cc, err := chain.Dial(ctx, chain.Config{
		RPCURL:       cfg.Network.RPCURL,
		From:         from,
		PollInterval: time.Duration(cfg.Confirmations.PollIntervalSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Chain: cc}
	var rec authflow.Recorder
	if cfg.Journal.Enabled {
		conn, err := db.Open(db.Config{Workspace: workspace})
		if err != nil {
			cc.Close()
			return nil, err
		}
		if err := migrate.Migrate(ctx, conn); err != nil {
			conn.Close()
			cc.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		a.DB = conn
		a.Journal = &events.Writer{DB: conn}
		a.Events = &repo.Repo{DB: conn}
		rec = a.Journal
	}

	a.Identity = identity.New(cfg.Identity.BaseURL, cfg.Identity.AppID)
	a.Identity.Logger = logger
	a.Auth = authflow.New(authflow.Config{
		Provider:   a.Identity,
		CodeLength: cfg.Identity.CodeLength,
		Journal:    rec,
		Logger:     logger,
	})
	a.Ledger = ledger.New(ledger.Config{
		Chain:    cc,
		Contract: cfg.MissionManager(),
		ABI:      contractABI,
		Journal:  rec,
		Logger:   logger,
	})
	return a, nil
}

// Close releases the chain connection and journal database.
func (a *App) Close() error {
	if a.Chain != nil {
		a.Chain.Close()
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

// CheckNetwork compares the node's chain id with the configured one. A zero
// configured id skips the check.
func (a *App) CheckNetwork(ctx context.Context) error {
	want := a.Config.Network.ChainID
	if want == 0 {
		return nil
	}
	got, err := a.Chain.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}
	if !got.IsInt64() || got.Int64() != want {
		return fmt.Errorf("node at %s reports chain id %s, config expects %d", a.Config.Network.RPCURL, got, want)
	}
	return nil
}
