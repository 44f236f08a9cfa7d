package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMissionManager = "0x0c02D20932fcf43cd9bEcE511093255E0535dA1b"
	DefaultFeedsToken     = "0x7562d6bc9782F71f7219D44349e26245AAE91852"
	DefaultRPCURL         = "https://sepolia-rpc.scroll.io"
	DefaultChainID        = 534351
	DefaultIdentityURL    = "http://127.0.0.1:8080/v0/dev-identity/"
)

// Config models clucko.yml.
type Config struct {
	Network struct {
		Name    string `yaml:"name"`
		RPCURL  string `yaml:"rpc_url"`
		ChainID int64  `yaml:"chain_id"`
	} `yaml:"network"`
	Contracts struct {
		MissionManager string `yaml:"mission_manager"`
		FeedsToken     string `yaml:"feeds_token"`
		ABIFile        string `yaml:"abi_file"`
	} `yaml:"contracts"`
	Wallet struct {
		From string `yaml:"from"`
	} `yaml:"wallet"`
	Identity struct {
		BaseURL    string `yaml:"base_url"`
		AppID      string `yaml:"app_id"`
		CodeLength int    `yaml:"code_length"`
	} `yaml:"identity"`
	Confirmations struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"confirmations"`
	Journal struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"journal"`
	Webhooks []Webhook `yaml:"webhooks"`
}

// Webhook receives journal events over HTTP.
type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Active reports whether the webhook should receive deliveries. Webhooks are
// enabled unless explicitly disabled.
func (w Webhook) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

// Matches reports whether evtType is subscribed. An empty list subscribes to
// everything.
func (w Webhook) Matches(evtType string) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == evtType || e == "*" {
			return true
		}
		if strings.HasSuffix(e, ".*") && strings.HasPrefix(evtType, strings.TrimSuffix(e, "*")) {
			return true
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	cfg, err := FromFile(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("config %s not found; create one with clucko config init", path)
	}
	return cfg, err
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Network.RPCURL == "" {
		return fmt.Errorf("config.network.rpc_url is required")
	}
	if err := checkURL("config.network.rpc_url", c.Network.RPCURL); err != nil {
		return err
	}
	if c.Network.ChainID < 0 {
		return fmt.Errorf("config.network.chain_id must not be negative")
	}
	if err := checkAddress("config.contracts.mission_manager", c.Contracts.MissionManager, true); err != nil {
		return err
	}
	if err := checkAddress("config.contracts.feeds_token", c.Contracts.FeedsToken, false); err != nil {
		return err
	}
	if err := checkAddress("config.wallet.from", c.Wallet.From, false); err != nil {
		return err
	}
	if c.Identity.BaseURL != "" {
		if err := checkURL("config.identity.base_url", c.Identity.BaseURL); err != nil {
			return err
		}
	}
	if c.Identity.CodeLength < 0 || c.Identity.CodeLength > 32 {
		return fmt.Errorf("config.identity.code_length must be at most 32")
	}
	if c.Confirmations.PollIntervalSeconds < 0 {
		return fmt.Errorf("config.confirmations.poll_interval_seconds must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if err := checkURL(fmt.Sprintf("config.webhooks[%d].url", i), hook.URL); err != nil {
			return err
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				return fmt.Errorf("config.webhooks[%d] has empty event type", i)
			}
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func checkURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL", field)
	}
	return nil
}

func checkAddress(field, addr string, required bool) error {
	if addr == "" {
		if required {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
	if !strings.HasPrefix(addr, "0x") || !common.IsHexAddress(addr) {
		return fmt.Errorf("%s is not a valid 0x address", field)
	}
	return nil
}

// MissionManager returns the configured contract address.
func (c *Config) MissionManager() common.Address {
	return common.HexToAddress(c.Contracts.MissionManager)
}

// FeedsToken returns the default reward token, or the zero address when unset.
func (c *Config) FeedsToken() common.Address {
	if c.Contracts.FeedsToken == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.Contracts.FeedsToken)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "clucko.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	cfg, err := FromFile(Path(workspace))
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// take their values from the default template.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `network:
  name: scroll-sepolia
  rpc_url: ` + DefaultRPCURL + `
  chain_id: 534351

contracts:
  mission_manager: "` + DefaultMissionManager + `"
  feeds_token: "` + DefaultFeedsToken + `"
  # abi_file: ./mission_manager.abi.json

wallet:
  # node-managed account used as sender for createMission
  from: ""

identity:
  base_url: ` + DefaultIdentityURL + `
  app_id: ""
  code_length: 6

confirmations:
  poll_interval_seconds: 2

journal:
  enabled: true

webhooks: []
`
