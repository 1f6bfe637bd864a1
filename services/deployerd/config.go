package deployerd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"griddeployer/ledger"
	"griddeployer/scheduler"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for deployerd.
type Config struct {
	ListenAddress string `yaml:"listen"`
	RPCEndpoint   string `yaml:"rpc_endpoint"`
	PauseOnStart  bool   `yaml:"pause"`

	GridProgram string `yaml:"grid_program"`
	Board       string `yaml:"board"`
	LookupTable string `yaml:"lookup_table"`

	SignerKey     string `yaml:"signer_key"`
	SignerKeyFile string `yaml:"signer_key_file"`
	SignerKeyEnv  string `yaml:"signer_key_env"`

	AmountPerSquare      uint64   `yaml:"amount_per_square"`
	SquaresMask          uint32   `yaml:"squares_mask"`
	PriorityFee          uint64   `yaml:"priority_fee"`
	PollInterval         Duration `yaml:"poll_interval"`
	DeployThresholdSlots uint64   `yaml:"deploy_threshold_slots"`
	MinSlotsToAttempt    uint64   `yaml:"min_slots_to_attempt"`
	IntermissionWindow   uint64   `yaml:"intermission_window_slots"`

	Reserve ReserveConfig `yaml:"reserve"`
	RPC     RPCConfig     `yaml:"rpc"`
	Admin   AdminConfig   `yaml:"admin"`
}

// ReserveConfig carries the protocol constants for reserve arithmetic.
type ReserveConfig struct {
	RentExemptReserve uint64 `yaml:"rent_exempt"`
	ProtocolFlatFee   uint64 `yaml:"protocol_flat_fee"`
	MinerCreationRent uint64 `yaml:"miner_creation_rent"`
}

// RPCConfig tunes the ledger client.
type RPCConfig struct {
	CallTimeout Duration `yaml:"call_timeout"`
	RateLimit   float64  `yaml:"rate_limit"`
	RateBurst   int      `yaml:"rate_burst"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.normaliseSigner(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.PollInterval.Duration == 0 {
		cfg.PollInterval.Duration = 3 * time.Second
	}
	if cfg.IntermissionWindow == 0 {
		cfg.IntermissionWindow = 35
	}
	if cfg.RPC.CallTimeout.Duration == 0 {
		cfg.RPC.CallTimeout.Duration = 10 * time.Second
	}
	if cfg.RPC.RateLimit <= 0 {
		cfg.RPC.RateLimit = 50
	}
	if cfg.RPC.RateBurst <= 0 {
		cfg.RPC.RateBurst = 100
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.RPCEndpoint) == "" {
		return fmt.Errorf("rpc_endpoint must be configured")
	}
	if strings.TrimSpace(cfg.GridProgram) == "" {
		return fmt.Errorf("grid_program must be configured")
	}
	if strings.TrimSpace(cfg.Board) == "" {
		return fmt.Errorf("board must be configured")
	}
	if strings.TrimSpace(cfg.SignerKey) == "" {
		return fmt.Errorf("signer key must be configured")
	}
	return nil
}

func (c *Config) normaliseSigner() error {
	c.SignerKey = strings.TrimSpace(c.SignerKey)
	c.SignerKeyEnv = strings.TrimSpace(c.SignerKeyEnv)
	c.SignerKeyFile = strings.TrimSpace(c.SignerKeyFile)
	if c.SignerKey != "" {
		return nil
	}
	switch {
	case c.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("signer_key_env %s is empty", c.SignerKeyEnv)
		}
		c.SignerKey = value
	case c.SignerKeyFile != "":
		contents, err := os.ReadFile(c.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read signer_key_file: %w", err)
		}
		c.SignerKey = strings.TrimSpace(string(contents))
	default:
		return fmt.Errorf("signer_key is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	return nil
}

// SchedulerConfig converts the file configuration into the scheduler's typed
// form, decoding the base58 addresses.
func (c Config) SchedulerConfig() (scheduler.Config, error) {
	program, err := ledger.DecodeAddress(strings.TrimSpace(c.GridProgram))
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("grid_program: %w", err)
	}
	board, err := ledger.DecodeAddress(strings.TrimSpace(c.Board))
	if err != nil {
		return scheduler.Config{}, fmt.Errorf("board: %w", err)
	}
	out := scheduler.Config{
		Program:              program,
		Board:                board,
		AmountPerSquare:      c.AmountPerSquare,
		SquaresMask:          c.SquaresMask,
		PriorityFee:          c.PriorityFee,
		PollInterval:         c.PollInterval.Duration,
		DeployThresholdSlots: c.DeployThresholdSlots,
		MinSlotsToAttempt:    c.MinSlotsToAttempt,
		IntermissionWindow:   c.IntermissionWindow,
		Reserve: scheduler.ReserveParams{
			RentExemptReserve: c.Reserve.RentExemptReserve,
			ProtocolFlatFee:   c.Reserve.ProtocolFlatFee,
			MinerCreationRent: c.Reserve.MinerCreationRent,
		},
	}
	if table := strings.TrimSpace(c.LookupTable); table != "" {
		addr, err := ledger.DecodeAddress(table)
		if err != nil {
			return scheduler.Config{}, fmt.Errorf("lookup_table: %w", err)
		}
		out.TableAddress = addr
	}
	return out, nil
}
