package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"veilmarket/native/escrow"
)

// Config is the platform configuration loaded from TOML. Economic values use
// basis points, deadlines are in seconds.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	JWTSecret     string `toml:"JWTSecret"`

	Treasury  string `toml:"Treasury"`
	Authority string `toml:"Authority"`

	FeeBps         uint32 `toml:"FeeBps"`
	SellerStakeBps uint32 `toml:"SellerStakeBps"`

	AcceptanceDeadlineSeconds int64 `toml:"AcceptanceDeadlineSeconds"`
	ShippingDeadlineSeconds   int64 `toml:"ShippingDeadlineSeconds"`
	DeliveryDeadlineSeconds   int64 `toml:"DeliveryDeadlineSeconds"`
	DisputeWindowSeconds      int64 `toml:"DisputeWindowSeconds"`
	ArbiterDeadlineSeconds    int64 `toml:"ArbiterDeadlineSeconds"`

	Arbiters []ArbiterConfig `toml:"Arbiters"`

	RateLimitPerMinute int `toml:"RateLimitPerMinute"`
}

// ArbiterConfig registers one arbiter with its posted stake.
type ArbiterConfig struct {
	Address string `toml:"Address"`
	Stake   int64  `toml:"Stake"`
}

// Load reads the configuration at path, creating a default file first when
// none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./veilmarket-data"
	}
	if c.FeeBps == 0 {
		c.FeeBps = 200
	}
	if c.SellerStakeBps == 0 {
		c.SellerStakeBps = 1000
	}
	if c.AcceptanceDeadlineSeconds == 0 {
		c.AcceptanceDeadlineSeconds = 86400
	}
	if c.ShippingDeadlineSeconds == 0 {
		c.ShippingDeadlineSeconds = 604800
	}
	if c.DeliveryDeadlineSeconds == 0 {
		c.DeliveryDeadlineSeconds = 1209600
	}
	if c.DisputeWindowSeconds == 0 {
		c.DisputeWindowSeconds = 604800
	}
	if c.ArbiterDeadlineSeconds == 0 {
		c.ArbiterDeadlineSeconds = 259200
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
}

// Validate checks the settlement parameters and address fields.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if _, err := ParseAddress(c.Treasury); err != nil {
		return fmt.Errorf("config: invalid Treasury: %w", err)
	}
	if strings.TrimSpace(c.Authority) != "" {
		if _, err := ParseAddress(c.Authority); err != nil {
			return fmt.Errorf("config: invalid Authority: %w", err)
		}
	}
	for i, arb := range c.Arbiters {
		if _, err := ParseAddress(arb.Address); err != nil {
			return fmt.Errorf("config: invalid arbiter %d address: %w", i, err)
		}
		if arb.Stake <= 0 {
			return fmt.Errorf("config: arbiter %d stake must be positive", i)
		}
	}
	return nil
}

// Params converts the configured economics into engine parameters.
func (c *Config) Params() escrow.Params {
	return escrow.Params{
		FeeBps:             c.FeeBps,
		SellerStakeBps:     c.SellerStakeBps,
		AcceptanceDeadline: c.AcceptanceDeadlineSeconds,
		ShippingDeadline:   c.ShippingDeadlineSeconds,
		DeliveryDeadline:   c.DeliveryDeadlineSeconds,
		DisputeWindow:      c.DisputeWindowSeconds,
		ArbiterDeadline:    c.ArbiterDeadlineSeconds,
	}
}

// ParseAddress decodes a 20-byte hex address, with or without a 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("decode address %q: %w", value, err)
	}
	if len(raw) != 20 {
		return addr, fmt.Errorf("address %q: want 20 bytes, got %d", value, len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

// createDefault writes a default configuration file and returns it.
func createDefault(path string) (*Config, error) {
	cfg := &Config{Treasury: "0x" + strings.Repeat("fe", 20)}
	cfg.applyDefaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return toml.NewEncoder(file).Encode(cfg)
}
