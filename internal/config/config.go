// Package config loads relay configuration from flags, environment, and an
// optional config file, in that precedence order. Environment variables use
// the RALLY_ prefix (RALLY_RPC_URL, RALLY_PRIVATE_KEY, ...).
package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "RALLY"

const (
	DefaultListen  = "0.0.0.0:8080"
	DefaultChainID = 1

	DefaultMaxConns          = 1000
	DefaultMaxConnsPerOrigin = 5
)

type Config struct {
	// Ledger connection.
	RPCURL     string `mapstructure:"rpc-url"`
	ChainID    int64  `mapstructure:"chain-id"`
	Contract   string `mapstructure:"contract"`
	PrivateKey string `mapstructure:"private-key"`

	// Player-facing listener.
	Listen            string `mapstructure:"listen"`
	MaxConns          int    `mapstructure:"max-conns"`
	MaxConnsPerOrigin int    `mapstructure:"max-conns-per-origin"`
	TrustProxyHeader  bool   `mapstructure:"trust-proxy-header"`

	// MinBalanceWei is the operator balance alarm threshold in wei, base 10.
	// Empty disables the check.
	MinBalanceWei string `mapstructure:"min-balance-wei"`

	LogLevel string `mapstructure:"log-level"`
}

// RegisterFlags declares every config key as a flag with its default.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("rpc-url", "http://127.0.0.1:8545", "ledger JSON-RPC endpoint")
	fs.Int64("chain-id", DefaultChainID, "ledger chain id")
	fs.String("contract", "", "tournament contract address")
	fs.String("private-key", "", "operator private key (hex)")
	fs.String("listen", DefaultListen, "websocket listen address")
	fs.Int("max-conns", DefaultMaxConns, "total connection cap")
	fs.Int("max-conns-per-origin", DefaultMaxConnsPerOrigin, "per-origin connection cap")
	fs.Bool("trust-proxy-header", false, "trust X-Forwarded-For for client origin")
	fs.String("min-balance-wei", "", "warn when operator balance drops below this (wei)")
	fs.String("log-level", "info", "log level (debug|info|warn|error)")
}

// Load resolves configuration from the given flag set and the environment.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("bind flags: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc-url is required")
	}
	if c.PrivateKey == "" {
		return fmt.Errorf("private-key is required (RALLY_PRIVATE_KEY)")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract is required")
	}
	if !common.IsHexAddress(c.Contract) {
		return fmt.Errorf("contract %q is not a hex address", c.Contract)
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("chain-id must be positive")
	}
	if c.MaxConns <= 0 || c.MaxConnsPerOrigin <= 0 {
		return fmt.Errorf("connection caps must be positive")
	}
	if _, err := c.MinBalance(); err != nil {
		return err
	}
	return nil
}

// ContractAddress is the checksummed contract address.
func (c Config) ContractAddress() common.Address {
	return common.HexToAddress(c.Contract)
}

// MinBalance parses the balance alarm threshold; nil when disabled.
func (c Config) MinBalance() (*big.Int, error) {
	if c.MinBalanceWei == "" {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(c.MinBalanceWei, 10)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("min-balance-wei %q is not a base-10 wei amount", c.MinBalanceWei)
	}
	return n, nil
}
