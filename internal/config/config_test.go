package config

import (
	"math/big"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const testContract = "0x00000000000000000000000000000000000000cc"

func flagSet(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoadFromFlags(t *testing.T) {
	fs := flagSet(t,
		"--private-key", "ab", "--contract", testContract,
		"--listen", "127.0.0.1:9999", "--max-conns-per-origin", "3",
	)
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9999", cfg.Listen)
	require.Equal(t, 3, cfg.MaxConnsPerOrigin)
	require.Equal(t, DefaultMaxConns, cfg.MaxConns)
	require.Equal(t, int64(DefaultChainID), cfg.ChainID)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("RALLY_PRIVATE_KEY", "ab")
	t.Setenv("RALLY_CONTRACT", testContract)
	t.Setenv("RALLY_MAX_CONNS", "42")

	cfg, err := Load(flagSet(t))
	require.NoError(t, err)
	require.Equal(t, "ab", cfg.PrivateKey)
	require.Equal(t, 42, cfg.MaxConns)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("RALLY_PRIVATE_KEY", "ab")
	t.Setenv("RALLY_CONTRACT", testContract)
	t.Setenv("RALLY_LISTEN", "0.0.0.0:1111")

	fs := flagSet(t, "--listen", "0.0.0.0:2222")
	cfg, err := Load(fs)
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:2222", cfg.Listen)
}

func TestValidateRejections(t *testing.T) {
	base := Config{
		RPCURL:            "http://127.0.0.1:8545",
		ChainID:           1,
		Contract:          testContract,
		PrivateKey:        "ab",
		Listen:            DefaultListen,
		MaxConns:          10,
		MaxConnsPerOrigin: 2,
	}
	require.NoError(t, base.Validate())

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing key", func(c *Config) { c.PrivateKey = "" }},
		{"missing contract", func(c *Config) { c.Contract = "" }},
		{"bad contract", func(c *Config) { c.Contract = "not-an-address" }},
		{"missing rpc", func(c *Config) { c.RPCURL = "" }},
		{"bad chain id", func(c *Config) { c.ChainID = 0 }},
		{"zero caps", func(c *Config) { c.MaxConns = 0 }},
		{"bad balance", func(c *Config) { c.MinBalanceWei = "1.5e18" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestMinBalance(t *testing.T) {
	cfg := Config{}
	n, err := cfg.MinBalance()
	require.NoError(t, err)
	require.Nil(t, n)

	cfg.MinBalanceWei = "250000000000000000"
	n, err = cfg.MinBalance()
	require.NoError(t, err)
	require.Equal(t, 0, n.Cmp(big.NewInt(250_000_000_000_000_000)))
}
