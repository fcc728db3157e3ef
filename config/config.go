// Package config holds txcore settings. Values are layered from defaults,
// an optional config file, TXCORE_* environment variables and command-line
// flags, later layers winning.
package config

import (
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/eth2030/txcore/core"
	"github.com/eth2030/txcore/core/state"
	"github.com/eth2030/txcore/log"
	"github.com/eth2030/txcore/params"
	"github.com/eth2030/txcore/txpool"
)

// EnvPrefix prefixes every environment override, e.g. TXCORE_FORK_URL.
const EnvPrefix = "TXCORE"

// Config is the full txcore configuration.
type Config struct {
	Chain   ChainConfig   `mapstructure:"chain"`
	Fork    ForkConfig    `mapstructure:"fork"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// ChainConfig selects the rules transactions execute under.
type ChainConfig struct {
	ID        uint64 `mapstructure:"id"`
	Hardfork  string `mapstructure:"hardfork"`
	Consensus string `mapstructure:"consensus"`
}

// ForkConfig points the state store at a remote node. An empty URL keeps
// the store local.
type ForkConfig struct {
	URL string `mapstructure:"url"`
	// Block pins remote reads. Zero follows the remote head.
	Block             uint64        `mapstructure:"block"`
	ExpectedBlockTime time.Duration `mapstructure:"expected_block_time"`
	RetryMaxElapsed   time.Duration `mapstructure:"retry_max_elapsed"`
}

// PoolConfig mirrors the transaction pool limits.
type PoolConfig struct {
	MaxSize          int           `mapstructure:"max_size"`
	MaxPerAccount    int           `mapstructure:"max_per_account"`
	MaxDataBytes     int           `mapstructure:"max_data_bytes"`
	MinGasPrice      uint64        `mapstructure:"min_gas_price"` // wei
	PriceBumpPercent uint64        `mapstructure:"price_bump_percent"`
	Lifetime         time.Duration `mapstructure:"lifetime"`
	HandledLifetime  time.Duration `mapstructure:"handled_lifetime"`
	VerifyBlobProofs bool          `mapstructure:"verify_blob_proofs"`
}

// LogConfig selects log level and format.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns mainnet rules at Cancun with a local store.
func Default() Config {
	return Config{
		Chain: ChainConfig{
			ID:        1,
			Hardfork:  params.Cancun.String(),
			Consensus: core.ProofOfStake.String(),
		},
		Fork: ForkConfig{
			ExpectedBlockTime: state.DefaultExpectedBlockTime,
			RetryMaxElapsed:   30 * time.Second,
		},
		Pool: PoolConfig{
			MaxSize:          txpool.MaxPoolSize,
			MaxPerAccount:    txpool.MaxTxsPerAccount,
			MaxDataBytes:     txpool.MaxDataBytes,
			MinGasPrice:      txpool.MinGasPrice.Uint64(),
			PriceBumpPercent: txpool.PriceBumpPercent,
			Lifetime:         txpool.PooledStorageTimeLimit,
			HandledLifetime:  txpool.HandledCleanupTimeLimit,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: "127.0.0.1:6060",
		},
	}
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("chain.id", c.Chain.ID)
	v.SetDefault("chain.hardfork", c.Chain.Hardfork)
	v.SetDefault("chain.consensus", c.Chain.Consensus)
	v.SetDefault("fork.url", c.Fork.URL)
	v.SetDefault("fork.block", c.Fork.Block)
	v.SetDefault("fork.expected_block_time", c.Fork.ExpectedBlockTime)
	v.SetDefault("fork.retry_max_elapsed", c.Fork.RetryMaxElapsed)
	v.SetDefault("pool.max_size", c.Pool.MaxSize)
	v.SetDefault("pool.max_per_account", c.Pool.MaxPerAccount)
	v.SetDefault("pool.max_data_bytes", c.Pool.MaxDataBytes)
	v.SetDefault("pool.min_gas_price", c.Pool.MinGasPrice)
	v.SetDefault("pool.price_bump_percent", c.Pool.PriceBumpPercent)
	v.SetDefault("pool.lifetime", c.Pool.Lifetime)
	v.SetDefault("pool.handled_lifetime", c.Pool.HandledLifetime)
	v.SetDefault("pool.verify_blob_proofs", c.Pool.VerifyBlobProofs)
	v.SetDefault("log.level", c.Log.Level)
	v.SetDefault("log.format", c.Log.Format)
	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.addr", c.Metrics.Addr)
}

// Load reads the configuration. path may be empty. Flags whose names match
// a config key (e.g. "fork.url") override every other layer when set.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if isKey(f.Name) {
				bindErr = errors.Join(bindErr, v.BindPFlag(f.Name, f))
			}
		})
		if bindErr != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// isKey reports whether name addresses a config section.
func isKey(name string) bool {
	section, _, ok := strings.Cut(name, ".")
	if !ok {
		return false
	}
	switch section {
	case "chain", "fork", "pool", "log", "metrics":
		return true
	}
	return false
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Chain.ID == 0 {
		return errors.New("config: chain id must not be zero")
	}
	if _, err := params.ParseHardfork(c.Chain.Hardfork); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := core.ParseConsensus(c.Chain.Consensus); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Fork.URL != "" {
		u, err := url.Parse(c.Fork.URL)
		if err != nil {
			return fmt.Errorf("config: fork url: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("config: unsupported fork url scheme %q", u.Scheme)
		}
	}
	if c.Fork.ExpectedBlockTime < 0 || c.Fork.RetryMaxElapsed < 0 {
		return errors.New("config: fork durations must not be negative")
	}
	if c.Pool.MaxSize < 0 || c.Pool.MaxPerAccount < 0 || c.Pool.MaxDataBytes < 0 {
		return errors.New("config: pool limits must not be negative")
	}
	if c.Pool.Lifetime < 0 || c.Pool.HandledLifetime < 0 {
		return errors.New("config: pool lifetimes must not be negative")
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("config: metrics enabled without an address")
	}
	return nil
}

// Logger builds the root logger writing to w.
func (c *Config) Logger(w io.Writer) (*log.Logger, error) {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	return log.NewFormatted(w, level, c.Log.Format)
}

// ChainRules converts the chain section for the executor.
func (c *Config) ChainRules() (*core.ChainConfig, error) {
	fork, err := params.ParseHardfork(c.Chain.Hardfork)
	if err != nil {
		return nil, err
	}
	consensus, err := core.ParseConsensus(c.Chain.Consensus)
	if err != nil {
		return nil, err
	}
	return &core.ChainConfig{
		ChainID:   new(big.Int).SetUint64(c.Chain.ID),
		Hardfork:  fork,
		Consensus: consensus,
	}, nil
}

// StateOptions converts the fork section. The caller supplies the source
// when Fork.URL is set.
func (c *Config) StateOptions(src state.Source, logger *log.Logger) state.Options {
	opts := state.Options{
		Source: src,
		Policy: state.BlockTimePolicy{ExpectedBlockTime: c.Fork.ExpectedBlockTime, Now: time.Now},
		Logger: logger,
	}
	if src != nil && c.Fork.Block != 0 {
		opts.BlockNumber = new(big.Int).SetUint64(c.Fork.Block)
	}
	return opts
}

// RPCOptions converts the fork retry settings.
func (c *Config) RPCOptions(logger *log.Logger) state.RPCOptions {
	return state.RPCOptions{RetryMaxElapsed: c.Fork.RetryMaxElapsed, Logger: logger}
}

// TxPool converts the pool section.
func (c *Config) TxPool(verifier txpool.BlobVerifier, logger *log.Logger) txpool.Config {
	return txpool.Config{
		MaxPoolSize:             c.Pool.MaxSize,
		MaxTxsPerAccount:        c.Pool.MaxPerAccount,
		MaxDataBytes:            c.Pool.MaxDataBytes,
		MinGasPrice:             uint256.NewInt(c.Pool.MinGasPrice),
		PriceBumpPercent:        c.Pool.PriceBumpPercent,
		PooledStorageTimeLimit:  c.Pool.Lifetime,
		HandledCleanupTimeLimit: c.Pool.HandledLifetime,
		Verifier:                verifier,
		Logger:                  logger,
	}
}
