// Package config provides configuration loading for the deployment
// service.
package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Solana SolanaConfig `mapstructure:"solana"`
	EVM    EVMConfig    `mapstructure:"evm"`
	Audit  AuditConfig  `mapstructure:"audit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// QueueConfig holds the admission/worker-pool sizing.
type QueueConfig struct {
	WorkerPoolSize int `mapstructure:"worker_pool_size"`
	MaxPending     int `mapstructure:"max_pending"`
	MaxActive      int `mapstructure:"max_active"`
	DispatchSize   int `mapstructure:"dispatch_size"`
}

// SolanaConfig holds the Solana upgradeable-loader deployer's settings.
type SolanaConfig struct {
	RPCURL             string `mapstructure:"rpc_url"`
	PayerKeypairPath   string `mapstructure:"payer_keypair"`
	ProgramKeypairPath string `mapstructure:"program_keypair"`
	ComputeUnitLimit   uint32 `mapstructure:"compute_unit_limit"`
	ComputeUnitPrice   uint64 `mapstructure:"compute_unit_price"`
}

// EVMConfig holds the Ethereum contract-factory deployer's settings.
type EVMConfig struct {
	RPCURL        string `mapstructure:"rpc_url"`
	WalletKeyPath string `mapstructure:"wallet_key_path"`
	ChainID       int64  `mapstructure:"chain_id"`
	GasLimit      uint64 `mapstructure:"gas_limit"`
}

// ExpectedChainID returns the EVM chain id as a *big.Int, or nil when
// unset (0), in which case the deployer skips the chain-id match check.
func (c EVMConfig) ExpectedChainID() *big.Int {
	if c.ChainID == 0 {
		return nil
	}
	return big.NewInt(c.ChainID)
}

// AuditConfig holds the audit-log store's settings.
type AuditConfig struct {
	LogDir string `mapstructure:"log_dir"`

	// RedisAddr, when set, enables a cross-process UUID claim check ahead
	// of Init's local os.Stat (spec §9: collisions across separate
	// deployctl processes aren't caught by a single directory's file
	// check). Empty disables it; single-process deployments don't need it.
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
}

// Load reads configuration from an optional config file, then lets
// DEPLOYCTL_-prefixed environment variables override it. The Solana
// settings also accept their unprefixed names (SOLANA_RPC_URL,
// SOLANA_PAYER_KEYPAIR, SOLANA_PROGRAM_KEYPAIR, SOLANA_COMPUTE_UNIT_LIMIT,
// SOLANA_COMPUTE_UNIT_PRICE); the prefixed name wins when both are set.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/deployctl")

	v.SetEnvPrefix("DEPLOYCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"solana.rpc_url", "solana.payer_keypair", "solana.program_keypair", "solana.compute_unit_limit", "solana.compute_unit_price"} {
		name := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, "DEPLOYCTL_"+name, name)
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("queue.worker_pool_size", 4)
	v.SetDefault("queue.max_pending", 100)
	v.SetDefault("queue.max_active", 4)
	v.SetDefault("queue.dispatch_size", 16)

	v.SetDefault("solana.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("solana.payer_keypair", "~/.config/solana/id.json")
	v.SetDefault("solana.program_keypair", "~/.config/solana/program-id.json")
	v.SetDefault("solana.compute_unit_limit", 1_000_000)
	v.SetDefault("solana.compute_unit_price", 1)

	v.SetDefault("evm.rpc_url", "http://localhost:8545")
	v.SetDefault("evm.wallet_key_path", "./wallet.key")
	v.SetDefault("evm.chain_id", 0)
	v.SetDefault("evm.gas_limit", 0)

	v.SetDefault("audit.log_dir", "./deployment_logs")
	v.SetDefault("audit.redis_addr", "")
	v.SetDefault("audit.redis_password", "")
	v.SetDefault("audit.redis_db", 0)
}
