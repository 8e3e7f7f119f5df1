package config

import (
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(cwd) }()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 4, cfg.Queue.WorkerPoolSize)
	assert.Equal(t, 100, cfg.Queue.MaxPending)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.Solana.RPCURL)
	assert.Equal(t, uint32(1_000_000), cfg.Solana.ComputeUnitLimit)
	assert.Equal(t, "./deployment_logs", cfg.Audit.LogDir)
}

func TestLoad_EnvOverridesDefault(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(cwd) }()

	t.Setenv("DEPLOYCTL_SERVER_ADDR", ":9999")
	t.Setenv("DEPLOYCTL_EVM_CHAIN_ID", "137")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, int64(137), cfg.EVM.ChainID)
}

func TestEVMConfig_ExpectedChainID(t *testing.T) {
	assert.Nil(t, EVMConfig{ChainID: 0}.ExpectedChainID())
	assert.Equal(t, big.NewInt(1337), EVMConfig{ChainID: 1337}.ExpectedChainID())
}
