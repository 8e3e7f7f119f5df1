package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ChainClient is the subset of *ethclient.Client the deployer depends on,
// narrowed to an interface (the same pattern as the Solana deployer's
// RPCClient) so tests can substitute a fake node instead of dialing a
// real one. bind.ContractBackend covers the surface bind.DeployContract
// itself needs; the rest is what the deployer calls directly.
type ChainClient interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	Close()
}

// dialChain dials url and returns the real *ethclient.Client, satisfying
// ChainClient.
func dialChain(ctx context.Context, url string) (ChainClient, error) {
	return ethclient.DialContext(ctx, url)
}
