package evm

import "errors"

// Sentinel errors for the Ethereum chain deployer, scoped to this package
// in the same style as the Solana deployer's errors.go.
var (
	ErrWalletLoad        = errors.New("evm: failed to load wallet")
	ErrChainUnreachable  = errors.New("evm: chain RPC unreachable")
	ErrInsufficientFunds = errors.New("evm: insufficient wallet funds")
	ErrContractDeploy    = errors.New("evm: contract deployment failed")
	ErrInvalidBytecode   = errors.New("evm: empty or invalid contract bytecode")
)
