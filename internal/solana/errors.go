package solana

import "errors"

// Sentinel errors for the Solana chain deployer, scoped to this package in
// the same style as the teacher's root-level errors.go.
var (
	ErrKeypairLoad        = errors.New("solana: failed to load keypair")
	ErrInvalidProgram     = errors.New("solana: invalid BPF program format")
	ErrInsufficientFunds  = errors.New("solana: insufficient payer funds")
	ErrBufferCreation     = errors.New("solana: buffer creation failed")
	ErrProgramDeployment  = errors.New("solana: program deployment failed")
	ErrBufferClose        = errors.New("solana: buffer close failed")
	ErrInvalidDeployState = errors.New("solana: invalid deployment state transition")
	ErrRPC                = errors.New("solana: rpc call failed")
)
