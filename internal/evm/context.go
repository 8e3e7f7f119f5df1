// Package evm implements the Ethereum chain deployer (spec §4.C): an
// interface-level contract-factory driver with no chunked-write phase —
// a single transaction takes a compiled artifact from Initialized to
// Deployed.
package evm

import (
	"crypto/ecdsa"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// StatusKind tags the EVM deployment's status variant.
type StatusKind string

const (
	StatusInitialized StatusKind = "initialized"
	StatusDeployed    StatusKind = "deployed"
	StatusFailed      StatusKind = "failed"
)

// Status is the tagged status variant. Reason is only set when
// Kind == StatusFailed.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Config is the immutable configuration supplied at context creation.
type Config struct {
	RPCURL        string
	WalletKeyPath string
	ExpectedChain *big.Int
	GasLimit      uint64
}

// Context is the EVM deployment context: one instance per in-flight
// deployment, mutated exclusively by the deployer.
type Context struct {
	DeploymentID uuid.UUID
	Config       Config
	ContractName string

	DeployedAddress *common.Address
	TxHash          *common.Hash

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	wallet   *ecdsa.PrivateKey
	bytecode []byte
}

func (c *Context) transition(kind StatusKind) {
	c.Status = Status{Kind: kind}
	c.UpdatedAt = time.Now()
}

func (c *Context) fail(reason string) {
	c.Status = Status{Kind: StatusFailed, Reason: reason}
	c.UpdatedAt = time.Now()
}

// Cleanup drops the cached bytecode and wallet key from the deployer's
// working set. The context itself is retained by the caller.
func (c *Context) Cleanup() {
	c.bytecode = nil
	c.wallet = nil
}
