// Package solana drives the Solana upgradeable-loader deployment protocol:
// a four-phase state machine (buffer creation, chunked write,
// deploy/upgrade, buffer close) against a JSON-RPC node (spec §4.B).
package solana

import (
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// StatusKind tags the SolanaDeploymentStatus variant.
type StatusKind string

const (
	StatusInitialized        StatusKind = "initialized"
	StatusBufferCreated      StatusKind = "buffer_created"
	StatusProgramDataWritten StatusKind = "program_data_written"
	StatusProgramDeployed    StatusKind = "program_deployed"
	StatusBufferClosed       StatusKind = "buffer_closed"
	StatusFailed             StatusKind = "failed"
)

// Status is the SolanaDeploymentStatus tagged variant. Reason is only set
// when Kind == StatusFailed.
type Status struct {
	Kind   StatusKind
	Reason string
}

// Config is the immutable configuration supplied at context creation.
type Config struct {
	RPCURL             string
	PayerKeypairPath   string
	ProgramKeypairPath string
	ComputeUnitLimit   uint32
	ComputeUnitPrice   uint64
}

// Context is the SolanaDeploymentContext: mutated exclusively by the
// deployer under exclusive access, one instance per in-flight deployment.
type Context struct {
	DeploymentID uuid.UUID
	Config       Config

	ProgramID    *solanago.PublicKey
	BufferPubkey *solanago.PublicKey

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time

	// payer/program are the loaded keypairs; programData is the cached
	// payload. Both are cleared by Cleanup, never shared across
	// deployments (spec §9: one context per deployment, no memoization).
	payer       solanago.PrivateKey
	program     solanago.PrivateKey
	programData []byte
}

// transition moves the context to a new status and bumps UpdatedAt. It and
// fail are the only places Status is mutated, so the state machine summary
// in spec §4.B is enforced in one spot.
func (c *Context) transition(kind StatusKind) {
	c.Status = Status{Kind: kind}
	c.UpdatedAt = time.Now()
}

func (c *Context) fail(reason string) {
	c.Status = Status{Kind: StatusFailed, Reason: reason}
	c.UpdatedAt = time.Now()
}

// Cleanup discards cached program bytes and loaded keys from the
// deployer's working set. The context itself is retained by the caller.
func (c *Context) Cleanup() {
	c.programData = nil
	c.payer = solanago.PrivateKey{}
	c.program = solanago.PrivateKey{}
}
