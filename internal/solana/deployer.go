package solana

import (
	"bytes"
	"context"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"

	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/queue"
)

// chunkSize is the maximum payload bytes per write instruction (spec §4.B:
// chunks of up to 900 bytes keep the transaction under Solana's 1232-byte
// wire limit once the write instruction's fixed overhead is accounted for).
const chunkSize = 900

// publishMaxAttempts/publishRetryDelay bound the phase-3 publish/upgrade
// retry loop (spec §4.B, §8: exactly 3 attempts, 1 second apart).
const (
	publishMaxAttempts = 3
	publishRetryDelay  = time.Second
)

// Deployer drives the Solana upgradeable-loader protocol end to end. It
// implements worker.Deployer.
type Deployer struct {
	cfg       Config
	auditLog  *audit.Store
	newClient func(url string) RPCClient
}

// NewDeployer returns a Deployer bound to cfg, recording stage transitions
// to log.
func NewDeployer(cfg Config, log *audit.Store) *Deployer {
	return &Deployer{cfg: cfg, auditLog: log, newClient: NewRPCClient}
}

// Supports reports whether chain is ChainSolana.
func (d *Deployer) Supports(chain queue.ChainKind) bool {
	return chain == queue.ChainSolana
}

// Deploy runs the four-phase buffer-create/write/publish/close protocol
// against req.Payload, recording an audit entry at every stage boundary.
func (d *Deployer) Deploy(ctx context.Context, req *queue.Request) error {
	if len(req.Payload) < 8 {
		err := fmt.Errorf("%w: program payload shorter than 8 bytes", ErrInvalidProgram)
		d.note(req.ID, "failed", "Invalid BPF program format", err.Error())
		return err
	}
	if !hasELFMagic(req.Payload) {
		err := fmt.Errorf("%w: missing ELF magic header", ErrInvalidProgram)
		d.note(req.ID, "failed", "Invalid BPF program format", err.Error())
		return err
	}

	dctx, err := d.newContext(req)
	if err != nil {
		d.note(req.ID, "failed", "keypair load failed", err.Error())
		return err
	}
	defer dctx.Cleanup()

	client := d.newClient(d.cfg.RPCURL)

	d.note(req.ID, "initialized", "deployment context ready", nil)

	if err := d.createBuffer(ctx, client, dctx); err != nil {
		dctx.fail(err.Error())
		d.note(req.ID, "failed", "buffer creation failed", err.Error())
		return err
	}
	d.note(req.ID, string(StatusBufferCreated), "buffer account created", map[string]string{
		"buffer_pubkey": dctx.BufferPubkey.String(),
	})

	if err := d.writeProgramData(ctx, client, dctx, req.Payload); err != nil {
		dctx.fail(err.Error())
		d.note(req.ID, "failed", "chunked write failed", err.Error())
		return err
	}
	d.note(req.ID, string(StatusProgramDataWritten), "program data written to buffer", nil)

	if err := d.publish(ctx, client, dctx); err != nil {
		dctx.fail(err.Error())
		d.note(req.ID, "failed", "program deployment failed", err.Error())
		return err
	}
	d.note(req.ID, string(StatusProgramDeployed), "program deployed", map[string]string{
		"program_id": dctx.ProgramID.String(),
	})

	if err := d.closeBuffer(ctx, client, dctx); err != nil {
		// Buffer close failure is non-fatal: rent stays locked in the
		// buffer account but the program itself is live (spec §4.B phase 4).
		d.note(req.ID, "warning", "buffer close failed, rent not reclaimed", err.Error())
	} else {
		dctx.transition(StatusBufferClosed)
		d.note(req.ID, string(StatusBufferClosed), "buffer account closed", nil)
	}

	return nil
}

func (d *Deployer) newContext(req *queue.Request) (*Context, error) {
	payer, err := loadKeypair(d.cfg.PayerKeypairPath)
	if err != nil {
		return nil, err
	}
	program, err := loadKeypair(d.cfg.ProgramKeypairPath)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	return &Context{
		DeploymentID: req.ID,
		Config:       d.cfg,
		Status:       Status{Kind: StatusInitialized},
		CreatedAt:    now,
		UpdatedAt:    now,
		payer:        payer,
		program:      program,
		programData:  req.Payload,
	}, nil
}

// createBuffer implements phase 1: fund and initialize the buffer account
// that will hold the program's bytes while they're written in chunks.
func (d *Deployer) createBuffer(ctx context.Context, client RPCClient, dctx *Context) error {
	payerPub := dctx.payer.PublicKey()

	balance, err := client.GetBalance(ctx, payerPub, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("%w: check payer balance: %v", ErrRPC, err)
	}
	if balance == nil || balance.Value == 0 {
		return ErrInsufficientFunds
	}

	bufferSize := uint64(len(dctx.programData)) + loaderStateOverhead
	rent, err := client.GetMinimumBalanceForRentExemption(ctx, bufferSize, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("%w: rent exemption query: %v", ErrBufferCreation, err)
	}

	buffer := solanago.NewWallet().PrivateKey

	createIx := createAccountInstruction(payerPub, buffer.PublicKey(), rent, bufferSize, UpgradeableLoaderProgramID)
	initIx, err := createBufferInstruction(buffer.PublicKey(), payerPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBufferCreation, err)
	}

	instructions := []solanago.Instruction{
		computeUnitLimitInstruction(dctx.Config.ComputeUnitLimit),
		computeUnitPriceInstruction(dctx.Config.ComputeUnitPrice),
		createIx,
		initIx,
	}

	tx, err := buildTransaction(ctx, client, payerPub, instructions, []solanago.PrivateKey{dctx.payer, buffer})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBufferCreation, err)
	}

	sig, err := sendAndConfirm(ctx, client, tx, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBufferCreation, err)
	}

	// Phase 1 upgrades its own confirmation from confirmed to finalized
	// before any later phase proceeds (spec §4.B phase 1, §6): everything
	// downstream builds on the buffer account existing, so it alone gets
	// the stronger wait.
	if err := confirmAt(ctx, client, sig, rpc.CommitmentFinalized); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferCreation, err)
	}

	// Verifying the account landed is best-effort: a node lagging behind
	// its own confirmed commitment shouldn't fail a deployment that the
	// cluster has already accepted.
	bufferPub := buffer.PublicKey()
	if _, err := client.GetAccountInfo(ctx, bufferPub); err != nil {
		d.note(dctx.DeploymentID, "warning", "buffer account verification skipped", err.Error())
	}

	dctx.BufferPubkey = &bufferPub
	dctx.transition(StatusBufferCreated)
	return nil
}

// writeProgramData implements phase 2: sequential chunked writes of up to
// chunkSize bytes each, one transaction per chunk.
func (d *Deployer) writeProgramData(ctx context.Context, client RPCClient, dctx *Context, payload []byte) error {
	payerPub := dctx.payer.PublicKey()

	for offset := 0; offset < len(payload); offset += chunkSize {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[offset:end]

		writeIx, err := writeInstruction(*dctx.BufferPubkey, payerPub, uint32(offset), chunk)
		if err != nil {
			return err
		}

		instructions := []solanago.Instruction{
			computeUnitLimitInstruction(dctx.Config.ComputeUnitLimit * 2),
			computeUnitPriceInstruction(dctx.Config.ComputeUnitPrice),
			writeIx,
		}

		tx, err := buildTransaction(ctx, client, payerPub, instructions, []solanago.PrivateKey{dctx.payer})
		if err != nil {
			return err
		}
		if _, err := sendAndConfirm(ctx, client, tx, rpc.CommitmentConfirmed); err != nil {
			return fmt.Errorf("chunk at offset %d: %w", offset, err)
		}
	}

	dctx.transition(StatusProgramDataWritten)
	return nil
}

// publish implements phase 3: deploy a fresh program or upgrade an
// existing one, retrying up to publishMaxAttempts times on failure.
func (d *Deployer) publish(ctx context.Context, client RPCClient, dctx *Context) error {
	payerPub := dctx.payer.PublicKey()
	programPub := dctx.program.PublicKey()
	programDataAccount, _, err := solanago.FindProgramAddress([][]byte{programPub.Bytes()}, UpgradeableLoaderProgramID)
	if err != nil {
		return fmt.Errorf("%w: derive program-data address: %v", ErrProgramDeployment, err)
	}

	existing, err := client.GetAccountInfo(ctx, programPub)
	alreadyDeployed := err == nil && existing != nil && existing.Value != nil

	var lastErr error
	for attempt := 1; attempt <= publishMaxAttempts; attempt++ {
		var ix solanago.Instruction
		var signers []solanago.PrivateKey

		if alreadyDeployed {
			ix, err = upgradeInstruction(programDataAccount, programPub, *dctx.BufferPubkey, payerPub, payerPub)
			signers = []solanago.PrivateKey{dctx.payer}
		} else {
			maxLen := uint64(len(dctx.programData))
			ix, err = deployWithMaxProgramLenInstruction(payerPub, programDataAccount, programPub, *dctx.BufferPubkey, payerPub, maxLen)
			signers = []solanago.PrivateKey{dctx.payer, dctx.program}
		}
		if err != nil {
			lastErr = err
			break
		}

		instructions := []solanago.Instruction{
			computeUnitLimitInstruction(dctx.Config.ComputeUnitLimit),
			computeUnitPriceInstruction(dctx.Config.ComputeUnitPrice),
			ix,
		}

		tx, buildErr := buildTransaction(ctx, client, payerPub, instructions, signers)
		if buildErr != nil {
			lastErr = buildErr
		} else if _, sendErr := sendAndConfirm(ctx, client, tx, rpc.CommitmentConfirmed); sendErr != nil {
			lastErr = sendErr
		} else if verifyErr := d.verifyProgramOwner(ctx, client, programPub); verifyErr != nil {
			lastErr = verifyErr
		} else {
			dctx.ProgramID = &programPub
			dctx.transition(StatusProgramDeployed)
			return nil
		}

		if attempt < publishMaxAttempts {
			d.note(dctx.DeploymentID, "warning", fmt.Sprintf("publish attempt %d failed, retrying", attempt), lastErr.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(publishRetryDelay):
			}
		}
	}

	return fmt.Errorf("%w: exhausted %d attempts: %v", ErrProgramDeployment, publishMaxAttempts, lastErr)
}

// verifyProgramOwner confirms the program account is owned by the
// upgradeable loader, the final acceptance check for phase 3.
func (d *Deployer) verifyProgramOwner(ctx context.Context, client RPCClient, program solanago.PublicKey) error {
	info, err := client.GetAccountInfo(ctx, program)
	if err != nil {
		return fmt.Errorf("%w: verify program owner: %v", ErrRPC, err)
	}
	if info == nil || info.Value == nil {
		return fmt.Errorf("%w: program account not found after deploy", ErrProgramDeployment)
	}
	if info.Value.Owner != UpgradeableLoaderProgramID {
		return fmt.Errorf("%w: program account owned by %s, not the upgradeable loader", ErrProgramDeployment, info.Value.Owner)
	}
	return nil
}

// closeBuffer implements phase 4: reclaim the buffer account's rent back
// to the payer.
func (d *Deployer) closeBuffer(ctx context.Context, client RPCClient, dctx *Context) error {
	payerPub := dctx.payer.PublicKey()
	ix, err := closeInstruction(*dctx.BufferPubkey, payerPub, payerPub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBufferClose, err)
	}

	tx, err := buildTransaction(ctx, client, payerPub, []solanago.Instruction{ix}, []solanago.PrivateKey{dctx.payer})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBufferClose, err)
	}
	if _, err := sendAndConfirm(ctx, client, tx, rpc.CommitmentConfirmed); err != nil {
		return fmt.Errorf("%w: %v", ErrBufferClose, err)
	}
	return nil
}

func (d *Deployer) note(id uuid.UUID, stage, message string, details any) {
	if d.auditLog == nil {
		return
	}
	_ = d.auditLog.Append(id, stage, message, details)
}

// hasELFMagic reports whether payload begins with the canonical ELF magic
// header (0x7F 'E' 'L' 'F').
func hasELFMagic(payload []byte) bool {
	return bytes.HasPrefix(payload, []byte{0x7F, 'E', 'L', 'F'})
}
