package evm

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/queue"
)

// confirmTimeout bounds how long deploy() waits for the one confirmation
// the spec requires (§4.C).
const confirmTimeout = 60 * time.Second

// Deployer drives the single-transaction contract-factory protocol. It
// implements worker.Deployer.
type Deployer struct {
	cfg      Config
	auditLog *audit.Store
	dial     func(ctx context.Context, url string) (ChainClient, error)
}

// NewDeployer returns a Deployer bound to cfg, recording stage
// transitions to log.
func NewDeployer(cfg Config, log *audit.Store) *Deployer {
	return &Deployer{cfg: cfg, auditLog: log, dial: dialChain}
}

// Supports reports whether chain is ChainEVM.
func (d *Deployer) Supports(chain queue.ChainKind) bool {
	return chain == queue.ChainEVM
}

// Deploy runs initialize, deploy, and cleanup against req.Payload
// (treated as the contract's deploy bytecode), recording an audit entry
// at every stage boundary.
func (d *Deployer) Deploy(ctx context.Context, req *queue.Request) error {
	if len(req.Payload) == 0 {
		return fmt.Errorf("%w: empty contract bytecode", ErrInvalidBytecode)
	}

	dctx, client, err := d.initialize(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		dctx.Cleanup()
		client.Close()
	}()

	d.note(req.ID, string(StatusInitialized), "deployment context ready", map[string]string{
		"contract_name": dctx.ContractName,
	})

	if err := d.deploy(ctx, client, dctx); err != nil {
		dctx.fail(err.Error())
		d.note(req.ID, "failed", "contract deployment failed", err.Error())
		return err
	}
	d.note(req.ID, string(StatusDeployed), "contract deployed", map[string]string{
		"address": dctx.DeployedAddress.Hex(),
		"tx_hash": dctx.TxHash.Hex(),
	})

	return nil
}

// initialize loads the wallet, dials the RPC endpoint, confirms the
// chain-id matches configuration (when one is set), and returns an
// Initialized context plus the dialed client (spec §4.C).
func (d *Deployer) initialize(ctx context.Context, req *queue.Request) (*Context, ChainClient, error) {
	wallet, err := loadWallet(d.cfg.WalletKeyPath)
	if err != nil {
		return nil, nil, err
	}

	client, err := d.dial(ctx, d.cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrChainUnreachable, err)
	}

	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("%w: fetch chain id: %v", ErrChainUnreachable, err)
	}
	if d.cfg.ExpectedChain != nil && chainID.Cmp(d.cfg.ExpectedChain) != 0 {
		client.Close()
		return nil, nil, fmt.Errorf("%w: chain id mismatch: expected %s, got %s", ErrChainUnreachable, d.cfg.ExpectedChain, chainID)
	}

	now := time.Now()
	dctx := &Context{
		DeploymentID: req.ID,
		Config:       d.cfg,
		ContractName: req.ProgramName,
		Status:       Status{Kind: StatusInitialized},
		CreatedAt:    now,
		UpdatedAt:    now,
		wallet:       wallet,
		bytecode:     req.Payload,
	}
	dctx.Config.ExpectedChain = chainID
	return dctx, client, nil
}

// deploy verifies the wallet has a non-zero balance, submits a contract-
// factory transaction, waits for one confirmation, and records the
// deployed address.
func (d *Deployer) deploy(ctx context.Context, client ChainClient, dctx *Context) error {
	from := crypto.PubkeyToAddress(dctx.wallet.PublicKey)

	balance, err := client.BalanceAt(ctx, from, nil)
	if err != nil {
		return fmt.Errorf("%w: check wallet balance: %v", ErrChainUnreachable, err)
	}
	if balance == nil || balance.Sign() == 0 {
		return ErrInsufficientFunds
	}

	auth, err := bind.NewKeyedTransactorWithChainID(dctx.wallet, dctx.Config.ExpectedChain)
	if err != nil {
		return fmt.Errorf("%w: build transactor: %v", ErrContractDeploy, err)
	}
	if dctx.Config.GasLimit > 0 {
		auth.GasLimit = dctx.Config.GasLimit
	}

	address, tx, _, err := bind.DeployContract(auth, abi.ABI{}, dctx.bytecode, client)
	if err != nil {
		return fmt.Errorf("%w: submit deployment transaction: %v", ErrContractDeploy, err)
	}

	receipt, err := waitMined(ctx, client, tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrContractDeploy, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: transaction reverted", ErrContractDeploy)
	}

	txHash := tx.Hash()
	dctx.DeployedAddress = &address
	dctx.TxHash = &txHash
	dctx.transition(StatusDeployed)
	return nil
}

// waitMined polls for tx's receipt, the EVM analogue of the Solana
// deployer's confirmAt poll loop.
func waitMined(ctx context.Context, client ChainClient, tx *types.Transaction) (*types.Receipt, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(timeoutCtx, tx.Hash())
		if err == nil {
			return receipt, nil
		}
		if err != ethereum.NotFound {
			return nil, err
		}
		select {
		case <-timeoutCtx.Done():
			return nil, fmt.Errorf("timed out waiting for confirmation of %s", tx.Hash())
		case <-ticker.C:
		}
	}
}

func (d *Deployer) note(id uuid.UUID, stage, message string, details any) {
	if d.auditLog == nil {
		return
	}
	_ = d.auditLog.Append(id, stage, message, details)
}
