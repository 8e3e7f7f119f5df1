package evm

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/queue"
)

// fakeChainClient is an in-memory double for ChainClient: transactions
// are recorded rather than broadcast, and TransactionReceipt can be
// configured to return ethereum.NotFound for a number of polls before
// the transaction "lands", the same way the Solana fake node mimics
// commitment latency.
type fakeChainClient struct {
	mu sync.Mutex

	chainID    *big.Int
	chainIDErr error

	balance    *big.Int
	balanceErr error

	nonce    uint64
	gasPrice *big.Int

	sentTxs      []*types.Transaction
	receipt      *types.Receipt
	receiptDelay int
	receiptCalls int

	closeCalled bool
}

func newFakeChainClient() *fakeChainClient {
	return &fakeChainClient{
		chainID:  big.NewInt(1337),
		balance:  big.NewInt(1_000_000_000_000_000_000),
		gasPrice: big.NewInt(1_000_000_000),
		receipt:  &types.Receipt{Status: types.ReceiptStatusSuccessful},
	}
}

func (f *fakeChainClient) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeChainClient) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeChainClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeChainClient) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return nil, nil
}

func (f *fakeChainClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChainClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func (f *fakeChainClient) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChainClient) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 500_000, nil
}

func (f *fakeChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sentTxs = append(f.sentTxs, tx)
	return nil
}

func (f *fakeChainClient) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, f.chainIDErr
}

func (f *fakeChainClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.receiptCalls <= f.receiptDelay {
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeChainClient) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalled = true
}

func writeTestWallet(t *testing.T, dir string) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	path := filepath.Join(dir, "wallet.key")
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))
	require.NoError(t, os.WriteFile(path, []byte(hexKey), 0o600))
	return path, key
}

func newTestDeployer(t *testing.T, cfg Config) (*Deployer, *audit.Store, *fakeChainClient) {
	t.Helper()
	dir := t.TempDir()
	walletPath, _ := writeTestWallet(t, dir)
	cfg.WalletKeyPath = walletPath
	if cfg.RPCURL == "" {
		cfg.RPCURL = "http://fake"
	}

	store, err := audit.NewStore(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	d := NewDeployer(cfg, store)
	client := newFakeChainClient()
	d.dial = func(ctx context.Context, url string) (ChainClient, error) { return client, nil }
	return d, store, client
}

func validBytecode() []byte {
	return []byte{0x60, 0x80, 0x60, 0x40}
}

func TestDeployer_Deploy_RejectsEmptyBytecode(t *testing.T) {
	d, _, client := newTestDeployer(t, Config{})

	err := d.Deploy(context.Background(), &queue.Request{ID: uuid.New(), Payload: nil})
	assert.ErrorIs(t, err, ErrInvalidBytecode)
	assert.Empty(t, client.sentTxs)
}

func TestDeployer_Initialize_WalletLoadFailure(t *testing.T) {
	d, _, _ := newTestDeployer(t, Config{})
	d.cfg.WalletKeyPath = filepath.Join(t.TempDir(), "missing.key")

	err := d.Deploy(context.Background(), &queue.Request{ID: uuid.New(), Payload: validBytecode()})
	assert.ErrorIs(t, err, ErrWalletLoad)
}

func TestDeployer_Initialize_ChainIDMismatch(t *testing.T) {
	d, store, client := newTestDeployer(t, Config{ExpectedChain: big.NewInt(99)})
	client.chainID = big.NewInt(1)
	id := uuid.New()
	_, err := store.Init(id, "evm")
	require.NoError(t, err)

	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: validBytecode()})
	assert.ErrorIs(t, err, ErrChainUnreachable)
	assert.True(t, client.closeCalled)
}

func TestDeployer_Deploy_RejectsZeroBalance(t *testing.T) {
	d, store, client := newTestDeployer(t, Config{GasLimit: 3_000_000})
	client.balance = big.NewInt(0)
	id := uuid.New()
	_, err := store.Init(id, "evm")
	require.NoError(t, err)

	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: validBytecode()})
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	doc, err := store.Get(id)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Entries)
	assert.Equal(t, "failed", doc.Entries[len(doc.Entries)-1].Stage)
}

func TestDeployer_Deploy_FullHappyPath(t *testing.T) {
	d, store, client := newTestDeployer(t, Config{GasLimit: 3_000_000})
	client.receiptDelay = 2 // receipt shows up on the third poll
	id := uuid.New()
	_, err := store.Init(id, "evm")
	require.NoError(t, err)

	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: validBytecode(), ProgramName: "Escrow"})
	require.NoError(t, err)
	require.Len(t, client.sentTxs, 1)

	doc, err := store.Get(id)
	require.NoError(t, err)
	var stages []string
	for _, e := range doc.Entries {
		stages = append(stages, e.Stage)
	}
	assert.Contains(t, stages, "initialized")
	assert.Contains(t, stages, "deployed")
	assert.True(t, client.closeCalled)
}

func TestDeployer_Deploy_RevertedTransactionFails(t *testing.T) {
	d, store, client := newTestDeployer(t, Config{GasLimit: 3_000_000})
	client.receipt = &types.Receipt{Status: types.ReceiptStatusFailed}
	id := uuid.New()
	_, err := store.Init(id, "evm")
	require.NoError(t, err)

	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: validBytecode()})
	assert.ErrorIs(t, err, ErrContractDeploy)
}
