package solana

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainforge/deployctl/internal/audit"
	"github.com/chainforge/deployctl/internal/queue"
)

// fakeRPCClient is an in-memory double for RPCClient: every transaction
// is treated as immediately finalized, and account lookups are driven
// from a map the test populates.
type fakeRPCClient struct {
	mu         sync.Mutex
	sentTxs    []*solanago.Transaction
	accounts   map[solanago.PublicKey]*rpc.Account
	balance    uint64
	sendErr    error
	sendErrFor int // fail exactly this many SendTransactionWithOpts calls, 0 = never
	sendCalls  int

	// appearsAfterSend simulates a program account that only becomes
	// visible (owned by the upgradeable loader) once the send count
	// reaches the given threshold, mirroring on-chain state only
	// existing after the deploy transaction that creates it lands.
	appearsAfterSend int
	appearsAccount   solanago.PublicKey
}

func newFakeRPCClient() *fakeRPCClient {
	return &fakeRPCClient{
		accounts: make(map[solanago.PublicKey]*rpc.Account),
		balance:  1_000_000_000,
	}
}

func (f *fakeRPCClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solanago.Hash{1, 2, 3}},
	}, nil
}

func (f *fakeRPCClient) SendTransactionWithOpts(ctx context.Context, tx *solanago.Transaction, opts rpc.TransactionOpts) (solanago.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.sentTxs = append(f.sentTxs, tx)
	if f.sendErrFor > 0 && f.sendCalls <= f.sendErrFor {
		return solanago.Signature{}, f.sendErr
	}
	var sig solanago.Signature
	sig[0] = byte(f.sendCalls)
	return sig, nil
}

func (f *fakeRPCClient) GetSignatureStatuses(ctx context.Context, searchHistory bool, sigs ...solanago.Signature) (*rpc.GetSignatureStatusesResult, error) {
	statuses := make([]*rpc.SignatureStatusesResult, len(sigs))
	for i := range sigs {
		statuses[i] = &rpc.SignatureStatusesResult{ConfirmationStatus: rpc.ConfirmationStatusFinalized}
	}
	return &rpc.GetSignatureStatusesResult{Value: statuses}, nil
}

func (f *fakeRPCClient) GetAccountInfo(ctx context.Context, account solanago.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appearsAfterSend > 0 && account == f.appearsAccount && f.sendCalls >= f.appearsAfterSend {
		return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: UpgradeableLoaderProgramID}}, nil
	}
	acc, ok := f.accounts[account]
	if !ok {
		return &rpc.GetAccountInfoResult{Value: nil}, nil
	}
	return &rpc.GetAccountInfoResult{Value: acc}, nil
}

func (f *fakeRPCClient) GetMinimumBalanceForRentExemption(ctx context.Context, size uint64, commitment rpc.CommitmentType) (uint64, error) {
	return size * 2, nil
}

func (f *fakeRPCClient) GetBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: f.balance}, nil
}

func writeTestKeypair(t *testing.T, dir, name string) (string, solanago.PrivateKey) {
	t.Helper()
	key := solanago.NewWallet().PrivateKey
	path := filepath.Join(dir, name)
	data, err := json.Marshal([]byte(key))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path, key
}

func newTestDeployer(t *testing.T) (*Deployer, *audit.Store, *fakeRPCClient, solanago.PublicKey) {
	t.Helper()
	dir := t.TempDir()
	payerPath, _ := writeTestKeypair(t, dir, "payer.json")
	programPath, programKey := writeTestKeypair(t, dir, "program.json")

	store, err := audit.NewStore(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	d := NewDeployer(Config{
		RPCURL:             "http://fake",
		PayerKeypairPath:   payerPath,
		ProgramKeypairPath: programPath,
		ComputeUnitLimit:   1_000_000,
		ComputeUnitPrice:   1,
	}, store)

	client := newFakeRPCClient()
	d.newClient = func(string) RPCClient { return client }
	return d, store, client, programKey.PublicKey()
}

func validELFPayload(n int) []byte {
	payload := make([]byte, n)
	payload[0], payload[1], payload[2], payload[3] = 0x7F, 'E', 'L', 'F'
	return payload
}

func TestDeployer_Deploy_RejectsShortPayload(t *testing.T) {
	d, store, client, _ := newTestDeployer(t)
	id := uuid.New()
	_, err := store.Init(id, "solana")
	require.NoError(t, err)

	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: []byte{0x7F, 'E', 'L'}})
	assert.ErrorIs(t, err, ErrInvalidProgram)
	assert.Zero(t, client.sendCalls)

	doc, err := store.Get(id)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	assert.Equal(t, "failed", doc.Entries[0].Stage)
}

func TestDeployer_Deploy_RejectsBadELFMagic(t *testing.T) {
	d, store, client, _ := newTestDeployer(t)
	id := uuid.New()
	_, err := store.Init(id, "solana")
	require.NoError(t, err)

	payload := []byte("ELF\x00aaaa")
	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: payload})
	assert.ErrorIs(t, err, ErrInvalidProgram)
	assert.Zero(t, client.sendCalls)
}

func TestDeployer_Deploy_FullHappyPath(t *testing.T) {
	d, store, client, programPub := newTestDeployer(t)
	id := uuid.New()
	_, err := store.Init(id, "solana")
	require.NoError(t, err)

	// 64 bytes fits in a single chunk: createBuffer (send 1), one write
	// (send 2), publish (send 3) — the program account only becomes
	// visible once the publish transaction has landed.
	client.appearsAccount = programPub
	client.appearsAfterSend = 3

	payload := validELFPayload(64)
	err = d.Deploy(context.Background(), &queue.Request{ID: id, Payload: payload})
	require.NoError(t, err)

	doc, err := store.Get(id)
	require.NoError(t, err)
	var stages []string
	for _, e := range doc.Entries {
		stages = append(stages, e.Stage)
	}
	assert.Contains(t, stages, "buffer_created")
	assert.Contains(t, stages, "program_data_written")
	assert.Contains(t, stages, "program_deployed")
}

func TestWriteProgramData_ChunksAtBoundary(t *testing.T) {
	d, _, client, _ := newTestDeployer(t)

	payer := solanago.NewWallet().PrivateKey
	buffer := solanago.NewWallet().PublicKey()
	dctx := &Context{
		Config:       Config{ComputeUnitLimit: 1000, ComputeUnitPrice: 1},
		BufferPubkey: &buffer,
		payer:        payer,
	}

	payload := make([]byte, 901)
	payload[0] = 0x7F

	require.NoError(t, d.writeProgramData(context.Background(), client, dctx, payload))
	assert.Equal(t, 2, client.sendCalls)
}

func TestWriteProgramData_ExactMultipleOfChunkSizeHasNoTrailingChunk(t *testing.T) {
	d, _, client, _ := newTestDeployer(t)

	payer := solanago.NewWallet().PrivateKey
	buffer := solanago.NewWallet().PublicKey()
	dctx := &Context{
		Config:       Config{ComputeUnitLimit: 1000, ComputeUnitPrice: 1},
		BufferPubkey: &buffer,
		payer:        payer,
	}

	payload := make([]byte, 1800) // exactly 2 * chunkSize
	require.NoError(t, d.writeProgramData(context.Background(), client, dctx, payload))
	assert.Equal(t, 2, client.sendCalls)
}

func TestPublish_UsesUpgradeWhenProgramAccountExists(t *testing.T) {
	d, _, client, _ := newTestDeployer(t)

	payer := solanago.NewWallet().PrivateKey
	program := solanago.NewWallet().PrivateKey
	buffer := solanago.NewWallet().PublicKey()

	client.accounts[program.PublicKey()] = &rpc.Account{Owner: UpgradeableLoaderProgramID}

	dctx := &Context{
		Config:       Config{ComputeUnitLimit: 1000, ComputeUnitPrice: 1},
		BufferPubkey: &buffer,
		payer:        payer,
		program:      program,
		programData:  validELFPayload(16),
	}

	require.NoError(t, d.publish(context.Background(), client, dctx))
	assert.Equal(t, 1, client.sendCalls)
	require.Len(t, client.sentTxs[0].Message.Instructions, 3) // compute-limit, compute-price, upgrade
}
