package solana

import (
	"context"
	"fmt"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

const (
	confirmPollInterval = 500 * time.Millisecond
	confirmTimeout       = 60 * time.Second
)

// confirmAt polls GetSignatureStatuses until sig reaches at least the
// given commitment level, or ctx/timeout expires. Mirrors the
// poll-with-ticker confirmation pattern used against solana-go's RPC
// client elsewhere in the ecosystem.
func confirmAt(ctx context.Context, client RPCClient, sig solanago.Signature, commitment rpc.CommitmentType) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("%w: timed out waiting for %s confirmation of %s", ErrRPC, commitment, sig)
		case <-ticker.C:
			statuses, err := client.GetSignatureStatuses(timeoutCtx, true, sig)
			if err != nil {
				return fmt.Errorf("%w: get signature statuses: %v", ErrRPC, err)
			}
			if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			st := statuses.Value[0]
			if st.Err != nil {
				return fmt.Errorf("%w: transaction %s failed on-chain: %v", ErrRPC, sig, st.Err)
			}
			if reachedCommitment(st.ConfirmationStatus, commitment) {
				return nil
			}
		}
	}
}

// reachedCommitment reports whether status is at or above the requested
// commitment level (processed < confirmed < finalized).
func reachedCommitment(status rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	rank := func(s rpc.ConfirmationStatusType) int {
		switch s {
		case rpc.ConfirmationStatusProcessed:
			return 1
		case rpc.ConfirmationStatusConfirmed:
			return 2
		case rpc.ConfirmationStatusFinalized:
			return 3
		default:
			return 0
		}
	}
	wantRank := 2
	if want == rpc.CommitmentFinalized {
		wantRank = 3
	}
	return rank(status) >= wantRank
}

// sendAndConfirm sends tx and waits for it to reach commitment, returning
// the signature on success.
func sendAndConfirm(ctx context.Context, client RPCClient, tx *solanago.Transaction, commitment rpc.CommitmentType) (solanago.Signature, error) {
	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return solanago.Signature{}, fmt.Errorf("%w: send transaction: %v", ErrRPC, err)
	}
	if err := confirmAt(ctx, client, sig, commitment); err != nil {
		return sig, err
	}
	return sig, nil
}

// buildTransaction assembles instructions into a signed transaction using
// a fresh blockhash. Each signer the message requires is looked up by
// public key in signers; the signature order follows the message, not the
// order of signers.
func buildTransaction(ctx context.Context, client RPCClient, payer solanago.PublicKey, instructions []solanago.Instruction, signers []solanago.PrivateKey) (*solanago.Transaction, error) {
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("%w: get latest blockhash: %v", ErrRPC, err)
	}

	tx, err := solanago.NewTransaction(instructions, recent.Value.Blockhash, solanago.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("solana: build transaction: %w", err)
	}

	bySigner := make(map[solanago.PublicKey]solanago.PrivateKey, len(signers))
	for _, s := range signers {
		bySigner[s.PublicKey()] = s
	}

	_, err = tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if pk, ok := bySigner[key]; ok {
			return &pk
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("solana: sign transaction: %w", err)
	}
	return tx, nil
}
