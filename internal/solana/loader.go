package solana

import (
	"bytes"
	"encoding/binary"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
)

// UpgradeableLoaderProgramID is the well-known BPF upgradeable loader
// program address.
var UpgradeableLoaderProgramID = solanago.MustPublicKeyFromBase58("BPFLoaderUpgradeab1e11111111111111111111111")

// loaderStateOverhead is the fixed size of the upgradeable loader's
// internal buffer/program-data account header (spec §4.B: buffer_size =
// len(program) + 36).
const loaderStateOverhead = 36

// programAccountOverhead is the fixed overhead for the executable program
// account itself (spec §4.B phase 3: size = len(program) + 45).
const programAccountOverhead = 45

// loader instruction discriminants, per the upgradeable loader's bincode
// instruction enum.
const (
	loaderInstrInitializeBuffer      uint32 = 0
	loaderInstrWrite                 uint32 = 1
	loaderInstrDeployWithMaxDataLen  uint32 = 2
	loaderInstrUpgrade               uint32 = 3
	loaderInstrClose                 uint32 = 5
)

func computeUnitLimitInstruction(units uint32) solanago.Instruction {
	return computebudget.NewSetComputeUnitLimitInstruction(units).Build()
}

func computeUnitPriceInstruction(microLamports uint64) solanago.Instruction {
	return computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build()
}

// createAccountInstruction builds the system-program create_account
// instruction funding and allocating a new account owned by owner.
func createAccountInstruction(from, to solanago.PublicKey, lamports, space uint64, owner solanago.PublicKey) solanago.Instruction {
	return system.NewCreateAccountInstruction(lamports, space, owner, from, to).Build()
}

// createBufferInstruction builds the loader's initialize_buffer
// instruction, setting payer as the buffer authority.
func createBufferInstruction(buffer, authority solanago.PublicKey) (solanago.Instruction, error) {
	data, err := encodeLoaderInstr(loaderInstrInitializeBuffer, nil)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(buffer, true, false),
		solanago.NewAccountMeta(authority, false, false),
	}
	return solanago.NewInstruction(UpgradeableLoaderProgramID, accounts, data), nil
}

// writeInstruction builds the loader's write instruction for a single
// chunk at the given byte offset.
func writeInstruction(buffer, authority solanago.PublicKey, offset uint32, chunk []byte) (solanago.Instruction, error) {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, offset); err != nil {
		return nil, fmt.Errorf("solana: encode write offset: %w", err)
	}
	if err := binary.Write(&body, binary.LittleEndian, uint64(len(chunk))); err != nil {
		return nil, fmt.Errorf("solana: encode write length: %w", err)
	}
	body.Write(chunk)

	data, err := encodeLoaderInstr(loaderInstrWrite, body.Bytes())
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(buffer, true, false),
		solanago.NewAccountMeta(authority, false, true),
	}
	return solanago.NewInstruction(UpgradeableLoaderProgramID, accounts, data), nil
}

// deployWithMaxProgramLenInstruction builds the loader's
// deploy_with_max_data_len instruction, publishing a program for the
// first time from a filled buffer.
func deployWithMaxProgramLenInstruction(payer, programDataAccount, program, buffer, upgradeAuthority solanago.PublicKey, maxLen uint64) (solanago.Instruction, error) {
	var body bytes.Buffer
	if err := binary.Write(&body, binary.LittleEndian, maxLen); err != nil {
		return nil, fmt.Errorf("solana: encode max_data_len: %w", err)
	}

	data, err := encodeLoaderInstr(loaderInstrDeployWithMaxDataLen, body.Bytes())
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(payer, true, true),
		solanago.NewAccountMeta(programDataAccount, true, false),
		solanago.NewAccountMeta(program, true, false),
		solanago.NewAccountMeta(buffer, true, false),
		solanago.NewAccountMeta(solanago.SysVarRentPubkey, false, false),
		solanago.NewAccountMeta(solanago.SysVarClockPubkey, false, false),
		solanago.NewAccountMeta(solanago.SystemProgramID, false, false),
		solanago.NewAccountMeta(upgradeAuthority, false, true),
	}
	return solanago.NewInstruction(UpgradeableLoaderProgramID, accounts, data), nil
}

// upgradeInstruction builds the loader's upgrade instruction, replacing an
// already-deployed program's code from a filled buffer.
func upgradeInstruction(programDataAccount, program, buffer, spill, authority solanago.PublicKey) (solanago.Instruction, error) {
	data, err := encodeLoaderInstr(loaderInstrUpgrade, nil)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(programDataAccount, true, false),
		solanago.NewAccountMeta(program, true, false),
		solanago.NewAccountMeta(buffer, true, false),
		solanago.NewAccountMeta(spill, true, false),
		solanago.NewAccountMeta(solanago.SysVarRentPubkey, false, false),
		solanago.NewAccountMeta(solanago.SysVarClockPubkey, false, false),
		solanago.NewAccountMeta(authority, false, true),
	}
	return solanago.NewInstruction(UpgradeableLoaderProgramID, accounts, data), nil
}

// closeInstruction builds the loader's close instruction, reclaiming an
// account's rent to recipient.
func closeInstruction(buffer, recipient, authority solanago.PublicKey) (solanago.Instruction, error) {
	data, err := encodeLoaderInstr(loaderInstrClose, nil)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(buffer, true, false),
		solanago.NewAccountMeta(recipient, true, false),
		solanago.NewAccountMeta(authority, false, true),
	}
	return solanago.NewInstruction(UpgradeableLoaderProgramID, accounts, data), nil
}

// encodeLoaderInstr prefixes body with the little-endian u32 instruction
// discriminant used by the upgradeable loader's bincode wire format.
func encodeLoaderInstr(discriminant uint32, body []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, discriminant); err != nil {
		return nil, fmt.Errorf("solana: encode instruction discriminant: %w", err)
	}
	buf.Write(body)
	return buf.Bytes(), nil
}
