package solana

import (
	"encoding/binary"
	"fmt"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
)

// Compute budget instruction tags.
const (
	computeUnitLimitTag = 2
	computeUnitPriceTag = 3
)

// createIdempotentTag selects CreateIdempotent in the associated token program.
const createIdempotentTag = 1

// PublicKey parses a base58 key into the SDK type.
func PublicKey(key string) (solanago.PublicKey, error) {
	pk, err := solanago.PublicKeyFromBase58(key)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("parse key %q: %w", key, err)
	}
	return pk, nil
}

// ComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func ComputeUnitPrice(microLamports uint64) solanago.Instruction {
	data := make([]byte, 9)
	data[0] = computeUnitPriceTag
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solanago.NewInstruction(solanago.ComputeBudget, solanago.AccountMetaSlice{}, data)
}

// ComputeUnitLimit caps the compute units of the transaction.
func ComputeUnitLimit(units uint32) solanago.Instruction {
	data := make([]byte, 5)
	data[0] = computeUnitLimitTag
	binary.LittleEndian.PutUint32(data[1:], units)
	return solanago.NewInstruction(solanago.ComputeBudget, solanago.AccountMetaSlice{}, data)
}

// CreateATAIdempotent creates owner's associated token account for mint unless it exists.
// It returns the instruction and the derived account.
func CreateATAIdempotent(payer, owner, mint solanago.PublicKey) (solanago.Instruction, solanago.PublicKey, error) {
	ataKey, err := FindAssociatedTokenAddress(owner.String(), mint.String())
	if err != nil {
		return nil, solanago.PublicKey{}, err
	}
	ata, err := PublicKey(ataKey)
	if err != nil {
		return nil, solanago.PublicKey{}, err
	}

	accounts := solanago.AccountMetaSlice{
		solanago.Meta(payer).WRITE().SIGNER(),
		solanago.Meta(ata).WRITE(),
		solanago.Meta(owner),
		solanago.Meta(mint),
		solanago.Meta(solanago.SystemProgramID),
		solanago.Meta(solanago.TokenProgramID),
	}
	ix := solanago.NewInstruction(solanago.SPLAssociatedTokenAccountProgramID, accounts, []byte{createIdempotentTag})
	return ix, ata, nil
}

// CloseTokenAccount closes account and returns its rent to destination.
func CloseTokenAccount(account, destination, owner solanago.PublicKey) (solanago.Instruction, error) {
	ix, err := token.NewCloseAccountInstruction(account, destination, owner, nil).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("close account: %w", err)
	}
	return ix, nil
}

// WrapSOL moves lamports from owner into its wrapped SOL account and syncs the token balance.
func WrapSOL(owner, wsolAccount solanago.PublicKey, lamports uint64) ([]solanago.Instruction, error) {
	transfer, err := system.NewTransferInstruction(lamports, owner, wsolAccount).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("wrap transfer: %w", err)
	}
	sync, err := token.NewSyncNativeInstruction(wsolAccount).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("sync native: %w", err)
	}
	return []solanago.Instruction{transfer, sync}, nil
}

// Transfer sends lamports from one system account to another.
func Transfer(from, to solanago.PublicKey, lamports uint64) (solanago.Instruction, error) {
	ix, err := system.NewTransferInstruction(lamports, from, to).ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("transfer: %w", err)
	}
	return ix, nil
}

// IsCloseAccount reports whether ix is an SPL token CloseAccount for account.
func IsCloseAccount(ix solanago.Instruction, account solanago.PublicKey) bool {
	if !ix.ProgramID().Equals(solanago.TokenProgramID) {
		return false
	}
	data, err := ix.Data()
	if err != nil || len(data) == 0 || data[0] != token.Instruction_CloseAccount {
		return false
	}
	accounts := ix.Accounts()
	return len(accounts) > 0 && accounts[0].PublicKey.Equals(account)
}

// IsCreateATAIdempotent reports whether ix is an idempotent associated account creation.
func IsCreateATAIdempotent(ix solanago.Instruction) bool {
	if !ix.ProgramID().Equals(solanago.SPLAssociatedTokenAccountProgramID) {
		return false
	}
	data, err := ix.Data()
	return err == nil && len(data) == 1 && data[0] == createIdempotentTag
}
