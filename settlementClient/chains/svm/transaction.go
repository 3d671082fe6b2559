package svm

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/crowdfund/settlement-node/settlementClient/constant"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// signatureLength is the size of one ed25519 signature slot.
const signatureLength = 64

// AccountRef is one account of an instruction.
type AccountRef struct {
	Address    solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

// Instruction targets a single program. Instructions are immutable once built.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []AccountRef
	Data      []byte
}

// UnsignedTransaction is the mutable pre-signing form of a transaction. A zero
// RecentBlockhash or FeePayer means the value has not been set yet.
type UnsignedTransaction struct {
	Instructions    []Instruction
	RecentBlockhash solana.Hash
	FeePayer        solana.PublicKey
}

// NewUnsignedTransaction wraps instructions with no liveness token or fee payer.
func NewUnsignedTransaction(instructions ...Instruction) *UnsignedTransaction {
	return &UnsignedTransaction{Instructions: instructions}
}

func (tx *UnsignedTransaction) HasBlockhash() bool { return tx.RecentBlockhash != (solana.Hash{}) }

func (tx *UnsignedTransaction) HasFeePayer() bool { return !tx.FeePayer.IsZero() }

// Clone returns a deep copy.
func (tx *UnsignedTransaction) Clone() *UnsignedTransaction {
	out := &UnsignedTransaction{
		Instructions:    make([]Instruction, len(tx.Instructions)),
		RecentBlockhash: tx.RecentBlockhash,
		FeePayer:        tx.FeePayer,
	}
	for i, ix := range tx.Instructions {
		out.Instructions[i] = Instruction{
			ProgramID: ix.ProgramID,
			Accounts:  append([]AccountRef(nil), ix.Accounts...),
			Data:      append([]byte(nil), ix.Data...),
		}
	}
	return out
}

// Rebuild returns a fresh copy with the same instructions and no liveness token,
// ready to be prepared again after a failed signing attempt.
func (tx *UnsignedTransaction) Rebuild() *UnsignedTransaction {
	out := tx.Clone()
	out.RecentBlockhash = solana.Hash{}
	return out
}

// Compile converts the transaction into its wire form. The fee payer must be set;
// a missing liveness token compiles as the zero hash.
func (tx *UnsignedTransaction) Compile() (*solana.Transaction, error) {
	if !tx.HasFeePayer() {
		return nil, serrors.NewValidationError("fee payer is not set")
	}
	return tx.compileWithPayer(tx.FeePayer)
}

func (tx *UnsignedTransaction) compileWithPayer(payer solana.PublicKey) (*solana.Transaction, error) {
	if len(tx.Instructions) == 0 {
		return nil, serrors.NewValidationError("transaction has no instructions")
	}

	instructions := make([]solana.Instruction, 0, len(tx.Instructions))
	for _, ix := range tx.Instructions {
		metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
		for _, acc := range ix.Accounts {
			metas = append(metas, solana.NewAccountMeta(acc.Address, acc.IsWritable, acc.IsSigner))
		}
		instructions = append(instructions, solana.NewInstruction(ix.ProgramID, metas, ix.Data))
	}

	compiled, err := solana.NewTransaction(instructions, tx.RecentBlockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeValidation, "failed to compile transaction", err)
	}
	return compiled, nil
}

// SerializedSize is the wire size once every required signature is attached.
// Without a fee payer the first signer account stands in for it.
func (tx *UnsignedTransaction) SerializedSize() (int, error) {
	payer := tx.FeePayer
	if payer.IsZero() {
		payer = tx.firstSigner()
	}
	compiled, err := tx.compileWithPayer(payer)
	if err != nil {
		return 0, err
	}
	return CompiledSize(compiled)
}

// CompiledSize computes message bytes plus the signature section.
func CompiledSize(compiled *solana.Transaction) (int, error) {
	message, err := compiled.Message.MarshalBinary()
	if err != nil {
		return 0, serrors.New(serrors.ErrCodeValidation, "failed to serialize message", err)
	}
	n := int(compiled.Message.Header.NumRequiredSignatures)
	return len(message) + compactU16Len(n) + signatureLength*n, nil
}

// CheckSerializedSize rejects serialized transactions above the packet ceiling.
func CheckSerializedSize(raw []byte) error {
	if len(raw) > constant.MaxTransactionSize {
		return serrors.NewTransactionTooLargeError(len(raw), constant.MaxTransactionSize)
	}
	return nil
}

func (tx *UnsignedTransaction) firstSigner() solana.PublicKey {
	for _, ix := range tx.Instructions {
		for _, acc := range ix.Accounts {
			if acc.IsSigner {
				return acc.Address
			}
		}
	}
	return solana.PublicKey{}
}

// Summary is a short description used in log lines.
func (tx *UnsignedTransaction) Summary() string {
	accounts := 0
	for _, ix := range tx.Instructions {
		accounts += len(ix.Accounts)
	}
	return fmt.Sprintf("%d instruction(s), %d account ref(s)", len(tx.Instructions), accounts)
}

func compactU16Len(n int) int {
	switch {
	case n < 0x80:
		return 1
	case n < 0x4000:
		return 2
	default:
		return 3
	}
}
