package svm

import (
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// BuildDirectTransfer builds a single system-program transfer of lamports from sender
// to recipient. It does not depend on any settlement program being deployed.
func BuildDirectTransfer(sender, recipient solana.PublicKey, lamports uint64) (*UnsignedTransaction, error) {
	switch {
	case lamports == 0:
		return nil, serrors.NewValidationError("transfer amount must be positive")
	case sender.IsZero():
		return nil, serrors.NewAccountUndefinedError("transfer", "sender")
	case recipient.IsZero():
		return nil, serrors.NewAccountUndefinedError("transfer", "recipient")
	case sender.Equals(recipient):
		return nil, serrors.NewValidationError("sender and recipient are the same address")
	}

	built, err := system.NewTransferInstruction(lamports, sender, recipient).ValidateAndBuild()
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeValidation, "invalid transfer instruction", err)
	}
	data, err := built.Data()
	if err != nil {
		return nil, serrors.NewInternalError("failed to encode transfer instruction", err)
	}

	refs := make([]AccountRef, 0, len(built.Accounts()))
	for _, meta := range built.Accounts() {
		refs = append(refs, AccountRef{Address: meta.PublicKey, IsSigner: meta.IsSigner, IsWritable: meta.IsWritable})
	}
	return NewUnsignedTransaction(Instruction{
		ProgramID: built.ProgramID(),
		Accounts:  refs,
		Data:      data,
	}), nil
}
