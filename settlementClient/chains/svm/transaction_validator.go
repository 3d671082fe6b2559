package svm

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/crowdfund/settlement-node/settlementClient/constant"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// ValidationResult is the outcome of a structural check. Errors block signing;
// warnings are corrected downstream.
type ValidationResult struct {
	Valid    bool
	Errors   []*serrors.SettlementError
	Warnings []string
	Size     int
}

// Err returns nil for a valid result, the size error when present, otherwise the first error.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	for _, e := range r.Errors {
		if e.Code == serrors.ErrCodeTransactionTooLarge {
			return e
		}
	}
	if len(r.Errors) > 0 {
		return r.Errors[0]
	}
	return serrors.NewValidationError("transaction is invalid")
}

func (r *ValidationResult) fail(err *serrors.SettlementError) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// TransactionValidator performs read-only structural and size checks.
type TransactionValidator struct {
	logger zerolog.Logger
}

func NewTransactionValidator(logger zerolog.Logger) *TransactionValidator {
	return &TransactionValidator{
		logger: logger.With().Str("component", "svm_tx_validator").Logger(),
	}
}

// Validate checks tx against expectedFeePayer. It never mutates tx.
func (v *TransactionValidator) Validate(tx *UnsignedTransaction, expectedFeePayer solana.PublicKey) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if tx == nil {
		result.fail(serrors.NewValidationError("transaction is nil"))
		return result
	}

	if !tx.HasBlockhash() {
		result.fail(serrors.NewValidationError("recent blockhash is missing"))
	}

	switch {
	case !tx.HasFeePayer():
		result.fail(serrors.NewValidationError("fee payer is missing"))
	case !expectedFeePayer.IsZero() && !tx.FeePayer.Equals(expectedFeePayer):
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("fee payer %s does not match expected %s", tx.FeePayer, expectedFeePayer))
	}

	if len(tx.Instructions) == 0 {
		result.fail(serrors.NewValidationError("transaction has no instructions"))
	}
	for i, ix := range tx.Instructions {
		if !wellFormed(ix.ProgramID) {
			result.fail(serrors.Newf(serrors.ErrCodeValidation, "instruction %d has a malformed program id", i))
		}
		if len(ix.Accounts) == 0 {
			result.fail(serrors.Newf(serrors.ErrCodeValidation, "instruction %d has no accounts", i))
		}
		for j, acc := range ix.Accounts {
			if !wellFormed(acc.Address) {
				result.fail(serrors.Newf(serrors.ErrCodeValidation, "instruction %d account %d is malformed", i, j))
				continue
			}
			// The zero address is the system program; it can never sign or be written.
			if acc.Address.IsZero() && (acc.IsSigner || acc.IsWritable) {
				result.fail(serrors.Newf(serrors.ErrCodeValidation,
					"instruction %d account %d is unset but marked signer or writable", i, j))
			}
		}
	}

	if len(tx.Instructions) > 0 {
		size, err := tx.SerializedSize()
		switch {
		case err != nil:
			result.fail(serrors.New(serrors.ErrCodeValidation, "failed to compute serialized size", err))
		case size > constant.MaxTransactionSize:
			result.Size = size
			result.fail(serrors.NewTransactionTooLargeError(size, constant.MaxTransactionSize))
		default:
			result.Size = size
		}
	}

	if !result.Valid {
		v.logger.Warn().
			Int("errors", len(result.Errors)).
			Int("size", result.Size).
			Str("tx", tx.Summary()).
			Msg("transaction failed validation")
	}
	for _, w := range result.Warnings {
		v.logger.Debug().Str("warning", w).Msg("transaction validation warning")
	}
	return result
}

// wellFormed round-trips the key through its base58 text form.
func wellFormed(key solana.PublicKey) bool {
	raw, err := base58.Decode(key.String())
	return err == nil && len(raw) == solana.PublicKeyLength
}
