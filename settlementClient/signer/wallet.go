// Package signer obtains wallet signatures for prepared transactions.
package signer

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/gagliardetto/solana-go"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// ErrUserRejected is returned by wallets when the holder declines a request.
var ErrUserRejected = errors.New("user rejected the request")

// Wallet is the signing capability of an external key holder.
//
// SignTransaction may sign tx in place and return it, return a new transaction,
// or return nil after signing tx in place.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) (*solana.Transaction, error)
	SignAndSendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// BatchWallet is implemented by wallets that can approve several transactions in one prompt.
type BatchWallet interface {
	Wallet
	SignAllTransactions(ctx context.Context, txs []*solana.Transaction) ([]*solana.Transaction, error)
}

// rejectionPatterns are the texts browser and mobile wallets use for a declined prompt.
var rejectionPatterns = []string{
	"user rejected",
	"user denied",
	"user declined",
	"rejected the request",
	"request rejected",
	"cancelled by user",
}

// rejectionCode is the wallet provider code for a declined request.
const rejectionCode = 4001

// rejectionCodePattern matches the code only in its structured forms, e.g. `code 4001`
// or `"code":4001`, so ports and amounts containing 4001 do not count.
var rejectionCodePattern = regexp.MustCompile(`\bcode\b"?\s*[:=]?\s*4001\b`)

// codedError is implemented by wallet errors that carry a provider code.
type codedError interface {
	error
	Code() int
}

// IsUserRejection reports whether err means the key holder declined.
func IsUserRejection(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUserRejected) || serrors.IsCode(err, serrors.ErrCodeUserRejection) {
		return true
	}
	var coded codedError
	if errors.As(err, &coded) && coded.Code() == rejectionCode {
		return true
	}
	msg := strings.ToLower(err.Error())
	if rejectionCodePattern.MatchString(msg) {
		return true
	}
	for _, pattern := range rejectionPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// classifyWalletError maps a wallet failure onto the settlement taxonomy.
// Foreign wallet errors other than rejections are treated as transient.
func classifyWalletError(err error) *serrors.SettlementError {
	if IsUserRejection(err) {
		return serrors.NewUserRejectionError(err)
	}
	var settlementErr *serrors.SettlementError
	if errors.As(err, &settlementErr) {
		return settlementErr
	}
	return serrors.NewTransientError("wallet signing failed", err)
}
