package svm

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// BlockhashSource supplies liveness tokens.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

// TransactionPreparer stamps the liveness token and fee payer immediately before signing.
type TransactionPreparer struct {
	mu     sync.Mutex
	latest solana.Hash
	logger zerolog.Logger
}

func NewTransactionPreparer(logger zerolog.Logger) *TransactionPreparer {
	return &TransactionPreparer{
		logger: logger.With().Str("component", "svm_tx_preparer").Logger(),
	}
}

// Prepare sets the fee payer and liveness token on tx in place and returns it.
//
// An existing token is replaced only when the network reports a token different from
// the last one this preparer saw. If the refresh fails an existing token is kept and
// broadcast is left to fail on its own; with no token at all the failure is returned.
func (p *TransactionPreparer) Prepare(ctx context.Context, tx *UnsignedTransaction, source BlockhashSource, feePayer solana.PublicKey) (*UnsignedTransaction, error) {
	if tx == nil {
		return nil, serrors.NewValidationError("transaction is nil")
	}
	if feePayer.IsZero() {
		return nil, serrors.NewValidationError("fee payer is required")
	}
	tx.FeePayer = feePayer

	fetched, err := source.LatestBlockhash(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if tx.HasBlockhash() {
			p.logger.Warn().
				Err(err).
				Str("blockhash", tx.RecentBlockhash.String()).
				Msg("blockhash refresh failed, keeping existing token")
			return tx, nil
		}
		return nil, serrors.NewTransientError("failed to fetch recent blockhash", err)
	}

	p.mu.Lock()
	previous := p.latest
	p.latest = fetched
	p.mu.Unlock()

	switch {
	case !tx.HasBlockhash():
		tx.RecentBlockhash = fetched
	case fetched != previous:
		p.logger.Debug().
			Str("old", tx.RecentBlockhash.String()).
			Str("new", fetched.String()).
			Msg("refreshing blockhash")
		tx.RecentBlockhash = fetched
	}
	return tx, nil
}

// Latest returns the most recent liveness token seen.
func (p *TransactionPreparer) Latest() solana.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest
}
