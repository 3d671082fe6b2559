package signer

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"

	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/metrics"
)

// State is a step of one signing attempt.
type State string

const (
	StatePreparing               State = "preparing"
	StateValidating              State = "validating"
	StateAwaitingWalletSignature State = "awaiting_wallet_signature"
	StateSigned                  State = "signed"
	StateRejected                State = "rejected"
	StateTransientFailure        State = "transient_failure"
	StateFailed                  State = "failed"
)

// Transition is reported to the observer on every state change.
type Transition struct {
	Attempt int
	State   State
	Err     error
}

// Observer receives transitions synchronously.
type Observer func(Transition)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Config is the retry budget.
type Config struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// DefaultConfig retries three times after 1s, 2s and 4s.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// SignedTransaction is a transaction whose wire form has been checked.
type SignedTransaction struct {
	Tx        *solana.Transaction
	Raw       []byte
	Signature solana.Signature
	Attempts  int
}

// Orchestrator runs prepare, validate and sign with bounded retries.
// It owns the transaction it is given until Sign returns.
type Orchestrator struct {
	ledger    svm.BlockhashSource
	preparer  *svm.TransactionPreparer
	validator *svm.TransactionValidator
	config    Config
	observer  Observer
	sleep     Sleeper
	logger    zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.config = cfg }
}

func WithObserver(fn Observer) Option {
	return func(o *Orchestrator) { o.observer = fn }
}

func WithSleeper(fn Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// NewOrchestrator creates an orchestrator fetching liveness tokens from ledger.
func NewOrchestrator(
	ledger svm.BlockhashSource,
	preparer *svm.TransactionPreparer,
	validator *svm.TransactionValidator,
	logger zerolog.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		ledger:    ledger,
		preparer:  preparer,
		validator: validator,
		config:    DefaultConfig(),
		sleep:     sleepContext,
		logger:    logger.With().Str("component", "signing_orchestrator").Logger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.config.MaxRetries < 0 {
		o.config.MaxRetries = 0
	}
	return o
}

// RetryDelays lists the waits before each retry under the current config.
func (o *Orchestrator) RetryDelays() []time.Duration {
	return serrors.BackoffSchedule(o.config.MaxRetries, o.config.BaseDelay, o.config.MaxDelay)
}

// Sign prepares, validates and signs tx with wallet.
//
// A transient failure rebuilds the transaction with a fresh liveness token and
// retries after a backoff. A user rejection returns at once whatever budget is left.
func (o *Orchestrator) Sign(ctx context.Context, tx *svm.UnsignedTransaction, wallet Wallet) (*SignedTransaction, error) {
	var out *SignedTransaction
	err := o.run(ctx, tx, func(ctx context.Context, attempt int, current *svm.UnsignedTransaction) error {
		compiled, err := o.prepareAndCompile(ctx, attempt, current, wallet.PublicKey())
		if err != nil {
			return err
		}

		o.emit(attempt, StateAwaitingWalletSignature, nil)
		signed, err := wallet.SignTransaction(ctx, compiled)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyWalletError(err)
		}
		if signed == nil {
			// signed in place
			signed = compiled
		}

		out, err = finalize(signed)
		if err != nil {
			return err
		}
		out.Attempts = attempt + 1
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SignAndSend lets the wallet sign and broadcast in one step.
func (o *Orchestrator) SignAndSend(ctx context.Context, tx *svm.UnsignedTransaction, wallet Wallet) (solana.Signature, error) {
	var sig solana.Signature
	err := o.run(ctx, tx, func(ctx context.Context, attempt int, current *svm.UnsignedTransaction) error {
		compiled, err := o.prepareAndCompile(ctx, attempt, current, wallet.PublicKey())
		if err != nil {
			return err
		}

		o.emit(attempt, StateAwaitingWalletSignature, nil)
		sig, err = wallet.SignAndSendTransaction(ctx, compiled)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			classified := classifyWalletError(err)
			if classified.IsRetryable() {
				// the wallet may already have broadcast; a rebuilt retry could pay twice
				return serrors.NewInternalError("wallet send failed with unknown broadcast state", err)
			}
			return classified
		}
		if sig == (solana.Signature{}) {
			return serrors.NewValidationError("wallet returned an empty signature")
		}
		return nil
	})
	return sig, err
}

// SignAll signs several transactions, in one wallet prompt when the wallet supports it.
// Any rejection aborts the whole batch.
func (o *Orchestrator) SignAll(ctx context.Context, txs []*svm.UnsignedTransaction, wallet Wallet) ([]*SignedTransaction, error) {
	batch, ok := wallet.(BatchWallet)
	if !ok {
		out := make([]*SignedTransaction, 0, len(txs))
		for i, tx := range txs {
			signed, err := o.Sign(ctx, tx, wallet)
			if err != nil {
				return nil, serrors.Wrapf(err, "transaction %d of %d", i+1, len(txs))
			}
			out = append(out, signed)
		}
		return out, nil
	}

	var out []*SignedTransaction
	err := o.runBatch(ctx, txs, func(ctx context.Context, attempt int, current []*svm.UnsignedTransaction) error {
		compiled := make([]*solana.Transaction, len(current))
		for i, tx := range current {
			c, err := o.prepareAndCompile(ctx, attempt, tx, wallet.PublicKey())
			if err != nil {
				return err
			}
			compiled[i] = c
		}

		o.emit(attempt, StateAwaitingWalletSignature, nil)
		signed, err := batch.SignAllTransactions(ctx, compiled)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return classifyWalletError(err)
		}
		if signed == nil {
			signed = compiled
		}
		if len(signed) != len(compiled) {
			return serrors.Newf(serrors.ErrCodeValidation, "wallet returned %d of %d transactions", len(signed), len(compiled))
		}

		out = make([]*SignedTransaction, len(signed))
		for i, s := range signed {
			if s == nil {
				s = compiled[i]
			}
			st, err := finalize(s)
			if err != nil {
				return err
			}
			st.Attempts = attempt + 1
			out[i] = st
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type attemptFunc func(ctx context.Context, attempt int, tx *svm.UnsignedTransaction) error

func (o *Orchestrator) run(ctx context.Context, tx *svm.UnsignedTransaction, fn attemptFunc) error {
	if tx == nil {
		return serrors.NewValidationError("transaction is nil")
	}
	return o.runBatch(ctx, []*svm.UnsignedTransaction{tx}, func(ctx context.Context, attempt int, txs []*svm.UnsignedTransaction) error {
		return fn(ctx, attempt, txs[0])
	})
}

func (o *Orchestrator) runBatch(ctx context.Context, txs []*svm.UnsignedTransaction, fn func(context.Context, int, []*svm.UnsignedTransaction) error) error {
	current := txs
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt, current)
		if err == nil {
			o.emit(attempt, StateSigned, nil)
			return nil
		}

		switch {
		case ctx.Err() != nil:
			o.emit(attempt, StateFailed, err)
			return ctx.Err()
		case serrors.IsCode(err, serrors.ErrCodeUserRejection):
			o.emit(attempt, StateRejected, err)
			o.logger.Info().Int("attempt", attempt+1).Msg("signature request rejected by user")
			return err
		case !serrors.IsRetryable(err):
			o.emit(attempt, StateFailed, err)
			return err
		}

		o.emit(attempt, StateTransientFailure, err)
		if attempt >= o.config.MaxRetries {
			return serrors.NewTransientError("signing failed after retries", err).
				WithContext("attempts", attempt+1)
		}

		delay := serrors.ExponentialBackoff(attempt+1, o.config.BaseDelay, o.config.MaxDelay)
		o.logger.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", o.config.MaxRetries+1).
			Dur("retry_in", delay).
			Msg("signing attempt failed, retrying")
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}

		rebuilt := make([]*svm.UnsignedTransaction, len(current))
		for i, tx := range current {
			rebuilt[i] = tx.Rebuild()
		}
		current = rebuilt
	}
}

func (o *Orchestrator) prepareAndCompile(ctx context.Context, attempt int, tx *svm.UnsignedTransaction, payer solana.PublicKey) (*solana.Transaction, error) {
	o.emit(attempt, StatePreparing, nil)
	if _, err := o.preparer.Prepare(ctx, tx, o.ledger, payer); err != nil {
		return nil, err
	}

	o.emit(attempt, StateValidating, nil)
	result := o.validator.Validate(tx, payer)
	if err := result.Err(); err != nil {
		return nil, err
	}
	return tx.Compile()
}

// finalize confirms the wallet produced a serializable, signed transaction within the size ceiling.
func finalize(tx *solana.Transaction) (*SignedTransaction, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeValidation, "signed transaction is not serializable", err)
	}
	if err := svm.CheckSerializedSize(raw); err != nil {
		return nil, err
	}
	if len(tx.Signatures) == 0 || tx.Signatures[0] == (solana.Signature{}) {
		return nil, serrors.NewValidationError("wallet returned an unsigned transaction")
	}
	return &SignedTransaction{Tx: tx, Raw: raw, Signature: tx.Signatures[0]}, nil
}

func (o *Orchestrator) emit(attempt int, state State, err error) {
	switch state {
	case StateSigned, StateRejected, StateTransientFailure, StateFailed:
		metrics.RecordSigningAttempt(string(state))
	}
	o.logger.Debug().Int("attempt", attempt+1).Str("state", string(state)).Msg("signing state")
	if o.observer != nil {
		o.observer(Transition{Attempt: attempt, State: state, Err: err})
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
