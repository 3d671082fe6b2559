package signer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// countingLedger hands out a new blockhash on every call.
type countingLedger struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (l *countingLedger) LatestBlockhash(context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return solana.Hash{}, l.err
	}
	var h solana.Hash
	h[0] = byte(l.calls)
	return h, nil
}

// scriptedWallet fails with errs in order, then signs.
type scriptedWallet struct {
	key      solana.PrivateKey
	errs     []error
	calls    int
	inPlace  bool
	unsigned bool
	seen     []*solana.Transaction
}

func newScriptedWallet(errs ...error) *scriptedWallet {
	return &scriptedWallet{key: solana.NewWallet().PrivateKey, errs: errs}
}

func (w *scriptedWallet) PublicKey() solana.PublicKey { return w.key.PublicKey() }

func (w *scriptedWallet) SignTransaction(_ context.Context, tx *solana.Transaction) (*solana.Transaction, error) {
	w.calls++
	w.seen = append(w.seen, tx)
	if w.calls <= len(w.errs) {
		return nil, w.errs[w.calls-1]
	}
	if w.unsigned {
		return tx, nil
	}
	_, err := tx.Sign(func(solana.PublicKey) *solana.PrivateKey { return &w.key })
	if err != nil {
		return nil, err
	}
	if w.inPlace {
		return nil, nil
	}
	return tx, nil
}

func (w *scriptedWallet) SignAndSendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	signed, err := w.SignTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return signed.Signatures[0], nil
}

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func newTestOrchestrator(ledger svm.BlockhashSource, sleeper *recordingSleeper, opts ...Option) *Orchestrator {
	opts = append([]Option{WithSleeper(sleeper.sleep)}, opts...)
	return NewOrchestrator(ledger, svm.NewTransactionPreparer(zerolog.Nop()), svm.NewTransactionValidator(zerolog.Nop()), zerolog.Nop(), opts...)
}

func transfer(t *testing.T, from solana.PublicKey) *svm.UnsignedTransaction {
	t.Helper()
	tx, err := svm.BuildDirectTransfer(from, solana.SysVarRentPubkey, 50_000)
	require.NoError(t, err)
	return tx
}

func TestSignSuccess(t *testing.T) {
	wallet := newScriptedWallet()
	ledger := &countingLedger{}
	sleeper := &recordingSleeper{}

	var states []State
	o := newTestOrchestrator(ledger, sleeper, WithObserver(func(tr Transition) { states = append(states, tr.State) }))

	signed, err := o.Sign(context.Background(), transfer(t, wallet.PublicKey()), wallet)
	require.NoError(t, err)
	assert.Equal(t, 1, signed.Attempts)
	assert.NoError(t, signed.Tx.VerifySignatures())
	assert.Equal(t, signed.Tx.Signatures[0], signed.Signature)
	assert.LessOrEqual(t, len(signed.Raw), 1232)
	assert.Empty(t, sleeper.delays)
	assert.Equal(t, []State{StatePreparing, StateValidating, StateAwaitingWalletSignature, StateSigned}, states)
}

func TestRejectionIsNeverRetried(t *testing.T) {
	rejections := []error{
		ErrUserRejected,
		errors.New("User rejected the request."),
		serrors.NewUserRejectionError(nil),
	}

	for _, budget := range []int{0, 1, 3, 10} {
		for _, rejection := range rejections {
			wallet := newScriptedWallet(rejection, rejection, rejection)
			sleeper := &recordingSleeper{}
			ledger := &countingLedger{}
			o := newTestOrchestrator(ledger, sleeper, WithConfig(Config{MaxRetries: budget, BaseDelay: time.Second}))

			_, err := o.Sign(context.Background(), transfer(t, wallet.PublicKey()), wallet)
			require.Error(t, err)
			assert.True(t, serrors.IsCode(err, serrors.ErrCodeUserRejection), "budget %d: %v", budget, err)
			assert.Equal(t, 1, wallet.calls, "budget %d", budget)
			assert.Equal(t, 1, ledger.calls)
			assert.Empty(t, sleeper.delays)
		}
	}
}

func TestTransientFailureRetriesWithBackoff(t *testing.T) {
	transient := errors.New("connection reset by peer")
	wallet := newScriptedWallet(transient, transient, transient)
	ledger := &countingLedger{}
	sleeper := &recordingSleeper{}

	var failures int
	o := newTestOrchestrator(ledger, sleeper, WithObserver(func(tr Transition) {
		if tr.State == StateTransientFailure {
			failures++
		}
	}))

	original := transfer(t, wallet.PublicKey())
	signed, err := o.Sign(context.Background(), original, wallet)
	require.NoError(t, err)
	assert.Equal(t, 4, signed.Attempts)
	assert.Equal(t, 3, failures)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, sleeper.delays)
	assert.Equal(t, o.RetryDelays(), sleeper.delays)

	// every retry carries a fresh liveness token and the original instructions
	require.Len(t, wallet.seen, 4)
	for i, tx := range wallet.seen {
		assert.Equal(t, byte(i+1), tx.Message.RecentBlockhash[0])
		assert.Equal(t, wallet.seen[0].Message.Instructions, tx.Message.Instructions)
	}
}

func TestRetriesExhausted(t *testing.T) {
	transient := errors.New("request timeout")
	wallet := newScriptedWallet(transient, transient, transient, transient, transient)
	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(&countingLedger{}, sleeper)

	_, err := o.Sign(context.Background(), transfer(t, wallet.PublicKey()), wallet)
	require.Error(t, err)
	assert.True(t, serrors.IsRetryable(err))
	assert.Equal(t, 4, wallet.calls)
	assert.Len(t, sleeper.delays, 3)
	assert.Contains(t, serrors.UserMessage(err), "try again")
}

func TestPreparerFailureIsRetried(t *testing.T) {
	wallet := newScriptedWallet()
	ledger := &countingLedger{err: errors.New("connection refused")}
	sleeper := &recordingSleeper{}
	o := newTestOrchestrator(ledger, sleeper, WithConfig(Config{MaxRetries: 2, BaseDelay: 10 * time.Millisecond}))

	_, err := o.Sign(context.Background(), transfer(t, wallet.PublicKey()), wallet)
	require.Error(t, err)
	assert.True(t, serrors.IsRetryable(err))
	assert.Equal(t, 3, ledger.calls)
	assert.Equal(t, 0, wallet.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.delays)
}

func TestInPlaceSigningReturnsOriginal(t *testing.T) {
	wallet := newScriptedWallet()
	wallet.inPlace = true

	signed, err := newTestOrchestrator(&countingLedger{}, &recordingSleeper{}).
		Sign(context.Background(), transfer(t, wallet.PublicKey()), wallet)
	require.NoError(t, err)
	require.Len(t, wallet.seen, 1)
	assert.Same(t, wallet.seen[0], signed.Tx)
	assert.NoError(t, signed.Tx.VerifySignatures())
}

func TestFatalFailuresStopImmediately(t *testing.T) {
	t.Run("wallet returns an unsigned transaction", func(t *testing.T) {
		wallet := newScriptedWallet()
		wallet.unsigned = true
		sleeper := &recordingSleeper{}

		_, err := newTestOrchestrator(&countingLedger{}, sleeper).Sign(context.Background(), transfer(t, wallet.PublicKey()), wallet)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeValidation))
		assert.Empty(t, sleeper.delays)
	})

	t.Run("oversized transaction never reaches the wallet", func(t *testing.T) {
		wallet := newScriptedWallet()
		tx := transfer(t, wallet.PublicKey())
		tx.Instructions[0].Data = make([]byte, 1300)

		_, err := newTestOrchestrator(&countingLedger{}, &recordingSleeper{}).Sign(context.Background(), tx, wallet)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeTransactionTooLarge))
		assert.Equal(t, 0, wallet.calls)
	})

	t.Run("cancelled while backing off", func(t *testing.T) {
		wallet := newScriptedWallet(errors.New("connection reset"))
		ctx, cancel := context.WithCancel(context.Background())
		o := newTestOrchestrator(&countingLedger{}, &recordingSleeper{}, WithSleeper(func(context.Context, time.Duration) error {
			cancel()
			return context.Canceled
		}))

		_, err := o.Sign(ctx, transfer(t, wallet.PublicKey()), wallet)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, wallet.calls)
	})
}

func TestSignAndSend(t *testing.T) {
	wallet := newScriptedWallet()
	sig, err := newTestOrchestrator(&countingLedger{}, &recordingSleeper{}).
		SignAndSend(context.Background(), transfer(t, wallet.PublicKey()), wallet)
	require.NoError(t, err)
	assert.NotEqual(t, solana.Signature{}, sig)

	// an unknown broadcast state is not retried
	wallet = newScriptedWallet(errors.New("connection reset"))
	sleeper := &recordingSleeper{}
	_, err = newTestOrchestrator(&countingLedger{}, sleeper).
		SignAndSend(context.Background(), transfer(t, wallet.PublicKey()), wallet)
	require.Error(t, err)
	assert.False(t, serrors.IsRetryable(err))
	assert.Empty(t, sleeper.delays)
}

// plainWallet hides the batch capability of a KeypairWallet.
type plainWallet struct{ Wallet }

func TestSignAll(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	var prompts []string
	batch, err := NewKeypairWallet(key, WithApproval(func(_ context.Context, summary string) (bool, error) {
		prompts = append(prompts, summary)
		return true, nil
	}))
	require.NoError(t, err)

	o := newTestOrchestrator(&countingLedger{}, &recordingSleeper{})
	txs := []*svm.UnsignedTransaction{transfer(t, key.PublicKey()), transfer(t, key.PublicKey())}

	signed, err := o.SignAll(context.Background(), txs, batch)
	require.NoError(t, err)
	require.Len(t, signed, 2)
	assert.Equal(t, []string{"batch of 2 transactions"}, prompts)
	for _, s := range signed {
		assert.NoError(t, s.Tx.VerifySignatures())
	}

	prompts = nil
	txs = []*svm.UnsignedTransaction{transfer(t, key.PublicKey()), transfer(t, key.PublicKey())}
	signed, err = o.SignAll(context.Background(), txs, plainWallet{batch})
	require.NoError(t, err)
	assert.Len(t, signed, 2)
	assert.Len(t, prompts, 2)
}

func TestSignAllRejectionAbortsBatch(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	wallet, err := NewKeypairWallet(key, WithApproval(func(context.Context, string) (bool, error) { return false, nil }))
	require.NoError(t, err)

	sleeper := &recordingSleeper{}
	_, err = newTestOrchestrator(&countingLedger{}, sleeper).SignAll(context.Background(),
		[]*svm.UnsignedTransaction{transfer(t, key.PublicKey()), transfer(t, key.PublicKey())}, wallet)
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeUserRejection))
	assert.Empty(t, sleeper.delays)
}

func TestIsUserRejection(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{ErrUserRejected, true},
		{errors.New("WalletSignTransactionError: User rejected the request."), true},
		{errors.New("code 4001: denied"), true},
		{errors.New(`{"code":4001,"message":"denied"}`), true},
		{fmt.Errorf("sign: %w", providerError{code: 4001}), true},
		{serrors.NewUserRejectionError(nil), true},
		{errors.New("connection reset"), false},
		{serrors.NewTransientError("timeout", nil), false},
		{errors.New("dial tcp 10.0.0.7:14001: connect: connection refused"), false},
		{errors.New("slot 240015 not available, code 40011"), false},
		{providerError{code: -32603}, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsUserRejection(tt.err), "%v", tt.err)
	}
}

type providerError struct{ code int }

func (e providerError) Error() string { return fmt.Sprintf("provider error %d", e.code) }
func (e providerError) Code() int     { return e.code }

func TestClassifyWalletErrorKeepsTransportFailuresRetryable(t *testing.T) {
	err := classifyWalletError(errors.New("dial tcp 10.0.0.7:14001: connect: connection refused"))
	assert.Equal(t, serrors.ErrCodeTransientNetwork, err.Code)
	assert.True(t, err.IsRetryable())
}
