package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	"github.com/crowdfund/settlement-node/settlementClient/constant"
	"github.com/crowdfund/settlement-node/settlementClient/db"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/idl"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
	"github.com/crowdfund/settlement-node/settlementClient/signer"
)

var (
	campaignProgram = solana.SysVarClockPubkey
	escrowProgram   = solana.SysVarRentPubkey
	treasuryProgram = solana.TokenProgramID
)

type staticPrograms struct{ programs *registry.Programs }

func (s *staticPrograms) Get(context.Context) (*registry.Programs, error) { return s.programs, nil }

func (s *staticPrograms) KindOf(_ context.Context, id solana.PublicKey) (registry.ProgramKind, bool, error) {
	for _, kind := range registry.Kinds {
		if pid, _ := s.programs.ID(kind); pid.Equals(id) {
			return kind, true, nil
		}
	}
	return "", false, nil
}

// fakeLedger accepts every broadcast unless sendErrs says otherwise.
type fakeLedger struct {
	mu       sync.Mutex
	deployed map[solana.PublicKey]bool
	sendErrs []error
	sent     []*solana.Transaction
	hashes   int
	// onSend runs after a broadcast is recorded; a non-nil result replaces the send result.
	onSend func(ctx context.Context) error
	// pending makes confirmation wait until its context ends.
	pending    bool
	confirmErr error
}

func newFakeLedger(deployed ...solana.PublicKey) *fakeLedger {
	l := &fakeLedger{deployed: map[solana.PublicKey]bool{}}
	for _, id := range deployed {
		l.deployed[id] = true
	}
	return l
}

func (l *fakeLedger) LatestBlockhash(context.Context) (solana.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hashes++
	var h solana.Hash
	h[0], h[1] = 0xab, byte(l.hashes)
	return h, nil
}

func (l *fakeLedger) GetAccountInfo(_ context.Context, address solana.PublicKey) (*svm.AccountInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.deployed[address] {
		return nil, nil
	}
	return &svm.AccountInfo{Executable: true}, nil
}

func (l *fakeLedger) SendRawTransaction(ctx context.Context, raw []byte) (solana.Signature, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, err
	}
	l.sent = append(l.sent, tx)
	if n := len(l.sent); n <= len(l.sendErrs) && l.sendErrs[n-1] != nil {
		return solana.Signature{}, l.sendErrs[n-1]
	}
	if l.onSend != nil {
		if err := l.onSend(ctx); err != nil {
			return solana.Signature{}, err
		}
	}
	return tx.Signatures[0], nil
}

func (l *fakeLedger) ConfirmTransaction(ctx context.Context, _ solana.Signature) (bool, error) {
	if l.pending {
		<-ctx.Done()
		return false, ctx.Err()
	}
	if l.confirmErr != nil {
		return false, l.confirmErr
	}
	return true, nil
}

func (l *fakeLedger) sentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sent)
}

type fakeBackend struct {
	mu             sync.Mutex
	settings       backend.PaymentSettings
	limits         backend.FundingGoalLimits
	campaignWallet solana.PublicKey
	dealWallet     solana.PublicKey
	reportErrs     []error
	createDealErr  error
	reports        []*backend.ContributionRequest
	published      []*backend.PublishRequest
	deals          []*backend.CreateDealRequest
	updates        []*backend.UpdateDealRequest
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		settings:       backend.PaymentSettings{FeePercentage: 0.019, MinimumContribution: 0.01},
		limits:         backend.FundingGoalLimits{MaxDeadlineDays: 90},
		campaignWallet: solana.NewWallet().PublicKey(),
		dealWallet:     solana.NewWallet().PublicKey(),
	}
}

func (b *fakeBackend) FundingGoalLimits(context.Context) (*backend.FundingGoalLimits, error) {
	limits := b.limits
	return &limits, nil
}

func (b *fakeBackend) PaymentSettings(context.Context) (*backend.PaymentSettings, error) {
	settings := b.settings
	return &settings, nil
}

func (b *fakeBackend) CampaignWalletAddress(context.Context, string) (string, error) {
	return b.campaignWallet.String(), nil
}

func (b *fakeBackend) DealWalletAddress(context.Context, string) (string, error) {
	return b.dealWallet.String(), nil
}

func (b *fakeBackend) PublishProject(_ context.Context, _ string, req *backend.PublishRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, req)
	return nil
}

func (b *fakeBackend) RecordContribution(_ context.Context, _ string, req *backend.ContributionRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reports = append(b.reports, req)
	if n := len(b.reports); n <= len(b.reportErrs) {
		return b.reportErrs[n-1]
	}
	return nil
}

func (b *fakeBackend) CreateDeal(_ context.Context, req *backend.CreateDealRequest) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createDealErr != nil {
		return "", b.createDealErr
	}
	b.deals = append(b.deals, req)
	return "deal-1", nil
}

func (b *fakeBackend) UpdateDeal(_ context.Context, _ string, req *backend.UpdateDealRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, req)
	return nil
}

func (b *fakeBackend) reportCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.reports)
}

type harness struct {
	router  *Router
	ledger  *fakeLedger
	backend *fakeBackend
	db      *db.DB
}

func newHarness(t *testing.T, ledger *fakeLedger) *harness {
	t.Helper()
	programs := &staticPrograms{programs: &registry.Programs{
		Campaign:   campaignProgram,
		DealEscrow: escrowProgram,
		Treasury:   treasuryProgram,
		Cluster:    "localnet",
	}}
	logger := zerolog.Nop()
	builder := svm.NewTxBuilder(programs, idl.NewLoader(programs, logger), logger)
	orchestrator := signer.NewOrchestrator(ledger,
		svm.NewTransactionPreparer(logger),
		svm.NewTransactionValidator(logger),
		logger,
		signer.WithSleeper(func(context.Context, time.Duration) error { return nil }),
	)

	database, err := db.OpenInMemoryDB(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	fb := newFakeBackend()
	router := NewRouter(programs, builder, orchestrator, ledger, fb, database, Config{
		ConfirmTimeout:   50 * time.Millisecond,
		BroadcastRecheck: 20 * time.Millisecond,
	}, logger)
	return &harness{router: router, ledger: ledger, backend: fb, db: database}
}

func newWallet(t *testing.T, opts ...signer.KeypairOption) *signer.KeypairWallet {
	t.Helper()
	w, err := signer.NewKeypairWallet(solana.NewWallet().PrivateKey, opts...)
	require.NoError(t, err)
	return w
}

func intentFor(wallet signer.Wallet, amount string) ContributionIntent {
	return ContributionIntent{
		Campaign: Campaign{
			ProjectID:      "project-1",
			Address:        solana.NewWallet().PublicKey(),
			OnChainEnabled: true,
			Goal:           decimal.NewFromInt(10),
			Raised:         decimal.Zero,
		},
		Amount: decimal.RequireFromString(amount),
		Wallet: wallet,
	}
}

func sentTo(tx *solana.Transaction, key solana.PublicKey) bool {
	for _, k := range tx.Message.AccountKeys {
		if k.Equals(key) {
			return true
		}
	}
	return false
}

func TestContributeOnChain(t *testing.T) {
	h := newHarness(t, newFakeLedger(campaignProgram, escrowProgram, treasuryProgram))
	wallet := newWallet(t)

	res, err := h.router.Contribute(context.Background(), intentFor(wallet, "1.5"))
	require.NoError(t, err)

	assert.Equal(t, constant.PaymentPathOnChain, res.Path)
	assert.True(t, res.Confirmed)
	assert.True(t, res.Reported)
	assert.False(t, res.Duplicate)
	assert.Nil(t, res.FallbackCause)
	assert.Equal(t, uint64(1_500_000_000), res.Lamports)

	require.Equal(t, 1, h.ledger.sentCount())
	assert.True(t, sentTo(h.ledger.sent[0], campaignProgram))

	require.Len(t, h.backend.reports, 1)
	report := h.backend.reports[0]
	assert.Equal(t, "1.5", report.Amount.String())
	assert.Equal(t, constant.PaymentPathOnChain, report.PaymentPath)
	assert.Equal(t, wallet.PublicKey().String(), report.ContributorAddress)
	assert.Equal(t, res.Signature.String(), report.Signature)

	rec, err := h.db.GetSettlement(res.Signature.String())
	require.NoError(t, err)
	assert.True(t, rec.Reported)
	assert.True(t, rec.Confirmed)
}

func TestContributeWithWalletBroadcast(t *testing.T) {
	ledger := newFakeLedger(campaignProgram)
	h := newHarness(t, ledger)
	h.router.config.WalletBroadcast = true
	wallet := newWallet(t, signer.WithSender(ledger))

	res, err := h.router.Contribute(context.Background(), intentFor(wallet, "1"))
	require.NoError(t, err)
	assert.Equal(t, constant.PaymentPathOnChain, res.Path)
	assert.True(t, res.Confirmed)
	require.Equal(t, 1, ledger.sentCount())
	assert.Equal(t, ledger.sent[0].Signatures[0], res.Signature)
	assert.Equal(t, 1, h.backend.reportCount())
}

func TestContributeFallsBackToDirectTransfer(t *testing.T) {
	tests := []struct {
		name      string
		ledger    *fakeLedger
		noAccount bool
		wantCause func(t *testing.T, err error)
	}{
		{
			name:   "program not deployed",
			ledger: newFakeLedger(),
			wantCause: func(t *testing.T, err error) {
				assert.True(t, serrors.IsCode(err, serrors.ErrCodeProgramNotDeployed))
				assert.Contains(t, err.Error(), "localnet")
			},
		},
		{
			name:      "campaign never initialized",
			ledger:    newFakeLedger(campaignProgram),
			noAccount: true,
			wantCause: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, ErrNoOnChainAccount)
			},
		},
		{
			name: "program rejects the transaction",
			ledger: func() *fakeLedger {
				l := newFakeLedger(campaignProgram)
				l.sendErrs = []error{serrors.NewValidationError("custom program error: 0x1771")}
				return l
			}(),
			wantCause: func(t *testing.T, err error) {
				assert.True(t, serrors.IsCode(err, serrors.ErrCodeValidation))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.ledger)
			intent := intentFor(newWallet(t), "2")
			if tt.noAccount {
				intent.Campaign.Address = solana.PublicKey{}
			}

			res, err := h.router.Contribute(context.Background(), intent)
			require.NoError(t, err)

			assert.Equal(t, constant.PaymentPathDirectTransfer, res.Path)
			require.Error(t, res.FallbackCause)
			tt.wantCause(t, res.FallbackCause)

			last := h.ledger.sent[len(h.ledger.sent)-1]
			assert.True(t, sentTo(last, h.backend.campaignWallet))
			assert.True(t, sentTo(last, solana.SystemProgramID))

			require.Len(t, h.backend.reports, 1)
			assert.Equal(t, constant.PaymentPathDirectTransfer, h.backend.reports[0].PaymentPath)
		})
	}
}

func TestFallbackHappensOnce(t *testing.T) {
	ledger := newFakeLedger(campaignProgram)
	ledger.sendErrs = []error{
		serrors.NewValidationError("simulation failed"),
		serrors.NewValidationError("insufficient funds"),
	}
	h := newHarness(t, ledger)

	res, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Contains(t, err.Error(), "insufficient funds")

	// one on-chain attempt, one direct transfer, no loop back
	assert.Equal(t, 2, ledger.sentCount())
	assert.Zero(t, h.backend.reportCount())
}

func TestRejectionNeverFallsBack(t *testing.T) {
	h := newHarness(t, newFakeLedger(campaignProgram))
	wallet := newWallet(t, signer.WithApproval(func(context.Context, string) (bool, error) {
		return false, nil
	}))

	res, err := h.router.Contribute(context.Background(), intentFor(wallet, "1"))
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, serrors.IsCode(err, serrors.ErrCodeUserRejection))
	assert.Zero(t, h.ledger.sentCount())
	assert.Zero(t, h.backend.reportCount())
}

func TestCancelledBeforeBroadcastNeverFallsBack(t *testing.T) {
	h := newHarness(t, newFakeLedger(campaignProgram))
	ctx, cancel := context.WithCancel(context.Background())
	wallet := newWallet(t, signer.WithApproval(func(context.Context, string) (bool, error) {
		cancel()
		return false, context.Canceled
	}))

	_, err := h.router.Contribute(ctx, intentFor(wallet, "1"))
	require.Error(t, err)
	assert.Zero(t, h.ledger.sentCount())
}

func TestContributionGuards(t *testing.T) {
	tests := []struct {
		name     string
		raised   string
		amount   string
		wantCode serrors.ErrorCode
	}{
		{"overshoots goal", "9.9999", "1", serrors.ErrCodeGoalExceeded},
		{"goal already reached", "10", "0.5", serrors.ErrCodeGoalExceeded},
		{"below minimum", "0", "0.001", serrors.ErrCodeValidation},
		{"zero amount", "0", "0", serrors.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeLedger(campaignProgram))
			intent := intentFor(newWallet(t), tt.amount)
			intent.Campaign.Raised = decimal.RequireFromString(tt.raised)

			_, err := h.router.Contribute(context.Background(), intent)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, serrors.CodeOf(err))
			assert.Zero(t, h.ledger.sentCount())
		})
	}

	t.Run("fill to goal passes", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(campaignProgram))
		intent := intentFor(newWallet(t), "0.0001")
		intent.Campaign.Raised = decimal.RequireFromString("9.9999")
		h.backend.settings.MinimumContribution = 0

		res, err := h.router.Contribute(context.Background(), intent)
		require.NoError(t, err)
		assert.Equal(t, uint64(100_000), res.Lamports)
	})
}

func TestUnconfirmedBroadcastIsNotRetried(t *testing.T) {
	ledger := newFakeLedger(campaignProgram)
	ledger.pending = true
	h := newHarness(t, ledger)

	res, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
	require.NoError(t, err)
	assert.Equal(t, constant.PaymentPathOnChain, res.Path)
	assert.False(t, res.Confirmed)
	assert.Equal(t, 1, ledger.sentCount())
	assert.Equal(t, 1, h.backend.reportCount())
}

func TestBroadcastNetworkError(t *testing.T) {
	t.Run("transaction landed anyway", func(t *testing.T) {
		ledger := newFakeLedger(campaignProgram)
		ledger.sendErrs = []error{serrors.NewTransientError("connection reset", nil)}
		h := newHarness(t, ledger)

		res, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
		require.NoError(t, err)
		assert.Equal(t, constant.PaymentPathOnChain, res.Path)
		assert.True(t, res.Confirmed)
		assert.Equal(t, 1, ledger.sentCount())
	})

	t.Run("state unknown stops without fallback", func(t *testing.T) {
		ledger := newFakeLedger(campaignProgram)
		ledger.sendErrs = []error{serrors.NewTransientError("connection reset", nil)}
		ledger.pending = true
		h := newHarness(t, ledger)

		_, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
		require.Error(t, err)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeInternal))
		assert.Equal(t, 1, ledger.sentCount())
		assert.Zero(t, h.backend.reportCount())
	})
}

func TestCancelledDuringBroadcast(t *testing.T) {
	t.Run("landed transaction is settled and reported", func(t *testing.T) {
		ledger := newFakeLedger(campaignProgram)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		var sendCtxErr error
		ledger.onSend = func(sendCtx context.Context) error {
			cancel()
			sendCtxErr = sendCtx.Err()
			return context.Canceled
		}
		h := newHarness(t, ledger)

		res, err := h.router.Contribute(ctx, intentFor(newWallet(t), "1"))
		require.NoError(t, err)
		assert.NoError(t, sendCtxErr, "broadcast must not inherit the caller's cancellation")
		assert.Equal(t, constant.PaymentPathOnChain, res.Path)
		assert.True(t, res.Confirmed)
		assert.True(t, res.Reported)
		assert.Equal(t, 1, ledger.sentCount())
		assert.Equal(t, 1, h.backend.reportCount())

		rec, err := h.db.GetSettlement(res.Signature.String())
		require.NoError(t, err)
		assert.True(t, rec.Reported)
	})

	t.Run("unknown state stops without fallback", func(t *testing.T) {
		ledger := newFakeLedger(campaignProgram)
		ledger.pending = true
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		ledger.onSend = func(context.Context) error {
			cancel()
			return context.Canceled
		}
		h := newHarness(t, ledger)

		_, err := h.router.Contribute(ctx, intentFor(newWallet(t), "1"))
		require.Error(t, err)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeInternal))
		assert.Equal(t, 1, ledger.sentCount())
	})
}

func TestFailedExecutionFallsBack(t *testing.T) {
	ledger := newFakeLedger(campaignProgram)
	ledger.confirmErr = serrors.NewValidationError("transaction failed: InstructionError")
	h := newHarness(t, ledger)

	// the direct transfer fails the same way, so the whole intent fails after one fallback
	_, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
	require.Error(t, err)
	assert.Equal(t, 2, ledger.sentCount())
}

func TestDuplicateNotificationIsNoop(t *testing.T) {
	t.Run("backend already holds the contribution", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(campaignProgram))
		h.backend.reportErrs = []error{serrors.NewDuplicateSettlementError("sig")}

		res, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
		require.NoError(t, err)
		assert.True(t, res.Duplicate)
		assert.True(t, res.Reported)
		assert.NoError(t, res.ReportErr)

		rec, err := h.db.GetSettlement(res.Signature.String())
		require.NoError(t, err)
		assert.True(t, rec.Reported)
	})

	t.Run("same outcome reconciled twice", func(t *testing.T) {
		h := newHarness(t, newFakeLedger())
		intent := intentFor(newWallet(t), "1")
		outcome := &DirectTransferOutcome{Signature: solana.Signature{7, 7, 7}, Confirmed: true}

		first, err := h.router.reconcile(context.Background(), intent, 1_000_000_000, outcome)
		require.NoError(t, err)
		assert.False(t, first.Duplicate)

		second, err := h.router.reconcile(context.Background(), intent, 1_000_000_000, outcome)
		require.NoError(t, err)
		assert.True(t, second.Duplicate)
		assert.Equal(t, 1, h.backend.reportCount())
	})
}

func TestReportFailureIsQueued(t *testing.T) {
	h := newHarness(t, newFakeLedger(campaignProgram))
	h.backend.reportErrs = []error{serrors.NewTransientError("backend unavailable", nil)}

	res, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
	require.NoError(t, err)
	assert.False(t, res.Reported)
	require.Error(t, res.ReportErr)

	pending, err := h.db.UnreportedSettlements(0)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	accepted, err := h.router.RetryUnreported(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 2, h.backend.reportCount())

	pending, err = h.db.UnreportedSettlements(0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestInFlightGuardPreventsDoubleSubmission(t *testing.T) {
	h := newHarness(t, newFakeLedger(campaignProgram))

	entered := make(chan struct{})
	release := make(chan struct{})
	wallet := newWallet(t, signer.WithApproval(func(context.Context, string) (bool, error) {
		close(entered)
		<-release
		return true, nil
	}))
	intent := intentFor(wallet, "1")

	done := make(chan error, 1)
	go func() {
		_, err := h.router.Contribute(context.Background(), intent)
		done <- err
	}()
	<-entered

	_, err := h.router.Contribute(context.Background(), intent)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already being submitted")

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.ledger.sentCount())
	assert.Equal(t, 1, h.backend.reportCount())
}

func TestInFlightGuard(t *testing.T) {
	var g InFlightGuard
	require.True(t, g.TryAcquire())
	assert.True(t, g.InFlight())
	assert.False(t, g.TryAcquire())
	g.Release()
	assert.False(t, g.InFlight())
	assert.True(t, g.TryAcquire())
}

func TestGuardSetDropsReleasedKeys(t *testing.T) {
	var set guardSet

	release, ok := set.acquire("contribute/p/w")
	require.True(t, ok)
	_, ok = set.acquire("contribute/p/w")
	assert.False(t, ok)
	assert.Equal(t, 1, set.len())

	release()
	assert.Zero(t, set.len())

	release, ok = set.acquire("contribute/p/w")
	require.True(t, ok)
	release()
	assert.Zero(t, set.len())
}

func TestRouterForgetsSettledSubmitters(t *testing.T) {
	h := newHarness(t, newFakeLedger(campaignProgram))

	for i := 0; i < 3; i++ {
		_, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "1"))
		require.NoError(t, err)
	}
	assert.Zero(t, h.router.guards.len())
}

func TestCreateDeal(t *testing.T) {
	creator := solana.NewWallet().PublicKey()
	dealIntent := func(w signer.Wallet) DealIntent {
		return DealIntent{
			ProjectID:      "project-9",
			Creator:        creator,
			Amount:         decimal.RequireFromString("5"),
			Milestones:     3,
			OnChainEnabled: true,
			Wallet:         w,
		}
	}

	t.Run("escrowed on-chain", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(escrowProgram))
		investor := newWallet(t)

		res, err := h.router.CreateDeal(context.Background(), dealIntent(investor))
		require.NoError(t, err)
		assert.Equal(t, constant.PaymentPathOnChain, res.Path)
		assert.Equal(t, "deal-1", res.DealID)
		assert.False(t, res.Address.IsZero())

		require.Len(t, h.backend.deals, 1)
		assert.Equal(t, res.Address.String(), h.backend.deals[0].DealAddress)
		assert.Equal(t, uint32(3), h.backend.deals[0].Milestones)

		history, err := h.db.DealHistory("deal-1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, backend.DealStatusPending, history[0].Status)
	})

	t.Run("falls back to deal wallet", func(t *testing.T) {
		h := newHarness(t, newFakeLedger())
		investor := newWallet(t)

		res, err := h.router.CreateDeal(context.Background(), dealIntent(investor))
		require.NoError(t, err)
		assert.Equal(t, constant.PaymentPathDirectTransfer, res.Path)
		assert.True(t, serrors.IsCode(res.FallbackCause, serrors.ErrCodeProgramNotDeployed))
		assert.True(t, sentTo(h.ledger.sent[0], h.backend.dealWallet))

		require.Len(t, h.backend.updates, 1)
		assert.Equal(t, res.Signature.String(), h.backend.updates[0].Signature)
	})

	t.Run("funds moved but backend failed", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(escrowProgram))
		h.backend.createDealErr = errors.New("backend down")

		res, err := h.router.CreateDeal(context.Background(), dealIntent(newWallet(t)))
		require.Error(t, err)
		require.NotNil(t, res)
		assert.Equal(t, 1, h.ledger.sentCount())
		assert.Contains(t, err.Error(), res.Signature.String())
	})

	t.Run("no milestones", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(escrowProgram))
		intent := dealIntent(newWallet(t))
		intent.Milestones = 0
		_, err := h.router.CreateDeal(context.Background(), intent)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeValidation))
	})
}

func TestDealActions(t *testing.T) {
	investor := newWallet(t)
	creator := newWallet(t)
	onChain := DealRef{
		ID:       "deal-7",
		Address:  solana.NewWallet().PublicKey(),
		Investor: investor.PublicKey(),
		Creator:  creator.PublicKey(),
	}

	tests := []struct {
		name   string
		wallet signer.Wallet
		status string
		run    func(r *Router, deal DealRef, w signer.Wallet) (*DealResult, error)
	}{
		{"accept", creator, backend.DealStatusAccepted, func(r *Router, d DealRef, w signer.Wallet) (*DealResult, error) {
			return r.AcceptDeal(context.Background(), d, w)
		}},
		{"reject", creator, backend.DealStatusRejected, func(r *Router, d DealRef, w signer.Wallet) (*DealResult, error) {
			return r.RejectDeal(context.Background(), d, w)
		}},
		{"cancel", investor, backend.DealStatusCancelled, func(r *Router, d DealRef, w signer.Wallet) (*DealResult, error) {
			return r.CancelDeal(context.Background(), d, w)
		}},
		{"complete", investor, backend.DealStatusCompleted, func(r *Router, d DealRef, w signer.Wallet) (*DealResult, error) {
			return r.CompleteDeal(context.Background(), d, w)
		}},
		{"release milestone", investor, backend.DealStatusReleased, func(r *Router, d DealRef, w signer.Wallet) (*DealResult, error) {
			return r.ReleaseMilestone(context.Background(), d, 0, decimal.RequireFromString("1.25"), w)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name+" on-chain", func(t *testing.T) {
			h := newHarness(t, newFakeLedger(escrowProgram))
			res, err := tt.run(h.router, onChain, tt.wallet)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, constant.PaymentPathOnChain, res.Path)
			require.Equal(t, 1, h.ledger.sentCount())
			assert.True(t, sentTo(h.ledger.sent[0], escrowProgram))

			require.Len(t, h.backend.updates, 1)
			assert.Equal(t, tt.status, h.backend.updates[0].Status)
			assert.Equal(t, res.Signature.String(), h.backend.updates[0].Signature)
		})

		t.Run(tt.name+" off-chain", func(t *testing.T) {
			h := newHarness(t, newFakeLedger(escrowProgram))
			offChain := onChain
			offChain.Address = solana.PublicKey{}

			res, err := tt.run(h.router, offChain, tt.wallet)
			require.NoError(t, err)
			assert.Equal(t, tt.status, res.Status)
			assert.Zero(t, h.ledger.sentCount())
			require.Len(t, h.backend.updates, 1)
			assert.Empty(t, h.backend.updates[0].Signature)

			history, err := h.db.DealHistory("deal-7")
			require.NoError(t, err)
			require.Len(t, history, 1)
			assert.Equal(t, tt.status, history[0].Status)
		})
	}

	t.Run("escrow program missing has no fallback", func(t *testing.T) {
		h := newHarness(t, newFakeLedger())
		_, err := h.router.AcceptDeal(context.Background(), onChain, creator)
		require.Error(t, err)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeProgramNotDeployed))
		assert.Empty(t, h.backend.updates)
	})
}

func TestPublishCampaign(t *testing.T) {
	publishIntent := func(w signer.Wallet) PublishIntent {
		return PublishIntent{
			ProjectID:      "project-3",
			Goal:           decimal.NewFromInt(25),
			Deadline:       time.Now().Add(30 * 24 * time.Hour),
			OnChainEnabled: true,
			Wallet:         w,
		}
	}

	t.Run("initialized on-chain", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(campaignProgram))
		creator := newWallet(t)

		res, err := h.router.PublishCampaign(context.Background(), publishIntent(creator))
		require.NoError(t, err)
		assert.True(t, res.OnChain)

		want, err := svm.DeriveCampaign(campaignProgram, creator.PublicKey(), "project-3")
		require.NoError(t, err)
		assert.Equal(t, want.Address, res.CampaignAddress)

		require.Len(t, h.backend.published, 1)
		assert.True(t, h.backend.published[0].OnChain)
		assert.Equal(t, want.Address.String(), h.backend.published[0].CampaignAddress)
	})

	t.Run("published off-chain when program missing", func(t *testing.T) {
		h := newHarness(t, newFakeLedger())

		res, err := h.router.PublishCampaign(context.Background(), publishIntent(newWallet(t)))
		require.NoError(t, err)
		assert.False(t, res.OnChain)
		assert.True(t, serrors.IsCode(res.FallbackCause, serrors.ErrCodeProgramNotDeployed))
		require.Len(t, h.backend.published, 1)
		assert.False(t, h.backend.published[0].OnChain)
	})

	t.Run("deadline beyond limit", func(t *testing.T) {
		h := newHarness(t, newFakeLedger(campaignProgram))
		intent := publishIntent(newWallet(t))
		intent.Deadline = time.Now().Add(120 * 24 * time.Hour)

		_, err := h.router.PublishCampaign(context.Background(), intent)
		assert.True(t, serrors.IsCode(err, serrors.ErrCodeValidation))
		assert.Empty(t, h.backend.published)
		assert.Zero(t, h.ledger.sentCount())
	})
}

func TestStoreRecordsPath(t *testing.T) {
	h := newHarness(t, newFakeLedger())
	res, err := h.router.Contribute(context.Background(), intentFor(newWallet(t), "3"))
	require.NoError(t, err)

	list, err := h.db.ListSettlements("project-1", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, res.Path, list[0].PaymentPath)
	assert.Equal(t, "3", list[0].Amount)
}
