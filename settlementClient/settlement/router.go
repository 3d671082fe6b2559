// Package settlement routes contributions, deals and campaign publication onto the
// ledger network, falling back to direct transfers when the escrow programs are
// unavailable, and reconciles every outcome with the backend exactly once.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/fees"
	"github.com/crowdfund/settlement-node/settlementClient/metrics"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
	"github.com/crowdfund/settlement-node/settlementClient/signer"
	"github.com/crowdfund/settlement-node/settlementClient/store"
)

// Backend is the part of the backend REST service the router talks to.
type Backend interface {
	FundingGoalLimits(ctx context.Context) (*backend.FundingGoalLimits, error)
	PaymentSettings(ctx context.Context) (*backend.PaymentSettings, error)
	CampaignWalletAddress(ctx context.Context, projectID string) (string, error)
	DealWalletAddress(ctx context.Context, dealID string) (string, error)
	PublishProject(ctx context.Context, projectID string, req *backend.PublishRequest) error
	RecordContribution(ctx context.Context, projectID string, req *backend.ContributionRequest) error
	CreateDeal(ctx context.Context, req *backend.CreateDealRequest) (string, error)
	UpdateDeal(ctx context.Context, dealID string, req *backend.UpdateDealRequest) error
}

// TransactionSigner obtains wallet signatures, normally a *signer.Orchestrator.
type TransactionSigner interface {
	Sign(ctx context.Context, tx *svm.UnsignedTransaction, wallet signer.Wallet) (*signer.SignedTransaction, error)
	SignAndSend(ctx context.Context, tx *svm.UnsignedTransaction, wallet signer.Wallet) (solana.Signature, error)
}

// Store is the local settlement ledger, normally a *db.DB.
type Store interface {
	InsertSettlement(rec *store.SettlementRecord) (bool, error)
	GetSettlement(signature string) (*store.SettlementRecord, error)
	MarkReported(signature string, reportErr error) error
	MarkConfirmed(signature string) error
	UnreportedSettlements(limit int) ([]store.SettlementRecord, error)
	AppendDealStatus(rec *store.DealRecord) error
}

// Config tunes the router.
type Config struct {
	// ConfirmTimeout bounds the wait for confirmation after broadcast.
	ConfirmTimeout time.Duration
	// BroadcastRecheck bounds the status lookup after a broadcast failed with a network error.
	BroadcastRecheck time.Duration
	// WalletBroadcast lets the wallet sign and send instead of broadcasting through the ledger client.
	WalletBroadcast bool
	// Tolerance and Precision configure the goal guard.
	Tolerance decimal.Decimal
	Precision int32
}

// DefaultConfig waits 60s for confirmation.
func DefaultConfig() Config {
	return Config{
		ConfirmTimeout:   60 * time.Second,
		BroadcastRecheck: 5 * time.Second,
		Tolerance:        fees.DefaultTolerance,
		Precision:        fees.DefaultPrecision,
	}
}

// Router drives intents through build, sign, broadcast and reconciliation.
type Router struct {
	programs svm.ProgramSource
	builder  *svm.TxBuilder
	signer   TransactionSigner
	ledger   svm.Ledger
	backend  Backend
	store    Store
	config   Config
	guards   guardSet
	logger   zerolog.Logger
}

// NewRouter wires a router. Zero config durations fall back to DefaultConfig.
func NewRouter(
	programs svm.ProgramSource,
	builder *svm.TxBuilder,
	txSigner TransactionSigner,
	ledger svm.Ledger,
	backendClient Backend,
	ledgerStore Store,
	cfg Config,
	logger zerolog.Logger,
) *Router {
	defaults := DefaultConfig()
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaults.ConfirmTimeout
	}
	if cfg.BroadcastRecheck <= 0 {
		cfg.BroadcastRecheck = defaults.BroadcastRecheck
	}
	if cfg.Tolerance.IsZero() {
		cfg.Tolerance = defaults.Tolerance
	}
	if cfg.Precision <= 0 {
		cfg.Precision = defaults.Precision
	}
	return &Router{
		programs: programs,
		builder:  builder,
		signer:   txSigner,
		ledger:   ledger,
		backend:  backendClient,
		store:    ledgerStore,
		config:   cfg,
		logger:   logger.With().Str("component", "settlement_router").Logger(),
	}
}

// Campaign is the funding state of a campaign at the time of an intent.
type Campaign struct {
	ProjectID string
	// Address is the on-chain campaign account; zero when the campaign was never initialized on-chain.
	Address        solana.PublicKey
	OnChainEnabled bool
	Goal           decimal.Decimal
	Raised         decimal.Decimal
}

// ContributionIntent is one user's request to fund a campaign.
type ContributionIntent struct {
	Campaign Campaign
	Amount   decimal.Decimal // gross, native units
	Wallet   signer.Wallet
}

// Result is the settled outcome of a contribution.
type Result struct {
	Signature solana.Signature
	Path      string
	Confirmed bool
	Lamports  uint64
	// Reported is true once the backend holds the contribution.
	Reported bool
	// Duplicate is true when the signature had already been reported.
	Duplicate bool
	// ReportErr holds the last reporting failure; the contribution stays queued for RetryUnreported.
	ReportErr error
	// FallbackCause is why the on-chain path was not used.
	FallbackCause error
}

// ErrNoOnChainAccount is the fallback cause when the campaign was never initialized on-chain.
var ErrNoOnChainAccount = errors.New("campaign has no on-chain account")

// Contribute settles intent on-chain when possible and by direct transfer otherwise.
//
// The goal guard runs first, so the wallet is never asked to sign a doomed contribution.
// A user rejection or caller cancellation before broadcast ends the intent without fallback.
func (r *Router) Contribute(ctx context.Context, intent ContributionIntent) (*Result, error) {
	if intent.Wallet == nil {
		return nil, serrors.NewValidationError("contribution has no wallet")
	}
	if intent.Campaign.ProjectID == "" {
		return nil, serrors.NewValidationError("contribution has no project id")
	}
	release, ok := r.guards.acquire("contribute/" + intent.Campaign.ProjectID + "/" + intent.Wallet.PublicKey().String())
	if !ok {
		return nil, serrors.NewValidationError("a contribution is already being submitted")
	}
	defer release()

	lamports, err := r.checkContribution(ctx, intent)
	if err != nil {
		return nil, err
	}

	outcome, err := r.settleContribution(ctx, intent, lamports)
	if err != nil {
		return nil, err
	}
	return r.reconcile(ctx, intent, lamports, outcome)
}

func (r *Router) checkContribution(ctx context.Context, intent ContributionIntent) (uint64, error) {
	settings, err := r.backend.PaymentSettings(ctx)
	if err != nil {
		return 0, err
	}
	calc, err := fees.NewCalculator(decimal.NewFromFloat(settings.FeePercentage), r.config.Tolerance, r.config.Precision)
	if err != nil {
		return 0, err
	}
	if err := fees.CheckMinimum(intent.Amount, decimal.NewFromFloat(settings.MinimumContribution)); err != nil {
		return 0, err
	}
	if err := calc.CheckGoal(intent.Campaign.Raised, intent.Campaign.Goal, intent.Amount); err != nil {
		return 0, err
	}
	lamports, err := fees.ToLamports(intent.Amount)
	if err != nil {
		return 0, err
	}
	if lamports == 0 {
		return 0, serrors.NewValidationError("contribution is smaller than one lamport")
	}
	return lamports, nil
}

func (r *Router) settleContribution(ctx context.Context, intent ContributionIntent, lamports uint64) (Outcome, error) {
	var cause error = ErrNoOnChainAccount
	if intent.Campaign.OnChainEnabled && !intent.Campaign.Address.IsZero() {
		outcome, err := r.contributeOnChain(ctx, intent, lamports)
		if err == nil {
			return outcome, nil
		}
		if !canFallBack(ctx, err) {
			return nil, err
		}
		cause = err
		metrics.RecordFallback()
		r.logger.Warn().
			Err(err).
			Str("project_id", intent.Campaign.ProjectID).
			Msg("on-chain contribution failed, falling back to direct transfer")
	}
	return r.contributeDirect(ctx, intent, lamports, cause)
}

func (r *Router) contributeOnChain(ctx context.Context, intent ContributionIntent, lamports uint64) (Outcome, error) {
	if _, err := r.requireProgram(ctx, registry.KindCampaign); err != nil {
		return nil, err
	}
	built, err := r.builder.Contribute(ctx, svm.ContributeParams{
		Campaign:    intent.Campaign.Address,
		Contributor: intent.Wallet.PublicKey(),
		Lamports:    lamports,
	})
	if err != nil {
		return nil, err
	}
	sub, err := r.submit(ctx, built.Tx, intent.Wallet)
	if err != nil {
		return nil, err
	}
	return &OnChainOutcome{Signature: sub.signature, Confirmed: sub.confirmed, Addresses: built.Addresses}, nil
}

func (r *Router) contributeDirect(ctx context.Context, intent ContributionIntent, lamports uint64, cause error) (Outcome, error) {
	recipient, err := r.walletAddress(ctx, r.backend.CampaignWalletAddress, intent.Campaign.ProjectID)
	if err != nil {
		return nil, err
	}
	tx, err := svm.BuildDirectTransfer(intent.Wallet.PublicKey(), recipient, lamports)
	if err != nil {
		return nil, err
	}
	sub, err := r.submit(ctx, tx, intent.Wallet)
	if err != nil {
		return nil, err
	}
	return &DirectTransferOutcome{Signature: sub.signature, Confirmed: sub.confirmed, Recipient: recipient, Cause: cause}, nil
}

// requireProgram is the pre-flight existence check of a settlement program.
func (r *Router) requireProgram(ctx context.Context, kind registry.ProgramKind) (*registry.Programs, error) {
	programs, err := r.programs.Get(ctx)
	if err != nil {
		return nil, err
	}
	id, _ := programs.ID(kind)
	exists, err := svm.ProgramExists(ctx, r.ledger, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, serrors.NewProgramNotDeployedError(programs.Cluster, string(kind), id.String())
	}
	return programs, nil
}

func (r *Router) walletAddress(ctx context.Context, lookup func(context.Context, string) (string, error), id string) (solana.PublicKey, error) {
	address, err := lookup(ctx, id)
	if err != nil {
		return solana.PublicKey{}, err
	}
	key, err := solana.PublicKeyFromBase58(address)
	if err != nil || key.IsZero() {
		return solana.PublicKey{}, serrors.Newf(serrors.ErrCodeValidation, "receiving address %q for %s is malformed", address, id)
	}
	return key, nil
}

type submission struct {
	signature solana.Signature
	confirmed bool
}

// submit signs and broadcasts tx, then waits for confirmation. Once the transaction
// has been broadcast the caller's cancellation no longer applies.
func (r *Router) submit(ctx context.Context, tx *svm.UnsignedTransaction, wallet signer.Wallet) (*submission, error) {
	if r.config.WalletBroadcast {
		sig, err := r.signer.SignAndSend(ctx, tx, wallet)
		if err != nil {
			return nil, err
		}
		return r.confirm(ctx, sig)
	}

	signed, err := r.signer.Sign(ctx, tx, wallet)
	if err != nil {
		return nil, err
	}

	// a signed transaction may land as soon as it leaves: the caller can no longer cancel it
	sig, err := r.ledger.SendRawTransaction(context.WithoutCancel(ctx), signed.Raw)
	if err != nil {
		if !serrors.IsRetryable(err) && !isContextError(err) {
			return nil, err
		}
		// the node may have accepted the transaction before the connection failed
		if r.landed(ctx, signed.Signature) {
			r.logger.Info().Str("signature", signed.Signature.String()).Msg("transaction landed despite broadcast error")
			return &submission{signature: signed.Signature, confirmed: true}, nil
		}
		// it may still land, so a second payment must not be attempted
		return nil, serrors.NewInternalError("transaction broadcast state unknown", err).
			WithContext("signature", signed.Signature.String())
	}
	return r.confirm(ctx, sig)
}

func (r *Router) landed(ctx context.Context, sig solana.Signature) bool {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.BroadcastRecheck)
	defer cancel()
	ok, _ := r.ledger.ConfirmTransaction(rctx, sig)
	return ok
}

func (r *Router) confirm(ctx context.Context, sig solana.Signature) (*submission, error) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.ConfirmTimeout)
	defer cancel()

	start := time.Now()
	ok, err := r.ledger.ConfirmTransaction(cctx, sig)
	if err != nil && cctx.Err() == nil {
		// executed and failed: no funds moved
		return nil, err
	}
	if ok {
		metrics.ObserveConfirmDuration(time.Since(start))
	} else {
		r.logger.Warn().
			Str("signature", sig.String()).
			Dur("timeout", r.config.ConfirmTimeout).
			Msg("transaction not confirmed before timeout")
	}
	return &submission{signature: sig, confirmed: ok}, nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// canFallBack reports whether a failed on-chain attempt may be replaced by a direct transfer.
func canFallBack(ctx context.Context, err error) bool {
	if ctx.Err() != nil || isContextError(err) {
		return false
	}
	var se *serrors.SettlementError
	if !serrors.As(err, &se) {
		return true
	}
	switch se.Code {
	case serrors.ErrCodeUserRejection, serrors.ErrCodeGoalExceeded, serrors.ErrCodeInternal:
		return false
	}
	return true
}
