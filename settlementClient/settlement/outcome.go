package settlement

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	"github.com/crowdfund/settlement-node/settlementClient/constant"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/metrics"
	"github.com/crowdfund/settlement-node/settlementClient/store"
)

// Outcome is the settled form of one intent. It is either an *OnChainOutcome or a
// *DirectTransferOutcome.
type Outcome interface {
	TxSignature() solana.Signature
	PaymentPath() string
	IsConfirmed() bool
	outcome()
}

// OnChainOutcome is a settlement executed through an escrow program.
type OnChainOutcome struct {
	Signature solana.Signature
	Confirmed bool
	// Addresses holds the derived accounts of the instruction, keyed by account name.
	Addresses map[string]solana.PublicKey
}

func (o *OnChainOutcome) TxSignature() solana.Signature { return o.Signature }
func (o *OnChainOutcome) PaymentPath() string           { return constant.PaymentPathOnChain }
func (o *OnChainOutcome) IsConfirmed() bool             { return o.Confirmed }
func (o *OnChainOutcome) outcome()                      {}

// DirectTransferOutcome is a plain transfer to a backend-held wallet.
type DirectTransferOutcome struct {
	Signature solana.Signature
	Confirmed bool
	Recipient solana.PublicKey
	Cause     error
}

func (o *DirectTransferOutcome) TxSignature() solana.Signature { return o.Signature }
func (o *DirectTransferOutcome) PaymentPath() string           { return constant.PaymentPathDirectTransfer }
func (o *DirectTransferOutcome) IsConfirmed() bool             { return o.Confirmed }
func (o *DirectTransferOutcome) outcome()                      {}

// reconcile persists outcome and reports it to the backend. The local insert keyed by
// signature makes a second reconciliation of the same transaction a no-op.
func (r *Router) reconcile(ctx context.Context, intent ContributionIntent, lamports uint64, outcome Outcome) (*Result, error) {
	res := &Result{
		Signature: outcome.TxSignature(),
		Path:      outcome.PaymentPath(),
		Confirmed: outcome.IsConfirmed(),
		Lamports:  lamports,
	}
	if direct, ok := outcome.(*DirectTransferOutcome); ok {
		res.FallbackCause = direct.Cause
	}
	metrics.RecordSettlement(res.Path, res.Confirmed)

	rec := &store.SettlementRecord{
		Signature:   res.Signature.String(),
		ProjectID:   intent.Campaign.ProjectID,
		Contributor: intent.Wallet.PublicKey().String(),
		Amount:      intent.Amount.String(),
		Lamports:    lamports,
		PaymentPath: res.Path,
		Confirmed:   res.Confirmed,
	}

	// funds have moved: nothing below may fail the contribution
	created, err := r.store.InsertSettlement(rec)
	if err != nil {
		r.logger.Error().Err(err).Str("signature", rec.Signature).Msg("failed to persist settlement")
	} else if !created {
		existing, err := r.store.GetSettlement(rec.Signature)
		if err == nil && existing.Reported {
			metrics.RecordDuplicate()
			res.Duplicate = true
			res.Reported = true
			return res, nil
		}
	}

	res.ReportErr = r.report(ctx, rec)
	if res.ReportErr == nil {
		res.Reported = true
	} else if serrors.IsCode(res.ReportErr, serrors.ErrCodeDuplicateSettlement) {
		res.Reported = true
		res.Duplicate = true
		res.ReportErr = nil
	}
	return res, nil
}

// report sends rec to the backend and records the result locally.
func (r *Router) report(ctx context.Context, rec *store.SettlementRecord) error {
	err := r.backend.RecordContribution(context.WithoutCancel(ctx), rec.ProjectID, &backend.ContributionRequest{
		Amount:             jsonAmount(rec.Amount),
		ContributorAddress: rec.Contributor,
		Signature:          rec.Signature,
		PaymentPath:        rec.PaymentPath,
	})

	stored := err
	if serrors.IsCode(err, serrors.ErrCodeDuplicateSettlement) {
		metrics.RecordDuplicate()
		r.logger.Info().Str("signature", rec.Signature).Msg("backend already holds settlement")
		stored = nil
	} else if err != nil {
		r.logger.Warn().Err(err).Str("signature", rec.Signature).Msg("failed to report settlement, queued for retry")
	}
	if markErr := r.store.MarkReported(rec.Signature, stored); markErr != nil {
		r.logger.Error().Err(markErr).Str("signature", rec.Signature).Msg("failed to record report status")
	}
	return err
}

// RetryUnreported re-sends every settlement the backend has not acknowledged and
// returns how many were accepted.
func (r *Router) RetryUnreported(ctx context.Context, limit int) (int, error) {
	pending, err := r.store.UnreportedSettlements(limit)
	if err != nil {
		return 0, err
	}
	accepted := 0
	for i := range pending {
		if ctx.Err() != nil {
			return accepted, ctx.Err()
		}
		rec := &pending[i]
		err := r.report(ctx, rec)
		if err == nil || serrors.IsCode(err, serrors.ErrCodeDuplicateSettlement) {
			accepted++
		}
	}
	if len(pending) > 0 {
		r.logger.Info().Int("pending", len(pending)).Int("accepted", accepted).Msg("retried unreported settlements")
	}
	return accepted, nil
}
