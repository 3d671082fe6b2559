package settlement

import (
	"context"
	"encoding/json"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	"github.com/crowdfund/settlement-node/settlementClient/constant"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/fees"
	"github.com/crowdfund/settlement-node/settlementClient/metrics"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
	"github.com/crowdfund/settlement-node/settlementClient/signer"
	"github.com/crowdfund/settlement-node/settlementClient/store"
)

// DealIntent is an investor's offer of a private deal to a campaign creator.
type DealIntent struct {
	ProjectID      string
	Creator        solana.PublicKey
	Amount         decimal.Decimal
	Milestones     uint32
	OnChainEnabled bool
	// Wallet belongs to the investor.
	Wallet signer.Wallet
}

// DealRef identifies an existing deal. Address is zero for deals that live only in the backend.
type DealRef struct {
	ID       string
	Address  solana.PublicKey
	Investor solana.PublicKey
	Creator  solana.PublicKey
}

func (d DealRef) onChain() bool { return !d.Address.IsZero() }

// DealResult is the outcome of a deal operation.
type DealResult struct {
	DealID        string
	Address       solana.PublicKey
	Status        string
	Signature     solana.Signature
	Path          string
	Confirmed     bool
	FallbackCause error
}

// CreateDeal escrows the investment on-chain when possible and otherwise registers the
// deal with the backend and transfers the funds to the deal wallet.
//
// When funds moved but the backend could not be told, the result is returned together
// with the error so the caller can surface the signature.
func (r *Router) CreateDeal(ctx context.Context, intent DealIntent) (*DealResult, error) {
	if intent.Wallet == nil {
		return nil, serrors.NewValidationError("deal has no wallet")
	}
	if intent.ProjectID == "" {
		return nil, serrors.NewValidationError("deal has no project id")
	}
	if intent.Milestones == 0 {
		return nil, serrors.NewValidationError("deal needs at least one milestone")
	}
	release, ok := r.guards.acquire("deal/" + intent.ProjectID + "/" + intent.Wallet.PublicKey().String())
	if !ok {
		return nil, serrors.NewValidationError("a deal is already being submitted")
	}
	defer release()

	lamports, err := fees.ToLamports(intent.Amount)
	if err != nil {
		return nil, err
	}
	if lamports == 0 {
		return nil, serrors.NewValidationError("deal amount must be positive")
	}

	var cause error = ErrNoOnChainAccount
	if intent.OnChainEnabled && !intent.Creator.IsZero() {
		res, err := r.createDealOnChain(ctx, intent, lamports)
		if err == nil || res != nil {
			return res, err
		}
		if !canFallBack(ctx, err) {
			return nil, err
		}
		cause = err
		metrics.RecordFallback()
		r.logger.Warn().Err(err).Str("project_id", intent.ProjectID).Msg("on-chain deal failed, falling back to direct transfer")
	}
	return r.createDealDirect(ctx, intent, lamports, cause)
}

func (r *Router) createDealOnChain(ctx context.Context, intent DealIntent, lamports uint64) (*DealResult, error) {
	if _, err := r.requireProgram(ctx, registry.KindDealEscrow); err != nil {
		return nil, err
	}
	built, err := r.builder.CreateDeal(ctx, svm.CreateDealParams{
		Investor:       intent.Wallet.PublicKey(),
		Creator:        intent.Creator,
		ProjectID:      intent.ProjectID,
		Lamports:       lamports,
		MilestoneCount: intent.Milestones,
	})
	if err != nil {
		return nil, err
	}
	sub, err := r.submit(ctx, built.Tx, intent.Wallet)
	if err != nil {
		return nil, err
	}
	metrics.RecordSettlement(constant.PaymentPathOnChain, sub.confirmed)

	res := &DealResult{
		Address:   built.Addresses[svm.AccountDeal],
		Status:    backend.DealStatusPending,
		Signature: sub.signature,
		Path:      constant.PaymentPathOnChain,
		Confirmed: sub.confirmed,
	}
	res.DealID, err = r.backend.CreateDeal(context.WithoutCancel(ctx), &backend.CreateDealRequest{
		ProjectID:       intent.ProjectID,
		InvestorAddress: intent.Wallet.PublicKey().String(),
		Amount:          jsonAmount(intent.Amount.String()),
		Milestones:      intent.Milestones,
		DealAddress:     res.Address.String(),
		Signature:       sub.signature.String(),
		PaymentPath:     constant.PaymentPathOnChain,
	})
	if err != nil {
		return res, serrors.Wrapf(err, "deal escrowed in %s but not registered", sub.signature)
	}
	r.recordDeal(res)
	return res, nil
}

func (r *Router) createDealDirect(ctx context.Context, intent DealIntent, lamports uint64, cause error) (*DealResult, error) {
	dealID, err := r.backend.CreateDeal(ctx, &backend.CreateDealRequest{
		ProjectID:       intent.ProjectID,
		InvestorAddress: intent.Wallet.PublicKey().String(),
		Amount:          jsonAmount(intent.Amount.String()),
		Milestones:      intent.Milestones,
		PaymentPath:     constant.PaymentPathDirectTransfer,
	})
	if err != nil {
		return nil, err
	}
	recipient, err := r.walletAddress(ctx, r.backend.DealWalletAddress, dealID)
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
	metrics.RecordSettlement(constant.PaymentPathDirectTransfer, sub.confirmed)

	res := &DealResult{
		DealID:        dealID,
		Status:        backend.DealStatusPending,
		Signature:     sub.signature,
		Path:          constant.PaymentPathDirectTransfer,
		Confirmed:     sub.confirmed,
		FallbackCause: cause,
	}
	err = r.backend.UpdateDeal(context.WithoutCancel(ctx), dealID, &backend.UpdateDealRequest{
		Status:        backend.DealStatusPending,
		WalletAddress: intent.Wallet.PublicKey().String(),
		Signature:     sub.signature.String(),
	})
	if err != nil {
		return res, serrors.Wrapf(err, "deal %s funded in %s but not updated", dealID, sub.signature)
	}
	r.recordDeal(res)
	return res, nil
}

// AcceptDeal is signed by the creator.
func (r *Router) AcceptDeal(ctx context.Context, deal DealRef, wallet signer.Wallet) (*DealResult, error) {
	return r.dealAction(ctx, deal, wallet, backend.DealStatusAccepted, func(ctx context.Context) (*svm.BuildResult, error) {
		return r.builder.AcceptDeal(ctx, deal.params())
	})
}

// RejectDeal is signed by the creator; the escrow refunds the investor.
func (r *Router) RejectDeal(ctx context.Context, deal DealRef, wallet signer.Wallet) (*DealResult, error) {
	return r.dealAction(ctx, deal, wallet, backend.DealStatusRejected, func(ctx context.Context) (*svm.BuildResult, error) {
		return r.builder.RejectDeal(ctx, deal.params())
	})
}

// CancelDeal is signed by the investor.
func (r *Router) CancelDeal(ctx context.Context, deal DealRef, wallet signer.Wallet) (*DealResult, error) {
	return r.dealAction(ctx, deal, wallet, backend.DealStatusCancelled, func(ctx context.Context) (*svm.BuildResult, error) {
		return r.builder.CancelDeal(ctx, deal.params())
	})
}

func (r *Router) CompleteDeal(ctx context.Context, deal DealRef, wallet signer.Wallet) (*DealResult, error) {
	return r.dealAction(ctx, deal, wallet, backend.DealStatusCompleted, func(ctx context.Context) (*svm.BuildResult, error) {
		return r.builder.CompleteDeal(ctx, deal.params())
	})
}

// ReleaseMilestone pays out one milestone to the creator. It is signed by the investor.
func (r *Router) ReleaseMilestone(ctx context.Context, deal DealRef, index uint32, amount decimal.Decimal, wallet signer.Wallet) (*DealResult, error) {
	lamports, err := fees.ToLamports(amount)
	if err != nil {
		return nil, err
	}
	return r.dealAction(ctx, deal, wallet, backend.DealStatusReleased, func(ctx context.Context) (*svm.BuildResult, error) {
		return r.builder.ReleaseMilestone(ctx, svm.ReleaseMilestoneParams{
			DealActionParams: deal.params(),
			Index:            index,
			Lamports:         lamports,
		})
	})
}

func (d DealRef) params() svm.DealActionParams {
	return svm.DealActionParams{Deal: d.Address, Investor: d.Investor, Creator: d.Creator}
}

// dealAction moves a deal to status. Escrowed deals require the program: funds held by
// it cannot be moved by a direct transfer, so there is no fallback.
func (r *Router) dealAction(
	ctx context.Context,
	deal DealRef,
	wallet signer.Wallet,
	status string,
	build func(context.Context) (*svm.BuildResult, error),
) (*DealResult, error) {
	if wallet == nil {
		return nil, serrors.NewValidationError("deal action has no wallet")
	}
	if deal.ID == "" {
		return nil, serrors.NewValidationError("deal has no id")
	}
	release, ok := r.guards.acquire("deal/" + deal.ID)
	if !ok {
		return nil, serrors.NewValidationError("an action on this deal is already being submitted")
	}
	defer release()

	res := &DealResult{DealID: deal.ID, Address: deal.Address, Status: status}
	if deal.onChain() {
		if _, err := r.requireProgram(ctx, registry.KindDealEscrow); err != nil {
			return nil, err
		}
		built, err := build(ctx)
		if err != nil {
			return nil, err
		}
		sub, err := r.submit(ctx, built.Tx, wallet)
		if err != nil {
			return nil, err
		}
		res.Signature = sub.signature
		res.Confirmed = sub.confirmed
		res.Path = constant.PaymentPathOnChain
	}

	req := &backend.UpdateDealRequest{Status: status, WalletAddress: wallet.PublicKey().String()}
	if hasSignature(res.Signature) {
		req.Signature = res.Signature.String()
	}
	if err := r.backend.UpdateDeal(context.WithoutCancel(ctx), deal.ID, req); err != nil {
		if !hasSignature(res.Signature) {
			return nil, err
		}
		return res, serrors.Wrapf(err, "deal %s moved to %s in %s but not updated", deal.ID, status, res.Signature)
	}
	r.recordDeal(res)
	return res, nil
}

func (r *Router) recordDeal(res *DealResult) {
	rec := &store.DealRecord{
		DealID:      res.DealID,
		Status:      res.Status,
		PaymentPath: res.Path,
	}
	if !res.Address.IsZero() {
		rec.WalletAddress = res.Address.String()
	}
	if hasSignature(res.Signature) {
		rec.Signature = res.Signature.String()
	}
	if err := r.store.AppendDealStatus(rec); err != nil {
		r.logger.Error().Err(err).Str("deal_id", res.DealID).Msg("failed to record deal status")
	}
}

func jsonAmount(s string) json.Number { return json.Number(s) }

func hasSignature(sig solana.Signature) bool { return sig != (solana.Signature{}) }
