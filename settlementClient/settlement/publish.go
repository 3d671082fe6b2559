package settlement

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	"github.com/crowdfund/settlement-node/settlementClient/chains/svm"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
	"github.com/crowdfund/settlement-node/settlementClient/fees"
	"github.com/crowdfund/settlement-node/settlementClient/registry"
	"github.com/crowdfund/settlement-node/settlementClient/signer"
)

// PublishIntent is a creator's request to publish a campaign.
type PublishIntent struct {
	ProjectID string
	// CampaignID seeds the campaign account; defaults to ProjectID.
	CampaignID     string
	Goal           decimal.Decimal
	Deadline       time.Time
	USDPerSOL      decimal.Decimal
	OnChainEnabled bool
	// Wallet belongs to the creator.
	Wallet signer.Wallet
}

// PublishResult describes a published campaign.
type PublishResult struct {
	OnChain         bool
	CampaignAddress solana.PublicKey
	Signature       solana.Signature
	Confirmed       bool
	FallbackCause   error
}

// PublishCampaign checks the draft against the platform limits, initializes the campaign
// account when possible and publishes the project. A campaign that could not be
// initialized is published off-chain and its contributions settle by direct transfer.
func (r *Router) PublishCampaign(ctx context.Context, intent PublishIntent) (*PublishResult, error) {
	if intent.Wallet == nil {
		return nil, serrors.NewValidationError("campaign has no wallet")
	}
	if intent.ProjectID == "" {
		return nil, serrors.NewValidationError("campaign has no project id")
	}
	if intent.CampaignID == "" {
		intent.CampaignID = intent.ProjectID
	}
	release, ok := r.guards.acquire("publish/" + intent.ProjectID)
	if !ok {
		return nil, serrors.NewValidationError("this campaign is already being published")
	}
	defer release()

	limits, err := r.backend.FundingGoalLimits(ctx)
	if err != nil {
		return nil, err
	}
	draft := fees.CampaignDraft{Goal: intent.Goal, Deadline: intent.Deadline}
	if err := fees.CheckCampaignLimits(draft, limits, intent.USDPerSOL, time.Now()); err != nil {
		return nil, err
	}

	res := &PublishResult{FallbackCause: ErrNoOnChainAccount}
	if intent.OnChainEnabled {
		err := r.initializeCampaign(ctx, intent, res)
		switch {
		case err == nil:
			res.OnChain = true
			res.FallbackCause = nil
		case !canFallBack(ctx, err):
			return nil, err
		default:
			res.FallbackCause = err
			r.logger.Warn().Err(err).Str("project_id", intent.ProjectID).Msg("campaign initialization failed, publishing off-chain")
		}
	}

	req := &backend.PublishRequest{OnChain: res.OnChain}
	if res.OnChain {
		req.CampaignAddress = res.CampaignAddress.String()
		req.Signature = res.Signature.String()
	}
	if err := r.backend.PublishProject(context.WithoutCancel(ctx), intent.ProjectID, req); err != nil {
		if res.OnChain {
			return res, serrors.Wrapf(err, "campaign initialized in %s but not published", res.Signature)
		}
		return nil, err
	}
	return res, nil
}

func (r *Router) initializeCampaign(ctx context.Context, intent PublishIntent, res *PublishResult) error {
	if _, err := r.requireProgram(ctx, registry.KindCampaign); err != nil {
		return err
	}
	goal, err := fees.ToLamports(intent.Goal)
	if err != nil {
		return err
	}
	built, err := r.builder.InitializeCampaign(ctx, svm.InitializeCampaignParams{
		Creator:     intent.Wallet.PublicKey(),
		CampaignID:  intent.CampaignID,
		FundingGoal: svm.U64Arg(goal),
		Deadline:    intent.Deadline.Unix(),
	})
	if err != nil {
		return err
	}
	sub, err := r.submit(ctx, built.Tx, intent.Wallet)
	if err != nil {
		return err
	}
	res.CampaignAddress = built.Addresses[svm.AccountCampaign]
	res.Signature = sub.signature
	res.Confirmed = sub.confirmed
	return nil
}
