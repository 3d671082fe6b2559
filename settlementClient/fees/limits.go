package fees

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/backend"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

// CampaignDraft is the part of a new campaign bounded by the platform limits.
type CampaignDraft struct {
	Goal     decimal.Decimal // native units
	Deadline time.Time
}

// CheckCampaignLimits validates a draft against the backend funding goal limits.
// usdPerSOL converts the goal for the USD bounds; a zero bound disables that check.
func CheckCampaignLimits(draft CampaignDraft, limits *backend.FundingGoalLimits, usdPerSOL decimal.Decimal, now time.Time) error {
	if !draft.Goal.IsPositive() {
		return serrors.NewValidationError("funding goal must be positive")
	}
	if !draft.Deadline.After(now) {
		return serrors.NewValidationError("deadline must be in the future")
	}
	if limits == nil {
		return nil
	}

	if limits.MaxDeadlineDays > 0 {
		latest := now.Add(time.Duration(limits.MaxDeadlineDays) * 24 * time.Hour)
		if draft.Deadline.After(latest) {
			return serrors.NewValidationError(fmt.Sprintf("deadline is more than %d days away", limits.MaxDeadlineDays)).
				WithContext("max_deadline_days", limits.MaxDeadlineDays)
		}
	}

	if !usdPerSOL.IsPositive() {
		if limits.MinUSD > 0 || limits.MaxUSD > 0 {
			return serrors.NewValidationError("a positive SOL/USD price is required to check goal limits")
		}
		return nil
	}

	goalUSD := draft.Goal.Mul(usdPerSOL)
	if limits.MinUSD > 0 && goalUSD.LessThan(decimal.NewFromFloat(limits.MinUSD)) {
		return serrors.NewValidationError(fmt.Sprintf("funding goal of $%s is below the $%v minimum", goalUSD.StringFixed(2), limits.MinUSD))
	}
	if limits.MaxUSD > 0 && goalUSD.GreaterThan(decimal.NewFromFloat(limits.MaxUSD)) {
		return serrors.NewValidationError(fmt.Sprintf("funding goal of $%s is above the $%v maximum", goalUSD.StringFixed(2), limits.MaxUSD))
	}
	return nil
}
