// Package fees holds the platform fee arithmetic and the funding goal guard.
// All amounts are in native units (SOL) as exact decimals; lamport conversion
// happens only at the edge, right before an instruction argument is encoded.
package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/crowdfund/settlement-node/settlementClient/constant"
	serrors "github.com/crowdfund/settlement-node/settlementClient/errors"
)

const (
	// DefaultPrecision is the number of decimals fill-to-goal amounts are rounded down to.
	DefaultPrecision int32 = 4
)

var (
	// DefaultTolerance is the overshoot band accepted above a funding goal.
	DefaultTolerance = decimal.New(1, -5)

	lamportsPerSOL = decimal.NewFromInt(constant.LamportsPerSOL)
	one            = decimal.NewFromInt(1)
)

// Calculator applies one fee rate to contributions and guards funding goals.
type Calculator struct {
	feeRate   decimal.Decimal
	tolerance decimal.Decimal
	precision int32
}

// NewCalculator validates feeRate (a fraction in [0, 1)), tolerance (>= 0) and precision (0..9).
func NewCalculator(feeRate, tolerance decimal.Decimal, precision int32) (*Calculator, error) {
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(one) {
		return nil, serrors.Newf(serrors.ErrCodeConfig, "fee rate %s outside [0, 1)", feeRate)
	}
	if tolerance.IsNegative() {
		return nil, serrors.Newf(serrors.ErrCodeConfig, "negative goal tolerance %s", tolerance)
	}
	if precision < 0 || precision > 9 {
		return nil, serrors.Newf(serrors.ErrCodeConfig, "precision %d outside 0..9", precision)
	}
	return &Calculator{feeRate: feeRate, tolerance: tolerance, precision: precision}, nil
}

// NewDefaultCalculator uses DefaultTolerance and DefaultPrecision.
func NewDefaultCalculator(feeRate decimal.Decimal) (*Calculator, error) {
	return NewCalculator(feeRate, DefaultTolerance, DefaultPrecision)
}

// FeeRate returns the configured fee fraction.
func (c *Calculator) FeeRate() decimal.Decimal { return c.feeRate }

// Tolerance returns the accepted overshoot band.
func (c *Calculator) Tolerance() decimal.Decimal { return c.tolerance }

// NetAmount is gross * (1 - fee).
func (c *Calculator) NetAmount(gross decimal.Decimal) decimal.Decimal {
	return gross.Mul(one.Sub(c.feeRate))
}

// FeeAmount is the platform's cut of gross.
func (c *Calculator) FeeAmount(gross decimal.Decimal) decimal.Decimal {
	return gross.Sub(c.NetAmount(gross))
}

// CheckGoal rejects a gross contribution whose net amount would push raised past goal + tolerance.
func (c *Calculator) CheckGoal(raised, goal, gross decimal.Decimal) error {
	if !gross.IsPositive() {
		return serrors.NewValidationError("contribution amount must be positive")
	}
	after := raised.Add(c.NetAmount(gross))
	if after.GreaterThan(goal.Add(c.tolerance)) {
		remaining := goal.Sub(raised)
		if !remaining.IsPositive() {
			return serrors.NewGoalExceededError("This campaign has already reached its funding goal.").
				WithContext("goal", goal.String())
		}
		return serrors.NewGoalExceededError(fmt.Sprintf(
			"This contribution would exceed the funding goal. Only %s SOL remains to be raised.",
			remaining.StringFixed(c.precision))).
			WithContext("goal", goal.String()).
			WithContext("raised", raised.String()).
			WithContext("gross", gross.String())
	}
	return nil
}

// FillToGoal returns the largest gross amount, rounded down to the configured precision,
// whose net amount lands raised within goal + tolerance.
func (c *Calculator) FillToGoal(raised, goal decimal.Decimal) (decimal.Decimal, error) {
	remaining := goal.Sub(raised)
	if !remaining.IsPositive() {
		return decimal.Zero, serrors.NewGoalExceededError("This campaign has already reached its funding goal.")
	}

	gross := remaining.DivRound(one.Sub(c.feeRate), c.precision+8).Truncate(c.precision)

	step := decimal.New(1, -c.precision)
	for gross.IsPositive() && c.CheckGoal(raised, goal, gross) != nil {
		gross = gross.Sub(step)
	}
	if !gross.IsPositive() {
		return decimal.Zero, serrors.Newf(serrors.ErrCodeValidation,
			"remaining %s is below the smallest contribution step %s", remaining, step)
	}
	return gross, nil
}

// CheckMinimum rejects contributions below the platform floor. A zero floor disables the check.
func CheckMinimum(gross, minimum decimal.Decimal) error {
	if minimum.IsPositive() && gross.LessThan(minimum) {
		return serrors.NewValidationError(fmt.Sprintf("minimum contribution is %s SOL", minimum)).
			WithContext("minimum", minimum.String())
	}
	return nil
}

// ToLamports converts native units to lamports, truncating sub-lamport dust.
func ToLamports(amount decimal.Decimal) (uint64, error) {
	if amount.IsNegative() {
		return 0, serrors.Newf(serrors.ErrCodeValidation, "negative amount %s", amount)
	}
	lamports := amount.Mul(lamportsPerSOL).Truncate(0)
	if !lamports.BigInt().IsUint64() {
		return 0, serrors.Newf(serrors.ErrCodeValidation, "amount %s overflows lamports", amount)
	}
	return lamports.BigInt().Uint64(), nil
}

// FromLamports converts lamports to native units.
func FromLamports(lamports uint64) decimal.Decimal {
	return decimal.NewFromUint64(lamports).Div(lamportsPerSOL)
}

// ParseAmount parses a user-entered decimal amount.
func ParseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, serrors.Newf(serrors.ErrCodeValidation, "%q is not a decimal amount", s)
	}
	return d, nil
}
