/**
 * @description
 * This file contains the platform fee calculator. Fees are a pure function of
 * the settlement amount and the user's subscription tier, looked up from a
 * static tier table. All arithmetic is on int64 cents with a single
 * round-half-up applied to each final figure, never to intermediate values,
 * so repeated calls with the same inputs always produce identical output.
 *
 * @dependencies
 * - errors, math: Standard Go libraries.
 * - internal/domain: Fee and split models.
 */

package app

import (
	"errors"
	"math"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
)

// ErrInvalidAmount is returned for non-positive settlement amounts. It is
// rejected before any vendor call is made.
var ErrInvalidAmount = errors.New("amount must be greater than zero")

// Platform fee rates per subscription tier, in basis points.
const (
	FreeTierFeeBps    = 290 // 2.9%
	ProTierFeeBps     = 290 // 2.9%
	PremiumTierFeeBps = 190 // 1.9%
)

// feeBpsForTier returns the fee rate for a tier. Unknown tiers deliberately
// fall back to the free (highest) rate rather than erroring, so a bad tier
// value can never undercharge.
func feeBpsForTier(tier string) int64 {
	switch tier {
	case "premium":
		return PremiumTierFeeBps
	case "pro":
		return ProTierFeeBps
	default:
		return FreeTierFeeBps
	}
}

// CalculateFees computes the platform fee for a settlement amount and tier.
// The caller always settles against Total = Base + FeeAmount.
func CalculateFees(amount int64, tier string) (domain.FeeBreakdown, error) {
	if amount <= 0 {
		return domain.FeeBreakdown{}, ErrInvalidAmount
	}

	bps := feeBpsForTier(tier)
	fee := roundHalfUpDiv(amount*bps, 10000)

	return domain.FeeBreakdown{
		Base:       amount,
		FeePercent: float64(bps) / 100,
		FeeAmount:  fee,
		Total:      amount + fee,
	}, nil
}

// CalculateSplitAmounts apportions both the base amount and the fee across a
// percentage split, returning one requirement per allocation. Per-source
// figures are each rounded half-up once, so the sum over all sources can
// drift from the aggregate total by at most one cent per source.
func CalculateSplitAmounts(amount int64, tier string, splits []domain.SplitAllocation) ([]domain.SourceRequirement, error) {
	fees, err := CalculateFees(amount, tier)
	if err != nil {
		return nil, err
	}

	reqs := make([]domain.SourceRequirement, 0, len(splits))
	for _, split := range splits {
		base := roundHalfUpFloat(float64(fees.Base) * split.Percentage / 100)
		fee := proportionalFee(fees, base)
		reqs = append(reqs, domain.SourceRequirement{
			FundingSourceID: split.FundingSourceID,
			Percentage:      split.Percentage,
			BaseAmount:      base,
			FeeAmount:       fee,
			RequiredAmount:  base + fee,
		})
	}
	return reqs, nil
}

// proportionalFee computes a source's fee share in proportion to its base
// share, rounded half-up once.
func proportionalFee(fees domain.FeeBreakdown, baseShare int64) int64 {
	if fees.Base == 0 {
		return 0
	}
	return roundHalfUpDiv(fees.FeeAmount*baseShare, fees.Base)
}

// roundHalfUpDiv divides n by d rounding half away from zero toward positive
// infinity. Both operands are expected to be non-negative cents math.
func roundHalfUpDiv(n, d int64) int64 {
	return (n + d/2) / d
}

// roundHalfUpFloat rounds a float cent value half-up to the nearest cent.
func roundHalfUpFloat(x float64) int64 {
	return int64(math.Floor(x + 0.5))
}
