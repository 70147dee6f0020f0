/**
 * @description
 * This file contains the split validator: the read-only component that turns a
 * split configuration into concrete per-source funding requirements and checks
 * them against a balance snapshot. It never captures funds and never mutates
 * balances; the orchestrator calls it before any money moves, and it is also
 * exposed standalone so clients can pre-check a split before committing.
 *
 * @dependencies
 * - fmt, math: Standard Go libraries.
 * - github.com/google/uuid: Funding source identifiers.
 * - internal/domain: Split and validation models.
 */

package app

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
)

// splitPercentTolerance is how far the percentage sum may drift from 100
// before the configuration is rejected, in percentage points.
const splitPercentTolerance = 0.01

// splitAmountTolerance is the fixed-amount sum tolerance, in cents.
const splitAmountTolerance = 1

// ResolveSplit resolves a configuration's strategy into concrete per-source
// requirements, fees included. The smart strategy distributes the total
// equally, except for sources carrying an explicit percentage override; the
// resolution happens here exactly once so no call site re-derives shares.
// Requirement order matches allocation order, which is also capture order.
func ResolveSplit(config domain.SplitConfiguration, tier string) ([]domain.SourceRequirement, domain.FeeBreakdown, error) {
	fees, err := CalculateFees(config.TotalAmount, tier)
	if err != nil {
		return nil, domain.FeeBreakdown{}, err
	}

	switch config.Strategy {
	case domain.StrategyFixedAmount:
		reqs := make([]domain.SourceRequirement, 0, len(config.Allocations))
		for _, a := range config.Allocations {
			fee := proportionalFee(fees, a.Amount)
			reqs = append(reqs, domain.SourceRequirement{
				FundingSourceID: a.FundingSourceID,
				Percentage:      float64(a.Amount) / float64(config.TotalAmount) * 100,
				BaseAmount:      a.Amount,
				FeeAmount:       fee,
				RequiredAmount:  a.Amount + fee,
			})
		}
		return reqs, fees, nil

	case domain.StrategySmart:
		resolved := resolveSmartAllocations(config.Allocations)
		reqs, err := CalculateSplitAmounts(config.TotalAmount, tier, resolved)
		if err != nil {
			return nil, domain.FeeBreakdown{}, err
		}
		return reqs, fees, nil

	default: // percentage
		reqs, err := CalculateSplitAmounts(config.TotalAmount, tier, config.Allocations)
		if err != nil {
			return nil, domain.FeeBreakdown{}, err
		}
		return reqs, fees, nil
	}
}

// resolveSmartAllocations converts a smart allocation list into plain
// percentage allocations: sources with an explicit override keep it, and the
// remaining percentage is shared equally by everyone else.
func resolveSmartAllocations(allocations []domain.SplitAllocation) []domain.SplitAllocation {
	overridden := 0.0
	unset := 0
	for _, a := range allocations {
		if a.Percentage > 0 {
			overridden += a.Percentage
		} else {
			unset++
		}
	}

	remaining := 100 - overridden
	if remaining < 0 {
		remaining = 0
	}

	resolved := make([]domain.SplitAllocation, 0, len(allocations))
	for _, a := range allocations {
		pct := a.Percentage
		if pct <= 0 && unset > 0 {
			pct = remaining / float64(unset)
		}
		resolved = append(resolved, domain.SplitAllocation{FundingSourceID: a.FundingSourceID, Percentage: pct})
	}
	return resolved
}

// ValidateSplit checks a split configuration against a snapshot of the
// caller's funding sources. It returns every problem it finds rather than
// stopping at the first, so the client can tell the user exactly which card
// to fix and by how much.
func ValidateSplit(config domain.SplitConfiguration, tier string, sources map[uuid.UUID]*domain.FundingSource) domain.ValidationResult {
	result := domain.ValidationResult{Errors: []string{}}

	if config.TotalAmount <= 0 {
		result.Errors = append(result.Errors, "total amount must be greater than zero")
		return result
	}
	if len(config.Allocations) == 0 {
		result.Errors = append(result.Errors, "split configuration must include at least one funding source")
		return result
	}

	seen := make(map[uuid.UUID]bool, len(config.Allocations))
	for _, a := range config.Allocations {
		if seen[a.FundingSourceID] {
			result.Errors = append(result.Errors, fmt.Sprintf("funding source %s appears more than once in the split", a.FundingSourceID))
			return result
		}
		seen[a.FundingSourceID] = true
	}

	// The sum checks apply even to a single-source split; a lone allocation of
	// 99% is still a broken configuration.
	switch config.Strategy {
	case domain.StrategyFixedAmount:
		var sum int64
		for _, a := range config.Allocations {
			if a.Amount <= 0 {
				result.Errors = append(result.Errors, fmt.Sprintf("funding source %s has a non-positive fixed amount", a.FundingSourceID))
				return result
			}
			sum += a.Amount
		}
		if diff := sum - config.TotalAmount; diff > splitAmountTolerance || diff < -splitAmountTolerance {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"fixed amounts sum to %s but the total is %s", formatAmount(sum), formatAmount(config.TotalAmount)))
			return result
		}
	case domain.StrategySmart:
		overridden := 0.0
		unset := 0
		for _, a := range config.Allocations {
			if a.Percentage > 0 {
				overridden += a.Percentage
			} else {
				unset++
			}
		}
		// Overrides at or above 100% would resolve every non-overridden
		// source to a zero share; name the real problem instead.
		if unset > 0 && overridden >= 100 {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"smart split overrides sum to %.2f%%, leaving no share for the sources without an override", overridden))
			return result
		}
		resolved := resolveSmartAllocations(config.Allocations)
		if err := checkPercentageSum(resolved); err != "" {
			result.Errors = append(result.Errors, err)
			return result
		}
	default:
		if err := checkPercentageSum(config.Allocations); err != "" {
			result.Errors = append(result.Errors, err)
			return result
		}
	}

	reqs, _, err := ResolveSplit(config, tier)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}

	for i := range reqs {
		source, ok := sources[reqs[i].FundingSourceID]
		if !ok {
			result.Errors = append(result.Errors, fmt.Sprintf("funding source %s was not found", reqs[i].FundingSourceID))
			continue
		}
		if !source.IsActive {
			result.Errors = append(result.Errors, fmt.Sprintf("%s is inactive and cannot fund this payment", sourceLabel(source)))
			continue
		}
		reqs[i].SourceLabel = sourceLabel(source)
		reqs[i].AvailableBalance = source.Balance
		if source.Balance < reqs[i].RequiredAmount {
			reqs[i].Shortfall = reqs[i].RequiredAmount - source.Balance
			result.Errors = append(result.Errors, fmt.Sprintf(
				"%s requires %s (including its fee share) but only %s is available, short %s",
				sourceLabel(source), formatAmount(reqs[i].RequiredAmount), formatAmount(source.Balance), formatAmount(reqs[i].Shortfall)))
		}
	}

	result.Breakdown = reqs
	result.Valid = len(result.Errors) == 0
	return result
}

// checkPercentageSum verifies percentage allocations sum to 100 within
// tolerance, returning an error message or "".
func checkPercentageSum(allocations []domain.SplitAllocation) string {
	sum := 0.0
	for _, a := range allocations {
		if a.Percentage <= 0 {
			return fmt.Sprintf("funding source %s has a non-positive percentage", a.FundingSourceID)
		}
		sum += a.Percentage
	}
	if math.Abs(sum-100) > splitPercentTolerance {
		return fmt.Sprintf("split percentages sum to %.2f%%, they must sum to 100%%", sum)
	}
	return ""
}

// sourceLabel renders a funding source the way the UI names it,
// e.g. "Visa ••4242".
func sourceLabel(source *domain.FundingSource) string {
	if source.Brand != "" && source.Last4 != "" {
		return fmt.Sprintf("%s ••%s", source.Brand, source.Last4)
	}
	if source.Name != "" {
		return source.Name
	}
	return source.ID.String()
}

// formatAmount renders cents as a dollar string for user-facing messages.
func formatAmount(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}
