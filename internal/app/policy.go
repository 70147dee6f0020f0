/**
 * @description
 * This file contains the funding policy gate: the read-only check run before a
 * user may attach a new funding source. It enforces the per-tier source quota
 * (with a KYC verification bonus), and requires the cardholder name on the new
 * source to plausibly match the account holder's legal name. The gate never
 * creates anything; a positive result only authorizes the caller to insert
 * the funding source row.
 *
 * @dependencies
 * - fmt, strings: Standard Go libraries.
 * - internal/domain: User and policy models.
 */

package app

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/B-Ventures/bpay-v2-sub000/internal/domain"
)

// UnlimitedFundingSources marks a tier with no source quota.
const UnlimitedFundingSources = -1

// TierPolicy describes the funding-source rules for one subscription tier.
type TierPolicy struct {
	MaxFundingSources int  // base quota; UnlimitedFundingSources skips the count check
	KYCBonusSources   int  // extra quota unlocked by completed KYC verification
	RequireNameMatch  bool // cardholder name must match the account holder's name
}

// tierPolicies is the static tier table. Unknown tiers resolve to free.
var tierPolicies = map[string]TierPolicy{
	"free":    {MaxFundingSources: 2, KYCBonusSources: 1, RequireNameMatch: true},
	"pro":     {MaxFundingSources: 5, KYCBonusSources: 1, RequireNameMatch: true},
	"premium": {MaxFundingSources: UnlimitedFundingSources, KYCBonusSources: 0, RequireNameMatch: false},
}

// policyForTier looks up a tier's policy, falling back to free.
func policyForTier(tier string) TierPolicy {
	if p, ok := tierPolicies[tier]; ok {
		return p
	}
	return tierPolicies["free"]
}

// EvaluateAttachPolicy decides whether a user may attach one more funding
// source, given how many active sources they already have. The deny reasons
// are user-facing guidance, so the quota message distinguishes whether the
// user has already spent their KYC bonus, could still unlock it, or has no
// bonus available at all.
func EvaluateAttachPolicy(user *domain.User, activeSourceCount int, cardholderName string) domain.PolicyResult {
	policy := policyForTier(user.Tier)

	if policy.MaxFundingSources != UnlimitedFundingSources {
		effectiveMax := policy.MaxFundingSources
		kycBonusUsed := false
		if policy.KYCBonusSources > 0 && user.KYCVerified() {
			effectiveMax += policy.KYCBonusSources
			kycBonusUsed = true
		}

		if activeSourceCount >= effectiveMax {
			switch {
			case kycBonusUsed:
				return domain.PolicyResult{Reason: fmt.Sprintf(
					"You've reached your limit of %d funding sources on the %s plan, including your identity verification bonus. Upgrade your plan to add more.",
					effectiveMax, user.Tier)}
			case policy.KYCBonusSources > 0:
				return domain.PolicyResult{Reason: fmt.Sprintf(
					"You've reached your limit of %d funding sources on the %s plan. Verify your identity to unlock %d more, or upgrade your plan.",
					effectiveMax, user.Tier, policy.KYCBonusSources)}
			default:
				return domain.PolicyResult{Reason: fmt.Sprintf(
					"You've reached your limit of %d funding sources on the %s plan. Upgrade your plan to add more.",
					effectiveMax, user.Tier)}
			}
		}
	}

	// KYC-verified users have already proven their identity, which exempts
	// them from the heuristic name comparison.
	if policy.RequireNameMatch && !user.KYCVerified() {
		if !namesMatch(user.FullName, cardholderName) {
			return domain.PolicyResult{Reason: fmt.Sprintf(
				"The cardholder name %q doesn't match the name on your account. You can only add payment methods in your own name.",
				cardholderName)}
		}
	}

	return domain.PolicyResult{Allowed: true}
}

// namesMatch reports whether two personal names plausibly refer to the same
// person: an exact normalized match, or at least two overlapping name tokens
// (one when either side is a single-word name).
func namesMatch(accountName, cardholderName string) bool {
	a := normalizeName(accountName)
	b := normalizeName(cardholderName)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	aTokens := strings.Fields(a)
	bTokens := strings.Fields(b)

	need := 2
	if len(aTokens) == 1 || len(bTokens) == 1 {
		need = 1
	}

	seen := make(map[string]bool, len(aTokens))
	for _, tok := range aTokens {
		seen[tok] = true
	}
	overlap := 0
	for _, tok := range bTokens {
		if seen[tok] {
			overlap++
			delete(seen, tok)
		}
	}
	return overlap >= need
}

// normalizeName lowercases a name, strips punctuation other than hyphens and
// apostrophes, and collapses runs of whitespace to single spaces.
func normalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '\'':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// Other punctuation (periods after initials, commas) is dropped.
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
