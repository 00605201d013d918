package models

// AccessTier is a caller's verified trust level. Order matters: budgets are
// monotonically non-decreasing along the tier order.
type AccessTier int

const (
	TierAnonymous AccessTier = iota
	TierChallengeVerified
	TierEmailVerified
	TierOAuthVerified
	TierPaid
)

// UnlimitedBudget marks a tier with no daily credit cap.
const UnlimitedBudget = int(^uint(0) >> 1)

var tierNames = map[AccessTier]string{
	TierAnonymous:         "anonymous",
	TierChallengeVerified: "challenge_verified",
	TierEmailVerified:     "email_verified",
	TierOAuthVerified:     "oauth_verified",
	TierPaid:              "paid",
}

var tierBudgets = map[AccessTier]int{
	TierAnonymous:         20,
	TierChallengeVerified: 50,
	TierEmailVerified:     100,
	TierOAuthVerified:     200,
	TierPaid:              UnlimitedBudget,
}

func (t AccessTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return "anonymous"
}

// DailyCreditBudget returns the daily credit budget for the tier.
func (t AccessTier) DailyCreditBudget() int {
	if budget, ok := tierBudgets[t]; ok {
		return budget
	}
	return tierBudgets[TierAnonymous]
}

// ParseAccessTier maps a tier name to an AccessTier. Unknown names resolve
// to anonymous rather than erroring: an unrecognized claim must never grant
// more access than no claim at all.
func ParseAccessTier(name string) AccessTier {
	for tier, n := range tierNames {
		if n == name {
			return tier
		}
	}
	return TierAnonymous
}

// AllTiers returns every tier in ascending trust order.
func AllTiers() []AccessTier {
	return []AccessTier{
		TierAnonymous,
		TierChallengeVerified,
		TierEmailVerified,
		TierOAuthVerified,
		TierPaid,
	}
}
