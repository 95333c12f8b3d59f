package asr

import "github.com/KushagraSharma924/censorly/internal/quota"

// QualityForTier maps a billing tier to the model size its jobs run with.
// Unknown tiers get the free tier's model.
func QualityForTier(tier quota.Tier) Quality {
	switch tier {
	case quota.TierBasic:
		return QualityMedium
	case quota.TierPro, quota.TierEnterprise:
		return QualityLarge
	default:
		return QualityBase
	}
}
