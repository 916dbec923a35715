package cache

import (
	"time"

	"github.com/huykn/actioncache/types"
)

// actionMultiplier scales the default TTL by how stable an action's result is.
func actionMultiplier(a types.ActionType) float64 {
	switch a {
	case types.ActionRead:
		return 2.0
	case types.ActionAnalyze, types.ActionGenerate:
		return 0.5
	case types.ActionValidate:
		return 1.5
	default:
		return 1.0
	}
}

// objectMultiplier shortens TTLs for frequently mutated objects and
// lengthens them for template-like ones.
func objectMultiplier(o types.ObjectType) float64 {
	switch o {
	case types.ObjectDocument, types.ObjectAcquisition:
		return 0.75
	case types.ObjectDocumentTemplate:
		return 2.0
	default:
		return 1.0
	}
}

// EffectiveTTL returns base scaled by the action, failure and object multipliers.
func EffectiveTTL(base time.Duration, action types.ActionType, object types.ObjectType, failed bool) time.Duration {
	m := actionMultiplier(action) * objectMultiplier(object)
	if failed {
		m *= 0.25
	}
	return time.Duration(float64(base) * m)
}

// SelectTier picks the tier a new entry is written to. Rules are checked in order.
func SelectTier(priority types.Priority, action types.ActionType, failed bool, size int) Tier {
	switch {
	case priority >= types.PriorityHigh:
		return TierL1
	case failed:
		return TierL3
	case size > LargePayloadThreshold:
		return TierL3
	case action == types.ActionRead, action == types.ActionValidate:
		return TierL1
	default:
		// analyze/generate and everything else
		return TierL2
	}
}
