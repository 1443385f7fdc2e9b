package tariff

import (
	"strings"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

// QualityTier selects the generation quality a job runs at and determines
// its credit cost.
type QualityTier string

const (
	TierFast     QualityTier = "fast"
	TierStandard QualityTier = "standard"
	TierHigh     QualityTier = "high"
	TierUltra    QualityTier = "ultra"
)

// CreditCost returns how many credits a single generation at the given tier
// debits from the user's ledger.
func CreditCost(tier QualityTier) int {
	switch tier {
	case TierUltra:
		return 4
	case TierHigh:
		return 2
	case TierFast, TierStandard:
		return 1
	default:
		return 1
	}
}

// NormalizeTier maps free-form client input to a known tier, defaulting to
// standard.
func NormalizeTier(raw string) QualityTier {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TierFast):
		return TierFast
	case string(TierHigh):
		return TierHigh
	case string(TierUltra):
		return TierUltra
	default:
		return TierStandard
	}
}

// ClampPriorityClass keeps persisted package classes inside the known range.
func ClampPriorityClass(class int) int {
	if class < models.PriorityClassStandard {
		return models.PriorityClassStandard
	}
	if class > models.PriorityClassPro {
		return models.PriorityClassPro
	}
	return class
}

// ClassName returns a human-readable label for a priority class.
func ClassName(class int) string {
	switch ClampPriorityClass(class) {
	case models.PriorityClassPro:
		return "pro"
	case models.PriorityClassPlus:
		return "plus"
	default:
		return "standard"
	}
}
