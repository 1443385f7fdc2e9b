package tariff

import (
	"testing"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

func TestCreditCost(t *testing.T) {
	tests := []struct {
		tier QualityTier
		want int
	}{
		{TierFast, 1},
		{TierStandard, 1},
		{TierHigh, 2},
		{TierUltra, 4},
		{QualityTier("bogus"), 1},
	}

	for _, tt := range tests {
		if got := CreditCost(tt.tier); got != tt.want {
			t.Fatalf("CreditCost(%q) = %d, want %d", tt.tier, got, tt.want)
		}
	}
}

func TestNormalizeTier(t *testing.T) {
	tests := []struct {
		in   string
		want QualityTier
	}{
		{"fast", TierFast},
		{" HIGH ", TierHigh},
		{"ultra", TierUltra},
		{"", TierStandard},
		{"nonsense", TierStandard},
	}

	for _, tt := range tests {
		if got := NormalizeTier(tt.in); got != tt.want {
			t.Fatalf("NormalizeTier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestClampPriorityClass(t *testing.T) {
	if got := ClampPriorityClass(-1); got != models.PriorityClassStandard {
		t.Fatalf("expected negative class to clamp to standard, got %d", got)
	}
	if got := ClampPriorityClass(99); got != models.PriorityClassPro {
		t.Fatalf("expected oversized class to clamp to pro, got %d", got)
	}
	if got := ClampPriorityClass(models.PriorityClassPlus); got != models.PriorityClassPlus {
		t.Fatalf("expected plus to stay plus, got %d", got)
	}
}
