package service

import (
	"github.com/ecosense/enviro-api/internal/models"
	"github.com/ecosense/enviro-api/pkg/random"
)

const (
	baseReward              = 10
	confidenceBonus         = 5
	priorityCategoryBonus   = 5
	underreportedAreaBonus  = 5
	confidenceBonusMinScore = 0.8
)

// RewardCalculator computes the coin reward for verified reports. The
// "underreported area" bonus is probabilistic and driven by an injected
// randomness source.
type RewardCalculator struct {
	bonusProbability float64
	rand             random.Source
}

// NewRewardCalculator constructs a calculator.
func NewRewardCalculator(bonusProbability float64, rand random.Source) *RewardCalculator {
	if bonusProbability < 0 || bonusProbability > 1 {
		bonusProbability = 0.3
	}
	if rand == nil {
		rand = random.TimeSeeded()
	}
	return &RewardCalculator{bonusProbability: bonusProbability, rand: rand}
}

// Calculate returns the reward for a verified report: 10 base, +5 for
// confidence >= 0.8, +5 for high-priority categories, +5 with the
// configured probability. Callers must only invoke this for verified
// verdicts; every other terminal state earns zero.
func (r *RewardCalculator) Calculate(category models.Category, confidence float64) int {
	total := baseReward
	if confidence >= confidenceBonusMinScore {
		total += confidenceBonus
	}
	if category == models.CategoryWater || category == models.CategoryConstruction {
		total += priorityCategoryBonus
	}
	if r.rand.Float64() < r.bonusProbability {
		total += underreportedAreaBonus
	}
	return total
}
