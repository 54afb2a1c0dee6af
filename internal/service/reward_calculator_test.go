package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ecosense/enviro-api/internal/models"
)

func TestRewardCalculatorBaseOnly(t *testing.T) {
	calc := NewRewardCalculator(0.3, &fixedRand{values: []float64{0.9}})
	assert.Equal(t, 10, calc.Calculate(models.CategoryAir, 0.75))
}

func TestRewardCalculatorConfidenceBonus(t *testing.T) {
	calc := NewRewardCalculator(0.3, &fixedRand{values: []float64{0.9}})
	assert.Equal(t, 15, calc.Calculate(models.CategoryAir, 0.8))
	assert.Equal(t, 15, calc.Calculate(models.CategoryGarbage, 0.95))
}

func TestRewardCalculatorPriorityCategoryBonus(t *testing.T) {
	calc := NewRewardCalculator(0.3, &fixedRand{values: []float64{0.9}})
	assert.Equal(t, 15, calc.Calculate(models.CategoryWater, 0.75))
	assert.Equal(t, 15, calc.Calculate(models.CategoryConstruction, 0.75))
}

func TestRewardCalculatorUnderreportedAreaBonus(t *testing.T) {
	calc := NewRewardCalculator(0.3, &fixedRand{values: []float64{0.1}})
	assert.Equal(t, 15, calc.Calculate(models.CategoryAir, 0.75))
}

func TestRewardCalculatorAllBonusesStack(t *testing.T) {
	calc := NewRewardCalculator(0.3, &fixedRand{values: []float64{0.1}})
	assert.Equal(t, 25, calc.Calculate(models.CategoryWater, 0.9))
}

func TestRewardCalculatorNeverBelowBase(t *testing.T) {
	calc := NewRewardCalculator(0.3, &fixedRand{values: []float64{0.99}})
	for _, category := range []models.Category{models.CategoryAir, models.CategoryGarbage, models.CategoryWater, models.CategoryConstruction} {
		assert.GreaterOrEqual(t, calc.Calculate(category, 0.0), 10)
	}
}
