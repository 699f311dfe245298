package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultEngineConfigIsValid(t *testing.T) {
	cfg := DefaultEngineConfig()

	assert.NoError(t, validateEngineConfig(cfg))
	assert.Equal(t, 720*time.Hour, cfg.Window)
	assert.Equal(t, float64(10_000), cfg.Thresholds.LargeAmount)
	assert.Equal(t, float64(50_000), cfg.Thresholds.RollingSum)
	assert.Equal(t, 10, cfg.Thresholds.RollingCount)
	assert.Equal(t, 0.3, cfg.Blend.Alpha)
	assert.Equal(t, 0.5, cfg.Blend.MLMinConfidence)
}

func TestValidateEngineConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*EngineConfig)
		wantErr string
	}{
		{
			name:    "zero large amount threshold",
			mutate:  func(c *EngineConfig) { c.Thresholds.LargeAmount = 0 },
			wantErr: "large_amount",
		},
		{
			name:    "country risk above one",
			mutate:  func(c *EngineConfig) { c.Thresholds.CountryRisk = 1.5 },
			wantErr: "country_risk",
		},
		{
			name:    "negative window",
			mutate:  func(c *EngineConfig) { c.Window = -time.Hour },
			wantErr: "window",
		},
		{
			name:    "alpha above one",
			mutate:  func(c *EngineConfig) { c.Blend.Alpha = 1.2 },
			wantErr: "alpha",
		},
		{
			name:    "negative rule weight",
			mutate:  func(c *EngineConfig) { c.RuleWeights.RollingSum = -1 },
			wantErr: "rule_weights",
		},
		{
			name: "missing severity band",
			mutate: func(c *EngineConfig) {
				c.SeverityBands = c.SeverityBands[:3]
			},
			wantErr: "severity_bands",
		},
		{
			name: "bands out of order",
			mutate: func(c *EngineConfig) {
				c.SeverityBands[1].Min = 60
				c.SeverityBands[2].Min = 30
			},
			wantErr: "ascending",
		},
		{
			name: "first band not at zero",
			mutate: func(c *EngineConfig) {
				c.SeverityBands[0].Min = 5
			},
			wantErr: "start at 0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultEngineConfig()
			tt.mutate(&cfg)

			err := validateEngineConfig(cfg)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSeverityBandsPartitionBoundaries(t *testing.T) {
	cfg := DefaultEngineConfig()

	// Custom boundaries stay configurable as long as the partition holds.
	cfg.SeverityBands = []SeverityBand{
		{Tier: "low", Min: 0},
		{Tier: "medium", Min: 10},
		{Tier: "high", Min: 40},
		{Tier: "critical", Min: 90},
	}
	assert.NoError(t, validateEngineConfig(cfg))
}
