package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// EngineConfig is the scoring contract: thresholds, rule weights, window
// length, ML blending and severity bands. A scoring run takes one snapshot
// and never observes a reload mid-run.
type EngineConfig struct {
	Thresholds    Thresholds     `mapstructure:"thresholds"`
	RuleWeights   RuleWeights    `mapstructure:"rule_weights"`
	Window        time.Duration  `mapstructure:"window"`
	Blend         BlendConfig    `mapstructure:"blend"`
	SeverityBands []SeverityBand `mapstructure:"severity_bands"`
}

type Thresholds struct {
	LargeAmount  float64 `mapstructure:"large_amount"`
	CountryRisk  float64 `mapstructure:"country_risk"`
	RollingSum   float64 `mapstructure:"rolling_sum"`
	RollingCount int     `mapstructure:"rolling_count"`
}

type RuleWeights struct {
	LargeAmount     float64 `mapstructure:"large_amount"`
	HighRiskCountry float64 `mapstructure:"high_risk_country"`
	RollingSum      float64 `mapstructure:"rolling_sum"`
	RollingCount    float64 `mapstructure:"rolling_count"`
}

type BlendConfig struct {
	Alpha           float64 `mapstructure:"alpha"`
	MLMinConfidence float64 `mapstructure:"ml_min_confidence"`
}

// SeverityBand maps the lower bound of a score range onto a tier. A score
// belongs to the last band whose Min does not exceed it.
type SeverityBand struct {
	Tier string  `mapstructure:"tier"`
	Min  float64 `mapstructure:"min"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Thresholds: Thresholds{
			LargeAmount:  10_000,
			CountryRisk:  0.7,
			RollingSum:   50_000,
			RollingCount: 10,
		},
		RuleWeights: RuleWeights{
			LargeAmount:     30,
			HighRiskCountry: 20,
			RollingSum:      25,
			RollingCount:    25,
		},
		Window: 720 * time.Hour,
		Blend: BlendConfig{
			Alpha:           0.3,
			MLMinConfidence: 0.5,
		},
		SeverityBands: []SeverityBand{
			{Tier: "low", Min: 0},
			{Tier: "medium", Min: 25},
			{Tier: "high", Min: 50},
			{Tier: "critical", Min: 75},
		},
	}
}

// EngineConfigHolder serves the current engine config and hot-reloads it when
// the backing file changes. Invalid reloads are ignored and the last good
// snapshot keeps serving.
type EngineConfigHolder struct {
	current atomic.Value // holds EngineConfig
}

func NewEngineConfigHolder() (*EngineConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("engine")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/sentinel/config")
	v.AddConfigPath("/etc/sentinel")
	v.AddConfigPath(".")

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setEngineDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg EngineConfig
	if err := v.UnmarshalKey("engine", &cfg); err != nil {
		return nil, err
	}
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EngineConfig
		if err := v.UnmarshalKey("engine", &updated); err != nil {
			log.Printf("[engine-config] reload failed: %v", err)
			return
		}
		if err := validateEngineConfig(updated); err != nil {
			log.Printf("[engine-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[engine-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticEngineConfigHolder wraps a fixed config with no file watching.
func NewStaticEngineConfigHolder(cfg EngineConfig) *EngineConfigHolder {
	holder := &EngineConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

// Get returns the current engine config snapshot.
func (h *EngineConfigHolder) Get() EngineConfig {
	return h.current.Load().(EngineConfig)
}

func setEngineDefaults(v *viper.Viper) {
	defaults := DefaultEngineConfig()
	v.SetDefault("engine.thresholds.large_amount", defaults.Thresholds.LargeAmount)
	v.SetDefault("engine.thresholds.country_risk", defaults.Thresholds.CountryRisk)
	v.SetDefault("engine.thresholds.rolling_sum", defaults.Thresholds.RollingSum)
	v.SetDefault("engine.thresholds.rolling_count", defaults.Thresholds.RollingCount)
	v.SetDefault("engine.rule_weights.large_amount", defaults.RuleWeights.LargeAmount)
	v.SetDefault("engine.rule_weights.high_risk_country", defaults.RuleWeights.HighRiskCountry)
	v.SetDefault("engine.rule_weights.rolling_sum", defaults.RuleWeights.RollingSum)
	v.SetDefault("engine.rule_weights.rolling_count", defaults.RuleWeights.RollingCount)
	v.SetDefault("engine.window", defaults.Window.String())
	v.SetDefault("engine.blend.alpha", defaults.Blend.Alpha)
	v.SetDefault("engine.blend.ml_min_confidence", defaults.Blend.MLMinConfidence)
	v.SetDefault("engine.severity_bands", defaults.SeverityBands)
}

var severityTierOrder = []string{"low", "medium", "high", "critical"}

func validateEngineConfig(cfg EngineConfig) error {
	if cfg.Thresholds.LargeAmount <= 0 {
		return errors.New("engine.thresholds.large_amount must be positive")
	}
	if cfg.Thresholds.CountryRisk < 0 || cfg.Thresholds.CountryRisk > 1 {
		return errors.New("engine.thresholds.country_risk must be within [0,1]")
	}
	if cfg.Thresholds.RollingSum <= 0 {
		return errors.New("engine.thresholds.rolling_sum must be positive")
	}
	if cfg.Thresholds.RollingCount < 1 {
		return errors.New("engine.thresholds.rolling_count must be at least 1")
	}
	if cfg.Window <= 0 {
		return errors.New("engine.window must be positive")
	}
	if cfg.Blend.Alpha < 0 || cfg.Blend.Alpha > 1 {
		return errors.New("engine.blend.alpha must be within [0,1]")
	}
	if cfg.Blend.MLMinConfidence < 0 || cfg.Blend.MLMinConfidence > 1 {
		return errors.New("engine.blend.ml_min_confidence must be within [0,1]")
	}
	for _, w := range []float64{
		cfg.RuleWeights.LargeAmount,
		cfg.RuleWeights.HighRiskCountry,
		cfg.RuleWeights.RollingSum,
		cfg.RuleWeights.RollingCount,
	} {
		if w < 0 {
			return errors.New("engine.rule_weights must not be negative")
		}
	}
	return validateSeverityBands(cfg.SeverityBands)
}

// validateSeverityBands enforces a total partition of [0,100]: the four tiers
// in order, the first band starting at zero, bounds strictly ascending.
func validateSeverityBands(bands []SeverityBand) error {
	if len(bands) != len(severityTierOrder) {
		return fmt.Errorf("engine.severity_bands must define exactly %d bands", len(severityTierOrder))
	}
	for i, band := range bands {
		if band.Tier != severityTierOrder[i] {
			return fmt.Errorf("engine.severity_bands[%d] must be tier %q", i, severityTierOrder[i])
		}
		if i == 0 {
			if band.Min != 0 {
				return errors.New("engine.severity_bands first band must start at 0")
			}
			continue
		}
		if band.Min <= bands[i-1].Min {
			return errors.New("engine.severity_bands bounds must be strictly ascending")
		}
		if band.Min > 100 {
			return errors.New("engine.severity_bands bounds must not exceed 100")
		}
	}
	return nil
}
