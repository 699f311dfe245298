package fuse

import (
	"github.com/smallbiznis/sentinel/internal/config"
	"github.com/smallbiznis/sentinel/internal/rules"
)

// Severity is the tier a fused score falls into.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const maxScore = 100

// ModelSignal is the anomaly detector's pre-fetched output for one
// transaction. Both values are bounded to [0,1] upstream.
type ModelSignal struct {
	RiskScore  float64
	Confidence float64
}

// Fusion is the deterministic result of combining fired rules with an
// optional model signal.
type Fusion struct {
	RuleScore  float64
	FinalScore float64
	Severity   Severity

	// MLBlended reports that the model signal met the confidence floor and
	// contributed to FinalScore. MLIgnoredLowConfidence reports that a signal
	// was present but fell below the floor and was excluded from the blend.
	MLBlended              bool
	MLIgnoredLowConfidence bool

	// NoFlag marks a transaction with no fired rules whose score stayed
	// inside the lowest severity band. Such transactions still emit an event.
	NoFlag bool
}

// Fuse combines fired-rule weights with the optional model signal. The rule
// component is the weight sum saturating at 100; a confident signal adds
// Alpha*RiskScore*100 and the total clamps to [0,100]. Identical inputs
// always fuse to identical output.
func Fuse(cfg config.EngineConfig, fired []rules.FiredRule, ml *ModelSignal) Fusion {
	var ruleScore float64
	for _, rule := range fired {
		ruleScore += rule.Weight
	}
	ruleScore = clamp(ruleScore)

	out := Fusion{
		RuleScore:  ruleScore,
		FinalScore: ruleScore,
	}

	if ml != nil {
		if ml.Confidence >= cfg.Blend.MLMinConfidence {
			out.FinalScore = clamp(ruleScore + cfg.Blend.Alpha*ml.RiskScore*maxScore)
			out.MLBlended = true
		} else {
			out.MLIgnoredLowConfidence = true
		}
	}

	out.Severity = SeverityFor(cfg, out.FinalScore)
	out.NoFlag = len(fired) == 0 && out.FinalScore < lowestBoundary(cfg)
	return out
}

// SeverityFor maps a score onto the configured band partition: the last band
// whose lower bound does not exceed the score.
func SeverityFor(cfg config.EngineConfig, score float64) Severity {
	bands := cfg.SeverityBands
	tier := bands[0].Tier
	for _, band := range bands[1:] {
		if score < band.Min {
			break
		}
		tier = band.Tier
	}
	return Severity(tier)
}

// lowestBoundary is the upper edge of the lowest band.
func lowestBoundary(cfg config.EngineConfig) float64 {
	return cfg.SeverityBands[1].Min
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > maxScore {
		return maxScore
	}
	return score
}
