package rules

import "github.com/smallbiznis/sentinel/internal/config"

// Code identifies a deterministic rule.
type Code string

const (
	CodeLargeAmount     Code = "large_amount"
	CodeHighRiskCountry Code = "high_risk_country"
	CodeRollingSum      Code = "rolling_sum"
	CodeRollingCount    Code = "rolling_count"
)

// Input carries everything a rule pass may consult. Rolling figures include
// the transaction under evaluation.
type Input struct {
	Amount          float64
	CountryWeight   float64
	CountryUnmapped bool
	RollingSum      float64
	RollingCount    int
}

// FiredRule is one rule that matched, with the observed value and the
// threshold it crossed for explanations.
type FiredRule struct {
	Code      Code    `json:"code"`
	Weight    float64 `json:"weight"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Evaluate runs the rule set in its fixed order: large_amount,
// high_risk_country, rolling_sum, rolling_count. All thresholds are
// inclusive. Same input and config always produce the same slice.
func Evaluate(cfg config.EngineConfig, in Input) []FiredRule {
	var fired []FiredRule

	if in.Amount >= cfg.Thresholds.LargeAmount {
		fired = append(fired, FiredRule{
			Code:      CodeLargeAmount,
			Weight:    cfg.RuleWeights.LargeAmount,
			Value:     in.Amount,
			Threshold: cfg.Thresholds.LargeAmount,
		})
	}
	if in.CountryWeight >= cfg.Thresholds.CountryRisk {
		fired = append(fired, FiredRule{
			Code:      CodeHighRiskCountry,
			Weight:    cfg.RuleWeights.HighRiskCountry,
			Value:     in.CountryWeight,
			Threshold: cfg.Thresholds.CountryRisk,
		})
	}
	if in.RollingSum >= cfg.Thresholds.RollingSum {
		fired = append(fired, FiredRule{
			Code:      CodeRollingSum,
			Weight:    cfg.RuleWeights.RollingSum,
			Value:     in.RollingSum,
			Threshold: cfg.Thresholds.RollingSum,
		})
	}
	if in.RollingCount >= cfg.Thresholds.RollingCount {
		fired = append(fired, FiredRule{
			Code:      CodeRollingCount,
			Weight:    cfg.RuleWeights.RollingCount,
			Value:     float64(in.RollingCount),
			Threshold: float64(cfg.Thresholds.RollingCount),
		})
	}

	return fired
}

// Codes projects fired rules onto their codes, preserving order.
func Codes(fired []FiredRule) []string {
	if len(fired) == 0 {
		return nil
	}
	out := make([]string, len(fired))
	for i, rule := range fired {
		out[i] = string(rule.Code)
	}
	return out
}
