package impact

import "kimpact/internal/config"

// Classify applies the risk rule table to a function's total caller count
// (direct + indirect) and its direct test-coverage count.
//
// The rules are evaluated top to bottom, first match wins. Caller volume
// dominates; missing coverage only escalates, it never de-escalates:
//
//	1. callers > high  and no direct coverage          -> CRITICAL
//	2. callers > high                                  -> HIGH
//	3. callers > medium and coverage < low threshold   -> HIGH
//	4. callers > medium                                -> MEDIUM
//	5. otherwise                                       -> LOW
//
// Thresholds come from configuration; the ordering is part of the contract.
func Classify(callerCount, directCoverage int, cfg config.AnalysisConfig) RiskLevel {
	switch {
	case callerCount > cfg.HighCallerThreshold && directCoverage == 0:
		return RiskCritical
	case callerCount > cfg.HighCallerThreshold:
		return RiskHigh
	case callerCount > cfg.MediumCallerThreshold && directCoverage < cfg.LowCoverageThreshold:
		return RiskHigh
	case callerCount > cfg.MediumCallerThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}
