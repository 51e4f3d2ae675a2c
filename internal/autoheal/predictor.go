package autoheal

// SelectStrategy walks the decision tree top to bottom; the first matching
// rule wins.
func SelectStrategy(incident *Incident, stats *WindowStats) Strategy {
	if incident.FailureClusterDetected && incident.RecentFailures > 50 {
		return StrategyEscalateOperator
	}
	if incident.SpikeDetected && !incident.FailureClusterDetected && incident.RecentFailures < 5 {
		return StrategyDeferAndMonitor
	}
	if stats.TransientFailureRatio > 0.7 && incident.RecentFailures <= 25 {
		return StrategyReplayRecent
	}
	if stats.PermanentFailureRatio > 0.8 {
		return StrategyEscalateOperator
	}
	if stats.DominantTenant != "" && stats.DominantTenantShare > 0.6 {
		return StrategyRateLimitSource
	}
	if stats.DuplicateErrorRatio > 0.9 {
		return StrategySilenceDupes
	}
	return StrategyDeferAndMonitor
}

// Base success rates per strategy, refined by endpoint history and triage
// confidence.
var strategyBaseRates = map[Strategy]float64{
	StrategyReplayRecent:     0.75,
	StrategyEscalateOperator: 0.90,
	StrategyDeferAndMonitor:  0.60,
	StrategyRateLimitSource:  0.65,
	StrategySilenceDupes:     0.70,
}

const criticalPenalty = 0.6

// PredictProbability blends the strategy base rate, the historical
// per-endpoint success rate and the average triage confidence.
// Critical-severity incidents are penalized unless the strategy is operator
// escalation.
func PredictProbability(incident *Incident, stats *WindowStats, strategy Strategy) float64 {
	base, ok := strategyBaseRates[strategy]
	if !ok {
		base = 0.5
	}

	p := 0.5*base + 0.3*stats.EndpointSuccessRate + 0.2*stats.TriageConfidence
	if incident.Severity == "critical" && strategy != StrategyEscalateOperator {
		p *= criticalPenalty
	}

	if p < 0.05 {
		p = 0.05
	}
	if p > 0.99 {
		p = 0.99
	}
	return p
}
