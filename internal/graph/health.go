package graph

import "math"

// HealthBreakdown shows the sub-scores of the health formula
type HealthBreakdown struct {
	Integrity float64 `json:"integrity"`
	Linking   float64 `json:"linking"`
	Structure float64 `json:"structure"`
	Freshness float64 `json:"freshness"`
}

// AnalysisReport is the full analysis result
type AnalysisReport struct {
	HealthScore     float64          `json:"health_score"`
	HealthBreakdown HealthBreakdown  `json:"health_breakdown"`
	Integrity       *IntegrityReport `json:"integrity"`
	Topology        *TopologyReport  `json:"topology"`
	Staleness       *StalenessReport `json:"staleness"`
}

// AnalyzerConfig holds analysis parameters
type AnalyzerConfig struct {
	HubThreshold int
	TopN         int
	MinDriftDays int64
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *AnalyzerConfig {
	return &AnalyzerConfig{
		HubThreshold: 10,
		TopN:         50,
		MinDriftDays: 0,
	}
}

// Analyze runs all analyses and computes a composite health score in [0, 1]
func Analyze(snap *Snapshot, config *AnalyzerConfig) *AnalysisReport {
	if config == nil {
		config = DefaultConfig()
	}
	integrity := ComputeIntegrity(snap)
	topology := ComputeTopology(snap, config.HubThreshold, config.TopN)
	staleness := ComputeStaleness(snap, config.MinDriftDays)

	total := float64(topology.TotalNodes)
	b := HealthBreakdown{Integrity: 1, Linking: 1, Structure: 1, Freshness: 1}
	if total > 0 {
		errs := float64(structuralErrors(integrity))
		b.Integrity = clamp(1.0-math.Min(errs/total, 0.1)*10.0, 0, 1)

		linking := float64(integrity.ByRule[RuleLinkingContract] + integrity.ByRule[RuleMissingBackLink])
		b.Linking = clamp(1.0-math.Min(linking/total, 0.2)*5.0, 0, 1)

		orphans := float64(integrity.ByRule[RuleOrphanDataField])
		b.Structure = clamp(1.0-math.Min(orphans/total, 0.2)*5.0, 0, 1)
	}
	if staleness.CopyCount > 0 {
		drifted := float64(staleness.StaleCopyCount + staleness.OrphanCopyCount)
		b.Freshness = clamp(1.0-drifted/float64(staleness.CopyCount), 0, 1)
	}

	return &AnalysisReport{
		HealthScore:     0.40*b.Integrity + 0.25*b.Linking + 0.20*b.Structure + 0.15*b.Freshness,
		HealthBreakdown: b,
		Integrity:       integrity,
		Topology:        topology,
		Staleness:       staleness,
	}
}

// structuralErrors counts error-level issues outside the linking contract,
// which has its own sub-score.
func structuralErrors(r *IntegrityReport) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == SeverityError && is.Rule != RuleLinkingContract {
			n++
		}
	}
	return n
}

func clamp(val, lo, hi float64) float64 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
