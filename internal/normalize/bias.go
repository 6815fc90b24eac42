package normalize

import (
	"math"

	"github.com/sells-group/review-cli/internal/config"
)

// ApplyBiasModel fills in z-score, reliability weight and additive adjustment
// for every qualifying reviewer in stats.
//
// The weight shrinks as the reviewer drifts from the global mean and grows
// with review volume, capped at 1. Reviewers far from the mean are therefore
// corrected the least; see DESIGN.md before changing this.
func ApplyBiasModel(stats *Statistics, cfg config.NormalizationConfig) {
	globalSD := stats.Global.StdDev
	if globalSD == 0 {
		globalSD = 1
	}
	threshold := float64(cfg.MinReviewsThreshold)
	if threshold < 1 {
		threshold = 1
	}

	for _, rs := range stats.Reviewers {
		rs.ZScore = (rs.AvgRating - stats.Global.AvgRating) / globalSD
		rs.ReliabilityWeight = math.Min(1.0, (float64(rs.ReviewCount)/threshold)*(1/(1+math.Abs(rs.ZScore))))
		rs.Adjustment = (cfg.TargetAvg - rs.AvgRating) * rs.ReliabilityWeight
	}
}
