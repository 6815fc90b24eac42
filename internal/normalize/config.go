// Package normalize corrects reviewer bias and recomputes every applicant's normalized score.
//
// A run is a stateless full recompute: statistics are aggregated from the
// current raw ratings, turned into per-reviewer corrections, applied to every
// review, and averaged per applicant. Re-running without new reviews
// reproduces identical output.
package normalize

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/review-cli/internal/config"
)

// Rating scale bounds for adjusted ratings.
const (
	MinAdjusted = 0.0
	MaxAdjusted = 10.0
)

// DefaultConfig returns a config.NormalizationConfig with the standard constants.
func DefaultConfig() config.NormalizationConfig {
	return config.NormalizationConfig{
		TargetAvg:           5.5,
		MinReviewsThreshold: 3,
		ZScoreThreshold:     2.0,
	}
}

// ValidateConfig checks that a NormalizationConfig is usable.
func ValidateConfig(c config.NormalizationConfig) error {
	var errs []string

	if c.TargetAvg < MinAdjusted || c.TargetAvg > MaxAdjusted {
		errs = append(errs, "target_avg must be between 0 and 10")
	}
	if c.MinReviewsThreshold < 1 {
		errs = append(errs, "min_reviews_threshold must be >= 1")
	}
	if c.ZScoreThreshold <= 0 {
		errs = append(errs, "zscore_threshold must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("normalize: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
