package model

import "time"

// GlobalStatistics describes every review in the current snapshot.
type GlobalStatistics struct {
	AvgRating   float64 `json:"avg_rating"`
	StdDev      float64 `json:"std_dev"`
	ReviewCount int     `json:"review_count"`
}

// ReviewerStatistics is the per-run correction profile of one qualifying reviewer.
// It is rebuilt from scratch on every normalization run and never persisted.
type ReviewerStatistics struct {
	ReviewerID        string  `json:"reviewer_id"`
	AvgRating         float64 `json:"avg_rating"`
	StdDev            float64 `json:"std_dev"`
	ReviewCount       int     `json:"review_count"`
	ZScore            float64 `json:"z_score"`
	ReliabilityWeight float64 `json:"reliability_weight"`
	Adjustment        float64 `json:"adjustment"`
}

// AdjustmentKind records which rule produced an adjusted rating.
type AdjustmentKind string

const (
	AdjustmentCorrected   AdjustmentKind = "adjusted"
	AdjustmentOutlier     AdjustmentKind = "outlier"
	AdjustmentPassThrough AdjustmentKind = "passthrough"
)

// AdjustedRating is the normalizer output for one review.
type AdjustedRating struct {
	ReviewID       string         `json:"review_id"`
	ApplicationID  string         `json:"application_id"`
	AdjustedRating float64        `json:"adjusted_rating"`
	Kind           AdjustmentKind `json:"kind"`
}

// ApplicantScore is the normalized average of one applicant (x100).
type ApplicantScore struct {
	ApplicantID         string `json:"applicant_id"`
	NormalizedAvgRating int    `json:"normalized_avg_rating"`
}

// NormalizationWrite is everything a normalization run persists, written atomically.
type NormalizationWrite struct {
	Ratings      []AdjustedRating
	Scores       []ApplicantScore
	NormalizedAt time.Time
}

// NormalizationResult reports a completed normalization run.
type NormalizationResult struct {
	GlobalAvg          float64              `json:"global_avg"`
	GlobalStdDev       float64              `json:"global_std_dev"`
	ReviewsProcessed   int                  `json:"reviews_processed"`
	ReviewersProcessed int                  `json:"reviewers_processed"`
	ApplicantsUpdated  int                  `json:"applicants_updated"`
	OutliersCollapsed  int                  `json:"outliers_collapsed"`
	PassThrough        int                  `json:"pass_through"`
	PerReviewerStats   []ReviewerStatistics `json:"per_reviewer_stats"`
	NormalizedAt       time.Time            `json:"normalized_at"`
	Duration           time.Duration        `json:"duration"`
}
