// Package confidence computes the 0-100 trust score of an applicant's normalized average.
package confidence

import (
	"context"
	"math"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/review-cli/internal/config"
)

// loadChunk bounds how many applicant ids go into one ratings query.
const loadChunk = 500

// maxSpread is the rating standard deviation at which agreement reaches zero.
const maxSpread = 5.0

// DefaultConfig returns a config.ConfidenceConfig with the standard constants.
// Weights sum to 1.0.
func DefaultConfig() config.ConfidenceConfig {
	return config.ConfidenceConfig{
		MaxReviews:        5,
		CoverageWeight:    0.4,
		AgreementWeight:   0.4,
		ReliabilityWeight: 0.2,
		ReliabilityTerm:   0.7,
	}
}

// ValidateConfig checks that a ConfidenceConfig is internally consistent.
func ValidateConfig(c config.ConfidenceConfig) error {
	var errs []string

	if c.MaxReviews < 1 {
		errs = append(errs, "max_reviews must be >= 1")
	}
	if c.CoverageWeight < 0 || c.AgreementWeight < 0 || c.ReliabilityWeight < 0 {
		errs = append(errs, "weights must be >= 0")
	}
	if sum := c.CoverageWeight + c.AgreementWeight + c.ReliabilityWeight; math.Abs(sum-1.0) > 0.001 {
		errs = append(errs, "weights must sum to 1.0")
	}
	if c.ReliabilityTerm < 0 || c.ReliabilityTerm > 1 {
		errs = append(errs, "reliability_term must be between 0 and 1")
	}

	if len(errs) > 0 {
		return eris.Errorf("confidence: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Score returns the confidence of an applicant given its raw ratings.
//
//	coverage  = min(n / MaxReviews, 1)
//	agreement = max(1 - stddev(ratings) / 5, 0)
//	score     = round((coverage*Wc + agreement*Wa + ReliabilityTerm*Wr) * 100)
//
// The reliability term is a fixed constant, not derived from the reviewers.
// No ratings scores 0. The result is clamped to [0,100].
func Score(ratings []int, cfg config.ConfidenceConfig) int {
	n := len(ratings)
	if n == 0 {
		return 0
	}
	maxReviews := cfg.MaxReviews
	if maxReviews < 1 {
		maxReviews = 1
	}

	coverage := math.Min(float64(n)/float64(maxReviews), 1.0)
	agreement := math.Max(1.0-stdDev(ratings)/maxSpread, 0.0)

	raw := coverage*cfg.CoverageWeight + agreement*cfg.AgreementWeight + cfg.ReliabilityTerm*cfg.ReliabilityWeight
	score := int(math.Round(raw * 100))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// stdDev is the sample standard deviation; fewer than two ratings count as full agreement.
func stdDev(ratings []int) float64 {
	if len(ratings) < 2 {
		return 0
	}
	var sum float64
	for _, r := range ratings {
		sum += float64(r)
	}
	mean := sum / float64(len(ratings))
	var sq float64
	for _, r := range ratings {
		d := float64(r) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(ratings)-1))
}

// RatingSource loads raw ratings grouped by applicant id.
type RatingSource interface {
	ApplicantRatings(ctx context.Context, applicantIDs []string) (map[string][]int, error)
}

// Scorer computes confidence on demand from the current review state.
type Scorer struct {
	src         RatingSource
	cfg         config.ConfidenceConfig
	concurrency int
}

// NewScorer creates a Scorer.
func NewScorer(src RatingSource, cfg config.ConfidenceConfig) *Scorer {
	return &Scorer{src: src, cfg: cfg, concurrency: 4}
}

// Compute returns the confidence of one applicant.
func (s *Scorer) Compute(ctx context.Context, applicantID string) (int, error) {
	ratings, err := s.src.ApplicantRatings(ctx, []string{applicantID})
	if err != nil {
		return 0, eris.Wrapf(err, "confidence: load ratings for %s", applicantID)
	}
	return Score(ratings[applicantID], s.cfg), nil
}

// ComputeMany returns the confidence of every listed applicant, loading
// ratings in chunks concurrently.
func (s *Scorer) ComputeMany(ctx context.Context, applicantIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(applicantIDs))
	if len(applicantIDs) == 0 {
		return out, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for start := 0; start < len(applicantIDs); start += loadChunk {
		end := min(start+loadChunk, len(applicantIDs))
		chunk := applicantIDs[start:end]
		g.Go(func() error {
			ratings, err := s.src.ApplicantRatings(gctx, chunk)
			if err != nil {
				return eris.Wrap(err, "confidence: load ratings")
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range chunk {
				out[id] = Score(ratings[id], s.cfg)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
