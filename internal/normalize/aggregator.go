package normalize

import (
	"math"
	"sort"

	"github.com/sells-group/review-cli/internal/model"
)

// Statistics is the per-run snapshot produced by the aggregator and threaded
// through the bias model and the normalizer.
type Statistics struct {
	Global    model.GlobalStatistics
	Reviewers map[string]*model.ReviewerStatistics
}

// Reviewer returns the statistics for a qualifying reviewer.
func (s *Statistics) Reviewer(id string) (*model.ReviewerStatistics, bool) {
	rs, ok := s.Reviewers[id]
	return rs, ok
}

// Sorted returns the reviewer statistics ordered by reviewer id.
func (s *Statistics) Sorted() []model.ReviewerStatistics {
	out := make([]model.ReviewerStatistics, 0, len(s.Reviewers))
	for _, rs := range s.Reviewers {
		out = append(out, *rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReviewerID < out[j].ReviewerID })
	return out
}

// ComputeStatistics aggregates the global rating distribution and, for every
// reviewer with at least minReviews reviews, that reviewer's own distribution.
// Means and standard deviations are sample statistics rounded to 2 decimals.
// An undefined or zero global deviation becomes 1; a reviewer's becomes 0.
func ComputeStatistics(reviews []model.Review, minReviews int) *Statistics {
	stats := &Statistics{
		Global:    model.GlobalStatistics{StdDev: 1},
		Reviewers: make(map[string]*model.ReviewerStatistics),
	}
	if len(reviews) == 0 {
		return stats
	}

	all := make([]float64, 0, len(reviews))
	byReviewer := make(map[string][]float64)
	for _, r := range reviews {
		v := float64(r.Rating)
		all = append(all, v)
		byReviewer[r.ReviewerID] = append(byReviewer[r.ReviewerID], v)
	}

	mean, sd, ok := meanStdDev(all)
	stats.Global.AvgRating = round2(mean)
	stats.Global.ReviewCount = len(all)
	if ok && sd > 0 {
		stats.Global.StdDev = round2(sd)
	}
	if stats.Global.StdDev == 0 {
		stats.Global.StdDev = 1
	}

	for id, ratings := range byReviewer {
		if len(ratings) < minReviews {
			continue
		}
		m, s, ok := meanStdDev(ratings)
		rs := &model.ReviewerStatistics{
			ReviewerID:  id,
			AvgRating:   round2(m),
			ReviewCount: len(ratings),
		}
		if ok {
			rs.StdDev = round2(s)
		}
		stats.Reviewers[id] = rs
	}

	return stats
}

// meanStdDev returns the mean and sample standard deviation. ok is false when
// fewer than two values make the deviation undefined.
func meanStdDev(values []float64) (mean, sd float64, ok bool) {
	n := float64(len(values))
	if n == 0 {
		return 0, 0, false
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / n
	if len(values) < 2 {
		return mean, 0, false
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / (n - 1)), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
