package criteria

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
	"github.com/sells-group/review-cli/internal/store"
)

// SampleSize is the number of human-readable rows a preview carries.
const SampleSize = 5

// CandidateSource is the read side of the store the matcher needs.
type CandidateSource interface {
	ListCandidates(ctx context.Context, q store.CandidateQuery) ([]model.Candidate, error)
	StatusCounts(ctx context.Context) (model.StatusCounts, error)
}

// ConfidenceSource computes confidence for a set of applicants.
type ConfidenceSource interface {
	ComputeMany(ctx context.Context, applicantIDs []string) (map[string]int, error)
}

// Matcher previews bulk decisions. It never writes.
type Matcher struct {
	src     CandidateSource
	conf    ConfidenceSource
	metrics *metrics.Recorder
}

// NewMatcher creates a Matcher. rec may be nil.
func NewMatcher(src CandidateSource, conf ConfidenceSource, rec *metrics.Recorder) *Matcher {
	return &Matcher{
		src:     src,
		conf:    conf,
		metrics: rec,
	}
}

// Preview returns the applicants a filter selects and the status histogram
// before and after moving them to the filter's target. Applicants already in
// the target status are not matches.
func (m *Matcher) Preview(ctx context.Context, filter model.CriteriaFilter) (*model.PreviewResult, error) {
	start := time.Now()

	f := WithDefaults(filter)
	if err := model.Validate(f); err != nil {
		return nil, err
	}

	q := store.CandidateQuery{
		Statuses:       f.CurrentStatuses,
		MinReviewCount: f.MinReviewCount,
	}
	q.MinScore, q.MaxScore = scoreBounds(f)

	candidates, err := m.src.ListCandidates(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "criteria: list candidates")
	}

	pool := make([]model.Candidate, 0, len(candidates))
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c.InternalResult == f.TargetAction {
			continue
		}
		pool = append(pool, c)
		ids = append(ids, c.ID)
	}

	confidence, err := m.conf.ComputeMany(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "criteria: compute confidence")
	}

	current, err := m.src.StatusCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "criteria: status counts")
	}

	res := &model.PreviewResult{
		Filter:          f,
		MatchingIDs:     []string{},
		Matches:         []model.SampleEntry{},
		CurrentCounts:   current,
		ProjectedCounts: current.Clone(),
	}

	narrowed := f.ConfidenceNarrowed()
	for _, c := range pool {
		score := confidence[c.ID]
		if narrowed && (score < f.MinConfidence || score > f.MaxConfidence) {
			continue
		}
		res.MatchingIDs = append(res.MatchingIDs, c.UserID)
		res.Matches = append(res.Matches, sampleEntry(c, score))
		res.ProjectedCounts[c.InternalResult]--
		res.ProjectedCounts[f.TargetAction]++
	}
	res.MatchingCount = len(res.MatchingIDs)
	res.Sample = res.Matches[:min(SampleSize, len(res.Matches))]

	m.metrics.ObservePreview(res.MatchingCount, time.Since(start))
	zap.L().Info("criteria: preview",
		zap.String("target", string(f.TargetAction)),
		zap.Int("candidates", len(pool)),
		zap.Int("matches", res.MatchingCount),
		zap.Duration("duration", time.Since(start)),
	)

	return res, nil
}

func sampleEntry(c model.Candidate, confidence int) model.SampleEntry {
	e := model.SampleEntry{
		UserID:        c.UserID,
		ApplicantID:   c.ID,
		Name:          c.Name,
		Email:         c.Email,
		CurrentStatus: c.InternalResult,
		ReviewCount:   c.ReviewCount,
		Confidence:    confidence,
	}
	if avg, ok := c.NormalizedAverage(); ok {
		e.NormalizedAvgRating = &avg
	}
	return e
}
