package normalize

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/review-cli/internal/config"
	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
)

// ReviewStore is the persistence the normalizer reads from and writes to.
type ReviewStore interface {
	ListReviews(ctx context.Context) ([]model.Review, error)
	SaveNormalization(ctx context.Context, w model.NormalizationWrite) error
}

// AdjustRatings applies the reviewer corrections to every review.
//
// Reviews by non-qualifying reviewers pass through unchanged. For a
// qualifying reviewer, a rating more than ZScoreThreshold of that reviewer's
// own deviations from their mean collapses to the mean; anything else gets
// the additive adjustment, clamped to [0,10]. Results are rounded to 2 decimals.
func AdjustRatings(reviews []model.Review, stats *Statistics, cfg config.NormalizationConfig) []model.AdjustedRating {
	out := make([]model.AdjustedRating, 0, len(reviews))
	for _, r := range reviews {
		ar := model.AdjustedRating{
			ReviewID:      r.ID,
			ApplicationID: r.ApplicationID,
		}
		rating := float64(r.Rating)

		rs, ok := stats.Reviewer(r.ReviewerID)
		switch {
		case !ok:
			ar.AdjustedRating = rating
			ar.Kind = model.AdjustmentPassThrough
		case deviation(rating, rs) > cfg.ZScoreThreshold:
			ar.AdjustedRating = clamp(round2(rs.AvgRating))
			ar.Kind = model.AdjustmentOutlier
		default:
			ar.AdjustedRating = round2(clamp(rating + rs.Adjustment))
			ar.Kind = model.AdjustmentCorrected
		}
		out = append(out, ar)
	}
	return out
}

// ApplicantScores averages adjusted ratings per applicant (x100, rounded).
// Applicants without reviews do not appear. Output is ordered by applicant id.
func ApplicantScores(adjusted []model.AdjustedRating) []model.ApplicantScore {
	type acc struct {
		sum float64
		n   int
	}
	byApplicant := make(map[string]*acc)
	for _, a := range adjusted {
		ac, ok := byApplicant[a.ApplicationID]
		if !ok {
			ac = &acc{}
			byApplicant[a.ApplicationID] = ac
		}
		ac.sum += a.AdjustedRating
		ac.n++
	}

	scores := make([]model.ApplicantScore, 0, len(byApplicant))
	for id, ac := range byApplicant {
		scores = append(scores, model.ApplicantScore{
			ApplicantID:         id,
			NormalizedAvgRating: int(math.Round(ac.sum / float64(ac.n) * 100)),
		})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].ApplicantID < scores[j].ApplicantID })
	return scores
}

func deviation(rating float64, rs *model.ReviewerStatistics) float64 {
	sd := rs.StdDev
	if sd == 0 {
		sd = 1
	}
	return math.Abs(rating-rs.AvgRating) / sd
}

func clamp(v float64) float64 {
	return math.Max(MinAdjusted, math.Min(MaxAdjusted, v))
}

// Normalizer runs the full aggregate, correct, normalize pipeline against a store.
// Concurrent Run calls on one Normalizer share a single execution.
type Normalizer struct {
	store   ReviewStore
	cfg     config.NormalizationConfig
	metrics *metrics.Recorder
	group   singleflight.Group
	now     func() time.Time
}

// NewNormalizer creates a Normalizer. rec may be nil.
func NewNormalizer(st ReviewStore, cfg config.NormalizationConfig, rec *metrics.Recorder) *Normalizer {
	return &Normalizer{
		store:   st,
		cfg:     cfg,
		metrics: rec,
		now:     time.Now,
	}
}

// Run recomputes every adjusted rating and normalized applicant score.
func (n *Normalizer) Run(ctx context.Context) (*model.NormalizationResult, error) {
	v, err, shared := n.group.Do("normalize", func() (any, error) {
		return n.run(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		zap.L().Debug("normalize: joined in-flight run")
	}
	res := *v.(*model.NormalizationResult)
	return &res, nil
}

func (n *Normalizer) run(ctx context.Context) (*model.NormalizationResult, error) {
	if err := ValidateConfig(n.cfg); err != nil {
		return nil, err
	}
	start := n.now()

	reviews, err := n.store.ListReviews(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "normalize: list reviews")
	}

	stats := ComputeStatistics(reviews, n.cfg.MinReviewsThreshold)
	ApplyBiasModel(stats, n.cfg)
	adjusted := AdjustRatings(reviews, stats, n.cfg)
	scores := ApplicantScores(adjusted)

	normalizedAt := start.UTC()
	if len(adjusted) > 0 {
		err := n.store.SaveNormalization(ctx, model.NormalizationWrite{
			Ratings:      adjusted,
			Scores:       scores,
			NormalizedAt: normalizedAt,
		})
		if err != nil {
			return nil, eris.Wrap(err, "normalize: save")
		}
	}

	res := &model.NormalizationResult{
		GlobalAvg:          stats.Global.AvgRating,
		GlobalStdDev:       stats.Global.StdDev,
		ReviewsProcessed:   len(adjusted),
		ReviewersProcessed: len(stats.Reviewers),
		ApplicantsUpdated:  len(scores),
		PerReviewerStats:   stats.Sorted(),
		NormalizedAt:       normalizedAt,
	}
	for _, a := range adjusted {
		switch a.Kind {
		case model.AdjustmentOutlier:
			res.OutliersCollapsed++
		case model.AdjustmentPassThrough:
			res.PassThrough++
		}
	}
	res.Duration = n.now().Sub(start)

	n.metrics.ObserveNormalization(res)

	zap.L().Info("normalize: run complete",
		zap.Int("reviews", res.ReviewsProcessed),
		zap.Int("reviewers", res.ReviewersProcessed),
		zap.Int("applicants", res.ApplicantsUpdated),
		zap.Int("outliers", res.OutliersCollapsed),
		zap.Int("pass_through", res.PassThrough),
		zap.Float64("global_avg", res.GlobalAvg),
		zap.Float64("global_std_dev", res.GlobalStdDev),
		zap.Duration("duration", res.Duration),
	)

	return res, nil
}
