package criteria

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/review-cli/internal/model"
	"github.com/sells-group/review-cli/internal/store"
)

// fakeSource applies CandidateQuery the way the SQL stores do.
type fakeSource struct {
	candidates []model.Candidate
	queries    []store.CandidateQuery
	countCalls int
	err        error
}

func (f *fakeSource) ListCandidates(_ context.Context, q store.CandidateQuery) ([]model.Candidate, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []model.Candidate
	for _, c := range f.candidates {
		if !containsStatus(q.Statuses, c.InternalResult) {
			continue
		}
		if q.MinScore != nil && (c.NormalizedAvgRating == nil || *c.NormalizedAvgRating < *q.MinScore) {
			continue
		}
		if q.MaxScore != nil && (c.NormalizedAvgRating == nil || *c.NormalizedAvgRating > *q.MaxScore) {
			continue
		}
		if c.ReviewCount < q.MinReviewCount {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeSource) StatusCounts(_ context.Context) (model.StatusCounts, error) {
	f.countCalls++
	counts := model.NewStatusCounts()
	for _, c := range f.candidates {
		counts[c.InternalResult]++
	}
	return counts, nil
}

func containsStatus(list []model.ApplicationStatus, s model.ApplicationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fakeConfidence returns a fixed score per applicant, defaulting to 94.
type fakeConfidence struct {
	scores map[string]int
}

func (f *fakeConfidence) ComputeMany(_ context.Context, ids []string) (map[string]int, error) {
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if v, ok := f.scores[id]; ok {
			out[id] = v
		} else {
			out[id] = 94
		}
	}
	return out, nil
}

func candidate(n int, status model.ApplicationStatus, reviews int, score *int) model.Candidate {
	return model.Candidate{
		Applicant: model.Applicant{
			ID:                  fmt.Sprintf("app-%03d", n),
			UserID:              fmt.Sprintf("user-%03d", n),
			ReviewCount:         reviews,
			NormalizedAvgRating: score,
			InternalResult:      status,
		},
		Name:  fmt.Sprintf("Applicant %d", n),
		Email: fmt.Sprintf("a%d@example.com", n),
	}
}

func intPtr(v int) *int { return &v }

// scenarioPopulation is 40 pending (12 with >= 3 reviews) and 10 accepted.
func scenarioPopulation() []model.Candidate {
	var out []model.Candidate
	for i := 0; i < 40; i++ {
		reviews := 1
		if i < 12 {
			reviews = 3 + i%3
		}
		out = append(out, candidate(i, model.StatusPending, reviews, intPtr(500+i*10)))
	}
	for i := 40; i < 50; i++ {
		out = append(out, candidate(i, model.StatusAccepted, 5, intPtr(800)))
	}
	return out
}

func TestPreview_ReviewCountScenario(t *testing.T) {
	src := &fakeSource{candidates: scenarioPopulation()}
	m := NewMatcher(src, &fakeConfidence{}, nil)

	f := model.NewCriteriaFilter(model.StatusAccepted)
	f.MinReviewCount = 3
	f.CurrentStatuses = []model.ApplicationStatus{model.StatusPending}

	res, err := m.Preview(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, 12, res.MatchingCount)
	assert.Len(t, res.MatchingIDs, 12)
	assert.Equal(t, 40, res.CurrentCounts[model.StatusPending])
	assert.Equal(t, 10, res.CurrentCounts[model.StatusAccepted])
	assert.Equal(t, 28, res.ProjectedCounts[model.StatusPending])
	assert.Equal(t, 22, res.ProjectedCounts[model.StatusAccepted])
	assert.Len(t, res.Sample, SampleSize)
	assert.Equal(t, "user-000", res.Sample[0].UserID)
	require.NotNil(t, res.Sample[0].NormalizedAvgRating)
	assert.InDelta(t, 5.0, *res.Sample[0].NormalizedAvgRating, 1e-9)

	require.Len(t, src.queries, 1)
	assert.Nil(t, src.queries[0].MinScore, "full rating range is not applied")
	assert.Nil(t, src.queries[0].MaxScore)
}

func TestPreview_CountConservation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	statuses := model.AllStatuses
	undecided := model.DefaultCurrentStatuses

	var pop []model.Candidate
	conf := &fakeConfidence{scores: map[string]int{}}
	for i := 0; i < 120; i++ {
		var score *int
		if rng.Intn(4) > 0 {
			score = intPtr(100 + rng.Intn(900))
		}
		c := candidate(i, statuses[rng.Intn(len(statuses))], rng.Intn(7), score)
		conf.scores[c.ID] = rng.Intn(101)
		pop = append(pop, c)
	}
	m := NewMatcher(&fakeSource{candidates: pop}, conf, nil)

	targets := []model.ApplicationStatus{model.StatusAccepted, model.StatusRejected, model.StatusWaitlisted}
	for i := 0; i < 50; i++ {
		f := model.NewCriteriaFilter(targets[rng.Intn(len(targets))])
		f.MinRating = float64(rng.Intn(6))
		f.MaxRating = f.MinRating + float64(rng.Intn(5))
		f.MinConfidence = rng.Intn(60)
		f.MaxConfidence = f.MinConfidence + rng.Intn(41)
		f.MinReviewCount = rng.Intn(4)
		f.CurrentStatuses = []model.ApplicationStatus{undecided[rng.Intn(len(undecided))], model.StatusPending}

		res, err := m.Preview(context.Background(), f)
		require.NoError(t, err)
		assert.Equal(t, res.CurrentCounts.Total(), res.ProjectedCounts.Total(), "filter %+v", f)
		assert.Equal(t, res.MatchingCount,
			res.ProjectedCounts[f.TargetAction]-res.CurrentCounts[f.TargetAction], "filter %+v", f)
		assert.LessOrEqual(t, len(res.Sample), SampleSize)
	}
}

func TestPreview_RatingBoundOnlyWhenNarrowed(t *testing.T) {
	pop := []model.Candidate{
		candidate(1, model.StatusPending, 3, intPtr(720)),
		candidate(2, model.StatusPending, 3, nil),
		candidate(3, model.StatusWaitlisted, 3, intPtr(450)),
	}
	src := &fakeSource{candidates: pop}
	m := NewMatcher(src, &fakeConfidence{}, nil)

	res, err := m.Preview(context.Background(), model.NewCriteriaFilter(model.StatusRejected))
	require.NoError(t, err)
	assert.Equal(t, 3, res.MatchingCount, "unscored applicants are kept at the default range")

	f := model.NewCriteriaFilter(model.StatusAccepted)
	f.MinRating = 7.2
	res, err = m.Preview(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-001"}, res.MatchingIDs)

	last := src.queries[len(src.queries)-1]
	require.NotNil(t, last.MinScore)
	require.NotNil(t, last.MaxScore)
	assert.Equal(t, 720, *last.MinScore)
	assert.Equal(t, 1000, *last.MaxScore)
}

func TestPreview_ConfidencePostFilter(t *testing.T) {
	pop := []model.Candidate{
		candidate(1, model.StatusPending, 5, intPtr(700)),
		candidate(2, model.StatusPending, 1, intPtr(700)),
	}
	conf := &fakeConfidence{scores: map[string]int{"app-001": 94, "app-002": 62}}
	m := NewMatcher(&fakeSource{candidates: pop}, conf, nil)

	f := model.NewCriteriaFilter(model.StatusAccepted)
	f.MinConfidence = 80
	res, err := m.Preview(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-001"}, res.MatchingIDs)
	assert.Equal(t, 94, res.Sample[0].Confidence)
}

func TestPreview_ExcludesApplicantsAlreadyInTarget(t *testing.T) {
	pop := []model.Candidate{
		candidate(1, model.StatusPending, 3, intPtr(700)),
		candidate(2, model.StatusWaitlisted, 3, intPtr(650)),
	}
	m := NewMatcher(&fakeSource{candidates: pop}, &fakeConfidence{}, nil)

	res, err := m.Preview(context.Background(), model.NewCriteriaFilter(model.StatusWaitlisted))
	require.NoError(t, err)
	assert.Equal(t, []string{"user-001"}, res.MatchingIDs)
	assert.Equal(t, 0, res.ProjectedCounts[model.StatusPending])
	assert.Equal(t, 2, res.ProjectedCounts[model.StatusWaitlisted])
}

func TestPreview_NoMatches(t *testing.T) {
	m := NewMatcher(&fakeSource{}, &fakeConfidence{}, nil)

	res, err := m.Preview(context.Background(), model.NewCriteriaFilter(model.StatusAccepted))
	require.NoError(t, err)
	assert.Equal(t, 0, res.MatchingCount)
	assert.Empty(t, res.MatchingIDs)
	assert.Empty(t, res.Sample)
	assert.Equal(t, res.CurrentCounts, res.ProjectedCounts)
}

func TestPreview_ValidationBeforeQuery(t *testing.T) {
	cases := []struct {
		name  string
		edit  func(*model.CriteriaFilter)
		field string
	}{
		{"unknown target", func(f *model.CriteriaFilter) { f.TargetAction = "promoted" }, "target_action"},
		{"pending target", func(f *model.CriteriaFilter) { f.TargetAction = model.StatusPending }, "target_action"},
		{"missing target", func(f *model.CriteriaFilter) { f.TargetAction = "" }, "target_action"},
		{"rating above scale", func(f *model.CriteriaFilter) { f.MaxRating = 11 }, "max_rating"},
		{"inverted rating", func(f *model.CriteriaFilter) { f.MinRating = 8; f.MaxRating = 6 }, "max_rating"},
		{"inverted confidence", func(f *model.CriteriaFilter) { f.MinConfidence = 90; f.MaxConfidence = 10 }, "max_confidence"},
		{"negative review count", func(f *model.CriteriaFilter) { f.MinReviewCount = -1 }, "min_review_count"},
		{"unknown status", func(f *model.CriteriaFilter) {
			f.CurrentStatuses = []model.ApplicationStatus{"archived"}
		}, "current_statuses[0]"},
		{"decided status", func(f *model.CriteriaFilter) {
			f.CurrentStatuses = []model.ApplicationStatus{model.StatusPending, model.StatusAccepted}
		}, "current_statuses[1]"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			src := &fakeSource{candidates: scenarioPopulation()}
			m := NewMatcher(src, &fakeConfidence{}, nil)

			f := model.NewCriteriaFilter(model.StatusAccepted)
			tc.edit(&f)

			_, err := m.Preview(context.Background(), f)
			require.Error(t, err)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
			assert.Empty(t, src.queries)
			assert.Equal(t, 0, src.countCalls)
		})
	}
}

func TestPreview_StoreError(t *testing.T) {
	m := NewMatcher(&fakeSource{err: errors.New("db down")}, &fakeConfidence{}, nil)

	_, err := m.Preview(context.Background(), model.NewCriteriaFilter(model.StatusAccepted))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criteria: list candidates")
}

func TestWithDefaults(t *testing.T) {
	f := WithDefaults(model.CriteriaFilter{TargetAction: model.StatusAccepted, MinReviewCount: 3})
	assert.Equal(t, model.DefaultCurrentStatuses, f.CurrentStatuses)
	assert.Equal(t, 0.0, f.MaxRating, "bounds are taken as given")
	assert.Equal(t, 0, f.MaxConfidence)
	assert.True(t, f.RatingNarrowed())
	assert.True(t, f.ConfidenceNarrowed())

	g := WithDefaults(model.CriteriaFilter{MinRating: 6, MaxRating: 6, CurrentStatuses: []model.ApplicationStatus{model.StatusWaitlisted}})
	assert.Equal(t, 6.0, g.MaxRating)
	assert.Equal(t, []model.ApplicationStatus{model.StatusWaitlisted}, g.CurrentStatuses)
}

func TestPreview_ZeroConfidenceRangeIsApplied(t *testing.T) {
	pop := []model.Candidate{
		candidate(1, model.StatusPending, 5, intPtr(600)),
		candidate(2, model.StatusPending, 0, nil),
	}
	conf := &fakeConfidence{scores: map[string]int{"app-001": 94, "app-002": 0}}
	m := NewMatcher(&fakeSource{candidates: pop}, conf, nil)

	f := model.NewCriteriaFilter(model.StatusRejected)
	f.MaxConfidence = 0
	res, err := m.Preview(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-002"}, res.MatchingIDs)
	assert.Equal(t, 1, res.ProjectedCounts[model.StatusPending])
	assert.Equal(t, 1, res.ProjectedCounts[model.StatusRejected])
}

func TestPreview_ZeroRatingRangeIsApplied(t *testing.T) {
	pop := []model.Candidate{
		candidate(1, model.StatusPending, 3, intPtr(0)),
		candidate(2, model.StatusPending, 3, intPtr(550)),
		candidate(3, model.StatusPending, 0, nil),
	}
	src := &fakeSource{candidates: pop}
	m := NewMatcher(src, &fakeConfidence{}, nil)

	f := model.NewCriteriaFilter(model.StatusRejected)
	f.MaxRating = 0
	res, err := m.Preview(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, []string{"user-001"}, res.MatchingIDs)

	require.Len(t, src.queries, 1)
	require.NotNil(t, src.queries[0].MinScore)
	require.NotNil(t, src.queries[0].MaxScore)
	assert.Equal(t, 0, *src.queries[0].MinScore)
	assert.Equal(t, 0, *src.queries[0].MaxScore)
}

func TestPreview_ZeroValueFilterIsNotWidened(t *testing.T) {
	pop := []model.Candidate{
		candidate(1, model.StatusPending, 3, intPtr(720)),
		candidate(2, model.StatusWaitlisted, 3, intPtr(450)),
	}
	m := NewMatcher(&fakeSource{candidates: pop}, &fakeConfidence{}, nil)

	res, err := m.Preview(context.Background(), model.CriteriaFilter{TargetAction: model.StatusAccepted})
	require.NoError(t, err)
	assert.Equal(t, 0, res.MatchingCount, "an all-zero filter selects only zero scores")
}

func TestScoreBounds(t *testing.T) {
	lo, hi := scoreBounds(model.NewCriteriaFilter(model.StatusAccepted))
	assert.Nil(t, lo)
	assert.Nil(t, hi)

	f := model.NewCriteriaFilter(model.StatusAccepted)
	f.MinRating = 6.55
	f.MaxRating = 8.1
	lo, hi = scoreBounds(f)
	require.NotNil(t, lo)
	require.NotNil(t, hi)
	assert.Equal(t, 655, *lo)
	assert.Equal(t, 810, *hi)
}

func TestLoadFilterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.yaml")
	content := `
min_review_count: 3
min_confidence: 70
current_statuses: [pending]
target_action: accepted
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	f, err := LoadFilterFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, f.MinReviewCount)
	assert.Equal(t, 70, f.MinConfidence)
	assert.Equal(t, model.DefaultMaxConfidence, f.MaxConfidence)
	assert.Equal(t, model.DefaultMaxRating, f.MaxRating)
	assert.Equal(t, []model.ApplicationStatus{model.StatusPending}, f.CurrentStatuses)
	assert.Equal(t, model.StatusAccepted, f.TargetAction)
}

func TestLoadFilterFile_Errors(t *testing.T) {
	_, err := LoadFilterFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criteria: read filter")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("min_review_count: [oops"), 0o600))
	_, err = LoadFilterFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criteria: parse filter")
}
