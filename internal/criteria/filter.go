// Package criteria selects applicants for a bulk decision and projects its effect.
package criteria

import (
	"math"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/review-cli/internal/model"
)

// scoreEpsilon absorbs float error when converting 0-10 bounds to x100 scores.
const scoreEpsilon = 1e-9

// WithDefaults fills the status set when none is given. Bounds are taken as
// given: start from model.NewCriteriaFilter to get the full ranges.
func WithDefaults(f model.CriteriaFilter) model.CriteriaFilter {
	if len(f.CurrentStatuses) == 0 {
		f.CurrentStatuses = append([]model.ApplicationStatus(nil), model.DefaultCurrentStatuses...)
	}
	return f
}

// scoreBounds converts a narrowed 0-10 rating range to inclusive x100 bounds.
func scoreBounds(f model.CriteriaFilter) (minScore, maxScore *int) {
	if !f.RatingNarrowed() {
		return nil, nil
	}
	lo := int(math.Ceil(f.MinRating*100 - scoreEpsilon))
	hi := int(math.Floor(f.MaxRating*100 + scoreEpsilon))
	return &lo, &hi
}

// LoadFilterFile reads a YAML filter. Keys left out keep their defaults.
func LoadFilterFile(path string) (model.CriteriaFilter, error) {
	f := model.NewCriteriaFilter("")

	data, err := os.ReadFile(path)
	if err != nil {
		return f, eris.Wrapf(err, "criteria: read filter %s", path)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, eris.Wrapf(err, "criteria: parse filter %s", path)
	}
	return f, nil
}
