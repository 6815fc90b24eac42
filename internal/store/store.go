package store

import (
	"context"

	"github.com/sells-group/review-cli/internal/model"
)

// CandidateQuery specifies which submitted applicants the matcher considers.
// Score bounds are on the stored normalized average (x100) and are skipped when nil.
type CandidateQuery struct {
	Statuses       []model.ApplicationStatus `json:"statuses"`
	MinScore       *int                      `json:"min_score,omitempty"`
	MaxScore       *int                      `json:"max_score,omitempty"`
	MinReviewCount int                       `json:"min_review_count,omitempty"`
}

// Store defines the persistence interface for the review engine.
type Store interface {
	// Reviews
	ListReviews(ctx context.Context) ([]model.Review, error)
	SaveNormalization(ctx context.Context, w model.NormalizationWrite) error
	ApplicantRatings(ctx context.Context, applicantIDs []string) (map[string][]int, error)

	// Applicants
	ListCandidates(ctx context.Context, q CandidateQuery) ([]model.Candidate, error)
	StatusCounts(ctx context.Context) (model.StatusCounts, error)

	// Users
	UsersByID(ctx context.Context, userIDs []string) ([]model.User, error)
	ApplyStatusChange(ctx context.Context, change model.StatusChange) ([]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func statusStrings(statuses []model.ApplicationStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// undecidedStatuses are the statuses a status change may still move.
var undecidedStatuses = []string{string(model.StatusPending), string(model.StatusWaitlisted)}

func acceptedAt(change model.StatusChange) any {
	if change.Target == model.StatusAccepted {
		return change.At
	}
	return nil
}
