package model

// Default bounds of a CriteriaFilter. A bound equal to its default is not applied.
const (
	DefaultMinRating     = 0.0
	DefaultMaxRating     = 10.0
	DefaultMinConfidence = 0
	DefaultMaxConfidence = 100
)

// DefaultCurrentStatuses are the statuses a bulk decision considers when none are given.
var DefaultCurrentStatuses = []ApplicationStatus{StatusPending, StatusWaitlisted}

// CriteriaFilter selects applicants for a bulk decision. Only undecided
// statuses may be selected, since a bulk decision never moves any other.
type CriteriaFilter struct {
	MinRating       float64             `json:"min_rating" yaml:"min_rating" validate:"gte=0,lte=10"`
	MaxRating       float64             `json:"max_rating" yaml:"max_rating" validate:"gte=0,lte=10,gtefield=MinRating"`
	MinConfidence   int                 `json:"min_confidence" yaml:"min_confidence" validate:"gte=0,lte=100"`
	MaxConfidence   int                 `json:"max_confidence" yaml:"max_confidence" validate:"gte=0,lte=100,gtefield=MinConfidence"`
	MinReviewCount  int                 `json:"min_review_count" yaml:"min_review_count" validate:"gte=0"`
	CurrentStatuses []ApplicationStatus `json:"current_statuses" yaml:"current_statuses" validate:"dive,oneof=pending waitlisted"`
	TargetAction    ApplicationStatus   `json:"target_action" yaml:"target_action" validate:"required,oneof=accepted rejected waitlisted"`
}

// NewCriteriaFilter returns a filter with every bound at its default.
func NewCriteriaFilter(target ApplicationStatus) CriteriaFilter {
	return CriteriaFilter{
		MinRating:       DefaultMinRating,
		MaxRating:       DefaultMaxRating,
		MinConfidence:   DefaultMinConfidence,
		MaxConfidence:   DefaultMaxConfidence,
		CurrentStatuses: append([]ApplicationStatus(nil), DefaultCurrentStatuses...),
		TargetAction:    target,
	}
}

// RatingNarrowed reports whether the caller narrowed the 0-10 rating range.
func (f CriteriaFilter) RatingNarrowed() bool {
	return f.MinRating != DefaultMinRating || f.MaxRating != DefaultMaxRating
}

// ConfidenceNarrowed reports whether the caller narrowed the 0-100 confidence range.
func (f CriteriaFilter) ConfidenceNarrowed() bool {
	return f.MinConfidence != DefaultMinConfidence || f.MaxConfidence != DefaultMaxConfidence
}

// StatusCounts is a histogram of submitted applicants by internal result.
type StatusCounts map[ApplicationStatus]int

// NewStatusCounts returns a histogram with every status present at zero.
func NewStatusCounts() StatusCounts {
	c := make(StatusCounts, len(AllStatuses))
	for _, s := range AllStatuses {
		c[s] = 0
	}
	return c
}

// Clone returns an independent copy.
func (c StatusCounts) Clone() StatusCounts {
	out := make(StatusCounts, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Total sums every bucket.
func (c StatusCounts) Total() int {
	var n int
	for _, v := range c {
		n += v
	}
	return n
}

// SampleEntry is one human-readable row of a preview sample.
type SampleEntry struct {
	UserID              string            `json:"user_id"`
	ApplicantID         string            `json:"applicant_id"`
	Name                string            `json:"name"`
	Email               string            `json:"email"`
	CurrentStatus       ApplicationStatus `json:"current_status"`
	NormalizedAvgRating *float64          `json:"normalized_avg_rating,omitempty"`
	ReviewCount         int               `json:"review_count"`
	Confidence          int               `json:"confidence"`
}

// PreviewResult is the read-only projection of a bulk decision.
type PreviewResult struct {
	Filter          CriteriaFilter `json:"filter"`
	MatchingCount   int            `json:"matching_count"`
	MatchingIDs     []string       `json:"matching_ids"`
	Matches         []SampleEntry  `json:"-"`
	Sample          []SampleEntry  `json:"sample"`
	CurrentCounts   StatusCounts   `json:"current_counts"`
	ProjectedCounts StatusCounts   `json:"projected_counts"`
}
