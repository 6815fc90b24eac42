// Package model defines the records and derived values shared by the review engine.
package model

import "time"

// ApplicationStatus is the decision state of an applicant (and its user).
type ApplicationStatus string

const (
	StatusPending    ApplicationStatus = "pending"
	StatusAccepted   ApplicationStatus = "accepted"
	StatusRejected   ApplicationStatus = "rejected"
	StatusWaitlisted ApplicationStatus = "waitlisted"
	StatusCancelled  ApplicationStatus = "cancelled"
)

// AllStatuses lists every status in display order.
var AllStatuses = []ApplicationStatus{
	StatusPending,
	StatusAccepted,
	StatusRejected,
	StatusWaitlisted,
	StatusCancelled,
}

// Valid reports whether s is a known status.
func (s ApplicationStatus) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsUndecided reports whether a bulk decision may still change the status.
func (s ApplicationStatus) IsUndecided() bool {
	return s == StatusPending || s == StatusWaitlisted
}

// IsBulkTarget reports whether s may be the target of a bulk decision.
func (s ApplicationStatus) IsBulkTarget() bool {
	return s == StatusAccepted || s == StatusRejected || s == StatusWaitlisted
}

// Review is a single reviewer's rating of an applicant.
type Review struct {
	ID              string    `json:"id"`
	ApplicationID   string    `json:"application_id"`
	ReviewerID      string    `json:"reviewer_id"`
	Rating          int       `json:"rating"`
	AdjustedRating  *float64  `json:"adjusted_rating,omitempty"`
	DurationSeconds *int      `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Applicant is a candidate's submitted application.
type Applicant struct {
	ID                  string            `json:"id"`
	UserID              string            `json:"user_id"`
	SubmittedAt         *time.Time        `json:"submitted_at,omitempty"`
	ReviewCount         int               `json:"review_count"`
	AverageRating       *int              `json:"average_rating,omitempty"`        // raw average x100
	NormalizedAvgRating *int              `json:"normalized_avg_rating,omitempty"` // normalized average x100
	InternalResult      ApplicationStatus `json:"internal_result"`
	LastNormalizedAt    *time.Time        `json:"last_normalized_at,omitempty"`
}

// NormalizedAverage returns the normalized average on the 0-10 scale.
func (a Applicant) NormalizedAverage() (float64, bool) {
	if a.NormalizedAvgRating == nil {
		return 0, false
	}
	return float64(*a.NormalizedAvgRating) / 100, true
}

// User is the account an applicant belongs to.
type User struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Email             string            `json:"email"`
	ApplicationStatus ApplicationStatus `json:"application_status"`
	AcceptedAt        *time.Time        `json:"accepted_at,omitempty"`
	ApplicantID       string            `json:"applicant_id,omitempty"`
}

// Candidate is a submitted applicant joined with its user, as seen by the matcher.
type Candidate struct {
	Applicant
	Name  string `json:"name"`
	Email string `json:"email"`
}
