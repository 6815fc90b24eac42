package model

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
)

// AuditActionBulkStatus is the audit action written for every committed bulk decision.
const AuditActionBulkStatus = "bulk_status_update"

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID          string          `json:"id"`
	ActorID     string          `json:"actor_id"`
	Action      string          `json:"action"`
	EntityType  string          `json:"entity_type"`
	EntityIDs   []string        `json:"entity_ids"`
	BeforeValue json.RawMessage `json:"before_value"`
	AfterValue  json.RawMessage `json:"after_value"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AuditMetadata is the metadata of a bulk status audit entry. Planned is what
// the pre-transaction check found eligible; Changed is what the write moved.
type AuditMetadata struct {
	Requested int               `json:"requested"`
	Planned   int               `json:"planned"`
	Changed   int               `json:"changed"`
	Skipped   []string          `json:"skipped,omitempty"`
	Target    ApplicationStatus `json:"target"`
}

// ChangedUser is a user moved by a status change, with the status it left.
type ChangedUser struct {
	ID   string
	From ApplicationStatus
}

// StatusChange is a bulk status mutation handed to the store as one atomic unit.
// Audit carries the identity fields of the entry; its values are filled by AuditFor.
type StatusChange struct {
	UserIDs []string
	Target  ApplicationStatus
	At      time.Time
	Audit   AuditEntry
	Meta    AuditMetadata
}

// AuditFor builds the audit entry for the users the store actually moved.
// Entity ids come out sorted.
func (c StatusChange) AuditFor(changed []ChangedUser) (AuditEntry, error) {
	entry := c.Audit
	entry.EntityIDs = make([]string, len(changed))
	before := StatusCounts{}
	for i, u := range changed {
		entry.EntityIDs[i] = u.ID
		before[u.From]++
	}
	sort.Strings(entry.EntityIDs)
	after := StatusCounts{c.Target: len(changed)}

	meta := c.Meta
	meta.Changed = len(changed)
	if meta.Target == "" {
		meta.Target = c.Target
	}

	var err error
	if entry.BeforeValue, err = json.Marshal(before); err != nil {
		return AuditEntry{}, eris.Wrap(err, "model: marshal audit before value")
	}
	if entry.AfterValue, err = json.Marshal(after); err != nil {
		return AuditEntry{}, eris.Wrap(err, "model: marshal audit after value")
	}
	if entry.Metadata, err = json.Marshal(meta); err != nil {
		return AuditEntry{}, eris.Wrap(err, "model: marshal audit metadata")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.At
	}
	return entry, nil
}

// BulkResult reports a bulk decision.
type BulkResult struct {
	SuccessCount      int      `json:"success_count"`
	FailureCount      int      `json:"failure_count"`
	TotalEligible     int      `json:"total"`
	Skipped           []string `json:"skipped,omitempty"`
	NotificationsSent int      `json:"notifications_sent"`
	Message           string   `json:"message"`
}
