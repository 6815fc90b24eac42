// Package bulk applies operator-approved status decisions to batches of users.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/config"
	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
	"github.com/sells-group/review-cli/internal/notify"
)

// DefaultMaxBatch is the largest batch Apply accepts when none is configured.
const DefaultMaxBatch = 100

// UserStore is the slice of the store a bulk decision touches.
type UserStore interface {
	UsersByID(ctx context.Context, userIDs []string) ([]model.User, error)
	ApplyStatusChange(ctx context.Context, change model.StatusChange) ([]string, error)
}

// TransactionError reports that the atomic status change failed and nothing was committed.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return "bulk: status change failed, nothing committed: " + e.Err.Error()
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// Request is a validated bulk decision.
type Request struct {
	UserIDs []string                `json:"user_ids" validate:"required,min=1,dive,required"`
	Target  model.ApplicationStatus `json:"target" validate:"required,oneof=accepted rejected waitlisted"`
	ActorID string                  `json:"actor_id" validate:"required"`
}

// Plan is the eligibility check of a request against current user state.
type Plan struct {
	Request  Request
	Eligible []model.User
	Skipped  []string
}

// EligibleIDs returns the ids of the eligible users in request order.
func (p *Plan) EligibleIDs() []string {
	ids := make([]string, len(p.Eligible))
	for i, u := range p.Eligible {
		ids[i] = u.ID
	}
	return ids
}

// Transactor commits bulk decisions and sends their notifications.
type Transactor struct {
	store    UserStore
	sender   notify.Sender
	maxBatch int
	metrics  *metrics.Recorder
	now      func() time.Time
}

// NewTransactor creates a Transactor. rec may be nil.
func NewTransactor(st UserStore, sender notify.Sender, cfg config.BulkConfig, rec *metrics.Recorder) *Transactor {
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	return &Transactor{
		store:    st,
		sender:   sender,
		maxBatch: maxBatch,
		metrics:  rec,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Prepare validates a request and re-reads its users. Users no longer pending
// or waitlisted, and ids with no user, are skipped rather than failing the batch.
func (t *Transactor) Prepare(ctx context.Context, userIDs []string, target model.ApplicationStatus, actorID string) (*Plan, error) {
	req := Request{UserIDs: dedupe(userIDs), Target: target, ActorID: actorID}
	if err := model.Validate(req); err != nil {
		return nil, err
	}
	if len(req.UserIDs) > t.maxBatch {
		return nil, model.NewValidationError("user_ids", "batch of %d exceeds max of %d", len(req.UserIDs), t.maxBatch)
	}

	users, err := t.store.UsersByID(ctx, req.UserIDs)
	if err != nil {
		return nil, eris.Wrap(err, "bulk: load users")
	}
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	plan := &Plan{Request: req}
	for _, id := range req.UserIDs {
		u, ok := byID[id]
		if !ok || !u.ApplicationStatus.IsUndecided() {
			plan.Skipped = append(plan.Skipped, id)
			continue
		}
		plan.Eligible = append(plan.Eligible, u)
	}
	return plan, nil
}

// Apply moves every eligible user to target in one atomic step, then sends
// acceptance or rejection notifications one at a time. A failed notification
// is counted in FailureCount and never undoes the status change.
func (t *Transactor) Apply(ctx context.Context, userIDs []string, target model.ApplicationStatus, actorID string) (*model.BulkResult, error) {
	start := time.Now()
	log := zap.L().With(zap.String("target", string(target)), zap.String("actor", actorID))

	plan, err := t.Prepare(ctx, userIDs, target, actorID)
	if err != nil {
		return nil, err
	}

	res := &model.BulkResult{
		TotalEligible: len(plan.Eligible),
		Skipped:       plan.Skipped,
	}
	if len(plan.Eligible) == 0 {
		res.Message = "No eligible users to update"
		log.Info("bulk: nothing eligible", zap.Int("skipped", len(plan.Skipped)))
		return res, nil
	}

	change := t.statusChange(plan)

	changed, err := t.store.ApplyStatusChange(ctx, change)
	if err != nil {
		res.Message = "Status change failed; no users were updated"
		log.Error("bulk: status change failed", zap.Int("eligible", len(plan.Eligible)), zap.Error(err))
		return res, &TransactionError{Err: err}
	}
	res.SuccessCount = len(changed)

	log.Info("bulk: status change committed",
		zap.Int("updated", res.SuccessCount),
		zap.Int("skipped", len(plan.Skipped)),
		zap.String("audit_id", change.Audit.ID),
	)

	if kind, ok := notify.KindFor(target); ok {
		t.notifyAll(ctx, kind, plan.Eligible, changed, res)
	}

	res.Message = fmt.Sprintf("Updated %d of %d users to %s", res.SuccessCount, len(plan.Request.UserIDs), target)
	if res.FailureCount > 0 {
		res.Message += fmt.Sprintf(" (%d notifications failed)", res.FailureCount)
	}

	t.metrics.ObserveBulk(target, res, time.Since(start))
	return res, nil
}

func (t *Transactor) notifyAll(ctx context.Context, kind notify.MessageKind, users []model.User, changed []string, res *model.BulkResult) {
	did := make(map[string]bool, len(changed))
	for _, id := range changed {
		did[id] = true
	}

	for _, u := range users {
		if !did[u.ID] {
			continue
		}
		to := notify.Recipient{Name: u.Name, Email: u.Email}
		if err := t.sender.Send(ctx, kind, to); err != nil {
			res.FailureCount++
			var derr *notify.DeliveryError
			transient := errors.As(err, &derr) && derr.Transient()
			zap.L().Warn("bulk: notification failed",
				zap.String("user_id", u.ID),
				zap.String("kind", string(kind)),
				zap.Bool("transient", transient),
				zap.Error(err),
			)
			continue
		}
		res.NotificationsSent++
	}
}

// statusChange builds the write for a plan. The store fills the audit values
// from the users it actually moves.
func (t *Transactor) statusChange(plan *Plan) model.StatusChange {
	now := t.now()
	return model.StatusChange{
		UserIDs: plan.EligibleIDs(),
		Target:  plan.Request.Target,
		At:      now,
		Audit: model.AuditEntry{
			ID:         uuid.New().String(),
			ActorID:    plan.Request.ActorID,
			Action:     model.AuditActionBulkStatus,
			EntityType: "user",
			CreatedAt:  now,
		},
		Meta: model.AuditMetadata{
			Requested: len(plan.Request.UserIDs),
			Planned:   len(plan.Eligible),
			Skipped:   plan.Skipped,
			Target:    plan.Request.Target,
		},
	}
}

func dedupe(ids []string) []string {
	if ids == nil {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Chunk splits ids into consecutive batches of at most size.
func Chunk(ids []string, size int) [][]string {
	if size <= 0 {
		size = DefaultMaxBatch
	}
	var out [][]string
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		out = append(out, ids[start:end])
	}
	return out
}
