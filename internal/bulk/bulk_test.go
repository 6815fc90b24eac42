package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/review-cli/internal/config"
	"github.com/sells-group/review-cli/internal/metrics"
	"github.com/sells-group/review-cli/internal/model"
	"github.com/sells-group/review-cli/internal/notify"
)

type fakeStore struct {
	users     map[string]model.User
	changes   []model.StatusChange
	audits    []model.AuditEntry
	lookups   int
	applyErr  error
	raceDrops map[string]bool // users that settle between Prepare and the write
}

func newFakeStore(users ...model.User) *fakeStore {
	st := &fakeStore{users: map[string]model.User{}}
	for _, u := range users {
		st.users[u.ID] = u
	}
	return st
}

func (f *fakeStore) UsersByID(_ context.Context, ids []string) ([]model.User, error) {
	f.lookups++
	var out []model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) ApplyStatusChange(_ context.Context, change model.StatusChange) ([]string, error) {
	f.changes = append(f.changes, change)
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	var changed []string
	var moved []model.ChangedUser
	for _, id := range change.UserIDs {
		if f.raceDrops[id] {
			continue
		}
		u := f.users[id]
		moved = append(moved, model.ChangedUser{ID: id, From: u.ApplicationStatus})
		u.ApplicationStatus = change.Target
		f.users[id] = u
		changed = append(changed, id)
	}
	if len(moved) > 0 {
		audit, err := change.AuditFor(moved)
		if err != nil {
			return nil, err
		}
		f.audits = append(f.audits, audit)
	}
	return changed, nil
}

type sent struct {
	kind notify.MessageKind
	to   notify.Recipient
}

type fakeSender struct {
	sent   []sent
	failTo map[string]bool
}

func (f *fakeSender) Send(_ context.Context, kind notify.MessageKind, to notify.Recipient) error {
	if f.failTo[to.Email] {
		return &notify.DeliveryError{Kind: kind, Recipient: to, StatusCode: 502, Err: errors.New("bad gateway")}
	}
	f.sent = append(f.sent, sent{kind: kind, to: to})
	return nil
}

func user(id string, status model.ApplicationStatus) model.User {
	return model.User{
		ID:                id,
		Name:              "User " + id,
		Email:             id + "@example.com",
		ApplicationStatus: status,
		ApplicantID:       "app-" + id,
	}
}

func newTestTransactor(st UserStore, sender notify.Sender, maxBatch int) *Transactor {
	tr := NewTransactor(st, sender, config.BulkConfig{MaxBatch: maxBatch, ActorID: "system"}, metrics.NewRecorder())
	tr.now = func() time.Time { return time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) }
	return tr
}

func TestApply_SkipsSettledUsers(t *testing.T) {
	st := newFakeStore(
		user("u1", model.StatusPending),
		user("u2", model.StatusWaitlisted),
		user("u3", model.StatusAccepted),
	)
	sender := &fakeSender{}
	tr := newTestTransactor(st, sender, 100)

	res, err := tr.Apply(context.Background(), []string{"u1", "u2", "u3"}, model.StatusAccepted, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 0, res.FailureCount)
	assert.Equal(t, 2, res.TotalEligible)
	assert.Equal(t, []string{"u3"}, res.Skipped)
	assert.Equal(t, 2, res.NotificationsSent)
	assert.Equal(t, "Updated 2 of 3 users to accepted", res.Message)

	require.Len(t, st.changes, 1)
	assert.Equal(t, []string{"u1", "u2"}, st.changes[0].UserIDs)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, notify.KindAcceptance, sender.sent[0].kind)
	assert.Equal(t, "u1@example.com", sender.sent[0].to.Email)
}

func TestApply_AuditEntry(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending), user("u2", model.StatusWaitlisted))
	tr := newTestTransactor(st, &fakeSender{}, 100)

	_, err := tr.Apply(context.Background(), []string{"u1", "u2", "ghost"}, model.StatusRejected, "admin-7")
	require.NoError(t, err)
	require.Len(t, st.audits, 1)

	audit := st.audits[0]
	assert.NotEmpty(t, audit.ID)
	assert.Equal(t, "admin-7", audit.ActorID)
	assert.Equal(t, model.AuditActionBulkStatus, audit.Action)
	assert.Equal(t, "user", audit.EntityType)
	assert.Equal(t, []string{"u1", "u2"}, audit.EntityIDs)
	assert.JSONEq(t, `{"pending":1,"waitlisted":1}`, string(audit.BeforeValue))
	assert.JSONEq(t, `{"rejected":2}`, string(audit.AfterValue))

	var meta map[string]any
	require.NoError(t, json.Unmarshal(audit.Metadata, &meta))
	assert.Equal(t, float64(3), meta["requested"])
	assert.Equal(t, float64(2), meta["planned"])
	assert.Equal(t, float64(2), meta["changed"])
	assert.Equal(t, []any{"ghost"}, meta["skipped"])
	assert.Equal(t, "rejected", meta["target"])
	require.Len(t, st.changes, 1)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), st.changes[0].At)
}

func TestApply_WaitlistSendsNothing(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending), user("u2", model.StatusWaitlisted))
	sender := &fakeSender{}
	tr := newTestTransactor(st, sender, 100)

	res, err := tr.Apply(context.Background(), []string{"u1", "u2"}, model.StatusWaitlisted, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.SuccessCount)
	assert.Equal(t, 0, res.NotificationsSent)
	assert.Empty(t, sender.sent)
}

func TestApply_NotificationFailureIsCounted(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending), user("u2", model.StatusPending), user("u3", model.StatusPending))
	sender := &fakeSender{failTo: map[string]bool{"u2@example.com": true}}
	tr := newTestTransactor(st, sender, 100)

	res, err := tr.Apply(context.Background(), []string{"u1", "u2", "u3"}, model.StatusRejected, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 3, res.SuccessCount)
	assert.Equal(t, 1, res.FailureCount)
	assert.Equal(t, 2, res.NotificationsSent)
	assert.Contains(t, res.Message, "1 notifications failed")
	assert.Equal(t, model.StatusRejected, st.users["u2"].ApplicationStatus, "status change stands")
	require.Len(t, sender.sent, 2)
	assert.Equal(t, "u3@example.com", sender.sent[1].to.Email, "remaining sends continue")
}

func TestApply_NotificationFailureLogsTransient(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	st := newFakeStore(user("u1", model.StatusPending), user("u2", model.StatusPending))
	sender := &fakeSender{failTo: map[string]bool{"u1@example.com": true}}
	tr := newTestTransactor(st, sender, 100)

	_, err := tr.Apply(context.Background(), []string{"u1", "u2"}, model.StatusAccepted, "admin-1")
	require.NoError(t, err)

	entries := logs.FilterMessage("bulk: notification failed").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "u1", fields["user_id"])
	assert.Equal(t, true, fields["transient"], "502 is worth retrying")
}

func TestApply_TransactionFailure(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending))
	st.applyErr = errors.New("deadlock detected")
	sender := &fakeSender{}
	tr := newTestTransactor(st, sender, 100)

	res, err := tr.Apply(context.Background(), []string{"u1"}, model.StatusAccepted, "admin-1")
	require.Error(t, err)
	var txErr *TransactionError
	require.True(t, errors.As(err, &txErr))
	assert.Contains(t, err.Error(), "deadlock detected")

	require.NotNil(t, res)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 1, res.TotalEligible)
	assert.Empty(t, sender.sent)
}

func TestApply_NothingEligible(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusAccepted), user("u2", model.StatusCancelled))
	sender := &fakeSender{}
	tr := newTestTransactor(st, sender, 100)

	res, err := tr.Apply(context.Background(), []string{"u1", "u2", "ghost"}, model.StatusRejected, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 0, res.SuccessCount)
	assert.Equal(t, 0, res.TotalEligible)
	assert.Equal(t, []string{"u1", "u2", "ghost"}, res.Skipped)
	assert.Empty(t, st.changes)
	assert.Empty(t, sender.sent)
}

func TestApply_RaceOnlyNotifiesChangedUsers(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending), user("u2", model.StatusPending))
	st.raceDrops = map[string]bool{"u2": true}
	sender := &fakeSender{}
	tr := newTestTransactor(st, sender, 100)

	res, err := tr.Apply(context.Background(), []string{"u1", "u2"}, model.StatusAccepted, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "u1@example.com", sender.sent[0].to.Email)

	require.Len(t, st.audits, 1)
	audit := st.audits[0]
	assert.Equal(t, []string{"u1"}, audit.EntityIDs)
	assert.JSONEq(t, `{"pending":1}`, string(audit.BeforeValue))
	assert.JSONEq(t, `{"accepted":1}`, string(audit.AfterValue))
	var meta model.AuditMetadata
	require.NoError(t, json.Unmarshal(audit.Metadata, &meta))
	assert.Equal(t, 2, meta.Planned)
	assert.Equal(t, 1, meta.Changed)
}

func TestApply_DuplicateIDs(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending))
	sender := &fakeSender{}
	tr := newTestTransactor(st, sender, 1)

	res, err := tr.Apply(context.Background(), []string{"u1", "u1"}, model.StatusAccepted, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.SuccessCount)
	assert.Len(t, sender.sent, 1)
}

func TestApply_ValidationBeforeQuery(t *testing.T) {
	ids := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("u%d", i)
		}
		return out
	}

	cases := []struct {
		name   string
		ids    []string
		target model.ApplicationStatus
		actor  string
		field  string
	}{
		{"too many", ids(4), model.StatusAccepted, "admin-1", "user_ids"},
		{"no ids", nil, model.StatusAccepted, "admin-1", "user_ids"},
		{"empty ids", []string{}, model.StatusAccepted, "admin-1", "user_ids"},
		{"blank id", []string{""}, model.StatusAccepted, "admin-1", "user_ids[0]"},
		{"unknown target", ids(1), "promoted", "admin-1", "target"},
		{"pending target", ids(1), model.StatusPending, "admin-1", "target"},
		{"missing actor", ids(1), model.StatusAccepted, "", "actor_id"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newFakeStore()
			tr := newTestTransactor(st, &fakeSender{}, 3)

			res, err := tr.Apply(context.Background(), tc.ids, tc.target, tc.actor)
			require.Error(t, err)
			assert.Nil(t, res)
			var verr *model.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, 0, st.lookups)
			assert.Empty(t, st.changes)
		})
	}
}

func TestPrepare_DryRun(t *testing.T) {
	st := newFakeStore(user("u1", model.StatusPending), user("u2", model.StatusRejected))
	tr := newTestTransactor(st, &fakeSender{}, 100)

	plan, err := tr.Prepare(context.Background(), []string{"u1", "u2"}, model.StatusAccepted, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, plan.EligibleIDs())
	assert.Equal(t, []string{"u2"}, plan.Skipped)
	assert.Empty(t, st.changes)
}

func TestNewTransactor_DefaultMaxBatch(t *testing.T) {
	tr := NewTransactor(newFakeStore(), &fakeSender{}, config.BulkConfig{}, nil)
	assert.Equal(t, DefaultMaxBatch, tr.maxBatch)
}

func TestChunk(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Chunk(ids, 2))
	assert.Equal(t, [][]string{ids}, Chunk(ids, 0))
	assert.Nil(t, Chunk(nil, 2))
}
