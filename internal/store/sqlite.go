package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/review-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY,
	name               TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	application_status TEXT NOT NULL DEFAULT 'pending',
	accepted_at        DATETIME,
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS applicants (
	id                    TEXT PRIMARY KEY,
	user_id               TEXT NOT NULL UNIQUE REFERENCES users(id),
	submitted_at          DATETIME,
	review_count          INTEGER NOT NULL DEFAULT 0 CHECK (review_count >= 0),
	average_rating        INTEGER,
	normalized_avg_rating INTEGER CHECK (normalized_avg_rating BETWEEN 0 AND 1000),
	internal_result       TEXT NOT NULL DEFAULT 'pending',
	last_normalized_at    DATETIME
);

CREATE TABLE IF NOT EXISTS reviews (
	id               TEXT PRIMARY KEY,
	application_id   TEXT NOT NULL REFERENCES applicants(id),
	reviewer_id      TEXT NOT NULL,
	rating           INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 10),
	adjusted_rating  REAL CHECK (adjusted_rating BETWEEN 0 AND 10),
	duration_seconds INTEGER CHECK (duration_seconds >= 0),
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (application_id, reviewer_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY,
	actor_id     TEXT NOT NULL,
	action       TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_ids   TEXT NOT NULL,
	before_value TEXT,
	after_value  TEXT,
	metadata     TEXT,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_users_status ON users(application_status);
CREATE INDEX IF NOT EXISTS idx_applicants_result ON applicants(internal_result);
CREATE INDEX IF NOT EXISTS idx_reviews_reviewer ON reviews(reviewer_id);
CREATE INDEX IF NOT EXISTS idx_reviews_application ON reviews(application_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ListReviews(ctx context.Context) ([]model.Review, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, application_id, reviewer_id, rating, adjusted_rating, duration_seconds, created_at FROM reviews ORDER BY application_id, reviewer_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reviews")
	}
	defer rows.Close() //nolint:errcheck

	var reviews []model.Review
	for rows.Next() {
		var r model.Review
		var adjusted sql.NullFloat64
		var duration sql.NullInt64
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.ReviewerID, &r.Rating, &adjusted, &duration, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan review")
		}
		if adjusted.Valid {
			v := adjusted.Float64
			r.AdjustedRating = &v
		}
		if duration.Valid {
			v := int(duration.Int64)
			r.DurationSeconds = &v
		}
		reviews = append(reviews, r)
	}
	return reviews, eris.Wrap(rows.Err(), "sqlite: iterate reviews")
}

func (s *SQLiteStore) SaveNormalization(ctx context.Context, w model.NormalizationWrite) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin normalization tx")
	}
	defer tx.Rollback() //nolint:errcheck

	ratingStmt, err := tx.PrepareContext(ctx, `UPDATE reviews SET adjusted_rating = ? WHERE id = ?`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare rating update")
	}
	defer ratingStmt.Close() //nolint:errcheck
	for _, r := range w.Ratings {
		if _, err := ratingStmt.ExecContext(ctx, r.AdjustedRating, r.ReviewID); err != nil {
			return eris.Wrapf(err, "sqlite: update review %s", r.ReviewID)
		}
	}

	scoreStmt, err := tx.PrepareContext(ctx, `UPDATE applicants SET normalized_avg_rating = ?, last_normalized_at = ? WHERE id = ?`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare score update")
	}
	defer scoreStmt.Close() //nolint:errcheck
	for _, sc := range w.Scores {
		if _, err := scoreStmt.ExecContext(ctx, sc.NormalizedAvgRating, w.NormalizedAt, sc.ApplicantID); err != nil {
			return eris.Wrapf(err, "sqlite: update applicant %s", sc.ApplicantID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit normalization")
}

func (s *SQLiteStore) ApplicantRatings(ctx context.Context, applicantIDs []string) (map[string][]int, error) {
	out := make(map[string][]int, len(applicantIDs))
	if len(applicantIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT application_id, rating FROM reviews WHERE application_id IN (`+placeholders(len(applicantIDs))+`) ORDER BY application_id, id`,
		stringArgs(applicantIDs)...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: applicant ratings")
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var id string
		var rating int
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rating")
		}
		out[id] = append(out[id], rating)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate ratings")
}

func (s *SQLiteStore) ListCandidates(ctx context.Context, q CandidateQuery) ([]model.Candidate, error) {
	if len(q.Statuses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + candidateColumns + ` FROM applicants a JOIN users u ON u.id = a.user_id WHERE a.submitted_at IS NOT NULL AND a.internal_result IN (` + placeholders(len(q.Statuses)) + `)`
	args := stringArgs(statusStrings(q.Statuses))

	if q.MinScore != nil {
		query += ` AND a.normalized_avg_rating >= ?`
		args = append(args, *q.MinScore)
	}
	if q.MaxScore != nil {
		query += ` AND a.normalized_avg_rating <= ?`
		args = append(args, *q.MaxScore)
	}
	if q.MinReviewCount > 0 {
		query += ` AND a.review_count >= ?`
		args = append(args, q.MinReviewCount)
	}
	query += ` ORDER BY a.normalized_avg_rating IS NULL, a.normalized_avg_rating DESC, a.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list candidates")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate candidates")
}

func (s *SQLiteStore) StatusCounts(ctx context.Context) (model.StatusCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT internal_result, count(*) FROM applicants WHERE submitted_at IS NOT NULL GROUP BY internal_result`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: status counts")
	}
	defer rows.Close() //nolint:errcheck

	counts := model.NewStatusCounts()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan status count")
		}
		counts[model.ApplicationStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: iterate status counts")
}

func (s *SQLiteStore) UsersByID(ctx context.Context, userIDs []string) ([]model.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.name, u.email, u.application_status, u.accepted_at, coalesce(a.id, '') FROM users u LEFT JOIN applicants a ON a.user_id = u.id WHERE u.id IN (`+placeholders(len(userIDs))+`) ORDER BY u.id`,
		stringArgs(userIDs)...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: users by id")
	}
	defer rows.Close() //nolint:errcheck

	var users []model.User
	for rows.Next() {
		var u model.User
		var accepted sql.NullTime
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.ApplicationStatus, &accepted, &u.ApplicantID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user")
		}
		if accepted.Valid {
			t := accepted.Time
			u.AcceptedAt = &t
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "sqlite: iterate users")
}

func (s *SQLiteStore) ApplyStatusChange(ctx context.Context, change model.StatusChange) ([]string, error) {
	if len(change.UserIDs) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin status tx")
	}
	defer tx.Rollback() //nolint:errcheck

	guard := `id IN (` + placeholders(len(change.UserIDs)) + `) AND application_status IN (` + placeholders(len(undecidedStatuses)) + `)`
	guardArgs := append(stringArgs(change.UserIDs), stringArgs(undecidedStatuses)...)

	prior, err := priorStatuses(ctx, tx, guard, guardArgs)
	if err != nil {
		return nil, err
	}

	args := append([]any{string(change.Target), acceptedAt(change), change.At}, guardArgs...)
	rows, err := tx.QueryContext(ctx,
		`UPDATE users SET application_status = ?, accepted_at = ?, updated_at = ? WHERE `+guard+` RETURNING id`,
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: update user status")
	}
	var moved []model.ChangedUser
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "sqlite: scan changed user")
		}
		moved = append(moved, model.ChangedUser{ID: id, From: prior[id]})
	}
	if err := rows.Close(); err != nil {
		return nil, eris.Wrap(err, "sqlite: close changed users")
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate changed users")
	}
	if len(moved) == 0 {
		return nil, nil
	}

	audit, err := change.AuditFor(moved)
	if err != nil {
		return nil, err
	}
	changed := audit.EntityIDs

	mirrorArgs := append([]any{string(change.Target)}, stringArgs(changed)...)
	if _, err := tx.ExecContext(ctx,
		`UPDATE applicants SET internal_result = ? WHERE user_id IN (`+placeholders(len(changed))+`)`,
		mirrorArgs...,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: mirror applicant result")
	}

	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	idsJSON, err := json.Marshal(changed)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal entity ids")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity_type, entity_ids, before_value, after_value, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		audit.ID, audit.ActorID, audit.Action, audit.EntityType, string(idsJSON),
		nullableJSON(audit.BeforeValue), nullableJSON(audit.AfterValue), nullableJSON(audit.Metadata), change.At,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: insert audit entry")
	}

	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: commit status change")
	}
	return changed, nil
}

// priorStatuses reads the current status of the users a guarded update will touch.
func priorStatuses(ctx context.Context, tx *sql.Tx, guard string, args []any) (map[string]model.ApplicationStatus, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id, application_status FROM users WHERE `+guard, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: read prior status")
	}
	defer rows.Close() //nolint:errcheck

	out := make(map[string]model.ApplicationStatus)
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prior status")
		}
		out[id] = model.ApplicationStatus(status)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate prior status")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCandidate(row scannable) (*model.Candidate, error) {
	var c model.Candidate
	var submitted, normalizedAt sql.NullTime
	var average, normalized sql.NullInt64

	if err := row.Scan(
		&c.ID, &c.UserID, &submitted, &c.ReviewCount, &average,
		&normalized, &c.InternalResult, &normalizedAt, &c.Name, &c.Email,
	); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan candidate")
	}
	if submitted.Valid {
		t := submitted.Time
		c.SubmittedAt = &t
	}
	if normalizedAt.Valid {
		t := normalizedAt.Time
		c.LastNormalizedAt = &t
	}
	if average.Valid {
		v := int(average.Int64)
		c.AverageRating = &v
	}
	if normalized.Valid {
		v := int(normalized.Int64)
		c.NormalizedAvgRating = &v
	}
	return &c, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(vals []string) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
