package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/review-cli/internal/db"
	"github.com/sells-group/review-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS users (
	id                 TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name               TEXT NOT NULL DEFAULT '',
	email              TEXT NOT NULL DEFAULT '',
	application_status TEXT NOT NULL DEFAULT 'pending',
	accepted_at        TIMESTAMPTZ,
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS applicants (
	id                    TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	user_id               TEXT NOT NULL UNIQUE REFERENCES users(id),
	submitted_at          TIMESTAMPTZ,
	review_count          INTEGER NOT NULL DEFAULT 0 CHECK (review_count >= 0),
	average_rating        INTEGER,
	normalized_avg_rating INTEGER CHECK (normalized_avg_rating BETWEEN 0 AND 1000),
	internal_result       TEXT NOT NULL DEFAULT 'pending',
	last_normalized_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS reviews (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	application_id   TEXT NOT NULL REFERENCES applicants(id),
	reviewer_id      TEXT NOT NULL,
	rating           INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 10),
	adjusted_rating  DOUBLE PRECISION CHECK (adjusted_rating BETWEEN 0 AND 10),
	duration_seconds INTEGER CHECK (duration_seconds >= 0),
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (application_id, reviewer_id)
);

CREATE TABLE IF NOT EXISTS audit_log (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	actor_id     TEXT NOT NULL,
	action       TEXT NOT NULL,
	entity_type  TEXT NOT NULL,
	entity_ids   TEXT[] NOT NULL,
	before_value JSONB,
	after_value  JSONB,
	metadata     JSONB,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_users_status ON users(application_status);
CREATE INDEX IF NOT EXISTS idx_applicants_result ON applicants(internal_result) WHERE submitted_at IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_applicants_normalized ON applicants(normalized_avg_rating DESC NULLS LAST);
CREATE INDEX IF NOT EXISTS idx_reviews_reviewer ON reviews(reviewer_id);
CREATE INDEX IF NOT EXISTS idx_reviews_application ON reviews(application_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_created_at ON audit_log(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) ListReviews(ctx context.Context) ([]model.Review, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, application_id, reviewer_id, rating, adjusted_rating, duration_seconds, created_at FROM reviews ORDER BY application_id, reviewer_id`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reviews")
	}
	defer rows.Close()

	var reviews []model.Review
	for rows.Next() {
		var r model.Review
		if err := rows.Scan(&r.ID, &r.ApplicationID, &r.ReviewerID, &r.Rating, &r.AdjustedRating, &r.DurationSeconds, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan review")
		}
		reviews = append(reviews, r)
	}
	return reviews, eris.Wrap(rows.Err(), "postgres: iterate reviews")
}

// SaveNormalization writes every adjusted rating and applicant score in one
// transaction, staging each set with COPY and applying it with UPDATE ... FROM.
func (s *PostgresStore) SaveNormalization(ctx context.Context, w model.NormalizationWrite) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin normalization tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ratingRows := make([][]any, len(w.Ratings))
	for i, r := range w.Ratings {
		ratingRows[i] = []any{r.ReviewID, r.AdjustedRating}
	}
	reviewsUpdated, err := db.BulkUpdate(ctx, tx, db.UpdateConfig{
		Table:     "reviews",
		KeyColumn: "id",
		Columns:   []string{"id", "adjusted_rating"},
	}, ratingRows)
	if err != nil {
		return eris.Wrap(err, "postgres: save adjusted ratings")
	}

	scoreRows := make([][]any, len(w.Scores))
	for i, sc := range w.Scores {
		scoreRows[i] = []any{sc.ApplicantID, sc.NormalizedAvgRating, w.NormalizedAt}
	}
	applicantsUpdated, err := db.BulkUpdate(ctx, tx, db.UpdateConfig{
		Table:     "applicants",
		KeyColumn: "id",
		Columns:   []string{"id", "normalized_avg_rating", "last_normalized_at"},
	}, scoreRows)
	if err != nil {
		return eris.Wrap(err, "postgres: save applicant scores")
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrap(err, "postgres: commit normalization")
	}

	zap.L().Debug("postgres: normalization saved",
		zap.Int64("reviews", reviewsUpdated),
		zap.Int64("applicants", applicantsUpdated),
	)
	return nil
}

func (s *PostgresStore) ApplicantRatings(ctx context.Context, applicantIDs []string) (map[string][]int, error) {
	out := make(map[string][]int, len(applicantIDs))
	if len(applicantIDs) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT application_id, rating FROM reviews WHERE application_id = ANY($1) ORDER BY application_id, id`,
		applicantIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: applicant ratings")
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var rating int
		if err := rows.Scan(&id, &rating); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rating")
		}
		out[id] = append(out[id], rating)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate ratings")
}

const candidateColumns = `a.id, a.user_id, a.submitted_at, a.review_count, a.average_rating, a.normalized_avg_rating, a.internal_result, a.last_normalized_at, u.name, u.email`

func (s *PostgresStore) ListCandidates(ctx context.Context, q CandidateQuery) ([]model.Candidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM applicants a JOIN users u ON u.id = a.user_id WHERE a.submitted_at IS NOT NULL AND a.internal_result = ANY($1)`
	args := []any{statusStrings(q.Statuses)}
	argIdx := 2

	if q.MinScore != nil {
		query += fmt.Sprintf(` AND a.normalized_avg_rating >= $%d`, argIdx)
		args = append(args, *q.MinScore)
		argIdx++
	}
	if q.MaxScore != nil {
		query += fmt.Sprintf(` AND a.normalized_avg_rating <= $%d`, argIdx)
		args = append(args, *q.MaxScore)
		argIdx++
	}
	if q.MinReviewCount > 0 {
		query += fmt.Sprintf(` AND a.review_count >= $%d`, argIdx)
		args = append(args, q.MinReviewCount)
	}
	query += ` ORDER BY a.normalized_avg_rating DESC NULLS LAST, a.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list candidates")
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(
			&c.ID, &c.UserID, &c.SubmittedAt, &c.ReviewCount, &c.AverageRating,
			&c.NormalizedAvgRating, &c.InternalResult, &c.LastNormalizedAt, &c.Name, &c.Email,
		); err != nil {
			return nil, eris.Wrap(err, "postgres: scan candidate")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate candidates")
}

func (s *PostgresStore) StatusCounts(ctx context.Context) (model.StatusCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT internal_result, count(*) FROM applicants WHERE submitted_at IS NOT NULL GROUP BY internal_result`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	counts := model.NewStatusCounts()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[model.ApplicationStatus(status)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}

func (s *PostgresStore) UsersByID(ctx context.Context, userIDs []string) ([]model.User, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.email, u.application_status, u.accepted_at, coalesce(a.id, '') FROM users u LEFT JOIN applicants a ON a.user_id = u.id WHERE u.id = ANY($1) ORDER BY u.id`,
		userIDs,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: users by id")
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.ApplicationStatus, &u.AcceptedAt, &u.ApplicantID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "postgres: iterate users")
}

// ApplyStatusChange moves every still-undecided user to the target status,
// mirrors it onto their applicants and writes one audit row, all in one
// transaction. Users that settled since the caller checked are left alone.
// It returns the ids that changed.
func (s *PostgresStore) ApplyStatusChange(ctx context.Context, change model.StatusChange) ([]string, error) {
	if len(change.UserIDs) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin status tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx,
		`WITH prior AS (SELECT id, application_status FROM users WHERE id = ANY($4) AND application_status = ANY($5) FOR UPDATE)
		UPDATE users u SET application_status = $1, accepted_at = $2, updated_at = $3 FROM prior WHERE u.id = prior.id
		RETURNING u.id, prior.application_status`,
		string(change.Target), acceptedAt(change), change.At, change.UserIDs, undecidedStatuses,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update user status")
	}
	moved, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ChangedUser, error) {
		var u model.ChangedUser
		err := row.Scan(&u.ID, &u.From)
		return u, err
	})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: collect changed users")
	}
	if len(moved) == 0 {
		return nil, nil
	}

	audit, err := change.AuditFor(moved)
	if err != nil {
		return nil, err
	}
	changed := audit.EntityIDs

	if _, err := tx.Exec(ctx,
		`UPDATE applicants SET internal_result = $1 WHERE user_id = ANY($2)`,
		string(change.Target), changed,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: mirror applicant result")
	}

	if audit.ID == "" {
		audit.ID = uuid.New().String()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO audit_log (id, actor_id, action, entity_type, entity_ids, before_value, after_value, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		audit.ID, audit.ActorID, audit.Action, audit.EntityType, changed,
		[]byte(audit.BeforeValue), []byte(audit.AfterValue), []byte(audit.Metadata), change.At,
	); err != nil {
		return nil, eris.Wrap(err, "postgres: insert audit entry")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: commit status change")
	}
	return changed, nil
}
