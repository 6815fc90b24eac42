package store

import (
	"database/sql"
	"testing"

	"github.com/sells-group/review-cli/internal/model"
)

// Fixtures shared with the store_test package.

func NewTestSQLiteStore(t *testing.T) *SQLiteStore { return newTestSQLiteStore(t) }

func SeedApplicant(t *testing.T, s *SQLiteStore, userID string, status model.ApplicationStatus) string {
	return seedApplicant(t, s.db, userID, status)
}

func SeedReview(t *testing.T, s *SQLiteStore, appID, reviewerID string, rating int) {
	seedReview(t, s.db, appID, reviewerID, rating)
}

func SeedScore(t *testing.T, s *SQLiteStore, appID string, score int) {
	seedScore(t, s.db, appID, score)
}

func CountRows(t *testing.T, s *SQLiteStore, query string, args ...any) int {
	return countRows(t, s.db, query, args...)
}

func DB(s *SQLiteStore) *sql.DB { return s.db }
