package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.InDelta(t, 5.5, cfg.Normalization.TargetAvg, 0.001)
	assert.Equal(t, 3, cfg.Normalization.MinReviewsThreshold)
	assert.InDelta(t, 2.0, cfg.Normalization.ZScoreThreshold, 0.001)
	assert.Equal(t, 5, cfg.Confidence.MaxReviews)
	assert.InDelta(t, 0.4, cfg.Confidence.CoverageWeight, 0.001)
	assert.InDelta(t, 0.4, cfg.Confidence.AgreementWeight, 0.001)
	assert.InDelta(t, 0.2, cfg.Confidence.ReliabilityWeight, 0.001)
	assert.InDelta(t, 0.7, cfg.Confidence.ReliabilityTerm, 0.001)
	assert.Equal(t, 100, cfg.Bulk.MaxBatch)
	assert.Equal(t, "system", cfg.Bulk.ActorID)
	assert.Equal(t, "log", cfg.Notify.Driver)
	assert.Empty(t, cfg.Metrics.Textfile)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: review.db
log:
  level: debug
  format: console
normalization:
  target_avg: 5.4
bulk:
  max_batch: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "review.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 5.4, cfg.Normalization.TargetAvg, 0.001)
	assert.Equal(t, 50, cfg.Bulk.MaxBatch)
	// Defaults still apply for unset values
	assert.Equal(t, 3, cfg.Normalization.MinReviewsThreshold)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("REVIEW_STORE_DRIVER", "postgres")
	t.Setenv("REVIEW_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("REVIEW_BULK_ACTOR_ID=ops-lead\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("REVIEW_BULK_ACTOR_ID") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "ops-lead", cfg.Bulk.ActorID)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/review"
	cfg.Bulk.MaxBatch = 100
	cfg.Bulk.ActorID = "system"
	cfg.Notify.Driver = "log"
	cfg.Notify.RatePerSec = 5
	return cfg
}

func TestValidateStore_Postgres(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("store"))

	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidateStore_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""
	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateStore_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"
	err := cfg.Validate("store")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver must be postgres or sqlite")
}

func TestValidateApply(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("apply"))

	cfg.Bulk.MaxBatch = 0
	cfg.Bulk.ActorID = ""
	err := cfg.Validate("apply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bulk.max_batch must be >= 1")
	assert.Contains(t, err.Error(), "bulk.actor_id is required")
}

func TestValidateApply_WebhookNeedsURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Notify.Driver = "webhook"

	err := cfg.Validate("apply")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.webhook_url is required")

	cfg.Notify.WebhookURL = "https://hooks.example.com/decisions"
	assert.NoError(t, cfg.Validate("apply"))
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
