package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gotrs-ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "*/2 * * * *", cfg.Poll.Schedule)
	assert.Equal(t, 1, cfg.Poll.Workers)
	assert.Equal(t, 5*time.Second, cfg.Dedup.Tolerance)
	assert.Equal(t, 24*time.Hour, cfg.Valkey.StatusTTL)
	assert.Equal(t, "INBOX", cfg.Poll.Folder)
	assert.Equal(t, 5*time.Second, cfg.Poll.AuthTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Poll.SessionTimeout)
	assert.Less(t, cfg.Poll.SessionTimeout, 300*time.Second, "a session ends before the poll job deadline")
	assert.Equal(t, int64(1<<20), cfg.Normalize.MaxBodyBytes)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
  dsn: postgres://ingest@db/ingest
poll:
  workers: 4
  session_timeout: 90s
dedup:
  tolerance: 3s
filters:
  automated_subjects: ["ticket closed"]
logging:
  format: json
`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 4, cfg.Poll.Workers)
	assert.Equal(t, 90*time.Second, cfg.Poll.SessionTimeout)
	assert.Equal(t, 3*time.Second, cfg.Dedup.Tolerance)
	assert.Equal(t, []string{"ticket closed"}, cfg.Filters.AutomatedSubjects)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL, "unset keys keep their defaults")
	assert.Same(t, cfg, Get())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GOTRS_INGEST_POLL_WORKERS", "3")
	t.Setenv("GOTRS_INGEST_CRYPTO_SECRET", "from-env-secret-value")
	path := writeConfig(t, "poll:\n  workers: 2\n")

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Poll.Workers)
	assert.Equal(t, "from-env-secret-value", cfg.Crypto.Secret)
}

func TestValidateRejectsBadValues(t *testing.T) {
	path := writeConfig(t, "poll:\n  workers: 0\nlogging:\n  format: xml\n")
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll.workers")
	assert.Contains(t, err.Error(), "logging.format")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestSecretValidator(t *testing.T) {
	cfg := Defaults()
	cfg.App.Env = "production"
	cfg.Ops.JWTSecret = "short"
	err := ValidateSecrets(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crypto.secret")
	assert.Contains(t, err.Error(), "ops.jwt_secret")

	cfg.Crypto.Secret = "a-long-enough-vault-key"
	cfg.Ops.JWTSecret = "0123456789abcdef0123456789abcdef"
	assert.NoError(t, ValidateSecrets(cfg, nil))

	dev := Defaults()
	dev.Ops.JWTSecret = "dev-secret"
	assert.NoError(t, ValidateSecrets(dev, nil), "weak secrets only warn outside production")
}

func TestOnChangeListenersRun(t *testing.T) {
	var got *Config
	OnChange(func(c *Config) { got = c })
	next := Defaults()
	notify(next)
	assert.Same(t, next, got)
}
