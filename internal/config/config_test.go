package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Business.LockRetryAttempts)
	assert.Equal(t, "@every 15m", cfg.Business.ReconcileCron)
	assert.Equal(t, "gymledger.credit", cfg.Kafka.Topic.Credit)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
server:
  port: 9090
database:
  driver: postgres
  port: 5432
business:
  lock_retry_attempts: 5
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 5, cfg.Business.LockRetryAttempts)
	assert.Equal(t, 10, cfg.Database.MaxIdleConns)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("GYMLEDGER_DATABASE_PASSWORD", "s3cret")
	t.Setenv("GYMLEDGER_SERVER_PORT", "7070")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Database.Password)
	assert.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Database: DatabaseConfig{Driver: "sqlserver"},
		Business: BusinessConfig{LockRetryAttempts: 3},
	}
	assert.Error(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	assert.NoError(t, cfg.Validate())

	cfg.Business.LockRetryAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg.Business.LockRetryAttempts = 1
	cfg.Business.NodeID = 4096
	assert.Error(t, cfg.Validate())
}
