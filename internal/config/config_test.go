package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DATABASE", "graph.db")
	t.Setenv("DB_TYPE", "")
	t.Setenv("AUTHZ_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBType)
	assert.Equal(t, 5, cfg.DBConnectionLimit)
	assert.False(t, cfg.AuthEnabled())
}

func TestLoadValidation(t *testing.T) {
	t.Run("database", func(t *testing.T) {
		t.Setenv("DB_DATABASE", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DB_DATABASE")
	})
	t.Run("server database needs a user", func(t *testing.T) {
		t.Setenv("DB_DATABASE", "graph")
		t.Setenv("DB_TYPE", "MySQL")
		t.Setenv("DB_USER", "")
		_, err := Load()
		assert.ErrorContains(t, err, "DB_USER")
	})
	t.Run("authorizer needs a client id", func(t *testing.T) {
		t.Setenv("DB_DATABASE", "graph.db")
		t.Setenv("DB_TYPE", "sqlite")
		t.Setenv("AUTHZ_URL", "http://authz:8080")
		t.Setenv("AUTHZ_CLIENT_ID", "")
		_, err := Load()
		assert.ErrorContains(t, err, "AUTHZ_CLIENT_ID")
	})
}

func TestLoadClient(t *testing.T) {
	t.Setenv("ENTITYGRAPH_URL", "http://graph:3000")
	t.Setenv("ENTITYGRAPH_TIMEOUT", "5")
	t.Setenv("ENTITYGRAPH_BATCH_QUERIES", "false")
	t.Setenv("ENTITYGRAPH_LIST_LAZY_LOADING", "not-a-bool")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, "http://graph:3000", cfg.URL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.False(t, cfg.Batch)
	assert.True(t, cfg.ListLoading, "unparsable values fall back to the default")

	t.Setenv("ENTITYGRAPH_TIMEOUT", "250ms")
	cfg, err = LoadClient()
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)

	t.Setenv("ENTITYGRAPH_URL", "graph:3000")
	_, err = LoadClient()
	assert.Error(t, err)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ENTITYGRAPH_TEST_VALUE=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("ENTITYGRAPH_TEST_VALUE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "from-file", os.Getenv("ENTITYGRAPH_TEST_VALUE"))
	assert.NoError(t, LoadEnvFile(""))
	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
