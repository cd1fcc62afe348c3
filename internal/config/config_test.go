package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrpldata/ledgercache/internal/core"
)

// chdir moves into an empty directory so a ledgercache.yaml in the repo
// (or a developer's working tree) cannot leak into the test.
func chdir(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoadDefaults(t *testing.T) {
	chdir(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "r2", cfg.StoreBackend)
	assert.Equal(t, core.DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, core.DefaultClioURL, cfg.ClioURL)
	assert.Equal(t, 30, cfg.RequestTimeoutSec)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 3.0, cfg.QueryRatePerSec)
}

func TestLoadEnvOverrides(t *testing.T) {
	chdir(t)
	t.Setenv("LEDGERCACHE_STORE_BACKEND", "filesystem")
	t.Setenv("LEDGERCACHE_RPC_URL", "http://localhost:5005/")
	t.Setenv("LEDGERCACHE_QUERY_RATE_PER_SEC", "10")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "filesystem", cfg.StoreBackend)
	assert.Equal(t, "http://localhost:5005/", cfg.RPCURL)
	assert.Equal(t, 10.0, cfg.QueryRatePerSec)
}

func TestLoadBareR2Names(t *testing.T) {
	chdir(t)
	t.Setenv("R2_ACCOUNT_ID", "acct")
	t.Setenv("R2_ACCESS_KEY_ID", "key")
	t.Setenv("R2_SECRET_ACCESS_KEY", "secret")
	t.Setenv("R2_BUCKET_NAME", "ledger-caches")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "acct", cfg.R2AccountID)
	assert.Equal(t, "key", cfg.R2AccessKeyID)
	assert.Equal(t, "secret", cfg.R2SecretAccessKey)
	assert.Equal(t, "ledger-caches", cfg.R2Bucket)
}

func TestLoadPrefixedNamesWinOverBare(t *testing.T) {
	chdir(t)
	t.Setenv("R2_BUCKET_NAME", "old-bucket")
	t.Setenv("LEDGERCACHE_R2_BUCKET_NAME", "new-bucket")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "new-bucket", cfg.R2Bucket)
}

func TestLoadConfigFile(t *testing.T) {
	chdir(t)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(wd, "ledgercache.yaml"),
		[]byte("store_backend: filesystem\ncache_dir: /tmp/caches\n"), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "filesystem", cfg.StoreBackend)
	assert.Equal(t, "/tmp/caches", cfg.CacheDir)
}
