package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"DFLOW_HOSTS", "DFLOW_WORKERS_PER_HOST", "DFLOW_BLOCK_SIZE",
		"DFLOW_BLOCK_POOL_CAP_BYTES", "DFLOW_SWAP_DIR", "DFLOW_SELF_VERIFY",
	} {
		old, had := os.LookupEnv(k)
		require.NoError(t, os.Unsetenv(k))
		t.Cleanup(func() {
			if had {
				_ = os.Setenv(k, old)
			}
		})
	}
}

func TestLoadFromTOML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
hosts = ["10.0.0.1:9000", "10.0.0.2:9000"]
workers_per_host = 4
block_size = 65536
swap_dir = "/var/dflow/swap"
self_verify = true
`), 0o644))

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1:9000", "10.0.0.2:9000"}, c.Hosts)
	require.Equal(t, 4, c.WorkersPerHost)
	require.Equal(t, 65536, c.BlockSize)
	require.Equal(t, "/var/dflow/swap", c.SwapDir)
	require.True(t, c.SelfVerify)
	require.Greater(t, c.BlockPoolCapBytes, int64(0))
	require.Equal(t, 0, c.RankOf("10.0.0.1:9000"))
	require.Equal(t, 1, c.RankOf("10.0.0.2:9000"))
	require.Equal(t, -1, c.RankOf("nope"))
	require.Equal(t, 2, c.NumHosts())
}

func TestLoadFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("DFLOW_HOSTS", "a:1,b:2,c:3")
	t.Setenv("DFLOW_WORKERS_PER_HOST", "8")
	t.Setenv("DFLOW_BLOCK_POOL_CAP_BYTES", "1048576")

	c, err := Load("")
	require.NoError(t, err)
	require.Equal(t, []string{"a:1", "b:2", "c:3"}, c.Hosts)
	require.Equal(t, 8, c.WorkersPerHost)
	require.Equal(t, int64(1048576), c.BlockPoolCapBytes)
	require.Equal(t, DefaultBlockSize, c.BlockSize)
	require.Equal(t, DefaultSwapDir, c.SwapDir)
}

func TestLoadNoHostsIsAnError(t *testing.T) {
	clearEnv(t)
	_, err := Load("")
	require.Error(t, err)
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "cluster.toml")
	require.NoError(t, os.WriteFile(path, []byte(`hosts = ["file-host:1"]`), 0o644))
	t.Setenv("DFLOW_HOSTS", "env-host:1")

	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"env-host:1"}, c.Hosts)
}
