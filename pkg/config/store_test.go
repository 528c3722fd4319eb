package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pg-sharding/shardkv/pkg/config"
)

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadYaml(t *testing.T) {
	assert := assert.New(t)

	path := writeFile(t, "store.yaml", `
log_level: debug
data_folder: /var/lib/shardkv
sharding_enabled: true
durability: sync
read_queue_soft_limit: 10
read_queue_hard_limit: 20
normal_read_timeout_ms: 250
`)
	require.NoError(t, config.LoadStoreCfg(path))

	cfg := config.StoreConfig()
	assert.Equal("debug", cfg.LogLevel)
	assert.Equal("/var/lib/shardkv", cfg.DataFolder)
	assert.True(cfg.ShardingEnabled)
	assert.Equal("sync", cfg.Durability)
	assert.EqualValues(10, cfg.ReadQueueSoftLimit)
	assert.EqualValues(20, cfg.ReadQueueHardLimit)
	assert.Equal(250, cfg.NormalReadTimeoutMs)

	// Unset knobs keep their defaults.
	assert.Equal(config.DefaultStoreCfg().ReaderPoolSize, cfg.ReaderPoolSize)
}

func TestLoadToml(t *testing.T) {
	assert := assert.New(t)

	path := writeFile(t, "store.toml", `
log_level = "error"
sharding_enabled = true
fetch_queue_soft_limit = 4
fetch_queue_hard_limit = 8
`)
	require.NoError(t, config.LoadStoreCfg(path))

	cfg := config.StoreConfig()
	assert.Equal("error", cfg.LogLevel)
	assert.True(cfg.ShardingEnabled)
	assert.EqualValues(4, cfg.FetchQueueSoftLimit)
	assert.EqualValues(8, cfg.FetchQueueHardLimit)
}

func TestLoadMissingFile(t *testing.T) {
	assert := assert.New(t)

	assert.Error(config.LoadStoreCfg(filepath.Join(t.TempDir(), "absent.yaml")))
}
