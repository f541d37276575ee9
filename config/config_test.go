package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skryldev/image-loader/config"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, config.Validate(config.Default()))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
		ok     bool
	}{
		{"quality too low", func(c *config.Config) { c.DefaultQuality = 0 }, false},
		{"chunk size", func(c *config.Config) { c.ChunkSize = 0 }, false},
		{"negative workers", func(c *config.Config) { c.SourceWorkers = -1 }, false},
		{"fraction out of range", func(c *config.Config) { c.MemoryCacheFraction = 1.5 }, false},
		{"explicit bytes ignore fraction", func(c *config.Config) {
			c.MemoryCacheBytes = 1 << 20
			c.MemoryCacheFraction = 0
		}, true},
		{"local without dir", func(c *config.Config) { c.DiskCache.Backend = config.DiskLocal }, false},
		{"local with dir", func(c *config.Config) {
			c.DiskCache.Backend = config.DiskLocal
			c.DiskCache.Local.Dir = "/tmp/x"
		}, true},
		{"s3 without bucket", func(c *config.Config) { c.DiskCache.Backend = config.DiskS3 }, false},
		{"memory shards not pow2", func(c *config.Config) {
			c.DiskCache.Backend = config.DiskMemory
			c.DiskCache.Memory.Shards = 3
		}, false},
		{"unknown backend", func(c *config.Config) { c.DiskCache.Backend = "tape" }, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := config.Validate(cfg)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestMemoryBudget(t *testing.T) {
	cfg := config.Default()
	cfg.MemoryCacheBytes = 4096
	assert.Equal(t, int64(4096), cfg.MemoryBudget())

	cfg.MemoryCacheBytes = 0
	got := cfg.MemoryBudget()
	assert.Greater(t, got, int64(0))
	assert.LessOrEqual(t, got, int64(512<<20))
}

func TestLoad_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loader.yaml")
	body := `
source_workers: 3
memory_cache_bytes: 1048576
http_timeout: 5s
disk_cache:
  backend: local
  local:
    dir: /var/cache/images
    max_bytes: 1024
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.SourceWorkers)
	assert.Equal(t, int64(1<<20), cfg.MemoryCacheBytes)
	assert.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, config.DiskLocal, cfg.DiskCache.Backend)
	assert.Equal(t, "/var/cache/images", cfg.DiskCache.Local.Dir)
	// untouched fields keep defaults
	assert.Equal(t, 85, cfg.DefaultQuality)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
