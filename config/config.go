package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pbnjay/memory"
	"gopkg.in/yaml.v3"
)

// DiskBackend selects the disk cache tier.
type DiskBackend string

const (
	DiskNone   DiskBackend = "none"
	DiskLocal  DiskBackend = "local"
	DiskS3     DiskBackend = "s3"
	DiskMemory DiskBackend = "memory"
)

// maxDefaultMemoryCache caps the RAM-derived memory cache budget.
const maxDefaultMemoryCache = 512 << 20

// Config is the top-level configuration struct. Default returns a usable
// value; callers override only what they need.
type Config struct {
	// Worker pools. 0 resolves to runtime.NumCPU().
	DiskWorkers   int `yaml:"disk_workers"`
	SourceWorkers int `yaml:"source_workers"`
	QueueSize     int `yaml:"queue_size"` // per pool; submissions beyond it fail fast

	// Memory cache. MemoryCacheBytes 0 means MemoryCacheFraction of physical RAM.
	MemoryCacheBytes    int64   `yaml:"memory_cache_bytes"`
	MemoryCacheFraction float64 `yaml:"memory_cache_fraction"`

	DiskCache DiskCacheConfig `yaml:"disk_cache"`

	// Codec defaults used by the bundled encoder.
	DefaultQuality int    `yaml:"default_quality"` // 1-100
	DefaultFormat  string `yaml:"default_format"`

	// Streaming / memory limits for fetchers.
	MaxImageBytes int64         `yaml:"max_image_bytes"` // 0 = no limit
	ChunkSize     int           `yaml:"chunk_size"`
	HTTPTimeout   time.Duration `yaml:"http_timeout"`

	// Logging.
	LogLevel string `yaml:"log_level"` // debug, info, warn, error
	LogFile  string `yaml:"log_file"`  // optional rotating file
}

// DiskCacheConfig configures the disk tier.
type DiskCacheConfig struct {
	Backend DiskBackend  `yaml:"backend"`
	Local   LocalConfig  `yaml:"local"`
	S3      S3Config     `yaml:"s3"`
	Memory  MemoryConfig `yaml:"memory"`
}

// LocalConfig configures the on-disk journal cache.
type LocalConfig struct {
	Dir         string `yaml:"dir"`
	MaxBytes    int64  `yaml:"max_bytes"`
	Permissions uint32 `yaml:"permissions"` // default 0644
}

// S3Config configures the S3 (or S3-compatible) disk tier.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"` // optional custom endpoint (MinIO, etc.)
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// MemoryConfig configures the in-process encoded-bytes tier.
type MemoryConfig struct {
	MaxMB      int           `yaml:"max_mb"`
	Shards     int           `yaml:"shards"` // power of two
	LifeWindow time.Duration `yaml:"life_window"`
}

// Default returns a Config populated with production defaults.
func Default() Config {
	return Config{
		QueueSize:           256,
		MemoryCacheFraction: 0.05,
		DiskCache: DiskCacheConfig{
			Backend: DiskNone,
			Local: LocalConfig{
				MaxBytes: 250 << 20,
			},
			Memory: MemoryConfig{
				MaxMB:      64,
				Shards:     64,
				LifeWindow: 24 * time.Hour,
			},
		},
		DefaultQuality: 85,
		DefaultFormat:  "jpeg",
		ChunkSize:      32 * 1024,
		HTTPTimeout:    30 * time.Second,
		LogLevel:       "info",
	}
}

// Load reads a YAML file over Default and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, Validate(cfg)
}

// MemoryBudget resolves the memory cache size in bytes.
func (c Config) MemoryBudget() int64 {
	if c.MemoryCacheBytes > 0 {
		return c.MemoryCacheBytes
	}
	budget := int64(float64(memory.TotalMemory()) * c.MemoryCacheFraction)
	if budget <= 0 || budget > maxDefaultMemoryCache {
		budget = maxDefaultMemoryCache
	}
	return budget
}

// Validate returns an error if the configuration is inconsistent.
func Validate(c Config) error {
	if c.DefaultQuality < 1 || c.DefaultQuality > 100 {
		return errors.New("config: DefaultQuality must be between 1 and 100")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: ChunkSize must be positive")
	}
	if c.DiskWorkers < 0 || c.SourceWorkers < 0 || c.QueueSize < 0 {
		return errors.New("config: worker and queue sizes must not be negative")
	}
	if c.MemoryCacheBytes < 0 {
		return errors.New("config: MemoryCacheBytes must not be negative")
	}
	if c.MemoryCacheBytes == 0 && (c.MemoryCacheFraction <= 0 || c.MemoryCacheFraction >= 1) {
		return errors.New("config: MemoryCacheFraction must be in (0, 1)")
	}
	switch c.DiskCache.Backend {
	case "", DiskNone:
	case DiskLocal:
		if c.DiskCache.Local.Dir == "" {
			return errors.New("config: DiskCache.Local.Dir is required for the local backend")
		}
	case DiskS3:
		if c.DiskCache.S3.Bucket == "" {
			return errors.New("config: DiskCache.S3.Bucket is required for the s3 backend")
		}
	case DiskMemory:
		s := c.DiskCache.Memory.Shards
		if s <= 0 || s&(s-1) != 0 {
			return errors.New("config: DiskCache.Memory.Shards must be a power of two")
		}
	default:
		return fmt.Errorf("config: unknown disk cache backend %q", c.DiskCache.Backend)
	}
	return nil
}
