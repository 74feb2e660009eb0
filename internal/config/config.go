package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mediafetch/internal/catalog"
	"mediafetch/internal/quota"
)

const (
	defaultPort             = 8080
	defaultDataDir          = "downloads"
	defaultUploadDir        = "uploads"
	defaultCatalogBaseURL   = "https://bunkr-albums.io"
	defaultTimePeriod       = catalog.Period24h
	defaultFetchConcurrency = 4
	defaultFetchAttempts    = 3
	defaultFetchTimeoutSec  = 20
)

// Config describes runtime configuration for the service. Sizes and limits
// are megabytes in the file; zero means "no limit" / "no bound".
type Config struct {
	Port                 int      `yaml:"port"`
	DataDir              string   `yaml:"data_dir"`
	UploadDir            string   `yaml:"upload_dir"`
	CatalogBaseURL       string   `yaml:"catalog_base_url"`
	ContentKinds         []string `yaml:"content_kinds"`
	TimePeriod           string   `yaml:"time_period"`
	MinSizeMB            float64  `yaml:"min_size_mb"`
	MaxSizeMB            float64  `yaml:"max_size_mb"`
	DailyDownloadLimitMB float64  `yaml:"daily_download_limit_mb"`
	DailyUploadLimitMB   float64  `yaml:"daily_upload_limit_mb"`
	FetchConcurrency     int      `yaml:"fetch_concurrency"`
	FetchAttempts        int      `yaml:"fetch_attempts"`
	FetchTimeoutSeconds  int      `yaml:"fetch_timeout_seconds"`
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		Port:                defaultPort,
		DataDir:             defaultDataDir,
		UploadDir:           defaultUploadDir,
		CatalogBaseURL:      defaultCatalogBaseURL,
		ContentKinds:        []string{"videos", "images", "files"},
		TimePeriod:          defaultTimePeriod,
		FetchConcurrency:    defaultFetchConcurrency,
		FetchAttempts:       defaultFetchAttempts,
		FetchTimeoutSeconds: defaultFetchTimeoutSec,
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.UploadDir == "" {
		c.UploadDir = defaultUploadDir
	}
	if c.CatalogBaseURL == "" {
		c.CatalogBaseURL = defaultCatalogBaseURL
	}
	if c.FetchConcurrency < 1 {
		return fmt.Errorf("invalid fetch_concurrency: %d (must be >= 1)", c.FetchConcurrency)
	}
	if c.FetchAttempts < 1 {
		return fmt.Errorf("invalid fetch_attempts: %d (must be >= 1)", c.FetchAttempts)
	}
	if c.FetchTimeoutSeconds < 1 {
		c.FetchTimeoutSeconds = defaultFetchTimeoutSec
	}
	if c.MinSizeMB < 0 || c.MaxSizeMB < 0 || c.DailyDownloadLimitMB < 0 || c.DailyUploadLimitMB < 0 {
		return errors.New("size limits must not be negative")
	}
	if _, err := c.kinds(); err != nil {
		return err
	}
	filter := c.Filter()
	if err := filter.Validate(); err != nil {
		return err
	}
	c.TimePeriod = filter.Period
	return nil
}

func (c *Config) kinds() ([]catalog.Kind, error) {
	if len(c.ContentKinds) == 0 {
		return []catalog.Kind{catalog.KindVideo, catalog.KindImage, catalog.KindFile}, nil
	}
	kinds := make([]catalog.Kind, 0, len(c.ContentKinds))
	for _, raw := range c.ContentKinds {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "video", "videos":
			kinds = append(kinds, catalog.KindVideo)
		case "image", "images":
			kinds = append(kinds, catalog.KindImage)
		case "file", "files":
			kinds = append(kinds, catalog.KindFile)
		default:
			return nil, fmt.Errorf("unknown content kind: %q", raw)
		}
	}
	return kinds, nil
}

// Filter converts the configured discovery criteria into a catalog filter.
func (c *Config) Filter() catalog.Filter {
	kinds, _ := c.kinds()
	return catalog.Filter{
		Kinds:        kinds,
		Period:       c.TimePeriod,
		MinSizeBytes: mbToBytes(c.MinSizeMB),
		MaxSizeBytes: mbToBytes(c.MaxSizeMB),
	}
}

// Limits converts the configured daily megabyte caps into byte limits.
func (c *Config) Limits() quota.Limits {
	return quota.Limits{
		DownloadBytes: mbToBytes(c.DailyDownloadLimitMB),
		UploadBytes:   mbToBytes(c.DailyUploadLimitMB),
	}
}

// FetchTimeout returns the per-attempt fetch deadline.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSeconds) * time.Second
}

func mbToBytes(mb float64) int64 {
	return int64(mb * float64(1<<20))
}
