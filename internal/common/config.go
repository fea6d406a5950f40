package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Crawler     CrawlerConfig   `toml:"crawler"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// SchedulerConfig controls the fairness queue scheduler.
type SchedulerConfig struct {
	PollInterval       time.Duration `toml:"poll_interval"`        // How often the dispatch loop looks for work
	StartupDelay       time.Duration `toml:"startup_delay"`        // Fixed delay before the first dispatch pass
	MaxConcurrentScans int           `toml:"max_concurrent_scans"` // Hard cap on scans in Processing
	MaxScanDuration    time.Duration `toml:"max_scan_duration"`    // Wall-clock ceiling per scan
	CooldownWindow     time.Duration `toml:"cooldown_window"`      // Per-IP bar after a scan reaches a terminal state
	// Priority model: score = submissionCount * FairnessSlotTicks + createdAtTicks.
	// Lower score dequeues sooner. TicksPerSecond converts wall time to ticks.
	TicksPerSecond    int64         `toml:"ticks_per_second"`
	FairnessSlotTicks int64         `toml:"fairness_slot_ticks"`
	AgingBoost        time.Duration `toml:"aging_boost"`    // Wait time per aging step
	AgingSchedule     string        `toml:"aging_schedule"` // Cron expression for the aging pass
}

// CrawlerConfig contains per-scan crawl behavior. The lazy-load and idle-wait
// values are empirically tuned heuristics, kept configurable rather than
// hardcoded.
type CrawlerConfig struct {
	UserAgent          string        `toml:"user_agent"`
	MaxPagesPerScan    int           `toml:"max_pages_per_scan"`
	NavigationTimeout  time.Duration `toml:"navigation_timeout"`
	NetworkIdleTimeout time.Duration `toml:"network_idle_timeout"` // Timing out here is expected on pages with persistent connections
	NetworkIdleWindow  time.Duration `toml:"network_idle_window"`  // Quiet period that counts as "idle"
	ImageGracePeriod   time.Duration `toml:"image_grace_period"`   // Extra wait for still-pending image transfers
	PageDelay          time.Duration `toml:"page_delay"`           // Delay between consecutive pages of one scan
	CheckpointInterval int           `toml:"checkpoint_interval"`  // Persist a checkpoint every N pages (0 disables)

	// Lazy-load triggering
	EnableLazyLoad  bool          `toml:"enable_lazy_load"`
	MinScrollSteps  int           `toml:"min_scroll_steps"`
	MaxScrollSteps  int           `toml:"max_scroll_steps"`
	ScrollStepDelay time.Duration `toml:"scroll_step_delay"`
	ViewportHeight  int           `toml:"viewport_height"`

	// Per-page resource budgets
	MaxRequestsPerPage int      `toml:"max_requests_per_page"`
	MaxBytesPerPage    int64    `toml:"max_bytes_per_page"`
	MemoryLimitMB      uint64   `toml:"memory_limit_mb"` // Process-wide heap ceiling; exceeding aborts the scan
	TrackerDomains     []string `toml:"tracker_domains"` // Known analytics/tracking hosts, always aborted
	AllowedDomains     []string `toml:"allowed_domains"` // Extra third-party domains permitted per page

	// Retry policy for transient page failures
	RetryAttempts int           `toml:"retry_attempts"`
	RetryBackoff  time.Duration `toml:"retry_backoff"`

	// Browser
	Headless  bool `toml:"headless"`
	NoSandbox bool `toml:"no_sandbox"`

	// Estimated compression ratio (re-encoded/original) per non-conforming
	// MIME type. Types absent from the map are treated as already optimized.
	SavingsRatios map[string]float64 `toml:"savings_ratios"`
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability; only
// user-facing settings should be exposed in imgsentry.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/imgsentry",
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Scheduler: SchedulerConfig{
			PollInterval:       5 * time.Second,
			StartupDelay:       10 * time.Second,
			MaxConcurrentScans: 3,
			MaxScanDuration:    30 * time.Minute,
			CooldownWindow:     2 * time.Minute,
			TicksPerSecond:     1,
			FairnessSlotTicks:  int64(7 * 24 * time.Hour / time.Second),
			AgingBoost:         5 * time.Minute,
			AgingSchedule:      "*/1 * * * *",
		},
		Crawler: CrawlerConfig{
			UserAgent:          "imgsentry/1.0 (+https://imgsentry.dev/bot)",
			MaxPagesPerScan:    50,
			NavigationTimeout:  30 * time.Second,
			NetworkIdleTimeout: 10 * time.Second,
			NetworkIdleWindow:  500 * time.Millisecond,
			ImageGracePeriod:   2 * time.Second,
			PageDelay:          1 * time.Second,
			CheckpointInterval: 5,
			EnableLazyLoad:     true,
			MinScrollSteps:     8,
			MaxScrollSteps:     30,
			ScrollStepDelay:    150 * time.Millisecond,
			ViewportHeight:     1080,
			MaxRequestsPerPage: 300,
			MaxBytesPerPage:    50 * 1024 * 1024,
			MemoryLimitMB:      2048,
			TrackerDomains: []string{
				"google-analytics.com",
				"googletagmanager.com",
				"doubleclick.net",
				"facebook.net",
				"hotjar.com",
				"segment.io",
			},
			RetryAttempts: 3,
			RetryBackoff:  2 * time.Second,
			Headless:      true,
			NoSandbox:     false,
			SavingsRatios: map[string]float64{
				"image/jpeg": 0.30,
				"image/png":  0.26,
				"image/gif":  0.15,
				"image/bmp":  0.90,
				"image/tiff": 0.80,
			},
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults,
// then applies environment variable overrides.
func LoadFromFile(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks configuration invariants that would otherwise surface as
// hard-to-diagnose runtime behavior.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrentScans <= 0 {
		return fmt.Errorf("scheduler.max_concurrent_scans must be positive, got %d", c.Scheduler.MaxConcurrentScans)
	}
	if c.Scheduler.TicksPerSecond <= 0 {
		return fmt.Errorf("scheduler.ticks_per_second must be positive, got %d", c.Scheduler.TicksPerSecond)
	}
	if c.Scheduler.AgingBoost <= 0 {
		return fmt.Errorf("scheduler.aging_boost must be positive, got %s", c.Scheduler.AgingBoost)
	}
	if c.Crawler.MinScrollSteps > c.Crawler.MaxScrollSteps {
		return fmt.Errorf("crawler.min_scroll_steps (%d) exceeds max_scroll_steps (%d)",
			c.Crawler.MinScrollSteps, c.Crawler.MaxScrollSteps)
	}
	if c.Crawler.MaxPagesPerScan <= 0 {
		return fmt.Errorf("crawler.max_pages_per_scan must be positive, got %d", c.Crawler.MaxPagesPerScan)
	}
	return nil
}

// applyEnvOverrides applies IMGSENTRY_* environment variables on top of the
// loaded configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("IMGSENTRY_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("IMGSENTRY_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("IMGSENTRY_MAX_CONCURRENT_SCANS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Scheduler.MaxConcurrentScans = n
		}
	}
	if v := os.Getenv("IMGSENTRY_MAX_PAGES_PER_SCAN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Crawler.MaxPagesPerScan = n
		}
	}
}
