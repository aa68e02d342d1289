package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for a yalje export run
type Config struct {
	// LiveJournal endpoint and identity
	LiveJournal LiveJournalConfig `yaml:"livejournal" json:"livejournal"`

	// Rate limiting and retry configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Export settings
	Export ExportConfig `yaml:"export" json:"export"`

	// HTTP settings
	HTTP HTTPConfig `yaml:"http" json:"http"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// LiveJournalConfig holds endpoint and account configuration
type LiveJournalConfig struct {
	BaseURL   string `yaml:"base_url" json:"base_url"`
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// RateLimitConfig holds request pacing and retry configuration
type RateLimitConfig struct {
	RequestDelay      time.Duration `yaml:"request_delay" json:"request_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute" json:"requests_per_minute"`
	MaxRetries        int           `yaml:"max_retries" json:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay" json:"retry_base_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay" json:"retry_max_delay"`
}

// ExportConfig selects what is exported and where it goes
type ExportConfig struct {
	OutputPath   string   `yaml:"output_path" json:"output_path"`
	Format       string   `yaml:"format" json:"format"` // yaml, json or xml
	Posts        bool     `yaml:"posts" json:"posts"`
	Comments     bool     `yaml:"comments" json:"comments"`
	Inbox        bool     `yaml:"inbox" json:"inbox"`
	InboxFolders []string `yaml:"inbox_folders" json:"inbox_folders"`

	// ForceRestart discards an existing checkpoint instead of resuming
	ForceRestart bool `yaml:"-" json:"-"`

	// Post month range; zero values mean "derive from the profile page"
	StartYear  int `yaml:"start_year" json:"start_year"`
	StartMonth int `yaml:"start_month" json:"start_month"`
	EndYear    int `yaml:"end_year" json:"end_year"`
	EndMonth   int `yaml:"end_month" json:"end_month"`
}

// HTTPConfig holds transport settings
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		LiveJournal: LiveJournalConfig{
			BaseURL: "https://www.livejournal.com",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
				"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36",
		},
		RateLimit: RateLimitConfig{
			RequestDelay:      time.Second,
			RequestsPerMinute: 60,
			MaxRetries:        3,
			RetryBaseDelay:    time.Second,
			RetryMaxDelay:     30 * time.Second,
		},
		Export: ExportConfig{
			OutputPath:   "lj-backup.yaml",
			Format:       "yaml",
			Posts:        true,
			Comments:     true,
			Inbox:        true,
			InboxFolders: []string{"all"},
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then config file, then
// environment, then command-line flag overrides.
func Load(path string, flags map[string]interface{}) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromFile(path); err != nil {
		return nil, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg.applyFlags(flags)

	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file. An empty path searches
// the standard locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from YALJE_* environment variables,
// reading a .env file first if one is present.
func (c *Config) LoadFromEnv() error {
	_ = godotenv.Load()

	if username := os.Getenv("YALJE_USERNAME"); username != "" {
		c.LiveJournal.Username = username
	}
	if password := os.Getenv("YALJE_PASSWORD"); password != "" {
		c.LiveJournal.Password = password
	}
	if baseURL := os.Getenv("YALJE_BASE_URL"); baseURL != "" {
		c.LiveJournal.BaseURL = baseURL
	}
	if userAgent := os.Getenv("YALJE_USER_AGENT"); userAgent != "" {
		c.LiveJournal.UserAgent = userAgent
	}
	if delay := os.Getenv("YALJE_REQUEST_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d >= 0 {
			c.RateLimit.RequestDelay = d
		}
	}
	if rpm := os.Getenv("YALJE_REQUESTS_PER_MINUTE"); rpm != "" {
		if val, err := strconv.Atoi(rpm); err == nil && val > 0 {
			c.RateLimit.RequestsPerMinute = val
		}
	}
	if output := os.Getenv("YALJE_OUTPUT"); output != "" {
		c.Export.OutputPath = output
	}
	if level := os.Getenv("YALJE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	return nil
}

// applyFlags overrides configuration values from parsed command-line flags
func (c *Config) applyFlags(flags map[string]interface{}) {
	for key, value := range flags {
		switch key {
		case "username":
			if v, ok := value.(string); ok && v != "" {
				c.LiveJournal.Username = v
			}
		case "output":
			if v, ok := value.(string); ok && v != "" {
				c.Export.OutputPath = v
			}
		case "format":
			if v, ok := value.(string); ok && v != "" {
				c.Export.Format = v
			}
		case "request-delay":
			if v, ok := value.(time.Duration); ok && v >= 0 {
				c.RateLimit.RequestDelay = v
			}
		case "max-retries":
			if v, ok := value.(int); ok && v > 0 {
				c.RateLimit.MaxRetries = v
			}
		case "no-posts":
			if v, ok := value.(bool); ok && v {
				c.Export.Posts = false
			}
		case "no-comments":
			if v, ok := value.(bool); ok && v {
				c.Export.Comments = false
			}
		case "no-inbox":
			if v, ok := value.(bool); ok && v {
				c.Export.Inbox = false
			}
		case "force-restart":
			if v, ok := value.(bool); ok && v {
				c.Export.ForceRestart = true
			}
		case "start-year":
			if v, ok := value.(int); ok {
				c.Export.StartYear = v
			}
		case "start-month":
			if v, ok := value.(int); ok {
				c.Export.StartMonth = v
			}
		case "end-year":
			if v, ok := value.(int); ok {
				c.Export.EndYear = v
			}
		case "end-month":
			if v, ok := value.(int); ok {
				c.Export.EndMonth = v
			}
		case "log-level":
			if v, ok := value.(string); ok && v != "" {
				c.Logging.Level = v
			}
		}
	}
}

// findConfigFile searches for a config file in standard locations
func (c *Config) findConfigFile() string {
	locations := []string{
		".yalje.yaml",
		".yalje.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "yalje", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".yalje.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.LiveJournal.BaseURL == "" {
		errs = append(errs, errors.New("base URL is required"))
	}
	if c.LiveJournal.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.RateLimit.MaxRetries <= 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}
	if c.RateLimit.RequestDelay < 0 {
		errs = append(errs, errors.New("request delay must not be negative"))
	}
	switch strings.ToLower(c.Export.Format) {
	case "yaml", "json", "xml":
	default:
		errs = append(errs, fmt.Errorf("unsupported export format: %s", c.Export.Format))
	}
	if !c.Export.Posts && !c.Export.Comments && !c.Export.Inbox {
		errs = append(errs, errors.New("at least one of posts, comments or inbox must be enabled"))
	}
	for _, m := range []int{c.Export.StartMonth, c.Export.EndMonth} {
		if m < 0 || m > 12 {
			errs = append(errs, fmt.Errorf("month out of range: %d", m))
		}
	}

	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, err := range errs {
			msgs[i] = err.Error()
		}
		return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
	}

	return nil
}
