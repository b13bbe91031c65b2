package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PathEnv names the optional YAML config file
const PathEnv = "CONFIG_PATH"

// Config holds every setting of the service.
// Precedence: defaults, then the YAML file, then environment, then flags.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	// DatabaseURL selects the store: postgres://, sqlite:// or file:, empty for in-memory
	DatabaseURL string `yaml:"databaseUrl"`

	LLM     LLMConfig     `yaml:"llm"`
	Scraper ScraperConfig `yaml:"scraper"`

	AutoCategorize       bool          `yaml:"autoCategorize"`
	Workers              int           `yaml:"workers"`
	QueueSize            int           `yaml:"queueSize"`
	HTTPTimeout          time.Duration `yaml:"httpTimeout"`
	MaxCategoriesPerPost int           `yaml:"maxCategoriesPerPost"`
	ProbePostImages      bool          `yaml:"probePostImages"`

	Redis   RedisConfig   `yaml:"redis"`
	Storage StorageConfig `yaml:"storage"`

	APIToken     string `yaml:"apiToken"`
	CORSEnabled  bool   `yaml:"corsEnabled"`
	OTLPEndpoint string `yaml:"otlpEndpoint"`

	// Categories seeds the registry; Keywords overlays the built-in keyword table
	Categories []string            `yaml:"categories"`
	Keywords   map[string][]string `yaml:"keywords"`
}

// LLMConfig describes the OpenAI-compatible endpoint
type LLMConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"`
	Model   string `yaml:"model"`
}

// ScraperConfig describes the scraping service used for LinkedIn
type ScraperConfig struct {
	APIKey string `yaml:"apiKey"`
	APIURL string `yaml:"apiUrl"`
}

// RedisConfig enables the shared category registry when Addr is set
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig selects the raw payload archive. S3 wins when a bucket is set;
// an empty BasePath without a bucket disables archiving.
type StorageConfig struct {
	BasePath string   `yaml:"basePath"`
	S3       S3Config `yaml:"s3"`
}

// S3Config holds S3-compatible object storage settings
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UsePathStyle    bool   `yaml:"usePathStyle"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Scraper: ScraperConfig{
			APIURL: "https://api.zenrows.com/v1/",
		},
		AutoCategorize:       true,
		Workers:              4,
		QueueSize:            100,
		HTTPTimeout:          60 * time.Second,
		MaxCategoriesPerPost: 10,
		ProbePostImages:      true,
		Storage:              StorageConfig{BasePath: "./storage"},
		CORSEnabled:          true,
	}
}

// Load builds the configuration from defaults, the file named by CONFIG_PATH and the environment
func Load() (*Config, error) {
	cfg := Default()
	if path := os.Getenv(PathEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes YAML over the current values so absent keys keep their defaults
func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: cannot read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: cannot parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error

	c.Port = getenv("PORT", c.Port)
	c.LogLevel = getenv("LOG_LEVEL", c.LogLevel)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)

	c.LLM.APIKey = getenv("LLM_API_KEY", c.LLM.APIKey)
	c.LLM.BaseURL = getenv("LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.Model = getenv("LLM_MODEL", c.LLM.Model)
	c.Scraper.APIKey = getenv("SCRAPER_API_KEY", c.Scraper.APIKey)
	c.Scraper.APIURL = getenv("SCRAPER_API_URL", c.Scraper.APIURL)

	c.AutoCategorize = envBool("AUTO_CATEGORIZE", c.AutoCategorize, &errs)
	c.Workers = envInt("WORKERS", c.Workers, &errs)
	c.QueueSize = envInt("QUEUE_SIZE", c.QueueSize, &errs)
	c.HTTPTimeout = envDuration("HTTP_TIMEOUT", c.HTTPTimeout, &errs)
	c.MaxCategoriesPerPost = envInt("MAX_CATEGORIES_PER_POST", c.MaxCategoriesPerPost, &errs)
	c.ProbePostImages = envBool("PROBE_POST_IMAGES", c.ProbePostImages, &errs)

	c.Redis.Addr = getenv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getenv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = envInt("REDIS_DB", c.Redis.DB, &errs)

	// an explicitly empty STORAGE_BASE_PATH disables the filesystem archive
	if v, ok := os.LookupEnv("STORAGE_BASE_PATH"); ok {
		c.Storage.BasePath = v
	}
	c.Storage.S3.Bucket = getenv("S3_BUCKET", c.Storage.S3.Bucket)
	c.Storage.S3.Region = getenv("S3_REGION", c.Storage.S3.Region)
	c.Storage.S3.Endpoint = getenv("S3_ENDPOINT", c.Storage.S3.Endpoint)
	c.Storage.S3.AccessKeyID = getenv("S3_ACCESS_KEY_ID", c.Storage.S3.AccessKeyID)
	c.Storage.S3.SecretAccessKey = getenv("S3_SECRET_ACCESS_KEY", c.Storage.S3.SecretAccessKey)
	c.Storage.S3.UsePathStyle = envBool("S3_USE_PATH_STYLE", c.Storage.S3.UsePathStyle, &errs)

	c.APIToken = getenv("API_TOKEN", c.APIToken)
	c.CORSEnabled = envBool("CORS_ENABLED", c.CORSEnabled, &errs)
	c.OTLPEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)

	return errors.Join(errs...)
}

// RegisterFlags binds command-line flags that override the loaded values
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.Port, "port", c.Port, "Server port")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level (debug, info, warn, error)")
	fs.StringVar(&c.DatabaseURL, "database-url", c.DatabaseURL, "Database URL (postgres://, sqlite://, empty for in-memory)")
	fs.StringVar(&c.LLM.Model, "llm-model", c.LLM.Model, "LLM model for extraction and categorization")
	fs.BoolVar(&c.AutoCategorize, "auto-categorize", c.AutoCategorize, "Categorize posts automatically after extraction")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Background pipeline workers")
	fs.IntVar(&c.QueueSize, "queue-size", c.QueueSize, "Pending job capacity")
	fs.BoolFunc("disable-cors", "Disable CORS", func(string) error {
		c.CORSEnabled = false
		return nil
	})
	fs.BoolFunc("disable-image-probe", "Do not download post images for metadata", func(string) error {
		c.ProbePostImages = false
		return nil
	})
}

// Validate reports settings the service cannot start with
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Port) == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("queue size must be positive, got %d", c.QueueSize))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout))
	}
	if c.MaxCategoriesPerPost <= 0 {
		errs = append(errs, fmt.Errorf("max categories per post must be positive, got %d", c.MaxCategoriesPerPost))
	}
	if c.Storage.S3.Bucket != "" && c.Storage.S3.Region == "" {
		errs = append(errs, errors.New("S3_REGION is required when S3_BUCKET is set"))
	}
	return errors.Join(errs...)
}

// Redacted returns a copy safe to log
func (c *Config) Redacted() Config {
	cp := *c
	for _, s := range []*string{&cp.LLM.APIKey, &cp.Scraper.APIKey, &cp.Redis.Password, &cp.Storage.S3.SecretAccessKey, &cp.APIToken} {
		if *s != "" {
			*s = "***REDACTED***"
		}
	}
	if cp.DatabaseURL != "" {
		cp.DatabaseURL = redactDSN(cp.DatabaseURL)
	}
	return cp
}

// ParseLevel maps a level name to slog.Level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid integer value for %s: %q", key, v))
		return def
	}
	return i
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid boolean value for %s: %q", key, v))
		return def
	}
	return b
}

func envDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid duration value for %s: %q", key, v))
		return def
	}
	return d
}

// redactDSN hides the password in a URL-style DSN
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	creds := dsn[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		return dsn[:scheme+3] + creds[:i] + ":***" + dsn[at:]
	}
	return dsn
}
