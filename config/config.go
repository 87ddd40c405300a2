package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type StorageConfig struct {
	Backend string `yaml:"backend" toml:"backend"`
	Path    string `yaml:"path" toml:"path"`
}

type ParamsConfig struct {
	DefaultDeadline            time.Duration `yaml:"defaultDeadline" toml:"defaultDeadline"`
	ReleaseGracePeriod         time.Duration `yaml:"releaseGracePeriod" toml:"releaseGracePeriod"`
	AgreePeriod                time.Duration `yaml:"agreePeriod" toml:"agreePeriod"`
	ResolvePeriod              time.Duration `yaml:"resolvePeriod" toml:"resolvePeriod"`
	DefaultFeePercentage       uint32        `yaml:"defaultFeePercentage" toml:"defaultFeePercentage"`
	UnresolvedRefundPercentage uint32        `yaml:"unresolvedRefundPercentage" toml:"unresolvedRefundPercentage"`
}

type GenesisAlloc struct {
	Address string `yaml:"address" toml:"address"`
	Balance string `yaml:"balance" toml:"balance"`
}

type QuotaConfig struct {
	MaxRequestsPerMin uint32 `yaml:"maxRequestsPerMin" toml:"maxRequestsPerMin"`
	MaxValuePerEpoch  uint64 `yaml:"maxValuePerEpoch" toml:"maxValuePerEpoch"`
	EpochSeconds      uint32 `yaml:"epochSeconds" toml:"epochSeconds"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled" toml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret" toml:"hmacSecret"`
	Issuer     string        `yaml:"issuer" toml:"issuer"`
	Audience   string        `yaml:"audience" toml:"audience"`
	ClockSkew  time.Duration `yaml:"clockSkew" toml:"clockSkew"`
}

type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requestsPerMinute" toml:"requestsPerMinute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName  string  `yaml:"serviceName" toml:"serviceName"`
	Metrics      bool    `yaml:"metrics" toml:"metrics"`
	Tracing      bool    `yaml:"tracing" toml:"tracing"`
	OTLPEndpoint string  `yaml:"otlpEndpoint" toml:"otlpEndpoint"`
	OTLPInsecure bool    `yaml:"otlpInsecure" toml:"otlpInsecure"`
	LogRequests  bool    `yaml:"logRequests" toml:"logRequests"`
	SampleRatio  float64 `yaml:"sampleRatio" toml:"sampleRatio"`
}

type JournalConfig struct {
	Path string `yaml:"path" toml:"path"`
}

type IndexerConfig struct {
	DSN string `yaml:"dsn" toml:"dsn"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" toml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" toml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" toml:"maxAgeDays"`
}

// Config is the daemon configuration.
type Config struct {
	ListenAddress string              `yaml:"listen" toml:"listen"`
	Environment   string              `yaml:"env" toml:"env"`
	DataDir       string              `yaml:"dataDir" toml:"dataDir"`
	ReadTimeout   time.Duration       `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout" toml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout" toml:"idleTimeout"`
	Storage       StorageConfig       `yaml:"storage" toml:"storage"`
	Owner         string              `yaml:"owner" toml:"owner"`
	Params        ParamsConfig        `yaml:"params" toml:"params"`
	Selector      string              `yaml:"selector" toml:"selector"`
	Genesis       []GenesisAlloc      `yaml:"genesis" toml:"genesis"`
	Pauses        map[string]bool     `yaml:"pauses" toml:"pauses"`
	Quota         QuotaConfig         `yaml:"quota" toml:"quota"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit" toml:"rateLimit"`
	Observability ObservabilityConfig `yaml:"observability" toml:"observability"`
	Journal       JournalConfig       `yaml:"journal" toml:"journal"`
	Indexer       IndexerConfig       `yaml:"indexer" toml:"indexer"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

const day = 24 * time.Hour

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: ":8545",
		Environment:   "dev",
		DataDir:       "./data",
		ReadTimeout:   30 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		Storage:       StorageConfig{Backend: "leveldb", Path: "state"},
		Params: ParamsConfig{
			DefaultDeadline:            30 * day,
			ReleaseGracePeriod:         3 * day,
			AgreePeriod:                2 * day,
			ResolvePeriod:              2 * day,
			DefaultFeePercentage:       10_000,
			UnresolvedRefundPercentage: 500_000,
		},
		Selector: "first",
		Auth: AuthConfig{
			ClockSkew: 2 * time.Minute,
		},
		RateLimit: RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Observability: ObservabilityConfig{
			ServiceName: "escrowd",
			Metrics:     true,
			LogRequests: true,
		},
		Journal: JournalConfig{Path: "events.db"},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, applies environment overrides and validates the result.
// Files ending in .toml are decoded as TOML; anything else as YAML. An empty
// path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decode config: unknown key %s", undecoded[0])
		}
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (cfg *Config) applyEnv(lookup func(string) (string, bool)) {
	overrides := map[string]*string{
		"ESCROWD_LISTEN":      &cfg.ListenAddress,
		"ESCROWD_DATA_DIR":    &cfg.DataDir,
		"ESCROWD_ENV":         &cfg.Environment,
		"ESCROWD_OWNER":       &cfg.Owner,
		"ESCROWD_JWT_SECRET":  &cfg.Auth.HMACSecret,
		"ESCROWD_INDEXER_DSN": &cfg.Indexer.DSN,
		"ESCROWD_LOG_LEVEL":   &cfg.Logging.Level,
	}
	for key, target := range overrides {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*target = strings.TrimSpace(value)
		}
	}
}

// ResolvePath anchors relative paths under DataDir. Empty paths stay empty.
func (cfg Config) ResolvePath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || trimmed == ":memory:" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cfg.DataDir, trimmed)
}
