package config

import (
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

const (
	configFileENV     = "CONFIG_FILE"
	defaultConfigFile = "/config/medley.yaml"
)

type Config struct {
	ArtworkBaseURL            string        `koanf:"artwork_base_url"`
	CacheTTL                  time.Duration `koanf:"cache_ttl"`
	CatalogBaseURL            string        `koanf:"catalog_base_url"`
	CatalogMinInterval        time.Duration `koanf:"catalog_min_interval"`
	CatalogSecret             string        `koanf:"catalog_secret"`
	CatalogTimeout            time.Duration `koanf:"catalog_timeout"`
	CatalogUserAgent          string        `koanf:"catalog_user_agent"`
	DatabaseBusyTimeout       time.Duration `koanf:"database_busy_timeout"`
	DatabaseConnectRetryCount int           `koanf:"database_connect_retry_count"`
	DatabaseConnectRetryDelay time.Duration `koanf:"database_connect_retry_delay"`
	DatabaseDebug             bool          `koanf:"database_debug"`
	DatabaseFilePath          string        `koanf:"database_file_path"`
	DatabaseMaxRetries        int           `koanf:"database_max_retries"`
	FFprobePath               string        `koanf:"ffprobe_path"`
	Hostname                  string        `koanf:"-"`
	MatchConfidence           float64       `koanf:"match_confidence"`
	ServerHost                string        `koanf:"server_host"`
	ServerPort                int           `koanf:"server_port"`
	WorkerPollInterval        time.Duration `koanf:"worker_poll_interval"`
}

// New loads config from the yaml file named by CONFIG_FILE (falling back to
// /config/medley.yaml), then overlays environment variables. Env vars use the
// upper-snake form of the file keys, so server_port becomes SERVER_PORT.
func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := defaultConfig()
	cfg.Hostname = hostname

	k := koanf.New(".")

	configFile := os.Getenv(configFileENV)
	if configFile == "" {
		configFile = defaultConfigFile
	}
	if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(err, "failed to load config file %s", configFile)
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, errors.WithStack(err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.WithStack(err)
	}

	if cfg.DatabaseFilePath == "" {
		return nil, missingRequired("DatabaseFilePath")
	}

	return cfg, nil
}

// NewForTest returns a config suitable for tests: an in-memory database and a
// catalog rate limit low enough that test suites don't sleep.
func NewForTest() *Config {
	cfg := defaultConfig()
	cfg.Hostname = "test"
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	cfg.CatalogMinInterval = time.Millisecond
	cfg.WorkerPollInterval = 10 * time.Millisecond
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		CacheTTL:                  24 * time.Hour,
		CatalogMinInterval:        1100 * time.Millisecond,
		CatalogTimeout:            30 * time.Second,
		CatalogUserAgent:          "medley/1.0 (+https://github.com/medleyhq/medley)",
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        3,
		FFprobePath:               "ffprobe",
		MatchConfidence:           0.85,
		ServerHost:                "0.0.0.0",
		ServerPort:                4280,
	}
}

func missingRequired(field string) error {
	key := toSnakeCase(field)
	return errors.Errorf("missing required config: set %s in the config file or %s in the environment", key, strings.ToUpper(key))
}

func toSnakeCase(s string) string {
	return strcase.ToSnake(s)
}
