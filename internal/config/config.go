package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Addr string `yaml:"addr"`
	// APIURL is the LanguageTool-compatible check endpoint.
	APIURL   string `yaml:"api_url"`
	Language string `yaml:"language"`
	// Debounce is the quiet period after an edit burst before analysis.
	Debounce time.Duration `yaml:"debounce"`
	// AnalyzerTimeout bounds one analyzer round trip. Zero means no bound.
	AnalyzerTimeout time.Duration `yaml:"analyzer_timeout"`
	PositionBias    int           `yaml:"position_bias"`
	RedisURL        string        `yaml:"redis_url"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CachePath       string        `yaml:"cache_path"`
	DatabaseURL     string        `yaml:"database_url"`
	MigrationsDir   string        `yaml:"migrations_dir"`
	TokenSecret     string        `yaml:"token_secret"`
	CORSOrigin      string        `yaml:"cors_origin"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// Default is the configuration before any file or environment is applied.
func Default() Config {
	return Config{
		Addr:          ":8788",
		Language:      "auto",
		Debounce:      time.Second,
		PositionBias:  1,
		CacheTTL:      24 * time.Hour,
		CachePath:     ".proofread-cache.db",
		MigrationsDir: "./db/migrations",
		CORSOrigin:    "*",
		LogLevel:      "info",
		LogFormat:     "json",
	}
}

// Load applies the YAML file named by PROOFREAD_CONFIG, if any, and then the
// environment.
func Load() (Config, error) {
	return LoadFile(os.Getenv("PROOFREAD_CONFIG"))
}

// LoadFile applies the YAML file at path, if any, and then the environment.
// A missing file is an error; an empty path skips the file.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Addr = getenv("PROOFREAD_ADDR", c.Addr)
	c.APIURL = getenv("LANGUAGETOOL_URL", c.APIURL)
	c.Language = getenv("PROOFREAD_LANGUAGE", c.Language)
	c.Debounce = time.Duration(getenvInt("PROOFREAD_DEBOUNCE_MS", int(c.Debounce/time.Millisecond))) * time.Millisecond
	c.AnalyzerTimeout = time.Duration(getenvInt("PROOFREAD_ANALYZER_TIMEOUT_MS", int(c.AnalyzerTimeout/time.Millisecond))) * time.Millisecond
	c.PositionBias = getenvInt("PROOFREAD_POSITION_BIAS", c.PositionBias)
	c.RedisURL = getenv("REDIS_URL", c.RedisURL)
	c.CacheTTL = time.Duration(getenvInt("PROOFREAD_CACHE_TTL_SECONDS", int(c.CacheTTL/time.Second))) * time.Second
	c.CachePath = getenv("PROOFREAD_CACHE_PATH", c.CachePath)
	c.DatabaseURL = getenv("DATABASE_URL", c.DatabaseURL)
	c.MigrationsDir = getenv("PROOFREAD_MIGRATIONS_DIR", c.MigrationsDir)
	c.TokenSecret = getenv("PROOFREAD_TOKEN_SECRET", c.TokenSecret)
	c.CORSOrigin = getenv("PROOFREAD_CORS_ORIGIN", c.CORSOrigin)
	c.LogLevel = getenv("PROOFREAD_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenv("PROOFREAD_LOG_FORMAT", c.LogFormat)
}

// Validate rejects configurations the analyzer cannot run with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.APIURL) == "" {
		problems = append(problems, "api_url (LANGUAGETOOL_URL) is required")
	}
	if c.Debounce < 0 {
		problems = append(problems, "debounce must not be negative")
	}
	if c.AnalyzerTimeout < 0 {
		problems = append(problems, "analyzer_timeout must not be negative")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
