package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort          = 2334
	defaultConsumerPort  = 2335
	defaultEnv           = "development"
	defaultBaseURL       = "http://localhost:2334"
	defaultDBHost        = "127.0.0.1"
	defaultDBPort        = 3306
	defaultDBUser        = "root"
	defaultDBPassword    = "password"
	defaultDBName        = "shortener"
	defaultDBCharset     = "utf8mb4"
	defaultRedisURL      = "redis://localhost:6379/0"
	defaultMongoURI      = "mongodb://localhost:27017"
	defaultMongoDatabase = "shortener_analytics"

	defaultCodeLength     = 7
	minCodeLength         = 4
	maxCodeLength         = 16
	defaultMaxURLLength   = 2048
	defaultAliasMinLength = 3
	defaultAliasMaxLength = 50
	defaultCacheTTL       = 3600
	defaultHitsTopic      = "url.hits"
	defaultConsumerGroup  = "analytics"
	defaultRateLimitTTL   = 1
	defaultRateLimit      = 50
	defaultAPIKeyHeader   = "X-API-Key"
)

// AppConfig holds runtime startup configuration loaded from YAML with
// environment overrides applied on top.
type AppConfig struct {
	Port           int      `yaml:"port"`
	Env            string   `yaml:"env"` // "development" | "production"
	BaseURL        string   `yaml:"base_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	DSN      string                `yaml:"dsn"` // MySQL DSN; built from Database when empty
	Database DatabaseRuntimeConfig `yaml:"database"`
	RedisURL string                `yaml:"redis_url"`
	Mongo    MongoRuntimeConfig    `yaml:"mongo"`

	CodeLength     int `yaml:"code_length"`
	MaxURLLength   int `yaml:"max_url_length"`
	AliasMinLength int `yaml:"alias_min_length"`
	AliasMaxLength int `yaml:"alias_max_length"`
	CacheTTL       int `yaml:"cache_ttl_seconds"`

	HitsTopic     string `yaml:"hits_topic"`
	ConsumerGroup string `yaml:"consumer_group"`
	ConsumerPort  int    `yaml:"consumer_port"` // metrics/liveness port of the consumer binary

	RateLimitTTL   int `yaml:"rate_limit_ttl"`
	RateLimitCount int `yaml:"rate_limit"`

	EnableURLScanning  bool   `yaml:"enable_url_scanning"`
	ReputationEndpoint string `yaml:"reputation_endpoint"`

	AdminAPIKey  string `yaml:"admin_api_key"`
	APIKeyHeader string `yaml:"api_key_header"`

	LogLevel string `yaml:"log_level"`
}

type DatabaseRuntimeConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Charset  string `yaml:"charset"`
}

type MongoRuntimeConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// Load reads the YAML config at path (missing file is fine, env-only setups
// are supported), applies environment overrides and defaults, and validates.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// env-only configuration
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *AppConfig) {
	setInt(&cfg.Port, "PORT")
	setStr(&cfg.Env, "ENV")
	setStr(&cfg.BaseURL, "BASE_URL")
	if v, ok := os.LookupEnv("ALLOWED_ORIGINS"); ok && strings.TrimSpace(v) != "" {
		parts := strings.Split(v, ",")
		origins := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				origins = append(origins, p)
			}
		}
		cfg.AllowedOrigins = origins
	}

	setStr(&cfg.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.Host, "DB_HOST")
	setInt(&cfg.Database.Port, "DB_PORT")
	setStr(&cfg.Database.User, "DB_USER")
	setStr(&cfg.Database.Password, "DB_PASSWORD")
	setStr(&cfg.Database.Name, "DB_NAME")

	setStr(&cfg.RedisURL, "REDIS_URL")
	setStr(&cfg.Mongo.URI, "MONGO_URI")
	setStr(&cfg.Mongo.Database, "MONGO_DATABASE")

	setInt(&cfg.CodeLength, "DEFAULT_CODE_LENGTH")
	setInt(&cfg.MaxURLLength, "MAX_URL_LENGTH")
	setInt(&cfg.AliasMinLength, "CUSTOM_ALIAS_MIN_LENGTH")
	setInt(&cfg.AliasMaxLength, "CUSTOM_ALIAS_MAX_LENGTH")
	setInt(&cfg.CacheTTL, "REDIS_TTL")

	setStr(&cfg.HitsTopic, "EVENT_TOPIC_HITS")
	setStr(&cfg.ConsumerGroup, "EVENT_CONSUMER_GROUP")
	setInt(&cfg.ConsumerPort, "EVENT_CONSUMER_PORT")

	setInt(&cfg.RateLimitTTL, "RATE_LIMIT_TTL")
	setInt(&cfg.RateLimitCount, "RATE_LIMIT_LIMIT")

	setBool(&cfg.EnableURLScanning, "ENABLE_URL_SCANNING")
	setStr(&cfg.ReputationEndpoint, "URL_SCANNING_ENDPOINT")

	setStr(&cfg.AdminAPIKey, "ADMIN_API_KEY")
	setStr(&cfg.APIKeyHeader, "API_KEY_HEADER")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	if cfg.Database.Host == "" {
		cfg.Database.Host = defaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = defaultDBUser
	}
	if cfg.Database.Password == "" {
		cfg.Database.Password = defaultDBPassword
	}
	if cfg.Database.Name == "" {
		cfg.Database.Name = defaultDBName
	}
	if cfg.Database.Charset == "" {
		cfg.Database.Charset = defaultDBCharset
	}
	if cfg.DSN == "" {
		cfg.DSN = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=%s&parseTime=True&loc=Local",
			cfg.Database.User, cfg.Database.Password,
			cfg.Database.Host, cfg.Database.Port,
			cfg.Database.Name, cfg.Database.Charset)
	}

	if cfg.RedisURL == "" {
		cfg.RedisURL = defaultRedisURL
	}
	if cfg.Mongo.URI == "" {
		cfg.Mongo.URI = defaultMongoURI
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = defaultMongoDatabase
	}

	if cfg.CodeLength == 0 {
		cfg.CodeLength = defaultCodeLength
	}
	if cfg.MaxURLLength == 0 {
		cfg.MaxURLLength = defaultMaxURLLength
	}
	if cfg.AliasMinLength == 0 {
		cfg.AliasMinLength = defaultAliasMinLength
	}
	if cfg.AliasMaxLength == 0 {
		cfg.AliasMaxLength = defaultAliasMaxLength
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	if cfg.HitsTopic == "" {
		cfg.HitsTopic = defaultHitsTopic
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = defaultConsumerGroup
	}
	if cfg.ConsumerPort == 0 {
		cfg.ConsumerPort = defaultConsumerPort
	}
	if cfg.RateLimitTTL == 0 {
		cfg.RateLimitTTL = defaultRateLimitTTL
	}
	if cfg.RateLimitCount == 0 {
		cfg.RateLimitCount = defaultRateLimit
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func (c *AppConfig) validate() error {
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not an absolute URL", c.BaseURL)
	}
	if c.CodeLength < minCodeLength || c.CodeLength > maxCodeLength {
		return fmt.Errorf("code_length %d out of range [%d, %d]", c.CodeLength, minCodeLength, maxCodeLength)
	}
	if c.AliasMinLength < 1 || c.AliasMaxLength < c.AliasMinLength {
		return fmt.Errorf("alias length bounds [%d, %d] are invalid", c.AliasMinLength, c.AliasMaxLength)
	}
	if c.AdminAPIKey == "" {
		return fmt.Errorf("admin_api_key (ADMIN_API_KEY) is required")
	}
	if _, err := url.Parse(c.RedisURL); err != nil {
		return fmt.Errorf("redis_url: %w", err)
	}
	return nil
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env != "production" }

// ShortURL builds the externally visible short URL for a code.
func (c *AppConfig) ShortURL(code string) string {
	return c.BaseURL + "/" + code
}

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}
