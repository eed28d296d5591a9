package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	Type     string `mapstructure:"type"     validate:"required,oneof=postgres postgresql mysql mariadb sqlite sqlserver mssql"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"     validate:"min=0,max=65535"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database" validate:"required"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SearchConfig struct {
	Type string `mapstructure:"type" validate:"required,oneof=memory sql"`
}

type FilesystemConfig struct {
	Dir string `mapstructure:"dir"`
}

type S3Config struct {
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	KeyID     string `mapstructure:"key_id"`
	AccessKey string `mapstructure:"access_key"`
	Timeout   string `mapstructure:"timeout"`
	Prefix    string `mapstructure:"prefix"`
}

type RetrieveConfig struct {
	Type       string           `mapstructure:"type"       validate:"required,oneof=memory sql filesystem s3"`
	CacheSize  int              `mapstructure:"cache_size" validate:"min=0"`
	CacheTTL   string           `mapstructure:"cache_ttl"`
	Filesystem FilesystemConfig `mapstructure:"filesystem"`
	S3         S3Config         `mapstructure:"s3"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"     validate:"required_if=Enabled true"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"       validate:"min=0"`
	Key      string `mapstructure:"key"      validate:"required_if=Enabled true"`
}

type ExtensionsConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type PaginationConfig struct {
	DefaultPageSize int `mapstructure:"default_page_size" validate:"min=1"`
	MaxPageSize     int `mapstructure:"max_page_size"     validate:"min=1,gtefield=DefaultPageSize"`
}

type AdminConfig struct {
	Username string `mapstructure:"username"`
}

type AppConfig struct {
	Port                  int    `mapstructure:"port"                   validate:"required,numeric,min=1,max=65535"`
	LogLevel              string `mapstructure:"log_level"              validate:"required,oneof=trace debug info warn error fatal panic disabled"`
	HumanReadableOutput   bool   `mapstructure:"human_readable_output"`
	ProductionEnvironment bool   `mapstructure:"production_environment"`

	Database   DatabaseConfig   `mapstructure:"database"`
	Search     SearchConfig     `mapstructure:"search"`
	Retrieve   RetrieveConfig   `mapstructure:"retrieve"`
	Extensions ExtensionsConfig `mapstructure:"extensions"`
	Pagination PaginationConfig `mapstructure:"pagination"`
	Admin      AdminConfig      `mapstructure:"admin"`
}

// DefaultValue seeds a configuration key before files and environment are
// consulted.
type DefaultValue struct {
	Key   string
	Value any
}

var Defaults = []DefaultValue{
	{Key: "port", Value: 50051},
	{Key: "log_level", Value: "info"},
	{Key: "human_readable_output", Value: false},
	{Key: "production_environment", Value: true},

	{Key: "database.type", Value: "postgres"},
	{Key: "database.host", Value: "localhost"},
	{Key: "database.port", Value: 5432},
	{Key: "database.username", Value: ""},
	{Key: "database.password", Value: ""},
	{Key: "database.database", Value: "dataset_registry"},
	{Key: "database.sslmode", Value: "disable"},

	{Key: "search.type", Value: "sql"},

	{Key: "retrieve.type", Value: "sql"},
	{Key: "retrieve.cache_size", Value: 0},
	{Key: "retrieve.cache_ttl", Value: "5m"},
	{Key: "retrieve.filesystem.dir", Value: "./metadata"},
	{Key: "retrieve.s3.endpoint", Value: ""},
	{Key: "retrieve.s3.region", Value: ""},
	{Key: "retrieve.s3.bucket", Value: ""},
	{Key: "retrieve.s3.key_id", Value: ""},
	{Key: "retrieve.s3.access_key", Value: ""},
	{Key: "retrieve.s3.timeout", Value: "30s"},
	{Key: "retrieve.s3.prefix", Value: ""},

	{Key: "extensions.redis.enabled", Value: false},
	{Key: "extensions.redis.addr", Value: ""},
	{Key: "extensions.redis.password", Value: ""},
	{Key: "extensions.redis.db", Value: 0},
	{Key: "extensions.redis.key", Value: "dataset-registry:events"},

	{Key: "pagination.default_page_size", Value: 10},
	{Key: "pagination.max_page_size", Value: 100},

	{Key: "admin.username", Value: ""},
}

// Load builds the application configuration. Precedence from lowest to
// highest: defaults, <name>.yaml in the working directory or /etc/<name>,
// a .env file, environment variables prefixed with the upper-cased name.
func Load(name string, defaults ...DefaultValue) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	v := viper.New()
	for _, d := range Defaults {
		v.SetDefault(d.Key, d.Value)
	}
	for _, d := range defaults {
		v.SetDefault(d.Key, d.Value)
	}

	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/" + name)

	v.SetEnvPrefix(envPrefix(name))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the struct tags of cfg.
func Validate(cfg *AppConfig) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Retrieve.CacheTTL != "" {
		if _, err := time.ParseDuration(cfg.Retrieve.CacheTTL); err != nil {
			return fmt.Errorf("invalid configuration: retrieve.cache_ttl: %w", err)
		}
	}

	if cfg.Retrieve.S3.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Retrieve.S3.Timeout); err != nil {
			return fmt.Errorf("invalid configuration: retrieve.s3.timeout: %w", err)
		}
	}

	return nil
}

// InitLogger configures the global zerolog logger from cfg.
func InitLogger(cfg *AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.HumanReadableOutput {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		})
	}
}

func envPrefix(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
