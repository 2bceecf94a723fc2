package config

import (
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/codemap/codemap/internal/domain/mapping"
)

type Config struct {
	Port               string   `mapstructure:"HTTP_PORT"`
	Env                string   `mapstructure:"ENV"`
	LogLevel           string   `mapstructure:"LOG_LEVEL"`
	LogFormat          string   `mapstructure:"LOG_FORMAT"`
	DatabaseURL        string   `mapstructure:"DATABASE_URL"`
	DBMaxConns         int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns         int32    `mapstructure:"DB_MIN_CONNS"`
	AuthEnabled        bool     `mapstructure:"AUTH_ENABLED"`
	JWTSecret          string   `mapstructure:"JWT_SECRET"`
	CORSOrigins        []string `mapstructure:"CORS_ORIGINS"`
	MappersFile        string   `mapstructure:"MAPPERS_FILE"`
	DefaultMapper      string   `mapstructure:"DEFAULT_MAPPER"`
	DefaultDescription string   `mapstructure:"DEFAULT_DESCRIPTION"`
	FallbackFloor      int      `mapstructure:"FALLBACK_FLOOR"`
	SearchMaxLimit     int      `mapstructure:"SEARCH_MAX_LIMIT"`
	RateLimitRPS       float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst     int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit          string   `mapstructure:"BODY_LIMIT"`
}

// Load reads configuration from the environment and an optional .env file.
// Environment variables carry the CODEMAP_ prefix (CODEMAP_HTTP_PORT,
// CODEMAP_LOG_LEVEL, ...); the .env file uses the bare key names.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetEnvPrefix("CODEMAP")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("HTTP_PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DEFAULT_MAPPER", mapping.MapperICD10CA)
	v.SetDefault("DEFAULT_DESCRIPTION", mapping.DefaultDescription)
	v.SetDefault("FALLBACK_FLOOR", mapping.DefaultFloor)
	v.SetDefault("SEARCH_MAX_LIMIT", 100)
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("HTTP_PORT")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")
	v.BindEnv("LOG_FORMAT")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("AUTH_ENABLED")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("MAPPERS_FILE")
	v.BindEnv("DEFAULT_MAPPER")
	v.BindEnv("DEFAULT_DESCRIPTION")
	v.BindEnv("FALLBACK_FLOOR")
	v.BindEnv("SEARCH_MAX_LIMIT")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("BODY_LIMIT")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.IsProduction() && !cfg.AuthEnabled {
		log.Println("WARNING: ============================================================")
		log.Println("WARNING: Server is running in production WITHOUT authentication.")
		log.Println("WARNING: Admin endpoints (mapper removal, stats reset) are open.")
		log.Println("WARNING: Set CODEMAP_AUTH_ENABLED=true and CODEMAP_JWT_SECRET")
		log.Println("WARNING: to protect them.")
		log.Println("WARNING: ============================================================")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. When auth is
// enabled the JWT secret must be present and long enough for HS256 to be
// meaningful.
func (c *Config) Validate() error {
	if c.AuthEnabled {
		if c.JWTSecret == "" {
			return fmt.Errorf("CODEMAP_JWT_SECRET is required when CODEMAP_AUTH_ENABLED is true")
		}
		if len(c.JWTSecret) < 32 {
			return fmt.Errorf("CODEMAP_JWT_SECRET must be at least 32 characters, got %d", len(c.JWTSecret))
		}
	}
	if c.FallbackFloor < 1 {
		return fmt.Errorf("CODEMAP_FALLBACK_FLOOR must be at least 1, got %d", c.FallbackFloor)
	}
	if c.SearchMaxLimit < 1 {
		return fmt.Errorf("CODEMAP_SEARCH_MAX_LIMIT must be at least 1, got %d", c.SearchMaxLimit)
	}
	if c.DefaultMapper == "" {
		return fmt.Errorf("CODEMAP_DEFAULT_MAPPER must not be empty")
	}
	return nil
}

// Mapper source kinds accepted in the mappers file.
const (
	SourceFile     = "file"
	SourcePostgres = "postgres"
)

// MapperConfig is one mapper entry in the mappers YAML file. Source selects
// where the codes load from: "file" (the default) reads a delimited file at
// Path, "postgres" reads the shared mapping table named by Table.
type MapperConfig struct {
	Source            string   `mapstructure:"source"`
	Path              string   `mapstructure:"path"`
	Table             string   `mapstructure:"table"`
	Delimiter         string   `mapstructure:"delimiter"`
	CodeColumn        int      `mapstructure:"code_column"`
	DescriptionColumn int      `mapstructure:"description_column"`
	Header            bool     `mapstructure:"header"`
	FilterColumn      int      `mapstructure:"filter_column"`
	FilterValue       string   `mapstructure:"filter_value"`
	Tokens            []string `mapstructure:"tokens"`
	CodeType          string   `mapstructure:"code_type"`
	Floor             int      `mapstructure:"floor"`
}

// MapperEntry pairs a mapper name with its parsed configuration. Binding the
// entry to a concrete source happens in the caller, which knows whether a
// database pool is available.
type MapperEntry struct {
	Name   string
	Config MapperConfig
}

// LoadMappers reads the mappers YAML file and returns the validated entries.
// Mapper names are sorted so registration order, and with it token
// precedence, does not depend on map iteration.
func LoadMappers(path string) ([]MapperEntry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read mappers file: %w", err)
	}

	raw := map[string]MapperConfig{}
	if err := v.UnmarshalKey("mappers", &raw); err != nil {
		return nil, fmt.Errorf("unmarshal mappers: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no mappers defined in %s", path)
	}

	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]MapperEntry, 0, len(names))
	for _, name := range names {
		mc := raw[name]
		if mc.Source == "" {
			mc.Source = SourceFile
		}
		switch mc.Source {
		case SourceFile:
			if mc.Path == "" {
				return nil, fmt.Errorf("mapper %q: path is required for file sources", name)
			}
		case SourcePostgres:
			if mc.Table == "" {
				return nil, fmt.Errorf("mapper %q: table is required for postgres sources", name)
			}
		default:
			return nil, fmt.Errorf("mapper %q: unknown source %q", name, mc.Source)
		}
		entries = append(entries, MapperEntry{Name: name, Config: mc})
	}
	return entries, nil
}
