package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	AIProviderOpenAI    = "openai"
	AIProviderAnthropic = "anthropic"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Backend       BackendConfig
	AI            AIConfig
	Suggest       SuggestConfig
	History       HistoryConfig
	ObjectStore   ObjectStoreConfig
	Session       SessionConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// BackendConfig bounds every target database connection opened by a session.
type BackendConfig struct {
	ConnectTimeout time.Duration
	ExecuteTimeout time.Duration
	MaxRows        int
	MaxOpenConns   int
}

type AIConfig struct {
	Enabled         bool
	Provider        string
	BaseURL         string
	APIKey          string
	Model           string
	Temperature     float64
	MaxTokens       int
	Timeout         time.Duration
	SuggestionCount int
}

type SuggestConfig struct {
	DictionaryDir    string
	DictionaryPrefix string
	DefaultLimit     int
}

type HistoryConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	LoadLimit       int
	ArchiveEnabled  bool
	// AutoMigrate applies pending history migrations when the API starts.
	AutoMigrate bool
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

// Enabled reports whether an object store endpoint and bucket are configured.
func (c ObjectStoreConfig) Enabled() bool {
	return c.Endpoint != "" && c.Bucket != ""
}

type SessionConfig struct {
	IdleTTL      time.Duration
	ReapInterval time.Duration
	MaxSessions  int
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ASKDB_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ASKDB_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	env := &envReader{lookup: lookup}
	env.str("ASKDB_SERVICE_NAME", &cfg.Service.Name)

	env.str("ASKDB_HTTP_ADDR", &cfg.HTTP.Address)
	env.duration("ASKDB_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout)
	env.duration("ASKDB_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout)
	env.duration("ASKDB_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout)

	env.duration("ASKDB_BACKEND_CONNECT_TIMEOUT", &cfg.Backend.ConnectTimeout)
	env.duration("ASKDB_BACKEND_EXECUTE_TIMEOUT", &cfg.Backend.ExecuteTimeout)
	env.integer("ASKDB_BACKEND_MAX_ROWS", &cfg.Backend.MaxRows)
	env.integer("ASKDB_BACKEND_MAX_OPEN_CONNS", &cfg.Backend.MaxOpenConns)

	env.boolean("ASKDB_AI_ENABLED", &cfg.AI.Enabled)
	env.str("ASKDB_AI_PROVIDER", &cfg.AI.Provider)
	env.str("ASKDB_AI_BASE_URL", &cfg.AI.BaseURL)
	env.str("ASKDB_AI_API_KEY", &cfg.AI.APIKey)
	env.str("ASKDB_AI_MODEL", &cfg.AI.Model)
	env.float("ASKDB_AI_TEMPERATURE", &cfg.AI.Temperature)
	env.integer("ASKDB_AI_MAX_TOKENS", &cfg.AI.MaxTokens)
	env.duration("ASKDB_AI_TIMEOUT", &cfg.AI.Timeout)
	env.integer("ASKDB_AI_SUGGESTION_COUNT", &cfg.AI.SuggestionCount)

	env.str("ASKDB_SUGGEST_DICTIONARY_DIR", &cfg.Suggest.DictionaryDir)
	env.str("ASKDB_SUGGEST_DICTIONARY_PREFIX", &cfg.Suggest.DictionaryPrefix)
	env.integer("ASKDB_SUGGEST_DEFAULT_LIMIT", &cfg.Suggest.DefaultLimit)

	env.str("ASKDB_HISTORY_DSN", &cfg.History.DSN)
	env.integer("ASKDB_HISTORY_MAX_OPEN_CONNS", &cfg.History.MaxOpenConns)
	env.integer("ASKDB_HISTORY_MAX_IDLE_CONNS", &cfg.History.MaxIdleConns)
	env.duration("ASKDB_HISTORY_CONN_MAX_IDLE_TIME", &cfg.History.ConnMaxIdleTime)
	env.duration("ASKDB_HISTORY_CONN_MAX_LIFETIME", &cfg.History.ConnMaxLifetime)
	env.integer("ASKDB_HISTORY_LOAD_LIMIT", &cfg.History.LoadLimit)
	env.boolean("ASKDB_HISTORY_ARCHIVE_ENABLED", &cfg.History.ArchiveEnabled)
	env.boolean("ASKDB_HISTORY_AUTO_MIGRATE", &cfg.History.AutoMigrate)

	env.str("ASKDB_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	env.str("ASKDB_OBJECTSTORE_REGION", &cfg.ObjectStore.Region)
	env.str("ASKDB_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket)
	env.str("ASKDB_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID)
	env.str("ASKDB_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
	env.boolean("ASKDB_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL)
	env.str("ASKDB_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix)
	env.boolean("ASKDB_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)

	env.duration("ASKDB_SESSION_IDLE_TTL", &cfg.Session.IdleTTL)
	env.duration("ASKDB_SESSION_REAP_INTERVAL", &cfg.Session.ReapInterval)
	env.integer("ASKDB_SESSION_MAX", &cfg.Session.MaxSessions)

	env.boolean("ASKDB_LOG_JSON", &cfg.Observability.LogJSON)
	env.logLevel("ASKDB_LOG_LEVEL", &cfg.Observability.LogLevel)

	env.boolean("ASKDB_AUTH_REQUIRED", &cfg.Auth.Required)
	env.str("ASKDB_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys)

	if env.err != nil {
		return Config{}, env.err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	switch c.AI.Provider {
	case AIProviderOpenAI, AIProviderAnthropic:
	default:
		return fmt.Errorf("invalid ASKDB_AI_PROVIDER: %q", c.AI.Provider)
	}
	if c.Backend.MaxRows <= 0 {
		return fmt.Errorf("invalid ASKDB_BACKEND_MAX_ROWS: must be positive")
	}
	if c.Backend.ExecuteTimeout <= 0 {
		return fmt.Errorf("invalid ASKDB_BACKEND_EXECUTE_TIMEOUT: must be positive")
	}
	if c.AI.SuggestionCount < 0 {
		return fmt.Errorf("invalid ASKDB_AI_SUGGESTION_COUNT: must not be negative")
	}
	if c.History.ArchiveEnabled && !c.ObjectStore.Enabled() {
		return fmt.Errorf("history archive requires ASKDB_OBJECTSTORE_ENDPOINT and ASKDB_OBJECTSTORE_BUCKET")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "askdb-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Backend: BackendConfig{
			ConnectTimeout: 15 * time.Second,
			ExecuteTimeout: 30 * time.Second,
			MaxRows:        10000,
			MaxOpenConns:   4,
		},
		AI: AIConfig{
			Enabled:         true,
			Provider:        AIProviderOpenAI,
			BaseURL:         "https://api.openai.com/v1",
			Model:           "gpt-4o-mini",
			Temperature:     0.1,
			MaxTokens:       1024,
			Timeout:         30 * time.Second,
			SuggestionCount: 30,
		},
		Suggest: SuggestConfig{
			DefaultLimit: 20,
		},
		History: HistoryConfig{
			MaxOpenConns:    10,
			MaxIdleConns:    10,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			LoadLimit:       500,
			AutoMigrate:     true,
		},
		ObjectStore: ObjectStoreConfig{
			Region:           "us-east-1",
			Bucket:           "askdb",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			AutoCreateBucket: true,
		},
		Session: SessionConfig{
			IdleTTL:      30 * time.Minute,
			ReapInterval: time.Minute,
			MaxSessions:  256,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.AI.Enabled = false
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.History.AutoMigrate = false
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}
