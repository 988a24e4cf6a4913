// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Redis, Solr, DSpace, Auth, ...).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Solr     SolrConfig     `yaml:"solr"`
	DSpace   DSpaceConfig   `yaml:"dspace"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds connection parameters for the DSpace catalog database.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and response-cache parameters.
// Caching is optional; an empty Addr disables it.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// RetryPolicy selects which Solr failures are retried during monthly
// fan-out queries.
type RetryPolicy string

const (
	// RetryOverload retries only responses carrying the configured
	// overload status code.
	RetryOverload RetryPolicy = "overload"
	// RetryAlways retries every failed sub-query up to the bound.
	RetryAlways RetryPolicy = "always"
	// RetryNever drops failed sub-queries immediately.
	RetryNever RetryPolicy = "never"
)

// SolrConfig holds the statistics engine endpoint and protocol selection.
type SolrConfig struct {
	// BaseURL is the Solr root, e.g. http://localhost:8983/solr.
	BaseURL string `yaml:"baseURL"`
	// Protocol selects the query variant: "json" (nested JSON facet
	// trees), "legacy" (flat facet.pivot parameters) or "sharded"
	// (JSON facets + shard discovery + per-month fan-out).
	Protocol string `yaml:"protocol"`
	// StatisticsCore is the usage statistics core name.
	StatisticsCore string `yaml:"statisticsCore"`
	// SearchCore is the discovery core used by the overview endpoint.
	SearchCore     string        `yaml:"searchCore"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	RetryPolicy    RetryPolicy   `yaml:"retryPolicy"`
	// RetryStatus is the HTTP status treated as "engine overloaded"
	// under the overload retry policy.
	RetryStatus int `yaml:"retryStatus"`
	// MaxRetries bounds the extra passes over failed monthly
	// sub-queries (attempts = 1 + MaxRetries).
	MaxRetries int `yaml:"maxRetries"`
}

// KindKeys holds the per-entity-kind Solr field names used to attribute
// views and downloads.
type KindKeys struct {
	Views     string `yaml:"views"`
	Downloads string `yaml:"downloads"`
}

// DSpaceConfig holds catalog schema mappings and presentation settings.
type DSpaceConfig struct {
	// TitleMetadataField is schema.element[.qualifier]; falls back to
	// dc.title when malformed.
	TitleMetadataField string `yaml:"titleMetadataField"`
	// HandleBaseURL prefixes entity handles in CSV exports.
	HandleBaseURL string `yaml:"handleBaseURL"`

	ItemResourceTypeID       int `yaml:"itemResourceTypeID"`
	CollectionResourceTypeID int `yaml:"collectionResourceTypeID"`
	CommunityResourceTypeID  int `yaml:"communityResourceTypeID"`

	ItemKeys       KindKeys `yaml:"itemKeys"`
	CollectionKeys KindKeys `yaml:"collectionKeys"`
	CommunityKeys  KindKeys `yaml:"communityKeys"`
}

// AuthConfig holds the API key protecting CSV export endpoints.
type AuthConfig struct {
	APIKey string `yaml:"apiKey"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// defaultConfig returns a Config with defaults matching a stock DSpace 7
// installation running locally.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // CSV exports of large collections are slow
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "dspace",
			User:            "dspace",
			Password:        "dspace",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Solr: SolrConfig{
			BaseURL:        "http://localhost:8983/solr",
			Protocol:       "json",
			StatisticsCore: "statistics",
			SearchCore:     "search",
			RequestTimeout: 60 * time.Second,
			RetryPolicy:    RetryOverload,
			RetryStatus:    503,
			MaxRetries:     5,
		},
		DSpace: DSpaceConfig{
			TitleMetadataField:       "dc.title",
			HandleBaseURL:            "https://hdl.handle.net",
			ItemResourceTypeID:       2,
			CollectionResourceTypeID: 3,
			CommunityResourceTypeID:  4,
			ItemKeys:                 KindKeys{Views: "id", Downloads: "owningItem"},
			CollectionKeys:           KindKeys{Views: "owningColl", Downloads: "owningColl"},
			CommunityKeys:            KindKeys{Views: "owningComm", Downloads: "owningComm"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads DSTATS_* infrastructure variables plus the
// SOLR_*/DSPACE_*/HANDLE_URL/API_KEY variables that existing DSpace
// deployments already export, and overrides the corresponding fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DSTATS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DSTATS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("DSTATS_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("DSTATS_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("DSTATS_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("DSTATS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("DSTATS_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("DSTATS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("DSTATS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("DSTATS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DSTATS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("SOLR_SERVER"); v != "" {
		cfg.Solr.BaseURL = v
	}
	if v := os.Getenv("SOLR_PROTOCOL"); v != "" {
		cfg.Solr.Protocol = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}
	if v := os.Getenv("HANDLE_URL"); v != "" {
		cfg.DSpace.HandleBaseURL = v
	}
	if v := os.Getenv("DSPACE_TITLE_METADATA_FIELD"); v != "" {
		cfg.DSpace.TitleMetadataField = v
	}
	if v := os.Getenv("DSPACE_ITEM_RESOURCE_TYPE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.DSpace.ItemResourceTypeID = id
		}
	}
	if v := os.Getenv("DSPACE_COLLECTION_RESOURCE_TYPE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.DSpace.CollectionResourceTypeID = id
		}
	}
	if v := os.Getenv("DSPACE_COMMUNITY_RESOURCE_TYPE_ID"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			cfg.DSpace.CommunityResourceTypeID = id
		}
	}
	if v := os.Getenv("SOLR_VIEWS_KEY_ITEM"); v != "" {
		cfg.DSpace.ItemKeys.Views = v
	}
	if v := os.Getenv("SOLR_DOWNLOADS_KEY_ITEM"); v != "" {
		cfg.DSpace.ItemKeys.Downloads = v
	}
	if v := os.Getenv("SOLR_VIEWS_KEY_COLLECTION"); v != "" {
		cfg.DSpace.CollectionKeys.Views = v
	}
	if v := os.Getenv("SOLR_DOWNLOADS_KEY_COLLECTION"); v != "" {
		cfg.DSpace.CollectionKeys.Downloads = v
	}
	if v := os.Getenv("SOLR_VIEWS_KEY_COMMUNITY"); v != "" {
		cfg.DSpace.CommunityKeys.Views = v
	}
	if v := os.Getenv("SOLR_DOWNLOADS_KEY_COMMUNITY"); v != "" {
		cfg.DSpace.CommunityKeys.Downloads = v
	}
}

// TitleField splits TitleMetadataField into schema, element and optional
// qualifier, defaulting to dc.title when the value is malformed.
func (d DSpaceConfig) TitleField() (schema, element, qualifier string) {
	parts := strings.Split(d.TitleMetadataField, ".")
	if len(parts) < 2 {
		parts = []string{"dc", "title"}
	}
	schema, element = parts[0], parts[1]
	if len(parts) == 3 {
		qualifier = parts[2]
	}
	return schema, element, qualifier
}
