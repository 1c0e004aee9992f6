package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/preventera/safetygraph/pkg/apperrors"
)

// Config holds all process configuration for the ingestion engine.
// Configuration can come from YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	Env     string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	DataDir string `yaml:"data_dir" env:"DATA_DIR" env-default:"data"`

	// Paths to the externally supplied data documents. The source
	// vocabulary expands over time, so these are data, not constants.
	SourcesPath   string `yaml:"sources_path" env:"SOURCES_PATH" env-default:"sources.yaml"`
	CrosswalkPath string `yaml:"crosswalk_path" env:"CROSSWALK_PATH" env-default:"crosswalk.yaml"`
	SeverityPath  string `yaml:"severity_path" env:"SEVERITY_PATH" env-default:"severity.yaml"`

	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database DatabaseConfig `yaml:"database"`
	Neo4j    Neo4jConfig    `yaml:"neo4j"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"safetygraph"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"safety_graph"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Neo4jConfig holds property-graph connection configuration.
type Neo4jConfig struct {
	URI      string `yaml:"uri" env:"NEO4J_URI" env-default:"bolt://localhost:7687"`
	User     string `yaml:"user" env:"NEO4J_USER" env-default:"neo4j"`
	Password string `yaml:"-" env:"NEO4J_PASSWORD"` // Secret - not in YAML
	Database string `yaml:"database" env:"NEO4J_DATABASE" env-default:"neo4j"`
}

// PipelineConfig holds tunables shared by all connectors and loaders.
type PipelineConfig struct {
	FetchTimeout   time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT" env-default:"2m"`
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES" env-default:"3"`
	GraphBatchSize int           `yaml:"graph_batch_size" env:"GRAPH_BATCH_SIZE" env-default:"500"`
	UpsertBatch    int           `yaml:"upsert_batch" env:"UPSERT_BATCH" env-default:"1000"`
	UserAgent      string        `yaml:"user_agent" env:"USER_AGENT" env-default:"SafetyGraph-Connector/1.0 (GenAISafety)"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. A missing config.yaml is not an error; env vars and
// defaults still apply. A config.yaml that exists but does not parse
// is fatal.
func Load() (*Config, error) {
	cfg := &Config{}

	err := cleanenv.ReadConfig("config.yaml", cfg)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, &apperrors.ConfigError{Reason: fmt.Sprintf("cannot parse config.yaml: %v", err)}
	}

	// Fall back to env-only when there is no YAML file.
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return cfg, nil
}
