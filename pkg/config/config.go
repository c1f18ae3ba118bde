package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration. It is built once at startup and
// threaded into constructors as an immutable value; nothing reads ambient
// state after that.
type Config struct {
	// NATS queue configuration
	NATS *NATSConfig `yaml:"nats" json:"nats"`

	// Store configuration for the current-state and history stores
	Store StoreConfig `yaml:"store" json:"store"`

	// Pipeline configuration for the reconciliation cycle
	Pipeline PipelineConfig `yaml:"pipeline" json:"pipeline"`

	// API configuration for the read-only presentation surface
	API APIConfig `yaml:"api" json:"api"`
}

// StoreConfig contains connection settings for the Neo4j document stores
type StoreConfig struct {
	URI               string        `yaml:"uri" json:"uri"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password" json:"password"`
	Database          string        `yaml:"database" json:"database"`
	MaxConnections    int           `yaml:"max_connections" json:"max_connections"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`
}

// PipelineConfig contains the reconciliation cycle settings
type PipelineConfig struct {
	// MaxBatchCount and MaxWaitTime are the dual stop condition for batch
	// collection and the sole backpressure mechanism: at most one store
	// round-trip per MaxWaitTime or per MaxBatchCount events.
	MaxBatchCount int           `yaml:"max_batch_count" json:"max_batch_count"`
	MaxWaitTime   time.Duration `yaml:"max_wait_time" json:"max_wait_time"`

	// ProcessTimeout bounds the persist phase of one cycle
	ProcessTimeout time.Duration `yaml:"process_timeout" json:"process_timeout"`

	// ShutdownTimeout bounds waiting for the in-flight batch on stop
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// APIConfig contains settings for the HTTP presentation surface
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listen_addr"`
	Enabled    bool   `yaml:"enabled" json:"enabled"`
}

// Default returns a configuration with environment-driven defaults
func Default() *Config {
	return &Config{
		NATS: DefaultNATSConfig(),
		Store: StoreConfig{
			URI:               getEnv("NEO4J_URI", "neo4j://localhost:7687"),
			Username:          getEnv("NEO4J_USERNAME", "neo4j"),
			Password:          getEnv("NEO4J_PASSWORD", "password"),
			Database:          getEnv("NEO4J_DATABASE", "neo4j"),
			MaxConnections:    getEnvInt("NEO4J_MAX_CONNECTIONS", 25),
			ConnectionTimeout: getEnvDuration("NEO4J_CONNECTION_TIMEOUT", "10s"),
		},
		Pipeline: PipelineConfig{
			MaxBatchCount:   getEnvInt("PIPELINE_MAX_BATCH_COUNT", 100),
			MaxWaitTime:     getEnvDuration("PIPELINE_MAX_WAIT_TIME", "5s"),
			ProcessTimeout:  getEnvDuration("PIPELINE_PROCESS_TIMEOUT", "30s"),
			ShutdownTimeout: getEnvDuration("PIPELINE_SHUTDOWN_TIMEOUT", "30s"),
		},
		API: APIConfig{
			ListenAddr: getEnv("API_LISTEN_ADDR", ":8080"),
			Enabled:    getEnvBool("API_ENABLED", true),
		},
	}
}

// Load reads configuration from a file, layered over the defaults.
// Format is determined by extension; unknown extensions try YAML then JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, config)
	case ".json":
		err = json.Unmarshal(data, config)
	default:
		err = yaml.Unmarshal(data, config)
		if err != nil {
			err = json.Unmarshal(data, config)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// Validate checks the whole configuration tree
func (c *Config) Validate() error {
	if c.NATS == nil {
		return fmt.Errorf("nats configuration is required")
	}
	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	if c.Store.URI == "" {
		return fmt.Errorf("store: URI cannot be empty")
	}
	if c.Store.Database == "" {
		return fmt.Errorf("store: database cannot be empty")
	}
	if c.Pipeline.MaxBatchCount <= 0 {
		return fmt.Errorf("pipeline: max batch count must be positive")
	}
	if c.Pipeline.MaxWaitTime <= 0 {
		return fmt.Errorf("pipeline: max wait time must be positive")
	}
	if c.Pipeline.ProcessTimeout <= 0 {
		return fmt.Errorf("pipeline: process timeout must be positive")
	}
	if c.API.Enabled && c.API.ListenAddr == "" {
		return fmt.Errorf("api: listen address cannot be empty when enabled")
	}
	return nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return defaultValue
}
