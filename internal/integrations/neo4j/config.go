package neo4j

import (
	"fmt"
	"time"

	"github.com/yairfalse/statekeeper/pkg/config"
)

// Config holds Neo4j connection settings for the state stores
type Config struct {
	URI                     string        `json:"uri"`
	Username                string        `json:"username"`
	Password                string        `json:"password"`
	Database                string        `json:"database"`
	MaxConnections          int           `json:"max_connections"`
	ConnectionTimeout       time.Duration `json:"connection_timeout"`
	MaxTransactionRetryTime time.Duration `json:"max_transaction_retry_time"`
}

// FromStoreConfig maps the daemon-level store settings onto a client config
func FromStoreConfig(sc config.StoreConfig) Config {
	cfg := Config{
		URI:               sc.URI,
		Username:          sc.Username,
		Password:          sc.Password,
		Database:          sc.Database,
		MaxConnections:    sc.MaxConnections,
		ConnectionTimeout: sc.ConnectionTimeout,
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = 25
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 10 * time.Second
	}
	if c.MaxTransactionRetryTime <= 0 {
		c.MaxTransactionRetryTime = 15 * time.Second
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("URI cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("database cannot be empty")
	}
	return nil
}
