package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// NATSConfig holds all NATS-related configuration for the event queue
type NATSConfig struct {
	// Connection
	URL               string        `yaml:"url" json:"url"`
	Name              string        `yaml:"name" json:"name"`
	MaxReconnects     int           `yaml:"max_reconnects" json:"max_reconnects"`
	ReconnectWait     time.Duration `yaml:"reconnect_wait" json:"reconnect_wait"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout" json:"connection_timeout"`

	// Stream settings. The events stream is a work queue: a popped event is
	// owned by the daemon and requeueing is an explicit publish, not a nack.
	StreamName string        `yaml:"stream_name" json:"stream_name"`
	Subject    string        `yaml:"subject" json:"subject"`
	MaxAge     time.Duration `yaml:"max_age" json:"max_age"`
	MaxBytes   int64         `yaml:"max_bytes" json:"max_bytes"`
	Replicas   int           `yaml:"replicas" json:"replicas"`

	// Consumer settings
	ConsumerName string        `yaml:"consumer_name" json:"consumer_name"`
	AckWait      time.Duration `yaml:"ack_wait" json:"ack_wait"`
	MaxDeliver   int           `yaml:"max_deliver" json:"max_deliver"`
}

// DefaultNATSConfig returns production-ready defaults, overridable per field
// through environment variables
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:               getEnv("NATS_URL", "nats://localhost:4222"),
		Name:              getEnv("NATS_CLIENT_NAME", "statekeeper"),
		MaxReconnects:     getEnvInt("NATS_MAX_RECONNECTS", 10),
		ReconnectWait:     getEnvDuration("NATS_RECONNECT_WAIT", "1s"),
		ConnectionTimeout: getEnvDuration("NATS_CONNECTION_TIMEOUT", "5s"),

		StreamName: getEnv("NATS_EVENTS_STREAM", "CHECK_EVENTS"),
		Subject:    getEnv("NATS_EVENTS_SUBJECT", "checks.events"),
		MaxAge:     getEnvDuration("NATS_STREAM_MAX_AGE", "24h"),
		MaxBytes:   getEnvInt64("NATS_STREAM_MAX_BYTES", 1024*1024*1024), // 1GB
		Replicas:   getEnvInt("NATS_STREAM_REPLICAS", 1),

		ConsumerName: getEnv("NATS_CONSUMER_NAME", "statekeeper-reconciler"),
		AckWait:      getEnvDuration("NATS_ACK_WAIT", "30s"),
		MaxDeliver:   getEnvInt("NATS_MAX_DELIVER", 3),
	}
}

// Validate checks if the configuration is valid
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("NATS URL cannot be empty")
	}
	if c.StreamName == "" {
		return fmt.Errorf("events stream name cannot be empty")
	}
	if c.Subject == "" {
		return fmt.Errorf("events subject cannot be empty")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer name cannot be empty")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("max age must be positive")
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("max bytes must be positive")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue string) time.Duration {
	value := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	// If parsing fails, parse the default
	if duration, err := time.ParseDuration(defaultValue); err == nil {
		return duration
	}
	return time.Second // Fallback
}
