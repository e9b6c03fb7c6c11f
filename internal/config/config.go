// Package config provides configuration for the run watcher.
package config

import (
	"os"
	"strconv"
	"time"
)

// PushTransport selects the push delivery channel tried before falling back
// to polling.
type PushTransport string

const (
	PushSSE       PushTransport = "sse"
	PushWebSocket PushTransport = "ws"
)

// Config holds the watcher configuration.
type Config struct {
	// Gateway
	GatewayURL string

	// Transport
	Push            PushTransport
	PollInterval    time.Duration
	MaxPollFailures int

	// Cancellation
	CancelTimeout time.Duration

	// Start-call retry policy
	StartRetries int
	StartBackoff time.Duration

	// Archive
	ArchiveDB string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		GatewayURL:      getEnv("GATEWAY_URL", "http://localhost:8765"),
		Push:            PushTransport(getEnv("PUSH_TRANSPORT", string(PushSSE))),
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		MaxPollFailures: getEnvInt("MAX_POLL_FAILURES", 5),
		CancelTimeout:   time.Duration(getEnvInt("CANCEL_TIMEOUT_MS", 10000)) * time.Millisecond,
		StartRetries:    getEnvInt("START_RETRIES", 2),
		StartBackoff:    time.Duration(getEnvInt("START_BACKOFF_MS", 500)) * time.Millisecond,
		ArchiveDB:       getEnv("ARCHIVE_DB", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
