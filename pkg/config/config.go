// Package config holds session configuration.
package config

import "os"

// Config holds session configuration.
type Config struct {
	StoreBackend  string // "memory", "sqlite", "postgres"
	StorePath     string // sqlite database path
	DatabaseURL   string // postgres connection string
	LogLevel      string
	DefaultTactic string
	// DeferredChecking validates proof terms out of line from
	// authoring.
	DeferredChecking bool
	// VerifyRatePerSec bounds how fast deferred validations may start;
	// zero means unlimited.
	VerifyRatePerSec float64
}

// Load loads configuration from environment variables.
func Load() *Config {
	backend := os.Getenv("PROVISO_STORE")
	if backend == "" {
		backend = "memory"
	}

	path := os.Getenv("PROVISO_STORE_PATH")
	if path == "" {
		path = "proviso.db"
	}

	logLevel := os.Getenv("PROVISO_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	tacticName := os.Getenv("PROVISO_DEFAULT_TACTIC")
	if tacticName == "" {
		tacticName = "trivial"
	}

	return &Config{
		StoreBackend:     backend,
		StorePath:        path,
		DatabaseURL:      os.Getenv("PROVISO_DATABASE_URL"),
		LogLevel:         logLevel,
		DefaultTactic:    tacticName,
		DeferredChecking: os.Getenv("PROVISO_DEFERRED_CHECKING") == "true",
	}
}
