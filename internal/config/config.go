// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Defaults for the batch execution engine.
const (
	DefaultBatchFloor       = 10
	DefaultOversubscription = 4
	DefaultSeed             = int64(1)
)

// Config holds application configuration
type Config struct {
	Workers          int   // Worker goroutines for batch dispatch
	BatchFloor       int   // Minimum units per batch
	Oversubscription int   // Batches per worker target
	Seed             int64 // Base seed for deterministic batch RNG (0 = time-based)
	LogLevel         string
	LogPretty        bool
	ReturnsCSV       string // Optional path to a returns CSV for the demo binary
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	workers, err := intEnv("RISK_WORKERS", defaultWorkers())
	if err != nil {
		return nil, err
	}
	if workers <= 0 {
		return nil, fmt.Errorf("RISK_WORKERS must be positive, got %d", workers)
	}

	batchFloor, err := intEnv("RISK_BATCH_FLOOR", DefaultBatchFloor)
	if err != nil {
		return nil, err
	}
	if batchFloor <= 0 {
		return nil, fmt.Errorf("RISK_BATCH_FLOOR must be positive, got %d", batchFloor)
	}

	oversub, err := intEnv("RISK_OVERSUB", DefaultOversubscription)
	if err != nil {
		return nil, err
	}
	if oversub <= 0 {
		return nil, fmt.Errorf("RISK_OVERSUB must be positive, got %d", oversub)
	}

	seed := DefaultSeed
	if raw := os.Getenv("RISK_SEED"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RISK_SEED %q: %w", raw, err)
		}
		seed = parsed
	}

	return &Config{
		Workers:          workers,
		BatchFloor:       batchFloor,
		Oversubscription: oversub,
		Seed:             seed,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogPretty:        getEnv("LOG_PRETTY", "true") == "true",
		ReturnsCSV:       os.Getenv("RISK_RETURNS_CSV"),
	}, nil
}

// defaultWorkers returns the physical CPU count, falling back to the Go
// runtime's view when gopsutil cannot read it (containers, exotic platforms).
func defaultWorkers() int {
	count, err := cpu.Counts(false)
	if err != nil || count <= 0 {
		return runtime.NumCPU()
	}
	return count
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return parsed, nil
}
