package config

import (
	"fmt"
	"os"
	"strconv"

	"gosens/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Model    ModelConfig
	Run      RunConfig
	Database DatabaseConfig
	Server   ServerConfig
}

// ModelConfig locates the workbook and its specification ranges
type ModelConfig struct {
	Workbook      string
	VariableRange string
	OutputRange   string
}

// RunConfig holds sampling run settings
type RunConfig struct {
	Samples       int
	ProgressEvery int
	// Seed 0 seeds from the clock
	Seed       uint64
	ExportPath string
	ReportPath string
	// SaveModel writes the workbook back after the run, leaving the last
	// sampled inputs in place as the interactive tool did
	SaveModel bool
}

// DatabaseConfig holds the optional run ledger connection. An empty URL keeps
// the ledger in memory.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds web server settings
type ServerConfig struct {
	Port    string
	GinMode string
	// PprofPort enables the profiling listener when set
	PprofPort string
}

// FromEnv reads configuration from environment variables without validating
// it, so callers can apply overrides first
func FromEnv() *Config {
	return &Config{
		Model: ModelConfig{
			Workbook:      getEnvOrDefault("MODEL_WORKBOOK", ""),
			VariableRange: getEnvOrDefault("VARIABLE_RANGE", "greenbox"),
			OutputRange:   getEnvOrDefault("OUTPUT_RANGE", "bluebox"),
		},
		Run: RunConfig{
			Samples:       getEnvIntOrDefault("SAMPLES", 10000),
			ProgressEvery: getEnvIntOrDefault("PROGRESS_EVERY", 50),
			Seed:          getEnvUintOrDefault("SEED", 0),
			ExportPath:    getEnvOrDefault("EXPORT_PATH", "sensitivity.xlsx"),
			ReportPath:    getEnvOrDefault("REPORT_PATH", ""),
			SaveModel:     getEnvBoolOrDefault("SAVE_MODEL", false),
		},
		Database: DatabaseConfig{
			URL: getEnvOrDefault("DATABASE_URL", ""),
		},
		Server: ServerConfig{
			Port:      getEnvOrDefault("PORT", "8080"),
			GinMode:   getEnvOrDefault("GIN_MODE", "debug"),
			PprofPort: getEnvOrDefault("PPROF_PORT", ""),
		},
	}
}

// Load reads configuration from environment variables and validates it
func Load() (*Config, error) {
	config := FromEnv()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

// Validate checks the settings every entry point depends on
func (c *Config) Validate() error {
	if c.Model.Workbook == "" {
		return errors.ConfigInvalid("MODEL_WORKBOOK is required")
	}
	if c.Model.VariableRange == "" {
		return errors.ConfigInvalid("variable range name is required")
	}
	if c.Model.OutputRange == "" {
		return errors.ConfigInvalid("output range name is required")
	}
	if c.Run.Samples < 0 {
		return errors.ConfigInvalid(fmt.Sprintf("sample count must not be negative, got %d", c.Run.Samples))
	}
	if c.Run.ProgressEvery < 1 {
		return errors.ConfigInvalid(fmt.Sprintf("progress interval must be at least 1, got %d", c.Run.ProgressEvery))
	}
	if c.Server.Port == "" {
		return errors.ConfigInvalid("server port is required")
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUintOrDefault(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if uintValue, err := strconv.ParseUint(value, 10, 64); err == nil {
			return uintValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
