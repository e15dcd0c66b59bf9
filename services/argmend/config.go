// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package argmend

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// MaxConfigFileSize bounds the service config file.
const MaxConfigFileSize = 1 << 20

// ServiceConfig holds the configuration of the argmend HTTP service.
//
// Description:
//
//	Built from DefaultServiceConfig, then overlaid with an optional YAML
//	file, then with ARGMEND_* environment variables. Validated after
//	every layer has been applied.
//
// Thread Safety: ServiceConfig is a value type. Safe to copy and share after loading.
type ServiceConfig struct {
	// ListenAddr is the HTTP listen address.
	// Env: ARGMEND_LISTEN_ADDR (default: ":8090")
	ListenAddr string `yaml:"listen_addr" validate:"required"`

	// RulesFile is an optional rules YAML replacing the embedded rules.
	// Env: ARGMEND_RULES_FILE (default: "")
	RulesFile string `yaml:"rules_file"`

	// WatchRules reloads RulesFile on change.
	// Env: ARGMEND_WATCH_RULES (default: "false")
	WatchRules bool `yaml:"watch_rules"`

	// AuditDir is the BadgerDB directory of the audit store. Empty disables it.
	// Env: ARGMEND_AUDIT_DIR (default: "")
	AuditDir string `yaml:"audit_dir"`

	// AuditBuffer is the queue size in front of the audit store.
	// Env: ARGMEND_AUDIT_BUFFER (default: 1024)
	AuditBuffer int `yaml:"audit_buffer" validate:"gte=1,lte=1000000"`

	// BatchConcurrency bounds concurrent calls inside one batch request.
	// Env: ARGMEND_BATCH_CONCURRENCY (default: 8)
	BatchConcurrency int `yaml:"batch_concurrency" validate:"gte=1,lte=256"`

	// MaxBatchSize is the largest accepted batch.
	// Env: ARGMEND_MAX_BATCH_SIZE (default: 100)
	MaxBatchSize int `yaml:"max_batch_size" validate:"gte=1,lte=10000"`

	// MaxBodyBytes bounds request bodies.
	// Env: ARGMEND_MAX_BODY_BYTES (default: 1 MiB)
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gte=1024"`

	// LogFormat selects the slog handler.
	// Env: ARGMEND_LOG_FORMAT (default: "text")
	LogFormat string `yaml:"log_format" validate:"oneof=text json"`

	// LogLevel is the minimum log level.
	// Env: ARGMEND_LOG_LEVEL (default: "info")
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`
}

// DefaultServiceConfig returns the built-in configuration.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ListenAddr:       ":8090",
		AuditBuffer:      1024,
		BatchConcurrency: DefaultBatchConcurrency,
		MaxBatchSize:     100,
		MaxBodyBytes:     1 << 20,
		LogFormat:        "text",
		LogLevel:         "info",
	}
}

// LoadServiceConfig builds the service configuration.
//
// Inputs:
//
//	path - Optional YAML file. Empty skips the file layer.
//
// Outputs:
//
//	ServiceConfig - The merged configuration.
//	error - Non-nil if the file cannot be read or parsed, or the result is invalid.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return cfg, fmt.Errorf("reading service config: %w", err)
		}
		if info.Size() > MaxConfigFileSize {
			return cfg, fmt.Errorf("service config %s is %d bytes, limit is %d", path, info.Size(), MaxConfigFileSize)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading service config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing service config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c ServiceConfig) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid service config: %w", err)
	}
	return nil
}

func (c *ServiceConfig) applyEnv() {
	c.ListenAddr = envString("ARGMEND_LISTEN_ADDR", c.ListenAddr)
	c.RulesFile = envString("ARGMEND_RULES_FILE", c.RulesFile)
	c.WatchRules = envBool("ARGMEND_WATCH_RULES", c.WatchRules)
	c.AuditDir = envString("ARGMEND_AUDIT_DIR", c.AuditDir)
	c.AuditBuffer = envInt("ARGMEND_AUDIT_BUFFER", c.AuditBuffer)
	c.BatchConcurrency = envInt("ARGMEND_BATCH_CONCURRENCY", c.BatchConcurrency)
	c.MaxBatchSize = envInt("ARGMEND_MAX_BATCH_SIZE", c.MaxBatchSize)
	c.MaxBodyBytes = int64(envInt("ARGMEND_MAX_BODY_BYTES", int(c.MaxBodyBytes)))
	c.LogFormat = envString("ARGMEND_LOG_FORMAT", c.LogFormat)
	c.LogLevel = envString("ARGMEND_LOG_LEVEL", c.LogLevel)
}

// envString reads a string environment variable with a default value.
func envString(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// envBool reads a boolean environment variable with a default value.
func envBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

// envInt reads an integer environment variable with a default value.
func envInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
