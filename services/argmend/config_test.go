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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultServiceConfig_Valid(t *testing.T) {
	cfg := DefaultServiceConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.ListenAddr != ":8090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8090")
	}
	if cfg.BatchConcurrency != DefaultBatchConcurrency {
		t.Errorf("BatchConcurrency = %d, want %d", cfg.BatchConcurrency, DefaultBatchConcurrency)
	}
}

func TestLoadServiceConfig_NoFile(t *testing.T) {
	cfg, err := LoadServiceConfig("")
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, want %q", cfg.LogFormat, "text")
	}
}

func TestLoadServiceConfig_FileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argmend.yaml")
	data := "listen_addr: \"127.0.0.1:9000\"\nmax_batch_size: 10\nlog_format: json\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.MaxBatchSize != 10 {
		t.Errorf("MaxBatchSize = %d, want 10", cfg.MaxBatchSize)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
	// Fields absent from the file keep their defaults.
	if cfg.AuditBuffer != 1024 {
		t.Errorf("AuditBuffer = %d, want 1024", cfg.AuditBuffer)
	}
}

func TestLoadServiceConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "argmend.yaml")
	if err := os.WriteFile(path, []byte("max_batch_size: 10\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ARGMEND_MAX_BATCH_SIZE", "25")
	t.Setenv("ARGMEND_WATCH_RULES", "true")
	t.Setenv("ARGMEND_AUDIT_BUFFER", "not-a-number")

	cfg, err := LoadServiceConfig(path)
	if err != nil {
		t.Fatalf("LoadServiceConfig: %v", err)
	}
	if cfg.MaxBatchSize != 25 {
		t.Errorf("MaxBatchSize = %d, want 25", cfg.MaxBatchSize)
	}
	if !cfg.WatchRules {
		t.Error("WatchRules = false, want true")
	}
	if cfg.AuditBuffer != 1024 {
		t.Errorf("unparsable env should keep the previous value, got %d", cfg.AuditBuffer)
	}
}

func TestLoadServiceConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "listen_addr: [", "parsing service config"},
		{"bad log format", "log_format: xml\n", "invalid service config"},
		{"zero concurrency", "batch_concurrency: 0\n", "invalid service config"},
		{"empty listen addr", "listen_addr: \"\"\n", "invalid service config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := LoadServiceConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want substring %q", err, tt.wantErr)
			}
		})
	}

	if _, err := LoadServiceConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
