// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the report service configuration from YAML with
// environment overrides for the settings that differ per deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/ReportForge/services/rtg/compiler"
	"github.com/AleutianAI/ReportForge/services/rtg/scheduler"
)

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

type SubmitConfig struct {
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	MaxAttempts     int    `yaml:"max_attempts"`
}

// Timeout returns the configured hard submit deadline.
func (c SubmitConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type FetcherConfig struct {
	// AllowUnscoped enables the legacy full-inventory fetch for
	// requests without a project filter.
	AllowUnscoped bool `yaml:"allow_unscoped"`
}

type SchedulerConfig struct {
	Enabled           bool `yaml:"enabled"`
	MaxConcurrentJobs int  `yaml:"max_concurrent_jobs"`
	CheckIntervalSecs int  `yaml:"check_interval_seconds"`
}

// ToSchedulerConfig converts to the scheduler package's config type.
func (c SchedulerConfig) ToSchedulerConfig() scheduler.Config {
	out := scheduler.DefaultSchedulerConfig()
	if c.MaxConcurrentJobs > 0 {
		out.MaxConcurrentJobs = c.MaxConcurrentJobs
	}
	if c.CheckIntervalSecs > 0 {
		out.CheckInterval = time.Duration(c.CheckIntervalSecs) * time.Second
	}
	return out
}

type RTGConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Storage   StorageConfig    `yaml:"storage"`
	Budgets   compiler.Budgets `yaml:"budgets"`
	Submit    SubmitConfig     `yaml:"submit"`
	Fetcher   FetcherConfig    `yaml:"fetcher"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
}

func DefaultConfig() RTGConfig {
	return RTGConfig{
		Server: ServerConfig{
			Port: "8086",
			Env:  "development",
		},
		Storage: StorageConfig{
			Path: "/data/rtg",
		},
		Budgets: compiler.DefaultBudgets(),
		Submit: SubmitConfig{
			DefaultProvider: "ollama",
			TimeoutSeconds:  60,
			MaxAttempts:     3,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			MaxConcurrentJobs: 5,
			CheckIntervalSecs: 60,
		},
	}
}

// Load reads the config file at path, falling back to defaults when the
// file does not exist, then applies environment overrides. An empty
// path checks RTG_CONFIG_PATH.
func Load(path string) (RTGConfig, error) {
	if path == "" {
		path = os.Getenv("RTG_CONFIG_PATH")
	}

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to read the config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse the config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides lets deployment environments override the settings
// that commonly vary without editing the config file.
func applyEnvOverrides(cfg *RTGConfig) {
	if v := os.Getenv("RTG_PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("RTG_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("RTG_DATA_DIR"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("RTG_DEFAULT_PROVIDER"); v != "" {
		cfg.Submit.DefaultProvider = v
	}
	if v := os.Getenv("RTG_DEFAULT_MODEL"); v != "" {
		cfg.Submit.DefaultModel = v
	}
	if v := os.Getenv("RTG_ALLOW_UNSCOPED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Fetcher.AllowUnscoped = b
		}
	}
	if v := os.Getenv("RTG_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = b
		}
	}
}
