// Package config loads and holds linkcore's configuration: matching
// thresholds, task-engine tuning, store location, and logging options.
// Thresholds are read once per task (spec.md §4.4) via a snapshot taken at
// task start, never re-read mid-task.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all linkcore configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Matching MatchingConfig `yaml:"matching"`
	Task     TaskConfig     `yaml:"task"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig configures the result-store adapter.
type StoreConfig struct {
	// DatabasePath is the sqlite file backing linkage_results and
	// enhanced_associations.
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig configures the layered matcher and prefilter (spec.md §6
// "Configuration inputs").
type MatchingConfig struct {
	Theta1              float64 `yaml:"theta1"`                 // L3 acceptance threshold
	Theta2              float64 `yaml:"theta2"`                 // L4 acceptance threshold
	NameCoreHardGate     float64 `yaml:"name_core_hard_gate"`    // L3 hard gate
	CandidateCapK       int     `yaml:"candidate_cap_k"`        // Prefilter max candidates
	TextSearchLimitT    int     `yaml:"text_search_limit_t"`    // Prefilter full-text cap
	PerRecordDeadlineMS int     `yaml:"per_record_deadline_ms"` // soft per-record deadline
}

// TaskConfig configures the batch task engine.
type TaskConfig struct {
	BatchSize        int `yaml:"batch_size"`         // PRIMARY records per page
	WorkersPerPage   int `yaml:"workers_per_page"`    // parallel match workers
	GraphMaxVertices int `yaml:"graph_max_vertices"`  // N_graph, most-recent SECONDARY records indexed for L4
	// TaskDeadlineSeconds is an optional global per-task deadline (spec.md
	// §5); zero means no deadline.
	TaskDeadlineSeconds int `yaml:"task_deadline_seconds"`
}

// LoggingConfig configures the logging package.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`       // debug, info, warn, error
	JSONFormat bool            `yaml:"json_format"` // structured JSON log lines
	Categories map[string]bool `yaml:"categories"`  // per-category toggles
	Workspace  string          `yaml:"workspace"`   // directory holding logs/
}

// DefaultConfig returns the configuration used when no file is present,
// with every default named in spec.md §6.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DatabasePath: "data/linkcore.db",
		},
		Matching: MatchingConfig{
			Theta1:              0.75,
			Theta2:              0.70,
			NameCoreHardGate:    0.70,
			CandidateCapK:       100,
			TextSearchLimitT:    50,
			PerRecordDeadlineMS: 2000,
		},
		Task: TaskConfig{
			BatchSize:           100,
			WorkersPerPage:      4,
			GraphMaxVertices:    50000,
			TaskDeadlineSeconds: 0,
		},
		Logging: LoggingConfig{
			DebugMode:  false,
			Level:      "info",
			JSONFormat: false,
			Workspace:  ".",
		},
	}
}

// Load reads configuration from a YAML file, falling back to
// DefaultConfig() when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides lets deployment environments override the database
// path and debug mode without editing the checked-in config file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LINKCORE_DATABASE_PATH"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("LINKCORE_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

// Validate checks that the thresholds and sizes are within sane ranges,
// refusing contract errors (spec.md §7) before a task ever starts.
func (c *Config) Validate() error {
	if c.Matching.Theta1 < 0 || c.Matching.Theta1 > 1 {
		return fmt.Errorf("matching.theta1 must be in [0,1], got %v", c.Matching.Theta1)
	}
	if c.Matching.Theta2 < 0 || c.Matching.Theta2 > 1 {
		return fmt.Errorf("matching.theta2 must be in [0,1], got %v", c.Matching.Theta2)
	}
	if c.Matching.NameCoreHardGate < 0 || c.Matching.NameCoreHardGate > 1 {
		return fmt.Errorf("matching.name_core_hard_gate must be in [0,1], got %v", c.Matching.NameCoreHardGate)
	}
	if c.Matching.CandidateCapK <= 0 {
		return fmt.Errorf("matching.candidate_cap_k must be positive, got %d", c.Matching.CandidateCapK)
	}
	if c.Task.BatchSize <= 0 {
		return fmt.Errorf("task.batch_size must be positive, got %d", c.Task.BatchSize)
	}
	if c.Task.WorkersPerPage <= 0 {
		return fmt.Errorf("task.workers_per_page must be positive, got %d", c.Task.WorkersPerPage)
	}
	return nil
}
