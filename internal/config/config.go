package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete Shepherd configuration
type Config struct {
	Compression CompressionConfig `mapstructure:"compression" yaml:"compression"`
	Generator   GeneratorConfig   `mapstructure:"generator" yaml:"generator"`
	Agent       AgentConfig       `mapstructure:"agent" yaml:"agent"`
	Repo        RepoConfig        `mapstructure:"repo" yaml:"repo"`
	Loop        LoopConfig        `mapstructure:"loop" yaml:"loop"`
	Docs        DocsConfig        `mapstructure:"docs" yaml:"docs"`
	Dashboard   DashboardConfig   `mapstructure:"dashboard" yaml:"dashboard"`
	Trace       TraceConfig       `mapstructure:"trace" yaml:"trace"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// CompressionConfig bounds the context-compression pipeline
type CompressionConfig struct {
	// MaxInputTokens is the per-chunk input ceiling for one summarization call
	MaxInputTokens int `mapstructure:"max_input_tokens" yaml:"max_input_tokens"`
	// TargetChunkTokens is the requested length of each chunk summary
	TargetChunkTokens int `mapstructure:"target_chunk_tokens" yaml:"target_chunk_tokens"`
	// TargetTotalTokens is the default budget for compressed artifacts
	TargetTotalTokens int `mapstructure:"target_total_tokens" yaml:"target_total_tokens"`
	// MaxFileBytes skips files larger than this when digesting the codebase
	MaxFileBytes int64 `mapstructure:"max_file_bytes" yaml:"max_file_bytes"`
}

// GeneratorConfig points at an OpenAI-compatible chat completion endpoint
type GeneratorConfig struct {
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Model       string  `mapstructure:"model" yaml:"model"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	// TimeoutSeconds bounds a single generation call, streamed or not
	TimeoutSeconds int `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
}

// AgentConfig points at the remote coding-agent service
type AgentConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
	// SessionID pins a session instead of resolving one from the source
	SessionID string `mapstructure:"session_id" yaml:"session_id"`
	// Source selects which remote source (repository) to supervise
	Source string `mapstructure:"source" yaml:"source"`
	// StartingBranch is the branch new sessions start from
	StartingBranch string `mapstructure:"starting_branch" yaml:"starting_branch"`
	// SessionTitle names sessions created by the supervisor
	SessionTitle string `mapstructure:"session_title" yaml:"session_title"`
	// ActivityPageSize caps how many recent activities each sync pulls
	ActivityPageSize int `mapstructure:"activity_page_size" yaml:"activity_page_size"`
}

// RepoConfig controls the local working copy
type RepoConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	MainBranch string `mapstructure:"main_branch" yaml:"main_branch"`
	// Exclude lists glob patterns skipped by the codebase digest
	Exclude []string `mapstructure:"exclude" yaml:"exclude"`
}

// LoopConfig controls the continuous supervision loop
type LoopConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	// MaxIterations stops the loop after N cycles; 0 means unbounded
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// DocsConfig controls the documentation digest built at startup
type DocsConfig struct {
	Path          string `mapstructure:"path" yaml:"path"`
	IncludeReadme bool   `mapstructure:"include_readme" yaml:"include_readme"`
}

// DashboardConfig controls the HTTP observer API
type DashboardConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
	// HeartbeatSeconds is the idle interval between SSE heartbeats
	HeartbeatSeconds int `mapstructure:"heartbeat_seconds" yaml:"heartbeat_seconds"`
}

// TraceConfig controls the observability feed
type TraceConfig struct {
	// MaxEvents is the ring-buffer retention limit
	MaxEvents int `mapstructure:"max_events" yaml:"max_events"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// MaxSizeMB rotates the log file past this size; 0 disables rotation
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated log files kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// PollInterval returns the loop sleep interval as a duration.
func (c *LoopConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Timeout returns the generation call timeout as a duration.
func (c *GeneratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Heartbeat returns the SSE idle heartbeat interval as a duration.
func (c *DashboardConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Compression: CompressionConfig{
			MaxInputTokens:    4000,
			TargetChunkTokens: 1000,
			TargetTotalTokens: 1000,
			MaxFileBytes:      2_000_000,
		},
		Generator: GeneratorConfig{
			BaseURL:        "http://localhost:8080",
			Model:          "qwen3-8b",
			Temperature:    0.2,
			MaxTokens:      8192,
			TimeoutSeconds: 600,
		},
		Agent: AgentConfig{
			BaseURL:          "https://jules.googleapis.com/v1alpha",
			StartingBranch:   "main",
			SessionTitle:     "Shepherd Session",
			ActivityPageSize: 30,
		},
		Repo: RepoConfig{
			Path:       ".",
			MainBranch: "main",
			Exclude:    []string{"vendor/**", "node_modules/**", "*.lock"},
		},
		Loop: LoopConfig{
			PollIntervalSeconds: 10,
			MaxIterations:       0,
		},
		Docs: DocsConfig{
			Path:          "docs",
			IncludeReadme: true,
		},
		Dashboard: DashboardConfig{
			Host:             "127.0.0.1",
			Port:             8765,
			HeartbeatSeconds: 15,
		},
		Trace: TraceConfig{
			MaxEvents: 500,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers the default values with viper so they apply even
// without a config file.
func SetDefaults() {
	defaults := Default()

	viper.SetDefault("compression.max_input_tokens", defaults.Compression.MaxInputTokens)
	viper.SetDefault("compression.target_chunk_tokens", defaults.Compression.TargetChunkTokens)
	viper.SetDefault("compression.target_total_tokens", defaults.Compression.TargetTotalTokens)
	viper.SetDefault("compression.max_file_bytes", defaults.Compression.MaxFileBytes)

	viper.SetDefault("generator.base_url", defaults.Generator.BaseURL)
	viper.SetDefault("generator.model", defaults.Generator.Model)
	viper.SetDefault("generator.temperature", defaults.Generator.Temperature)
	viper.SetDefault("generator.max_tokens", defaults.Generator.MaxTokens)
	viper.SetDefault("generator.timeout_seconds", defaults.Generator.TimeoutSeconds)

	viper.SetDefault("agent.base_url", defaults.Agent.BaseURL)
	viper.SetDefault("agent.api_key", defaults.Agent.APIKey)
	viper.SetDefault("agent.session_id", defaults.Agent.SessionID)
	viper.SetDefault("agent.source", defaults.Agent.Source)
	viper.SetDefault("agent.starting_branch", defaults.Agent.StartingBranch)
	viper.SetDefault("agent.session_title", defaults.Agent.SessionTitle)
	viper.SetDefault("agent.activity_page_size", defaults.Agent.ActivityPageSize)

	viper.SetDefault("repo.path", defaults.Repo.Path)
	viper.SetDefault("repo.main_branch", defaults.Repo.MainBranch)
	viper.SetDefault("repo.exclude", defaults.Repo.Exclude)

	viper.SetDefault("loop.poll_interval_seconds", defaults.Loop.PollIntervalSeconds)
	viper.SetDefault("loop.max_iterations", defaults.Loop.MaxIterations)

	viper.SetDefault("docs.path", defaults.Docs.Path)
	viper.SetDefault("docs.include_readme", defaults.Docs.IncludeReadme)

	viper.SetDefault("dashboard.host", defaults.Dashboard.Host)
	viper.SetDefault("dashboard.port", defaults.Dashboard.Port)
	viper.SetDefault("dashboard.heartbeat_seconds", defaults.Dashboard.HeartbeatSeconds)

	viper.SetDefault("trace.max_events", defaults.Trace.MaxEvents)

	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load unmarshals the viper state into a validated Config.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}
	return &cfg, nil
}

// DataDir returns the run-scoped data directory under the repository path
// (message log, system message, debug log).
func (c *Config) DataDir() string {
	return filepath.Join(c.Repo.Path, ".shepherd")
}

// SystemMessagePath is the file holding the operator-editable system message.
func (c *Config) SystemMessagePath() string {
	return filepath.Join(c.DataDir(), "system_message.txt")
}

// CommLogPath is the JSONL message-log file.
func (c *Config) CommLogPath() string {
	return filepath.Join(c.DataDir(), "comm_log.jsonl")
}

// ConfigDir returns the directory where the config file lives.
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "shepherd")
}
