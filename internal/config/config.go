// Package config loads process configuration from a YAML file, overlaying
// environment variables (via .env files and ${VAR}/${VAR:-default}
// expansion), scoped to this module's own components: the executor,
// context manager, storage backend, file tool, and background-agent
// runner.
package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lhwzds/agentcore/internal/agent"
	"github.com/lhwzds/agentcore/internal/contextmgr"
	"github.com/lhwzds/agentcore/internal/filetool"
	"github.com/lhwzds/agentcore/internal/scheduler"
	"github.com/lhwzds/agentcore/internal/storage"
)

// LLMConfig configures the model-backend collaborator. No concrete client
// is wired by this module (the core depends only on llm.Client); these
// fields exist so a caller's own wiring can read them uniformly.
type LLMConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// ExecutorConfig maps onto agent.Config's durations, expressed in the
// YAML-friendly units the rest of this config uses.
type ExecutorConfig struct {
	MaxIterations   int    `yaml:"max_iterations"`
	RunTimeoutSecs  int    `yaml:"run_timeout_secs"`
	LLMCallTimeout  int    `yaml:"llm_call_timeout_secs"`
	ToolTimeoutSecs int    `yaml:"tool_timeout_secs"`
	ScratchpadDir   string `yaml:"scratchpad_dir"`
}

// RunTimeout returns cfg's run timeout as a time.Duration.
func (c ExecutorConfig) RunTimeout() time.Duration { return time.Duration(c.RunTimeoutSecs) * time.Second }

// LLMCallTimeoutDuration returns cfg's LLM-call timeout as a duration.
func (c ExecutorConfig) LLMCallTimeoutDuration() time.Duration {
	return time.Duration(c.LLMCallTimeout) * time.Second
}

// ToolTimeout returns cfg's tool timeout as a duration.
func (c ExecutorConfig) ToolTimeout() time.Duration { return time.Duration(c.ToolTimeoutSecs) * time.Second }

// ToAgentConfig fills the timing fields of an agent.Config from c, leaving
// the run-specific fields (SystemPrompt, Checkpoint, OnCheckpoint, Stuck)
// for the caller to set.
func (c ExecutorConfig) ToAgentConfig() agent.Config {
	return agent.Config{
		MaxIterations:  c.MaxIterations,
		RunTimeout:     c.RunTimeout(),
		LLMCallTimeout: c.LLMCallTimeoutDuration(),
		ToolTimeout:    c.ToolTimeout(),
		ScratchpadDir:  c.ScratchpadDir,
	}
}

// ContextManagerConfig mirrors contextmgr.Config's tunables.
type ContextManagerConfig struct {
	ContextWindow         int     `yaml:"context_window"`
	PruneToolMax          int     `yaml:"prune_tool_max"`
	PruneProtectedTurns   int     `yaml:"prune_protected_turns"`
	MinPruneSavingsTokens int     `yaml:"min_prune_savings_tokens"`
	CompactTriggerRatio   float64 `yaml:"compact_trigger_ratio"`
	CompactPreserveTokens int     `yaml:"compact_preserve_tokens"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Backend  string                `yaml:"backend"` // "sqlite" or "postgres"
	SQLite   SQLiteStorageConfig   `yaml:"sqlite"`
	Postgres PostgresStorageConfig `yaml:"postgres"`
}

type SQLiteStorageConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
	BusyTimeout int    `yaml:"busy_timeout_ms"`
	// ForeignKeys enables the foreign_keys PRAGMA. SQLite defaults this off;
	// set true explicitly in YAML to turn it on.
	ForeignKeys bool `yaml:"foreign_keys"`
}

type PostgresStorageConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// FileToolConfig configures the path-safe file tool's sandbox root and
// read ceilings.
type FileToolConfig struct {
	BaseDir          string `yaml:"base_dir"`
	MaxReadBytes     int64  `yaml:"max_read_bytes"`
	DefaultLineLimit int    `yaml:"default_line_limit"`
}

// Effective returns a copy with defaults applied for zero fields.
func (c FileToolConfig) Effective() FileToolConfig {
	out := c
	if out.BaseDir == "" {
		out.BaseDir = "./data/workspace"
	}
	if out.MaxReadBytes == 0 {
		out.MaxReadBytes = filetool.DefaultMaxReadBytes
	}
	if out.DefaultLineLimit == 0 {
		out.DefaultLineLimit = filetool.DefaultLineLimit
	}
	return out
}

// Open creates c.BaseDir if needed and constructs a filetool.Tool rooted
// at it.
func (c FileToolConfig) Open() (*filetool.Tool, error) {
	if err := os.MkdirAll(c.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create file tool base dir %q: %w", c.BaseDir, err)
	}
	return filetool.New(c.BaseDir,
		filetool.WithMaxReadBytes(c.MaxReadBytes),
		filetool.WithDefaultLineLimit(c.DefaultLineLimit),
	)
}

// RunnerConfig configures the background-agent poll loop.
type RunnerConfig struct {
	PollIntervalSecs      int `yaml:"poll_interval_secs"`
	MaxConcurrentTasks    int `yaml:"max_concurrent_tasks"`
	HeartbeatIntervalSecs int `yaml:"heartbeat_interval_secs"`
}

// PollInterval returns the poll interval as a duration.
func (c RunnerConfig) PollInterval() time.Duration { return time.Duration(c.PollIntervalSecs) * time.Second }

// HeartbeatInterval returns the heartbeat pulse interval as a duration.
func (c RunnerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSecs) * time.Second
}

// ToSchedulerConfig converts c to a scheduler.RunnerConfig.
func (c RunnerConfig) ToSchedulerConfig() scheduler.RunnerConfig {
	return scheduler.RunnerConfig{
		PollInterval:       c.PollInterval(),
		MaxConcurrentTasks: c.MaxConcurrentTasks,
	}
}

// LogConfig configures the process logger's level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Pretty bool   `yaml:"pretty"` // console-writer output instead of JSON
}

// Config is the root process configuration.
type Config struct {
	LLM      LLMConfig            `yaml:"llm"`
	Executor ExecutorConfig       `yaml:"executor"`
	Context  ContextManagerConfig `yaml:"context"`
	Storage  StorageConfig        `yaml:"storage"`
	FileTool FileToolConfig       `yaml:"file_tool"`
	Runner   RunnerConfig         `yaml:"runner"`
	Log      LogConfig            `yaml:"log"`
}

// DefaultConfig returns the config this module runs with out of the box.
func DefaultConfig() *Config {
	eff := Config{}.Effective()
	return &eff
}

// Effective returns a copy of cfg with defaults filled in for zero fields,
// the same zero-field-fill shape used throughout this module's configs.
func (c Config) Effective() Config {
	out := c
	out.Executor = out.Executor.Effective()
	out.Context = out.Context.Effective()
	out.Storage = out.Storage.Effective()
	out.FileTool = out.FileTool.Effective()
	out.Runner = out.Runner.Effective()
	if out.Log.Level == "" {
		out.Log.Level = "info"
	}
	return out
}

// Effective returns a copy with defaults applied for zero fields.
func (c ExecutorConfig) Effective() ExecutorConfig {
	out := c
	if out.MaxIterations == 0 {
		out.MaxIterations = 50
	}
	if out.RunTimeoutSecs == 0 {
		out.RunTimeoutSecs = 1200
	}
	if out.LLMCallTimeout == 0 {
		out.LLMCallTimeout = 300
	}
	if out.ToolTimeoutSecs == 0 {
		out.ToolTimeoutSecs = 30
	}
	if out.ScratchpadDir == "" {
		out.ScratchpadDir = "./data/scratchpads"
	}
	return out
}

// Effective returns a copy with defaults applied for zero fields.
func (c ContextManagerConfig) Effective() ContextManagerConfig {
	out := c
	if out.ContextWindow == 0 {
		out.ContextWindow = 128_000
	}
	if out.PruneToolMax == 0 {
		out.PruneToolMax = 2048
	}
	if out.PruneProtectedTurns == 0 {
		out.PruneProtectedTurns = 2
	}
	if out.MinPruneSavingsTokens == 0 {
		out.MinPruneSavingsTokens = 5000
	}
	if out.CompactTriggerRatio == 0 {
		out.CompactTriggerRatio = 0.90
	}
	if out.CompactPreserveTokens == 0 {
		out.CompactPreserveTokens = 4000
	}
	return out
}

// ToContextmgrConfig converts c to a contextmgr.Config.
func (c ContextManagerConfig) ToContextmgrConfig() contextmgr.Config {
	return contextmgr.Config{
		ContextWindow:         c.ContextWindow,
		PruneToolMax:          c.PruneToolMax,
		PruneProtectedTurns:   c.PruneProtectedTurns,
		MinPruneSavingsTokens: c.MinPruneSavingsTokens,
		CompactTriggerRatio:   c.CompactTriggerRatio,
		CompactPreserveTokens: c.CompactPreserveTokens,
	}
}

// Effective returns a copy with defaults applied for zero fields.
func (c StorageConfig) Effective() StorageConfig {
	out := c
	if out.Backend == "" {
		out.Backend = "sqlite"
	}
	if out.SQLite.Path == "" {
		out.SQLite.Path = "./data/agentcore.db"
	}
	if out.SQLite.JournalMode == "" {
		out.SQLite.JournalMode = "WAL"
	}
	if out.SQLite.BusyTimeout == 0 {
		out.SQLite.BusyTimeout = 5000
	}
	if out.Postgres.MaxConns == 0 {
		out.Postgres.MaxConns = 10
	}
	if out.Postgres.MinConns == 0 {
		out.Postgres.MinConns = 2
	}
	if out.Postgres.MaxConnLifetime == 0 {
		out.Postgres.MaxConnLifetime = 30 * time.Minute
	}
	if out.Postgres.MaxConnIdleTime == 0 {
		out.Postgres.MaxConnIdleTime = 5 * time.Minute
	}
	return out
}

// Open opens the backend selected by c.Backend. The returned Store's
// Close should be called by the caller on shutdown.
func (c StorageConfig) Open(ctx context.Context) (storage.Store, error) {
	switch c.Backend {
	case "", "sqlite":
		return storage.OpenSQLite(storage.SQLiteConfig{
			Path:        c.SQLite.Path,
			JournalMode: c.SQLite.JournalMode,
			BusyTimeout: c.SQLite.BusyTimeout,
			ForeignKeys: c.SQLite.ForeignKeys,
		})
	case "postgres":
		return storage.OpenPostgres(ctx, storage.PostgresConfig{
			DSN:             c.Postgres.DSN,
			MaxConns:        c.Postgres.MaxConns,
			MinConns:        c.Postgres.MinConns,
			MaxConnLifetime: c.Postgres.MaxConnLifetime,
			MaxConnIdleTime: c.Postgres.MaxConnIdleTime,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

// Effective returns a copy with defaults applied for zero fields.
func (c RunnerConfig) Effective() RunnerConfig {
	out := c
	if out.PollIntervalSecs == 0 {
		out.PollIntervalSecs = 10
	}
	if out.MaxConcurrentTasks == 0 {
		out.MaxConcurrentTasks = 4
	}
	if out.HeartbeatIntervalSecs == 0 {
		out.HeartbeatIntervalSecs = 30
	}
	return out
}

// envVarPattern matches ${VAR}, ${VAR:-default}, ${VAR:?error}, and $VAR,
// a small superset of shell parameter expansion.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::(-|\?)([^}]*))?\}|\$([A-Z_][A-Z0-9_]*)`)

// Load reads .env/.env.local (without overwriting already-set vars), reads
// the YAML file at path, expands environment variable references, parses
// it, and fills in defaults for every zero field via Effective.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expanding environment variables in %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	cfg = cfg.Effective()
	resolveSecrets(&cfg)
	return &cfg, nil
}

// resolveSecrets fills LLM.APIKey from well-known environment variables
// when the config value is empty or still an unexpanded reference.
func resolveSecrets(cfg *Config) {
	if cfg.LLM.APIKey != "" && !strings.HasPrefix(cfg.LLM.APIKey, "$") {
		return
	}
	for _, envVar := range []string{"AGENTCORE_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		if v := os.Getenv(envVar); v != "" {
			cfg.LLM.APIKey = v
			return
		}
	}
}

// expandEnvVars replaces ${VAR}, ${VAR:-default}, $VAR, and errors out on
// an unset ${VAR:?message} reference.
func expandEnvVars(input string) (string, error) {
	var firstErr error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		varName, modifier, modVal, bareVar := groups[1], groups[2], groups[3], groups[4]

		if bareVar != "" {
			if v, ok := os.LookupEnv(bareVar); ok {
				return v
			}
			return match
		}
		if varName == "" {
			return match
		}
		if v, ok := os.LookupEnv(varName); ok {
			return v
		}
		switch modifier {
		case "-":
			return modVal
		case "?":
			if firstErr == nil {
				msg := modVal
				if msg == "" {
					msg = "required environment variable not set"
				}
				firstErr = fmt.Errorf("%s: %s", varName, msg)
			}
			return match
		default:
			return match
		}
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}
