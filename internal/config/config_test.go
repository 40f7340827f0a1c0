package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadOverlaysYAMLOntoDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentcore.yaml")
	yamlBody := `
executor:
  max_iterations: 25
storage:
  backend: postgres
  postgres:
    dsn: postgres://localhost/agentcore
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Executor.MaxIterations != 25 {
		t.Errorf("expected overlay to set MaxIterations=25, got %d", cfg.Executor.MaxIterations)
	}
	if cfg.Executor.RunTimeoutSecs != 1200 {
		t.Errorf("expected default RunTimeoutSecs to survive overlay, got %d", cfg.Executor.RunTimeoutSecs)
	}
	if cfg.Storage.Backend != "postgres" {
		t.Errorf("expected backend=postgres, got %q", cfg.Storage.Backend)
	}
	if cfg.Storage.Postgres.DSN != "postgres://localhost/agentcore" {
		t.Errorf("expected DSN to be set, got %q", cfg.Storage.Postgres.DSN)
	}
}

func TestLoadReturnsErrorOnMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestExpandEnvVarsBraceForm(t *testing.T) {
	t.Setenv("AGENTCORE_TEST_VAR", "resolved-value")

	got, err := expandEnvVars("key: ${AGENTCORE_TEST_VAR}")
	if err != nil {
		t.Fatalf("expandEnvVars: %v", err)
	}
	if got != "key: resolved-value" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVarsDefaultFallback(t *testing.T) {
	os.Unsetenv("AGENTCORE_TEST_VAR_UNSET")

	got, err := expandEnvVars("key: ${AGENTCORE_TEST_VAR_UNSET:-fallback}")
	if err != nil {
		t.Fatalf("expandEnvVars: %v", err)
	}
	if got != "key: fallback" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandEnvVarsRequiredErrors(t *testing.T) {
	os.Unsetenv("AGENTCORE_TEST_VAR_REQUIRED")

	_, err := expandEnvVars("key: ${AGENTCORE_TEST_VAR_REQUIRED:?must be set}")
	if err == nil {
		t.Fatal("expected an error for an unset required variable")
	}
}

func TestExpandEnvVarsBareForm(t *testing.T) {
	t.Setenv("AGENTCORE_BARE", "bare-value")

	got, err := expandEnvVars("key: $AGENTCORE_BARE")
	if err != nil {
		t.Fatalf("expandEnvVars: %v", err)
	}
	if got != "key: bare-value" {
		t.Fatalf("got %q", got)
	}
}

func TestResolveSecretsFallsBackToEnv(t *testing.T) {
	os.Unsetenv("AGENTCORE_API_KEY")
	os.Unsetenv("ANTHROPIC_API_KEY")
	t.Setenv("OPENAI_API_KEY", "sk-test-123")

	cfg := DefaultConfig()
	resolveSecrets(cfg)

	if cfg.LLM.APIKey != "sk-test-123" {
		t.Fatalf("expected APIKey to fall back to OPENAI_API_KEY, got %q", cfg.LLM.APIKey)
	}
}

func TestResolveSecretsLeavesExplicitValueAlone(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-from-yaml"
	resolveSecrets(cfg)

	if cfg.LLM.APIKey != "sk-from-yaml" {
		t.Fatalf("expected explicit config value to win, got %q", cfg.LLM.APIKey)
	}
}

func TestToAgentConfigCarriesTimingFields(t *testing.T) {
	cfg := DefaultConfig()
	ac := cfg.Executor.ToAgentConfig()

	if ac.MaxIterations != cfg.Executor.MaxIterations {
		t.Errorf("MaxIterations: got %d, want %d", ac.MaxIterations, cfg.Executor.MaxIterations)
	}
	if ac.RunTimeout != cfg.Executor.RunTimeout() {
		t.Errorf("RunTimeout: got %v, want %v", ac.RunTimeout, cfg.Executor.RunTimeout())
	}
	if ac.ScratchpadDir != cfg.Executor.ScratchpadDir {
		t.Errorf("ScratchpadDir: got %q, want %q", ac.ScratchpadDir, cfg.Executor.ScratchpadDir)
	}
}

func TestToContextmgrConfigRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cc := cfg.Context.ToContextmgrConfig()

	if cc.ContextWindow != cfg.Context.ContextWindow {
		t.Errorf("ContextWindow: got %d, want %d", cc.ContextWindow, cfg.Context.ContextWindow)
	}
	if cc.CompactTriggerRatio != cfg.Context.CompactTriggerRatio {
		t.Errorf("CompactTriggerRatio: got %v, want %v", cc.CompactTriggerRatio, cfg.Context.CompactTriggerRatio)
	}
}

func TestToSchedulerConfigConvertsPollIntervalToDuration(t *testing.T) {
	cfg := DefaultConfig()
	sc := cfg.Runner.ToSchedulerConfig()

	if sc.PollInterval != cfg.Runner.PollInterval() {
		t.Errorf("PollInterval: got %v, want %v", sc.PollInterval, cfg.Runner.PollInterval())
	}
	if sc.MaxConcurrentTasks != cfg.Runner.MaxConcurrentTasks {
		t.Errorf("MaxConcurrentTasks: got %d, want %d", sc.MaxConcurrentTasks, cfg.Runner.MaxConcurrentTasks)
	}
}

func TestFileToolOpenCreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "workspace")
	cfg := FileToolConfig{BaseDir: dir}.Effective()

	tool, err := cfg.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if tool == nil {
		t.Fatal("expected a non-nil tool")
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("expected base dir to be created: %v", err)
	}
}

func TestStorageOpenRejectsUnknownBackend(t *testing.T) {
	cfg := StorageConfig{Backend: "mongo"}
	if _, err := cfg.Open(context.Background()); err == nil {
		t.Fatal("expected an error for an unknown storage backend")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Executor.RunTimeout().Seconds() != 1200 {
		t.Errorf("RunTimeout: got %v", cfg.Executor.RunTimeout())
	}
	if cfg.Executor.LLMCallTimeoutDuration().Seconds() != 300 {
		t.Errorf("LLMCallTimeoutDuration: got %v", cfg.Executor.LLMCallTimeoutDuration())
	}
	if cfg.Executor.ToolTimeout().Seconds() != 30 {
		t.Errorf("ToolTimeout: got %v", cfg.Executor.ToolTimeout())
	}
	if cfg.Runner.PollInterval().Seconds() != 10 {
		t.Errorf("PollInterval: got %v", cfg.Runner.PollInterval())
	}
}
