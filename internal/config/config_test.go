package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "osa.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Loop.MaxIterations != 20 {
		t.Errorf("Loop.MaxIterations = %d, want 20", cfg.Loop.MaxIterations)
	}
	if cfg.Context.MaxContext != 100_000 {
		t.Errorf("Context.MaxContext = %d, want 100000", cfg.Context.MaxContext)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadPreservesExplicitValues(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 7\ncontext:\n  max_context: 50000\n  response_reserve: 1000\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Loop.MaxIterations != 7 {
		t.Errorf("Loop.MaxIterations = %d, want 7", cfg.Loop.MaxIterations)
	}
	if cfg.Context.MaxContext != 50000 {
		t.Errorf("Context.MaxContext = %d, want 50000", cfg.Context.MaxContext)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "not_a_real_field: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestLoadRejectsMultipleDocuments(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 5\n---\nloop:\n  max_iterations: 6\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for multiple YAML documents")
	}
}

func TestLoadValidatesResponseReserveBound(t *testing.T) {
	path := writeConfig(t, "context:\n  max_context: 1000\n  response_reserve: 2000\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error when response_reserve >= max_context")
	}
}

func TestLoadEnvOverridesWin(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")
	t.Setenv("OSA_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug from env override", cfg.Logging.Level)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/osa.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadAppliesLoopAndProviderDefaults(t *testing.T) {
	path := writeConfig(t, "loop:\n  max_iterations: 0\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Loop.PlanModeThreshold != 0.75 {
		t.Errorf("Loop.PlanModeThreshold = %v, want 0.75", cfg.Loop.PlanModeThreshold)
	}
	if cfg.Loop.ProviderTimeout <= 0 {
		t.Errorf("Loop.ProviderTimeout = %v, want a positive default", cfg.Loop.ProviderTimeout)
	}
	if cfg.Provider.DefaultProvider != "anthropic" {
		t.Errorf("Provider.DefaultProvider = %q, want anthropic", cfg.Provider.DefaultProvider)
	}
}

func TestLoadPreservesExplicitProviderConfig(t *testing.T) {
	path := writeConfig(t, "provider:\n  default_provider: openai\n  default_model: gpt-4o\n  cache_control_enabled: true\nbudget:\n  monthly_budget_usd: 500\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider.DefaultProvider != "openai" {
		t.Errorf("Provider.DefaultProvider = %q, want openai", cfg.Provider.DefaultProvider)
	}
	if cfg.Provider.DefaultModel != "gpt-4o" {
		t.Errorf("Provider.DefaultModel = %q, want gpt-4o", cfg.Provider.DefaultModel)
	}
	if !cfg.Provider.CacheControlEnabled {
		t.Error("Provider.CacheControlEnabled = false, want true")
	}
	if cfg.Budget.MonthlyBudgetUSD != 500 {
		t.Errorf("Budget.MonthlyBudgetUSD = %v, want 500", cfg.Budget.MonthlyBudgetUSD)
	}
}

func TestLoadRejectsUnknownDefaultProvider(t *testing.T) {
	path := writeConfig(t, "provider:\n  default_provider: gemini\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for unrecognized default_provider")
	}
}
