// Package config loads the Core Runtime's top-level configuration: one
// YAML document, environment-variable overrides, and defaults per
// sub-system.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/osa-systems/osa/internal/orchestrator"
	"github.com/osa-systems/osa/internal/reactloop"
	"github.com/osa-systems/osa/internal/sessions"
	"github.com/osa-systems/osa/internal/signal"
	"github.com/osa-systems/osa/internal/toolregistry"
)

// Config is the Core Runtime's top-level configuration document.
type Config struct {
	Loop         reactloop.Config        `yaml:"loop"`
	Context      ContextConfig           `yaml:"context"`
	Orchestrator orchestrator.Config     `yaml:"orchestrator"`
	ToolExec     toolregistry.ExecutorConfig `yaml:"tool_execution"`
	NoiseFilter  signal.FilterConfig     `yaml:"noise_filter"`
	EventBus     EventBusConfig          `yaml:"event_bus"`
	Sessions     sessions.IdleSweepConfig `yaml:"sessions"`
	Budget       BudgetConfig            `yaml:"budget"`
	Provider     ProviderConfig          `yaml:"provider"`
	Logging      LoggingConfig           `yaml:"logging"`
}

// ProviderConfig picks the default LLM provider/model when a caller
// doesn't pin one explicitly, and gates whether the Context Assembler
// marks its Static Base block cacheable.
type ProviderConfig struct {
	DefaultProvider     string `yaml:"default_provider"` // "anthropic" or "openai"
	DefaultModel        string `yaml:"default_model"`
	CacheControlEnabled bool   `yaml:"cache_control_enabled"`
}

// ContextConfig bounds the Context Assembler's token budget.
type ContextConfig struct {
	MaxContext      int `yaml:"max_context"`
	ResponseReserve int `yaml:"response_reserve"`
}

// EventBusConfig configures the Event Bus's per-subscriber channel depth.
type EventBusConfig struct {
	SubscriberBufferSize int `yaml:"subscriber_buffer_size"`
}

// BudgetConfig caps spend per session; the ReAct Loop's BudgetChecker is
// built from these caps by the caller that wires config to
// reactloop.New, since enforcement needs a running-total store this
// package does not own.
type BudgetConfig struct {
	PerSessionDailyCapUSD float64 `yaml:"per_session_daily_cap_usd"`
	PerSessionTurnCapUSD  float64 `yaml:"per_session_turn_cap_usd"`
	MonthlyBudgetUSD      float64 `yaml:"monthly_budget_usd"`
}

// LoggingConfig configures the structured logger every package writes
// through.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads path, expands ${VAR} references, decodes exactly one YAML
// document, applies environment-variable overrides, fills defaults, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Loop.MaxIterations <= 0 {
		cfg.Loop = mergeLoopDefaults(cfg.Loop)
	}
	if cfg.Context.MaxContext == 0 {
		cfg.Context.MaxContext = 100_000
	}
	if cfg.Context.ResponseReserve == 0 {
		cfg.Context.ResponseReserve = 2_000
	}
	if cfg.Orchestrator.MaxAgents <= 0 {
		cfg.Orchestrator = orchestrator.DefaultConfig()
	}
	if cfg.ToolExec.MaxConcurrency <= 0 {
		cfg.ToolExec = toolregistry.DefaultExecutorConfig()
	}
	if cfg.NoiseFilter.Threshold == 0 {
		cfg.NoiseFilter = signal.DefaultFilterConfig()
	}
	if cfg.EventBus.SubscriberBufferSize <= 0 {
		cfg.EventBus.SubscriberBufferSize = 256
	}
	if cfg.Sessions.IdleTimeout <= 0 {
		cfg.Sessions = sessions.DefaultIdleSweepConfig()
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Provider.DefaultProvider == "" {
		cfg.Provider.DefaultProvider = "anthropic"
	}
}

// mergeLoopDefaults fills zero fields of cfg from reactloop.DefaultConfig
// without discarding any field the document did set.
func mergeLoopDefaults(cfg reactloop.Config) reactloop.Config {
	def := reactloop.DefaultConfig()
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = def.MaxIterations
	}
	if cfg.ParallelToolLimit <= 0 {
		cfg.ParallelToolLimit = def.ParallelToolLimit
	}
	if cfg.MaxProviderRetries <= 0 {
		cfg.MaxProviderRetries = def.MaxProviderRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.DoomLoopWindow <= 0 {
		cfg.DoomLoopWindow = def.DoomLoopWindow
	}
	if cfg.PlanModeThreshold <= 0 {
		cfg.PlanModeThreshold = def.PlanModeThreshold
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = def.ProviderTimeout
	}
	return cfg
}

// applyEnvOverrides lets deployment-time environment variables override
// the log level and format, the context window size, the session idle
// timeout, and the daily spend cap without editing the YAML document.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OSA_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("OSA_LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	if v := strings.TrimSpace(os.Getenv("OSA_MAX_CONTEXT")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Context.MaxContext = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("OSA_SESSION_IDLE_TIMEOUT")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.IdleTimeout = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("OSA_DAILY_CAP_USD")); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.PerSessionDailyCapUSD = parsed
		}
	}
}

// ValidationError reports every configuration problem found at once,
// rather than failing on the first.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validate(cfg *Config) error {
	var issues []string

	if cfg.Context.ResponseReserve >= cfg.Context.MaxContext {
		issues = append(issues, "context.response_reserve must be less than context.max_context")
	}
	if cfg.Orchestrator.MaxAgents < 1 {
		issues = append(issues, "orchestrator.max_agents must be at least 1")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}
	switch strings.ToLower(cfg.Provider.DefaultProvider) {
	case "anthropic", "openai":
	default:
		issues = append(issues, fmt.Sprintf("provider.default_provider %q must be anthropic or openai", cfg.Provider.DefaultProvider))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
