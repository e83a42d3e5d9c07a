package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/osa-systems/osa/internal/assembler"
	"github.com/osa-systems/osa/internal/config"
	"github.com/osa-systems/osa/internal/contextwindow"
	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/internal/orchestrator"
	"github.com/osa-systems/osa/internal/reactloop"
	"github.com/osa-systems/osa/internal/sessions"
	osasignal "github.com/osa-systems/osa/internal/signal"
	"github.com/osa-systems/osa/internal/telemetry"
	"github.com/osa-systems/osa/internal/toolregistry"
	"github.com/osa-systems/osa/pkg/osa"

	channeldemo "github.com/osa-systems/osa/examples/channels/demo"
	providerdemo "github.com/osa-systems/osa/examples/providers/demo"
	tooldemo "github.com/osa-systems/osa/examples/tools/demo"
)

// runtime bundles the Core Runtime's wired subsystems for one process
// lifetime. cmd/osad is the only package that constructs one; every
// internal package it pulls together remains ignorant of the others
// beyond the interfaces they already declare.
type runtime struct {
	cfg       *config.Config
	bus       *eventbus.Bus
	tracer    *telemetry.Tracer
	metrics   *telemetry.Metrics
	assembler *assembler.Assembler
	registry  *toolregistry.Registry
	executor  *toolregistry.Executor
	loop      *reactloop.Loop
	store     sessions.Store
	sweeper   *sessions.IdleSweeper
	provider  osa.Provider
	shutdown  func(context.Context) error
}

// buildRuntime wires every Core Runtime package behind the shapes
// SPEC_FULL.md names: Event Bus, Noise Filter, Context Assembler, Tool
// Registry, ReAct Loop, Session Store, and the telemetry Observer that
// watches the bus rather than being called inline.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(logger)

	tracer, shutdown := telemetry.NewTracer(telemetry.TraceConfig{
		ServiceName: "osad",
		Endpoint:    os.Getenv("OSA_OTLP_ENDPOINT"),
	})
	metrics := telemetry.NewMetrics()
	telemetry.NewObserver(metrics, tracer).Attach(bus)

	asm := assembler.New(staticBaseLoader())
	asm.SetCacheControlEnabled(cfg.Provider.CacheControlEnabled)
	if err := asm.Load(ctx); err != nil {
		return nil, fmt.Errorf("load static base: %w", err)
	}

	registry := toolregistry.New()
	for _, def := range []osa.ToolDefinition{tooldemo.CurrentTimeTool(), tooldemo.SystemHealthTool()} {
		if err := registry.Register(def); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", def.Name, err)
		}
	}
	executor := toolregistry.NewExecutor(registry, cfg.ToolExec, nil)

	store := sessions.NewMemoryStore()
	sweeper := sessions.NewIdleSweeper(store, bus, cfg.Sessions)

	budget := func(sessionID string, usage osa.Usage) (bool, error) {
		if cfg.Budget.PerSessionTurnCapUSD > 0 && usage.CostUSD > cfg.Budget.PerSessionTurnCapUSD {
			return false, nil
		}
		return true, nil
	}

	loop := reactloop.New(cfg.Loop, provider, registry, executor, asm, bus, logger, budget, nil)

	return &runtime{
		cfg:       cfg,
		bus:       bus,
		tracer:    tracer,
		metrics:   metrics,
		assembler: asm,
		registry:  registry,
		executor:  executor,
		loop:      loop,
		store:     store,
		sweeper:   sweeper,
		provider:  provider,
		shutdown:  shutdown,
	}, nil
}

// buildProvider picks a reference osa.Provider based on whichever API key
// is present in the environment. When both ANTHROPIC_API_KEY and
// OPENAI_API_KEY are set, cfg.Provider.DefaultProvider breaks the tie;
// cfg.Provider.DefaultModel is the fallback when the provider-specific
// *_MODEL env var is unset. Both keys unset is a startup error, not a
// silent stub.
func buildProvider(cfg *config.Config) (osa.Provider, error) {
	anthropicKey := os.Getenv("ANTHROPIC_API_KEY")
	openAIKey := os.Getenv("OPENAI_API_KEY")

	useAnthropic := anthropicKey != "" && (openAIKey == "" || cfg.Provider.DefaultProvider != "openai")
	if useAnthropic && anthropicKey != "" {
		model := os.Getenv("ANTHROPIC_MODEL")
		if model == "" {
			model = cfg.Provider.DefaultModel
		}
		return providerdemo.NewAnthropicProvider(providerdemo.AnthropicConfig{
			APIKey:       anthropicKey,
			DefaultModel: model,
		})
	}
	if openAIKey != "" {
		model := os.Getenv("OPENAI_MODEL")
		if model == "" {
			model = cfg.Provider.DefaultModel
		}
		return providerdemo.NewOpenAIProvider(openAIKey, model)
	}
	return nil, errors.New("osad: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
}

// staticBaseLoader renders osad's system prompt. There is no bundled
// prompt document in this module, so the template is inline; swapping in
// a file- or
// config-backed loader only requires a different StaticBaseLoader value.
func staticBaseLoader() assembler.StaticBaseLoader {
	const tmpl = `You are the OSA Core Runtime, an agent loop with tool access.
Workspace: {{.workspace}}
Be direct. Use tools when they get a better answer than reasoning alone.`

	return func(ctx context.Context) (string, map[string]any, error) {
		wd, err := os.Getwd()
		if err != nil {
			wd = "unknown"
		}
		return tmpl, map[string]any{"workspace": wd}, nil
	}
}

// runChat drives an interactive stdin/stdout session through the ReAct
// Loop, one line in, one response out, until EOF or a shutdown signal.
func runChat(ctx context.Context, configPath, sessionID string, debug bool) error {
	logger := newLogger(debug)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.shutdown(context.Background())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go rt.sweeper.Run(ctx)
	defer rt.sweeper.Stop()

	sess, err := rt.store.GetOrCreate(ctx, sessionID, "stdio", sessionID)
	if err != nil {
		return fmt.Errorf("get or create session: %w", err)
	}

	channel := channeldemo.New(channeldemo.Config{SessionID: sessionID, In: os.Stdin, Out: os.Stdout, Logger: logger})
	go func() {
		if err := channel.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("chat channel stopped", "error", err)
		}
	}()

	logger.Info("chat session ready", "session_id", sessionID, "provider", fmt.Sprintf("%T", rt.provider))

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-channel.Messages():
			if !ok {
				return nil
			}
			if err := handleInbound(ctx, rt, sess, channel, msg); err != nil {
				logger.Error("turn failed", "error", err)
				if err := channel.Send(ctx, fmt.Sprintf("error: %v", err)); err != nil {
					return err
				}
			}
		}
	}
}

func handleInbound(ctx context.Context, rt *runtime, sess *osa.Session, channel *channeldemo.StdioChannel, msg osa.InboundMessage) error {
	sig := osasignal.Classify(msg.UserText, msg.ChannelName)

	filterCfg := rt.cfg.NoiseFilter
	verdict, err := osasignal.Filter(ctx, filterCfg, msg.UserText, sig.Weight)
	if err != nil {
		return fmt.Errorf("noise filter: %w", err)
	}
	if verdict == osasignal.VerdictDrop {
		rt.bus.Emit(ctx, osa.EventSystemEvent, sess.ID, map[string]any{"event": osa.SysEventSignalFiltered})
		return nil
	}

	sess.Append(osa.Message{ID: msg.SessionID + "-in", SessionID: sess.ID, Role: osa.RoleUser, Content: msg.UserText})

	budgetCfg := reactloop.Budget{
		MaxContext:         rt.cfg.Context.MaxContext,
		ResponseReserve:    rt.cfg.Context.ResponseReserve,
		ConversationTokens: estimateHistoryTokens(sess.History()),
	}

	resp, err := rt.loop.Run(ctx, sess, sig, budgetCfg)
	if err != nil {
		return err
	}
	return channel.Send(ctx, resp.Content)
}

func estimateHistoryTokens(history []osa.Message) int {
	total := 0
	for _, m := range history {
		total += contextwindow.EstimateTokens(m.Content)
	}
	return total
}

// runSwarm decomposes task into sub-tasks, runs each through its own
// ReAct Loop sub-session, and prints the synthesized result.
func runSwarm(ctx context.Context, configPath, sessionID, task string, debug bool) error {
	logger := newLogger(debug)
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	defer rt.shutdown(context.Background())

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := func(ctx context.Context, sub osa.SubTask, sharedContext string) (string, error) {
		subSessID := sessionID + "/" + sub.Name
		sess, err := rt.store.GetOrCreate(ctx, subSessID, "swarm", sessionID)
		if err != nil {
			return "", err
		}
		prompt := sub.Description
		if sharedContext != "" {
			prompt = sharedContext + "\n\n" + prompt
		}
		sess.Append(osa.Message{ID: subSessID + "-in", SessionID: sess.ID, Role: osa.RoleUser, Content: prompt})
		sig := osasignal.Classify(prompt, "swarm")
		budgetCfg := reactloop.Budget{
			MaxContext:         rt.cfg.Context.MaxContext,
			ResponseReserve:    rt.cfg.Context.ResponseReserve,
			ConversationTokens: estimateHistoryTokens(sess.History()),
		}
		resp, err := rt.loop.Run(ctx, sess, sig, budgetCfg)
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	}

	orch := orchestrator.New(cfg.Orchestrator, rt.provider, runner, rt.bus, func(state *osa.AgentState) {
		logger.Info("sub-agent progress", "name", state.Name, "status", state.Status)
	})

	subTasks, err := orch.Decompose(ctx, task)
	if errors.Is(err, osa.ErrDecomposeParseFailure) {
		logger.Warn("decomposition unparseable; running as a single agent", "error", err)
		subTasks = []osa.SubTask{{Name: "main", Description: task}}
	} else if err != nil {
		return fmt.Errorf("decompose: %w", err)
	}

	taskState := &osa.TaskState{
		ID:        sessionID,
		Message:   task,
		SessionID: sessionID,
		SubTasks:  subTasks,
		Results:   make(map[string]string),
	}
	if err := orch.Run(ctx, taskState); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	synthesis, err := orch.Synthesize(ctx, taskState)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	fmt.Fprintln(os.Stdout, synthesis)
	return nil
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
