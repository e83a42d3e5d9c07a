// Package reactloop implements the ReAct Agent Loop: a bounded
// think→act→observe state machine with tool dispatch in dependency
// groups, doom-loop detection, and plan-mode suspension. Each LLM turn is
// one Provider.Chat call; StreamChat is not used and no token deltas are
// forwarded.
package reactloop

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/osa-systems/osa/internal/assembler"
	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/internal/toolregistry"
	"github.com/osa-systems/osa/pkg/osa"
)

// Phase is a state of the Loop's state machine.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseClassifying Phase = "classifying"
	PhaseFiltered    Phase = "filtered"
	PhaseAssembling  Phase = "assembling"
	PhaseLLMCall     Phase = "llm_call"
	PhaseStreaming   Phase = "streaming"
	PhaseToolDispatch Phase = "tool_dispatch"
	PhaseToolExecuting Phase = "tool_executing"
	PhasePlanPending Phase = "plan_pending"
	PhaseDone        Phase = "done"
	PhaseCancelled   Phase = "cancelled"
	PhaseErrored     Phase = "errored"
)

// Config bounds one Loop's behavior.
type Config struct {
	MaxIterations       int           `yaml:"max_iterations"`        // N_iter, default 20
	ParallelToolLimit   int           `yaml:"parallel_tool_limit"`   // P, default 5
	MaxProviderRetries  int           `yaml:"max_provider_retries"`  // default 2
	RetryBackoff        time.Duration `yaml:"retry_backoff"`         // default 500ms
	PlanModeEnabled     bool          `yaml:"plan_mode_enabled"`
	PlanModeThreshold   float64       `yaml:"plan_mode_threshold"`   // minimum signal weight that triggers plan mode in BUILD/ANALYZE, default 0.75
	DoomLoopWindow      int           `yaml:"doom_loop_window"`      // consecutive identical tool-call sets to trigger stalled, default 3
	PerSessionDailyCap  float64       `yaml:"per_session_daily_cap"`
	PerSessionTurnCap   float64       `yaml:"per_session_turn_cap"`
	ProviderTimeout     time.Duration `yaml:"provider_timeout"`      // per-call LLM timeout, default 120s
}

// DefaultConfig returns the ReAct Loop's documented defaults.
func DefaultConfig() Config {
	return Config{
		MaxIterations:      20,
		ParallelToolLimit:  5,
		MaxProviderRetries: 2,
		RetryBackoff:       500 * time.Millisecond,
		PlanModeThreshold:  0.75,
		DoomLoopWindow:     3,
		ProviderTimeout:    120 * time.Second,
	}
}

// PlanDecision is the external response to a suspended plan.
type PlanDecision string

const (
	PlanApprove PlanDecision = "approve"
	PlanReject  PlanDecision = "reject"
	PlanEdit    PlanDecision = "edit"
)

// Plan is what the Loop hands to the PlanGate before running a turn in
// plan mode. producePlan stores the provider's whole reply in Goal;
// Steps, Files, Risks and Estimate are left empty.
type Plan struct {
	Goal     string
	Steps    []string
	Files    []string
	Risks    []string
	Estimate string
}

// Response is the terminal result of a Run call.
type Response struct {
	Content    string
	Partial    bool
	Plan       *Plan
	FinalPhase Phase
	Usage      osa.Usage
}

// BudgetChecker reports whether a session/day spend is within configured
// caps before each LLM call.
type BudgetChecker func(sessionID string, usage osa.Usage) (ok bool, err error)

// PlanGate is invoked once a plan is produced; Run blocks on it before
// resuming, letting callers implement out-of-band approve/reject/edit.
type PlanGate func(ctx context.Context, plan Plan) (PlanDecision, *Plan, error)

// Loop runs one session's bounded think→act→observe cycle.
type Loop struct {
	cfg        Config
	provider   osa.Provider
	registry   *toolregistry.Registry
	executor   *toolregistry.Executor
	assembler  *assembler.Assembler
	bus        *eventbus.Bus
	logger     *slog.Logger
	budget     BudgetChecker
	planGate   PlanGate
}

// New constructs a Loop. provider, registry, executor, and assembler are
// required; bus, logger, budget, and planGate may be nil.
func New(cfg Config, provider osa.Provider, registry *toolregistry.Registry, executor *toolregistry.Executor, asm *assembler.Assembler, bus *eventbus.Bus, logger *slog.Logger, budget BudgetChecker, planGate PlanGate) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{cfg: cfg, provider: provider, registry: registry, executor: executor, assembler: asm, bus: bus, logger: logger, budget: budget, planGate: planGate}
}

// Run drives one full turn for session against signal-classified input,
// returning the terminal Response or an error. It implements the loop's
// state machine: Idle → Assembling → LLMCall → (FinalResponse |
// ToolDispatch) → ToolExecuting → LLMCall → … → Done. No Streaming phase
// is entered.
func (l *Loop) Run(ctx context.Context, sess *osa.Session, signal osa.Signal, budgetCfg Budget) (*Response, error) {
	reqID := requestID(ctx)
	reqCtx, ok := sess.BeginRequest(ctx, reqID)
	if !ok {
		return nil, osa.ErrBusy
	}
	ctx = reqCtx
	defer sess.EndRequest(reqID)

	if l.cfg.PlanModeEnabled && requiresPlan(signal, l.cfg.PlanModeThreshold) {
		plan, err := l.producePlan(ctx, sess, signal)
		if err != nil {
			return nil, fmt.Errorf("produce plan: %w", err)
		}
		decision, edited, err := l.awaitPlanApproval(ctx, *plan)
		if err != nil {
			return nil, fmt.Errorf("plan approval: %w", err)
		}
		switch decision {
		case PlanReject:
			return &Response{Plan: plan, FinalPhase: PhaseDone, Content: "plan rejected"}, nil
		case PlanEdit:
			if edited != nil {
				plan = edited
			}
		}
	}

	fingerprints := newFingerprintWindow(l.cfg.DoomLoopWindow)
	sess.ResetIteration()

	for {
		if sess.Cancelled() {
			l.emitSystem(ctx, sess.ID, osa.SysEventCancelled, nil)
			return nil, osa.ErrCancelled
		}

		iter := sess.NextIteration()
		if iter > l.cfg.MaxIterations {
			last := lastAssistantContent(sess.History())
			return &Response{Content: last, Partial: true, FinalPhase: PhaseDone}, nil
		}

		if l.budget != nil {
			ok, err := l.budget(sess.ID, sess.Usage())
			if err != nil {
				return nil, fmt.Errorf("budget check: %w", err)
			}
			if !ok {
				l.emitSystem(ctx, sess.ID, osa.SysEventBudgetExceeded, nil)
				return nil, osa.ErrBudgetExceeded
			}
		}

		blocks, err := l.assembleContext(sess, signal, budgetCfg)
		if err != nil {
			return nil, fmt.Errorf("assemble context: %w", err)
		}

		resp, err := l.callProvider(ctx, sess, blocks)
		if err != nil {
			return nil, fmt.Errorf("provider call: %w", err)
		}
		if sess.IsStale(reqID) {
			return nil, osa.ErrCancelled
		}
		sess.AddUsage(resp.Usage)

		assistantMsg := osa.Message{ID: newID(), SessionID: sess.ID, Role: osa.RoleAssistant, Content: resp.Content, CreatedAt: time.Now()}
		sess.Append(assistantMsg)

		if len(resp.ToolCalls) == 0 {
			return &Response{Content: resp.Content, FinalPhase: PhaseDone, Usage: sess.Usage()}, nil
		}

		fp := fingerprintToolCalls(resp.ToolCalls)
		if fingerprints.push(fp) {
			l.emitSystem(ctx, sess.ID, osa.SysEventDoomLoop, nil)
			return nil, osa.ErrDoomLoop
		}

		results := l.dispatchTools(ctx, sess, resp.ToolCalls)
		if sess.IsStale(reqID) {
			return nil, osa.ErrCancelled
		}
		for i, tc := range resp.ToolCalls {
			sess.Append(osa.Message{
				ID: newID(), SessionID: sess.ID, Role: osa.RoleToolUse,
				ToolCallID: tc.ID, ToolName: tc.Name, Arguments: tc.Arguments, CreatedAt: time.Now(),
			})
			res := results[i]
			sess.Append(osa.Message{
				ID: newID(), SessionID: sess.ID, Role: osa.RoleToolResult,
				ToolCallID: res.ToolCallID, Content: res.Content, IsError: res.IsError, CreatedAt: time.Now(),
			})
		}
	}
}

// Budget is the token-budget shape Run passes through to the Context
// Assembler.
type Budget = assembler.Budget

func (l *Loop) assembleContext(sess *osa.Session, signal osa.Signal, b Budget) ([]osa.SystemBlock, error) {
	in := assembler.DynamicInput{
		Signal:          signal,
		SessionID:       sess.ID,
		Channel:         sess.Channel,
		ToolListSummary: summarizeTools(l.registry),
	}
	return l.assembler.Assemble(b, in)
}

func summarizeTools(r *toolregistry.Registry) string {
	if r == nil {
		return ""
	}
	defs := r.List()
	if len(defs) == 0 {
		return ""
	}
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Name)
	}
	sort.Strings(names)
	out := "available tools: "
	for i, n := range names {
		if i > 0 {
			out += ", "
		}
		out += n
	}
	return out
}

func (l *Loop) callProvider(ctx context.Context, sess *osa.Session, system []osa.SystemBlock) (*osa.ChatResponse, error) {
	req := osa.ChatRequest{
		System:   system,
		Messages: sess.History(),
		Tools:    l.registry.AsLLMTools(),
	}

	var lastErr error
	backoff := l.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	timeout := l.cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	for attempt := 0; attempt <= l.cfg.MaxProviderRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := l.provider.Chat(callCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, osa.ErrAuthProvider) || ctx.Err() != nil {
			return nil, err
		}
		if attempt < l.cfg.MaxProviderRetries {
			select {
			case <-time.After(backoff * time.Duration(1<<uint(attempt))):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", osa.ErrTransientProvider, lastErr)
}

// dispatchTools partitions calls into independent groups (no call's
// arguments reference another's id) and hands each group in turn to
// Executor.ExecuteAll. A call whose arguments embed another call's id
// waits for that call's group to complete first. The executor holds a
// per-session lock for each call, so calls of one session run one at a
// time even within a group. The returned slice preserves the original
// call order regardless of group or completion order.
func (l *Loop) dispatchTools(ctx context.Context, sess *osa.Session, calls []osa.ToolCall) []osa.ToolResult {
	out := make([]osa.ToolResult, len(calls))
	for _, wave := range toolCallWaves(calls) {
		waveCalls := make([]osa.ToolCall, len(wave))
		for i, idx := range wave {
			waveCalls[i] = calls[idx]
		}
		results := l.executor.ExecuteAll(ctx, sess.ID, waveCalls)
		for i, r := range results {
			idx := wave[i]
			if r.Err != nil {
				out[idx] = osa.ToolResult{ToolCallID: r.ToolCallID, Content: r.Err.Error(), IsError: true}
				continue
			}
			out[idx] = *r.Result
		}
	}
	return out
}

// toolCallWaves groups call indices into dependency waves: call i depends
// on call j (i != j) when call i's Arguments contain call j's ID, meaning
// i was very likely constructed by the model to chain off j's result. Each
// wave is safe to run concurrently; later waves wait for earlier ones.
func toolCallWaves(calls []osa.ToolCall) [][]int {
	n := len(calls)
	dependsOn := make([][]int, n)
	for i, c := range calls {
		for j, other := range calls {
			if i == j || other.ID == "" {
				continue
			}
			if bytes.Contains(c.Arguments, []byte(other.ID)) {
				dependsOn[i] = append(dependsOn[i], j)
			}
		}
	}

	done := make([]bool, n)
	var waves [][]int
	for remaining := n; remaining > 0; {
		var wave []int
		for i := 0; i < n; i++ {
			if done[i] {
				continue
			}
			ready := true
			for _, dep := range dependsOn[i] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, i)
			}
		}
		if len(wave) == 0 {
			// A dependency cycle among tool calls: fall back to running
			// everything still pending as one final wave rather than
			// spinning forever.
			for i := 0; i < n; i++ {
				if !done[i] {
					wave = append(wave, i)
				}
			}
		}
		for _, idx := range wave {
			done[idx] = true
		}
		waves = append(waves, wave)
		remaining -= len(wave)
	}
	return waves
}

func (l *Loop) emitSystem(ctx context.Context, sessionID, name string, extra map[string]any) {
	if l.bus == nil {
		return
	}
	payload := map[string]any{"event": name}
	for k, v := range extra {
		payload[k] = v
	}
	l.bus.Emit(ctx, osa.EventSystemEvent, sessionID, payload)
}

func lastAssistantContent(history []osa.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == osa.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func fingerprintToolCalls(calls []osa.ToolCall) string {
	names := make([]string, len(calls))
	for i, c := range calls {
		h := sha256.Sum256(c.Arguments)
		names[i] = c.Name + ":" + hex.EncodeToString(h[:])
	}
	sort.Strings(names)
	joined := ""
	for _, n := range names {
		joined += n + "|"
	}
	return joined
}

type fingerprintWindow struct {
	size    int
	history []string
}

func newFingerprintWindow(size int) *fingerprintWindow {
	if size <= 0 {
		size = 3
	}
	return &fingerprintWindow{size: size}
}

// push records fp and reports whether the window is now full of size
// identical, non-empty fingerprints in a row — the doom-loop condition.
func (w *fingerprintWindow) push(fp string) bool {
	w.history = append(w.history, fp)
	if len(w.history) > w.size {
		w.history = w.history[len(w.history)-w.size:]
	}
	if fp == "" || len(w.history) < w.size {
		return false
	}
	for _, h := range w.history {
		if h != fp {
			return false
		}
	}
	return true
}

func requiresPlan(s osa.Signal, threshold float64) bool {
	if s.Weight < threshold {
		return false
	}
	return s.Mode == osa.ModeBuild || s.Mode == osa.ModeAnalyze
}

func (l *Loop) producePlan(ctx context.Context, sess *osa.Session, signal osa.Signal) (*Plan, error) {
	blocks, err := l.assembleContext(sess, signal, Budget{MaxContext: 100000, ResponseReserve: 2000})
	if err != nil {
		return nil, err
	}
	req := osa.ChatRequest{
		System:   blocks,
		Messages: append(sess.History(), osa.Message{Role: osa.RoleUser, Content: "Produce a structured plan: Goal, Steps, Files, Risks, Estimate."}),
	}
	resp, err := l.provider.Chat(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Plan{Goal: resp.Content}, nil
}

func (l *Loop) awaitPlanApproval(ctx context.Context, plan Plan) (PlanDecision, *Plan, error) {
	if l.planGate == nil {
		return PlanApprove, &plan, nil
	}
	return l.planGate(ctx, plan)
}

type requestIDKey struct{}

// WithRequestID attaches to ctx the request id that Run registers as the
// session's active request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return newID()
}

var idCounter uint64

func newID() string {
	n := atomic.AddUint64(&idCounter, 1)
	return fmt.Sprintf("id-%d-%d", time.Now().UnixNano(), n)
}
