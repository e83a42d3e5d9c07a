package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/pkg/osa"
)

// Config bounds decomposition and wave execution.
type Config struct {
	MaxAgents      int
	MaxConcurrency int
	DecomposeModel string
	SynthesisModel string
	AgentTimeout   time.Duration
}

// DefaultConfig returns the default swarm tuning, with the N_max_agents
// bound this runtime requires.
func DefaultConfig() Config {
	return Config{
		MaxAgents:      5,
		MaxConcurrency: 5,
		DecomposeModel: "",
		SynthesisModel: "",
		AgentTimeout:   5 * time.Minute,
	}
}

// AgentRunner executes one sub-task to completion and returns its textual
// result. Implementations typically wrap a reactloop.Loop bound to a
// sub-session; the orchestrator itself is loop-agnostic.
type AgentRunner func(ctx context.Context, sub osa.SubTask, sharedContext string) (string, error)

// ProgressFunc is invoked after every AgentState transition so a caller can
// surface orchestrator_agent_progress events to a UI or log sink.
type ProgressFunc func(state *osa.AgentState)

// Orchestrator decomposes a task into sub-tasks, executes them in
// dependency-ordered waves, and synthesizes a final answer.
type Orchestrator struct {
	cfg      Config
	provider osa.Provider
	runner   AgentRunner
	bus      *eventbus.Bus
	progress ProgressFunc
}

// New builds an Orchestrator. bus and progress may be nil.
func New(cfg Config, provider osa.Provider, runner AgentRunner, bus *eventbus.Bus, progress ProgressFunc) *Orchestrator {
	if cfg.MaxAgents <= 0 {
		cfg.MaxAgents = DefaultConfig().MaxAgents
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	if cfg.AgentTimeout <= 0 {
		cfg.AgentTimeout = DefaultConfig().AgentTimeout
	}
	return &Orchestrator{cfg: cfg, provider: provider, runner: runner, bus: bus, progress: progress}
}

// decomposePlan is the JSON shape the decomposition prompt asks the
// elite-tier model to emit.
type decomposePlan struct {
	SubTasks []struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		Role        string   `json:"role"`
		ToolsNeeded []string `json:"tools_needed"`
		DependsOn   []string `json:"depends_on"`
	} `json:"sub_tasks"`
}

// Decompose asks the provider to split message into a bounded set of
// sub-tasks. A malformed response yields osa.ErrDecomposeParseFailure; the
// caller is expected to degrade to single-agent execution on that error
// rather than failing the request outright.
func (o *Orchestrator) Decompose(ctx context.Context, message string) ([]osa.SubTask, error) {
	req := osa.ChatRequest{
		Model: o.cfg.DecomposeModel,
		System: []osa.SystemBlock{{
			Text: decomposePromptTemplate(o.cfg.MaxAgents),
		}},
		Messages: []osa.Message{{Role: osa.RoleUser, Content: message}},
	}

	resp, err := o.provider.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("decompose: provider chat: %w", err)
	}

	var plan decomposePlan
	raw := extractJSON(resp.Content)
	if err := json.Unmarshal([]byte(raw), &plan); err != nil || len(plan.SubTasks) == 0 {
		return nil, osa.ErrDecomposeParseFailure
	}

	subTasks := make([]osa.SubTask, 0, len(plan.SubTasks))
	for i, t := range plan.SubTasks {
		if i >= o.cfg.MaxAgents {
			break
		}
		name := strings.TrimSpace(t.Name)
		if name == "" {
			name = fmt.Sprintf("agent-%d", i+1)
		}
		subTasks = append(subTasks, osa.SubTask{
			Name:        name,
			Description: t.Description,
			Role:        t.Role,
			ToolsNeeded: t.ToolsNeeded,
			DependsOn:   t.DependsOn,
		})
	}
	if len(subTasks) == 0 {
		return nil, osa.ErrDecomposeParseFailure
	}
	return subTasks, nil
}

func decomposePromptTemplate(maxAgents int) string {
	return fmt.Sprintf(`Break the user's request into at most %d independent sub-tasks for a team of agents.
Respond with JSON only, no prose, in this exact shape:
{"sub_tasks":[{"name":"unique-id","description":"what this agent does","role":"short role label","tools_needed":["tool_name"],"depends_on":["other-sub-task-name"]}]}
Use "depends_on" only when a sub-task genuinely needs another one's output first. Prefer independent sub-tasks when the work allows it.`, maxAgents)
}

// extractJSON trims surrounding prose/fencing a model sometimes wraps JSON
// in, taking the outermost {...} span.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

// Run executes task.SubTasks wave by wave. Within a wave, sub-agents run
// concurrently up to MaxConcurrency; the wave succeeds as soon as at least
// one sub-agent in it succeeds — unlike the cancel-on-first-error behavior
// this runtime's ancestor used, a single failing peer does not abort the
// others already in flight nor the sub-tasks that depend only on the
// survivors.
func (o *Orchestrator) Run(ctx context.Context, task *osa.TaskState) error {
	if task.Agents == nil {
		task.Agents = make(map[string]*osa.AgentState)
	}
	if task.Results == nil {
		task.Results = make(map[string]string)
	}

	graph, err := BuildGraph(task.SubTasks)
	if err != nil {
		task.Status = osa.TaskFailed
		return fmt.Errorf("build dependency graph: %w", err)
	}
	if graph.CycleCollapsed {
		o.emitWarning(task.SessionID, "dependency cycle detected; remaining sub-tasks collapsed into a final wave")
	}

	byName := make(map[string]osa.SubTask, len(task.SubTasks))
	for _, t := range task.SubTasks {
		byName[t.Name] = t
	}

	task.Status = osa.TaskRunning
	anyFailure := false

	for _, wave := range graph.Waves {
		waveSucceeded := o.runWave(ctx, task, wave, byName)
		if !waveSucceeded {
			anyFailure = true
			break
		}
	}

	completed, failed := 0, 0
	for _, st := range task.Agents {
		switch st.Status {
		case osa.AgentCompleted:
			completed++
		case osa.AgentFailed:
			failed++
		}
	}

	switch {
	case failed == 0 && completed > 0:
		task.Status = osa.TaskCompleted
	case completed == 0:
		task.Status = osa.TaskFailed
	case anyFailure || failed > 0:
		task.Status = osa.TaskPartial
	default:
		task.Status = osa.TaskCompleted
	}
	task.UpdatedAt = time.Now()
	return nil
}

// runWave executes one wave's sub-tasks concurrently and reports whether
// at least one of them completed successfully.
func (o *Orchestrator) runWave(ctx context.Context, task *osa.TaskState, wave []string, byName map[string]osa.SubTask) bool {
	sem := make(chan struct{}, o.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0

	sharedContext := o.snapshotResults(task)

	for _, name := range wave {
		sub, ok := byName[name]
		if !ok {
			continue
		}

		st := &osa.AgentState{
			ID:     sub.Name,
			TaskID: task.ID,
			Name:   sub.Name,
			Role:   sub.Role,
			Status: osa.AgentPending,
		}
		mu.Lock()
		task.Agents[sub.Name] = st
		mu.Unlock()

		wg.Add(1)
		sem <- struct{}{}
		go func(sub osa.SubTask, st *osa.AgentState) {
			defer wg.Done()
			defer func() { <-sem }()

			mu.Lock()
			st.Status = osa.AgentRunning
			st.StartedAt = time.Now()
			mu.Unlock()
			o.reportProgress(st)

			agentCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
			defer cancel()

			result, err := o.runner(agentCtx, sub, sharedContext)

			mu.Lock()
			st.CompletedAt = time.Now()
			if err != nil {
				st.Status = osa.AgentFailed
				st.Err = err.Error()
			} else {
				st.Status = osa.AgentCompleted
				st.Result = result
				task.Results[sub.Name] = result
				successCount++
			}
			mu.Unlock()
			o.reportProgress(st)
		}(sub, st)
	}

	wg.Wait()
	return successCount > 0
}

func (o *Orchestrator) snapshotResults(task *osa.TaskState) string {
	var sb strings.Builder
	for _, t := range task.SubTasks {
		if r, ok := task.Results[t.Name]; ok {
			sb.WriteString(fmt.Sprintf("## %s\n%s\n\n", t.Name, r))
		}
	}
	return sb.String()
}

func (o *Orchestrator) reportProgress(st *osa.AgentState) {
	if o.progress != nil {
		o.progress(st)
	}
	if o.bus != nil {
		o.bus.Emit(context.Background(), osa.EventSystemEvent, st.TaskID, map[string]any{
			"event":      "orchestrator_agent_progress",
			"agent_id":   st.ID,
			"status":     string(st.Status),
			"tool_uses":  st.ToolUses,
			"tokens":     st.TokensUsed,
		})
	}
}

func (o *Orchestrator) emitWarning(sessionID, message string) {
	if o.bus == nil {
		return
	}
	o.bus.Emit(context.Background(), osa.EventSystemEvent, sessionID, map[string]any{
		"event":   "orchestrator_warning",
		"message": message,
	})
}

// Synthesize asks the provider to combine task.Results into a single
// answer. If the synthesis call fails, it falls back to a deterministic
// concatenation of each sub-task's result so a request never ends with no
// answer at all.
func (o *Orchestrator) Synthesize(ctx context.Context, task *osa.TaskState) (string, error) {
	if len(task.Results) == 0 {
		return "", nil
	}

	summary := o.snapshotResults(task)
	req := osa.ChatRequest{
		Model: o.cfg.SynthesisModel,
		System: []osa.SystemBlock{{
			Text: "Combine the following sub-agent results into one coherent answer for the user. Do not mention that multiple agents were involved.",
		}},
		Messages: []osa.Message{{Role: osa.RoleUser, Content: summary}},
	}

	resp, err := o.provider.Chat(ctx, req)
	if err != nil || strings.TrimSpace(resp.Content) == "" {
		task.Synthesis = deterministicSynthesis(task)
		return task.Synthesis, nil
	}
	task.Synthesis = resp.Content
	return task.Synthesis, nil
}

func deterministicSynthesis(task *osa.TaskState) string {
	var sb strings.Builder
	for _, t := range task.SubTasks {
		r, ok := task.Results[t.Name]
		if !ok {
			continue
		}
		sb.WriteString(r)
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}
