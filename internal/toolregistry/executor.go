package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/osa-systems/osa/pkg/osa"
)

// ExecutorConfig configures the parallel tool executor.
type ExecutorConfig struct {
	MaxConcurrency  int
	DefaultTimeout  time.Duration
	DefaultRetries  int
	RetryBackoff    time.Duration
	MaxRetryBackoff time.Duration
	// ApprovalTimeout bounds how long Execute waits for an out-of-band
	// approval decision on a tool that requires permission.
	ApprovalTimeout time.Duration
}

// DefaultExecutorConfig returns the default concurrency/retry posture.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		ApprovalTimeout: 2 * time.Minute,
	}
}

// ToolConfig holds per-tool overrides.
type ToolConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// ExecutorMetricsSnapshot is a thread-safe copy of executor metrics at a
// point in time, exposed for the Ambient Stack's metrics exporter.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

type executorMetrics struct {
	mu              sync.Mutex
	totalExecutions int64
	totalRetries    int64
	totalFailures   int64
	totalTimeouts   int64
	totalPanics     int64
}

// Executor dispatches tool calls with bounded concurrency, per-tool
// retry/backoff, panic recovery, and permission gating.
type Executor struct {
	registry   *Registry
	config     ExecutorConfig
	toolConfig map[string]ToolConfig
	mu         sync.RWMutex
	sem        chan struct{}
	metrics    *executorMetrics
	approvals  osa.ApprovalChecker

	sessionLocksMu sync.Mutex
	sessionLocks   map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewExecutor creates an Executor bound to registry. approvals may be nil,
// in which case every tool that sets RequiresPermission is refused with a
// permission error.
func NewExecutor(registry *Registry, config ExecutorConfig, approvals osa.ApprovalChecker) *Executor {
	if config.MaxConcurrency <= 0 {
		config = DefaultExecutorConfig()
	}
	return &Executor{
		registry:     registry,
		config:       config,
		toolConfig:   make(map[string]ToolConfig),
		sem:          make(chan struct{}, config.MaxConcurrency),
		metrics:      &executorMetrics{},
		approvals:    approvals,
		sessionLocks: make(map[string]*sessionLock),
	}
}

// ConfigureTool sets a per-tool override.
func (e *Executor) ConfigureTool(name string, cfg ToolConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolConfig[name] = cfg
}

func (e *Executor) getToolConfig(name string) (ToolConfig, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tc, ok := e.toolConfig[name]
	return tc, ok
}

// lockSession serializes tool execution against the same session id,
// refcounting so the lock entry is cleaned up once the last holder
// releases it.
func (e *Executor) lockSession(sessionID string) func() {
	if strings.TrimSpace(sessionID) == "" {
		return func() {}
	}
	e.sessionLocksMu.Lock()
	lock := e.sessionLocks[sessionID]
	if lock == nil {
		lock = &sessionLock{}
		e.sessionLocks[sessionID] = lock
	}
	lock.refs++
	e.sessionLocksMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		e.sessionLocksMu.Lock()
		lock.refs--
		if lock.refs <= 0 {
			delete(e.sessionLocks, sessionID)
		}
		e.sessionLocksMu.Unlock()
	}
}

// ExecutionResult holds the outcome of one tool call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *osa.ToolResult
	Err        error
	Duration   time.Duration
	Attempts   int
}

// ExecuteAll starts one goroutine per call and returns results in the
// same order as calls. Each Execute holds the session's lock and a
// concurrency-limit slot for the whole call, so calls that share
// sessionID run one at a time.
func (e *Executor) ExecuteAll(ctx context.Context, sessionID string, calls []osa.ToolCall) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	results := make([]*ExecutionResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(idx int, tc osa.ToolCall) {
			defer wg.Done()
			results[idx] = e.Execute(ctx, sessionID, tc)
		}(i, call)
	}
	wg.Wait()
	return results
}

// Execute runs a single tool call: validates its name/size, checks
// permission if required, validates its arguments against the tool's
// schema, then dispatches with timeout, retry, and panic recovery.
func (e *Executor) Execute(ctx context.Context, sessionID string, call osa.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	if len(call.Name) > MaxToolNameLength {
		result.Err = &osa.ToolError{Type: osa.ToolErrorInvalidInput, ToolName: call.Name, ToolCallID: call.ID,
			Message: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength)}
		result.Duration = time.Since(start)
		return result
	}
	if len(call.Arguments) > MaxToolParamsSize {
		result.Err = &osa.ToolError{Type: osa.ToolErrorInvalidInput, ToolName: call.Name, ToolCallID: call.ID,
			Message: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize)}
		result.Duration = time.Since(start)
		return result
	}

	def, ok := e.registry.Get(call.Name)
	if !ok {
		result.Err = &osa.ToolError{Type: osa.ToolErrorNotFound, ToolName: call.Name, ToolCallID: call.ID,
			Message: "tool not found: " + call.Name, Cause: osa.ErrToolNotFound}
		result.Duration = time.Since(start)
		return result
	}

	if def.RequiresPermission {
		decision, err := e.awaitApproval(ctx, sessionID, call)
		if err != nil {
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}
		if decision != osa.ApprovalAllowed {
			result.Result = &osa.ToolResult{ToolCallID: call.ID, Content: "permission denied", IsError: true}
			result.Duration = time.Since(start)
			return result
		}
	}

	if err := e.registry.validate(call.Name, call.Arguments); err != nil {
		result.Err = &osa.ToolError{Type: osa.ToolErrorInvalidInput, ToolName: call.Name, ToolCallID: call.ID,
			Message: err.Error(), Cause: err}
		result.Duration = time.Since(start)
		return result
	}

	unlock := e.lockSession(sessionID)
	defer unlock()

	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result.Err = &osa.ToolError{Type: osa.ToolErrorTimeout, ToolName: call.Name, ToolCallID: call.ID, Cause: ctx.Err()}
		result.Duration = time.Since(start)
		return result
	}

	timeout, maxRetries, backoff := e.config.DefaultTimeout, e.config.DefaultRetries, e.config.RetryBackoff
	if tc, ok := e.getToolConfig(call.Name); ok {
		if tc.Timeout > 0 {
			timeout = tc.Timeout
		}
		if tc.Retries >= 0 {
			maxRetries = tc.Retries
		}
		if tc.RetryBackoff > 0 {
			backoff = tc.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1
		execResult, execErr := e.executeWithTimeout(ctx, def, call, timeout)
		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)
			e.recordSuccess(attempt)
			return result
		}
		lastErr = execErr
		if !osa.IsToolRetryable(execErr) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}
		sleep := backoff * time.Duration(1<<uint(attempt))
		if sleep > e.config.MaxRetryBackoff {
			sleep = e.config.MaxRetryBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			lastErr = &osa.ToolError{Type: osa.ToolErrorTimeout, ToolName: call.Name, ToolCallID: call.ID, Cause: ctx.Err()}
		}
	}

	result.Err = lastErr
	result.Duration = time.Since(start)
	e.recordFailure(lastErr)
	return result
}

func (e *Executor) awaitApproval(ctx context.Context, sessionID string, call osa.ToolCall) (osa.ApprovalDecision, error) {
	if e.approvals == nil {
		return osa.ApprovalDenied, &osa.ToolError{Type: osa.ToolErrorPermission, ToolName: call.Name, ToolCallID: call.ID,
			Message: "tool requires permission but no approval checker is configured", Cause: osa.ErrToolPermissionDenied}
	}
	timeout := e.config.ApprovalTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	decision, err := e.approvals.Check(actx, sessionID, call.Name, call.Arguments)
	if err != nil {
		if actx.Err() != nil {
			return osa.ApprovalDenied, &osa.ToolError{Type: osa.ToolErrorPermission, ToolName: call.Name, ToolCallID: call.ID,
				Message: "approval timed out", Cause: osa.ErrToolPermissionDenied}
		}
		return osa.ApprovalDenied, &osa.ToolError{Type: osa.ToolErrorPermission, ToolName: call.Name, ToolCallID: call.ID,
			Message: err.Error(), Cause: err}
	}
	return decision, nil
}

func (e *Executor) executeWithTimeout(ctx context.Context, def osa.ToolDefinition, call osa.ToolCall, timeout time.Duration) (res *osa.ToolResult, err error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: &osa.ToolError{Type: osa.ToolErrorPanic, ToolName: call.Name, ToolCallID: call.ID,
					Message: fmt.Sprintf("panic: %v\n%s", r, debug.Stack())}}
			}
		}()
		text, handlerErr := def.Handler(execCtx, call.Arguments)
		ch <- outcome{text: text, err: handlerErr}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			return nil, &osa.ToolError{Type: classifyHandlerError(o.err), ToolName: call.Name, ToolCallID: call.ID, Cause: o.err}
		}
		return &osa.ToolResult{ToolCallID: call.ID, Content: o.text}, nil
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, &osa.ToolError{Type: osa.ToolErrorTimeout, ToolName: call.Name, ToolCallID: call.ID,
				Message: "context cancelled", Cause: ctx.Err()}
		}
		return nil, &osa.ToolError{Type: osa.ToolErrorTimeout, ToolName: call.Name, ToolCallID: call.ID,
			Message: fmt.Sprintf("execution timed out after %s", timeout)}
	}
}

func classifyHandlerError(err error) osa.ToolErrorType {
	var te *osa.ToolError
	if asToolError(err, &te) {
		return te.Type
	}
	return osa.ToolErrorExecution
}

func asToolError(err error, target **osa.ToolError) bool {
	te, ok := err.(*osa.ToolError)
	if !ok {
		return false
	}
	*target = te
	return true
}

func (e *Executor) recordSuccess(attempt int) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.totalExecutions++
	if attempt > 0 {
		e.metrics.totalRetries += int64(attempt)
	}
}

func (e *Executor) recordFailure(err error) {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	e.metrics.totalExecutions++
	e.metrics.totalFailures++
	var te *osa.ToolError
	if asToolError(err, &te) {
		switch te.Type {
		case osa.ToolErrorTimeout:
			e.metrics.totalTimeouts++
		case osa.ToolErrorPanic:
			e.metrics.totalPanics++
		}
	}
}

// Metrics returns a point-in-time snapshot safe to read concurrently with
// ongoing executions.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	e.metrics.mu.Lock()
	defer e.metrics.mu.Unlock()
	return ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.totalExecutions,
		TotalRetries:    e.metrics.totalRetries,
		TotalFailures:   e.metrics.totalFailures,
		TotalTimeouts:   e.metrics.totalTimeouts,
		TotalPanics:     e.metrics.totalPanics,
	}
}

// ResultsToMessages converts execution results to tool_result messages
// ready to append to a session's history.
func ResultsToMessages(results []*ExecutionResult) []osa.ToolResult {
	out := make([]osa.ToolResult, len(results))
	for i, r := range results {
		switch {
		case r.Err != nil:
			out[i] = osa.ToolResult{ToolCallID: r.ToolCallID, Content: r.Err.Error(), IsError: true}
		case r.Result != nil:
			out[i] = *r.Result
		}
	}
	return out
}

// AnyErrors reports whether any result failed.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Err != nil {
			return true
		}
	}
	return false
}

// AsJSON normalizes arbitrary tool input into json.RawMessage.
func AsJSON(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return json.RawMessage("null")
		}
		return data
	}
}
