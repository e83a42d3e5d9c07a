package toolregistry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/osa-systems/osa/pkg/osa"
)

func newTestExecutor(t *testing.T, defs ...osa.ToolDefinition) (*Registry, *Executor) {
	t.Helper()
	r := New()
	for _, d := range defs {
		if err := r.Register(d); err != nil {
			t.Fatalf("Register(%s) error: %v", d.Name, err)
		}
	}
	cfg := DefaultExecutorConfig()
	cfg.DefaultTimeout = 200 * time.Millisecond
	cfg.RetryBackoff = time.Millisecond
	return r, NewExecutor(r, cfg, nil)
}

func TestExecuteSuccess(t *testing.T) {
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name: "ok",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "done", nil
		},
	})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "ok"})
	if res.Err != nil {
		t.Fatalf("Execute() error: %v", res.Err)
	}
	if res.Result.Content != "done" {
		t.Errorf("Content = %q, want done", res.Result.Content)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	_, ex := newTestExecutor(t)
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "missing"})
	if !errors.Is(res.Err, osa.ErrToolNotFound) {
		t.Fatalf("Err = %v, want ErrToolNotFound", res.Err)
	}
}

func TestExecuteSchemaViolationSkipsHandler(t *testing.T) {
	called := false
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name:       "strict",
		Parameters: json.RawMessage(`{"type":"object","required":["x"],"properties":{"x":{"type":"string"}}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			called = true
			return "", nil
		},
	})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "strict", Arguments: json.RawMessage(`{}`)})
	if res.Err == nil {
		t.Fatal("expected schema violation error")
	}
	if called {
		t.Error("handler must not be invoked on schema violation")
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name: "boom",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			panic("kaboom")
		},
	})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "boom"})
	var te *osa.ToolError
	if !errors.As(res.Err, &te) || te.Type != osa.ToolErrorPanic {
		t.Fatalf("Err = %v, want ToolErrorPanic", res.Err)
	}
}

func TestExecuteRetriesRetryableErrors(t *testing.T) {
	attempts := 0
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name: "flaky",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			attempts++
			if attempts < 2 {
				return "", &osa.ToolError{Type: osa.ToolErrorNetwork, Message: "connection reset"}
			}
			return "recovered", nil
		},
	})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "flaky"})
	if res.Err != nil {
		t.Fatalf("Execute() error: %v", res.Err)
	}
	if attempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", attempts)
	}
}

func TestExecuteDoesNotRetryNonRetryableErrors(t *testing.T) {
	attempts := 0
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name: "badinput",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			attempts++
			return "", &osa.ToolError{Type: osa.ToolErrorInvalidInput, Message: "bad input"}
		},
	})
	ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "badinput"})
	if attempts != 1 {
		t.Errorf("expected exactly 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestExecuteRequiresPermissionWithoutCheckerDenies(t *testing.T) {
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name:               "dangerous",
		RequiresPermission: true,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "should not run", nil
		},
	})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "dangerous"})
	if res.Err == nil {
		t.Fatal("expected permission error when no approval checker is configured")
	}
}

type stubApprover struct{ decision osa.ApprovalDecision }

func (s stubApprover) Check(ctx context.Context, sessionID, toolName string, args json.RawMessage) (osa.ApprovalDecision, error) {
	return s.decision, nil
}

func TestExecuteRequiresPermissionAllowed(t *testing.T) {
	r := New()
	def := osa.ToolDefinition{
		Name:               "dangerous",
		RequiresPermission: true,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "ran", nil
		},
	}
	_ = r.Register(def)
	ex := NewExecutor(r, DefaultExecutorConfig(), stubApprover{decision: osa.ApprovalAllowed})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "dangerous"})
	if res.Err != nil {
		t.Fatalf("Execute() error: %v", res.Err)
	}
	if res.Result.Content != "ran" {
		t.Errorf("Content = %q, want ran", res.Result.Content)
	}
}

func TestExecuteRequiresPermissionDenied(t *testing.T) {
	r := New()
	def := osa.ToolDefinition{
		Name:               "dangerous",
		RequiresPermission: true,
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "should not run", nil
		},
	}
	_ = r.Register(def)
	ex := NewExecutor(r, DefaultExecutorConfig(), stubApprover{decision: osa.ApprovalDenied})
	res := ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "dangerous"})
	if res.Result == nil || !res.Result.IsError {
		t.Fatalf("expected synthetic error result, got %+v / err=%v", res.Result, res.Err)
	}
}

func TestExecuteAllPreservesOrder(t *testing.T) {
	_, ex := newTestExecutor(t,
		osa.ToolDefinition{Name: "a", Handler: func(ctx context.Context, args json.RawMessage) (string, error) { return "a", nil }},
		osa.ToolDefinition{Name: "b", Handler: func(ctx context.Context, args json.RawMessage) (string, error) { return "b", nil }},
	)
	calls := []osa.ToolCall{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}
	results := ex.ExecuteAll(context.Background(), "sess-1", calls)
	if len(results) != 2 || results[0].ToolName != "a" || results[1].ToolName != "b" {
		t.Fatalf("ExecuteAll() order mismatch: %+v", results)
	}
}

func TestMetricsTracksExecutions(t *testing.T) {
	_, ex := newTestExecutor(t, osa.ToolDefinition{
		Name: "ok",
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return "done", nil
		},
	})
	ex.Execute(context.Background(), "sess-1", osa.ToolCall{ID: "1", Name: "ok"})
	snap := ex.Metrics()
	if snap.TotalExecutions != 1 {
		t.Errorf("TotalExecutions = %d, want 1", snap.TotalExecutions)
	}
}
