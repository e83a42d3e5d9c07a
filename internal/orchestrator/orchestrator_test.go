package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/osa-systems/osa/pkg/osa"
)

type scriptedProvider struct {
	content string
	err     error
}

func (p *scriptedProvider) Chat(ctx context.Context, req osa.ChatRequest) (*osa.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &osa.ChatResponse{Content: p.content}, nil
}

func (p *scriptedProvider) StreamChat(ctx context.Context, req osa.ChatRequest) (<-chan osa.StreamItem, error) {
	return nil, errors.New("not implemented")
}

func TestDecomposeParsesPlan(t *testing.T) {
	provider := &scriptedProvider{content: `{"sub_tasks":[{"name":"research","description":"gather facts"},{"name":"write","description":"draft answer","depends_on":["research"]}]}`}
	o := New(DefaultConfig(), provider, nil, nil, nil)

	subTasks, err := o.Decompose(context.Background(), "write a report")
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if len(subTasks) != 2 {
		t.Fatalf("len(subTasks) = %d, want 2", len(subTasks))
	}
	if subTasks[1].DependsOn[0] != "research" {
		t.Errorf("subTasks[1].DependsOn = %v, want [research]", subTasks[1].DependsOn)
	}
}

func TestDecomposeToleratesFencedJSON(t *testing.T) {
	provider := &scriptedProvider{content: "```json\n{\"sub_tasks\":[{\"name\":\"a\"}]}\n```"}
	o := New(DefaultConfig(), provider, nil, nil, nil)

	subTasks, err := o.Decompose(context.Background(), "do a")
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if len(subTasks) != 1 || subTasks[0].Name != "a" {
		t.Fatalf("subTasks = %+v", subTasks)
	}
}

func TestDecomposeMalformedJSONFails(t *testing.T) {
	provider := &scriptedProvider{content: "not json at all"}
	o := New(DefaultConfig(), provider, nil, nil, nil)

	_, err := o.Decompose(context.Background(), "do something")
	if !errors.Is(err, osa.ErrDecomposeParseFailure) {
		t.Fatalf("err = %v, want ErrDecomposeParseFailure", err)
	}
}

func TestDecomposeBoundsToMaxAgents(t *testing.T) {
	provider := &scriptedProvider{content: `{"sub_tasks":[{"name":"a"},{"name":"b"},{"name":"c"},{"name":"d"},{"name":"e"},{"name":"f"}]}`}
	cfg := DefaultConfig()
	cfg.MaxAgents = 3
	o := New(cfg, provider, nil, nil, nil)

	subTasks, err := o.Decompose(context.Background(), "big task")
	if err != nil {
		t.Fatalf("Decompose() error: %v", err)
	}
	if len(subTasks) != 3 {
		t.Fatalf("len(subTasks) = %d, want 3", len(subTasks))
	}
}

func TestRunAllSucceedMarksCompleted(t *testing.T) {
	runner := func(ctx context.Context, sub osa.SubTask, shared string) (string, error) {
		return "result-" + sub.Name, nil
	}
	o := New(DefaultConfig(), &scriptedProvider{}, runner, nil, nil)

	task := &osa.TaskState{
		ID:       "t1",
		SubTasks: []osa.SubTask{{Name: "a"}, {Name: "b", DependsOn: []string{"a"}}},
	}
	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if task.Status != osa.TaskCompleted {
		t.Fatalf("Status = %v, want TaskCompleted", task.Status)
	}
	if task.Results["b"] != "result-b" {
		t.Errorf("Results[b] = %q", task.Results["b"])
	}
}

func TestRunPartialFailureStillSucceedsWave(t *testing.T) {
	runner := func(ctx context.Context, sub osa.SubTask, shared string) (string, error) {
		if sub.Name == "flaky" {
			return "", errors.New("boom")
		}
		return "ok", nil
	}
	o := New(DefaultConfig(), &scriptedProvider{}, runner, nil, nil)

	task := &osa.TaskState{
		ID:       "t1",
		SubTasks: []osa.SubTask{{Name: "flaky"}, {Name: "steady"}},
	}
	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if task.Status != osa.TaskPartial {
		t.Fatalf("Status = %v, want TaskPartial", task.Status)
	}
	if task.Agents["flaky"].Status != osa.AgentFailed {
		t.Errorf("flaky status = %v, want AgentFailed", task.Agents["flaky"].Status)
	}
	if task.Agents["steady"].Status != osa.AgentCompleted {
		t.Errorf("steady status = %v, want AgentCompleted", task.Agents["steady"].Status)
	}
}

func TestRunAllFailMarksTaskFailed(t *testing.T) {
	runner := func(ctx context.Context, sub osa.SubTask, shared string) (string, error) {
		return "", errors.New("boom")
	}
	o := New(DefaultConfig(), &scriptedProvider{}, runner, nil, nil)

	task := &osa.TaskState{ID: "t1", SubTasks: []osa.SubTask{{Name: "a"}}}
	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if task.Status != osa.TaskFailed {
		t.Fatalf("Status = %v, want TaskFailed", task.Status)
	}
}

func TestRunDownstreamWaveSkippedWhenUpstreamAllFail(t *testing.T) {
	var downstreamRan int32
	runner := func(ctx context.Context, sub osa.SubTask, shared string) (string, error) {
		if sub.Name == "upstream" {
			return "", errors.New("boom")
		}
		atomic.AddInt32(&downstreamRan, 1)
		return "ok", nil
	}
	o := New(DefaultConfig(), &scriptedProvider{}, runner, nil, nil)

	task := &osa.TaskState{
		ID: "t1",
		SubTasks: []osa.SubTask{
			{Name: "upstream"},
			{Name: "downstream", DependsOn: []string{"upstream"}},
		},
	}
	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if downstreamRan != 0 {
		t.Errorf("downstream ran %d times, want 0 since its only dependency failed", downstreamRan)
	}
	if task.Status != osa.TaskFailed {
		t.Fatalf("Status = %v, want TaskFailed", task.Status)
	}
}

func TestRunReportsProgress(t *testing.T) {
	var transitions int32
	progress := func(st *osa.AgentState) {
		atomic.AddInt32(&transitions, 1)
	}
	runner := func(ctx context.Context, sub osa.SubTask, shared string) (string, error) {
		return "ok", nil
	}
	o := New(DefaultConfig(), &scriptedProvider{}, runner, nil, progress)

	task := &osa.TaskState{ID: "t1", SubTasks: []osa.SubTask{{Name: "a"}}}
	if err := o.Run(context.Background(), task); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if transitions < 2 {
		t.Errorf("transitions = %d, want at least 2 (running, completed)", transitions)
	}
}

func TestSynthesizeUsesProviderResponse(t *testing.T) {
	provider := &scriptedProvider{content: "combined answer"}
	o := New(DefaultConfig(), provider, nil, nil, nil)

	task := &osa.TaskState{
		SubTasks: []osa.SubTask{{Name: "a"}},
		Results:  map[string]string{"a": "partial"},
	}
	out, err := o.Synthesize(context.Background(), task)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if out != "combined answer" {
		t.Errorf("Synthesize() = %q", out)
	}
}

func TestSynthesizeFallsBackOnProviderError(t *testing.T) {
	provider := &scriptedProvider{err: fmt.Errorf("provider down")}
	o := New(DefaultConfig(), provider, nil, nil, nil)

	task := &osa.TaskState{
		SubTasks: []osa.SubTask{{Name: "a"}, {Name: "b"}},
		Results:  map[string]string{"a": "first", "b": "second"},
	}
	out, err := o.Synthesize(context.Background(), task)
	if err != nil {
		t.Fatalf("Synthesize() error: %v", err)
	}
	if out != "first\n\nsecond" {
		t.Errorf("Synthesize() fallback = %q", out)
	}
}

func TestSynthesizeEmptyResultsReturnsEmpty(t *testing.T) {
	o := New(DefaultConfig(), &scriptedProvider{}, nil, nil, nil)
	task := &osa.TaskState{}
	out, err := o.Synthesize(context.Background(), task)
	if err != nil || out != "" {
		t.Fatalf("Synthesize() = %q, %v, want empty/no error", out, err)
	}
}
