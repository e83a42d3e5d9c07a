package osa

import "time"

// SubTask is one node of the orchestrator's dependency DAG. Name is unique
// within a Task; DependsOn forms the DAG edges.
type SubTask struct {
	Name        string
	Description string
	Role        string
	ToolsNeeded []string
	DependsOn   []string
	Context     string
}

// AgentStatus is the terminal-transition status of an AgentState.
type AgentStatus string

const (
	AgentPending   AgentStatus = "pending"
	AgentRunning   AgentStatus = "running"
	AgentCompleted AgentStatus = "completed"
	AgentFailed    AgentStatus = "failed"
)

// AgentState tracks one sub-agent's execution. It makes exactly one
// terminal transition: running -> completed | failed.
type AgentState struct {
	ID          string
	TaskID      string
	Name        string
	Role        string
	Status      AgentStatus
	ToolUses    int
	TokensUsed  int
	CurrentAction string
	StartedAt   time.Time
	CompletedAt time.Time
	Result      string
	Err         string
}

// TaskStatus is the orchestrator-level outcome of a TaskState.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskPartial   TaskStatus = "partial"
)

// TaskState is the orchestrator's record of one decomposed task. When
// Status is TaskCompleted every agent is terminal and Results' keys equal
// the SubTasks names of the successfully completed agents.
type TaskState struct {
	ID         string
	Message    string
	SessionID  string
	Status     TaskStatus
	Agents     map[string]*AgentState
	SubTasks   []SubTask
	Results    map[string]string
	Synthesis  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
