package osa

import "time"

// EventType is the Bus's tagged-union discriminant. It is a closed set;
// handlers switch on it rather than on a free-form string.
type EventType string

const (
	EventUserMessage      EventType = "user_message"
	EventSignalClassified EventType = "signal_classified"
	EventLLMRequest       EventType = "llm_request"
	EventLLMResponse      EventType = "llm_response"
	EventToolCallStart    EventType = "tool_call_start"
	EventToolCallEnd      EventType = "tool_call_end"
	EventToolResult       EventType = "tool_result"
	EventAgentResponse    EventType = "agent_response"
	EventSystemEvent      EventType = "system_event"
)

// Event is the payload fired on the Bus. Handlers must not block the
// producer and must treat Payload as read-only.
type Event struct {
	Type      EventType
	SessionID string
	Timestamp time.Time
	Sequence  uint64
	Payload   map[string]any
}

// System event names carried in Payload["event"] for EventSystemEvent.
const (
	SysEventSignalFiltered = "signal_filtered"
	SysEventBacklogDropped = "backlog_dropped"
	SysEventCancelled      = "cancelled"
	SysEventDoomLoop       = "doom_loop"
	SysEventBudgetExceeded = "budget_exceeded"
	SysEventSessionOpened  = "session_opened"
	SysEventSessionClosed  = "session_closed"
	SysEventSessionIdle    = "session_idle_timeout"
)
