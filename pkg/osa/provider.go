package osa

import (
	"context"
	"time"
)

// CacheHint tells a Provider whether a SystemBlock may be cached across
// calls. Providers that do not support caching ignore the hint.
type CacheHint string

const (
	CacheEphemeral CacheHint = "ephemeral" // do not cache, rebuilt every request
	CacheStatic    CacheHint = "static"    // cacheable prefix
)

// SystemBlock is one ordered piece of the system message the Context
// Assembler hands to a Provider. Providers that honor cache-control place
// a cache boundary after each CacheStatic block; providers that don't
// simply concatenate Text in order.
type SystemBlock struct {
	Text      string
	CacheHint CacheHint
}

// ChatRequest is the normalized input to Provider.Chat.
type ChatRequest struct {
	System      []SystemBlock
	Messages    []Message
	Tools       []LLMTool
	Temperature float64
	MaxTokens   int
	Model       string
}

// ChatResponse is the normalized output of Provider.Chat.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
	Usage     Usage
}

// StreamItem is one element of a StreamChat sequence.
type StreamItem struct {
	DeltaText string
	ToolCall  *ToolCall
	Done      bool
	Response  *ChatResponse // populated alongside Done
}

// Provider normalizes one LLM backend behind a single Chat contract, with
// StreamChat as its streaming variant. Implementations live outside this
// module (examples/providers/* are non-production reference adapters);
// the Core Runtime only ever depends on this interface.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamItem, error)
}

// Channel is the inbound/outbound contract a messaging surface implements.
// Individual channel adapters (Telegram, Discord, Slack, ...) are out of
// the Core Runtime's scope; it only ever depends on this interface.
type Channel interface {
	// Name identifies the channel for Format derivation and routing.
	Name() string
}

// InboundMessage is what a Channel hands to the Core on Emit.
type InboundMessage struct {
	SessionID   string
	UserText    string
	ChannelName string
	Timestamp   time.Time
	UserID      string
}

// Memory is the abstract store Context Assembler and the ReAct Loop read
// from and write to. Concrete backends (SQLite, JSONL, vector stores) are
// out of the Core Runtime's scope; it only ever depends on this interface.
type Memory interface {
	Recall(ctx context.Context, sessionID string) (string, error)
	RecallRelevant(ctx context.Context, sessionID, query string, maxTokens int) (string, error)
	Remember(ctx context.Context, sessionID, content, category string) error
	LoadSession(ctx context.Context, sessionID string) ([]Message, error)
	AppendMessage(ctx context.Context, sessionID string, msg Message) error
}
