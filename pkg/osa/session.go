package osa

import (
	"context"
	"sync"
	"time"
)

// Usage accumulates token and cost usage for a session or a single call.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CacheRead    int     `json:"cache_read,omitempty"`
	CacheWrite   int     `json:"cache_write,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Add accumulates other into the receiver.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
	u.CostUSD += other.CostUSD
}

// Session is an isolated conversation thread. Its mutable fields are
// accessed by exactly one controller task (the ReAct Loop instance that
// owns it) at a time; callers interact with it only through the Loop's
// command/response surface, never by mutating the struct directly from
// multiple goroutines.
type Session struct {
	ID              string
	Channel         string
	ChannelID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Metadata        map[string]any

	mu              sync.Mutex
	messages        []Message
	iteration       int
	cancelled       bool
	activeRequestID string
	cancelFunc      context.CancelFunc
	usage           Usage
}

// NewSession creates an empty session.
func NewSession(id, channel, channelID string) *Session {
	now := time.Now()
	return &Session{
		ID:        id,
		Channel:   channel,
		ChannelID: channelID,
		CreatedAt: now,
		UpdatedAt: now,
		Metadata:  map[string]any{},
	}
}

// Append adds a message to the session's total, append-only order.
func (s *Session) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	s.UpdatedAt = time.Now()
}

// History returns a copy of the session's message sequence.
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// BeginRequest marks a new active request and derives a cancellable
// context from ctx, returning that context and whether the session was
// idle (false means another request is already active — the caller must
// report "busy" rather than start a second one). The returned context is
// the one the caller must use for the request's LLM call and tool
// executions, since Cancel cancels it directly rather than merely
// flipping a flag the caller has to remember to poll.
func (s *Session) BeginRequest(ctx context.Context, id string) (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRequestID != "" {
		return ctx, false
	}
	s.activeRequestID = id
	s.cancelled = false
	reqCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	return reqCtx, true
}

// EndRequest clears the active request if it matches id and releases its
// derived context, whether the request finished normally or was
// cancelled.
func (s *Session) EndRequest(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeRequestID == id {
		s.activeRequestID = ""
		if s.cancelFunc != nil {
			s.cancelFunc()
			s.cancelFunc = nil
		}
	}
}

// Cancel is idempotent: repeated calls have the same observable effect as
// one. It cancels the active request's derived context immediately, so an
// in-flight provider call or tool execution bound to that context is
// interrupted rather than left to run to completion.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
}

// Cancelled reports whether the session's active request has been
// cancelled.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// IsStale reports whether a response belongs to a request that is no
// longer active, so that late-arriving provider responses can be
// discarded on arrival.
func (s *Session) IsStale(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRequestID != requestID
}

// LastActivity returns the time of the session's most recent Append, or
// creation if it has never had one. Safe to call concurrently with Append.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.UpdatedAt
}

// NextIteration increments and returns the loop iteration counter.
func (s *Session) NextIteration() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration++
	return s.iteration
}

// ResetIteration zeroes the iteration counter for a fresh turn.
func (s *Session) ResetIteration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iteration = 0
}

// AddUsage accumulates usage onto the session's running total.
func (s *Session) AddUsage(u Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage.Add(u)
}

// Usage returns the session's accumulated usage.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}
