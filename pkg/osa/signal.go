package osa

import "time"

// Mode is what the message asks the agent to do.
type Mode string

const (
	ModeExecute  Mode = "EXECUTE"
	ModeBuild    Mode = "BUILD"
	ModeAnalyze  Mode = "ANALYZE"
	ModeMaintain Mode = "MAINTAIN"
	ModeAssist   Mode = "ASSIST"
)

// Genre is the communicative intent of the message.
type Genre string

const (
	GenreDirect  Genre = "DIRECT"
	GenreInform  Genre = "INFORM"
	GenreCommit  Genre = "COMMIT"
	GenreDecide  Genre = "DECIDE"
	GenreExpress Genre = "EXPRESS"
)

// MessageType is the domain category of the message.
type MessageType string

const (
	TypeQuestion   MessageType = "question"
	TypeIssue      MessageType = "issue"
	TypeScheduling MessageType = "scheduling"
	TypeSummary    MessageType = "summary"
	TypeGeneral    MessageType = "general"
)

// Format is the container the message arrived in, derived from the channel.
type Format string

const (
	FormatCommand      Format = "command"
	FormatMessage      Format = "message"
	FormatNotification Format = "notification"
	FormatDocument     Format = "document"
)

// Signal is the immutable 5-tuple classification assigned to every inbound
// message before any LLM call. Once emitted it is never mutated; consumers
// are read-only.
type Signal struct {
	Mode      Mode
	Genre     Genre
	Type      MessageType
	Format    Format
	Weight    float64 // information value, clamped to [0,1]
	Raw       string
	Channel   string
	Timestamp time.Time
}
