package assembler

import (
	"fmt"
	"strings"

	"github.com/osa-systems/osa/internal/contextwindow"
	"github.com/osa-systems/osa/pkg/osa"
)

// DynamicInput carries every per-request fact the Dynamic Context may
// draw from. Empty fields simply contribute no text to their tier.
type DynamicInput struct {
	Signal    osa.Signal
	SessionID string
	Channel   string
	Provider  string
	Model     string

	PlanBlock string // non-empty only while in plan mode
	EnvBlock  string // cwd, OS, provider, model summary

	ToolListSummary string
	Rules           string
	RelevantMemory  string
	ActiveTaskState string
	WorkflowContext string

	UserProfile    string
	MemoryBulletin string

	OSAddendum string
}

// Budget bounds the Assemble call: MaxContext is the provider's total
// context window, ResponseReserve is tokens held back for the model's
// reply, and ConversationTokens is the already-accounted message history.
type Budget struct {
	MaxContext         int
	ResponseReserve    int
	ConversationTokens int
}

// dynamicBudget returns B = max_context − response_reserve −
// conversation_tokens − static_base_tokens. A result below zero means
// the conversation alone exceeds the window; callers
// should have truncated conversation history before reaching here, but
// Assemble still degrades gracefully by passing 0 to the truncator.
func (b Budget) dynamicBudget(staticBaseTokens int) int {
	avail := b.MaxContext - b.ResponseReserve - b.ConversationTokens - staticBaseTokens
	if avail < 0 {
		return 0
	}
	return avail
}

// Assemble builds the ordered SystemBlocks the Provider receives. The
// first block is always the Static Base, marked cacheable unless cache
// control is disabled (then CacheEphemeral); the second, present only
// when non-empty, is the Dynamic Context marked non-cacheable. A Provider that ignores
// cache hints can concatenate both blocks and get an identical prompt.
func (a *Assembler) Assemble(budget Budget, in DynamicInput) ([]osa.SystemBlock, error) {
	base := a.Current()
	if base == nil {
		return nil, fmt.Errorf("static base not loaded")
	}

	blocks := buildDynamicBlocks(in)
	dynBudget := budget.dynamicBudget(base.Tokens)
	fitted, _ := a.truncator.Fit(dynBudget, blocks)

	dynamicText := joinBlocks(fitted)

	baseHint := osa.CacheStatic
	a.mu.RLock()
	enabled := a.cacheControlEnabled
	a.mu.RUnlock()
	if !enabled {
		baseHint = osa.CacheEphemeral
	}

	out := []osa.SystemBlock{
		{Text: base.Text, CacheHint: baseHint},
	}
	if dynamicText != "" {
		out = append(out, osa.SystemBlock{Text: dynamicText, CacheHint: osa.CacheEphemeral})
	}
	return out, nil
}

func buildDynamicBlocks(in DynamicInput) []contextwindow.Block {
	var blocks []contextwindow.Block

	addTier1 := func(name, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		blocks = append(blocks, contextwindow.Block{Tier: contextwindow.Tier1, Name: name, Text: text})
	}

	addTier1("signal_overlay", signalOverlay(in.Signal))
	addTier1("runtime_fields", runtimeFields(in))
	addTier1("plan_mode", in.PlanBlock)
	addTier1("environment", in.EnvBlock)

	addTier := func(tier contextwindow.Tier, name, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		blocks = append(blocks, contextwindow.Block{Tier: tier, Name: name, Text: text})
	}

	addTier(contextwindow.Tier2, "tool_list", in.ToolListSummary)
	addTier(contextwindow.Tier2, "rules", in.Rules)
	addTier(contextwindow.Tier2, "relevant_memory", in.RelevantMemory)
	addTier(contextwindow.Tier2, "active_task_state", in.ActiveTaskState)
	addTier(contextwindow.Tier2, "workflow_context", in.WorkflowContext)

	addTier(contextwindow.Tier3, "user_profile", in.UserProfile)
	addTier(contextwindow.Tier3, "memory_bulletin", in.MemoryBulletin)

	addTier(contextwindow.Tier4, "os_addendum", in.OSAddendum)

	return blocks
}

func signalOverlay(s osa.Signal) string {
	if s.Raw == "" {
		return ""
	}
	return fmt.Sprintf("signal: mode=%s genre=%s type=%s format=%s weight=%.2f",
		s.Mode, s.Genre, s.Type, s.Format, s.Weight)
}

func runtimeFields(in DynamicInput) string {
	return fmt.Sprintf("session_id=%s channel=%s provider=%s model=%s",
		in.SessionID, in.Channel, in.Provider, in.Model)
}

func joinBlocks(blocks []contextwindow.Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		lines = append(lines, b.Text)
	}
	return strings.Join(lines, "\n\n")
}
