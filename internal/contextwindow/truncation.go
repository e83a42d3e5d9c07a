package contextwindow

import "strings"

const truncatedMarker = "…truncated…"

// Tier orders Dynamic Context blocks by priority; lower numbers are
// higher priority and are never truncated before higher-numbered tiers.
type Tier int

const (
	// Tier1 carries the signal overlay, runtime fields, plan-mode block,
	// and environment block. It is never truncated.
	Tier1 Tier = 1
	// Tier2 carries tool list summary, rules, keyword-relevant memory,
	// active-task state, active workflow context. Bounded to 40% of the
	// dynamic budget.
	Tier2 Tier = 2
	// Tier3 carries the user/communication profile and synthesized
	// memory bulletin. Bounded to 30% of the dynamic budget.
	Tier3 Tier = 3
	// Tier4 carries OS/machine-specific addendums and absorbs whatever
	// budget remains after Tier1-3.
	Tier4 Tier = 4
)

// Block is one named piece of Dynamic Context at a given priority tier.
type Block struct {
	Tier Tier
	Name string
	Text string
}

// Truncator fits a set of tiered blocks into a token budget, truncating
// the lowest-priority (highest-numbered) tier first. Tier1 is never
// truncated: if the budget can't hold all of Tier1, the caller's budget
// accounting is wrong and Fit returns Tier1 unmodified regardless.
type Truncator struct {
	Estimator TokenEstimator
}

// NewTruncator returns a Truncator using the default character-based
// estimator. Pass a zero-value Truncator to use a custom Estimator.
func NewTruncator() *Truncator {
	return &Truncator{Estimator: EstimateTokens}
}

func (t *Truncator) estimate(s string) int {
	if t.Estimator != nil {
		return t.Estimator(s)
	}
	return EstimateTokens(s)
}

// Fit returns the subset of blocks' text that fits within budget tokens,
// truncating from Tier4 toward Tier2 as needed. It returns the fitted
// blocks in their original relative order, and the total tokens used.
func (t *Truncator) Fit(budget int, blocks []Block) ([]Block, int) {
	if budget <= 0 {
		return t.keepTier1Only(blocks), t.sumTier1(blocks)
	}

	byTier := map[Tier][]int{}
	for i, b := range blocks {
		byTier[b.Tier] = append(byTier[b.Tier], i)
	}

	fitted := make([]Block, len(blocks))
	copy(fitted, blocks)

	used := 0
	for _, idx := range byTier[Tier1] {
		used += t.estimate(fitted[idx].Text)
	}

	remaining := budget - used
	for _, tier := range []Tier{Tier2, Tier3, Tier4} {
		idxs := byTier[tier]
		if len(idxs) == 0 {
			continue
		}
		tierBudget := remaining
		switch tier {
		case Tier2:
			tierBudget = minInt(remaining, int(float64(budget)*0.4))
		case Tier3:
			tierBudget = minInt(remaining, int(float64(budget)*0.3))
		}
		tierUsed := 0
		exhausted := false
		for _, idx := range idxs {
			if exhausted {
				fitted[idx].Text = ""
				continue
			}
			text := fitted[idx].Text
			need := t.estimate(text)
			if tierUsed+need > tierBudget {
				text = t.truncateToTokens(text, tierBudget-tierUsed)
				need = t.estimate(text)
				fitted[idx].Text = text
				exhausted = true
			}
			tierUsed += need
		}
		used += tierUsed
		remaining -= tierUsed
		if remaining < 0 {
			remaining = 0
		}
	}

	out := make([]Block, 0, len(fitted))
	for _, b := range fitted {
		if strings.TrimSpace(b.Text) == "" {
			continue
		}
		out = append(out, b)
	}
	return out, used
}

func (t *Truncator) keepTier1Only(blocks []Block) []Block {
	out := make([]Block, 0, len(blocks))
	for _, b := range blocks {
		if b.Tier == Tier1 {
			out = append(out, b)
		}
	}
	return out
}

func (t *Truncator) sumTier1(blocks []Block) int {
	total := 0
	for _, b := range blocks {
		if b.Tier == Tier1 {
			total += t.estimate(b.Text)
		}
	}
	return total
}

// truncateToTokens trims text to approximately maxTokens, appending the
// truncated marker. A non-positive maxTokens drops the block entirely.
func (t *Truncator) truncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if t.estimate(text) <= maxTokens {
		return text
	}
	const charsPerToken = 4
	keepChars := maxTokens * charsPerToken
	if keepChars <= len(truncatedMarker) {
		return truncatedMarker
	}
	if keepChars >= len(text) {
		return text
	}
	return strings.TrimSpace(text[:keepChars]) + " " + truncatedMarker
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
