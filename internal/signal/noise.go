package signal

import (
	"context"
	"regexp"
	"time"
)

// FilterVerdict is the outcome of a Noise Filter decision.
type FilterVerdict string

const (
	VerdictPass FilterVerdict = "pass"
	VerdictDrop FilterVerdict = "drop"
)

// AdjudicatorFunc is the Tier 2 cheap-model fallback contract: given the
// raw text, answer whether the message is worth an LLM turn. Implementors
// normalize any vendor-specific call behind this single bool.
type AdjudicatorFunc func(ctx context.Context, rawText string) (keep bool, err error)

// FilterConfig controls Noise Filter thresholds. In the zero value
// Threshold is 0, so Tier 1 drops nothing; DefaultFilterConfig supplies
// the 0.6 threshold. Tier 2 stays disabled until Tier2Enabled is set and
// an Adjudicator is given.
type FilterConfig struct {
	Threshold        float64       // T_noise, default 0.6
	BorderlineDelta  float64       // δ band around Threshold for Tier 2
	Tier2Enabled     bool
	Tier2Timeout     time.Duration // bounded sub-second budget; default 800ms
	Adjudicator      AdjudicatorFunc
}

// DefaultFilterConfig returns the default thresholds with Tier 2 disabled.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		Threshold:       0.6,
		BorderlineDelta: 0.1,
		Tier2Enabled:    false,
		Tier2Timeout:    800 * time.Millisecond,
	}
}

// additional deterministic noise patterns beyond the weight penalty
// applied during classification; these catch forms that keep a neutral
// weight but are still conversational filler.
var noisePatterns = []*regexp.Regexp{
	noiseLexicon,
	regexp.MustCompile(`(?i)^\s*(yes|yep|yup|no|nope)\s*[.!]?\s*$`),
}

func matchesNoisePattern(text string) bool {
	for _, p := range noisePatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// Filter implements the two-tier noise gate. Tier 1 is a pure,
// deterministic check; Tier 2 (optional) calls cfg.Adjudicator and
// defaults to pass on timeout, since a false negative here only costs an
// unnecessary LLM call, while a false positive silently drops a message.
func Filter(ctx context.Context, cfg FilterConfig, raw string, weight float64) (FilterVerdict, error) {
	if weight < cfg.Threshold && matchesNoisePattern(raw) {
		return VerdictDrop, nil
	}

	if !cfg.Tier2Enabled || cfg.Adjudicator == nil {
		return VerdictPass, nil
	}

	lower, upper := cfg.Threshold-cfg.BorderlineDelta, cfg.Threshold+cfg.BorderlineDelta
	if weight < lower || weight > upper {
		return VerdictPass, nil
	}

	timeout := cfg.Tier2Timeout
	if timeout <= 0 {
		timeout = 800 * time.Millisecond
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	keep, err := cfg.Adjudicator(tctx, raw)
	if err != nil {
		if tctx.Err() != nil {
			return VerdictPass, nil // bounded budget exceeded: default to pass
		}
		return VerdictPass, err
	}
	if keep {
		return VerdictPass, nil
	}
	return VerdictDrop, nil
}
