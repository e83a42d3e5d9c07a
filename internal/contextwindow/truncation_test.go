package contextwindow

import (
	"strings"
	"testing"
)

func TestFitNeverTruncatesTier1(t *testing.T) {
	tr := NewTruncator()
	tier1Text := strings.Repeat("a", 2000)
	blocks := []Block{
		{Tier: Tier1, Name: "signal", Text: tier1Text},
	}
	fitted, _ := tr.Fit(10, blocks) // absurdly small budget
	if len(fitted) != 1 || fitted[0].Text != tier1Text {
		t.Fatalf("Tier1 block was truncated or dropped: %+v", fitted)
	}
}

func TestFitDropsLowestTierFirst(t *testing.T) {
	tr := NewTruncator()
	blocks := []Block{
		{Tier: Tier1, Name: "signal", Text: "fixed"},
		{Tier: Tier4, Name: "addendum", Text: strings.Repeat("x", 4000)},
	}
	fitted, _ := tr.Fit(20, blocks)
	for _, b := range fitted {
		if b.Tier == Tier4 && len(b.Text) > 0 && !strings.Contains(b.Text, truncatedMarker) && EstimateTokens(b.Text) > 5 {
			t.Errorf("expected Tier4 block to be heavily truncated, got %d tokens", EstimateTokens(b.Text))
		}
	}
}

func TestFitAppliesTruncatedMarker(t *testing.T) {
	tr := NewTruncator()
	blocks := []Block{
		{Tier: Tier1, Name: "signal", Text: "x"},
		{Tier: Tier2, Name: "tools", Text: strings.Repeat("tool summary line. ", 200)},
	}
	fitted, _ := tr.Fit(50, blocks)
	found := false
	for _, b := range fitted {
		if b.Tier == Tier2 && strings.Contains(b.Text, truncatedMarker) {
			found = true
		}
	}
	if !found {
		t.Fatal("expected truncated marker on oversized Tier2 block")
	}
}

func TestFitWithinBudgetKeepsEverything(t *testing.T) {
	tr := NewTruncator()
	blocks := []Block{
		{Tier: Tier1, Name: "signal", Text: "short"},
		{Tier: Tier2, Name: "tools", Text: "also short"},
		{Tier: Tier3, Name: "profile", Text: "brief"},
	}
	fitted, _ := tr.Fit(10000, blocks)
	if len(fitted) != 3 {
		t.Fatalf("expected all 3 blocks kept, got %d", len(fitted))
	}
	for i, b := range fitted {
		if strings.Contains(b.Text, truncatedMarker) {
			t.Errorf("block %d unexpectedly truncated: %q", i, b.Text)
		}
	}
}
