package assembler

import (
	"context"
	"strings"
	"testing"

	"github.com/osa-systems/osa/pkg/osa"
)

func staticLoader(text string) StaticBaseLoader {
	return func(ctx context.Context) (string, map[string]any, error) {
		return text, map[string]any{"project": "osa"}, nil
	}
}

func TestLoadRendersTemplateVars(t *testing.T) {
	a := New(staticLoader("Project: {{.project}}"))
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	base := a.Current()
	if base.Text != "Project: osa" {
		t.Errorf("Text = %q, want %q", base.Text, "Project: osa")
	}
	if base.Tokens <= 0 {
		t.Error("expected non-zero token count")
	}
}

func TestStaticBaseByteIdenticalBetweenReloads(t *testing.T) {
	a := New(staticLoader("stable text"))
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	first := a.Current().Text
	if err := a.ReloadNow(context.Background()); err != nil {
		t.Fatalf("ReloadNow() error: %v", err)
	}
	second := a.Current().Text
	if first != second {
		t.Errorf("Static Base changed across reload with identical source: %q vs %q", first, second)
	}
}

func TestAssembleFirstBlockIsStaticAndCacheable(t *testing.T) {
	a := New(staticLoader("base prompt"))
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	blocks, err := a.Assemble(Budget{MaxContext: 100000, ResponseReserve: 1000}, DynamicInput{
		SessionID: "s1",
		Signal:    osa.Signal{Raw: "hello", Mode: osa.ModeAssist},
	})
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if len(blocks) == 0 {
		t.Fatal("expected at least one block")
	}
	if blocks[0].Text != "base prompt" || blocks[0].CacheHint != osa.CacheStatic {
		t.Errorf("first block = %+v, want static base marked cacheable", blocks[0])
	}
	if len(blocks) > 1 && blocks[1].CacheHint != osa.CacheEphemeral {
		t.Errorf("dynamic block cache hint = %s, want ephemeral", blocks[1].CacheHint)
	}
}

func TestAssembleWithoutLoadFails(t *testing.T) {
	a := New(staticLoader("base"))
	_, err := a.Assemble(Budget{MaxContext: 1000}, DynamicInput{})
	if err == nil {
		t.Fatal("expected error when Static Base has not been loaded")
	}
}

func TestAssembleTruncatesUnderTightBudget(t *testing.T) {
	a := New(staticLoader("base"))
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	blocks, err := a.Assemble(Budget{MaxContext: 50, ResponseReserve: 10}, DynamicInput{
		SessionID:       "s1",
		Signal:          osa.Signal{Raw: "hello", Mode: osa.ModeAssist},
		ToolListSummary: strings.Repeat("tool summary. ", 200),
	})
	if err != nil {
		t.Fatalf("Assemble() error: %v", err)
	}
	if len(blocks) < 2 {
		t.Fatal("expected dynamic block to survive with at least the runtime/signal overlay")
	}
	if strings.Contains(blocks[1].Text, strings.Repeat("tool summary. ", 200)) {
		t.Error("expected tool list summary to be truncated under tight budget")
	}
}
