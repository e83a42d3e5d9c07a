// Package assembler implements the Context Assembler: a two-tier system
// prompt builder combining a boot-time Static Base with a per-request,
// token-budgeted Dynamic Context.
package assembler

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"text/template"
	"time"

	"github.com/osa-systems/osa/internal/contextwindow"
)

// StaticBaseLoader reads the canonical prompt document and the variables
// to interpolate into it. Implementations typically read from disk, an
// embedded asset, or a remote config store; the Assembler only needs the
// rendered result.
type StaticBaseLoader func(ctx context.Context) (templateText string, vars map[string]any, err error)

// MaxStaticBaseChars bounds how much of the rendered Static Base is kept
// by a simple char-limit truncation.
const MaxStaticBaseChars = 32_000

// StaticBase is the interpolated system-prompt body computed once per
// boot. Its text and token count are always consistent with each other.
type StaticBase struct {
	Text      string
	Tokens    int
	BootTime  time.Time
	VarKeys   []string
}

// Assembler owns the Static Base and produces per-request SystemBlocks.
// The Static Base is read-write protected so ReloadNow can swap it while
// concurrent Assemble calls are in flight; Assemble only ever reads the
// currently loaded base, never a partially-rendered one.
type Assembler struct {
	mu                  sync.RWMutex
	base                *StaticBase
	loader              StaticBaseLoader
	estimator           contextwindow.TokenEstimator
	truncator           *contextwindow.Truncator
	cacheControlEnabled bool
}

// New creates an Assembler that has not yet loaded its Static Base. Call
// Load before the first Assemble call. Cache control is on by default;
// use SetCacheControlEnabled(false) for a provider that charges for
// unused cache writes or doesn't support cache hints at all.
func New(loader StaticBaseLoader) *Assembler {
	return &Assembler{
		loader:              loader,
		estimator:           contextwindow.EstimateTokens,
		truncator:           contextwindow.NewTruncator(),
		cacheControlEnabled: true,
	}
}

// SetCacheControlEnabled toggles whether Assemble marks the Static Base
// block cacheable. Disabled, every block comes back CacheEphemeral.
func (a *Assembler) SetCacheControlEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cacheControlEnabled = enabled
}

// Load renders the Static Base for the first time. Calling Load again has
// the same effect as ReloadNow; both exist only so boot-time code reads
// naturally as "Load" while operational code reads as "ReloadNow".
func (a *Assembler) Load(ctx context.Context) error {
	return a.reload(ctx)
}

// ReloadNow re-renders the Static Base immediately. Reload only ever
// happens on an explicit call such as this one — nothing in Assemble or
// a background goroutine may trigger it implicitly.
func (a *Assembler) ReloadNow(ctx context.Context) error {
	return a.reload(ctx)
}

func (a *Assembler) reload(ctx context.Context) error {
	raw, vars, err := a.loader(ctx)
	if err != nil {
		return fmt.Errorf("load static base: %w", err)
	}
	rendered, err := renderTemplate(raw, vars)
	if err != nil {
		return fmt.Errorf("render static base: %w", err)
	}
	if len(rendered) > MaxStaticBaseChars {
		rendered = rendered[:MaxStaticBaseChars]
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}

	base := &StaticBase{
		Text:     rendered,
		Tokens:   a.estimator(rendered),
		BootTime: time.Now(),
		VarKeys:  keys,
	}

	a.mu.Lock()
	a.base = base
	a.mu.Unlock()
	return nil
}

// Current returns the currently loaded Static Base. Returns nil if Load
// has never succeeded.
func (a *Assembler) Current() *StaticBase {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.base
}

func renderTemplate(raw string, vars map[string]any) (string, error) {
	tmpl, err := template.New("static_base").Option("missingkey=zero").Parse(raw)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
