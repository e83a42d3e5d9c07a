package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/pkg/osa"
)

func TestSweepOnceEvictsOnlyIdleSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	fresh, _ := store.GetOrCreate(ctx, "fresh", "cli", "u")
	store.GetOrCreate(ctx, "stale", "cli", "u")

	bus := eventbus.New(nil)
	sub, cancel := bus.Subscribe(eventbus.TopicFirehose)
	defer cancel()

	sweeper := NewIdleSweeper(store, bus, IdleSweepConfig{IdleTimeout: time.Millisecond, SweepInterval: time.Hour})
	time.Sleep(5 * time.Millisecond)
	fresh.Append(osa.Message{Role: osa.RoleUser, Content: "hi"})

	sweeper.sweepOnce(ctx)

	if _, err := store.Get(ctx, "fresh"); err != nil {
		t.Fatalf("expected fresh session to survive sweep, err = %v", err)
	}
	if _, err := store.Get(ctx, "stale"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected stale session to be evicted, err = %v", err)
	}

	select {
	case ev := <-sub:
		if ev.Payload["event"] != osa.SysEventSessionIdle {
			t.Errorf("event payload = %+v, want session_idle_timeout", ev.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a session_idle_timeout event")
	}
}

func TestSweepOnceKeepsActiveSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	store.GetOrCreate(ctx, "active", "cli", "u")

	sweeper := NewIdleSweeper(store, nil, IdleSweepConfig{IdleTimeout: time.Hour, SweepInterval: time.Hour})
	sweeper.sweepOnce(ctx)

	if _, err := store.Get(ctx, "active"); err != nil {
		t.Fatalf("expected active session to survive sweep, err = %v", err)
	}
}
