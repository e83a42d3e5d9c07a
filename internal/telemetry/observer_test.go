package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/pkg/osa"
)

func TestObserverCountsEventsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	bus := eventbus.New(nil)
	NewObserver(m, nil).Attach(bus)

	bus.Emit(context.Background(), osa.EventUserMessage, "s1", nil)
	bus.Emit(context.Background(), osa.EventUserMessage, "s1", nil)

	time.Sleep(10 * time.Millisecond) // handlers dispatch on their own goroutine
	if got := counterValue(t, m.EventsEmitted.WithLabelValues(string(osa.EventUserMessage))); got != 2 {
		t.Errorf("EventsEmitted[user_message] = %v, want 2", got)
	}
}

func TestObserverRecordsNoiseFilteredFromSystemEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	bus := eventbus.New(nil)
	NewObserver(m, nil).Attach(bus)

	bus.Emit(context.Background(), osa.EventSystemEvent, "s1", map[string]any{"event": osa.SysEventSignalFiltered})

	time.Sleep(10 * time.Millisecond)
	if got := counterValue(t, m.NoiseFiltered.WithLabelValues(osa.SysEventSignalFiltered)); got != 1 {
		t.Errorf("NoiseFiltered = %v, want 1", got)
	}
}

func TestObserverRecordsOrchestratorWarningAsCycleCollapsed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	bus := eventbus.New(nil)
	NewObserver(m, nil).Attach(bus)

	bus.Emit(context.Background(), osa.EventSystemEvent, "s1", map[string]any{"event": "orchestrator_warning", "message": "cycle"})

	time.Sleep(10 * time.Millisecond)
	if got := counterValue(t, m.OrchestratorWaves.WithLabelValues("cycle_collapsed")); got != 1 {
		t.Errorf("OrchestratorWaves[cycle_collapsed] = %v, want 1", got)
	}
}

func TestObserverSurvivesNilMetrics(t *testing.T) {
	bus := eventbus.New(nil)
	handles := NewObserver(nil, nil).Attach(bus)
	if len(handles) != len(eventTypes) {
		t.Fatalf("Attach() returned %d handles, want %d", len(handles), len(eventTypes))
	}

	bus.Emit(context.Background(), osa.EventSystemEvent, "s1", map[string]any{"event": osa.SysEventDoomLoop})
	time.Sleep(10 * time.Millisecond)
}
