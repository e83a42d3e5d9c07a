package telemetry

import (
	"context"

	"github.com/osa-systems/osa/internal/eventbus"
	"github.com/osa-systems/osa/pkg/osa"
)

// Observer derives Metrics from Event Bus traffic, so producers (the ReAct
// loop, the orchestrator, the idle sweeper) stay free of direct telemetry
// calls and only need to Emit the events they already emit for other
// reasons. It keeps the Tracer it is given but opens no spans.
type Observer struct {
	metrics *Metrics
	tracer  *Tracer
}

// NewObserver builds an Observer. Either argument may be nil; with nil
// metrics the Observer records nothing, and the tracer is not used when
// observing events.
func NewObserver(metrics *Metrics, tracer *Tracer) *Observer {
	return &Observer{metrics: metrics, tracer: tracer}
}

// eventTypes lists every EventType the bus knows about, so Attach can
// count total throughput regardless of which producers are active.
var eventTypes = []osa.EventType{
	osa.EventUserMessage,
	osa.EventSignalClassified,
	osa.EventLLMRequest,
	osa.EventLLMResponse,
	osa.EventToolCallStart,
	osa.EventToolCallEnd,
	osa.EventToolResult,
	osa.EventAgentResponse,
	osa.EventSystemEvent,
}

// Attach registers handlers on bus for every event type. Returned handles
// let the caller Unregister on shutdown, though in practice the Bus and
// Observer usually share the process lifetime.
func (o *Observer) Attach(bus *eventbus.Bus) []eventbus.HandlerHandle {
	handles := make([]eventbus.HandlerHandle, 0, len(eventTypes))
	for _, et := range eventTypes {
		et := et
		handles = append(handles, bus.RegisterHandler(et, func(ctx context.Context, e osa.Event) {
			o.observe(ctx, et, e)
		}))
	}
	return handles
}

func (o *Observer) observe(_ context.Context, et osa.EventType, e osa.Event) {
	if o.metrics != nil {
		o.metrics.EventsEmitted.WithLabelValues(string(et)).Inc()
	}
	if et != osa.EventSystemEvent {
		return
	}
	name, _ := e.Payload["event"].(string)
	switch name {
	case osa.SysEventSignalFiltered, osa.SysEventBacklogDropped:
		if o.metrics != nil {
			o.metrics.NoiseFiltered.WithLabelValues(name).Inc()
		}
	case osa.SysEventDoomLoop:
		if o.metrics != nil {
			o.metrics.DoomLoopDetections.Inc()
		}
	case osa.SysEventBudgetExceeded:
		if o.metrics != nil {
			scope, _ := e.Payload["scope"].(string)
			if scope == "" {
				scope = "turn"
			}
			o.metrics.BudgetExceeded.WithLabelValues(scope).Inc()
		}
	case osa.SysEventSessionOpened:
		if o.metrics != nil {
			o.metrics.SessionStarted()
		}
	case osa.SysEventSessionClosed:
		if o.metrics != nil {
			durationSeconds, _ := e.Payload["duration_seconds"].(float64)
			o.metrics.SessionEnded(durationSeconds)
		}
	case osa.SysEventSessionIdle:
		if o.metrics != nil {
			o.metrics.SessionIdleEvictions.Inc()
		}
	case "orchestrator_warning":
		if o.metrics != nil {
			o.metrics.OrchestratorWaves.WithLabelValues("cycle_collapsed").Inc()
		}
	}
}
