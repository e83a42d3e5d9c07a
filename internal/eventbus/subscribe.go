package eventbus

import (
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/osa-systems/osa/pkg/osa"
)

// Topic families an external consumer may subscribe to.
const (
	TopicFirehose     = "firehose"
	topicSessionPrefix = "session:"
	topicTypePrefix    = "type:"
)

const (
	defaultSubscriberBuffer = 256
)

// subscriber is one external Subscribe(topic) consumer. Each subscriber
// owns a bounded channel; when it fills, the oldest queued event is
// evicted to admit the newest one rather than blocking the emitter.
type subscriber struct {
	id      string
	topic   string
	ch      chan osa.Event
	dropped uint64
	closed  int32
}

func matchesTopic(topic string, e osa.Event) bool {
	switch {
	case topic == TopicFirehose:
		return true
	case strings.HasPrefix(topic, topicSessionPrefix):
		return strings.TrimPrefix(topic, topicSessionPrefix) == e.SessionID
	case strings.HasPrefix(topic, topicTypePrefix):
		return strings.TrimPrefix(topic, topicTypePrefix) == string(e.Type)
	default:
		return false
	}
}

// Subscribe opens a bounded channel of events matching topic. The returned
// cancel function must be called to release the subscription.
func (b *Bus) Subscribe(topic string) (<-chan osa.Event, func()) {
	sub := &subscriber{
		id:    uuid.NewString(),
		topic: topic,
		ch:    make(chan osa.Event, defaultSubscriberBuffer),
	}

	b.subMu.Lock()
	b.subs[sub.id] = sub
	b.subMu.Unlock()

	cancel := func() {
		b.subMu.Lock()
		delete(b.subs, sub.id)
		b.subMu.Unlock()
		if atomic.CompareAndSwapInt32(&sub.closed, 0, 1) {
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}

// fanOutToSubscribers delivers e to every matching subscriber. A full
// subscriber buffer evicts its oldest queued event to make room for e
// rather than discarding e itself, so a stalled consumer loses history,
// not freshness. On any eviction it emits backlog_dropped.
func (b *Bus) fanOutToSubscribers(e osa.Event) {
	b.subMu.Lock()
	subs := make([]*subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.subMu.Unlock()

	for _, s := range subs {
		if atomic.LoadInt32(&s.closed) == 1 || !matchesTopic(s.topic, e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			// Buffer full: evict the oldest queued event, then enqueue e.
			// A concurrent receiver may have drained a slot between the
			// two selects; the second send best-effort retries once and
			// still counts as a drop either way, since the invariant is
			// "oldest events are the ones discarded under pressure."
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
			atomic.AddUint64(&s.dropped, 1)
			dropped := atomic.LoadUint64(&s.dropped)
			b.emitBacklogDropped(s.id, dropped)
		}
	}
}

// emitBacklogDropped fires the system_event the Bus is required to emit
// when a subscriber's backlog overflows. It bypasses fanOutToSubscribers
// to avoid recursing into the drop path for the same subscriber.
func (b *Bus) emitBacklogDropped(subscriberID string, droppedCount uint64) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[osa.EventSystemEvent]))
	for _, fn := range b.handlers[osa.EventSystemEvent] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	seq := atomic.AddUint64(&b.sequence, 1)
	event := osa.Event{
		Type:     osa.EventSystemEvent,
		Sequence: seq,
		Payload: map[string]any{
			"event":         osa.SysEventBacklogDropped,
			"subscriber_id": subscriberID,
			"dropped_count": droppedCount,
		},
	}
	for _, fn := range handlers {
		go b.dispatch(nil, fn, event) //nolint:staticcheck // internal recovery path, nil ctx never dereferenced by fn contract callers in this runtime
	}
}
