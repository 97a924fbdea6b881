package events

import (
	"sync"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/observability"
)

const (
	TurnAdvanced            = "turn_advanced"
	DebateFinished          = "debate_finished"
	DebateTerminated        = "debate_terminated"
	AIResponse              = "ai_response"
	ParticipantConnected    = "participant_connected"
	ParticipantDisconnected = "participant_disconnected"
	ParticipantReconnected  = "participant_reconnected"
	ParticipantLeft         = "participant_left"
)

func DebateTopic(sessionID string) string { return "debate:" + sessionID }

func RoomTopic(roomID string) string { return "room:" + roomID }

// Topic returns the topic of a connection context ("room" or "debate").
func Topic(contextType, contextID string) string { return contextType + ":" + contextID }

// Publisher is the notification side used by the coordinator and tracker.
// Publishing never blocks on subscribers.
type Publisher interface {
	Publish(topic, event string, data any) Event
}

// TopicRetirer is implemented by publishers that keep per-topic state. A
// retired topic still replays for a short while, then its state is released
// and its subscribers are closed.
type TopicRetirer interface {
	Retire(topic string)
}

const (
	// DefaultIdleTTL is how long a topic without subscribers or events is kept.
	DefaultIdleTTL = 30 * time.Minute
	// DefaultRetireLinger is how long a retired topic stays replayable.
	DefaultRetireLinger = 2 * time.Minute
)

// Hub fans events out per topic and keeps the last events of each topic for
// replay. Retired and idle topics are swept on later hub calls.
type Hub struct {
	clock        clock.Clock
	max          int
	idleTTL      time.Duration
	retireLinger time.Duration

	mu        sync.Mutex
	topics    map[string]*buffer
	lastSweep time.Time
	closed    bool
}

var (
	_ Publisher    = (*Hub)(nil)
	_ TopicRetirer = (*Hub)(nil)
)

func NewHub(bufferSize int, clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.System{}
	}
	return &Hub{
		clock:        clk,
		max:          bufferSize,
		idleTTL:      DefaultIdleTTL,
		retireLinger: DefaultRetireLinger,
		topics:       map[string]*buffer{},
		lastSweep:    clk.Now(),
	}
}

// topic returns the buffer of name, creating it.
func (h *Hub) topic(name string, now time.Time) *buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sweepLocked(now)
	b, ok := h.topics[name]
	if !ok {
		b = newBuffer(name, h.max, now)
		if h.closed {
			b.close()
		}
		h.topics[name] = b
	}
	return b
}

func (h *Hub) lookup(name string) *buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sweepLocked(h.clock.Now())
	return h.topics[name]
}

// sweepLocked runs at most once per retire linger.
func (h *Hub) sweepLocked(now time.Time) {
	if now.Sub(h.lastSweep) < h.retireLinger {
		return
	}
	h.lastSweep = now
	for name, b := range h.topics {
		if b.expired(now, h.idleTTL, h.retireLinger) {
			delete(h.topics, name)
			observability.EventSubscribers.Sub(float64(b.close()))
		}
	}
}

func (h *Hub) Publish(topic, event string, data any) Event {
	now := h.clock.Now()
	return h.topic(topic, now).append(event, now, data)
}

// ReplayAfter returns the buffered events after lastEventID. Unknown topics
// replay nothing and are not created.
func (h *Hub) ReplayAfter(topic, lastEventID string) []Event {
	b := h.lookup(topic)
	if b == nil {
		return nil
	}
	return b.replayAfter(lastEventID)
}

// Subscribe returns a channel of live events on topic. The channel is closed by
// Unsubscribe, Close, or the sweep once the topic is retired.
func (h *Hub) Subscribe(topic string) chan Event {
	now := h.clock.Now()
	ch := h.topic(topic, now).subscribe(now)
	observability.EventSubscribers.Inc()
	return ch
}

func (h *Hub) Unsubscribe(topic string, ch chan Event) {
	b := h.lookup(topic)
	if b == nil {
		return
	}
	if b.unsubscribe(ch, h.clock.Now()) {
		observability.EventSubscribers.Dec()
	}
}

// Retire marks a topic whose stream is over. Unknown topics are ignored.
func (h *Hub) Retire(topic string) {
	if b := h.lookup(topic); b != nil {
		b.retire(h.clock.Now())
	}
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, b := range h.topics {
		observability.EventSubscribers.Sub(float64(b.close()))
	}
}
