package events

import (
	"strconv"
	"sync"
	"time"
)

// Event is one notification on a topic. EventID increases by one per topic
// and is what clients send back to resume after a reconnect.
type Event struct {
	EventID  string `json:"event_id"`
	Event    string `json:"event"`
	Topic    string `json:"topic"`
	ServerTS int64  `json:"server_ts"`
	Data     any    `json:"data"`
}

type buffer struct {
	mu       sync.Mutex
	topic    string
	nextID   int64
	max      int
	events   []Event
	watchers map[chan Event]struct{}
	closed   bool
	retired  bool
	touched  time.Time
}

func newBuffer(topic string, max int, now time.Time) *buffer {
	if max <= 0 {
		max = 500
	}
	return &buffer{
		topic:    topic,
		max:      max,
		watchers: map[chan Event]struct{}{},
		touched:  now,
	}
}

// expired reports whether the sweep may remove the topic at now. A retired
// topic goes once it has been quiet for linger, subscribers or not; any other
// topic needs no subscribers and idleTTL of quiet.
func (b *buffer) expired(now time.Time, idleTTL, linger time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.retired {
		return !b.touched.After(now.Add(-linger))
	}
	return idleTTL > 0 && len(b.watchers) == 0 && !b.touched.After(now.Add(-idleTTL))
}

func (b *buffer) retire(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retired = true
	b.touched = now
}

func (b *buffer) append(event string, now time.Time, data any) Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Event{}
	}
	b.touched = now
	b.nextID++
	ev := Event{
		EventID:  strconv.FormatInt(b.nextID, 10),
		Event:    event,
		Topic:    b.topic,
		ServerTS: now.UnixMilli(),
		Data:     data,
	}
	b.events = append(b.events, ev)
	if len(b.events) > b.max {
		b.events = b.events[len(b.events)-b.max:]
	}
	// Slow watchers miss live events and catch up through replay.
	for ch := range b.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

func (b *buffer) replayAfter(lastEventID string) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.events) == 0 {
		return nil
	}
	last, err := strconv.ParseInt(lastEventID, 10, 64)
	// A cursor ahead of the topic belongs to an earlier incarnation of it.
	if lastEventID == "" || err != nil || last > b.nextID {
		out := make([]Event, len(b.events))
		copy(out, b.events)
		return out
	}
	out := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		id, _ := strconv.ParseInt(ev.EventID, 10, 64)
		if id > last {
			out = append(out, ev)
		}
	}
	return out
}

func (b *buffer) subscribe(now time.Time) chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched = now
	if b.closed {
		close(ch)
		return ch
	}
	b.watchers[ch] = struct{}{}
	return ch
}

func (b *buffer) unsubscribe(ch chan Event, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touched = now
	if _, ok := b.watchers[ch]; ok {
		delete(b.watchers, ch)
		close(ch)
		return true
	}
	return false
}

// close closes every watcher and reports how many there were.
func (b *buffer) close() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.closed = true
	n := len(b.watchers)
	for ch := range b.watchers {
		close(ch)
		delete(b.watchers, ch)
	}
	return n
}
