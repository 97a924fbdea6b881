package events

import (
	"testing"
	"time"

	"debate-arena/internal/clock"
)

func TestHubOrderAndReplayPerTopic(t *testing.T) {
	h := NewHub(10, clock.NewFake(time.Unix(1700000000, 0)))
	ev1 := h.Publish(DebateTopic("s1"), TurnAdvanced, map[string]any{"turn": 1})
	ev2 := h.Publish(DebateTopic("s1"), TurnAdvanced, map[string]any{"turn": 2})
	other := h.Publish(RoomTopic("r1"), ParticipantLeft, nil)

	if ev1.EventID != "1" || ev2.EventID != "2" || other.EventID != "1" {
		t.Fatalf("unexpected ids: %s %s %s", ev1.EventID, ev2.EventID, other.EventID)
	}
	if ev1.ServerTS != 1700000000000 {
		t.Fatalf("server ts should come from the clock, got %d", ev1.ServerTS)
	}

	replay := h.ReplayAfter(DebateTopic("s1"), "1")
	if len(replay) != 1 || replay[0].EventID != "2" {
		t.Fatalf("unexpected replay: %+v", replay)
	}
	if all := h.ReplayAfter(DebateTopic("s1"), "garbage"); len(all) != 2 {
		t.Fatalf("invalid cursor should replay everything, got %d", len(all))
	}
}

func TestHubBufferIsBounded(t *testing.T) {
	h := NewHub(2, nil)
	for i := 0; i < 5; i++ {
		h.Publish("t", "e", i)
	}
	replay := h.ReplayAfter("t", "")
	if len(replay) != 2 || replay[0].EventID != "4" {
		t.Fatalf("unexpected bounded replay: %+v", replay)
	}
}

func TestHubSubscribeReceivesLiveEvents(t *testing.T) {
	h := NewHub(10, nil)
	ch := h.Subscribe(RoomTopic("r1"))
	h.Publish(RoomTopic("r1"), ParticipantDisconnected, map[string]string{"user_id": "u1"})

	select {
	case ev := <-ch:
		if ev.Event != ParticipantDisconnected || ev.Topic != "room:r1" {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no live event")
	}

	h.Unsubscribe(RoomTopic("r1"), ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
}

func TestHubRetiredTopicLingersThenCloses(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	h := NewHub(10, clk)
	ch := h.Subscribe(DebateTopic("s1"))
	h.Publish(DebateTopic("s1"), DebateFinished, nil)
	h.Retire(DebateTopic("s1"))

	clk.Advance(DefaultRetireLinger / 2)
	if replay := h.ReplayAfter(DebateTopic("s1"), ""); len(replay) != 1 {
		t.Fatalf("retired topic should still replay, got %d", len(replay))
	}

	clk.Advance(DefaultRetireLinger)
	h.Publish(RoomTopic("other"), ParticipantLeft, nil)
	if ev, ok := <-ch; !ok || ev.Event != DebateFinished {
		t.Fatalf("buffered final event should still be readable, got %+v, %v", ev, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("subscriber should be closed once the retired topic is swept")
	}
	if replay := h.ReplayAfter(DebateTopic("s1"), ""); len(replay) != 0 {
		t.Fatalf("swept topic should replay nothing, got %d", len(replay))
	}
	h.Unsubscribe(DebateTopic("s1"), ch)
}

func TestHubSweepsIdleTopics(t *testing.T) {
	clk := clock.NewFake(time.Unix(1700000000, 0))
	h := NewHub(10, clk)
	h.Publish(RoomTopic("quiet"), ParticipantLeft, nil)
	ch := h.Subscribe(RoomTopic("watched"))
	defer h.Unsubscribe(RoomTopic("watched"), ch)

	clk.Advance(DefaultIdleTTL + time.Second)
	if replay := h.ReplayAfter(RoomTopic("quiet"), ""); len(replay) != 0 {
		t.Fatalf("idle topic should be swept, got %d events", len(replay))
	}
	ev := h.Publish(RoomTopic("watched"), ParticipantLeft, nil)
	if ev.EventID != "1" {
		t.Fatalf("watched topic should survive the sweep, got id %s", ev.EventID)
	}
	select {
	case got := <-ch:
		if got.EventID != ev.EventID {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("watched topic lost its subscriber")
	}
}

func TestHubReplayDoesNotCreateTopics(t *testing.T) {
	h := NewHub(10, nil)
	if replay := h.ReplayAfter(RoomTopic("nobody"), ""); replay != nil {
		t.Fatalf("unexpected replay %+v", replay)
	}
	h.Retire(RoomTopic("nobody"))
	ev := h.Publish(RoomTopic("nobody"), ParticipantLeft, nil)
	if replay := h.ReplayAfter(RoomTopic("nobody"), "99"); len(replay) != 1 || replay[0].EventID != ev.EventID {
		t.Fatalf("cursor from an earlier topic should replay everything, got %+v", replay)
	}
}
