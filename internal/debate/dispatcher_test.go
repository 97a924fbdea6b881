package debate

import (
	"context"
	"errors"
	"testing"
	"time"

	"debate-arena/internal/events"

	"github.com/rs/zerolog"
)

type stubGenerator struct {
	text string
	err  error
}

func (g stubGenerator) RequestResponse(ctx context.Context, _ string, _ int) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("request without deadline")
	}
	return g.text, g.err
}

func TestAIDispatcherPublishesResponse(t *testing.T) {
	hub := events.NewHub(10, nil)
	d := NewAIDispatcher(context.Background(), stubGenerator{text: "My rebuttal"}, hub, time.Second, zerolog.Nop())
	d.Dispatch("s1", 2)
	d.Wait()

	replay := hub.ReplayAfter(events.DebateTopic("s1"), "")
	if len(replay) != 1 || replay[0].Event != events.AIResponse {
		t.Fatalf("expected ai_response event, got %+v", replay)
	}
	data := replay[0].Data.(map[string]any)
	if data["text"] != "My rebuttal" || data["turn"] != 2 {
		t.Fatalf("unexpected payload: %+v", data)
	}
}

func TestAIDispatcherSwallowsFailures(t *testing.T) {
	hub := events.NewHub(10, nil)
	d := NewAIDispatcher(context.Background(), stubGenerator{err: errors.New("model overloaded")}, hub, time.Second, zerolog.Nop())
	d.Dispatch("s1", 1)
	d.Wait()
	if replay := hub.ReplayAfter(events.DebateTopic("s1"), ""); len(replay) != 0 {
		t.Fatalf("failed request should publish nothing, got %+v", replay)
	}
}
