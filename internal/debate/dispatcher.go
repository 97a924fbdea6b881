package debate

import (
	"context"
	"sync"
	"time"

	"debate-arena/internal/events"
	"debate-arena/internal/observability"

	"github.com/rs/zerolog"
)

// ResponseGenerator produces the AI participant's speech for a turn.
type ResponseGenerator interface {
	RequestResponse(ctx context.Context, sessionID string, turn int) (string, error)
}

// AIDispatcher fires response requests in the background. Failures are
// logged and never reach the coordinator; retries and fallback content
// belong to the generator.
type AIDispatcher struct {
	gen     ResponseGenerator
	events  events.Publisher
	timeout time.Duration
	log     zerolog.Logger

	baseCtx context.Context
	wg      sync.WaitGroup
}

var _ TurnDispatcher = (*AIDispatcher)(nil)

func NewAIDispatcher(ctx context.Context, gen ResponseGenerator, pub events.Publisher, timeout time.Duration, logger zerolog.Logger) *AIDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AIDispatcher{
		gen:     gen,
		events:  pub,
		timeout: timeout,
		log:     logger.With().Str("component", "ai_dispatcher").Logger(),
		baseCtx: ctx,
	}
}

func (d *AIDispatcher) Dispatch(sessionID string, turn int) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(d.baseCtx, d.timeout)
		defer cancel()
		text, err := d.gen.RequestResponse(ctx, sessionID, turn)
		if err != nil {
			observability.AIRequests.WithLabelValues("response", "error").Inc()
			d.log.Warn().Err(err).Str("session_id", sessionID).Int("turn", turn).Msg("ai response request failed")
			return
		}
		observability.AIRequests.WithLabelValues("response", "ok").Inc()
		if d.events != nil {
			d.events.Publish(events.DebateTopic(sessionID), events.AIResponse, map[string]any{
				"session_id": sessionID,
				"turn":       turn,
				"text":       text,
			})
		}
	}()
}

// Wait blocks until every dispatched request has returned.
func (d *AIDispatcher) Wait() {
	d.wg.Wait()
}
