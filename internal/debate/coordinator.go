package debate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/config"
	"debate-arena/internal/events"
	"debate-arena/internal/observability"
	"debate-arena/internal/scheduler"
	"debate-arena/internal/store"

	"github.com/rs/zerolog"
)

const (
	JobTurnDeadline = "debate.turn_deadline"
	JobEvaluate     = "debate.evaluate"
)

const defaultTurnBuffer = 8 * time.Second

type TurnDeadlinePayload struct {
	SessionID    string `json:"session_id"`
	ExpectedTurn int    `json:"expected_turn"`
}

type EvaluatePayload struct {
	SessionID string `json:"session_id"`
}

type Repository interface {
	GetRoom(ctx context.Context, id string) (*store.Room, error)
	TransitionRoomStatus(ctx context.Context, roomID, from, to string) (bool, error)
	CreateDebateSession(ctx context.Context, sess store.DebateSession) error
	GetDebateSession(ctx context.Context, id string) (*store.DebateSession, error)
	FindActiveDebateByRoom(ctx context.Context, roomID string) (*store.DebateSession, error)
	UpdateDebateSession(ctx context.Context, id string, fn func(sess *store.DebateSession) error) (*store.DebateSession, error)
}

type JobScheduler interface {
	Schedule(ctx context.Context, kind string, fireAt time.Time, payload any) error
}

type JobRegistry interface {
	Handle(kind string, h scheduler.Handler)
}

// TurnDispatcher is told about every turn whose speaker is an AI participant.
// It must not block.
type TurnDispatcher interface {
	Dispatch(sessionID string, turn int)
}

type Evaluator interface {
	RequestEvaluation(ctx context.Context, sessionID string) error
}

type Options struct {
	TurnBuffer                 time.Duration
	DefaultLocale              string
	SuppressRepeatedEvaluation bool
}

func OptionsFromConfig(cfg config.DebateConfig) Options {
	return Options{
		TurnBuffer:                 time.Duration(cfg.TurnBufferSeconds) * time.Second,
		DefaultLocale:              cfg.DefaultLocale,
		SuppressRepeatedEvaluation: cfg.SuppressRepeatedEvaluation,
	}
}

type Deps struct {
	Repo       Repository
	Scheduler  JobScheduler
	Clock      clock.Clock
	Events     events.Publisher
	Dispatcher TurnDispatcher
	Evaluator  Evaluator
	Formats    *FormatCache
}

// Coordinator owns the turn state machine of debate sessions. Every mutation
// re-reads the session under its row lock and checks the state it expects,
// so a deadline job and a manual completion racing for the same turn advance
// it once.
type Coordinator struct {
	repo       Repository
	sched      JobScheduler
	clock      clock.Clock
	events     events.Publisher
	dispatcher TurnDispatcher
	evaluator  Evaluator
	formats    *FormatCache
	opts       Options
	log        zerolog.Logger
}

func NewCoordinator(deps Deps, opts Options, logger zerolog.Logger) *Coordinator {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Formats == nil {
		deps.Formats = NewFormatCache()
	}
	if opts.TurnBuffer <= 0 {
		opts.TurnBuffer = defaultTurnBuffer
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = "en"
	}
	return &Coordinator{
		repo:       deps.Repo,
		sched:      deps.Scheduler,
		clock:      deps.Clock,
		events:     deps.Events,
		dispatcher: deps.Dispatcher,
		evaluator:  deps.Evaluator,
		formats:    deps.Formats,
		opts:       opts,
		log:        logger.With().Str("component", "debate_coordinator").Logger(),
	}
}

func (c *Coordinator) RegisterJobs(r JobRegistry) {
	r.Handle(JobTurnDeadline, c.handleTurnDeadline)
	r.Handle(JobEvaluate, c.handleEvaluate)
}

// Format returns the cached format of room for locale. An empty locale means
// the room's own locale, then the configured default.
func (c *Coordinator) Format(room store.Room, locale string) []store.TurnDescriptor {
	return c.formats.Get(room, c.locale(room, locale))
}

// SessionFormat returns the turns a session runs on: the snapshot taken at
// start, or the room's current format before that.
func (c *Coordinator) SessionFormat(ctx context.Context, sessionID, locale string) ([]store.TurnDescriptor, error) {
	sess, err := c.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.Turns) > 0 && locale == "" {
		return sess.Turns, nil
	}
	room, err := c.repo.GetRoom(ctx, sess.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	return c.Format(*room, locale), nil
}

func (c *Coordinator) locale(room store.Room, locale string) string {
	switch {
	case locale != "":
		return locale
	case room.Locale != "":
		return room.Locale
	default:
		return c.opts.DefaultLocale
	}
}

func (c *Coordinator) getSession(ctx context.Context, id string) (*store.DebateSession, error) {
	sess, err := c.repo.GetDebateSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// CreateSession moves a ready room to debating and creates its pending
// session. Exactly one side may be an AI participant.
func (c *Coordinator) CreateSession(ctx context.Context, roomID string, affirmative, negative store.Participant) (*store.DebateSession, error) {
	if !validParticipant(affirmative) || !validParticipant(negative) || (affirmative.AI && negative.AI) {
		return nil, ErrInvalidParticipants
	}
	if !affirmative.AI && !negative.AI && affirmative.UserID == negative.UserID {
		return nil, ErrInvalidParticipants
	}
	if _, err := c.repo.GetRoom(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	ok, err := c.repo.TransitionRoomStatus(ctx, roomID, store.RoomStatusReady, store.RoomStatusDebating)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrRoomNotReady
	}
	sess := store.DebateSession{
		ID:          store.NewID(),
		RoomID:      roomID,
		Status:      store.DebateStatusPending,
		Affirmative: affirmative,
		Negative:    negative,
	}
	if err := c.repo.CreateDebateSession(ctx, sess); err != nil {
		if _, rerr := c.repo.TransitionRoomStatus(ctx, roomID, store.RoomStatusDebating, store.RoomStatusReady); rerr != nil {
			c.log.Error().Err(rerr).Str("room_id", roomID).Msg("revert room status")
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	c.log.Info().Str("session_id", sess.ID).Str("room_id", roomID).Msg("debate session created")
	return c.getSession(ctx, sess.ID)
}

func validParticipant(p store.Participant) bool {
	return p.AI != (p.UserID != "")
}

// StartDebate resolves the room's format, enters turn 1 and arms its
// deadline. An empty format fails with ErrInvalidFormat and leaves the
// session untouched.
func (c *Coordinator) StartDebate(ctx context.Context, sessionID string) (*store.DebateSession, error) {
	sess, err := c.getSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != store.DebateStatusPending || sess.CurrentTurn != 0 {
		return nil, ErrAlreadyStarted
	}
	room, err := c.repo.GetRoom(ctx, sess.RoomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRoomNotFound
		}
		return nil, err
	}
	turns := c.Format(*room, "")
	if len(turns) == 0 {
		return nil, ErrInvalidFormat
	}

	updated, err := c.repo.UpdateDebateSession(ctx, sessionID, func(s *store.DebateSession) error {
		if s.Status != store.DebateStatusPending || s.CurrentTurn != 0 {
			return ErrAlreadyStarted
		}
		now := c.clock.Now()
		s.Status = store.DebateStatusActive
		s.StartedAt = &now
		s.Turns = turns
		return c.enterTurn(ctx, s, 1, now)
	})
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("session_id", sessionID).Int("turns", len(turns)).Msg("debate started")
	c.announceTurn(updated)
	return updated, nil
}

// enterTurn sets turn n and its deadline and arms the deadline job. It runs
// inside the session's update so a failure to arm rolls the turn back.
func (c *Coordinator) enterTurn(ctx context.Context, s *store.DebateSession, n int, now time.Time) error {
	turn, ok := s.Turn(n)
	if !ok {
		return fmt.Errorf("turn %d out of range", n)
	}
	deadline := now.Add(turn.Duration() + c.opts.TurnBuffer)
	s.CurrentTurn = n
	s.TurnDeadline = &deadline
	payload := TurnDeadlinePayload{SessionID: s.ID, ExpectedTurn: n}
	if err := c.sched.Schedule(ctx, JobTurnDeadline, deadline, payload); err != nil {
		return fmt.Errorf("arm turn deadline: %w", err)
	}
	return nil
}

func (c *Coordinator) announceTurn(sess *store.DebateSession) {
	turn, _ := sess.Turn(sess.CurrentTurn)
	if c.events != nil {
		c.events.Publish(events.DebateTopic(sess.ID), events.TurnAdvanced, map[string]any{
			"session_id": sess.ID,
			"turn":       sess.CurrentTurn,
			"name":       turn.Name,
			"speaker":    turn.Speaker,
			"deadline":   sess.TurnDeadline,
		})
	}
	if p, ok := sess.Participant(turn.Speaker); ok && p.AI && c.dispatcher != nil {
		c.dispatcher.Dispatch(sess.ID, sess.CurrentTurn)
	}
}

// AdvanceTurn completes expectedTurn. It reports false without error when the
// session is no longer on that turn. Completing the last turn finishes the
// debate.
func (c *Coordinator) AdvanceTurn(ctx context.Context, sessionID string, expectedTurn int) (bool, error) {
	return c.advance(ctx, sessionID, expectedTurn, "complete")
}

func (c *Coordinator) advance(ctx context.Context, sessionID string, expectedTurn int, cause string) (bool, error) {
	finishing := false
	updated, err := c.repo.UpdateDebateSession(ctx, sessionID, func(s *store.DebateSession) error {
		if s.Terminal() || expectedTurn < 1 || s.CurrentTurn != expectedTurn {
			return errStaleTurn
		}
		now := c.clock.Now()
		if expectedTurn >= len(s.Turns) {
			finishing = true
			markFinished(s, now)
			return nil
		}
		return c.enterTurn(ctx, s, expectedTurn+1, now)
	})
	switch {
	case errors.Is(err, errStaleTurn):
		observability.StaleCallbacks.WithLabelValues(cause).Inc()
		c.log.Debug().Str("session_id", sessionID).Int("expected_turn", expectedTurn).Str("cause", cause).Msg("stale turn advance ignored")
		return false, nil
	case errors.Is(err, store.ErrNotFound):
		return false, ErrSessionNotFound
	case err != nil:
		return false, err
	}

	observability.TurnAdvances.WithLabelValues(cause).Inc()
	if finishing {
		c.log.Info().Str("session_id", sessionID).Int("turn", expectedTurn).Msg("last turn completed")
		c.afterFinish(ctx, updated, true)
		return true, nil
	}
	c.log.Debug().Str("session_id", sessionID).Int("turn", updated.CurrentTurn).Str("cause", cause).Msg("turn advanced")
	c.announceTurn(updated)
	return true, nil
}

func markFinished(s *store.DebateSession, now time.Time) {
	s.Status = store.DebateStatusFinished
	s.FinishedAt = &now
	s.CurrentTurn = store.TurnFinished
	s.TurnDeadline = nil
}

// FinishResult tells callers whether this call finished the debate or found
// it already over.
type FinishResult struct {
	Fresh            bool `json:"fresh"`
	RoomTransitioned bool `json:"room_transitioned"`
}

// FinishDebate ends a session. It clears the deadline, moves the room from
// debating to finished when it is still debating, publishes DebateFinished
// and enqueues evaluation. Repeated calls repeat the publish and the
// evaluation request unless SuppressRepeatedEvaluation is set; Fresh tells
// them apart.
func (c *Coordinator) FinishDebate(ctx context.Context, sessionID string) (FinishResult, error) {
	fresh := false
	updated, err := c.repo.UpdateDebateSession(ctx, sessionID, func(s *store.DebateSession) error {
		if !s.Terminal() {
			fresh = true
			markFinished(s, c.clock.Now())
			return nil
		}
		s.CurrentTurn = store.TurnFinished
		s.TurnDeadline = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return FinishResult{}, ErrSessionNotFound
		}
		return FinishResult{}, err
	}
	return c.afterFinish(ctx, updated, fresh), nil
}

func (c *Coordinator) afterFinish(ctx context.Context, sess *store.DebateSession, fresh bool) FinishResult {
	res := FinishResult{Fresh: fresh}
	logger := c.log.With().Str("session_id", sess.ID).Bool("fresh", fresh).Logger()

	moved, err := c.repo.TransitionRoomStatus(ctx, sess.RoomID, store.RoomStatusDebating, store.RoomStatusFinished)
	if err != nil {
		logger.Warn().Err(err).Str("room_id", sess.RoomID).Msg("room finish transition failed")
	}
	res.RoomTransitioned = moved

	if fresh {
		observability.DebatesFinished.WithLabelValues("fresh").Inc()
	} else {
		observability.DebatesFinished.WithLabelValues("repeat").Inc()
	}
	if c.events != nil {
		c.events.Publish(events.DebateTopic(sess.ID), events.DebateFinished, map[string]any{
			"session_id": sess.ID,
			"fresh":      fresh,
		})
	}
	c.release(sess.ID, sess.RoomID, moved)
	if !fresh && c.opts.SuppressRepeatedEvaluation {
		logger.Debug().Msg("repeated finish, evaluation suppressed")
		return res
	}
	if err := c.sched.Schedule(ctx, JobEvaluate, c.clock.Now(), EvaluatePayload{SessionID: sess.ID}); err != nil {
		logger.Error().Err(err).Msg("enqueue evaluation")
	}
	logger.Info().Bool("room_transitioned", moved).Msg("debate finished")
	return res
}

// release frees the per-debate state of an ended debate: its event stream,
// and the room's stream and cached formats when the room ended too.
func (c *Coordinator) release(sessionID, roomID string, roomEnded bool) {
	if roomEnded {
		c.formats.Invalidate(roomID)
	}
	r, ok := c.events.(events.TopicRetirer)
	if !ok {
		return
	}
	r.Retire(events.DebateTopic(sessionID))
	if roomEnded {
		r.Retire(events.RoomTopic(roomID))
	}
}

// TerminateDebate stops a session that cannot continue, for example because
// a participant left for good. It reports false when the session was
// already over.
func (c *Coordinator) TerminateDebate(ctx context.Context, sessionID, reason string) (bool, error) {
	changed := false
	updated, err := c.repo.UpdateDebateSession(ctx, sessionID, func(s *store.DebateSession) error {
		if s.Terminal() {
			return nil
		}
		changed = true
		now := c.clock.Now()
		s.Status = store.DebateStatusTerminated
		s.FinishedAt = &now
		s.CurrentTurn = store.TurnFinished
		s.TurnDeadline = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, ErrSessionNotFound
		}
		return false, err
	}
	if !changed {
		return false, nil
	}
	roomEnded, err := c.repo.TransitionRoomStatus(ctx, updated.RoomID, store.RoomStatusDebating, store.RoomStatusTerminated)
	if err != nil {
		c.log.Warn().Err(err).Str("room_id", updated.RoomID).Msg("room terminate transition failed")
	}
	if c.events != nil {
		c.events.Publish(events.DebateTopic(sessionID), events.DebateTerminated, map[string]any{
			"session_id": sessionID,
			"reason":     reason,
		})
	}
	c.release(sessionID, updated.RoomID, roomEnded)
	c.log.Info().Str("session_id", sessionID).Str("reason", reason).Msg("debate terminated")
	return true, nil
}

// ActiveSession returns the running or pending session of a room.
func (c *Coordinator) ActiveSession(ctx context.Context, roomID string) (*store.DebateSession, error) {
	sess, err := c.repo.FindActiveDebateByRoom(ctx, roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (c *Coordinator) Session(ctx context.Context, sessionID string) (*store.DebateSession, error) {
	return c.getSession(ctx, sessionID)
}

func (c *Coordinator) handleTurnDeadline(ctx context.Context, raw json.RawMessage) error {
	var p TurnDeadlinePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode turn deadline: %w", err)
	}
	_, err := c.advance(ctx, p.SessionID, p.ExpectedTurn, "deadline")
	if errors.Is(err, ErrSessionNotFound) {
		observability.StaleCallbacks.WithLabelValues("deadline").Inc()
		return nil
	}
	return err
}

func (c *Coordinator) handleEvaluate(ctx context.Context, raw json.RawMessage) error {
	var p EvaluatePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode evaluate: %w", err)
	}
	if c.evaluator == nil {
		return nil
	}
	if err := c.evaluator.RequestEvaluation(ctx, p.SessionID); err != nil {
		return fmt.Errorf("request evaluation: %w", err)
	}
	return nil
}
