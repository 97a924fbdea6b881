package debate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/events"
	"debate-arena/internal/scheduler"
	"debate-arena/internal/store"

	"github.com/rs/zerolog"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []int
}

func (d *recordingDispatcher) Dispatch(_ string, turn int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, turn)
}

func (d *recordingDispatcher) turns() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.calls...)
}

type recordingEvaluator struct {
	mu       sync.Mutex
	sessions []string
	err      error
}

func (e *recordingEvaluator) RequestEvaluation(_ context.Context, sessionID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, sessionID)
	return e.err
}

type harness struct {
	ctx        context.Context
	store      *store.MemoryStore
	clock      *clock.Fake
	sched      *scheduler.Scheduler
	hub        *events.Hub
	dispatcher *recordingDispatcher
	evaluator  *recordingEvaluator
	coord      *Coordinator
	creatorID  string
}

var testStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	clk := clock.NewFake(testStart)
	st := store.NewMemoryStore(clk)
	sched := scheduler.New(st, clk, scheduler.Options{}, zerolog.Nop())
	h := &harness{
		ctx:        context.Background(),
		store:      st,
		clock:      clk,
		sched:      sched,
		hub:        events.NewHub(50, clk),
		dispatcher: &recordingDispatcher{},
		evaluator:  &recordingEvaluator{},
	}
	h.coord = NewCoordinator(Deps{
		Repo:       st,
		Scheduler:  sched,
		Clock:      clk,
		Events:     h.hub,
		Dispatcher: h.dispatcher,
		Evaluator:  h.evaluator,
	}, opts, zerolog.Nop())
	h.coord.RegisterJobs(sched)
	id, err := st.CreateUser(h.ctx, "creator")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	h.creatorID = id
	return h
}

func threeTurnFormat() store.FormatSpec {
	return store.FormatSpec{Turns: []store.TurnConfig{
		{Speaker: "affirmative", DurationSec: 60},
		{Speaker: "negative", DurationSec: 90},
		{Speaker: "affirmative", DurationSec: 30},
	}}
}

func (h *harness) session(t *testing.T, format store.FormatSpec, negative store.Participant) *store.DebateSession {
	t.Helper()
	roomID, err := h.store.CreateRoom(h.ctx, store.Room{Name: "r", CreatorID: h.creatorID, Status: store.RoomStatusReady, Format: format, Locale: "en"})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	sess, err := h.coord.CreateSession(h.ctx, roomID, store.Participant{UserID: h.creatorID}, negative)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return sess
}

func (h *harness) roomStatus(t *testing.T, roomID string) string {
	t.Helper()
	room, err := h.store.GetRoom(h.ctx, roomID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	return room.Status
}

func TestStartDebateSetsFirstTurnAndDeadline(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})

	started, err := h.coord.StartDebate(h.ctx, sess.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	want := time.Date(2024, 1, 1, 0, 1, 8, 0, time.UTC)
	if started.CurrentTurn != 1 || started.TurnDeadline == nil || !started.TurnDeadline.Equal(want) {
		t.Fatalf("unexpected start state: turn=%d deadline=%v", started.CurrentTurn, started.TurnDeadline)
	}
	jobs := h.store.Jobs()
	if len(jobs) != 1 || jobs[0].Kind != JobTurnDeadline || !jobs[0].FireAt.Equal(want) {
		t.Fatalf("expected one deadline job at %v, got %+v", want, jobs)
	}
	replay := h.hub.ReplayAfter(events.DebateTopic(sess.ID), "")
	if len(replay) != 1 || replay[0].Event != events.TurnAdvanced {
		t.Fatalf("expected turn_advanced event, got %+v", replay)
	}
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start should fail with ErrAlreadyStarted, got %v", err)
	}
}

func TestStartDebateRejectsEmptyFormat(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, store.FormatSpec{Template: store.FormatFree}, store.Participant{UserID: "human-2"})

	if _, err := h.coord.StartDebate(h.ctx, sess.ID); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	got, _ := h.store.GetDebateSession(h.ctx, sess.ID)
	if got.CurrentTurn != 0 || got.TurnDeadline != nil || got.Status != store.DebateStatusPending {
		t.Fatalf("failed start must not touch the session: %+v", got)
	}
	if len(h.store.Jobs()) != 0 {
		t.Fatal("failed start must not arm a deadline")
	}
}

func TestAdvanceTurnIsIdempotentPerExpectedTurn(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	h.clock.Advance(10 * time.Second)
	ok, err := h.coord.AdvanceTurn(h.ctx, sess.ID, 1)
	if err != nil || !ok {
		t.Fatalf("first advance = %v, %v", ok, err)
	}
	ok, err = h.coord.AdvanceTurn(h.ctx, sess.ID, 1)
	if err != nil || ok {
		t.Fatalf("second advance should be a stale no-op, got %v, %v", ok, err)
	}
	got, _ := h.store.GetDebateSession(h.ctx, sess.ID)
	want := testStart.Add(10*time.Second + 90*time.Second + 8*time.Second)
	if got.CurrentTurn != 2 || !got.TurnDeadline.Equal(want) {
		t.Fatalf("unexpected state after advance: turn=%d deadline=%v", got.CurrentTurn, got.TurnDeadline)
	}
}

func TestDeadlineJobAdvancesAndStaleJobNoOps(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Manual completion beats the turn 1 deadline.
	if ok, _ := h.coord.AdvanceTurn(h.ctx, sess.ID, 1); !ok {
		t.Fatal("manual advance failed")
	}
	h.clock.Advance(68 * time.Second)
	if _, err := h.sched.RunDue(h.ctx); err != nil {
		t.Fatalf("run due: %v", err)
	}
	got, _ := h.store.GetDebateSession(h.ctx, sess.ID)
	if got.CurrentTurn != 2 {
		t.Fatalf("stale turn 1 deadline must not advance turn 2, got turn %d", got.CurrentTurn)
	}

	// Turn 2 deadline was armed at T0 with 90s+8s.
	h.clock.Set(testStart.Add(98 * time.Second))
	if _, err := h.sched.RunDue(h.ctx); err != nil {
		t.Fatalf("run due: %v", err)
	}
	got, _ = h.store.GetDebateSession(h.ctx, sess.ID)
	if got.CurrentTurn != 3 {
		t.Fatalf("deadline should advance to turn 3, got %d", got.CurrentTurn)
	}
}

func TestLastTurnFinishesDebate(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	for turn := 1; turn <= 3; turn++ {
		if ok, err := h.coord.AdvanceTurn(h.ctx, sess.ID, turn); err != nil || !ok {
			t.Fatalf("advance %d = %v, %v", turn, ok, err)
		}
	}
	got, _ := h.store.GetDebateSession(h.ctx, sess.ID)
	if got.Status != store.DebateStatusFinished || got.CurrentTurn != store.TurnFinished || got.TurnDeadline != nil {
		t.Fatalf("unexpected finished state: %+v", got)
	}
	if status := h.roomStatus(t, sess.RoomID); status != store.RoomStatusFinished {
		t.Fatalf("room should be finished, got %s", status)
	}
	if ok, _ := h.coord.AdvanceTurn(h.ctx, sess.ID, 3); ok {
		t.Fatal("advancing a finished debate must be a no-op")
	}

	if _, err := h.sched.RunDue(h.ctx); err != nil {
		t.Fatalf("run due: %v", err)
	}
	if len(h.evaluator.sessions) != 1 || h.evaluator.sessions[0] != sess.ID {
		t.Fatalf("expected one evaluation request, got %v", h.evaluator.sessions)
	}
}

func TestAIDispatchOnlyForAITurns(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{AI: true})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(h.dispatcher.turns()) != 0 {
		t.Fatalf("turn 1 is human, expected no dispatch, got %v", h.dispatcher.turns())
	}
	_, _ = h.coord.AdvanceTurn(h.ctx, sess.ID, 1)
	_, _ = h.coord.AdvanceTurn(h.ctx, sess.ID, 1)
	if got := h.dispatcher.turns(); len(got) != 1 || got[0] != 2 {
		t.Fatalf("expected exactly one dispatch for turn 2, got %v", got)
	}
	_, _ = h.coord.AdvanceTurn(h.ctx, sess.ID, 2)
	if got := h.dispatcher.turns(); len(got) != 1 {
		t.Fatalf("turn 3 is human, expected no new dispatch, got %v", got)
	}
}

func TestFinishDebateRepeatedStillPublishes(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	first, err := h.coord.FinishDebate(h.ctx, sess.ID)
	if err != nil || !first.Fresh || !first.RoomTransitioned {
		t.Fatalf("first finish = %+v, %v", first, err)
	}
	second, err := h.coord.FinishDebate(h.ctx, sess.ID)
	if err != nil || second.Fresh || second.RoomTransitioned {
		t.Fatalf("second finish = %+v, %v", second, err)
	}
	if status := h.roomStatus(t, sess.RoomID); status != store.RoomStatusFinished {
		t.Fatalf("room status changed on repeat: %s", status)
	}
	got, _ := h.store.GetDebateSession(h.ctx, sess.ID)
	if got.TurnDeadline != nil {
		t.Fatal("deadline should stay cleared")
	}

	finished := 0
	for _, ev := range h.hub.ReplayAfter(events.DebateTopic(sess.ID), "") {
		if ev.Event == events.DebateFinished {
			finished++
		}
	}
	if finished != 2 {
		t.Fatalf("expected DebateFinished on both calls, got %d", finished)
	}
	_, _ = h.sched.RunDue(h.ctx)
	if len(h.evaluator.sessions) != 2 {
		t.Fatalf("expected evaluation on both calls, got %d", len(h.evaluator.sessions))
	}
}

func TestEndedDebateReleasesItsTopics(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.hub.Publish(events.RoomTopic(sess.RoomID), events.ParticipantConnected, nil)
	res, err := h.coord.FinishDebate(h.ctx, sess.ID)
	if err != nil || !res.RoomTransitioned {
		t.Fatalf("finish = %+v, %v", res, err)
	}
	if replay := h.hub.ReplayAfter(events.DebateTopic(sess.ID), ""); len(replay) == 0 {
		t.Fatal("final events should stay replayable right after finish")
	}
	for k := range h.coord.formats.entries {
		if k.roomID == sess.RoomID {
			t.Fatalf("cached formats of the finished room should be dropped: %+v", k)
		}
	}

	h.clock.Advance(2 * events.DefaultRetireLinger)
	h.hub.Publish(events.DebateTopic("another"), events.TurnAdvanced, nil)
	if replay := h.hub.ReplayAfter(events.DebateTopic(sess.ID), ""); len(replay) != 0 {
		t.Fatalf("debate topic should be released, got %d events", len(replay))
	}
	if replay := h.hub.ReplayAfter(events.RoomTopic(sess.RoomID), ""); len(replay) != 0 {
		t.Fatalf("finished room topic should be released, got %d events", len(replay))
	}
}

func TestFinishDebateSuppressesRepeatedEvaluation(t *testing.T) {
	h := newHarness(t, Options{SuppressRepeatedEvaluation: true})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	_, _ = h.coord.FinishDebate(h.ctx, sess.ID)
	_, _ = h.coord.FinishDebate(h.ctx, sess.ID)
	_, _ = h.sched.RunDue(h.ctx)
	if len(h.evaluator.sessions) != 1 {
		t.Fatalf("expected a single evaluation, got %d", len(h.evaluator.sessions))
	}
}

func TestFinishDebateSkipsRoomOutsideDebating(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if err := h.store.SoftDeleteRoom(h.ctx, sess.RoomID, testStart); err != nil {
		t.Fatalf("soft delete: %v", err)
	}
	res, err := h.coord.FinishDebate(h.ctx, sess.ID)
	if err != nil {
		t.Fatalf("finish with deleted room should not fail: %v", err)
	}
	if !res.Fresh || res.RoomTransitioned {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestEvaluationFailureRetries(t *testing.T) {
	h := newHarness(t, Options{})
	h.evaluator.err = errors.New("evaluator down")
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.FinishDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	_, _ = h.sched.RunDue(h.ctx)
	jobs := h.store.Jobs()
	if len(jobs) != 1 || jobs[0].Status != store.JobStatusPending || jobs[0].Attempts != 1 {
		t.Fatalf("expected evaluation to be rescheduled, got %+v", jobs)
	}
}

func TestTerminateDebate(t *testing.T) {
	h := newHarness(t, Options{})
	sess := h.session(t, threeTurnFormat(), store.Participant{UserID: "human-2"})
	if _, err := h.coord.StartDebate(h.ctx, sess.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	ok, err := h.coord.TerminateDebate(h.ctx, sess.ID, "participant_left")
	if err != nil || !ok {
		t.Fatalf("terminate = %v, %v", ok, err)
	}
	if ok, _ := h.coord.TerminateDebate(h.ctx, sess.ID, "participant_left"); ok {
		t.Fatal("second terminate should report false")
	}
	got, _ := h.store.GetDebateSession(h.ctx, sess.ID)
	if got.Status != store.DebateStatusTerminated || got.TurnDeadline != nil {
		t.Fatalf("unexpected terminated state: %+v", got)
	}
	if status := h.roomStatus(t, sess.RoomID); status != store.RoomStatusTerminated {
		t.Fatalf("room should be terminated, got %s", status)
	}
	if ok, _ := h.coord.AdvanceTurn(h.ctx, sess.ID, 1); ok {
		t.Fatal("terminated debate must not advance")
	}
}

func TestCreateSessionValidation(t *testing.T) {
	h := newHarness(t, Options{})
	roomID, _ := h.store.CreateRoom(h.ctx, store.Room{Name: "r", CreatorID: h.creatorID, Status: store.RoomStatusWaiting, Format: threeTurnFormat()})

	if _, err := h.coord.CreateSession(h.ctx, roomID, store.Participant{AI: true}, store.Participant{AI: true}); !errors.Is(err, ErrInvalidParticipants) {
		t.Fatalf("two AI sides should be rejected, got %v", err)
	}
	if _, err := h.coord.CreateSession(h.ctx, roomID, store.Participant{UserID: "a"}, store.Participant{UserID: "b"}); !errors.Is(err, ErrRoomNotReady) {
		t.Fatalf("waiting room should be rejected, got %v", err)
	}
	if _, err := h.coord.CreateSession(h.ctx, "missing", store.Participant{UserID: "a"}, store.Participant{UserID: "b"}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room should be rejected, got %v", err)
	}
}
