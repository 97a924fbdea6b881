package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/config"
	"debate-arena/internal/connection"
	"debate-arena/internal/debate"
	"debate-arena/internal/events"
	"debate-arena/internal/scheduler"
	"debate-arena/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type apiFixture struct {
	ctx     context.Context
	store   *store.MemoryStore
	clock   *clock.Fake
	hub     *events.Hub
	tracker *connection.Tracker
	router  *chi.Mux
	alice   string
	bob     string
	roomID  string
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	st := store.NewMemoryStore(clk)
	hub := events.NewHub(64, clk)
	sched := scheduler.New(st, clk, scheduler.Options{}, zerolog.Nop())
	coord := debate.NewCoordinator(debate.Deps{Repo: st, Scheduler: sched, Clock: clk, Events: hub}, debate.Options{}, zerolog.Nop())
	coord.RegisterJobs(sched)
	tracker := connection.NewTracker(connection.TrackerDeps{
		Repo: st, Scheduler: sched, Clock: clk, Events: hub, Grace: connection.DefaultGracePolicy(),
	}, zerolog.Nop())
	tracker.RegisterJobs(sched)

	alice, _ := st.CreateUser(ctx, "alice")
	bob, _ := st.CreateUser(ctx, "bob")
	roomID, err := st.CreateRoom(ctx, store.Room{
		Name: "motion", CreatorID: alice, Status: store.RoomStatusReady,
		Format: store.FormatSpec{Template: debate.TemplateQuick},
	})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	router := NewRouter(Deps{
		Store:       st,
		Debates:     coord,
		Connections: tracker,
		Analytics:   tracker.Analytics(),
		Events:      hub,
		Config:      config.ServerConfig{AllowAnyOrigin: true},
		Logger:      zerolog.Nop(),
	})
	return &apiFixture{ctx: ctx, store: st, clock: clk, hub: hub, tracker: tracker, router: router, alice: alice, bob: bob, roomID: roomID}
}

func (f *apiFixture) do(t *testing.T, method, path, user string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	if user != "" {
		req.Header.Set(userHeader, user)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	rec, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("healthz = %d %v", rec.Code, body)
	}
}

func TestAPIRequiresUser(t *testing.T) {
	f := newAPIFixture(t)
	rec, body := f.do(t, http.MethodGet, "/api/analytics/realtime", "", nil)
	if rec.Code != http.StatusUnauthorized || body["error"] != "missing_user" {
		t.Fatalf("got %d %v", rec.Code, body)
	}
}

func TestDebateLifecycleOverHTTP(t *testing.T) {
	f := newAPIFixture(t)

	rec, body := f.do(t, http.MethodPost, "/api/rooms/"+f.roomID+"/debates", f.alice, map[string]any{
		"affirmative": map[string]any{"user_id": f.alice},
		"negative":    map[string]any{"user_id": f.bob},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %v", rec.Code, body)
	}
	sessionID, _ := body["id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session id: %v", body)
	}

	rec, body = f.do(t, http.MethodPost, "/api/debates/"+sessionID+"/start", f.alice, nil)
	if rec.Code != http.StatusOK || body["current_turn"] != float64(1) {
		t.Fatalf("start = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, "/api/debates/"+sessionID+"/start", f.alice, nil)
	if rec.Code != http.StatusConflict || body["error"] != "debate_already_started" {
		t.Fatalf("second start = %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodPost, "/api/debates/"+sessionID+"/turns/1/complete", f.alice, nil)
	if rec.Code != http.StatusOK || body["advanced"] != true {
		t.Fatalf("complete turn 1 = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, "/api/debates/"+sessionID+"/turns/1/complete", f.alice, nil)
	if rec.Code != http.StatusOK || body["advanced"] != false {
		t.Fatalf("stale complete = %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodGet, "/api/debates/"+sessionID+"/format", f.alice, nil)
	turns, _ := body["turns"].([]any)
	if rec.Code != http.StatusOK || len(turns) != 4 {
		t.Fatalf("format = %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodPost, "/api/debates/"+sessionID+"/finish", f.alice, nil)
	if rec.Code != http.StatusOK || body["fresh"] != true || body["room_transitioned"] != true {
		t.Fatalf("finish = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, "/api/debates/"+sessionID+"/finish", f.alice, nil)
	if rec.Code != http.StatusOK || body["fresh"] != false {
		t.Fatalf("repeat finish = %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodGet, "/api/debates/"+sessionID, f.alice, nil)
	if rec.Code != http.StatusOK || body["status"] != store.DebateStatusFinished {
		t.Fatalf("get = %d %v", rec.Code, body)
	}
}

func TestDebateErrorsOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	rec, body := f.do(t, http.MethodGet, "/api/debates/missing", f.alice, nil)
	if rec.Code != http.StatusNotFound || body["error"] != "session_not_found" {
		t.Fatalf("missing session = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, "/api/debates/missing/turns/zero/complete", f.alice, nil)
	if rec.Code != http.StatusBadRequest || body["error"] != "invalid_turn" {
		t.Fatalf("bad turn = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, "/api/rooms/"+f.roomID+"/debates", f.alice, map[string]any{
		"affirmative": map[string]any{"user_id": f.alice},
		"negative":    map[string]any{"user_id": f.alice},
	})
	if rec.Code != http.StatusBadRequest || body["error"] != "invalid_participants" {
		t.Fatalf("same user both sides = %d %v", rec.Code, body)
	}
}

func TestConnectionEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	base := "/api/connections/room/" + f.roomID

	rec, body := f.do(t, http.MethodPost, base+"/connect", f.bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("connect = %d %v", rec.Code, body)
	}
	record, _ := body["record"].(map[string]any)
	if record["status"] != string(store.StatusConnected) {
		t.Fatalf("connect record = %v", record)
	}

	rec, body = f.do(t, http.MethodPost, base+"/disconnect", f.bob, nil)
	if rec.Code != http.StatusOK || body["changed"] != true {
		t.Fatalf("disconnect = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, base+"/disconnect", f.bob, nil)
	if rec.Code != http.StatusOK || body["changed"] != false {
		t.Fatalf("repeat disconnect = %d %v", rec.Code, body)
	}

	f.clock.Advance(5 * time.Second)
	rec, body = f.do(t, http.MethodPost, base+"/reconnect", f.bob, nil)
	if rec.Code != http.StatusOK || body["reconnected"] != true {
		t.Fatalf("reconnect = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, base+"/heartbeat", f.bob, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat = %d %v", rec.Code, body)
	}

	rec, body = f.do(t, http.MethodGet, "/api/analytics/users/"+f.bob+"/issues", f.alice, nil)
	if rec.Code != http.StatusOK || body["total_disconnections"] != float64(1) || body["successful_reconnections"] != float64(1) {
		t.Fatalf("issues = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodGet, "/api/analytics/realtime", f.alice, nil)
	total, _ := body["total"].(map[string]any)
	if rec.Code != http.StatusOK || total["connected"] != float64(1) {
		t.Fatalf("realtime = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodGet, "/api/analytics/users/"+f.bob+"/sessions?window_hours=1", f.alice, nil)
	sessions, _ := body["sessions"].([]any)
	if rec.Code != http.StatusOK || len(sessions) == 0 || body["window_hours"] != float64(1) {
		t.Fatalf("sessions = %d %v", rec.Code, body)
	}
	for _, path := range []string{"/api/analytics/trends", "/api/analytics/frequent"} {
		if rec, body := f.do(t, http.MethodGet, path, f.alice, nil); rec.Code != http.StatusOK {
			t.Fatalf("%s = %d %v", path, rec.Code, body)
		}
	}
}

func TestConnectionEndpointsRejectBadInput(t *testing.T) {
	f := newAPIFixture(t)
	rec, body := f.do(t, http.MethodPost, "/api/connections/lobby/"+f.roomID+"/connect", f.bob, nil)
	if rec.Code != http.StatusBadRequest || body["error"] != "invalid_context" {
		t.Fatalf("bad context = %d %v", rec.Code, body)
	}
	rec, body = f.do(t, http.MethodPost, "/api/connections/room/"+f.roomID+"/connect", "ghost", nil)
	if rec.Code != http.StatusNotFound || body["error"] != "user_not_found" {
		t.Fatalf("unknown user = %d %v", rec.Code, body)
	}
}

func TestParseWindow(t *testing.T) {
	tests := []struct {
		query string
		want  time.Duration
	}{
		{"", 24 * time.Hour},
		{"window_hours=6", 6 * time.Hour},
		{"window_hours=0", time.Hour},
		{"window_hours=-3", time.Hour},
		{"window_hours=100000", 720 * time.Hour},
		{"window_hours=abc", 24 * time.Hour},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := ParseWindow(req); got != tt.want {
			t.Fatalf("ParseWindow(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}
