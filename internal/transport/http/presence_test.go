package httptransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"debate-arena/internal/store"

	"github.com/gorilla/websocket"
)

func dialPresence(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

// readUntil returns the first message of the given type.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) presenceOut {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg presenceOut
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		if msg.Type == typ {
			return msg
		}
	}
}

func latestStatus(t *testing.T, f *apiFixture, userID string) store.ConnectionStatus {
	t.Helper()
	rows, err := f.store.ListConnectionRecords(f.ctx, store.ConnectionFilter{UserID: userID, LatestOnly: true})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(rows) == 0 {
		return ""
	}
	return rows[0].Status
}

func TestPresenceSocketLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()
	query := "user_id=" + f.bob + "&context_type=room&context_id=" + f.roomID

	conn := dialPresence(t, srv, query)
	welcome := readUntil(t, conn, "welcome")
	if welcome.Status != "connected" || welcome.Context != "room:"+f.roomID {
		t.Fatalf("welcome = %+v", welcome)
	}
	rows, err := f.store.ListConnectionRecords(f.ctx, store.ConnectionFilter{UserID: f.bob})
	if err != nil || len(rows) != 1 || rows[0].Metadata.String(store.MetaConnectionType) != "initial" {
		t.Fatalf("first open should record an initial connection: %+v, %v", rows, err)
	}
	ev := readUntil(t, conn, "event")
	if ev.Event == nil || ev.Event.Event != "participant_connected" {
		t.Fatalf("first event = %+v", ev.Event)
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	readUntil(t, conn, "pong")
	_ = conn.Close()

	deadline := time.Now().Add(3 * time.Second)
	for latestStatus(t, f, f.bob) != store.StatusTemporarilyDisconnected {
		if time.Now().After(deadline) {
			t.Fatalf("socket close did not start a grace period, status=%s", latestStatus(t, f, f.bob))
		}
		time.Sleep(10 * time.Millisecond)
	}

	conn = dialPresence(t, srv, query)
	defer conn.Close()
	if welcome := readUntil(t, conn, "welcome"); welcome.Status != "reconnected" {
		t.Fatalf("second welcome = %+v", welcome)
	}
}

func TestPresenceSocketRejectsBadRequests(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/ws?user_id=" + f.bob + "&context_type=lobby&context_id=x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	conn := dialPresence(t, srv, "user_id=ghost&context_type=room&context_id="+f.roomID)
	defer conn.Close()
	if msg := readUntil(t, conn, "error"); msg.Error != "user_not_found" {
		t.Fatalf("error = %+v", msg)
	}
}
