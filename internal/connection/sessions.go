package connection

import (
	"context"
	"sort"
	"time"

	"debate-arena/internal/store"
)

const (
	SessionConnected               = "connected"
	SessionTemporarilyDisconnected = "temporarily_disconnected"
	SessionDisconnected            = "disconnected"
	SessionInterrupted             = "interrupted"
)

// Session is one contiguous stretch of connectivity rebuilt from the log. An
// orphaned session has no known start.
type Session struct {
	ContextType     string        `json:"context_type"`
	ContextID       string        `json:"context_id"`
	Start           *time.Time    `json:"start,omitempty"`
	End             *time.Time    `json:"end,omitempty"`
	Status          string        `json:"status"`
	Duration        time.Duration `json:"-"`
	DurationSeconds float64       `json:"duration_seconds"`
	RecordIDs       []string      `json:"record_ids"`
	Orphaned        bool          `json:"orphaned,omitempty"`
}

func (s *Session) close(end *time.Time, status string) {
	s.End = end
	s.Status = status
	if s.Start != nil && s.End != nil && s.End.After(*s.Start) {
		s.Duration = s.End.Sub(*s.Start)
	}
	s.DurationSeconds = s.Duration.Seconds()
}

// UserConnectionSessions rebuilds the user's sessions per context from the
// records touched in the window, oldest first.
func (a *Analytics) UserConnectionSessions(ctx context.Context, userID string, window time.Duration) ([]Session, error) {
	rows, err := a.repo.ListConnectionRecords(ctx, store.ConnectionFilter{UserID: userID, Since: a.since(window)})
	if err != nil {
		return nil, err
	}
	byKey := map[store.ConnectionContext][]store.ConnectionRecord{}
	var keys []store.ConnectionContext
	for _, r := range rows {
		k := r.Context()
		if _, ok := byKey[k]; !ok {
			keys = append(keys, k)
		}
		byKey[k] = append(byKey[k], r)
	}
	out := []Session{}
	for _, k := range keys {
		out = append(out, ReconstructSessions(byKey[k])...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sessionTime(out[i]).Before(sessionTime(out[j]))
	})
	return out, nil
}

func sessionTime(s Session) time.Time {
	switch {
	case s.Start != nil:
		return *s.Start
	case s.End != nil:
		return *s.End
	default:
		return time.Time{}
	}
}

// ReconstructSessions pairs the records of one (user, context), in log order,
// into sessions. A connected row opens a session, a temporary disconnect
// closes it and a following finalized row marks that closed session as a
// definitive disconnect. A finalized row with nothing to close is orphaned.
func ReconstructSessions(rows []store.ConnectionRecord) []Session {
	var (
		out     []Session
		open    *Session
		pending = -1
	)
	flushOpen := func(end *time.Time, status string) {
		if open == nil {
			return
		}
		open.close(end, status)
		out = append(out, *open)
		open = nil
	}
	start := func(r store.ConnectionRecord, at *time.Time) {
		open = &Session{ContextType: r.ContextType, ContextID: r.ContextID, Start: at, RecordIDs: []string{r.ID}}
	}

	for _, r := range rows {
		switch r.Status {
		case store.StatusDisconnected:
			end := r.DisconnectedAt
			if end == nil {
				end = timePtr(r.CreatedAt)
			}
			switch {
			case open != nil:
				open.RecordIDs = append(open.RecordIDs, r.ID)
				flushOpen(end, SessionDisconnected)
			case pending >= 0:
				out[pending].Status = SessionDisconnected
				out[pending].RecordIDs = append(out[pending].RecordIDs, r.ID)
			default:
				orphan := Session{ContextType: r.ContextType, ContextID: r.ContextID, RecordIDs: []string{r.ID}, Orphaned: true}
				orphan.close(end, SessionDisconnected)
				out = append(out, orphan)
			}
			pending = -1
			continue
		}

		pending = -1
		if r.ConnectedAt != nil {
			flushOpen(r.ConnectedAt, SessionInterrupted)
			start(r, r.ConnectedAt)
		} else if open != nil {
			open.RecordIDs = append(open.RecordIDs, r.ID)
		} else {
			open = &Session{ContextType: r.ContextType, ContextID: r.ContextID, RecordIDs: []string{r.ID}, Orphaned: true}
		}

		if r.DisconnectedAt != nil {
			flushOpen(r.DisconnectedAt, SessionTemporarilyDisconnected)
			pending = len(out) - 1
			if reconnected(r) {
				start(r, r.ReconnectedAt)
				pending = -1
			}
		}
	}
	if open != nil {
		open.Status = SessionConnected
		out = append(out, *open)
	}
	return out
}

func timePtr(t time.Time) *time.Time { return &t }
