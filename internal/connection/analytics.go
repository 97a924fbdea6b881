package connection

import (
	"context"
	"sort"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/store"
)

type RecordLister interface {
	ListConnectionRecords(ctx context.Context, f store.ConnectionFilter) ([]store.ConnectionRecord, error)
}

// Analytics answers read-only questions over the connection log.
type Analytics struct {
	repo  RecordLister
	clock clock.Clock
}

func NewAnalytics(repo RecordLister, clk clock.Clock) *Analytics {
	if clk == nil {
		clk = clock.System{}
	}
	return &Analytics{repo: repo, clock: clk}
}

type IssueReport struct {
	UserID                  string  `json:"user_id"`
	WindowHours             float64 `json:"window_hours"`
	TotalDisconnections     int     `json:"total_disconnections"`
	SuccessfulReconnections int     `json:"successful_reconnections"`
	FailureRate             float64 `json:"failure_rate"`
}

// disconnectionEvent reports whether r records a temporary disconnection that
// started at or after since. Finalized rows repeat the disconnect time of the
// row they close and are not counted again.
func disconnectionEvent(r store.ConnectionRecord, since time.Time) bool {
	if r.Status == store.StatusDisconnected || r.DisconnectedAt == nil {
		return false
	}
	return since.IsZero() || !r.DisconnectedAt.Before(since)
}

func reconnected(r store.ConnectionRecord) bool {
	return r.ReconnectedAt != nil && r.DisconnectedAt != nil && !r.ReconnectedAt.Before(*r.DisconnectedAt)
}

func (a *Analytics) since(window time.Duration) time.Time {
	if window <= 0 {
		return time.Time{}
	}
	return a.clock.Now().Add(-window)
}

// AnalyzeConnectionIssues counts the user's temporary disconnections in the
// window and how many of them ended in a reconnection.
func (a *Analytics) AnalyzeConnectionIssues(ctx context.Context, userID string, window time.Duration) (IssueReport, error) {
	since := a.since(window)
	rows, err := a.repo.ListConnectionRecords(ctx, store.ConnectionFilter{UserID: userID, Since: since})
	if err != nil {
		return IssueReport{}, err
	}
	rep := IssueReport{UserID: userID, WindowHours: window.Hours()}
	for _, r := range rows {
		if !disconnectionEvent(r, since) {
			continue
		}
		rep.TotalDisconnections++
		if reconnected(r) {
			rep.SuccessfulReconnections++
		}
	}
	if rep.TotalDisconnections > 0 {
		rep.FailureRate = 1 - float64(rep.SuccessfulReconnections)/float64(rep.TotalDisconnections)
	}
	return rep, nil
}

type StatusCounts struct {
	Connected               int `json:"connected"`
	TemporarilyDisconnected int `json:"temporarily_disconnected"`
}

type RealtimeStats struct {
	Total     StatusCounts            `json:"total"`
	ByContext map[string]StatusCounts `json:"by_context"`
}

// RealtimeConnectionStats counts current statuses from the latest record of
// every (user, context).
func (a *Analytics) RealtimeConnectionStats(ctx context.Context) (RealtimeStats, error) {
	rows, err := a.repo.ListConnectionRecords(ctx, store.ConnectionFilter{LatestOnly: true})
	if err != nil {
		return RealtimeStats{}, err
	}
	stats := RealtimeStats{ByContext: map[string]StatusCounts{}}
	for _, r := range rows {
		counts := stats.ByContext[r.ContextType]
		switch r.Status {
		case store.StatusConnected:
			counts.Connected++
			stats.Total.Connected++
		case store.StatusTemporarilyDisconnected:
			counts.TemporarilyDisconnected++
			stats.Total.TemporarilyDisconnected++
		default:
			continue
		}
		stats.ByContext[r.ContextType] = counts
	}
	return stats, nil
}

type FrequentUser struct {
	UserID      string    `json:"user_id"`
	Occurrences int       `json:"occurrences"`
	LastFlagged time.Time `json:"last_flagged"`
}

// FrequentDisconnectionUsers lists users with records flagged as frequent
// disconnectors in the window, most flagged first.
func (a *Analytics) FrequentDisconnectionUsers(ctx context.Context, window time.Duration) ([]FrequentUser, error) {
	rows, err := a.repo.ListConnectionRecords(ctx, store.ConnectionFilter{Since: a.since(window)})
	if err != nil {
		return nil, err
	}
	byUser := map[string]*FrequentUser{}
	for _, r := range rows {
		if r.Status == store.StatusDisconnected || !r.Metadata.Bool(store.MetaFrequentDisconnections) {
			continue
		}
		u, ok := byUser[r.UserID]
		if !ok {
			u = &FrequentUser{UserID: r.UserID}
			byUser[r.UserID] = u
		}
		u.Occurrences++
		if r.UpdatedAt.After(u.LastFlagged) {
			u.LastFlagged = r.UpdatedAt
		}
	}
	out := make([]FrequentUser, 0, len(byUser))
	for _, u := range byUser {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Occurrences == out[k].Occurrences {
			return out[i].UserID < out[k].UserID
		}
		return out[i].Occurrences > out[k].Occurrences
	})
	return out, nil
}

type TrendReport struct {
	WindowHours float64        `json:"window_hours"`
	Total       int            `json:"total"`
	ByHour      [24]int        `json:"by_hour"`
	ByClient    map[string]int `json:"by_client"`
	ByType      map[string]int `json:"by_type"`
}

// DisconnectionTrends buckets the window's temporary disconnections by UTC
// hour of day, client family and disconnect type.
func (a *Analytics) DisconnectionTrends(ctx context.Context, window time.Duration) (TrendReport, error) {
	since := a.since(window)
	rows, err := a.repo.ListConnectionRecords(ctx, store.ConnectionFilter{Since: since})
	if err != nil {
		return TrendReport{}, err
	}
	rep := TrendReport{WindowHours: window.Hours(), ByClient: map[string]int{}, ByType: map[string]int{}}
	for _, r := range rows {
		if !disconnectionEvent(r, since) {
			continue
		}
		rep.Total++
		rep.ByHour[r.DisconnectedAt.UTC().Hour()]++
		rep.ByClient[ClientFamily(r.Metadata.String(store.MetaClientInfo))]++
		kind := r.Metadata.String(store.MetaDisconnectType)
		if kind == "" {
			kind = "unknown"
		}
		rep.ByType[kind]++
	}
	return rep, nil
}
