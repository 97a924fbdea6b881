package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/events"
	"debate-arena/internal/observability"
	"debate-arena/internal/scheduler"
	"debate-arena/internal/store"

	"github.com/rs/zerolog"
)

const JobFinalize = "connection.finalize"

const (
	connectionTypeInitial      = "initial"
	connectionTypeReconnection = "reconnection"
	disconnectUnintentional    = "unintentional"
)

// FinalizePayload identifies the disconnection a grace timer belongs to.
// RecordID pins the timer to the row that was temporarily disconnected when it
// was armed.
type FinalizePayload struct {
	UserID      string `json:"user_id"`
	ContextType string `json:"context_type"`
	ContextID   string `json:"context_id"`
	RecordID    string `json:"record_id,omitempty"`
}

type Repository interface {
	RecordLister
	UserExists(ctx context.Context, id string) (bool, error)
	WithConnectionTx(ctx context.Context, fn func(tx store.ConnectionTx) error) error
}

type JobScheduler interface {
	Schedule(ctx context.Context, kind string, fireAt time.Time, payload any) error
}

type JobRegistry interface {
	Handle(kind string, h scheduler.Handler)
}

// FinalizeListener is told once per disconnection that outlived its grace
// period, after the DISCONNECTED record is committed.
type FinalizeListener interface {
	OnFinalized(ctx context.Context, userID string, c store.ConnectionContext) error
}

// Tracker owns the connection state machine of every (user, context):
// absent -> connected <-> temporarily_disconnected -> disconnected. Each call
// runs in one transaction that serialises writers of the same key.
type Tracker struct {
	repo      Repository
	sched     JobScheduler
	clock     clock.Clock
	events    events.Publisher
	analytics *Analytics
	grace     GracePolicy
	listeners []FinalizeListener
	log       zerolog.Logger
}

type TrackerDeps struct {
	Repo      Repository
	Scheduler JobScheduler
	Clock     clock.Clock
	Events    events.Publisher
	Grace     GracePolicy
}

func NewTracker(deps TrackerDeps, logger zerolog.Logger) *Tracker {
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	return &Tracker{
		repo:      deps.Repo,
		sched:     deps.Scheduler,
		clock:     deps.Clock,
		events:    deps.Events,
		analytics: NewAnalytics(deps.Repo, deps.Clock),
		grace:     deps.Grace,
		log:       logger.With().Str("component", "connection_tracker").Logger(),
	}
}

func (t *Tracker) AddFinalizeListener(l FinalizeListener) {
	t.listeners = append(t.listeners, l)
}

func (t *Tracker) Analytics() *Analytics { return t.analytics }

func (t *Tracker) RegisterJobs(r JobRegistry) {
	r.Handle(JobFinalize, t.handleFinalize)
}

// knownUser reports whether userID exists. Soft-deleted users still count.
func (t *Tracker) knownUser(ctx context.Context, userID string, c store.ConnectionContext, op string) (bool, error) {
	ok, err := t.repo.UserExists(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		t.log.Warn().Str("user_id", userID).Str("context", c.String()).Str("op", op).Msg("connection event for unknown user")
	}
	return ok, nil
}

func latest(ctx context.Context, tx store.ConnectionTx, userID string, c store.ConnectionContext) (*store.ConnectionRecord, error) {
	rec, err := tx.LatestConnection(ctx, userID, c)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func clientMetadata(m store.Metadata, info ClientInfo) {
	if info.UserAgent != "" {
		m[store.MetaClientInfo] = info.UserAgent
	}
	if info.IPAddress != "" {
		m[store.MetaIPAddress] = info.IPAddress
	}
}

func (t *Tracker) insertConnected(ctx context.Context, tx store.ConnectionTx, userID string, c store.ConnectionContext, info ClientInfo, kind string, now time.Time) (*store.ConnectionRecord, error) {
	rec := &store.ConnectionRecord{
		UserID:      userID,
		ContextType: c.Type,
		ContextID:   c.ID,
		Status:      store.StatusConnected,
		ConnectedAt: &now,
		Metadata:    store.Metadata{store.MetaConnectionType: kind},
	}
	clientMetadata(rec.Metadata, info)
	if err := tx.InsertConnection(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// reconnect brings a temporarily disconnected row back in place and records
// how long the outage lasted.
func (t *Tracker) reconnect(ctx context.Context, tx store.ConnectionTx, rec *store.ConnectionRecord, info ClientInfo, now time.Time) error {
	outage := 0.0
	if rec.DisconnectedAt != nil {
		outage = now.Sub(*rec.DisconnectedAt).Seconds()
	}
	rec.Status = store.StatusConnected
	rec.ReconnectedAt = &now
	if rec.Metadata == nil {
		rec.Metadata = store.Metadata{}
	}
	reconn := map[string]any{
		store.MetaOutageSeconds: outage,
		"reconnected_at":        now.UTC().Format(time.RFC3339Nano),
	}
	if info.UserAgent != "" {
		reconn[store.MetaClientInfo] = info.UserAgent
	}
	if info.IPAddress != "" {
		reconn[store.MetaIPAddress] = info.IPAddress
	}
	rec.Metadata[store.MetaReconnection] = reconn
	return tx.UpdateConnection(ctx, rec)
}

func (t *Tracker) transitioned(rec *store.ConnectionRecord, event string, data map[string]any) {
	observability.ConnectionTransitions.WithLabelValues(string(rec.Status), rec.ContextType).Inc()
	if t.events == nil {
		return
	}
	if data == nil {
		data = map[string]any{}
	}
	data["user_id"] = rec.UserID
	data["context_type"] = rec.ContextType
	data["context_id"] = rec.ContextID
	t.events.Publish(events.Topic(rec.ContextType, rec.ContextID), event, data)
}

// RecordInitialConnection opens a connection for the user in c. A user who is
// already connected gets the existing record back; an unknown user gets nil.
func (t *Tracker) RecordInitialConnection(ctx context.Context, userID string, c store.ConnectionContext, info ClientInfo) (*store.ConnectionRecord, error) {
	if ok, err := t.knownUser(ctx, userID, c, "connect"); !ok || err != nil {
		return nil, err
	}
	var (
		out     *store.ConnectionRecord
		created bool
	)
	err := t.repo.WithConnectionTx(ctx, func(tx store.ConnectionTx) error {
		cur, err := latest(ctx, tx, userID, c)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == store.StatusConnected {
			out = cur
			return nil
		}
		out, err = t.insertConnected(ctx, tx, userID, c, info, connectionTypeInitial, t.clock.Now())
		created = err == nil
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("record connection: %w", err)
	}
	if created {
		t.transitioned(out, events.ParticipantConnected, nil)
	}
	return out, nil
}

// HandleDisconnection marks the user as temporarily disconnected and arms the
// finalize timer. A connected row is updated in place; without a live row a
// new one is appended. It returns nil when the user is unknown or already
// inside a grace period.
func (t *Tracker) HandleDisconnection(ctx context.Context, userID string, c store.ConnectionContext) (*store.ConnectionRecord, error) {
	if ok, err := t.knownUser(ctx, userID, c, "disconnect"); !ok || err != nil {
		return nil, err
	}
	report, err := t.analytics.AnalyzeConnectionIssues(ctx, userID, t.grace.Window)
	if err != nil {
		return nil, fmt.Errorf("analyze connection issues: %w", err)
	}
	decision := t.grace.Decide(c.Type, report)

	var out *store.ConnectionRecord
	err = t.repo.WithConnectionTx(ctx, func(tx store.ConnectionTx) error {
		cur, err := latest(ctx, tx, userID, c)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == store.StatusTemporarilyDisconnected {
			return nil
		}
		now := t.clock.Now()
		rec := cur
		if cur == nil || cur.Status != store.StatusConnected || cur.DisconnectedAt != nil {
			// No live row, or the row already holds a reconnected outage: the
			// new outage gets its own row.
			rec = &store.ConnectionRecord{UserID: userID, ContextType: c.Type, ContextID: c.ID, Metadata: store.Metadata{}}
			if cur != nil {
				for _, k := range []string{store.MetaClientInfo, store.MetaIPAddress} {
					if v := cur.Metadata.String(k); v != "" {
						rec.Metadata[k] = v
					}
				}
			}
		}
		rec.Status = store.StatusTemporarilyDisconnected
		rec.DisconnectedAt = &now
		if rec.Metadata == nil {
			rec.Metadata = store.Metadata{}
		}
		rec.Metadata[store.MetaDisconnectType] = disconnectUnintentional
		rec.Metadata[store.MetaGraceSeconds] = decision.Period.Seconds()
		if decision.Frequent {
			rec.Metadata[store.MetaFrequentDisconnections] = true
		}
		if rec == cur {
			err = tx.UpdateConnection(ctx, rec)
		} else {
			err = tx.InsertConnection(ctx, rec)
		}
		if err != nil {
			return err
		}
		payload := FinalizePayload{UserID: userID, ContextType: c.Type, ContextID: c.ID, RecordID: rec.ID}
		if err := t.sched.Schedule(ctx, JobFinalize, now.Add(decision.Period), payload); err != nil {
			return fmt.Errorf("arm finalize: %w", err)
		}
		out = rec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("handle disconnection: %w", err)
	}
	if out == nil {
		t.log.Debug().Str("user_id", userID).Str("context", c.String()).Msg("disconnect ignored, already in grace")
		return nil, nil
	}
	t.log.Info().Str("user_id", userID).Str("context", c.String()).Dur("grace", decision.Period).Bool("frequent", decision.Frequent).Msg("participant temporarily disconnected")
	t.transitioned(out, events.ParticipantDisconnected, map[string]any{"grace_seconds": decision.Period.Seconds()})
	return out, nil
}

// OpenConnection is the entry point for a client that (re)opens its link. A
// user inside a grace period is reconnected in place and resumed is true; a
// connected user gets the current record back; otherwise an initial
// connection is recorded. An unknown user gets nil.
func (t *Tracker) OpenConnection(ctx context.Context, userID string, c store.ConnectionContext, info ClientInfo) (rec *store.ConnectionRecord, resumed bool, err error) {
	if ok, err := t.knownUser(ctx, userID, c, "open"); !ok || err != nil {
		return nil, false, err
	}
	var event string
	err = t.repo.WithConnectionTx(ctx, func(tx store.ConnectionTx) error {
		cur, err := latest(ctx, tx, userID, c)
		if err != nil {
			return err
		}
		now := t.clock.Now()
		switch {
		case cur != nil && cur.Status == store.StatusConnected:
			rec = cur
			return nil
		case cur != nil && cur.Status == store.StatusTemporarilyDisconnected:
			if err := t.reconnect(ctx, tx, cur, info, now); err != nil {
				return err
			}
			rec, resumed, event = cur, true, events.ParticipantReconnected
			return nil
		default:
			rec, err = t.insertConnected(ctx, tx, userID, c, info, connectionTypeInitial, now)
			event = events.ParticipantConnected
			return err
		}
	})
	if err != nil {
		return nil, false, fmt.Errorf("open connection: %w", err)
	}
	if event != "" {
		t.transitioned(rec, event, nil)
	}
	return rec, resumed, nil
}

// HandleReconnection reports whether the call changed anything. A pending
// finalize timer is left alone; it finds the user connected and does nothing.
func (t *Tracker) HandleReconnection(ctx context.Context, userID string, c store.ConnectionContext, info ClientInfo) (bool, error) {
	if ok, err := t.knownUser(ctx, userID, c, "reconnect"); !ok || err != nil {
		return false, err
	}
	var out *store.ConnectionRecord
	err := t.repo.WithConnectionTx(ctx, func(tx store.ConnectionTx) error {
		cur, err := latest(ctx, tx, userID, c)
		if err != nil {
			return err
		}
		now := t.clock.Now()
		switch {
		case cur != nil && cur.Status == store.StatusConnected:
			return nil
		case cur != nil && cur.Status == store.StatusTemporarilyDisconnected:
			if err := t.reconnect(ctx, tx, cur, info, now); err != nil {
				return err
			}
			out = cur
		default:
			out, err = t.insertConnected(ctx, tx, userID, c, info, connectionTypeReconnection, now)
			return err
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("handle reconnection: %w", err)
	}
	if out == nil {
		return false, nil
	}
	t.transitioned(out, events.ParticipantReconnected, nil)
	return true, nil
}

// FinalizeDisconnection turns an expired grace period into a definitive
// disconnect and notifies the listeners. It reports false when the user came
// back or the record moved on since the timer was armed.
func (t *Tracker) FinalizeDisconnection(ctx context.Context, userID string, c store.ConnectionContext) (bool, error) {
	return t.finalize(ctx, FinalizePayload{UserID: userID, ContextType: c.Type, ContextID: c.ID})
}

func (t *Tracker) finalize(ctx context.Context, p FinalizePayload) (bool, error) {
	c := store.ConnectionContext{Type: p.ContextType, ID: p.ContextID}
	var out *store.ConnectionRecord
	err := t.repo.WithConnectionTx(ctx, func(tx store.ConnectionTx) error {
		cur, err := latest(ctx, tx, p.UserID, c)
		if err != nil {
			return err
		}
		if cur == nil || cur.Status != store.StatusTemporarilyDisconnected {
			return nil
		}
		if p.RecordID != "" && cur.ID != p.RecordID {
			return nil
		}
		now := t.clock.Now()
		meta := cur.Metadata.Clone()
		meta.SetTime(store.MetaFinalizedAt, now)
		if cur.DisconnectedAt != nil {
			meta[store.MetaOutageSeconds] = now.Sub(*cur.DisconnectedAt).Seconds()
		}
		rec := &store.ConnectionRecord{
			UserID:         p.UserID,
			ContextType:    c.Type,
			ContextID:      c.ID,
			Status:         store.StatusDisconnected,
			ConnectedAt:    cur.ConnectedAt,
			DisconnectedAt: cur.DisconnectedAt,
			Metadata:       meta,
		}
		if err := tx.InsertConnection(ctx, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finalize disconnection: %w", err)
	}
	if out == nil {
		observability.StaleCallbacks.WithLabelValues("finalize").Inc()
		t.log.Debug().Str("user_id", p.UserID).Str("context", c.String()).Msg("stale finalize ignored")
		return false, nil
	}
	observability.Finalizations.Inc()
	t.log.Info().Str("user_id", p.UserID).Str("context", c.String()).Msg("participant disconnected")
	t.transitioned(out, events.ParticipantLeft, nil)
	for _, l := range t.listeners {
		if err := l.OnFinalized(ctx, p.UserID, c); err != nil {
			t.log.Error().Err(err).Str("user_id", p.UserID).Str("context", c.String()).Msg("finalize listener failed")
		}
	}
	return true, nil
}

// UpdateLastSeen records a heartbeat. A heartbeat from a temporarily
// disconnected user counts as a reconnection, and one without any record
// opens a connection.
func (t *Tracker) UpdateLastSeen(ctx context.Context, userID string, c store.ConnectionContext, info ClientInfo) (*store.ConnectionRecord, error) {
	if ok, err := t.knownUser(ctx, userID, c, "heartbeat"); !ok || err != nil {
		return nil, err
	}
	var (
		out   *store.ConnectionRecord
		event string
	)
	err := t.repo.WithConnectionTx(ctx, func(tx store.ConnectionTx) error {
		cur, err := latest(ctx, tx, userID, c)
		if err != nil {
			return err
		}
		now := t.clock.Now()
		switch {
		case cur == nil:
			event = events.ParticipantConnected
			out, err = t.insertConnected(ctx, tx, userID, c, info, connectionTypeInitial, now)
			return err
		case cur.Status == store.StatusConnected:
			if cur.Metadata == nil {
				cur.Metadata = store.Metadata{}
			}
			cur.Metadata.SetTime(store.MetaLastHeartbeat, now)
			out = cur
			return tx.UpdateConnection(ctx, cur)
		case cur.Status == store.StatusTemporarilyDisconnected:
			event = events.ParticipantReconnected
			out = cur
			return t.reconnect(ctx, tx, cur, info, now)
		default:
			event = events.ParticipantReconnected
			out, err = t.insertConnected(ctx, tx, userID, c, info, connectionTypeReconnection, now)
			return err
		}
	})
	if err != nil {
		return nil, fmt.Errorf("update last seen: %w", err)
	}
	if event != "" {
		t.transitioned(out, event, nil)
	}
	return out, nil
}

func (t *Tracker) handleFinalize(ctx context.Context, raw json.RawMessage) error {
	var p FinalizePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("decode finalize: %w", err)
	}
	_, err := t.finalize(ctx, p)
	return err
}
