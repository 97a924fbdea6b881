package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"debate-arena/internal/clock"
)

// MemoryStore is an in-process twin of Store for local runs and tests. A single
// mutex stands in for row locks; jobs have their own lock so a job can be
// scheduled from inside a session or connection transaction.
type MemoryStore struct {
	clock clock.Clock

	mu          sync.Mutex
	users       map[string]User
	rooms       map[string]Room
	members     map[string]map[string]RoomMember
	debates     map[string]DebateSession
	connections []ConnectionRecord

	jobsMu sync.Mutex
	jobs   map[string]ScheduledJob
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryStore{
		clock:   clk,
		users:   map[string]User{},
		rooms:   map[string]Room{},
		members: map[string]map[string]RoomMember{},
		debates: map[string]DebateSession{},
		jobs:    map[string]ScheduledJob{},
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() {}

func (m *MemoryStore) CreateUser(_ context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := NewID()
	m.users[id] = User{ID: id, Name: name, CreatedAt: m.clock.Now()}
	return id, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *MemoryStore) UserExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	return ok, nil
}

func (m *MemoryStore) SoftDeleteUser(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.DeletedAt != nil {
		return ErrNotFound
	}
	u.DeletedAt = &at
	m.users[id] = u
	return nil
}

func (m *MemoryStore) CreateRoom(_ context.Context, room Room) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if room.ID == "" {
		room.ID = NewID()
	}
	if room.Status == "" {
		room.Status = RoomStatusWaiting
	}
	now := m.clock.Now()
	room.CreatedAt, room.UpdatedAt = now, now
	m.rooms[room.ID] = room
	return room.ID, nil
}

func (m *MemoryStore) GetRoom(_ context.Context, id string) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[id]
	if !ok || r.DeletedAt != nil {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) TransitionRoomStatus(_ context.Context, roomID, from, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || r.DeletedAt != nil || r.Status != from {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = m.clock.Now()
	m.rooms[roomID] = r
	return true, nil
}

func (m *MemoryStore) ForceRoomStatus(_ context.Context, roomID, to string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || r.DeletedAt != nil || r.Status == RoomStatusFinished || r.Status == RoomStatusTerminated {
		return false, nil
	}
	r.Status = to
	r.UpdatedAt = m.clock.Now()
	m.rooms[roomID] = r
	return true, nil
}

func (m *MemoryStore) SoftDeleteRoom(_ context.Context, roomID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok || r.DeletedAt != nil {
		return ErrNotFound
	}
	r.DeletedAt = &at
	m.rooms[roomID] = r
	return nil
}

func (m *MemoryStore) AddRoomMember(_ context.Context, roomID, userID string, side Side) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[roomID] == nil {
		m.members[roomID] = map[string]RoomMember{}
	}
	m.members[roomID][userID] = RoomMember{RoomID: roomID, UserID: userID, Side: side, JoinedAt: m.clock.Now()}
	return nil
}

func (m *MemoryStore) RemoveRoomMember(_ context.Context, roomID, userID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[roomID][userID]
	if !ok || mem.LeftAt != nil {
		return false, nil
	}
	mem.LeftAt = &at
	m.members[roomID][userID] = mem
	return true, nil
}

func (m *MemoryStore) ListRoomMembers(_ context.Context, roomID string) ([]RoomMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []RoomMember{}
	for _, mem := range m.members[roomID] {
		if mem.LeftAt == nil {
			out = append(out, mem)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (m *MemoryStore) CreateDebateSession(_ context.Context, sess DebateSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.Status == "" {
		sess.Status = DebateStatusPending
	}
	now := m.clock.Now()
	sess.CreatedAt, sess.UpdatedAt = now, now
	m.debates[sess.ID] = sess
	return nil
}

func (m *MemoryStore) GetDebateSession(_ context.Context, id string) (*DebateSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.debates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

func (m *MemoryStore) FindActiveDebateByRoom(_ context.Context, roomID string) (*DebateSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *DebateSession
	for _, sess := range m.debates {
		if sess.RoomID != roomID || sess.Terminal() {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			s := sess
			found = &s
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) UpdateDebateSession(_ context.Context, id string, fn func(sess *DebateSession) error) (*DebateSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.debates[id]
	if !ok {
		return nil, ErrNotFound
	}
	next := cur
	next.Turns = append([]TurnDescriptor(nil), cur.Turns...)
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.UpdatedAt = m.clock.Now()
	m.debates[id] = next
	return &next, nil
}

// WithConnectionTx holds the store lock for the whole call and applies the
// staged writes only when fn succeeds.
func (m *MemoryStore) WithConnectionTx(ctx context.Context, fn func(tx ConnectionTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memConnectionTx{store: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, w := range tx.writes {
		if w.insert {
			m.connections = append(m.connections, w.rec)
			continue
		}
		for i := range m.connections {
			if m.connections[i].ID == w.rec.ID {
				m.connections[i] = w.rec
				break
			}
		}
	}
	return nil
}

type memWrite struct {
	rec    ConnectionRecord
	insert bool
}

type memConnectionTx struct {
	store  *MemoryStore
	writes []memWrite
}

func (t *memConnectionTx) view() []ConnectionRecord {
	out := make([]ConnectionRecord, len(t.store.connections))
	copy(out, t.store.connections)
	for _, w := range t.writes {
		if w.insert {
			out = append(out, w.rec)
			continue
		}
		for i := range out {
			if out[i].ID == w.rec.ID {
				out[i] = w.rec
			}
		}
	}
	return out
}

func (t *memConnectionTx) LatestConnection(_ context.Context, userID string, c ConnectionContext) (*ConnectionRecord, error) {
	rows := t.view()
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if r.UserID == userID && r.ContextType == c.Type && r.ContextID == c.ID {
			r.Metadata = r.Metadata.Clone()
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memConnectionTx) InsertConnection(_ context.Context, rec *ConnectionRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	now := t.store.clock.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	stored := *rec
	stored.Metadata = rec.Metadata.Clone()
	t.writes = append(t.writes, memWrite{rec: stored, insert: true})
	return nil
}

func (t *memConnectionTx) UpdateConnection(_ context.Context, rec *ConnectionRecord) error {
	found := false
	for _, r := range t.view() {
		if r.ID == rec.ID {
			found = true
			break
		}
	}
	if !found {
		return ErrNotFound
	}
	rec.UpdatedAt = t.store.clock.Now()
	stored := *rec
	stored.Metadata = rec.Metadata.Clone()
	t.writes = append(t.writes, memWrite{rec: stored})
	return nil
}

func (m *MemoryStore) ListConnectionRecords(_ context.Context, f ConnectionFilter) ([]ConnectionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.connections
	if f.LatestOnly {
		latest := map[string]int{}
		for i, r := range rows {
			latest[r.UserID+"|"+r.ContextType+"|"+r.ContextID] = i
		}
		picked := make([]ConnectionRecord, 0, len(latest))
		for i, r := range rows {
			if latest[r.UserID+"|"+r.ContextType+"|"+r.ContextID] == i {
				picked = append(picked, r)
			}
		}
		rows = picked
	}
	out := []ConnectionRecord{}
	for _, r := range rows {
		if f.UserID != "" && r.UserID != f.UserID {
			continue
		}
		if f.ContextType != "" && r.ContextType != f.ContextType {
			continue
		}
		if !f.Since.IsZero() && r.UpdatedAt.Before(f.Since) {
			continue
		}
		r.Metadata = r.Metadata.Clone()
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryStore) InsertJob(_ context.Context, job ScheduledJob) error {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	if job.ID == "" {
		job.ID = NewID()
	}
	now := m.clock.Now()
	job.Status = JobStatusPending
	job.CreatedAt, job.UpdatedAt = now, now
	m.jobs[job.ID] = job
	return nil
}

func (m *MemoryStore) ClaimDueJobs(_ context.Context, now time.Time, limit int, lease time.Duration) ([]ScheduledJob, error) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	due := []ScheduledJob{}
	for _, j := range m.jobs {
		pending := j.Status == JobStatusPending && !j.FireAt.After(now)
		expired := j.Status == JobStatusRunning && j.LockedUntil != nil && j.LockedUntil.Before(now)
		if pending || expired {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		if due[i].FireAt.Equal(due[k].FireAt) {
			return due[i].ID < due[k].ID
		}
		return due[i].FireAt.Before(due[k].FireAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	until := now.Add(lease)
	for i := range due {
		due[i].Status = JobStatusRunning
		due[i].Attempts++
		due[i].LockedUntil = &until
		due[i].UpdatedAt = now
		m.jobs[due[i].ID] = due[i]
	}
	return due, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id string) error {
	return m.setJobState(id, JobStatusDone, nil, "")
}

func (m *MemoryStore) RetryJob(_ context.Context, id string, fireAt time.Time, lastErr string) error {
	return m.setJobState(id, JobStatusPending, &fireAt, lastErr)
}

func (m *MemoryStore) FailJob(_ context.Context, id string, lastErr string) error {
	return m.setJobState(id, JobStatusFailed, nil, lastErr)
}

func (m *MemoryStore) setJobState(id, status string, fireAt *time.Time, lastErr string) error {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	if fireAt != nil {
		j.FireAt = *fireAt
	}
	j.LastError = lastErr
	j.LockedUntil = nil
	j.UpdatedAt = m.clock.Now()
	m.jobs[id] = j
	return nil
}

func (m *MemoryStore) CountJobs(_ context.Context, status string) (int, error) {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if j.Status == status {
			n++
		}
	}
	return n, nil
}

// Jobs returns a snapshot of every job, oldest fire time first.
func (m *MemoryStore) Jobs() []ScheduledJob {
	m.jobsMu.Lock()
	defer m.jobsMu.Unlock()
	out := make([]ScheduledJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].FireAt.Equal(out[k].FireAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].FireAt.Before(out[k].FireAt)
	})
	return out
}
