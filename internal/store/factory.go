package store

import (
	"context"
	"strings"
	"time"

	"debate-arena/internal/clock"
)

// Repository is everything the service needs from persistence. Both Store and
// MemoryStore implement it.
type Repository interface {
	Ping(ctx context.Context) error
	Close()

	CreateUser(ctx context.Context, name string) (string, error)
	GetUser(ctx context.Context, id string) (*User, error)
	UserExists(ctx context.Context, id string) (bool, error)
	SoftDeleteUser(ctx context.Context, id string, at time.Time) error

	CreateRoom(ctx context.Context, room Room) (string, error)
	GetRoom(ctx context.Context, id string) (*Room, error)
	TransitionRoomStatus(ctx context.Context, roomID, from, to string) (bool, error)
	ForceRoomStatus(ctx context.Context, roomID, to string) (bool, error)
	SoftDeleteRoom(ctx context.Context, roomID string, at time.Time) error
	AddRoomMember(ctx context.Context, roomID, userID string, side Side) error
	RemoveRoomMember(ctx context.Context, roomID, userID string, at time.Time) (bool, error)
	ListRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error)

	CreateDebateSession(ctx context.Context, sess DebateSession) error
	GetDebateSession(ctx context.Context, id string) (*DebateSession, error)
	FindActiveDebateByRoom(ctx context.Context, roomID string) (*DebateSession, error)
	UpdateDebateSession(ctx context.Context, id string, fn func(sess *DebateSession) error) (*DebateSession, error)

	WithConnectionTx(ctx context.Context, fn func(tx ConnectionTx) error) error
	ListConnectionRecords(ctx context.Context, f ConnectionFilter) ([]ConnectionRecord, error)

	InsertJob(ctx context.Context, job ScheduledJob) error
	ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]ScheduledJob, error)
	CompleteJob(ctx context.Context, id string) error
	RetryJob(ctx context.Context, id string, fireAt time.Time, lastErr string) error
	FailJob(ctx context.Context, id string, lastErr string) error
	CountJobs(ctx context.Context, status string) (int, error)
}

var (
	_ Repository = (*Store)(nil)
	_ Repository = (*MemoryStore)(nil)
)

// Open returns a Postgres store when dsn is set, otherwise an in-memory one.
func Open(ctx context.Context, dsn string, clk clock.Clock) (Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryStore(clk), nil
	}
	st, err := New(dsn)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}
