package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) CreateRoom(ctx context.Context, room Room) (string, error) {
	if room.ID == "" {
		room.ID = NewID()
	}
	if room.Status == "" {
		room.Status = RoomStatusWaiting
	}
	format, err := json.Marshal(room.Format)
	if err != nil {
		return "", err
	}
	_, err = s.Pool.Exec(ctx, `INSERT INTO rooms (id, name, creator_id, status, format, locale) VALUES ($1,$2,$3,$4,$5,$6)`,
		room.ID, room.Name, room.CreatorID, room.Status, format, room.Locale)
	return room.ID, err
}

// GetRoom returns ErrNotFound for missing and soft-deleted rooms.
func (s *Store) GetRoom(ctx context.Context, id string) (*Room, error) {
	var (
		r                    Room
		format               []byte
		createdAt, updatedAt pgtype.Timestamptz
	)
	err := s.Pool.QueryRow(ctx, `
		SELECT id, name, creator_id, status, format, locale, created_at, updated_at
		FROM rooms WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&r.ID, &r.Name, &r.CreatorID, &r.Status, &format, &r.Locale, &createdAt, &updatedAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	if len(format) > 0 {
		if err := json.Unmarshal(format, &r.Format); err != nil {
			return nil, err
		}
	}
	r.CreatedAt = timeVal(createdAt)
	r.UpdatedAt = timeVal(updatedAt)
	return &r, nil
}

// TransitionRoomStatus moves a live room from one status to another. It
// reports false when the room is missing, deleted, or in a different status.
func (s *Store) TransitionRoomStatus(ctx context.Context, roomID, from, to string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE rooms SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2 AND deleted_at IS NULL`, roomID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ForceRoomStatus sets the status unless the room is already in a terminal one.
func (s *Store) ForceRoomStatus(ctx context.Context, roomID, to string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE rooms SET status = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL AND status NOT IN ('finished', 'terminated')`, roomID, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) SoftDeleteRoom(ctx context.Context, roomID string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE rooms SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, roomID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddRoomMember(ctx context.Context, roomID, userID string, side Side) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO room_members (room_id, user_id, side) VALUES ($1,$2,$3)
		ON CONFLICT (room_id, user_id) DO UPDATE SET side = EXCLUDED.side, left_at = NULL, joined_at = now()`,
		roomID, userID, string(side))
	return err
}

// RemoveRoomMember marks the member as left. It reports false when the user was
// not an active member.
func (s *Store) RemoveRoomMember(ctx context.Context, roomID, userID string, at time.Time) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE room_members SET left_at = $3
		WHERE room_id = $1 AND user_id = $2 AND left_at IS NULL`, roomID, userID, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListRoomMembers(ctx context.Context, roomID string) ([]RoomMember, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT room_id, user_id, side, joined_at, left_at
		FROM room_members WHERE room_id = $1 AND left_at IS NULL ORDER BY joined_at`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RoomMember{}
	for rows.Next() {
		var (
			m        RoomMember
			side     string
			joinedAt pgtype.Timestamptz
			leftAt   pgtype.Timestamptz
		)
		if err := rows.Scan(&m.RoomID, &m.UserID, &side, &joinedAt, &leftAt); err != nil {
			return nil, err
		}
		m.Side = Side(side)
		m.JoinedAt = timeVal(joinedAt)
		m.LeftAt = timePtrVal(leftAt)
		out = append(out, m)
	}
	return out, rows.Err()
}
