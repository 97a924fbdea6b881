package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) CreateUser(ctx context.Context, name string) (string, error) {
	id := NewID()
	_, err := s.Pool.Exec(ctx, `INSERT INTO users (id, name) VALUES ($1, $2)`, id, name)
	return id, err
}

func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var (
		u         User
		deletedAt pgtype.Timestamptz
		createdAt pgtype.Timestamptz
	)
	err := s.Pool.QueryRow(ctx, `SELECT id, name, deleted_at, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &deletedAt, &createdAt)
	if err != nil {
		return nil, mapNotFound(err)
	}
	u.DeletedAt = timePtrVal(deletedAt)
	u.CreatedAt = timeVal(createdAt)
	return &u, nil
}

// UserExists reports whether the user row exists. Soft-deleted users count.
func (s *Store) UserExists(ctx context.Context, id string) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&ok)
	return ok, err
}

func (s *Store) SoftDeleteUser(ctx context.Context, id string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE users SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
