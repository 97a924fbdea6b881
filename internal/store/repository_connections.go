package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const connectionColumns = `id, user_id, context_type, context_id, status,
	connected_at, disconnected_at, reconnected_at, metadata, created_at, updated_at`

// WithConnectionTx runs fn inside one database transaction.
func (s *Store) WithConnectionTx(ctx context.Context, fn func(tx ConnectionTx) error) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgConnectionTx{tx: tx})
	})
}

type pgConnectionTx struct {
	tx pgx.Tx
}

// LatestConnection takes a transaction-scoped advisory lock on the key before
// reading, so two first connections of the same key cannot both insert.
func (t *pgConnectionTx) LatestConnection(ctx context.Context, userID string, c ConnectionContext) (*ConnectionRecord, error) {
	key := userID + "|" + c.Type + "|" + c.ID
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return nil, err
	}
	row := t.tx.QueryRow(ctx, `SELECT `+connectionColumns+` FROM connection_logs
		WHERE user_id = $1 AND context_type = $2 AND context_id = $3
		ORDER BY created_at DESC, id DESC LIMIT 1 FOR UPDATE`, userID, c.Type, c.ID)
	rec, err := scanConnection(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return rec, nil
}

func (t *pgConnectionTx) InsertConnection(ctx context.Context, rec *ConnectionRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	return t.tx.QueryRow(ctx, `
		INSERT INTO connection_logs (id, user_id, context_type, context_id, status,
			connected_at, disconnected_at, reconnected_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at, updated_at`,
		rec.ID, rec.UserID, rec.ContextType, rec.ContextID, string(rec.Status),
		timeParam(rec.ConnectedAt), timeParam(rec.DisconnectedAt), timeParam(rec.ReconnectedAt), meta).
		Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

func (t *pgConnectionTx) UpdateConnection(ctx context.Context, rec *ConnectionRecord) error {
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	err = t.tx.QueryRow(ctx, `
		UPDATE connection_logs SET status = $2, connected_at = $3, disconnected_at = $4,
			reconnected_at = $5, metadata = $6, updated_at = now()
		WHERE id = $1 RETURNING updated_at`,
		rec.ID, string(rec.Status), timeParam(rec.ConnectedAt), timeParam(rec.DisconnectedAt),
		timeParam(rec.ReconnectedAt), meta).Scan(&rec.UpdatedAt)
	return mapNotFound(err)
}

// ListConnectionRecords returns matching rows in chronological order.
func (s *Store) ListConnectionRecords(ctx context.Context, f ConnectionFilter) ([]ConnectionRecord, error) {
	where := []string{"1=1"}
	args := []any{}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.ContextType != "" {
		add("context_type = $%d", f.ContextType)
	}
	if !f.Since.IsZero() {
		add("updated_at >= $%d", f.Since)
	}

	var q string
	if f.LatestOnly {
		q = `SELECT ` + connectionColumns + ` FROM (
			SELECT DISTINCT ON (user_id, context_type, context_id) ` + connectionColumns + `
			FROM connection_logs
			ORDER BY user_id, context_type, context_id, created_at DESC, id DESC
		) latest WHERE ` + strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	} else {
		q = `SELECT ` + connectionColumns + ` FROM connection_logs WHERE ` +
			strings.Join(where, " AND ") + ` ORDER BY created_at, id`
	}

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ConnectionRecord{}
	for rows.Next() {
		rec, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func scanConnection(row pgx.Row) (*ConnectionRecord, error) {
	var (
		rec                                   ConnectionRecord
		status                                string
		connectedAt, disconnectedAt, reconnAt pgtype.Timestamptz
		createdAt, updatedAt                  pgtype.Timestamptz
		meta                                  []byte
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.ContextType, &rec.ContextID, &status,
		&connectedAt, &disconnectedAt, &reconnAt, &meta, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = ConnectionStatus(status)
	rec.ConnectedAt = timePtrVal(connectedAt)
	rec.DisconnectedAt = timePtrVal(disconnectedAt)
	rec.ReconnectedAt = timePtrVal(reconnAt)
	rec.CreatedAt = timeVal(createdAt)
	rec.UpdatedAt = timeVal(updatedAt)
	if rec.Metadata, err = decodeMetadata(meta); err != nil {
		return nil, err
	}
	return &rec, nil
}
