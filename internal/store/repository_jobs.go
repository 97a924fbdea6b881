package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func (s *Store) InsertJob(ctx context.Context, job ScheduledJob) error {
	if job.ID == "" {
		job.ID = NewID()
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO scheduled_jobs (id, kind, payload, fire_at, status)
		VALUES ($1,$2,$3,$4,'pending')`, job.ID, job.Kind, job.Payload, job.FireAt)
	return err
}

// ClaimDueJobs marks up to limit due jobs as running and returns them. Jobs
// whose lease expired while running are claimed again, so work survives a
// crashed worker.
func (s *Store) ClaimDueJobs(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]ScheduledJob, error) {
	rows, err := s.Pool.Query(ctx, `
		UPDATE scheduled_jobs SET status = 'running', attempts = attempts + 1,
			locked_until = $3, updated_at = now()
		WHERE id IN (
			SELECT id FROM scheduled_jobs
			WHERE (status = 'pending' AND fire_at <= $1)
			   OR (status = 'running' AND locked_until < $1)
			ORDER BY fire_at, id
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, payload, fire_at, attempts, status, last_error, locked_until, created_at, updated_at`,
		now, limit, now.Add(lease))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ScheduledJob{}
	for rows.Next() {
		var (
			j                    ScheduledJob
			lastErr              pgtype.Text
			fireAt, lockedUntil  pgtype.Timestamptz
			createdAt, updatedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&j.ID, &j.Kind, &j.Payload, &fireAt, &j.Attempts, &j.Status, &lastErr,
			&lockedUntil, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		j.FireAt = timeVal(fireAt)
		j.LastError = textVal(lastErr)
		j.LockedUntil = timePtrVal(lockedUntil)
		j.CreatedAt = timeVal(createdAt)
		j.UpdatedAt = timeVal(updatedAt)
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.setJobState(ctx, id, JobStatusDone, nil, "")
}

func (s *Store) RetryJob(ctx context.Context, id string, fireAt time.Time, lastErr string) error {
	return s.setJobState(ctx, id, JobStatusPending, &fireAt, lastErr)
}

func (s *Store) FailJob(ctx context.Context, id string, lastErr string) error {
	return s.setJobState(ctx, id, JobStatusFailed, nil, lastErr)
}

func (s *Store) setJobState(ctx context.Context, id, status string, fireAt *time.Time, lastErr string) error {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE scheduled_jobs SET status = $2, fire_at = COALESCE($3, fire_at),
			last_error = $4, locked_until = NULL, updated_at = now()
		WHERE id = $1`, id, status, timeParam(fireAt), textParam(lastErr))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountJobs(ctx context.Context, status string) (int, error) {
	var n int
	err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM scheduled_jobs WHERE status = $1`, status).Scan(&n)
	return n, err
}
