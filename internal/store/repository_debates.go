package store

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const debateColumns = `id, room_id, status, current_turn, turn_deadline, turns,
	affirmative_user_id, affirmative_ai, negative_user_id, negative_ai,
	started_at, finished_at, created_at, updated_at`

func (s *Store) CreateDebateSession(ctx context.Context, sess DebateSession) error {
	if sess.Status == "" {
		sess.Status = DebateStatusPending
	}
	turns, err := encodeTurns(sess.Turns)
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO debate_sessions (id, room_id, status, current_turn, turn_deadline, turns,
			affirmative_user_id, affirmative_ai, negative_user_id, negative_ai)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		sess.ID, sess.RoomID, sess.Status, sess.CurrentTurn, timeParam(sess.TurnDeadline), turns,
		textParam(sess.Affirmative.UserID), sess.Affirmative.AI,
		textParam(sess.Negative.UserID), sess.Negative.AI)
	return err
}

func (s *Store) GetDebateSession(ctx context.Context, id string) (*DebateSession, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+debateColumns+` FROM debate_sessions WHERE id = $1`, id)
	sess, err := scanDebateSession(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return sess, nil
}

// FindActiveDebateByRoom returns the newest non-terminal session of a room.
func (s *Store) FindActiveDebateByRoom(ctx context.Context, roomID string) (*DebateSession, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+debateColumns+` FROM debate_sessions
		WHERE room_id = $1 AND status IN ('pending', 'active')
		ORDER BY created_at DESC LIMIT 1`, roomID)
	sess, err := scanDebateSession(row)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return sess, nil
}

// UpdateDebateSession locks the session row, lets fn mutate a copy and writes
// the copy back in the same transaction. An error from fn aborts the write.
func (s *Store) UpdateDebateSession(ctx context.Context, id string, fn func(sess *DebateSession) error) (*DebateSession, error) {
	var out *DebateSession
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+debateColumns+` FROM debate_sessions WHERE id = $1 FOR UPDATE`, id)
		sess, err := scanDebateSession(row)
		if err != nil {
			return mapNotFound(err)
		}
		if err := fn(sess); err != nil {
			return err
		}
		turns, err := encodeTurns(sess.Turns)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			UPDATE debate_sessions SET status = $2, current_turn = $3, turn_deadline = $4,
				turns = $5, started_at = $6, finished_at = $7, updated_at = now()
			WHERE id = $1 RETURNING updated_at`,
			id, sess.Status, sess.CurrentTurn, timeParam(sess.TurnDeadline), turns,
			timeParam(sess.StartedAt), timeParam(sess.FinishedAt)).Scan(&sess.UpdatedAt)
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanDebateSession(row pgx.Row) (*DebateSession, error) {
	var (
		sess                            DebateSession
		deadline, startedAt, finishedAt pgtype.Timestamptz
		createdAt, updatedAt            pgtype.Timestamptz
		affirmativeID, negativeID       pgtype.Text
		turns                           []byte
	)
	err := row.Scan(&sess.ID, &sess.RoomID, &sess.Status, &sess.CurrentTurn, &deadline, &turns,
		&affirmativeID, &sess.Affirmative.AI, &negativeID, &sess.Negative.AI,
		&startedAt, &finishedAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if len(turns) > 0 {
		if err := json.Unmarshal(turns, &sess.Turns); err != nil {
			return nil, err
		}
	}
	sess.TurnDeadline = timePtrVal(deadline)
	sess.Affirmative.UserID = textVal(affirmativeID)
	sess.Negative.UserID = textVal(negativeID)
	sess.StartedAt = timePtrVal(startedAt)
	sess.FinishedAt = timePtrVal(finishedAt)
	sess.CreatedAt = timeVal(createdAt)
	sess.UpdatedAt = timeVal(updatedAt)
	return &sess, nil
}

func encodeTurns(turns []TurnDescriptor) ([]byte, error) {
	if turns == nil {
		turns = []TurnDescriptor{}
	}
	return json.Marshal(turns)
}
