package rooms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"debate-arena/internal/clock"
	"debate-arena/internal/debate"
	"debate-arena/internal/store"

	"github.com/rs/zerolog"
)

const (
	ReasonCreatorLeft     = "creator_left"
	ReasonParticipantLeft = "participant_left"
)

type Repository interface {
	GetRoom(ctx context.Context, id string) (*store.Room, error)
	ForceRoomStatus(ctx context.Context, roomID, to string) (bool, error)
	RemoveRoomMember(ctx context.Context, roomID, userID string, at time.Time) (bool, error)
	GetDebateSession(ctx context.Context, id string) (*store.DebateSession, error)
	FindActiveDebateByRoom(ctx context.Context, roomID string) (*store.DebateSession, error)
}

type DebateTerminator interface {
	TerminateDebate(ctx context.Context, sessionID, reason string) (bool, error)
}

// Membership applies the consequences of a participant leaving for good: a
// room member is removed, a departing creator terminates the room, and a
// departing debater terminates the debate.
type Membership struct {
	repo    Repository
	debates DebateTerminator
	clock   clock.Clock
	log     zerolog.Logger
}

func NewMembership(repo Repository, debates DebateTerminator, clk clock.Clock, logger zerolog.Logger) *Membership {
	if clk == nil {
		clk = clock.System{}
	}
	return &Membership{
		repo:    repo,
		debates: debates,
		clock:   clk,
		log:     logger.With().Str("component", "room_membership").Logger(),
	}
}

func (m *Membership) OnFinalized(ctx context.Context, userID string, c store.ConnectionContext) error {
	switch c.Type {
	case store.ContextRoom:
		return m.leaveRoom(ctx, userID, c.ID)
	case store.ContextDebate:
		return m.leaveDebate(ctx, userID, c.ID)
	default:
		m.log.Warn().Str("context", c.String()).Msg("finalized unknown context type")
		return nil
	}
}

func (m *Membership) leaveRoom(ctx context.Context, userID, roomID string) error {
	room, err := m.repo.GetRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := m.repo.RemoveRoomMember(ctx, roomID, userID, m.clock.Now()); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	creator := room.CreatorID == userID

	sess, err := m.repo.FindActiveDebateByRoom(ctx, roomID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return err
	case creator || sess.SideOf(userID) != store.SideNone:
		reason := ReasonParticipantLeft
		if creator {
			reason = ReasonCreatorLeft
		}
		if _, err := m.debates.TerminateDebate(ctx, sess.ID, reason); err != nil {
			return fmt.Errorf("terminate debate: %w", err)
		}
	}

	if !creator {
		m.log.Info().Str("room_id", roomID).Str("user_id", userID).Msg("member left room")
		return nil
	}
	forced, err := m.repo.ForceRoomStatus(ctx, roomID, store.RoomStatusTerminated)
	if err != nil {
		return fmt.Errorf("terminate room: %w", err)
	}
	m.log.Info().Str("room_id", roomID).Str("user_id", userID).Bool("terminated", forced).Msg("room creator left")
	return nil
}

func (m *Membership) leaveDebate(ctx context.Context, userID, sessionID string) error {
	sess, err := m.repo.GetDebateSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Terminal() || sess.SideOf(userID) == store.SideNone {
		return nil
	}
	if _, err := m.debates.TerminateDebate(ctx, sessionID, ReasonParticipantLeft); err != nil {
		if errors.Is(err, debate.ErrSessionNotFound) {
			return nil
		}
		return err
	}
	return nil
}
