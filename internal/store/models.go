package store

import "time"

type User struct {
	ID        string
	Name      string
	DeletedAt *time.Time
	CreatedAt time.Time
}

const (
	RoomStatusWaiting    = "waiting"
	RoomStatusReady      = "ready"
	RoomStatusDebating   = "debating"
	RoomStatusFinished   = "finished"
	RoomStatusTerminated = "terminated"
)

type Room struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	CreatorID string     `json:"creator_id"`
	Status    string     `json:"status"`
	Format    FormatSpec `json:"format"`
	Locale    string     `json:"locale"`
	DeletedAt *time.Time `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type RoomMember struct {
	RoomID   string
	UserID   string
	Side     Side
	JoinedAt time.Time
	LeftAt   *time.Time
}

// FormatSpec is the stored format configuration of a room: either a built-in
// template tag (including FormatFree) or an explicit list of turns.
type FormatSpec struct {
	Template string       `json:"template,omitempty"`
	Turns    []TurnConfig `json:"turns,omitempty"`
}

const FormatFree = "free"

type TurnConfig struct {
	Name        string `json:"name,omitempty"`
	Speaker     string `json:"speaker"`
	DurationSec int    `json:"duration"`
	IsPrepTime  bool   `json:"is_prep_time,omitempty"`
	IsQuestions bool   `json:"is_questions,omitempty"`
}

type Side string

const (
	SideNone        Side = ""
	SideAffirmative Side = "affirmative"
	SideNegative    Side = "negative"
)

// TurnDescriptor is one resolved turn. Index is 1-based; 0 is the pre-session
// prep slot.
type TurnDescriptor struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Speaker     Side   `json:"speaker"`
	DurationSec int    `json:"duration"`
	IsPrepTime  bool   `json:"is_prep_time"`
	IsQuestions bool   `json:"is_questions"`
}

func (t TurnDescriptor) Duration() time.Duration {
	return time.Duration(t.DurationSec) * time.Second
}

const (
	DebateStatusPending    = "pending"
	DebateStatusActive     = "active"
	DebateStatusFinished   = "finished"
	DebateStatusTerminated = "terminated"
)

// TurnFinished is the CurrentTurn value of a session that can no longer advance.
const TurnFinished = -1

// Participant is one side of a debate. AI marks the synthetic debater whose
// turns are answered by the response generator.
type Participant struct {
	UserID string `json:"user_id"`
	AI     bool   `json:"ai"`
}

type DebateSession struct {
	ID           string     `json:"id"`
	RoomID       string     `json:"room_id"`
	Status       string     `json:"status"`
	CurrentTurn  int        `json:"current_turn"`
	TurnDeadline *time.Time `json:"turn_deadline,omitempty"`
	// Turns is the format resolved when the debate started. It does not
	// change afterwards even if the room's format does.
	Turns       []TurnDescriptor `json:"turns,omitempty"`
	Affirmative Participant      `json:"affirmative"`
	Negative    Participant      `json:"negative"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (s DebateSession) Participant(side Side) (Participant, bool) {
	switch side {
	case SideAffirmative:
		return s.Affirmative, true
	case SideNegative:
		return s.Negative, true
	default:
		return Participant{}, false
	}
}

func (s DebateSession) SideOf(userID string) Side {
	switch {
	case userID == "":
		return SideNone
	case s.Affirmative.UserID == userID:
		return SideAffirmative
	case s.Negative.UserID == userID:
		return SideNegative
	default:
		return SideNone
	}
}

// Turn returns the descriptor of 1-based turn n.
func (s DebateSession) Turn(n int) (TurnDescriptor, bool) {
	if n < 1 || n > len(s.Turns) {
		return TurnDescriptor{}, false
	}
	return s.Turns[n-1], true
}

func (s DebateSession) Terminal() bool {
	return s.Status == DebateStatusFinished || s.Status == DebateStatusTerminated
}

type ConnectionStatus string

const (
	StatusConnected               ConnectionStatus = "connected"
	StatusTemporarilyDisconnected ConnectionStatus = "temporarily_disconnected"
	StatusDisconnected            ConnectionStatus = "disconnected"
)

const (
	ContextRoom   = "room"
	ContextDebate = "debate"
)

type ConnectionContext struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

func (c ConnectionContext) String() string { return c.Type + ":" + c.ID }

// ConnectionRecord is one row of the append-style connection log. The latest
// row per (user, context) is authoritative.
type ConnectionRecord struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	ContextType    string           `json:"context_type"`
	ContextID      string           `json:"context_id"`
	Status         ConnectionStatus `json:"status"`
	ConnectedAt    *time.Time       `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time       `json:"disconnected_at,omitempty"`
	ReconnectedAt  *time.Time       `json:"reconnected_at,omitempty"`
	Metadata       Metadata         `json:"metadata"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

func (r ConnectionRecord) Context() ConnectionContext {
	return ConnectionContext{Type: r.ContextType, ID: r.ContextID}
}

// ConnectionFilter narrows ListConnectionRecords. Since matches rows updated at
// or after the instant; LatestOnly keeps only the newest row per key.
type ConnectionFilter struct {
	UserID      string
	ContextType string
	Since       time.Time
	LatestOnly  bool
}

const (
	JobStatusPending = "pending"
	JobStatusRunning = "running"
	JobStatusDone    = "done"
	JobStatusFailed  = "failed"
)

type ScheduledJob struct {
	ID          string
	Kind        string
	Payload     []byte
	FireAt      time.Time
	Attempts    int
	Status      string
	LastError   string
	LockedUntil *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
