package game

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Errors surfaced by lobby and registry operations. Callers match with
// errors.Is; transport code maps them onto user-visible frames.
var (
	ErrUnauthorized     = errors.New("participant is not authenticated")
	ErrCapacityExceeded = errors.New("maximum concurrent sessions reached")
	ErrSlotOccupied     = errors.New("session slot already bound")
	ErrNotFound         = errors.New("session not found")
	ErrAlreadyQueued    = errors.New("participant already waiting or in a session")
)

// ClientID identifies an authenticated participant. Bot participants carry a
// synthetic id so results always name a winner.
type ClientID string

// Mode selects how a session is created and who sits in the second slot.
type Mode string

const (
	ModeSolo       Mode = "solo"
	ModeRemote     Mode = "remote"
	ModeLocal      Mode = "local"
	ModePrivate    Mode = "private"
	ModeTournament Mode = "tournament"
)

// Slot is a participant's side of the court.
type Slot int32

const (
	SlotNone Slot = 0
	Slot1    Slot = 1
	Slot2    Slot = 2
)

func (s Slot) String() string {
	switch s {
	case Slot1:
		return "player1"
	case Slot2:
		return "player2"
	}
	return "unknown"
}

// Other returns the opposing slot.
func (s Slot) Other() Slot {
	if s == Slot1 {
		return Slot2
	}
	return Slot1
}

// Reason records why a session reached its terminal state.
type Reason string

const (
	ReasonLifepointsDepleted   Reason = "lifepoints_depleted"
	ReasonOpponentDisconnected Reason = "opponent_disconnected"
	ReasonForfeit              Reason = "forfeit"
)

// ParseMode maps a wire mode string onto a Mode. An empty string defaults
// to remote matchmaking.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSolo, ModeRemote, ModeLocal, ModePrivate, ModeTournament:
		return Mode(s), nil
	case "":
		return ModeRemote, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Action is a decoded participant input. Movement actions are buffered and
// applied in arrival order before the next tick; control actions take effect
// immediately on the session state machine.
type Action string

const (
	ActionMoveUp       Action = "move_up"
	ActionMoveDown     Action = "move_down"
	ActionStopMoveUp   Action = "stop_move_up"
	ActionStopMoveDown Action = "stop_move_down"
	ActionStart        Action = "start_game"
	ActionPause        Action = "pause_game"
	ActionResume       Action = "resume_game"
	ActionQuit         Action = "quit_game"
)

// Input is one movement action bound to a slot, queued for the tick loop.
type Input struct {
	Slot   Slot
	Action Action
}

// Vec2 is a position or velocity on the court plane.
type Vec2 struct {
	X, Y float64
}

func (v Vec2) Add(w Vec2) Vec2 {
	return Vec2{v.X + w.X, v.Y + w.Y}
}

// BallState is the ball portion of a snapshot.
type BallState struct {
	X      float64
	Y      float64
	Radius float64
}

// PaddleState is one paddle's position plus remaining lifepoints.
type PaddleState struct {
	X          float64
	Y          float64
	Lifepoints int32
}

// SimulationState is an immutable snapshot of one tick, safe to hand to
// transports. Only the engine mutates the underlying state.
type SimulationState struct {
	Ball BallState
	P1   PaddleState
	P2   PaddleState
	Tick uint64
}

// MatchResult is produced exactly once per session on entering Terminal.
type MatchResult struct {
	SessionID  string
	Mode       Mode
	Winner     ClientID
	WinnerSlot Slot
	Reason     Reason
	FinishedAt time.Time

	// BracketID names the external tournament match slot this session was
	// admitted for; empty outside tournament mode.
	BracketID string
}

// EventType enumerates lifecycle notifications delivered to participants
// outside the snapshot stream.
type EventType string

const (
	EventWaiting   EventType = "waiting"
	EventGameFound EventType = "game_found"
	EventGameOver  EventType = "game_over"
)

// Event is a lifecycle notification for one participant.
type Event struct {
	Type      EventType
	Message   string
	SessionID string
	Slot      Slot
	Result    *MatchResult
}

// Participant is a connected actor bound to a session slot. The transport
// owns the underlying connection; sessions only write to the participant's
// frame and event channels.
type Participant struct {
	sync.RWMutex

	ID   ClientID
	Nick string
	Bot  bool

	Slot Slot

	// FrameCh carries per-tick snapshots. Sessions drop the oldest frame
	// when a slow consumer falls behind so one stalled transport cannot
	// block the tick loop.
	FrameCh chan SimulationState

	// Events carries lifecycle notifications (game_found, game_over,
	// waiting). Buffered; senders never block on it.
	Events chan Event
}

// NewParticipant builds a participant with its channels allocated.
func NewParticipant(id ClientID, nick string) *Participant {
	return &Participant{
		ID:      id,
		Nick:    nick,
		FrameCh: make(chan SimulationState, frameBufSize),
		Events:  make(chan Event, eventBufSize),
	}
}

// AssignSlot records the server-issued slot for this participant.
func (p *Participant) AssignSlot(s Slot) {
	p.Lock()
	p.Slot = s
	p.Unlock()
}

// CurrentSlot returns the server-issued slot.
func (p *Participant) CurrentSlot() Slot {
	p.RLock()
	defer p.RUnlock()
	return p.Slot
}

// EnqueueEvent delivers a lifecycle event without blocking; the oldest
// pending event is dropped if the consumer is not keeping up.
func (p *Participant) EnqueueEvent(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.Events <- ev:
	default:
		select {
		case <-p.Events:
		default:
		}
		select {
		case p.Events <- ev:
		default:
		}
	}
}

// pushFrame delivers a snapshot with drop-oldest semantics.
func (p *Participant) pushFrame(s SimulationState) {
	if p == nil || p.FrameCh == nil {
		return
	}
	select {
	case p.FrameCh <- s:
	default:
		select {
		case <-p.FrameCh:
		default:
		}
		select {
		case p.FrameCh <- s:
		default:
		}
	}
}

const (
	frameBufSize = 32
	eventBufSize = 16
	inputBufSize = 128
)
