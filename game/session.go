package game

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/decred/slog"
)

// Phase is a session's position in its lifecycle state machine.
//
//	WaitingToStart -> Running <-> Paused -> Terminal
//
// Terminal is absorbing: no tick advances and no further input is accepted
// once it is entered.
type Phase int32

const (
	PhaseWaitingToStart Phase = iota
	PhaseRunning
	PhasePaused
	PhaseTerminal
)

func (p Phase) String() string {
	switch p {
	case PhaseWaitingToStart:
		return "waiting_to_start"
	case PhaseRunning:
		return "running"
	case PhasePaused:
		return "paused"
	case PhaseTerminal:
		return "terminal"
	}
	return "unknown"
}

// ResultHook receives the single MatchResult a session produces on entering
// Terminal. It runs on the session goroutine and must not block teardown.
type ResultHook func(s *MatchSession, res MatchResult)

// MatchSession owns one live match: the engine, the two participant slots
// and the tick loop. All slot mutation is serialized under the session
// mutex; the engine is touched only by the tick goroutine.
type MatchSession struct {
	sync.RWMutex

	ID        string
	Mode      Mode
	CreatedAt time.Time

	// BracketID is the external tournament match this session settles;
	// empty outside tournament mode.
	BracketID string

	engine       *Engine
	participants [2]*Participant

	phase Phase

	inputCh chan Input

	ctx    context.Context
	cancel context.CancelFunc

	terminalOnce sync.Once
	result       *MatchResult

	resultHook ResultHook

	tickInterval time.Duration

	// lastProgress is the wall clock of the latest completed tick, read by
	// the stalled-session reaper.
	lastProgress atomic.Int64

	log slog.Logger
}

func newMatchSession(ctx context.Context, id string, mode Mode, tick time.Duration, hook ResultHook, log slog.Logger) *MatchSession {
	ctx, cancel := context.WithCancel(ctx)
	s := &MatchSession{
		ID:           id,
		Mode:         mode,
		CreatedAt:    time.Now(),
		engine:       NewEngine(log),
		phase:        PhaseWaitingToStart,
		inputCh:      make(chan Input, inputBufSize),
		ctx:          ctx,
		cancel:       cancel,
		resultHook:   hook,
		tickInterval: tick,
		log:          log,
	}
	s.lastProgress.Store(time.Now().UnixNano())
	return s
}

// Phase returns the current lifecycle phase.
func (s *MatchSession) Phase() Phase {
	s.RLock()
	defer s.RUnlock()
	return s.phase
}

// Result returns the MatchResult once the session is terminal, else nil.
func (s *MatchSession) Result() *MatchResult {
	s.RLock()
	defer s.RUnlock()
	if s.result == nil {
		return nil
	}
	res := *s.result
	return &res
}

// Participant returns the occupant of a slot, nil while the slot is empty.
func (s *MatchSession) Participant(slot Slot) *Participant {
	s.RLock()
	defer s.RUnlock()
	return s.slotRef(slot)
}

func (s *MatchSession) slotRef(slot Slot) *Participant {
	switch slot {
	case Slot1:
		return s.participants[0]
	case Slot2:
		return s.participants[1]
	}
	return nil
}

// bind attaches a participant to a slot. Exactly one concurrent attacher
// wins; the rest get ErrSlotOccupied.
func (s *MatchSession) bind(p *Participant, slot Slot) error {
	s.Lock()
	defer s.Unlock()
	if s.phase == PhaseTerminal {
		return fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	i := 0
	if slot == Slot2 {
		i = 1
	}
	if s.participants[i] != nil {
		return fmt.Errorf("session %s slot %s: %w", s.ID, slot, ErrSlotOccupied)
	}
	s.participants[i] = p
	p.AssignSlot(slot)
	return nil
}

// bindFree attaches a participant to the lowest empty slot and returns it.
func (s *MatchSession) bindFree(p *Participant) (Slot, error) {
	s.Lock()
	defer s.Unlock()
	if s.phase == PhaseTerminal {
		return SlotNone, fmt.Errorf("session %s: %w", s.ID, ErrNotFound)
	}
	for i, slot := range []Slot{Slot1, Slot2} {
		if s.participants[i] == nil {
			s.participants[i] = p
			p.AssignSlot(slot)
			return slot, nil
		}
	}
	return SlotNone, fmt.Errorf("session %s: %w", s.ID, ErrSlotOccupied)
}

// slotOf resolves the slot a client occupies, SlotNone when absent.
func (s *MatchSession) slotOf(id ClientID) Slot {
	s.RLock()
	defer s.RUnlock()
	if s.participants[0] != nil && s.participants[0].ID == id {
		return Slot1
	}
	if s.participants[1] != nil && s.participants[1].ID == id {
		return Slot2
	}
	return SlotNone
}

// bothBound reports whether both slots are occupied.
func (s *MatchSession) bothBound() bool {
	s.RLock()
	defer s.RUnlock()
	return s.participants[0] != nil && s.participants[1] != nil
}

// HandleInput buffers one movement action for the tick loop. The channel
// drops the oldest queued input under pressure rather than blocking the
// transport (ordering within what survives is preserved).
func (s *MatchSession) HandleInput(from ClientID, act Action, slotHint Slot) error {
	slot := s.slotOf(from)
	if slot == SlotNone {
		return fmt.Errorf("client %s not bound to session %s: %w", from, s.ID, ErrNotFound)
	}
	// Local mode multiplexes both logical players over one transport; the
	// frame may name the second slot explicitly.
	if s.Mode == ModeLocal && slotHint != SlotNone {
		slot = slotHint
	}
	if s.Phase() == PhaseTerminal {
		return fmt.Errorf("session %s already terminal: %w", s.ID, ErrNotFound)
	}

	in := Input{Slot: slot, Action: act}
	select {
	case s.inputCh <- in:
	default:
		select {
		case <-s.inputCh:
		default:
		}
		select {
		case s.inputCh <- in:
		default:
			s.log.Debugf("session %s: input channel full, dropping %s", s.ID, act)
		}
	}
	return nil
}

// Start moves WaitingToStart to Running on an explicit start action. The
// optional court dimensions come from the starting client's canvas.
func (s *MatchSession) Start(from ClientID, width, height float64) error {
	if s.slotOf(from) == SlotNone {
		return fmt.Errorf("client %s not bound to session %s: %w", from, s.ID, ErrNotFound)
	}
	if width > 0 && height > 0 {
		s.engine.Resize(width, height)
	}
	s.Lock()
	defer s.Unlock()
	if s.phase != PhaseWaitingToStart {
		return nil
	}
	if s.participants[0] == nil || s.participants[1] == nil {
		return fmt.Errorf("session %s: both slots must be bound before start", s.ID)
	}
	s.phase = PhaseRunning
	return nil
}

// maybeAutoStart begins the simulation without an explicit start action.
// Solo and tournament sessions run as soon as both slots are bound.
func (s *MatchSession) maybeAutoStart() {
	if s.Mode != ModeSolo && s.Mode != ModeTournament {
		return
	}
	if !s.bothBound() {
		return
	}
	s.Lock()
	if s.phase == PhaseWaitingToStart {
		s.phase = PhaseRunning
	}
	s.Unlock()
}

// Pause suspends simulation; inputs stay buffered for the resume.
func (s *MatchSession) Pause(from ClientID) error {
	if s.slotOf(from) == SlotNone {
		return fmt.Errorf("client %s not bound to session %s: %w", from, s.ID, ErrNotFound)
	}
	s.Lock()
	defer s.Unlock()
	if s.phase == PhaseRunning {
		s.phase = PhasePaused
	}
	return nil
}

// Resume continues a paused session. Either participant may resume.
func (s *MatchSession) Resume(from ClientID) error {
	if s.slotOf(from) == SlotNone {
		return fmt.Errorf("client %s not bound to session %s: %w", from, s.ID, ErrNotFound)
	}
	s.Lock()
	defer s.Unlock()
	if s.phase == PhasePaused {
		s.phase = PhaseRunning
	}
	return nil
}

// Forfeit ends the session in favor of the opponent.
func (s *MatchSession) Forfeit(from ClientID) error {
	slot := s.slotOf(from)
	if slot == SlotNone {
		return fmt.Errorf("client %s not bound to session %s: %w", from, s.ID, ErrNotFound)
	}
	s.terminate(ReasonForfeit, slot.Other())
	return nil
}

// Detach handles an abrupt transport closure. A disconnect while the match
// is live is terminal for the session, in favor of the remaining slot.
func (s *MatchSession) Detach(id ClientID) {
	slot := s.slotOf(id)
	if slot == SlotNone {
		return
	}
	switch s.Phase() {
	case PhaseRunning, PhasePaused, PhaseWaitingToStart:
		s.terminate(ReasonOpponentDisconnected, slot.Other())
	}
}

// ForceTerminate ends a stalled session; the reaper picks the winner.
func (s *MatchSession) ForceTerminate(winner Slot) {
	s.terminate(ReasonOpponentDisconnected, winner)
}

// LastProgress is the wall clock of the most recent completed tick.
func (s *MatchSession) LastProgress() time.Time {
	return time.Unix(0, s.lastProgress.Load())
}

// terminate enters Terminal exactly once, produces the MatchResult, notifies
// both participants and fires the result hook.
func (s *MatchSession) terminate(reason Reason, winner Slot) {
	s.terminalOnce.Do(func() {
		s.Lock()
		s.phase = PhaseTerminal
		w := s.slotRef(winner)
		res := MatchResult{
			SessionID:  s.ID,
			Mode:       s.Mode,
			WinnerSlot: winner,
			Reason:     reason,
			FinishedAt: time.Now(),
			BracketID:  s.BracketID,
		}
		if w != nil {
			res.Winner = w.ID
		}
		s.result = &res
		parts := s.participants
		s.Unlock()

		s.log.Infof("session %s terminal: reason=%s winner=%s", s.ID, reason, winner)

		msg := fmt.Sprintf("Game over: %s wins (%s)", winner, reason)
		for _, p := range parts {
			if p == nil {
				continue
			}
			p.EnqueueEvent(Event{
				Type:      EventGameOver,
				Message:   msg,
				SessionID: s.ID,
				Result:    &res,
			})
		}

		if s.resultHook != nil {
			s.resultHook(s, res)
		}
		s.cancel()
	})
}

// run is the per-session tick loop. One goroutine per live session; it owns
// every engine mutation.
func (s *MatchSession) run() {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			switch s.Phase() {
			case PhaseTerminal:
				return
			case PhaseWaitingToStart:
				// Waiting for contestants is not progress: a session
				// nobody ever starts stalls out and gets reaped, so it
				// cannot pin the registry's capacity bound forever.
				continue
			case PhasePaused:
				// No simulation advance; inputs stay queued. A paused
				// match with live transports still counts as progress.
				s.lastProgress.Store(time.Now().UnixNano())
				continue
			}
			s.step()
		}
	}
}

// step applies queued inputs in arrival order, advances physics once and
// emits the snapshot to both participants.
func (s *MatchSession) step() {
	for {
		select {
		case in := <-s.inputCh:
			s.engine.Apply(in)
			continue
		default:
		}
		break
	}

	conceded, depleted := s.engine.Tick()
	s.lastProgress.Store(time.Now().UnixNano())

	snap := s.engine.Snapshot()
	s.RLock()
	parts := s.participants
	s.RUnlock()
	for _, p := range parts {
		p.pushFrame(snap)
	}

	if depleted {
		s.terminate(ReasonLifepointsDepleted, conceded.Other())
	}
}
