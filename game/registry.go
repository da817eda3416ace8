package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/utils"
)

// Registry owns the process-wide map of live sessions. It is the single
// authority for create, attach and destroy; everything else holds sessions
// only through it.
type Registry struct {
	mu sync.RWMutex

	sessions      map[string]*MatchSession
	byParticipant map[ClientID]*MatchSession

	maxSessions  int
	tickInterval time.Duration
	resultHook   ResultHook

	ctx context.Context
	log slog.Logger
}

// RegistryConfig bounds and wires a Registry.
type RegistryConfig struct {
	MaxSessions  int
	TickInterval time.Duration
	ResultHook   ResultHook
	Log          slog.Logger
}

// NewRegistry builds an empty registry. ctx bounds the lifetime of every
// session tick loop it creates.
func NewRegistry(ctx context.Context, cfg RegistryConfig) *Registry {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 60
	}
	return &Registry{
		sessions:      make(map[string]*MatchSession),
		byParticipant: make(map[ClientID]*MatchSession),
		maxSessions:   cfg.MaxSessions,
		tickInterval:  cfg.TickInterval,
		resultHook:    cfg.ResultHook,
		ctx:           ctx,
		log:           cfg.Log,
	}
}

// CreateSession allocates a session, binds the given participants to slots
// in order and starts its tick loop. The second participant may be nil for
// direct-admission modes (tournament, private invite); the slot stays open
// for Attach.
func (r *Registry) CreateSession(parts []*Participant, mode Mode) (*MatchSession, error) {
	id, err := utils.GenerateRandomString(16)
	if err != nil {
		return nil, fmt.Errorf("allocate session id: %w", err)
	}

	r.mu.Lock()
	if r.maxSessions > 0 && len(r.sessions) >= r.maxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%d live sessions: %w", r.maxSessions, ErrCapacityExceeded)
	}
	s := newMatchSession(r.ctx, id, mode, r.tickInterval, r.resultHook, r.log)
	r.sessions[id] = s
	r.mu.Unlock()

	slots := [2]Slot{Slot1, Slot2}
	for i, p := range parts {
		if p == nil || i > 1 {
			continue
		}
		if err := s.bind(p, slots[i]); err != nil {
			// Fresh session, slots empty; only a programming error gets here.
			r.Destroy(id)
			return nil, err
		}
		r.mu.Lock()
		r.byParticipant[p.ID] = s
		r.mu.Unlock()
	}

	s.maybeAutoStart()
	go s.run()

	r.log.Debugf("session %s created: mode=%s", id, mode)
	return s, nil
}

// CreateBracketSession allocates an empty tournament session settling the
// given external bracket match. Both slots stay open for AttachFree.
func (r *Registry) CreateBracketSession(bracketID string) (*MatchSession, error) {
	s, err := r.CreateSession(nil, ModeTournament)
	if err != nil {
		return nil, err
	}
	s.Lock()
	s.BracketID = bracketID
	s.Unlock()
	return s, nil
}

// Attach binds a participant to a named slot of an existing session; used
// for tournament and private-invite admission instead of queue pairing.
// Exactly one of two racing attaches to the same empty slot succeeds.
func (r *Registry) Attach(sessionID string, p *Participant, slot Slot) error {
	s := r.Session(sessionID)
	if s == nil {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err := s.bind(p, slot); err != nil {
		return err
	}
	r.mu.Lock()
	r.byParticipant[p.ID] = s
	r.mu.Unlock()

	s.maybeAutoStart()
	return nil
}

// AttachFree binds a participant to the lowest empty slot of an existing
// session and returns the slot it won.
func (r *Registry) AttachFree(sessionID string, p *Participant) (Slot, error) {
	s := r.Session(sessionID)
	if s == nil {
		return SlotNone, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	slot, err := s.bindFree(p)
	if err != nil {
		return SlotNone, err
	}
	r.mu.Lock()
	r.byParticipant[p.ID] = s
	r.mu.Unlock()

	s.maybeAutoStart()
	return slot, nil
}

// Session returns a live session by id, nil when unknown.
func (r *Registry) Session(id string) *MatchSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// SessionFor returns the live session a client is bound to, nil when none.
func (r *Registry) SessionFor(id ClientID) *MatchSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byParticipant[id]
}

// Detach reports an abrupt transport closure for a client. The owning
// session (if any) transitions to Terminal per the disconnect rule; the
// participant index entry is removed either way.
func (r *Registry) Detach(id ClientID) {
	r.mu.Lock()
	s := r.byParticipant[id]
	delete(r.byParticipant, id)
	r.mu.Unlock()

	if s != nil {
		s.Detach(id)
	}
}

// Destroy tears a session down: cancels its tick loop and releases all
// bindings. Idempotent; destroying an unknown id is a no-op.
func (r *Registry) Destroy(id string) {
	r.mu.Lock()
	s := r.sessions[id]
	delete(r.sessions, id)
	if s != nil {
		s.RLock()
		parts := s.participants
		s.RUnlock()
		for _, p := range parts {
			if p != nil && r.byParticipant[p.ID] == s {
				delete(r.byParticipant, p.ID)
			}
		}
	}
	r.mu.Unlock()

	if s == nil {
		return
	}
	s.cancel()
	r.log.Debugf("session %s destroyed", id)
}

// Len is the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// snapshot returns a shallow copy of the live map for iteration without
// holding the registry lock.
func (r *Registry) snapshot() []*MatchSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*MatchSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ReapStalled force-terminates running sessions whose tick loop has made no
// progress within grace (transport stalled but never closed). The slot with
// more lifepoints is ruled the winner; ties go to player1. Returns how many
// sessions were reaped.
func (r *Registry) ReapStalled(grace time.Duration) int {
	cutoff := time.Now().Add(-grace)
	n := 0
	for _, s := range r.snapshot() {
		if s.Phase() == PhaseTerminal {
			continue
		}
		if s.LastProgress().After(cutoff) {
			continue
		}
		winner := Slot1
		if s.engine.Lifepoints(Slot2) > s.engine.Lifepoints(Slot1) {
			winner = Slot2
		}
		r.log.Warnf("session %s stalled for over %s, force-terminating", s.ID, grace)
		s.ForceTerminate(winner)
		n++
	}
	return n
}
