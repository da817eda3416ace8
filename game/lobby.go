package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

// Ticket is one waiting participant's pairing request. Tickets are ordered
// by a monotonic counter, not wall clock, so simultaneous enqueues still
// pair deterministically.
type Ticket struct {
	ID       string
	Identity ClientID
	Mode     Mode

	// Seq is assigned under the lobby lock together with the queue append,
	// so queue position always agrees with the counter.
	Seq        uint64
	EnqueuedAt time.Time

	// SessionID is set when the ticket resolved into a session at enqueue
	// time (solo mode pairs against a bot immediately).
	SessionID string

	participant *Participant
}

// Lobby queues waiting participants and pairs them into sessions. Queue
// state is in-memory only; a restart loses all waiting tickets and clients
// simply re-request.
type Lobby struct {
	mu sync.Mutex

	queues map[Mode][]*Ticket
	byID   map[string]*Ticket

	seq uint64 // guarded by mu

	registry    *Registry
	waitTimeout time.Duration

	log slog.Logger
}

// NewLobby builds a lobby that creates sessions through registry. Tickets
// waiting longer than waitTimeout are evicted by EvictStale.
func NewLobby(registry *Registry, waitTimeout time.Duration, log slog.Logger) *Lobby {
	return &Lobby{
		queues:      make(map[Mode][]*Ticket),
		byID:        make(map[string]*Ticket),
		registry:    registry,
		waitTimeout: waitTimeout,
		log:         log,
	}
}

// Enqueue registers a pairing request for an authenticated participant.
// Solo mode pairs immediately against a synthetic bot; other modes join the
// FIFO queue for that mode and pair as soon as two tickets are waiting. A
// client that is already waiting or already bound to a live session may not
// enqueue again.
func (l *Lobby) Enqueue(p *Participant, mode Mode) (*Ticket, error) {
	if p == nil || p.ID == "" {
		return nil, fmt.Errorf("lobby enqueue: %w", ErrUnauthorized)
	}
	if s := l.registry.SessionFor(p.ID); s != nil {
		return nil, fmt.Errorf("client %s bound to session %s: %w", p.ID, s.ID, ErrAlreadyQueued)
	}
	l.mu.Lock()
	dup := l.ticketForLocked(p.ID)
	l.mu.Unlock()
	if dup != nil {
		return nil, fmt.Errorf("client %s holds ticket %s: %w", p.ID, dup.ID, ErrAlreadyQueued)
	}

	t := &Ticket{
		ID:          uuid.NewString(),
		Identity:    p.ID,
		Mode:        mode,
		EnqueuedAt:  time.Now(),
		participant: p,
	}

	switch mode {
	case ModeSolo:
		s, err := l.pairWithBot(p)
		if err != nil {
			return nil, err
		}
		t.SessionID = s.ID
		return t, nil
	case ModeLocal:
		s, err := l.startLocal(p)
		if err != nil {
			return nil, err
		}
		t.SessionID = s.ID
		return t, nil
	case ModePrivate:
		s, err := l.registry.CreateSession([]*Participant{p}, ModePrivate)
		if err != nil {
			return nil, err
		}
		t.SessionID = s.ID
		p.EnqueueEvent(Event{Type: EventGameFound, SessionID: s.ID, Slot: Slot1})
		return t, nil
	}

	l.mu.Lock()
	// Recheck under the same lock as the append so two racing enqueues of
	// one identity cannot both slip in.
	if qt := l.ticketForLocked(p.ID); qt != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("client %s holds ticket %s: %w", p.ID, qt.ID, ErrAlreadyQueued)
	}
	l.seq++
	t.Seq = l.seq
	l.queues[mode] = append(l.queues[mode], t)
	l.byID[t.ID] = t
	l.mu.Unlock()

	l.log.Debugf("ticket %s enqueued: client=%s mode=%s seq=%d", t.ID, p.ID, mode, t.Seq)

	p.EnqueueEvent(Event{Type: EventWaiting, Message: "Waiting for an opponent..."})

	l.tryPair(mode)
	return t, nil
}

// tryPair pops the two oldest tickets of a mode into a new session. FIFO by
// arrival counter: fairness over latency. Popped tickets stay in byID until
// pairing resolves so a concurrent Cancel is observed and not silently
// undone by the failure requeue.
func (l *Lobby) tryPair(mode Mode) {
	for {
		l.mu.Lock()
		q := l.queues[mode]
		if len(q) < 2 {
			l.mu.Unlock()
			return
		}
		a, b := q[0], q[1]
		l.queues[mode] = q[2:]
		l.mu.Unlock()

		s, err := l.registry.CreateSession([]*Participant{a.participant, b.participant}, mode)
		if err != nil {
			// Registry full: requeue whichever tickets were not cancelled
			// in the meantime, in original order, and retry later.
			l.log.Warnf("pairing %s/%s failed: %v", a.Identity, b.Identity, err)
			for _, t := range l.requeueWaiting(mode, []*Ticket{a, b}) {
				t.participant.EnqueueEvent(Event{Type: EventWaiting, Message: "Server busy, still waiting..."})
			}
			return
		}

		l.mu.Lock()
		delete(l.byID, a.ID)
		delete(l.byID, b.ID)
		l.mu.Unlock()

		l.log.Infof("session %s paired: %s vs %s", s.ID, a.Identity, b.Identity)

		a.participant.EnqueueEvent(Event{Type: EventGameFound, SessionID: s.ID, Slot: Slot1})
		b.participant.EnqueueEvent(Event{Type: EventGameFound, SessionID: s.ID, Slot: Slot2})
	}
}

// requeueWaiting re-inserts tickets at the front of a mode's queue, keeping
// their relative order. Tickets no longer present in byID were cancelled or
// evicted while pairing was in flight and are dropped. Returns the tickets
// that survived.
func (l *Lobby) requeueWaiting(mode Mode, tickets []*Ticket) []*Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()
	var keep []*Ticket
	for _, t := range tickets {
		if _, ok := l.byID[t.ID]; ok {
			keep = append(keep, t)
		} else {
			l.log.Debugf("ticket %s cancelled during pairing, dropping", t.ID)
		}
	}
	l.queues[mode] = append(append([]*Ticket{}, keep...), l.queues[mode]...)
	return keep
}

// pairWithBot creates a session against a synthetic bot participant and
// starts the bot's input loop.
func (l *Lobby) pairWithBot(p *Participant) (*MatchSession, error) {
	bot := NewBotParticipant()
	s, err := l.registry.CreateSession([]*Participant{p, bot}, ModeSolo)
	if err != nil {
		return nil, err
	}
	RunBot(s, bot)

	p.EnqueueEvent(Event{Type: EventGameFound, SessionID: s.ID, Slot: Slot1})
	return s, nil
}

// startLocal creates a session where one transport drives both paddles. The
// second slot gets a channel-less shadow ref so frames are not duplicated to
// the shared connection; input frames name the second slot explicitly.
func (l *Lobby) startLocal(p *Participant) (*MatchSession, error) {
	shadow := &Participant{
		ID:   p.ID + ":p2",
		Nick: p.Nick + " (P2)",
	}
	s, err := l.registry.CreateSession([]*Participant{p, shadow}, ModeLocal)
	if err != nil {
		return nil, err
	}
	p.EnqueueEvent(Event{Type: EventGameFound, SessionID: s.ID, Slot: Slot1})
	return s, nil
}

// Cancel removes a still-waiting ticket. Cancelling a ticket that already
// paired (or never existed) is a no-op.
func (l *Lobby) Cancel(ticketID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.byID[ticketID]
	if !ok {
		return
	}
	delete(l.byID, ticketID)
	l.removeLocked(t)
}

// CancelByClient drops every waiting ticket a client holds; called on
// transport disconnect.
func (l *Lobby) CancelByClient(id ClientID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range l.byID {
		if t.Identity == id {
			delete(l.byID, t.ID)
			l.removeLocked(t)
		}
	}
}

// ticketForLocked returns the live ticket an identity holds, nil when none.
// Callers hold l.mu.
func (l *Lobby) ticketForLocked(id ClientID) *Ticket {
	for _, t := range l.byID {
		if t.Identity == id {
			return t
		}
	}
	return nil
}

func (l *Lobby) removeLocked(t *Ticket) {
	q := l.queues[t.Mode]
	for i, qt := range q {
		if qt.ID == t.ID {
			l.queues[t.Mode] = append(q[:i], q[i+1:]...)
			return
		}
	}
}

// EvictStale removes tickets waiting longer than the configured timeout and
// tells the client it is still unpaired. Clients may re-request at will.
func (l *Lobby) EvictStale() int {
	if l.waitTimeout <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-l.waitTimeout)

	l.mu.Lock()
	var evicted []*Ticket
	for _, t := range l.byID {
		if t.EnqueuedAt.Before(cutoff) {
			delete(l.byID, t.ID)
			l.removeLocked(t)
			evicted = append(evicted, t)
		}
	}
	l.mu.Unlock()

	for _, t := range evicted {
		l.log.Debugf("ticket %s evicted after %s", t.ID, l.waitTimeout)
		t.participant.EnqueueEvent(Event{
			Type:    EventWaiting,
			Message: "No opponent found yet, please try again.",
		})
	}
	return len(evicted)
}

// Waiting is the number of queued tickets for a mode.
func (l *Lobby) Waiting(mode Mode) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queues[mode])
}
