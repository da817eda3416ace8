package game

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLobby(t *testing.T, maxSessions int) (*Lobby, *Registry) {
	t.Helper()
	r := NewRegistry(context.Background(), RegistryConfig{
		MaxSessions:  maxSessions,
		TickInterval: time.Millisecond,
		Log:          slog.Disabled,
	})
	return NewLobby(r, time.Minute, slog.Disabled), r
}

func drainEvents(p *Participant) []Event {
	var evs []Event
	for {
		select {
		case ev := <-p.Events:
			evs = append(evs, ev)
		default:
			return evs
		}
	}
}

func TestLobby_PairsInArrivalOrder(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	b := NewParticipant("b", "B")
	c := NewParticipant("c", "C")
	d := NewParticipant("d", "D")

	for _, p := range []*Participant{a, b, c, d} {
		_, err := l.Enqueue(p, ModeRemote)
		require.NoError(t, err)
	}

	// Four enqueues pair into (a,b) and (c,d).
	assert.Equal(t, 0, l.Waiting(ModeRemote))
	assert.Equal(t, 2, r.Len())

	sab := r.SessionFor("a")
	require.NotNil(t, sab)
	assert.Equal(t, sab, r.SessionFor("b"))
	scd := r.SessionFor("c")
	require.NotNil(t, scd)
	assert.Equal(t, scd, r.SessionFor("d"))
	assert.NotEqual(t, sab.ID, scd.ID)

	// First arrival takes player1.
	assert.Equal(t, Slot1, a.CurrentSlot())
	assert.Equal(t, Slot2, b.CurrentSlot())

	// Both sides heard waiting then game_found.
	evs := drainEvents(a)
	require.NotEmpty(t, evs)
	assert.Equal(t, EventWaiting, evs[0].Type)
	last := evs[len(evs)-1]
	assert.Equal(t, EventGameFound, last.Type)
	assert.Equal(t, sab.ID, last.SessionID)
}

func TestLobby_DuplicateEnqueueRejected(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	_, err := l.Enqueue(a, ModeRemote)
	require.NoError(t, err)

	// A second find request while the first ticket still waits is rejected
	// instead of pairing the client against itself.
	_, err = l.Enqueue(a, ModeRemote)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 1, l.Waiting(ModeRemote))
	assert.Equal(t, 0, r.Len())

	// Switching modes while waiting is rejected too.
	_, err = l.Enqueue(a, ModeSolo)
	assert.ErrorIs(t, err, ErrAlreadyQueued)

	b := NewParticipant("b", "B")
	_, err = l.Enqueue(b, ModeRemote)
	require.NoError(t, err)

	s := r.SessionFor("a")
	require.NotNil(t, s)
	// Self-pairing never happens: both slots hold distinct participants.
	assert.NotEqual(t, s.Participant(Slot1), s.Participant(Slot2))
	assert.Equal(t, ClientID("b"), s.Participant(Slot2).ID)
}

func TestLobby_EnqueueWhileInSessionRejected(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	tk, err := l.Enqueue(a, ModeSolo)
	require.NoError(t, err)
	require.NotNil(t, r.Session(tk.SessionID))

	_, err = l.Enqueue(a, ModeRemote)
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	assert.Equal(t, 0, l.Waiting(ModeRemote))

	// Once the session is gone the client may queue again.
	r.Destroy(tk.SessionID)
	_, err = l.Enqueue(a, ModeRemote)
	require.NoError(t, err)
}

func TestLobby_QueueOrderMatchesCounter(t *testing.T) {
	l, r := newTestLobby(t, 1)

	// Fill the registry so pairing cannot fire and every ticket stays
	// queued (failed pairings requeue in order).
	_, err := r.CreateSession([]*Participant{
		NewParticipant("x", "X"), NewParticipant("y", "Y"),
	}, ModeRemote)
	require.NoError(t, err)

	// Concurrent enqueues must leave the queue ordered by the arrival
	// counter: seq assignment and append happen under one lock.
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := NewParticipant(ClientID(fmt.Sprintf("c%d", i)), "")
			l.Enqueue(p, ModeTournament)
		}(i)
	}
	wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queues[ModeTournament]
	require.Len(t, q, n)
	for i := 1; i < n; i++ {
		assert.Greater(t, q[i].Seq, q[i-1].Seq, "queue position %d out of arrival order", i)
	}
}

func TestLobby_RequeueSkipsCancelledTickets(t *testing.T) {
	l, r := newTestLobby(t, 1)

	// Fill the registry so pairing fails and both tickets stay queued.
	_, err := r.CreateSession([]*Participant{
		NewParticipant("x", "X"), NewParticipant("y", "Y"),
	}, ModeRemote)
	require.NoError(t, err)

	a := NewParticipant("a", "A")
	b := NewParticipant("b", "B")
	ta, err := l.Enqueue(a, ModeRemote)
	require.NoError(t, err)
	tb, err2 := l.Enqueue(b, ModeRemote)
	require.NoError(t, err2)

	// Simulate the pairing window: both tickets popped from the queue but
	// session creation not yet resolved.
	l.mu.Lock()
	q := l.queues[ModeRemote]
	require.Len(t, q, 2)
	popped := []*Ticket{q[0], q[1]}
	l.queues[ModeRemote] = q[2:]
	l.mu.Unlock()

	// A cancel landing inside that window must not be undone by the
	// failure requeue.
	l.Cancel(ta.ID)

	keep := l.requeueWaiting(ModeRemote, popped)
	require.Len(t, keep, 1)
	assert.Equal(t, tb.ID, keep[0].ID)
	assert.Equal(t, 1, l.Waiting(ModeRemote))

	// The cancelled client is free to queue again and is not resurrected.
	_, err = l.Enqueue(a, ModeRemote)
	require.NoError(t, err)
}

func TestLobby_SingleTicketWaits(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	tk, err := l.Enqueue(a, ModeRemote)
	require.NoError(t, err)
	assert.Empty(t, tk.SessionID)
	assert.Equal(t, 1, l.Waiting(ModeRemote))
	assert.Equal(t, 0, r.Len())
}

func TestLobby_UnauthenticatedRejected(t *testing.T) {
	l, _ := newTestLobby(t, 0)
	_, err := l.Enqueue(nil, ModeRemote)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.Enqueue(&Participant{}, ModeRemote)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLobby_SoloPairsWithBotImmediately(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	tk, err := l.Enqueue(a, ModeSolo)
	require.NoError(t, err)
	require.NotEmpty(t, tk.SessionID)

	s := r.Session(tk.SessionID)
	require.NotNil(t, s)
	assert.Equal(t, ModeSolo, s.Mode)
	// Solo sessions run without an explicit start.
	assert.Equal(t, PhaseRunning, s.Phase())

	bot := s.Participant(Slot2)
	require.NotNil(t, bot)
	assert.True(t, bot.Bot)
}

func TestLobby_LocalModeStartsImmediately(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	tk, err := l.Enqueue(a, ModeLocal)
	require.NoError(t, err)
	require.NotEmpty(t, tk.SessionID)

	s := r.Session(tk.SessionID)
	require.NotNil(t, s)
	// Both slots bound, explicit start still required.
	assert.Equal(t, PhaseWaitingToStart, s.Phase())
	require.NoError(t, s.Start("a", 0, 0))
}

func TestLobby_PrivateLeavesSecondSlotOpen(t *testing.T) {
	l, r := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	tk, err := l.Enqueue(a, ModePrivate)
	require.NoError(t, err)
	require.NotEmpty(t, tk.SessionID)

	s := r.Session(tk.SessionID)
	require.NotNil(t, s)
	assert.Nil(t, s.Participant(Slot2))

	b := NewParticipant("b", "B")
	slot, err := r.AttachFree(tk.SessionID, b)
	require.NoError(t, err)
	assert.Equal(t, Slot2, slot)
}

func TestLobby_CancelIsIdempotent(t *testing.T) {
	l, _ := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	tk, err := l.Enqueue(a, ModeRemote)
	require.NoError(t, err)

	l.Cancel(tk.ID)
	assert.Equal(t, 0, l.Waiting(ModeRemote))
	l.Cancel(tk.ID)
	l.Cancel("no-such-ticket")

	// A cancelled ticket never pairs.
	b := NewParticipant("b", "B")
	_, err = l.Enqueue(b, ModeRemote)
	require.NoError(t, err)
	assert.Equal(t, 1, l.Waiting(ModeRemote))
}

func TestLobby_CancelByClient(t *testing.T) {
	l, _ := newTestLobby(t, 0)

	a := NewParticipant("a", "A")
	_, err := l.Enqueue(a, ModeRemote)
	require.NoError(t, err)

	l.CancelByClient("a")
	assert.Equal(t, 0, l.Waiting(ModeRemote))
}

func TestLobby_RegistryFullKeepsTicketsQueued(t *testing.T) {
	l, r := newTestLobby(t, 1)

	// Fill the registry.
	_, err := r.CreateSession([]*Participant{
		NewParticipant("x", "X"), NewParticipant("y", "Y"),
	}, ModeRemote)
	require.NoError(t, err)

	a := NewParticipant("a", "A")
	b := NewParticipant("b", "B")
	_, err = l.Enqueue(a, ModeRemote)
	require.NoError(t, err)
	_, err = l.Enqueue(b, ModeRemote)
	require.NoError(t, err)

	// Pairing failed but the tickets survive in order.
	assert.Equal(t, 2, l.Waiting(ModeRemote))
	assert.Equal(t, 1, r.Len())
}

func TestLobby_EvictStale(t *testing.T) {
	r := NewRegistry(context.Background(), RegistryConfig{
		TickInterval: time.Millisecond,
		Log:          slog.Disabled,
	})
	l := NewLobby(r, 10*time.Millisecond, slog.Disabled)

	a := NewParticipant("a", "A")
	_, err := l.Enqueue(a, ModeRemote)
	require.NoError(t, err)

	assert.Equal(t, 0, l.EvictStale(), "fresh ticket survives")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, l.EvictStale())
	assert.Equal(t, 0, l.Waiting(ModeRemote))
}
