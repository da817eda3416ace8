package game

import (
	"context"
	"testing"
	"time"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDesiredMove(t *testing.T) {
	assert.Equal(t, ActionMoveUp, desiredMove(200, 100))
	assert.Equal(t, ActionMoveDown, desiredMove(200, 300))
	// Inside the deadband the bot holds still.
	assert.Equal(t, Action(""), desiredMove(200, 200+botDeadband/2))
}

func TestBotParticipantsAreDistinct(t *testing.T) {
	a := NewBotParticipant()
	b := NewBotParticipant()
	assert.True(t, a.Bot)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestBotChasesBall(t *testing.T) {
	s := newMatchSession(context.Background(), "bot-session", ModeSolo, time.Millisecond, nil, slog.Disabled)
	p := NewParticipant("human", "Human")
	bot := NewBotParticipant()
	require.NoError(t, s.bind(p, Slot1))
	require.NoError(t, s.bind(bot, Slot2))
	s.maybeAutoStart()

	RunBot(s, bot)
	go s.run()
	defer s.cancel()

	// The bot's paddle must track the ball away from its spawn row within
	// a reasonable number of ticks.
	start := s.engine.Snapshot().P2.Y
	deadline := time.After(10 * time.Second)
	for {
		select {
		case snap := <-p.FrameCh:
			if snap.P2.Y != start {
				return
			}
		case <-deadline:
			t.Fatal("bot paddle never moved")
		}
	}
}
