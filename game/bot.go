package game

import (
	"fmt"
	"sync/atomic"
)

// Bot paddles chase the ball with a small deadband so they do not jitter
// when the ball is level with the paddle center.
const botDeadband = paddleHeight / 4

var botSeq atomic.Uint64

// NewBotParticipant builds the synthetic second participant used for solo
// sessions. Bots hold a distinct identity so MatchResult always names a
// winner.
func NewBotParticipant() *Participant {
	n := botSeq.Add(1)
	p := NewParticipant(ClientID(fmt.Sprintf("bot-%d", n)), fmt.Sprintf("Bot %d", n))
	p.Bot = true
	return p
}

// RunBot starts the bot's input loop on its own goroutine. It consumes the
// bot participant's snapshot stream like any remote transport would and
// feeds movement actions back through the session's ordinary input path,
// so bot matches exercise the same ordering rules as remote ones.
func RunBot(s *MatchSession, bot *Participant) {
	go func() {
		var moving Action
		for {
			select {
			case <-s.ctx.Done():
				return
			case snap, ok := <-bot.FrameCh:
				if !ok {
					return
				}
				slot := bot.CurrentSlot()
				paddle := snap.P2
				if slot == Slot1 {
					paddle = snap.P1
				}

				want := desiredMove(paddle.Y+paddleHeight/2, snap.Ball.Y)
				if want == moving {
					continue
				}
				// Release the previous key before pressing the next one,
				// mirroring how a keyboard client behaves.
				switch moving {
				case ActionMoveUp:
					_ = s.HandleInput(bot.ID, ActionStopMoveUp, SlotNone)
				case ActionMoveDown:
					_ = s.HandleInput(bot.ID, ActionStopMoveDown, SlotNone)
				}
				if want != "" {
					_ = s.HandleInput(bot.ID, want, SlotNone)
				}
				moving = want
			}
		}
	}()
}

// desiredMove returns the action that closes the gap between the paddle
// center and the ball, or "" inside the deadband.
func desiredMove(paddleCenter, ballY float64) Action {
	switch {
	case ballY < paddleCenter-botDeadband:
		return ActionMoveUp
	case ballY > paddleCenter+botDeadband:
		return ActionMoveDown
	}
	return ""
}
