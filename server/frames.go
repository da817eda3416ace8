package server

import (
	"encoding/json"
	"fmt"

	"pongarena/game"
)

// clientFrame is one JSON message received from a client. A single shape
// covers every action; unused fields stay at their zero value.
type clientFrame struct {
	Action string `json:"action"`

	// find_game
	Mode string `json:"mode,omitempty"`

	// join_game
	GameID string `json:"game_id,omitempty"`

	// start_game carries the client's canvas dimensions.
	Width  float64 `json:"width,omitempty"`
	Height float64 `json:"height,omitempty"`

	// Local mode names the paddle a movement frame drives.
	Slot int `json:"slot,omitempty"`
}

// decodeClientFrame parses raw bytes into a clientFrame. Malformed JSON or a
// missing action wraps ErrMalformedMessage; the connection survives.
func decodeClientFrame(raw []byte) (clientFrame, error) {
	var f clientFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if f.Action == "" {
		return f, fmt.Errorf("%w: missing action", ErrMalformedMessage)
	}
	return f, nil
}

// slotHint converts the optional frame slot into a game slot.
func (f clientFrame) slotHint() game.Slot {
	switch f.Slot {
	case 1:
		return game.Slot1
	case 2:
		return game.Slot2
	}
	return game.SlotNone
}

// Outbound frame types.
const (
	frameWaiting        = "waiting"
	frameGameFound      = "game_found"
	framePositionUpdate = "position_update"
	frameGameOver       = "game_over"
	frameError          = "error"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type paddleFrame struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Lifepoints int32   `json:"lifepoints"`
}

// serverFrame is one JSON message sent to a client.
type serverFrame struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`

	// game_found
	GameID string `json:"game_id,omitempty"`
	Role   string `json:"role,omitempty"`

	// position_update
	Ball *point       `json:"ball_position,omitempty"`
	P1   *paddleFrame `json:"player1_state,omitempty"`
	P2   *paddleFrame `json:"player2_state,omitempty"`
}

func waitingFrame(msg string) serverFrame {
	return serverFrame{Type: frameWaiting, Message: msg}
}

func gameFoundFrame(sessionID string, slot game.Slot) serverFrame {
	return serverFrame{Type: frameGameFound, GameID: sessionID, Role: slot.String()}
}

func gameOverFrame(msg string) serverFrame {
	return serverFrame{Type: frameGameOver, Message: msg}
}

func errorFrame(msg string) serverFrame {
	return serverFrame{Type: frameError, Message: msg}
}

func positionFrame(s game.SimulationState) serverFrame {
	return serverFrame{
		Type: framePositionUpdate,
		Ball: &point{X: s.Ball.X, Y: s.Ball.Y},
		P1:   &paddleFrame{X: s.P1.X, Y: s.P1.Y, Lifepoints: s.P1.Lifepoints},
		P2:   &paddleFrame{X: s.P2.X, Y: s.P2.Y, Lifepoints: s.P2.Lifepoints},
	}
}
