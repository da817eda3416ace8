package game

import (
	"sync"

	"github.com/decred/slog"
	"github.com/ndabAP/ping-pong/engine"
)

// Court and motion defaults. The court matches the original 800x400 canvas;
// speeds are expressed per tick so the simulation depends only on the input
// sequence and tick count, never on wall-clock time.
const (
	defaultCourtWidth  = 800.0
	defaultCourtHeight = 400.0

	paddleWidth  = 10.0
	paddleHeight = 100.0
	ballSide     = 10.0

	paddleSpeed   = 3.0 // units per tick
	ballSpeedX    = 2.0 // serve velocity, units per tick
	ballSpeedY    = 2.0
	ballSpeedIncr = 0.5 // per paddle return
	ballSpeedMax  = 8.0

	// DefaultMaxLife is the lifepoint total each slot starts with.
	DefaultMaxLife = 5
)

// Engine is the authoritative physics and scoring core of one session. All
// mutation happens on the owning session's tick loop; the mutex only covers
// the court resize window before the first tick.
type Engine struct {
	mu sync.Mutex

	court engine.Game

	ballPos Vec2
	ballVel Vec2
	p1Pos   Vec2
	p2Pos   Vec2
	p1Vel   float64
	p2Vel   float64

	life [2]int32
	tick uint64

	// serveDir is the x direction of the next serve; it always points at
	// the slot that conceded the last point, so replays are deterministic.
	serveDir float64

	log slog.Logger
}

// NewEngine builds an engine over the default court.
func NewEngine(log slog.Logger) *Engine {
	e := &Engine{
		court: engine.NewGame(
			defaultCourtWidth, defaultCourtHeight,
			engine.NewPlayer(paddleWidth, paddleHeight),
			engine.NewPlayer(paddleWidth, paddleHeight),
			engine.NewBall(ballSide, ballSide),
		),
		serveDir: 1,
		log:      log,
	}
	e.life[0] = DefaultMaxLife
	e.life[1] = DefaultMaxLife
	e.reset()
	return e
}

// Resize adjusts the court to the dimensions announced by the client with
// the start action. Only honored before the first tick.
func (e *Engine) Resize(width, height float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.tick != 0 || width <= 4*paddleWidth || height <= 2*paddleHeight {
		return
	}
	e.court = engine.NewGame(
		width, height,
		engine.NewPlayer(paddleWidth, paddleHeight),
		engine.NewPlayer(paddleWidth, paddleHeight),
		engine.NewBall(ballSide, ballSide),
	)
	e.reset()
}

// reset recenters the ball and paddles and serves toward serveDir.
func (e *Engine) reset() {
	w, h := e.court.Width, e.court.Height
	e.p1Pos = Vec2{w / 100, (h - paddleHeight) / 2}
	e.p2Pos = Vec2{w - w/100 - paddleWidth, (h - paddleHeight) / 2}
	e.p1Vel = 0
	e.p2Vel = 0
	e.ballPos = Vec2{w / 2, h / 2}
	e.ballVel = Vec2{ballSpeedX * e.serveDir, ballSpeedY}
}

// Apply folds one movement input into paddle velocity. Inputs for a slot are
// applied in arrival order before the tick integrates.
func (e *Engine) Apply(in Input) {
	switch in.Slot {
	case Slot1:
		e.p1Vel = nextVel(e.p1Vel, in.Action)
	case Slot2:
		e.p2Vel = nextVel(e.p2Vel, in.Action)
	}
}

func nextVel(cur float64, act Action) float64 {
	switch act {
	case ActionMoveUp:
		return -paddleSpeed
	case ActionMoveDown:
		return paddleSpeed
	case ActionStopMoveUp:
		if cur < 0 {
			return 0
		}
	case ActionStopMoveDown:
		if cur > 0 {
			return 0
		}
	}
	return cur
}

// Tick advances the simulation one step and reports whether a slot conceded
// a point this tick and whether the session is over.
func (e *Engine) Tick() (conceded Slot, depleted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tick++

	w, h := e.court.Width, e.court.Height

	e.p1Pos.Y = clamp(e.p1Pos.Y+e.p1Vel, 0, h-paddleHeight)
	e.p2Pos.Y = clamp(e.p2Pos.Y+e.p2Vel, 0, h-paddleHeight)

	e.ballPos = e.ballPos.Add(e.ballVel)

	r := ballSide / 2

	// Wall bounce.
	if e.ballPos.Y-r < 0 {
		e.ballPos.Y = r
		e.ballVel.Y = -e.ballVel.Y
	} else if e.ballPos.Y+r > h {
		e.ballPos.Y = h - r
		e.ballVel.Y = -e.ballVel.Y
	}

	// Paddle returns.
	if e.ballVel.X < 0 && e.ballIntersects(e.p1Pos) {
		e.ballPos.X = e.p1Pos.X + paddleWidth + r
		e.ballVel.X = speedUp(-e.ballVel.X)
	} else if e.ballVel.X > 0 && e.ballIntersects(e.p2Pos) {
		e.ballPos.X = e.p2Pos.X - r
		e.ballVel.X = -speedUp(e.ballVel.X)
	}

	// Goal lines.
	switch {
	case e.ballPos.X-r <= 0:
		conceded = Slot1
	case e.ballPos.X+r >= w:
		conceded = Slot2
	default:
		return SlotNone, false
	}

	remaining := e.loseLife(conceded)
	if remaining <= 0 {
		return conceded, true
	}

	// Serve toward the slot that conceded.
	if conceded == Slot1 {
		e.serveDir = -1
	} else {
		e.serveDir = 1
	}
	e.reset()
	return conceded, false
}

// ballIntersects is the circle-vs-paddle-rectangle test.
func (e *Engine) ballIntersects(paddle Vec2) bool {
	r := ballSide / 2
	cx := clamp(e.ballPos.X, paddle.X, paddle.X+paddleWidth)
	cy := clamp(e.ballPos.Y, paddle.Y, paddle.Y+paddleHeight)
	dx := e.ballPos.X - cx
	dy := e.ballPos.Y - cy
	return dx*dx+dy*dy <= r*r
}

// loseLife decrements the conceding slot and returns its remaining total.
// Lifepoints never go below zero.
func (e *Engine) loseLife(s Slot) int32 {
	i := 0
	if s == Slot2 {
		i = 1
	}
	if e.life[i] > 0 {
		e.life[i]--
	}
	return e.life[i]
}

// Lifepoints returns the remaining total for a slot.
func (e *Engine) Lifepoints(s Slot) int32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s == Slot2 {
		return e.life[1]
	}
	return e.life[0]
}

// Snapshot copies the current state for emission to transports.
func (e *Engine) Snapshot() SimulationState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return SimulationState{
		Ball: BallState{X: e.ballPos.X, Y: e.ballPos.Y, Radius: ballSide / 2},
		P1:   PaddleState{X: e.p1Pos.X, Y: e.p1Pos.Y, Lifepoints: e.life[0]},
		P2:   PaddleState{X: e.p2Pos.X, Y: e.p2Pos.Y, Lifepoints: e.life[1]},
		Tick: e.tick,
	}
}

func speedUp(v float64) float64 {
	v += ballSpeedIncr
	if v > ballSpeedMax {
		return ballSpeedMax
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
