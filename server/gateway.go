package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/gorilla/websocket"

	"pongarena/game"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024

	sendBufSize = 64
)

// Gateway terminates websocket connections on /ws, decodes client frames
// and routes them into the lobby and registry. One connection maps onto one
// Participant; all game state stays on the game side of that boundary.
type Gateway struct {
	registry *game.Registry
	lobby    *game.Lobby
	auth     Authenticator

	upgrader websocket.Upgrader

	log slog.Logger
}

// NewGateway wires a gateway over the given lobby and registry.
func NewGateway(registry *game.Registry, lobby *game.Lobby, auth Authenticator, log slog.Logger) *Gateway {
	return &Gateway{
		registry: registry,
		lobby:    lobby,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser clients connect from the game frontend's origin;
			// identity is established by token, not origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log: log,
	}
}

// conn is one live websocket connection plus its participant binding.
type conn struct {
	gw *Gateway
	ws *websocket.Conn

	identity    Identity
	participant *game.Participant

	// ticketID is the waiting lobby ticket, if any. Guarded by mu; the
	// read pump writes it, the close path reads it.
	mu       sync.Mutex
	ticketID string

	send      chan serverFrame
	closeOnce sync.Once
	done      chan struct{}
}

// ServeWS upgrades an HTTP request into a game connection and blocks until
// the connection closes.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity := g.auth.Authenticate(r)

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debugf("upgrade failed: %v", err)
		return
	}

	c := &conn{
		gw:       g,
		ws:       ws,
		identity: identity,
		send:     make(chan serverFrame, sendBufSize),
		done:     make(chan struct{}),
	}
	if identity.ID != "" {
		c.participant = game.NewParticipant(identity.ID, identity.Nick)
	}

	g.log.Debugf("connection open: client=%s remote=%s", identity.ID, ws.RemoteAddr())

	go c.writePump()
	go c.forwardPump()
	c.readPump()
}

// close tears the connection down exactly once: the waiting ticket is
// cancelled, the session (if live) observes the disconnect, and the pumps
// drain out.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		ticket := c.ticketID
		c.ticketID = ""
		c.mu.Unlock()

		if ticket != "" {
			c.gw.lobby.Cancel(ticket)
		}
		if c.participant != nil {
			c.gw.lobby.CancelByClient(c.participant.ID)
			c.gw.registry.Detach(c.participant.ID)
		}
		c.ws.Close()
		c.gw.log.Debugf("connection closed: client=%s", c.identity.ID)
	})
}

// readPump reads client frames until the socket dies. A malformed frame is
// rejected with an error frame; the connection stays up.
func (c *conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.gw.log.Debugf("client %s read error: %v", c.identity.ID, err)
			}
			return
		}

		f, err := decodeClientFrame(raw)
		if err != nil {
			c.gw.log.Debugf("client %s sent malformed frame: %v", c.identity.ID, err)
			c.enqueue(errorFrame("malformed message"))
			continue
		}
		c.dispatch(f)
	}
}

// dispatch routes one decoded frame. Errors come back to the client as
// frames; nothing here closes the connection.
func (c *conn) dispatch(f clientFrame) {
	if c.participant == nil {
		c.enqueue(errorFrame("unauthorized"))
		return
	}

	switch game.Action(f.Action) {
	case "find_game":
		c.findGame(f)
	case "join_game":
		c.joinGame(f)
	case game.ActionMoveUp, game.ActionMoveDown, game.ActionStopMoveUp, game.ActionStopMoveDown:
		s := c.gw.registry.SessionFor(c.participant.ID)
		if s == nil {
			return
		}
		if err := s.HandleInput(c.participant.ID, game.Action(f.Action), f.slotHint()); err != nil {
			c.gw.log.Debugf("client %s input rejected: %v", c.participant.ID, err)
		}
	case game.ActionStart:
		if s := c.gw.registry.SessionFor(c.participant.ID); s != nil {
			if err := s.Start(c.participant.ID, f.Width, f.Height); err != nil {
				c.gw.log.Debugf("client %s start rejected: %v", c.participant.ID, err)
				c.enqueue(errorFrame("game cannot start yet"))
			}
		}
	case game.ActionPause:
		if s := c.gw.registry.SessionFor(c.participant.ID); s != nil {
			s.Pause(c.participant.ID)
		}
	case game.ActionResume:
		if s := c.gw.registry.SessionFor(c.participant.ID); s != nil {
			s.Resume(c.participant.ID)
		}
	case game.ActionQuit:
		c.quitGame()
	default:
		c.enqueue(errorFrame("unknown action"))
	}
}

func (c *conn) findGame(f clientFrame) {
	mode, err := game.ParseMode(f.Mode)
	if err != nil {
		c.enqueue(errorFrame("unknown mode"))
		return
	}

	t, err := c.gw.lobby.Enqueue(c.participant, mode)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrUnauthorized):
			c.enqueue(errorFrame("unauthorized"))
		case errors.Is(err, game.ErrAlreadyQueued):
			c.enqueue(errorFrame("already waiting or in a game"))
		case errors.Is(err, game.ErrCapacityExceeded):
			c.enqueue(waitingFrame("Server busy, please try again."))
		default:
			c.gw.log.Warnf("enqueue for %s failed: %v", c.participant.ID, err)
			c.enqueue(errorFrame("matchmaking unavailable"))
		}
		return
	}

	if t.SessionID == "" {
		c.mu.Lock()
		c.ticketID = t.ID
		c.mu.Unlock()
	}
}

func (c *conn) joinGame(f clientFrame) {
	if f.GameID == "" {
		c.enqueue(errorFrame("missing game_id"))
		return
	}
	slot, err := c.gw.registry.AttachFree(f.GameID, c.participant)
	if err != nil {
		switch {
		case errors.Is(err, game.ErrNotFound):
			c.enqueue(errorFrame("unknown game"))
		case errors.Is(err, game.ErrSlotOccupied):
			c.enqueue(errorFrame("game is full"))
		default:
			c.enqueue(errorFrame("join failed"))
		}
		return
	}
	c.enqueue(gameFoundFrame(f.GameID, slot))
}

// quitGame forfeits the live session or cancels the waiting ticket,
// whichever exists.
func (c *conn) quitGame() {
	c.mu.Lock()
	ticket := c.ticketID
	c.ticketID = ""
	c.mu.Unlock()
	if ticket != "" {
		c.gw.lobby.Cancel(ticket)
	}
	if s := c.gw.registry.SessionFor(c.participant.ID); s != nil {
		s.Forfeit(c.participant.ID)
	}
}

// forwardPump converts the participant's frame and event channels into wire
// frames. Unauthenticated connections have no participant and nothing to
// forward.
func (c *conn) forwardPump() {
	if c.participant == nil {
		return
	}
	for {
		select {
		case <-c.done:
			return
		case snap := <-c.participant.FrameCh:
			c.enqueue(positionFrame(snap))
		case ev := <-c.participant.Events:
			switch ev.Type {
			case game.EventWaiting:
				c.enqueue(waitingFrame(ev.Message))
			case game.EventGameFound:
				c.enqueue(gameFoundFrame(ev.SessionID, ev.Slot))
			case game.EventGameOver:
				c.enqueue(gameOverFrame(ev.Message))
			}
		}
	}
}

// enqueue hands a frame to the write pump without blocking; the oldest
// queued frame is dropped when the client cannot keep up.
func (c *conn) enqueue(f serverFrame) {
	select {
	case c.send <- f:
	default:
		select {
		case <-c.send:
		default:
		}
		select {
		case c.send <- f:
		default:
		}
	}
}

// writePump owns all writes to the socket, including keepalive pings.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
