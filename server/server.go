package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/bisonbotkit/logging"
	"golang.org/x/sync/errgroup"

	"pongarena/game"
	"pongarena/server/matchdb"
	"pongarena/tournament"
)

// Config carries everything a Server needs. Zero values get sane defaults
// in NewServer.
type Config struct {
	ListenAddr string

	MaxSessions  int
	TickInterval time.Duration

	// QueueTimeout evicts lobby tickets that never paired; GracePeriod
	// reaps sessions whose tick loop stalled.
	QueueTimeout time.Duration
	GracePeriod  time.Duration

	// PostgresDSN selects the durable result store; empty runs in-memory.
	PostgresDSN string

	// TournamentURL targets the external bracket service; empty disables
	// the write-back and tournament results stay local.
	TournamentURL string

	Auth Authenticator

	LogBackend *logging.LogBackend
}

// Server binds the gateway, lobby, registry and reporter into one process
// and owns their background loops.
type Server struct {
	cfg Config

	registry *game.Registry
	lobby    *game.Lobby
	gateway  *Gateway
	reporter *Reporter
	store    matchdb.Store

	httpServer *http.Server

	log slog.Logger
}

// NewServer wires a server from cfg. ctx bounds every session tick loop the
// registry will create.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.LogBackend == nil {
		return nil, fmt.Errorf("log backend is nil")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second / 60
	}
	if cfg.QueueTimeout <= 0 {
		cfg.QueueTimeout = 2 * time.Minute
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 30 * time.Second
	}
	if cfg.Auth == nil {
		cfg.Auth = TrustingAuthenticator{}
	}

	var store matchdb.Store
	var err error
	if cfg.PostgresDSN != "" {
		store, err = matchdb.NewPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open result store: %w", err)
		}
	} else {
		store = matchdb.NewMemory()
	}

	var bracket tournament.Reporter
	if cfg.TournamentURL != "" {
		bracket = tournament.NewHTTPReporter(cfg.TournamentURL)
	}

	s := &Server{
		cfg:      cfg,
		store:    store,
		reporter: NewReporter(store, bracket, cfg.LogBackend.Logger("RPT")),
		log:      cfg.LogBackend.Logger("SRV"),
	}

	s.registry = game.NewRegistry(ctx, game.RegistryConfig{
		MaxSessions:  cfg.MaxSessions,
		TickInterval: cfg.TickInterval,
		ResultHook:   s.onMatchResult,
		Log:          cfg.LogBackend.Logger("GM"),
	})
	s.lobby = game.NewLobby(s.registry, cfg.QueueTimeout, cfg.LogBackend.Logger("LOBBY"))
	s.gateway = NewGateway(s.registry, s.lobby, cfg.Auth, cfg.LogBackend.Logger("WS"))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.gateway.ServeWS)
	mux.HandleFunc("/api/sessions", s.handleCreateSession)
	mux.HandleFunc("/api/results/", s.handleFetchResult)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.httpServer = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	return s, nil
}

// Registry exposes the session registry, mainly for tests and tooling.
func (s *Server) Registry() *game.Registry { return s.registry }

// Lobby exposes the matchmaking lobby.
func (s *Server) Lobby() *game.Lobby { return s.lobby }

// Handler returns the HTTP handler, for serving over a caller-owned
// listener (tests use httptest).
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// onMatchResult runs off the session tick goroutine for every terminal
// session. Reporting failures are logged, never propagated: result delivery
// must not block teardown.
func (s *Server) onMatchResult(sess *game.MatchSession, res game.MatchResult) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		if _, err := s.reporter.Report(ctx, res); err != nil {
			if errors.Is(err, ErrConflictingResult) {
				s.log.Errorf("session %s: %v", res.SessionID, err)
			} else {
				s.log.Warnf("session %s: report failed: %v", res.SessionID, err)
			}
		}
		s.registry.Destroy(sess.ID)
	}()
}

// Run serves until ctx is cancelled, then shuts down cleanly.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.log.Infof("Listening on %s", ln.Addr())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Janitor loop: evict tickets that never paired and reap sessions whose
	// tick loop stopped making progress.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := s.lobby.EvictStale(); n > 0 {
					s.log.Debugf("evicted %d stale lobby tickets", n)
				}
				if n := s.registry.ReapStalled(s.cfg.GracePeriod); n > 0 {
					s.log.Warnf("reaped %d stalled sessions", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
		if err := s.store.Close(); err != nil {
			s.log.Warnf("closing result store: %v", err)
		}
		return nil
	})

	return g.Wait()
}

type createSessionRequest struct {
	BracketID string `json:"bracket_id"`
}

type createSessionResponse struct {
	GameID string `json:"game_id"`
}

// handleCreateSession admits a tournament bracket match: it allocates an
// empty session both contestants then join over /ws with join_game.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	sess, err := s.registry.CreateBracketSession(req.BracketID)
	if err != nil {
		if errors.Is(err, game.ErrCapacityExceeded) {
			http.Error(w, "server at capacity", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, "session create failed", http.StatusInternalServerError)
		return
	}
	s.log.Infof("bracket %s admitted as session %s", req.BracketID, sess.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(createSessionResponse{GameID: sess.ID})
}

// handleFetchResult serves the stored outcome for /api/results/{session_id}.
func (s *Server) handleFetchResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Path[len("/api/results/"):]
	if id == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	rec, err := s.store.FetchResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, matchdb.ErrResultNotFound) {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rec)
}
