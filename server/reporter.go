package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/decred/slog"

	"pongarena/game"
	"pongarena/server/matchdb"
	"pongarena/tournament"
)

// Reporter records finished matches. Persistence is first-write-wins per
// session id, which makes Report idempotent: a repeated report of the same
// outcome returns the stored record; a disagreeing report is a conflict.
type Reporter struct {
	store   matchdb.Store
	bracket tournament.Reporter
	log     slog.Logger
}

// NewReporter wires the store and the optional tournament bracket boundary;
// bracket may be nil when no tournament service is configured.
func NewReporter(store matchdb.Store, bracket tournament.Reporter, log slog.Logger) *Reporter {
	return &Reporter{store: store, bracket: bracket, log: log}
}

// Report persists a match result and, for tournament sessions, writes the
// winner back to its bracket slot. It never blocks session teardown: the
// caller runs it off the tick goroutine and only logs failures.
func (r *Reporter) Report(ctx context.Context, res game.MatchResult) (*matchdb.MatchRecord, error) {
	rec := &matchdb.MatchRecord{
		SessionID:  res.SessionID,
		Mode:       string(res.Mode),
		WinnerID:   string(res.Winner),
		WinnerSlot: int32(res.WinnerSlot),
		Reason:     string(res.Reason),
		FinishedAt: res.FinishedAt,
	}

	err := r.store.SaveResult(ctx, rec)
	switch {
	case err == nil:
	case errors.Is(err, matchdb.ErrDuplicateResult):
		stored, ferr := r.store.FetchResult(ctx, res.SessionID)
		if ferr != nil {
			return nil, fmt.Errorf("fetch stored result for %s: %w", res.SessionID, ferr)
		}
		if stored.WinnerID != rec.WinnerID || stored.Reason != rec.Reason {
			return stored, fmt.Errorf("session %s: stored winner %s, reported %s: %w",
				res.SessionID, stored.WinnerID, rec.WinnerID, ErrConflictingResult)
		}
		// Same outcome reported twice; the first write already did the
		// bracket write-back.
		return stored, nil
	default:
		return nil, fmt.Errorf("save result for %s: %w", res.SessionID, err)
	}

	if res.Mode == game.ModeTournament && res.BracketID != "" && r.bracket != nil {
		if berr := r.bracket.ReportResult(ctx, res.BracketID, string(res.Winner)); berr != nil {
			if errors.Is(berr, tournament.ErrSlotResolved) {
				return rec, fmt.Errorf("bracket %s: %w", res.BracketID, ErrConflictingResult)
			}
			return rec, fmt.Errorf("bracket write-back for %s: %w", res.BracketID, berr)
		}
	}
	return rec, nil
}
