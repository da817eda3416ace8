// Package tournament is the boundary to the external bracket subsystem.
// The match core only ever writes one fact per tournament match: who won.
// Round generation, byes and bracket advancement live on the other side.
package tournament

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// ErrSlotResolved signals the bracket slot already holds a (different)
// winner; the caller surfaces this as a conflicting result.
var ErrSlotResolved = errors.New("bracket slot already resolved")

// Reporter writes a match winner back to its bracket slot. Implementations
// must be idempotent for repeated writes of the same winner.
type Reporter interface {
	ReportResult(ctx context.Context, matchID, winnerID string) error
}

// HTTPReporter posts results to the tournament service's report endpoint.
type HTTPReporter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPReporter targets baseURL (e.g. http://tournaments:8000).
func NewHTTPReporter(baseURL string) *HTTPReporter {
	return &HTTPReporter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type reportRequest struct {
	MatchID  string `json:"match_id"`
	WinnerID string `json:"winner_id"`
}

type reportResponse struct {
	Success bool `json:"success"`
}

// ReportResult implements Reporter over HTTP. A well-formed response with
// success=false means the slot was resolved by someone else.
func (r *HTTPReporter) ReportResult(ctx context.Context, matchID, winnerID string) error {
	body, err := json.Marshal(reportRequest{MatchID: matchID, WinnerID: winnerID})
	if err != nil {
		return fmt.Errorf("encode report for match %s: %w", matchID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		r.baseURL+"/api/tournaments/report_result", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("report match %s: %w", matchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("match %s: %w", matchID, ErrSlotResolved)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("report match %s: unexpected status %s", matchID, resp.Status)
	}

	var out reportResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode report response for match %s: %w", matchID, err)
	}
	if !out.Success {
		return fmt.Errorf("match %s: %w", matchID, ErrSlotResolved)
	}
	return nil
}

// MemoryBracket is an in-process Reporter for tests and single-node runs.
type MemoryBracket struct {
	mu      sync.Mutex
	winners map[string]string
}

// NewMemoryBracket returns an empty in-memory bracket.
func NewMemoryBracket() *MemoryBracket {
	return &MemoryBracket{winners: make(map[string]string)}
}

// ReportResult records the winner; a second write with a different winner
// is a conflict, the same winner is a no-op.
func (b *MemoryBracket) ReportResult(_ context.Context, matchID, winnerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.winners[matchID]; ok {
		if w == winnerID {
			return nil
		}
		return fmt.Errorf("match %s: %w", matchID, ErrSlotResolved)
	}
	b.winners[matchID] = winnerID
	return nil
}

// Winner returns the recorded winner for a match, "" when unresolved.
func (b *MemoryBracket) Winner(matchID string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.winners[matchID]
}
