package tournament

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBracket(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBracket()

	require.NoError(t, b.ReportResult(ctx, "m1", "alice"))
	assert.Equal(t, "alice", b.Winner("m1"))

	// Repeating the same winner is a no-op.
	require.NoError(t, b.ReportResult(ctx, "m1", "alice"))

	// A different winner for a resolved slot is a conflict.
	err := b.ReportResult(ctx, "m1", "bob")
	assert.ErrorIs(t, err, ErrSlotResolved)
	assert.Equal(t, "alice", b.Winner("m1"))

	assert.Empty(t, b.Winner("m2"))
}

func TestMemoryBracket_ConcurrentReports(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBracket()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.ReportResult(ctx, "m1", "alice")
		}()
	}
	wg.Wait()
	assert.Equal(t, "alice", b.Winner("m1"))
}

func TestHTTPReporter(t *testing.T) {
	var mu sync.Mutex
	received := make(map[string]string)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tournaments/report_result", r.URL.Path)

		var req struct {
			MatchID  string `json:"match_id"`
			WinnerID string `json:"winner_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		mu.Lock()
		defer mu.Unlock()
		if w2, ok := received[req.MatchID]; ok && w2 != req.WinnerID {
			w.WriteHeader(http.StatusConflict)
			return
		}
		received[req.MatchID] = req.WinnerID
		json.NewEncoder(w).Encode(map[string]bool{"success": true})
	}))
	defer srv.Close()

	r := NewHTTPReporter(srv.URL)
	ctx := context.Background()

	require.NoError(t, r.ReportResult(ctx, "m1", "alice"))
	require.NoError(t, r.ReportResult(ctx, "m1", "alice"))

	err := r.ReportResult(ctx, "m1", "bob")
	assert.ErrorIs(t, err, ErrSlotResolved)
}

func TestHTTPReporter_SuccessFalseIsConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]bool{"success": false})
	}))
	defer srv.Close()

	err := NewHTTPReporter(srv.URL).ReportResult(context.Background(), "m1", "alice")
	assert.ErrorIs(t, err, ErrSlotResolved)
}

func TestHTTPReporter_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	err := NewHTTPReporter(srv.URL).ReportResult(context.Background(), "m1", "alice")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSlotResolved)
}
