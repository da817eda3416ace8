package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pongarena/game"
	"pongarena/server/matchdb"
)

func createBracketSession(t *testing.T, url, bracketID string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"bracket_id": bracketID})
	resp, err := http.Post(url+"/api/sessions", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out createSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.GameID)
	return out.GameID
}

func TestServer_TournamentAdmissionFlow(t *testing.T) {
	srv, ts := newTestServer(t)

	gameID := createBracketSession(t, ts.URL, "bracket-9")

	alice := dialWS(t, ts, "alice")
	bob := dialWS(t, ts, "bob")

	send(t, alice, `{"action":"join_game","game_id":"`+gameID+`"}`)
	fa := awaitFrame(t, alice, frameGameFound)
	assert.Equal(t, "player1", fa.Role)

	send(t, bob, `{"action":"join_game","game_id":"`+gameID+`"}`)
	fb := awaitFrame(t, bob, frameGameFound)
	assert.Equal(t, "player2", fb.Role)

	// Tournament sessions run as soon as both contestants joined.
	awaitFrame(t, alice, framePositionUpdate)

	send(t, bob, `{"action":"quit_game"}`)
	awaitFrame(t, alice, frameGameOver)

	// The result lands in the store and is served over the results API.
	require.Eventually(t, func() bool {
		_, err := srv.reporter.store.FetchResult(context.Background(), gameID)
		return err == nil
	}, 10*time.Second, 10*time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/results/" + gameID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rec matchdb.MatchRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	assert.Equal(t, "alice", rec.WinnerID)
	assert.Equal(t, string(game.ReasonForfeit), rec.Reason)
	assert.Equal(t, string(game.ModeTournament), rec.Mode)
}

func TestServer_FetchUnknownResult(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/results/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_CreateSessionRejectsBadRequests(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/sessions", "application/json", bytes.NewReader([]byte("{bad")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
