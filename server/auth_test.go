package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"pongarena/game"
)

func TestTokenAuthenticator(t *testing.T) {
	a := NewTokenAuthenticator()
	a.Register("secret", Identity{ID: "alice", Nick: "Alice"})

	// Header form.
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer secret")
	assert.Equal(t, game.ClientID("alice"), a.Authenticate(r).ID)

	// Query form, for browser websocket clients.
	r = httptest.NewRequest("GET", "/ws?token=secret", nil)
	assert.Equal(t, game.ClientID("alice"), a.Authenticate(r).ID)

	// Unknown or missing tokens yield no identity.
	r = httptest.NewRequest("GET", "/ws?token=wrong", nil)
	assert.Empty(t, a.Authenticate(r).ID)
	r = httptest.NewRequest("GET", "/ws", nil)
	assert.Empty(t, a.Authenticate(r).ID)

	a.Revoke("secret")
	r = httptest.NewRequest("GET", "/ws?token=secret", nil)
	assert.Empty(t, a.Authenticate(r).ID)
}

func TestTrustingAuthenticator(t *testing.T) {
	a := TrustingAuthenticator{}

	r := httptest.NewRequest("GET", "/ws?id=alice&nick=Alice", nil)
	id := a.Authenticate(r)
	assert.Equal(t, game.ClientID("alice"), id.ID)
	assert.Equal(t, "Alice", id.Nick)

	r = httptest.NewRequest("GET", "/ws?id=bob", nil)
	assert.Equal(t, "bob", a.Authenticate(r).Nick)

	r = httptest.NewRequest("GET", "/ws", nil)
	assert.Empty(t, a.Authenticate(r).ID)
}
