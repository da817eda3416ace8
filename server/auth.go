package server

import (
	"net/http"
	"strings"
	"sync"

	"pongarena/game"
)

// Identity is an authenticated client as seen by the gateway.
type Identity struct {
	ID   game.ClientID
	Nick string
}

// Authenticator resolves the identity behind an incoming websocket upgrade.
// Returning a zero Identity admits the connection unauthenticated; any
// action that needs an identity is then rejected with ErrUnauthorized.
type Authenticator interface {
	Authenticate(r *http.Request) Identity
}

// TokenAuthenticator maps bearer tokens onto identities. Tokens arrive
// either as an Authorization header or a token query parameter (browser
// websocket clients cannot set headers).
type TokenAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]Identity
}

func NewTokenAuthenticator() *TokenAuthenticator {
	return &TokenAuthenticator{tokens: make(map[string]Identity)}
}

// Register installs a token for an identity, replacing any previous one.
func (a *TokenAuthenticator) Register(token string, id Identity) {
	a.mu.Lock()
	a.tokens[token] = id
	a.mu.Unlock()
}

// Revoke removes a token. Unknown tokens are a no-op.
func (a *TokenAuthenticator) Revoke(token string) {
	a.mu.Lock()
	delete(a.tokens, token)
	a.mu.Unlock()
}

func (a *TokenAuthenticator) Authenticate(r *http.Request) Identity {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" || token == r.Header.Get("Authorization") {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return Identity{}
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.tokens[token]
}

// TrustingAuthenticator accepts any client that names itself via the id
// query parameter. Development and local play only.
type TrustingAuthenticator struct{}

func (TrustingAuthenticator) Authenticate(r *http.Request) Identity {
	id := r.URL.Query().Get("id")
	if id == "" {
		return Identity{}
	}
	nick := r.URL.Query().Get("nick")
	if nick == "" {
		nick = id
	}
	return Identity{ID: game.ClientID(id), Nick: nick}
}
