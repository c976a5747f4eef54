// Package discordtest provides an in-process fake of the Discord endpoints
// the viewer calls, for use in tests.
package discordtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/d9705996/modmail-viewer/internal/cache"
	"github.com/d9705996/modmail-viewer/internal/discord"
)

type account struct {
	user    discord.User
	guilds  []discord.Guild
	members map[string][]string
}

// Server answers /users/@me, /users/@me/guilds and
// /users/@me/guilds/{guild}/member for access tokens registered with
// AddUser. Unknown tokens get 401.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	accounts map[string]*account
	limited  map[string]bool
	hits     map[string]int
}

// New starts a Server that is closed when t finishes.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		accounts: map[string]*account{},
		limited:  map[string]bool{},
		hits:     map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /users/@me", s.handleUser)
	mux.HandleFunc("GET /users/@me/guilds", s.handleGuilds)
	mux.HandleFunc("GET /users/@me/guilds/{guild}/member", s.handleMember)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// AddUser registers accessToken as belonging to u, a member of guilds.
func (s *Server) AddUser(accessToken string, u discord.User, guilds ...discord.Guild) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[accessToken] = &account{user: u, guilds: guilds, members: map[string][]string{}}
}

// SetRoles makes the token's user a member of guildID holding roles.
func (s *Server) SetRoles(accessToken, guildID string, roles ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if roles == nil {
		roles = []string{}
	}
	s.accounts[accessToken].members[guildID] = roles
}

// RateLimit makes every request to path answer 429.
func (s *Server) RateLimit(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limited[path] = true
}

// Hits reports how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Service returns a discord.Service pointed at s with a fresh cache.
func (s *Server) Service() *discord.Service {
	return discord.NewService(discord.Config{
		APIURL:     s.URL,
		HTTPClient: s.Client(),
		Cache:      cache.New(),
	})
}

// lookup records the hit and returns the caller's account, or writes the
// error response and returns nil.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) *account {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[r.URL.Path]++
	if s.limited[r.URL.Path] {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		return nil
	}
	acct, ok := s.accounts[strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")]
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		return nil
	}
	return acct
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if acct := s.lookup(w, r); acct != nil {
		writeJSON(w, acct.user)
	}
}

func (s *Server) handleGuilds(w http.ResponseWriter, r *http.Request) {
	if acct := s.lookup(w, r); acct != nil {
		guilds := acct.guilds
		if guilds == nil {
			guilds = []discord.Guild{}
		}
		writeJSON(w, guilds)
	}
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	acct := s.lookup(w, r)
	if acct == nil {
		return
	}
	s.mu.Lock()
	roles, ok := acct.members[r.PathValue("guild")]
	s.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, discord.GuildMember{
		User:     &acct.user,
		Roles:    roles,
		JoinedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
