package internal

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"spacechat/internal/storage"
)

var errUnauthorized = errors.New("unauthorized")

// Server ties the hub, the space registry, and the account store together
// behind the HTTP surface.
type Server struct {
	store       *storage.Store
	hub         *Hub
	registry    *SpaceRegistry
	metrics     *Metrics
	presence    *PresenceTracker
	authLimiter *RateLimiter
	tokenTTL    time.Duration
}

type authContext struct {
	Token    string
	UserID   string
	Nickname string
}

// NewServer builds a server around an opened store. When multiDevice is
// false a second websocket login for a user id replaces the first.
func NewServer(store *storage.Store, multiDevice bool) *Server {
	metrics := NewMetrics()
	presence := NewPresenceTracker()
	registry := NewSpaceRegistry()
	return &Server{
		store:       store,
		registry:    registry,
		metrics:     metrics,
		presence:    presence,
		hub:         NewHub(registry, metrics, presence, multiDevice),
		authLimiter: NewRateLimiter(10, time.Minute),
		tokenTTL:    24 * time.Hour,
	}
}

// RestoreSpaces reloads the persisted registry so membership survives server
// restarts. Message history is deliberately not restored; the hub is a relay.
func (s *Server) RestoreSpaces(ctx context.Context) error {
	records, err := s.store.ListSpaces(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		s.registry.Restore(Space{ID: record.ID, Name: record.Name, Members: record.Members})
	}
	return nil
}

// Hub exposes the hub, mainly for shutdown.
func (s *Server) Hub() *Hub {
	return s.hub
}

// MetricsHandler returns the JSON metrics endpoint, with the presence count
// folded in next to the hub counters.
func (s *Server) MetricsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		payload := s.metrics.Snapshot()
		payload["online_users"] = s.presence.ActiveCount()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(payload)
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the session token from the query string, upgrades
// the request, and registers the connection with the hub.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token query param", http.StatusUnauthorized)
		return
	}
	authCtx, err := s.authenticateToken(r.Context(), token)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, errUnauthorized) {
			status = http.StatusUnauthorized
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade error: %v", err)
		return
	}

	conn := newConn(s.hub, sock, authCtx.UserID, authCtx.Nickname)
	s.hub.register <- conn

	go conn.writePump()
	go conn.readPump()
}

func (s *Server) authenticateRequest(r *http.Request) (*authContext, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errUnauthorized
	}
	return s.authenticateToken(r.Context(), strings.TrimPrefix(header, "Bearer "))
}

func (s *Server) authenticateToken(ctx context.Context, token string) (*authContext, error) {
	session, err := s.store.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	if session == nil || session.ExpiresAt.Before(time.Now()) {
		return nil, errUnauthorized
	}
	user, err := s.store.GetUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errUnauthorized
	}
	return &authContext{Token: token, UserID: user.ID, Nickname: user.Nickname}, nil
}

func (s *Server) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
