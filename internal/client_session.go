package internal

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
)

// SyncEvent is what the session hands to the UI after the sync engine has
// committed an envelope to the cache. A non-nil Err means the transport
// dropped or the cache failed and the session is over.
type SyncEvent struct {
	Public  bool
	SpaceID string
	Message Message
	Err     error
}

// ChatSession is the client-side core: one websocket to the hub, the sync
// engine in front of the durable cache, and the send operations. The UI
// consumes Events and calls the send methods; it never touches the socket.
type ChatSession struct {
	apiBase  string
	joinURL  string
	token    string
	userID   string
	nickname string

	cache  Cache
	engine *SyncEngine
	events chan SyncEvent

	writeMutex sync.Mutex
	sock       *websocket.Conn
	closeOnce  sync.Once
}

// channelNotifier forwards engine callbacks into the session event stream.
type channelNotifier struct {
	events chan SyncEvent
}

func (n *channelNotifier) OnPublicMessage(message Message) {
	n.events <- SyncEvent{Public: true, Message: message}
}

func (n *channelNotifier) OnSpaceMessage(spaceID string, message Message) {
	n.events <- SyncEvent{SpaceID: spaceID, Message: message}
}

// NewChatSession wires a session for a logged-in user. serverJoinURL is the
// websocket join URL; the HTTP API base is derived from it.
func NewChatSession(serverJoinURL string, login loginResponse, cache Cache) (*ChatSession, error) {
	apiBase, err := httpBaseFromJoinURL(serverJoinURL)
	if err != nil {
		return nil, err
	}
	events := make(chan SyncEvent, 64)
	return &ChatSession{
		apiBase:  apiBase,
		joinURL:  serverJoinURL,
		token:    login.Token,
		userID:   login.ID,
		nickname: login.Nickname,
		cache:    cache,
		engine:   NewSyncEngine(cache, &channelNotifier{events: events}),
		events:   events,
	}, nil
}

// Events is the stream of cache-committed messages for rendering.
func (s *ChatSession) Events() <-chan SyncEvent {
	return s.events
}

func (s *ChatSession) UserID() string   { return s.userID }
func (s *ChatSession) Nickname() string { return s.nickname }

// Connect dials the hub with the session token and starts the read loop.
func (s *ChatSession) Connect() error {
	joinURL, err := buildJoinURL(s.joinURL, s.token)
	if err != nil {
		return err
	}
	sock, _, err := websocket.DefaultDialer.Dial(joinURL, http.Header{})
	if err != nil {
		return err
	}
	s.sock = sock
	go s.readLoop(sock)
	return nil
}

func (s *ChatSession) readLoop(sock *websocket.Conn) {
	for {
		messageType, payload, err := sock.ReadMessage()
		if err != nil {
			s.events <- SyncEvent{Err: err}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if err := s.engine.Apply(payload); err != nil {
			if errors.Is(err, ErrCacheFailed) {
				// durability is gone, the session cannot continue
				s.events <- SyncEvent{Err: err}
				return
			}
			log.Printf("discarding envelope: %v", err)
		}
	}
}

// SendPublic stamps and transmits a public message, fire-and-forget. The
// sender's own cache is updated when the hub echoes the broadcast back.
func (s *ChatSession) SendPublic(text string) error {
	payload, err := EncodeChat(NewMessage(s.nickname, text))
	if err != nil {
		return err
	}
	return s.write(payload)
}

// SendSpace stamps and transmits a message targeted at one space.
func (s *ChatSession) SendSpace(spaceID, text string) error {
	payload, err := EncodeSpace(spaceID, NewMessage(s.nickname, text))
	if err != nil {
		return err
	}
	return s.write(payload)
}

func (s *ChatSession) write(payload []byte) error {
	if s.sock == nil {
		return fmt.Errorf("not connected")
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return s.sock.WriteMessage(websocket.TextMessage, payload)
}

// PublicLog reads the cached public history for the initial render.
func (s *ChatSession) PublicLog() ([]Message, error) {
	return s.engine.PublicLog()
}

// Space reads one cached space record.
func (s *ChatSession) Space(spaceID string) (Space, bool, error) {
	return s.engine.Space(spaceID)
}

// Spaces lists the cached spaces this user belongs to.
func (s *ChatSession) Spaces() ([]Space, error) {
	return s.engine.SpacesFor(s.userID)
}

// RememberSpace records a space in the cache so its messages can land.
func (s *ChatSession) RememberSpace(space Space) error {
	return s.engine.RememberSpace(space)
}

// CreateSpace asks the server for a new space and caches the record.
func (s *ChatSession) CreateSpace(name string, members []string) (Space, error) {
	space, err := apiCreateSpace(s.apiBase, s.token, name, members)
	if err != nil {
		return Space{}, err
	}
	if err := s.RememberSpace(space); err != nil {
		return Space{}, err
	}
	return space, nil
}

// AddMember invites another user into a space and refreshes the cached
// record on success.
func (s *ChatSession) AddMember(spaceID, userID string) error {
	space, err := apiAddMember(s.apiBase, s.token, spaceID, userID)
	if err != nil {
		return err
	}
	return s.RememberSpace(space)
}

// RefreshSpaces pulls the server's view of this user's spaces and merges it
// into the cache, keeping any message logs already stored locally.
func (s *ChatSession) RefreshSpaces() ([]Space, error) {
	spaces, err := apiListSpaces(s.apiBase, s.token)
	if err != nil {
		return nil, err
	}
	for _, space := range spaces {
		cached, known, err := s.engine.Space(space.ID)
		if err != nil {
			return nil, err
		}
		if known {
			space.Messages = cached.Messages
		}
		if err := s.RememberSpace(space); err != nil {
			return nil, err
		}
	}
	return s.Spaces()
}

// Close tears the transport down and stops the sync engine.
func (s *ChatSession) Close() {
	s.closeOnce.Do(func() {
		if s.sock != nil {
			_ = s.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = s.sock.Close()
		}
		s.engine.Stop()
	})
}

// Logout invalidates the server-side session token.
func (s *ChatSession) Logout() error {
	return apiLogout(s.apiBase, s.token)
}

func buildJoinURL(base string, token string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("token", token)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
