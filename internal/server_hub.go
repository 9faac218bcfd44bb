package internal

import (
	"log"
	"sync"
)

// dispatchEvent is one inbound envelope queued for fan-out, tagged with
// enough routing info that the run loop never has to re-parse the frame.
type dispatchEvent struct {
	kind    string
	spaceID string
	payload []byte
}

// Hub owns the routing table from user ids to live connections and fans
// inbound envelopes out to their audience. It is a relay, not a store of
// record: it never persists messages and dispatch never mutates the space
// registry. Events are processed strictly in arrival order, and each event is
// delivered to its whole audience before the next one is looked at.
type Hub struct {
	registry *SpaceRegistry
	metrics  *Metrics
	presence *PresenceTracker

	// multiDevice keeps every connection a user opens; when false a second
	// login replaces the first and the stale connection is closed.
	multiDevice bool

	register   chan *Conn
	unregister chan *Conn
	events     chan dispatchEvent
	quit       chan struct{}
	done       chan struct{}
	stopOnce   sync.Once

	mutex  sync.RWMutex
	conns  map[*Conn]bool
	byUser map[string][]*Conn
}

func NewHub(registry *SpaceRegistry, metrics *Metrics, presence *PresenceTracker, multiDevice bool) *Hub {
	hub := &Hub{
		registry:    registry,
		metrics:     metrics,
		presence:    presence,
		multiDevice: multiDevice,
		register:    make(chan *Conn),
		unregister:  make(chan *Conn),
		events:      make(chan dispatchEvent, 256),
		quit:        make(chan struct{}),
		done:        make(chan struct{}),
		conns:       make(map[*Conn]bool),
		byUser:      make(map[string][]*Conn),
	}
	go hub.run()
	return hub
}

// Registry exposes the membership authority the hub dispatches against.
func (hub *Hub) Registry() *SpaceRegistry {
	return hub.registry
}

// ConnectionCount reports how many connections are currently registered.
func (hub *Hub) ConnectionCount() int {
	hub.mutex.RLock()
	defer hub.mutex.RUnlock()
	return len(hub.conns)
}

// Stop shuts the run loop down and closes every registered connection.
// Idempotent.
func (hub *Hub) Stop() {
	hub.stopOnce.Do(func() { close(hub.quit) })
	<-hub.done
}

func (hub *Hub) run() {
	defer close(hub.done)
	for {
		select {
		case <-hub.quit:
			hub.mutex.Lock()
			for conn := range hub.conns {
				hub.removeLocked(conn)
			}
			hub.mutex.Unlock()
			return
		case conn := <-hub.register:
			hub.addConn(conn)
		case conn := <-hub.unregister:
			hub.mutex.Lock()
			hub.removeLocked(conn)
			hub.mutex.Unlock()
		case event := <-hub.events:
			hub.dispatch(event)
		}
	}
}

func (hub *Hub) addConn(conn *Conn) {
	hub.mutex.Lock()
	if !hub.multiDevice {
		// a second login for the same id replaces the routing entry; the
		// stale connection is closed rather than left dangling.
		for _, stale := range append([]*Conn(nil), hub.byUser[conn.userID]...) {
			hub.removeLocked(stale)
		}
	}
	hub.conns[conn] = true
	hub.byUser[conn.userID] = append(hub.byUser[conn.userID], conn)
	total := len(hub.conns)
	hub.mutex.Unlock()

	hub.presence.Increment(conn.userID)
	hub.metrics.IncConn()
	log.Printf("connection registered for user %s, total %d", conn.userID, total)
}

// removeLocked drops the routing entry and closes the send queue. It is
// idempotent: a connection that is already gone is left alone, so the send
// channel is never closed twice. Callers hold hub.mutex.
func (hub *Hub) removeLocked(conn *Conn) {
	if !hub.conns[conn] {
		return
	}
	delete(hub.conns, conn)
	remaining := hub.byUser[conn.userID][:0]
	for _, candidate := range hub.byUser[conn.userID] {
		if candidate != conn {
			remaining = append(remaining, candidate)
		}
	}
	if len(remaining) == 0 {
		delete(hub.byUser, conn.userID)
	} else {
		hub.byUser[conn.userID] = remaining
	}
	close(conn.send)
	hub.presence.Decrement(conn.userID)
	hub.metrics.DecConn()
}

// dispatch computes the audience for one envelope and forwards it. A chat
// envelope goes to every registered connection; a space envelope goes only to
// connections whose user is a member right now, re-read from the registry so
// mid-session member adds take effect immediately.
func (hub *Hub) dispatch(event dispatchEvent) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()

	switch event.kind {
	case KindChat:
		hub.metrics.IncChatDispatched()
		for conn := range hub.conns {
			hub.deliverLocked(conn, event.payload)
		}
	case KindSpace:
		members := hub.registry.Members(event.spaceID)
		if members == nil {
			// a reference to a space nobody registered is tolerated, there
			// is simply no audience for it.
			log.Printf("space envelope for unknown space %s dropped", event.spaceID)
			return
		}
		hub.metrics.IncSpaceDispatched()
		audience := make(map[string]bool, len(members))
		for _, member := range members {
			audience[member] = true
		}
		for conn := range hub.conns {
			if audience[conn.userID] {
				hub.deliverLocked(conn, event.payload)
			}
		}
	}
}

// deliverLocked queues the payload on one connection. A full queue means the
// peer is too slow to read; that delivery is dropped and the connection is
// removed so it cannot stall broadcast to the rest.
func (hub *Hub) deliverLocked(conn *Conn, payload []byte) {
	select {
	case conn.send <- payload:
	default:
		hub.metrics.IncDroppedSend()
		log.Printf("dropping slow connection for user %s", conn.userID)
		hub.removeLocked(conn)
	}
}
