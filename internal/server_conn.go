package internal

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 8192
)

// Conn wraps a single websocket connection bound to a logged-in user, with a
// buffered send queue so one stalled peer cannot block the hub.
type Conn struct {
	hub      *Hub
	sock     *websocket.Conn
	send     chan []byte
	userID   string
	nickname string
}

func newConn(hub *Hub, sock *websocket.Conn, userID, nickname string) *Conn {
	return &Conn{
		hub:      hub,
		sock:     sock,
		send:     make(chan []byte, 256),
		userID:   userID,
		nickname: nickname,
	}
}

// readPump consumes inbound frames until the transport closes. Malformed
// envelopes are discarded and logged, never fatal. Valid envelopes get the
// author pinned to the session's nickname and a timestamp filled in when the
// sender left it empty, then go to the hub in transmission order.
func (conn *Conn) readPump() {
	defer func() {
		conn.detach()
		conn.sock.Close()
	}()
	conn.sock.SetReadLimit(maxMsgSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := conn.sock.ReadMessage()
		if err != nil {
			// normal close or read error, the deferred cleanup handles it
			break
		}
		envelope, err := ParseEnvelope(payload)
		if err != nil {
			log.Printf("discarding envelope from %s: %v", conn.userID, err)
			continue
		}
		switch envelope.Kind {
		case KindChat:
			message, err := envelope.ChatMessage()
			if err != nil {
				log.Printf("discarding envelope from %s: %v", conn.userID, err)
				continue
			}
			message.Author = conn.nickname
			if message.Timestamp == "" {
				message.Timestamp = time.Now().Format("15:04:05")
			}
			encoded, err := EncodeChat(message)
			if err != nil {
				continue
			}
			conn.forward(dispatchEvent{kind: KindChat, payload: encoded})
		case KindSpace:
			payload, err := envelope.SpacePayload()
			if err != nil {
				log.Printf("discarding envelope from %s: %v", conn.userID, err)
				continue
			}
			payload.Message.Author = conn.nickname
			if payload.Message.Timestamp == "" {
				payload.Message.Timestamp = time.Now().Format("15:04:05")
			}
			encoded, err := EncodeSpace(payload.SpaceID, payload.Message)
			if err != nil {
				continue
			}
			conn.forward(dispatchEvent{kind: KindSpace, spaceID: payload.SpaceID, payload: encoded})
		}
	}
}

// detach hands the connection back to the hub for unregistration. Once the
// hub has shut down there is no run loop left to receive it, so the handoff is
// abandoned instead of blocking this goroutine forever.
func (conn *Conn) detach() {
	select {
	case conn.hub.unregister <- conn:
	case <-conn.hub.quit:
	}
}

// forward queues one parsed envelope for dispatch, dropping it when the hub
// has already shut down.
func (conn *Conn) forward(event dispatchEvent) {
	select {
	case conn.hub.events <- event:
	case <-conn.hub.quit:
	}
}

func (conn *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.sock.Close()
	}()
	for {
		select {
		case message, ok := <-conn.send:
			_ = conn.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.sock.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.sock.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
