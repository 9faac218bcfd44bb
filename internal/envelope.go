package internal

import (
	"encoding/json"
	"fmt"
	"time"
)

// envelope kinds on the wire
const (
	KindChat  = "chat"
	KindSpace = "space"
)

// Message is a single chat line. The sender stamps the timestamp when the
// message is created; the hub forwards it untouched.
type Message struct {
	Author    string `json:"user"`
	Text      string `json:"text"`
	Timestamp string `json:"time"`
}

// SpacePayload targets a message at one space.
type SpacePayload struct {
	SpaceID string  `json:"spaceId"`
	Message Message `json:"message"`
}

// Envelope is the tagged unit both sides exchange over the websocket. Data is
// kept raw so a chat and a space payload can share the same frame shape.
type Envelope struct {
	Kind string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// ParseEnvelope decodes a wire frame and rejects anything that is not a
// well-formed chat or space envelope. Callers discard and log on error, they
// never crash the read loop.
func ParseEnvelope(payload []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	switch envelope.Kind {
	case KindChat, KindSpace:
	default:
		return Envelope{}, fmt.Errorf("unknown envelope kind %q", envelope.Kind)
	}
	if len(envelope.Data) == 0 {
		return Envelope{}, fmt.Errorf("envelope kind %q has no data", envelope.Kind)
	}
	return envelope, nil
}

// ChatMessage extracts the public-channel payload from a chat envelope.
func (e Envelope) ChatMessage() (Message, error) {
	if e.Kind != KindChat {
		return Message{}, fmt.Errorf("envelope kind %q is not %q", e.Kind, KindChat)
	}
	var message Message
	if err := json.Unmarshal(e.Data, &message); err != nil {
		return Message{}, fmt.Errorf("decode chat payload: %w", err)
	}
	return message, nil
}

// SpacePayload extracts the targeted payload from a space envelope.
func (e Envelope) SpacePayload() (SpacePayload, error) {
	if e.Kind != KindSpace {
		return SpacePayload{}, fmt.Errorf("envelope kind %q is not %q", e.Kind, KindSpace)
	}
	var payload SpacePayload
	if err := json.Unmarshal(e.Data, &payload); err != nil {
		return SpacePayload{}, fmt.Errorf("decode space payload: %w", err)
	}
	if payload.SpaceID == "" {
		return SpacePayload{}, fmt.Errorf("space payload missing spaceId")
	}
	return payload, nil
}

// EncodeChat builds the wire frame for a public message.
func EncodeChat(message Message) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: KindChat, Data: data})
}

// EncodeSpace builds the wire frame for a space message.
func EncodeSpace(spaceID string, message Message) ([]byte, error) {
	data, err := json.Marshal(SpacePayload{SpaceID: spaceID, Message: message})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: KindSpace, Data: data})
}

// NewMessage stamps a message the way the original client did: author plus a
// wall-clock time string, assigned at send time rather than by the hub.
func NewMessage(author, text string) Message {
	return Message{Author: author, Text: text, Timestamp: time.Now().Format("15:04:05")}
}
