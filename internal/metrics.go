package internal

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	signups         atomic.Uint64
	logins          atomic.Uint64
	activeConns     atomic.Int64
	chatDispatched  atomic.Uint64
	spaceDispatched atomic.Uint64
	droppedSends    atomic.Uint64
	spacesCreated   atomic.Uint64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) IncSignup() {
	m.signups.Add(1)
}

func (m *Metrics) IncLogin() {
	m.logins.Add(1)
}

func (m *Metrics) IncConn() {
	m.activeConns.Add(1)
}

func (m *Metrics) DecConn() {
	m.activeConns.Add(-1)
}

func (m *Metrics) IncChatDispatched() {
	m.chatDispatched.Add(1)
}

func (m *Metrics) IncSpaceDispatched() {
	m.spaceDispatched.Add(1)
}

func (m *Metrics) IncDroppedSend() {
	m.droppedSends.Add(1)
}

func (m *Metrics) IncSpaceCreated() {
	m.spacesCreated.Add(1)
}

// Snapshot returns the current counter values for the JSON endpoint.
func (m *Metrics) Snapshot() map[string]any {
	return map[string]any{
		"signups_total":          m.signups.Load(),
		"logins_total":           m.logins.Load(),
		"active_connections":     m.activeConns.Load(),
		"chat_dispatched_total":  m.chatDispatched.Load(),
		"space_dispatched_total": m.spaceDispatched.Load(),
		"dropped_sends_total":    m.droppedSends.Load(),
		"spaces_created_total":   m.spacesCreated.Load(),
	}
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(m.Snapshot())
}
