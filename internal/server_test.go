package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"spacechat/internal/storage"
)

func newTestServer(t *testing.T, multiDevice bool) (*Server, *httptest.Server) {
	t.Helper()
	store, err := storage.NewStore("sqlite://file:" + t.Name() + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	server := NewServer(store, multiDevice)
	mux := http.NewServeMux()
	mux.HandleFunc("/join", server.ServeWS)
	mux.HandleFunc("/signup", server.HandleSignup)
	mux.HandleFunc("/login", server.HandleLogin)
	mux.HandleFunc("/logout", server.HandleLogout)
	mux.HandleFunc("/spaces", server.HandleSpaces)
	mux.HandleFunc("/spaces/", server.HandleSpaceMembers)
	mux.Handle("/metrics", server.MetricsHandler())

	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		server.Hub().Stop()
		_ = store.Close()
	})
	return server, ts
}

func postJSON(t *testing.T, url, token string, payload interface{}, out interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}
	return resp
}

func signupAndLogin(t *testing.T, baseURL, id, nickname string) loginResponse {
	t.Helper()
	resp := postJSON(t, baseURL+"/signup", "", map[string]string{"id": id, "nickname": nickname, "password": "secret"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status: %d", resp.StatusCode)
	}
	var login loginResponse
	resp = postJSON(t, baseURL+"/login", "", map[string]string{"id": id, "password": "secret"}, &login)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	return login
}

func dialWS(t *testing.T, baseURL, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/join?token=" + token
	sock, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func waitForConnections(t *testing.T, server *Server, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for server.Hub().ConnectionCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d connections, have %d", want, server.Hub().ConnectionCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, sock *websocket.Conn) Envelope {
	t.Helper()
	_ = sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := sock.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	envelope, err := ParseEnvelope(payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return envelope
}

func expectSilence(t *testing.T, sock *websocket.Conn) {
	t.Helper()
	_ = sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, payload, err := sock.ReadMessage(); err == nil {
		t.Fatalf("unexpected frame: %s", payload)
	}
}

func TestChatBroadcastReachesEveryone(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")
	bob := signupAndLogin(t, ts.URL, "22222", "bob")

	aliceSock := dialWS(t, ts.URL, alice.Token)
	bobSock := dialWS(t, ts.URL, bob.Token)
	waitForConnections(t, server, 2)

	// the claimed author is ignored; the hub pins the session nickname
	frame, err := EncodeChat(Message{Author: "mallory", Text: "hello all"})
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}
	if err := aliceSock.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, sock := range []*websocket.Conn{aliceSock, bobSock} {
		envelope := readEnvelope(t, sock)
		message, err := envelope.ChatMessage()
		if err != nil {
			t.Fatalf("ChatMessage: %v", err)
		}
		if message.Author != "alice" || message.Text != "hello all" {
			t.Fatalf("unexpected message: %+v", message)
		}
		if message.Timestamp == "" {
			t.Fatalf("timestamp not stamped")
		}
	}
}

func TestSpaceDispatchTargetsMembersOnly(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")
	bob := signupAndLogin(t, ts.URL, "22222", "bob")
	carol := signupAndLogin(t, ts.URL, "33333", "carol")

	var space Space
	resp := postJSON(t, ts.URL+"/spaces", alice.Token, createSpaceRequest{Name: "team", Members: []string{"22222"}}, &space)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create space status: %d", resp.StatusCode)
	}

	aliceSock := dialWS(t, ts.URL, alice.Token)
	bobSock := dialWS(t, ts.URL, bob.Token)
	carolSock := dialWS(t, ts.URL, carol.Token)
	waitForConnections(t, server, 3)

	frame, err := EncodeSpace(space.ID, Message{Text: "members only", Timestamp: "10:00:00"})
	if err != nil {
		t.Fatalf("EncodeSpace: %v", err)
	}
	if err := aliceSock.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, sock := range []*websocket.Conn{aliceSock, bobSock} {
		envelope := readEnvelope(t, sock)
		payload, err := envelope.SpacePayload()
		if err != nil {
			t.Fatalf("SpacePayload: %v", err)
		}
		if payload.SpaceID != space.ID || payload.Message.Text != "members only" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		// the sender's own timestamp rides through untouched
		if payload.Message.Timestamp != "10:00:00" {
			t.Fatalf("timestamp rewritten: %+v", payload.Message)
		}
	}
	expectSilence(t, carolSock)
}

func TestSpaceDispatchUnknownSpaceDropped(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")

	aliceSock := dialWS(t, ts.URL, alice.Token)
	waitForConnections(t, server, 1)

	frame, err := EncodeSpace("does-not-exist", Message{Text: "lost"})
	if err != nil {
		t.Fatalf("EncodeSpace: %v", err)
	}
	if err := aliceSock.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectSilence(t, aliceSock)
}

func TestMemberAddedMidSessionStartsReceiving(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")
	carol := signupAndLogin(t, ts.URL, "33333", "carol")

	var space Space
	resp := postJSON(t, ts.URL+"/spaces", alice.Token, createSpaceRequest{Name: "team"}, &space)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create space status: %d", resp.StatusCode)
	}

	aliceSock := dialWS(t, ts.URL, alice.Token)
	carolSock := dialWS(t, ts.URL, carol.Token)
	waitForConnections(t, server, 2)

	send := func(text string) {
		frame, err := EncodeSpace(space.ID, Message{Text: text})
		if err != nil {
			t.Fatalf("EncodeSpace: %v", err)
		}
		if err := aliceSock.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	send("before invite")
	readEnvelope(t, aliceSock)
	expectSilence(t, carolSock)

	resp = postJSON(t, fmt.Sprintf("%s/spaces/%s/members", ts.URL, space.ID), alice.Token, addMemberRequest{UserID: "33333"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add member status: %d", resp.StatusCode)
	}

	send("after invite")
	readEnvelope(t, aliceSock)
	envelope := readEnvelope(t, carolSock)
	payload, err := envelope.SpacePayload()
	if err != nil {
		t.Fatalf("SpacePayload: %v", err)
	}
	if payload.Message.Text != "after invite" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSecondLoginReplacesFirstConnection(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")
	bob := signupAndLogin(t, ts.URL, "22222", "bob")

	first := dialWS(t, ts.URL, alice.Token)
	waitForConnections(t, server, 1)
	second := dialWS(t, ts.URL, alice.Token)

	// the replaced connection only ever sees the close
	_ = first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, payload, err := first.ReadMessage(); err == nil {
		t.Fatalf("stale connection still receiving: %s", payload)
	}

	bobSock := dialWS(t, ts.URL, bob.Token)
	waitForConnections(t, server, 2)

	frame, err := EncodeChat(Message{Text: "who hears this"})
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}
	if err := bobSock.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	readEnvelope(t, second)
	readEnvelope(t, bobSock)
}

func TestMultiDeviceFanOut(t *testing.T) {
	server, ts := newTestServer(t, true)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")

	first := dialWS(t, ts.URL, alice.Token)
	second := dialWS(t, ts.URL, alice.Token)
	waitForConnections(t, server, 2)

	frame, err := EncodeChat(Message{Text: "both devices"})
	if err != nil {
		t.Fatalf("EncodeChat: %v", err)
	}
	if err := first.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	for _, sock := range []*websocket.Conn{first, second} {
		envelope := readEnvelope(t, sock)
		message, err := envelope.ChatMessage()
		if err != nil {
			t.Fatalf("ChatMessage: %v", err)
		}
		if message.Text != "both devices" {
			t.Fatalf("unexpected message: %+v", message)
		}
	}
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	_, ts := newTestServer(t, false)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/join?token=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatalf("expected the dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}
}

func TestSignupValidation(t *testing.T) {
	_, ts := newTestServer(t, false)

	resp := postJSON(t, ts.URL+"/signup", "", map[string]string{"id": "12ab5", "nickname": "x", "password": "p"}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric id, got %d", resp.StatusCode)
	}

	resp = postJSON(t, ts.URL+"/signup", "", map[string]string{"id": "12345", "nickname": "alice", "password": "p"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup status: %d", resp.StatusCode)
	}
	resp = postJSON(t, ts.URL+"/signup", "", map[string]string{"id": "12345", "nickname": "clone", "password": "p"}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for a duplicate id, got %d", resp.StatusCode)
	}
}

func TestSpacesRequireAuth(t *testing.T) {
	_, ts := newTestServer(t, false)
	resp, err := http.Get(ts.URL + "/spaces")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestDispatchPreservesSendOrder(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")
	bob := signupAndLogin(t, ts.URL, "22222", "bob")

	aliceSock := dialWS(t, ts.URL, alice.Token)
	bobSock := dialWS(t, ts.URL, bob.Token)
	waitForConnections(t, server, 2)

	const count = 20
	for i := 0; i < count; i++ {
		frame, err := EncodeChat(Message{Text: fmt.Sprintf("msg-%d", i)})
		if err != nil {
			t.Fatalf("EncodeChat: %v", err)
		}
		if err := aliceSock.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for i := 0; i < count; i++ {
		envelope := readEnvelope(t, bobSock)
		message, err := envelope.ChatMessage()
		if err != nil {
			t.Fatalf("ChatMessage: %v", err)
		}
		if want := fmt.Sprintf("msg-%d", i); message.Text != want {
			t.Fatalf("out of order: got %q want %q", message.Text, want)
		}
	}
}

func TestAddMemberRollsBackWhenPersistFails(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")

	// a space the registry knows but the store does not: the member insert
	// hits the foreign key on spaces and fails
	server.registry.Restore(Space{ID: "31337", Name: "phantom", Members: []string{"11111"}})

	// every attempt must fail the same way; a 409 on the retry would mean the
	// first failure left the member in the registry without persisting it
	for attempt := 0; attempt < 2; attempt++ {
		resp := postJSON(t, ts.URL+"/spaces/31337/members", alice.Token, addMemberRequest{UserID: "22222"}, nil)
		if resp.StatusCode != http.StatusInternalServerError {
			t.Fatalf("attempt %d: status %d, want 500", attempt, resp.StatusCode)
		}
	}
	for _, member := range server.registry.Members("31337") {
		if member == "22222" {
			t.Fatalf("unpersisted member left in the registry")
		}
	}
}

func TestCreateSpaceRollsBackWhenPersistFails(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")

	// pin the id generator, then occupy the next id in the store only, so the
	// create's persist step collides
	pin := time.Now().Add(time.Hour).UnixMilli()
	server.registry.Restore(Space{ID: strconv.FormatInt(pin, 10), Name: "pin", Members: []string{"99999"}})
	colliding := strconv.FormatInt(pin+1, 10)
	if err := server.store.SaveSpace(context.Background(), storage.SpaceRecord{ID: colliding, Name: "ghost"}); err != nil {
		t.Fatalf("SaveSpace: %v", err)
	}

	resp := postJSON(t, ts.URL+"/spaces", alice.Token, createSpaceRequest{Name: "team"}, nil)
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", resp.StatusCode)
	}
	if _, ok := server.registry.Get(colliding); ok {
		t.Fatalf("failed create left %s in the registry", colliding)
	}
	if spaces := server.registry.ListFor("11111"); len(spaces) != 0 {
		t.Fatalf("failed create still listed: %+v", spaces)
	}
}

func TestAddMemberConflictSurfacesSentinel(t *testing.T) {
	_, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")

	var space Space
	resp := postJSON(t, ts.URL+"/spaces", alice.Token, createSpaceRequest{Name: "team", Members: []string{"22222"}}, &space)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create space status: %d", resp.StatusCode)
	}

	if _, err := apiAddMember(ts.URL, alice.Token, space.ID, "22222"); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	server, ts := newTestServer(t, false)
	alice := signupAndLogin(t, ts.URL, "11111", "alice")
	dialWS(t, ts.URL, alice.Token)
	waitForConnections(t, server, 1)

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var payload map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["signups_total"] != 1 || payload["logins_total"] != 1 {
		t.Fatalf("unexpected auth counters: %+v", payload)
	}
	if payload["active_connections"] != 1 || payload["online_users"] != 1 {
		t.Fatalf("unexpected connection counters: %+v", payload)
	}
}
