package realtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func verifier(token string) (string, error) {
	if acc, ok := strings.CutPrefix(token, "ok-"); ok {
		return acc, nil
	}
	return "", errors.New("bad token")
}

func setup(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(zap.NewNop(), verifier, func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url, account string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url+"?token=ok-"+account, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	deadline := time.Now().Add(time.Second)
	for hub.Connections(account) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	return c
}

func TestRejectsInvalidToken(t *testing.T) {
	_, url := setup(t)
	_, res, err := websocket.DefaultDialer.Dial(url+"?token=nope", nil)
	if err == nil {
		t.Fatalf("expected handshake failure")
	}
	if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401, got %+v", res)
	}
}

func TestDeliverOnlyToOwner(t *testing.T) {
	hub, url := setup(t)
	alice := dial(t, hub, url, "alice")
	bob := dial(t, hub, url, "bob")

	hub.Deliver("alice", []byte(`{"title":"Depósito confirmado!"}`))

	_ = alice.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := alice.ReadMessage()
	if err != nil || !strings.Contains(string(msg), "Depósito confirmado!") {
		t.Fatalf("alice: %q %v", msg, err)
	}

	_ = bob.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Fatalf("bob must not receive alice's notification")
	}
}

func TestPingPongAndDisconnect(t *testing.T) {
	hub, url := setup(t)
	c := dial(t, hub, url, "alice")

	if err := c.WriteJSON(ClientMsg{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var pong ClientMsg
	if err := c.ReadJSON(&pong); err != nil || pong.Type != "pong" {
		t.Fatalf("pong: %+v %v", pong, err)
	}

	c.Close()
	deadline := time.Now().Add(time.Second)
	for hub.Connections("alice") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := hub.Connections("alice"); n != 0 {
		t.Fatalf("connection not released: %d", n)
	}
}
