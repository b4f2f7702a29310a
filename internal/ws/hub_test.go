package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-dm-backend/internal/push"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// dialTestClient spins up an upgraded server-side Client plus the dialing
// peer, and attaches the client to hub.
func dialTestClient(t *testing.T, hub *Hub, connID, userID string, onFrame FrameHandler) *websocket.Conn {
	t.Helper()

	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		c := NewClient(connID, userID, conn, onFrame, func() { hub.Remove(connID) })
		hub.Add(c)
		c.Start()
		close(ready)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	peer, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = peer.Close() })
	<-ready
	return peer
}

func TestHub_PushDeliversToLocalClient(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	peer := dialTestClient(t, hub, "c1", "alice", nil)

	if err := hub.Push(context.Background(), "c1", []byte(`{"type":"message"}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(raw) != `{"type":"message"}` {
		t.Fatalf("payload = %s", raw)
	}
}

func TestHub_PushUnknownConnectionIsGone(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	err := hub.Push(context.Background(), "nope", []byte("x"))
	if !errors.Is(err, push.ErrGone) {
		t.Fatalf("err = %v, want ErrGone", err)
	}
}

func TestHub_RemoveThenPushIsGone(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	_ = dialTestClient(t, hub, "c1", "alice", nil)

	if hub.Len() != 1 {
		t.Fatalf("Len = %d", hub.Len())
	}
	hub.Remove("c1")
	if hub.Len() != 0 {
		t.Fatalf("Len after remove = %d", hub.Len())
	}
	if err := hub.Push(context.Background(), "c1", []byte("x")); !errors.Is(err, push.ErrGone) {
		t.Fatalf("err = %v, want ErrGone", err)
	}
	// removing twice stays silent
	hub.Remove("c1")
}

func TestClient_InboundFrameDispatch(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())

	got := make(chan InboundFrame, 1)
	peer := dialTestClient(t, hub, "c1", "alice", func(connID string, f InboundFrame) []byte {
		if connID != "c1" {
			t.Errorf("connID = %q", connID)
		}
		got <- f
		return []byte(`{"type":"ack"}`)
	})

	if err := peer.WriteMessage(websocket.TextMessage, []byte(`{"action":"sendMessage","conversationId":"alice#bob","text":"hi"}`)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	select {
	case f := <-got:
		if f.ConversationID != "alice#bob" || f.Text != "hi" {
			t.Fatalf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("frame never dispatched")
	}

	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if string(raw) != `{"type":"ack"}` {
		t.Fatalf("ack = %s", raw)
	}
}

func TestClient_UnsupportedActionGetsErrorFrame(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	peer := dialTestClient(t, hub, "c1", "alice", nil)

	if err := peer.WriteMessage(websocket.TextMessage, []byte(`{"action":"dance"}`)); err != nil {
		t.Fatalf("peer write: %v", err)
	}
	_ = peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := peer.ReadMessage()
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if !strings.Contains(string(raw), "unsupported action") {
		t.Fatalf("unexpected frame: %s", raw)
	}
}
