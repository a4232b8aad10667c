package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func TestHubBroadcast(t *testing.T) {
	h := NewHub("", nil)

	s := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(s.Close)

	url := "ws" + strings.TrimPrefix(s.URL, "http")
	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	waitForConnections(t, h, 1)

	h.BroadcastEvent(context.Background(), EventUnlockEarned, UnlockEarnedEvent{
		TenantID: "loc-1",
		UnlockID: "double-down",
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != EventUnlockEarned {
		t.Errorf("type = %q", msg.Type)
	}

	var payload UnlockEarnedEvent
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.UnlockID != "double-down" {
		t.Errorf("unlockId = %q", payload.UnlockID)
	}
}

func TestHubPublishUsesSubjectAsType(t *testing.T) {
	h := NewHub("", nil)

	s := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(s.Close)

	url := "ws" + strings.TrimPrefix(s.URL, "http")
	c, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	waitForConnections(t, h, 1)

	if err := h.Publish(context.Background(), "crm.cycle.completed", []byte(`{"wins":1}`)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != "crm.cycle.completed" {
		t.Errorf("type = %q", msg.Type)
	}
}

func TestHubOriginCheck(t *testing.T) {
	h := NewHub("http://localhost:3000", nil)

	s := httptest.NewServer(http.HandlerFunc(h.HandleWS))
	t.Cleanup(s.Close)

	url := "ws" + strings.TrimPrefix(s.URL, "http")

	dialWithOrigin := func(origin string) (*websocket.Conn, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		hdr := http.Header{}
		hdr.Set("Origin", origin)
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: hdr})
		return c, err
	}

	if c, err := dialWithOrigin("http://evil.example"); err == nil {
		_ = c.Close(websocket.StatusNormalClosure, "")
		t.Fatal("dial with foreign origin succeeded")
	}
	if h.ConnectionCount() != 0 {
		t.Errorf("connections = %d after rejected upgrade", h.ConnectionCount())
	}

	c, err := dialWithOrigin("http://localhost:3000")
	if err != nil {
		t.Fatalf("dial with configured origin: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })

	waitForConnections(t, h, 1)
}

func waitForConnections(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.ConnectionCount() < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d connections", want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
