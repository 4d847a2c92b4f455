package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, sendBuffer)}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("client-1", "toasts")

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount("toasts") != 1 {
		t.Fatalf("expected 1 client on toasts, got %d/%d", hub.ClientCount(), hub.TopicCount("toasts"))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("toasts") != 0 {
		t.Fatalf("expected no clients after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel closed")
	}

	// A second unregister must not panic on the closed channel.
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	subscribed := newClient("a", "toasts")
	other := newClient("b", "status")
	hub.Register(subscribed)
	hub.Register(other)

	hub.Broadcast("toasts", Event{Type: "toast", Topic: "toasts", Timestamp: time.Now()})

	select {
	case data := <-subscribed.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("invalid event json: %v", err)
		}
		if ev.Type != "toast" {
			t.Errorf("expected toast event, got %s", ev.Type)
		}
	default:
		t.Fatal("expected subscribed client to receive the event")
	}
	select {
	case <-other.Send:
		t.Fatal("client on another topic must not receive the event")
	default:
	}
}

func TestHub_BroadcastSkipsFullClients(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", Topics: []string{"toasts"}, Send: make(chan []byte, 1)}
	hub.Register(slow)

	hub.Broadcast("toasts", Event{Type: "one"})
	hub.Broadcast("toasts", Event{Type: "two"})

	if len(slow.Send) != 1 {
		t.Errorf("expected one buffered event, got %d", len(slow.Send))
	}
}

func TestHub_PublishUsesEventTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("a", "toasts")
	hub.Register(client)

	data := json.RawMessage(`{"level":"error","message":"offline"}`)
	if err := hub.Publish(context.Background(), Event{Type: "toast", Topic: "toasts", Data: data}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case raw := <-client.Send:
		if !strings.Contains(string(raw), `"message":"offline"`) {
			t.Errorf("expected payload in event, got %s", raw)
		}
	default:
		t.Fatal("expected event delivered")
	}
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("a", "toasts")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"status", "inbox"}})
	if hub.TopicCount("status") != 1 || len(client.Topics) != 3 {
		t.Fatalf("expected 3 topics, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"toasts", "inbox"}})
	if hub.TopicCount("toasts") != 0 || hub.TopicCount("inbox") != 0 {
		t.Error("expected topics removed")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "status" {
		t.Errorf("expected only status left, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "noop", Topics: []string{"x"}})
	if hub.TopicCount("x") != 0 {
		t.Error("unknown actions must be ignored")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := newClient("c", "toasts")
			hub.Register(c)
			hub.Broadcast("toasts", Event{Type: "ping"})
			hub.Unregister(c)
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	NewHandler(NewHub(zerolog.Nop()), HandlerConfig{}).RegisterRoutes(e.Group("/api/v1"))

	found := false
	for _, r := range e.Routes() {
		if r.Path == "/api/v1/ws" && r.Method == http.MethodGet {
			found = true
		}
	}
	if !found {
		t.Fatal("expected GET /api/v1/ws route")
	}
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), HandlerConfig{AllowedOrigins: []string{"https://agenda.clinic"}})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://agenda.clinic", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(req); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), HandlerConfig{})
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), rec)

	if err := h.HandleConnect(c); err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected upgrade to fail for a non-websocket request")
	}
}

func TestHandler_DefaultTopicsAndDelivery(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, HandlerConfig{DefaultTopics: []string{"toasts"}}).RegisterRoutes(e.Group(""))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("toasts") == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if hub.TopicCount("toasts") != 1 {
		t.Fatal("expected client subscribed to default topic")
	}

	hub.Publish(context.Background(), Event{Type: "toast", Topic: "toasts", Data: json.RawMessage(`{"message":"saved"}`)})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "toast" || !strings.Contains(string(got.Data), "saved") {
		t.Errorf("unexpected event %+v", got)
	}
}
