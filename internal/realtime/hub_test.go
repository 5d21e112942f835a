package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

func TestHubDeliversOnlyToTargetUser(t *testing.T) {
	hub := NewHub()

	alice, cancelAlice := hub.Subscribe("alice")
	defer cancelAlice()
	bob, cancelBob := hub.Subscribe("bob")
	defer cancelBob()

	hub.Publish("alice", Event{Type: EventWalletUpdated, Data: map[string]float64{"balance": 120}})

	select {
	case event := <-alice:
		if event.Type != EventWalletUpdated || event.Timestamp == 0 {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected alice to receive the event")
	}

	select {
	case event := <-bob:
		t.Fatalf("expected bob to receive nothing, got %+v", event)
	default:
	}
}

func TestHubPublishNeverBlocks(t *testing.T) {
	hub := NewHub()
	_, cancel := hub.Subscribe("slow")
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish("slow", Event{Type: EventGameJoined})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
}

func TestHubCancelRemovesSubscription(t *testing.T) {
	hub := NewHub()
	events, cancel := hub.Subscribe("carol")

	if hub.Subscribers("carol") != 1 {
		t.Fatalf("expected one subscriber")
	}

	cancel()
	cancel()

	if hub.Subscribers("carol") != 0 {
		t.Fatalf("expected subscription to be removed")
	}
	if _, ok := <-events; ok {
		t.Fatalf("expected channel to be closed")
	}

	hub.Publish("carol", Event{Type: EventWalletUpdated})
}

func TestServerStreamsEventsOverWebsocket(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	hub := NewHub()
	server := NewServer(hub, nil, logrus.NewEntry(logger))

	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.Serve(w, r, "dave")
	}))
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("dave") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscription was never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish("dave", Event{Type: EventWalletUpdated, Data: map[string]float64{"balance": 50}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.Type != EventWalletUpdated {
		t.Fatalf("expected wallet_updated, got %+v", got)
	}

	if err := conn.WriteJSON(clientMessage{Type: "ping"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read pong failed: %v", err)
	}
	if got.Type != EventPong {
		t.Fatalf("expected pong, got %+v", got)
	}
}

func TestServerRejectsUnknownOrigin(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	server := NewServer(NewHub(), []string{"https://bingo.example.com"}, logrus.NewEntry(logger))

	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		server.Serve(w, r, "eve")
	}))
	defer httpServer.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http")
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatalf("expected handshake to fail for unknown origin")
	}
}
