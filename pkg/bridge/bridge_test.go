package bridge

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/voice-waiter/internal/log"
	"github.com/teslashibe/voice-waiter/pkg/protocol"
	"github.com/teslashibe/voice-waiter/pkg/relay"
)

type fakeTarget struct {
	mu     sync.Mutex
	texts  []string
	reject bool
}

func (f *fakeTarget) Inject(ctx context.Context, text string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.texts = append(f.texts, text)
	return true
}

func (f *fakeTarget) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDeliver(t *testing.T) {
	target := &fakeTarget{}
	b := New(target, log.Discard())

	msg, _ := protocol.NewChefAnswerMessage("The pie has nuts.", "")
	if err := b.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if got := target.Texts(); len(got) != 1 || got[0] != "The pie has nuts." {
		t.Errorf("injected %v", got)
	}
	if b.Delivered() != 1 {
		t.Errorf("Delivered = %d, want 1", b.Delivered())
	}
}

func TestDeliver_Rejections(t *testing.T) {
	status, _ := protocol.NewStatusMessage(protocol.StatusData{Status: "idle"})
	blank := &protocol.Message{Type: protocol.TypeChefAnswer, Data: []byte(`{"answer":" "}`)}

	tests := []struct {
		name    string
		msg     *protocol.Message
		want    error
		dropped int64
	}{
		{"nil", nil, ErrUnhandled, 0},
		{"other type", status, ErrUnhandled, 0},
		{"blank answer", blank, protocol.ErrEmptyAnswer, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &fakeTarget{}
			b := New(target, log.Discard())
			if err := b.Deliver(context.Background(), tt.msg); !errors.Is(err, tt.want) {
				t.Errorf("Deliver error = %v, want %v", err, tt.want)
			}
			if len(target.Texts()) != 0 {
				t.Error("nothing should be injected")
			}
			if b.Dropped() != tt.dropped {
				t.Errorf("Dropped = %d, want %d", b.Dropped(), tt.dropped)
			}
		})
	}
}

func TestDeliver_TargetRejects(t *testing.T) {
	b := New(&fakeTarget{reject: true}, log.Discard())
	msg, _ := protocol.NewChefAnswerMessage("hi", "")
	if err := b.Deliver(context.Background(), msg); !errors.Is(err, ErrRejected) {
		t.Errorf("Deliver error = %v, want ErrRejected", err)
	}
	if b.Dropped() != 1 {
		t.Errorf("Dropped = %d, want 1", b.Dropped())
	}
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base    string
		want    string
		wantErr bool
	}{
		{"ws://localhost:8090", "ws://localhost:8090/ws/push/r1/s%201", false},
		{"https://relay.example.com/", "wss://relay.example.com/ws/push/r1/s%201", false},
		{"http://relay.example.com/base", "ws://relay.example.com/base/ws/push/r1/s%201", false},
		{"ftp://relay.example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got, err := Endpoint(tt.base, "r1", "s 1")
			if (err != nil) != tt.wantErr {
				t.Fatalf("Endpoint error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Endpoint = %q, want %q", got, tt.want)
			}
		})
	}
	if _, err := Endpoint("ws://x", "", "s"); err == nil {
		t.Error("missing restaurant should fail")
	}
}

func runClient(t *testing.T, c *PushClient) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func TestPushClient_ThroughRelay(t *testing.T) {
	hub := relay.NewHub(log.Discard())
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	target := &fakeTarget{}
	client, err := NewPushClient("http://"+ln.Addr().String(), "r1", "s1", New(target, log.Discard()), log.Discard())
	if err != nil {
		t.Fatalf("NewPushClient failed: %v", err)
	}
	runClient(t, client)

	addr := protocol.Address{RestaurantID: "r1", SessionID: "s1"}
	waitFor(t, "relay session", func() bool { return hub.Session(addr) != nil })
	if err := hub.Deliver(addr, "Ten minutes for the pizza.", "q1"); err != nil {
		t.Fatalf("relay Deliver failed: %v", err)
	}
	waitFor(t, "injected answer", func() bool { return len(target.Texts()) == 1 })
	if target.Texts()[0] != "Ten minutes for the pizza." {
		t.Errorf("injected %q", target.Texts()[0])
	}
}

func TestPushClient_Reconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/push/r1/s1") {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			// Drop the first connection straight away.
			ws.Close()
			return
		}
		msg, _ := protocol.NewChefAnswerMessage("Back again.", "")
		data, _ := msg.Bytes()
		ws.WriteMessage(websocket.TextMessage, data)
		ws.ReadMessage()
		ws.Close()
	}))
	t.Cleanup(srv.Close)

	target := &fakeTarget{}
	client, err := NewPushClient(srv.URL, "r1", "s1", New(target, log.Discard()), log.Discard(),
		WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("NewPushClient failed: %v", err)
	}
	runClient(t, client)

	waitFor(t, "answer after reconnect", func() bool { return len(target.Texts()) == 1 })
	if conns.Load() < 2 || client.Attempts() < 2 {
		t.Errorf("conns = %d attempts = %d, want a reconnect", conns.Load(), client.Attempts())
	}
}

func TestPushClient_RepliesToPing(t *testing.T) {
	pongs := make(chan *protocol.Message, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ping, _ := protocol.NewPingMessage("srv")
		data, _ := ping.Bytes()
		ws.WriteMessage(websocket.TextMessage, data)
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, resp, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msg, err := protocol.ParseMessage(resp); err == nil {
			pongs <- msg
		}
	}))
	t.Cleanup(srv.Close)

	client, _ := NewPushClient(srv.URL, "r1", "s1", New(&fakeTarget{}, log.Discard()), log.Discard(),
		WithBackoff(time.Second, time.Second))
	runClient(t, client)

	select {
	case msg := <-pongs:
		if msg.Type != protocol.TypePong {
			t.Errorf("Type = %s, want pong", msg.Type)
		}
		if p, _ := msg.GetPongData(); p == nil || p.ID != "srv" {
			t.Errorf("unexpected pong %+v", p)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no pong received")
	}
}
