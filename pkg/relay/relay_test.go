package relay

import (
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/voice-waiter/internal/log"
	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

func newApp(hub *Hub) *fiber.App {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))
	return app
}

// serve starts app on a free port and returns its ws base URL.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.SessionCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("SessionCount = %d, want %d", hub.SessionCount(), want)
}

func postAnswer(t *testing.T, app *fiber.App, body string) int {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/chef-answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	return resp.StatusCode
}

func TestNewHub(t *testing.T) {
	hub := NewHub(log.Discard())
	if hub.SessionCount() != 0 {
		t.Error("SessionCount should be 0 initially")
	}
	if s := hub.Stats(); s.AnswersSent != 0 || s.AnswersDropped != 0 {
		t.Errorf("unexpected stats %+v", s)
	}
	if hub.Session(protocol.Address{RestaurantID: "r", SessionID: "s"}) != nil {
		t.Error("Session should be nil for an unknown address")
	}
}

func TestDeliver_ToConnectedSession(t *testing.T) {
	hub := NewHub(log.Discard())
	app := newApp(hub)
	base := serve(t, app)

	ws := dial(t, base+"/ws/push/r1/s1")
	waitCount(t, hub, 1)

	code := postAnswer(t, app, `{"restaurantId":"r1","sessionId":"s1","answer":"Yes, the curry is vegan."}`)
	if code != fiber.StatusOK {
		t.Fatalf("Status = %d, want 200", code)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	answer, err := msg.GetChefAnswer()
	if err != nil {
		t.Fatalf("GetChefAnswer: %v", err)
	}
	if answer.Answer != "Yes, the curry is vegan." {
		t.Errorf("Answer = %q", answer.Answer)
	}
	if hub.Stats().AnswersSent != 1 {
		t.Errorf("AnswersSent = %d, want 1", hub.Stats().AnswersSent)
	}
}

func TestDeliver_OtherSessionNotReached(t *testing.T) {
	hub := NewHub(log.Discard())
	app := newApp(hub)
	base := serve(t, app)

	other := dial(t, base+"/ws/push/r1/other")
	waitCount(t, hub, 1)

	if code := postAnswer(t, app, `{"restaurantId":"r1","sessionId":"s1","answer":"hi"}`); code != fiber.StatusNotFound {
		t.Errorf("Status = %d, want 404", code)
	}
	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("another session must not receive the answer")
	}
	if hub.Stats().AnswersDropped != 1 {
		t.Errorf("AnswersDropped = %d, want 1", hub.Stats().AnswersDropped)
	}
}

func TestChefAnswer_BadRequests(t *testing.T) {
	hub := NewHub(log.Discard())
	app := newApp(hub)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing session", `{"restaurantId":"r1","answer":"hi"}`},
		{"blank answer", `{"restaurantId":"r1","sessionId":"s1","answer":"  "}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code := postAnswer(t, app, tt.body); code != fiber.StatusBadRequest {
				t.Errorf("Status = %d, want 400", code)
			}
		})
	}
}

func TestSessionDisconnect(t *testing.T) {
	hub := NewHub(log.Discard())
	base := serve(t, newApp(hub))

	ws := dial(t, base+"/ws/push/r1/s1")
	waitCount(t, hub, 1)
	ws.Close()
	waitCount(t, hub, 0)
}

func TestReconnectReplacesSession(t *testing.T) {
	hub := NewHub(log.Discard())
	base := serve(t, newApp(hub))

	first := dial(t, base+"/ws/push/r1/s1")
	waitCount(t, hub, 1)
	old := hub.Session(protocol.Address{RestaurantID: "r1", SessionID: "s1"})

	dial(t, base+"/ws/push/r1/s1")
	deadline := time.Now().Add(2 * time.Second)
	for hub.Session(protocol.Address{RestaurantID: "r1", SessionID: "s1"}) == old && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	first.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("replaced socket should be closed")
	}
	waitCount(t, hub, 1)
}

func TestPingPong(t *testing.T) {
	hub := NewHub(log.Discard())
	base := serve(t, newApp(hub))
	ws := dial(t, base+"/ws/push/r1/s1")

	ping, _ := protocol.NewPingMessage("p1")
	data, _ := ping.Bytes()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("Write error: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, resp, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	msg, _ := protocol.ParseMessage(resp)
	if msg.Type != protocol.TypePong {
		t.Fatalf("Type = %s, want pong", msg.Type)
	}
	if pong, _ := msg.GetPongData(); pong == nil || pong.ID != "p1" {
		t.Errorf("unexpected pong %+v", pong)
	}
}

func TestAPIListSessions(t *testing.T) {
	hub := NewHub(log.Discard())
	app := newApp(hub)

	resp, err := app.Test(httptest.NewRequest("GET", "/api/sessions/", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "sessions") {
		t.Error("Response should contain 'sessions' field")
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/sessions/stats", nil))
	if err != nil || resp.StatusCode != 200 {
		t.Errorf("stats request failed: %v", err)
	}
}

func TestUpgradeRequired(t *testing.T) {
	app := newApp(NewHub(log.Discard()))
	resp, err := app.Test(httptest.NewRequest("GET", "/ws/push/r1/s1", nil))
	if err != nil {
		t.Fatalf("Request error: %v", err)
	}
	if resp.StatusCode != fiber.StatusUpgradeRequired {
		t.Errorf("Status = %d, want 426", resp.StatusCode)
	}
}
