package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/voice-waiter/internal/log"
	"github.com/teslashibe/voice-waiter/pkg/protocol"
)

// fakeConn records writes and blocks reads until closed.
type fakeConn struct {
	mu     sync.Mutex
	writes [][]byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (f *fakeConn) SetReadLimit(int64)                {}
func (f *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetPongHandler(func(string) error) {}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	<-f.closed
	return 0, nil, errors.New("closed")
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Writes() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	waitFor(t, "hub running", h.IsRunning)
	return h, cancel
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	h, _ := startHub(t)

	a, b := newFakeConn(), newFakeConn()
	for _, conn := range []*fakeConn{a, b} {
		go NewClient(h, conn).Run()
	}
	waitFor(t, "two clients", func() bool { return h.ClientCount() == 2 })

	msg, _ := protocol.NewStatusMessage(protocol.StatusData{SessionID: "s1", Status: "listening"})
	if err := h.Publish(msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	for _, conn := range []*fakeConn{a, b} {
		waitFor(t, "write", func() bool { return len(conn.Writes()) == 1 })
		got, err := protocol.ParseMessage(conn.Writes()[0])
		if err != nil || got.Type != protocol.TypeStatus {
			t.Errorf("client got %v, %v", got, err)
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	h, _ := startHub(t)
	conn := newFakeConn()
	go NewClient(h, conn).Run()
	waitFor(t, "client", func() bool { return h.ClientCount() == 1 })

	conn.Close()
	waitFor(t, "unregister", func() bool { return h.ClientCount() == 0 })
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	conn := newFakeConn()
	go NewClient(h, conn).Run()
	waitFor(t, "client", func() bool { return h.ClientCount() == 1 })

	cancel()
	waitFor(t, "stopped", func() bool { return !h.IsRunning() })
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client connection should close when the hub stops")
	}

	// Clients arriving late do not block.
	late := NewClient(h, newFakeConn())
	if _, ok := <-late.send; ok {
		t.Error("late client queue should be closed")
	}
}

func TestHub_BroadcastWithoutRunDrops(t *testing.T) {
	h := New("idle", log.Discard())
	for i := 0; i < cap(h.broadcast)+3; i++ {
		h.Broadcast(Message{Type: protocol.TypeNotice, Data: []byte("{}")})
	}
	if h.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", h.Dropped())
	}
}
