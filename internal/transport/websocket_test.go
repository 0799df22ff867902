package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"chamahub/internal/broker"
	"chamahub/internal/websocket"
	"chamahub/pkg/types"
)

func startBridge(t *testing.T) (*broker.Broker, *WebSocketDialer) {
	t.Helper()
	b := broker.New()
	h := websocket.NewHandler(b, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	t.Cleanup(srv.Close)

	return b, &WebSocketDialer{URL: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func recvEnvelope(t *testing.T, tr Transport) types.Envelope {
	t.Helper()
	select {
	case env, ok := <-tr.Receive():
		if !ok {
			t.Fatal("receive channel closed")
		}
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
	}
	return types.Envelope{}
}

func TestWebSocketDialerRoundTrip(t *testing.T) {
	_, dialer := startBridge(t)

	tr, err := dialer.Dial(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(&types.Command{Op: types.OpJoinRoom, Room: "general", Sender: "alice"}); err != nil {
		t.Fatalf("Send join: %v", err)
	}
	for i := 0; i < 3; i++ {
		env := recvEnvelope(t, tr)
		if !strings.HasPrefix(env.Kind, "room_snapshot_") {
			t.Fatalf("expected snapshot, got %s", env.Kind)
		}
	}

	if err := tr.Send(&types.Command{Op: types.OpSendMessage, Room: "general", Sender: "alice", Content: "hi"}); err != nil {
		t.Fatalf("Send message: %v", err)
	}
	env := recvEnvelope(t, tr)
	if env.Kind != types.KindNewMessage || env.Message.Content != "hi" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestWebSocketDialerRejectsUnreachableServer(t *testing.T) {
	dialer := &WebSocketDialer{URL: "ws://127.0.0.1:1/ws"}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := dialer.Dial(ctx, "alice"); err == nil {
		t.Fatal("Dial against closed port should fail")
	}
}

func TestWebSocketTransportCloseSignalsReceiver(t *testing.T) {
	_, dialer := startBridge(t)

	tr, err := dialer.Dial(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	tr.Close()

	select {
	case _, ok := <-tr.Receive():
		if ok {
			t.Fatal("expected closed receive channel, got envelope")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel not closed after Close")
	}

	if err := tr.Send(&types.Command{Op: types.OpJoinRoom, Room: "general", Sender: "alice"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestServerDetachClosesReceiveChannel(t *testing.T) {
	b, dialer := startBridge(t)

	tr, err := dialer.Dial(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && b.Stats()["connections"] == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	for _, conn := range b.Connections() {
		b.Detach(conn)
	}

	select {
	case _, ok := <-tr.Receive():
		if ok {
			t.Fatal("expected closed channel after server detach")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receive channel not closed after server detach")
	}
}
