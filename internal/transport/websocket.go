package transport

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chamahub/pkg/types"
)

const (
	wsWriteTimeout  = 5 * time.Second
	wsReceiveBuffer = 256
)

// WebSocketDialer connects to a remote broker's /ws endpoint. The identity
// travels as a query parameter; frames are JSON commands up and JSON
// envelopes down.
type WebSocketDialer struct {
	URL    string // e.g. ws://host:port/ws
	Dialer *websocket.Dialer
	Log    zerolog.Logger
}

func (d *WebSocketDialer) Dial(ctx context.Context, identity string) (Transport, error) {
	wsd := d.Dialer
	if wsd == nil {
		wsd = websocket.DefaultDialer
	}

	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("identity", identity)
	u.RawQuery = q.Encode()

	conn, _, err := wsd.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}

	tctx, cancel := context.WithCancel(context.Background())
	t := &wsTransport{
		conn:    conn,
		writeCh: make(chan []byte, 64),
		recvCh:  make(chan types.Envelope, wsReceiveBuffer),
		ctx:     tctx,
		cancel:  cancel,
		log:     d.Log,
	}
	go t.writeLoop()
	go t.readLoop()
	return t, nil
}

// wsTransport wraps a websocket session with a single writer goroutine so
// concurrent Sends never interleave frames.
type wsTransport struct {
	conn      *websocket.Conn
	writeCh   chan []byte
	recvCh    chan types.Envelope
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	log       zerolog.Logger
}

func (t *wsTransport) Send(cmd *types.Command) error {
	select {
	case <-t.ctx.Done():
		return ErrClosed
	default:
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}

	select {
	case t.writeCh <- data:
		return nil
	case <-time.After(wsWriteTimeout):
		return ErrSendTimeout
	case <-t.ctx.Done():
		return ErrClosed
	}
}

func (t *wsTransport) Receive() <-chan types.Envelope {
	return t.recvCh
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) writeLoop() {
	for {
		select {
		case data := <-t.writeCh:
			if err := t.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Warn().Str("module", "transport.ws").Err(err).Msg("write failed")
				return
			}
		case <-t.ctx.Done():
			return
		}
	}
}

// readLoop decodes broker envelopes until the connection dies, then closes
// the receive channel so the connection manager observes transport loss.
func (t *wsTransport) readLoop() {
	defer func() {
		t.Close()
		close(t.recvCh)
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.log.Warn().Str("module", "transport.ws").Err(err).Msg("read failed")
			}
			return
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.log.Warn().Str("module", "transport.ws").Err(err).Msg("bad envelope frame")
			continue
		}

		select {
		case t.recvCh <- env:
		case <-t.ctx.Done():
			return
		}
	}
}
