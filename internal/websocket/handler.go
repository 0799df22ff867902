// Package websocket bridges browser connections to the event broker. Each
// upgraded connection maps to one broker subscription: JSON commands flow
// up through the broker's publish pipeline, envelopes flow down through a
// single writer goroutine.
package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chamahub/internal/broker"
	"chamahub/pkg/types"
)

const (
	DefaultWriteTimeout = 5 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	// TODO: restrict origins once the web frontend's deploy host is fixed.
	CheckOrigin:      func(r *http.Request) bool { return true },
	HandshakeTimeout: 10 * time.Second,
}

// Handler upgrades HTTP requests to websocket sessions against the broker.
type Handler struct {
	broker       *broker.Broker
	log          zerolog.Logger
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// Option configures a Handler.
type Option func(*Handler)

// WithTimeouts overrides the heartbeat and write deadlines. Non-positive
// values keep the defaults.
func WithTimeouts(ping, pong, write time.Duration) Option {
	return func(h *Handler) {
		if ping > 0 {
			h.pingInterval = ping
		}
		if pong > 0 {
			h.pongTimeout = pong
		}
		if write > 0 {
			h.writeTimeout = write
		}
	}
}

// NewHandler creates a websocket handler bound to the given broker.
func NewHandler(b *broker.Broker, log zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		broker:       b,
		log:          log,
		pingInterval: DefaultPingInterval,
		pongTimeout:  DefaultPongTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleWebSocket validates the identity parameter, upgrades the request
// and runs the session until either side closes.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	identity := r.URL.Query().Get("identity")
	if identity == "" {
		http.Error(w, ErrMissingIdentity.Error(), http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Str("module", "websocket").Err(err).Msg("upgrade failed")
		return
	}

	sub := h.broker.Attach(identity)
	s := &session{
		conn:         conn,
		sub:          sub,
		broker:       h.broker,
		identity:     identity,
		log:          h.log,
		pingInterval: h.pingInterval,
		pongTimeout:  h.pongTimeout,
		writeTimeout: h.writeTimeout,
	}

	go s.writePump()
	go s.readPump()
}

// session is one live websocket connection bound to a broker subscription.
type session struct {
	conn         *websocket.Conn
	sub          *broker.Subscription
	broker       *broker.Broker
	identity     string
	log          zerolog.Logger
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeTimeout time.Duration
}

// writePump is the connection's single writer: it serializes envelope
// frames and heartbeat pings onto the wire. It exits when the subscription
// channel closes, which happens exactly once, on Detach.
func (s *session) writePump() {
	ticker := time.NewTicker(s.pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case env, ok := <-s.sub.Events():
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(s.writeTimeout))
				return
			}
			if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
			if err := s.conn.WriteJSON(env); err != nil {
				s.log.Warn().Str("module", "websocket").Str("identity", s.identity).Err(err).Msg("write failed")
				return
			}

		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.writeTimeout)); err != nil {
				return
			}
		}
	}
}

// readPump decodes command frames and feeds them to the broker. The
// deferred Detach closes the subscription channel, which in turn stops the
// write pump.
func (s *session) readPump() {
	defer s.broker.Detach(s.sub.ID())

	if err := s.conn.SetReadDeadline(time.Now().Add(s.pongTimeout)); err != nil {
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.pongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Str("module", "websocket").Str("identity", s.identity).Err(err).Msg("read failed")
			}
			return
		}

		var cmd types.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			s.log.Warn().Str("module", "websocket").Str("identity", s.identity).Err(err).Msg("bad command frame")
			continue
		}

		// The sender field is pinned to the authenticated identity; a
		// client cannot publish on another member's behalf.
		cmd.Sender = s.identity
		if err := cmd.Validate(); err != nil {
			s.log.Debug().Str("module", "websocket").Str("identity", s.identity).Err(err).Msg("command rejected")
			continue
		}

		if err := s.broker.Apply(s.sub.ID(), &cmd); err != nil {
			s.log.Debug().Str("module", "websocket").Str("identity", s.identity).Str("op", cmd.Op).Err(err).Msg("command refused")
		}
	}
}
