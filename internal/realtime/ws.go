package realtime

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"bingo_gateway/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxMessage = 1024
)

// clientMessage is what browsers may send; only pings are understood.
type clientMessage struct {
	Type string `json:"type"`
}

// Server upgrades HTTP requests and streams a user's events over the socket.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *logrus.Entry
}

// NewServer builds a websocket server that accepts the given origins. An
// empty list accepts any origin.
func NewServer(hub *Hub, allowedOrigins []string, logger *logrus.Entry) *Server {
	if logger == nil {
		logger = logging.Logger()
	}

	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return &Server{
		hub:    hub,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
	}
}

// Serve upgrades the request and blocks until the connection closes.
func (s *Server) Serve(w http.ResponseWriter, r *http.Request, uid string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "ws_upgrade_error",
			"uid":   uid,
		}).WithError(err).Warn("websocket upgrade failed")
		return
	}

	events, cancel := s.hub.Subscribe(uid)
	s.logger.WithFields(logging.Fields{"event": "ws_connected", "uid": uid}).Debug("websocket connected")

	done := make(chan struct{})
	go s.readLoop(conn, uid, done)
	s.writeLoop(conn, events, done)

	cancel()
	_ = conn.Close()
	s.logger.WithFields(logging.Fields{"event": "ws_disconnected", "uid": uid}).Debug("websocket disconnected")
}

func (s *Server) readLoop(conn *websocket.Conn, uid string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.WithFields(logging.Fields{"event": "ws_read_error", "uid": uid}).WithError(err).Debug("websocket read failed")
			}
			return
		}
		if msg.Type == "ping" {
			s.hub.Publish(uid, Event{Type: EventPong})
		}
	}
}

func (s *Server) writeLoop(conn *websocket.Conn, events <-chan Event, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
