package api

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberBuffer = 16
	eventWriteWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans published rounds out to websocket subscribers. A subscriber whose
// buffer is full is disconnected.
type hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
	log         *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{subscribers: make(map[*subscriber]struct{}), log: log}
}

func (h *hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subscribers[s] = struct{}{}
	return true
}

// drop removes s and closes its queue. Caller holds h.mu.
func (h *hub) drop(s *subscriber) {
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
	}
}

func (h *hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.drop(s)
}

func (h *hub) publish(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subscribers {
		select {
		case s.send <- data:
		default:
			h.log.Warn("Dropping slow event subscriber", "remote", s.conn.RemoteAddr().String())
			h.drop(s)
		}
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subscribers {
		h.drop(s)
	}
}

// writeLoop is the only writer on s.conn.
func (s *subscriber) writeLoop(log *slog.Logger) {
	defer s.conn.Close()
	for data := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(eventWriteWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			log.Debug("Failed to write event", "error", err)
			return
		}
	}
	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(eventWriteWait))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("Failed to upgrade to WebSocket", "error", err)
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, subscriberBuffer)}
	if !s.events.add(sub) {
		conn.Close()
		return
	}
	s.log.Info("Event subscriber connected", "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sub.writeLoop(s.log)
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	s.events.remove(sub)
	<-done
	s.log.Info("Event subscriber disconnected", "remote", r.RemoteAddr)
}
