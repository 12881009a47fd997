package mockapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"feedline/internal/logging"
	"feedline/internal/types"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// hub fans notifications out to the sockets of their recipient.
type hub struct {
	mu    sync.Mutex
	conns map[types.ID]map[*subscriber]struct{}
}

type subscriber struct {
	conn *websocket.Conn
	send chan types.Notification
	once sync.Once
	done chan struct{}
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func newHub() *hub {
	return &hub{conns: make(map[types.ID]map[*subscriber]struct{})}
}

func (h *hub) add(userID types.ID, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*subscriber]struct{})
	}
	h.conns[userID][s] = struct{}{}
}

func (h *hub) remove(userID types.ID, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns[userID], s)
	if len(h.conns[userID]) == 0 {
		delete(h.conns, userID)
	}
}

// publish drops the notification for subscribers whose buffer is full.
func (h *hub) publish(userID types.ID, n types.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.conns[userID] {
		select {
		case s.send <- n:
		default:
			logging.NotifyWarn("mock: subscriber buffer full, dropping %s", n.ID)
		}
	}
}

// Subscribers returns the number of open sockets for userID.
func (s *Server) Subscribers(userID types.ID) int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.conns[userID])
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.conns {
		for s := range subs {
			s.close()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) notificationsSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	userID := currentUser(c)
	sub := &subscriber{conn: conn, send: make(chan types.Notification, 32), done: make(chan struct{})}
	s.hub.add(userID, sub)
	defer s.hub.remove(userID, sub)
	defer conn.Close()

	// Reader: only used to notice the client going away.
	go func() {
		defer sub.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-sub.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
			return nil
		case n := <-sub.send:
			data, err := json.Marshal(n)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return nil
			}
		}
	}
}
