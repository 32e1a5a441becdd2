package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Snapshots queued per client before new ones are dropped
	clientQueue = 8
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

// statusHub fans status snapshots out to connected websocket clients
type statusHub struct {
	mutex   sync.Mutex
	clients map[*wsClient]struct{}
}

func newStatusHub() *statusHub {
	return &statusHub{clients: make(map[*wsClient]struct{})}
}

func (h *statusHub) register() *wsClient {
	c := &wsClient{
		send: make(chan []byte, clientQueue),
		done: make(chan struct{}),
	}
	h.mutex.Lock()
	h.clients[c] = struct{}{}
	h.mutex.Unlock()
	return c
}

func (h *statusHub) unregister(c *wsClient) {
	h.mutex.Lock()
	delete(h.clients, c)
	h.mutex.Unlock()
	c.close()
}

// broadcast never blocks; a slow client misses snapshots instead
func (h *statusHub) broadcast(message []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			slog.Debug("Dropping status update for slow websocket client")
		}
	}
}

func (h *statusHub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	for c := range h.clients {
		c.close()
	}
}

func (h *statusHub) count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.clients)
}

// handleWebSocket streams a status snapshot on connect and after every tick
// or command.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	client := s.hub.register()
	defer s.hub.unregister(client)

	slog.Debug("Websocket client connected", "remote", r.RemoteAddr)

	go readPump(conn, client)

	if initial, err := s.statusJSON(); err == nil {
		select {
		case client.send <- initial:
		default:
		}
	}

	writePump(conn, client)
	slog.Debug("Websocket client disconnected", "remote", r.RemoteAddr)
}

// readPump discards inbound messages and handles pongs. It ends the client
// when the peer goes away.
func readPump(conn *websocket.Conn, client *wsClient) {
	defer client.close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("Websocket read error", "error", err)
			}
			return
		}
	}
}

func writePump(conn *websocket.Conn, client *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-client.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Warn("Websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
