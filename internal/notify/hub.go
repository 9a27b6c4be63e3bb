package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-dictate/internal/domain"
	"github.com/loqalabs/loqa-dictate/internal/protocol"
)

const (
	clientBuffer = 16
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
)

// Envelope is the frame sent to websocket clients.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub broadcasts notifications and session events to connected UI clients.
type Hub struct {
	upgrader websocket.Upgrader
	now      func() time.Time
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     loopbackOrigin,
		},
		now:     time.Now,
		clients: make(map[*hubClient]struct{}),
		logger:  logger.With(slog.String("component", "notify-hub")),
	}
}

// ServeHTTP upgrades the request and registers the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", slogError(err))
		return
	}
	client := &hubClient{conn: conn, send: make(chan []byte, clientBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Notify(kind domain.NotificationKind, message string) {
	h.Broadcast("notification", protocol.Notification{Kind: string(kind), Message: message, Timestamp: h.now().UTC()})
}

// Broadcast queues a frame for every client. Slow clients are dropped instead of blocking.
func (h *Hub) Broadcast(kind string, payload any) {
	data, err := json.Marshal(Envelope{Type: kind, Payload: payload})
	if err != nil {
		h.logger.Warn("failed to marshal websocket frame", slogError(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("dropping slow websocket client")
			h.removeLocked(client)
		}
	}
}

// Close disconnects every client and waits for their loops to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for client := range h.clients {
		h.removeLocked(client)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

func (h *Hub) removeLocked(client *hubClient) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	client.once.Do(func() { close(client.send) })
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	h.removeLocked(client)
	h.mu.Unlock()
}

func (h *Hub) readLoop(client *hubClient) {
	defer h.wg.Done()
	defer h.remove(client)
	client.conn.SetReadLimit(512)
	_ = client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case data, ok := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.remove(client)
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

func loopbackOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, prefix := range []string{"http://127.0.0.1", "http://localhost", "http://[::1]"} {
		if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
