// Package notify рассылает события исполнения и портфеля подключенным
// браузерным сессиям по WebSocket. Доставка fire-and-forget: пользователь
// без открытых сокетов событие пропускает, источником правды остается база.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"copytrade/pkg/jwt"
)

// Имена событий, отправляемых клиентам.
const (
	EventTradeExecuted   = "trade:executed"
	EventTradeError      = "trade:error"
	EventPortfolioUpdate = "portfolio:update"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 32
)

type envelope struct {
	Event     string `json:"event"`
	Data      any    `json:"data"`
	Timestamp int64  `json:"timestamp"`
}

type client struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
}

// Hub хранит открытые сокеты по пользователям. У пользователя может быть
// несколько сессий; событие уходит во все.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*client]struct{}

	jwtSecret string
	upgrader  websocket.Upgrader
	log       *zap.Logger
}

func NewHub(jwtSecret string, log *zap.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]map[*client]struct{}),
		jwtSecret: jwtSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// ServeWS апгрейдит соединение. Токен передается в query-параметре token,
// потому что браузер не может выставить заголовки на WebSocket-апгрейде.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	claims, err := jwt.VerifyToken(h.jwtSecret, r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		userID: claims.UserID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}
	h.add(c)

	go c.writeLoop()
	go func() {
		defer h.remove(c)
		c.readLoop()
	}()
}

// EmitToUser сериализует событие и кладет его в очередь каждой открытой
// сессии пользователя. Медленные клиенты не блокируют отправителя.
func (h *Hub) EmitToUser(userID, event string, payload any) {
	data, err := json.Marshal(envelope{
		Event:     event,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		h.log.Error("failed to marshal event", zap.String("event", event), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
			// Буфер полон, событие для этой сессии теряется.
			h.log.Warn("dropping event for slow websocket client",
				zap.String("userId", userID), zap.String("event", event))
		}
	}
}

// ConnectedUsers возвращает число пользователей с открытыми сокетами.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close закрывает все открытые сокеты, вызывается при остановке.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sessions := range h.clients {
		for c := range sessions {
			c.conn.Close()
		}
	}
	h.clients = make(map[string]map[*client]struct{})
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c.userID] == nil {
		h.clients[c.userID] = make(map[*client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sessions := h.clients[c.userID]
	if _, ok := sessions[c]; !ok {
		return
	}
	delete(sessions, c)
	if len(sessions) == 0 {
		delete(h.clients, c.userID)
	}
	c.conn.Close()
}

// readLoop отбрасывает входящие фреймы, сокет работает только на отправку.
// Нужен для обработки pong и обнаружения закрытия.
func (c *client) readLoop() {
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
