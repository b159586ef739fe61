package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"pixelguess-backend/internal/models"
)

const (
	writeWait     = 5 * time.Second
	subscribeWait = 5 * time.Second
	sendBuffer    = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// client queues outgoing events; writePump is the only goroutine writing to conn.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn) *client {
	return &client{conn: conn, send: make(chan []byte, sendBuffer)}
}

func (c *client) writePump() {
	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			c.conn.Close()
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.conn.Close()
}

// enqueue never blocks. A watcher too slow to drain its queue is disconnected.
func (c *client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		c.conn.Close()
		return false
	}
}

// close stops writePump; callers hold the hub write lock so no enqueue races it.
func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans committed game events out to spectators of that game. With a Redis
// client, events travel through pub/sub so every server process sees them;
// without one they are delivered in-process.
type Hub struct {
	mu          sync.RWMutex
	connections map[int64][]*client
	redisClient *redis.Client
	cancelFuncs map[int64]context.CancelFunc
}

func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		connections: make(map[int64][]*client),
		redisClient: redisClient,
		cancelFuncs: make(map[int64]context.CancelFunc),
	}
}

func channel(gameID int64) string {
	return fmt.Sprintf("game_events:%d", gameID)
}

// HandleWebSocket serves GET /api/games/{id}/watch.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	gameID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || gameID <= 0 {
		http.Error(w, "Invalid game ID", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := newClient(conn)
	if err := h.registerConnection(gameID, c); err != nil {
		log.Printf("WebSocket subscribe failed: game %d: %v", gameID, err)
		conn.Close()
		return
	}
	go c.writePump()

	// Spectators only listen; reading detects the disconnect.
	go func() {
		defer h.unregisterConnection(gameID, c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

// Publish delivers event to everyone watching event.GameID.
func (h *Hub) Publish(ctx context.Context, event models.GameEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if h.redisClient != nil {
		return h.redisClient.Publish(ctx, channel(event.GameID), data).Err()
	}
	h.broadcast(event.GameID, data)
	return nil
}

// registerConnection adds c to the game's watchers. The first watcher of a game
// subscribes to its Redis channel, and the subscription is confirmed before c
// is added so no event committed after the upgrade is missed.
func (h *Hub) registerConnection(gameID int64, c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.connections[gameID]) == 0 && h.redisClient != nil {
		subCtx, cancel := context.WithCancel(context.Background())
		pubsub := h.redisClient.Subscribe(subCtx, channel(gameID))

		waitCtx, waitCancel := context.WithTimeout(subCtx, subscribeWait)
		_, err := pubsub.Receive(waitCtx)
		waitCancel()
		if err != nil {
			pubsub.Close()
			cancel()
			return err
		}

		h.cancelFuncs[gameID] = cancel
		go h.forward(subCtx, gameID, pubsub)
	}

	h.connections[gameID] = append(h.connections[gameID], c)

	log.Printf("WebSocket connected: game %d (watchers: %d)", gameID, len(h.connections[gameID]))
	return nil
}

func (h *Hub) unregisterConnection(gameID int64, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c.close()

	conns := h.connections[gameID]
	for i, other := range conns {
		if other == c {
			h.connections[gameID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}

	if len(h.connections[gameID]) == 0 {
		delete(h.connections, gameID)
		if cancel, ok := h.cancelFuncs[gameID]; ok {
			cancel()
			delete(h.cancelFuncs, gameID)
		}
	}

	log.Printf("WebSocket disconnected: game %d", gameID)
}

func (h *Hub) forward(ctx context.Context, gameID int64, pubsub *redis.PubSub) {
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.broadcast(gameID, []byte(msg.Payload))
		}
	}
}

func (h *Hub) broadcast(gameID int64, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.connections[gameID] {
		if !c.enqueue(data) {
			log.Printf("WebSocket watcher too slow, disconnecting: game %d", gameID)
		}
	}
}
