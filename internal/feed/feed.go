package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"feeScope/internal/model"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans fee snapshots out to connected websocket clients. Slow clients
// drop snapshots instead of stalling the producer.
type Hub struct {
	input      chan model.FeeSnapshot
	register   chan *client
	unregister chan *client
	clients    map[*client]struct{}
	done       chan struct{}
	logger     *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		input:      make(chan model.FeeSnapshot, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		clients:    make(map[*client]struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Broadcast queues a snapshot for fan-out. Never blocks; when the hub is
// backed up the snapshot is dropped.
func (h *Hub) Broadcast(snapshot model.FeeSnapshot) {
	select {
	case h.input <- snapshot:
	default:
	}
}

// Start launches the fan-out loop and the HTTP server on addr. Both stop
// when ctx is cancelled; in-flight connections get a short grace period.
func (h *Hub) Start(ctx context.Context, addr string) error {
	go h.run(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWs)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			h.logger.Warn("feed shutdown", zap.Error(err))
		}
	}()

	h.logger.Info("feed listening", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (h *Hub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.logger.Info("feed client connected", zap.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("feed client disconnected", zap.Int("clients", len(h.clients)))
			}
		case snapshot := <-h.input:
			msg, err := json.Marshal(snapshot)
			if err != nil {
				h.logger.Warn("marshal snapshot", zap.Error(err))
				continue
			}
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow client, drop this snapshot.
				}
			}
		}
	}
}

func (h *Hub) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		// The hub may already have shut down; never block on a loop that
		// is no longer draining.
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
