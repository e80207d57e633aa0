package ws

import (
	"net/http"
	"slices"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/hilthontt/roomdrop/internal/infrastructure/logging"
	"github.com/hilthontt/roomdrop/internal/infrastructure/metrics"
)

type HubOptions struct {
	AllowedOrigins  []string
	ReadBufferSize  int
	WriteBufferSize int
	Logger          logging.Logger
	Metrics         *metrics.Metrics
}

// Hub is the table of open connections, keyed by connection id.
type Hub struct {
	clients  map[string]*Client
	upgrader websocket.Upgrader
	logger   logging.Logger
	metrics  *metrics.Metrics
	mu       sync.RWMutex
}

func NewHub(opts HubOptions) *Hub {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 32 << 10
	}
	if opts.WriteBufferSize <= 0 {
		opts.WriteBufferSize = 32 << 10
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	allowed := slices.Clone(opts.AllowedOrigins)

	return &Hub{
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowed) == 0 {
					return true
				}
				return slices.Contains(allowed, "*") || slices.Contains(allowed, origin)
			},
		},
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return h.upgrader.Upgrade(w, r, nil)
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()

	h.observe(count)
}

// Unregister removes c if it is still the registered client for its id.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if current, ok := h.clients[c.ID]; ok && current == c {
		delete(h.clients, c.ID)
	}
	count := len(h.clients)
	h.mu.Unlock()

	h.observe(count)
}

func (h *Hub) lookup(id string) (*Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[id]
	return c, ok
}

// Emit queues msg to every listed connection that is still open and returns
// how many accepted it. Unknown ids are skipped; full buffers drop the frame.
func (h *Hub) Emit(ids []string, msg *WSMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, id := range ids {
		c, ok := h.clients[id]
		if !ok {
			continue
		}
		if c.Enqueue(msg) {
			delivered++
			continue
		}
		if c.IsClosed() {
			continue
		}

		h.logger.Warn(logging.WebSocket, logging.Write, "client buffer full, dropping message", map[logging.ExtraKey]any{
			logging.ConnID: id,
			logging.Event:  msg.Event,
		})
		if h.metrics != nil {
			h.metrics.DroppedFrames.Inc()
		}
	}
	return delivered
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[string]*Client)
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.observe(0)
}

func (h *Hub) observe(count int) {
	if h.metrics != nil {
		h.metrics.ConnectionsOpen.Set(float64(count))
	}
}
