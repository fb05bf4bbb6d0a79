package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// Broadcaster sends a message to every connected client.
type Broadcaster interface {
	Broadcast(msg Message)
}

// Handlers receive what clients send back. Nil handlers are ignored.
type Handlers struct {
	OnReport func(r SinkReport)
	OnError  func(e SinkError)
	// OnConnect runs once a new client is registered, so directives it
	// broadcasts reach that client. The returned messages go to the new
	// client only.
	OnConnect func() []Message
}

// Hub fans messages out to websocket clients.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}

	mu       sync.RWMutex
	handlers Handlers
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHub creates a hub. checkOrigin guards the websocket upgrade; nil allows
// same-origin requests only.
func NewHub(checkOrigin func(r *http.Request) bool, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		logger: logger.With("component", "live"),
	}
}

// SetHandlers installs the callbacks for client messages.
func (h *Hub) SetHandlers(handlers Handlers) {
	h.mu.Lock()
	h.handlers = handlers
	h.mu.Unlock()
}

func (h *Hub) callbacks() Handlers {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.handlers
}

// Run is the hub's main loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("live client connected", "remote", client.remote, "clients", n)
			if onConnect := h.callbacks().OnConnect; onConnect != nil {
				go h.catchUp(client, onConnect)
			}

		case client := <-h.unregister:
			h.removeClient(client)

		case data := <-h.broadcast:
			h.fanOut(data)

		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("live client disconnected", "remote", client.remote, "clients", len(h.clients))
	}
}

func (h *Hub) fanOut(data []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("live client too slow, dropping", "remote", client.remote)
			h.removeClient(client)
		}
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode live message", "type", msg.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("live broadcast queue full, dropping message", "type", msg.Type)
	}
}

// Publish encodes data and broadcasts it.
func (h *Hub) Publish(t MessageType, data any) {
	msg, err := NewMessage(t, data)
	if err != nil {
		h.logger.Error("failed to encode live message", "type", t, "error", err)
		return
	}
	h.Broadcast(msg)
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and attaches a client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		remote: r.RemoteAddr,
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

func (h *Hub) catchUp(client *Client, onConnect func() []Message) {
	for _, msg := range onConnect() {
		data, err := json.Marshal(msg)
		if err != nil {
			h.logger.Error("failed to encode live message", "type", msg.Type, "error", err)
			continue
		}
		if !h.sendTo(client, data) {
			return
		}
	}
}

// sendTo queues data for one registered client. It reports false once the
// client is gone or its queue is full.
func (h *Hub) sendTo(client *Client, data []byte) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client] {
		return false
	}
	select {
	case client.send <- data:
		return true
	default:
		return false
	}
}

func (h *Hub) dispatch(client *Client, msg Message) {
	handlers := h.callbacks()
	switch msg.Type {
	case MsgSinkReport:
		var report SinkReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			h.logger.Warn("bad sink report", "remote", client.remote, "error", err)
			return
		}
		if handlers.OnReport != nil {
			handlers.OnReport(report)
		}
	case MsgSinkError:
		var sinkErr SinkError
		if err := json.Unmarshal(msg.Data, &sinkErr); err != nil {
			h.logger.Warn("bad sink error", "remote", client.remote, "error", err)
			return
		}
		h.logger.Warn("client sink error", "track", sinkErr.Track, "source", sinkErr.Source, "message", sinkErr.Message)
		if handlers.OnError != nil {
			handlers.OnError(sinkErr)
		}
	case MsgPing:
		// keepalive only
	default:
		h.logger.Debug("ignoring live message", "type", msg.Type)
	}
}
