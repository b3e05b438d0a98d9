package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"kpicompare/internal/infrastructure"
)

// Message types
const (
	TypeConnection   = "connection"
	TypeRunStatus    = "run:status"
	TypeRunProgress  = "run:progress"
	TypeRunComplete  = "run:complete"
	TypeRunFailed    = "run:failed"
	TypeSnapshotDone = "snapshot:done"
)

// TopicAll subscribes a client to every run
const TopicAll = ""

const broadcastBuffer = 256

// Message is the JSON frame sent to clients
type Message struct {
	Type      string      `json:"type"`
	RunID     string      `json:"run_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type envelope struct {
	topic   string
	payload []byte
}

// Hub fans run events out to the clients subscribed to that run
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan envelope
	register   chan *Client
	unregister chan *Client

	mu      sync.RWMutex
	running bool
	quit    chan struct{}
	done    chan struct{}

	logger  *slog.Logger
	metrics *infrastructure.BusinessMetrics

	totalConnections int64
	messagesSent     int64
	messagesDropped  int64
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger, metrics *infrastructure.BusinessMetrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan envelope, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
	}
}

// Start runs the hub loop in a goroutine. Calling it twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	go h.run()
}

// Stop ends the hub loop and closes every client
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.quit)
	<-h.done
}

func (h *Hub) run() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for client := range h.clients {
				h.drop(client)
			}
			h.mu.Unlock()
			h.logger.Info("hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.totalConnections++
			count := len(h.clients)
			h.mu.Unlock()

			h.recordConnections(1)
			h.logger.InfoContext(client.context(), "client registered",
				slog.String("client_id", client.id),
				slog.String("topic", client.topic),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

		case client := <-h.unregister:
			h.mu.Lock()
			_, ok := h.clients[client]
			if ok {
				h.drop(client)
			}
			count := len(h.clients)
			h.mu.Unlock()

			if ok {
				h.logger.InfoContext(client.context(), "client unregistered",
					slog.String("client_id", client.id),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", count))
			}

		case env := <-h.broadcast:
			h.deliver(env)
		}
	}
}

// drop removes a client; the caller holds h.mu
func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.recordConnections(-1)
}

func (h *Hub) deliver(env envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.topic != TopicAll && client.topic != env.topic {
			continue
		}
		select {
		case client.send <- env.payload:
			h.messagesSent++
		default:
			h.logger.WarnContext(client.context(), "client send buffer full, disconnecting",
				slog.String("client_id", client.id))
			h.drop(client)
		}
	}
}

func (h *Hub) recordConnections(delta int64) {
	if h.metrics != nil {
		h.metrics.WebSocketConnections.Add(context.Background(), delta)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.quit:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.quit:
	}
}

// Publish sends an event to the clients subscribed to runID. Events are
// dropped when the hub is stopped or its queue is full; the run itself
// never waits on a slow browser.
func (h *Hub) Publish(runID, msgType string, data interface{}) {
	payload, err := json.Marshal(Message{
		Type:      msgType,
		RunID:     runID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("failed to marshal message",
			slog.String("type", msgType),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- envelope{topic: runID, payload: payload}:
	case <-h.quit:
	default:
		h.mu.Lock()
		h.messagesDropped++
		h.mu.Unlock()
		h.logger.Warn("broadcast queue full, dropping message",
			slog.String("run_id", runID),
			slog.String("type", msgType))
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats returns counters for the health endpoint
func (h *Hub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return map[string]interface{}{
		"active_clients":    len(h.clients),
		"total_connections": h.totalConnections,
		"messages_sent":     h.messagesSent,
		"messages_dropped":  h.messagesDropped,
	}
}
