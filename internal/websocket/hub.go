package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"

	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/metrics"
	"LinkMonitorAPI/internal/models"
)

const MessageTypeSnapshot = "snapshot"

var ErrHubStopped = errors.New("hub stopped")

// Message defines the generic structure for WS communication
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub owns the set of live sessions. Registration, removal and broadcast
// all run on the Run goroutine, so they are totally ordered.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	onRegister func()
	sessions   atomic.Int64

	metrics *metrics.Metrics
	log     *logger.Logger
}

func NewHub(log *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		broadcast:  make(chan []byte),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		metrics:    m,
		log:        log,
	}
}

// OnRegister sets a hook invoked after each new client joins. It must be
// set before Run and must not block.
func (h *Hub) OnRegister(fn func()) {
	h.onRegister = fn
}

// Run processes hub events until ctx is cancelled. All remaining clients
// are closed on return.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("WebSocket Hub started")
	defer func() {
		close(h.done)
		for client := range h.clients {
			h.remove(client)
		}
		h.log.Info("WebSocket Hub stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("WebSocket Hub shutting down...")
			return
		case client := <-h.register:
			h.clients[client] = true
			h.updateCount()
			client.log.With("total", len(h.clients)).Info("WS client connected")
			if h.onRegister != nil {
				h.onRegister()
			}
		case client := <-h.unregister:
			if h.clients[client] {
				h.remove(client)
				client.log.With("total", len(h.clients)).Info("WS client disconnected")
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					client.log.Warn("Dropping slow client: %v", &models.TransportError{
						SessionID: client.id,
						Err:       errors.New("send buffer full"),
					})
					h.remove(client)
				}
			}
			h.metrics.Broadcast()
		}
	}
}

func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	client.markClosing()
	close(client.send)
	h.updateCount()
}

func (h *Hub) updateCount() {
	h.sessions.Store(int64(len(h.clients)))
	h.metrics.SetSessions(len(h.clients))
}

// Register adds client to the hub. It returns false if the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes client. Unregistering twice is a no-op.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	return int(h.sessions.Load())
}

// Broadcast serializes snapshot once and queues it for every client.
func (h *Hub) Broadcast(snapshot *models.Snapshot) error {
	return h.send(context.Background(), Message{Type: MessageTypeSnapshot, Payload: snapshot})
}

// Publish implements service.Publisher.
func (h *Hub) Publish(ctx context.Context, snapshot *models.Snapshot) error {
	return h.send(ctx, Message{Type: MessageTypeSnapshot, Payload: snapshot})
}

func (h *Hub) send(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	select {
	case h.broadcast <- data:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
