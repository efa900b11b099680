package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/model"
)

const (
	sendBuffer   = 64
	pingInterval = 30 * time.Second
)

// Client is one socket subscribed to the progress of a single request
type Client struct {
	RequestID string
	Conn      *websocket.Conn
	Send      chan []byte
}

// Hub fans pipeline progress out to the sockets watching a request id.
// It implements pipeline.ProgressNotifier.
type Hub struct {
	clients map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	// done is closed once Run has returned.
	done chan struct{}

	mu  sync.RWMutex
	log zerolog.Logger
}

// BroadcastMessage is an encoded frame addressed to one request id
type BroadcastMessage struct {
	RequestID string
	Message   []byte
}

// NewHub creates a new Hub
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		log:        log.With().Str("component", "ws-hub").Logger(),
	}
}

// Run is the hub's main loop. It returns when ctx is done, closing every
// subscriber's Send channel on the way out.
func (h *Hub) Run(ctx context.Context) {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.RequestID] == nil {
				h.clients[client.RequestID] = make(map[*Client]bool)
			}
			h.clients[client.RequestID][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("request_id", client.RequestID).Msg("client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.remove(client)
			h.mu.Unlock()
			h.log.Debug().Str("request_id", client.RequestID).Msg("client unregistered")

		case msg := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients[msg.RequestID] {
				select {
				case client.Send <- msg.Message:
				default:
					// slow consumer
					h.remove(client)
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	for _, clients := range h.clients {
		for client := range clients {
			h.remove(client)
		}
	}
	h.mu.Unlock()
	close(h.done)
}

// remove must be called with mu held.
func (h *Hub) remove(client *Client) {
	clients, ok := h.clients[client.RequestID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}
	delete(clients, client)
	close(client.Send)
	if len(clients) == 0 {
		delete(h.clients, client.RequestID)
	}
}

// Subscribers returns the number of sockets watching requestID.
func (h *Hub) Subscribers(requestID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[requestID])
}

// Register subscribes client. Once the hub has stopped, client.Send is closed
// immediately instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.Send)
	}
}

// Unregister is a no-op once the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Progress publishes one stage transition of an artifact pipeline.
func (h *Hub) Progress(requestID string, artifact model.ArtifactKind, stage model.Stage, detail string) {
	h.publish(requestID, model.WSProgressMessage{
		Type:      model.WSMessageTypeProgress,
		RequestID: requestID,
		Artifact:  artifact,
		Stage:     stage,
		Detail:    detail,
	})
}

// Complete publishes the aggregate response once both pipelines settled.
func (h *Hub) Complete(requestID string, result interface{}) {
	h.publish(requestID, model.WSCompleteMessage{
		Type:      model.WSMessageTypeComplete,
		RequestID: requestID,
		Result:    result,
	})
}

// publish never blocks the pipeline; frames are dropped when the hub is saturated.
func (h *Hub) publish(requestID string, msg interface{}) {
	if requestID == "" {
		return
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("request_id", requestID).Msg("marshal ws message")
		return
	}

	select {
	case h.broadcast <- &BroadcastMessage{RequestID: requestID, Message: data}:
	default:
		h.log.Warn().Str("request_id", requestID).Msg("broadcast queue full, dropping frame")
	}
}

// HandleConnection serves one socket until the peer goes away
func (h *Hub) HandleConnection(c *websocket.Conn, requestID string) {
	client := &Client{
		RequestID: requestID,
		Conn:      c,
		Send:      make(chan []byte, sendBuffer),
	}

	h.Register(client)
	defer h.Unregister(client)

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()

		for {
			select {
			case message, ok := <-client.Send:
				if !ok {
					_ = c.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.WriteMessage(websocket.TextMessage, message); err != nil {
					return
				}

			case <-ticker.C:
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("request_id", requestID).Msg("websocket read")
			}
			break
		}

		var msg model.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		if msg.Type == model.WSMessageTypePing {
			data, _ := json.Marshal(model.WSMessage{Type: model.WSMessageTypePong})
			h.broadcastTo(client, data)
		}
	}
}

// broadcastTo routes a reply through the hub so Send is never written after close.
func (h *Hub) broadcastTo(client *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.clients[client.RequestID][client] {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}
