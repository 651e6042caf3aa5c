// Package realtime provides push delivery of row-change events to
// subscribed clients. It implements a hub-and-spoke pattern: writers publish
// events to topics, and WebSocket clients (or in-process feeds) subscribe to
// the topics they care about.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Event types published by the domain services.
const (
	EventMessageCreated = "message.created"
	EventTaskUpdated    = "task.updated"
	EventAlertCreated   = "alert.created"
	EventConversation   = "conversation.updated"
)

// Event is a single row-change notification. ID is the changed row's id and
// is what subscribers dedupe on.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Topic constructors keep topic naming in one place.

func ConversationTopic(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

func TaskTopic(patientID uuid.UUID) string {
	return "tasks:" + patientID.String()
}

func AlertTopic(tenantID string) string {
	return "alerts:" + tenantID
}

// Publisher is the interface domain services use to push events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ClientMessage is an inbound control message from a WebSocket client.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is a single WebSocket connection.
type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
}

// Hub tracks clients and their topic subscriptions. All operations are
// thread-safe via sync.RWMutex.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	feeds   map[string]map[chan Event]struct{} // topic -> in-process subscribers
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		feeds:   make(map[string]map[chan Event]struct{}),
		logger:  logger,
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client from all topics and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}

	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to an already-registered client.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
	client.Topics = append(client.Topics, topics...)
}

// Unsubscribe removes topics from an already-registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	removeSet := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		removeSet[t] = struct{}{}
	}

	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}

	remaining := make([]string, 0, len(client.Topics))
	for _, t := range client.Topics {
		if _, rm := removeSet[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

// ProcessMessage handles an inbound ClientMessage.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Listen registers an in-process subscriber for a topic. The returned cancel
// function must be called to release the subscription.
func (h *Hub) Listen(topic string) (<-chan Event, func()) {
	ch := make(chan Event, 64)

	h.mu.Lock()
	if h.feeds[topic] == nil {
		h.feeds[topic] = make(map[chan Event]struct{})
	}
	h.feeds[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.feeds[topic]; ok {
			if _, live := subs[ch]; live {
				delete(subs, ch)
				close(ch)
				if len(subs) == 0 {
					delete(h.feeds, topic)
				}
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Broadcast sends an event to every subscriber of the event's topic.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("realtime: failed to marshal event")
		return
	}

	h.mu.RLock()
	for client := range h.clients[event.Topic] {
		select {
		case client.Send <- data:
		default:
			// Client buffer full; skip to avoid blocking.
		}
	}

	var overflowed []chan Event
	for ch := range h.feeds[event.Topic] {
		select {
		case ch <- event:
		default:
			overflowed = append(overflowed, ch)
		}
	}
	h.mu.RUnlock()

	// A feed that cannot keep up is disconnected rather than skipped: the
	// closed channel sends its Feed through reconnect and backfill, which
	// recovers every event, while a silent drop would leave it stale.
	for _, ch := range overflowed {
		h.dropFeed(event.Topic, ch)
	}
}

func (h *Hub) dropFeed(topic string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.feeds[topic]
	if !ok {
		return
	}
	if _, live := subs[ch]; !live {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(h.feeds, topic)
	}
	h.logger.Warn().Str("topic", topic).
		Msg("realtime: slow feed disconnected, subscriber will backfill")
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, event Event) error {
	if event.Topic == "" {
		return fmt.Errorf("event topic is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	h.Broadcast(event)
	return nil
}

// ClientCount returns the total number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of WebSocket clients subscribed to a topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// ---------------------------------------------------------------------------
// Handler: Echo HTTP handler for WebSocket connections
// ---------------------------------------------------------------------------

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; tighten in production.
	},
}

// Handler upgrades HTTP connections to WebSocket and routes messages.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// RegisterRoutes registers the WebSocket endpoint on the provided Echo group.
func (wh *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", wh.HandleConnect)
}

// HandleConnect upgrades the connection, registers the client with the hub,
// and starts read/write pumps. Closing the connection (navigating away)
// unregisters the client and releases its subscriptions.
func (wh *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:     uuid.New().String(),
		Topics: []string{},
		Send:   make(chan []byte, 256),
	}

	wh.hub.Register(client)

	go wh.writePump(client, ws)
	go wh.readPump(client, ws)

	return nil
}

func (wh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wh.hub.Unregister(client)
		ws.Close()
	}()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			break
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue // Ignore malformed messages.
		}

		wh.hub.ProcessMessage(client, msg)
	}
}

func (wh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()

	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			break
		}
	}
}
