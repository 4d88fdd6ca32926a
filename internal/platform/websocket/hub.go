// Package websocket pushes backend change notifications to connected billing
// screens. Clients subscribe to resource paths such as "billing/bill"; a
// subscription also matches every path below it, so "billing" receives all
// billing changes. Invalidations follow the cache's plain string prefix rule.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// EventInvalidated tells a screen to refetch everything under Topic.
const EventInvalidated = "cache.invalidated"

// Event is a change notification.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is what a screen sends to change its subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one connected screen.
type Client struct {
	ID     string
	Topics map[string]struct{}
	Send   chan []byte
}

// NewClient creates a client subscribed to topics.
func NewClient(topics ...string) *Client {
	c := &Client{
		ID:     uuid.New().String(),
		Topics: make(map[string]struct{}, len(topics)),
		Send:   make(chan []byte, 64),
	}
	for _, t := range topics {
		c.Topics[normalizeTopic(t)] = struct{}{}
	}
	return c
}

// Hub tracks connected clients and fans events out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{clients: make(map[*Client]struct{}), logger: logger}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes c and closes its Send channel. Unknown clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

// Apply handles a subscribe or unsubscribe message.
func (h *Hub) Apply(c *Client, msg ClientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range msg.Topics {
		t = normalizeTopic(t)
		switch msg.Action {
		case "subscribe":
			c.Topics[t] = struct{}{}
		case "unsubscribe":
			delete(c.Topics, t)
		}
	}
}

// Broadcast delivers event to every client with a matching subscription.
// Clients whose buffer is full miss the event.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("type", event.Type).Msg("marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.receives(event) {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client", c.ID).Msg("websocket client buffer full, dropping event")
		}
	}
}

// Invalidated is an openmrs invalidation hook that tells subscribed screens
// to refetch everything under prefix.
func (h *Hub) Invalidated(prefix string) {
	h.Broadcast(Event{Type: EventInvalidated, Topic: prefix})
}

// Publish broadcasts a domain event about the resource id under topic.
func (h *Hub) Publish(eventType, topic, id string) {
	h.Broadcast(Event{Type: eventType, Topic: topic, ID: id})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns how many clients would receive an event on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for c := range h.clients {
		if c.matches(topic) {
			n++
		}
	}
	return n
}

func (c *Client) matches(topic string) bool {
	return c.receives(Event{Topic: topic})
}

// receives reports whether event concerns one of c's subscriptions. Topics
// match by path segment, except for invalidations: the cache drops every key
// that starts with the invalidated prefix, so "billing/bill" also reaches
// subscribers of "billing/billableService".
func (c *Client) receives(event Event) bool {
	topic := normalizeTopic(event.Topic)
	for sub := range c.Topics {
		if sub == "" || topic == sub || strings.HasPrefix(topic, sub+"/") {
			return true
		}
		if event.Type == EventInvalidated && strings.HasPrefix(sub, topic) {
			return true
		}
	}
	return false
}

func normalizeTopic(t string) string {
	return strings.Trim(t, "/ ")
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Handler upgrades HTTP connections and runs the client pumps.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.Connect)
}

// Connect upgrades the request. Initial topics may be given as repeated
// ?topic= query parameters.
func (h *Handler) Connect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := NewClient(c.QueryParams()["topic"]...)
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.hub.Apply(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for msg := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, msg); err != nil {
			return
		}
	}
}
