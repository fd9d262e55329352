package realtimews

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/saeid-a/CoachLedger/internal/services"
	"go.uber.org/zap"
)

var ErrHubBusy = errors.New("realtime hub is busy")

type Hub struct {
	clients    map[*Client]struct{}
	channels   map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	subscribe  chan subscription
	direct     chan directMessage
	broadcast  chan *outbound
	done       chan struct{}
	logger     *zap.Logger
	now        func() time.Time
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

type subscription struct {
	client  *Client
	channel string
	add     bool
}

type directMessage struct {
	client  *Client
	payload []byte
}

type outbound struct {
	channel string
	payload []byte
}

// Authorizer reports whether a user may join a channel.
type Authorizer interface {
	CanSubscribe(ctx context.Context, actorID int64, role string, channel string) (bool, error)
}

type Message struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Event     string `json:"event,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		channels:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		subscribe:  make(chan subscription),
		direct:     make(chan directMessage),
		broadcast:  make(chan *outbound, 256),
		done:       make(chan struct{}),
		logger:     logger,
		now:        time.Now,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

// Run owns all hub state until ctx is canceled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		case client := <-h.register:
			h.clients[client] = struct{}{}
			if id, err := strconv.ParseInt(client.userID, 10, 64); err == nil {
				h.join(client, services.UserChannel(id))
			}
		case client := <-h.unregister:
			h.drop(client)
		case sub := <-h.subscribe:
			if _, ok := h.clients[sub.client]; !ok {
				continue
			}
			if sub.add {
				h.join(sub.client, sub.channel)
			} else {
				h.leave(sub.client, sub.channel)
			}
		case message := <-h.direct:
			if _, ok := h.clients[message.client]; ok {
				h.push(message.client, message.payload)
			}
		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Subscribe(client *Client, channel string) {
	h.sendSubscription(subscription{client: client, channel: channel, add: true})
}

func (h *Hub) Unsubscribe(client *Client, channel string) {
	h.sendSubscription(subscription{client: client, channel: channel})
}

func (h *Hub) sendSubscription(sub subscription) {
	select {
	case h.subscribe <- sub:
	case <-h.done:
	}
}

// Publish queues an event for every client subscribed to channel. It never
// blocks: when the queue is full the event is dropped and ErrHubBusy returned.
func (h *Hub) Publish(channel, event string, payload any) error {
	encoded, err := json.Marshal(Message{
		Type:      "event",
		Channel:   channel,
		Event:     event,
		Data:      payload,
		Timestamp: h.timestamp(),
	})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- &outbound{channel: channel, payload: encoded}:
		return nil
	default:
		h.logger.Warn("realtime event dropped", zap.String("channel", channel), zap.String("event", event))
		return ErrHubBusy
	}
}

func (h *Hub) join(client *Client, channel string) {
	set, ok := h.channels[channel]
	if !ok {
		set = make(map[*Client]struct{})
		h.channels[channel] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) leave(client *Client, channel string) {
	set, ok := h.channels[channel]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.channels, channel)
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for channel := range h.channels {
		h.leave(client, channel)
	}
	close(client.send)
}

func (h *Hub) deliver(message *outbound) {
	for client := range h.channels[message.channel] {
		h.push(client, message.payload)
	}
}

// push drops clients whose queue is full.
func (h *Hub) push(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.logger.Warn("realtime client too slow, disconnecting", zap.String("user_id", client.userID))
		h.drop(client)
	}
}

func (h *Hub) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (c *Client) ReadPump(authorizer Authorizer, role string) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	actorID, err := strconv.ParseInt(c.userID, 10, 64)
	if err != nil {
		c.reply(Message{Type: "error", Error: "invalid user"})
		return
	}

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.handle(authorizer, actorID, role, payload)
	}
}

func (c *Client) handle(authorizer Authorizer, actorID int64, role string, payload []byte) {
	var incoming struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
	}
	if err := json.Unmarshal(payload, &incoming); err != nil {
		c.reply(Message{Type: "error", Error: "invalid message payload"})
		return
	}

	switch incoming.Type {
	case "ping":
		c.reply(Message{Type: "pong"})
	case "subscribe":
		allowed, err := authorizer.CanSubscribe(context.Background(), actorID, role, incoming.Channel)
		if err != nil {
			c.hub.logger.Error("channel authorization failed", zap.String("channel", incoming.Channel), zap.Error(err))
			c.reply(Message{Type: "error", Channel: incoming.Channel, Error: "failed to subscribe"})
			return
		}
		if !allowed {
			c.reply(Message{Type: "error", Channel: incoming.Channel, Error: "forbidden"})
			return
		}
		c.hub.Subscribe(c, incoming.Channel)
		c.reply(Message{Type: "subscribed", Channel: incoming.Channel})
	case "unsubscribe":
		c.hub.Unsubscribe(c, incoming.Channel)
		c.reply(Message{Type: "unsubscribed", Channel: incoming.Channel})
	default:
		c.reply(Message{Type: "error", Error: "unsupported message type"})
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

func (c *Client) reply(message Message) {
	message.Timestamp = c.hub.timestamp()
	payload, err := json.Marshal(message)
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- directMessage{client: c, payload: payload}:
	case <-c.hub.done:
	}
}
