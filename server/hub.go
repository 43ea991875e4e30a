package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/MattCruikshank/templatebot/internal/models"
	"github.com/MattCruikshank/templatebot/internal/protocol"
)

// AllGuilds subscribes a client to every guild.
const AllGuilds = "*"

// Client represents a connected WebSocket client.
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	subs   map[string]bool // Subscribed guild IDs
	subsMu sync.RWMutex
}

// Hub manages WebSocket connections and fans progress events out to the
// clients subscribed to their guild.
type Hub struct {
	clients    map[*Client]bool
	clientsMu  sync.RWMutex
	guilds     map[string]map[*Client]bool // guildID -> clients
	guildsMu   sync.RWMutex
	register   chan *Client
	unregister chan *Client
	broadcast  chan *guildMessage
	done       chan struct{}
	logger     *zerolog.Logger
}

type guildMessage struct {
	guildID string
	data    []byte
}

// NewHub creates a new Hub.
func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		guilds:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *guildMessage, 256),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.clientsMu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.clientsMu.Unlock()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Info().Str("client_id", client.id).Int("total_clients", total).Msg("Monitor client connected")

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			for _, client := range h.subscribers(msg.guildID) {
				select {
				case client.send <- msg.data:
				default:
					// Client buffer full, disconnect
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.clientsMu.Unlock()
	if !ok {
		return
	}

	client.subsMu.RLock()
	for guildID := range client.subs {
		h.unsubscribeFromGuild(client, guildID)
	}
	client.subsMu.RUnlock()
	h.logger.Info().Str("client_id", client.id).Int("total_clients", total).Msg("Monitor client disconnected")
}

func (h *Hub) subscribers(guildID string) []*Client {
	h.guildsMu.RLock()
	defer h.guildsMu.RUnlock()
	var out []*Client
	for client := range h.guilds[guildID] {
		out = append(out, client)
	}
	for client := range h.guilds[AllGuilds] {
		if !h.guilds[guildID][client] {
			out = append(out, client)
		}
	}
	return out
}

// Subscribe subscribes a client to a guild's events. It reports false for
// a client the hub has removed, whose send channel is closed.
func (h *Hub) Subscribe(client *Client, guildID string) bool {
	// Held until the subscription is recorded so remove cannot run in
	// between and miss it.
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	if !h.clients[client] {
		return false
	}

	h.guildsMu.Lock()
	if h.guilds[guildID] == nil {
		h.guilds[guildID] = make(map[*Client]bool)
	}
	h.guilds[guildID][client] = true
	h.guildsMu.Unlock()

	client.subsMu.Lock()
	client.subs[guildID] = true
	client.subsMu.Unlock()
	return true
}

// Unsubscribe unsubscribes a client from a guild.
func (h *Hub) Unsubscribe(client *Client, guildID string) {
	h.unsubscribeFromGuild(client, guildID)

	client.subsMu.Lock()
	delete(client.subs, guildID)
	client.subsMu.Unlock()
}

func (h *Hub) unsubscribeFromGuild(client *Client, guildID string) {
	h.guildsMu.Lock()
	if clients, ok := h.guilds[guildID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.guilds, guildID)
		}
	}
	h.guildsMu.Unlock()
}

// Report implements reconcile.Reporter. Events are dropped when the
// broadcast queue is full so a slow monitor never stalls a run.
func (h *Hub) Report(_ context.Context, ev models.Event) {
	data, err := protocol.Encode(protocol.TypeEvent, protocol.EventMessage{Event: ev})
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode event")
		return
	}

	select {
	case h.broadcast <- &guildMessage{guildID: ev.GuildID, data: data}:
	default:
		h.logger.Warn().Str("guild_id", ev.GuildID).Str("type", string(ev.Type)).Msg("Broadcast queue full, event dropped")
	}
}

// NewClient creates a new client for the hub.
func (h *Hub) NewClient(conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
		subs: make(map[string]bool),
	}
}

// Register registers a client with the hub. It reports false once the hub
// has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Send queues data for the client, dropping it if the buffer is full.
func (c *Client) Send(data []byte) {
	defer func() {
		// The hub may have closed the channel already.
		_ = recover()
	}()
	select {
	case c.send <- data:
	default:
	}
}

// SendEnvelope sends a protocol envelope to the client.
func (c *Client) SendEnvelope(msgType protocol.MessageType, data any) error {
	env, err := protocol.NewEnvelope(msgType, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.Send(raw)
	return nil
}

// SendError sends an error message to the client.
func (c *Client) SendError(code, message string) {
	_ = c.SendEnvelope(protocol.TypeError, protocol.ErrorMessage{
		Code:    code,
		Message: message,
	})
}
