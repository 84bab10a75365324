package websocket

import (
	"sync"

	"github.com/rs/zerolog"

	"downpour/types"
)

// Hub fans progress messages out to the websocket clients watching a job
// or batch id. It implements services.ProgressSink.
type Hub interface {
	Run()
	RegisterClient(client *Client)
	Publish(msg types.ProgressMessage)
}

type hub struct {
	// Registered clients keyed by the job/batch id they watch. The "all"
	// key receives every message.
	clients map[string]map[*Client]bool

	broadcast  chan types.ProgressMessage
	register   chan *Client
	unregister chan *Client

	mu  sync.RWMutex
	log zerolog.Logger
}

// NewHub creates a hub; call Run in its own goroutine.
func NewHub(log zerolog.Logger) Hub {
	return &hub{
		clients:    make(map[string]map[*Client]bool),
		broadcast:  make(chan types.ProgressMessage, 64),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log.With().Str("component", "ws").Logger(),
	}
}

// Run starts the hub's main loop.
func (h *hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.clients[client.id] == nil {
				h.clients[client.id] = make(map[*Client]bool)
			}
			h.clients[client.id][client] = true
			h.mu.Unlock()
			h.log.Debug().Str("id", client.id).Msg("client connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.clients[client.id]; ok {
				if _, ok := clients[client]; ok {
					delete(clients, client)
					close(client.send)
					if len(clients) == 0 {
						delete(h.clients, client.id)
					}
				}
			}
			h.mu.Unlock()
			h.log.Debug().Str("id", client.id).Msg("client disconnected")

		case msg := <-h.broadcast:
			h.mu.RLock()
			h.send(h.clients[msg.ID], msg)
			h.send(h.clients["all"], msg)
			h.mu.RUnlock()
		}
	}
}

func (h *hub) send(clients map[*Client]bool, msg types.ProgressMessage) {
	for client := range clients {
		select {
		case client.send <- msg:
		default:
			// Slow client; drop it rather than block the hub.
			close(client.send)
			delete(clients, client)
		}
	}
}

// RegisterClient adds a client to the hub.
func (h *hub) RegisterClient(client *Client) {
	h.register <- client
}

// Publish queues a progress message for broadcast. Messages are dropped
// when the hub is saturated; the polling endpoints stay authoritative.
func (h *hub) Publish(msg types.ProgressMessage) {
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("id", msg.ID).Msg("broadcast channel full, dropping message")
	}
}
