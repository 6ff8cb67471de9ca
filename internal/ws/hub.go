package ws

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"mindgarden/backend/internal/service"
	"mindgarden/backend/internal/subscription"
	"mindgarden/backend/pkg/logger"
)

// Hub tracks the connected clients and the services their frames drive
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
	origins    map[string]bool

	dialogue *service.DialogueService
	voice    *service.VoiceService
	audio    *service.AudioService
	features *subscription.Service
	log      *logger.Logger
}

// NewHub creates a new hub. Frames are gated by the same plan features as
// the HTTP routes.
func NewHub(
	dialogue *service.DialogueService,
	voice *service.VoiceService,
	audio *service.AudioService,
	features *subscription.Service,
	log *logger.Logger,
) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		dialogue:   dialogue,
		voice:      voice,
		audio:      audio,
		features:   features,
		log:        log,
	}
}

// AllowOrigins restricts upgrades to the given origins. "*" or an empty
// list accepts any origin.
func (h *Hub) AllowOrigins(origins []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.origins = nil
	for _, o := range origins {
		if o == "*" {
			h.origins = nil
			return
		}
		if h.origins == nil {
			h.origins = make(map[string]bool)
		}
		h.origins[o] = true
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.origins == nil {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if u, err := url.Parse(origin); err == nil && u.Host == r.Host {
		return true
	}
	return h.origins[origin]
}

// Run processes registrations until ctx is done, then disconnects everyone
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("Client registered", "client_id", client.ID, "user_id", client.UserID)

		case client := <-h.unregister:
			h.remove(client)

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.close()
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.close()
		h.log.Debug("Client unregistered", "client_id", client.ID)
	}
}

// ActiveConnections returns the number of connected clients
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
