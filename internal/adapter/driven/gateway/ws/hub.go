package ws

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/campus/internal/core/domain"
	"github.com/Wyydra/campus/internal/core/port"
	"github.com/rs/zerolog/log"
)

// Hub implements port.SignalGateway over the connected relay clients.
type Hub struct {
	mu         sync.RWMutex
	clients    map[domain.ClientID]port.Client
	unregister chan port.Client
	quit       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[domain.ClientID]port.Client),
		unregister: make(chan port.Client),
		quit:       make(chan struct{}),
	}
}

func (h *Hub) SendSignal(ctx context.Context, clientID domain.ClientID, sig domain.Signal) error {
	h.mu.RLock()
	client, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("client %s: %w", clientID, domain.ErrNotFound)
	}
	if err := client.Send(sig); err != nil {
		log.Error().Err(err).Str("client_id", clientID.String()).Msg("Error sending signal")
		h.Unregister(client)
		return err
	}
	return nil
}

func (h *Hub) Run() {
	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for id, client := range h.clients {
				client.Close()
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ID()]; ok {
				delete(h.clients, client.ID())
				client.Close()
				log.Info().Str("client_id", client.ID().String()).Msg("Client unregistered")
			}
			h.mu.Unlock()
		}
	}
}

// Register is synchronous so the client can be addressed before its first message is handled.
func (h *Hub) Register(c port.Client) {
	h.mu.Lock()
	h.clients[c.ID()] = c
	h.mu.Unlock()
	log.Info().Str("client_id", c.ID().String()).Msg("Client registered")
}

func (h *Hub) Unregister(c port.Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Stop() {
	close(h.quit)
}
