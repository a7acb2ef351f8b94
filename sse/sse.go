package sse

import (
	"encoding/json"
	"sync"

	"trading-alerts/api/logger"
	"trading-alerts/api/models"

	"go.uber.org/zap"
)

// Event is one alert lifecycle change as streamed to dashboards.
type Event struct {
	Type  models.AlertEvent `json:"type"`
	Alert *models.Alert     `json:"alert"`
}

type ClientStream struct {
	ID       string
	UserID   string
	Services map[models.Service]bool
	Messages chan string
	Done     chan struct{}
}

// Hub fans alert events out to connected clients allowed to see the service.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*ClientStream
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]*ClientStream)}
}

func (h *Hub) Register(id, userID string, services []models.Service, buffer int) *ClientStream {
	allowed := make(map[models.Service]bool, len(services))
	for _, s := range services {
		allowed[s] = true
	}
	stream := &ClientStream{
		ID:       id,
		UserID:   userID,
		Services: allowed,
		Messages: make(chan string, buffer),
		Done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[id] = stream
	h.mu.Unlock()
	return stream
}

func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	if stream, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(stream.Done)
	}
	h.mu.Unlock()
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends the event to every client subscribed to the alert's service.
// Slow clients miss events rather than block the publisher.
func (h *Hub) Publish(eventType models.AlertEvent, alert *models.Alert) int {
	payload, err := json.Marshal(Event{Type: eventType, Alert: alert})
	if err != nil {
		logger.Get().Error("failed to marshal alert event", zap.Error(err))
		return 0
	}
	chunk := string(payload)

	h.mu.RLock()
	defer h.mu.RUnlock()
	delivered := 0
	for id, client := range h.clients {
		if !client.Services[alert.Service] {
			continue
		}
		select {
		case client.Messages <- chunk:
			delivered++
		default:
			logger.Get().Warn("SSE client buffer full, event skipped",
				zap.String("client_id", id),
				zap.String("alert_id", alert.ID.Hex()))
		}
	}
	return delivered
}
