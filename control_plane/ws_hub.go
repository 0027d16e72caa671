package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/itskum47/FleetForge/control_plane/observability"
)

const maxWSConnections = 200

// FleetHub manages dashboard WebSocket connections and pushes fleet summaries.
// Single broadcaster pattern prevents N duplicate tickers.
type FleetHub struct {
	// clients maps connection to its application filter (0 = all)
	clients    map[*websocket.Conn]int64
	register   chan registration
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	dashboard  *DashboardService
	interval   time.Duration
}

type registration struct {
	conn  *websocket.Conn
	appID int64
}

// NewFleetHub creates a new WebSocket hub.
func NewFleetHub(dashboard *DashboardService) *FleetHub {
	return &FleetHub{
		clients:    make(map[*websocket.Conn]int64),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		dashboard:  dashboard,
		interval:   time.Second,
	}
}

// Run starts the hub's main loop.
func (h *FleetHub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case reg := <-h.register:
			h.mu.Lock()
			// Connection cap to prevent overload
			if len(h.clients) >= maxWSConnections {
				h.mu.Unlock()
				reg.conn.Close()
				log.Printf("WebSocket connection rejected: max connections (%d) reached", maxWSConnections)
				continue
			}
			h.clients[reg.conn] = reg.appID
			n := len(h.clients)
			h.mu.Unlock()
			observability.StreamClients.Set(float64(n))
			log.Printf("WebSocket client registered for app filter %d. Total: %d", reg.appID, n)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			observability.StreamClients.Set(float64(n))
			log.Printf("WebSocket client unregistered. Total: %d", n)

		case <-ticker.C:
			h.broadcastAll(ctx)
		}
	}
}

// broadcastAll builds one summary per distinct filter and sends it to matching clients.
func (h *FleetHub) broadcastAll(ctx context.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	filters := make(map[int64]bool)
	for _, appID := range h.clients {
		filters[appID] = true
	}

	for appID := range filters {
		summary, err := h.dashboard.GetFleetSummary(ctx, appID)
		if err != nil {
			log.Printf("Failed to collect fleet summary for app filter %d: %v", appID, err)
			continue
		}

		for conn, filter := range h.clients {
			if filter != appID {
				continue
			}
			// Set write deadline to prevent blocking on dead connections
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(summary); err != nil {
				log.Printf("WebSocket write error: %v", err)
				// Unregister will be handled by read pump or next ping
				go h.Unregister(conn)
			}
		}
	}
}

// shutdown gracefully closes all client connections.
func (h *FleetHub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	log.Printf("Shutting down WebSocket hub with %d clients", len(h.clients))

	for conn := range h.clients {
		conn.Close()
	}
	h.clients = make(map[*websocket.Conn]int64)
	observability.StreamClients.Set(0)
}

// Register adds a new client connection.
func (h *FleetHub) Register(conn *websocket.Conn, appID int64) {
	h.register <- registration{conn: conn, appID: appID}
}

// Unregister removes a client connection.
func (h *FleetHub) Unregister(conn *websocket.Conn) {
	h.unregister <- conn
}

// ClientCount returns the number of connected clients.
func (h *FleetHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
