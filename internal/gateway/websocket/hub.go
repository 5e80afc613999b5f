// Package websocket implements the push channel to dashboard clients:
// admission policy, fan-out with per-hub sequence numbers, heartbeats,
// inbound caps and the connect-time snapshot.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/event"
)

const (
	// MaxClients bounds concurrent dashboard connections.
	MaxClients = 10

	heartbeatInterval = 30 * time.Second
)

// RequestHandler serves a client plan_request. respond delivers the reply
// event on the requesting client's channel only.
type RequestHandler func(path string, respond func(event.Event))

// OnConnectFunc sends the connect-time snapshot. send delivers events to
// the newly connected client in order.
type OnConnectFunc func(send func(event.Event))

// Hub manages all dashboard client connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	seq     uint64

	requestHandler RequestHandler
	onConnect      OnConnectFunc

	logger *logger.Logger
}

// NewHub creates an empty hub.
func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Default()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		logger:  log.WithFields(zap.String("component", "ws_hub")),
	}
}

// SetRequestHandler registers the dispatcher for client plan requests.
func (h *Hub) SetRequestHandler(handler RequestHandler) {
	h.requestHandler = handler
}

// SetOnConnect registers the snapshot callback invoked for each accepted
// client after its connection_status event.
func (h *Hub) SetOnConnect(fn OnConnectFunc) {
	h.onConnect = fn
}

// Run drives the heartbeat until ctx is cancelled, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Shutdown()
			return
		case <-ticker.C:
			h.heartbeat()
		}
	}
}

// admit registers a client if the connection budget allows it.
func (h *Hub) admit(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= MaxClients {
		return false
	}
	h.clients[client] = true
	return true
}

// remove drops a client from the set. Safe to call repeatedly.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client] {
		delete(h.clients, client)
		client.closeSend()
		h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast pushes an event to every connected client. The envelope seq is
// assigned in issue order; per-client send failures do not affect others.
func (h *Hub) Broadcast(ev event.Event) {
	h.push(ev, nil)
}

// SendToClient pushes an event to a single client.
func (h *Hub) SendToClient(client *Client, ev event.Event) {
	h.push(ev, client)
}

// push assigns the next sequence number, marshals the envelope and enqueues
// it, all under the hub lock. Enqueue is a non-blocking buffered-channel
// send, so no network IO happens while the lock is held; keeping seq
// assignment and enqueue atomic is what makes per-client seq monotonic
// across concurrent broadcasters.
func (h *Hub) push(ev event.Event, only *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	data, err := json.Marshal(event.Envelope{Event: ev, Seq: h.seq})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast envelope", zap.Error(err))
		return
	}

	if only != nil {
		if h.clients[only] {
			only.enqueue(data)
		}
		return
	}
	for client := range h.clients {
		client.enqueue(data)
	}
}

// heartbeat terminates clients that missed the previous ping and pings the
// rest. A pong resets the liveness flag.
func (h *Hub) heartbeat() {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		snapshot = append(snapshot, client)
	}
	h.mu.RUnlock()

	for _, client := range snapshot {
		if !client.aliveAndReset() {
			h.logger.Debug("Terminating unresponsive client", zap.String("client_id", client.ID))
			client.terminate()
			h.remove(client)
			continue
		}
		client.ping()
	}
}

// dispatchRequest routes a recognized client request to the registered
// handler, binding the response to the requesting client.
func (h *Hub) dispatchRequest(client *Client, req *event.ClientRequest) {
	handler := h.requestHandler
	if handler == nil {
		h.logger.Warn("Client request received with no handler registered",
			zap.String("type", req.Type))
		return
	}
	handler(req.Path, func(ev event.Event) {
		h.SendToClient(client, ev)
	})
}

// welcome sends the connection_status event and the host snapshot to a
// freshly accepted client.
func (h *Hub) welcome(client *Client) {
	h.SendToClient(client, &event.ConnectionStatus{
		Meta:          event.NewMeta(event.TypeConnectionStatus),
		Status:        "connected",
		ServerVersion: client.serverVersion,
		ClientCount:   h.ClientCount(),
	})

	if h.onConnect != nil {
		h.onConnect(func(ev event.Event) {
			h.SendToClient(client, ev)
		})
	}
}

// Shutdown closes every client with a normal close code.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	snapshot := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		snapshot = append(snapshot, client)
		delete(h.clients, client)
	}
	h.mu.Unlock()

	for _, client := range snapshot {
		client.closeWith(closeNormal, "Server shutting down")
		client.closeSend()
	}
}
