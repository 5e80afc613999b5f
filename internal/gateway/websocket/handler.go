package websocket

import (
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/common/logger"
)

// Handler upgrades dashboard connections and hands them to the hub.
type Handler struct {
	hub            *Hub
	allowedOrigins map[string]bool
	serverVersion  string
	upgrader       websocket.Upgrader
	nextID         atomic.Uint64
	logger         *logger.Logger
}

// NewHandler builds the upgrade handler. staticPort is the port the
// dashboard assets are served from; only that origin may connect from a
// browser context.
func NewHandler(hub *Hub, staticPort int, serverVersion string, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	h := &Handler{
		hub: hub,
		allowedOrigins: map[string]bool{
			fmt.Sprintf("http://localhost:%d", staticPort): true,
			fmt.Sprintf("http://127.0.0.1:%d", staticPort): true,
		},
		serverVersion: serverVersion,
		logger:        log.WithFields(zap.String("component", "ws_handler")),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Origin policy is enforced before the upgrade.
		CheckOrigin: func(*http.Request) bool { return true },
	}
	return h
}

// RegisterRoutes adds the WebSocket endpoint to the gin engine. The
// upgrade shares the ingress port and lives at the root path.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.handleUpgrade)
}

func (h *Handler) handleUpgrade(c *gin.Context) {
	if !h.originAllowed(c.Request) {
		h.logger.Warn("Rejected WebSocket connection",
			zap.String("origin", c.GetHeader("Origin")),
			zap.String("remote", c.Request.RemoteAddr))
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	id := fmt.Sprintf("c%d-%s", h.nextID.Add(1), uuid.New().String()[:8])
	client := NewClient(id, conn, h.hub, h.serverVersion, h.logger)

	if !h.hub.admit(client) {
		h.logger.Warn("Connection limit reached, rejecting client",
			zap.String("client_id", id))
		client.closeWith(closeTryAgainLater, "too many connections")
		return
	}

	h.logger.Info("Client connected",
		zap.String("client_id", id),
		zap.Int("clients", h.hub.ClientCount()))

	go client.WritePump()
	h.hub.welcome(client)
	client.ReadPump()
}

// originAllowed enforces the browser origin policy. Requests without an
// Origin header are accepted only from loopback peers.
func (h *Handler) originAllowed(req *http.Request) bool {
	origin := req.Header.Get("Origin")
	if origin != "" {
		return h.allowedOrigins[origin]
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
