// Package ingest implements the HTTP event receiver: POST /event with
// rate limiting, validation, sanitization and correlation updates, plus
// GET /health.
package ingest

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/bound"
	"github.com/jwtor7/agenthud/internal/common/logger"
	"github.com/jwtor7/agenthud/internal/correlate"
	"github.com/jwtor7/agenthud/internal/event"
	"github.com/jwtor7/agenthud/internal/ratelimit"
	"github.com/jwtor7/agenthud/internal/redact"
	"github.com/jwtor7/agenthud/internal/version"
)

// Broadcaster pushes events to all connected dashboard clients.
type Broadcaster interface {
	Broadcast(ev event.Event)
	ClientCount() int
}

// Receiver handles the hook-facing HTTP surface.
type Receiver struct {
	limiter   *ratelimit.Limiter
	tracker   *correlate.ToolCallTracker
	subagents *correlate.SubagentMap
	sessions  *correlate.SessionSet
	hub       Broadcaster
	metrics   *metrics
	logger    *logger.Logger
}

// NewReceiver wires the receiver to its collaborators. The limiter is owned
// by the receiver; Close stops it.
func NewReceiver(hub Broadcaster, tracker *correlate.ToolCallTracker, subagents *correlate.SubagentMap, sessions *correlate.SessionSet, log *logger.Logger) *Receiver {
	if log == nil {
		log = logger.Default()
	}
	return &Receiver{
		limiter:   ratelimit.New(ratelimit.DefaultMax, ratelimit.DefaultWindow),
		tracker:   tracker,
		subagents: subagents,
		sessions:  sessions,
		hub:       hub,
		metrics:   newMetrics(),
		logger:    log.WithFields(zap.String("component", "receiver")),
	}
}

// Close stops the rate limiter's sweeper.
func (r *Receiver) Close() {
	r.limiter.Close()
}

// RegisterRoutes adds the receiver's endpoints to the gin engine.
func (r *Receiver) RegisterRoutes(router *gin.Engine) {
	router.Use(nosniff())
	router.POST("/event", r.handleEvent)
	router.GET("/health", r.handleHealth)
}

// nosniff sets X-Content-Type-Options on every response.
func nosniff() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("X-Content-Type-Options", "nosniff")
		c.Next()
	}
}

func (r *Receiver) handleEvent(c *gin.Context) {
	peer := peerAddr(c.Request)

	// 1. Rate limit by peer address.
	res := r.limiter.Check(peer)
	if !res.Allowed {
		c.Header("Retry-After", strconv.Itoa(res.RetryAfter))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":      "Rate limit exceeded",
			"retryAfter": res.RetryAfter,
		})
		return
	}

	// 2. Stream-read the body under the size cap.
	body, err := bound.ReadAll(c.Request.Body)
	if err != nil {
		if errors.Is(err, bound.ErrBodyTooLarge) {
			r.logger.Warn("Oversize event body rejected", zap.String("peer", peer))
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Request body too large",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	// 3-5. Parse and validate into a typed event.
	ev, err := event.Validate(body)
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			r.logger.Warn("Rejected event", zap.String("reason", verr.Reason), zap.String("peer", peer))
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid event format"})
		return
	}

	// 6. Sanitize user-visible text: bound first so the redactor scans a
	// capped region.
	sanitizeEvent(ev)

	// 7-8. Correlation state updates; agent lifecycle events synthesize a
	// fresh mapping broadcast.
	mapping := r.correlateEvent(ev)

	// 9. Broadcast before responding so clients observe the event
	// strictly before the hook sees 200.
	r.hub.Broadcast(ev)
	if mapping != nil {
		r.hub.Broadcast(mapping)
	}

	r.metrics.record(ev.EventType())

	// 10. Acknowledge.
	c.JSON(http.StatusOK, gin.H{"success": true, "type": ev.EventType()})
}

// correlateEvent applies an accepted event to the correlation state and
// returns a synthesized subagent_mapping event when the mapping changed.
func (r *Receiver) correlateEvent(ev event.Event) event.Event {
	switch e := ev.(type) {
	case *event.ToolStart:
		r.tracker.Start(e.ToolCallID)
		if e.SessionID != "" {
			r.sessions.Observe(e.SessionID, "", e.Timestamp)
		}

	case *event.ToolEnd:
		ms, ok := r.tracker.End(e.ToolCallID)
		if ok && e.DurationMs == nil {
			e.DurationMs = &ms
		}

	case *event.SessionStart:
		r.sessions.Observe(e.SessionID, e.WorkingDirectory, e.Timestamp)

	case *event.AgentStart:
		r.subagents.Register(e.AgentID, e.SessionID, e.AgentName, e.Timestamp)
		return r.subagents.MappingEvent()

	case *event.AgentStop:
		r.subagents.Stop(e.AgentID, e.Status, e.Timestamp)
		return r.subagents.MappingEvent()

	case *event.SessionStop:
		r.subagents.SessionCleanup(e.SessionID)
		r.sessions.Remove(e.SessionID)
		return r.subagents.MappingEvent()
	}
	return nil
}

func (r *Receiver) handleHealth(c *gin.Context) {
	total, byType := r.metrics.snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"version":         version.Version,
		"uptime_ms":       time.Since(r.metrics.startedAt).Milliseconds(),
		"connections":     r.hub.ClientCount(),
		"events_received": total,
		"events_by_type":  byType,
		"timestamp":       event.Now(),
	})
}

// sanitizeEvent truncates then redacts every user-visible text field.
func sanitizeEvent(ev event.Event) {
	clean := func(s string) string {
		return redact.Redact(bound.TruncateField(s))
	}

	switch e := ev.(type) {
	case *event.ToolStart:
		e.Input = clean(e.Input)
	case *event.ToolEnd:
		e.Output = clean(e.Output)
	case *event.Thinking:
		e.Content = clean(e.Content)
	case *event.SessionStart:
		e.WorkingDirectory = clean(e.WorkingDirectory)
	}
}

// peerAddr extracts the host portion of the remote address for rate-limit
// keying.
func peerAddr(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
