package correlate

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jwtor7/agenthud/internal/common/logger"
)

const (
	// DefaultToolCallCap bounds the number of in-flight tool calls tracked.
	DefaultToolCallCap = 10000
	// toolCallTTL is the age past which an entry is swept.
	toolCallTTL = 5 * time.Minute
	// toolCallSweepInterval is the sweep cadence.
	toolCallSweepInterval = time.Minute
)

// ToolCallTracker remembers when each tool call started so tool_end events
// can carry a duration even when the hook omits one.
type ToolCallTracker struct {
	mu      sync.Mutex
	starts  map[string]time.Time
	order   []string // insertion order, for capacity eviction
	cap     int
	now     func() time.Time
	logger  *logger.Logger
}

// NewToolCallTracker creates a tracker with the default capacity.
func NewToolCallTracker(log *logger.Logger) *ToolCallTracker {
	if log == nil {
		log = logger.Default()
	}
	return &ToolCallTracker{
		starts: make(map[string]time.Time),
		cap:    DefaultToolCallCap,
		now:    time.Now,
		logger: log.WithFields(zap.String("component", "toolcall_tracker")),
	}
}

// Start records the start time of a tool call. A duplicate id overwrites
// the previous entry; at capacity, the oldest entry is evicted.
func (t *ToolCallTracker) Start(toolCallID string) {
	if toolCallID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dup := t.starts[toolCallID]; dup {
		t.logger.Warn("Duplicate tool_start for in-flight call", zap.String("tool_call_id", toolCallID))
		t.dropFromOrderLocked(toolCallID)
	} else if len(t.starts) >= t.cap {
		t.evictOldestLocked()
	}

	t.starts[toolCallID] = t.now()
	t.order = append(t.order, toolCallID)
}

// End removes the entry and returns the elapsed duration in milliseconds.
// ok is false when the id was never tracked or the clock ran backwards
// (skew guard); callers must not backfill in that case.
func (t *ToolCallTracker) End(toolCallID string) (durationMs int64, ok bool) {
	if toolCallID == "" {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	start, tracked := t.starts[toolCallID]
	if !tracked {
		return 0, false
	}
	delete(t.starts, toolCallID)
	t.dropFromOrderLocked(toolCallID)

	elapsed := t.now().Sub(start)
	if elapsed < 0 {
		t.logger.Warn("Negative tool call duration, skipping backfill",
			zap.String("tool_call_id", toolCallID),
			zap.Duration("elapsed", elapsed))
		return 0, false
	}
	return elapsed.Milliseconds(), true
}

// Len reports the number of in-flight entries.
func (t *ToolCallTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.starts)
}

// RunSweeper periodically drops entries older than the TTL until ctx is
// cancelled.
func (t *ToolCallTracker) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(toolCallSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

func (t *ToolCallTracker) sweep() {
	cutoff := t.now().Add(-toolCallTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	var swept int
	keep := t.order[:0]
	for _, id := range t.order {
		start, tracked := t.starts[id]
		if !tracked {
			continue
		}
		if start.Before(cutoff) {
			delete(t.starts, id)
			swept++
			continue
		}
		keep = append(keep, id)
	}
	t.order = keep

	if swept > 0 {
		t.logger.Debug("Swept stale tool call entries", zap.Int("count", swept))
	}
}

func (t *ToolCallTracker) evictOldestLocked() {
	for len(t.order) > 0 {
		oldest := t.order[0]
		t.order = t.order[1:]
		if _, tracked := t.starts[oldest]; tracked {
			delete(t.starts, oldest)
			t.logger.Warn("Tool call table full, evicting oldest entry", zap.String("tool_call_id", oldest))
			return
		}
	}
}

func (t *ToolCallTracker) dropFromOrderLocked(id string) {
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			return
		}
	}
}
