// Package correlate holds the in-memory correlation state the event
// receiver maintains across related ingress events: the subagent-to-session
// mapping and the in-flight tool-call table.
package correlate

import (
	"sort"
	"sync"
	"time"

	"github.com/jwtor7/agenthud/internal/event"
)

// StatusRunning is the initial status of every registered subagent.
const StatusRunning = "running"

// DefaultRemovalDelay is how long a stopped subagent stays visible before
// being dropped from the mapping.
const DefaultRemovalDelay = 5 * time.Minute

type subagentRecord struct {
	agentID   string
	sessionID string
	name      string
	startTime string
	status    string
	endTime   string
	removal   *time.Timer // pending delayed removal, nil while running
}

// SubagentMap is a bidirectional index from agent id to parent session and
// from session to the set of its agents. Writes come from the event
// receiver; reads come from connect-time snapshots and mapping broadcasts.
type SubagentMap struct {
	mu        sync.Mutex
	byAgent   map[string]*subagentRecord
	bySession map[string]map[string]bool

	removalDelay time.Duration
}

// NewSubagentMap creates an empty mapping with the default removal delay.
func NewSubagentMap() *SubagentMap {
	return &SubagentMap{
		byAgent:      make(map[string]*subagentRecord),
		bySession:    make(map[string]map[string]bool),
		removalDelay: DefaultRemovalDelay,
	}
}

// SetRemovalDelay overrides the stop-to-removal delay. Intended for tests.
func (m *SubagentMap) SetRemovalDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removalDelay = d
}

// Register tracks a subagent under its parent session. Re-registering an
// agent cancels any pending removal and resets its record to running.
func (m *SubagentMap) Register(agentID, sessionID, name, startTime string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.byAgent[agentID]; ok {
		if existing.removal != nil {
			existing.removal.Stop()
		}
		// The agent may have moved to a different session.
		if existing.sessionID != sessionID {
			m.dropFromSessionLocked(existing.sessionID, agentID)
		}
	}

	m.byAgent[agentID] = &subagentRecord{
		agentID:   agentID,
		sessionID: sessionID,
		name:      name,
		startTime: startTime,
		status:    StatusRunning,
	}

	if m.bySession[sessionID] == nil {
		m.bySession[sessionID] = make(map[string]bool)
	}
	m.bySession[sessionID][agentID] = true
}

// Stop marks a subagent finished and schedules its delayed removal.
// Unknown agents are ignored.
func (m *SubagentMap) Stop(agentID, status, endTime string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byAgent[agentID]
	if !ok {
		return
	}

	if status == "" {
		status = "success"
	}
	rec.status = status
	rec.endTime = endTime

	if rec.removal != nil {
		rec.removal.Stop()
	}
	rec.removal = time.AfterFunc(m.removalDelay, func() {
		m.remove(agentID)
	})
}

// remove drops an agent if it is still tracked. Called from removal timers.
func (m *SubagentMap) remove(agentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byAgent[agentID]
	if !ok {
		return
	}
	delete(m.byAgent, agentID)
	m.dropFromSessionLocked(rec.sessionID, agentID)
}

// SessionCleanup immediately removes every subagent of a session,
// cancelling pending removal timers.
func (m *SubagentMap) SessionCleanup(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for agentID := range m.bySession[sessionID] {
		if rec, ok := m.byAgent[agentID]; ok {
			if rec.removal != nil {
				rec.removal.Stop()
			}
			delete(m.byAgent, agentID)
		}
	}
	delete(m.bySession, sessionID)
}

func (m *SubagentMap) dropFromSessionLocked(sessionID, agentID string) {
	if agents, ok := m.bySession[sessionID]; ok {
		delete(agents, agentID)
		if len(agents) == 0 {
			delete(m.bySession, sessionID)
		}
	}
}

// ParentOf returns the parent session of an agent, if tracked.
func (m *SubagentMap) ParentOf(agentID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byAgent[agentID]
	if !ok {
		return "", false
	}
	return rec.sessionID, true
}

// Lookup returns the external record for an agent, if tracked.
func (m *SubagentMap) Lookup(agentID string) (event.SubagentInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.byAgent[agentID]
	if !ok {
		return event.SubagentInfo{}, false
	}
	return rec.info(), true
}

// BySession returns the agents of one session, sorted by agent id.
func (m *SubagentMap) BySession(sessionID string) []event.SubagentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var infos []event.SubagentInfo
	for agentID := range m.bySession[sessionID] {
		if rec, ok := m.byAgent[agentID]; ok {
			infos = append(infos, rec.info())
		}
	}
	sortInfos(infos)
	return infos
}

// Snapshot returns all tracked subagents, sorted by agent id. Removal
// handles never appear in the external representation.
func (m *SubagentMap) Snapshot() []event.SubagentInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	infos := make([]event.SubagentInfo, 0, len(m.byAgent))
	for _, rec := range m.byAgent {
		infos = append(infos, rec.info())
	}
	sortInfos(infos)
	return infos
}

// MappingEvent synthesizes a subagent_mapping event from the current state.
func (m *SubagentMap) MappingEvent() *event.SubagentMapping {
	return &event.SubagentMapping{
		Meta:     event.NewMeta(event.TypeSubagentMapping),
		Mappings: m.Snapshot(),
	}
}

// Close cancels all pending removal timers. Used at shutdown.
func (m *SubagentMap) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range m.byAgent {
		if rec.removal != nil {
			rec.removal.Stop()
		}
	}
}

func (r *subagentRecord) info() event.SubagentInfo {
	return event.SubagentInfo{
		AgentID:         r.agentID,
		ParentSessionID: r.sessionID,
		Name:            r.name,
		StartTime:       r.startTime,
		Status:          r.status,
		EndTime:         r.endTime,
	}
}

func sortInfos(infos []event.SubagentInfo) {
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].AgentID < infos[j].AgentID
	})
}
